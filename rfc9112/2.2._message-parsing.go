package rfc9112

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
)

const (
	// maxLineLength bounds a single start line or field line.
	maxLineLength = 8 << 10
	// maxHeaderBytes bounds the whole header block.
	maxHeaderBytes = 64 << 10
)

var (
	errLineTooLong = errors.New("line too long")
	errBareCR      = errors.New("bare CR in line")
)

// §  2.2. Message Parsing
// §
// §    Although the line terminator for the start-line and fields is the
// §    sequence CRLF, a recipient MAY recognize a single LF as a line
// §    terminator and ignore any preceding CR.
// §
// §    A sender MUST NOT generate a bare CR (a CR character not immediately
// §    followed by LF) within any protocol elements other than the content.
// §    A recipient of such a bare CR MUST consider that element to be
// §    invalid or replace each bare CR with SP before processing the element
// §    or forwarding the message.
//
// readLine returns the next line without its terminator. CRLF and a bare LF both end a
// line; a CR anywhere else makes the line invalid. Nothing past the terminator is parsed.
//
// kind classifies syntactic failures (and a stream that ends mid-line) for the caller's
// phase; read errors of the stream itself are classified by classify.
func (r *Reader) readLine(ctx context.Context, kind error) (string, error) {
	raw, err := r.br.ReadSlice('\n')
	switch {
	case err == nil:
	case errors.Is(err, bufio.ErrBufferFull):
		return "", &Error{Kind: kind, Line: string(raw), Err: errLineTooLong}
	case errors.Is(err, io.EOF):
		return "", &Error{Kind: kind, Line: string(raw), Err: io.ErrUnexpectedEOF}
	default:
		return "", classify(ctx, err)
	}
	line := raw[:len(raw)-1]
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if bytes.IndexByte(line, '\r') >= 0 {
		return "", &Error{Kind: kind, Line: string(line), Err: errBareCR}
	}
	return string(line), nil
}
