package rfc9112

import (
	"context"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Field is one field line. Name keeps the casing it was received with.
type Field struct {
	Name  string
	Value string
}

// Header is the ordered list of field lines of a message. Lookups are case-insensitive;
// repeated names are kept as separate fields and never merged.
type Header []Field

// Get returns the value of the first field named name, or "".
func (h Header) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns the values of all fields named name, in order.
func (h Header) Values(name string) []string {
	var values []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}
	return values
}

// Has reports whether a field named name is present.
func (h Header) Has(name string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Clone returns a copy of h.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	return append(Header(nil), h...)
}

// With returns a copy of h with the field appended.
func (h Header) With(name, value string) Header {
	return append(h.Clone(), Field{Name: name, Value: value})
}

// Without returns a copy of h without any field named name.
func (h Header) Without(name string) Header {
	out := make(Header, 0, len(h))
	for _, f := range h {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	return out
}

// WriteTo writes the fields as CRLF terminated field lines.
func (h Header) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	for _, f := range h {
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		sb.WriteString(f.Value)
		sb.WriteString("\r\n")
	}
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// WriteHead writes a start line, the fields and the empty line ending the head.
func WriteHead(w io.Writer, startLine string, h Header) error {
	if _, err := io.WriteString(w, startLine+"\r\n"); err != nil {
		return err
	}
	if _, err := h.WriteTo(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

var (
	errObsFold     = errors.New("obsolete line folding")
	errNoColon     = errors.New("missing colon")
	errFieldName   = errors.New("field name is not a token")
	errFieldValue  = errors.New("invalid field value")
	errHeaderBlock = errors.New("header block too large")
)

// §  5. Field Syntax
// §
// §    field-line   = field-name ":" OWS field-value OWS
// §
// §    No whitespace is allowed between the field name and colon.
//
// §  5.2. Obsolete Line Folding
// §
// §    A user agent that receives an obs-fold in a response message [...]
// §    MUST replace each received obs-fold with one or more SP octets prior
// §    to interpreting the field value.
//
// Folding is not supported here: a continuation line is rejected.
func ParseFieldLine(line string) (Field, error) {
	fail := func(err error) (Field, error) {
		return Field{}, &Error{Kind: ErrMalformedHeaderLine, Line: line, Err: err}
	}
	if line != "" && (line[0] == ' ' || line[0] == '\t') {
		return fail(errObsFold)
	}
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return fail(errNoColon)
	}
	name := line[:colon]
	if !httpguts.ValidHeaderFieldName(name) {
		return fail(errFieldName)
	}
	value := strings.Trim(line[colon+1:], " \t")
	if !httpguts.ValidHeaderFieldValue(value) {
		return fail(errFieldValue)
	}
	return Field{Name: name, Value: value}, nil
}

// ReadHeader reads field lines up to and including the empty line that ends the head.
// Absent fields are not an error.
func (r *Reader) ReadHeader(ctx context.Context) (Header, error) {
	defer r.watch(ctx)()
	var h Header
	total := 0
	for {
		line, err := r.readLine(ctx, ErrMalformedHeaderLine)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return h, nil
		}
		total += len(line) + 2
		if total > maxHeaderBytes {
			return nil, &Error{Kind: ErrMalformedHeaderLine, Err: errHeaderBlock}
		}
		f, err := ParseFieldLine(line)
		if err != nil {
			return nil, err
		}
		h = append(h, f)
	}
}
