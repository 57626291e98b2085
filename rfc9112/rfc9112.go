// Package rfc9112 reads HTTP/1.1 messages from an already connected byte stream.
//
// §  RFC 9112: HTTP/1.1
// §
// §    HTTP-message   = start-line CRLF
// §                     *( field-line CRLF )
// §                     CRLF
// §                     [ message-body ]
//
// A Reader parses the status line and the header block strictly, line by line, and hands
// out the message body as a bounded, single-pass stream. It never buffers a whole body.
// Every read is bound to a context: when the source supports read deadlines (net.Conn
// does), the context's deadline and cancellation are applied to it.
package rfc9112

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync/atomic"
	"time"
)

// Reader reads HTTP/1.1 messages from src. It is owned by a single goroutine.
type Reader struct {
	src      *guard
	br       *bufio.Reader
	framings []Framing
	method   string
}

// Option configures a Reader.
type Option func(*Reader)

// WithFraming registers additional body framings. They are consulted in order before
// the built-in Content-Length and read-to-close rules.
func WithFraming(f ...Framing) Option {
	return func(r *Reader) {
		r.framings = append(r.framings, f...)
	}
}

// WithRequestMethod tells the reader which request the response answers.
// Responses to HEAD never carry a body.
func WithRequestMethod(method string) Option {
	return func(r *Reader) {
		r.method = method
	}
}

// NewReader returns a Reader consuming src.
func NewReader(src io.Reader, opts ...Option) *Reader {
	g := &guard{r: src, ctx: context.Background()}
	r := &Reader{
		src: g,
		br:  bufio.NewReaderSize(g, maxLineLength),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadResponse reads a response head from src and prepares its body.
// ctx bounds the whole exchange, including reads of the body.
func ReadResponse(ctx context.Context, src io.Reader, opts ...Option) (*Response, error) {
	return NewReader(src, opts...).ReadResponse(ctx)
}

// ReadResponse reads the status line and header block. On a structural failure no
// response is returned.
func (r *Reader) ReadResponse(ctx context.Context) (*Response, error) {
	status, err := r.ReadStatusLine(ctx)
	if err != nil {
		return nil, err
	}
	header, err := r.ReadHeader(ctx)
	if err != nil {
		return nil, err
	}
	res := &Response{
		ctx:    ctx,
		reader: r,
		status: status,
		header: header,
		length: r.responseBodyLength(status, header),
	}
	for _, f := range r.framings {
		if f.Claim(header) {
			res.framing = f
			break
		}
	}
	return res, nil
}

// §  6.3. Message Body Length
// §
// §    1.  Any response to a HEAD request and any response with a 1xx
// §        (Informational), 204 (No Content), or 304 (Not Modified) status
// §        code is always terminated by the first empty line after the
// §        header fields, regardless of the header fields present in the
// §        message, and thus cannot contain a message body or trailer
// §        section.
func (r *Reader) responseBodyLength(status StatusLine, h Header) BodyLength {
	if strings.EqualFold(r.method, "HEAD") ||
		(status.Code >= 100 && status.Code < 200) ||
		status.Code == 204 || status.Code == 304 {
		return Declared(0)
	}
	return BodyLengthOf(h)
}

// watch binds ctx to the source for the duration of one operation. The returned func
// releases the binding.
func (r *Reader) watch(ctx context.Context) func() {
	r.src.ctx = ctx
	d, ok := r.src.r.(deadliner)
	if !ok {
		return func() {}
	}
	if deadline, has := ctx.Deadline(); has {
		d.SetReadDeadline(deadline)
	}
	stopAfter := context.AfterFunc(ctx, func() {
		d.SetReadDeadline(aLongTimeAgo)
	})
	return func() {
		if stopAfter() {
			d.SetReadDeadline(time.Time{})
		}
	}
}

var aLongTimeAgo = time.Unix(1, 0)

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// guard refuses reads once the current context is done, for sources without deadlines.
type guard struct {
	r   io.Reader
	ctx context.Context
}

func (g *guard) Read(p []byte) (int, error) {
	if err := g.ctx.Err(); err != nil {
		return 0, err
	}
	return g.r.Read(p)
}

// Response is a parsed response head plus its not yet consumed body.
// Apart from the body cursor it never changes after ReadResponse returns.
type Response struct {
	ctx     context.Context
	reader  *Reader
	status  StatusLine
	header  Header
	length  BodyLength
	framing Framing
	taken   atomic.Bool
}

// StatusLine returns the parsed status line.
func (res *Response) StatusLine() StatusLine {
	return res.status
}

// StatusCode returns the three-digit status code.
func (res *Response) StatusCode() int {
	return res.status.Code
}

// Header returns a copy of the header fields in wire order.
func (res *Response) Header() Header {
	return res.header.Clone()
}

// BodyLength returns how the body is delimited.
func (res *Response) BodyLength() BodyLength {
	return res.length
}

// Framing returns the registered framing that claimed the body, or nil.
func (res *Response) Framing() Framing {
	return res.framing
}

// Body hands out the body stream. It succeeds at most once per response.
// A response whose Content-Length is invalid has no readable body.
func (res *Response) Body() (*Body, error) {
	if !res.taken.CompareAndSwap(false, true) {
		return nil, ErrBodyConsumed
	}
	if res.framing != nil {
		return res.reader.openFramed(res.ctx, res.framing, res.header), nil
	}
	return res.reader.OpenBody(res.ctx, res.length)
}
