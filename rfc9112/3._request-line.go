package rfc9112

import (
	"context"
	"io"
	"net"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// RequestLine is the first line of a request.
type RequestLine struct {
	Method  string
	Target  string
	Version Version
}

func (l RequestLine) String() string {
	return l.Method + " " + l.Target + " " + l.Version.String()
}

// §  3. Request Line
// §
// §    request-line   = method SP request-target SP HTTP-version
func ParseRequestLine(line string) (RequestLine, error) {
	malformed := &Error{Kind: ErrMalformedRequestLine, Line: line}
	method, rest, ok := strings.Cut(line, " ")
	if !ok || method == "" {
		return RequestLine{}, malformed
	}
	target, version, ok := strings.Cut(rest, " ")
	if !ok || target == "" {
		return RequestLine{}, malformed
	}
	for i := 0; i < len(method); i++ {
		if !httpguts.IsTokenRune(rune(method[i])) {
			return RequestLine{}, malformed
		}
	}
	for i := 0; i < len(target); i++ {
		if c := target[i]; c <= ' ' || c == 0x7f {
			return RequestLine{}, malformed
		}
	}
	v, ok := parseVersion(version)
	if !ok {
		return RequestLine{}, malformed
	}
	return RequestLine{Method: method, Target: target, Version: v}, nil
}

// Request is a parsed request head.
type Request struct {
	Line   RequestLine
	Header Header
}

// ReadRequest reads a request line and header block. The request body, if any, is left
// in the reader; open it with OpenBody(ctx, RequestBodyLength(req.Header)).
func (r *Reader) ReadRequest(ctx context.Context) (*Request, error) {
	line, err := func() (string, error) {
		defer r.watch(ctx)()
		return r.readLine(ctx, ErrMalformedRequestLine)
	}()
	if err != nil {
		return nil, err
	}
	rl, err := ParseRequestLine(line)
	if err != nil {
		return nil, err
	}
	h, err := r.ReadHeader(ctx)
	if err != nil {
		return nil, err
	}
	return &Request{Line: rl, Header: h}, nil
}

// Host returns the authority the request is directed at: the Host field, or the
// authority of an absolute-form target.
func (req *Request) Host() string {
	if host := req.Header.Get("Host"); host != "" {
		return host
	}
	if _, rest, ok := strings.Cut(req.Line.Target, "://"); ok {
		host, _, _ := strings.Cut(rest, "/")
		return host
	}
	return ""
}

// Path returns the origin-form path of the target.
func (req *Request) Path() string {
	target := req.Line.Target
	if _, rest, ok := strings.Cut(target, "://"); ok {
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return rest[i:]
		}
		return "/"
	}
	return target
}

// Addr returns host:port for dialing the origin, defaulting to port 80.
func (req *Request) Addr() string {
	host := req.Host()
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), "80")
}

// WriteHead writes the request line and header block in wire format.
func (req *Request) WriteHead(w io.Writer) error {
	return WriteHead(w, req.Line.String(), req.Header)
}
