package rfc9112

import (
	"fmt"
	"strconv"
	"strings"
)

// LengthKind tells how a body is delimited.
type LengthKind int

const (
	// LengthUnknown means the body runs until the peer closes the connection.
	LengthUnknown LengthKind = iota
	// LengthDeclared means Content-Length states the exact size.
	LengthDeclared
	// LengthInvalid means Content-Length was present but unusable.
	LengthInvalid
)

// BodyLength is the outcome of examining Content-Length.
type BodyLength struct {
	Kind LengthKind
	// N is the declared size. It is only meaningful for LengthDeclared.
	N int64
}

// Declared returns a BodyLength of exactly n bytes.
func Declared(n int64) BodyLength {
	return BodyLength{Kind: LengthDeclared, N: n}
}

var (
	// Unknown is the length of a body delimited by connection close.
	Unknown = BodyLength{Kind: LengthUnknown}
	// Invalid is the length of a body whose Content-Length could not be used.
	Invalid = BodyLength{Kind: LengthInvalid}
)

func (l BodyLength) String() string {
	switch l.Kind {
	case LengthDeclared:
		return fmt.Sprintf("declared(%d)", l.N)
	case LengthInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// §  8.6. Content-Length (RFC 9110)
// §
// §    Content-Length = 1*DIGIT
// §
// §    a recipient MUST anticipate potentially large decimal numerals and
// §    prevent parsing errors due to integer conversion overflows or
// §    precision loss due to integer conversion.
//
// ParseContentLength parses one Content-Length value. Signs, spaces, other non-digits and
// values beyond int64 are rejected.
func ParseContentLength(s string) (int64, error) {
	if s == "" {
		return 0, &Error{Kind: ErrInvalidContentLength, Line: s}
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return 0, &Error{Kind: ErrInvalidContentLength, Line: s}
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &Error{Kind: ErrInvalidContentLength, Line: s, Err: err}
	}
	return n, nil
}

// §  6.3. Message Body Length
// §
// §    5.  If a message is received without Transfer-Encoding and with an
// §        invalid Content-Length header field, then the message framing is
// §        invalid and the recipient MUST treat it as an unrecoverable error
// §
// §    8.  Otherwise, this is a response message without a declared message
// §        body length, so the message body length is determined by the
// §        number of octets received prior to the server closing the
// §        connection.
//
// BodyLengthOf examines every Content-Length field and list member. Repeated values are
// accepted only when they all agree.
func BodyLengthOf(h Header) BodyLength {
	values := h.Values("Content-Length")
	if len(values) == 0 {
		return Unknown
	}
	n := int64(-1)
	for _, value := range values {
		for _, member := range strings.Split(value, ",") {
			m, err := ParseContentLength(strings.Trim(member, " \t"))
			if err != nil || (n >= 0 && m != n) {
				return Invalid
			}
			n = m
		}
	}
	return Declared(n)
}

// RequestBodyLength is BodyLengthOf for requests, where a missing Content-Length means
// there is no body.
func RequestBodyLength(h Header) BodyLength {
	if !h.Has("Content-Length") {
		return Declared(0)
	}
	return BodyLengthOf(h)
}
