package rfc9112

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Failure classes. Every error returned by this package matches exactly one of them with
// errors.Is.
var (
	// ErrMalformedStatusLine means the first line of a response did not match
	// HTTP-version SP status-code SP reason-phrase.
	ErrMalformedStatusLine = errors.New("rfc9112: malformed status line")
	// ErrMalformedRequestLine means the first line of a request did not match
	// method SP request-target SP HTTP-version.
	ErrMalformedRequestLine = errors.New("rfc9112: malformed request line")
	// ErrMalformedHeaderLine means a field line was not token ":" OWS value OWS,
	// or the header block exceeded its size limit.
	ErrMalformedHeaderLine = errors.New("rfc9112: malformed header line")
	// ErrInvalidContentLength means Content-Length was negative, non-numeric,
	// overflowing or inconsistent.
	ErrInvalidContentLength = errors.New("rfc9112: invalid Content-Length")
	// ErrTruncatedBody means the peer closed before delivering the declared length.
	ErrTruncatedBody = errors.New("rfc9112: truncated body")
	// ErrTransport wraps read failures of the underlying stream.
	ErrTransport = errors.New("rfc9112: transport error")
	// ErrCancelled means the caller's context ended while reading.
	ErrCancelled = errors.New("rfc9112: cancelled")
	// ErrBodyConsumed is returned when a body is requested or read after it was handed out
	// or closed.
	ErrBodyConsumed = errors.New("rfc9112: body already consumed")
)

// Error is a classified read failure.
type Error struct {
	// Kind is one of the package's sentinel errors.
	Kind error
	// Line is the offending input line, if the failure is syntactic.
	Line string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Line != "" {
		msg += fmt.Sprintf(" %q", truncate(e.Line, 64))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// classify turns a read error of the underlying stream into ErrCancelled or ErrTransport.
// A deadline error counts as cancellation when it was caused by the context's deadline.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &Error{Kind: ErrCancelled, Err: ctxErr}
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			return &Error{Kind: ErrCancelled, Err: context.DeadlineExceeded}
		}
	}
	return &Error{Kind: ErrTransport, Err: err}
}
