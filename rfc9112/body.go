package rfc9112

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// bodyBufferSize is the size of the intermediate buffer used by Body.WriteTo.
const bodyBufferSize = 64 << 10

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, bodyBufferSize)
		return &b
	},
}

// Framing delimits message bodies in a way the built-in rules do not, e.g. a transfer
// coding. Header parsing is unaffected by framings.
type Framing interface {
	// Claim reports whether the framing applies to a message with header h.
	Claim(h Header) bool
	// Decode returns a reader yielding the body read from src. Its io.EOF ends the body.
	Decode(src io.Reader, h Header) io.Reader
}

// Body is a forward-only stream over a message body. It belongs to one caller; reads are
// bounded by the context the body was opened with.
//
// Closing a body does not close the connection; the caller owns it.
type Body struct {
	ctx       context.Context
	src       io.Reader
	length    BodyLength
	remaining int64
	read      int64
	err       error
	release   func()
}

// OpenBody returns the body reader for a message whose head has been read.
// A declared length yields exactly that many bytes; an unknown length yields bytes until
// the peer closes.
func (r *Reader) OpenBody(ctx context.Context, length BodyLength) (*Body, error) {
	if length.Kind == LengthInvalid {
		return nil, &Error{Kind: ErrInvalidContentLength}
	}
	return &Body{
		ctx:       ctx,
		src:       r.br,
		length:    length,
		remaining: length.N,
		release:   r.watch(ctx),
	}, nil
}

func (r *Reader) openFramed(ctx context.Context, f Framing, h Header) *Body {
	return &Body{
		ctx:     ctx,
		src:     f.Decode(r.br, h),
		length:  Unknown,
		release: r.watch(ctx),
	}
}

// Length returns how the body is delimited.
func (b *Body) Length() BodyLength {
	return b.length
}

// BytesRead returns the number of body bytes delivered so far.
func (b *Body) BytesRead() int64 {
	return b.read
}

func (b *Body) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	declared := b.length.Kind == LengthDeclared
	if declared {
		if b.remaining == 0 {
			return 0, b.finish(io.EOF)
		}
		if int64(len(p)) > b.remaining {
			p = p[:b.remaining]
		}
	}
	n, err := b.src.Read(p)
	b.read += int64(n)
	if declared {
		b.remaining -= int64(n)
	}
	switch {
	case err == nil:
		if declared && b.remaining == 0 {
			b.finish(io.EOF)
		}
		return n, nil
	case errors.Is(err, io.EOF):
		if declared && b.remaining > 0 {
			return n, b.finish(&Error{
				Kind: ErrTruncatedBody,
				Err:  fmt.Errorf("got %d of %d bytes: %w", b.read, b.length.N, io.ErrUnexpectedEOF),
			})
		}
		return n, b.finish(io.EOF)
	default:
		return n, b.finish(classify(b.ctx, err))
	}
}

// WriteTo streams the rest of the body to w through a fixed size buffer. The buffer is
// returned to its pool on every exit path, including cancellation.
func (b *Body) WriteTo(w io.Writer) (int64, error) {
	bp := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bp)
	buf := *bp
	var written int64
	for {
		n, rerr := b.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				b.finish(werr)
				return written, werr
			}
			if m != n {
				b.finish(io.ErrShortWrite)
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// Close abandons the rest of the body.
func (b *Body) Close() error {
	if b.err == nil {
		b.finish(ErrBodyConsumed)
	}
	return nil
}

func (b *Body) finish(err error) error {
	b.err = err
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return err
}
