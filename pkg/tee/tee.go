package tee

import (
	"bytes"
	"io"
)

// Capture is a wrapper around an io.Writer that saves what is written to a buffer,
// up to a limit. Once the limit would be exceeded the copy is dropped and writes only
// go to the underlying writer.
type Capture struct {
	w          io.Writer
	b          bytes.Buffer
	limit      int
	overflowed bool
	written    int64
}

// NewCapture returns a Capture writing to w and keeping at most limit bytes.
func NewCapture(w io.Writer, limit int) *Capture {
	return &Capture{w: w, limit: limit}
}

// Implementation of io.Writer
func (c *Capture) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.written += int64(n)
	if !c.overflowed {
		if c.b.Len()+n > c.limit {
			c.overflowed = true
			c.b = bytes.Buffer{}
		} else {
			c.b.Write(p[:n])
		}
	}
	return n, err
}

// Bytes returns the captured bytes, or nil if the limit was exceeded.
func (c *Capture) Bytes() []byte {
	if c.overflowed {
		return nil
	}
	return c.b.Bytes()
}

// Overflowed reports whether more than the limit was written.
func (c *Capture) Overflowed() bool {
	return c.overflowed
}

// Written returns the number of bytes written to the underlying writer.
func (c *Capture) Written() int64 {
	return c.written
}
