// Package fixture serves canned HTTP/1.1 responses over TCP.
//
// A Server accepts one connection at a time, consumes the request head, writes the next
// Script of its Sequence chunk by chunk and closes the connection. Scripts may be well
// formed, malformed, truncated or very large; nothing about them is validated.
package fixture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// maxRequestBytes is how much of a request a server reads before replying.
const maxRequestBytes = 4096 * 4

// Script is one canned reply.
type Script struct {
	// Name identifies the script in logs.
	Name string
	// Chunks are written one Write call each.
	Chunks [][]byte
	// Stream, if set, is generated after Chunks.
	Stream *Stream
}

// Stream describes generated body bytes.
type Stream struct {
	// Length is the total number of bytes written.
	Length int64
	// Chunk is the size of each write.
	Chunk int
	// Fill is the byte value written.
	Fill byte
}

// Sequence is the order in which a server replies.
type Sequence struct {
	Scripts []Script
	// Cycle restarts at the first script after the last one. Otherwise the last script
	// repeats forever.
	Cycle bool
}

// Config configures a Server.
type Config struct {
	// Addr to listen on. Defaults to 127.0.0.1:0.
	Addr string
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Server replies to connections with the scripts of a sequence.
type Server struct {
	seq  Sequence
	ln   net.Listener
	log  zerolog.Logger
	done chan struct{}

	mu       sync.Mutex
	next     int
	requests [][]byte
}

// Start listens and serves seq in a background goroutine until Close.
func Start(seq Sequence, config Config) (*Server, error) {
	if len(seq.Scripts) == 0 {
		return nil, errors.New("fixture: empty sequence")
	}
	addr := config.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.Nop()
	} else {
		logger = *config.Logger
	}
	s := &Server{
		seq:  seq,
		ln:   ln,
		log:  logger.With().Str("fixture", ln.Addr().String()).Logger(),
		done: make(chan struct{}),
	}
	go s.serve()
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Requests returns the request bytes received so far, one entry per connection.
func (s *Server) Requests() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.requests...)
}

// Served returns how many connections have been answered.
func (s *Server) Served() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Close stops accepting and waits for the connection in flight.
func (s *Server) Close() error {
	err := s.ln.Close()
	<-s.done
	return err
}

// Wait blocks until ctx ends or the server is closed.
func (s *Server) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return s.Close()
	case <-s.done:
		return nil
	}
}

func (s *Server) serve() {
	defer close(s.done)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Error().Err(err).Msg("Accept failed")
			}
			return
		}
		s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	req := readRequest(conn)
	script := s.take(req)
	s.log.Debug().Str("script", script.Name).Int("requestBytes", len(req)).Msg("Replying")
	written, err := script.WriteTo(conn)
	if err != nil {
		s.log.Debug().Err(err).Int64("written", written).Msg("Peer went away")
	}
}

func (s *Server) take(req []byte) Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	script := s.seq.Scripts[s.next]
	switch {
	case s.next+1 < len(s.seq.Scripts):
		s.next++
	case s.seq.Cycle:
		s.next = 0
	}
	return script
}

// readRequest reads until the end of the request head, EOF, a short timeout or the size
// limit, whichever comes first.
func readRequest(conn net.Conn) []byte {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	buf := make([]byte, 0, 1024)
	tmp := make([]byte, 1024)
	for len(buf) < maxRequestBytes && !bytes.Contains(buf, []byte("\r\n\r\n")) {
		n, err := conn.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	return buf
}

// WriteTo writes the script's chunks and stream to w.
func (sc Script) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for _, chunk := range sc.Chunks {
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	if sc.Stream == nil {
		return written, nil
	}
	n, err := io.Copy(w, sc.Stream.Reader())
	return written + n, err
}

// Reader returns a reader generating the stream's bytes in chunk sized reads.
func (st Stream) Reader() io.Reader {
	size := st.Chunk
	if size <= 0 {
		size = 32 << 10
	}
	chunk := bytes.Repeat([]byte{st.Fill}, size)
	return &streamReader{chunk: chunk, left: st.Length}
}

type streamReader struct {
	chunk []byte
	left  int64
}

func (r *streamReader) Read(p []byte) (int, error) {
	if r.left <= 0 {
		return 0, io.EOF
	}
	n := len(r.chunk)
	if n > len(p) {
		n = len(p)
	}
	if int64(n) > r.left {
		n = int(r.left)
	}
	copy(p, r.chunk[:n])
	r.left -= int64(n)
	return n, nil
}

// WriteTo writes whole chunks, one Write call each.
func (r *streamReader) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for r.left > 0 {
		chunk := r.chunk
		if int64(len(chunk)) > r.left {
			chunk = chunk[:r.left]
		}
		n, err := w.Write(chunk)
		written += int64(n)
		r.left -= int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
