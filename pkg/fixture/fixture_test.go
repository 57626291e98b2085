package fixture

import (
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exchange(t *testing.T, addr, request string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, request)
	require.NoError(t, err)
	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(b)
}

const getRoot = "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n"

func TestSimple(t *testing.T) {
	srv, err := Start(Simple(), Config{})
	require.NoError(t, err)
	defer srv.Close()

	got := exchange(t, srv.Addr(), getRoot)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 12\r\nDate: "+Date+"\r\n\r\nHello World!", got)

	// the last script repeats
	assert.Equal(t, got, exchange(t, srv.Addr(), getRoot))
	assert.Equal(t, 2, srv.Served())
	assert.Equal(t, getRoot, string(srv.Requests()[0]))
}

func TestCrashSequence(t *testing.T) {
	srv, err := Start(Crash(), Config{})
	require.NoError(t, err)
	defer srv.Close()

	first := []string{"HTTP/1.1 200 OK\r\nDate:", "HTTP/1.1 200 OK\r\nContent-Length: 12\r\n\r\n", "3412\r\n", "HTTP 2312 Ofds\r\n"}
	for _, prefix := range first {
		got := exchange(t, srv.Addr(), getRoot)
		assert.True(t, strings.HasPrefix(got, prefix), "got %q, want prefix %q", got, prefix)
	}
	for i := 0; i < 3; i++ {
		got := exchange(t, srv.Addr(), getRoot)
		assert.True(t, strings.HasPrefix(got, "HTTP/1.1 200 OK\r\nDate: "), got)
	}
}

func TestCacheControlsCycle(t *testing.T) {
	seq := CacheControls()
	require.True(t, seq.Cycle)
	require.Len(t, seq.Scripts, len(CacheControlSamples))

	srv, err := Start(seq, Config{})
	require.NoError(t, err)
	defer srv.Close()
	for i := 0; i <= len(CacheControlSamples); i++ {
		got := exchange(t, srv.Addr(), getRoot)
		want := "Cache-Control: " + CacheControlSamples[i%len(CacheControlSamples)] + "\r\n"
		assert.Contains(t, got, want)
	}
}

func TestRevalidationServesEachDirectiveTwice(t *testing.T) {
	seq := Revalidation()
	require.Len(t, seq.Scripts, 2*len(RevalidationDirectives))
	for i, d := range RevalidationDirectives {
		assert.Equal(t, seq.Scripts[2*i].Name, seq.Scripts[2*i+1].Name)
		assert.Contains(t, seq.Scripts[2*i].Name, d)
	}
}

func TestLongBody(t *testing.T) {
	var long *Script
	for i, s := range Long().Scripts {
		if strings.Contains(string(s.Chunks[1]), "102401") {
			long = &Long().Scripts[i]
		}
	}
	require.NotNil(t, long)
	var sb strings.Builder
	n, err := long.WriteTo(&sb)
	require.NoError(t, err)
	assert.Equal(t, int64(sb.Len()), n)
	assert.True(t, strings.HasSuffix(sb.String(), "\r\n\r\n"+strings.Repeat("0", LongBody)))
}

type countingWriter struct {
	n      int64
	writes int
	max    int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	w.writes++
	if len(p) > w.max {
		w.max = len(p)
	}
	return len(p), nil
}

func TestHugeStreamsInChunks(t *testing.T) {
	seq := Huge(1_000_003, 100_000)
	w := &countingWriter{}
	_, err := seq.Scripts[0].Stream.Reader().(io.WriterTo).WriteTo(w)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_003), w.n)
	assert.Equal(t, 11, w.writes)
	assert.Equal(t, 100_000, w.max)

	n, err := io.Copy(io.Discard, Stream{Length: 70_000, Chunk: 4096}.Reader())
	require.NoError(t, err)
	assert.Equal(t, int64(70_000), n)
}

func TestNamed(t *testing.T) {
	for _, name := range Names() {
		seq, ok := Named(name)
		assert.True(t, ok, name)
		assert.NotEmpty(t, seq.Scripts, name)
	}
	_, ok := Named("nope")
	assert.False(t, ok)
}

func TestStartRejectsEmptySequence(t *testing.T) {
	_, err := Start(Sequence{}, Config{})
	assert.Error(t, err)
}
