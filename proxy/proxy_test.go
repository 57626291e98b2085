package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/always-cache/respcache/cache"
	"github.com/always-cache/respcache/pkg/fixture"
	responsetransformer "github.com/always-cache/respcache/pkg/response-transformer"
	"github.com/always-cache/respcache/rfc9112"
	"github.com/always-cache/respcache/rfc9211"
)

// fixedDialer connects to addr whatever the requested origin.
type fixedDialer struct {
	addr string
}

func (d fixedDialer) DialContext(ctx context.Context, network, _ string) (net.Conn, error) {
	var nd net.Dialer
	return nd.DialContext(ctx, network, d.addr)
}

type failingDialer struct{}

func (failingDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	return nil, errors.New("connection refused")
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type harness struct {
	t      *testing.T
	origin *fixture.Server
	cache  cache.Provider
	addr   string
	clock  *clock
	logs   *syncBuffer
	reader *sdkmetric.ManualReader
}

func start(t *testing.T, seq fixture.Sequence, configure ...func(*Config)) *harness {
	t.Helper()
	origin, err := fixture.Start(seq, fixture.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { origin.Close() })

	h := &harness{
		t:      t,
		origin: origin,
		clock:  &clock{t: time.Date(2024, 10, 29, 17, 0, 0, 0, time.UTC)},
		logs:   &syncBuffer{},
		reader: sdkmetric.NewManualReader(),
	}
	logger := zerolog.New(h.logs).Level(zerolog.TraceLevel)
	config := Config{
		Cache:         cache.NewMemCache(0),
		Logger:        &logger,
		Dialer:        fixedDialer{origin.Addr()},
		Timeout:       5 * time.Second,
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(h.reader)),
	}
	for _, c := range configure {
		c(&config)
	}
	h.cache = config.Cache
	p, err := New(config)
	require.NoError(t, err)
	p.now = h.clock.now

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	h.addr = ln.Addr().String()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return h
}

type reply struct {
	status  int
	header  rfc9112.Header
	body    string
	bodyErr error
	cs      rfc9211.CacheStatus
}

// do sends raw to the proxy and reads the reply until the proxy closes the connection.
func (h *harness) do(raw string) reply {
	h.t.Helper()
	conn, err := net.Dial("tcp", h.addr)
	require.NoError(h.t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, raw)
	require.NoError(h.t, err)

	res, err := rfc9112.ReadResponse(context.Background(), conn)
	require.NoError(h.t, err)
	body, err := res.Body()
	require.NoError(h.t, err)
	b, bodyErr := io.ReadAll(body)
	io.Copy(io.Discard, conn)

	r := reply{status: res.StatusCode(), header: res.Header(), body: string(b), bodyErr: bodyErr}
	if v := res.Header().Get(rfc9211.FieldName); v != "" {
		r.cs, err = rfc9211.Parse(v)
		require.NoError(h.t, err)
	}
	return r
}

func (h *harness) get(target string, fields ...string) reply {
	h.t.Helper()
	raw := "GET " + target + " HTTP/1.1\r\nHost: example.com\r\n"
	for _, f := range fields {
		raw += f + "\r\n"
	}
	return h.do(raw + "\r\n")
}

func (h *harness) counts() map[string]int64 {
	h.t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(h.t, h.reader.Collect(context.Background(), &rm))
	counts := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "respcache.requests" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				v, _ := dp.Attributes.Value("result")
				counts[v.AsString()] += dp.Value
			}
		}
	}
	return counts
}

// sum adds up the data points of counter name whose attribute key equals value.
func (h *harness) sum(name, key, value string) int64 {
	h.t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(h.t, h.reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestMissThenHit(t *testing.T) {
	h := start(t, fixture.MaxAge())

	first := h.get("/")
	assert.Equal(t, 200, first.status)
	assert.Equal(t, fixture.Body, first.body)
	assert.Equal(t, rfc9211.FwdReasonUriMiss, first.cs.Fwd())
	assert.Equal(t, 200, first.cs.FwdStatus)
	assert.True(t, first.cs.Stored)
	assert.Equal(t, "close", first.header.Get("Connection"))

	second := h.get("/")
	assert.Equal(t, 200, second.status)
	assert.Equal(t, fixture.Body, second.body)
	assert.True(t, second.cs.IsHit())
	ttl, ok := second.cs.GetTTL()
	assert.True(t, ok)
	assert.Equal(t, int64(5), ttl)
	assert.Equal(t, "0", second.header.Get("Age"))
	assert.Equal(t, "abc,max-age=5", second.header.Get("Cache-Control"))

	assert.Equal(t, 1, h.origin.Served())
	assert.Contains(t, h.logs.String(), "Serving example.com / from cache")
	assert.Equal(t, map[string]int64{"miss": 1, "hit": 1}, h.counts())
}

func TestAgeGrowsWhileFresh(t *testing.T) {
	h := start(t, fixture.MaxAge())
	h.get("/")
	h.clock.advance(3 * time.Second)
	r := h.get("/")
	assert.True(t, r.cs.IsHit())
	assert.Equal(t, "3", r.header.Get("Age"))
	ttl, _ := r.cs.GetTTL()
	assert.Equal(t, int64(2), ttl)
}

func TestStaleEntryRevalidated(t *testing.T) {
	notModified := fixture.Reply("not-modified", "HTTP/1.1 304 Not Modified",
		[]string{"Date: " + fixture.Date, "Cache-Control: max-age=60"}, nil)
	h := start(t, fixture.Sequence{Scripts: []fixture.Script{fixture.MaxAge().Scripts[0], notModified}})

	h.get("/")
	h.clock.advance(10 * time.Second)

	r := h.get("/")
	assert.Equal(t, 200, r.status)
	assert.Equal(t, fixture.Body, r.body)
	assert.Equal(t, rfc9211.FwdReasonStale, r.cs.Fwd())
	assert.Equal(t, 304, r.cs.FwdStatus)
	assert.Equal(t, "max-age=60", r.header.Get("Cache-Control"))
	assert.Equal(t, "12", r.header.Get("Content-Length"))

	requests := h.origin.Requests()
	require.Len(t, requests, 2)
	assert.Contains(t, string(requests[1]), "If-Modified-Since: "+fixture.Date+"\r\n")
	assert.NotContains(t, string(requests[0]), "If-Modified-Since")

	// freshened by the 304
	h.clock.advance(30 * time.Second)
	assert.True(t, h.get("/").cs.IsHit())
	assert.Equal(t, 2, h.origin.Served())

	logs := h.logs.String()
	assert.Contains(t, logs, "Stale entry for example.com /")
	assert.Contains(t, logs, "Entry for example.com / unmodified")
	assert.Equal(t, map[string]int64{"miss": 1, "revalidated": 1, "hit": 1}, h.counts())
}

func TestStaleEntryReplacedByUncacheable(t *testing.T) {
	private := fixture.Reply("private", "HTTP/1.1 200 OK",
		[]string{"Date: " + fixture.Date, "Cache-Control: private", "Content-Length: 3"}, []byte("new"))
	h := start(t, fixture.Sequence{Scripts: []fixture.Script{fixture.MaxAge().Scripts[0], private}})

	h.get("/")
	require.Equal(t, 1, h.cache.Len())
	h.clock.advance(10 * time.Second)

	r := h.get("/")
	assert.Equal(t, "new", r.body)
	assert.False(t, r.cs.Stored)
	assert.Equal(t, 0, h.cache.Len())
	logs := h.logs.String()
	assert.Contains(t, logs, "Not caching example.com /")
	assert.Contains(t, logs, "Evicting example.com / from cache")
}

func TestRevalidatedEntryNoLongerStorable(t *testing.T) {
	notModified := fixture.Reply("not-modified-no-store", "HTTP/1.1 304 Not Modified",
		[]string{"Date: " + fixture.Date, "Cache-Control: no-store, max-age=60"}, nil)
	h := start(t, fixture.Sequence{Scripts: []fixture.Script{
		fixture.MaxAge().Scripts[0], notModified, fixture.MaxAge().Scripts[0],
	}})

	h.get("/")
	h.clock.advance(10 * time.Second)

	r := h.get("/")
	assert.Equal(t, 200, r.status)
	assert.Equal(t, fixture.Body, r.body)
	assert.Equal(t, "no-store, max-age=60", r.header.Get("Cache-Control"))
	assert.Equal(t, 304, r.cs.FwdStatus)
	assert.False(t, r.cs.Stored)
	assert.Equal(t, 0, h.cache.Len())

	h.clock.advance(5 * time.Second)
	third := h.get("/")
	assert.False(t, third.cs.IsHit())
	assert.Equal(t, rfc9211.FwdReasonUriMiss, third.cs.Fwd())
	assert.Equal(t, 3, h.origin.Served())

	logs := h.logs.String()
	assert.Contains(t, logs, "Not caching example.com /")
	assert.Contains(t, logs, "Evicting example.com / from cache")
}

func TestTruncatedEntryNotRevalidated(t *testing.T) {
	notModified := fixture.Reply("not-modified", "HTTP/1.1 304 Not Modified",
		[]string{"Date: " + fixture.Date, "Cache-Control: max-age=60"}, nil)
	h := start(t, fixture.Sequence{Scripts: []fixture.Script{fixture.MaxAge().Scripts[0], notModified}})

	h.get("/")
	entries, err := h.cache.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	e.Bytes = e.Bytes[:len(e.Bytes)-3]
	_, err = h.cache.Put(e)
	require.NoError(t, err)
	h.clock.advance(10 * time.Second)

	r := h.get("/")
	assert.Equal(t, 500, r.status)
	assert.Equal(t, 0, h.cache.Len())
	assert.Equal(t, 2, h.origin.Served())
	assert.Equal(t, map[string]int64{"miss": 1, "error": 1}, h.counts())
}

// purgeFailing is a cache whose Purge always fails.
type purgeFailing struct {
	*cache.MemCache
}

func (purgeFailing) Purge(string) error {
	return errors.New("disk I/O error")
}

func TestUnreadableEntryPurgeFailure(t *testing.T) {
	h := start(t, fixture.MaxAge(), func(c *Config) {
		c.Cache = purgeFailing{cache.NewMemCache(0)}
	})

	h.get("/")
	entries, err := h.cache.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	e.Bytes = []byte("garbage\r\n\r\n")
	_, err = h.cache.Put(e)
	require.NoError(t, err)

	r := h.get("/")
	assert.Equal(t, 200, r.status)
	assert.Equal(t, rfc9211.FwdReasonMiss, r.cs.Fwd())
	assert.Contains(t, h.logs.String(), "Could not purge from cache")
	assert.Equal(t, int64(1), h.sum("respcache.cache.errors", "op", "purge"))
}

func TestRevalidationDirectivesNeverServedFromCache(t *testing.T) {
	h := start(t, fixture.Revalidation())
	for range fixture.RevalidationDirectives {
		for i := 0; i < 2; i++ {
			r := h.get("/")
			assert.Equal(t, fixture.Body, r.body)
			assert.Equal(t, rfc9211.FwdReasonUriMiss, r.cs.Fwd())
			assert.False(t, r.cs.Stored)
		}
	}
	assert.Equal(t, 2*len(fixture.RevalidationDirectives), h.origin.Served())
	assert.Equal(t, 0, h.cache.Len())
}

func TestLongResponseNotCached(t *testing.T) {
	long := fixture.Long().Scripts[6]
	h := start(t, fixture.Sequence{Scripts: []fixture.Script{long}})
	for i := 0; i < 2; i++ {
		r := h.get("/long")
		require.NoError(t, r.bodyErr)
		assert.Len(t, r.body, fixture.LongBody)
		assert.False(t, r.cs.Stored)
	}
	assert.Equal(t, 2, h.origin.Served())
	assert.Equal(t, 0, h.cache.Len())
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	h := start(t, fixture.Simple(), func(c *Config) { c.Cache = cache.NewMemCache(2) })
	for _, target := range []string{"/1", "/2", "/3"} {
		assert.True(t, h.get(target).cs.Stored)
	}
	assert.Contains(t, h.logs.String(), "Evicting example.com /1 from cache")
	assert.Equal(t, 2, h.cache.Len())

	assert.True(t, h.get("/3").cs.IsHit())
	assert.Equal(t, rfc9211.FwdReasonUriMiss, h.get("/1").cs.Fwd())
	assert.Contains(t, h.logs.String(), "Evicting example.com /2 from cache")
	assert.Equal(t, 4, h.origin.Served())
}

func TestCrashSequence(t *testing.T) {
	h := start(t, fixture.Crash())
	var statuses []int
	for _, target := range []string{"/1", "/2", "/3", "/4", "/5"} {
		statuses = append(statuses, h.get(target).status)
	}
	assert.Equal(t, []int{200, 200, 502, 502, 200}, statuses)

	entries, err := h.cache.Entries()
	require.NoError(t, err)
	var targets []string
	for _, e := range entries {
		targets = append(targets, e.Target)
	}
	// the response without Date cannot be revalidated
	assert.Equal(t, []string{"/5", "/1"}, targets)
	assert.Equal(t, int64(2), h.counts()["error"])
}

func TestTruncatedOriginResponse(t *testing.T) {
	h := start(t, fixture.Truncated(100, 10))
	r := h.get("/")
	assert.Equal(t, 200, r.status)
	assert.ErrorIs(t, r.bodyErr, rfc9112.ErrTruncatedBody)
	assert.Equal(t, 0, h.cache.Len())
}

func TestStreamsLargeBody(t *testing.T) {
	const length = 8 << 20
	h := start(t, fixture.Huge(length, fixture.HugeChunk))
	r := h.get("/huge")
	require.NoError(t, r.bodyErr)
	assert.Len(t, r.body, length)
	assert.False(t, r.cs.Stored)
}

func TestBypass(t *testing.T) {
	h := start(t, fixture.Simple(), func(c *Config) { c.Bypass = []string{"example.com/private/**"} })
	for i := 0; i < 2; i++ {
		r := h.get("/private/page?x=1")
		assert.Equal(t, rfc9211.FwdReasonBypass, r.cs.Fwd())
		assert.False(t, r.cs.Stored)
	}
	h.get("/public")
	assert.True(t, h.get("/public").cs.IsHit())
	assert.Equal(t, 3, h.origin.Served())
	assert.Equal(t, map[string]int64{"bypass": 2, "miss": 1, "hit": 1}, h.counts())
}

func TestInvalidBypassPattern(t *testing.T) {
	_, err := New(Config{Bypass: []string{"example.com/[a"}})
	assert.Error(t, err)
}

func TestRulesOverrideCacheControl(t *testing.T) {
	h := start(t, fixture.Revalidation(), func(c *Config) {
		c.Rules = responsetransformer.Rules{{Path: "/static/**", Override: "max-age=60"}}
	})

	first := h.get("/static/app.js")
	assert.Equal(t, "max-age=60", first.header.Get("Cache-Control"))
	assert.True(t, first.cs.Stored)
	assert.True(t, h.get("/static/app.js").cs.IsHit())

	// unmatched paths keep the origin's private
	assert.False(t, h.get("/").cs.Stored)
	assert.Equal(t, 2, h.origin.Served())
}

func TestInvalidRulePattern(t *testing.T) {
	_, err := New(Config{Rules: responsetransformer.Rules{{Path: "/[a"}}})
	assert.Error(t, err)
}

func TestUnsafeMethodInvalidates(t *testing.T) {
	h := start(t, fixture.Simple())
	h.get("/x")
	h.get("/y")
	require.Equal(t, 2, h.cache.Len())

	r := h.do("DELETE /x HTTP/1.1\r\nHost: example.com\r\n\r\n")
	assert.Equal(t, 200, r.status)
	assert.Equal(t, rfc9211.FwdReasonMethod, r.cs.Fwd())
	assert.Equal(t, 1, h.cache.Len())
	assert.Equal(t, rfc9211.FwdReasonUriMiss, h.get("/x").cs.Fwd())
	assert.True(t, h.get("/y").cs.IsHit())
}

func TestCachingDisabled(t *testing.T) {
	h := start(t, fixture.Simple(), func(c *Config) { c.Cache = nil })
	for i := 0; i < 2; i++ {
		assert.Equal(t, rfc9211.FwdReasonBypass, h.get("/").cs.Fwd())
	}
	assert.Equal(t, 2, h.origin.Served())
}

func TestLongRequestHeadNotCached(t *testing.T) {
	h := start(t, fixture.Simple())
	long := "X-Padding: " + strings.Repeat("a", 2000)
	for i := 0; i < 2; i++ {
		r := h.get("/", long)
		assert.Equal(t, rfc9211.FwdReasonBypass, r.cs.Fwd())
	}
	assert.Equal(t, 0, h.cache.Len())
}

func TestRequireCacheControl(t *testing.T) {
	h := start(t, fixture.Simple(), func(c *Config) { c.RequireCacheControl = true })
	assert.False(t, h.get("/").cs.Stored)
	assert.Equal(t, 0, h.cache.Len())
}

func TestAbsoluteFormForwardedAsOriginForm(t *testing.T) {
	h := start(t, fixture.Simple())
	r := h.do("GET http://example.com/abs?q=1 HTTP/1.1\r\nAccept: */*\r\n\r\n")
	assert.Equal(t, 200, r.status)
	requests := h.origin.Requests()
	require.Len(t, requests, 1)
	assert.True(t, strings.HasPrefix(string(requests[0]), "GET /abs?q=1 HTTP/1.1\r\n"), string(requests[0]))
	assert.Contains(t, string(requests[0]), "Connection: close\r\n")
}

func TestMalformedRequest(t *testing.T) {
	h := start(t, fixture.Simple())
	assert.Equal(t, 400, h.do("garbage\r\n\r\n").status)
	assert.Equal(t, 400, h.do("GET / HTTP/1.1\r\n\r\n").status)
	assert.Equal(t, 0, h.origin.Served())
}

func TestUnreachableOrigin(t *testing.T) {
	h := start(t, fixture.Simple(), func(c *Config) { c.Dialer = failingDialer{} })
	r := h.get("/")
	assert.Equal(t, 502, r.status)
	assert.Equal(t, rfc9211.FwdReasonUriMiss, r.cs.Fwd())
}

func TestSQLiteProvider(t *testing.T) {
	sqlite, err := cache.NewSQLiteCache(0)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	h := start(t, fixture.MaxAge(), func(c *Config) { c.Cache = sqlite })
	assert.True(t, h.get("/").cs.Stored)
	r := h.get("/")
	assert.True(t, r.cs.IsHit())
	assert.Equal(t, fixture.Body, r.body)
	assert.Equal(t, 1, h.origin.Served())
}
