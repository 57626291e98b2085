// Package proxy implements a caching forward proxy for HTTP/1.1.
// Every client connection carries exactly one request. The origin is taken from the
// request's Host and contacted over a fresh connection per request.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"

	"github.com/always-cache/respcache/cache"
	responsetransformer "github.com/always-cache/respcache/pkg/response-transformer"
	"github.com/always-cache/respcache/rfc9111"
)

const (
	// DefaultMaxResponseSize is the largest response, head and body, that is stored.
	DefaultMaxResponseSize = 100 * 1024
	// DefaultTimeout bounds one exchange.
	DefaultTimeout = 30 * time.Second
	// DefaultName identifies the proxy in Cache-Status fields.
	DefaultName = "respcache"
)

// Dialer opens connections to origins. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Config struct {
	// Storage for cache entries. Caching is disabled if nil.
	Cache cache.Provider
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Dialer for origin connections. Defaults to a net.Dialer with a 10 second timeout.
	Dialer Dialer
	// Timeout bounds one exchange, from reading the request to the last body byte.
	Timeout time.Duration
	// HeuristicLifetime is the freshness lifetime of stored responses that do not carry
	// an explicit one. Zero means they do not go stale.
	HeuristicLifetime time.Duration
	// RequireCacheControl stops storing responses that have no Cache-Control field.
	RequireCacheControl bool
	// Bypass lists doublestar patterns matched against host and path, e.g.
	// "example.com/api/**". Matching requests never touch the cache.
	Bypass []string
	// Rules rewrite the Cache-Control of origin responses before they are evaluated.
	Rules responsetransformer.Rules
	// MaxResponseSize bounds stored responses. Defaults to DefaultMaxResponseSize.
	MaxResponseSize int
	// Name identifies the proxy in Cache-Status fields. Defaults to DefaultName.
	Name string
	// MeterProvider for the proxy's counters. The global one is used if nil.
	MeterProvider metric.MeterProvider
}

type Proxy struct {
	cache     cache.Provider
	log       zerolog.Logger
	dialer    Dialer
	timeout   time.Duration
	heuristic time.Duration
	evaluator rfc9111.Evaluator
	bypass    []string
	rules     responsetransformer.Rules
	maxSize   int
	name      string
	metrics   *metrics
	now       func() time.Time
}

// New validates config and creates a proxy.
func New(config Config) (*Proxy, error) {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	for _, pattern := range config.Bypass {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid bypass pattern %q", pattern)
		}
	}
	if err := config.Rules.Validate(); err != nil {
		return nil, err
	}
	m, err := newMetrics(config.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("could not create metrics: %w", err)
	}
	p := &Proxy{
		cache:     config.Cache,
		log:       logger,
		dialer:    config.Dialer,
		timeout:   config.Timeout,
		heuristic: config.HeuristicLifetime,
		evaluator: rfc9111.Evaluator{DefaultCacheable: !config.RequireCacheControl},
		bypass:    config.Bypass,
		rules:     config.Rules,
		maxSize:   config.MaxResponseSize,
		name:      config.Name,
		metrics:   m,
		now:       time.Now,
	}
	if p.dialer == nil {
		p.dialer = &net.Dialer{Timeout: 10 * time.Second}
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.heuristic <= 0 {
		p.heuristic = rfc9111.MaxDeltaSeconds * time.Second
	}
	if p.maxSize <= 0 {
		p.maxSize = DefaultMaxResponseSize
	}
	if p.name == "" {
		p.name = DefaultName
	}
	return p, nil
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (p *Proxy) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return p.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, handling each in its own goroutine.
// It closes ln and returns once all connections are finished.
func (p *Proxy) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	var wg sync.WaitGroup
	defer wg.Wait()

	p.log.Info().Str("addr", ln.Addr().String()).Bool("caching", p.cache != nil).Msg("Proxy listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.handle(ctx, conn)
		}()
	}
}

func (p *Proxy) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ex := newExchange(p, conn)
	res := ex.run(ctx)
	ex.log.Trace().Str("result", string(res)).Int64("sent", ex.sent).Msg("Exchange done")
	p.metrics.request(context.Background(), res, ex.sent)
}

// bypassed reports whether host and path match one of the bypass patterns.
func (p *Proxy) bypassed(host, path string) bool {
	path, _, _ = strings.Cut(path, "?")
	for _, pattern := range p.bypass {
		if ok, _ := doublestar.Match(pattern, host+path); ok {
			return true
		}
	}
	return false
}
