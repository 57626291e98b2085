package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/always-cache/respcache/cache"
	cachekey "github.com/always-cache/respcache/pkg/cache-key"
	"github.com/always-cache/respcache/pkg/tee"
	"github.com/always-cache/respcache/rfc9111"
	"github.com/always-cache/respcache/rfc9112"
	"github.com/always-cache/respcache/rfc9211"
)

// exchange is one client connection and the single request it carries.
type exchange struct {
	p      *Proxy
	client net.Conn
	log    zerolog.Logger

	req     *rfc9112.Request
	reqBody *rfc9112.Body
	host    string
	target  string
	key     string
	cs      rfc9211.CacheStatus

	// the stale entry being revalidated, if any
	entry  *cache.Entry
	stored *rfc9112.Response

	wroteHead bool
	sent      int64
}

func newExchange(p *Proxy, conn net.Conn) *exchange {
	return &exchange{
		p:      p,
		client: conn,
		log: p.log.With().
			Str("conn", uuid.NewString()).
			Str("client", conn.RemoteAddr().String()).
			Logger(),
		cs: rfc9211.CacheStatus{Cache: p.name},
	}
}

func (ex *exchange) run(ctx context.Context) result {
	reader := rfc9112.NewReader(ex.client)
	req, err := reader.ReadRequest(ctx)
	if err != nil {
		ex.log.Debug().Err(err).Msg("Could not read request")
		ex.fail(http.StatusBadRequest)
		return resultError
	}
	ex.req = req
	ex.host, ex.target = req.Host(), req.Path()
	ex.log = ex.log.With().Str("method", req.Line.Method).Str("host", ex.host).Str("target", ex.target).Logger()
	if ex.host == "" {
		ex.log.Debug().Msg("Request without host")
		ex.fail(http.StatusBadRequest)
		return resultError
	}
	ex.reqBody, err = reader.OpenBody(ctx, rfc9112.RequestBodyLength(req.Header))
	if err != nil {
		ex.log.Debug().Err(err).Msg("Could not read request body")
		ex.fail(http.StatusBadRequest)
		return resultError
	}
	defer ex.reqBody.Close()

	if ex.p.bypassed(ex.host, ex.target) {
		ex.log.Trace().Msg("Bypassing cache")
		ex.cs.Forward(rfc9211.FwdReasonBypass)
		return ex.forward(ctx)
	}

	if ex.p.cache == nil {
		ex.cs.Forward(rfc9211.FwdReasonBypass)
		return ex.forward(ctx)
	}
	key, err := cachekey.Key(req)
	if err != nil {
		ex.log.Trace().Err(err).Msg("Request not cacheable")
		if errors.Is(err, cachekey.ErrorMethodNotSupported) {
			ex.cs.Forward(rfc9211.FwdReasonMethod)
		} else {
			ex.cs.Forward(rfc9211.FwdReasonBypass)
		}
		return ex.forward(ctx)
	}
	ex.key = key

	if r, done := ex.lookup(ctx); done {
		return r
	}
	return ex.forward(ctx)
}

// lookup serves the request from the cache if possible. It returns done if a response
// was sent; otherwise it leaves a stale entry to revalidate in ex.entry.
func (ex *exchange) lookup(ctx context.Context) (result, bool) {
	entry, found, err := ex.p.cache.Get(ex.key)
	if err != nil {
		ex.log.Error().Err(err).Msg("Could not retrieve from cache")
		ex.p.metrics.cacheError(ctx, "get")
	}
	if !found {
		ex.cs.Forward(rfc9211.FwdReasonUriMiss)
		return "", false
	}
	stored, err := rfc9112.ReadResponse(ctx, bytes.NewReader(entry.Bytes))
	if err != nil {
		// in case we have a corrupted cache entry, we delete it and serve the request
		ex.log.Error().Err(err).Msg("Could not read from cache")
		ex.evict(entry)
		ex.cs.Forward(rfc9211.FwdReasonMiss)
		return "", false
	}
	now := ex.p.now()
	s := rfc9111.Stored{
		Header: stored.Header(),
		Timing: rfc9111.Timing{RequestTime: entry.RequestedAt, ResponseTime: entry.ReceivedAt},
	}
	reason := rfc9111.MustNotReuse(ex.req.Line.Method, ex.req.Header, s, now, ex.p.heuristic)
	if reason == "" {
		ex.log.Info().Msgf("Serving %s %s from cache", ex.host, ex.target)
		ex.cs.Hit()
		ex.cs.TTL(seconds(s.TTL(now, ex.p.heuristic)))
		if err := ex.serve(stored, s, now); err != nil {
			ex.log.Error().Err(err).Msg("Could not write response to client")
			return resultError, true
		}
		return resultHit, true
	}
	ex.log.Info().Str("fwd", string(reason)).Msgf("Stale entry for %s %s", ex.host, ex.target)
	ex.cs.Forward(reason)
	ex.entry = &entry
	ex.stored = stored
	return "", false
}

// forward sends the request to the origin and relays the response.
func (ex *exchange) forward(ctx context.Context) result {
	header := rfc9111.StorableHeader(ex.req.Header).With("Connection", "close")
	if !header.Has("Host") {
		header = append(rfc9112.Header{{Name: "Host", Value: ex.host}}, header...)
	}
	if ex.stored != nil {
		v := rfc9111.ValidatorsFor(ex.stored.Header())
		if v.IfModifiedSince != "" && !header.Has("If-Modified-Since") {
			header = header.With("If-Modified-Since", v.IfModifiedSince)
		}
		if v.IfNoneMatch != "" && !header.Has("If-None-Match") {
			header = header.With("If-None-Match", v.IfNoneMatch)
		}
	}

	ex.log.Debug().Msgf("Forwarding %s %s %s", ex.req.Line.Method, ex.host, ex.target)
	requestedAt := ex.p.now()
	origin, err := ex.p.dialer.DialContext(ctx, "tcp", ex.req.Addr())
	if err != nil {
		ex.log.Error().Err(err).Msg("Could not connect to origin")
		ex.fail(http.StatusBadGateway)
		return resultError
	}
	defer origin.Close()
	if deadline, ok := ctx.Deadline(); ok {
		origin.SetWriteDeadline(deadline)
	}

	w := bufio.NewWriter(origin)
	line := rfc9112.RequestLine{Method: ex.req.Line.Method, Target: ex.target, Version: rfc9112.Version{Major: 1, Minor: 1}}
	if err := rfc9112.WriteHead(w, line.String(), header); err != nil {
		ex.log.Error().Err(err).Msg("Could not send request to origin")
		ex.fail(http.StatusBadGateway)
		return resultError
	}
	if _, err := ex.reqBody.WriteTo(w); err != nil {
		ex.log.Debug().Err(err).Msg("Could not read request body")
		ex.fail(http.StatusBadRequest)
		return resultError
	}
	if err := w.Flush(); err != nil {
		ex.log.Error().Err(err).Msg("Could not send request to origin")
		ex.fail(http.StatusBadGateway)
		return resultError
	}

	res, err := rfc9112.ReadResponse(ctx, origin, rfc9112.WithRequestMethod(ex.req.Line.Method))
	if err != nil {
		ex.log.Error().Err(err).Msg("Could not read response from origin")
		ex.fail(http.StatusBadGateway)
		return resultError
	}
	receivedAt := ex.p.now()
	ex.cs.FwdStatus = res.StatusCode()
	timing := rfc9111.Timing{RequestTime: requestedAt, ResponseTime: receivedAt}

	if res.StatusCode() == http.StatusNotModified && ex.stored != nil {
		return ex.revalidated(res, timing)
	}
	return ex.relay(res, timing)
}

// revalidated answers from the stale entry after the origin confirmed it. The entry is
// stored again with the fields of the 304 applied if it may still be stored, and evicted
// otherwise.
func (ex *exchange) revalidated(res *rfc9112.Response, timing rfc9111.Timing) result {
	header := rfc9111.UpdateStoredHeader(ex.stored.Header(), res.Header())
	body, err := ex.stored.Body()
	if err != nil {
		ex.log.Error().Err(err).Msg("Could not read from cache")
		ex.evict(*ex.entry)
		ex.fail(http.StatusInternalServerError)
		return resultError
	}
	var head, b bytes.Buffer
	rfc9112.WriteHead(&head, ex.stored.StatusLine().String(), header)
	b.Write(head.Bytes())
	if _, err := body.WriteTo(&b); err != nil {
		ex.log.Error().Err(err).Msg("Could not read from cache")
		ex.evict(*ex.entry)
		ex.fail(http.StatusInternalServerError)
		return resultError
	}

	verdict, err := ex.p.evaluator.EvaluateHeader(header)
	if err != nil {
		ex.log.Warn().Err(err).Msg("Malformed Cache-Control in response")
	}
	storable, why := ex.storable(ex.stored, header, verdict, head.Len())
	ex.cs.Stored = storable

	s := rfc9111.Stored{Header: header, Timing: timing}
	entry := *ex.entry
	entry.Date = header.Get("Date")
	entry.RequestedAt = timing.RequestTime
	entry.ReceivedAt = timing.ResponseTime
	entry.Expires = timing.ResponseTime.Add(s.TTL(timing.ResponseTime, ex.p.heuristic))
	entry.Bytes = b.Bytes()
	if storable {
		ex.store(entry)
	} else {
		ex.log.Info().Str("reason", why).Msgf("Not caching %s %s", ex.host, ex.target)
		ex.evict(*ex.entry)
	}

	fresh, err := rfc9112.ReadResponse(context.Background(), bytes.NewReader(entry.Bytes))
	if err != nil {
		ex.log.Error().Err(err).Msg("Could not read from cache")
		ex.fail(http.StatusInternalServerError)
		return resultError
	}
	now := ex.p.now()
	ex.log.Info().Msgf("Serving %s %s from cache", ex.host, ex.target)
	if storable {
		ex.cs.TTL(seconds(s.TTL(now, ex.p.heuristic)))
	}
	if err := ex.serve(fresh, s, now); err != nil {
		ex.log.Error().Err(err).Msg("Could not write response to client")
		return resultError
	}
	ex.log.Info().Msgf("Entry for %s %s unmodified", ex.host, ex.target)
	return resultRevalidated
}

// relay streams the origin response to the client, keeping a copy to store if allowed.
func (ex *exchange) relay(res *rfc9112.Response, timing rfc9111.Timing) result {
	body, err := res.Body()
	if err != nil {
		ex.log.Error().Err(err).Msg("Unusable response from origin")
		ex.fail(http.StatusBadGateway)
		return resultError
	}
	defer body.Close()

	header := ex.p.rules.Apply(ex.req.Line.Method, ex.host, ex.target, res.StatusCode(), res.Header())
	verdict, err := ex.p.evaluator.EvaluateHeader(header)
	if err != nil {
		ex.log.Warn().Err(err).Msg("Malformed Cache-Control in response")
	}
	storedHeader := rfc9111.StorableHeader(header)
	var head bytes.Buffer
	rfc9112.WriteHead(&head, res.StatusLine().String(), storedHeader)

	storable, why := ex.storable(res, storedHeader, verdict, head.Len())
	ex.cs.Stored = storable
	clientHeader := storedHeader.With("Connection", "close").With(rfc9211.FieldName, ex.cs.String())
	if err := ex.writeHead(res.StatusLine(), clientHeader); err != nil {
		ex.log.Debug().Err(err).Msg("Could not write response to client")
		return resultError
	}
	capture := tee.NewCapture(ex.client, ex.p.maxSize-head.Len())
	n, err := body.WriteTo(capture)
	ex.sent += capture.Written()
	if err != nil {
		ex.log.Error().Err(err).Int64("bodyBytes", n).Msg("Could not relay response body")
		return resultError
	}
	ex.log.Trace().Msgf("Wrote body (%d bytes)", n)

	if storable && !capture.Overflowed() {
		s := rfc9111.Stored{Header: storedHeader, Timing: timing}
		ex.store(cache.Entry{
			Key:         ex.key,
			Host:        ex.host,
			Target:      ex.target,
			Date:        storedHeader.Get("Date"),
			RequestedAt: timing.RequestTime,
			ReceivedAt:  timing.ResponseTime,
			Expires:     timing.ResponseTime.Add(s.TTL(timing.ResponseTime, ex.p.heuristic)),
			Bytes:       append(head.Bytes(), capture.Bytes()...),
		})
	} else if ex.key != "" {
		if why == "" {
			why = "too large"
		}
		ex.log.Info().Str("reason", why).Msgf("Not caching %s %s", ex.host, ex.target)
		if ex.entry != nil {
			ex.evict(*ex.entry)
		}
	}
	if ex.p.cache != nil && rfc9111.Invalidates(ex.req.Line.Method, res.StatusCode()) {
		ex.invalidate()
	}
	if ex.cs.Fwd() == rfc9211.FwdReasonBypass {
		return resultBypass
	}
	return resultMiss
}

// storable decides whether a response may be stored, and if not, why.
func (ex *exchange) storable(res *rfc9112.Response, header rfc9112.Header, verdict rfc9111.Verdict, headLen int) (bool, string) {
	switch {
	case ex.key == "":
		return false, ""
	case !rfc9111.MayStore(ex.req.Line.Method, res.StatusCode(), header, verdict):
		return false, "not storable"
	case res.Framing() != nil || res.BodyLength().Kind != rfc9112.LengthDeclared:
		return false, "no content length"
	case int64(headLen)+res.BodyLength().N > int64(ex.p.maxSize):
		return false, "too large"
	case rfc9111.ValidatorsFor(header).Empty():
		return false, "no date"
	}
	return true, ""
}

func (ex *exchange) store(entry cache.Entry) {
	evicted, err := ex.p.cache.Put(entry)
	if err != nil {
		ex.log.Error().Err(err).Msg("Could not write to cache")
		ex.p.metrics.cacheError(context.Background(), "put")
		return
	}
	ex.p.metrics.stored.Add(context.Background(), 1)
	for _, e := range evicted {
		ex.log.Info().Msgf("Evicting %s %s from cache", e.Host, e.Target)
		ex.p.metrics.evicted.Add(context.Background(), 1)
	}
	ex.log.Trace().Time("expires", entry.Expires).Int("size", entry.Size()).Msg("Cache write")
}

func (ex *exchange) evict(entry cache.Entry) {
	if err := ex.p.cache.Purge(entry.Key); err != nil {
		ex.log.Error().Err(err).Msg("Could not purge from cache")
		ex.p.metrics.cacheError(context.Background(), "purge")
		return
	}
	ex.log.Info().Msgf("Evicting %s %s from cache", entry.Host, entry.Target)
	ex.p.metrics.evicted.Add(context.Background(), 1)
}

// §  4.4.  Invalidating Stored Responses
// §
// §     the cache MUST invalidate the target URI
func (ex *exchange) invalidate() {
	entries, err := ex.p.cache.Entries()
	if err != nil {
		ex.log.Error().Err(err).Msg("Could not list cache entries")
		ex.p.metrics.cacheError(context.Background(), "list")
		return
	}
	for _, e := range entries {
		if e.Host == ex.host && e.Target == ex.target {
			ex.evict(e)
		}
	}
}

// serve writes a stored response to the client with its current Age.
func (ex *exchange) serve(res *rfc9112.Response, s rfc9111.Stored, now time.Time) error {
	body, err := res.Body()
	if err != nil {
		return err
	}
	defer body.Close()
	age := rfc9111.CurrentAge(s.Header, s.Timing, now)
	header := res.Header().
		Without("Age").
		With("Age", rfc9111.FormatDeltaSeconds(age)).
		With("Connection", "close").
		With(rfc9211.FieldName, ex.cs.String())
	if err := ex.writeHead(res.StatusLine(), header); err != nil {
		return err
	}
	n, err := body.WriteTo(ex.client)
	ex.sent += n
	return err
}

func (ex *exchange) writeHead(status rfc9112.StatusLine, header rfc9112.Header) error {
	var b bytes.Buffer
	rfc9112.WriteHead(&b, status.String(), header)
	ex.wroteHead = true
	n, err := ex.client.Write(b.Bytes())
	ex.sent += int64(n)
	return err
}

// fail sends an empty response with status, unless a head was already sent.
func (ex *exchange) fail(status int) {
	if ex.wroteHead {
		return
	}
	line := rfc9112.StatusLine{Version: rfc9112.Version{Major: 1, Minor: 1}, Code: status, Reason: http.StatusText(status)}
	header := rfc9112.Header{
		{Name: "Content-Length", Value: "0"},
		{Name: "Connection", Value: "close"},
	}
	if ex.cs.Fwd() != "" {
		header = header.With(rfc9211.FieldName, ex.cs.String())
	}
	if err := ex.writeHead(line, header); err != nil {
		ex.log.Debug().Err(err).Msgf("Could not send %d to client", status)
	}
}

// seconds rounds d down to whole seconds.
func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
