package rfc9111

import (
	"time"

	"github.com/always-cache/respcache/rfc9211"
)

// Stored describes a response held by a cache.
type Stored struct {
	Header Fields
	Timing Timing
}

// Lifetime returns the freshness lifetime of the stored response. Responses without an
// explicit expiration time get heuristic.
func (s Stored) Lifetime(heuristic time.Duration) time.Duration {
	if lifetime, ok := FreshnessLifetime(s.Header, s.Timing.ResponseTime); ok {
		return lifetime
	}
	return heuristic
}

// TTL returns the remaining freshness lifetime at now. It is negative once the response
// is stale.
func (s Stored) TTL(now time.Time, heuristic time.Duration) time.Duration {
	return s.Lifetime(heuristic) - CurrentAge(s.Header, s.Timing, now)
}

// §  4.2.  Freshness
// §
// §     A "fresh" response is one whose age has not yet exceeded its
// §     freshness lifetime.
// §
// §       response_is_fresh = (freshness_lifetime > current_age)
func (s Stored) Fresh(now time.Time, heuristic time.Duration) bool {
	return s.TTL(now, heuristic) > 0
}

// §  4.  Constructing Responses from Caches
// §
// §     A cache MUST write through requests with methods that are unsafe
// §     (Section 9.2.1 of [HTTP]) to the origin server; i.e., a cache is not
// §     allowed to generate a reply to such a request before having forwarded
// §     the request and having received a corresponding response.
// §
// §     When presented with a request, a cache MUST NOT reuse a stored
// §     response unless:
// §
// §     *  the stored response does not contain the no-cache directive
// §        (Section 5.2.2.4), unless it is successfully validated
// §        (Section 4.3), and
// §
// §     *  the stored response is one of the following:
// §
// §        -  fresh (see Section 4.2), or
// §        -  allowed to be served stale (see Section 4.2.4), or
// §        -  successfully validated (see Section 4.3).
//
// MustNotReuse returns why the stored response cannot satisfy a request with method and
// header req, or "" if it can be reused as is. FwdReasonStale means it may still be
// reused after successful validation.
func MustNotReuse(method string, req Fields, s Stored, now time.Time, heuristic time.Duration) rfc9211.FwdReason {
	if UnsafeMethod(method) {
		return rfc9211.FwdReasonMethod
	}
	// §  5.2.1.4.  no-cache (request directive)
	// §
	// §     The no-cache request directive indicates that the client prefers a
	// §     stored response not be used to satisfy the request without successful
	// §     validation on the origin server.
	if reqCacheControl, _ := ParseCacheControl(req.Values("Cache-Control")); reqCacheControl.Has("no-cache") {
		return rfc9211.FwdReasonRequest
	}
	resCacheControl, _ := ParseCacheControl(s.Header.Values("Cache-Control"))
	if d, ok := resCacheControl.Get("no-cache"); ok && !d.HasValue {
		return rfc9211.FwdReasonStale
	}
	if !s.Fresh(now, heuristic) {
		return rfc9211.FwdReasonStale
	}
	return ""
}
