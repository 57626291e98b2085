// Package rfc9211 builds and parses values of the Cache-Status response field.
//
// §  RFC 9211: The Cache-Status HTTP Response Header Field
// §
// §     To aid debugging, HTTP caches often append header fields to a
// §     response, explaining how they handled the request in an ad hoc
// §     manner.  This specification defines a standard mechanism to do so
// §     that is aligned with HTTP's caching model.
package rfc9211

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldName is the name of the response field.
const FieldName = "Cache-Status"

// §  2.  The Cache-Status HTTP Response Header Field
// §
// §     The Cache-Status HTTP response header field indicates how caches have
// §     handled that response and its corresponding request.
// §
// §     Its value is a List:
// §
// §     Cache-Status   = sf-list
// §
// §     Each member of the List represents a cache that has handled the
// §     request.  The first member of the List represents the cache closest
// §     to the origin server, and the last member of the List represents the
// §     cache closest to the user.
// §
// §     Each List member identifies the cache that inserted it and this
// §     identifier MUST be a String or Token.
//
// CacheStatus is one member of a Cache-Status field value.
type CacheStatus struct {
	// Cache identifies the cache that handled the request.
	Cache string
	// hit and fwd are mutually exclusive.
	hit bool
	fwd FwdReason
	// FwdStatus is the status code of the forwarded response, if any.
	FwdStatus int
	ttl       int64
	hasTTL    bool
	// Stored reports that the forwarded response was stored.
	Stored bool
	// Key is the cache key, if exposed.
	Key    string
	detail string
}

// §  2.1.  The hit Parameter
// §
// §     "hit", when true, indicates that the request was satisfied by the
// §     cache; that is, it was not forwarded, and the response was obtained
// §     from the cache.
//
// Hit marks the request as satisfied by the cache.
func (cs *CacheStatus) Hit() {
	cs.hit = true
	cs.fwd = ""
}

// IsHit reports whether the request was satisfied by the cache.
func (cs CacheStatus) IsHit() bool {
	return cs.hit
}

// FwdReason says why a request went to the next hop.
type FwdReason string

// §  2.2.  The fwd Parameter
// §
// §     "fwd" indicates that the request went forward towards the origin and
// §     why.
const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache contained a response that matched the request
	// URI, but it could not select a response based upon this request's
	// header fields and stored Vary header fields.
	FwdReasonVaryMiss FwdReason = "vary-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request (to be used when an implementation cannot
	// distinguish between uri-miss and vary-miss).
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a fresh response for the
	// request, but the request's semantics (e.g., Cache-Control request
	// directives) did not allow its use.
	FwdReasonRequest FwdReason = "request"

	// The cache was able to select a response for the request, but
	// it was stale.
	FwdReasonStale FwdReason = "stale"

	// The cache was able to select a partial response for the
	// request, but it did not contain all of the requested ranges (or
	// the request was for the complete response).
	FwdReasonPartial FwdReason = "partial"
)

// Forward marks the request as forwarded for reason.
func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.hit = false
	cs.fwd = reason
}

// Fwd returns the forward reason, or "" for a hit.
func (cs CacheStatus) Fwd() FwdReason {
	return cs.fwd
}

// §  2.4.  The ttl Parameter
// §
// §     "ttl" indicates the response's remaining freshness lifetime as
// §     calculated by the cache, as an Integer number of seconds, measured
// §     when the response header section is sent by the cache.
//
// TTL sets the remaining freshness lifetime in seconds. Stale responses have a negative
// ttl.
func (cs *CacheStatus) TTL(seconds int64) {
	cs.ttl = seconds
	cs.hasTTL = true
}

// GetTTL returns the ttl and whether it was set.
func (cs CacheStatus) GetTTL() (int64, bool) {
	return cs.ttl, cs.hasTTL
}

// §  2.8.  The detail Parameter
// §
// §     "detail" allows implementations to convey additional information not
// §     captured in other parameters, such as implementation-specific
// §     states or other caching-related metrics.
//
// Detail sets the implementation specific detail.
func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

// GetDetail returns the detail.
func (cs CacheStatus) GetDetail() string {
	return cs.detail
}

// String serializes the member, e.g. `respcache; fwd=stale; fwd-status=304`.
func (cs CacheStatus) String() string {
	var sb strings.Builder
	sb.WriteString(item(cs.Cache))
	if cs.hit {
		sb.WriteString("; hit")
	}
	if cs.fwd != "" {
		sb.WriteString("; fwd=" + string(cs.fwd))
	}
	if cs.FwdStatus != 0 {
		fmt.Fprintf(&sb, "; fwd-status=%d", cs.FwdStatus)
	}
	if cs.hasTTL {
		fmt.Fprintf(&sb, "; ttl=%d", cs.ttl)
	}
	if cs.Stored {
		sb.WriteString("; stored")
	}
	if cs.Key != "" {
		sb.WriteString("; key=" + quote(cs.Key))
	}
	if cs.detail != "" {
		sb.WriteString("; detail=" + item(cs.detail))
	}
	return sb.String()
}

// item writes s as an sf-token when it is one, and as an sf-string otherwise.
func item(s string) string {
	if isToken(s) {
		return s
	}
	return quote(s)
}

func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// sf-token = ( ALPHA / "*" ) *( tchar / ":" / "/" )
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		alpha := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
		if i == 0 {
			if !alpha && c != '*' {
				return false
			}
			continue
		}
		if !alpha && !(c >= '0' && c <= '9') && !strings.ContainsRune("!#$%&'*+-.^_`|~:/", rune(c)) {
			return false
		}
	}
	return true
}

// Parse reads the last member of a Cache-Status field value, i.e. the one added by the
// cache closest to the client. Unknown parameters are ignored.
func Parse(value string) (CacheStatus, error) {
	members := splitOutsideQuotes(value, ',')
	member := strings.TrimSpace(members[len(members)-1])
	params := splitOutsideQuotes(member, ';')
	var cs CacheStatus
	cs.Cache = unquote(strings.TrimSpace(params[0]))
	if cs.Cache == "" {
		return cs, fmt.Errorf("rfc9211: no cache identifier in %q", value)
	}
	for _, param := range params[1:] {
		name, val, _ := strings.Cut(strings.TrimSpace(param), "=")
		switch name {
		case "hit":
			cs.Hit()
		case "fwd":
			cs.Forward(FwdReason(val))
		case "fwd-status":
			n, err := strconv.Atoi(val)
			if err != nil {
				return cs, fmt.Errorf("rfc9211: fwd-status: %w", err)
			}
			cs.FwdStatus = n
		case "ttl":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return cs, fmt.Errorf("rfc9211: ttl: %w", err)
			}
			cs.TTL(n)
		case "stored":
			cs.Stored = true
		case "key":
			cs.Key = unquote(val)
		case "detail":
			cs.Detail(unquote(val))
		}
	}
	return cs, nil
}

func splitOutsideQuotes(s string, sep byte) []string {
	var parts []string
	quoted, escaped := false, false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case quoted && c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case !quoted && c == sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func unquote(s string) string {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	return strings.NewReplacer(`\\`, `\`, `\"`, `"`).Replace(s[1 : len(s)-1])
}
