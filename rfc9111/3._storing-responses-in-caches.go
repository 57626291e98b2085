package rfc9111

import (
	"slices"
	"strings"
)

// Basis tells where a verdict came from.
type Basis int

const (
	// BasisDefault means no directive was present and the caller's default applies.
	BasisDefault Basis = iota
	// BasisDirectives means the verdict was derived from directives.
	BasisDirectives
)

func (b Basis) String() string {
	if b == BasisDirectives {
		return "directives"
	}
	return "default"
}

func (b Basis) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Verdict is the outcome of evaluating the Cache-Control directives of a response.
type Verdict struct {
	// Cacheable reports whether the response may be stored and reused without
	// revalidation.
	Cacheable bool `json:"cacheable"`
	// MaxAgeSeconds is the winning max-age. Only meaningful if HasMaxAge.
	MaxAgeSeconds int64 `json:"maxAgeSeconds,omitempty"`
	HasMaxAge     bool  `json:"hasMaxAge"`
	// Reasons lists the directives that restricted caching, in order of appearance.
	Reasons []string `json:"reasons,omitempty"`
	// Unrecognized lists directives that did not influence the verdict: unknown names,
	// invalid arguments and malformed values.
	Unrecognized []string `json:"unrecognized,omitempty"`
	Basis        Basis    `json:"basis"`
}

// Evaluator turns directives into a verdict.
type Evaluator struct {
	// DefaultCacheable is the verdict for responses without any directive.
	DefaultCacheable bool
}

// §  3.  Storing Responses in Caches
// §
// §     A cache MUST NOT store a response to a request unless:
// §
// §     *  the no-store cache directive is not present in the response (see
// §        Section 5.2.2.5);
// §
// §     *  if the cache is shared: the private response directive is either
// §        not present or allows a shared cache to store a modified response;
// §        see Section 5.2.2.7);
//
// Evaluate derives a verdict from cc. It has no side effects; equal inputs give equal
// verdicts.
//
// private, no-store, bare no-cache, must-revalidate, proxy-revalidate and a winning
// max-age=0 each make a response not cacheable. The first valid max-age wins; later ones
// are ignored. no-cache with a field-name argument does not affect the verdict;
// no-cache="" counts as bare no-cache.
func (e Evaluator) Evaluate(cc CacheControl) Verdict {
	if len(cc.Directives) == 0 {
		return Verdict{Cacheable: e.DefaultCacheable, Basis: BasisDefault}
	}
	v := Verdict{Basis: BasisDirectives}
	restrict := func(name string) {
		if !slices.Contains(v.Reasons, name) {
			v.Reasons = append(v.Reasons, name)
		}
	}
	for _, d := range cc.Directives {
		if d.Malformed {
			v.Unrecognized = append(v.Unrecognized, d.Name)
			continue
		}
		switch d.Name {
		// §  5.2.2.7.  private
		// §  5.2.2.5.  no-store
		// §  5.2.2.2.  must-revalidate
		// §  5.2.2.8.  proxy-revalidate
		case "private", "no-store", "must-revalidate", "proxy-revalidate":
			restrict(d.Name)
		// §  5.2.2.4.  no-cache
		// §
		// §     The qualified form of the no-cache response directive, with an
		// §     argument that lists one or more field names, indicates that a cache
		// §     MAY use the response to satisfy a subsequent request, subject to any
		// §     other restrictions on caching, if the listed header fields are
		// §     excluded from the subsequent response or the subsequent response has
		// §     been successfully revalidated with the origin server.
		case "no-cache":
			// an empty field list names nothing to exclude
			if d.HasValue && strings.Trim(d.Value, " \t") != "" {
				v.Unrecognized = append(v.Unrecognized, d.Name)
			} else {
				restrict(d.Name)
			}
		case "max-age":
			n, ok := DeltaSeconds(d.Value)
			switch {
			case !ok:
				v.Unrecognized = append(v.Unrecognized, d.Name)
			case !v.HasMaxAge:
				v.MaxAgeSeconds, v.HasMaxAge = n, true
				if n == 0 {
					restrict(d.Name)
				}
			}
		default:
			if !knownDirective(d.Name) {
				v.Unrecognized = append(v.Unrecognized, d.Name)
			}
		}
	}
	v.Cacheable = len(v.Reasons) == 0 && (e.DefaultCacheable || v.HasMaxAge || cc.Has("public"))
	return v
}

// EvaluateHeader parses and evaluates the Cache-Control fields of h.
func (e Evaluator) EvaluateHeader(h Fields) (Verdict, error) {
	cc, err := ParseCacheControl(h.Values("Cache-Control"))
	return e.Evaluate(cc), err
}

// EvaluateString parses and evaluates a single Cache-Control field value.
func (e Evaluator) EvaluateString(value string) (Verdict, error) {
	cc, err := ParseCacheControl([]string{value})
	return e.Evaluate(cc), err
}

// §  5.2.2.  Response Directives
func knownDirective(name string) bool {
	switch name {
	case "max-age", "must-revalidate", "must-understand", "no-cache", "no-store",
		"no-transform", "private", "proxy-revalidate", "public", "s-maxage",
		// RFC 5861 and RFC 8246
		"stale-while-revalidate", "stale-if-error", "immutable":
		return true
	}
	return false
}

// MayStore reports whether a response to a request with method may be stored, given its
// status code, fields and verdict.
//
// §     *  the request method is understood by the cache;
// §
// §     *  the response status code is final (see Section 15 of [HTTP]);
// §
// §     *  if the response status code is 206 or 304, or the must-understand
// §        cache directive (see Section 5.2.2.3) is present: the cache
// §        understands the response status code;
// §
// §     *  the response contains at least one of the following:
// §
// §        -  a public response directive (see Section 5.2.2.9);
// §
// §        -  an Expires header field (see Section 5.3);
// §
// §        -  a max-age response directive (see Section 5.2.2.1);
// §
// §        -  a status code that is defined as heuristically cacheable (see
// §           Section 4.2.2).
func MayStore(method string, status int, h Fields, v Verdict) bool {
	return requestMethodIsUnderstood(method) &&
		responseStatusCodeIsFinal(status) &&
		(status != 206 && status != 304 || responseStatusCodeIsUnderstood(status)) &&
		v.Cacheable &&
		(explicitlyCacheable(h) || v.HasMaxAge || HeuristicallyCacheable(status))
}

// explicitlyCacheable reports whether h carries public or an Expires field. An invalid
// Expires still counts; it makes the response stale on arrival.
func explicitlyCacheable(h Fields) bool {
	if len(h.Values("Expires")) > 0 {
		return true
	}
	cc, _ := ParseCacheControl(h.Values("Cache-Control"))
	return cc.Has("public")
}

// Only GET responses are stored.
func requestMethodIsUnderstood(method string) bool {
	return strings.EqualFold(method, "GET")
}

func responseStatusCodeIsUnderstood(statusCode int) bool {
	switch statusCode {
	case 200:
		return true
	}
	return false
}

func responseStatusCodeIsFinal(statusCode int) bool {
	return statusCode >= 200 && statusCode <= 599
}
