// Package rfc9111 decides what a cache may do with a response.
//
// §  RFC 9111: HTTP Caching
// §
// §     The Hypertext Transfer Protocol (HTTP) is a stateless application-
// §     level request/response protocol that uses extensible semantics and
// §     self-descriptive messages for flexible interaction with network-based
// §     hypertext information systems.  This document defines HTTP caches and
// §     the associated header fields that control cache behavior or indicate
// §     cacheable response messages.
//
// The files of this package are named after the sections of the RFC they implement.
// Parsing never fails outright: malformed directives are reported alongside a usable
// result.
package rfc9111

// Fields is read access to the header fields of a message. Both rfc9112.Header and
// net/http.Header satisfy it.
type Fields interface {
	Values(name string) []string
}

// first returns the first value of the named field, or "".
func first(h Fields, name string) string {
	if values := h.Values(name); len(values) > 0 {
		return values[0]
	}
	return ""
}
