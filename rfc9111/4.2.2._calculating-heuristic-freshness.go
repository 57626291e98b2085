package rfc9111

// HeuristicallyCacheable reports whether status is cacheable by default.
//
// §  4.2.2.  Calculating Heuristic Freshness
// §
// §     Because of the requirements in Section 3, heuristics can only be used on
// §     responses without explicit freshness whose status codes are defined
// §     as "heuristically cacheable" (e.g., see Section 15.1 of [HTTP])
//
// §  15.1.  Overview of Status Codes (RFC 9110)
// §
// §     Responses with status codes that are defined as heuristically
// §     cacheable (e.g., 200, 203, 204, 206, 300, 301, 308, 404, 405, 410,
// §     414, and 501 in this specification) can be reused by a cache with
// §     heuristic expiration unless otherwise indicated by the method
// §     definition or explicit cache controls
func HeuristicallyCacheable(status int) bool {
	switch status {
	case 200, 203, 204, 206, 300, 301, 308, 404, 405, 410, 414, 501:
		return true
	}
	return false
}
