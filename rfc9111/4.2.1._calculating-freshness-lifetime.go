package rfc9111

import "time"

// FreshnessLifetime returns how long a response with header h stays fresh, and false if
// it carries no explicit expiration time. received stands in for a missing Date.
//
// §  4.2.1.  Calculating Freshness Lifetime
// §
// §     A cache can calculate the freshness lifetime (denoted as
// §     freshness_lifetime) of a response by evaluating the following rules
// §     and using the first match:
func FreshnessLifetime(h Fields, received time.Time) (time.Duration, bool) {
	// malformed directives leave the well-formed ones usable
	resCacheControl, _ := ParseCacheControl(h.Values("Cache-Control"))
	// §     *  If the cache is shared and the s-maxage response directive
	// §        (Section 5.2.2.10) is present, use its value, or
	if val, ok := resCacheControl.SMaxAge(); ok {
		return time.Duration(val) * time.Second, true
	}
	// §
	// §     *  If the max-age response directive (Section 5.2.2.1) is present,
	// §        use its value, or
	if val, ok := resCacheControl.MaxAge(); ok {
		return time.Duration(val) * time.Second, true
	}
	// §
	// §     *  If the Expires response header field (Section 5.3) is present, use
	// §        its value minus the value of the Date response header field (using
	// §        the time the message was received if it is not present, as per
	// §        Section 6.6.1 of [HTTP]), or
	if expires, ok := Expires(h); ok {
		date, err := HttpDate(first(h, "Date"))
		if err != nil {
			date = received
		}
		return durationMax(0, expires.Sub(date)), true
	}
	// §
	// §     *  Otherwise, no explicit expiration time is present in the response.
	// §        A heuristic freshness lifetime might be applicable; see
	// §        Section 4.2.2.
	return 0, false
}

// §     When there is more than one value present for a given directive
// §     (e.g., two Expires header field lines or multiple Cache-Control: max-
// §     age directives), either the first occurrence should be used or the
// §     response should be considered stale.
