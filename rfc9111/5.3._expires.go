package rfc9111

import "time"

// §  5.3.  Expires
// §
// §     The "Expires" response header field gives the date/time after which
// §     the response is considered stale.
// §
// §       Expires = HTTP-date
// §
// §     A cache recipient MUST interpret invalid date formats, especially the
// §     value "0", as representing a time in the past (i.e., "already
// §     expired").
//
// Expires returns the Expires time of a response and whether the field was present. An
// invalid value yields the zero time, which lies in the past.
func Expires(h Fields) (time.Time, bool) {
	values := h.Values("Expires")
	if len(values) == 0 {
		return time.Time{}, false
	}
	exp, err := HttpDate(values[0])
	if err != nil {
		return time.Time{}, true
	}
	return exp, true
}
