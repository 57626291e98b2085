package rfc9111

import (
	"strings"
	"time"
)

// §  5.1.  Age
// §
// §     The "Age" response header field conveys the sender's estimate of the
// §     time since the response was generated or successfully validated at
// §     the origin server.
// §
// §       Age = delta-seconds
// §
// §     Although it is defined as a singleton header field, a cache
// §     encountering a message with a list-based Age field value SHOULD use
// §     the first member of the field value, discarding subsequent ones.
// §
// §     If the field value (after discarding additional members, as per
// §     above) is invalid (e.g., it contains something other than a non-
// §     negative integer), a cache SHOULD ignore the field.
//
// AgeValue returns the Age of a response and whether a valid one was present.
func AgeValue(h Fields) (time.Duration, bool) {
	value := first(h, "Age")
	if value == "" {
		return 0, false
	}
	member, _, _ := strings.Cut(value, ",")
	seconds, ok := DeltaSeconds(strings.Trim(member, " \t"))
	if !ok {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
