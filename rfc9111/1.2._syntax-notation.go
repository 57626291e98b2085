package rfc9111

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// §  1.2.1.  Imported Rules
// §
// §     [HTTP] defines the following rules:
// §
// §       HTTP-date     = <HTTP-date, see [HTTP], Section 5.6.7>
// §       OWS           = <OWS, see [HTTP], Section 5.6.3>
// §       field-name    = <field-name, see [HTTP], Section 5.1>
// §       quoted-string = <quoted-string, see [HTTP], Section 5.6.4>
// §       token         = <token, see [HTTP], Section 5.6.2>

// §  1.2.2. Delta Seconds
// §
// §  The delta-seconds rule specifies a non-negative integer, representing time
// §  in seconds.
// §
// §      delta-seconds  = 1*DIGIT
// §
// §  If a cache receives a delta-seconds value greater than the greatest
// §  integer it can represent, or if any of its subsequent calculations overflows,
// §  the cache MUST consider the value to be 2147483648 (2^31) or the greatest
// §  positive integer it can conveniently represent.
const MaxDeltaSeconds = 2147483648

// DeltaSeconds parses delta-seconds. Anything but digits is invalid; values above
// MaxDeltaSeconds, including ones that overflow, are clamped.
func DeltaSeconds(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n > MaxDeltaSeconds {
		return MaxDeltaSeconds, true
	}
	return n, true
}

// FormatDeltaSeconds formats d as whole seconds, never negative.
func FormatDeltaSeconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatInt(int64(d/time.Second), 10)
}

// This section is from the HTTP specification (RFC9110), not the cache specification
//
// §  5.6.7.  Date/Time Formats
// §
// §     HTTP-date    = IMF-fixdate / obs-date
// §
// §     Recipients of timestamp values are encouraged to be robust in parsing
// §     timestamps unless otherwise restricted by the field definition.
// §
// §     A recipient that parses a timestamp value in an HTTP field MUST
// §     accept all three HTTP-date formats.
func HttpDate(dateStr string) (time.Time, error) {
	if date, err := imfDate(dateStr); err == nil {
		return date, err
	} else {
		// try to parse as obsolete date
		if date, err := obsDate(dateStr); err == nil {
			return date, err
		}
		// return original error if unsuccessful
		return date, err
	}
}

// FormatHttpDate formats t as an IMF-fixdate.
func FormatHttpDate(t time.Time) string {
	return t.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
}

// §     IMF-fixdate  = day-name "," SP date1 SP time-of-day SP GMT
const imfDateLayout = "Mon, 02 Jan 2006 15:04:05 MST"

func imfDate(dateStr string) (time.Time, error) {
	str := normalizeDateStr(dateStr)
	date, err := time.Parse(imfDateLayout, str)
	if err != nil {
		return date, err
	}
	if _, offset := date.Zone(); offset != 0 || !strings.HasSuffix(str, " GMT") {
		return date, fmt.Errorf("Date %s is not in GMT time, but %s", date, date.Location())
	}
	return date.UTC(), err
}

// §     obs-date     = rfc850-date / asctime-date
func obsDate(dateStr string) (time.Time, error) {
	str := normalizeDateStr(dateStr)
	if date, err := time.Parse(time.RFC850, str); err == nil {
		return date.UTC(), err
	}
	date, err := time.Parse(time.ANSIC, str)
	return date.UTC(), err
}

// Day and month names are matched case-insensitively by time.Parse, zone names are not.
func normalizeDateStr(dateStr string) string {
	return strings.ToUpper(strings.TrimSpace(dateStr))
}
