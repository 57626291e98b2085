package rfc9111

import "time"

// Timing holds the clock readings a cache takes around one exchange with the origin.
type Timing struct {
	// RequestTime is when the request that resulted in the stored response was sent.
	RequestTime time.Time
	// ResponseTime is when the response was received.
	ResponseTime time.Time
}

// §  4.2.3.  Calculating Age
// §
// §     Age calculation uses the following data:
// §
// §     "age_value"
// §        The term "age_value" denotes the value of the Age header field
// §        (Section 5.1), in a form appropriate for arithmetic operation; or
// §        0, if not available.
func age_value(h Fields) time.Duration {
	if age, present := AgeValue(h); present {
		return age
	}
	return 0
}

// §       response_delay = response_time - request_time;
func response_delay(t Timing) time.Duration {
	return durationMax(0, t.ResponseTime.Sub(t.RequestTime))
}

// §       corrected_age_value = age_value + response_delay;
func corrected_age_value(h Fields, t Timing) time.Duration {
	return age_value(h) + response_delay(t)
}

// §     The corrected_age_value MAY be used as the corrected_initial_age.
//
// apparent_age is left out: it trusts the origin's Date, which for replayed or canned
// responses can lie arbitrarily far in the past.
func corrected_initial_age(h Fields, t Timing) time.Duration {
	return corrected_age_value(h, t)
}

// §       resident_time = now - response_time;
func resident_time(t Timing, now time.Time) time.Duration {
	return durationMax(0, now.Sub(t.ResponseTime))
}

// CurrentAge returns the age of a response with header h, received with timing t, at now.
//
// §       current_age = corrected_initial_age + resident_time;
func CurrentAge(h Fields, t Timing, now time.Time) time.Duration {
	return corrected_initial_age(h, t) + resident_time(t, now)
}

func durationMax(d1, d2 time.Duration) time.Duration {
	if d1 > d2 {
		return d1
	}
	return d2
}
