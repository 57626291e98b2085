package rfc9111

// §  4.4.  Invalidating Stored Responses
// §
// §     A cache MUST invalidate the target URI (Section 7.1 of [HTTP]) when
// §     it receives a non-error status code in response to an unsafe request
// §     method (including methods whose safety is unknown).
// §
// §     A "non-error response" is one with a 2xx (Successful) or 3xx
// §     (Redirection) status code.
func Invalidates(method string, status int) bool {
	return UnsafeMethod(method) && status >= 200 && status < 400
}

// UnsafeMethod reports whether method is not known to be safe.
//
// §  9.2.1.  Safe Methods (RFC 9110)
// §
// §     Of the request methods defined by this specification, the GET, HEAD,
// §     OPTIONS, and TRACE methods are defined to be safe.
func UnsafeMethod(method string) bool {
	switch method {
	case "GET", "HEAD", "OPTIONS", "TRACE":
		return false
	}
	return true
}
