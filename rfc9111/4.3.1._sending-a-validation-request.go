package rfc9111

// Validators are the precondition fields of a validation request.
type Validators struct {
	IfNoneMatch     string
	IfModifiedSince string
}

// Empty reports whether the stored response offered nothing to validate with.
func (v Validators) Empty() bool {
	return v.IfNoneMatch == "" && v.IfModifiedSince == ""
}

// ValidatorsFor returns the preconditions for revalidating a stored response with header
// stored. Without a Last-Modified field the stored Date is used, which origins compare
// the same way.
//
// §  4.3.1.  Sending a Validation Request
// §
// §     When generating a conditional request for validation, a cache:
// §
// §     *  MUST send the relevant entity tags (using If-Match, If-None-Match,
// §        or If-Range) if the entity tags were provided in the stored
// §        response(s) being validated.
// §
// §     *  SHOULD send the Last-Modified value (using If-Modified-Since) if
// §        the request is not for a subrange, a single stored response is
// §        being validated, and that response contains a Last-Modified value.
func ValidatorsFor(stored Fields) Validators {
	v := Validators{
		IfNoneMatch:     first(stored, "ETag"),
		IfModifiedSince: first(stored, "Last-Modified"),
	}
	if v.IfModifiedSince == "" {
		v.IfModifiedSince = first(stored, "Date")
	}
	return v
}
