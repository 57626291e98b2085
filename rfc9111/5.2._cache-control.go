package rfc9111

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// ErrMalformedDirectiveValue is reported when a quoted directive value is unterminated,
// ends in a dangling backslash or is followed by something other than a comma.
var ErrMalformedDirectiveValue = errors.New("rfc9111: malformed directive value")

// DirectiveError describes one malformed directive.
type DirectiveError struct {
	// Name is the lowercased directive name.
	Name string
	// Remainder is the rest of the field value, starting at the directive's value.
	Remainder string
	// Offset is the byte offset of Remainder within the field value.
	Offset int
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("%s: %s=%q at offset %d", ErrMalformedDirectiveValue, e.Name, e.Remainder, e.Offset)
}

func (e *DirectiveError) Unwrap() error {
	return ErrMalformedDirectiveValue
}

// Directive is one cache directive.
type Directive struct {
	// Name is the directive name, lowercased.
	Name string
	// Value is the argument: a token, or the unescaped content of a quoted string.
	// For a malformed directive it is the rest of the field value, verbatim.
	Value string
	// HasValue distinguishes `name=""` from `name`.
	HasValue bool
	// Malformed marks a directive whose value could not be parsed.
	Malformed bool
}

func (d Directive) String() string {
	if !d.HasValue {
		return d.Name
	}
	if d.Malformed || isToken(d.Value) {
		return d.Name + "=" + d.Value
	}
	return d.Name + "=" + quoteString(d.Value)
}

// CacheControl holds the directives of all Cache-Control field lines of a message.
//
// §  5.2. Cache-Control
// §
// §  The "Cache-Control" header field is used to list directives for caches along
// §  the request/response chain. Cache directives are unidirectional, in that the
// §  presence of a directive in a request does not imply that the same directive is
// §  present or copied in the response.
// §
// §  [...] Cache directives are identified by a token, to
// §  be compared case-insensitively, and have an optional argument that can use both
// §  token and quoted-string syntax.
// §
// §    Cache-Control   = #cache-directive
// §
// §    cache-directive = token [ "=" ( token / quoted-string ) ]
type CacheControl struct {
	// Directives in the order received, duplicates included.
	Directives []Directive
	present    bool
}

// Present reports whether the message had at least one Cache-Control field line, even
// an empty one.
func (c CacheControl) Present() bool {
	return c.present
}

// Get returns the first directive named name.
func (c CacheControl) Get(name string) (Directive, bool) {
	for _, d := range c.Directives {
		if d.Name == name {
			return d, true
		}
	}
	return Directive{}, false
}

// Has reports whether a directive named name is present.
func (c CacheControl) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// String serializes the directives as a single field value.
func (c CacheControl) String() string {
	parts := make([]string, len(c.Directives))
	for i, d := range c.Directives {
		parts[i] = d.String()
	}
	return strings.Join(parts, ", ")
}

// MaxAge returns the first valid max-age argument in seconds.
//
// §  5.2.2.1. max-age
// §
// §  Argument syntax:
// §
// §      delta-seconds (see Section 1.2.2)
// §
// §  The max-age response directive indicates that the response is to be considered
// §  stale after its age is greater than the specified number of seconds.
func (c CacheControl) MaxAge() (int64, bool) {
	return c.deltaSeconds("max-age")
}

// SMaxAge returns the first valid s-maxage argument in seconds.
//
// §  5.2.2.10.  s-maxage
// §
// §     The s-maxage response directive indicates that, for a shared cache,
// §     the maximum age specified by this directive overrides the maximum age
// §     specified by either the max-age directive or the Expires header
// §     field.
func (c CacheControl) SMaxAge() (int64, bool) {
	return c.deltaSeconds("s-maxage")
}

func (c CacheControl) deltaSeconds(name string) (int64, bool) {
	for _, d := range c.Directives {
		if d.Name != name || d.Malformed || !d.HasValue {
			continue
		}
		if n, ok := DeltaSeconds(d.Value); ok {
			return n, true
		}
	}
	return 0, false
}

// scanner states for a directive value
type state int

const (
	stateBare state = iota
	stateInQuotes
	stateEscaped
)

// ParseCacheControl parses the values of all Cache-Control field lines. It never fails:
// the returned CacheControl is always usable. A malformed quoted value ends parsing of its
// field value; the offending directive keeps the remainder verbatim and the error, which
// wraps ErrMalformedDirectiveValue, says where it happened.
//
// Whitespace around names, values, "=" and commas is ignored, empty list members are
// dropped and names are lowercased as a whole.
func ParseCacheControl(values []string) (CacheControl, error) {
	cc := CacheControl{present: len(values) > 0}
	var errs []error
	for _, value := range values {
		directives, err := parseFieldValue(value)
		cc.Directives = append(cc.Directives, directives...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return cc, errors.Join(errs...)
}

func parseFieldValue(s string) ([]Directive, error) {
	var directives []Directive
	i := 0
	for {
		i = skip(s, i, " \t,")
		if i == len(s) {
			return directives, nil
		}
		start := i
		for i < len(s) && s[i] != ',' && s[i] != '=' {
			i++
		}
		d := Directive{Name: strings.ToLower(strings.Trim(s[start:i], " \t"))}
		if i == len(s) || s[i] == ',' {
			directives = append(directives, d)
			continue
		}
		// s[i] == '='
		i = skip(s, i+1, " \t")
		d.HasValue = true
		var err error
		d.Value, i, err = scanValue(s, i)
		if err != nil {
			d.Value = s[i:]
			d.Malformed = true
			if d.Name != "" {
				directives = append(directives, d)
			}
			return directives, &DirectiveError{Name: d.Name, Remainder: d.Value, Offset: i}
		}
		// a member without a name is dropped along with its value
		if d.Name != "" {
			directives = append(directives, d)
		}
	}
}

// scanValue reads a token or quoted-string starting at i. It returns the value and the
// index of the comma ending it (or len(s)). On error the returned index is where the
// value started.
func scanValue(s string, i int) (string, int, error) {
	start := i
	if i == len(s) || s[i] != '"' {
		for i < len(s) && s[i] != ',' {
			i++
		}
		return strings.TrimRight(s[start:i], " \t"), i, nil
	}
	var sb strings.Builder
	st := stateInQuotes
	for i++; i < len(s); i++ {
		c := s[i]
		switch st {
		case stateInQuotes:
			switch c {
			case '\\':
				st = stateEscaped
			case '"':
				st = stateBare
			default:
				sb.WriteByte(c)
			}
		case stateEscaped:
			sb.WriteByte(c)
			st = stateInQuotes
		}
		if st == stateBare {
			break
		}
	}
	if st != stateBare {
		return "", start, ErrMalformedDirectiveValue
	}
	// only OWS may follow the closing quote
	end := skip(s, i+1, " \t")
	if end < len(s) && s[end] != ',' {
		return "", start, ErrMalformedDirectiveValue
	}
	return sb.String(), end, nil
}

func skip(s string, i int, cutset string) int {
	for i < len(s) && strings.IndexByte(cutset, s[i]) >= 0 {
		i++
	}
	return i
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !httpguts.IsTokenRune(r) {
			return false
		}
	}
	return true
}

// quoteString writes s as a quoted-string, escaping backslashes and quotes.
func quoteString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('"')
	return sb.String()
}
