package rfc9111

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/respcache/pkg/fixture"
)

func parse(t *testing.T, value string) CacheControl {
	t.Helper()
	cc, err := ParseCacheControl([]string{value})
	require.NoError(t, err)
	return cc
}

func names(cc CacheControl) []string {
	var out []string
	for _, d := range cc.Directives {
		out = append(out, d.Name)
	}
	return out
}

func TestMaxAge(t *testing.T) {
	cc := parse(t, "max-age=60")
	d, ok := cc.Get("max-age")
	require.True(t, ok, "Could not get directive")
	assert.Equal(t, "60", d.Value)
	n, ok := cc.MaxAge()
	assert.True(t, ok)
	assert.Equal(t, int64(60), n)
}

func TestReal(t *testing.T) {
	cc := parse(t, "public, max-age=0, s-maxage=600")
	assert.Equal(t, []Directive{
		{Name: "public"},
		{Name: "max-age", Value: "0", HasValue: true},
		{Name: "s-maxage", Value: "600", HasValue: true},
	}, cc.Directives)
	n, ok := cc.SMaxAge()
	assert.True(t, ok)
	assert.Equal(t, int64(600), n)
}

func TestWhitespaceAndEmptyMembers(t *testing.T) {
	cc := parse(t, ",, \t private ,\tmax-age = 5 ,,  ,no-transform,")
	assert.Equal(t, []Directive{
		{Name: "private"},
		{Name: "max-age", Value: "5", HasValue: true},
		{Name: "no-transform"},
	}, cc.Directives)
}

func TestNamelessMembersDropped(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{", =5, private", []string{"private"}},
		{"=5", nil},
		{` = "a, b" ,max-age=5`, []string{"max-age"}},
		{"public,=,no-store", []string{"public", "no-store"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, names(parse(t, tt.in)), tt.in)
	}

	cc, err := ParseCacheControl([]string{`private, ="open`})
	require.ErrorIs(t, err, ErrMalformedDirectiveValue)
	assert.Equal(t, []string{"private"}, names(cc))
}

func TestQuotedStrings(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`hello="abc\"efg"`, `abc"efg`},
		{`hello="abc\\efg"`, `abc\efg`},
		{`hello="abc\=efg"`, `abc=efg`},
		{`hello="a, b, c"`, `a, b, c`},
		{`hello=""`, ``},
		{"hello=\t\"hello world abcdefg\" ", "hello world abcdefg"},
	}
	for _, tt := range tests {
		cc := parse(t, tt.in)
		require.Len(t, cc.Directives, 1, tt.in)
		assert.Equal(t, Directive{Name: "hello", Value: tt.want, HasValue: true}, cc.Directives[0], tt.in)
	}
}

func TestCommaInsideQuotesDoesNotSplit(t *testing.T) {
	cc := parse(t, `no-cache="set-cookie, x-a", private`)
	assert.Equal(t, []string{"no-cache", "private"}, names(cc))
	d, _ := cc.Get("no-cache")
	assert.Equal(t, "set-cookie, x-a", d.Value)
}

func TestMalformedQuotedValue(t *testing.T) {
	for _, in := range []string{
		`private, hello="abc, max-age=5`,
		`private, hello="abc\`,
		`private, hello="abc"def, max-age=5`,
	} {
		cc, err := ParseCacheControl([]string{in})
		require.ErrorIs(t, err, ErrMalformedDirectiveValue, in)
		var de *DirectiveError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "hello", de.Name)
		assert.Equal(t, in[de.Offset:], de.Remainder)

		// directives before the bad one survive, parsing of the value stops
		require.Len(t, cc.Directives, 2, in)
		assert.Equal(t, "private", cc.Directives[0].Name)
		assert.Equal(t, Directive{Name: "hello", Value: de.Remainder, HasValue: true, Malformed: true}, cc.Directives[1])
		assert.False(t, cc.Has("max-age"))
	}
}

func TestMalformedValueStopsOnlyItsFieldLine(t *testing.T) {
	cc, err := ParseCacheControl([]string{`a="unterminated`, "private"})
	assert.ErrorIs(t, err, ErrMalformedDirectiveValue)
	assert.Equal(t, []string{"a", "private"}, names(cc))
}

func TestDuplicatesKept(t *testing.T) {
	cc := parse(t, "max-age=0,max-age=99")
	assert.Equal(t, []string{"max-age", "max-age"}, names(cc))
	n, _ := cc.MaxAge()
	assert.Equal(t, int64(0), n)
}

func TestNamesLowercasedWhole(t *testing.T) {
	cc := parse(t, "PRIVATE\t,PRIvvATE, priva!TE ,FDSFSDg*FD12=x")
	assert.Equal(t, []string{"private", "privvate", "priva!te", "fdsfsdg*fd12"}, names(cc))
}

func TestEmptyHeader(t *testing.T) {
	cc := parse(t, "")
	assert.True(t, cc.Present())
	assert.Empty(t, cc.Directives)

	cc = parse(t, " \t, ,")
	assert.Empty(t, cc.Directives)

	cc, err := ParseCacheControl(nil)
	require.NoError(t, err)
	assert.False(t, cc.Present())
}

func TestSamplesParse(t *testing.T) {
	for _, sample := range fixture.CacheControlSamples {
		_, err := ParseCacheControl([]string{sample})
		assert.NoError(t, err, sample)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, in := range append([]string{
		"public, max-age=0, s-maxage=600",
		"a=b,c=d,e=f,private,g=d",
		`no-cache="set-cookie, x-a", max-age=5`,
		`hello="abc\"efg"`,
		"",
	}, fixture.CacheControlSamples...) {
		cc := parse(t, in)
		again := parse(t, cc.String())
		assert.Equal(t, cc.Directives, again.Directives, in)
		assert.Equal(t, cc.String(), again.String(), in)
	}
}

func TestRoundTripMalformed(t *testing.T) {
	cc, _ := ParseCacheControl([]string{`private, a="open`})
	assert.Equal(t, `private, a="open`, cc.String())
}
