package rfc9112

import (
	"context"
	"fmt"
)

// Version is an HTTP-version such as HTTP/1.1.
type Version struct {
	Major int
	Minor int
}

func (v Version) String() string {
	return fmt.Sprintf("HTTP/%d.%d", v.Major, v.Minor)
}

// §  2.3. HTTP Version
// §
// §    HTTP-version  = HTTP-name "/" DIGIT "." DIGIT
// §    HTTP-name     = %s"HTTP"
func parseVersion(s string) (Version, bool) {
	if len(s) != 8 || s[:5] != "HTTP/" || !isDigit(s[5]) || s[6] != '.' || !isDigit(s[7]) {
		return Version{}, false
	}
	return Version{Major: int(s[5] - '0'), Minor: int(s[7] - '0')}, true
}

// StatusLine is the first line of a response.
type StatusLine struct {
	Version Version
	Code    int
	Reason  string
}

func (s StatusLine) String() string {
	return fmt.Sprintf("%s %03d %s", s.Version, s.Code, s.Reason)
}

// §  4. Status Line
// §
// §    status-line = HTTP-version SP status-code SP [ reason-phrase ]
// §
// §    status-code    = 3DIGIT
// §    reason-phrase  = 1*( HTAB / SP / VCHAR / obs-text )
//
// ParseStatusLine parses a status line without its terminator. Both separating spaces are
// required; the reason phrase may be empty.
func ParseStatusLine(line string) (StatusLine, error) {
	malformed := &Error{Kind: ErrMalformedStatusLine, Line: line}
	if len(line) < len("HTTP/1.1 200 ") {
		return StatusLine{}, malformed
	}
	version, ok := parseVersion(line[:8])
	if !ok || line[8] != ' ' || line[12] != ' ' {
		return StatusLine{}, malformed
	}
	code := 0
	for i := 9; i < 12; i++ {
		if !isDigit(line[i]) {
			return StatusLine{}, malformed
		}
		code = code*10 + int(line[i]-'0')
	}
	reason := line[13:]
	for i := 0; i < len(reason); i++ {
		if c := reason[i]; c != '\t' && (c < 0x20 || c == 0x7f) {
			return StatusLine{}, malformed
		}
	}
	return StatusLine{Version: version, Code: code, Reason: reason}, nil
}

// ReadStatusLine reads and parses the first line of a response. An empty line where the
// status line should be is malformed.
func (r *Reader) ReadStatusLine(ctx context.Context) (StatusLine, error) {
	defer r.watch(ctx)()
	line, err := r.readLine(ctx, ErrMalformedStatusLine)
	if err != nil {
		return StatusLine{}, err
	}
	return ParseStatusLine(line)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
