package cachekey

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/always-cache/respcache/rfc9112"
)

// MaxKeyLength is the exclusive upper bound on key length. Requests with longer heads
// are not cached.
const MaxKeyLength = 2000

var (
	ErrorMethodNotSupported = fmt.Errorf("Method not supported")
	ErrorKeyTooLong         = fmt.Errorf("Request head too long to cache")
)

// Key returns the cache key for a request: its head in wire format.
// Only GET requests have keys.
func Key(req *rfc9112.Request) (string, error) {
	if req.Line.Method != "GET" {
		return "", ErrorMethodNotSupported
	}
	var b bytes.Buffer
	if err := req.WriteHead(&b); err != nil {
		return "", err
	}
	if b.Len() >= MaxKeyLength {
		return "", ErrorKeyTooLong
	}
	return b.String(), nil
}

// RequestFromKey parses a key back into the request head it was generated from.
func RequestFromKey(key string) (*rfc9112.Request, error) {
	req, err := rfc9112.NewReader(strings.NewReader(key)).ReadRequest(context.Background())
	if err != nil {
		return nil, fmt.Errorf("Malformed key: %w", err)
	}
	return req, nil
}

// Describe returns the host and target a key is for, for logging.
func Describe(key string) (host, target string) {
	req, err := RequestFromKey(key)
	if err != nil {
		return "", ""
	}
	return req.Host(), req.Line.Target
}
