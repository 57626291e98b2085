package rfc9111

import (
	"strings"

	"github.com/always-cache/respcache/rfc9112"
)

// §  3.2.  Updating Stored Header Fields
// §
// §     When doing so, the cache MUST add each header field in the provided
// §     response to the stored response, replacing field values that are
// §     already present, with the following exceptions:
// §
// §     *  Header fields excepted from storage in Section 3.1,
// §
// §     *  Header fields that the cache's stored response depends upon, as
// §        described below,
// §
// §     *  Header fields that are automatically processed and removed by the
// §        recipient, as described below, and
// §
// §     *  The Content-Length header field.
//
// UpdateStoredHeader returns stored with the fields of update applied. The stored body
// is kept as is, so the fields describing its framing are never replaced.
func UpdateStoredHeader(stored, update rfc9112.Header) rfc9112.Header {
	out := stored.Clone()
	replaced := make(map[string]bool)
	for _, f := range StorableHeader(update) {
		name := strings.ToLower(f.Name)
		switch name {
		case "content-length", "transfer-encoding", "content-range":
			continue
		}
		if !replaced[name] {
			out = out.Without(f.Name)
			replaced[name] = true
		}
		out = append(out, f)
	}
	return out
}
