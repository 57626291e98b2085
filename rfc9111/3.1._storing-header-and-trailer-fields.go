package rfc9111

import (
	"strings"

	"github.com/always-cache/respcache/rfc9112"
)

// §  3.1.  Storing Header and Trailer Fields
// §
// §     Caches MUST include all received response header fields -- including
// §     unrecognized ones -- when storing a response; this assures that new
// §     HTTP header fields can be successfully deployed.  However, the
// §     following exceptions are made:
// §
// §     *  The Connection header field and fields whose names are listed in
// §        it are required by Section 7.6.1 of [HTTP] to be removed before
// §        forwarding the message.  This MAY be implemented by doing so
// §        before storage.
// §
// §     *  Likewise, some fields' semantics require them to be removed
// §        before forwarding the message, and this MAY be implemented by
// §        doing so before storage; see Section 7.6.1 of [HTTP] for some
// §        examples.
//
// StorableHeader returns h without hop-by-hop fields. The same fields are removed from
// requests before they are forwarded. Transfer-Encoding stays: bodies are relayed
// undecoded, so their framing has to travel with them.
func StorableHeader(h rfc9112.Header) rfc9112.Header {
	out := h.Clone()
	for _, name := range GetListHeader(h, "Connection") {
		out = out.Without(name)
	}
	for _, name := range []string{"Connection", "Proxy-Connection", "Keep-Alive", "TE", "Upgrade"} {
		out = out.Without(name)
	}
	return out
}

// GetListHeader returns the members of all field lines named field.
func GetListHeader(h Fields, field string) []string {
	list := make([]string, 0)
	for _, hdr := range h.Values(field) {
		for _, item := range strings.Split(hdr, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
	}
	return list
}
