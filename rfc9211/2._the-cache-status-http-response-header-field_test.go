package rfc9211

import "testing"

func TestHit(t *testing.T) {
	cs := CacheStatus{Cache: "respcache"}
	cs.Hit()
	cs.TTL(5)
	if s := cs.String(); s != "respcache; hit; ttl=5" {
		t.Fatalf("Cache status is %s", s)
	}
}

func TestForward(t *testing.T) {
	cs := CacheStatus{Cache: "respcache", FwdStatus: 304, Stored: true}
	cs.Forward(FwdReasonStale)
	cs.Detail("not modified")
	want := `respcache; fwd=stale; fwd-status=304; stored; detail="not modified"`
	if s := cs.String(); s != want {
		t.Fatalf("Cache status is %s, want %s", s, want)
	}
}

func TestForwardClearsHit(t *testing.T) {
	cs := CacheStatus{Cache: "respcache"}
	cs.Hit()
	cs.Forward(FwdReasonBypass)
	if cs.IsHit() || cs.Fwd() != FwdReasonBypass {
		t.Fatalf("Cache status is %s", cs)
	}
}

func TestQuotedIdentifier(t *testing.T) {
	cs := CacheStatus{Cache: "my cache"}
	cs.Forward(FwdReasonUriMiss)
	if s := cs.String(); s != `"my cache"; fwd=uri-miss` {
		t.Fatalf("Cache status is %s", s)
	}
}

func TestParseRoundTrip(t *testing.T) {
	cs := CacheStatus{Cache: "respcache", FwdStatus: 200, Stored: true, Key: `GET "/"`}
	cs.Forward(FwdReasonUriMiss)
	cs.TTL(-3)
	parsed, err := Parse("Upstream; hit, " + cs.String())
	if err != nil {
		t.Fatalf("Error parsing: %+v", err)
	}
	if parsed != cs {
		t.Fatalf("Parsed %+v, want %+v", parsed, cs)
	}
}

func TestParseErrors(t *testing.T) {
	for _, v := range []string{"", "respcache; ttl=soon", "respcache; fwd-status=x"} {
		if _, err := Parse(v); err == nil {
			t.Fatalf("Expected error for %q", v)
		}
	}
}
