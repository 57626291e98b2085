package responsetransformer

import (
	"testing"

	"github.com/always-cache/respcache/rfc9112"
)

func TestRuleFinder(t *testing.T) {
	rules := Rules{
		Rule{Prefix: "/wp-", Override: "no-cache"},
		Rule{Host: "*.example.com", Path: "/static/**", Override: "max-age=3600"},
		Rule{Path: "/search", Query: map[string]string{"q": "", "page": "1"}, Override: "max-age=60"},
		Rule{Override: "default"},
	}

	if rule := rules.find("example.com", "/"); rule == nil || rule.Override != "default" {
		t.Fatal("Incorrect rule")
	}
	if rule := rules.find("example.com", "/wp-admin"); rule == nil || rule.Override != "no-cache" {
		t.Fatal("Incorrect rule")
	}
	if rule := rules.find("cdn.example.com", "/static/css/site.css?v=2"); rule == nil || rule.Override != "max-age=3600" {
		t.Fatal("Incorrect rule")
	}
	if rule := rules.find("example.com", "/static/css/site.css"); rule == nil || rule.Override != "default" {
		t.Fatal("Incorrect rule")
	}
	if rule := rules.find("example.com", "/search?q=go&page=1"); rule == nil || rule.Override != "max-age=60" {
		t.Fatal("Incorrect rule")
	}
	if rule := rules.find("example.com", "/search?q=go&page=2"); rule == nil || rule.Override != "default" {
		t.Fatal("Incorrect rule")
	}
}

func TestApply(t *testing.T) {
	h := rfc9112.Header{{Name: "Content-Length", Value: "0"}}
	ruleDefault := Rule{Default: "default"}
	ruleOverride := Rule{Override: "override", Headers: map[string]string{"X-Rule": "1"}}

	// try to apply default
	h = applyRule(ruleDefault, h)
	if cc := h.Get("Cache-Control"); cc != "default" {
		t.Fatalf("Cache-Control header wrong, is '%s'", cc)
	}

	// change cc and check default is not set
	h = h.Without("Cache-Control").With("Cache-Control", "no-cache")
	h = applyRule(ruleDefault, h)
	if cc := h.Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("Cache-Control header wrong, is '%s'", cc)
	}

	// check that override works
	h = applyRule(ruleOverride, h)
	if cc := h.Values("Cache-Control"); len(cc) != 1 || cc[0] != "override" {
		t.Fatalf("Cache-Control header wrong, is '%v'", cc)
	}
	if h.Get("X-Rule") != "1" || h.Get("Content-Length") != "0" {
		t.Fatalf("Header wrong: %v", h)
	}
}

func TestApplyHeadersInNameOrder(t *testing.T) {
	rule := Rule{Headers: map[string]string{
		"X-b": "lower", "X-B": "upper", "Vary": "Accept", "X-A": "1",
	}}
	want := rfc9112.Header{
		{Name: "Content-Length", Value: "0"},
		{Name: "Vary", Value: "Accept"},
		{Name: "X-A", Value: "1"},
		{Name: "X-b", Value: "lower"},
	}
	for i := 0; i < 20; i++ {
		h := applyRule(rule, rfc9112.Header{{Name: "Content-Length", Value: "0"}})
		if len(h) != len(want) {
			t.Fatalf("Header wrong: %v", h)
		}
		for j := range want {
			if h[j] != want[j] {
				t.Fatalf("Header wrong: %v", h)
			}
		}
	}
}

func TestApplyOnlyToSuccessfulGets(t *testing.T) {
	rules := Rules{Rule{Override: "max-age=60"}}
	h := rfc9112.Header{{Name: "Cache-Control", Value: "no-store"}}

	if got := rules.Apply("POST", "example.com", "/", 200, h); got.Get("Cache-Control") != "no-store" {
		t.Fatal("Rule applied to POST")
	}
	if got := rules.Apply("GET", "example.com", "/", 404, h); got.Get("Cache-Control") != "no-store" {
		t.Fatal("Rule applied to 404")
	}
	if got := rules.Apply("GET", "example.com", "/", 200, h); got.Get("Cache-Control") != "max-age=60" {
		t.Fatal("Rule not applied")
	}
	if h.Get("Cache-Control") != "no-store" {
		t.Fatal("Input header modified")
	}
}

func TestValidate(t *testing.T) {
	if err := (Rules{{Path: "/static/**"}, {Host: "*.example.com"}}).Validate(); err != nil {
		t.Fatal(err)
	}
	if err := (Rules{{Path: "/static/[a"}}).Validate(); err == nil {
		t.Fatal("Invalid pattern accepted")
	}
}
