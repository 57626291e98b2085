// Package responsetransformer rewrites the Cache-Control of origin responses before the
// proxy decides whether to store them.
package responsetransformer

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/respcache/rfc9112"
)

type Rules []Rule

// Rule matches GET requests and sets response fields. Empty matchers match anything.
type Rule struct {
	// Host is a doublestar pattern matched against the request host.
	Host string `yaml:"host"`
	// Path is a doublestar pattern matched against the path, without the query.
	Path   string `yaml:"path"`
	Prefix string `yaml:"prefix"`
	// Query lists parameters that must be present, with the given value if not empty.
	Query map[string]string `yaml:"query"`
	// Default is the Cache-Control of responses without one.
	Default string `yaml:"default"`
	// Override replaces the Cache-Control of every matched response.
	Override string            `yaml:"override"`
	Headers  map[string]string `yaml:"headers"`
}

// Validate checks the patterns of every rule.
func (r Rules) Validate() error {
	for i, rule := range r {
		for _, pattern := range []string{rule.Host, rule.Path} {
			if pattern != "" && !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("rule %d: invalid pattern %q", i, pattern)
			}
		}
	}
	return nil
}

// Apply returns h rewritten by the first rule matching the request, or h itself if none
// matches. Only successful responses to GET are touched.
func (r Rules) Apply(method, host, target string, status int, h rfc9112.Header) rfc9112.Header {
	if len(r) == 0 || method != "GET" || status != 200 {
		return h
	}
	if rule := r.find(host, target); rule != nil {
		return applyRule(*rule, h)
	}
	return h
}

func applyRule(rule Rule, h rfc9112.Header) rfc9112.Header {
	if rule.Override != "" {
		log.Trace().Msg("Overriding Cache-Control header")
		h = h.Without("Cache-Control").With("Cache-Control", rule.Override)
	} else if rule.Default != "" && !h.Has("Cache-Control") {
		log.Trace().Msg("Applying default Cache-Control header")
		h = h.With("Cache-Control", rule.Default)
	}
	// sorted so that names differing only in case resolve the same way every time
	for _, name := range slices.Sorted(maps.Keys(rule.Headers)) {
		log.Trace().Msgf("Setting header %s", name)
		h = h.Without(name).With(name, rule.Headers[name])
	}
	return h
}

func (r Rules) find(host, target string) *Rule {
	path, rawQuery, _ := strings.Cut(target, "?")
	log.Trace().Msgf("Finding rule for %s%s", host, path)
rulesLoop:
	for i := range r {
		rule := &r[i]
		if rule.Host != "" {
			if ok, _ := doublestar.Match(rule.Host, host); !ok {
				continue
			}
		}
		if rule.Path != "" {
			if ok, _ := doublestar.Match(rule.Path, path); !ok {
				continue
			}
		}
		if rule.Prefix != "" && !strings.HasPrefix(path, rule.Prefix) {
			continue
		}
		if len(rule.Query) > 0 {
			qry, err := url.ParseQuery(rawQuery)
			if err != nil {
				continue
			}
			for name, value := range rule.Query {
				if value == "" && !qry.Has(name) {
					continue rulesLoop
				} else if value != "" && qry.Get(name) != value {
					continue rulesLoop
				}
			}
		}
		return rule
	}
	return nil
}
