// Package admin serves a small HTTP API for inspecting the proxy's cache.
package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/respcache/cache"
	"github.com/always-cache/respcache/rfc9111"
)

// maxEvaluateBody bounds the Cache-Control value accepted by POST /evaluate.
const maxEvaluateBody = 64 << 10

type Config struct {
	// Cache to inspect. The cache routes answer 404 if nil.
	Cache cache.Provider
	// Evaluator used by POST /evaluate.
	Evaluator rfc9111.Evaluator
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type api struct {
	cache     cache.Provider
	evaluator rfc9111.Evaluator
	now       func() time.Time
}

// NewRouter returns the admin routes:
//
//	GET    /healthz
//	GET    /cache              entries, most recently used first, without bodies
//	DELETE /cache              purge everything
//	DELETE /cache/{host}/*     purge the entries for one host and path
//	POST   /evaluate           body is a Cache-Control value, reply is the verdict
func NewRouter(config Config) http.Handler {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	a := &api{cache: config.Cache, evaluator: config.Evaluator, now: time.Now}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Admin request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})
	r.Post("/evaluate", a.evaluate)
	r.Route("/cache", func(r chi.Router) {
		r.Use(a.requireCache)
		r.Get("/", a.list)
		r.Delete("/", a.purgeAll)
		r.Delete("/{host}/*", a.purge)
	})
	return r
}

func (a *api) requireCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cache == nil {
			http.Error(w, "Caching is disabled", http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type entryView struct {
	cache.Entry
	Size  int  `json:"size"`
	Stale bool `json:"stale"`
}

type listResponse struct {
	Len     int         `json:"len"`
	Entries []entryView `json:"entries"`
}

func (a *api) list(w http.ResponseWriter, r *http.Request) {
	entries, err := a.cache.Entries()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not list cache entries")
		http.Error(w, "Could not list cache entries", http.StatusInternalServerError)
		return
	}
	now := a.now()
	res := listResponse{Len: len(entries), Entries: make([]entryView, 0, len(entries))}
	for _, e := range entries {
		res.Entries = append(res.Entries, entryView{Entry: e, Size: e.Size(), Stale: e.Stale(now)})
	}
	writeJSON(w, r, res)
}

func (a *api) purgeAll(w http.ResponseWriter, r *http.Request) {
	if err := a.cache.PurgeAll(); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not purge cache")
		http.Error(w, "Could not purge cache", http.StatusInternalServerError)
		return
	}
	hlog.FromRequest(r).Info().Msg("Cache purged")
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) purge(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	target := "/" + chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	entries, err := a.cache.Entries()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not list cache entries")
		http.Error(w, "Could not list cache entries", http.StatusInternalServerError)
		return
	}
	purged := 0
	for _, e := range entries {
		if e.Host != host || e.Target != target {
			continue
		}
		if err := a.cache.Purge(e.Key); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Could not purge from cache")
			http.Error(w, "Could not purge from cache", http.StatusInternalServerError)
			return
		}
		purged++
	}
	if purged == 0 {
		http.Error(w, "Not cached", http.StatusNotFound)
		return
	}
	hlog.FromRequest(r).Info().Int("purged", purged).Msgf("Evicting %s %s from cache", host, target)
	w.WriteHeader(http.StatusNoContent)
}

type evaluateResponse struct {
	rfc9111.Verdict
	Error string `json:"error,omitempty"`
}

func (a *api) evaluate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEvaluateBody))
	if err != nil {
		http.Error(w, "Could not read body", http.StatusRequestEntityTooLarge)
		return
	}
	verdict, err := a.evaluator.EvaluateString(string(body))
	res := evaluateResponse{Verdict: verdict}
	if err != nil {
		res.Error = err.Error()
	}
	writeJSON(w, r, res)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not write response")
	}
}
