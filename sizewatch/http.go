// CLAUDE:SUMMARY Mounts the sizewatch admin API on a chi router.
package sizewatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/sizewatch/sizewatch/internal/mcptool"
)

// ViewportRequest is the body of POST /pages/{pageID}/viewport.
type ViewportRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RegisterHTTP mounts the admin API on r.
//
//	GET  /health
//	GET  /metrics?name=&page=&limit=N          (needs a metrics database)
//	GET  /pages
//	GET  /pages/{pageID}/targets
//	GET  /pages/{pageID}/stats
//	GET  /pages/{pageID}/changes?limit=N   (needs a change store)
//	POST /pages/{pageID}/watch      {kind, selector, properties}
//	POST /pages/{pageID}/refresh
//	POST /pages/{pageID}/viewport   {width, height}
func (w *Watcher) RegisterHTTP(r chi.Router) {
	r.Get("/health", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]any{"status": "ok", "pages": len(w.Pages())})
	})
	r.Get("/metrics", func(rw http.ResponseWriter, req *http.Request) {
		if w.metrics == nil {
			writeError(rw, http.StatusNotFound, errors.New("no metrics database configured"))
			return
		}
		q := req.URL.Query()
		pts, err := w.metrics.Query(req.Context(), q.Get("name"), q.Get("page"), queryInt(req, "limit", 100))
		if err != nil {
			writeError(rw, http.StatusInternalServerError, err)
			return
		}
		if pts == nil {
			pts = []MetricPoint{}
		}
		writeJSON(rw, http.StatusOK, pts)
	})
	r.Get("/pages", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, w.Pages())
	})

	r.Route("/pages/{pageID}", func(r chi.Router) {
		r.Get("/targets", func(rw http.ResponseWriter, req *http.Request) {
			targets, err := w.Targets(chi.URLParam(req, "pageID"))
			if err != nil {
				writeError(rw, statusFor(err), err)
				return
			}
			writeJSON(rw, http.StatusOK, targets)
		})

		r.Get("/stats", func(rw http.ResponseWriter, req *http.Request) {
			stats, err := w.Stats(chi.URLParam(req, "pageID"))
			if err != nil {
				writeError(rw, statusFor(err), err)
				return
			}
			writeJSON(rw, http.StatusOK, stats)
		})

		r.Get("/changes", func(rw http.ResponseWriter, req *http.Request) {
			if w.store == nil {
				writeError(rw, http.StatusNotFound, errors.New("no change store configured"))
				return
			}
			pageID := chi.URLParam(req, "pageID")
			evs, err := w.store.Recent(req.Context(), pageID, queryInt(req, "limit", 100))
			if err != nil {
				writeError(rw, http.StatusInternalServerError, err)
				return
			}
			if evs == nil {
				evs = []Event{}
			}
			writeJSON(rw, http.StatusOK, evs)
		})

		r.Post("/watch", func(rw http.ResponseWriter, req *http.Request) {
			var spec WatchSpec
			if err := json.NewDecoder(req.Body).Decode(&spec); err != nil {
				writeError(rw, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
				return
			}
			ctx := mcptool.WithTransport(req.Context(), mcptool.TransportHTTP)
			targets, err := w.Watch(ctx, chi.URLParam(req, "pageID"), spec)
			if err != nil {
				writeError(rw, statusFor(err), err)
				return
			}
			if targets == nil {
				targets = []Target{}
			}
			writeJSON(rw, http.StatusOK, map[string]any{"targets": targets})
		})

		r.Post("/refresh", func(rw http.ResponseWriter, req *http.Request) {
			pageID := chi.URLParam(req, "pageID")
			if err := w.Refresh(pageID); err != nil {
				writeError(rw, statusFor(err), err)
				return
			}
			writeJSON(rw, http.StatusOK, map[string]string{"status": "refreshed", "page_id": pageID})
		})

		r.Post("/viewport", func(rw http.ResponseWriter, req *http.Request) {
			var vr ViewportRequest
			if err := json.NewDecoder(req.Body).Decode(&vr); err != nil {
				writeError(rw, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
				return
			}
			if err := w.SetViewport(req.Context(), chi.URLParam(req, "pageID"), vr.Width, vr.Height); err != nil {
				writeError(rw, statusFor(err), err)
				return
			}
			writeJSON(rw, http.StatusOK, vr)
		})
	})
}

// Handler returns the admin API as a standalone router.
func (w *Watcher) Handler() http.Handler {
	r := chi.NewRouter()
	w.RegisterHTTP(r)
	return r
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownPage):
		return http.StatusNotFound
	case errors.Is(err, ErrNoViewport):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
