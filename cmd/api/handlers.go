package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"cinereel/internal/carousel"
	"cinereel/internal/catalog"
	"cinereel/internal/featured"
	"cinereel/internal/history"
	"cinereel/internal/metrics"
	"cinereel/internal/session"
)

type api struct {
	featured *featured.Service
	sessions *session.Manager
	history  history.Store
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(a.metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", a.metrics.Handler())

	r.Get("/featured", a.handleFeatured)
	r.Post("/featured/refresh", a.handleFeaturedRefresh)

	r.Post("/carousel", a.handleMount)
	r.Route("/carousel/{id}", func(r chi.Router) {
		r.Get("/", a.handleSnapshot)
		r.Delete("/", a.handleUnmount)
		r.Post("/next", a.transition(func(e *carousel.Engine) { e.Next() }))
		r.Post("/previous", a.transition(func(e *carousel.Engine) { e.Previous() }))
		r.Post("/trailer", a.transition(func(e *carousel.Engine) { e.ToggleTrailer() }))
		r.Post("/mute", a.transition(func(e *carousel.Engine) { e.ToggleMute() }))
		r.Post("/goto", a.handleGoTo)
		r.Post("/drag", a.handleDrag)
		r.Put("/hover", a.handleHover)
		r.Put("/autoplay", a.handleAutoplay)
		r.Post("/activate", a.handleActivate)
		r.Get("/events", a.handleEvents)
		r.Get("/frame", a.handleFrame)
	})

	r.Get("/history/{clientID}", a.handleHistory)
	return r
}

type snapshotResponse struct {
	Session string                 `json:"session"`
	State   carousel.State         `json:"state"`
	Current *featured.Item         `json:"current,omitempty"`
	Items   []featured.Item        `json:"items,omitempty"`
	Config  *featured.PublicConfig `json:"config,omitempty"`
}

func snapshotOf(sess *session.Session) snapshotResponse {
	resp := snapshotResponse{Session: sess.ID, State: sess.Engine.Snapshot()}
	if item, ok := sess.Engine.Current(); ok {
		resp.Current = &item
	}
	return resp
}

func (a *api) handleFeatured(w http.ResponseWriter, r *http.Request) {
	items, pub, err := a.featured.Items(r.Context(), a.now())
	if err != nil {
		a.featuredError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, featured.ItemsResponse{Items: items, Config: pub})
}

func (a *api) handleFeaturedRefresh(w http.ResponseWriter, r *http.Request) {
	a.featured.Refresh()
	items, pub, err := a.featured.Items(r.Context(), a.now())
	if err != nil {
		a.featuredError(w, err)
		return
	}
	a.sessions.ReplaceItems(items)
	writeJSON(w, http.StatusOK, featured.ItemsResponse{Items: items, Config: pub})
}

func (a *api) featuredError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrNotConfigured) {
		errorJSON(w, http.StatusServiceUnavailable, "catalog not configured")
		return
	}
	a.log.Error().Err(err).Msg("featured items")
	errorJSON(w, http.StatusBadGateway, "featured items unavailable")
}

func (a *api) handleMount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID string `json:"clientId"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	items, pub, err := a.featured.Items(r.Context(), a.now())
	if err != nil {
		a.featuredError(w, err)
		return
	}
	sess, err := a.sessions.Open(req.ClientID, items)
	if errors.Is(err, session.ErrNoItems) {
		errorJSON(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := snapshotOf(sess)
	resp.Items = items
	resp.Config = &pub
	writeJSON(w, http.StatusCreated, resp)
}

func (a *api) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := a.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		errorJSON(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return sess, true
}

func (a *api) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshotOf(sess))
}

func (a *api) handleUnmount(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Close(chi.URLParam(r, "id")); err != nil {
		errorJSON(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// transition applies fn to the session's carousel and answers with the
// resulting snapshot.
func (a *api) transition(fn func(*carousel.Engine)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := a.session(w, r)
		if !ok {
			return
		}
		fn(sess.Engine)
		writeJSON(w, http.StatusOK, snapshotOf(sess))
	}
}

func (a *api) handleGoTo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index *int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		errorJSON(w, http.StatusBadRequest, "index is required")
		return
	}
	a.transition(func(e *carousel.Engine) { e.GoTo(*req.Index) })(w, r)
}

func (a *api) handleDrag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OffsetX *float64 `json:"offsetX"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OffsetX == nil {
		errorJSON(w, http.StatusBadRequest, "offsetX is required")
		return
	}
	a.transition(func(e *carousel.Engine) { e.OnDragRelease(*req.OffsetX) })(w, r)
}

func (a *api) handleHover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hovering bool `json:"hovering"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid body")
		return
	}
	a.transition(func(e *carousel.Engine) { e.SetHovering(req.Hovering) })(w, r)
}

func (a *api) handleAutoplay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid body")
		return
	}
	a.transition(func(e *carousel.Engine) { e.SetAutoplay(req.Enabled) })(w, r)
}

func (a *api) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Watch bool `json:"watch"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	item, route, err := a.sessions.Activate(r.Context(), chi.URLParam(r, "id"), req.Watch)
	if err != nil {
		errorJSON(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"route": route,
		"item":  item,
	})
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errorJSON(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	if limit == 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	entries, err := a.history.List(r.Context(), chi.URLParam(r, "clientID"), limit)
	if err != nil {
		a.log.Error().Err(err).Msg("list history")
		errorJSON(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// handleEvents streams every published snapshot of the session as
// Server-Sent Events until the client leaves or the session ends.
func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	flusher, ok := startStream(w)
	if !ok {
		return
	}
	ch, stop := sess.Watch()
	defer stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case st, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(st)
			if err != nil {
				a.log.Error().Err(err).Msg("encode state")
				return
			}
			fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleFrame is the player side of the mute channel: while it is open the
// session's frame has a content window and mute commands arrive here.
func (a *api) handleFrame(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	flusher, ok := startStream(w)
	if !ok {
		return
	}
	ch, disconnect := sess.Frame.Connect()
	defer disconnect()
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: command\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func startStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		errorJSON(w, http.StatusInternalServerError, "streaming unsupported")
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func errorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
