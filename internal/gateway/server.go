package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/botfleet/internal/automation"
	"github.com/antoniostano/botfleet/internal/bots"
	"github.com/antoniostano/botfleet/internal/observability"
	"github.com/antoniostano/botfleet/internal/store"
)

// Server is the dispatch gateway: it routes platform webhooks to the
// runtime that owns each session, exposes the lifecycle API, and carries
// the automation-process surface.
type Server struct {
	store      store.Store
	dispatcher *bots.Dispatcher
	handoff    *automation.Handoff
	metrics    *observability.Metrics
	logger     *slog.Logger
	hub        *Hub
	upgrader   websocket.Upgrader
}

// Options configures the gateway server.
type Options struct {
	Store          store.Store
	Dispatcher     *bots.Dispatcher
	Handoff        *automation.Handoff
	Metrics        *observability.Metrics
	Logger         *slog.Logger
	Hub            *Hub
	AllowAnyOrigin bool
}

func New(opts Options) *Server {
	return &Server{
		store:      opts.Store,
		dispatcher: opts.Dispatcher,
		handoff:    opts.Handoff,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		hub:        opts.Hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if opts.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/webhook/{session_id}", s.handleWebhook)

	r.Post("/v1/sessions/{id}/activate", s.handleActivate)
	r.Post("/v1/sessions/{id}/terminate", s.handleTerminate)
	r.Get("/v1/sessions/{id}/status", s.handleStatus)

	r.Get("/v1/automation/pending", s.handleAutomationPending)
	r.Post("/v1/automation/{id}/checkin", s.handleAutomationCheckin)
	r.Post("/v1/automation/{id}/qr", s.handleAutomationSetQR)
	r.Get("/v1/automation/{id}/qr", s.handleAutomationGetQR)
	r.Post("/v1/automation/{id}/inbound", s.handleAutomationInbound)
	r.Get("/v1/automation/{id}/reply", s.handleAutomationReplies)

	r.Get("/ws/status", s.handleStatusWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	running := 0
	for _, m := range s.dispatcher.Managers() {
		running += len(m.SessionIDs())
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"running_sessions": running,
	})
}

// handleWebhook routes a raw platform payload to the session's runtime.
// The payload is parsed and queued synchronously; the reply work happens
// on the runtime's own goroutine, so the platform gets its 200 right away.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "session_id"), 10, 64)
	if err != nil {
		s.metrics.WebhookRequests.WithLabelValues("bad_request").Inc()
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}

	rt, ok := s.dispatcher.Lookup(id)
	if !ok {
		s.metrics.WebhookRequests.WithLabelValues("not_found").Inc()
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "bot not found"})
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.metrics.WebhookRequests.WithLabelValues("bad_request").Inc()
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable payload"})
		return
	}

	if err := rt.Feed(payload); err != nil {
		s.metrics.WebhookRequests.WithLabelValues("error").Inc()
		s.logger.Error("webhook feed failed", "session_id", id, "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.metrics.WebhookRequests.WithLabelValues("success").Inc()
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "session id must be numeric")
		return
	}

	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	mgr, ok := s.dispatcher.Manager(sess.Platform)
	if !ok {
		respondError(w, http.StatusUnprocessableEntity, "unsupported_platform", string(sess.Platform))
		return
	}

	if err := mgr.Start(r.Context(), sess); err != nil {
		respondError(w, http.StatusBadGateway, "start_failed", err.Error())
		return
	}
	if err := s.store.SetSessionActive(r.Context(), id, true); err != nil {
		s.logger.Error("persist session active failed", "session_id", id, "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "running": true})
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "session id must be numeric")
		return
	}

	rt, ok := s.dispatcher.Lookup(id)
	if ok {
		mgr, found := s.dispatcher.Manager(rt.Platform())
		if found {
			if err := mgr.Stop(r.Context(), id); err != nil {
				respondError(w, http.StatusInternalServerError, "stop_failed", err.Error())
				return
			}
		}
	}

	if err := s.store.SetSessionActive(r.Context(), id, false); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("persist session inactive failed", "session_id", id, "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "running": false})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "session id must be numeric")
		return
	}

	if rt, ok := s.dispatcher.Lookup(id); ok {
		respondJSON(w, http.StatusOK, map[string]any{
			"session_id": id,
			"running":    true,
			"state":      string(rt.State()),
			"platform":   string(rt.Platform()),
		})
		return
	}

	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"running":    false,
		"state":      string(bots.StateStopped),
		"platform":   string(sess.Platform),
	})
}

func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Snapshot first, so a client sees the current registry before the
	// stream of transitions.
	snapshot := make([]bots.ChangeEvent, 0)
	for _, m := range s.dispatcher.Managers() {
		for _, id := range m.SessionIDs() {
			snapshot = append(snapshot, bots.ChangeEvent{
				Platform:  m.Platform(),
				SessionID: id,
				Running:   true,
			})
		}
	}
	s.hub.Attach(conn, snapshot)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
