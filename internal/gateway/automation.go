package gateway

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/botfleet/internal/automation"
)

// Automation endpoints are the HTTP side of the handoff store: external
// automation processes poll for work, check in, publish pairing QR codes,
// push the messages they observe, and drain the replies to deliver.

func (s *Server) handleAutomationPending(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.handoff.Pending()})
}

func (s *Server) handleAutomationCheckin(w http.ResponseWriter, r *http.Request) {
	id, ok := s.automationID(w, r)
	if !ok {
		return
	}
	if err := s.handoff.Checkin(id); err != nil {
		respondError(w, http.StatusNotFound, "automation_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleAutomationSetQR(w http.ResponseWriter, r *http.Request) {
	id, ok := s.automationID(w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil || len(data) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_qr", "request body must carry the QR image")
		return
	}
	if err := s.handoff.SetQR(id, data); err != nil {
		respondError(w, http.StatusNotFound, "automation_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleAutomationGetQR(w http.ResponseWriter, r *http.Request) {
	id, ok := s.automationID(w, r)
	if !ok {
		return
	}
	data, err := s.handoff.QR(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "qr_not_found", err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleAutomationInbound(w http.ResponseWriter, r *http.Request) {
	id, ok := s.automationID(w, r)
	if !ok {
		return
	}
	var msg automation.Message
	if err := decodeJSON(r, &msg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if msg.SenderID == "" || msg.Text == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "sender_id and text are required")
		return
	}
	if err := s.handoff.PushInbound(id, msg); err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			respondError(w, http.StatusNotFound, "automation_not_found", err.Error())
			return
		}
		s.logger.Error("automation inbound rejected", "session_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "inbound_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleAutomationReplies(w http.ResponseWriter, r *http.Request) {
	id, ok := s.automationID(w, r)
	if !ok {
		return
	}
	replies, err := s.handoff.DrainReplies(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "automation_not_found", err.Error())
		return
	}
	if replies == nil {
		replies = []automation.Reply{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"replies": replies})
}

func (s *Server) automationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "session id must be numeric")
		return 0, false
	}
	return id, true
}
