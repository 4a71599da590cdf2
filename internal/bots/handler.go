package bots

import (
	"context"
	"log/slog"
	"time"

	"github.com/antoniostano/botfleet/internal/completion"
	"github.com/antoniostano/botfleet/internal/observability"
	"github.com/antoniostano/botfleet/internal/ratelimit"
	"github.com/antoniostano/botfleet/internal/store"
)

const (
	defaultStartMessage = "Hi! How can I help you today?"
	defaultErrorMessage = "Sorry, I ran into a problem answering that. Please try again in a moment."
	throttleNotice      = "You're sending messages a bit too fast. Give me a few seconds to catch up."
)

// Handler runs the per-message pipeline for one session: account
// provisioning, rate limiting, history retrieval, completion, and
// persistence. Every failure is caught and turned into a reply or a log
// line; a handler never takes its runtime down.
type Handler struct {
	sess         store.Session
	store        store.Store
	client       completion.Client
	limiter      *ratelimit.Window
	metrics      *observability.Metrics
	logger       *slog.Logger
	historyLimit int
}

// HandlerDeps carries the shared collaborators a manager hands to every
// handler it builds.
type HandlerDeps struct {
	Store        store.Store
	Client       completion.Client
	Metrics      *observability.Metrics
	Logger       *slog.Logger
	HistoryLimit int
	RateLimit    int
	RateWindow   time.Duration
}

func newHandler(sess store.Session, deps HandlerDeps) *Handler {
	return &Handler{
		sess:         sess,
		store:        deps.Store,
		client:       deps.Client,
		limiter:      ratelimit.NewWindow(deps.RateLimit, deps.RateWindow),
		metrics:      deps.Metrics,
		logger:       deps.Logger.With("session_id", sess.ID, "platform", string(sess.Platform)),
		historyLimit: deps.HistoryLimit,
	}
}

// Handle processes one inbound message and returns the reply text, or ""
// when no reply should be sent.
func (h *Handler) Handle(ctx context.Context, in Inbound) string {
	platform := string(h.sess.Platform)

	if err := h.store.EnsureAccount(ctx, store.Account{
		ID:          in.SenderID,
		Username:    in.Username,
		DisplayName: in.DisplayName,
	}); err != nil {
		// Provisioning is best effort; the conversation continues without it.
		h.logger.Error("ensure account failed", "sender_id", in.SenderID, "error", err)
	}

	if !h.limiter.Allow(in.SenderID) {
		h.metrics.Messages.WithLabelValues(platform, "throttled").Inc()
		return throttleNotice
	}

	agent, err := h.store.GetAgent(ctx, h.sess.AgentID)
	if err != nil {
		h.logger.Error("load agent failed", "agent_id", h.sess.AgentID, "error", err)
		h.metrics.Messages.WithLabelValues(platform, "error").Inc()
		return defaultErrorMessage
	}

	if in.FirstContact {
		h.metrics.Messages.WithLabelValues(platform, "start").Inc()
		if agent.StartMessage != "" {
			return agent.StartMessage
		}
		return defaultStartMessage
	}

	history, err := h.store.History(ctx, h.sess.ID, in.SenderID, h.historyLimit)
	if err != nil {
		h.logger.Error("load history failed", "sender_id", in.SenderID, "error", err)
		history = nil
	}

	began := time.Now()
	reply, err := h.client.Complete(ctx, agent, history, in.Text)
	h.metrics.ObserveCompletionLatency(time.Since(began))
	if err != nil {
		h.logger.Error("completion failed", "sender_id", in.SenderID, "error", err)
		h.metrics.Messages.WithLabelValues(platform, "completion_error").Inc()
		if agent.ErrorMessage != "" {
			return agent.ErrorMessage
		}
		return defaultErrorMessage
	}

	if err := h.store.AppendExchange(ctx, store.ChatMessage{
		SenderID:    in.SenderID,
		AgentID:     h.sess.AgentID,
		Platform:    h.sess.Platform,
		SessionID:   h.sess.ID,
		UserMessage: in.Text,
		BotResponse: reply,
	}); err != nil {
		h.logger.Error("persist exchange failed", "sender_id", in.SenderID, "error", err)
	}

	h.metrics.Messages.WithLabelValues(platform, "ok").Inc()
	return reply
}
