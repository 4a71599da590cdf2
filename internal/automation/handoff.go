package automation

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("automation session not found")

// Message is one inbound user message reported by an automation process.
type Message struct {
	SenderID     string `json:"sender_id"`
	Username     string `json:"username,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	Text         string `json:"text"`
	FirstContact bool   `json:"first_contact,omitempty"`
}

// Reply is one outbound message queued for an automation process to send.
type Reply struct {
	SenderID string `json:"sender_id"`
	Text     string `json:"text"`
}

// PendingSession describes a session waiting for an automation process to
// claim it.
type PendingSession struct {
	SessionID   int64  `json:"session_id"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type entry struct {
	sessionID   int64
	phoneNumber string
	qr          []byte
	replies     []Reply
	sink        func(Message) error
	ready       bool
	lastSeen    time.Time
}

// Handoff is the rendezvous point between session runtimes and the
// external automation processes that drive browser-based platforms. The
// processes talk to it over the gateway's HTTP surface: they poll for
// pending sessions, check in, publish pairing QR codes, push inbound
// messages, and drain queued replies. Every interaction refreshes the
// entry's last-seen time; entries idle past the TTL are evicted by the
// janitor.
type Handoff struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[int64]*entry
	onEvict func(sessionID int64)
}

func NewHandoff(ttl time.Duration) *Handoff {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Handoff{
		ttl:     ttl,
		entries: make(map[int64]*entry),
	}
}

// SetEvictHook installs a callback invoked (outside the lock) for every
// session the janitor evicts.
func (h *Handoff) SetEvictHook(hook func(sessionID int64)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEvict = hook
}

// Register announces a session that needs an automation process. The sink
// receives inbound messages pushed by the process.
func (h *Handoff) Register(sessionID int64, phoneNumber string, sink func(Message) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[sessionID] = &entry{
		sessionID:   sessionID,
		phoneNumber: phoneNumber,
		sink:        sink,
		lastSeen:    time.Now().UTC(),
	}
}

// Unregister removes a session's entry, if present.
func (h *Handoff) Unregister(sessionID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, sessionID)
}

// Pending lists sessions that no process has checked in for yet.
func (h *Handoff) Pending() []PendingSession {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]PendingSession, 0)
	for _, e := range h.entries {
		if e.ready {
			continue
		}
		out = append(out, PendingSession{SessionID: e.sessionID, PhoneNumber: e.phoneNumber})
	}
	return out
}

// Checkin marks the session's process as alive. The first checkin flips
// the session from pending to ready.
func (h *Handoff) Checkin(sessionID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.ready = true
	e.lastSeen = time.Now().UTC()
	return nil
}

// Ready reports whether a process has checked in for the session.
func (h *Handoff) Ready(sessionID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[sessionID]
	return ok && e.ready
}

// SetQR stores the latest pairing artifact published by the process.
func (h *Handoff) SetQR(sessionID int64, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.qr = append([]byte(nil), data...)
	e.lastSeen = time.Now().UTC()
	return nil
}

// QR returns the latest pairing artifact for the session.
func (h *Handoff) QR(sessionID int64) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[sessionID]
	if !ok || len(e.qr) == 0 {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.qr...), nil
}

// PushInbound forwards a message from the process into the session's sink.
func (h *Handoff) PushInbound(sessionID int64, msg Message) error {
	h.mu.Lock()
	e, ok := h.entries[sessionID]
	if !ok {
		h.mu.Unlock()
		return ErrNotFound
	}
	e.ready = true
	e.lastSeen = time.Now().UTC()
	sink := e.sink
	h.mu.Unlock()

	if sink == nil {
		return ErrNotFound
	}
	return sink(msg)
}

// PushReply queues an outbound message for the process to deliver.
func (h *Handoff) PushReply(sessionID int64, reply Reply) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.replies = append(e.replies, reply)
	return nil
}

// DrainReplies returns and clears the queued replies for the session. The
// process polls this through the gateway.
func (h *Handoff) DrainReplies(sessionID int64) ([]Reply, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastSeen = time.Now().UTC()
	out := e.replies
	e.replies = nil
	return out, nil
}

// StartJanitor periodically evicts entries whose process has not been
// heard from within the TTL.
func (h *Handoff) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.evictStale()
			}
		}
	}()
}

func (h *Handoff) evictStale() {
	now := time.Now().UTC()
	var evicted []int64

	h.mu.Lock()
	for id, e := range h.entries {
		if now.Sub(e.lastSeen) < h.ttl {
			continue
		}
		delete(h.entries, id)
		evicted = append(evicted, id)
	}
	hook := h.onEvict
	h.mu.Unlock()

	if hook != nil {
		for _, id := range evicted {
			hook(id)
		}
	}
}

// Count returns the number of tracked sessions.
func (h *Handoff) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
