package bots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/antoniostano/botfleet/internal/observability"
	"github.com/antoniostano/botfleet/internal/store"
)

// ChangeEvent describes one registry transition, published to observers
// such as the status websocket feed.
type ChangeEvent struct {
	Platform  store.Platform `json:"platform"`
	SessionID int64          `json:"session_id"`
	Running   bool           `json:"running"`
}

// Manager is the registry of live runtimes for one platform. Start and
// Stop are idempotent: starting a session that is already running or
// stopping one that is not are logged no-ops.
type Manager struct {
	platform     store.Platform
	deps         HandlerDeps
	newTransport TransportFactory
	metrics      *observability.Metrics
	logger       *slog.Logger
	stopTimeout  time.Duration
	onChange     func(ChangeEvent)

	mu       sync.Mutex
	runtimes map[int64]*Runtime
}

// ManagerConfig assembles a Manager for one platform.
type ManagerConfig struct {
	Platform    store.Platform
	Deps        HandlerDeps
	Transport   TransportFactory
	Metrics     *observability.Metrics
	Logger      *slog.Logger
	StopTimeout time.Duration
	OnChange    func(ChangeEvent)
}

func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		platform:     cfg.Platform,
		deps:         cfg.Deps,
		newTransport: cfg.Transport,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With("platform", string(cfg.Platform)),
		stopTimeout:  cfg.StopTimeout,
		onChange:     cfg.OnChange,
		runtimes:     make(map[int64]*Runtime),
	}
}

func (m *Manager) Platform() store.Platform { return m.platform }

// Start brings up a runtime for the session. The registry entry is
// claimed before transport initialization so a concurrent Start for the
// same id short-circuits instead of racing; a failed start removes the
// entry again so the session can be retried.
func (m *Manager) Start(ctx context.Context, sess store.Session) error {
	m.mu.Lock()
	if _, ok := m.runtimes[sess.ID]; ok {
		m.mu.Unlock()
		m.logger.Info("session already running", "session_id", sess.ID)
		return nil
	}
	rt := newRuntime(sess, newHandler(sess, m.deps), m.logger)
	m.runtimes[sess.ID] = rt
	m.mu.Unlock()

	transport, err := m.newTransport(sess, rt.Enqueue)
	if err == nil {
		err = rt.start(ctx, transport)
	}
	if errors.Is(err, errStopped) {
		// A concurrent Stop claimed the session while the transport was
		// being built; Stop already removed the entry.
		m.logger.Info("session stopped during start", "session_id", sess.ID)
		return nil
	}
	if err != nil {
		m.mu.Lock()
		if cur, ok := m.runtimes[sess.ID]; ok && cur == rt {
			delete(m.runtimes, sess.ID)
		}
		m.mu.Unlock()
		m.metrics.LifecycleEvents.WithLabelValues(string(m.platform), "start_failed").Inc()
		m.logger.Error("session start failed", "session_id", sess.ID, "error", err)
		return fmt.Errorf("start session %d: %w", sess.ID, err)
	}

	m.metrics.LifecycleEvents.WithLabelValues(string(m.platform), "started").Inc()
	m.metrics.ActiveRuntimes.WithLabelValues(string(m.platform)).Inc()
	m.notify(ChangeEvent{Platform: m.platform, SessionID: sess.ID, Running: true})
	m.logger.Info("session started", "session_id", sess.ID)
	return nil
}

// Stop tears down the session's runtime. The registry entry is removed
// even when teardown times out, so a wedged transport cannot wedge the
// registry.
func (m *Manager) Stop(ctx context.Context, sessionID int64) error {
	m.mu.Lock()
	rt, ok := m.runtimes[sessionID]
	if !ok {
		m.mu.Unlock()
		m.logger.Info("session not running", "session_id", sessionID)
		return nil
	}
	delete(m.runtimes, sessionID)
	m.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
	defer cancel()
	if err := rt.stop(stopCtx); err != nil {
		m.logger.Warn("session teardown incomplete", "session_id", sessionID, "error", err)
	}

	// A runtime caught before its start finished never went live, so there
	// is no active-count or observer transition to unwind.
	if !rt.startedOK() {
		m.logger.Info("session stopped before start completed", "session_id", sessionID)
		return nil
	}

	m.metrics.LifecycleEvents.WithLabelValues(string(m.platform), "stopped").Inc()
	m.metrics.ActiveRuntimes.WithLabelValues(string(m.platform)).Dec()
	m.notify(ChangeEvent{Platform: m.platform, SessionID: sessionID, Running: false})
	m.logger.Info("session stopped", "session_id", sessionID)
	return nil
}

// Get returns the live runtime for a session id, if any.
func (m *Manager) Get(sessionID int64) (*Runtime, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[sessionID]
	return rt, ok
}

// SessionIDs lists the sessions currently registered.
func (m *Manager) SessionIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	return ids
}

// StartAll starts every given session concurrently. A failure in one
// session is logged by Start and does not hold back the others.
func (m *Manager) StartAll(ctx context.Context, sessions []store.Session) {
	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess store.Session) {
			defer wg.Done()
			_ = m.Start(ctx, sess)
		}(sess)
	}
	wg.Wait()
}

// StopAll stops every registered runtime concurrently.
func (m *Manager) StopAll(ctx context.Context) {
	ids := m.SessionIDs()
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = m.Stop(ctx, id)
		}(id)
	}
	wg.Wait()
}

func (m *Manager) notify(ev ChangeEvent) {
	if m.onChange != nil {
		m.onChange(ev)
	}
}
