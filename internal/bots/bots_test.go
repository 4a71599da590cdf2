package bots

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/botfleet/internal/completion"
	"github.com/antoniostano/botfleet/internal/observability"
	"github.com/antoniostano/botfleet/internal/store"
)

type sentReply struct {
	senderID string
	text     string
}

type fakeTransport struct {
	mu       sync.Mutex
	startErr error
	started  bool
	stopped  bool
	sink     Sink
	sent     chan sentReply
}

func (t *fakeTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startErr != nil {
		return t.startErr
	}
	t.started = true
	return nil
}

func (t *fakeTransport) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

func (t *fakeTransport) Send(ctx context.Context, senderID, text string) error {
	t.sent <- sentReply{senderID: senderID, text: text}
	return nil
}

func (t *fakeTransport) wasStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

func (t *fakeTransport) wasStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// transportRecorder builds fake transports and remembers every instance it
// handed out.
type transportRecorder struct {
	mu       sync.Mutex
	startErr error
	created  []*fakeTransport
}

func (r *transportRecorder) factory(sess store.Session, sink Sink) (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tr := &fakeTransport{startErr: r.startErr, sink: sink, sent: make(chan sentReply, 16)}
	r.created = append(r.created, tr)
	return tr, nil
}

func (r *transportRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created)
}

func (r *transportRecorder) last() *fakeTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.created) == 0 {
		return nil
	}
	return r.created[len(r.created)-1]
}

type fakeCompletion struct {
	mu    sync.Mutex
	err   error
	reply string
	calls int
}

func (c *fakeCompletion) Complete(ctx context.Context, agent store.Agent, history []store.ChatMessage, input string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	if c.reply != "" {
		return c.reply, nil
	}
	return "echo: " + input, nil
}

func (c *fakeCompletion) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var _ completion.Client = (*fakeCompletion)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics(prefix string) *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("botfleet_test_%s_%d", prefix, time.Now().UnixNano()))
}

// seedSession creates an agent and an active session in the store and
// returns the session with its assigned id.
func seedSession(t *testing.T, st store.Store) store.Session {
	t.Helper()
	ctx := context.Background()
	agentID, err := st.CreateAgent(ctx, store.Agent{
		Name:         "Aria",
		Instruction:  "You are Aria, a helpful assistant.",
		StartMessage: "Ciao! I'm Aria, ask me anything.",
		ErrorMessage: "Aria is busy right now, try again shortly.",
		Temperature:  0.7,
		MaxTokens:    512,
		APIKey:       "sk-agent",
		Active:       true,
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	sess := store.Session{
		UserID:   1,
		AgentID:  agentID,
		Platform: store.PlatformTelegram,
		Active:   true,
		APIToken: "tg-token",
	}
	id, err := st.CreateSession(ctx, sess)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	sess.ID = id
	return sess
}

func testDeps(t *testing.T, st store.Store, client completion.Client, prefix string) HandlerDeps {
	t.Helper()
	return HandlerDeps{
		Store:        st,
		Client:       client,
		Metrics:      testMetrics(prefix),
		Logger:       discardLogger(),
		HistoryLimit: 50,
		RateLimit:    3,
		RateWindow:   10 * time.Second,
	}
}

func testManager(t *testing.T, rec *transportRecorder, deps HandlerDeps) *Manager {
	t.Helper()
	return NewManager(ManagerConfig{
		Platform:    store.PlatformTelegram,
		Deps:        deps,
		Transport:   rec.factory,
		Metrics:     deps.Metrics,
		Logger:      discardLogger(),
		StopTimeout: 2 * time.Second,
	})
}

func awaitReply(t *testing.T, tr *fakeTransport) sentReply {
	t.Helper()
	select {
	case reply := <-tr.sent:
		return reply
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return sentReply{}
	}
}
