package bots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/antoniostano/botfleet/internal/store"
)

// State tracks where a runtime is in its lifecycle.
type State string

const (
	StateCreated   State = "created"
	StateStarting  State = "starting"
	StateListening State = "listening"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
)

var (
	// ErrNotListening is returned when an event arrives for a runtime that
	// is shutting down or already stopped.
	ErrNotListening = errors.New("runtime is not listening")
	// ErrNoWebhook is returned when a webhook payload is routed to a
	// runtime whose transport does not accept webhook deliveries.
	ErrNoWebhook = errors.New("transport does not accept webhook payloads")
)

// errStopped signals that a concurrent stop claimed the runtime before its
// start ran; the start must not open the transport.
var errStopped = errors.New("runtime stopped before start")

const inboundQueueSize = 64

// Runtime owns one session's event loop. All messages for the session are
// drained by a single goroutine, so replies to a given sender go out in the
// order their messages arrived.
type Runtime struct {
	sess    store.Session
	handler *Handler
	logger  *slog.Logger

	queue chan Inbound

	// opMu serializes start and stop so a concurrent stop waits for an
	// in-flight start to finish before tearing down.
	opMu      sync.Mutex
	transport Transport

	mu      sync.Mutex
	state   State
	started bool

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

func newRuntime(sess store.Session, handler *Handler, logger *slog.Logger) *Runtime {
	return &Runtime{
		sess:    sess,
		handler: handler,
		logger:  logger.With("session_id", sess.ID, "platform", string(sess.Platform)),
		queue:   make(chan Inbound, inboundQueueSize),
		state:   StateCreated,
	}
}

func (r *Runtime) SessionID() int64 { return r.sess.ID }

func (r *Runtime) Platform() store.Platform { return r.sess.Platform }

func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// start opens the transport and spins up the event loop. The caller's ctx
// bounds transport initialization only; the loop runs until stop.
func (r *Runtime) start(ctx context.Context, transport Transport) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	// A stop that raced ahead of us already ran; opening the transport now
	// would leave a live runtime nothing can reach.
	if r.State() == StateStopped {
		return errStopped
	}

	r.setState(StateStarting)
	r.transport = transport

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancelLoop = cancel
	r.loopDone = make(chan struct{})
	go r.loop(loopCtx)

	if err := transport.Start(ctx); err != nil {
		cancel()
		<-r.loopDone
		r.setState(StateStopped)
		return fmt.Errorf("start transport: %w", err)
	}

	r.mu.Lock()
	r.state = StateListening
	r.started = true
	r.mu.Unlock()
	return nil
}

// startedOK reports whether the runtime ever reached StateListening.
func (r *Runtime) startedOK() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// stop tears the runtime down within ctx's deadline. It is safe to call on
// a runtime whose start failed or never ran.
func (r *Runtime) stop(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if r.State() == StateStopped {
		return nil
	}
	r.setState(StateStopping)

	var err error
	if r.transport != nil {
		err = r.transport.Stop(ctx)
	}

	if r.cancelLoop != nil {
		r.cancelLoop()
		select {
		case <-r.loopDone:
		case <-ctx.Done():
			err = errors.Join(err, fmt.Errorf("event loop drain: %w", ctx.Err()))
		}
	}

	r.setState(StateStopped)
	return err
}

// Enqueue hands an inbound message to the event loop without blocking the
// caller. Messages that arrive while the queue is full are dropped with a
// log line rather than stalling the transport.
func (r *Runtime) Enqueue(in Inbound) error {
	switch r.State() {
	case StateStopping, StateStopped:
		return ErrNotListening
	}
	select {
	case r.queue <- in:
		return nil
	default:
		r.logger.Warn("inbound queue full, dropping message", "sender_id", in.SenderID)
		return nil
	}
}

// Feed routes a raw webhook payload into the transport for parsing.
func (r *Runtime) Feed(payload []byte) error {
	if r.State() != StateListening {
		return ErrNotListening
	}
	feeder, ok := r.transport.(WebhookFeeder)
	if !ok {
		return ErrNoWebhook
	}
	return feeder.Feed(payload)
}

func (r *Runtime) loop(ctx context.Context) {
	defer close(r.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-r.queue:
			reply := r.handler.Handle(ctx, in)
			if reply == "" {
				continue
			}
			if err := r.transport.Send(ctx, in.SenderID, reply); err != nil {
				r.logger.Error("send reply failed", "sender_id", in.SenderID, "error", err)
			}
		}
	}
}
