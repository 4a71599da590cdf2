package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/antoniostano/botfleet/internal/bots"
	"github.com/antoniostano/botfleet/internal/store"
)

// TransportConfig tunes the automation transport.
type TransportConfig struct {
	// ReadyTimeout bounds how long Start waits for a locally launched
	// process to check in. Remote processes are not waited for.
	ReadyTimeout time.Duration
	// WaitForReady is false for remote drivers: the session goes live
	// immediately and the process attaches whenever it comes up.
	WaitForReady bool
}

// Transport bridges a session runtime to an external automation process
// through the handoff store. Inbound messages pushed by the process land
// in the runtime's sink; replies are queued for the process to drain.
type Transport struct {
	cfg     TransportConfig
	sess    store.Session
	sink    bots.Sink
	handoff *Handoff
	driver  Driver
	logger  *slog.Logger

	handle Handle
}

func NewTransport(cfg TransportConfig, sess store.Session, sink bots.Sink, handoff *Handoff, driver Driver, logger *slog.Logger) *Transport {
	return &Transport{
		cfg:     cfg,
		sess:    sess,
		sink:    sink,
		handoff: handoff,
		driver:  driver,
		logger:  logger.With("session_id", sess.ID, "transport", "automation"),
	}
}

// Factory adapts NewTransport to the shape the platform manager expects.
func Factory(cfg TransportConfig, handoff *Handoff, driver Driver, logger *slog.Logger) bots.TransportFactory {
	return func(sess store.Session, sink bots.Sink) (bots.Transport, error) {
		return NewTransport(cfg, sess, sink, handoff, driver, logger), nil
	}
}

func (t *Transport) Start(ctx context.Context) error {
	t.handoff.Register(t.sess.ID, t.sess.PhoneNumber, func(msg Message) error {
		return t.sink(bots.Inbound{
			SenderID:     msg.SenderID,
			Username:     msg.Username,
			DisplayName:  msg.DisplayName,
			Text:         msg.Text,
			FirstContact: msg.FirstContact,
		})
	})

	handle, err := t.driver.Launch(ctx, t.sess)
	if err != nil {
		t.handoff.Unregister(t.sess.ID)
		return fmt.Errorf("launch automation: %w", err)
	}
	t.handle = handle

	if t.cfg.WaitForReady {
		if err := t.awaitReady(ctx); err != nil {
			_ = handle.Terminate()
			t.handoff.Unregister(t.sess.ID)
			return err
		}
	}
	t.logger.Info("automation session registered", "wait_for_ready", t.cfg.WaitForReady)
	return nil
}

// awaitReady polls for the process checkin until the ready timeout.
func (t *Transport) awaitReady(ctx context.Context) error {
	timeout := t.cfg.ReadyTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if t.handoff.Ready(t.sess.ID) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return fmt.Errorf("automation process did not check in within %s", timeout)
}

func (t *Transport) Stop(ctx context.Context) error {
	t.handoff.Unregister(t.sess.ID)
	if t.handle == nil {
		return nil
	}
	if err := t.handle.Terminate(); err != nil {
		return fmt.Errorf("terminate automation: %w", err)
	}
	return nil
}

func (t *Transport) Send(ctx context.Context, senderID, text string) error {
	return t.handoff.PushReply(t.sess.ID, Reply{SenderID: senderID, Text: text})
}
