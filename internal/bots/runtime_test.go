package bots

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/antoniostano/botfleet/internal/store"
)

func TestRuntimeRepliesInArrivalOrder(t *testing.T) {
	st := store.NewMemoryStore()
	sess := seedSession(t, st)
	rec := &transportRecorder{}
	mgr := testManager(t, rec, testDeps(t, st, &fakeCompletion{}, "order"))
	ctx := context.Background()

	if err := mgr.Start(ctx, sess); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer mgr.StopAll(ctx)

	rt, _ := mgr.Get(sess.ID)
	for i := 0; i < 3; i++ {
		if err := rt.Enqueue(Inbound{SenderID: "sender-1", Text: fmt.Sprintf("msg %d", i)}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	tr := rec.last()
	for i := 0; i < 3; i++ {
		reply := awaitReply(t, tr)
		want := fmt.Sprintf("echo: msg %d", i)
		if reply.text != want {
			t.Fatalf("reply %d = %q, want %q", i, reply.text, want)
		}
		if reply.senderID != "sender-1" {
			t.Fatalf("reply %d went to %q", i, reply.senderID)
		}
	}
}

func TestRuntimeFeedRequiresWebhookTransport(t *testing.T) {
	st := store.NewMemoryStore()
	sess := seedSession(t, st)
	rec := &transportRecorder{}
	mgr := testManager(t, rec, testDeps(t, st, &fakeCompletion{}, "feed"))
	ctx := context.Background()

	if err := mgr.Start(ctx, sess); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer mgr.StopAll(ctx)

	rt, _ := mgr.Get(sess.ID)
	if err := rt.Feed([]byte(`{}`)); !errors.Is(err, ErrNoWebhook) {
		t.Fatalf("feed = %v, want ErrNoWebhook", err)
	}
}

func TestRuntimeFeedAfterStop(t *testing.T) {
	st := store.NewMemoryStore()
	sess := seedSession(t, st)
	rec := &transportRecorder{}
	mgr := testManager(t, rec, testDeps(t, st, &fakeCompletion{}, "feed_stop"))
	ctx := context.Background()

	if err := mgr.Start(ctx, sess); err != nil {
		t.Fatalf("start: %v", err)
	}
	rt, _ := mgr.Get(sess.ID)
	if err := mgr.Stop(ctx, sess.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := rt.Feed([]byte(`{}`)); !errors.Is(err, ErrNotListening) {
		t.Fatalf("feed after stop = %v, want ErrNotListening", err)
	}
}

func TestRuntimeDropsWhenQueueFull(t *testing.T) {
	st := store.NewMemoryStore()
	sess := seedSession(t, st)
	h := newHandler(sess, testDeps(t, st, &fakeCompletion{}, "drop"))
	rt := newRuntime(sess, h, discardLogger())

	// No event loop is draining, so the queue fills and further messages
	// are dropped without blocking.
	for i := 0; i < inboundQueueSize+10; i++ {
		if err := rt.Enqueue(Inbound{SenderID: "s", Text: "x"}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
}
