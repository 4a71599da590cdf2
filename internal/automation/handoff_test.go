package automation

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestHandoffPendingUntilCheckin(t *testing.T) {
	h := NewHandoff(time.Minute)
	h.Register(7, "+390000000001", nil)

	pending := h.Pending()
	if len(pending) != 1 || pending[0].SessionID != 7 {
		t.Fatalf("pending = %+v, want session 7", pending)
	}
	if h.Ready(7) {
		t.Fatal("session ready before any checkin")
	}

	if err := h.Checkin(7); err != nil {
		t.Fatalf("checkin: %v", err)
	}
	if !h.Ready(7) {
		t.Fatal("session not ready after checkin")
	}
	if len(h.Pending()) != 0 {
		t.Fatal("checked-in session still listed as pending")
	}
}

func TestHandoffCheckinUnknownSession(t *testing.T) {
	h := NewHandoff(time.Minute)
	if err := h.Checkin(99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("checkin = %v, want ErrNotFound", err)
	}
}

func TestHandoffQRRoundTrip(t *testing.T) {
	h := NewHandoff(time.Minute)
	h.Register(1, "", nil)

	if _, err := h.QR(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("qr before publish = %v, want ErrNotFound", err)
	}
	if err := h.SetQR(1, []byte("qr-png-bytes")); err != nil {
		t.Fatalf("set qr: %v", err)
	}
	got, err := h.QR(1)
	if err != nil {
		t.Fatalf("qr: %v", err)
	}
	if string(got) != "qr-png-bytes" {
		t.Fatalf("qr = %q", got)
	}
}

func TestHandoffInboundReachesSink(t *testing.T) {
	h := NewHandoff(time.Minute)
	var mu sync.Mutex
	var received []Message
	h.Register(3, "", func(msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg)
		return nil
	})

	err := h.PushInbound(3, Message{SenderID: "+391112223334", Text: "ciao"})
	if err != nil {
		t.Fatalf("push inbound: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].Text != "ciao" {
		t.Fatalf("sink received %+v", received)
	}
	// An inbound push implies the process is alive.
	if !h.Ready(3) {
		t.Fatal("inbound push did not mark session ready")
	}
}

func TestHandoffRepliesDrainOnce(t *testing.T) {
	h := NewHandoff(time.Minute)
	h.Register(5, "", nil)

	if err := h.PushReply(5, Reply{SenderID: "+39", Text: "first"}); err != nil {
		t.Fatalf("push reply: %v", err)
	}
	if err := h.PushReply(5, Reply{SenderID: "+39", Text: "second"}); err != nil {
		t.Fatalf("push reply: %v", err)
	}

	replies, err := h.DrainReplies(5)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(replies) != 2 || replies[0].Text != "first" || replies[1].Text != "second" {
		t.Fatalf("replies = %+v", replies)
	}

	replies, err = h.DrainReplies(5)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(replies) != 0 {
		t.Fatalf("second drain returned %+v, want empty", replies)
	}
}

func TestHandoffEvictsStaleEntries(t *testing.T) {
	h := NewHandoff(time.Nanosecond)
	var mu sync.Mutex
	var evicted []int64
	h.SetEvictHook(func(id int64) {
		mu.Lock()
		defer mu.Unlock()
		evicted = append(evicted, id)
	})

	h.Register(9, "", nil)
	time.Sleep(time.Millisecond)
	h.evictStale()

	if h.Count() != 0 {
		t.Fatalf("entries after eviction = %d, want 0", h.Count())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(evicted) != 1 || evicted[0] != 9 {
		t.Fatalf("evict hook got %+v, want [9]", evicted)
	}
}

func TestHandoffFreshEntriesSurviveJanitor(t *testing.T) {
	h := NewHandoff(time.Hour)
	h.Register(2, "", nil)
	h.evictStale()
	if h.Count() != 1 {
		t.Fatal("fresh entry was evicted")
	}
}
