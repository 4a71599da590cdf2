package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "botfleet.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()

	agentID, err := s.CreateAgent(ctx, Agent{
		UserID:       1,
		Name:         "support",
		Instruction:  "be helpful",
		StartMessage: "Hi!",
		ErrorMessage: "Agent busy",
		Temperature:  0.5,
		MaxTokens:    150,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}

	sessID, err := s.CreateSession(ctx, Session{
		UserID:   1,
		AgentID:  agentID,
		Platform: PlatformTelegram,
		APIToken: "tok",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if agent.StartMessage != "Hi!" || agent.MaxTokens != 150 {
		t.Fatalf("GetAgent() = %+v, want persisted fields back", agent)
	}

	if err := s.SetSessionActive(ctx, sessID, true); err != nil {
		t.Fatalf("SetSessionActive() error = %v", err)
	}
	active, err := s.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ListActiveSessions() error = %v", err)
	}
	if len(active) != 1 || active[0].ID != sessID || active[0].Platform != PlatformTelegram {
		t.Fatalf("ListActiveSessions() = %+v, want session %d", active, sessID)
	}

	for _, p := range []struct{ user, bot string }{
		{"first", "one"},
		{"second", "two"},
	} {
		err := s.AppendExchange(ctx, ChatMessage{
			SessionID:   sessID,
			SenderID:    "42",
			AgentID:     agentID,
			Platform:    PlatformTelegram,
			UserMessage: p.user,
			BotResponse: p.bot,
		})
		if err != nil {
			t.Fatalf("AppendExchange() error = %v", err)
		}
	}

	history, err := s.History(ctx, sessID, "42", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].UserMessage != "first" || history[1].UserMessage != "second" {
		t.Fatalf("History() = %+v, want insertion order", history)
	}
}

func TestSQLiteStoreMissingRows(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "botfleet.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()

	if _, err := s.GetSession(ctx, 404); err != ErrNotFound {
		t.Fatalf("GetSession(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetAgent(ctx, 404); err != ErrNotFound {
		t.Fatalf("GetAgent(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.SetSessionActive(ctx, 404, true); err != ErrNotFound {
		t.Fatalf("SetSessionActive(missing) error = %v, want ErrNotFound", err)
	}
}
