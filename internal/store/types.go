package store

import (
	"context"
	"errors"
	"time"
)

// Platform identifies the messaging platform family a session is bound to.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformWhatsApp Platform = "whatsapp"
)

var ErrNotFound = errors.New("record not found")

// Session binds one (user, agent, platform) triple. It is the unit of bot
// activation; rows are soft-deleted, never removed.
type Session struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	AgentID     int64     `json:"agent_id"`
	Platform    Platform  `json:"platform"`
	Active      bool      `json:"is_active"`
	APIToken    string    `json:"api_token,omitempty"`
	WebhookPort int       `json:"webhook_port,omitempty"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Deleted     bool      `json:"is_deleted"`
}

// Agent is a reusable prompt/parameter configuration.
type Agent struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Name         string    `json:"name"`
	Instruction  string    `json:"instruction"`
	StartMessage string    `json:"start_message"`
	ErrorMessage string    `json:"error_message"`
	Temperature  float32   `json:"temperature"`
	MaxTokens    int       `json:"max_tokens"`
	APIKey       string    `json:"-"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	Deleted      bool      `json:"is_deleted"`
}

// Account is a platform sender profile, auto-provisioned on first contact.
type Account struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatMessage is one (user message, bot response) exchange.
type ChatMessage struct {
	ID           string    `json:"id"`
	SenderID     string    `json:"sender_id"`
	AgentID      int64     `json:"agent_id"`
	Platform     Platform  `json:"platform"`
	SessionID    int64     `json:"session_id"`
	UserMessage  string    `json:"user_message"`
	BotResponse  string    `json:"bot_response"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the system of record for sessions, agents, accounts and chat
// history. All methods are fallible; callers catch and log errors rather
// than letting a store failure take down a runtime.
type Store interface {
	GetSession(ctx context.Context, id int64) (Session, error)
	ListActiveSessions(ctx context.Context) ([]Session, error)
	SetSessionActive(ctx context.Context, id int64, active bool) error
	CreateSession(ctx context.Context, s Session) (int64, error)

	GetAgent(ctx context.Context, id int64) (Agent, error)
	CreateAgent(ctx context.Context, a Agent) (int64, error)

	EnsureAccount(ctx context.Context, a Account) error

	AppendExchange(ctx context.Context, m ChatMessage) error
	History(ctx context.Context, sessionID int64, senderID string, limit int) ([]ChatMessage, error)

	Close() error
}
