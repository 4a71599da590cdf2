package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions, agents and chat history in PostgreSQL.
// The pool is constructed once at process start and injected everywhere a
// component needs storage access.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			instruction TEXT NOT NULL DEFAULT '',
			start_message TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			temperature REAL NOT NULL DEFAULT 0.5,
			max_tokens INT NOT NULL DEFAULT 150,
			api_key TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			agent_id BIGINT NOT NULL REFERENCES agents(id),
			platform TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			api_token TEXT NOT NULL DEFAULT '',
			webhook_port INT NOT NULL DEFAULT 0,
			phone_number TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			agent_id BIGINT NOT NULL,
			platform TEXT NOT NULL,
			session_id BIGINT NOT NULL,
			user_message TEXT NOT NULL,
			bot_response TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chats_session_sender_created
			ON chats (session_id, sender_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_active
			ON sessions (is_active) WHERE NOT is_deleted;`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id int64) (Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, agent_id, platform, is_active, api_token, webhook_port,
		        phone_number, created_at, updated_at, is_deleted
		 FROM sessions WHERE id=$1 AND NOT is_deleted`, id)

	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.AgentID, &sess.Platform, &sess.Active,
		&sess.APIToken, &sess.WebhookPort, &sess.PhoneNumber, &sess.CreatedAt,
		&sess.UpdatedAt, &sess.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) ListActiveSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, agent_id, platform, is_active, api_token, webhook_port,
		        phone_number, created_at, updated_at, is_deleted
		 FROM sessions WHERE is_active AND NOT is_deleted ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.AgentID, &sess.Platform,
			&sess.Active, &sess.APIToken, &sess.WebhookPort, &sess.PhoneNumber,
			&sess.CreatedAt, &sess.UpdatedAt, &sess.Deleted); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetSessionActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET is_active=$2, updated_at=now() WHERE id=$1 AND NOT is_deleted`,
		id, active)
	if err != nil {
		return fmt.Errorf("set session active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess Session) (int64, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (user_id, agent_id, platform, is_active, api_token, webhook_port, phone_number)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		sess.UserID, sess.AgentID, sess.Platform, sess.Active, sess.APIToken,
		sess.WebhookPort, sess.PhoneNumber)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, id int64) (Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, instruction, start_message, error_message,
		        temperature, max_tokens, api_key, is_active, created_at, is_deleted
		 FROM agents WHERE id=$1 AND NOT is_deleted`, id)

	var a Agent
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Instruction, &a.StartMessage,
		&a.ErrorMessage, &a.Temperature, &a.MaxTokens, &a.APIKey, &a.Active,
		&a.CreatedAt, &a.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) CreateAgent(ctx context.Context, a Agent) (int64, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO agents (user_id, name, instruction, start_message, error_message,
		                     temperature, max_tokens, api_key, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		a.UserID, a.Name, a.Instruction, a.StartMessage, a.ErrorMessage,
		a.Temperature, a.MaxTokens, a.APIKey, a.Active)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("create agent: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, a Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, username, display_name, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Username, a.DisplayName, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendExchange(ctx context.Context, m ChatMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chats (id, sender_id, agent_id, platform, session_id, user_message, bot_response, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.SenderID, m.AgentID, m.Platform, m.SessionID, m.UserMessage,
		m.BotResponse, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, sessionID int64, senderID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, sender_id, agent_id, platform, session_id, user_message, bot_response, created_at
		 FROM chats WHERE session_id=$1 AND sender_id=$2 AND NOT is_deleted
		 ORDER BY created_at DESC LIMIT $3`,
		sessionID, senderID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	items := make([]ChatMessage, 0, limit)
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.SenderID, &m.AgentID, &m.Platform, &m.SessionID,
			&m.UserMessage, &m.BotResponse, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
