package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded single-box backend for local deployments.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL mode for concurrent runtime goroutines sharing one file.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		instruction TEXT NOT NULL DEFAULT '',
		start_message TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		temperature REAL NOT NULL DEFAULT 0.5,
		max_tokens INTEGER NOT NULL DEFAULT 150,
		api_key TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		agent_id INTEGER NOT NULL,
		platform TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 0,
		api_token TEXT NOT NULL DEFAULT '',
		webhook_port INTEGER NOT NULL DEFAULT 0,
		phone_number TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL,
		agent_id INTEGER NOT NULL,
		platform TEXT NOT NULL,
		session_id INTEGER NOT NULL,
		user_message TEXT NOT NULL,
		bot_response TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chats_session_sender_seq ON chats(session_id, sender_id, seq);
	CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(is_active);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id int64) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, agent_id, platform, is_active, api_token, webhook_port,
		        phone_number, created_at, updated_at, is_deleted
		 FROM sessions WHERE id=? AND is_deleted=0`, id)

	sess, err := scanSQLiteSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListActiveSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, agent_id, platform, is_active, api_token, webhook_port,
		        phone_number, created_at, updated_at, is_deleted
		 FROM sessions WHERE is_active=1 AND is_deleted=0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SetSessionActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET is_active=?, updated_at=? WHERE id=? AND is_deleted=0`,
		boolToInt(active), time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("set session active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set session active: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess Session) (int64, error) {
	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, agent_id, platform, is_active, api_token,
		                       webhook_port, phone_number, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.UserID, sess.AgentID, string(sess.Platform), boolToInt(sess.Active),
		sess.APIToken, sess.WebhookPort, sess.PhoneNumber, now, now)
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id int64) (Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, instruction, start_message, error_message,
		        temperature, max_tokens, api_key, is_active, created_at, is_deleted
		 FROM agents WHERE id=? AND is_deleted=0`, id)

	var a Agent
	var active, deleted int
	var createdAt int64
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Instruction, &a.StartMessage,
		&a.ErrorMessage, &a.Temperature, &a.MaxTokens, &a.APIKey, &active,
		&createdAt, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("get agent: %w", err)
	}
	a.Active = active != 0
	a.Deleted = deleted != 0
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	return a, nil
}

func (s *SQLiteStore) CreateAgent(ctx context.Context, a Agent) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (user_id, name, instruction, start_message, error_message,
		                     temperature, max_tokens, api_key, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.Name, a.Instruction, a.StartMessage, a.ErrorMessage,
		a.Temperature, a.MaxTokens, a.APIKey, boolToInt(a.Active), time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("create agent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create agent: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) EnsureAccount(ctx context.Context, a Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, username, display_name, created_at)
		 VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		a.ID, a.Username, a.DisplayName, a.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendExchange(ctx context.Context, m ChatMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	// seq preserves insertion order even when two exchanges land within the
	// same clock tick.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, sender_id, agent_id, platform, session_id,
		                    user_message, bot_response, created_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?,
		         COALESCE((SELECT MAX(seq) FROM chats WHERE session_id=? AND sender_id=?), 0) + 1)`,
		m.ID, m.SenderID, m.AgentID, string(m.Platform), m.SessionID,
		m.UserMessage, m.BotResponse, m.CreatedAt.UnixNano(), m.SessionID, m.SenderID)
	if err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, sessionID int64, senderID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, agent_id, platform, session_id, user_message, bot_response, created_at
		 FROM chats WHERE session_id=? AND sender_id=? AND is_deleted=0
		 ORDER BY seq DESC LIMIT ?`,
		sessionID, senderID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	items := make([]ChatMessage, 0, limit)
	for rows.Next() {
		var m ChatMessage
		var platform string
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SenderID, &m.AgentID, &platform, &m.SessionID,
			&m.UserMessage, &m.BotResponse, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		m.Platform = Platform(platform)
		m.CreatedAt = time.Unix(0, createdAt).UTC()
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row rowScanner) (Session, error) {
	var sess Session
	var platform string
	var active, deleted int
	var createdAt, updatedAt int64
	err := row.Scan(&sess.ID, &sess.UserID, &sess.AgentID, &platform, &active,
		&sess.APIToken, &sess.WebhookPort, &sess.PhoneNumber, &createdAt,
		&updatedAt, &deleted)
	if err != nil {
		return Session{}, err
	}
	sess.Platform = Platform(platform)
	sess.Active = active != 0
	sess.Deleted = deleted != 0
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
