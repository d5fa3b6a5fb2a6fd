// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session persists chat history in SQLite so an agent built for a
// request can replay the recent turns of its session.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/chatmcp/internal/sqlitedriver"
	"github.com/teradata-labs/chatmcp/pkg/llm"
)

// Message is one persisted conversation turn. A run groups the messages
// produced by one user prompt: the prompt, tool calls and results, and the
// final reply.
type Message struct {
	llm.Message

	ID        string
	SessionID string
	RunID     string
	CreatedAt time.Time
}

// Session describes a stored chat session.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  int       `json:"messages"`
}

// Store is a SQLite-backed chat history.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	key string
}

// WithEncryptionKey opens an encrypted database. It requires a cgo build.
func WithEncryptionKey(key string) Option {
	return func(o *openOptions) { o.key = key }
}

// Open opens (creating if needed) the database at path and initializes the
// schema. Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string, logger *zap.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}
	if path != sqlitedriver.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlitedriver.Open(ctx, path, o.key)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, logger: logger}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("Session store opened",
		zap.String("path", path),
		zap.Bool("encrypted", o.key != ""))
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_sessions (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL REFERENCES agent_sessions(id) ON DELETE CASCADE,
		run_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_call_id TEXT,
		is_error INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_messages_run ON messages(session_id, run_id);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return nil
}

// EnsureSession creates the session if it does not exist yet.
func (s *Store) EnsureSession(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, now, now)
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", id, err)
	}
	return nil
}

// Append stores messages in order within one transaction. Empty IDs are
// filled with UUIDs and zero timestamps with the current time.
func (s *Store) Append(ctx context.Context, msgs ...*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	touched := make(map[string]bool)
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}

		var toolCalls sql.NullString
		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("failed to encode tool calls: %w", err)
			}
			toolCalls = sql.NullString{String: string(data), Valid: true}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, run_id, role, content, tool_calls, tool_call_id, is_error, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.SessionID, m.RunID, m.Role, m.Content, toolCalls,
			sql.NullString{String: m.ToolUseID, Valid: m.ToolUseID != ""},
			m.IsError, m.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		touched[m.SessionID] = true
	}

	for id := range touched {
		if _, err := tx.ExecContext(ctx,
			`UPDATE agent_sessions SET updated_at = ? WHERE id = ?`, now.UnixMilli(), id); err != nil {
			return fmt.Errorf("failed to touch session %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

// History returns the messages of the last runs runs of a session in
// chronological order. runs <= 0 returns nothing.
func (s *Store) History(ctx context.Context, sessionID string, runs int) ([]Message, error) {
	if runs <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, run_id, role, content, tool_calls, tool_call_id, is_error, created_at
		FROM messages
		WHERE session_id = ? AND run_id IN (
			SELECT run_id FROM messages
			WHERE session_id = ?
			GROUP BY run_id
			ORDER BY MIN(seq) DESC
			LIMIT ?
		)
		ORDER BY seq`,
		sessionID, sessionID, runs)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var (
			m          Message
			toolCalls  sql.NullString
			toolCallID sql.NullString
			createdAt  int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.RunID, &m.Role, &m.Content,
			&toolCalls, &toolCallID, &m.IsError, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				s.logger.Warn("Dropping undecodable tool calls",
					zap.String("message_id", m.ID), zap.Error(err))
			}
		}
		m.ToolUseID = toolCallID.String
		m.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return out, nil
}

// Sessions lists sessions, most recently updated first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.created_at, s.updated_at, COUNT(m.seq)
		FROM agent_sessions s
		LEFT JOIN messages m ON m.session_id = s.id
		GROUP BY s.id
		ORDER BY s.updated_at DESC, s.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Session
	for rows.Next() {
		var (
			sess             Session
			created, updated int64
		)
		if err := rows.Scan(&sess.ID, &created, &updated, &sess.Messages); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.CreatedAt = time.UnixMilli(created)
		sess.UpdatedAt = time.UnixMilli(updated)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
