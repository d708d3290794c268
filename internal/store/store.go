package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Schema creates the tables used by the store.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
    profile    TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (profile, key)
);
CREATE TABLE IF NOT EXISTS sessions (
    id          UUID PRIMARY KEY,
    page_url    TEXT NOT NULL,
    archived_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_messages (
    session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    seq        INTEGER NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    PRIMARY KEY (session_id, seq)
);
`

const (
	sqlSelectSettings = `SELECT key, value FROM settings WHERE profile = $1`
	sqlUpsertSetting  = `
        INSERT INTO settings (profile, key, value, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (profile, key) DO UPDATE SET
            value = EXCLUDED.value,
            updated_at = EXCLUDED.updated_at;
    `
	sqlInsertSession = `
        INSERT INTO sessions (id, page_url, archived_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET archived_at = EXCLUDED.archived_at;
    `
	sqlDeleteMessages = `DELETE FROM chat_messages WHERE session_id = $1`
)

var chatColumns = []string{"session_id", "seq", "role", "content"}

// Store persists settings and chat transcripts in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// LoadSettings returns every setting stored for profile.
func (s *Store) LoadSettings(ctx context.Context, profile string) (map[string]interface{}, error) {
	rows, err := s.pool.Query(ctx, sqlSelectSettings, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]interface{})
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			s.log.Warn("Skipping undecodable setting.", zap.String("key", key), zap.Error(err))
			continue
		}
		out[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return out, nil
}

// SaveSetting upserts a single setting for profile.
func (s *Store) SaveSetting(ctx context.Context, profile, key string, value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %q: %w", key, err)
	}
	if _, err := s.pool.Exec(ctx, sqlUpsertSetting, profile, key, string(encoded), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save setting %q: %w", key, err)
	}
	return nil
}

// ArchiveTranscript replaces the stored transcript of a session.
func (s *Store) ArchiveTranscript(ctx context.Context, sessionID, pageURL string, messages []schemas.ChatMessage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertSession, sessionID, pageURL, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	if _, err := tx.Exec(ctx, sqlDeleteMessages, sessionID); err != nil {
		return fmt.Errorf("failed to clear previous transcript: %w", err)
	}

	if len(messages) > 0 {
		rows := make([][]interface{}, len(messages))
		for i, m := range messages {
			rows[i] = []interface{}{sessionID, i, string(m.Role), m.Content}
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"chat_messages"}, chatColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy chat messages: %w", err)
		}
		if int(n) != len(messages) {
			return fmt.Errorf("mismatch in copied chat messages: expected %d, got %d", len(messages), n)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Archived transcript.", zap.String("session_id", sessionID), zap.Int("messages", len(messages)))
	return nil
}
