package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"groovecast/internal/core"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS queue_state (
	chat_id    TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// SQLiteQueueStore persists queue snapshots in a SQLite database.
type SQLiteQueueStore struct {
	db *sql.DB
}

// NewSQLiteQueueStore opens (creating if needed) the database at path.
func NewSQLiteQueueStore(path string) (*SQLiteQueueStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	// Writes are serialised by SQLite anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure queue database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create queue schema: %w", err)
	}
	return &SQLiteQueueStore{db: db}, nil
}

func (s *SQLiteQueueStore) SaveQueueState(ctx context.Context, chatID string, snapshot *core.QueueSnapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO queue_state (chat_id, state, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(chat_id) DO UPDATE SET
		state = excluded.state,
		updated_at = excluded.updated_at;`,
		chatID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save queue state for %s: %w", chatID, err)
	}
	return nil
}

func (s *SQLiteQueueStore) LoadQueueState(ctx context.Context, chatID string) (*core.QueueSnapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT state FROM queue_state WHERE chat_id = ?", chatID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue state for %s: %w", chatID, err)
	}
	return decodeSnapshot([]byte(data))
}

func (s *SQLiteQueueStore) DeleteQueueState(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM queue_state WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("failed to delete queue state for %s: %w", chatID, err)
	}
	return nil
}

func (s *SQLiteQueueStore) Close() error {
	return s.db.Close()
}
