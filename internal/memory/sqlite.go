package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLitePointerStore persists latest-state pointers in an embedded SQLite file.
type SQLitePointerStore struct {
	db *sql.DB
}

func NewSQLitePointerStore(ctx context.Context, path string) (*SQLitePointerStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	createSQL := `CREATE TABLE IF NOT EXISTS state_pointers (
		user_id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		state_timestamp TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLitePointerStore{db: db}, nil
}

func (s *SQLitePointerStore) SetLatest(ctx context.Context, p StatePointer) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state_pointers (user_id, doc_id, state_timestamp, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE
		 SET doc_id = excluded.doc_id, state_timestamp = excluded.state_timestamp, updated_at = excluded.updated_at
		 WHERE state_pointers.state_timestamp <= excluded.state_timestamp`,
		p.UserID,
		p.DocID,
		p.Timestamp,
		p.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save state pointer: %w", err)
	}
	return nil
}

func (s *SQLitePointerStore) Latest(ctx context.Context, userID string) (StatePointer, bool, error) {
	var (
		p         StatePointer
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, doc_id, state_timestamp, updated_at FROM state_pointers WHERE user_id = ?`,
		userID,
	).Scan(&p.UserID, &p.DocID, &p.Timestamp, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StatePointer{}, false, nil
	}
	if err != nil {
		return StatePointer{}, false, fmt.Errorf("query state pointer: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		p.UpdatedAt = t
	}
	return p, true, nil
}

func (s *SQLitePointerStore) Close() error {
	return s.db.Close()
}
