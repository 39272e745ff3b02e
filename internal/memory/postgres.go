package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPointerStore persists latest-state pointers in PostgreSQL.
type PostgresPointerStore struct {
	pool *pgxpool.Pool
}

func NewPostgresPointerStore(ctx context.Context, databaseURL string) (*PostgresPointerStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPointerSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresPointerStore{pool: pool}, nil
}

func initPointerSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS state_pointers (
			user_id TEXT PRIMARY KEY,
			doc_id TEXT NOT NULL,
			state_timestamp TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresPointerStore) SetLatest(ctx context.Context, p StatePointer) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO state_pointers (user_id, doc_id, state_timestamp, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET doc_id = EXCLUDED.doc_id, state_timestamp = EXCLUDED.state_timestamp, updated_at = EXCLUDED.updated_at
		 WHERE state_pointers.state_timestamp <= EXCLUDED.state_timestamp`,
		p.UserID,
		p.DocID,
		p.Timestamp,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save state pointer: %w", err)
	}
	return nil
}

func (s *PostgresPointerStore) Latest(ctx context.Context, userID string) (StatePointer, bool, error) {
	var p StatePointer
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, doc_id, state_timestamp, updated_at FROM state_pointers WHERE user_id=$1`,
		userID,
	).Scan(&p.UserID, &p.DocID, &p.Timestamp, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StatePointer{}, false, nil
	}
	if err != nil {
		return StatePointer{}, false, fmt.Errorf("query state pointer: %w", err)
	}
	return p, true, nil
}

func (s *PostgresPointerStore) Close() error {
	s.pool.Close()
	return nil
}
