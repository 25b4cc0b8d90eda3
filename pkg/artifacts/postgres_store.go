package artifacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore implements Store on a single artifacts table. The
// conditional-on-absence write is `INSERT ... ON CONFLICT DO NOTHING`
// keyed by (task_id, stage); when no row is inserted, the existing row
// settles the outcome by content comparison.
//
// Schema:
//
//	CREATE TABLE artifacts (
//	    task_id    TEXT NOT NULL,
//	    stage      TEXT NOT NULL,
//	    content    JSONB NOT NULL,
//	    written_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (task_id, stage)
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle. The caller owns the
// handle's lifecycle; register the lib/pq driver in main.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, key Key, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO artifacts (task_id, stage, content)
		VALUES ($1, $2, $3)
		ON CONFLICT (task_id, stage) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, key.TaskID, key.Stage.String(), data)
	if err != nil {
		return fmt.Errorf("failed to insert artifact: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if inserted > 0 {
		return nil
	}

	existing, err := s.read(ctx, key)
	if err != nil {
		return err
	}
	if sameContent(existing, data) {
		return nil
	}
	return ErrConflict
}

func (s *PostgresStore) Get(ctx context.Context, key Key, dst any) error {
	data, err := s.read(ctx, key)
	if err != nil {
		return err
	}
	return decode(data, dst)
}

func (s *PostgresStore) Exists(ctx context.Context, key Key) (bool, error) {
	var one int
	query := `SELECT 1 FROM artifacts WHERE task_id = $1 AND stage = $2`
	err := s.db.QueryRowContext(ctx, query, key.TaskID, key.Stage.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe artifact: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) read(ctx context.Context, key Key) ([]byte, error) {
	var data []byte
	query := `SELECT content FROM artifacts WHERE task_id = $1 AND stage = $2`
	err := s.db.QueryRowContext(ctx, query, key.TaskID, key.Stage.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}
