// Package db archives scan runs and their matches in Postgres.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/chatgrep/chat"
)

// Connect opens a Postgres connection pool for dsn and checks it is reachable.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("db: empty DSN")
	}
	dbx, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbx.PingContext(pingCtx); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return dbx, nil
}

// Migrate applies idempotent schema changes for all required tables and indices.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scan_runs (
			id UUID PRIMARY KEY,
			command TEXT NOT NULL,
			filter TEXT,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ,
			sources INTEGER DEFAULT 0,
			matched INTEGER DEFAULT 0,
			failed INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS chat_matches (
			id UUID PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES scan_runs(id) ON DELETE CASCADE,
			source TEXT NOT NULL,
			username TEXT,
			body TEXT NOT NULL,
			rel_timestamp DOUBLE PRECISION,
			found_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_matches_run ON chat_matches(run_id, found_at)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_matches_source ON chat_matches(source)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// Store writes runs and matches. It satisfies the scanner's Recorder.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open, migrated database.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// StartRun inserts a run row.
func (s *Store) StartRun(ctx context.Context, runID, command, filter string) error {
	id, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("run id: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scan_runs(id, command, filter, started_at) VALUES($1,$2,$3,NOW()) ON CONFLICT(id) DO NOTHING`,
		id, command, filter)
	return err
}

// FinishRun stores the run's counters.
func (s *Store) FinishRun(ctx context.Context, runID string, sources, matched, failed int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scan_runs SET finished_at=NOW(), sources=$2, matched=$3, failed=$4 WHERE id=$1`,
		runID, sources, matched, failed)
	return err
}

// Record inserts one match.
func (s *Store) Record(ctx context.Context, m chat.Match) error {
	var rel sql.NullFloat64
	if m.Message.Timed {
		rel = sql.NullFloat64{Float64: m.Message.Offset.Seconds(), Valid: true}
	}
	var user sql.NullString
	if m.Message.User != "" {
		user = sql.NullString{String: m.Message.User, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_matches(id, run_id, source, username, body, rel_timestamp, found_at) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		uuid.New(), m.RunID, m.Source, user, m.Message.Body, rel, m.FoundAt)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

// Matches returns the matches of a run in the order they were found.
func (s *Store) Matches(ctx context.Context, runID string) ([]chat.Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, username, body, rel_timestamp, found_at FROM chat_matches WHERE run_id=$1 ORDER BY found_at, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []chat.Match
	for rows.Next() {
		var (
			m    chat.Match
			user sql.NullString
			rel  sql.NullFloat64
		)
		if err := rows.Scan(&m.Source, &user, &m.Message.Body, &rel, &m.FoundAt); err != nil {
			return nil, err
		}
		m.RunID = runID
		m.Message.User = user.String
		if rel.Valid {
			m.Message.Offset = chat.Seconds(rel.Float64)
			m.Message.Timed = true
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
