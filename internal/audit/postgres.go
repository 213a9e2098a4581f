package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/qguardian/qguardian/internal/detect"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS qguardian_verdicts (
	id           BIGSERIAL PRIMARY KEY,
	session_id   TEXT NOT NULL,
	analyzer     TEXT NOT NULL,
	level        DOUBLE PRECISION NOT NULL,
	cvss_vector  TEXT,
	description  TEXT,
	pid          BIGINT,
	evidence     TEXT,
	observed_at  TIMESTAMPTZ NOT NULL
)`

const insertSQL = `
INSERT INTO qguardian_verdicts
	(session_id, analyzer, level, cvss_vector, description, pid, evidence, observed_at)
VALUES
	($1, $2, $3, $4, $5, $6, $7, $8)`

// PostgresStore persists verdict records to a Postgres database via
// database/sql and the lib/pq driver.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the connection and ensures the ledger table
// exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open postgres: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ensure table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) RecordVerdict(ctx context.Context, sessionID string, v detect.Verdict) error {
	r := recordFromVerdict(sessionID, v)
	_, err := s.db.ExecContext(ctx, insertSQL,
		r.SessionID, r.Analyzer, r.Level, r.CVSSVector, r.Description, r.PID, r.Evidence, r.ObservedAt)
	if err != nil {
		return fmt.Errorf("audit: insert verdict: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordVerdicts(ctx context.Context, sessionID string, verdicts []detect.Verdict) error {
	for _, v := range verdicts {
		if err := s.RecordVerdict(ctx, sessionID, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
