// Package audit implements the Audit Ledger (C11): durable storage of
// every verdict report produced by a session, behind a dual
// postgres/spanner backend selected by configuration — grounded on the
// teacher's NewReputationStoreFromEnv backend-selection factory
// (internal/reputation/factory.go) and its ReputationStore interface shape
// (internal/reputation/interfaces.go).
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/qguardian/qguardian/internal/config"
	"github.com/qguardian/qguardian/internal/detect"
)

// Record is one persisted verdict, scoped to the session that produced it.
type Record struct {
	SessionID   string
	Analyzer    string
	Level       float64
	CVSSVector  string
	Description string
	PID         int64
	Evidence    string
	ObservedAt  time.Time
}

// Store is the backend-agnostic Audit Ledger contract.
type Store interface {
	RecordVerdict(ctx context.Context, sessionID string, v detect.Verdict) error
	RecordVerdicts(ctx context.Context, sessionID string, verdicts []detect.Verdict) error
	Close() error
}

// NewStore builds the configured backend. An empty/"none" backend returns
// a noopStore so the rest of the pipeline never needs a nil check.
func NewStore(ctx context.Context, cfg config.AuditConfig) (Store, error) {
	switch cfg.Backend {
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("audit: postgres backend requires a dsn")
		}
		return NewPostgresStore(cfg.DSN)
	case "spanner":
		if cfg.Spanner.ProjectID == "" || cfg.Spanner.InstanceID == "" || cfg.Spanner.DatabaseID == "" {
			return nil, fmt.Errorf("audit: spanner configuration incomplete")
		}
		return NewSpannerStore(ctx, cfg.Spanner.ProjectID, cfg.Spanner.InstanceID, cfg.Spanner.DatabaseID)
	case "none", "":
		return noopStore{}, nil
	default:
		return nil, fmt.Errorf("audit: unknown backend %q", cfg.Backend)
	}
}

func recordFromVerdict(sessionID string, v detect.Verdict) Record {
	return Record{
		SessionID:   sessionID,
		Analyzer:    v.Analyzer,
		Level:       v.Level,
		CVSSVector:  v.CVSSVector,
		Description: v.Description,
		PID:         v.PID,
		Evidence:    v.Evidence,
		ObservedAt:  time.Now(),
	}
}

type noopStore struct{}

func (noopStore) RecordVerdict(ctx context.Context, sessionID string, v detect.Verdict) error {
	return nil
}

func (noopStore) RecordVerdicts(ctx context.Context, sessionID string, verdicts []detect.Verdict) error {
	return nil
}

func (noopStore) Close() error { return nil }
