package audit

import (
	"context"
	"fmt"

	"cloud.google.com/go/spanner"

	"github.com/qguardian/qguardian/internal/detect"
)

// SpannerStore persists verdict records to Cloud Spanner, mirroring the
// teacher's SpannerWallet client-construction shape
// (internal/reputation/spanner.go), adapted from agent-reputation rows to
// verdict rows.
type SpannerStore struct {
	client *spanner.Client
}

func NewSpannerStore(ctx context.Context, project, instance, database string) (*SpannerStore, error) {
	dbPath := fmt.Sprintf("projects/%s/instances/%s/databases/%s", project, instance, database)
	client, err := spanner.NewClient(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("audit: create spanner client: %w", err)
	}
	return &SpannerStore{client: client}, nil
}

func (s *SpannerStore) RecordVerdict(ctx context.Context, sessionID string, v detect.Verdict) error {
	r := recordFromVerdict(sessionID, v)
	mutation := spanner.InsertOrUpdate("QguardianVerdicts",
		[]string{"SessionID", "Analyzer", "Level", "CVSSVector", "Description", "PID", "Evidence", "ObservedAt"},
		[]interface{}{r.SessionID, r.Analyzer, r.Level, r.CVSSVector, r.Description, r.PID, r.Evidence, r.ObservedAt})
	if _, err := s.client.Apply(ctx, []*spanner.Mutation{mutation}); err != nil {
		return fmt.Errorf("audit: apply spanner mutation: %w", err)
	}
	return nil
}

func (s *SpannerStore) RecordVerdicts(ctx context.Context, sessionID string, verdicts []detect.Verdict) error {
	mutations := make([]*spanner.Mutation, 0, len(verdicts))
	for _, v := range verdicts {
		r := recordFromVerdict(sessionID, v)
		mutations = append(mutations, spanner.InsertOrUpdate("QguardianVerdicts",
			[]string{"SessionID", "Analyzer", "Level", "CVSSVector", "Description", "PID", "Evidence", "ObservedAt"},
			[]interface{}{r.SessionID, r.Analyzer, r.Level, r.CVSSVector, r.Description, r.PID, r.Evidence, r.ObservedAt}))
	}
	if len(mutations) == 0 {
		return nil
	}
	if _, err := s.client.Apply(ctx, mutations); err != nil {
		return fmt.Errorf("audit: apply spanner mutations: %w", err)
	}
	return nil
}

func (s *SpannerStore) Close() error {
	s.client.Close()
	return nil
}
