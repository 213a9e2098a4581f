package grpcverdict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qguardian/qguardian/internal/audit"
	"github.com/qguardian/qguardian/internal/config"
	"github.com/qguardian/qguardian/pb"
)

func TestPushReport_RecordsToStore(t *testing.T) {
	store, err := audit.NewStore(context.Background(), config.AuditConfig{Backend: "none"})
	require.NoError(t, err)

	srv := NewServer(store)
	ack, err := srv.PushReport(context.Background(), &pb.ReportRequest{
		SessionId: "session-1",
		Verdicts: []*pb.VerdictRecord{
			{Analyzer: "fork_bomb", Level: 9.5, Pid: 1234},
		},
	})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
}

func TestPushReport_EmptyVerdictsStillAccepted(t *testing.T) {
	store, err := audit.NewStore(context.Background(), config.AuditConfig{Backend: "none"})
	require.NoError(t, err)

	srv := NewServer(store)
	ack, err := srv.PushReport(context.Background(), &pb.ReportRequest{SessionId: "session-2"})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
}
