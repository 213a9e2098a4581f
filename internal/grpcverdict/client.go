package grpcverdict

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/qguardian/qguardian/internal/verdict"
	"github.com/qguardian/qguardian/pb"
)

// Client pushes completed reports to a remote Verdict Service, for
// deployments where the Audit Ledger is not directly reachable from the
// sandbox host (grpcverdict.Server runs closer to the ledger instead).
type Client struct {
	conn *grpc.ClientConn
	rpc  pb.VerdictServiceClient
}

// Dial connects to addr in plaintext, matching the teacher's own
// grpc.Dial(insecure) usage for intra-cluster links
// (internal/federation/handshake_client.go).
func Dial(addr string) (*Client, error) {
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpcverdict: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, rpc: pb.NewVerdictServiceClient(conn)}, nil
}

// PushReport sends one report, with its high-risk verdicts as records, and
// blocks for the ack.
func (c *Client) PushReport(ctx context.Context, sessionID, target string, rep verdict.Report) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	records := make([]*pb.VerdictRecord, 0, len(rep.HighRisk))
	for _, hr := range rep.HighRisk {
		records = append(records, &pb.VerdictRecord{
			SessionId:   sessionID,
			Analyzer:    hr.Analyzer,
			Level:       hr.Level,
			CvssVector:  hr.CVSSVector,
			Description: hr.Description,
			Pid:         hr.PID,
			Evidence:    hr.Evidence,
		})
	}

	ack, err := c.rpc.PushReport(ctx, &pb.ReportRequest{
		SessionId: sessionID,
		Target:    target,
		Text:      rep.Text,
		Verdicts:  records,
	})
	if err != nil {
		return fmt.Errorf("grpcverdict: push report: %w", err)
	}
	if !ack.Accepted {
		return fmt.Errorf("grpcverdict: report rejected: %s", ack.Message)
	}
	return nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
