// Package grpcverdict implements the gRPC Verdict Service (C15): a unary
// RPC surface for pushing a completed session's report to a remote
// collector, with optional SPIFFE/SPIRE mutual TLS — grounded on the
// teacher's identity.SPIFFEVerifier (internal/identity/spiffe.go) for the
// mTLS setup and its plain grpc.NewServer usage elsewhere
// (cmd/probe/main.go).
package grpcverdict

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"

	"github.com/qguardian/qguardian/internal/audit"
	"github.com/qguardian/qguardian/internal/detect"
	"github.com/qguardian/qguardian/pb"
)

// Server implements pb.VerdictServiceServer, persisting every pushed
// report to the configured Audit Ledger.
type Server struct {
	pb.UnimplementedVerdictServiceServer
	store audit.Store
}

func NewServer(store audit.Store) *Server {
	return &Server{store: store}
}

func (s *Server) PushReport(ctx context.Context, req *pb.ReportRequest) (*pb.ReportAck, error) {
	verdicts := make([]detect.Verdict, 0, len(req.Verdicts))
	for _, v := range req.Verdicts {
		verdicts = append(verdicts, detect.Verdict{
			Analyzer:    v.Analyzer,
			Level:       v.Level,
			CVSSVector:  v.CvssVector,
			Description: v.Description,
			PID:         v.Pid,
			Evidence:    v.Evidence,
		})
	}

	if err := s.store.RecordVerdicts(ctx, req.SessionId, verdicts); err != nil {
		slog.Error("grpcverdict: record verdicts failed", "session_id", req.SessionId, "error", err)
		return &pb.ReportAck{Accepted: false, Message: err.Error()}, nil
	}

	return &pb.ReportAck{Accepted: true}, nil
}

// Listen starts a gRPC server on addr. If spiffeSocket is non-empty, the
// server uses mutual TLS authenticated against the local SPIRE agent; if
// those credentials cannot be built it logs a warning and serves in
// plaintext. With an empty spiffeSocket it serves in plaintext, suitable
// only for same-host or already-tunneled deployments.
func Listen(addr string, srv *Server, spiffeSocket string) (*grpc.Server, net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("grpcverdict: listen: %w", err)
	}

	var opts []grpc.ServerOption
	if spiffeSocket != "" {
		creds, err := spiffeServerCredentials(spiffeSocket)
		if err != nil {
			slog.Warn("grpcverdict: spiffe mTLS unavailable, serving without transport auth", "error", err)
		} else {
			opts = append(opts, grpc.Creds(creds))
		}
	}

	s := grpc.NewServer(opts...)
	pb.RegisterVerdictServiceServer(s, srv)
	return s, lis, nil
}

// spiffeServerCredentials connects to the local SPIRE Workload API and
// builds mTLS credentials that authorize any peer SVID — authorization
// beyond "has a valid SVID" is left to the caller's deployment (SPIRE
// registration entries scope which workloads can even obtain one).
func spiffeServerCredentials(socketPath string) (credentials.TransportCredentials, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	source, err := workloadapi.NewX509Source(ctx, workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)))
	if err != nil {
		return nil, fmt.Errorf("grpcverdict: connect to spire agent: %w", err)
	}

	tlsConf := tlsconfig.MTLSServerConfig(source, source, tlsconfig.AuthorizeAny())
	return credentials.NewTLS(tlsConf), nil
}
