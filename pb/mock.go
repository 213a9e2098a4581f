// Package pb holds hand-authored stand-ins for the generated protobuf/gRPC
// types a real .proto/protoc-gen-go pipeline would produce for the Verdict
// Service — the same "write the types and service interfaces by hand"
// shape the teacher used for its own Ledger/Plan services instead of
// running protoc (pb/mock.go in the original tree).
package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// VerdictRecord is the wire shape of one detector finding.
type VerdictRecord struct {
	SessionId   string
	Analyzer    string
	Level       float64
	CvssVector  string
	Description string
	Pid         int64
	Evidence    string
	ObservedAt  *timestamppb.Timestamp
}

// ReportRequest carries one aggregated report: its target, framed text,
// and the verdict records the sender attached to it.
type ReportRequest struct {
	SessionId string
	Target    string
	Text      string
	Verdicts  []*VerdictRecord
}

// ReportAck is the server's acknowledgement.
type ReportAck struct {
	Accepted bool
	Message  string
}

// VerdictServiceClient is the client half of the Verdict Service — a
// unary report push answered by a single acknowledgement.
type VerdictServiceClient interface {
	PushReport(ctx context.Context, in *ReportRequest, opts ...grpc.CallOption) (*ReportAck, error)
}

// VerdictServiceServer is the server half.
type VerdictServiceServer interface {
	PushReport(context.Context, *ReportRequest) (*ReportAck, error)
}

// UnimplementedVerdictServiceServer embeds into a concrete server so
// adding new RPCs later does not break existing implementations — the
// same forward-compatibility shim protoc itself generates.
type UnimplementedVerdictServiceServer struct{}

func (u *UnimplementedVerdictServiceServer) PushReport(context.Context, *ReportRequest) (*ReportAck, error) {
	return nil, nil
}

type verdictServiceClient struct {
	cc *grpc.ClientConn
}

// NewVerdictServiceClient wraps an established connection with the typed
// client interface, mirroring the constructor shape protoc-gen-go-grpc
// would emit.
func NewVerdictServiceClient(cc *grpc.ClientConn) VerdictServiceClient {
	return &verdictServiceClient{cc: cc}
}

func (c *verdictServiceClient) PushReport(ctx context.Context, in *ReportRequest, opts ...grpc.CallOption) (*ReportAck, error) {
	out := new(ReportAck)
	err := c.cc.Invoke(ctx, "/qguardian.VerdictService/PushReport", in, out, opts...)
	return out, err
}

// RegisterVerdictServiceServer wires an implementation into a grpc.Server,
// matching the registration call protoc-gen-go-grpc generates.
func RegisterVerdictServiceServer(s grpc.ServiceRegistrar, srv VerdictServiceServer) {
	s.RegisterService(&verdictServiceDesc, srv)
}

var verdictServiceDesc = grpc.ServiceDesc{
	ServiceName: "qguardian.VerdictService",
	HandlerType: (*VerdictServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "PushReport",
			Handler:    pushReportHandler,
		},
	},
}

func pushReportHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReportRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VerdictServiceServer).PushReport(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/qguardian.VerdictService/PushReport",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VerdictServiceServer).PushReport(ctx, req.(*ReportRequest))
	}
	return interceptor(ctx, in, info, handler)
}
