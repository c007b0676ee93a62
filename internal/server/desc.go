package server

import (
	"NoteLedger/internal/query"
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "noteledger.v1.NoteLedger"

// unary builds the method descriptor for one RPC, the way protoc-gen-go-grpc
// generates a _Service_Method_Handler.
func unary[Req, Resp any](name string, call func(NoteLedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(NoteLedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(NoteLedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// NoteLedger_ServiceDesc is the grpc.ServiceDesc for the NoteLedger service
// declared in proto/noteledger/v1/noteledger.proto.
var NoteLedger_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NoteLedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateNote", NoteLedgerServer.CreateNote),
		unary("Invest", NoteLedgerServer.Invest),
		unary("DepositYield", NoteLedgerServer.DepositYield),
		unary("Claim", NoteLedgerServer.Claim),
		unary("GetNoteStatus", NoteLedgerServer.GetNoteStatus),
		unary("NoteCount", NoteLedgerServer.NoteCount),
		unary("Claimable", NoteLedgerServer.Claimable),
		unary("GetStake", NoteLedgerServer.GetStake),
		unary("DepositHistory", NoteLedgerServer.DepositHistory),
		unary("AuditNote", NoteLedgerServer.AuditNote),
		unary("ListJournal", NoteLedgerServer.ListJournal),
		unary("GetEventLogInfo", NoteLedgerServer.GetEventLogInfo),
		unary("VerifyIntegrity", NoteLedgerServer.VerifyIntegrity),
		unary("TakeSnapshot", NoteLedgerServer.TakeSnapshot),
		unary("GetSystemStatus", NoteLedgerServer.GetSystemStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "noteledger/v1/noteledger.proto",
}

func RegisterNoteLedgerServer(s grpc.ServiceRegistrar, srv NoteLedgerServer) {
	s.RegisterService(&NoteLedger_ServiceDesc, srv)
}

// NoteLedgerClient calls the service over a gRPC connection using the json
// codec. It satisfies NoteLedgerServer, so the HTTP gateway can proxy
// through it.
type NoteLedgerClient struct {
	cc   grpc.ClientConnInterface
	opts []grpc.CallOption
}

func NewNoteLedgerClient(cc grpc.ClientConnInterface, opts ...grpc.CallOption) *NoteLedgerClient {
	return &NoteLedgerClient{
		cc:   cc,
		opts: append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...),
	}
}

func invoke[Req, Resp any](ctx context.Context, c *NoteLedgerClient, method string, in *Req) (*Resp, error) {
	out := new(Resp)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, c.opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *NoteLedgerClient) CreateNote(ctx context.Context, in *CreateNoteRequest) (*CreateNoteResponse, error) {
	return invoke[CreateNoteRequest, CreateNoteResponse](ctx, c, "CreateNote", in)
}

func (c *NoteLedgerClient) Invest(ctx context.Context, in *InvestRequest) (*InvestResponse, error) {
	return invoke[InvestRequest, InvestResponse](ctx, c, "Invest", in)
}

func (c *NoteLedgerClient) DepositYield(ctx context.Context, in *DepositYieldRequest) (*DepositYieldResponse, error) {
	return invoke[DepositYieldRequest, DepositYieldResponse](ctx, c, "DepositYield", in)
}

func (c *NoteLedgerClient) Claim(ctx context.Context, in *ClaimRequest) (*ClaimResponse, error) {
	return invoke[ClaimRequest, ClaimResponse](ctx, c, "Claim", in)
}

func (c *NoteLedgerClient) GetNoteStatus(ctx context.Context, in *GetNoteStatusRequest) (*NoteStatusResponse, error) {
	return invoke[GetNoteStatusRequest, NoteStatusResponse](ctx, c, "GetNoteStatus", in)
}

func (c *NoteLedgerClient) NoteCount(ctx context.Context, in *NoteCountRequest) (*NoteCountResponse, error) {
	return invoke[NoteCountRequest, NoteCountResponse](ctx, c, "NoteCount", in)
}

func (c *NoteLedgerClient) Claimable(ctx context.Context, in *InvestorRequest) (*ClaimableResponse, error) {
	return invoke[InvestorRequest, ClaimableResponse](ctx, c, "Claimable", in)
}

func (c *NoteLedgerClient) GetStake(ctx context.Context, in *InvestorRequest) (*StakeResponse, error) {
	return invoke[InvestorRequest, StakeResponse](ctx, c, "GetStake", in)
}

func (c *NoteLedgerClient) DepositHistory(ctx context.Context, in *DepositHistoryRequest) (*DepositHistoryResponse, error) {
	return invoke[DepositHistoryRequest, DepositHistoryResponse](ctx, c, "DepositHistory", in)
}

func (c *NoteLedgerClient) AuditNote(ctx context.Context, in *AuditNoteRequest) (*AuditNoteResponse, error) {
	return invoke[AuditNoteRequest, AuditNoteResponse](ctx, c, "AuditNote", in)
}

func (c *NoteLedgerClient) ListJournal(ctx context.Context, in *ListJournalRequest) (*query.JournalPage, error) {
	return invoke[ListJournalRequest, query.JournalPage](ctx, c, "ListJournal", in)
}

func (c *NoteLedgerClient) GetEventLogInfo(ctx context.Context, in *EventLogInfoRequest) (*query.EventLogInfo, error) {
	return invoke[EventLogInfoRequest, query.EventLogInfo](ctx, c, "GetEventLogInfo", in)
}

func (c *NoteLedgerClient) VerifyIntegrity(ctx context.Context, in *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	return invoke[VerifyIntegrityRequest, query.IntegrityReport](ctx, c, "VerifyIntegrity", in)
}

func (c *NoteLedgerClient) TakeSnapshot(ctx context.Context, in *TakeSnapshotRequest) (*TakeSnapshotResponse, error) {
	return invoke[TakeSnapshotRequest, TakeSnapshotResponse](ctx, c, "TakeSnapshot", in)
}

func (c *NoteLedgerClient) GetSystemStatus(ctx context.Context, in *SystemStatusRequest) (*SystemStatusResponse, error) {
	return invoke[SystemStatusRequest, SystemStatusResponse](ctx, c, "GetSystemStatus", in)
}
