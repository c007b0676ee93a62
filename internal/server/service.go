package server

import (
	"NoteLedger/internal/command"
	"NoteLedger/internal/core"
	"NoteLedger/internal/ledger"
	fpmath "NoteLedger/internal/math"
	"NoteLedger/internal/observability"
	"NoteLedger/internal/query"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NoteLedgerServer is the server API for the noteledger.v1.NoteLedger
// service. The HTTP gateway drives any implementation of it, either the
// in-process Service or a NoteLedgerClient talking to a remote one.
type NoteLedgerServer interface {
	CreateNote(context.Context, *CreateNoteRequest) (*CreateNoteResponse, error)
	Invest(context.Context, *InvestRequest) (*InvestResponse, error)
	DepositYield(context.Context, *DepositYieldRequest) (*DepositYieldResponse, error)
	Claim(context.Context, *ClaimRequest) (*ClaimResponse, error)
	GetNoteStatus(context.Context, *GetNoteStatusRequest) (*NoteStatusResponse, error)
	NoteCount(context.Context, *NoteCountRequest) (*NoteCountResponse, error)
	Claimable(context.Context, *InvestorRequest) (*ClaimableResponse, error)
	GetStake(context.Context, *InvestorRequest) (*StakeResponse, error)
	DepositHistory(context.Context, *DepositHistoryRequest) (*DepositHistoryResponse, error)

	AuditNote(context.Context, *AuditNoteRequest) (*AuditNoteResponse, error)
	ListJournal(context.Context, *ListJournalRequest) (*query.JournalPage, error)
	GetEventLogInfo(context.Context, *EventLogInfoRequest) (*query.EventLogInfo, error)
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
	TakeSnapshot(context.Context, *TakeSnapshotRequest) (*TakeSnapshotResponse, error)
	GetSystemStatus(context.Context, *SystemStatusRequest) (*SystemStatusResponse, error)
}

// Snapshotter is the admin hook for an on-demand snapshot.
type Snapshotter interface {
	Take(ctx context.Context) error
}

// ServiceDeps holds all dependencies needed by the service.
// Query, Snapshots, Durable and Health may be nil; the matching admin
// calls then answer Unimplemented or report zero values.
type ServiceDeps struct {
	Processor     *core.Processor
	Query         *query.QueryService
	Snapshots     Snapshotter
	Durable       query.Durability
	Health        *observability.HealthChecker
	TokenDecimals int32
	StartTime     time.Time
}

// Service implements NoteLedgerServer on top of core.Processor.
type Service struct {
	deps ServiceDeps
}

func NewService(deps ServiceDeps) *Service {
	if deps.StartTime.IsZero() {
		deps.StartTime = time.Now()
	}
	return &Service{deps: deps}
}

// ============================================================================
// Commands
// ============================================================================

func (s *Service) CreateNote(ctx context.Context, req *CreateNoteRequest) (*CreateNoteResponse, error) {
	id, err := command.ParseRequestID(req.RequestID)
	if err != nil {
		return nil, toStatus(err)
	}
	goal, err := command.ParseAmount("goal", req.Goal)
	if err != nil {
		return nil, toStatus(err)
	}
	tokenRef, err := command.ParseAddress("token_ref", req.TokenRef)
	if err != nil {
		return nil, toStatus(err)
	}
	beneficiary, err := command.ParseAddress("beneficiary", req.Beneficiary)
	if err != nil {
		return nil, toStatus(err)
	}
	res, err := s.deps.Processor.Execute(ctx, &command.CreateNote{
		ID:          id,
		Goal:        goal,
		TokenRef:    tokenRef,
		Beneficiary: beneficiary,
		Terms:       req.Terms,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &CreateNoteResponse{RequestID: res.RequestID.String(), NoteID: uint64(res.NoteID)}, nil
}

func (s *Service) Invest(ctx context.Context, req *InvestRequest) (*InvestResponse, error) {
	id, err := command.ParseRequestID(req.RequestID)
	if err != nil {
		return nil, toStatus(err)
	}
	investor, err := command.ParseAddress("investor", req.Investor)
	if err != nil {
		return nil, toStatus(err)
	}
	amount, err := command.ParseAmount("amount", req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}

	res, err := s.deps.Processor.Execute(ctx, &command.Invest{
		ID:       id,
		Note:     ledger.NoteID(req.NoteID),
		Investor: investor,
		Amount:   amount,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &InvestResponse{
		RequestID:       res.RequestID.String(),
		NoteID:          req.NoteID,
		Invested:        fpmath.FormatAmount(res.Amount),
		InvestedDisplay: s.display(res.Amount),
	}, nil
}

func (s *Service) DepositYield(ctx context.Context, req *DepositYieldRequest) (*DepositYieldResponse, error) {
	id, err := command.ParseRequestID(req.RequestID)
	if err != nil {
		return nil, toStatus(err)
	}
	payer, err := command.ParseAddress("payer", req.Payer)
	if err != nil {
		return nil, toStatus(err)
	}
	amount, err := command.ParseAmount("amount", req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}

	res, err := s.deps.Processor.Execute(ctx, &command.DepositYield{
		ID:     id,
		Note:   ledger.NoteID(req.NoteID),
		Payer:  payer,
		Amount: amount,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &DepositYieldResponse{
		RequestID:   res.RequestID.String(),
		NoteID:      req.NoteID,
		AccPerShare: fpmath.FormatAmount(res.Amount),
	}, nil
}

func (s *Service) Claim(ctx context.Context, req *ClaimRequest) (*ClaimResponse, error) {
	id, err := command.ParseRequestID(req.RequestID)
	if err != nil {
		return nil, toStatus(err)
	}
	investor, err := command.ParseAddress("investor", req.Investor)
	if err != nil {
		return nil, toStatus(err)
	}

	res, err := s.deps.Processor.Execute(ctx, &command.Claim{
		ID:       id,
		Note:     ledger.NoteID(req.NoteID),
		Investor: investor,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &ClaimResponse{
		RequestID:   res.RequestID.String(),
		NoteID:      req.NoteID,
		Paid:        fpmath.FormatAmount(res.Amount),
		PaidDisplay: s.display(res.Amount),
	}, nil
}

// ============================================================================
// Reads
// ============================================================================

func (s *Service) GetNoteStatus(ctx context.Context, req *GetNoteStatusRequest) (*NoteStatusResponse, error) {
	st, err := s.deps.Processor.NoteStatus(ledger.NoteID(req.NoteID))
	if err != nil {
		return nil, toStatus(err)
	}
	return &NoteStatusResponse{
		NoteID:                uint64(st.ID),
		State:                 st.State().String(),
		TokenRef:              st.TokenRef.Hex(),
		Beneficiary:           st.Beneficiary.Hex(),
		Terms:                 st.Terms,
		Goal:                  fpmath.FormatAmount(&st.Goal),
		GoalDisplay:           s.display(&st.Goal),
		Raised:                fpmath.FormatAmount(&st.Raised),
		RaisedDisplay:         s.display(&st.Raised),
		Closed:                st.Closed,
		AccPerShare:           fpmath.FormatAmount(&st.AccPerShare),
		TotalDeposited:        fpmath.FormatAmount(&st.TotalDeposited),
		TotalDepositedDisplay: s.display(&st.TotalDeposited),
		TotalClaimed:          fpmath.FormatAmount(&st.TotalClaimed),
		TotalClaimedDisplay:   s.display(&st.TotalClaimed),
		DepositCount:          st.DepositCount,
		InvestorCount:         st.InvestorCount,
		CreatedAt:             st.CreatedAt,
		Version:               st.Version,
	}, nil
}

func (s *Service) NoteCount(ctx context.Context, _ *NoteCountRequest) (*NoteCountResponse, error) {
	return &NoteCountResponse{Count: s.deps.Processor.NoteCount()}, nil
}

func (s *Service) Claimable(ctx context.Context, req *InvestorRequest) (*ClaimableResponse, error) {
	investor, err := command.ParseAddress("investor", req.Investor)
	if err != nil {
		return nil, toStatus(err)
	}
	amount, err := s.deps.Processor.Claimable(ledger.NoteID(req.NoteID), investor)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ClaimableResponse{
		NoteID:        req.NoteID,
		Investor:      investor.Hex(),
		Amount:        fpmath.FormatAmount(amount),
		AmountDisplay: s.display(amount),
	}, nil
}

func (s *Service) GetStake(ctx context.Context, req *InvestorRequest) (*StakeResponse, error) {
	investor, err := command.ParseAddress("investor", req.Investor)
	if err != nil {
		return nil, toStatus(err)
	}
	stake, err := s.deps.Processor.StakeOf(ledger.NoteID(req.NoteID), investor)
	if err != nil {
		return nil, toStatus(err)
	}
	return &StakeResponse{
		NoteID:     req.NoteID,
		Investor:   investor.Hex(),
		Invested:   fpmath.FormatAmount(&stake.Invested),
		RewardDebt: fpmath.FormatAmount(&stake.RewardDebt),
		Claimed:    fpmath.FormatAmount(&stake.Claimed),
	}, nil
}

func (s *Service) DepositHistory(ctx context.Context, req *DepositHistoryRequest) (*DepositHistoryResponse, error) {
	deps, err := s.deps.Processor.DepositHistory(ledger.NoteID(req.NoteID))
	if err != nil {
		return nil, toStatus(err)
	}

	out := &DepositHistoryResponse{NoteID: req.NoteID, Deposits: make([]DepositView, 0, len(deps))}
	for i := range deps {
		d := &deps[i]
		out.Deposits = append(out.Deposits, DepositView{
			Sequence:             d.Sequence,
			Payer:                d.Payer.Hex(),
			Amount:               fpmath.FormatAmount(&d.Amount),
			AmountDisplay:        s.display(&d.Amount),
			ResultingAccPerShare: fpmath.FormatAmount(&d.ResultingAccPerShare),
			Timestamp:            d.Timestamp,
		})
	}
	return out, nil
}

// ============================================================================
// Admin
// ============================================================================

// AuditNote runs the full invariant audit. A violation is reported in the
// response rather than as an RPC error.
func (s *Service) AuditNote(ctx context.Context, req *AuditNoteRequest) (*AuditNoteResponse, error) {
	audit, err := s.deps.Processor.Audit(ledger.NoteID(req.NoteID))
	if errors.Is(err, ledger.ErrNoteNotFound) {
		return nil, toStatus(err)
	}

	resp := &AuditNoteResponse{
		NoteID:    req.NoteID,
		Healthy:   err == nil,
		Investors: audit.Investors,
		Deposited: fpmath.FormatAmount(&audit.Deposited),
		Earned:    fpmath.FormatAmount(&audit.Earned),
		Dust:      fpmath.FormatAmount(&audit.Dust),
		DustBound: fpmath.FormatAmount(&audit.DustBound),
	}
	if err != nil {
		resp.Violation = err.Error()
	}
	return resp, nil
}

func (s *Service) ListJournal(ctx context.Context, req *ListJournalRequest) (*query.JournalPage, error) {
	if s.deps.Query == nil {
		return nil, status.Error(codes.Unimplemented, "journal queries are not configured")
	}
	page, err := s.deps.Query.Journal(ctx, req.After, req.Limit)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list journal: %v", err)
	}
	return page, nil
}

func (s *Service) GetEventLogInfo(ctx context.Context, _ *EventLogInfoRequest) (*query.EventLogInfo, error) {
	if s.deps.Query == nil {
		return nil, status.Error(codes.Unimplemented, "event log queries are not configured")
	}
	info, err := s.deps.Query.GetEventLogInfo(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get event log info: %v", err)
	}
	return info, nil
}

func (s *Service) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	if s.deps.Query == nil {
		return nil, status.Error(codes.Unimplemented, "integrity checks are not configured")
	}
	report, err := s.deps.Query.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	return report, nil
}

func (s *Service) TakeSnapshot(ctx context.Context, _ *TakeSnapshotRequest) (*TakeSnapshotResponse, error) {
	if s.deps.Snapshots == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots are not configured")
	}
	if err := s.deps.Snapshots.Take(ctx); err != nil {
		return nil, status.Errorf(codes.Internal, "take snapshot: %v", err)
	}

	resp := &TakeSnapshotResponse{}
	if s.deps.Query != nil {
		info, err := s.deps.Query.GetEventLogInfo(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "read back snapshot: %v", err)
		}
		resp.Sequence = info.SnapshotSequence
		resp.Notes = info.SnapshotNotes
	}
	return resp, nil
}

func (s *Service) GetSystemStatus(ctx context.Context, _ *SystemStatusRequest) (*SystemStatusResponse, error) {
	resp := &SystemStatusResponse{
		Sequence:      s.deps.Processor.Sequence(),
		Notes:         s.deps.Processor.NoteCount(),
		Ready:         true,
		UptimeSeconds: int64(time.Since(s.deps.StartTime).Seconds()),
	}
	if s.deps.Durable != nil {
		resp.DurableSequence = s.deps.Durable.Watermark()
	}
	if s.deps.Health != nil {
		resp.Ready = s.deps.Health.IsReady()
	}
	return resp, nil
}

// --- helpers ---

func (s *Service) display(v *uint256.Int) string {
	return fpmath.FormatUnits(v, s.deps.TokenDecimals)
}

// parseNoteID parses a note id from an HTTP path segment.
func parseNoteID(raw string) (uint64, error) {
	id, err := ledger.ParseNoteID(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: note_id %q: %v", command.ErrInvalidCommand, raw, err)
	}
	return uint64(id), nil
}
