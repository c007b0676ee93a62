package server

import (
	"time"
)

// Messages of the noteledger.v1.NoteLedger service. They travel as JSON on
// both transports: the gRPC json codec and the HTTP gateway. Amounts are
// base-10 strings in token base units; *_display fields are the same value
// scaled by the configured token decimals. Terms are opaque bytes, base64 in
// JSON.

type CreateNoteRequest struct {
	RequestID   string `json:"request_id,omitempty"`
	Goal        string `json:"goal"`
	TokenRef    string `json:"token_ref"`
	Beneficiary string `json:"beneficiary"`
	Terms       []byte `json:"terms,omitempty"`
}

type CreateNoteResponse struct {
	RequestID string `json:"request_id"`
	NoteID    uint64 `json:"note_id"`
}

type InvestRequest struct {
	RequestID string `json:"request_id,omitempty"`
	NoteID    uint64 `json:"note_id"`
	Investor  string `json:"investor"`
	Amount    string `json:"amount"`
}

type InvestResponse struct {
	RequestID       string `json:"request_id"`
	NoteID          uint64 `json:"note_id"`
	Invested        string `json:"invested"`
	InvestedDisplay string `json:"invested_display"`
}

type DepositYieldRequest struct {
	RequestID string `json:"request_id,omitempty"`
	NoteID    uint64 `json:"note_id"`
	Payer     string `json:"payer"`
	Amount    string `json:"amount"`
}

type DepositYieldResponse struct {
	RequestID   string `json:"request_id"`
	NoteID      uint64 `json:"note_id"`
	AccPerShare string `json:"acc_per_share"`
}

type ClaimRequest struct {
	RequestID string `json:"request_id,omitempty"`
	NoteID    uint64 `json:"note_id"`
	Investor  string `json:"investor"`
}

type ClaimResponse struct {
	RequestID   string `json:"request_id"`
	NoteID      uint64 `json:"note_id"`
	Paid        string `json:"paid"`
	PaidDisplay string `json:"paid_display"`
}

type GetNoteStatusRequest struct {
	NoteID uint64 `json:"note_id"`
}

type NoteStatusResponse struct {
	NoteID                uint64    `json:"note_id"`
	State                 string    `json:"state"`
	TokenRef              string    `json:"token_ref"`
	Beneficiary           string    `json:"beneficiary"`
	Terms                 []byte    `json:"terms,omitempty"`
	Goal                  string    `json:"goal"`
	GoalDisplay           string    `json:"goal_display"`
	Raised                string    `json:"raised"`
	RaisedDisplay         string    `json:"raised_display"`
	Closed                bool      `json:"closed"`
	AccPerShare           string    `json:"acc_per_share"`
	TotalDeposited        string    `json:"total_deposited"`
	TotalDepositedDisplay string    `json:"total_deposited_display"`
	TotalClaimed          string    `json:"total_claimed"`
	TotalClaimedDisplay   string    `json:"total_claimed_display"`
	DepositCount          uint64    `json:"deposit_count"`
	InvestorCount         int       `json:"investor_count"`
	CreatedAt             time.Time `json:"created_at"`
	Version               uint64    `json:"version"`
}

type NoteCountRequest struct{}

type NoteCountResponse struct {
	Count uint64 `json:"count"`
}

type InvestorRequest struct {
	NoteID   uint64 `json:"note_id"`
	Investor string `json:"investor"`
}

type ClaimableResponse struct {
	NoteID        uint64 `json:"note_id"`
	Investor      string `json:"investor"`
	Amount        string `json:"amount"`
	AmountDisplay string `json:"amount_display"`
}

type StakeResponse struct {
	NoteID     uint64 `json:"note_id"`
	Investor   string `json:"investor"`
	Invested   string `json:"invested"`
	RewardDebt string `json:"reward_debt"`
	Claimed    string `json:"claimed"`
}

type DepositHistoryRequest struct {
	NoteID uint64 `json:"note_id"`
}

type DepositView struct {
	Sequence             uint64    `json:"sequence"`
	Payer                string    `json:"payer"`
	Amount               string    `json:"amount"`
	AmountDisplay        string    `json:"amount_display"`
	ResultingAccPerShare string    `json:"resulting_acc_per_share"`
	Timestamp            time.Time `json:"timestamp"`
}

type DepositHistoryResponse struct {
	NoteID   uint64        `json:"note_id"`
	Deposits []DepositView `json:"deposits"`
}

// --- Admin ---

type AuditNoteRequest struct {
	NoteID uint64 `json:"note_id"`
}

type AuditNoteResponse struct {
	NoteID    uint64 `json:"note_id"`
	Healthy   bool   `json:"healthy"`
	Violation string `json:"violation,omitempty"`
	Investors int    `json:"investors"`
	Deposited string `json:"deposited"`
	Earned    string `json:"earned"`
	Dust      string `json:"dust"`
	DustBound string `json:"dust_bound"`
}

type ListJournalRequest struct {
	After uint64 `json:"after"`
	Limit int    `json:"limit"`
}

type TakeSnapshotRequest struct{}

type TakeSnapshotResponse struct {
	Sequence uint64 `json:"sequence"`
	Notes    int    `json:"notes"`
}

type SystemStatusRequest struct{}

type SystemStatusResponse struct {
	Sequence        uint64 `json:"sequence"`
	DurableSequence uint64 `json:"durable_sequence"`
	Notes           uint64 `json:"notes"`
	Ready           bool   `json:"ready"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

type EventLogInfoRequest struct{}

type VerifyIntegrityRequest struct{}
