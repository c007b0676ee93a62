package ledger

import (
	fpmath "NoteLedger/internal/math"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Amounts are encoded as base-10 strings, hashes as hex.

type entryJSON struct {
	EntryID     uuid.UUID       `json:"entry_id"`
	RequestID   uuid.UUID       `json:"request_id"`
	Sequence    uint64          `json:"sequence"`
	NoteID      NoteID          `json:"note_id"`
	NoteSeq     uint64          `json:"note_seq"`
	Type        string          `json:"type"`
	Account     common.Address  `json:"account"`
	Amount      string          `json:"amount"`
	Raised      string          `json:"raised"`
	AccPerShare string          `json:"acc_per_share"`
	Closed      bool            `json:"closed"`
	TokenRef    *common.Address `json:"token_ref,omitempty"`
	Terms       []byte          `json:"terms,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	PrevHash    string          `json:"prev_hash"`
	StateHash   string          `json:"state_hash"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	w := entryJSON{
		EntryID:     e.EntryID,
		RequestID:   e.RequestID,
		Sequence:    e.Sequence,
		NoteID:      e.NoteID,
		NoteSeq:     e.NoteSeq,
		Type:        e.Type.String(),
		Account:     e.Account,
		Amount:      fpmath.FormatAmount(&e.Amount),
		Raised:      fpmath.FormatAmount(&e.Raised),
		AccPerShare: fpmath.FormatAmount(&e.AccPerShare),
		Closed:      e.Closed,
		Terms:       e.Terms,
		Timestamp:   e.Timestamp,
		PrevHash:    hex.EncodeToString(e.PrevHash[:]),
		StateHash:   hex.EncodeToString(e.StateHash[:]),
	}
	if e.Type == EntryNoteCreated {
		token := e.TokenRef
		w.TokenRef = &token
	}
	return json.Marshal(w)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var w entryJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	typ, err := ParseEntryType(w.Type)
	if err != nil {
		return err
	}

	out := Entry{
		EntryID:   w.EntryID,
		RequestID: w.RequestID,
		Sequence:  w.Sequence,
		NoteID:    w.NoteID,
		NoteSeq:   w.NoteSeq,
		Type:      typ,
		Account:   w.Account,
		Closed:    w.Closed,
		Terms:     w.Terms,
		Timestamp: w.Timestamp,
	}
	if w.TokenRef != nil {
		out.TokenRef = *w.TokenRef
	}

	if err := decodeUint(&out.Amount, w.Amount, "amount"); err != nil {
		return err
	}
	if err := decodeUint(&out.Raised, w.Raised, "raised"); err != nil {
		return err
	}
	if err := decodeUint(&out.AccPerShare, w.AccPerShare, "acc_per_share"); err != nil {
		return err
	}
	if out.PrevHash, err = decodeHash(w.PrevHash); err != nil {
		return fmt.Errorf("prev_hash: %w", err)
	}
	if out.StateHash, err = decodeHash(w.StateHash); err != nil {
		return fmt.Errorf("state_hash: %w", err)
	}

	*e = out
	return nil
}

type stakeJSON struct {
	Investor   common.Address `json:"investor"`
	Invested   string         `json:"invested"`
	RewardDebt string         `json:"reward_debt"`
	Claimed    string         `json:"claimed"`
}

type depositJSON struct {
	Payer                common.Address `json:"payer"`
	Amount               string         `json:"amount"`
	ResultingAccPerShare string         `json:"resulting_acc_per_share"`
	Sequence             uint64         `json:"sequence"`
	Timestamp            time.Time      `json:"timestamp"`
}

type noteJSON struct {
	ID             NoteID         `json:"id"`
	TokenRef       common.Address `json:"token_ref"`
	Beneficiary    common.Address `json:"beneficiary"`
	Goal           string         `json:"goal"`
	Raised         string         `json:"raised"`
	Closed         bool           `json:"closed"`
	Terms          []byte         `json:"terms,omitempty"`
	AccPerShare    string         `json:"acc_per_share"`
	TotalDeposited string         `json:"total_deposited"`
	TotalClaimed   string         `json:"total_claimed"`
	DepositCount   uint64         `json:"deposit_count"`
	CreatedAt      time.Time      `json:"created_at"`

	NoteSeq  uint64        `json:"note_seq"`
	LastSeq  uint64        `json:"last_seq"`
	ChainTip string        `json:"chain_tip"`
	Stakes   []stakeJSON   `json:"stakes"`
	Deposits []depositJSON `json:"deposits"`
}

type snapshotJSON struct {
	Sequence  uint64     `json:"sequence"`
	CreatedAt time.Time  `json:"created_at"`
	Notes     []noteJSON `json:"notes"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	w := snapshotJSON{
		Sequence:  s.Sequence,
		CreatedAt: s.CreatedAt,
		Notes:     make([]noteJSON, 0, len(s.Notes)),
	}

	for _, ns := range s.Notes {
		n := ns.Note
		nj := noteJSON{
			ID:             n.ID,
			TokenRef:       n.TokenRef,
			Beneficiary:    n.Beneficiary,
			Goal:           fpmath.FormatAmount(&n.Goal),
			Raised:         fpmath.FormatAmount(&n.Raised),
			Closed:         n.Closed,
			Terms:          n.Terms,
			AccPerShare:    fpmath.FormatAmount(&n.AccPerShare),
			TotalDeposited: fpmath.FormatAmount(&n.TotalDeposited),
			TotalClaimed:   fpmath.FormatAmount(&n.TotalClaimed),
			DepositCount:   n.DepositCount,
			CreatedAt:      n.CreatedAt,
			NoteSeq:        ns.NoteSeq,
			LastSeq:        ns.LastSeq,
			ChainTip:       hex.EncodeToString(ns.ChainTip[:]),
			Stakes:         make([]stakeJSON, 0, len(ns.Stakes)),
			Deposits:       make([]depositJSON, 0, len(ns.Deposits)),
		}
		for _, st := range ns.Stakes {
			nj.Stakes = append(nj.Stakes, stakeJSON{
				Investor:   st.Investor,
				Invested:   fpmath.FormatAmount(&st.Stake.Invested),
				RewardDebt: fpmath.FormatAmount(&st.Stake.RewardDebt),
				Claimed:    fpmath.FormatAmount(&st.Stake.Claimed),
			})
		}
		for _, d := range ns.Deposits {
			nj.Deposits = append(nj.Deposits, depositJSON{
				Payer:                d.Payer,
				Amount:               fpmath.FormatAmount(&d.Amount),
				ResultingAccPerShare: fpmath.FormatAmount(&d.ResultingAccPerShare),
				Sequence:             d.Sequence,
				Timestamp:            d.Timestamp,
			})
		}
		w.Notes = append(w.Notes, nj)
	}

	return json.Marshal(w)
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w snapshotJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Snapshot{
		Sequence:  w.Sequence,
		CreatedAt: w.CreatedAt,
		Notes:     make([]NoteSnapshot, 0, len(w.Notes)),
	}

	for _, nj := range w.Notes {
		ns := NoteSnapshot{
			Note: Note{
				ID:           nj.ID,
				TokenRef:     nj.TokenRef,
				Beneficiary:  nj.Beneficiary,
				Closed:       nj.Closed,
				Terms:        nj.Terms,
				DepositCount: nj.DepositCount,
				CreatedAt:    nj.CreatedAt,
			},
			NoteSeq: nj.NoteSeq,
			LastSeq: nj.LastSeq,
		}

		fields := []struct {
			dst  *uint256.Int
			src  string
			name string
		}{
			{&ns.Note.Goal, nj.Goal, "goal"},
			{&ns.Note.Raised, nj.Raised, "raised"},
			{&ns.Note.AccPerShare, nj.AccPerShare, "acc_per_share"},
			{&ns.Note.TotalDeposited, nj.TotalDeposited, "total_deposited"},
			{&ns.Note.TotalClaimed, nj.TotalClaimed, "total_claimed"},
		}
		for _, f := range fields {
			if err := decodeUint(f.dst, f.src, f.name); err != nil {
				return fmt.Errorf("note %d: %w", nj.ID, err)
			}
		}

		tip, err := decodeHash(nj.ChainTip)
		if err != nil {
			return fmt.Errorf("note %d chain_tip: %w", nj.ID, err)
		}
		ns.ChainTip = tip

		for _, sj := range nj.Stakes {
			st := StakeState{Investor: sj.Investor}
			if err := decodeUint(&st.Stake.Invested, sj.Invested, "invested"); err != nil {
				return err
			}
			if err := decodeUint(&st.Stake.RewardDebt, sj.RewardDebt, "reward_debt"); err != nil {
				return err
			}
			if err := decodeUint(&st.Stake.Claimed, sj.Claimed, "claimed"); err != nil {
				return err
			}
			ns.Stakes = append(ns.Stakes, st)
		}

		for _, dj := range nj.Deposits {
			rec := YieldDepositRecord{
				NoteID:    nj.ID,
				Payer:     dj.Payer,
				Sequence:  dj.Sequence,
				Timestamp: dj.Timestamp,
			}
			if err := decodeUint(&rec.Amount, dj.Amount, "amount"); err != nil {
				return err
			}
			if err := decodeUint(&rec.ResultingAccPerShare, dj.ResultingAccPerShare, "resulting_acc_per_share"); err != nil {
				return err
			}
			ns.Deposits = append(ns.Deposits, rec)
		}

		out.Notes = append(out.Notes, ns)
	}

	*s = out
	return nil
}

func decodeUint(dst *uint256.Int, s, field string) error {
	v, err := fpmath.ParseUint256(s)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	dst.Set(v)
	return nil
}

func decodeHash(s string) ([32]byte, error) {
	var h [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("want %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}
