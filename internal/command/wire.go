package command

import (
	"NoteLedger/internal/ledger"
	fpmath "NoteLedger/internal/math"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var ErrInvalidCommand = errors.New("invalid command")

// --- JSON wire formats ---
// Shared by NATS ingestion and the HTTP gateway. Amounts are base-10
// strings so values up to 2^128-1 survive JSON number handling. Terms are
// opaque bytes and travel base64-encoded.

type createNoteJSON struct {
	RequestID   string `json:"request_id"`
	Goal        string `json:"goal"`
	TokenRef    string `json:"token_ref"`
	Beneficiary string `json:"beneficiary"`
	Terms       []byte `json:"terms,omitempty"`
}

type investJSON struct {
	RequestID string        `json:"request_id"`
	NoteID    ledger.NoteID `json:"note_id"`
	Investor  string        `json:"investor"`
	Amount    string        `json:"amount"`
}

type depositYieldJSON struct {
	RequestID string        `json:"request_id"`
	NoteID    ledger.NoteID `json:"note_id"`
	Payer     string        `json:"payer"`
	Amount    string        `json:"amount"`
}

type claimJSON struct {
	RequestID string        `json:"request_id"`
	NoteID    ledger.NoteID `json:"note_id"`
	Investor  string        `json:"investor"`
}

// Decode parses a JSON payload for the given command type.
func Decode(ct CommandType, data []byte) (Command, error) {
	switch ct {
	case CommandTypeCreateNote:
		return DecodeCreateNote(data)
	case CommandTypeInvest:
		return DecodeInvest(data)
	case CommandTypeDepositYield:
		return DecodeDepositYield(data)
	case CommandTypeClaim:
		return DecodeClaim(data)
	default:
		return nil, fmt.Errorf("%w: unknown command type %d", ErrInvalidCommand, ct)
	}
}

func DecodeCreateNote(data []byte) (*CreateNote, error) {
	var j createNoteJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: parse CreateNote: %v", ErrInvalidCommand, err)
	}

	id, err := ParseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	goal, err := ParseAmount("goal", j.Goal)
	if err != nil {
		return nil, err
	}
	tokenRef, err := ParseAddress("token_ref", j.TokenRef)
	if err != nil {
		return nil, err
	}
	beneficiary, err := ParseAddress("beneficiary", j.Beneficiary)
	if err != nil {
		return nil, err
	}

	return &CreateNote{
		ID:          id,
		Goal:        goal,
		TokenRef:    tokenRef,
		Beneficiary: beneficiary,
		Terms:       j.Terms,
	}, nil
}

func DecodeInvest(data []byte) (*Invest, error) {
	var j investJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: parse Invest: %v", ErrInvalidCommand, err)
	}

	id, err := ParseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	investor, err := ParseAddress("investor", j.Investor)
	if err != nil {
		return nil, err
	}
	amount, err := ParseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}

	return &Invest{ID: id, Note: j.NoteID, Investor: investor, Amount: amount}, nil
}

func DecodeDepositYield(data []byte) (*DepositYield, error) {
	var j depositYieldJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: parse DepositYield: %v", ErrInvalidCommand, err)
	}

	id, err := ParseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	payer, err := ParseAddress("payer", j.Payer)
	if err != nil {
		return nil, err
	}
	amount, err := ParseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}

	return &DepositYield{ID: id, Note: j.NoteID, Payer: payer, Amount: amount}, nil
}

func DecodeClaim(data []byte) (*Claim, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: parse Claim: %v", ErrInvalidCommand, err)
	}

	id, err := ParseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	investor, err := ParseAddress("investor", j.Investor)
	if err != nil {
		return nil, err
	}

	return &Claim{ID: id, Note: j.NoteID, Investor: investor}, nil
}

// Encode is the inverse of Decode, used by producers and tests.
func Encode(c Command) ([]byte, error) {
	switch c := c.(type) {
	case *CreateNote:
		return json.Marshal(createNoteJSON{
			RequestID:   c.ID.String(),
			Goal:        fpmath.FormatAmount(c.Goal),
			TokenRef:    c.TokenRef.Hex(),
			Beneficiary: c.Beneficiary.Hex(),
			Terms:       c.Terms,
		})
	case *Invest:
		return json.Marshal(investJSON{
			RequestID: c.ID.String(),
			NoteID:    c.Note,
			Investor:  c.Investor.Hex(),
			Amount:    fpmath.FormatAmount(c.Amount),
		})
	case *DepositYield:
		return json.Marshal(depositYieldJSON{
			RequestID: c.ID.String(),
			NoteID:    c.Note,
			Payer:     c.Payer.Hex(),
			Amount:    fpmath.FormatAmount(c.Amount),
		})
	case *Claim:
		return json.Marshal(claimJSON{
			RequestID: c.ID.String(),
			NoteID:    c.Note,
			Investor:  c.Investor.Hex(),
		})
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrInvalidCommand, c)
	}
}

// ParseRequestID returns uuid.Nil for an empty id; the processor assigns one.
func ParseRequestID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: parse request_id: %v", ErrInvalidCommand, err)
	}
	return id, nil
}

func ParseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s is not a hex address: %q", ErrInvalidCommand, field, s)
	}
	return common.HexToAddress(s), nil
}

// ParseAmount accepts anything that fits 256 bits. The 128-bit bound is
// enforced by the ledger so that its precondition order is kept.
func ParseAmount(field, s string) (*uint256.Int, error) {
	v, err := fpmath.ParseUint256(s)
	if errors.Is(err, fpmath.ErrAmountOverflow) {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidCommand, field, ledger.ErrAmountOverflow)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCommand, field, err)
	}
	return v, nil
}
