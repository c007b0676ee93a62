package command

import (
	"NoteLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeCreateNote
	CommandTypeInvest
	CommandTypeDepositYield
	CommandTypeClaim
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTypeCreateNote:
		return "CreateNote"
	case CommandTypeInvest:
		return "Invest"
	case CommandTypeDepositYield:
		return "DepositYield"
	case CommandTypeClaim:
		return "Claim"
	default:
		return "Unknown"
	}
}

// ParseCommandType accepts the short names used in NATS subjects
// ("create", "invest", "deposit", "claim") as well as String() values.
func ParseCommandType(s string) CommandType {
	switch s {
	case "create", "CreateNote":
		return CommandTypeCreateNote
	case "invest", "Invest":
		return CommandTypeInvest
	case "deposit", "DepositYield":
		return CommandTypeDepositYield
	case "claim", "Claim":
		return CommandTypeClaim
	default:
		return CommandTypeUnknown
	}
}

// Command is the interface all ledger mutations implement
type Command interface {
	// RequestID is the caller-chosen dedup key
	RequestID() uuid.UUID

	CommandType() CommandType

	// NoteID is zero for CreateNote
	NoteID() ledger.NoteID
}

type CreateNote struct {
	ID          uuid.UUID
	Goal        *uint256.Int
	TokenRef    common.Address
	Beneficiary common.Address
	Terms       []byte
}

func (c *CreateNote) RequestID() uuid.UUID     { return c.ID }
func (c *CreateNote) CommandType() CommandType { return CommandTypeCreateNote }
func (c *CreateNote) NoteID() ledger.NoteID    { return 0 }

type Invest struct {
	ID       uuid.UUID
	Note     ledger.NoteID
	Investor common.Address
	Amount   *uint256.Int
}

func (c *Invest) RequestID() uuid.UUID     { return c.ID }
func (c *Invest) CommandType() CommandType { return CommandTypeInvest }
func (c *Invest) NoteID() ledger.NoteID    { return c.Note }

type DepositYield struct {
	ID     uuid.UUID
	Note   ledger.NoteID
	Payer  common.Address
	Amount *uint256.Int
}

func (c *DepositYield) RequestID() uuid.UUID     { return c.ID }
func (c *DepositYield) CommandType() CommandType { return CommandTypeDepositYield }
func (c *DepositYield) NoteID() ledger.NoteID    { return c.Note }

type Claim struct {
	ID       uuid.UUID
	Note     ledger.NoteID
	Investor common.Address
}

func (c *Claim) RequestID() uuid.UUID     { return c.ID }
func (c *Claim) CommandType() CommandType { return CommandTypeClaim }
func (c *Claim) NoteID() ledger.NoteID    { return c.Note }

// Result is what applying a command returns. Amount means, per type:
// the goal for CreateNote, the cumulative stake for Invest, the new
// acc_per_share for DepositYield and the amount paid for Claim.
type Result struct {
	RequestID uuid.UUID
	Type      CommandType
	NoteID    ledger.NoteID
	Amount    *uint256.Int
}
