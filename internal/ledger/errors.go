package ledger

import "errors"

var (
	// Validation tier
	ErrNoteNotFound   = errors.New("note not found")
	ErrInvalidGoal    = errors.New("goal must be greater than zero")
	ErrZeroAmount     = errors.New("amount must be greater than zero")
	ErrAmountOverflow = errors.New("amount exceeds 128 bits")

	// Business-rule tier
	ErrNoteClosed         = errors.New("note is closed for investment")
	ErrGoalExceeded       = errors.New("investment would exceed goal")
	ErrNoteNotFullyFunded = errors.New("note is not fully funded")
	ErrNothingToClaim     = errors.New("nothing to claim")

	// Dependency tier
	ErrTransferFailed = errors.New("token transfer failed")
)

// ErrorClass groups ledger errors by who has to act on them.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassValidation
	ClassBusinessRule
	ClassDependency
)

func (c ErrorClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassBusinessRule:
		return "business_rule"
	case ClassDependency:
		return "dependency"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by the ledger to its tier.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrNoteNotFound),
		errors.Is(err, ErrInvalidGoal),
		errors.Is(err, ErrZeroAmount),
		errors.Is(err, ErrAmountOverflow):
		return ClassValidation
	case errors.Is(err, ErrNoteClosed),
		errors.Is(err, ErrGoalExceeded),
		errors.Is(err, ErrNoteNotFullyFunded),
		errors.Is(err, ErrNothingToClaim):
		return ClassBusinessRule
	case errors.Is(err, ErrTransferFailed):
		return ClassDependency
	default:
		return ClassUnknown
	}
}

// Reason returns a short label for metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNoteNotFound):
		return "note_not_found"
	case errors.Is(err, ErrInvalidGoal):
		return "invalid_goal"
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrAmountOverflow):
		return "amount_overflow"
	case errors.Is(err, ErrNoteClosed):
		return "note_closed"
	case errors.Is(err, ErrGoalExceeded):
		return "goal_exceeded"
	case errors.Is(err, ErrNoteNotFullyFunded):
		return "not_fully_funded"
	case errors.Is(err, ErrNothingToClaim):
		return "nothing_to_claim"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	default:
		return "internal"
	}
}
