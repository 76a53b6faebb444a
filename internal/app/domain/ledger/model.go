package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind classifies a ledger movement.
type EntryKind string

const (
	EntryDeposit EntryKind = "deposit"
	EntryRefund  EntryKind = "refund"
	EntryPayout  EntryKind = "payout"
)

// Entry records a single movement of funds in or out of the round escrow.
type Entry struct {
	ID        string
	Kind      EntryKind
	Account   string
	Amount    decimal.Decimal
	Round     int64
	CreatedAt time.Time
}
