package raffle

import (
	"errors"
	"fmt"
	"time"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientPayment   = errors.New("payment below entrance fee")
	ErrRaffleNotOpen         = errors.New("raffle not open")
	ErrUpkeepNotNeeded       = errors.New("upkeep not needed")
	ErrTransferFailed        = errors.New("transfer to winner failed")
	ErrStaleOrUnknownRequest = errors.New("stale or unknown randomness request")
	ErrInvalidEntrant        = errors.New("entrant identifier required")
	ErrInvalidConfig         = errors.New("invalid raffle config")
	ErrEmptyRandomness       = errors.New("randomness response carried no values")
	ErrRoundWedged           = errors.New("round is waiting for a payout retry")
	ErrOracleUnavailable     = errors.New("randomness oracle unavailable")
	ErrPlayerIndexOutOfRange = errors.New("player index out of range")
	ErrNoPayoutPending       = errors.New("no payout pending")
)

// UpkeepNotNeededError carries the values that made upkeep ineligible.
// It matches ErrUpkeepNotNeeded with errors.Is.
type UpkeepNotNeededError struct {
	Balance    decimal.Decimal
	NumPlayers int
	State      domain.State
	Elapsed    time.Duration
	Interval   time.Duration
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("upkeep not needed: balance=%s players=%d state=%s elapsed=%s interval=%s",
		e.Balance.String(), e.NumPlayers, e.State, e.Elapsed, e.Interval)
}

func (e *UpkeepNotNeededError) Is(target error) bool {
	return target == ErrUpkeepNotNeeded
}
