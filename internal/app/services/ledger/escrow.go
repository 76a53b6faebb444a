package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient escrow balance")
	ErrEmptyPool         = errors.New("escrow pool is empty")
)

// Payee receives the pool when a round is paid out.
type Payee interface {
	Credit(ctx context.Context, to string, amount decimal.Decimal) error
}

// Escrow holds the funds of the round in progress.
type Escrow struct {
	mu      sync.Mutex
	balance decimal.Decimal
	round   int64
	payee   Payee
	entries storage.LedgerStore
	log     *logger.Logger
	now     func() time.Time
}

// NewEscrow creates an empty escrow paying out through payee. entries may be nil.
func NewEscrow(payee Payee, entries storage.LedgerStore, log *logger.Logger) *Escrow {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Escrow{
		balance: decimal.Zero,
		round:   1,
		payee:   payee,
		entries: entries,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Restore resets the pool to a persisted balance and round number.
func (e *Escrow) Restore(_ context.Context, balance decimal.Decimal, round int64) error {
	if balance.IsNegative() {
		return fmt.Errorf("restore escrow: %w", ErrInvalidAmount)
	}
	if round < 1 {
		round = 1
	}
	e.mu.Lock()
	e.balance = balance
	e.round = round
	e.mu.Unlock()
	return nil
}

// Deposit credits amount from an entrant to the pool.
func (e *Escrow) Deposit(ctx context.Context, from string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	e.balance = e.balance.Add(amount)
	round := e.round
	e.mu.Unlock()

	e.record(ctx, domain.EntryDeposit, from, amount, round)
	return nil
}

// Refund reverses a deposit. It only exists to roll back a failed entry.
func (e *Escrow) Refund(ctx context.Context, from string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	if e.balance.LessThan(amount) {
		e.mu.Unlock()
		return ErrInsufficientFunds
	}
	e.balance = e.balance.Sub(amount)
	round := e.round
	e.mu.Unlock()

	e.record(ctx, domain.EntryRefund, from, amount, round)
	return nil
}

// Balance reports the current pool.
func (e *Escrow) Balance(context.Context) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance, nil
}

// PayoutAll transfers the entire pool to the winner. On failure the pool is untouched.
func (e *Escrow) PayoutAll(ctx context.Context, to string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.balance.IsPositive() {
		return decimal.Zero, ErrEmptyPool
	}
	if e.payee == nil {
		return decimal.Zero, fmt.Errorf("payout to %s: no payee configured", to)
	}
	amount := e.balance
	if err := e.payee.Credit(ctx, to, amount); err != nil {
		return decimal.Zero, fmt.Errorf("payout to %s: %w", to, err)
	}
	e.balance = decimal.Zero
	round := e.round
	e.round++

	e.record(ctx, domain.EntryPayout, to, amount, round)
	return amount, nil
}

// Entries lists recorded movements for an account, or all of them when account is empty.
func (e *Escrow) Entries(ctx context.Context, account string) ([]domain.Entry, error) {
	if e.entries == nil {
		return nil, nil
	}
	return e.entries.ListLedgerEntries(ctx, strings.TrimSpace(account))
}

// RoundPayout finds the payout recorded for round, if any.
func (e *Escrow) RoundPayout(ctx context.Context, round int64) (domain.Entry, bool, error) {
	if e.entries == nil {
		return domain.Entry{}, false, nil
	}
	entries, err := e.entries.ListLedgerEntries(ctx, "")
	if err != nil {
		return domain.Entry{}, false, fmt.Errorf("list ledger entries: %w", err)
	}
	for _, entry := range entries {
		if entry.Kind == domain.EntryPayout && entry.Round == round {
			return entry, true, nil
		}
	}
	return domain.Entry{}, false, nil
}

func (e *Escrow) record(ctx context.Context, kind domain.EntryKind, account string, amount decimal.Decimal, round int64) {
	if e.entries == nil {
		return
	}
	_, err := e.entries.CreateLedgerEntry(ctx, domain.Entry{
		Kind:      kind,
		Account:   account,
		Amount:    amount,
		Round:     round,
		CreatedAt: e.now(),
	})
	if err != nil {
		e.log.WithError(err).
			WithField("kind", kind).
			WithField("account", account).
			Warn("record ledger entry failed")
	}
}
