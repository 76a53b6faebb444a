package ledger

import (
	"context"
	"strings"
	"sync"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/ledger"
	"github.com/shopspring/decimal"
)

// Book is the default Payee: it keeps a winnings balance per account.
type Book struct {
	mu       sync.RWMutex
	winnings map[string]decimal.Decimal
}

var _ Payee = (*Book)(nil)

func NewBook() *Book {
	return &Book{winnings: make(map[string]decimal.Decimal)}
}

func (b *Book) Credit(_ context.Context, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	key := strings.ToLower(strings.TrimSpace(to))
	b.mu.Lock()
	b.winnings[key] = b.winnings[key].Add(amount)
	b.mu.Unlock()
	return nil
}

// Winnings returns the total credited to an account, zero when unknown.
func (b *Book) Winnings(account string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.winnings[strings.ToLower(strings.TrimSpace(account))]
}

// Rebuild replaces the winnings with the totals of the recorded payouts.
// Other entry kinds are ignored.
func (b *Book) Rebuild(entries []domain.Entry) {
	winnings := make(map[string]decimal.Decimal)
	for _, entry := range entries {
		if entry.Kind != domain.EntryPayout || !entry.Amount.IsPositive() {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(entry.Account))
		winnings[key] = winnings[key].Add(entry.Amount)
	}
	b.mu.Lock()
	b.winnings = winnings
	b.mu.Unlock()
}
