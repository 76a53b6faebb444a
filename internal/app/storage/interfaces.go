package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// SnapshotStore persists the coordinator state so it survives restarts.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap raffle.Snapshot) error
	// LoadSnapshot returns ErrNotFound when nothing has been saved yet.
	LoadSnapshot(ctx context.Context) (raffle.Snapshot, error)
}

// RoundStore persists the history of completed rounds.
type RoundStore interface {
	CreateRound(ctx context.Context, round raffle.Round) (raffle.Round, error)
	GetRound(ctx context.Context, number int64) (raffle.Round, error)
	// ListRounds returns the newest rounds first. A non-positive limit returns all.
	ListRounds(ctx context.Context, limit int) ([]raffle.Round, error)
}

// LedgerStore records escrow movements.
type LedgerStore interface {
	CreateLedgerEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error)
	ListLedgerEntries(ctx context.Context, account string) ([]ledger.Entry, error)
}

// Store is the union implemented by the memory and postgres backends.
type Store interface {
	SnapshotStore
	RoundStore
	LedgerStore
}
