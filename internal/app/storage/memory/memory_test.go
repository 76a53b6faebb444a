package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTripIsolated(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.LoadSnapshot(ctx)
	require.True(t, errors.Is(err, storage.ErrNotFound))

	snap := raffle.Snapshot{
		State:    raffle.StateCalculating,
		Entrants: []raffle.Entrant{{Identifier: "alice", Index: 0, Payment: decimal.RequireFromString("0.01")}},
		Balance:  decimal.RequireFromString("0.01"),
	}
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	// mutating the caller's copy must not leak into the store
	snap.Entrants[0].Identifier = "mallory"

	loaded, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, raffle.StateCalculating, loaded.State)
	assert.Equal(t, "alice", loaded.Entrants[0].Identifier)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestRoundsNewestFirst(t *testing.T) {
	store := New()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		_, err := store.CreateRound(ctx, raffle.Round{Number: i, Winner: "w", ClosedAt: time.Unix(i, 0)})
		require.NoError(t, err)
	}
	_, err := store.CreateRound(ctx, raffle.Round{Number: 2})
	require.Error(t, err)

	rounds, err := store.ListRounds(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, int64(3), rounds[0].Number)
	assert.Equal(t, int64(2), rounds[1].Number)

	_, err = store.GetRound(ctx, 9)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestLedgerEntriesByAccount(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.CreateLedgerEntry(ctx, ledger.Entry{Kind: ledger.EntryDeposit, Account: "Alice", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	_, err = store.CreateLedgerEntry(ctx, ledger.Entry{Kind: ledger.EntryDeposit, Account: "bob", Amount: decimal.NewFromInt(2)})
	require.NoError(t, err)

	entries, err := store.ListLedgerEntries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)

	all, err := store.ListLedgerEntries(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
