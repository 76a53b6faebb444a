package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestSaveSnapshotUpserts(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec("INSERT INTO raffle_state").
		WithArgs(int16(1), sqlmock.AnyArg(), sqlmock.AnyArg(), now, "7", int64(2), "", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SaveSnapshot(context.Background(), raffle.Snapshot{
		State:          raffle.StateCalculating,
		Entrants:       []raffle.Entrant{{Identifier: "alice"}},
		Balance:        decimal.RequireFromString("0.01"),
		LastTimestamp:  now,
		PendingRequest: "7",
		RoundNumber:    2,
		UpdatedAt:      now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSnapshotWrapsDriverError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO raffle_state").WillReturnError(errors.New("connection reset"))

	err := store.SaveSnapshot(context.Background(), raffle.Snapshot{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save snapshot: connection reset")
}

func TestLoadSnapshotDecodesRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"state", "entrants", "balance", "last_timestamp", "pending_request", "round_number", "recent_winner", "payout", "updated_at"}).
		AddRow(int64(1), []byte(`[{"identifier":"alice","index":0,"payment":"0.01","entered_at":"2024-01-02T03:04:05Z"}]`),
			"0.01", now, "3", int64(4), "bob", []byte(`{"winner":"alice","winner_index":0,"random_word":"9"}`), now)
	mock.ExpectQuery("SELECT (.+) FROM raffle_state").WillReturnRows(rows)

	snap, err := store.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, raffle.StateCalculating, snap.State)
	require.Len(t, snap.Entrants, 1)
	assert.Equal(t, "alice", snap.Entrants[0].Identifier)
	assert.True(t, snap.Balance.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, "3", snap.PendingRequest)
	require.NotNil(t, snap.Payout)
	assert.Equal(t, "9", snap.Payout.RandomWord)
}

func TestLoadSnapshotNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM raffle_state").WillReturnError(sql.ErrNoRows)

	_, err := store.LoadSnapshot(context.Background())
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestListRoundsWithLimit(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "number", "winner", "winner_index", "prize", "request_handle", "random_word", "entrant_count", "opened_at", "closed_at"}).
		AddRow("r2", int64(2), "bob", int64(1), "0.02", "2", "77", int64(2), now, now).
		AddRow("r1", int64(1), "alice", int64(0), "0.01", "1", "5", int64(1), now, now)
	mock.ExpectQuery("SELECT (.+) FROM raffle_rounds ORDER BY number DESC LIMIT").WithArgs(2).WillReturnRows(rows)

	rounds, err := store.ListRounds(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, "bob", rounds[0].Winner)
	assert.True(t, rounds[1].Prize.Equal(decimal.RequireFromString("0.01")))
}

func TestCreateLedgerEntryAssignsID(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO raffle_ledger_entries").
		WithArgs(sqlmock.AnyArg(), "deposit", "alice", sqlmock.AnyArg(), int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry, err := store.CreateLedgerEntry(context.Background(), ledger.Entry{
		Kind:    ledger.EntryDeposit,
		Account: "alice",
		Amount:  decimal.RequireFromString("0.01"),
		Round:   1,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)
	ctx := context.Background()

	snap := raffle.Snapshot{State: raffle.StateOpen, LastTimestamp: time.Now().UTC()}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if _, err := store.LoadSnapshot(ctx); err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
}
