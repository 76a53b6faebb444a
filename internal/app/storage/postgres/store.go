package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.SnapshotStore = (*Store)(nil)
var _ storage.RoundStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// NewX wraps an existing sqlx handle.
func NewX(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// --- SnapshotStore ----------------------------------------------------------

type snapshotRow struct {
	State          int16           `db:"state"`
	Entrants       []byte          `db:"entrants"`
	Balance        decimal.Decimal `db:"balance"`
	LastTimestamp  time.Time       `db:"last_timestamp"`
	PendingRequest string          `db:"pending_request"`
	RoundNumber    int64           `db:"round_number"`
	RecentWinner   string          `db:"recent_winner"`
	Payout         []byte          `db:"payout"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func (s *Store) SaveSnapshot(ctx context.Context, snap raffle.Snapshot) error {
	entrants := snap.Entrants
	if entrants == nil {
		entrants = []raffle.Entrant{}
	}
	entrantsJSON, err := json.Marshal(entrants)
	if err != nil {
		return errors.Wrap(err, "marshal entrants")
	}

	var payoutJSON []byte
	if snap.Payout != nil {
		if payoutJSON, err = json.Marshal(snap.Payout); err != nil {
			return errors.Wrap(err, "marshal pending payout")
		}
	}

	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO raffle_state (id, state, entrants, balance, last_timestamp, pending_request, round_number, recent_winner, payout, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			entrants = EXCLUDED.entrants,
			balance = EXCLUDED.balance,
			last_timestamp = EXCLUDED.last_timestamp,
			pending_request = EXCLUDED.pending_request,
			round_number = EXCLUDED.round_number,
			recent_winner = EXCLUDED.recent_winner,
			payout = EXCLUDED.payout,
			updated_at = EXCLUDED.updated_at
	`, int16(snap.State), entrantsJSON, snap.Balance, snap.LastTimestamp.UTC(), snap.PendingRequest,
		snap.RoundNumber, snap.RecentWinner, payoutJSON, updatedAt)
	return errors.Wrap(err, "save snapshot")
}

func (s *Store) LoadSnapshot(ctx context.Context) (raffle.Snapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `
		SELECT state, entrants, balance, last_timestamp, pending_request, round_number, recent_winner, payout, updated_at
		FROM raffle_state
		WHERE id = 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return raffle.Snapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return raffle.Snapshot{}, errors.Wrap(err, "load snapshot")
	}

	snap := raffle.Snapshot{
		State:          raffle.State(row.State),
		Balance:        row.Balance,
		LastTimestamp:  row.LastTimestamp.UTC(),
		PendingRequest: row.PendingRequest,
		RoundNumber:    row.RoundNumber,
		RecentWinner:   row.RecentWinner,
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
	if !snap.State.Valid() {
		return raffle.Snapshot{}, errors.Errorf("load snapshot: unknown state %d", row.State)
	}
	if len(row.Entrants) > 0 {
		if err := json.Unmarshal(row.Entrants, &snap.Entrants); err != nil {
			return raffle.Snapshot{}, errors.Wrap(err, "decode entrants")
		}
	}
	if len(row.Payout) > 0 {
		var payout raffle.PendingPayout
		if err := json.Unmarshal(row.Payout, &payout); err != nil {
			return raffle.Snapshot{}, errors.Wrap(err, "decode pending payout")
		}
		snap.Payout = &payout
	}
	return snap, nil
}

// --- RoundStore -------------------------------------------------------------

type roundRow struct {
	ID            string          `db:"id"`
	Number        int64           `db:"number"`
	Winner        string          `db:"winner"`
	WinnerIndex   int             `db:"winner_index"`
	Prize         decimal.Decimal `db:"prize"`
	RequestHandle string          `db:"request_handle"`
	RandomWord    string          `db:"random_word"`
	EntrantCount  int             `db:"entrant_count"`
	OpenedAt      time.Time       `db:"opened_at"`
	ClosedAt      time.Time       `db:"closed_at"`
}

func (r roundRow) toDomain() raffle.Round {
	return raffle.Round{
		ID:            r.ID,
		Number:        r.Number,
		Winner:        r.Winner,
		WinnerIndex:   r.WinnerIndex,
		Prize:         r.Prize,
		RequestHandle: r.RequestHandle,
		RandomWord:    r.RandomWord,
		EntrantCount:  r.EntrantCount,
		OpenedAt:      r.OpenedAt.UTC(),
		ClosedAt:      r.ClosedAt.UTC(),
	}
}

const roundColumns = `id, number, winner, winner_index, prize, request_handle, random_word, entrant_count, opened_at, closed_at`

func (s *Store) CreateRound(ctx context.Context, round raffle.Round) (raffle.Round, error) {
	if round.ID == "" {
		round.ID = uuid.NewString()
	}
	if round.ClosedAt.IsZero() {
		round.ClosedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raffle_rounds (`+roundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, round.ID, round.Number, round.Winner, round.WinnerIndex, round.Prize, round.RequestHandle,
		round.RandomWord, round.EntrantCount, round.OpenedAt.UTC(), round.ClosedAt.UTC())
	if err != nil {
		return raffle.Round{}, errors.Wrapf(err, "create round %d", round.Number)
	}
	return round, nil
}

func (s *Store) GetRound(ctx context.Context, number int64) (raffle.Round, error) {
	var row roundRow
	err := s.db.GetContext(ctx, &row, `SELECT `+roundColumns+` FROM raffle_rounds WHERE number = $1`, number)
	if errors.Is(err, sql.ErrNoRows) {
		return raffle.Round{}, errors.Wrapf(storage.ErrNotFound, "round %d", number)
	}
	if err != nil {
		return raffle.Round{}, errors.Wrapf(err, "get round %d", number)
	}
	return row.toDomain(), nil
}

func (s *Store) ListRounds(ctx context.Context, limit int) ([]raffle.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM raffle_rounds ORDER BY number DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	var rows []roundRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "list rounds")
	}
	result := make([]raffle.Round, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// --- LedgerStore ------------------------------------------------------------

type ledgerRow struct {
	ID        string          `db:"id"`
	Kind      string          `db:"kind"`
	Account   string          `db:"account"`
	Amount    decimal.Decimal `db:"amount"`
	Round     int64           `db:"round"`
	CreatedAt time.Time       `db:"created_at"`
}

func (s *Store) CreateLedgerEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raffle_ledger_entries (id, kind, account, amount, round, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, string(entry.Kind), entry.Account, entry.Amount, entry.Round, entry.CreatedAt)
	if err != nil {
		return ledger.Entry{}, errors.Wrap(err, "create ledger entry")
	}
	return entry, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, account string) ([]ledger.Entry, error) {
	query := `SELECT id, kind, account, amount, round, created_at FROM raffle_ledger_entries`
	args := []interface{}{}
	if account = strings.TrimSpace(account); account != "" {
		query += ` WHERE lower(account) = lower($1)`
		args = append(args, account)
	}
	query += ` ORDER BY created_at`

	var rows []ledgerRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "list ledger entries")
	}
	result := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		result = append(result, ledger.Entry{
			ID:        row.ID,
			Kind:      ledger.EntryKind(row.Kind),
			Account:   row.Account,
			Amount:    row.Amount,
			Round:     row.Round,
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return result, nil
}
