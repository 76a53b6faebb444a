package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu            sync.RWMutex
	nextID        int64
	snapshot      *raffle.Snapshot
	rounds        map[int64]raffle.Round
	ledger        []ledger.Entry
	ledgerByOwner map[string][]int
}

var _ storage.SnapshotStore = (*Store)(nil)
var _ storage.RoundStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:        1,
		rounds:        make(map[int64]raffle.Round),
		ledgerByOwner: make(map[string][]int),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// SnapshotStore implementation ------------------------------------------------

func (s *Store) SaveSnapshot(_ context.Context, snap raffle.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copySnap := snap.Clone()
	if copySnap.UpdatedAt.IsZero() {
		copySnap.UpdatedAt = time.Now().UTC()
	}
	s.snapshot = &copySnap
	return nil
}

func (s *Store) LoadSnapshot(_ context.Context) (raffle.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return raffle.Snapshot{}, storage.ErrNotFound
	}
	return s.snapshot.Clone(), nil
}

// RoundStore implementation ---------------------------------------------------

func (s *Store) CreateRound(_ context.Context, round raffle.Round) (raffle.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rounds[round.Number]; exists {
		return raffle.Round{}, fmt.Errorf("round %d already exists", round.Number)
	}
	if round.ID == "" {
		round.ID = s.nextIDLocked()
	}
	if round.ClosedAt.IsZero() {
		round.ClosedAt = time.Now().UTC()
	}
	s.rounds[round.Number] = round
	return round, nil
}

func (s *Store) GetRound(_ context.Context, number int64) (raffle.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	round, ok := s.rounds[number]
	if !ok {
		return raffle.Round{}, fmt.Errorf("round %d: %w", number, storage.ErrNotFound)
	}
	return round, nil
}

func (s *Store) ListRounds(_ context.Context, limit int) ([]raffle.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]raffle.Round, 0, len(s.rounds))
	for _, round := range s.rounds {
		result = append(result, round)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number > result[j].Number })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) CreateLedgerEntry(_ context.Context, entry ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = s.nextIDLocked()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	key := strings.ToLower(strings.TrimSpace(entry.Account))
	s.ledger = append(s.ledger, entry)
	s.ledgerByOwner[key] = append(s.ledgerByOwner[key], len(s.ledger)-1)
	return entry, nil
}

func (s *Store) ListLedgerEntries(_ context.Context, account string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account = strings.TrimSpace(account)
	if account == "" {
		return append([]ledger.Entry(nil), s.ledger...), nil
	}
	idx := s.ledgerByOwner[strings.ToLower(account)]
	result := make([]ledger.Entry, 0, len(idx))
	for _, i := range idx {
		result = append(result, s.ledger[i])
	}
	return result, nil
}
