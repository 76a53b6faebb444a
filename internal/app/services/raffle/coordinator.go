package raffle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/events"
	"github.com/R3E-Network/raffle_layer/internal/app/metrics"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
	"github.com/R3E-Network/raffle_layer/internal/clock"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// OracleConfig is passed through to every randomness request.
type OracleConfig struct {
	KeyHash          string
	SubscriptionID   uint64
	Confirmations    uint16
	CallbackGasLimit uint32
	NumWords         uint32
}

// Config is fixed for the lifetime of a coordinator.
type Config struct {
	EntranceFee decimal.Decimal
	Interval    time.Duration
	Oracle      OracleConfig
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if !c.EntranceFee.IsPositive() {
		return fmt.Errorf("%w: entrance fee must be positive", ErrInvalidConfig)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// RandomnessOracle accepts a request and answers later through the
// coordinator's OnRandomnessFulfilled. It must never call back synchronously.
type RandomnessOracle interface {
	RequestRandomness(ctx context.Context, req random.Request) (string, error)
}

// FundsLedger holds the round pool.
type FundsLedger interface {
	Deposit(ctx context.Context, from string, amount decimal.Decimal) error
	Refund(ctx context.Context, from string, amount decimal.Decimal) error
	Balance(ctx context.Context) (decimal.Decimal, error)
	PayoutAll(ctx context.Context, to string) (decimal.Decimal, error)
	Restore(ctx context.Context, balance decimal.Decimal, round int64) error
}

// PayoutRecords is implemented by ledgers that can tell whether a round's
// pool was already transferred.
type PayoutRecords interface {
	RoundPayout(ctx context.Context, round int64) (ledger.Entry, bool, error)
}

// Coordinator runs the raffle state machine. Every operation holds a single
// mutex, so no two operations interleave.
type Coordinator struct {
	mu sync.Mutex

	cfg    Config
	clock  clock.Clock
	oracle RandomnessOracle
	funds  FundsLedger
	store  storage.SnapshotStore
	rounds storage.RoundStore
	events events.Publisher
	log    *logger.Logger

	state         domain.State
	entrants      []domain.Entrant
	lastTimestamp time.Time
	pending       string
	roundNumber   int64
	recentWinner  string
	payout        *domain.PendingPayout
}

// New constructs an OPEN coordinator whose round timer starts now.
func New(cfg Config, clk clock.Clock, oracle RandomnessOracle, funds FundsLedger, log *logger.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil || oracle == nil || funds == nil {
		return nil, fmt.Errorf("%w: clock, oracle and funds ledger are required", ErrInvalidConfig)
	}
	if cfg.Oracle.NumWords == 0 {
		cfg.Oracle.NumWords = 1
	}
	if log == nil {
		log = logger.NewDefault("raffle")
	}
	return &Coordinator{
		cfg:           cfg,
		clock:         clk,
		oracle:        oracle,
		funds:         funds,
		events:        events.Nop{},
		log:           log,
		state:         domain.StateOpen,
		lastTimestamp: clk.Now(),
		roundNumber:   1,
	}, nil
}

// WithStore persists the coordinator state after every mutation.
func (c *Coordinator) WithStore(store storage.SnapshotStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = store
}

// WithRounds records completed rounds.
func (c *Coordinator) WithRounds(rounds storage.RoundStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rounds = rounds
}

// WithEvents sets the event publisher.
func (c *Coordinator) WithEvents(pub events.Publisher) {
	if pub == nil {
		pub = events.Nop{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = pub
}

// Restore loads the last persisted snapshot, if any, and resyncs the ledger
// with its balance. It returns false when there was nothing to restore.
func (c *Coordinator) Restore(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil {
		return false, nil
	}
	snap, err := c.store.LoadSnapshot(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load snapshot: %w", err)
	}
	if !snap.State.Valid() {
		return false, fmt.Errorf("load snapshot: unknown state %d", uint8(snap.State))
	}
	if (snap.State == domain.StateCalculating) != (snap.PendingRequest != "") {
		return false, fmt.Errorf("load snapshot: state %s inconsistent with pending request %q", snap.State, snap.PendingRequest)
	}
	if snap.RoundNumber < 1 {
		snap.RoundNumber = 1
	}
	if err := c.funds.Restore(ctx, snap.Balance, snap.RoundNumber); err != nil {
		return false, fmt.Errorf("restore ledger: %w", err)
	}

	c.applyLocked(snap)
	if c.payout != nil {
		if err := c.reconcilePayoutLocked(ctx); err != nil {
			return false, err
		}
	}
	balance, err := c.funds.Balance(ctx)
	if err != nil {
		balance = snap.Balance
	}
	c.publishGaugesLocked(balance)
	c.log.WithField("state", c.state).
		WithField("round", c.roundNumber).
		WithField("players", len(c.entrants)).
		WithField("pending_request", c.pending).
		Info("raffle state restored")
	return true, nil
}

// Enter records a paid entry for identifier.
func (c *Coordinator) Enter(ctx context.Context, payment decimal.Decimal, identifier string) (domain.Entrant, error) {
	id, err := normalizeIdentifier(identifier)
	if err != nil {
		return domain.Entrant{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.StateOpen {
		return domain.Entrant{}, ErrRaffleNotOpen
	}
	if payment.LessThan(c.cfg.EntranceFee) {
		return domain.Entrant{}, fmt.Errorf("%w: paid %s, fee %s", ErrInsufficientPayment, payment, c.cfg.EntranceFee)
	}

	if err := c.funds.Deposit(ctx, id, payment); err != nil {
		return domain.Entrant{}, fmt.Errorf("deposit entry: %w", err)
	}

	entrant := domain.Entrant{
		Identifier: id,
		Index:      len(c.entrants),
		Payment:    payment,
		EnteredAt:  c.clock.Now(),
	}
	balance, err := c.funds.Balance(ctx)
	if err != nil {
		c.refundLocked(ctx, id, payment)
		return domain.Entrant{}, fmt.Errorf("read balance: %w", err)
	}
	next := c.snapshotLocked(balance)
	next.Entrants = append(next.Entrants, entrant)

	if err := c.persistLocked(ctx, &next); err != nil {
		c.refundLocked(ctx, id, payment)
		return domain.Entrant{}, err
	}
	c.applyLocked(next)

	metrics.RecordEntry()
	c.publishGaugesLocked(next.Balance)
	c.events.Publish(events.Event{
		Type:       events.TypeEntrantJoined,
		Round:      c.roundNumber,
		Identifier: id,
		Index:      entrant.Index,
		Amount:     payment.String(),
	})
	c.log.WithField("identifier", id).
		WithField("index", entrant.Index).
		WithField("round", c.roundNumber).
		Info("raffle entered")
	return entrant, nil
}

// EntranceFee returns the configured fee.
func (c *Coordinator) EntranceFee() decimal.Decimal { return c.cfg.EntranceFee }

// Interval returns the configured round interval.
func (c *Coordinator) Interval() time.Duration { return c.cfg.Interval }

// RaffleState returns the current state.
func (c *Coordinator) RaffleState() domain.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Player returns the entrant at index in the current round.
func (c *Coordinator) Player(index int) (domain.Entrant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.entrants) {
		return domain.Entrant{}, fmt.Errorf("%w: %d of %d", ErrPlayerIndexOutOfRange, index, len(c.entrants))
	}
	return c.entrants[index], nil
}

// Players returns the current round's entrants in entry order.
func (c *Coordinator) Players() []domain.Entrant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Entrant, len(c.entrants))
	copy(out, c.entrants)
	return out
}

func (c *Coordinator) NumberOfPlayers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entrants)
}

func (c *Coordinator) LastTimestamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTimestamp
}

// PendingRequest returns the outstanding randomness handle, or "" when none.
func (c *Coordinator) PendingRequest() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Coordinator) RoundNumber() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roundNumber
}

// RecentWinner returns the winner of the last completed round.
func (c *Coordinator) RecentWinner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recentWinner
}

// PendingPayout returns the selection awaiting a payout retry, or nil.
func (c *Coordinator) PendingPayout() *domain.PendingPayout {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.payout == nil {
		return nil
	}
	p := *c.payout
	return &p
}

// Balance returns the pool held for the current round.
func (c *Coordinator) Balance(ctx context.Context) (decimal.Decimal, error) {
	return c.funds.Balance(ctx)
}

// Snapshot returns a copy of the full coordinator state.
func (c *Coordinator) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bal, err := c.funds.Balance(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("read balance: %w", err)
	}
	return c.snapshotLocked(bal), nil
}

// Rounds lists completed rounds, newest first.
func (c *Coordinator) Rounds(ctx context.Context, limit int) ([]domain.Round, error) {
	c.mu.Lock()
	rounds := c.rounds
	c.mu.Unlock()
	if rounds == nil {
		return nil, nil
	}
	return rounds.ListRounds(ctx, limit)
}

// snapshotLocked captures in-memory state alongside the ledger balance.
func (c *Coordinator) snapshotLocked(balance decimal.Decimal) domain.Snapshot {
	snap := domain.Snapshot{
		State:          c.state,
		Balance:        balance,
		Entrants:       append([]domain.Entrant(nil), c.entrants...),
		LastTimestamp:  c.lastTimestamp,
		PendingRequest: c.pending,
		RoundNumber:    c.roundNumber,
		RecentWinner:   c.recentWinner,
	}
	if c.payout != nil {
		p := *c.payout
		snap.Payout = &p
	}
	return snap
}

func (c *Coordinator) applyLocked(snap domain.Snapshot) {
	c.state = snap.State
	c.entrants = snap.Entrants
	c.lastTimestamp = snap.LastTimestamp
	c.pending = snap.PendingRequest
	c.roundNumber = snap.RoundNumber
	c.recentWinner = snap.RecentWinner
	c.payout = snap.Payout
}

func (c *Coordinator) persistLocked(ctx context.Context, snap *domain.Snapshot) error {
	snap.UpdatedAt = c.clock.Now()
	if c.store == nil {
		return nil
	}
	if err := c.store.SaveSnapshot(ctx, *snap); err != nil {
		return fmt.Errorf("persist raffle state: %w", err)
	}
	return nil
}

func (c *Coordinator) refundLocked(ctx context.Context, id string, amount decimal.Decimal) {
	if err := c.funds.Refund(ctx, id, amount); err != nil {
		c.log.WithError(err).WithField("identifier", id).Error("refund after failed entry did not complete")
	}
}

func (c *Coordinator) publishGaugesLocked(balance decimal.Decimal) {
	pool, _ := balance.Float64()
	metrics.SetRaffleState(uint8(c.state), len(c.entrants), pool)
}

// normalizeIdentifier trims identifiers and folds hex addresses to their
// checksummed form so one account always maps to one identifier.
func normalizeIdentifier(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", ErrInvalidEntrant
	}
	if common.IsHexAddress(id) && strings.HasPrefix(strings.ToLower(id), "0x") {
		return common.HexToAddress(id).Hex(), nil
	}
	return id, nil
}
