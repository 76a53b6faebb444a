package raffle

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/events"
	"github.com/R3E-Network/raffle_layer/internal/app/metrics"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// UpkeepStatus is the read-only eligibility report for closing the round.
type UpkeepStatus struct {
	Needed     bool            `json:"upkeep_needed"`
	State      domain.State    `json:"state"`
	Elapsed    time.Duration   `json:"elapsed"`
	Interval   time.Duration   `json:"interval"`
	NumPlayers int             `json:"players"`
	Balance    decimal.Decimal `json:"balance"`
	IsOpen     bool            `json:"is_open"`
	TimePassed bool            `json:"time_passed"`
	HasPlayers bool            `json:"has_players"`
	HasBalance bool            `json:"has_balance"`
}

// UpkeepPerformed describes the randomness request issued by PerformUpkeep.
type UpkeepPerformed struct {
	RequestID   string `json:"request_id"`
	Round       int64  `json:"round"`
	BlockNumber uint64 `json:"block_number"`
	Seed        string `json:"seed"`
}

// CheckUpkeep reports whether the round can be closed. It never mutates state.
func (c *Coordinator) CheckUpkeep(ctx context.Context) (UpkeepStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evaluateLocked(ctx)
}

func (c *Coordinator) evaluateLocked(ctx context.Context) (UpkeepStatus, error) {
	balance, err := c.funds.Balance(ctx)
	if err != nil {
		return UpkeepStatus{}, fmt.Errorf("read balance: %w", err)
	}
	elapsed := c.clock.Now().Sub(c.lastTimestamp)

	st := UpkeepStatus{
		State:      c.state,
		Elapsed:    elapsed,
		Interval:   c.cfg.Interval,
		NumPlayers: len(c.entrants),
		Balance:    balance,
	}
	switch c.state {
	case domain.StateOpen:
		st.IsOpen = true
	case domain.StateCalculating:
		st.IsOpen = false
	}
	st.TimePassed = elapsed >= c.cfg.Interval
	st.HasPlayers = st.NumPlayers > 0
	st.HasBalance = balance.IsPositive()
	st.Needed = st.IsOpen && st.TimePassed && st.HasPlayers && st.HasBalance
	return st, nil
}

// PerformUpkeep re-checks eligibility, closes entry and requests randomness.
// If the oracle refuses the request the round stays OPEN.
func (c *Coordinator) PerformUpkeep(ctx context.Context) (UpkeepPerformed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.evaluateLocked(ctx)
	if err != nil {
		return UpkeepPerformed{}, err
	}
	if !st.Needed {
		metrics.RecordUpkeep("not_needed")
		return UpkeepPerformed{}, &UpkeepNotNeededError{
			Balance:    st.Balance,
			NumPlayers: st.NumPlayers,
			State:      st.State,
			Elapsed:    st.Elapsed,
			Interval:   st.Interval,
		}
	}

	block := c.clock.BlockNumber()
	seed := requestSeed(c.roundNumber, block, len(c.entrants))
	req := random.Request{
		Seed:             seed,
		BlockNumber:      block,
		KeyHash:          c.cfg.Oracle.KeyHash,
		SubscriptionID:   c.cfg.Oracle.SubscriptionID,
		Confirmations:    c.cfg.Oracle.Confirmations,
		CallbackGasLimit: c.cfg.Oracle.CallbackGasLimit,
		NumWords:         c.cfg.Oracle.NumWords,
	}
	handle, err := c.oracle.RequestRandomness(ctx, req)
	if err == nil && handle == "" {
		err = fmt.Errorf("oracle returned an empty request id")
	}
	if err != nil {
		metrics.RecordUpkeep("oracle_error")
		c.log.WithError(err).WithField("round", c.roundNumber).Warn("randomness request failed; raffle stays open")
		return UpkeepPerformed{}, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}

	next := c.snapshotLocked(st.Balance)
	next.State = domain.StateCalculating
	next.PendingRequest = handle
	if err := c.persistLocked(ctx, &next); err != nil {
		c.log.WithError(err).WithField("request_id", handle).Error("randomness requested but state not persisted; response will be ignored")
		return UpkeepPerformed{}, err
	}
	c.applyLocked(next)

	metrics.RecordUpkeep("performed")
	c.publishGaugesLocked(st.Balance)
	c.events.Publish(events.Event{
		Type:      events.TypeUpkeepPerformed,
		Round:     c.roundNumber,
		RequestID: handle,
	})
	c.log.WithField("request_id", handle).
		WithField("round", c.roundNumber).
		WithField("players", st.NumPlayers).
		WithField("block", block).
		Info("upkeep performed; randomness requested")

	return UpkeepPerformed{
		RequestID:   handle,
		Round:       c.roundNumber,
		BlockNumber: block,
		Seed:        hexutil.Encode(seed),
	}, nil
}

// requestSeed binds a request to its round, block and registry size.
func requestSeed(round int64, block uint64, players int) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:8], uint64(round))
	binary.BigEndian.PutUint64(buf[8:16], block)
	binary.BigEndian.PutUint64(buf[16:24], uint64(players))
	return crypto.Keccak256(buf)
}
