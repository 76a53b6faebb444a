package raffle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/events"
	"github.com/R3E-Network/raffle_layer/internal/app/metrics"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
	"github.com/shopspring/decimal"
)

// OnRandomnessFulfilled consumes an oracle response. Only the outstanding
// handle is accepted; the winner index is words[0] mod the number of entrants.
func (c *Coordinator) OnRandomnessFulfilled(ctx context.Context, handle string, words []*big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == "" || handle != c.pending {
		c.log.WithField("request_id", handle).
			WithField("pending_request", c.pending).
			Warn("ignoring randomness for unknown request")
		return fmt.Errorf("%w: %q", ErrStaleOrUnknownRequest, handle)
	}
	if c.payout != nil {
		return fmt.Errorf("%w: winner %s already selected for request %s", ErrRoundWedged, c.payout.Winner, handle)
	}
	if len(words) == 0 || words[0] == nil {
		return ErrEmptyRandomness
	}
	if len(c.entrants) == 0 {
		return fmt.Errorf("request %s outstanding with no entrants", handle)
	}

	idx := new(big.Int).Mod(words[0], big.NewInt(int64(len(c.entrants)))).Int64()
	winner := c.entrants[idx]
	_, err := c.payLocked(ctx, domain.PendingPayout{
		Winner:      winner.Identifier,
		WinnerIndex: int(idx),
		RandomWord:  words[0].String(),
	})
	return err
}

// RetryPayout re-attempts the transfer for a wedged round. The winner is the
// one already selected; no new randomness is consumed.
func (c *Coordinator) RetryPayout(ctx context.Context) (domain.Round, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.payout == nil {
		return domain.Round{}, ErrNoPayoutPending
	}
	c.log.WithField("winner", c.payout.Winner).
		WithField("round", c.roundNumber).
		Info("retrying payout")
	return c.payLocked(ctx, *c.payout)
}

// payLocked saves the selection before moving funds, so a restart after a
// transfer whose completion was not saved never pays the round again.
func (c *Coordinator) payLocked(ctx context.Context, sel domain.PendingPayout) (domain.Round, error) {
	balance, err := c.funds.Balance(ctx)
	if err != nil {
		return domain.Round{}, c.wedgeLocked(ctx, sel, fmt.Errorf("read balance: %w", err))
	}
	marker := c.snapshotLocked(balance)
	marker.Payout = &sel
	if err := c.persistLocked(ctx, &marker); err != nil {
		return domain.Round{}, c.wedgeLocked(ctx, sel, err)
	}
	c.applyLocked(marker)

	amount, err := c.funds.PayoutAll(ctx, sel.Winner)
	if err != nil {
		return domain.Round{}, c.wedgeLocked(ctx, sel, err)
	}

	round := c.completeLocked(ctx, sel, amount)
	round = c.recordRoundLocked(ctx, round)

	metrics.RecordWinner()
	c.publishGaugesLocked(decimal.Zero)
	c.events.Publish(events.Event{
		Type:       events.TypeWinnerPicked,
		Round:      round.Number,
		Identifier: sel.Winner,
		Index:      sel.WinnerIndex,
		RequestID:  round.RequestHandle,
		Amount:     amount.String(),
	})
	c.log.WithField("winner", sel.Winner).
		WithField("round", round.Number).
		WithField("prize", amount.String()).
		WithField("players", round.EntrantCount).
		Info("winner picked")
	return round, nil
}

// completeLocked reopens the raffle after the pool reached the winner.
func (c *Coordinator) completeLocked(ctx context.Context, sel domain.PendingPayout, amount decimal.Decimal) domain.Round {
	now := c.clock.Now()
	round := domain.Round{
		Number:        c.roundNumber,
		Winner:        sel.Winner,
		WinnerIndex:   sel.WinnerIndex,
		Prize:         amount,
		RequestHandle: c.pending,
		RandomWord:    sel.RandomWord,
		EntrantCount:  len(c.entrants),
		OpenedAt:      c.lastTimestamp,
		ClosedAt:      now,
	}

	next := c.snapshotLocked(decimal.Zero)
	next.State = domain.StateOpen
	next.Entrants = nil
	next.LastTimestamp = now
	next.PendingRequest = ""
	next.Payout = nil
	next.RecentWinner = sel.Winner
	next.RoundNumber = c.roundNumber + 1
	if err := c.persistLocked(ctx, &next); err != nil {
		// funds already moved; memory must follow them. The saved selection
		// lets Restore finish the round from the ledger.
		c.log.WithError(err).WithField("round", round.Number).Error("round paid but state not persisted")
	}
	c.applyLocked(next)
	return round
}

func (c *Coordinator) recordRoundLocked(ctx context.Context, round domain.Round) domain.Round {
	if c.rounds == nil {
		return round
	}
	recorded, err := c.rounds.CreateRound(ctx, round)
	if err != nil {
		c.log.WithError(err).WithField("round", round.Number).Warn("record round history failed")
		return round
	}
	return recorded
}

// reconcilePayoutLocked runs on restore when a selection was saved. If the
// ledger shows the transfer went through, the round is completed; otherwise
// it stays wedged for RetryPayout.
func (c *Coordinator) reconcilePayoutLocked(ctx context.Context) error {
	records, ok := c.funds.(PayoutRecords)
	if !ok {
		return nil
	}
	sel := *c.payout
	entry, found, err := records.RoundPayout(ctx, c.roundNumber)
	if err != nil {
		return fmt.Errorf("look up payout for round %d: %w", c.roundNumber, err)
	}
	if !found || !strings.EqualFold(entry.Account, sel.Winner) {
		c.log.WithField("winner", sel.Winner).
			WithField("round", c.roundNumber).
			Warn("restored round has an unpaid winner; waiting for payout retry")
		return nil
	}

	round := c.completeLocked(ctx, sel, entry.Amount)
	if err := c.funds.Restore(ctx, decimal.Zero, c.roundNumber); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	if c.rounds != nil {
		if _, err := c.rounds.GetRound(ctx, round.Number); errors.Is(err, storage.ErrNotFound) {
			c.recordRoundLocked(ctx, round)
		}
	}
	c.log.WithField("winner", sel.Winner).
		WithField("round", round.Number).
		WithField("prize", entry.Amount.String()).
		Info("payout found in ledger; round completed on restore")
	return nil
}

// wedgeLocked keeps the round CALCULATING and remembers the selection so an
// operator can retry the transfer.
func (c *Coordinator) wedgeLocked(ctx context.Context, sel domain.PendingPayout, cause error) error {
	metrics.RecordPayoutFailure()

	balance, balErr := c.funds.Balance(ctx)
	if balErr != nil {
		balance = decimal.Zero
	}
	next := c.snapshotLocked(balance)
	next.Payout = &sel
	if err := c.persistLocked(ctx, &next); err != nil {
		c.log.WithError(err).WithField("round", c.roundNumber).Error("payout failure not persisted")
	}
	c.applyLocked(next)

	c.events.Publish(events.Event{
		Type:       events.TypePayoutFailed,
		Round:      c.roundNumber,
		Identifier: sel.Winner,
		Index:      sel.WinnerIndex,
		RequestID:  c.pending,
		Error:      cause.Error(),
	})
	c.log.WithError(cause).
		WithField("winner", sel.Winner).
		WithField("round", c.roundNumber).
		Error("payout to winner failed; round wedged")
	return fmt.Errorf("%w: %w", ErrTransferFailed, cause)
}
