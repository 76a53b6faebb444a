package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/app/metrics"
	"github.com/R3E-Network/raffle_layer/internal/app/services/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/system"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule polls the coordinator every second.
const DefaultSchedule = "@every 1s"

// Upkeeper is the coordinator surface the keeper drives.
type Upkeeper interface {
	CheckUpkeep(ctx context.Context) (raffle.UpkeepStatus, error)
	PerformUpkeep(ctx context.Context) (raffle.UpkeepPerformed, error)
}

// Outcome of a single keeper tick.
type Outcome string

const (
	OutcomeNotNeeded Outcome = "not_needed"
	OutcomePerformed Outcome = "performed"
	OutcomeLostRace  Outcome = "lost_race"
	OutcomeError     Outcome = "error"
)

var _ system.Service = (*Keeper)(nil)

// Keeper polls CheckUpkeep on a cron schedule and calls PerformUpkeep when
// the round is eligible. Ticks never overlap.
type Keeper struct {
	target   Upkeeper
	schedule string
	timeout  time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// NewKeeper validates the schedule and returns a stopped keeper.
func NewKeeper(target Upkeeper, schedule string, log *logger.Logger) (*Keeper, error) {
	if target == nil {
		return nil, fmt.Errorf("upkeep target is required")
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid keeper schedule %q: %w", schedule, err)
	}
	if log == nil {
		log = logger.NewDefault("keeper")
	}
	return &Keeper{
		target:   target,
		schedule: schedule,
		timeout:  10 * time.Second,
		log:      log,
	}, nil
}

// Schedule returns the cron spec in use.
func (k *Keeper) Schedule() string { return k.schedule }

// RunOnce performs one check and, when eligible, one upkeep.
func (k *Keeper) RunOnce(ctx context.Context) (Outcome, error) {
	start := time.Now()
	outcome, err := k.runOnce(ctx)
	metrics.RecordKeeperRun(string(outcome), time.Since(start))
	return outcome, err
}

func (k *Keeper) runOnce(ctx context.Context) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	status, err := k.target.CheckUpkeep(ctx)
	if err != nil {
		k.log.WithError(err).Warn("check upkeep failed")
		return OutcomeError, err
	}
	if !status.Needed {
		return OutcomeNotNeeded, nil
	}

	performed, err := k.target.PerformUpkeep(ctx)
	switch {
	case errors.Is(err, raffle.ErrUpkeepNotNeeded):
		k.log.WithError(err).Debug("upkeep no longer needed")
		return OutcomeLostRace, nil
	case err != nil:
		k.log.WithError(err).Warn("perform upkeep failed")
		return OutcomeError, err
	}

	k.log.WithField("request_id", performed.RequestID).
		WithField("round", performed.Round).
		Info("keeper performed upkeep")
	return OutcomePerformed, nil
}

func (k *Keeper) Name() string { return "raffle-keeper" }

func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(k.log))))
	if _, err := c.AddFunc(k.schedule, func() {
		_, _ = k.RunOnce(runCtx)
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule keeper: %w", err)
	}
	c.Start()

	k.cron = c
	k.cancel = cancel
	k.running = true
	k.log.WithField("schedule", k.schedule).Info("raffle keeper started")
	return nil
}

func (k *Keeper) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return nil
	}
	c := k.cron
	cancel := k.cancel
	k.running = false
	k.cron = nil
	k.cancel = nil
	k.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	k.log.Info("raffle keeper stopped")
	return nil
}
