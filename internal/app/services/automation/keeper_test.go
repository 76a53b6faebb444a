package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/app/services/raffle"
)

type fakeUpkeeper struct {
	mu         sync.Mutex
	needed     bool
	checkErr   error
	performErr error
	performed  int
}

func (f *fakeUpkeeper) CheckUpkeep(context.Context) (raffle.UpkeepStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return raffle.UpkeepStatus{Needed: f.needed}, f.checkErr
}

func (f *fakeUpkeeper) PerformUpkeep(context.Context) (raffle.UpkeepPerformed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.performErr != nil {
		return raffle.UpkeepPerformed{}, f.performErr
	}
	f.performed++
	f.needed = false
	return raffle.UpkeepPerformed{RequestID: "1", Round: 1}, nil
}

func (f *fakeUpkeeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.performed
}

func TestNewKeeperValidatesSchedule(t *testing.T) {
	if _, err := NewKeeper(&fakeUpkeeper{}, "every now and then", nil); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
	if _, err := NewKeeper(nil, "", nil); err == nil {
		t.Fatalf("expected missing target error")
	}
	k, err := NewKeeper(&fakeUpkeeper{}, "", nil)
	if err != nil {
		t.Fatalf("new keeper: %v", err)
	}
	if k.Schedule() != DefaultSchedule {
		t.Fatalf("expected default schedule, got %q", k.Schedule())
	}
}

func TestRunOnceOutcomes(t *testing.T) {
	ctx := context.Background()

	target := &fakeUpkeeper{}
	k, _ := NewKeeper(target, "", nil)
	if out, err := k.RunOnce(ctx); err != nil || out != OutcomeNotNeeded {
		t.Fatalf("expected not_needed, got %s %v", out, err)
	}

	target.needed = true
	if out, err := k.RunOnce(ctx); err != nil || out != OutcomePerformed {
		t.Fatalf("expected performed, got %s %v", out, err)
	}
	if target.count() != 1 {
		t.Fatalf("expected one upkeep, got %d", target.count())
	}

	target.needed = true
	target.performErr = &raffle.UpkeepNotNeededError{}
	if out, err := k.RunOnce(ctx); err != nil || out != OutcomeLostRace {
		t.Fatalf("expected lost_race, got %s %v", out, err)
	}

	target.performErr = raffle.ErrOracleUnavailable
	if out, err := k.RunOnce(ctx); !errors.Is(err, raffle.ErrOracleUnavailable) || out != OutcomeError {
		t.Fatalf("expected oracle error, got %s %v", out, err)
	}

	target.checkErr = errors.New("ledger offline")
	if out, err := k.RunOnce(ctx); err == nil || out != OutcomeError {
		t.Fatalf("expected check error, got %s %v", out, err)
	}
}

func TestKeeperPerformsOnSchedule(t *testing.T) {
	target := &fakeUpkeeper{needed: true}
	k, err := NewKeeper(target, "@every 1s", nil)
	if err != nil {
		t.Fatalf("new keeper: %v", err)
	}
	if err := k.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for target.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if err := k.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if target.count() != 1 {
		t.Fatalf("expected exactly one upkeep, got %d", target.count())
	}
}
