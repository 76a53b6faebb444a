package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	"github.com/R3E-Network/raffle_layer/internal/app/system"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

var _ system.Service = (*Dispatcher)(nil)

// Resolver submits and polls remote randomness requests.
type Resolver interface {
	Submit(ctx context.Context, req domain.Request) (string, error)
	Resolve(ctx context.Context, id string) (Resolution, error)
}

// Dispatcher is the randomness oracle backed by a remote Resolver. It
// periodically polls outstanding requests and forwards completed ones to the
// fulfillment handler.
type Dispatcher struct {
	log      *logger.Logger
	interval time.Duration
	resolver Resolver

	mu          sync.Mutex
	handler     domain.FulfillmentHandler
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	pending     map[string]time.Time
	nextAttempt map[string]time.Time
}

// NewDispatcher constructs a lifecycle-managed oracle dispatcher.
func NewDispatcher(resolver Resolver, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("oracle-dispatcher")
	}
	return &Dispatcher{
		log:         log,
		interval:    2 * time.Second,
		resolver:    resolver,
		pending:     make(map[string]time.Time),
		nextAttempt: make(map[string]time.Time),
	}
}

// WithHandler sets the receiver of fulfillments.
func (d *Dispatcher) WithHandler(h domain.FulfillmentHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// WithInterval overrides the poll interval.
func (d *Dispatcher) WithInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	d.mu.Lock()
	d.interval = interval
	d.mu.Unlock()
}

// RequestRandomness submits the request and starts polling for its result.
func (d *Dispatcher) RequestRandomness(ctx context.Context, req domain.Request) (string, error) {
	if d.resolver == nil {
		return "", fmt.Errorf("oracle resolver not configured")
	}
	id, err := d.resolver.Submit(ctx, req)
	if err != nil {
		return "", err
	}
	d.Track(id)
	d.log.WithField("request_id", id).Info("randomness request submitted")
	return id, nil
}

// Track adds an already submitted request to the poll set, e.g. after restart.
func (d *Dispatcher) Track(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	d.pending[id] = time.Now()
	d.mu.Unlock()
}

// Pending reports how many requests are being polled.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) Name() string { return "oracle-dispatcher" }

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.resolver == nil {
		d.mu.Unlock()
		d.log.Warn("oracle resolver not configured; dispatcher disabled")
		return nil
	}
	if d.running {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	interval := d.interval
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.tick(runCtx)
			}
		}
	}()

	d.log.Info("oracle dispatcher started")
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.log.Info("oracle dispatcher stopped")
	return nil
}

func (d *Dispatcher) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	d.mu.Lock()
	ids := make([]string, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	handler := d.handler
	d.mu.Unlock()

	now := time.Now()
	for _, id := range ids {
		if !d.shouldAttempt(id, now) {
			continue
		}

		res, err := d.resolver.Resolve(ctx, id)
		if err != nil {
			d.log.WithError(err).
				WithField("request_id", id).
				Warn("oracle resolver error")
			d.scheduleNext(id, 0)
			continue
		}
		if !res.Done {
			d.scheduleNext(id, res.RetryAfter)
			continue
		}

		if !res.Success {
			d.log.WithField("request_id", id).
				WithField("error", res.Error).
				Error("oracle reported request failure; round stays calculating")
			d.forget(id)
			continue
		}
		if handler == nil {
			d.log.WithField("request_id", id).Warn("fulfillment handler not configured; holding result")
			d.scheduleNext(id, 0)
			continue
		}

		d.forget(id)
		if err := handler.OnRandomnessFulfilled(ctx, id, res.Words); err != nil {
			d.log.WithError(err).
				WithField("request_id", id).
				Warn("randomness fulfillment rejected")
		}
	}
}

func (d *Dispatcher) shouldAttempt(id string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	next, ok := d.nextAttempt[id]
	if !ok || now.After(next) {
		return true
	}
	return false
}

func (d *Dispatcher) scheduleNext(id string, after time.Duration) {
	d.mu.Lock()
	if after <= 0 {
		after = d.interval
	}
	d.nextAttempt[id] = time.Now().Add(after)
	d.mu.Unlock()
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	delete(d.nextAttempt, id)
	d.mu.Unlock()
}
