package random

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	"github.com/R3E-Network/raffle_layer/internal/app/system"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/ethereum/go-ethereum/crypto"
)

// MaxNumWords bounds a single request.
const MaxNumWords = 500

var (
	ErrUnknownRequest = errors.New("unknown randomness request")
	ErrQueueFull      = errors.New("randomness queue full")
	ErrNoHandler      = errors.New("fulfillment handler not configured")
)

var _ system.Service = (*Oracle)(nil)

// Oracle is an in-process randomness source. Requests are answered
// asynchronously by a worker, or by Fulfill when running in manual mode.
// Words are keccak256(secret || seed || handle || i), so a response can be
// recomputed by anyone holding the secret.
type Oracle struct {
	log       *logger.Logger
	secret    []byte
	blockTime time.Duration
	manual    bool
	queue     chan string

	mu      sync.Mutex
	handler domain.FulfillmentHandler
	next    uint64
	pending map[string]domain.Request
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New constructs an oracle. A nil secret is replaced with 32 random bytes.
func New(secret []byte, log *logger.Logger) (*Oracle, error) {
	if log == nil {
		log = logger.NewDefault("random")
	}
	if len(secret) == 0 {
		generated, err := GenerateSecret(32)
		if err != nil {
			return nil, err
		}
		secret = generated
	}
	return &Oracle{
		log:       log,
		secret:    append([]byte(nil), secret...),
		blockTime: 0,
		queue:     make(chan string, 64),
		next:      1,
		pending:   make(map[string]domain.Request),
	}, nil
}

// GenerateSecret returns cryptographically secure random bytes of the requested length.
func GenerateSecret(length int) ([]byte, error) {
	if length <= 0 || length > 1024 {
		return nil, fmt.Errorf("length must be between 1 and 1024")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read randomness: %w", err)
	}
	return buf, nil
}

// WithHandler sets the receiver of fulfillments.
func (o *Oracle) WithHandler(h domain.FulfillmentHandler) {
	o.mu.Lock()
	o.handler = h
	o.mu.Unlock()
}

// WithManual disables the worker; responses are only delivered by Fulfill.
func (o *Oracle) WithManual(manual bool) {
	o.mu.Lock()
	o.manual = manual
	o.mu.Unlock()
}

// WithBlockTime makes the worker wait confirmations × d before answering.
func (o *Oracle) WithBlockTime(d time.Duration) {
	o.mu.Lock()
	o.blockTime = d
	o.mu.Unlock()
}

// RequestRandomness registers req and returns its handle immediately.
func (o *Oracle) RequestRandomness(_ context.Context, req domain.Request) (string, error) {
	if req.NumWords == 0 || req.NumWords > MaxNumWords {
		return "", fmt.Errorf("num words must be between 1 and %d", MaxNumWords)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	handle := strconv.FormatUint(o.next, 10)
	if !o.manual {
		select {
		case o.queue <- handle:
		default:
			return "", ErrQueueFull
		}
	}
	o.next++
	req.Seed = append([]byte(nil), req.Seed...)
	o.pending[handle] = req

	o.log.WithField("request_id", handle).
		WithField("num_words", req.NumWords).
		WithField("block", req.BlockNumber).
		Debug("randomness requested")
	return handle, nil
}

// Resume re-registers a request issued before a restart so it is answered
// again. The seed is derived from the handle because the original is gone.
func (o *Oracle) Resume(handle string, numWords uint32) error {
	if handle == "" {
		return fmt.Errorf("%w: empty handle", ErrUnknownRequest)
	}
	if numWords == 0 || numWords > MaxNumWords {
		numWords = 1
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.pending[handle]; ok {
		return nil
	}
	if !o.manual {
		select {
		case o.queue <- handle:
		default:
			return ErrQueueFull
		}
	}
	if n, err := strconv.ParseUint(handle, 10, 64); err == nil && n >= o.next {
		o.next = n + 1
	}
	o.pending[handle] = domain.Request{NumWords: numWords, Seed: []byte("resume:" + handle)}
	o.log.WithField("request_id", handle).Info("randomness request resumed")
	return nil
}

// Pending reports how many requests await a response.
func (o *Oracle) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Fulfill answers a pending request from the caller's goroutine.
func (o *Oracle) Fulfill(ctx context.Context, handle string) error {
	return o.deliver(ctx, handle)
}

// Words derives the response for a request.
func (o *Oracle) Words(handle string, req domain.Request) []*big.Int {
	words := make([]*big.Int, req.NumWords)
	idx := make([]byte, 4)
	for i := range words {
		binary.BigEndian.PutUint32(idx, uint32(i))
		digest := crypto.Keccak256(o.secret, req.Seed, []byte(handle), idx)
		words[i] = new(big.Int).SetBytes(digest)
	}
	return words
}

func (o *Oracle) Name() string { return "random-oracle" }

func (o *Oracle) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	if o.manual {
		o.mu.Unlock()
		o.log.Info("randomness oracle in manual mode; worker disabled")
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.mu.Unlock()

	o.wg.Add(1)
	go o.work(runCtx)

	o.log.Info("randomness oracle started")
	return nil
}

func (o *Oracle) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	cancel := o.cancel
	o.running = false
	o.cancel = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	o.log.Info("randomness oracle stopped")
	return nil
}

func (o *Oracle) work(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case handle := <-o.queue:
			if wait := o.confirmationDelay(handle); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			if err := o.deliver(ctx, handle); err != nil && !errors.Is(err, ErrUnknownRequest) {
				o.log.WithError(err).WithField("request_id", handle).Warn("randomness delivery failed")
			}
		}
	}
}

func (o *Oracle) confirmationDelay(handle string) time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	req, ok := o.pending[handle]
	if !ok {
		return 0
	}
	return time.Duration(req.Confirmations) * o.blockTime
}

func (o *Oracle) deliver(ctx context.Context, handle string) error {
	o.mu.Lock()
	req, ok := o.pending[handle]
	handler := o.handler
	if ok && handler != nil {
		delete(o.pending, handle)
	}
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, handle)
	}
	if handler == nil {
		return ErrNoHandler
	}

	words := o.Words(handle, req)
	if err := handler.OnRandomnessFulfilled(ctx, handle, words); err != nil {
		return fmt.Errorf("fulfill %s: %w", handle, err)
	}
	o.log.WithField("request_id", handle).Debug("randomness fulfilled")
	return nil
}
