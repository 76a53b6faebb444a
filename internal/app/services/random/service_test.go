package random

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/random"
)

type recordingHandler struct {
	mu    sync.Mutex
	calls map[string][]*big.Int
	done  chan string
	err   error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{calls: make(map[string][]*big.Int), done: make(chan string, 8)}
}

func (h *recordingHandler) OnRandomnessFulfilled(_ context.Context, handle string, words []*big.Int) error {
	h.mu.Lock()
	h.calls[handle] = words
	h.mu.Unlock()
	h.done <- handle
	return h.err
}

func TestGenerateSecret(t *testing.T) {
	secret, err := GenerateSecret(32)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(secret) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(secret))
	}
	for _, length := range []int{-1, 0, 2048} {
		if _, err := GenerateSecret(length); err == nil {
			t.Fatalf("expected error for length %d", length)
		}
	}
}

func TestHandlesAreSequential(t *testing.T) {
	o, err := New([]byte("secret"), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	o.WithManual(true)

	for _, want := range []string{"1", "2", "3"} {
		got, err := o.RequestRandomness(context.Background(), domain.Request{NumWords: 1})
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if got != want {
			t.Fatalf("expected handle %s, got %s", want, got)
		}
	}
	if o.Pending() != 3 {
		t.Fatalf("expected 3 pending, got %d", o.Pending())
	}
}

func TestRequestValidatesNumWords(t *testing.T) {
	o, _ := New([]byte("secret"), nil)
	for _, n := range []uint32{0, MaxNumWords + 1} {
		if _, err := o.RequestRandomness(context.Background(), domain.Request{NumWords: n}); err == nil {
			t.Fatalf("expected error for %d words", n)
		}
	}
}

func TestManualFulfillIsDeterministic(t *testing.T) {
	o, _ := New([]byte("secret"), nil)
	o.WithManual(true)
	h := newRecordingHandler()
	o.WithHandler(h)

	req := domain.Request{Seed: []byte{1, 2, 3}, NumWords: 2}
	handle, err := o.RequestRandomness(context.Background(), req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := o.Fulfill(context.Background(), handle); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	words := h.calls[handle]
	if len(words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(words))
	}
	if words[0].Cmp(words[1]) == 0 {
		t.Fatalf("words should differ")
	}
	again := o.Words(handle, req)
	if again[0].Cmp(words[0]) != 0 {
		t.Fatalf("words should be reproducible")
	}

	if err := o.Fulfill(context.Background(), handle); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("expected unknown request on second fulfill, got %v", err)
	}
}

func TestFulfillWithoutHandlerKeepsRequest(t *testing.T) {
	o, _ := New([]byte("secret"), nil)
	o.WithManual(true)
	handle, _ := o.RequestRandomness(context.Background(), domain.Request{NumWords: 1})

	if err := o.Fulfill(context.Background(), handle); !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
	if o.Pending() != 1 {
		t.Fatalf("request should remain pending")
	}
}

func TestWorkerDeliversAsynchronously(t *testing.T) {
	o, _ := New(nil, nil)
	h := newRecordingHandler()
	o.WithHandler(h)
	o.WithBlockTime(time.Millisecond)

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop(context.Background())

	handle, err := o.RequestRandomness(context.Background(), domain.Request{NumWords: 1, Confirmations: 3})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	select {
	case got := <-h.done:
		if got != handle {
			t.Fatalf("expected handle %s, got %s", handle, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("fulfillment not delivered")
	}
	if o.Pending() != 0 {
		t.Fatalf("expected no pending requests")
	}
}

func TestResumeRegistersRestoredHandle(t *testing.T) {
	o, err := New([]byte("secret"), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	o.WithManual(true)
	h := newRecordingHandler()
	o.WithHandler(h)

	if err := o.Resume("7", 1); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := o.Resume("7", 1); err != nil {
		t.Fatalf("second resume should be a no-op: %v", err)
	}
	if o.Pending() != 1 {
		t.Fatalf("expected 1 pending, got %d", o.Pending())
	}

	next, err := o.RequestRandomness(context.Background(), domain.Request{NumWords: 1})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if next != "8" {
		t.Fatalf("expected handle after resumed one, got %q", next)
	}

	if err := o.Fulfill(context.Background(), "7"); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if got := <-h.done; got != "7" {
		t.Fatalf("delivered %q", got)
	}
}
