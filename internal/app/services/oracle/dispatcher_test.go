package oracle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	mu       sync.Mutex
	results  map[string]Resolution
	resolves int
}

func (s *stubResolver) Submit(context.Context, domain.Request) (string, error) {
	return "remote-1", nil
}

func (s *stubResolver) Resolve(_ context.Context, id string) (Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolves++
	res, ok := s.results[id]
	if !ok {
		return Resolution{}, errors.New("unknown id")
	}
	return res, nil
}

func (s *stubResolver) set(id string, res Resolution) {
	s.mu.Lock()
	s.results[id] = res
	s.mu.Unlock()
}

type handlerFunc func(ctx context.Context, handle string, words []*big.Int) error

func (f handlerFunc) OnRandomnessFulfilled(ctx context.Context, handle string, words []*big.Int) error {
	return f(ctx, handle, words)
}

func TestDispatcherDeliversCompletedRequests(t *testing.T) {
	resolver := &stubResolver{results: map[string]Resolution{}}
	d := NewDispatcher(resolver, nil)

	var got []string
	d.WithHandler(handlerFunc(func(_ context.Context, handle string, words []*big.Int) error {
		got = append(got, handle+":"+words[0].String())
		return nil
	}))

	id, err := d.RequestRandomness(context.Background(), domain.Request{NumWords: 1})
	require.NoError(t, err)
	assert.Equal(t, "remote-1", id)

	resolver.set(id, Resolution{Done: false, RetryAfter: time.Millisecond})
	d.tick(context.Background())
	assert.Empty(t, got)
	assert.Equal(t, 1, d.Pending())

	time.Sleep(5 * time.Millisecond)
	resolver.set(id, Resolution{Done: true, Success: true, Words: []*big.Int{big.NewInt(9)}})
	d.tick(context.Background())
	assert.Equal(t, []string{"remote-1:9"}, got)
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcherDropsFailedRequests(t *testing.T) {
	resolver := &stubResolver{results: map[string]Resolution{"r": {Done: true, Error: "boom"}}}
	d := NewDispatcher(resolver, nil)
	called := false
	d.WithHandler(handlerFunc(func(context.Context, string, []*big.Int) error {
		called = true
		return nil
	}))
	d.Track("r")

	d.tick(context.Background())
	assert.False(t, called)
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcherBacksOffOnErrors(t *testing.T) {
	resolver := &stubResolver{results: map[string]Resolution{}}
	d := NewDispatcher(resolver, nil)
	d.WithInterval(time.Hour)
	d.Track("missing")

	d.tick(context.Background())
	d.tick(context.Background())
	assert.Equal(t, 1, resolver.resolves)
	assert.Equal(t, 1, d.Pending())
}

func TestDispatcherLifecycle(t *testing.T) {
	d := NewDispatcher(&stubResolver{results: map[string]Resolution{}}, nil)
	d.WithInterval(10 * time.Millisecond)
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop(context.Background()))
	require.NoError(t, d.Stop(context.Background()))
}
