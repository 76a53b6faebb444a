package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvanceMinesBlock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	f.Advance(31 * time.Second)

	assert.Equal(t, start.Add(31*time.Second), f.Now())
	assert.Equal(t, uint64(2), f.BlockNumber())
}

func TestSystemBlockNumberFromGenesis(t *testing.T) {
	genesis := time.Now().Add(-time.Minute)
	s := NewSystem(genesis, 10*time.Second)
	n := s.BlockNumber()
	assert.GreaterOrEqual(t, n, uint64(5))
	assert.LessOrEqual(t, n, uint64(7))

	future := NewSystem(time.Now().Add(time.Hour), 0)
	assert.Zero(t, future.BlockNumber())
}
