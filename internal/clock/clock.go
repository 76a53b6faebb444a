// Package clock supplies wall time and block heights to components that gate
// behaviour on elapsed time. Production code reads the system clock; tests
// drive a Fake forward explicitly.
package clock

import (
	"sync"
	"time"
)

// Clock is a read-only time and block source.
type Clock interface {
	Now() time.Time
	BlockNumber() uint64
}

// DefaultBlockTime is the cadence used to derive block heights when none is configured.
const DefaultBlockTime = 12 * time.Second

// System reads the host clock and derives a block height from a genesis time
// and a fixed cadence.
type System struct {
	genesis time.Time
	cadence time.Duration
}

// NewSystem returns a system clock. A zero genesis means the Unix epoch.
func NewSystem(genesis time.Time, cadence time.Duration) *System {
	if cadence <= 0 {
		cadence = DefaultBlockTime
	}
	return &System{genesis: genesis.UTC(), cadence: cadence}
}

func (s *System) Now() time.Time { return time.Now().UTC() }

func (s *System) BlockNumber() uint64 {
	elapsed := s.Now().Sub(s.genesis)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / s.cadence)
}

// Fake is a manually advanced clock. Every Advance mines one block.
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	block uint64
}

// NewFake starts a fake clock at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start.UTC(), block: 1}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) BlockNumber() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block
}

// Advance moves time forward and mines a block.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.block++
	f.mu.Unlock()
}

// Set jumps to an absolute instant without mining.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}
