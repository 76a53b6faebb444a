// Package events carries observable raffle events from the coordinator to
// subscribers: structured logs, Redis pub/sub and websocket clients.
package events

import (
	"encoding/json"
	"time"
)

// Type classifies an event.
type Type string

const (
	TypeEntrantJoined   Type = "raffle.entrant_joined"
	TypeUpkeepPerformed Type = "raffle.upkeep_performed"
	TypeWinnerPicked    Type = "raffle.winner_picked"
	TypePayoutFailed    Type = "raffle.payout_failed"
)

// Event is one observable occurrence in the raffle lifecycle.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Round      int64     `json:"round"`
	Identifier string    `json:"identifier,omitempty"`
	Index      int       `json:"index"`
	RequestID  string    `json:"request_id,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// String returns the JSON form.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(evt Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}
