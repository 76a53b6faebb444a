package raffle

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// State is the coordinator lifecycle state. The numeric values are stable and
// are what gets persisted.
type State uint8

const (
	StateOpen        State = 0
	StateCalculating State = 1
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCalculating:
		return "CALCULATING"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s == StateOpen || s == StateCalculating
}

func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown raffle state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "OPEN", "0":
		*s = StateOpen
	case "CALCULATING", "1":
		*s = StateCalculating
	default:
		return fmt.Errorf("unknown raffle state %q", string(b))
	}
	return nil
}

// Entrant is one paid entry in the current round. The same identifier may
// appear more than once.
type Entrant struct {
	Identifier string          `json:"identifier"`
	Index      int             `json:"index"`
	Payment    decimal.Decimal `json:"payment"`
	EnteredAt  time.Time       `json:"entered_at"`
}

// Round is the history record of a completed round.
type Round struct {
	ID            string          `json:"id"`
	Number        int64           `json:"number"`
	Winner        string          `json:"winner"`
	WinnerIndex   int             `json:"winner_index"`
	Prize         decimal.Decimal `json:"prize"`
	RequestHandle string          `json:"request_handle"`
	RandomWord    string          `json:"random_word"`
	EntrantCount  int             `json:"entrant_count"`
	OpenedAt      time.Time       `json:"opened_at"`
	ClosedAt      time.Time       `json:"closed_at"`
}

// PendingPayout remembers a winner whose transfer failed so that an operator
// can retry it against the same selection.
type PendingPayout struct {
	Winner      string `json:"winner"`
	WinnerIndex int    `json:"winner_index"`
	RandomWord  string `json:"random_word"`
}

// Snapshot is the persisted coordinator state.
type Snapshot struct {
	State          State           `json:"state"`
	Entrants       []Entrant       `json:"entrants"`
	Balance        decimal.Decimal `json:"balance"`
	LastTimestamp  time.Time       `json:"last_timestamp"`
	PendingRequest string          `json:"pending_request,omitempty"`
	RoundNumber    int64           `json:"round_number"`
	RecentWinner   string          `json:"recent_winner,omitempty"`
	Payout         *PendingPayout  `json:"payout,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Entrants != nil {
		out.Entrants = make([]Entrant, len(s.Entrants))
		copy(out.Entrants, s.Entrants)
	}
	if s.Payout != nil {
		p := *s.Payout
		out.Payout = &p
	}
	return out
}
