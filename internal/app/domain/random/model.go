package random

import (
	"context"
	"math/big"
	"time"
)

// Request carries everything a randomness oracle needs to serve one request.
type Request struct {
	Seed             []byte
	BlockNumber      uint64
	KeyHash          string
	SubscriptionID   uint64
	Confirmations    uint16
	CallbackGasLimit uint32
	NumWords         uint32
}

// Fulfillment is an oracle response correlated by its request handle.
type Fulfillment struct {
	Handle      string
	Words       []*big.Int
	Proof       []byte
	FulfilledAt time.Time
}

// FulfillmentHandler receives oracle responses. Oracles call it from their
// own goroutines, never from inside RequestRandomness.
type FulfillmentHandler interface {
	OnRandomnessFulfilled(ctx context.Context, handle string, words []*big.Int) error
}
