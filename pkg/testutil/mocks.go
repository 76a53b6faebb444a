// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	"github.com/shopspring/decimal"
)

// ErrMockFailure is returned by mocks configured to fail.
var ErrMockFailure = errors.New("mock failure")

// MockPayee is a test implementation of the ledger Payee interface.
type MockPayee struct {
	mu       sync.Mutex
	fail     error
	credited map[string]decimal.Decimal
	calls    int
}

// NewMockPayee creates a payee that accepts every credit.
func NewMockPayee() *MockPayee {
	return &MockPayee{credited: make(map[string]decimal.Decimal)}
}

// FailWith makes subsequent credits fail with err. Passing nil restores success.
func (m *MockPayee) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Credit records the transfer unless configured to fail.
func (m *MockPayee) Credit(_ context.Context, to string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail != nil {
		return m.fail
	}
	key := strings.ToLower(to)
	m.credited[key] = m.credited[key].Add(amount)
	return nil
}

// Credited returns the total credited to an account.
func (m *MockPayee) Credited(to string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credited[strings.ToLower(to)]
}

// Calls returns the number of credit attempts.
func (m *MockPayee) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockOracle records randomness requests and hands out sequential handles.
// Responses are delivered by the test calling the fulfillment handler itself.
type MockOracle struct {
	mu       sync.Mutex
	fail     error
	next     int
	requests []random.Request
}

// NewMockOracle creates an oracle whose first handle is "1".
func NewMockOracle() *MockOracle {
	return &MockOracle{next: 1}
}

// FailWith makes subsequent requests fail with err. Passing nil restores success.
func (m *MockOracle) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// RequestRandomness records req and returns the next handle.
func (m *MockOracle) RequestRandomness(_ context.Context, req random.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	m.requests = append(m.requests, req)
	handle := fmt.Sprintf("%d", m.next)
	m.next++
	return handle, nil
}

// Requests returns a copy of the recorded requests.
func (m *MockOracle) Requests() []random.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]random.Request(nil), m.requests...)
}
