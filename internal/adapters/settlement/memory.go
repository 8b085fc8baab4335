// Package settlement provides Settler implementations: an HTTP client for the
// settlement service and an in-memory ledger for development and tests.
package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	domain "github.com/okian/yieldboard/internal/domain/settlement"
	"github.com/shopspring/decimal"
)

// Fault is an injected failure returned by Memory before a request is applied.
type Fault func(req domain.Request, attempt int) error

// Memory settles transfers into an in-process map and deduplicates on the
// idempotency key, so a re-submitted key never pays twice.
type Memory struct {
	mu       sync.Mutex
	receipts map[string]domain.Receipt
	amounts  map[string]decimal.Decimal
	paid     map[string]decimal.Decimal // account -> total transferred
	attempts map[string]int
	calls    int
	fault    Fault
}

// NewMemory creates an empty in-memory settlement ledger.
func NewMemory() *Memory {
	return &Memory{
		receipts: map[string]domain.Receipt{},
		amounts:  map[string]decimal.Decimal{},
		paid:     map[string]decimal.Decimal{},
		attempts: map[string]int{},
	}
}

// WithFault injects failures; attempt counts submissions of the key from 1.
func (m *Memory) WithFault(f Fault) *Memory {
	m.mu.Lock()
	m.fault = f
	m.mu.Unlock()
	return m
}

// Submit implements domain.Settler.
func (m *Memory) Submit(ctx context.Context, req domain.Request) (domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, fmt.Errorf("%w: %w", domain.ErrRetryable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.attempts[req.Key]++
	if r, ok := m.receipts[req.Key]; ok {
		if !m.amounts[req.Key].Equal(req.Amount) {
			return domain.Receipt{}, fmt.Errorf("%w: key %s re-sent with a different amount", domain.ErrRejected, req.Key)
		}
		return r, nil
	}
	if m.fault != nil {
		if err := m.fault(req, m.attempts[req.Key]); err != nil {
			return domain.Receipt{}, err
		}
	}
	if !req.Amount.IsPositive() || req.AccountID == "" {
		return domain.Receipt{}, fmt.Errorf("%w: invalid transfer", domain.ErrRejected)
	}

	r := domain.Receipt{Key: req.Key, Reference: uuid.NewString(), State: domain.StateConfirmed}
	m.receipts[req.Key] = r
	m.amounts[req.Key] = req.Amount
	m.paid[req.AccountID] = m.paid[req.AccountID].Add(req.Amount)
	return r, nil
}

// Status implements domain.Settler.
func (m *Memory) Status(_ context.Context, key string) (domain.Receipt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[key]
	return r, ok, nil
}

// Paid returns the total transferred to accountID.
func (m *Memory) Paid(accountID string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paid[accountID]
}

// Calls returns the number of Submit calls received.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Attempts returns the number of submissions of key.
func (m *Memory) Attempts(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[key]
}
