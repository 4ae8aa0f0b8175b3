package irs

import (
	"context"
	"sync"
	"time"

	"refundflow/refund"
)

// MockAdapter is an in-memory stand-in for the IRS. Results are keyed per
// user and can be overridden through Upsert, which backs the simulate
// endpoint used in demos and tests.
type MockAdapter struct {
	mu      sync.RWMutex
	results map[string]refund.IrsResult
	now     func() time.Time
}

// NewMockAdapter creates an empty mock adapter.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		results: make(map[string]refund.IrsResult),
		now:     time.Now,
	}
}

func (m *MockAdapter) WithClock(now func() time.Time) *MockAdapter {
	m.now = now
	return m
}

// Upsert replaces the result the adapter will report for a user.
func (m *MockAdapter) Upsert(userID string, result refund.IrsResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[userID] = result
}

// FetchMostRecent returns the stored result for the user, or a default
// "nothing on file for last year" result when none was seeded.
func (m *MockAdapter) FetchMostRecent(ctx context.Context, userID string) (refund.IrsResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if result, ok := m.results[userID]; ok {
		return result, nil
	}
	return refund.IrsResult{
		TaxYear: m.now().Year() - 1,
		Status:  refund.StatusNotFound,
	}, nil
}
