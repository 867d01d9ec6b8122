package account

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is a Store backed by a map. Uniqueness per (id, slug) is enforced
// under the write lock.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewMemory(accounts ...Account) *Memory {
	m := &Memory{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		m.accounts[a.ID] = clone(a)
	}
	return m
}

func clone(a Account) Account {
	a.Purchases = slices.Clone(a.Purchases)
	return a
}

func (m *Memory) FindByID(_ context.Context, id string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return clone(a), nil
}

func (m *Memory) RecordPurchase(_ context.Context, id, slug string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return false, ErrNotFound
	}
	if _, exists := a.Purchase(slug); exists {
		return false, nil
	}
	t := at.UTC()
	a.Purchases = append(a.Purchases, Purchase{Slug: slug, PurchasedAt: &t})
	m.accounts[id] = a
	return true, nil
}

// Put inserts or replaces an account.
func (m *Memory) Put(a Account) {
	m.mu.Lock()
	m.accounts[a.ID] = clone(a)
	m.mu.Unlock()
}
