package matchrule

import (
	"context"
	"sync"
)

// RuleSource is what the matching engine reads rules through. Both the
// repository-backed Cache and a bare Repository adapter satisfy it.
type RuleSource interface {
	ActiveRules(ctx context.Context, companyID int64) ([]*Rule, error)
}

// Cache keeps a per-company snapshot of active rules in memory. Snapshots are
// invalidated by the postgres notification listener when a rule changes, so
// reads are eventually consistent with very recent writes. That is the
// documented contract: matching calls tolerate a short visibility lag for
// freshly learned rules.
type Cache struct {
	repo Repository

	mu        sync.RWMutex
	byCompany map[int64][]*Rule
}

// NewCache creates a rule cache over the given repository.
func NewCache(repo Repository) *Cache {
	return &Cache{
		repo:      repo,
		byCompany: make(map[int64][]*Rule),
	}
}

// ActiveRules returns the cached active rules for a company, loading from the
// repository on a cold cache. The returned slice must not be mutated.
func (c *Cache) ActiveRules(ctx context.Context, companyID int64) ([]*Rule, error) {
	c.mu.RLock()
	rules, ok := c.byCompany[companyID]
	c.mu.RUnlock()
	if ok {
		return rules, nil
	}

	rules, err := c.repo.ListByCompany(ctx, companyID, true)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.byCompany[companyID] = rules
	c.mu.Unlock()
	return rules, nil
}

// Invalidate drops the snapshot for one company.
func (c *Cache) Invalidate(companyID int64) {
	c.mu.Lock()
	delete(c.byCompany, companyID)
	c.mu.Unlock()
}

// InvalidateAll drops every snapshot, used when the notification connection
// is re-established and changes may have been missed.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.byCompany = make(map[int64][]*Rule)
	c.mu.Unlock()
}
