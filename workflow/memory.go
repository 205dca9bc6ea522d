package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	portal "github.com/academia-portal/portal-go"
)

// Memory is an in-process Store. Items are copied on the way in and out so
// callers never share state with the store.
type Memory[S any] struct {
	mu    sync.RWMutex
	items map[string]*portal.Item[S]
	order []string
}

// NewMemory creates an empty store.
func NewMemory[S any]() *Memory[S] {
	return &Memory[S]{items: make(map[string]*portal.Item[S])}
}

// Insert saves item under a fresh UUID unless it already has an ID.
func (m *Memory[S]) Insert(_ context.Context, item portal.Item[S]) (*portal.Item[S], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if _, exists := m.items[item.ID]; exists {
		return nil, fmt.Errorf("portal/workflow: item %q already exists", item.ID)
	}
	stored := clone(&item)
	m.items[item.ID] = stored
	m.order = append(m.order, item.ID)
	return clone(stored), nil
}

// Get returns a copy of one item.
func (m *Memory[S]) Get(_ context.Context, id string) (*portal.Item[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("item %q: %w", id, portal.ErrNotFound)
	}
	return clone(item), nil
}

// List returns copies of matching items in insertion order.
func (m *Memory[S]) List(_ context.Context, filter portal.Filter) ([]*portal.Item[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*portal.Item[S], 0, len(m.order))
	for _, id := range m.order {
		item := m.items[id]
		if filter.Match(item.Status, item.RequesterID) {
			out = append(out, clone(item))
		}
	}
	return out, nil
}

// Resolve applies d if the item is still pending.
func (m *Memory[S]) Resolve(_ context.Context, id string, d Decision) (*portal.Item[S], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("item %q: %w", id, portal.ErrNotFound)
	}
	if item.Status != portal.StatusPending {
		return nil, &portal.WorkflowStateError{Op: "decide", ItemID: id, Status: item.Status}
	}

	next := clone(item)
	at := d.DecidedAt
	next.Status = d.Outcome
	next.AdminResponse = d.Response
	next.DecidedBy = d.DecidedBy
	next.DecidedAt = &at
	m.items[id] = next
	return clone(next), nil
}

// Len returns the number of stored items.
func (m *Memory[S]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func clone[S any](item *portal.Item[S]) *portal.Item[S] {
	c := *item
	if item.DecidedAt != nil {
		at := *item.DecidedAt
		c.DecidedAt = &at
	}
	return &c
}
