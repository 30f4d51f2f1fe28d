// Package subscription tracks which document IDs the agent has asked the
// remote to send and the remote has not yet confirmed.
package subscription

import (
	"maps"
	"slices"
	"sync"
)

// Tracker holds the pending-subscription set. It never contains duplicates.
type Tracker struct {
	mu      sync.RWMutex
	pending map[string]struct{}
}

// NewTracker creates a tracker seeded with ids.
func NewTracker(ids ...string) *Tracker {
	t := &Tracker{pending: make(map[string]struct{}, len(ids))}

	for _, id := range ids {
		t.pending[id] = struct{}{}
	}

	return t
}

// Subscribe adds ids to the pending set and returns them deduplicated in
// first-occurrence order, ready for a subscribe frame. Empty input is a
// no-op and returns nil.
func (t *Tracker) Subscribe(ids []string) []string {
	unique := Dedup(ids)
	if len(unique) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range unique {
		t.pending[id] = struct{}{}
	}

	return unique
}

// Unsubscribe drops ids from the pending set and returns them deduplicated,
// ready for an unsubscribe frame. Empty input is a no-op and returns nil.
func (t *Tracker) Unsubscribe(ids []string) []string {
	unique := Dedup(ids)
	if len(unique) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range unique {
		delete(t.pending, id)
	}

	return unique
}

// Acknowledge marks ids as confirmed by the remote. It returns the ids that
// were actually pending.
func (t *Tracker) Acknowledge(ids ...string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var confirmed []string

	for _, id := range ids {
		if _, ok := t.pending[id]; ok {
			delete(t.pending, id)
			confirmed = append(confirmed, id)
		}
	}

	return confirmed
}

// IsPending reports whether id is still awaiting confirmation.
func (t *Tracker) IsPending(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.pending[id]

	return ok
}

// Pending returns the pending IDs, sorted.
func (t *Tracker) Pending() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return slices.Sorted(maps.Keys(t.pending))
}

// Len returns the number of pending IDs.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.pending)
}

// Dedup returns ids without duplicates, keeping first occurrences in order.
func Dedup(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}

		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}
