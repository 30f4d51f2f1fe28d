package crdt

import (
	"fmt"
	"maps"
	"slices"

	"github.com/serroba/docsync/internal/clock"
)

// entry is the winning write for one key.
type entry struct {
	value   string
	deleted bool
	time    uint64
	actor   string
}

// losesTo reports whether a write stamped (time, actor) beats e.
func (e entry) losesTo(time uint64, actor string) bool {
	if time != e.time {
		return time > e.time
	}

	return actor > e.actor
}

// MapDocument is a key/value document whose concurrent writes resolve by
// Lamport time, ties broken by actor ID. Values are never modified after
// construction.
type MapDocument struct {
	changes []Change
	clock   clock.VersionVector
	entries map[string]entry
	maxTime uint64
}

func newMapDocument() *MapDocument {
	return &MapDocument{
		clock:   clock.VersionVector{},
		entries: make(map[string]entry),
	}
}

// Clock returns the document's version vector.
func (d *MapDocument) Clock() clock.VersionVector {
	return d.clock
}

// Get returns the value under key.
func (d *MapDocument) Get(key string) (string, bool) {
	e, ok := d.entries[key]
	if !ok || e.deleted {
		return "", false
	}

	return e.value, true
}

// Keys returns the live keys, sorted.
func (d *MapDocument) Keys() []string {
	keys := make([]string, 0, len(d.entries))

	for k, e := range d.entries {
		if !e.deleted {
			keys = append(keys, k)
		}
	}

	slices.Sort(keys)

	return keys
}

// Values returns a copy of the live key/value pairs.
func (d *MapDocument) Values() map[string]string {
	out := make(map[string]string, len(d.entries))

	for k, e := range d.entries {
		if !e.deleted {
			out[k] = e.value
		}
	}

	return out
}

// Changes returns the applied changes in application order.
func (d *MapDocument) Changes() []Change {
	return slices.Clone(d.changes)
}

// changesSince returns the changes not covered by v, in application order.
func (d *MapDocument) changesSince(v clock.VersionVector) []Change {
	var missing []Change

	for _, c := range d.changes {
		if c.Seq > v[c.Actor] {
			missing = append(missing, c)
		}
	}

	return missing
}

// clone returns a copy that can be extended without touching d.
func (d *MapDocument) clone() *MapDocument {
	return &MapDocument{
		changes: slices.Clone(d.changes),
		clock:   d.clock.Clone(),
		entries: maps.Clone(d.entries),
		maxTime: d.maxTime,
	}
}

// apply folds one change into d. The caller guarantees it is the actor's
// next change.
func (d *MapDocument) apply(c Change) {
	for _, op := range c.Ops {
		if cur, ok := d.entries[op.Key]; ok && !cur.losesTo(c.Time, c.Actor) {
			continue
		}

		d.entries[op.Key] = entry{
			value:   op.Value,
			deleted: op.Action == ActionDelete,
			time:    c.Time,
			actor:   c.Actor,
		}
	}

	d.changes = append(d.changes, c)
	d.clock[c.Actor] = c.Seq
	d.maxTime = max(d.maxTime, c.Time)
}

// withChanges returns a new document with every change in changes that d
// does not already contain. Changes already present are skipped. It fails
// with ErrMissingDependency if an actor's sequence has a gap.
func (d *MapDocument) withChanges(changes []Change) (*MapDocument, int, error) {
	pending := sortChanges(changes)
	next := d.clone()
	applied := 0

	for len(pending) > 0 {
		progress := false
		kept := pending[:0]

		for _, c := range pending {
			if err := c.Validate(); err != nil {
				return nil, 0, err
			}

			have := next.clock[c.Actor]

			switch {
			case c.Seq <= have:
				progress = true
			case c.Seq == have+1:
				next.apply(c)
				applied++
				progress = true
			default:
				kept = append(kept, c)
			}
		}

		pending = kept

		if !progress {
			c := pending[0]

			return nil, 0, fmt.Errorf("%w: actor %s seq %d, have %d",
				ErrMissingDependency, c.Actor, c.Seq, next.clock[c.Actor])
		}
	}

	return next, applied, nil
}

// Ensure MapDocument implements Document.
var _ Document = (*MapDocument)(nil)
