package crdt

import (
	"cmp"
	"fmt"
	"slices"
)

// Action identifies what an Op does to a key.
type Action string

const (
	ActionSet    Action = "set"
	ActionDelete Action = "del"
)

// Op is a single key edit.
type Op struct {
	Action Action `json:"action"`
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
}

// Change is the unit of replication: the ops one actor made in one edit.
// Seq counts the actor's changes starting at 1; Time is a Lamport timestamp
// used to order concurrent writes to the same key.
type Change struct {
	Actor string `json:"actor"`
	Seq   uint64 `json:"seq"`
	Time  uint64 `json:"time"`
	Ops   []Op   `json:"ops"`
}

// Validate checks the structural fields of a change.
func (c Change) Validate() error {
	if c.Actor == "" {
		return fmt.Errorf("%w: missing actor", ErrInvalidChange)
	}

	if c.Seq == 0 {
		return fmt.Errorf("%w: actor %s: seq must start at 1", ErrInvalidChange, c.Actor)
	}

	for _, op := range c.Ops {
		if op.Action != ActionSet && op.Action != ActionDelete {
			return fmt.Errorf("%w: unknown action %q", ErrInvalidChange, op.Action)
		}
	}

	return nil
}

// sortChanges orders changes by actor, then sequence number.
func sortChanges(changes []Change) []Change {
	out := slices.Clone(changes)
	slices.SortFunc(out, func(a, b Change) int {
		if c := cmp.Compare(a.Actor, b.Actor); c != 0 {
			return c
		}

		return cmp.Compare(a.Seq, b.Seq)
	})

	return out
}
