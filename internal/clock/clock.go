package clock

import (
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Relation describes how two version vectors are causally ordered.
type Relation int

const (
	Equal      Relation = iota // Both vectors describe the same history
	Before                     // The first vector is an ancestor of the second
	After                      // The first vector descends from the second
	Concurrent                 // Neither vector contains the other
)

// String returns the string representation of the relation.
func (r Relation) String() string {
	switch r {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}

// VersionVector maps an actor ID to the number of changes that actor has
// contributed. Absent actors count as zero.
type VersionVector map[string]uint64

// Get returns the counter for actor, or zero if it is absent.
func (v VersionVector) Get(actor string) uint64 {
	return v[actor]
}

// Increment bumps the counter for actor and returns the new value.
func (v VersionVector) Increment(actor string) uint64 {
	v[actor]++

	return v[actor]
}

// Clone returns an independent copy of the vector.
// A nil vector clones to an empty one.
func (v VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(v))
	maps.Copy(out, v)

	return out
}

// Actors returns the actor IDs present in the vector, sorted.
func (v VersionVector) Actors() []string {
	return slices.Sorted(maps.Keys(v))
}

// String renders the vector as {a:1, b:2} with actors sorted.
func (v VersionVector) String() string {
	var b strings.Builder

	b.WriteString("{")

	for i, actor := range v.Actors() {
		if i > 0 {
			b.WriteString(", ")
		}

		b.WriteString(actor)
		b.WriteString(":")
		b.WriteString(strconv.FormatUint(v[actor], 10))
	}

	b.WriteString("}")

	return b.String()
}

// LessOrEqual reports whether a is an ancestor of, or equal to, b: every
// counter of a is less than or equal to the matching counter of b, with
// missing actors counting as zero.
func LessOrEqual(a, b VersionVector) bool {
	for actor, count := range a {
		if count > b[actor] {
			return false
		}
	}

	// Actors only present in b compare as 0 <= b[actor], which always holds.
	return true
}

// Compare determines the causal relation of a to b.
func Compare(a, b VersionVector) Relation {
	aLE := LessOrEqual(a, b)
	bLE := LessOrEqual(b, a)

	switch {
	case aLE && bLE:
		return Equal
	case aLE:
		return Before
	case bLE:
		return After
	default:
		return Concurrent
	}
}

// IsConcurrent reports whether neither vector contains the other.
func IsConcurrent(a, b VersionVector) bool {
	return Compare(a, b) == Concurrent
}

// Equal reports whether a and b carry the same counters. An actor present at
// zero in one vector and absent from the other is considered equal.
func (v VersionVector) Equal(other VersionVector) bool {
	return Compare(v, other) == Equal
}

// Merge returns the pointwise maximum of a and b.
func Merge(a, b VersionVector) VersionVector {
	out := a.Clone()

	for actor, count := range b {
		if count > out[actor] {
			out[actor] = count
		}
	}

	return out
}
