package clock_test

import (
	"testing"

	"github.com/serroba/docsync/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestLessOrEqual(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b clock.VersionVector
		want bool
	}{
		{"both empty", clock.VersionVector{}, clock.VersionVector{}, true},
		{"nil vs empty", nil, clock.VersionVector{}, true},
		{"ancestor", clock.VersionVector{"x": 1}, clock.VersionVector{"x": 2}, true},
		{"descendant", clock.VersionVector{"x": 2}, clock.VersionVector{"x": 1}, false},
		{"missing key counts as zero", clock.VersionVector{}, clock.VersionVector{"x": 3}, true},
		{"extra key in a", clock.VersionVector{"x": 1, "y": 1}, clock.VersionVector{"x": 1}, false},
		{"zero key in a", clock.VersionVector{"x": 1, "y": 0}, clock.VersionVector{"x": 1}, true},
		{"concurrent", clock.VersionVector{"x": 2, "y": 1}, clock.VersionVector{"x": 1, "y": 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := clock.LessOrEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("LessOrEqual(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestLessOrEqual_Reflexive(t *testing.T) {
	t.Parallel()

	vectors := []clock.VersionVector{
		{},
		{"x": 1},
		{"x": 2, "y": 7, "z": 0},
	}

	for _, v := range vectors {
		if !clock.LessOrEqual(v, v) {
			t.Errorf("expected %s <= %s", v, v)
		}
	}
}

func TestLessOrEqual_Antisymmetric(t *testing.T) {
	t.Parallel()

	a := clock.VersionVector{"x": 2, "y": 0}
	b := clock.VersionVector{"x": 2}

	if !clock.LessOrEqual(a, b) || !clock.LessOrEqual(b, a) {
		t.Fatalf("expected %s and %s to be mutually ordered", a, b)
	}

	for _, actor := range []string{"x", "y"} {
		if a.Get(actor) != b.Get(actor) {
			t.Errorf("actor %s: %d != %d", actor, a.Get(actor), b.Get(actor))
		}
	}
}

func TestCompare(t *testing.T) {
	t.Parallel()

	assert.Equal(t, clock.Equal, clock.Compare(clock.VersionVector{"x": 1}, clock.VersionVector{"x": 1}))
	assert.Equal(t, clock.Before, clock.Compare(clock.VersionVector{"x": 1}, clock.VersionVector{"x": 2}))
	assert.Equal(t, clock.After, clock.Compare(clock.VersionVector{"x": 2, "y": 1}, clock.VersionVector{"x": 2}))
	assert.Equal(t, clock.Concurrent, clock.Compare(
		clock.VersionVector{"x": 2, "y": 1},
		clock.VersionVector{"x": 1, "y": 2},
	))
	assert.True(t, clock.IsConcurrent(clock.VersionVector{"a": 1}, clock.VersionVector{"b": 1}))
}

func TestRelation_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "equal", clock.Equal.String())
	assert.Equal(t, "before", clock.Before.String())
	assert.Equal(t, "after", clock.After.String())
	assert.Equal(t, "concurrent", clock.Concurrent.String())
	assert.Equal(t, "unknown", clock.Relation(42).String())
}

func TestMerge(t *testing.T) {
	t.Parallel()

	a := clock.VersionVector{"x": 2, "y": 1}
	b := clock.VersionVector{"x": 1, "y": 2, "z": 4}

	merged := clock.Merge(a, b)

	assert.Equal(t, clock.VersionVector{"x": 2, "y": 2, "z": 4}, merged)
	assert.True(t, clock.LessOrEqual(a, merged))
	assert.True(t, clock.LessOrEqual(b, merged))

	// Inputs are left untouched.
	assert.Equal(t, clock.VersionVector{"x": 2, "y": 1}, a)
}

func TestVersionVector_IncrementAndClone(t *testing.T) {
	t.Parallel()

	v := clock.VersionVector{}
	v.Increment("x")

	clone := v.Clone()

	if got := v.Increment("x"); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}

	if clone.Get("x") != 1 {
		t.Errorf("clone should not change, got %d", clone.Get("x"))
	}

	var empty clock.VersionVector
	if empty.Clone() == nil {
		t.Error("expected nil vector to clone to an empty map")
	}
}

func TestVersionVector_Equal(t *testing.T) {
	t.Parallel()

	assert.True(t, clock.VersionVector{"x": 1, "y": 0}.Equal(clock.VersionVector{"x": 1}))
	assert.False(t, clock.VersionVector{"x": 1}.Equal(clock.VersionVector{"x": 2}))
}

func TestVersionVector_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "{}", clock.VersionVector{}.String())
	assert.Equal(t, "{a:3, b:1}", clock.VersionVector{"b": 1, "a": 3}.String())
}
