package subscription_test

import (
	"sync"
	"testing"

	"github.com/serroba/docsync/internal/subscription"
	"github.com/stretchr/testify/assert"
)

func TestTracker_Subscribe_Dedup(t *testing.T) {
	t.Parallel()

	tracker := subscription.NewTracker()

	first := tracker.Subscribe([]string{"a", "a", "b"})
	second := tracker.Subscribe([]string{"b"})

	assert.Equal(t, []string{"a", "b"}, first)
	assert.Equal(t, []string{"b"}, second)

	if tracker.Len() != 2 {
		t.Errorf("expected 2 pending ids, got %d", tracker.Len())
	}
}

func TestTracker_Subscribe_Empty(t *testing.T) {
	t.Parallel()

	tracker := subscription.NewTracker()

	if got := tracker.Subscribe(nil); got != nil {
		t.Errorf("expected nil, got %v", got)
	}

	if got := tracker.Subscribe([]string{}); got != nil {
		t.Errorf("expected nil, got %v", got)
	}

	if tracker.Len() != 0 {
		t.Errorf("expected empty tracker, got %d", tracker.Len())
	}
}

func TestTracker_Unsubscribe(t *testing.T) {
	t.Parallel()

	tracker := subscription.NewTracker("a", "b", "c")

	removed := tracker.Unsubscribe([]string{"b", "b", "z"})

	assert.Equal(t, []string{"b", "z"}, removed)
	assert.Equal(t, []string{"a", "c"}, tracker.Pending())

	// Idempotent.
	tracker.Unsubscribe([]string{"b"})
	assert.Equal(t, []string{"a", "c"}, tracker.Pending())

	if got := tracker.Unsubscribe(nil); got != nil {
		t.Errorf("expected nil for empty unsubscribe, got %v", got)
	}
}

func TestTracker_Acknowledge(t *testing.T) {
	t.Parallel()

	tracker := subscription.NewTracker("a", "b")

	confirmed := tracker.Acknowledge("a", "unknown")

	assert.Equal(t, []string{"a"}, confirmed)
	assert.False(t, tracker.IsPending("a"))
	assert.True(t, tracker.IsPending("b"))

	assert.Empty(t, tracker.Acknowledge("a"))
}

func TestTracker_PendingSorted(t *testing.T) {
	t.Parallel()

	tracker := subscription.NewTracker()
	tracker.Subscribe([]string{"c", "a", "b"})

	assert.Equal(t, []string{"a", "b", "c"}, tracker.Pending())
}

func TestTracker_ConcurrentOperations(t *testing.T) {
	t.Parallel()

	tracker := subscription.NewTracker()

	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			id := string(rune('a' + n))
			tracker.Subscribe([]string{id, id})
			tracker.Subscribe([]string{"shared"})
		}(i)
	}

	wg.Wait()

	if tracker.Len() != 21 {
		t.Errorf("expected 21 pending ids, got %d", tracker.Len())
	}
}

func TestDedup(t *testing.T) {
	t.Parallel()

	assert.Nil(t, subscription.Dedup(nil))
	assert.Equal(t, []string{"x", "y"}, subscription.Dedup([]string{"x", "y", "x", "y"}))
}
