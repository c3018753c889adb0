package typing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker() (*Tracker, *time.Time) {
	tr := NewTracker(10*time.Second, 30*time.Second)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestStartThenActiveTypers(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Start(1, 10)
	tr.Start(1, 11)
	tr.Start(2, 12)

	active := tr.ActiveTypers(1)
	require.Len(t, active, 2)
	for _, ind := range active {
		assert.Equal(t, 1, ind.ChatID)
		assert.True(t, ind.IsActive)
	}
}

func TestStopImmediatelyInactive(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Start(1, 10)
	tr.Stop(1, 10)

	assert.Empty(t, tr.ActiveTypers(1))
}

func TestLazyExpiryPastActiveWindow(t *testing.T) {
	tr, now := newTestTracker()

	tr.Start(1, 10)
	*now = now.Add(11 * time.Second)

	assert.Empty(t, tr.ActiveTypers(1))

	// A refresh makes the entry active again.
	tr.Start(1, 10)
	assert.Len(t, tr.ActiveTypers(1), 1)
}

func TestActiveJustInsideWindow(t *testing.T) {
	tr, now := newTestTracker()

	tr.Start(1, 10)
	*now = now.Add(9 * time.Second)

	assert.Len(t, tr.ActiveTypers(1), 1)
}

func TestSweepExpiresStaleEntries(t *testing.T) {
	tr, now := newTestTracker()

	tr.Start(1, 10)
	tr.Start(2, 11)
	*now = now.Add(31 * time.Second)

	expired := tr.Sweep()
	assert.Equal(t, 2, expired)
	assert.Empty(t, tr.ActiveTypers(1))
	assert.Empty(t, tr.ActiveTypers(2))
}

func TestSweepLeavesFreshEntries(t *testing.T) {
	tr, now := newTestTracker()

	tr.Start(1, 10)
	*now = now.Add(5 * time.Second)

	assert.Equal(t, 0, tr.Sweep())
	assert.Len(t, tr.ActiveTypers(1), 1)
}

func TestSweepDropsLongInactiveEntries(t *testing.T) {
	tr, now := newTestTracker()

	tr.Start(1, 10)
	tr.Stop(1, 10)
	*now = now.Add(61 * time.Second)

	tr.Sweep()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Empty(t, tr.entries)
}

func TestSnapshotSpansChats(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Start(1, 10)
	tr.Start(2, 11)
	tr.Start(3, 12)

	snap := tr.Snapshot([]int{1, 2})
	require.Len(t, snap, 2)
}
