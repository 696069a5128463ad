package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steverahardjo/grimoire/pkg/model"
)

func newTestReplacer(capacity int) *ArcReplacer {
	return NewArcReplacer(capacity, model.NewNoOpLogger())
}

func TestArcEvictOrder(t *testing.T) {
	r := newTestReplacer(3)

	r.RecordAccess(0, 100)
	r.RecordAccess(1, 101)
	r.RecordAccess(2, 102)
	require.NoError(t, r.SetEvictable(0, true))
	require.NoError(t, r.SetEvictable(1, true))
	require.NoError(t, r.SetEvictable(2, true))

	// All three sit in the recency list; the oldest goes first.
	frameID, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, model.FrameID(0), frameID)

	frameID, ok = r.Evict()
	require.True(t, ok)
	assert.Equal(t, model.FrameID(1), frameID)
}

func TestArcEvictSkipsPinned(t *testing.T) {
	r := newTestReplacer(3)

	r.RecordAccess(0, 100)
	r.RecordAccess(1, 101)
	require.NoError(t, r.SetEvictable(1, true))
	// Frame 0 stays non-evictable.

	frameID, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, model.FrameID(1), frameID, "Evict must never return a pinned frame")
}

func TestArcEvictEmptyAndAllPinned(t *testing.T) {
	r := newTestReplacer(2)

	_, ok := r.Evict()
	assert.False(t, ok, "empty replacer has no victim")

	r.RecordAccess(0, 100)
	r.RecordAccess(1, 101)
	_, ok = r.Evict()
	assert.False(t, ok, "all-pinned replacer has no victim")
}

func TestArcSecondTouchPromotes(t *testing.T) {
	r := newTestReplacer(3)

	r.RecordAccess(0, 100)
	r.RecordAccess(1, 101)
	require.NoError(t, r.SetEvictable(0, true))
	require.NoError(t, r.SetEvictable(1, true))

	// Second touch moves frame 0 to the frequency list, so the recency
	// scan finds frame 1 first even though 0 is older.
	r.RecordAccess(0, 100)
	assert.Equal(t, statusFrequent, r.frames[0].status)

	frameID, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, model.FrameID(1), frameID)
}

func TestArcEvictedPageBecomesGhost(t *testing.T) {
	r := newTestReplacer(2)

	r.RecordAccess(0, 100)
	require.NoError(t, r.SetEvictable(0, true))

	frameID, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, model.FrameID(0), frameID)

	// The frame is gone from every resident structure; the page
	// identity sits in exactly one ghost list.
	_, resident := r.frames[0]
	assert.False(t, resident)
	g, ok := r.ghosts[100]
	require.True(t, ok)
	assert.Equal(t, statusRecentGhost, g.status)
	assert.Equal(t, 1, r.recentGhost.Len())
	assert.Equal(t, 0, r.frequentGhost.Len())

	// A frequency-resident victim ghosts on the frequency side.
	r.RecordAccess(1, 101)
	r.RecordAccess(1, 101) // promote
	require.NoError(t, r.SetEvictable(1, true))
	_, ok = r.Evict()
	require.True(t, ok)
	g, ok = r.ghosts[101]
	require.True(t, ok)
	assert.Equal(t, statusFrequentGhost, g.status)
}

func TestArcGhostHitAdaptsTarget(t *testing.T) {
	r := newTestReplacer(4)

	r.RecordAccess(0, 100)
	require.NoError(t, r.SetEvictable(0, true))
	_, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, 0, r.Target())

	// Readmitting the ghosted page signals recency pressure: the
	// target grows and the page joins the frequency list.
	r.RecordAccess(1, 100)
	assert.Equal(t, 1, r.Target())
	assert.Equal(t, statusFrequent, r.frames[1].status)
	_, stillGhost := r.ghosts[100]
	assert.False(t, stillGhost, "ghost entry must be consumed by the hit")

	// A frequency-ghost hit pulls the target back down.
	r.RecordAccess(1, 100) // promote (already frequent, stays)
	require.NoError(t, r.SetEvictable(1, true))
	_, ok = r.Evict()
	require.True(t, ok)
	require.Equal(t, statusFrequentGhost, r.ghosts[100].status)

	r.RecordAccess(2, 100)
	assert.Equal(t, 0, r.Target())
}

func TestArcTargetClamped(t *testing.T) {
	r := newTestReplacer(2)

	// Repeated recency-ghost hits cannot push the target past capacity.
	for i := 0; i < 5; i++ {
		pageID := model.PageID(100 + i)
		r.RecordAccess(0, pageID)
		require.NoError(t, r.SetEvictable(0, true))
		_, ok := r.Evict()
		require.True(t, ok)
		r.RecordAccess(0, pageID) // recency-ghost hit
		require.NoError(t, r.SetEvictable(0, true))
		_, ok = r.Evict()
		require.True(t, ok)
	}
	assert.LessOrEqual(t, r.Target(), r.Capacity())
	assert.GreaterOrEqual(t, r.Target(), 0)
}

func TestArcRecordAccessKeepsEvictableFlag(t *testing.T) {
	r := newTestReplacer(3)

	r.RecordAccess(0, 100)
	require.NoError(t, r.SetEvictable(0, true))

	for i := 0; i < 4; i++ {
		r.RecordAccess(0, 100)
		assert.True(t, r.frames[0].evictable, "resident access must not change the evictable flag")
	}
	assert.Equal(t, 1, r.Size())
}

func TestArcSetEvictable(t *testing.T) {
	r := newTestReplacer(3)

	r.RecordAccess(0, 100)
	r.RecordAccess(1, 101)
	assert.Equal(t, 0, r.Size(), "new entries start non-evictable")

	require.NoError(t, r.SetEvictable(0, true))
	assert.Equal(t, 1, r.Size())

	// Idempotent
	require.NoError(t, r.SetEvictable(0, true))
	assert.Equal(t, 1, r.Size())

	require.NoError(t, r.SetEvictable(0, false))
	assert.Equal(t, 0, r.Size())

	err := r.SetEvictable(9, true)
	assert.Equal(t, model.ErrFrameNotFound{FrameID: 9}, err)
}

func TestArcRemove(t *testing.T) {
	r := newTestReplacer(3)

	r.RecordAccess(0, 100)
	r.RecordAccess(1, 101)
	require.NoError(t, r.SetEvictable(1, true))

	// Removing a pinned frame fails and leaves every list untouched.
	err := r.Remove(0)
	assert.Equal(t, model.ErrNotEvictable{FrameID: 0}, err)
	assert.Equal(t, 2, r.recent.Len())
	assert.Equal(t, 1, r.Size())

	// Removing an evictable frame drops it entirely: no ghost.
	require.NoError(t, r.Remove(1))
	_, resident := r.frames[1]
	assert.False(t, resident)
	_, ghost := r.ghosts[101]
	assert.False(t, ghost)
	assert.Equal(t, 0, r.Size())

	// Removing an untracked frame is a no-op.
	require.NoError(t, r.Remove(1))
}

func TestArcGhostListsTrimmed(t *testing.T) {
	const capacity = 3
	r := newTestReplacer(capacity)

	// Evict far more pages than the ghost lists can remember.
	for i := 0; i < capacity*4; i++ {
		r.RecordAccess(0, model.PageID(100+i))
		require.NoError(t, r.SetEvictable(0, true))
		_, ok := r.Evict()
		require.True(t, ok)
	}

	assert.LessOrEqual(t, r.recentGhost.Len(), capacity)
	assert.Equal(t, r.recentGhost.Len()+r.frequentGhost.Len(), len(r.ghosts))
}
