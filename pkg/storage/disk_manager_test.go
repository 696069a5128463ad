package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steverahardjo/grimoire/pkg/model"
)

func newTestDiskManager(t *testing.T) *DiskManager {
	t.Helper()

	config := DefaultDiskManagerConfig(filepath.Join(t.TempDir(), "test.db"))
	config.Logger = model.NewNoOpLogger()
	dm, err := NewDiskManager(config)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return dm
}

func pageOf(b byte) []byte {
	data := make([]byte, model.PageSize)
	for i := range data {
		data[i] = b
	}
	return data
}

func TestDiskManagerRoundTrip(t *testing.T) {
	dm := newTestDiskManager(t)

	want := pageOf(0xAB)
	require.NoError(t, dm.WritePage(1, want))

	got := make([]byte, model.PageSize)
	require.NoError(t, dm.ReadPage(1, got))
	assert.True(t, bytes.Equal(want, got), "read bytes differ from written bytes")
}

func TestDiskManagerReadUnknownPage(t *testing.T) {
	dm := newTestDiskManager(t)

	buf := make([]byte, model.PageSize)
	err := dm.ReadPage(99, buf)
	assert.Equal(t, model.ErrPageNotFound{ID: 99}, err)
}

func TestDiskManagerDeleteAndSlotReuse(t *testing.T) {
	dm := newTestDiskManager(t)

	require.NoError(t, dm.WritePage(1, pageOf(0x11)))
	require.NoError(t, dm.WritePage(2, pageOf(0x22)))

	require.NoError(t, dm.DeletePage(1))
	assert.Equal(t, 1, dm.FreeSlotCount())

	// Deleting again is a logic bug the caller can detect.
	err := dm.DeletePage(1)
	assert.Equal(t, model.ErrPageNotFound{ID: 1}, err)

	// A new page claims the freed slot instead of growing the file.
	require.NoError(t, dm.WritePage(3, pageOf(0x33)))
	assert.Equal(t, 0, dm.FreeSlotCount())

	// The reused slot carries only the new page's bytes.
	got := make([]byte, model.PageSize)
	require.NoError(t, dm.ReadPage(3, got))
	assert.True(t, bytes.Equal(pageOf(0x33), got), "reused slot holds stale bytes")

	// Page 2 is untouched by the reuse.
	require.NoError(t, dm.ReadPage(2, got))
	assert.True(t, bytes.Equal(pageOf(0x22), got))
}

func TestDiskManagerCapacityDoubles(t *testing.T) {
	config := DefaultDiskManagerConfig(filepath.Join(t.TempDir(), "grow.db"))
	config.InitialCapacity = 2
	config.Logger = model.NewNoOpLogger()
	dm, err := NewDiskManager(config)
	require.NoError(t, err)
	defer dm.Close()

	assert.Equal(t, int64(2), dm.Capacity())

	for id := model.PageID(1); id <= 5; id++ {
		require.NoError(t, dm.WritePage(id, pageOf(byte(id))))
	}
	assert.Equal(t, int64(8), dm.Capacity(), "capacity should double 2 -> 4 -> 8")

	info, err := os.Stat(dm.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(8*model.PageSize), info.Size())
}

func TestDiskManagerLogAppend(t *testing.T) {
	dm := newTestDiskManager(t)

	require.NoError(t, dm.WriteLog([]byte("first ")))
	require.NoError(t, dm.WriteLog([]byte("second")))

	content, err := os.ReadFile(dm.LogPath())
	require.NoError(t, err)
	assert.Equal(t, "first second", string(content), "log appends must land in order")
}

func TestDiskManagerLogPathFromStem(t *testing.T) {
	dir := t.TempDir()
	config := DefaultDiskManagerConfig(filepath.Join(dir, "grimoire.db"))
	config.Logger = model.NewNoOpLogger()
	dm, err := NewDiskManager(config)
	require.NoError(t, err)
	defer dm.Close()

	assert.Equal(t, filepath.Join(dir, "grimoire.log"), dm.LogPath())
}

func TestDiskManagerStats(t *testing.T) {
	dm := newTestDiskManager(t)

	require.NoError(t, dm.WritePage(1, pageOf(1)))
	require.NoError(t, dm.WritePage(1, pageOf(2)))
	buf := make([]byte, model.PageSize)
	require.NoError(t, dm.ReadPage(1, buf))
	require.NoError(t, dm.DeletePage(1))
	require.NoError(t, dm.WriteLog([]byte("x")))

	assert.Equal(t, int64(2), dm.NumWrites())
	assert.Equal(t, int64(1), dm.NumReads())
	assert.Equal(t, int64(1), dm.NumDeletes())
	assert.Equal(t, int64(1), dm.NumLogWrites())
}

func TestDiskManagerDetectsCorruption(t *testing.T) {
	dm := newTestDiskManager(t)

	require.NoError(t, dm.WritePage(1, pageOf(0x5A)))

	// Scribble over the page's slot behind the manager's back. The
	// first page ever written lands in slot zero.
	f, err := os.OpenFile(dm.Path(), os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF, 0xFF, 0xFF, 0xFF}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	buf := make([]byte, model.PageSize)
	err = dm.ReadPage(1, buf)
	assert.Equal(t, model.ErrCorruptedPage{ID: 1}, err)
}

// A failed write leaves the page exactly as it was: the prior bytes still
// read back clean, and a first write that never landed leaves the page
// unmapped with its slot returned to the pool.
func TestDiskManagerWriteFailureKeepsOldState(t *testing.T) {
	dm := newTestDiskManager(t)
	require.NoError(t, dm.WritePage(1, pageOf(0x10)))

	// Swap in a read-only handle so writes fail at the descriptor.
	rw := dm.dbFile
	ro, err := os.Open(dm.Path())
	require.NoError(t, err)
	dm.dbFile = ro

	require.Error(t, dm.WritePage(1, pageOf(0x20)))
	require.Error(t, dm.WritePage(2, pageOf(0x30)))

	dm.dbFile = rw
	require.NoError(t, ro.Close())

	// Page 1 still carries its last durable bytes, not a poisoned digest.
	got := make([]byte, model.PageSize)
	require.NoError(t, dm.ReadPage(1, got))
	assert.True(t, bytes.Equal(pageOf(0x10), got))

	// Page 2 was never written; its claimed slot went back to the pool.
	assert.Equal(t, model.ErrPageNotFound{ID: 2}, dm.ReadPage(2, got))
	assert.Equal(t, 1, dm.FreeSlotCount())

	require.NoError(t, dm.WritePage(2, pageOf(0x30)))
	assert.Equal(t, 0, dm.FreeSlotCount())
	require.NoError(t, dm.ReadPage(2, got))
	assert.True(t, bytes.Equal(pageOf(0x30), got))
}

func TestDiskManagerInvalidBufferPanics(t *testing.T) {
	dm := newTestDiskManager(t)

	assert.PanicsWithValue(t, model.ErrInvalidBuffer{Got: 3, Want: model.PageSize}, func() {
		_ = dm.WritePage(1, []byte{1, 2, 3})
	})
	assert.Panics(t, func() {
		_ = dm.ReadPage(1, make([]byte, model.PageSize-1))
	})
}

func TestDiskManagerClosed(t *testing.T) {
	dm := newTestDiskManager(t)
	require.NoError(t, dm.Close())

	// Close is idempotent
	require.NoError(t, dm.Close())

	assert.Equal(t, model.ErrDiskManagerClosed, dm.WritePage(1, pageOf(1)))
	assert.Equal(t, model.ErrDiskManagerClosed, dm.ReadPage(1, pageOf(1)))
	assert.Equal(t, model.ErrDiskManagerClosed, dm.DeletePage(1))
	assert.Equal(t, model.ErrDiskManagerClosed, dm.WriteLog([]byte("x")))
}
