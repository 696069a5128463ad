package model

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted is returned when the buffer pool has no free frame
	// and no evictable page. Callers may retry after unpinning pages;
	// this is an exhaustion condition, not a logic bug.
	ErrPoolExhausted = errors.New("buffer pool exhausted: every frame is pinned")

	// ErrSchedulerClosed is returned when a request is submitted to a
	// disk scheduler that has been shut down.
	ErrSchedulerClosed = errors.New("disk scheduler is closed")

	// ErrDiskManagerClosed is returned for any operation on a closed
	// disk manager.
	ErrDiskManagerClosed = errors.New("disk manager is closed")

	// ErrNoFreePageIDs is returned when the page ID allocator has reached
	// its configured maximum.
	ErrNoFreePageIDs = errors.New("no free page IDs available")

	// ErrPageIDNotAllocated is returned when releasing a page ID that was
	// never handed out.
	ErrPageIDNotAllocated = errors.New("page ID is not allocated")
)

// ErrPageNotFound is returned when a read, flush or delete names a page ID
// with no recorded storage. Distinguishable from ErrPoolExhausted so
// callers can tell a logic bug from transient pressure.
type ErrPageNotFound struct {
	ID PageID
}

func (e ErrPageNotFound) Error() string {
	return fmt.Sprintf("page not found: %d", e.ID)
}

// ErrNotEvictable is returned when attempting to remove a frame whose
// evictable flag is down (the page is still pinned).
type ErrNotEvictable struct {
	FrameID FrameID
}

func (e ErrNotEvictable) Error() string {
	return fmt.Sprintf("frame %d is not evictable", e.FrameID)
}

// ErrFrameNotFound is returned when a replacer operation names a frame it
// does not track.
type ErrFrameNotFound struct {
	FrameID FrameID
}

func (e ErrFrameNotFound) Error() string {
	return fmt.Sprintf("frame %d is not tracked by the replacer", e.FrameID)
}

// ErrPagePinned is returned when deleting a page that callers still hold
// pinned.
type ErrPagePinned struct {
	ID       PageID
	PinCount int32
}

func (e ErrPagePinned) Error() string {
	return fmt.Sprintf("page %d is pinned (pin count %d)", e.ID, e.PinCount)
}

// ErrCorruptedPage is returned when the bytes read for a page no longer
// match the digest recorded when the page was last written.
type ErrCorruptedPage struct {
	ID PageID
}

func (e ErrCorruptedPage) Error() string {
	return fmt.Sprintf("page %d is corrupted: content digest mismatch", e.ID)
}

// ErrInvalidBuffer reports a page buffer whose length is not PageSize.
// It is used as a panic value: a mis-sized buffer is a programming error,
// not a recoverable condition.
type ErrInvalidBuffer struct {
	Got  int
	Want int
}

func (e ErrInvalidBuffer) Error() string {
	return fmt.Sprintf("invalid page buffer: got %d bytes, want %d", e.Got, e.Want)
}
