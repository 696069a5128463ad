package model

import (
	"sync"
)

const (
	// DefaultMaxPages is the default maximum number of page IDs that can
	// be live at once.
	DefaultMaxPages = 1000000
)

// PageIDAllocator hands out process-wide unique page IDs. It is the
// external collaborator the buffer pool turns to on NewPage: the pool owns
// frames and bytes, the allocator owns only identifiers. Released IDs are
// recycled, but never while still allocated.
type PageIDAllocator struct {
	mu        sync.Mutex
	maxPages  uint64
	allocated map[PageID]struct{}
	freeIDs   []PageID
	nextID    PageID
	logger    Logger
}

// NewPageIDAllocator creates an allocator bounded at maxPages live IDs.
// A maxPages of zero selects DefaultMaxPages.
func NewPageIDAllocator(maxPages uint64, logger Logger) *PageIDAllocator {
	if maxPages == 0 {
		maxPages = DefaultMaxPages
	}
	if logger == nil {
		logger = DefaultLoggerInstance
	}

	return &PageIDAllocator{
		maxPages:  maxPages,
		allocated: make(map[PageID]struct{}),
		nextID:    1, // 0 is InvalidPageID
		logger:    logger,
	}
}

// Allocate returns a page ID that is not currently live. IDs from released
// pages are reused before fresh IDs are minted.
func (a *PageIDAllocator) Allocate() (PageID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if uint64(len(a.allocated)) >= a.maxPages {
		a.logger.Error("Cannot allocate page ID: maximum of %d live pages reached", a.maxPages)
		return InvalidPageID, ErrNoFreePageIDs
	}

	var id PageID
	if n := len(a.freeIDs); n > 0 {
		id = a.freeIDs[n-1]
		a.freeIDs = a.freeIDs[:n-1]
	} else {
		id = a.nextID
		a.nextID++
	}

	a.allocated[id] = struct{}{}
	a.logger.Debug("Allocated page ID %d", id)
	return id, nil
}

// Release returns a page ID to the allocator for eventual reuse. The
// caller must guarantee no reference to the page remains.
func (a *PageIDAllocator) Release(id PageID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.allocated[id]; !ok {
		a.logger.Warn("Cannot release page ID %d: not allocated", id)
		return ErrPageIDNotAllocated
	}

	delete(a.allocated, id)
	a.freeIDs = append(a.freeIDs, id)
	a.logger.Debug("Released page ID %d", id)
	return nil
}

// IsAllocated returns true if the given page ID is currently live.
func (a *PageIDAllocator) IsAllocated(id PageID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.allocated[id]
	return ok
}

// AllocatedCount returns the number of live page IDs.
func (a *PageIDAllocator) AllocatedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.allocated)
}

// FreeCount returns the number of released IDs waiting for reuse.
func (a *PageIDAllocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.freeIDs)
}

// MaxPages returns the configured bound on live page IDs.
func (a *PageIDAllocator) MaxPages() uint64 {
	return a.maxPages
}
