package buffer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/steverahardjo/grimoire/pkg/model"
	"github.com/steverahardjo/grimoire/pkg/storage"
)

// BufferPoolManagerConfig holds configuration options for the buffer pool
// manager.
type BufferPoolManagerConfig struct {
	// PoolSize is the number of frames. Zero selects DefaultPoolSize.
	PoolSize int

	// Scheduler performs all page I/O. Required.
	Scheduler *storage.DiskScheduler

	// Allocator supplies page IDs for NewPage. Required.
	Allocator *model.PageIDAllocator

	// Logger for buffer pool operations.
	Logger model.Logger
}

// DefaultPoolSize is the default number of frames.
const DefaultPoolSize = 64

// loadOp tracks one in-flight page load so concurrent fetches of the same
// page share a single disk read instead of claiming separate frames.
type loadOp struct {
	done chan struct{}
	err  error
}

// BufferPoolManager owns the frame array, the page table mapping page IDs
// to frames, and the free-frame list. On a miss it takes a frame from the
// free list or asks the replacer for a victim, flushes the victim if
// dirty, and fetches the wanted page through the disk scheduler.
//
// The directory lock guards the page table, free list and frame metadata.
// It is never held while waiting on the scheduler: a page being loaded,
// or flushed out as a dirty eviction victim, is published in the loading
// table instead, and latecomers wait on its done channel. The directory
// calls into the replacer but never the reverse, so the two locks cannot
// deadlock.
type BufferPoolManager struct {
	mu        sync.Mutex
	poolSize  int
	frames    []*Frame
	pageTable map[model.PageID]model.FrameID
	freeList  []model.FrameID
	loading   map[model.PageID]*loadOp

	replacer  *ArcReplacer
	scheduler *storage.DiskScheduler
	allocator *model.PageIDAllocator
	logger    model.Logger
}

// NewBufferPoolManager creates a pool with every frame on the free list.
func NewBufferPoolManager(config BufferPoolManagerConfig) (*BufferPoolManager, error) {
	if config.Scheduler == nil {
		return nil, errors.New("buffer pool requires a disk scheduler")
	}
	if config.Allocator == nil {
		return nil, errors.New("buffer pool requires a page ID allocator")
	}
	if config.PoolSize <= 0 {
		config.PoolSize = DefaultPoolSize
	}
	if config.Logger == nil {
		config.Logger = model.DefaultLoggerInstance
	}

	m := &BufferPoolManager{
		poolSize:  config.PoolSize,
		frames:    make([]*Frame, config.PoolSize),
		pageTable: make(map[model.PageID]model.FrameID, config.PoolSize),
		freeList:  make([]model.FrameID, 0, config.PoolSize),
		loading:   make(map[model.PageID]*loadOp),
		replacer:  NewArcReplacer(config.PoolSize, config.Logger),
		scheduler: config.Scheduler,
		allocator: config.Allocator,
		logger:    config.Logger,
	}
	for i := 0; i < config.PoolSize; i++ {
		m.frames[i] = newFrame(model.FrameID(i))
	}
	// Seed the free list so frame 0 is handed out first.
	for i := config.PoolSize - 1; i >= 0; i-- {
		m.freeList = append(m.freeList, model.FrameID(i))
	}

	m.logger.Info("Buffer pool created with %d frames", config.PoolSize)
	return m, nil
}

// PoolSize returns the number of frames.
func (m *BufferPoolManager) PoolSize() int { return m.poolSize }

// FetchPage returns the frame holding the given page, pinned for the
// caller. On a hit the replacer's recency bookkeeping is bumped; on a
// miss the page is read through the disk scheduler into a free or
// evicted frame. Fails with ErrPoolExhausted when every frame is pinned
// and with ErrPageNotFound when the page has no storage on disk.
func (m *BufferPoolManager) FetchPage(pageID model.PageID) (*Frame, error) {
	if pageID == model.InvalidPageID {
		return nil, model.ErrPageNotFound{ID: pageID}
	}

	for {
		m.mu.Lock()
		if frameID, ok := m.pageTable[pageID]; ok {
			frame := m.frames[frameID]
			frame.pinCount++
			m.replacer.RecordAccess(frameID, pageID)
			_ = m.replacer.SetEvictable(frameID, false)
			m.mu.Unlock()
			return frame, nil
		}

		if op, ok := m.loading[pageID]; ok {
			// Another caller is already reading this page in.
			m.mu.Unlock()
			<-op.done
			if op.err != nil {
				return nil, op.err
			}
			continue
		}

		frameID, victim, err := m.acquireFrameLocked()
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		op := &loadOp{done: make(chan struct{})}
		m.loading[pageID] = op
		m.mu.Unlock()

		frame := m.frames[frameID]
		if err := m.loadFrame(frame, pageID, victim, op, true); err != nil {
			return nil, err
		}
		return frame, nil
	}
}

// NewPage allocates a fresh page ID, claims a frame for it zero-filled,
// and returns the pinned frame. The page is born dirty so its first
// eviction or flush persists the zeros and claims a disk slot.
func (m *BufferPoolManager) NewPage() (*Frame, error) {
	pageID, err := m.allocator.Allocate()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate page ID: %w", err)
	}

	m.mu.Lock()
	frameID, victim, err := m.acquireFrameLocked()
	if err != nil {
		m.mu.Unlock()
		_ = m.allocator.Release(pageID)
		return nil, err
	}
	op := &loadOp{done: make(chan struct{})}
	m.loading[pageID] = op
	m.mu.Unlock()

	frame := m.frames[frameID]
	if err := m.loadFrame(frame, pageID, victim, op, false); err != nil {
		_ = m.allocator.Release(pageID)
		return nil, err
	}
	return frame, nil
}

// UnpinPage drops one pin on the page. The dirty flag is ORed in: a page
// already dirty stays dirty. When the pin count reaches zero the frame
// becomes evictable.
func (m *BufferPoolManager) UnpinPage(pageID model.PageID, isDirty bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[pageID]
	if !ok {
		return model.ErrPageNotFound{ID: pageID}
	}
	frame := m.frames[frameID]
	if frame.pinCount <= 0 {
		return fmt.Errorf("cannot unpin page %d: not pinned", pageID)
	}

	frame.pinCount--
	if isDirty {
		frame.dirty = true
	}
	if frame.pinCount == 0 {
		_ = m.replacer.SetEvictable(frameID, true)
	}
	return nil
}

// FlushPage writes the page's bytes through the disk scheduler regardless
// of its dirty state and clears the dirty flag on success. The frame is
// held pinned for the duration so it cannot be evicted mid-flush.
func (m *BufferPoolManager) FlushPage(pageID model.PageID) error {
	m.mu.Lock()
	frameID, ok := m.pageTable[pageID]
	if !ok {
		m.mu.Unlock()
		return model.ErrPageNotFound{ID: pageID}
	}
	frame := m.frames[frameID]
	frame.pinCount++
	_ = m.replacer.SetEvictable(frameID, false)
	data := make([]byte, model.PageSize)
	copy(data, frame.data)
	m.mu.Unlock()

	req := storage.NewDiskRequest(storage.DiskWrite, pageID, data)
	if err := m.scheduler.Enqueue(req); err != nil {
		m.unpinAfterFlush(pageID, frameID, false)
		return err
	}
	result := <-req.Result

	m.unpinAfterFlush(pageID, frameID, result.Err == nil)
	if result.Err != nil {
		return fmt.Errorf("failed to flush page %d: %w", pageID, result.Err)
	}
	return nil
}

// unpinAfterFlush releases the pin FlushPage took and clears the dirty
// flag when the write made it to disk.
func (m *BufferPoolManager) unpinAfterFlush(pageID model.PageID, frameID model.FrameID, clean bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frame := m.frames[frameID]
	if frame.pageID != pageID {
		return
	}
	if clean {
		frame.dirty = false
	}
	frame.pinCount--
	if frame.pinCount == 0 {
		_ = m.replacer.SetEvictable(frameID, true)
	}
}

// FlushAllPages flushes every resident page. The first failure is
// returned after the remaining pages have been attempted.
func (m *BufferPoolManager) FlushAllPages() error {
	m.mu.Lock()
	pageIDs := make([]model.PageID, 0, len(m.pageTable))
	for pageID := range m.pageTable {
		pageIDs = append(pageIDs, pageID)
	}
	m.mu.Unlock()

	var firstErr error
	for _, pageID := range pageIDs {
		err := m.FlushPage(pageID)
		if err == nil {
			continue
		}
		// The page may have been evicted or deleted since the
		// snapshot; that is not a flush failure.
		var notFound model.ErrPageNotFound
		if errors.As(err, &notFound) {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeletePage removes a page from the pool and releases its disk slot and
// its ID. Fails with ErrPagePinned while any caller holds the page.
// Deleting a page that is not resident releases only its disk storage; a
// pending load or eviction flush for the page is waited out first so a
// late write cannot re-allocate the freed slot.
func (m *BufferPoolManager) DeletePage(pageID model.PageID) error {
	for {
		m.mu.Lock()
		frameID, ok := m.pageTable[pageID]
		if !ok {
			if op, busy := m.loading[pageID]; busy {
				m.mu.Unlock()
				<-op.done
				continue
			}
			m.mu.Unlock()
			if err := m.scheduler.Manager().DeletePage(pageID); err != nil {
				return err
			}
			return m.allocator.Release(pageID)
		}

		frame := m.frames[frameID]
		if frame.pinCount > 0 {
			m.mu.Unlock()
			return model.ErrPagePinned{ID: pageID, PinCount: frame.pinCount}
		}
		if err := m.replacer.Remove(frameID); err != nil {
			m.mu.Unlock()
			return err
		}
		delete(m.pageTable, pageID)
		frame.reset()
		m.freeList = append(m.freeList, frameID)
		m.mu.Unlock()

		// A page that never reached disk has no slot to free.
		if err := m.scheduler.Manager().DeletePage(pageID); err != nil {
			var notFound model.ErrPageNotFound
			if !errors.As(err, &notFound) {
				return err
			}
		}
		return m.allocator.Release(pageID)
	}
}

// Close flushes every resident page. It does not close the scheduler or
// disk manager; their lifetimes belong to whoever created them.
func (m *BufferPoolManager) Close() error {
	return m.FlushAllPages()
}

// victimInfo carries what loadFrame needs to know about an evicted page.
// For dirty victims, op is the in-flight entry that parks refetches and
// deletes of the victim page until its flush lands.
type victimInfo struct {
	pageID model.PageID
	dirty  bool
	op     *loadOp
}

// acquireFrameLocked obtains a frame for a new resident: the free list
// first, then a replacer victim. The victim's directory entry is removed
// here; its flush, if dirty, happens later without the directory lock,
// behind an in-flight entry published in the same critical section so no
// refetch can slip a read in ahead of the pending write.
// Called with m.mu held.
func (m *BufferPoolManager) acquireFrameLocked() (model.FrameID, *victimInfo, error) {
	if n := len(m.freeList); n > 0 {
		frameID := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return frameID, nil, nil
	}

	frameID, ok := m.replacer.Evict()
	if !ok {
		return model.InvalidFrameID, nil, model.ErrPoolExhausted
	}
	frame := m.frames[frameID]
	victim := &victimInfo{pageID: frame.pageID, dirty: frame.dirty}
	if victim.dirty {
		victim.op = &loadOp{done: make(chan struct{})}
		m.loading[victim.pageID] = victim.op
	}
	delete(m.pageTable, frame.pageID)
	m.logger.Debug("Evicted page %d from frame %d", frame.pageID, frameID)
	return frameID, victim, nil
}

// loadFrame fills a claimed frame with the given page: flush the victim
// if it was dirty, then either read the page from disk or zero-fill it.
// On success the mapping is installed and the frame returned pinned once.
// Runs without the directory lock; the frame is invisible to other
// callers until the mapping lands.
func (m *BufferPoolManager) loadFrame(frame *Frame, pageID model.PageID, victim *victimInfo, op *loadOp, fetch bool) error {
	if victim != nil && victim.dirty {
		req := storage.NewDiskRequest(storage.DiskWrite, victim.pageID, frame.data)
		var flushErr error
		if flushErr = m.scheduler.Enqueue(req); flushErr == nil {
			result := <-req.Result
			flushErr = result.Err
		}
		if flushErr != nil {
			// Put the victim back; its bytes are still intact, and
			// every waiter parked on its in-flight entry retries
			// against the restored directory entry.
			err := fmt.Errorf("failed to flush victim page %d: %w", victim.pageID, flushErr)
			m.mu.Lock()
			m.pageTable[victim.pageID] = frame.id
			m.replacer.RecordAccess(frame.id, victim.pageID)
			_ = m.replacer.SetEvictable(frame.id, true)
			m.finishLoadLocked(victim.pageID, victim.op, nil)
			m.finishLoadLocked(pageID, op, err)
			m.mu.Unlock()
			close(victim.op.done)
			close(op.done)
			return err
		}
		m.mu.Lock()
		m.finishLoadLocked(victim.pageID, victim.op, nil)
		m.mu.Unlock()
		close(victim.op.done)
	}

	frame.reset()
	if fetch {
		req := storage.NewDiskRequest(storage.DiskRead, pageID, frame.data)
		var readErr error
		if readErr = m.scheduler.Enqueue(req); readErr == nil {
			result := <-req.Result
			readErr = result.Err
		}
		if readErr != nil {
			var notFound model.ErrPageNotFound
			if !errors.As(readErr, &notFound) {
				readErr = fmt.Errorf("failed to fetch page %d: %w", pageID, readErr)
			}
			m.mu.Lock()
			m.freeList = append(m.freeList, frame.id)
			m.finishLoadLocked(pageID, op, readErr)
			m.mu.Unlock()
			close(op.done)
			return readErr
		}
	} else {
		frame.zero()
		frame.dirty = true
	}

	m.mu.Lock()
	frame.pageID = pageID
	frame.pinCount = 1
	m.pageTable[pageID] = frame.id
	m.replacer.RecordAccess(frame.id, pageID)
	_ = m.replacer.SetEvictable(frame.id, false)
	m.finishLoadLocked(pageID, op, nil)
	m.mu.Unlock()
	close(op.done)
	return nil
}

// finishLoadLocked records the load outcome and retires the loading
// entry. Called with m.mu held; the done channel is closed by the caller
// after the lock is dropped.
func (m *BufferPoolManager) finishLoadLocked(pageID model.PageID, op *loadOp, err error) {
	op.err = err
	delete(m.loading, pageID)
}
