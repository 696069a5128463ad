package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/steverahardjo/grimoire/pkg/model"
)

const (
	// DefaultInitialCapacity is the number of page slots the data file is
	// preallocated with. The file doubles in capacity whenever the slot
	// table fills.
	DefaultInitialCapacity = 128
)

// DiskManagerConfig holds configuration options for the disk manager.
type DiskManagerConfig struct {
	// Path to the data file. The log file lives next to it, named after
	// the data file's stem with a ".log" extension.
	Path string

	// InitialCapacity is the number of page slots to preallocate.
	// Zero selects DefaultInitialCapacity.
	InitialCapacity int64

	// SyncOnWrite controls whether page writes and log appends are
	// fsynced before returning.
	SyncOnWrite bool

	// Logger for disk manager operations.
	Logger model.Logger
}

// DefaultDiskManagerConfig returns a default configuration for the disk
// manager backed by the given data file.
func DefaultDiskManagerConfig(path string) DiskManagerConfig {
	return DiskManagerConfig{
		Path:            path,
		InitialCapacity: DefaultInitialCapacity,
		SyncOnWrite:     true,
		Logger:          model.DefaultLoggerInstance,
	}
}

// DiskManager persists fixed-size pages in a single data file and appends
// raw log records to a companion log file.
//
// The page ID to byte offset mapping lives only in memory; rebuilding it
// after a restart is the job of an external catalog or recovery layer.
// Freed slots return to a pool and are handed to new pages before the
// file grows.
type DiskManager struct {
	mu        sync.Mutex // offsets, freeSlots, nextSlot, capacity, digests
	dbFile    *os.File
	dbPath    string
	offsets   map[model.PageID]int64
	freeSlots []int64
	nextSlot  int64
	capacity  int64 // page slots the data file currently holds
	digests   map[model.PageID]uint64

	logMu   sync.Mutex // serializes log appends so they stay in order
	logFile *os.File
	logPath string

	closed      atomic.Bool
	syncOnWrite bool
	logger      model.Logger

	numWrites    atomic.Int64
	numReads     atomic.Int64
	numDeletes   atomic.Int64
	numLogWrites atomic.Int64
}

// NewDiskManager opens (creating if necessary) the data and log files and
// preallocates the data file to the configured capacity.
func NewDiskManager(config DiskManagerConfig) (*DiskManager, error) {
	if config.Logger == nil {
		config.Logger = model.DefaultLoggerInstance
	}
	if config.InitialCapacity <= 0 {
		config.InitialCapacity = DefaultInitialCapacity
	}

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbFile, err := os.OpenFile(config.Path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}

	logPath := strings.TrimSuffix(config.Path, filepath.Ext(config.Path)) + ".log"
	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		dbFile.Close()
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	capacity := config.InitialCapacity
	info, err := dbFile.Stat()
	if err != nil {
		dbFile.Close()
		logFile.Close()
		return nil, fmt.Errorf("failed to stat data file: %w", err)
	}
	if have := (info.Size() + model.PageSize - 1) / model.PageSize; have > capacity {
		capacity = have
	}
	if err := dbFile.Truncate(capacity * model.PageSize); err != nil {
		dbFile.Close()
		logFile.Close()
		return nil, fmt.Errorf("failed to preallocate data file: %w", err)
	}

	dm := &DiskManager{
		dbFile:      dbFile,
		dbPath:      config.Path,
		logFile:     logFile,
		logPath:     logPath,
		offsets:     make(map[model.PageID]int64),
		digests:     make(map[model.PageID]uint64),
		capacity:    capacity,
		syncOnWrite: config.SyncOnWrite,
		logger:      config.Logger,
	}

	dm.logger.Info("Opened disk manager at %s (capacity %d pages)", config.Path, capacity)
	return dm, nil
}

// checkPageBuffer panics when the buffer is not exactly one page long.
// A mis-sized buffer is a programming error in the caller, never data.
func checkPageBuffer(data []byte) {
	if len(data) != model.PageSize {
		panic(model.ErrInvalidBuffer{Got: len(data), Want: model.PageSize})
	}
}

// WritePage writes one page of data for the given page ID, allocating a
// byte offset on first write. Freed slots are reused before the file
// grows; when the slot table is full the capacity doubles.
func (dm *DiskManager) WritePage(id model.PageID, data []byte) error {
	checkPageBuffer(data)

	if dm.closed.Load() {
		return model.ErrDiskManagerClosed
	}

	dm.mu.Lock()
	offset, ok := dm.offsets[id]
	fresh := !ok
	if fresh {
		if n := len(dm.freeSlots); n > 0 {
			offset = dm.freeSlots[n-1]
			dm.freeSlots = dm.freeSlots[:n-1]
		} else {
			if dm.nextSlot >= dm.capacity {
				newCapacity := dm.capacity * 2
				if err := dm.dbFile.Truncate(newCapacity * model.PageSize); err != nil {
					dm.mu.Unlock()
					return fmt.Errorf("failed to grow data file to %d pages: %w", newCapacity, err)
				}
				dm.logger.Debug("Grew data file from %d to %d pages", dm.capacity, newCapacity)
				dm.capacity = newCapacity
			}
			offset = dm.nextSlot * model.PageSize
			dm.nextSlot++
		}
		dm.offsets[id] = offset
	}
	dm.mu.Unlock()

	var writeErr error
	if _, err := dm.dbFile.WriteAt(data, offset); err != nil {
		writeErr = fmt.Errorf("failed to write page %d: %w", id, err)
	} else if dm.syncOnWrite {
		if err := dm.dbFile.Sync(); err != nil {
			writeErr = fmt.Errorf("failed to sync page %d: %w", id, err)
		}
	}
	if writeErr != nil {
		// A failed first write gives its slot back and keeps the page
		// unmapped; a failed rewrite keeps the previous digest.
		if fresh {
			dm.mu.Lock()
			delete(dm.offsets, id)
			dm.freeSlots = append(dm.freeSlots, offset)
			dm.mu.Unlock()
		}
		return writeErr
	}

	// The digest is recorded only once the bytes are durable.
	dm.mu.Lock()
	dm.digests[id] = xxhash.Sum64(data)
	dm.mu.Unlock()

	dm.numWrites.Add(1)
	dm.logger.Debug("Wrote page %d at offset %d", id, offset)
	return nil
}

// ReadPage reads the page with the given ID into buf and verifies the
// content digest recorded at write time. Returns ErrPageNotFound when no
// offset is recorded for the page.
func (dm *DiskManager) ReadPage(id model.PageID, buf []byte) error {
	checkPageBuffer(buf)

	if dm.closed.Load() {
		return model.ErrDiskManagerClosed
	}

	dm.mu.Lock()
	offset, ok := dm.offsets[id]
	digest := dm.digests[id]
	dm.mu.Unlock()
	if !ok {
		return model.ErrPageNotFound{ID: id}
	}

	if _, err := dm.dbFile.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read page %d: %w", id, err)
	}
	if xxhash.Sum64(buf) != digest {
		return model.ErrCorruptedPage{ID: id}
	}

	dm.numReads.Add(1)
	return nil
}

// DeletePage removes the page's offset mapping and returns its slot to
// the free pool. The slot only becomes reusable once this call returns.
func (dm *DiskManager) DeletePage(id model.PageID) error {
	if dm.closed.Load() {
		return model.ErrDiskManagerClosed
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	offset, ok := dm.offsets[id]
	if !ok {
		return model.ErrPageNotFound{ID: id}
	}

	delete(dm.offsets, id)
	delete(dm.digests, id)
	dm.freeSlots = append(dm.freeSlots, offset)

	dm.numDeletes.Add(1)
	dm.logger.Debug("Deleted page %d, slot at offset %d freed", id, offset)
	return nil
}

// WriteLog appends raw bytes to the log file. Appends are serialized and
// durable in submission order; record framing belongs to the caller.
func (dm *DiskManager) WriteLog(data []byte) error {
	dm.logMu.Lock()
	defer dm.logMu.Unlock()

	if dm.closed.Load() {
		return model.ErrDiskManagerClosed
	}

	if _, err := dm.logFile.Write(data); err != nil {
		return fmt.Errorf("failed to append to log: %w", err)
	}
	if dm.syncOnWrite {
		if err := dm.logFile.Sync(); err != nil {
			return fmt.Errorf("failed to sync log: %w", err)
		}
	}

	dm.numLogWrites.Add(1)
	return nil
}

// Close syncs and closes both files. Further operations return
// ErrDiskManagerClosed. Close is idempotent.
func (dm *DiskManager) Close() error {
	if !dm.closed.CompareAndSwap(false, true) {
		return nil
	}

	var firstErr error
	if err := dm.dbFile.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to sync data file: %w", err)
	}
	if err := dm.dbFile.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close data file: %w", err)
	}
	if err := dm.logFile.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to sync log file: %w", err)
	}
	if err := dm.logFile.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close log file: %w", err)
	}

	dm.logger.Info("Closed disk manager at %s", dm.dbPath)
	return firstErr
}

// Path returns the data file path.
func (dm *DiskManager) Path() string { return dm.dbPath }

// LogPath returns the log file path.
func (dm *DiskManager) LogPath() string { return dm.logPath }

// Capacity returns the current capacity of the data file in pages.
func (dm *DiskManager) Capacity() int64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.capacity
}

// FreeSlotCount returns the number of freed slots awaiting reuse.
func (dm *DiskManager) FreeSlotCount() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.freeSlots)
}

// NumWrites returns the number of page writes since the process started.
func (dm *DiskManager) NumWrites() int64 { return dm.numWrites.Load() }

// NumReads returns the number of page reads since the process started.
func (dm *DiskManager) NumReads() int64 { return dm.numReads.Load() }

// NumDeletes returns the number of page deletes since the process started.
func (dm *DiskManager) NumDeletes() int64 { return dm.numDeletes.Load() }

// NumLogWrites returns the number of log appends since the process started.
func (dm *DiskManager) NumLogWrites() int64 { return dm.numLogWrites.Load() }
