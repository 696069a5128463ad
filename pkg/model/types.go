package model

// PageID identifies a logical unit of persisted data. IDs are allocated by
// a PageIDAllocator, are stable for the page's lifetime, and are never
// reused while any reference to the page exists. ID 0 is reserved.
type PageID uint64

// FrameID identifies a fixed-size memory slot inside the buffer pool.
// Frame IDs are dense indexes in the range [0, pool size).
type FrameID int

const (
	// InvalidPageID is the reserved zero page ID. No page is ever
	// allocated with this ID.
	InvalidPageID PageID = 0

	// InvalidFrameID marks the absence of a frame.
	InvalidFrameID FrameID = -1

	// PageSize is the size of every page and frame in bytes. All page
	// buffers handed to the storage layer must be exactly this long.
	PageSize = 4096
)
