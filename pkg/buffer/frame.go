// Package buffer implements the buffer pool: a fixed array of page-sized
// frames, an adaptive replacement policy deciding which frame to give up,
// and the manager coordinating fetches, pins and flushes against the disk
// scheduler.
package buffer

import (
	"github.com/steverahardjo/grimoire/pkg/model"
)

// Frame is a fixed-size memory slot owned by the buffer pool manager. Its
// bytes belong to at most one page at a time. A caller holding a pin has
// exclusive use of the frame's data until it unpins; the frame itself
// carries no content lock.
type Frame struct {
	id       model.FrameID
	pageID   model.PageID
	data     []byte
	pinCount int32
	dirty    bool
}

func newFrame(id model.FrameID) *Frame {
	return &Frame{
		id:     id,
		pageID: model.InvalidPageID,
		data:   make([]byte, model.PageSize),
	}
}

// reset detaches the frame from its page. The data buffer is kept; it is
// zeroed or overwritten before the frame is handed out again.
func (f *Frame) reset() {
	f.pageID = model.InvalidPageID
	f.pinCount = 0
	f.dirty = false
}

func (f *Frame) zero() {
	clear(f.data)
}

// ID returns the frame's slot index.
func (f *Frame) ID() model.FrameID { return f.id }

// PageID returns the ID of the page currently resident in the frame.
func (f *Frame) PageID() model.PageID { return f.pageID }

// Data returns the frame's page buffer. Valid only while the caller holds
// a pin.
func (f *Frame) Data() []byte { return f.data }

// PinCount returns the number of pins currently held on the frame.
func (f *Frame) PinCount() int32 { return f.pinCount }

// IsDirty returns true if the frame has been modified since it was last
// written to disk.
func (f *Frame) IsDirty() bool { return f.dirty }
