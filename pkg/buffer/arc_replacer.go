package buffer

import (
	"container/list"
	"sync"

	"github.com/steverahardjo/grimoire/pkg/model"
)

// arcStatus tags which of the four ARC lists an identifier belongs to.
// Membership is mutually exclusive: a tracked frame is in exactly one
// resident list, a ghost page in exactly one ghost list.
type arcStatus uint8

const (
	statusRecent arcStatus = iota
	statusFrequent
	statusRecentGhost
	statusFrequentGhost
)

// frameStatus tracks one resident frame.
type frameStatus struct {
	frameID   model.FrameID
	pageID    model.PageID
	evictable bool
	status    arcStatus
	elem      *list.Element
}

// ghostStatus remembers the identity of a recently evicted page. Ghosts
// carry no data; they exist only to measure eviction regret and steer the
// adaptive target.
type ghostStatus struct {
	pageID model.PageID
	status arcStatus
	elem   *list.Element
}

// ArcReplacer implements the Adaptive Replacement Cache eviction policy.
//
// Resident frames split between a recency list (seen once) and a
// frequency list (seen at least twice). Evicted page identities linger in
// per-list ghost lists; a hit on a ghost shifts the adaptive target p,
// growing whichever partition recent traffic favors. All lists keep their
// least-recently-used entry at the front.
//
// The replacer owns identifiers and status bits only, never page bytes.
// Every mutating operation runs under one mutex held solely for list
// manipulation, never across I/O.
type ArcReplacer struct {
	mu       sync.Mutex
	capacity int
	target   int // p: resident slots reserved for the recency partition

	recent        *list.List // resident, values *frameStatus
	frequent      *list.List // resident, values *frameStatus
	recentGhost   *list.List // values *ghostStatus
	frequentGhost *list.List // values *ghostStatus

	frames map[model.FrameID]*frameStatus
	ghosts map[model.PageID]*ghostStatus

	evictableCount int
	logger         model.Logger
}

// NewArcReplacer creates an ARC replacer for a pool of capacity frames.
func NewArcReplacer(capacity int, logger model.Logger) *ArcReplacer {
	if logger == nil {
		logger = model.DefaultLoggerInstance
	}
	return &ArcReplacer{
		capacity:      capacity,
		recent:        list.New(),
		frequent:      list.New(),
		recentGhost:   list.New(),
		frequentGhost: list.New(),
		frames:        make(map[model.FrameID]*frameStatus),
		ghosts:        make(map[model.PageID]*ghostStatus),
		logger:        logger,
	}
}

// RecordAccess registers an access to pageID resident in frameID.
//
// Four cases, checked in order: the frame is already resident (promote to
// the frequency list), the page is a recency ghost (grow p, readmit to
// the frequency list), the page is a frequency ghost (shrink p, readmit),
// or a miss everywhere (admit to the recency list). Newly admitted frames
// start non-evictable; the evictable flag of a resident frame is never
// touched here.
func (r *ArcReplacer) RecordAccess(frameID model.FrameID, pageID model.PageID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.frames[frameID]; ok {
		if st.pageID == pageID {
			// Resident hit: a second touch promotes to the
			// frequency partition.
			r.residentList(st.status).Remove(st.elem)
			st.status = statusFrequent
			st.elem = r.frequent.PushBack(st)
			return
		}
		// The frame was recycled for a different page without going
		// through Evict or Remove. Drop the stale entry and admit
		// the new page below.
		r.detach(st)
	}

	if g, ok := r.ghosts[pageID]; ok {
		if g.status == statusRecentGhost {
			delta := 1
			if r.recentGhost.Len() > 0 {
				if d := r.frequentGhost.Len() / r.recentGhost.Len(); d > delta {
					delta = d
				}
			}
			r.target = min(r.capacity, r.target+delta)
		} else {
			delta := 1
			if r.frequentGhost.Len() > 0 {
				if d := r.recentGhost.Len() / r.frequentGhost.Len(); d > delta {
					delta = d
				}
			}
			r.target = max(0, r.target-delta)
		}
		frequentHit := g.status == statusFrequentGhost
		r.removeGhost(g)
		r.replaceIfFull(frequentHit)
		r.admit(frameID, pageID, statusFrequent)
		return
	}

	// Miss everywhere.
	l1 := r.recent.Len() + r.recentGhost.Len()
	if l1 >= r.capacity {
		if r.recentGhost.Len() > 0 {
			r.dropGhostLRU(r.recentGhost)
			r.replaceIfFull(false)
		} else {
			// The recency partition is all resident: push its
			// oldest evictable entry out to the ghost list.
			r.victimToGhost(r.recent, statusRecentGhost)
		}
	} else if total := l1 + r.frequent.Len() + r.frequentGhost.Len(); total >= r.capacity {
		if total >= 2*r.capacity {
			r.dropGhostLRU(r.frequentGhost)
		}
		r.replaceIfFull(false)
	}
	r.admit(frameID, pageID, statusRecent)
}

// Evict chooses a victim frame: the least recently used evictable entry
// in the recency list, or failing that in the frequency list. The victim
// leaves its resident list, its page identity joins the matching ghost
// list, and the frame is no longer tracked. The second return value is
// false when every tracked frame is pinned: a legitimate exhaustion
// condition, not an error.
func (r *ArcReplacer) Evict() (model.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st := r.firstEvictable(r.recent); st != nil {
		id := st.frameID
		r.ghostOut(st, statusRecentGhost)
		return id, true
	}
	if st := r.firstEvictable(r.frequent); st != nil {
		id := st.frameID
		r.ghostOut(st, statusFrequentGhost)
		return id, true
	}
	return model.InvalidFrameID, false
}

// SetEvictable toggles a frame's evictable bit without moving it between
// lists. The pool lowers the bit while pages are pinned and raises it
// when the pin count drops to zero.
func (r *ArcReplacer) SetEvictable(frameID model.FrameID, evictable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.frames[frameID]
	if !ok {
		return model.ErrFrameNotFound{FrameID: frameID}
	}
	if st.evictable == evictable {
		return nil
	}
	st.evictable = evictable
	if evictable {
		r.evictableCount++
	} else {
		r.evictableCount--
	}
	return nil
}

// Remove drops a frame's tracking entry entirely, without ghosting. Used
// when a page is deleted from the engine. Removing a pinned frame fails
// with ErrNotEvictable; removing an untracked frame is a no-op.
func (r *ArcReplacer) Remove(frameID model.FrameID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.frames[frameID]
	if !ok {
		return nil
	}
	if !st.evictable {
		return model.ErrNotEvictable{FrameID: frameID}
	}
	r.detach(st)
	return nil
}

// Size returns the number of resident frames the replacer could give up
// right now: those with the evictable bit set.
func (r *ArcReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictableCount
}

// Target returns the current adaptive target p.
func (r *ArcReplacer) Target() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

// Capacity returns the configured number of frames.
func (r *ArcReplacer) Capacity() int { return r.capacity }

// residentList maps a resident status tag to its list.
func (r *ArcReplacer) residentList(status arcStatus) *list.List {
	if status == statusFrequent {
		return r.frequent
	}
	return r.recent
}

// ghostList maps a ghost status tag to its list.
func (r *ArcReplacer) ghostList(status arcStatus) *list.List {
	if status == statusFrequentGhost {
		return r.frequentGhost
	}
	return r.recentGhost
}

// admit inserts a new resident entry at the most-recently-used end of the
// given list. New entries start non-evictable.
func (r *ArcReplacer) admit(frameID model.FrameID, pageID model.PageID, status arcStatus) {
	st := &frameStatus{
		frameID: frameID,
		pageID:  pageID,
		status:  status,
	}
	st.elem = r.residentList(status).PushBack(st)
	r.frames[frameID] = st
}

// detach removes a resident entry from its list and the frame table.
func (r *ArcReplacer) detach(st *frameStatus) {
	r.residentList(st.status).Remove(st.elem)
	delete(r.frames, st.frameID)
	if st.evictable {
		r.evictableCount--
	}
}

// ghostOut turns a resident entry into a ghost of the given flavor.
func (r *ArcReplacer) ghostOut(st *frameStatus, ghost arcStatus) {
	r.detach(st)

	g := &ghostStatus{pageID: st.pageID, status: ghost}
	g.elem = r.ghostList(ghost).PushBack(g)
	r.ghosts[st.pageID] = g
	r.trimGhost(r.ghostList(ghost))
}

// removeGhost drops a ghost entry (after a ghost hit).
func (r *ArcReplacer) removeGhost(g *ghostStatus) {
	r.ghostList(g.status).Remove(g.elem)
	delete(r.ghosts, g.pageID)
}

// dropGhostLRU silently discards the least-recently-used ghost of a list.
func (r *ArcReplacer) dropGhostLRU(l *list.List) {
	e := l.Front()
	if e == nil {
		return
	}
	g := e.Value.(*ghostStatus)
	l.Remove(e)
	delete(r.ghosts, g.pageID)
}

// trimGhost bounds a ghost list at the pool capacity. Overflow is dropped
// from the least-recently-used end; the information loss is accepted.
func (r *ArcReplacer) trimGhost(l *list.List) {
	for l.Len() > r.capacity {
		r.dropGhostLRU(l)
	}
}

// firstEvictable scans a resident list from the least-recently-used end
// for the first entry whose evictable bit is set.
func (r *ArcReplacer) firstEvictable(l *list.List) *frameStatus {
	for e := l.Front(); e != nil; e = e.Next() {
		st := e.Value.(*frameStatus)
		if st.evictable {
			return st
		}
	}
	return nil
}

// victimToGhost evicts the oldest evictable entry of a resident list into
// the given ghost list. Returns false when the list has no evictable
// entry.
func (r *ArcReplacer) victimToGhost(l *list.List, ghost arcStatus) bool {
	st := r.firstEvictable(l)
	if st == nil {
		return false
	}
	r.ghostOut(st, ghost)
	return true
}

// replaceIfFull frees one resident slot when the resident lists are at
// capacity. List choice follows the adaptive target: take from the
// recency side while it holds more than p entries (or exactly p on a
// frequency-ghost hit), otherwise from the frequency side, falling back
// to the other side when the preferred one has nothing evictable.
func (r *ArcReplacer) replaceIfFull(frequentGhostHit bool) {
	if r.recent.Len()+r.frequent.Len() < r.capacity {
		return
	}

	preferRecent := r.recent.Len() > 0 &&
		(r.recent.Len() > r.target || (frequentGhostHit && r.recent.Len() == r.target))
	if preferRecent {
		if r.victimToGhost(r.recent, statusRecentGhost) {
			return
		}
		r.victimToGhost(r.frequent, statusFrequentGhost)
		return
	}
	if r.victimToGhost(r.frequent, statusFrequentGhost) {
		return
	}
	r.victimToGhost(r.recent, statusRecentGhost)
}
