package heap

import "fmt"

// ScanReport summarizes one integrity pass (spec §4.10's "scan and
// repair", grounded on eh_Scan).
type ScanReport struct {
	ChunksWalked  int
	GapsFound     int // adjacent chunks whose offsets don't abut
	OrphansFixed  int // free chunks found unlinked from any bin, re-bound
	BoundsExceeded bool
}

func (r ScanReport) String() string {
	return fmt.Sprintf("scan{walked=%d gaps=%d orphans_fixed=%d bounds_exceeded=%v}",
		r.ChunksWalked, r.GapsFound, r.OrphansFixed, r.BoundsExceeded)
}

// Scan walks the physical chunk list in address order, verifying that
// every chunk abuts the next with no gap or overlap, and that every free
// chunk (other than donor/top) is correctly linked into a bin. Orphaned
// free chunks — possible if a caller's bookkeeping bug left one unbound —
// are repaired in place by re-inserting them (eh_Scan's "recoverable"
// class of corruption; a gap or overlap is reported but left alone, since
// repairing it would require guessing which side of the gap is wrong).
func (h *Heap) Scan() ScanReport {
	h.locker.Lock()
	defer h.locker.Unlock()

	var rep ScanReport
	head := h.physicalHead()
	if head == nilChunk {
		return rep
	}

	var offset uint32
	for ci := head; ci != nilChunk; ci = h.chunks[ci].next {
		c := &h.chunks[ci]
		rep.ChunksWalked++
		if c.offset != offset {
			rep.GapsFound++
		}
		offset = c.offset + c.size

		if c.free && ci != h.donor && ci != h.top && c.bin == -1 {
			h.bins.insert(h, ci)
			rep.OrphansFixed++
		}
	}
	if offset > uint32(len(h.arena)) {
		rep.BoundsExceeded = true
	}
	return rep
}

// physicalHead finds the chunk with no physical predecessor, i.e. the
// chunk at arena offset 0. Tombstoned slots (left behind by mergeInto)
// have prev/next both nilChunk but are never the head since their offset
// field is stale zero only by coincidence; they're excluded by requiring
// the slot to currently be donor, top, or reachable via another chunk's
// next link, which a single forward scan from the lowest live offset
// naturally satisfies.
func (h *Heap) physicalHead() chunkIndex {
	best := nilChunk
	for i := range h.chunks {
		ci := chunkIndex(i)
		if ci != h.donor && ci != h.top && h.chunks[i].prev == nilChunk && h.chunks[i].next == nilChunk {
			continue // tombstoned
		}
		if h.chunks[i].prev == nilChunk {
			if best == nilChunk || h.chunks[i].offset < h.chunks[best].offset {
				best = ci
			}
		}
	}
	return best
}
