package heap

// binSet implements the two-tier bin structure eheap.c calls the SBA
// (small bin array: one bin per exact, 8-byte-stepped chunk size, for the
// common case of a system that only ever allocates a handful of fixed
// sizes) and the UBA (upper bin array: power-of-two size-range buckets,
// searched best-fit). Both tiers store free chunks as intrusive doubly-
// linked lists threaded through chunk.binPrev/binNext, mirroring eheap's
// bin_nq/bin_dq.
type binSet struct {
	sba [sbaBins]chunkIndex // index i holds chunks of exactly (i+1)*8 bytes
	uba [ubaBins]chunkIndex // size-range buckets, smallest to largest
}

// sbaBins covers exact sizes up to sbaTopSize in 8-byte steps (spec
// §4.10: "probe the exact-size small bin first... if csz <= sba_top_sz").
const (
	sbaBins    = 32
	sbaTopSize = sbaBins * 8
)

// ubaBins covers chunk sizes from minChunk up through 2^(minChunkLog2+ubaBins-1)
// bytes; anything larger than the top bucket's floor still lands in the
// last bucket and is found (or not) by the linear best-fit scan within it.
const ubaBins = 24

func newBinSet() binSet {
	var bs binSet
	for i := range bs.sba {
		bs.sba[i] = nilChunk
	}
	for i := range bs.uba {
		bs.uba[i] = nilChunk
	}
	return bs
}

// sbaIndex returns the SBA slot for an exact size, or -1 if size exceeds
// sbaTopSize or isn't 8-byte-stepped (every chunk this allocator ever
// creates is a multiple of minChunk, which is itself a multiple of 8, so
// in practice the remainder check never fails).
func sbaIndex(size uint32) int {
	if size == 0 || size > sbaTopSize || size%8 != 0 {
		return -1
	}
	return int(size/8) - 1
}

// ubaIndex maps a chunk size to its upper-bin-array bucket: bucket i holds
// chunks sized [2^i * minChunk, 2^(i+1) * minChunk).
func ubaIndex(size uint32) int {
	bucket := 0
	threshold := uint32(minChunk)
	for size >= threshold*2 && bucket < ubaBins-1 {
		threshold *= 2
		bucket++
	}
	return bucket
}

// binTagSBA marks chunk.bin as "owned by an SBA slot" rather than a UBA
// bucket index; the slot itself is recovered from chunk.size via
// sbaIndex, which is why bin only needs to store a tag, not the slot.
const binTagSBA = -2

// insert files a free chunk into its SBA slot when its size qualifies
// (grounded on eh_BinSeed's exact-size fast path), else into its UBA
// bucket (bin_nq).
func (bs *binSet) insert(h *Heap, ci chunkIndex) {
	c := &h.chunks[ci]
	if idx := sbaIndex(c.size); idx >= 0 {
		c.bin = binTagSBA
		bs.link(h, ci, &bs.sba[idx])
		return
	}
	idx := ubaIndex(c.size)
	c.bin = idx
	bs.link(h, ci, &bs.uba[idx])
}

func (bs *binSet) link(h *Heap, ci chunkIndex, head *chunkIndex) {
	c := &h.chunks[ci]
	c.binPrev = nilChunk
	c.binNext = *head
	if *head != nilChunk {
		h.chunks[*head].binPrev = ci
	}
	*head = ci
}

func (bs *binSet) remove(h *Heap, ci chunkIndex) {
	c := h.chunks[ci]
	var head *chunkIndex
	if c.bin == binTagSBA {
		head = &bs.sba[sbaIndex(c.size)]
	} else if c.bin >= 0 {
		head = &bs.uba[c.bin]
	} else {
		return
	}
	if c.binPrev != nilChunk {
		h.chunks[c.binPrev].binNext = c.binNext
	} else {
		*head = c.binNext
	}
	if c.binNext != nilChunk {
		h.chunks[c.binNext].binPrev = c.binPrev
	}
	h.chunks[ci].bin = -1
	h.chunks[ci].binPrev = nilChunk
	h.chunks[ci].binNext = nilChunk
}

// findBestFit looks for an exact-size SBA hit first (eh_BinSeed's fast
// path), then scans UBA buckets from the smallest bucket that could fit
// need upward, returning the best (smallest adequate) fit found in the
// first non-empty qualifying bucket — matching eh_Malloc's "seed, then
// linear scan" behavior.
func (bs *binSet) findBestFit(h *Heap, need, align uint32) chunkIndex {
	if idx := sbaIndex(need); idx >= 0 {
		for ci := bs.sba[idx]; ci != nilChunk; ci = h.chunks[ci].binNext {
			if fitsAligned(h.chunks[ci], need, align) {
				return ci
			}
		}
	}

	start := ubaIndex(need)
	var best chunkIndex = nilChunk
	for idx := start; idx < ubaBins; idx++ {
		for ci := bs.uba[idx]; ci != nilChunk; ci = h.chunks[ci].binNext {
			c := h.chunks[ci]
			if !fitsAligned(c, need, align) {
				continue
			}
			if best == nilChunk || c.size < h.chunks[best].size {
				best = ci
			}
		}
		if best != nilChunk {
			return best
		}
	}
	return nilChunk
}

// fitsAligned only accepts already-aligned chunks: splitting off a slack
// prefix from a chunk already sitting in a bin would require re-binning
// the slack remainder mid-search, which eheap's bin scan never does
// either (aligned_srch is a separate donor/top-only path in the source,
// mirrored here by calveFrom). A caller asking for unusual alignment that
// no bin satisfies falls through to calving straight from donor/top.
func fitsAligned(c chunk, need, align uint32) bool {
	return c.size >= need && c.offset%align == 0
}
