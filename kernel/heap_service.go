package kernel

// HeapMalloc allocates sz bytes from the kernel's default heap (spec
// §4.10). Returns ErrInsuffHeap if no chunk, donor, or top region can
// satisfy the request, or ErrHeapError if no default heap was configured.
func (k *Kernel) HeapMalloc(sz uint32) (offset uint32, ec ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.Heap == nil {
		return 0, k.raise(ErrHeapError, NullHandle)
	}
	off, ok := k.Heap.Malloc(sz)
	if !ok {
		return 0, k.raise(ErrInsuffHeap, NullHandle)
	}
	return off, OK
}

// HeapMallocAligned is HeapMalloc with an explicit alignment (spec
// §4.10's "allocation requiring alignment 2^an").
func (k *Kernel) HeapMallocAligned(sz, align uint32) (offset uint32, ec ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.Heap == nil {
		return 0, k.raise(ErrHeapError, NullHandle)
	}
	off, ok := k.Heap.MallocAligned(sz, align)
	if !ok {
		return 0, k.raise(ErrInsuffHeap, NullHandle)
	}
	return off, OK
}

// HeapCalloc allocates and zeroes room for n elements of elemSize bytes.
func (k *Kernel) HeapCalloc(n, elemSize uint32) (offset uint32, ec ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.Heap == nil {
		return 0, k.raise(ErrHeapError, NullHandle)
	}
	off, ok := k.Heap.Calloc(n, elemSize)
	if !ok {
		return 0, k.raise(ErrInsuffHeap, NullHandle)
	}
	return off, OK
}

// HeapRealloc resizes the allocation at offset (spec §4.10's realloc path:
// grow in place when an adjacent free chunk allows it, else copy).
func (k *Kernel) HeapRealloc(offset, newSize uint32) (newOffset uint32, ec ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.Heap == nil {
		return 0, k.raise(ErrHeapError, NullHandle)
	}
	off, ok := k.Heap.Realloc(offset, newSize)
	if !ok {
		return 0, k.raise(ErrInsuffHeap, NullHandle)
	}
	return off, OK
}

// HeapFree releases offset back to the kernel's default heap.
func (k *Kernel) HeapFree(offset uint32) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.Heap == nil {
		return k.raise(ErrHeapError, NullHandle)
	}
	if !k.Heap.Free(offset) {
		return k.raise(ErrOpNotAllowed, NullHandle)
	}
	return OK
}

// HeapScan runs an integrity scan/repair pass over the default heap (spec
// §4.10's scan operation), reporting unrecoverable corruption via
// ErrHeapBrkn and logging it through the error manager at Integrity
// priority so it bypasses flood suppression.
func (k *Kernel) HeapScan() (heapStats string, ec ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.Heap == nil {
		return "", k.raise(ErrHeapError, NullHandle)
	}
	rep := k.Heap.Scan()
	if rep.BoundsExceeded || rep.GapsFound > 0 {
		return rep.String(), k.raise(ErrHeapBrkn, NullHandle)
	}
	return rep.String(), OK
}

// HeapStats reports the default heap's current accounting.
func (k *Kernel) HeapStats() (stats string, ec ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.Heap == nil {
		return "", k.raise(ErrHeapError, NullHandle)
	}
	return k.Heap.String(), OK
}
