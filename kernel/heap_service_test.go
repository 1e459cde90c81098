package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorkernel/rtcore/kernel"
)

func TestHeapMallocAndFreeThroughKernel(t *testing.T) {
	k := newTestKernel(t)
	off, ec := k.HeapMalloc(64)
	require.Equal(t, kernel.OK, ec)

	require.Equal(t, kernel.OK, k.HeapFree(off))
}

func TestHeapMallocAlignedThroughKernel(t *testing.T) {
	k := newTestKernel(t)
	off, ec := k.HeapMallocAligned(40, 32)
	require.Equal(t, kernel.OK, ec)
	assert.Equal(t, uint32(0), off%32)
}

func TestHeapErrorWhenNoDefaultHeapConfigured(t *testing.T) {
	k := kernel.New(kernel.DefaultConfig(kernel.WithHeap(0, 0)))
	_, ec := k.HeapMalloc(8)
	assert.Equal(t, kernel.ErrHeapError, ec)
}

func TestHeapScanReportsHealthyAfterAllocations(t *testing.T) {
	k := newTestKernel(t)
	_, ec := k.HeapMalloc(128)
	require.Equal(t, kernel.OK, ec)

	_, ec = k.HeapScan()
	assert.Equal(t, kernel.OK, ec)
}

func TestHeapReallocGrowsAllocation(t *testing.T) {
	k := newTestKernel(t)
	off, ec := k.HeapMalloc(32)
	require.Equal(t, kernel.OK, ec)

	_, ec = k.HeapRealloc(off, 256)
	require.Equal(t, kernel.OK, ec)
}

func TestHeapCallocSucceedsThroughKernel(t *testing.T) {
	k := newTestKernel(t)
	_, ec := k.HeapCalloc(8, 4)
	require.Equal(t, kernel.OK, ec)
}

func TestHeapFreeRejectsUnknownOffset(t *testing.T) {
	k := newTestKernel(t)
	assert.Equal(t, kernel.ErrOpNotAllowed, k.HeapFree(999999))
}
