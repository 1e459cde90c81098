package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorkernel/rtcore/kernel"
)

// TestMutexGetByOwnerIncrementsNestCountInsteadOfBlocking is the recursive-
// acquire scenario (xmtx.c's smx_MutexGet_F): re-acquiring a mutex you
// already own never blocks; it bumps the nest count, and release only lets
// go once the count unwinds back to zero.
func TestMutexGetByOwnerIncrementsNestCountInsteadOfBlocking(t *testing.T) {
	k := newTestKernel(t)
	mH, _ := k.MutexCreate("m", 0, false)
	h, _ := k.TaskCreate(nil, 3, 1024, "t")
	require.Equal(t, kernel.OK, k.TaskStart(h, 0))
	require.Equal(t, kernel.OK, k.MutexGet(mH, h, kernel.TmoInf))
	require.Equal(t, kernel.OK, k.MutexGet(mH, h, kernel.TmoInf))
	require.Equal(t, kernel.OK, k.MutexGet(mH, h, kernel.TmoInf))
	nc, ec := k.MutexPeek(mH, kernel.MutexPeekNestCount)
	require.Equal(t, kernel.OK, ec)
	assert.Equal(t, uint32(3), nc)

	require.Equal(t, kernel.OK, k.MutexRelease(mH, h))
	require.Equal(t, kernel.OK, k.MutexRelease(mH, h))
	assert.Equal(t, kernel.ErrOpNotAllowed, k.MutexDelete(mH), "still held, one release remaining")

	require.Equal(t, kernel.OK, k.MutexRelease(mH, h))
	assert.Equal(t, kernel.OK, k.MutexDelete(mH))
}

func TestMutexGetStopMarksTaskForStopStyleResumeWhenBlocked(t *testing.T) {
	k := newTestKernel(t)
	mH, _ := k.MutexCreate("m", 0, false)
	ownerH, _ := k.TaskCreate(nil, 3, 1024, "owner")
	waiterH, _ := k.TaskCreate(nil, 3, 1024, "waiter")
	require.Equal(t, kernel.OK, k.TaskStart(ownerH, 0))
	require.Equal(t, kernel.OK, k.MutexGet(mH, ownerH, kernel.TmoInf))

	require.Equal(t, kernel.OK, k.TaskStart(waiterH, 0))
	require.Equal(t, kernel.OK, k.MutexGetStop(mH, waiterH, kernel.TmoInf))
	waiterPeek, _ := k.TaskPeek(waiterH)
	assert.Equal(t, kernel.TaskWait, waiterPeek.State)
}

func TestMutexFreeForciblyHandsOffToNextWaiter(t *testing.T) {
	k := newTestKernel(t)
	mH, _ := k.MutexCreate("m", 0, false)
	ownerH, _ := k.TaskCreate(nil, 3, 1024, "owner")
	waiterH, _ := k.TaskCreate(nil, 3, 1024, "waiter")
	require.Equal(t, kernel.OK, k.TaskStart(ownerH, 0))
	require.Equal(t, kernel.OK, k.MutexGet(mH, ownerH, kernel.TmoInf))
	require.Equal(t, kernel.OK, k.MutexGet(mH, ownerH, kernel.TmoInf)) // nested

	require.Equal(t, kernel.OK, k.TaskStart(waiterH, 0))
	require.Equal(t, kernel.OK, k.MutexGet(mH, waiterH, 10))

	require.Equal(t, kernel.OK, k.MutexFree(mH))
	waiterPeek, _ := k.TaskPeek(waiterH)
	assert.Equal(t, kernel.TaskReady, waiterPeek.State, "free hands ownership off despite the owner's outstanding nest count")
	owner, ec := k.MutexPeek(mH, kernel.MutexPeekOwner)
	require.Equal(t, kernel.OK, ec)
	assert.Equal(t, uint32(waiterH.ID), owner)
}

func TestMutexClearDrainsWaitQueueWithoutGrantingOwnership(t *testing.T) {
	k := newTestKernel(t)
	mH, _ := k.MutexCreate("m", 0, false)
	ownerH, _ := k.TaskCreate(nil, 3, 1024, "owner")
	waiterH, _ := k.TaskCreate(nil, 3, 1024, "waiter")
	require.Equal(t, kernel.OK, k.TaskStart(ownerH, 0))
	require.Equal(t, kernel.OK, k.MutexGet(mH, ownerH, kernel.TmoInf))
	require.Equal(t, kernel.OK, k.TaskStart(waiterH, 0))
	require.Equal(t, kernel.OK, k.MutexGet(mH, waiterH, 10))

	require.Equal(t, kernel.OK, k.MutexClear(mH))
	waiterPeek, _ := k.TaskPeek(waiterH)
	assert.Equal(t, kernel.TaskReady, waiterPeek.State)
	assert.Equal(t, kernel.ErrOpNotAllowed, waiterPeek.WaitErr)
	owner, ec := k.MutexPeek(mH, kernel.MutexPeekOwner)
	require.Equal(t, kernel.OK, ec)
	assert.Equal(t, uint32(kernel.NilID), owner, "clear grants nobody ownership")
}

func TestMutexSetAlwaysInvalidParameter(t *testing.T) {
	k := newTestKernel(t)
	mH, _ := k.MutexCreate("m", 0, false)
	assert.Equal(t, kernel.ErrInvPar, k.MutexSet(mH))
}

func TestMutexPriorityCeilingBoostsOwnerImmediately(t *testing.T) {
	k := newTestKernel(t)
	mH, _ := k.MutexCreate("m", 8, true)
	taskH, _ := k.TaskCreate(nil, 2, 1024, "t")
	require.Equal(t, kernel.OK, k.TaskStart(taskH, 0))

	require.Equal(t, kernel.OK, k.MutexGet(mH, taskH, kernel.TmoInf))
	peek, _ := k.TaskPeek(taskH)
	assert.Equal(t, uint8(8), peek.Pri)

	require.Equal(t, kernel.OK, k.MutexRelease(mH, taskH))
	peek, _ = k.TaskPeek(taskH)
	assert.Equal(t, uint8(2), peek.Pri)
}

// TestMutexPriorityInheritancePropagatesThroughChain exercises the classic
// three-task priority-inversion scenario: a low-priority owner is boosted
// first by a mid-priority waiter and then further by a high-priority one,
// and releases to the highest-priority waiter first.
func TestMutexPriorityInheritancePropagatesThroughChain(t *testing.T) {
	k := newTestKernel(t)
	mH, _ := k.MutexCreate("m", 0, false)

	lowH, _ := k.TaskCreate(nil, 1, 1024, "low")
	midH, _ := k.TaskCreate(nil, 5, 1024, "mid")
	highH, _ := k.TaskCreate(nil, 9, 1024, "high")

	require.Equal(t, kernel.OK, k.TaskStart(lowH, 0))
	require.Equal(t, kernel.OK, k.MutexGet(mH, lowH, kernel.TmoInf))

	require.Equal(t, kernel.OK, k.TaskStart(midH, 0))
	require.Equal(t, kernel.OK, k.MutexGet(mH, midH, 10))

	lowPeek, _ := k.TaskPeek(lowH)
	assert.Equal(t, uint8(5), lowPeek.Pri, "owner inherits mid's priority")
	assert.Equal(t, lowH, k.TaskCurrent(), "boosted owner outranks everyone else ready")

	require.Equal(t, kernel.OK, k.TaskStart(highH, 0))
	assert.Equal(t, highH, k.TaskCurrent())

	require.Equal(t, kernel.OK, k.MutexGet(mH, highH, 10))
	lowPeek, _ = k.TaskPeek(lowH)
	assert.Equal(t, uint8(9), lowPeek.Pri, "owner inherits high's even-higher priority")
	assert.Equal(t, lowH, k.TaskCurrent())

	midPeek, _ := k.TaskPeek(midH)
	assert.Equal(t, kernel.TaskWait, midPeek.State)

	require.Equal(t, kernel.OK, k.MutexRelease(mH, lowH))

	lowPeek, _ = k.TaskPeek(lowH)
	assert.Equal(t, uint8(1), lowPeek.Pri, "owner's priority drops back to normal once it holds no mutex")

	highPeek, _ := k.TaskPeek(highH)
	assert.Equal(t, kernel.TaskRun, highPeek.State, "highest-priority waiter wins the mutex first")
	assert.Equal(t, uintptr(1), highPeek.RV)
	assert.Equal(t, highH, k.TaskCurrent())

	midPeek, _ = k.TaskPeek(midH)
	assert.Equal(t, kernel.TaskWait, midPeek.State, "mid is still queued behind high")
}

func TestMutexDeleteRequiresFreeMutex(t *testing.T) {
	k := newTestKernel(t)
	mH, _ := k.MutexCreate("m", 0, false)
	h, _ := k.TaskCreate(nil, 3, 1024, "t")
	require.Equal(t, kernel.OK, k.TaskStart(h, 0))
	require.Equal(t, kernel.OK, k.MutexGet(mH, h, kernel.TmoInf))

	assert.Equal(t, kernel.ErrOpNotAllowed, k.MutexDelete(mH))

	require.Equal(t, kernel.OK, k.MutexRelease(mH, h))
	assert.Equal(t, kernel.OK, k.MutexDelete(mH))
}
