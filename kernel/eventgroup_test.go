package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorkernel/rtcore/kernel"
)

func TestEventGroupWaitAllRequiresEveryBit(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventGroupCreate("eg", 0)
	waiterH, _ := k.TaskCreate(nil, 3, 1024, "w")

	mode, mask := kernel.WaitAll(0b011)
	_, ec := k.EventGroupWait(h, waiterH, mode, mask, 0, kernel.TmoInf)
	require.Equal(t, kernel.OK, ec)

	require.Equal(t, kernel.OK, k.EventGroupSet(h, 0b001, 0))
	peek, _ := k.TaskPeek(waiterH)
	assert.Equal(t, kernel.TaskWait, peek.State, "only one of two required bits set")

	require.Equal(t, kernel.OK, k.EventGroupSet(h, 0b010, 0))
	peek, _ = k.TaskPeek(waiterH)
	assert.Equal(t, kernel.TaskRun, peek.State)
	assert.Equal(t, uintptr(0b011), peek.RV)
}

func TestEventGroupWaitAnySatisfiedByFirstBit(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventGroupCreate("eg", 0)
	waiterH, _ := k.TaskCreate(nil, 3, 1024, "w")

	mode, mask := kernel.WaitAny(0b110)
	_, ec := k.EventGroupWait(h, waiterH, mode, mask, 0, kernel.TmoInf)
	require.Equal(t, kernel.OK, ec)

	require.Equal(t, kernel.OK, k.EventGroupSet(h, 0b010, 0))
	peek, _ := k.TaskPeek(waiterH)
	assert.Equal(t, kernel.TaskRun, peek.State)
}

// TestEventGroupAndOrSingleTermRequiresWholeConjunction exercises the
// EGAndOr mode's term-scan (xeg.c's andor_test) against a single
// contiguous run of bits: with no internal zero gap, andor_test degrades
// to one conjunction, which must be satisfied bit by bit before the
// waiter wakes.
func TestEventGroupAndOrSingleTermRequiresWholeConjunction(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventGroupCreate("eg", 0)
	waiterH, _ := k.TaskCreate(nil, 3, 1024, "w")

	_, ec := k.EventGroupWait(h, waiterH, kernel.EGAndOr, 0b0011, 0, kernel.TmoInf)
	require.Equal(t, kernel.OK, ec)

	require.Equal(t, kernel.OK, k.EventGroupSet(h, 0b0001, 0))
	peek, _ := k.TaskPeek(waiterH)
	assert.Equal(t, kernel.TaskWait, peek.State, "conjunction not fully set yet")

	require.Equal(t, kernel.OK, k.EventGroupSet(h, 0b0010, 0))
	peek, _ = k.TaskPeek(waiterH)
	assert.Equal(t, kernel.TaskRun, peek.State, "conjunction now fully set")
	assert.Equal(t, uintptr(0b0011), peek.RV)
}

// TestEventGroupWaitPostClearMaskClearsOnlyMatchedBits confirms an
// immediate match clears exactly the overlap of the matched bits and the
// waiter's own post-clear mask (xeg.c's smx_EventFlagsTest_F), leaving
// unrelated already-set bits alone.
func TestEventGroupWaitPostClearMaskClearsOnlyMatchedBits(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventGroupCreate("eg", 0b101)
	waiterH, _ := k.TaskCreate(nil, 3, 1024, "w")

	mode, mask := kernel.WaitAny(0b001)
	matched, ec := k.EventGroupWait(h, waiterH, mode, mask, 0b001, kernel.TmoInf)
	require.Equal(t, kernel.OK, ec)
	assert.Equal(t, uint32(0b001), matched)

	flags, _ := k.EventGroupPeek(h, kernel.EGPeekFlags)
	assert.Equal(t, uint32(0b100), flags, "only the matched-and-requested bit is cleared")
}

// TestEventGroupSetPreClearMaskAppliesBeforeSettingNewBits exercises
// xeg.c's smx_EventFlagsSet ordering: pre-clear happens first, so a bit
// named in both set_mask and pre_clear_mask ends up set.
func TestEventGroupSetPreClearMaskAppliesBeforeSettingNewBits(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventGroupCreate("eg", 0b011)

	require.Equal(t, kernel.OK, k.EventGroupSet(h, 0b001, 0b010))
	flags, _ := k.EventGroupPeek(h, kernel.EGPeekFlags)
	assert.Equal(t, uint32(0b001), flags)
}

func TestEventGroupPulseClearsBitsAfterWaking(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventGroupCreate("eg", 0)
	waiterH, _ := k.TaskCreate(nil, 3, 1024, "w")

	mode, mask := kernel.WaitAll(0b1)
	_, ec := k.EventGroupWait(h, waiterH, mode, mask, 0, kernel.TmoInf)
	require.Equal(t, kernel.OK, ec)

	require.Equal(t, kernel.OK, k.EventGroupPulse(h, 0b1))
	peek, _ := k.TaskPeek(waiterH)
	assert.Equal(t, kernel.TaskRun, peek.State)

	laterH, _ := k.TaskCreate(nil, 3, 1024, "later")
	_, ec = k.EventGroupWait(h, laterH, mode, mask, 0, 0)
	assert.Equal(t, kernel.ErrWaitNotAllowed, ec, "pulse clears the bits it set once waiters are satisfied")
}

// TestEventGroupWaitQueueIsFIFONotPriority confirms xeg.c's smx_NQTask
// (not smx_PNQTask) discipline: a lower-priority waiter queued first stays
// ahead of a later higher-priority one.
func TestEventGroupWaitQueueIsFIFONotPriority(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventGroupCreate("eg", 0)
	lowH, _ := k.TaskCreate(nil, 1, 1024, "low")
	highH, _ := k.TaskCreate(nil, 9, 1024, "high")

	mode, mask := kernel.WaitAll(0b1)
	_, ec := k.EventGroupWait(h, lowH, mode, mask, 0, kernel.TmoInf)
	require.Equal(t, kernel.OK, ec)
	_, ec = k.EventGroupWait(h, highH, mode, mask, 0, kernel.TmoInf)
	require.Equal(t, kernel.OK, ec)

	first, ec := k.EventGroupPeek(h, kernel.EGPeekFirst)
	require.Equal(t, kernel.OK, ec)
	assert.Equal(t, uint32(lowH.ID), first)
}

// TestEventGroupClearResetsToInitMaskAndWakesAll is xeg.c's
// smx_EventGroupClear: a teardown operation, not a bit-clear — every
// waiter is resumed with ErrOpNotAllowed and flags revert to the group's
// original init mask.
func TestEventGroupClearResetsToInitMaskAndWakesAll(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventGroupCreate("eg", 0b10)
	waiterH, _ := k.TaskCreate(nil, 3, 1024, "w")
	// bit2 is never set below, so this waiter is still queued when Clear runs.
	mode, mask := kernel.WaitAll(0b100)
	_, ec := k.EventGroupWait(h, waiterH, mode, mask, 0, kernel.TmoInf)
	require.Equal(t, kernel.OK, ec)

	require.Equal(t, kernel.OK, k.EventGroupSet(h, 0b01, 0))
	flags, _ := k.EventGroupPeek(h, kernel.EGPeekFlags)
	require.Equal(t, uint32(0b11), flags)
	peek, _ := k.TaskPeek(waiterH)
	require.Equal(t, kernel.TaskWait, peek.State, "set didn't touch bit2, so the waiter is still queued")

	require.Equal(t, kernel.OK, k.EventGroupClear(h))
	peek, _ = k.TaskPeek(waiterH)
	assert.Equal(t, kernel.TaskRun, peek.State)
	assert.Equal(t, kernel.ErrOpNotAllowed, peek.WaitErr)
	flags, _ = k.EventGroupPeek(h, kernel.EGPeekFlags)
	assert.Equal(t, uint32(0b10), flags, "reverts to init mask, not zero")
}

func TestEventGroupDeleteWakesWaitersWithOpNotAllowed(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventGroupCreate("eg", 0)
	waiterH, _ := k.TaskCreate(nil, 3, 1024, "w")
	mode, mask := kernel.WaitAll(0b1)
	_, ec := k.EventGroupWait(h, waiterH, mode, mask, 0, kernel.TmoInf)
	require.Equal(t, kernel.OK, ec)

	require.Equal(t, kernel.OK, k.EventGroupDelete(h))
	peek, _ := k.TaskPeek(waiterH)
	assert.Equal(t, kernel.ErrOpNotAllowed, peek.WaitErr)
}

func TestEventGroupSetNotifyInvokedAfterSet(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventGroupCreate("eg", 0)
	var notified kernel.Handle
	require.Equal(t, kernel.OK, k.EventGroupSetNotify(h, func(nh kernel.Handle) { notified = nh }))

	require.Equal(t, kernel.OK, k.EventGroupSet(h, 0b1, 0))
	assert.Equal(t, h, notified)
}
