package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorkernel/rtcore/kernel"
)

func TestEventQueueCountZeroReturnsImmediately(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventQueueCreate("eq")
	taskH, _ := k.TaskCreate(nil, 3, 1024, "t")

	require.Equal(t, kernel.OK, k.EventQueueCount(h, taskH, 0, kernel.TmoInf))
	// count==0 never enqueues: the queue stays empty, so a signal is a no-op
	// rather than waking the task we just "tested".
	require.Equal(t, kernel.OK, k.EventQueueSignal(h))
	peek, _ := k.TaskPeek(taskH)
	assert.Equal(t, kernel.OK, peek.WaitErr)
}

// TestEventQueueSignalDecrementsHeadWaiterAndWakesAtZero is the differential-
// countdown scenario (xeq.c's smx_EventQueueSignal/smx_EventQueueCount_F): a
// waiter blocked for count signals only wakes once that many EventQueueSignal
// calls have landed — elapsed ticks never move it.
func TestEventQueueSignalDecrementsHeadWaiterAndWakesAtZero(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventQueueCreate("eq")
	taskH, _ := k.TaskCreate(nil, 3, 1024, "t")

	require.Equal(t, kernel.OK, k.EventQueueCount(h, taskH, 3, kernel.TmoInf))

	k.Tick()
	k.Tick()
	peek, _ := k.TaskPeek(taskH)
	assert.Equal(t, kernel.TaskWait, peek.State, "elapsed ticks must never decrement an event queue wait")

	require.Equal(t, kernel.OK, k.EventQueueSignal(h))
	require.Equal(t, kernel.OK, k.EventQueueSignal(h))
	peek, _ = k.TaskPeek(taskH)
	assert.Equal(t, kernel.TaskWait, peek.State, "two signals is one short of the three-signal wait")

	require.Equal(t, kernel.OK, k.EventQueueSignal(h))
	peek, _ = k.TaskPeek(taskH)
	assert.Equal(t, kernel.TaskRun, peek.State)
}

// TestEventQueueCountDifferentialInsertionOrdersByRemainingCount exercises
// the differential splice: a waiter asking for fewer remaining signals than
// an already-queued waiter is spliced ahead of it, and the existing waiter's
// stored remainder shrinks by the amount subtracted out from under it.
func TestEventQueueCountDifferentialInsertionOrdersByRemainingCount(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventQueueCreate("eq")
	firstH, _ := k.TaskCreate(nil, 3, 1024, "first")
	secondH, _ := k.TaskCreate(nil, 3, 1024, "second")

	require.Equal(t, kernel.OK, k.EventQueueCount(h, firstH, 5, kernel.TmoInf))
	require.Equal(t, kernel.OK, k.EventQueueCount(h, secondH, 2, kernel.TmoInf))

	// second needed only 2, so it is now ahead of first in the chain and
	// wakes after 2 signals; first (originally 5, minus the 2 second
	// absorbed) needs 3 more after that.
	require.Equal(t, kernel.OK, k.EventQueueSignal(h))
	firstPeek, _ := k.TaskPeek(firstH)
	secondPeek, _ := k.TaskPeek(secondH)
	assert.Equal(t, kernel.TaskWait, firstPeek.State)
	assert.Equal(t, kernel.TaskWait, secondPeek.State)

	require.Equal(t, kernel.OK, k.EventQueueSignal(h))
	secondPeek, _ = k.TaskPeek(secondH)
	assert.Equal(t, kernel.TaskRun, secondPeek.State, "second asked for only 2 signals")
	firstPeek, _ = k.TaskPeek(firstH)
	assert.Equal(t, kernel.TaskWait, firstPeek.State)

	for i := 0; i < 3; i++ {
		require.Equal(t, kernel.OK, k.EventQueueSignal(h))
	}
	firstPeek, _ = k.TaskPeek(firstH)
	assert.Equal(t, kernel.TaskReady, firstPeek.State)
}

func TestEventQueueSignalCascadesWakeOverZeroRemainders(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventQueueCreate("eq")
	firstH, _ := k.TaskCreate(nil, 3, 1024, "first")
	secondH, _ := k.TaskCreate(nil, 3, 1024, "second")

	require.Equal(t, kernel.OK, k.EventQueueCount(h, firstH, 1, kernel.TmoInf))
	require.Equal(t, kernel.OK, k.EventQueueCount(h, secondH, 0+1, kernel.TmoInf))

	require.Equal(t, kernel.OK, k.EventQueueSignal(h))
	firstPeek, _ := k.TaskPeek(firstH)
	secondPeek, _ := k.TaskPeek(secondH)
	assert.Equal(t, kernel.TaskRun, firstPeek.State)
	assert.Equal(t, kernel.TaskReady, secondPeek.State, "second's remainder was already 0 once first was subtracted out, so it cascades in the same Signal call")
}

func TestEventQueueClearWakesWaitersWithOpNotAllowed(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventQueueCreate("eq")
	taskH, _ := k.TaskCreate(nil, 3, 1024, "t")
	require.Equal(t, kernel.OK, k.EventQueueCount(h, taskH, 3, kernel.TmoInf))

	require.Equal(t, kernel.OK, k.EventQueueClear(h))
	peek, _ := k.TaskPeek(taskH)
	assert.Equal(t, kernel.ErrOpNotAllowed, peek.WaitErr)
	assert.Equal(t, kernel.TaskRun, peek.State)
}

func TestEventQueueDeleteWakesWaitersWithOpNotAllowed(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventQueueCreate("eq")
	taskH, _ := k.TaskCreate(nil, 3, 1024, "t")
	require.Equal(t, kernel.OK, k.EventQueueCount(h, taskH, 1, kernel.TmoInf))

	require.Equal(t, kernel.OK, k.EventQueueDelete(h))
	peek, _ := k.TaskPeek(taskH)
	assert.Equal(t, kernel.ErrOpNotAllowed, peek.WaitErr)
}

func TestEventQueueCountRejectsZeroTimeout(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventQueueCreate("eq")
	taskH, _ := k.TaskCreate(nil, 3, 1024, "t")

	assert.Equal(t, kernel.ErrWaitNotAllowed, k.EventQueueCount(h, taskH, 1, 0))
}

func TestEventQueueSetAlwaysInvalidParameter(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.EventQueueCreate("eq")
	assert.Equal(t, kernel.ErrInvPar, k.EventQueueSet(h))
}
