package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorkernel/rtcore/kernel"
)

func TestTimerOneShotFiresAfterExactTicks(t *testing.T) {
	k := newTestKernel(t)
	fired := 0
	h, _ := k.TimerCreate("t", func(arg uintptr) { fired++ }, 0)
	require.Equal(t, kernel.OK, k.TimerStart(h, 3))

	k.Tick()
	k.Tick()
	assert.Equal(t, 0, fired)
	k.Tick()
	assert.Equal(t, 1, fired)
	k.Tick()
	assert.Equal(t, 1, fired, "one-shot does not refire")
}

// TestTimerDifferentialInsertionOrdersByAbsoluteDeadline is the differential
// timer-insertion scenario: three timers armed for different absolute
// deadlines, in non-deadline order, must still fire earliest-deadline-first.
func TestTimerDifferentialInsertionOrdersByAbsoluteDeadline(t *testing.T) {
	k := newTestKernel(t)
	var order []string
	mk := func(name string) kernel.Handle {
		h, _ := k.TimerCreate(name, func(arg uintptr) { order = append(order, name) }, 0)
		return h
	}
	a := mk("a")
	b := mk("b")
	c := mk("c")

	require.Equal(t, kernel.OK, k.TimerStart(a, 5))
	require.Equal(t, kernel.OK, k.TimerStart(b, 2))
	require.Equal(t, kernel.OK, k.TimerStart(c, 8))

	for i := 0; i < 8; i++ {
		k.Tick()
	}
	assert.Equal(t, []string{"b", "a", "c"}, order)
}

func TestTimerStopPreventsFiring(t *testing.T) {
	k := newTestKernel(t)
	fired := 0
	h, _ := k.TimerCreate("t", func(arg uintptr) { fired++ }, 0)
	require.Equal(t, kernel.OK, k.TimerStart(h, 2))
	require.Equal(t, kernel.OK, k.TimerStop(h))

	k.Tick()
	k.Tick()
	k.Tick()
	assert.Equal(t, 0, fired)
}

func TestTimerPulseReinsertsWithPeriod(t *testing.T) {
	k := newTestKernel(t)
	fired := 0
	h, _ := k.TimerCreate("t", func(arg uintptr) { fired++ }, 0)
	require.Equal(t, kernel.OK, k.TimerStartPulse(h, 2, 3))

	for i := 0; i < 2; i++ {
		k.Tick()
	}
	assert.Equal(t, 1, fired)

	for i := 0; i < 3; i++ {
		k.Tick()
	}
	assert.Equal(t, 2, fired)
}

func TestTimerStartRejectsZeroTicks(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.TimerCreate("t", func(arg uintptr) {}, 0)
	assert.Equal(t, kernel.ErrInvTime, k.TimerStart(h, 0))
}

func TestTimerPulseAlternatesHiLoAndFiresOnEachTransition(t *testing.T) {
	k := newTestKernel(t)
	fired := 0
	h, _ := k.TimerCreate("t", func(arg uintptr) { fired++ }, 0)
	require.Equal(t, kernel.OK, k.TimerStartPulse(h, 1, 4))
	require.Equal(t, kernel.OK, k.TimerSetPulse(h, 4, 1))

	k.Tick()
	assert.Equal(t, 1, fired)
	state, ec := k.TimerPeek(h, kernel.TimerPeekPulseState)
	require.Equal(t, kernel.OK, ec)
	assert.Equal(t, uint32(1), state, "toggled to HI on the first transition")

	for i := 0; i < 3; i++ {
		k.Tick()
	}
	assert.Equal(t, 2, fired, "HI phase lasts width=1 tick, LO phase lasts period-width=3 ticks")
	state, _ = k.TimerPeek(h, kernel.TimerPeekPulseState)
	assert.Equal(t, uint32(0), state, "toggled back to LO")
}

func TestTimerStartAbsConvertsAbsoluteTickToRelativeDelay(t *testing.T) {
	k := newTestKernel(t)
	fired := 0
	h, _ := k.TimerCreate("t", func(arg uintptr) { fired++ }, 0)

	k.Tick()
	k.Tick()
	require.Equal(t, kernel.OK, k.TimerStartAbs(h, 5, 0))

	k.Tick()
	k.Tick()
	assert.Equal(t, 0, fired)
	k.Tick()
	assert.Equal(t, 1, fired)
}

func TestTimerStartAbsClampsPastTargetToNextTick(t *testing.T) {
	k := newTestKernel(t)
	fired := 0
	h, _ := k.TimerCreate("t", func(arg uintptr) { fired++ }, 0)

	k.Tick()
	k.Tick()
	require.Equal(t, kernel.OK, k.TimerStartAbs(h, 1, 0), "target tick already passed")

	k.Tick()
	assert.Equal(t, 1, fired, "clamped to fire on the very next tick")
}

func TestTimerResetReArmsWithOriginalDelay(t *testing.T) {
	k := newTestKernel(t)
	fired := 0
	h, _ := k.TimerCreate("t", func(arg uintptr) { fired++ }, 0)
	require.Equal(t, kernel.OK, k.TimerStart(h, 5))

	k.Tick()
	k.Tick()

	timeLeft, ec := k.TimerReset(h)
	require.Equal(t, kernel.OK, ec)
	assert.Equal(t, uint64(3), timeLeft)

	for i := 0; i < 4; i++ {
		k.Tick()
	}
	assert.Equal(t, 0, fired, "reset restarted the full 5-tick delay")
	k.Tick()
	assert.Equal(t, 1, fired)
}

func TestTimerResetOnInactiveTimerIsANoOp(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.TimerCreate("t", func(arg uintptr) {}, 0)
	timeLeft, ec := k.TimerReset(h)
	require.Equal(t, kernel.OK, ec)
	assert.Equal(t, uint64(0), timeLeft)
}

func TestTimerDupFiresAtSourcesOwnAbsoluteTime(t *testing.T) {
	k := newTestKernel(t)
	fired := 0
	h, _ := k.TimerCreate("orig", func(arg uintptr) { fired++ }, 0)
	require.Equal(t, kernel.OK, k.TimerStart(h, 4))

	k.Tick()
	k.Tick()

	dupH, ec := k.TimerDup(h, "dup")
	require.Equal(t, kernel.OK, ec)
	require.NotEqual(t, h, dupH)

	k.Tick()
	assert.Equal(t, 0, fired)
	k.Tick()
	assert.Equal(t, 2, fired, "both the original and its duplicate fire at the same absolute tick")
}

func TestTimerDupRejectsInactiveTimer(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.TimerCreate("t", func(arg uintptr) {}, 0)
	_, ec := k.TimerDup(h, "dup")
	assert.Equal(t, kernel.ErrOpNotAllowed, ec)
}

func TestTimerSetLSRInvokesAttachedLSRAtFireTime(t *testing.T) {
	k := newTestKernel(t)
	invoked := false
	var par uintptr
	lsrH, _ := k.LSRCreate("l", func(arg uintptr) { invoked = true; par = arg })
	h, _ := k.TimerCreate("t", nil, 0)
	require.Equal(t, kernel.OK, k.TimerSetLSR(h, lsrH, kernel.TimerLSRCount, 0))
	require.Equal(t, kernel.OK, k.TimerStart(h, 2))

	k.Tick()
	k.Tick()
	assert.False(t, invoked, "LSRInvoke only enqueues; LSRDrain runs the handler")
	k.LSRDrain()

	assert.True(t, invoked)
	assert.Equal(t, uintptr(1), par, "TimerLSRCount passes the fire count")
}

func TestTimerSetLSRRejectsInvalidHandleAndOpt(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.TimerCreate("t", nil, 0)
	assert.Equal(t, kernel.ErrInvLCB, k.TimerSetLSR(h, kernel.NullHandle, kernel.TimerLSRPar, 0))

	lsrH, _ := k.LSRCreate("l", func(arg uintptr) {})
	assert.Equal(t, kernel.ErrInvPar, k.TimerSetLSR(h, lsrH, kernel.TimerLSROpt(99), 0))
}

func TestTimerSetPulseTakesEffectImmediatelyOnlyFromLoPhase(t *testing.T) {
	k := newTestKernel(t)
	fired := 0
	h, _ := k.TimerCreate("t", func(arg uintptr) { fired++ }, 0)
	require.Equal(t, kernel.OK, k.TimerStart(h, 10))

	require.Equal(t, kernel.OK, k.TimerSetPulse(h, 4, 1))

	k.Tick()
	assert.Equal(t, 1, fired, "retimed to width=1 tick instead of the original 10")
}

func TestTimerSetPulseDefersWhileInHiPhase(t *testing.T) {
	k := newTestKernel(t)
	fired := 0
	h, _ := k.TimerCreate("t", func(arg uintptr) { fired++ }, 0)
	require.Equal(t, kernel.OK, k.TimerStartPulse(h, 1, 4))
	require.Equal(t, kernel.OK, k.TimerSetPulse(h, 4, 1))

	k.Tick()
	assert.Equal(t, 1, fired, "toggled to HI, next delay (period-width=3) already computed")

	require.Equal(t, kernel.OK, k.TimerSetPulse(h, 4, 2))
	for i := 0; i < 2; i++ {
		k.Tick()
	}
	assert.Equal(t, 1, fired, "HI-phase width change is deferred, old timing still in force")
	k.Tick()
	assert.Equal(t, 2, fired)
}

func TestTimerSetPulseRejectsWidthNotLessThanPeriod(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.TimerCreate("t", func(arg uintptr) {}, 0)
	assert.Equal(t, kernel.ErrInvPar, k.TimerSetPulse(h, 4, 4))
}

func TestTimerPeekReportsPeriodWidthCountAndTimeLeft(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.TimerCreate("t", func(arg uintptr) {}, 0)
	require.Equal(t, kernel.OK, k.TimerStartPulse(h, 5, 4))
	require.Equal(t, kernel.OK, k.TimerSetPulse(h, 4, 1))

	period, ec := k.TimerPeek(h, kernel.TimerPeekPeriod)
	require.Equal(t, kernel.OK, ec)
	assert.Equal(t, uint32(4), period)

	width, _ := k.TimerPeek(h, kernel.TimerPeekWidth)
	assert.Equal(t, uint32(1), width)

	timeLeft, _ := k.TimerPeek(h, kernel.TimerPeekTimeLeft)
	assert.Equal(t, uint32(1), timeLeft, "retimed to width=1 by SetPulse since the timer was in LO phase")

	n, _ := k.TimerPeek(h, kernel.TimerPeekNumTimers)
	assert.Equal(t, uint32(1), n)

	k.Tick()
	count, _ := k.TimerPeek(h, kernel.TimerPeekCount)
	assert.Equal(t, uint32(1), count)

	state, _ := k.TimerPeek(h, kernel.TimerPeekPulseState)
	assert.Equal(t, uint32(1), state, "toggled to HI")
}

func TestTimerPeekMaxDelaySumsWholeQueue(t *testing.T) {
	k := newTestKernel(t)
	a, _ := k.TimerCreate("a", func(arg uintptr) {}, 0)
	b, _ := k.TimerCreate("b", func(arg uintptr) {}, 0)
	require.Equal(t, kernel.OK, k.TimerStart(a, 3))
	require.Equal(t, kernel.OK, k.TimerStart(b, 5))

	maxDelay, ec := k.TimerPeek(a, kernel.TimerPeekMaxDelay)
	require.Equal(t, kernel.OK, ec)
	assert.Equal(t, uint32(5), maxDelay, "sum of every Delta in the chain equals the latest absolute deadline")
}

func TestTimerPeekRejectsUnknownParam(t *testing.T) {
	k := newTestKernel(t)
	h, _ := k.TimerCreate("t", func(arg uintptr) {}, 0)
	_, ec := k.TimerPeek(h, kernel.TimerPeekParam(99))
	assert.Equal(t, kernel.ErrInvPar, ec)
}
