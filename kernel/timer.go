package kernel

// Timer is a general-purpose, callback-driven timer control block (spec
// §4.3), distinct from the per-task blocking-wait timeouts in timeout.go.
// It is linked into TimerQueue's differential chain: Delta is ticks since
// the previous entry in the chain fired, not an absolute deadline, so
// advancing the whole queue by one tick only ever touches the head.
type Timer struct {
	id ID

	Name   string
	Delta  uint64 // ticks after the previous chain entry
	Period uint64 // 0 = one-shot; >0 = pulse mode, reinserted with this period
	Fn     func(arg uintptr)
	Arg    uintptr

	Count uint64 // number of times this timer has fired, xtmr.c's TMRCB.count
	Ticks uint64 // originally-requested one-shot delay, reused by Reset and Dup
	Width uint64 // pulse HI-phase duration; 0 = Period is a plain periodic reinsert
	State bool   // current pulse phase: true = HI, false = LO (pulse mode only)

	LSR    Handle      // optional LSR invoked at fire time, xtmr.c's TMRCB.lsr
	LSROpt TimerLSROpt // which value to pass LSR as its parameter
	LSRPar uint32      // parameter used when LSROpt == TimerLSRPar

	next   ID
	active bool
}

// TimerLSROpt selects what parameter value a timer's LSR is invoked with at
// fire time (xtmr.c's TMRCB.flags.opt / SMX_TMR_PAR|STATE|TIME|COUNT).
type TimerLSROpt uint8

const (
	TimerLSRPar   TimerLSROpt = iota // LSRPar, a caller-chosen constant
	TimerLSRState                    // current pulse phase (1 = HI, 0 = LO)
	TimerLSRTime                     // k.etime at fire
	TimerLSRCount                    // Count after this fire
)

// TimerPeekParam selects which TimerPeek field to read.
type TimerPeekParam uint8

const (
	TimerPeekDelay      TimerPeekParam = iota // ticks until this chain entry fires, meaningful only if it is the queue head
	TimerPeekPeriod                           // Period
	TimerPeekWidth                            // Width
	TimerPeekCount                            // Count
	TimerPeekTimeLeft                         // ticks remaining before this timer fires, 0 if not active
	TimerPeekPulseState                       // current pulse phase (1 = HI, 0 = LO)
	TimerPeekNumTimers                        // number of timers currently queued (system-wide, not per-handle)
	TimerPeekMaxDelay                         // sum of every Delta in the queue: ticks until the last timer fires
)

// TimerQueue is the differential (delta-from-previous) timer chain (spec
// §4.3), grounded on the source's smx_DO_CTTEST/timer-list walk in xtmr.c.
type TimerQueue struct {
	head ID
}

// NewTimerQueue returns an empty timer queue.
func NewTimerQueue() *TimerQueue { return &TimerQueue{head: NilID} }

// TimerCreate allocates a timer control block without starting it.
func (k *Kernel) TimerCreate(name string, fn func(arg uintptr), arg uintptr) (Handle, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, tm, ok := k.timers.Get()
	if !ok {
		return NullHandle, ErrOutOfTMRCBs
	}
	tm.id = id
	tm.Name = name
	tm.Fn = fn
	tm.Arg = arg
	tm.Count = 0
	tm.Ticks = 0
	tm.Width = 0
	tm.State = false
	tm.LSR = NullHandle
	tm.LSROpt = TimerLSRPar
	tm.LSRPar = 0
	tm.next = NilID
	tm.active = false
	h := Handle{Type: CBTimer, ID: id}
	if ec := k.Handles.Register(h, name); ec != OK {
		k.timers.Put(id)
		return NullHandle, ec
	}
	return h, OK
}

// TimerDelete stops (if running) and releases a timer.
func (k *Kernel) TimerDelete(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	tm, ec := k.timerFor(h)
	if ec != OK {
		return ec
	}
	if tm.active {
		k.timerQ.remove(k, tm.id)
		tm.active = false
	}
	k.Handles.Unregister(h)
	k.timers.Put(tm.id)
	return OK
}

// TimerStart arms a one-shot timer firing after ticks ticks.
func (k *Kernel) TimerStart(h Handle, ticks uint64) ErrCode {
	return k.timerArm(h, ticks, 0)
}

// TimerStartPulse arms a repeating timer: first fire after ticks ticks,
// then every period ticks thereafter (spec §4.3's pulse mode).
func (k *Kernel) TimerStartPulse(h Handle, ticks, period uint64) ErrCode {
	return k.timerArm(h, ticks, period)
}

func (k *Kernel) timerArm(h Handle, ticks, period uint64) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	tm, ec := k.timerFor(h)
	if ec != OK {
		return ec
	}
	return k.timerArmLocked(tm, ticks, period)
}

// timerArmLocked does the work shared by TimerStart, TimerStartPulse and
// TimerStartAbs. Called with k.mu held.
func (k *Kernel) timerArmLocked(tm *Timer, ticks, period uint64) ErrCode {
	if ticks == 0 {
		return ErrInvTime
	}
	if tm.active {
		k.timerQ.remove(k, tm.id)
	}
	tm.Count = 0
	tm.Ticks = ticks
	tm.Period = period
	k.timerQ.insert(k, tm.id, ticks)
	tm.active = true
	return OK
}

// TimerStartAbs arms a one-shot (or, with period > 0, repeating) timer to
// first fire at absolute tick absTick rather than after a relative delay,
// converting to the relative delay timerArmLocked needs (xtmr.c's
// smx_TimerStartAbs: "delay = time > etime ? time - etime : 0"). Unlike
// xtmr.c this kernel's arm path rejects a zero delay outright, so a target
// time already in the past is clamped to fire on the very next tick instead
// of immediately within this call.
func (k *Kernel) TimerStartAbs(h Handle, absTick uint64, period uint64) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	tm, ec := k.timerFor(h)
	if ec != OK {
		return ec
	}
	delay := uint64(1)
	if absTick > k.etime {
		delay = absTick - k.etime
	}
	return k.timerArmLocked(tm, delay, period)
}

// TimerReset re-arms an already-active timer using its originally-requested
// one-shot delay, or (pulse mode) the delay belonging to whichever phase it
// is currently in, without disturbing Fn/Arg/LSR wiring (xtmr.c's
// smx_TimerReset). Returns the ticks that were left before the reset, and
// leaves a non-active timer untouched.
func (k *Kernel) TimerReset(h Handle) (uint64, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	tm, ec := k.timerFor(h)
	if ec != OK {
		return 0, ec
	}
	if !tm.active {
		return 0, OK
	}
	timeLeft := k.timerQ.timeLeft(k, tm.id)
	k.timerQ.remove(k, tm.id)
	delay := tm.Ticks
	if tm.Period != 0 && tm.Width != 0 {
		if tm.State {
			delay = tm.Period - tm.Width
		} else {
			delay = tm.Width
		}
	}
	k.timerQ.insert(k, tm.id, delay)
	tm.active = true
	return timeLeft, OK
}

// TimerDup creates a new timer sharing h's callback wiring (Fn/Arg/LSR,
// Period/Width) but spliced into the chain to fire at h's own absolute fire
// time, not restarted with a fresh full delay (xtmr.c's smx_TimerDup: the
// duplicate is linked in immediately after the original). h must be active.
func (k *Kernel) TimerDup(h Handle, name string) (Handle, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	src, ec := k.timerFor(h)
	if ec != OK {
		return NullHandle, ec
	}
	if !src.active {
		return NullHandle, k.raise(ErrOpNotAllowed, h)
	}
	id, tm, ok := k.timers.Get()
	if !ok {
		return NullHandle, ErrOutOfTMRCBs
	}
	tm.id = id
	tm.Name = name
	tm.Fn = src.Fn
	tm.Arg = src.Arg
	tm.Period = src.Period
	tm.Width = src.Width
	tm.State = src.State
	tm.LSR = src.LSR
	tm.LSROpt = src.LSROpt
	tm.LSRPar = src.LSRPar
	tm.Count = 0
	tm.Ticks = src.Ticks
	tm.next = NilID
	nh := Handle{Type: CBTimer, ID: id}
	if ec := k.Handles.Register(nh, name); ec != OK {
		k.timers.Put(id)
		return NullHandle, ec
	}
	delay := k.timerQ.timeLeft(k, src.id)
	k.timerQ.insert(k, id, delay)
	tm.active = true
	return nh, OK
}

// TimerSetLSR attaches an LSR invoked at every fire, in place of (or
// alongside) Fn/Arg, with par selecting what value the LSR is invoked with
// (xtmr.c's smx_TimerSetLSR).
func (k *Kernel) TimerSetLSR(h Handle, lsr Handle, par TimerLSROpt, lsrPar uint32) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	tm, ec := k.timerFor(h)
	if ec != OK {
		return ec
	}
	if lsr.Type != CBLSR || !k.lsrs.Valid(lsr.ID) {
		return k.raise(ErrInvLCB, h)
	}
	if par > TimerLSRCount {
		return k.raise(ErrInvPar, h)
	}
	tm.LSR = lsr
	tm.LSROpt = par
	tm.LSRPar = lsrPar
	return OK
}

// TimerSetPulse configures a (typically already-periodic) timer to alternate
// between a HI phase lasting width ticks and a LO phase lasting period-width
// ticks, firing at every transition. If the timer is active and currently in
// its LO phase the new width takes effect on the very next fire; if mid-HI
// the change is deferred to the following period (xtmr.c's
// smx_TimerSetPulse).
func (k *Kernel) TimerSetPulse(h Handle, period, width uint64) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	tm, ec := k.timerFor(h)
	if ec != OK {
		return ec
	}
	if width >= period {
		return k.raise(ErrInvPar, h)
	}
	tm.Period = period
	tm.Width = width
	if tm.active && !tm.State {
		k.timerQ.remove(k, tm.id)
		k.timerQ.insert(k, tm.id, width)
	}
	return OK
}

// TimerPeek reads a single field of a timer's state.
func (k *Kernel) TimerPeek(h Handle, par TimerPeekParam) (uint32, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	tm, ec := k.timerFor(h)
	if ec != OK {
		return 0, ec
	}
	switch par {
	case TimerPeekDelay:
		return uint32(tm.Delta), OK
	case TimerPeekPeriod:
		return uint32(tm.Period), OK
	case TimerPeekWidth:
		return uint32(tm.Width), OK
	case TimerPeekCount:
		return uint32(tm.Count), OK
	case TimerPeekTimeLeft:
		if !tm.active {
			return 0, OK
		}
		return uint32(k.timerQ.timeLeft(k, tm.id)), OK
	case TimerPeekPulseState:
		if tm.State {
			return 1, OK
		}
		return 0, OK
	case TimerPeekNumTimers:
		var n uint32
		for id := k.timerQ.head; id != NilID; id = k.timers.At(id).next {
			n++
		}
		return n, OK
	case TimerPeekMaxDelay:
		var sum uint64
		for id := k.timerQ.head; id != NilID; id = k.timers.At(id).next {
			sum += k.timers.At(id).Delta
		}
		return uint32(sum), OK
	default:
		return 0, k.raise(ErrInvPar, h)
	}
}

// TimerStop disarms a timer without deleting its control block.
func (k *Kernel) TimerStop(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	tm, ec := k.timerFor(h)
	if ec != OK {
		return ec
	}
	if tm.active {
		k.timerQ.remove(k, tm.id)
		tm.active = false
	}
	return OK
}

func (k *Kernel) timerFor(h Handle) (*Timer, ErrCode) {
	if h.Type != CBTimer || !k.timers.Valid(h.ID) {
		return nil, ErrInvTMRCB
	}
	return k.timers.At(h.ID), OK
}

// advance drives delta ticks through the chain, firing and (for pulse-mode
// entries) reinserting every timer now due. The loop keeps going past delta
// reaching 0 as long as the new head's own Delta is also 0: two timers can
// land on the same absolute deadline (TimerDup deliberately creates exactly
// this), and both must fire within the same tick rather than the second one
// waiting an extra tick to be flushed out.
func (q *TimerQueue) advance(k *Kernel, delta uint64) {
	for q.head != NilID {
		t := k.timers.At(q.head)
		if delta < t.Delta {
			t.Delta -= delta
			return
		}
		delta -= t.Delta
		id := q.head
		q.head = t.next
		t.next = NilID
		t.active = false
		t.Count++

		if t.Period > 0 {
			nextDelay := t.Period
			if t.Width > 0 {
				t.State = !t.State
				if t.State {
					nextDelay = t.Period - t.Width
				} else {
					nextDelay = t.Width
				}
			}
			q.insert(k, id, nextDelay)
		}

		if t.Fn != nil {
			t.Fn(t.Arg)
		}
		if t.LSR != NullHandle {
			var par uint32
			switch t.LSROpt {
			case TimerLSRState:
				if t.State {
					par = 1
				}
			case TimerLSRTime:
				par = uint32(k.etime)
			case TimerLSRCount:
				par = uint32(t.Count)
			default:
				par = t.LSRPar
			}
			k.LSRInvoke(t.LSR, uintptr(par))
		}
	}
}

// timeLeft returns the ticks remaining before id fires: the sum of every
// Delta from the head of the chain up to and including id's own entry.
func (q *TimerQueue) timeLeft(k *Kernel, id ID) uint64 {
	var sum uint64
	cur := q.head
	for cur != NilID {
		c := k.timers.At(cur)
		sum += c.Delta
		if cur == id {
			return sum
		}
		cur = c.next
	}
	return 0
}

// insert splices timer id into the chain so it fires after exactly ticks
// ticks from now, splitting the delta of whatever entry it lands before.
func (q *TimerQueue) insert(k *Kernel, id ID, ticks uint64) {
	t := k.timers.At(id)
	t.next = NilID
	t.active = true

	if q.head == NilID {
		t.Delta = ticks
		q.head = id
		return
	}

	prev := NilID
	cur := q.head
	remaining := ticks
	for cur != NilID {
		c := k.timers.At(cur)
		if remaining < c.Delta {
			c.Delta -= remaining
			t.Delta = remaining
			t.next = cur
			if prev == NilID {
				q.head = id
			} else {
				k.timers.At(prev).next = id
			}
			return
		}
		remaining -= c.Delta
		prev = cur
		cur = c.next
	}
	t.Delta = remaining
	k.timers.At(prev).next = id
}

// remove unlinks timer id from the chain, folding its delta forward into
// whatever entry follows it so their absolute fire times are unaffected.
func (q *TimerQueue) remove(k *Kernel, id ID) {
	prev := NilID
	cur := q.head
	for cur != NilID {
		c := k.timers.At(cur)
		if cur == id {
			if c.next != NilID {
				k.timers.At(c.next).Delta += c.Delta
			}
			if prev == NilID {
				q.head = c.next
			} else {
				k.timers.At(prev).next = c.next
			}
			c.next = NilID
			return
		}
		prev = cur
		cur = c.next
	}
}
