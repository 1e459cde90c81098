package kernel

// EventGroupMode selects how EventGroupWait's termMasks are matched against
// the group's flags (spec §4.8), grounded on xeg.c's andor_test/
// smx_EventFlagsTest_F.
type EventGroupMode uint8

const (
	EGAny   EventGroupMode = iota // OR: any single bit in termMasks[0] satisfies
	EGAll                         // AND: every bit in termMasks[0] must be set
	EGAndOr                       // AND-OR: satisfied if any term (a maximal run of set bits in the mask) is fully set
)

// EventGroup holds a 32-bit flag word tasks can wait on in AND, OR, or
// AND-OR combinations, grounded on xeg.c. The wait queue is FIFO (xeg.c
// enqueues with smx_NQTask, not smx_PNQTask — event groups, unlike
// mutexes and semaphores, never reorder waiters by priority).
type EventGroup struct {
	id ID

	Name     string
	Flags    uint32
	InitMask uint32

	notify func(Handle)

	waitQ   taskQueue
	waiters map[ID]egWait // per-waiter test condition, keyed by TCB id
}

type egWait struct {
	mode          EventGroupMode
	testMask      uint32
	postClearMask uint32
}

// EventGroupCreate allocates an event-flag group, initially set to
// initMask (xeg.c's smx_EventGroupCreate).
func (k *Kernel) EventGroupCreate(name string, initMask uint32) (Handle, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, g, ok := k.evgrps.Get()
	if !ok {
		return NullHandle, ErrOutOfEGCBs
	}
	g.id = id
	g.Name = name
	g.Flags = initMask
	g.InitMask = initMask
	g.notify = nil
	g.waitQ = taskQueue{head: NilID, tail: NilID}
	g.waiters = make(map[ID]egWait)
	h := Handle{Type: CBEventGroup, ID: id}
	if ec := k.Handles.Register(h, name); ec != OK {
		k.evgrps.Put(id)
		return NullHandle, ec
	}
	return h, OK
}

// EventGroupDelete releases a group, waking any waiters with
// ErrOpNotAllowed (spec §9's convention for deleting an object out from
// under its waiters).
func (k *Kernel) EventGroupDelete(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	g, ec := k.eventGroupFor(h)
	if ec != OK {
		return ec
	}
	k.eventGroupResumeAll(g, ErrOpNotAllowed)
	k.Handles.Unregister(h)
	k.evgrps.Put(g.id)
	k.schedule()
	return OK
}

// match reports whether flags satisfies w's test condition, and if so,
// which bits of flags caused the match (xeg.c's andor_test /
// smx_EventFlagsTest_F's inline AND/OR test).
func (w egWait) match(flags uint32) (matched uint32, ok bool) {
	switch w.mode {
	case EGAll:
		sel := flags & w.testMask
		if sel == w.testMask && w.testMask != 0 {
			return sel, true
		}
		return 0, false
	case EGAndOr:
		m := andorTest(flags, w.testMask)
		return m, m != 0
	default: // EGAny
		sel := flags & w.testMask
		return sel, sel != 0
	}
}

// andorTest walks mask from the lsb, grouping consecutive set bits into a
// term, and keeps any term that is fully set in flags (xeg.c's andor_test):
// a disjunction of the maximal runs of 1-bits found in mask.
func andorTest(flags, mask uint32) uint32 {
	var save uint32
	probe := uint32(1) // persists across outer iterations, unlike term
	for flags != 0 && mask != 0 {
		for mask&probe == 0 {
			probe <<= 1
		}
		var term uint32
		for mask&probe != 0 {
			term |= probe
			probe <<= 1
		}
		if flags&term == term {
			save |= term
		}
		flags &^= term
		mask &^= term
	}
	return save
}

// WaitAll builds an EGAll test mask requiring every bit in mask.
func WaitAll(mask uint32) (EventGroupMode, uint32) { return EGAll, mask }

// WaitAny builds an EGAny test mask satisfied by any single bit in mask.
func WaitAny(mask uint32) (EventGroupMode, uint32) { return EGAny, mask }

// EventGroupWait blocks task (up to timeout ticks) until the group's flags
// satisfy (mode, testMask). On a match — whether immediate or after
// waking — the bits of postClearMask that were among the matched bits are
// cleared from the group's flags, and the actual matched bit subset is
// returned (xeg.c's smx_EventFlagsTest_F).
func (k *Kernel) EventGroupWait(h Handle, task Handle, mode EventGroupMode, testMask, postClearMask uint32, timeout uint64) (matched uint32, err ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	g, ec := k.eventGroupFor(h)
	if ec != OK {
		return 0, k.raise(ec, h)
	}
	tcb, ec := k.taskFor(task)
	if ec != OK {
		return 0, k.raise(ec, task)
	}
	if testMask == 0 {
		return 0, k.raise(ErrInvPar, h)
	}

	w := egWait{mode: mode, testMask: testMask, postClearMask: postClearMask}
	if m, ok := w.match(g.Flags); ok {
		g.Flags &^= m & postClearMask
		return m, OK
	}
	if timeout == 0 {
		return 0, k.raise(ErrWaitNotAllowed, h)
	}

	k.removeFromWhateverQueue(tcb)
	tcb.BlockedOn = h
	tcb.State = TaskWait
	tcb.Flags.InEventQueue = true
	if tcb.id == k.current {
		k.current = NilID
	}
	enqueueTail(k.tasks, &g.waitQ, tcb)
	tcb.waitQ = &g.waitQ
	tcb.inQueue = true
	g.waiters[tcb.id] = w
	if timeout != TmoInf {
		k.timeouts.set(tcb.id, k.etime+timeout)
	}
	k.schedule()
	return 0, OK
}

// EventGroupSet pre-clears pre_clear_mask, then ORs setMask into the
// group's flags and searches the wait queue for newly-satisfied waiters
// (xeg.c's smx_EventFlagsSet). The search only runs if setMask introduced
// flags that weren't already set.
func (k *Kernel) EventGroupSet(h Handle, setMask, preClearMask uint32) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	g, ec := k.eventGroupFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	g.Flags &^= preClearMask
	newBits := setMask &^ g.Flags
	g.Flags |= newBits
	if newBits != 0 {
		k.eventGroupSearch(g)
	}
	if g.notify != nil {
		g.notify(h)
	}
	k.schedule()
	return OK
}

// EventGroupPulse momentarily sets the bits of pulseMask that were not
// already set, searches for newly-satisfied waiters, then clears exactly
// the bits it set (xeg.c's smx_EventFlagsPulse): a waiter that arrives
// after the pulse never observes the bits, and a waiter whose post-clear
// mask overlaps the pulse may still see them cleared early.
func (k *Kernel) EventGroupPulse(h Handle, pulseMask uint32) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	g, ec := k.eventGroupFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	newBits := pulseMask &^ g.Flags
	g.Flags |= newBits
	if newBits != 0 {
		k.eventGroupSearch(g)
	}
	g.Flags &^= newBits
	if g.notify != nil {
		g.notify(h)
	}
	k.schedule()
	return OK
}

// EventGroupClear resumes every waiting task with ErrOpNotAllowed (rv 0)
// and resets flags to the group's original init mask (xeg.c's
// smx_EventGroupClear) — a teardown/recovery operation, not a bit-clear.
func (k *Kernel) EventGroupClear(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	g, ec := k.eventGroupFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	k.eventGroupResumeAll(g, ErrOpNotAllowed)
	g.Flags = g.InitMask
	k.schedule()
	return OK
}

func (k *Kernel) eventGroupResumeAll(g *EventGroup, err ErrCode) {
	for {
		id, ok := popFront(k.tasks, &g.waitQ)
		if !ok {
			return
		}
		delete(g.waiters, id)
		k.wakeWaiter(id, err, 0)
	}
}

// eventGroupSearch walks the entire wait queue once against the group's
// current flags, accumulating the post-clear bits of every waiter that
// matches before applying the clear a single time at the end (xeg.c's
// smx_EventFlagsSearch_F) — a waiter's match is decided against the flags
// as they stood at the start of the walk, not as progressively cleared by
// earlier waiters in the same walk.
func (k *Kernel) eventGroupSearch(g *EventGroup) {
	flags := g.Flags
	var ccmsk uint32
	id := g.waitQ.head
	for id != NilID {
		tcb := k.tasks.At(id)
		next := tcb.qNext
		w := g.waiters[id]
		if m, ok := w.match(flags); ok {
			dequeue(k.tasks, &g.waitQ, tcb)
			delete(g.waiters, id)
			ccmsk |= m & w.postClearMask
			k.wakeWaiter(id, OK, uintptr(m))
		}
		id = next
	}
	g.Flags &^= ccmsk
}

// EventGroupPeekParam selects which EventGroupPeek field to read (spec §6,
// xeg.c's SMX_PK_PAR subset this group supports).
type EventGroupPeekParam uint8

const (
	EGPeekFlags EventGroupPeekParam = iota
	EGPeekFirst
	EGPeekTaskCount
)

// EventGroupPeek reads a diagnostic field without mutating any state.
func (k *Kernel) EventGroupPeek(h Handle, par EventGroupPeekParam) (uint32, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	g, ec := k.eventGroupFor(h)
	if ec != OK {
		return 0, k.raise(ec, h)
	}
	switch par {
	case EGPeekFlags:
		return g.Flags, OK
	case EGPeekFirst:
		return uint32(g.waitQ.head), OK
	case EGPeekTaskCount:
		var n uint32
		for id := g.waitQ.head; id != NilID; id = k.tasks.At(id).qNext {
			n++
		}
		return n, OK
	default:
		return 0, k.raise(ErrInvPar, h)
	}
}

// EventGroupSetNotify installs fn as the callback invoked at the end of
// every EventGroupSet/EventGroupPulse call (xeg.c's
// smx_EventGroupSet(SMX_ST_CBFUN) — the one real case among that SSR's
// otherwise all-default switch). Passing nil clears it.
func (k *Kernel) EventGroupSetNotify(h Handle, fn func(Handle)) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	g, ec := k.eventGroupFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	g.notify = fn
	return OK
}

func (k *Kernel) eventGroupFor(h Handle) (*EventGroup, ErrCode) {
	if h.Type != CBEventGroup || !k.evgrps.Valid(h.ID) {
		return nil, ErrInvEGCB
	}
	return k.evgrps.At(h.ID), OK
}
