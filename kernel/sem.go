package kernel

// SemMode selects which of the four wait/post disciplines spec §4.4
// describes a Sem control block implements. All four share one waitQ and
// differ only in how Signal/Test interpret Count — except GATE, which
// additionally queues its waiters FIFO rather than by priority (xsem.c's
// smx_NQTask vs smx_PNQTask).
type SemMode uint8

const (
	SemResource SemMode = iota // classic counting semaphore, bounded by Limit
	SemEvent                   // unbounded counting semaphore, no overflow check
	SemThreshold                // Count accumulates until Threshold, then releases every waiter at once
	SemGate                     // Test decrements like a counter; Signal releases every waiter at once
)

// Sem is a semaphore control block (spec §4.4), grounded on xsem.c.
type Sem struct {
	id ID

	Name      string
	Mode      SemMode
	Count     int
	Limit     int // RESOURCE mode ceiling; 0 means unbounded
	Threshold int // THRESHOLD mode trigger level

	notify func(Handle) // optional SemSet(SMX_ST_CBFUN) callback, xsem.c's smx_SemSignal

	waitQ taskQueue
}

// SemCreate allocates a semaphore. limit is only consulted in SemResource
// mode; threshold only in SemThreshold mode.
func (k *Kernel) SemCreate(name string, mode SemMode, initCount, limit, threshold int) (Handle, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, s, ok := k.sems.Get()
	if !ok {
		return NullHandle, ErrOutOfSCBs
	}
	s.id = id
	s.Name = name
	s.Mode = mode
	s.Count = initCount
	s.Limit = limit
	s.Threshold = threshold
	s.notify = nil
	s.waitQ = taskQueue{head: NilID, tail: NilID}
	h := Handle{Type: CBSem, ID: id}
	if ec := k.Handles.Register(h, name); ec != OK {
		k.sems.Put(id)
		return NullHandle, ec
	}
	return h, OK
}

// SemDelete releases a semaphore's control block. Any waiters are woken
// with ErrOpNotAllowed (the object they were waiting on is gone).
func (k *Kernel) SemDelete(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ec := k.semFor(h)
	if ec != OK {
		return ec
	}
	k.semClearLocked(s)
	k.Handles.Unregister(h)
	k.sems.Put(s.id)
	k.schedule()
	return OK
}

// SemClear drains the wait queue with ErrOpNotAllowed and resets Count
// (RESOURCE resets to Limit; every other mode resets to 0), matching
// xsem.c's smx_SemClear_F.
func (k *Kernel) SemClear(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ec := k.semFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	k.semClearLocked(s)
	k.schedule()
	return OK
}

func (k *Kernel) semClearLocked(s *Sem) {
	for {
		id, ok := popFront(k.tasks, &s.waitQ)
		if !ok {
			break
		}
		k.wakeWaiter(id, ErrOpNotAllowed, 0)
	}
	if s.Mode == SemResource {
		s.Count = s.Limit
	} else {
		s.Count = 0
	}
}

func (k *Kernel) semEnqueue(s *Sem, tcb *TCB) {
	if s.Mode == SemGate {
		enqueueTail(k.tasks, &s.waitQ, tcb)
		return
	}
	enqueuePriority(k.tasks, &s.waitQ, tcb)
}

// SemTest attempts to satisfy the semaphore's wait condition for task,
// blocking (up to timeout ticks; TmoInf for unbounded) if it cannot be
// satisfied immediately.
func (k *Kernel) SemTest(h Handle, task Handle, timeout uint64) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.semTest(h, task, timeout, false)
}

// SemTestStop is SemTest's Stop-style variant (spec §9's Stop convention):
// the task is marked to re-enter via its run(arg) reentry point, rather
// than resume saved stack state, if it actually blocks.
func (k *Kernel) SemTestStop(h Handle, task Handle, timeout uint64) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.semTest(h, task, timeout, true)
}

func (k *Kernel) semTest(h Handle, task Handle, timeout uint64, stopStyle bool) ErrCode {
	s, ec := k.semFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	tcb, ec := k.taskFor(task)
	if ec != OK {
		return k.raise(ec, task)
	}

	if k.semSatisfied(s) {
		k.semConsume(s)
		return OK
	}
	if timeout == 0 {
		return k.raise(ErrWaitNotAllowed, h)
	}

	k.removeFromWhateverQueue(tcb)
	tcb.BlockedOn = h
	tcb.State = TaskWait
	if stopStyle {
		tcb.Flags.StopStyle = true
	}
	if tcb.id == k.current {
		k.current = NilID
	}
	k.semEnqueue(s, tcb)
	tcb.waitQ = &s.waitQ
	tcb.inQueue = true
	if timeout != TmoInf {
		k.timeouts.set(tcb.id, k.etime+timeout)
	}
	k.schedule()
	return OK
}

// semSatisfied reports whether the wait condition currently holds, without
// mutating any state. GATE behaves exactly like RESOURCE/EVENT here
// (xsem.c's smx_SemTest_F decrements count on every successful Test for
// GATE too); what makes GATE distinct is Signal, not Test.
func (k *Kernel) semSatisfied(s *Sem) bool {
	switch s.Mode {
	case SemThreshold:
		return s.Count >= s.Threshold
	default: // SemResource, SemEvent, SemGate
		return s.Count > 0
	}
}

// semConsume applies the side effect of a successful Test: RESOURCE/EVENT/
// GATE decrement the count; THRESHOLD has no per-passer cost (everyone
// currently satisfied passes, per spec §4.4's "pass the crowd" semantics).
func (k *Kernel) semConsume(s *Sem) {
	switch s.Mode {
	case SemResource, SemEvent, SemGate:
		s.Count--
	}
}

// SemSignal posts to the semaphore, potentially waking one or many waiters
// depending on mode. For GATE, Signal releases every current waiter at once
// when the wait queue is non-empty, and is otherwise a no-op — it never
// increments Count the way RESOURCE/EVENT do (xsem.c's smx_SemSignal).
func (k *Kernel) SemSignal(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ec := k.semFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}

	switch s.Mode {
	case SemResource:
		if s.Limit > 0 && s.Count >= s.Limit {
			return k.raise(ErrSemCtrOvfl, h)
		}
		s.Count++
		k.wakeOneWaiter(s)
	case SemEvent:
		s.Count++
		k.wakeOneWaiter(s)
	case SemThreshold:
		s.Count++
		if s.Count >= s.Threshold {
			k.wakeAllWaiters(s)
			s.Count = 0
		}
	case SemGate:
		if s.waitQ.head != NilID {
			k.wakeAllWaiters(s)
		}
	}
	if s.notify != nil {
		s.notify(h)
	}
	k.schedule()
	return OK
}

func (k *Kernel) wakeOneWaiter(s *Sem) {
	if !k.semSatisfied(s) {
		return
	}
	id, ok := popFront(k.tasks, &s.waitQ)
	if !ok {
		return
	}
	k.semConsume(s)
	k.wakeWaiter(id, OK, 1)
}

func (k *Kernel) wakeAllWaiters(s *Sem) {
	for {
		id, ok := popFront(k.tasks, &s.waitQ)
		if !ok {
			return
		}
		k.semConsume(s)
		k.wakeWaiter(id, OK, 1)
	}
}

// wakeWaiter completes a blocked task's wait with the given result and
// returns it to the ready queue.
func (k *Kernel) wakeWaiter(id ID, err ErrCode, rv uintptr) {
	if !k.tasks.Valid(id) {
		return
	}
	tcb := k.tasks.At(id)
	tcb.inQueue = false
	tcb.waitQ = nil
	tcb.BlockedOn = NullHandle
	tcb.Err = err
	tcb.RV = rv
	k.timeouts.clear(id)
	k.nqRQTask(tcb)
}

// SemPeekParam selects which SemPeek field to read (spec §6, xsem.c's
// SMX_PK_PAR subset this semaphore supports).
type SemPeekParam uint8

const (
	SemPeekFirst SemPeekParam = iota
	SemPeekLast
	SemPeekCount
	SemPeekMode
)

// SemPeek reads a diagnostic field without mutating any state.
func (k *Kernel) SemPeek(h Handle, par SemPeekParam) (uint32, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ec := k.semFor(h)
	if ec != OK {
		return 0, k.raise(ec, h)
	}
	switch par {
	case SemPeekFirst:
		return uint32(s.waitQ.head), OK
	case SemPeekLast:
		return uint32(s.waitQ.tail), OK
	case SemPeekCount:
		return uint32(s.Count), OK
	case SemPeekMode:
		return uint32(s.Mode), OK
	default:
		return 0, k.raise(ErrInvPar, h)
	}
}

// SemSetNotify installs fn as the callback invoked at the end of every
// SemSignal call, regardless of which branch was taken (xsem.c's
// smx_SemSet(SMX_ST_CBFUN) — the one real case among that SSR's otherwise
// all-default switch). Passing nil clears it.
func (k *Kernel) SemSetNotify(h Handle, fn func(Handle)) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ec := k.semFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	s.notify = fn
	return OK
}

func (k *Kernel) semFor(h Handle) (*Sem, ErrCode) {
	if h.Type != CBSem || !k.sems.Valid(h.ID) {
		return nil, ErrInvSCB
	}
	return k.sems.At(h.ID), OK
}
