package kernel

// EventQueue is a differential-countdown *wait* queue (spec §4.9), grounded
// on xeq.c. It carries no payload or mailbox storage: a task blocks with a
// requested signal count, and EventQueueSignal decrements only the head
// waiter's remaining count by one. When a waiter's remaining count reaches
// zero it (and any immediately-following waiters whose remaining count has
// also already reached zero) is woken. Waiters queue by requested count via
// differential splicing, exactly like TimerQueue's tick-delta chain, except
// the thing being counted down is explicit Signal calls rather than elapsed
// ticks.
type EventQueue struct {
	id ID

	Name string

	waitQ taskQueue // differential-count-ordered waiters (TCB.EQCount)
}

// EventQueueCreate allocates an event queue.
func (k *Kernel) EventQueueCreate(name string) (Handle, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, q, ok := k.evqs.Get()
	if !ok {
		return NullHandle, ErrOutOfEQCBs
	}
	q.id = id
	q.Name = name
	q.waitQ = taskQueue{head: NilID, tail: NilID}
	h := Handle{Type: CBEventQueue, ID: id}
	if ec := k.Handles.Register(h, name); ec != OK {
		k.evqs.Put(id)
		return NullHandle, ec
	}
	return h, OK
}

// EventQueueDelete resumes every waiting task with ErrOpNotAllowed, then
// releases the control block (xeq.c's smx_EventQueueDelete).
func (k *Kernel) EventQueueDelete(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	q, ec := k.eventQueueFor(h)
	if ec != OK {
		return ec
	}
	k.eventQueueClearLocked(q)
	k.Handles.Unregister(h)
	k.evqs.Put(q.id)
	k.schedule()
	return OK
}

// EventQueueClear resumes every waiting task with ErrOpNotAllowed without
// releasing the control block (xeq.c's smx_EventQueueClear_F).
func (k *Kernel) EventQueueClear(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	q, ec := k.eventQueueFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	k.eventQueueClearLocked(q)
	k.schedule()
	return OK
}

func (k *Kernel) eventQueueClearLocked(q *EventQueue) {
	for {
		id, ok := popFront(k.tasks, &q.waitQ)
		if !ok {
			return
		}
		tcb := k.tasks.At(id)
		tcb.EQCount = 0
		tcb.Flags.InEventQueue = false
		k.wakeWaiter(id, ErrOpNotAllowed, 0)
	}
}

// EventQueueCount blocks task (up to timeout ticks) until eq has been
// signaled count times since this call (xeq.c's smx_EventQueueCount_F).
// count == 0 is trivially satisfied and returns immediately without
// blocking. Rejects timeout == 0 with ErrWaitNotAllowed, matching every
// other blocking SSR in this package.
func (k *Kernel) EventQueueCount(h Handle, task Handle, count uint32, timeout uint64) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	q, ec := k.eventQueueFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	tcb, ec := k.taskFor(task)
	if ec != OK {
		return k.raise(ec, task)
	}
	if count == 0 {
		return OK
	}
	if timeout == 0 {
		return k.raise(ErrWaitNotAllowed, h)
	}
	k.eventQueueBlock(q, tcb, count, timeout)
	k.schedule()
	return OK
}

// EventQueueCountStop is EventQueueCount's Stop-style variant (spec §9): the
// task is marked to re-enter via its run(arg) reentry point, rather than
// resume saved stack state, once woken.
func (k *Kernel) EventQueueCountStop(h Handle, task Handle, count uint32, timeout uint64) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	q, ec := k.eventQueueFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	tcb, ec := k.taskFor(task)
	if ec != OK {
		return k.raise(ec, task)
	}
	if count == 0 {
		return OK
	}
	if timeout == 0 {
		return k.raise(ErrWaitNotAllowed, h)
	}
	k.eventQueueBlock(q, tcb, count, timeout)
	tcb.Flags.StopStyle = true
	k.schedule()
	return OK
}

// eventQueueBlock performs the differential insertion: walk the wait list
// subtracting each queued waiter's own remaining count from ours, splicing
// in ahead of the first entry whose remaining count would exceed what's
// left of ours (xeq.c's smx_EventQueueCount_F).
func (k *Kernel) eventQueueBlock(q *EventQueue, tcb *TCB, count uint32, timeout uint64) {
	k.removeFromWhateverQueue(tcb)
	tcb.BlockedOn = Handle{Type: CBEventQueue, ID: q.id}
	tcb.State = TaskWait
	tcb.Flags.InEventQueue = true
	if tcb.id == k.current {
		k.current = NilID
	}

	remaining := count
	cur := q.waitQ.head
	for cur != NilID {
		c := k.tasks.At(cur)
		if remaining < c.EQCount {
			c.EQCount -= remaining
			break
		}
		remaining -= c.EQCount
		cur = c.qNext
	}
	if cur == NilID {
		enqueueTail(k.tasks, &q.waitQ, tcb)
	} else {
		insertBefore(k.tasks, &q.waitQ, cur, tcb)
	}
	tcb.waitQ = &q.waitQ
	tcb.inQueue = true
	tcb.EQCount = remaining
	if timeout != TmoInf {
		k.timeouts.set(tcb.id, k.etime+timeout)
	}
}

// EventQueueSignal decrements the head waiter's remaining count by one; if
// it reaches zero, the head (and every immediately-following waiter whose
// remaining count is also already zero) is resumed (xeq.c's
// smx_EventQueueSignal/smx_EventQueueSignal_F). A no-op on an empty queue.
func (k *Kernel) EventQueueSignal(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	q, ec := k.eventQueueFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	if q.waitQ.head == NilID {
		return OK
	}
	head := k.tasks.At(q.waitQ.head)
	head.EQCount--
	if head.EQCount == 0 {
		for {
			id, ok := popFront(k.tasks, &q.waitQ)
			if !ok {
				break
			}
			tcb := k.tasks.At(id)
			tcb.EQCount = 0
			tcb.Flags.InEventQueue = false
			k.wakeWaiter(id, OK, 1)
			if q.waitQ.head == NilID || k.tasks.At(q.waitQ.head).EQCount != 0 {
				break
			}
		}
	}
	k.schedule()
	return OK
}

// EventQueuePeekParam selects which EventQueuePeek field to read (spec §6,
// xeq.c's SMX_PK_PAR subset this queue supports).
type EventQueuePeekParam uint8

const (
	EQPeekFirst EventQueuePeekParam = iota
	EQPeekLast
	EQPeekName
)

// EventQueuePeek reads a diagnostic field without mutating any state.
func (k *Kernel) EventQueuePeek(h Handle, par EventQueuePeekParam) (uint32, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	q, ec := k.eventQueueFor(h)
	if ec != OK {
		return 0, k.raise(ec, h)
	}
	switch par {
	case EQPeekFirst:
		return uint32(q.waitQ.head), OK
	case EQPeekLast:
		return uint32(q.waitQ.tail), OK
	case EQPeekName:
		return uint32(len(q.Name)), OK
	default:
		return 0, k.raise(ErrInvPar, h)
	}
}

// EventQueueSet exists to complete the service surface (spec §6); the
// source's smx_EventQueueSet has no real settable parameter either — every
// case falls through to its default error (xeq.c).
func (k *Kernel) EventQueueSet(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ec := k.eventQueueFor(h); ec != OK {
		return k.raise(ec, h)
	}
	return k.raise(ErrInvPar, h)
}

func (k *Kernel) eventQueueFor(h Handle) (*EventQueue, ErrCode) {
	if h.Type != CBEventQueue || !k.evqs.Valid(h.ID) {
		return nil, ErrInvEQCB
	}
	return k.evqs.At(h.ID), OK
}
