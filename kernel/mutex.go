package kernel

// Mutex is a priority-inheriting, optionally priority-ceiling-protected
// lock (spec §4.5), grounded on the source's xmtx.c. Ownership is recursive:
// MutexGet by the current owner increments NestCount rather than blocking or
// erroring; MutexRelease only performs the real hand-off once the nest count
// decrements back to zero (xmtx.c's smx_MutexGet_F/smx_MutexRel).
type Mutex struct {
	id ID

	Name       string
	Owner      ID // NilID if free
	NestCount  int
	HasCeiling bool
	Ceiling    uint8

	waitQ taskQueue // priority-ordered waiters

	// molPrev/molNext thread this mutex into its owner's mutex-owned list
	// (MOL), so a task's boosted priority can be recomputed by walking
	// every mutex it currently holds (spec §4.5/§9).
	molPrev, molNext ID
}

// MutexCreate allocates a mutex, optionally with a priority ceiling.
func (k *Kernel) MutexCreate(name string, ceiling uint8, hasCeiling bool) (Handle, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, m, ok := k.mutexes.Get()
	if !ok {
		return NullHandle, ErrOutOfMUCBs
	}
	m.id = id
	m.Name = name
	m.Owner = NilID
	m.NestCount = 0
	m.HasCeiling = hasCeiling
	m.Ceiling = ceiling
	m.waitQ = taskQueue{head: NilID, tail: NilID}
	m.molPrev, m.molNext = NilID, NilID
	h := Handle{Type: CBMutex, ID: id}
	if ec := k.Handles.Register(h, name); ec != OK {
		k.mutexes.Put(id)
		return NullHandle, ec
	}
	return h, OK
}

// MutexDelete releases a mutex; it must be free.
func (k *Kernel) MutexDelete(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ec := k.mutexFor(h)
	if ec != OK {
		return ec
	}
	if m.Owner != NilID {
		return ErrOpNotAllowed
	}
	k.Handles.Unregister(h)
	k.mutexes.Put(m.id)
	return OK
}

// MutexGet acquires m on behalf of task, blocking (optionally with a
// timeout, TmoInf for none) if it is already owned by a different task.
// Re-acquisition by the current owner increments NestCount instead of
// blocking (xmtx.c's smx_MutexGet_F). Returns OK immediately if uncontended
// or recursively acquired, and also OK when the task blocks: the outcome of
// that wait (ErrTMO if it timed out) appears later in TaskPeek's WaitErr.
// Returns ErrWaitNotAllowed if the mutex is owned and timeout is 0.
func (k *Kernel) MutexGet(h Handle, task Handle, timeout uint64) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.mutexGet(h, task, timeout, false)
}

// MutexGetStop is MutexGet's Stop-style variant (spec §9's Stop convention):
// the task is marked to re-enter via its run(arg) reentry point, rather than
// resume saved stack state, if it actually blocks.
func (k *Kernel) MutexGetStop(h Handle, task Handle, timeout uint64) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.mutexGet(h, task, timeout, true)
}

func (k *Kernel) mutexGet(h Handle, task Handle, timeout uint64, stopStyle bool) ErrCode {
	m, ec := k.mutexFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	tcb, ec := k.taskFor(task)
	if ec != OK {
		return k.raise(ec, task)
	}

	if m.Owner == tcb.id {
		m.NestCount++
		return OK
	}

	if m.Owner == NilID {
		k.acquireMutex(m, tcb)
		k.schedule()
		return OK
	}

	if timeout == 0 {
		return k.raise(ErrWaitNotAllowed, h)
	}

	// Block: enqueue by priority, record what we're waiting on, propagate
	// priority up the ownership chain starting at the current owner.
	k.removeFromWhateverQueue(tcb)
	tcb.Flags.MutexWaiting = true
	tcb.BlockedOn = h
	tcb.State = TaskWait
	if stopStyle {
		tcb.Flags.StopStyle = true
	}
	if tcb.id == k.current {
		k.current = NilID
	}
	enqueuePriority(k.tasks, &m.waitQ, tcb)
	tcb.waitQ = &m.waitQ
	tcb.inQueue = true
	if timeout != TmoInf {
		k.timeouts.set(tcb.id, k.etime+timeout)
	}
	k.propagatePriority(m.Owner)
	k.schedule()
	return OK
}

func (k *Kernel) acquireMutex(m *Mutex, tcb *TCB) {
	m.Owner = tcb.id
	m.NestCount = 1
	tcb.molNextPush(k, m)
	if m.HasCeiling && m.Ceiling > tcb.Pri {
		tcb.Pri = m.Ceiling
		if tcb.State == TaskReady || tcb.State == TaskRun {
			k.dqFromRQ(tcb)
			k.nqRQTask(tcb)
		}
	}
}

// molNextPush links m onto tcb's mutex-owned list head.
func (t *TCB) molNextPush(k *Kernel, m *Mutex) {
	m.molNext = t.MOL
	m.molPrev = NilID
	if t.MOL != NilID {
		k.mutexes.At(t.MOL).molPrev = m.id
	}
	t.MOL = m.id
}

// molUnlink removes m from whichever task's MOL it is threaded into.
func (k *Kernel) molUnlink(owner *TCB, m *Mutex) {
	if m.molPrev != NilID {
		k.mutexes.At(m.molPrev).molNext = m.molNext
	} else if owner.MOL == m.id {
		owner.MOL = m.molNext
	}
	if m.molNext != NilID {
		k.mutexes.At(m.molNext).molPrev = m.molPrev
	}
	m.molPrev, m.molNext = NilID, NilID
}

// MutexRelease decrements m's nest count; the mutex is only actually handed
// off (restoring the owner's priority and waking the highest-priority
// waiter, if any) once the count reaches zero (spec §4.5, xmtx.c's
// smx_MutexRel).
func (k *Kernel) MutexRelease(h Handle, task Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ec := k.mutexFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	tcb, ec := k.taskFor(task)
	if ec != OK {
		return k.raise(ec, task)
	}
	if m.Owner != tcb.id {
		return k.raise(ErrMtxNonOnrRel, h)
	}
	if m.NestCount > 1 {
		m.NestCount--
		return OK
	}
	k.releaseOneMutex(m, tcb)
	k.schedule()
	return OK
}

// MutexFree forcibly releases m regardless of owner or nest depth, handing
// ownership to the next waiter exactly as a normal release would (xmtx.c's
// smx_MutexFree). Unlike MutexClear, a waiting task still receives the
// mutex; Free is for recovering a mutex whose owner is gone, not for tearing
// down the wait queue.
func (k *Kernel) MutexFree(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ec := k.mutexFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	if m.Owner == NilID {
		return k.raise(ErrMtxAlrdyFree, h)
	}
	owner := k.tasks.At(m.Owner)
	m.NestCount = 1
	k.releaseOneMutex(m, owner)
	k.schedule()
	return OK
}

// MutexClear forcibly releases m and wakes every waiter with
// ErrOpNotAllowed, granting ownership to none of them (xmtx.c's
// smx_MutexClear) — used to tear a mutex down for deletion/recovery rather
// than to hand it off.
func (k *Kernel) MutexClear(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ec := k.mutexFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	if m.Owner != NilID {
		owner := k.tasks.At(m.Owner)
		k.molUnlink(owner, m)
		owner.Pri = k.boostedPriority(owner)
		if owner.State == TaskReady || owner.State == TaskRun {
			k.dqFromRQ(owner)
			k.nqRQTask(owner)
		}
		m.Owner = NilID
		m.NestCount = 0
	}
	for {
		id, ok := popFront(k.tasks, &m.waitQ)
		if !ok {
			break
		}
		k.tasks.At(id).Flags.MutexWaiting = false
		k.wakeWaiter(id, ErrOpNotAllowed, 0)
	}
	k.schedule()
	return OK
}

func (k *Kernel) releaseOneMutex(m *Mutex, owner *TCB) {
	k.molUnlink(owner, m)
	owner.Pri = k.boostedPriority(owner)
	if owner.State == TaskReady || owner.State == TaskRun {
		k.dqFromRQ(owner)
		k.nqRQTask(owner)
	}

	next, ok := popFront(k.tasks, &m.waitQ)
	if !ok {
		m.Owner = NilID
		m.NestCount = 0
		return
	}
	winner := k.tasks.At(next)
	winner.inQueue = false
	winner.waitQ = nil
	winner.Flags.MutexWaiting = false
	winner.BlockedOn = NullHandle
	winner.Err = OK
	winner.RV = 1
	k.timeouts.clear(winner.id)
	k.acquireMutex(m, winner)
	k.nqRQTask(winner)
}

// releaseMOL is called on TaskDelete: every mutex the task still owns is
// force-released (a deleted owner can't release them itself).
func (k *Kernel) releaseMOL(tcb *TCB) {
	for tcb.MOL != NilID {
		m := k.mutexes.At(tcb.MOL)
		k.releaseOneMutex(m, tcb)
	}
}

// boostedPriority computes the priority a task should run at: its own
// normal priority, raised by the ceiling of any held ceiling-protocol
// mutex and by the priority of the highest-priority task waiting on any
// mutex it holds (spec §4.5's priority-inheritance rule).
func (k *Kernel) boostedPriority(tcb *TCB) uint8 {
	best := tcb.PriNorm
	for id := tcb.MOL; id != NilID; {
		m := k.mutexes.At(id)
		if m.HasCeiling && m.Ceiling > best {
			best = m.Ceiling
		}
		if m.waitQ.head != NilID {
			if p := k.tasks.At(m.waitQ.head).EffectivePriority(); p > best {
				best = p
			}
		}
		id = m.molNext
	}
	return best
}

// propagatePriority walks the ownership chain starting at task id start,
// recomputing and applying boostedPriority at each link, stopping as soon
// as a task's priority doesn't change or the chain runs off a RUN/READY
// task. Implemented iteratively (spec §9: the source's recursive
// mtx_rel/mtx_get chain walk becomes a bounded loop here) so an unusually
// deep chain of nested mutex waits can never overflow the Go call stack.
func (k *Kernel) propagatePriority(start ID) {
	cur := start
	for steps := 0; cur != NilID && steps < k.tasks.Cap(); steps++ {
		tcb := k.tasks.At(cur)
		newPri := k.boostedPriority(tcb)
		if newPri == tcb.Pri {
			return
		}
		tcb.Pri = newPri

		switch {
		case tcb.State == TaskReady || tcb.State == TaskRun:
			k.dqFromRQ(tcb)
			k.nqRQTask(tcb)
			return
		case tcb.State == TaskWait && tcb.Flags.MutexWaiting && tcb.waitQ != nil:
			q := tcb.waitQ
			dequeue(k.tasks, q, tcb)
			enqueuePriority(k.tasks, q, tcb)
			cur = k.mutexOwnerFor(tcb.BlockedOn)
		default:
			return
		}
	}
}

// MutexPeekParam selects which MutexPeek field to read (spec §6, xmtx.c's
// SMX_PK_PAR subset this mutex supports).
type MutexPeekParam uint8

const (
	MutexPeekFirst MutexPeekParam = iota
	MutexPeekLast
	MutexPeekCeiling
	MutexPeekOwner
	MutexPeekNestCount
)

// MutexPeek reads a diagnostic field without mutating any state.
func (k *Kernel) MutexPeek(h Handle, par MutexPeekParam) (uint32, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ec := k.mutexFor(h)
	if ec != OK {
		return 0, k.raise(ec, h)
	}
	switch par {
	case MutexPeekFirst:
		return uint32(m.waitQ.head), OK
	case MutexPeekLast:
		return uint32(m.waitQ.tail), OK
	case MutexPeekCeiling:
		return uint32(m.Ceiling), OK
	case MutexPeekOwner:
		return uint32(m.Owner), OK
	case MutexPeekNestCount:
		return uint32(m.NestCount), OK
	default:
		return 0, k.raise(ErrInvPar, h)
	}
}

// MutexSet exists to complete the service surface (spec §6); the source's
// smx_MutexSet has no real settable parameter either — every case falls
// through to its default error (xmtx.c).
func (k *Kernel) MutexSet(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ec := k.mutexFor(h); ec != OK {
		return k.raise(ec, h)
	}
	return k.raise(ErrInvPar, h)
}

func (k *Kernel) mutexOwnerFor(h Handle) ID {
	if h.Type != CBMutex || !k.mutexes.Valid(h.ID) {
		return NilID
	}
	return k.mutexes.At(h.ID).Owner
}

func (k *Kernel) mutexFor(h Handle) (*Mutex, ErrCode) {
	if h.Type != CBMutex || !k.mutexes.Valid(h.ID) {
		return nil, ErrInvMUCB
	}
	return k.mutexes.At(h.ID), OK
}
