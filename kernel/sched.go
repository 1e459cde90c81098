package kernel

// taskQueue is a doubly-linked list of task IDs threaded through each TCB's
// qPrev/qNext fields (spec §3/§9's "arena + index" redesign: this replaces
// the source's intrusive `fl`/`bl` pointer list with pool indices). One
// taskQueue backs each ready-queue priority level and each synchronization
// object's wait list.
type taskQueue struct {
	head, tail ID
}

func (q *taskQueue) empty() bool { return q.head == NilID }

// enqueueTail appends tcb to q (FIFO order).
func enqueueTail(p *Pool[TCB], q *taskQueue, tcb *TCB) {
	tcb.qPrev, tcb.qNext = NilID, NilID
	if q.tail == NilID {
		q.head, q.tail = tcb.id, tcb.id
		return
	}
	p.At(q.tail).qNext = tcb.id
	tcb.qPrev = q.tail
	q.tail = tcb.id
}

// enqueuePriority inserts tcb ahead of the first lower-priority entry,
// preserving FIFO order among equal priorities — the wait-queue discipline
// used by mutexes, semaphores and exchanges (spec §4.4-§4.6).
func enqueuePriority(p *Pool[TCB], q *taskQueue, tcb *TCB) {
	tcb.qPrev, tcb.qNext = NilID, NilID
	if q.head == NilID {
		q.head, q.tail = tcb.id, tcb.id
		return
	}
	pri := tcb.EffectivePriority()
	for cur := q.head; cur != NilID; cur = p.At(cur).qNext {
		c := p.At(cur)
		if c.EffectivePriority() < pri {
			tcb.qNext = cur
			tcb.qPrev = c.qPrev
			if c.qPrev != NilID {
				p.At(c.qPrev).qNext = tcb.id
			} else {
				q.head = tcb.id
			}
			c.qPrev = tcb.id
			return
		}
	}
	enqueueTail(p, q, tcb)
}

// insertBefore splices tcb into q immediately ahead of cur, an existing
// member of q. Shared primitive behind priority-ordered insertion
// (enqueuePriority) and differential-count-ordered insertion (EventQueue,
// eventqueue.go).
func insertBefore(p *Pool[TCB], q *taskQueue, cur ID, tcb *TCB) {
	c := p.At(cur)
	tcb.qNext = cur
	tcb.qPrev = c.qPrev
	if c.qPrev != NilID {
		p.At(c.qPrev).qNext = tcb.id
	} else {
		q.head = tcb.id
	}
	c.qPrev = tcb.id
}

// dequeue unlinks tcb from q, wherever in the list it is.
func dequeue(p *Pool[TCB], q *taskQueue, tcb *TCB) {
	if tcb.qPrev != NilID {
		p.At(tcb.qPrev).qNext = tcb.qNext
	} else if q.head == tcb.id {
		q.head = tcb.qNext
	}
	if tcb.qNext != NilID {
		p.At(tcb.qNext).qPrev = tcb.qPrev
	} else if q.tail == tcb.id {
		q.tail = tcb.qPrev
	}
	tcb.qPrev, tcb.qNext = NilID, NilID
}

// popFront removes and returns the head of q.
func popFront(p *Pool[TCB], q *taskQueue) (ID, bool) {
	if q.head == NilID {
		return NilID, false
	}
	id := q.head
	dequeue(p, q, p.At(id))
	return id, true
}

// dqGeneric removes tcb from whichever queue it last recorded itself linked
// into, without the caller needing to know which subsystem owns that queue.
func dqGeneric(p *Pool[TCB], tcb *TCB) {
	if tcb.waitQ == nil {
		return
	}
	dequeue(p, tcb.waitQ, tcb)
	tcb.waitQ = nil
}

// nqRQTask links tcb into its effective-priority ready-queue level at the
// tail and marks it READY (spec §4.1, grounded on the source's
// smx_NQRQTask). If tcb is already the running task this still runs the
// book-keeping harmlessly; callers that want to re-run dispatch call
// schedule() afterward.
func (k *Kernel) nqRQTask(tcb *TCB) {
	pri := int(tcb.EffectivePriority())
	q := &k.rq[pri]
	enqueueTail(k.tasks, q, tcb)
	tcb.waitQ = q
	tcb.rqLevel = pri
	tcb.inQueue = true
	tcb.State = TaskReady
	if pri > k.rqTop {
		k.rqTop = pri
	}
}

// dqFromRQ removes tcb from the ready-queue level it was last enqueued at.
func (k *Kernel) dqFromRQ(tcb *TCB) {
	q := &k.rq[tcb.rqLevel]
	dequeue(k.tasks, q, tcb)
	tcb.waitQ = nil
	tcb.inQueue = false
	k.recalcRQTop()
}

// recalcRQTop rescans every priority level for the new highest non-empty
// one, or 0 (spec §4.1: "the cached pointer always points at the highest
// non-empty level, or the lowest level when the ready queue is empty").
func (k *Kernel) recalcRQTop() {
	for lvl := len(k.rq) - 1; lvl >= 0; lvl-- {
		if !k.rq[lvl].empty() {
			k.rqTop = lvl
			return
		}
	}
	k.rqTop = 0
}

// schedule is the scheduler-point entry called at the end of every SSR
// that could change who ought to be running (spec §5). It is a no-op while
// preemption is deferred by TaskLock.
func (k *Kernel) schedule() {
	if k.lockCtr > 0 {
		return
	}
	k.dispatch()
}

// dispatch picks the new RUN task — the head of the highest non-empty
// ready-queue level — and updates TCB.State accordingly. A task being RUN
// is still linked into its ready-queue level (matching the source, which
// keeps smx_ct queued at its own priority level while running); dispatch
// only ever changes state flags and the current pointer, never queue
// position, so no separate "runnable but not yet run" bookkeeping exists.
func (k *Kernel) dispatch() {
	k.recalcRQTop()
	head := k.rq[k.rqTop].head
	if head == k.current {
		if head != NilID {
			// a requeue (nqRQTask) of the current task marks it READY
			k.tasks.At(head).State = TaskRun
		}
		return
	}
	if k.current != NilID {
		if old := k.tasks.At(k.current); old.State == TaskRun {
			old.State = TaskReady
		}
	}
	k.current = head
	if head != NilID {
		k.tasks.At(head).State = TaskRun
	}
}

// TaskLock defers preemption: the ready queue keeps being updated by
// Start/Resume/Signal/etc, but dispatch() is skipped until the matching
// TaskUnlock (or a TaskLockClear) brings the nesting counter back to zero
// (spec §4.1).
func (k *Kernel) TaskLock() ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.lockCtr++
	return OK
}

// TaskUnlock decrements the lock nesting counter and, if it reached zero,
// runs the deferred scheduler pass.
func (k *Kernel) TaskUnlock() ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.lockCtr > 0 {
		k.lockCtr--
	}
	if k.lockCtr == 0 {
		k.dispatch()
	}
	return OK
}

// TaskLockClear drops the nesting counter to zero unconditionally and
// dispatches — used by error recovery paths that must guarantee
// preemption resumes regardless of how deeply nested the lock was.
func (k *Kernel) TaskLockClear() ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.lockCtr = 0
	k.dispatch()
	return OK
}

// LockCount reports the current TaskLock nesting depth (diagnostic).
func (k *Kernel) LockCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lockCtr
}
