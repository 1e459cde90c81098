package kernel

import "github.com/vectorkernel/rtcore/internal/ring"

// Pipe is a fixed-width, fixed-depth cell buffer with rendezvous semantics
// (spec §4.7): a put blocks while the buffer is full, a get blocks while it
// is empty, grounded on xpipe.c. A depth-one pipe degenerates to a pure
// hand-off rendezvous, which is why no separate "rendezvous pipe" type
// exists — it's just Pipe with Config capacity 1.
//
// xpipe.c exposes two API tiers that differ only in transfer width: a raw
// Get8/Put8 byte fast path for ISR use, and a generic GetPkt/PutPkt path
// sized by pipe->width. This kernel's cells are already a fixed native
// width (one uintptr), so that split collapses: PipeGet8/PipePut8 and
// PipeGetPkt/PipePutPkt move exactly one cell each, the same way.
type Pipe struct {
	id ID

	Name string
	buf  *ring.Ring[uintptr]

	readers taskQueue // blocked on a get, waiting for data
	writers taskQueue // blocked on a put, waiting for room

	notify func(Handle) // PipeSetNotify; run after a put completes, xpipe.c's cbfun
}

// PipeCreate allocates a pipe with room for capacity cells.
func (k *Kernel) PipeCreate(name string, capacity int) (Handle, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if capacity <= 0 {
		return NullHandle, ErrInvPar
	}
	id, p, ok := k.pipes.Get()
	if !ok {
		return NullHandle, ErrOutOfPCBs
	}
	p.id = id
	p.Name = name
	p.buf = ring.New[uintptr](capacity)
	p.readers = taskQueue{head: NilID, tail: NilID}
	p.writers = taskQueue{head: NilID, tail: NilID}
	p.notify = nil
	h := Handle{Type: CBPipe, ID: id}
	if ec := k.Handles.Register(h, name); ec != OK {
		k.pipes.Put(id)
		return NullHandle, ec
	}
	return h, OK
}

// PipeDelete releases a pipe's control block, waking any blocked senders
// and receivers with ErrOpNotAllowed.
func (k *Kernel) PipeDelete(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ec := k.pipeFor(h)
	if ec != OK {
		return ec
	}
	k.pipeWakeAll(p, ErrOpNotAllowed)
	k.Handles.Unregister(h)
	k.pipes.Put(p.id)
	k.schedule()
	return OK
}

// PipeClear resumes every waiting task (both blocked puts and blocked
// gets) with false/ErrOpNotAllowed and empties the buffer, without
// releasing the control block (xpipe.c's smx_PipeClear_F).
func (k *Kernel) PipeClear(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ec := k.pipeFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	k.pipeWakeAll(p, ErrOpNotAllowed)
	p.buf.Clear()
	k.schedule()
	return OK
}

func (k *Kernel) pipeWakeAll(p *Pipe, err ErrCode) {
	for {
		id, ok := popFront(k.tasks, &p.readers)
		if !ok {
			break
		}
		k.wakeWaiter(id, err, 0)
	}
	for {
		id, ok := popFront(k.tasks, &p.writers)
		if !ok {
			break
		}
		k.wakeWaiter(id, err, 0)
	}
}

// PipePutPkt writes one cell to the back of the pipe without waiting.
// Returns ErrWaitNotAllowed if the pipe is full (xpipe.c's smx_PipePutPkt,
// ISR-safe: never blocks).
func (k *Kernel) PipePutPkt(h Handle, cell uintptr) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ec := k.pipeFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	if !p.buf.PushReject(cell) {
		return k.raise(ErrWaitNotAllowed, h)
	}
	k.wakeOneReader(p)
	k.runNotify(p)
	k.schedule()
	return OK
}

// PipeGetPkt reads one cell from the front of the pipe without waiting.
// Returns ErrWaitNotAllowed if the pipe is empty (xpipe.c's smx_PipeGetPkt,
// ISR-safe: never blocks).
func (k *Kernel) PipeGetPkt(h Handle) (cell uintptr, err ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ec := k.pipeFor(h)
	if ec != OK {
		return 0, k.raise(ec, h)
	}
	v, ok := p.buf.Pop()
	if !ok {
		return 0, k.raise(ErrWaitNotAllowed, h)
	}
	k.wakeOneWriter(p)
	return v, OK
}

// PipePut8 is PipePutPkt's name under xpipe.c's byte-pipe API; this
// kernel's cells are already a fixed native width, so the two are the same
// operation (see the Pipe doc comment).
func (k *Kernel) PipePut8(h Handle, cell uintptr) ErrCode { return k.PipePutPkt(h, cell) }

// PipeGet8 is PipeGetPkt's name under xpipe.c's byte-pipe API; see PipePut8.
func (k *Kernel) PipeGet8(h Handle) (uintptr, ErrCode) { return k.PipeGetPkt(h) }

// PipePut8M writes up to len(cells) cells to the back of the pipe, without
// waiting, stopping early if the pipe fills. Returns the number actually
// written (xpipe.c's smx_PipePut8M).
func (k *Kernel) PipePut8M(h Handle, cells []uintptr) (n int, err ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ec := k.pipeFor(h)
	if ec != OK {
		return 0, k.raise(ec, h)
	}
	for n < len(cells) && p.buf.PushReject(cells[n]) {
		n++
	}
	if n > 0 {
		k.wakeOneReader(p)
		k.runNotify(p)
		k.schedule()
	}
	return n, OK
}

// PipeGet8M reads up to len(dst) cells from the front of the pipe, without
// waiting, stopping early if the pipe empties. Returns the number actually
// read (xpipe.c's smx_PipeGet8M).
func (k *Kernel) PipeGet8M(h Handle, dst []uintptr) (n int, err ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ec := k.pipeFor(h)
	if ec != OK {
		return 0, k.raise(ec, h)
	}
	for n < len(dst) {
		v, ok := p.buf.Pop()
		if !ok {
			break
		}
		dst[n] = v
		n++
	}
	if n > 0 {
		k.wakeOneWriter(p)
	}
	return n, OK
}

// PipePutPktWait writes one cell, blocking (up to timeout ticks) while the
// pipe is full. front puts ahead of the oldest queued cell (rewinding the
// read pointer) instead of behind the newest (xpipe.c's smx_PipePutPktWait,
// mode == front).
func (k *Kernel) PipePutPktWait(h Handle, task Handle, cell uintptr, timeout uint64, front bool) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pipePut(h, task, cell, timeout, front, false)
}

// PipePutPktWaitStop is PipePutPktWait's Stop-style variant (spec §9's Stop
// convention): the task re-enters via its run(arg) reentry point, rather
// than resuming saved stack state, if it actually blocks.
func (k *Kernel) PipePutPktWaitStop(h Handle, task Handle, cell uintptr, timeout uint64, front bool) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pipePut(h, task, cell, timeout, front, true)
}

// PipeSend is PipePutPktWait with front == false, kept as the common-case
// shorthand used throughout this package's tests and callers.
func (k *Kernel) PipeSend(h Handle, task Handle, cell uintptr, timeout uint64) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pipePut(h, task, cell, timeout, false, false)
}

func (k *Kernel) pipePut(h Handle, task Handle, cell uintptr, timeout uint64, front, stopStyle bool) ErrCode {
	p, ec := k.pipeFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	tcb, ec := k.taskFor(task)
	if ec != OK {
		return k.raise(ec, task)
	}

	if rid, ok := popFront(k.tasks, &p.readers); ok {
		k.wakeWaiter(rid, OK, cell)
		k.runNotify(p)
		k.schedule()
		return OK
	}
	if p.buf.Cap() > p.buf.Len() {
		if front {
			p.buf.PushFrontReject(cell)
		} else {
			p.buf.PushReject(cell)
		}
		k.runNotify(p)
		k.schedule()
		return OK
	}
	if timeout == 0 {
		return k.raise(ErrWaitNotAllowed, h)
	}
	k.removeFromWhateverQueue(tcb)
	tcb.BlockedOn = h
	tcb.State = TaskWait
	tcb.Flags.PipePut = true
	tcb.PipeFront = front
	if stopStyle {
		tcb.Flags.StopStyle = true
	}
	if tcb.id == k.current {
		k.current = NilID
	}
	enqueuePriority(k.tasks, &p.writers, tcb)
	tcb.waitQ = &p.writers
	tcb.inQueue = true
	tcb.RV = cell // stash the cell to be pushed once room frees up
	if timeout != TmoInf {
		k.timeouts.set(tcb.id, k.etime+timeout)
	}
	k.schedule()
	return OK
}

// PipeGetPktWait reads one cell, blocking (up to timeout ticks) while the
// pipe is empty.
func (k *Kernel) PipeGetPktWait(h Handle, task Handle, timeout uint64) (cell uintptr, err ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pipeGet(h, task, timeout, false)
}

// PipeGetPktWaitStop is PipeGetPktWait's Stop-style variant (spec §9's Stop
// convention).
func (k *Kernel) PipeGetPktWaitStop(h Handle, task Handle, timeout uint64) (cell uintptr, err ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pipeGet(h, task, timeout, true)
}

// PipeReceive is PipeGetPktWait, kept as the common-case shorthand used
// throughout this package's tests and callers.
func (k *Kernel) PipeReceive(h Handle, task Handle, timeout uint64) (cell uintptr, err ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pipeGet(h, task, timeout, false)
}

func (k *Kernel) pipeGet(h Handle, task Handle, timeout uint64, stopStyle bool) (cell uintptr, err ErrCode) {
	p, ec := k.pipeFor(h)
	if ec != OK {
		return 0, k.raise(ec, h)
	}
	tcb, ec := k.taskFor(task)
	if ec != OK {
		return 0, k.raise(ec, task)
	}

	if wid, ok := popFront(k.tasks, &p.writers); ok {
		wtcb := k.tasks.At(wid)
		cell = wtcb.RV
		if wtcb.PipeFront {
			// Front put rendezvous against a waiting get: the pipe itself
			// is untouched, same as xpipe.c's smx_PipeGetPktWait_F taking
			// the waiting task's psrc directly.
		} else if v, ok := p.buf.Pop(); ok {
			// Back put rendezvous: give the caller the oldest buffered
			// cell, then push wtask's cell into the freed slot.
			p.buf.PushReject(wtcb.RV)
			cell = v
		}
		wtcb.Flags.PipePut = false
		k.wakeWaiter(wid, OK, 0)
		k.runNotify(p)
		k.schedule()
		return cell, OK
	}
	if v, ok := p.buf.Pop(); ok {
		k.wakeOneWriter(p)
		return v, OK
	}
	if timeout == 0 {
		return 0, k.raise(ErrWaitNotAllowed, h)
	}
	k.removeFromWhateverQueue(tcb)
	tcb.BlockedOn = h
	tcb.State = TaskWait
	tcb.Flags.PipePut = false
	if stopStyle {
		tcb.Flags.StopStyle = true
	}
	if tcb.id == k.current {
		k.current = NilID
	}
	enqueuePriority(k.tasks, &p.readers, tcb)
	tcb.waitQ = &p.readers
	tcb.inQueue = true
	if timeout != TmoInf {
		k.timeouts.set(tcb.id, k.etime+timeout)
	}
	k.schedule()
	return 0, OK
}

// PipeResume tries to complete the operation of the first task waiting in
// pipe's queue (put or get, whichever it is blocked on) without requiring
// new trigger data — used when an I/O driver completes a transfer out of
// band and wants to recheck the head waiter (xpipe.c's smx_PipeResume).
// Returns true if the head waiter's operation completed and it was woken;
// false (leaving it queued) if the pipe still can't satisfy it.
func (k *Kernel) PipeResume(h Handle) (bool, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ec := k.pipeFor(h)
	if ec != OK {
		return false, k.raise(ec, h)
	}

	if p.writers.head != NilID {
		wid := p.writers.head
		wtcb := k.tasks.At(wid)
		if p.buf.Cap() <= p.buf.Len() {
			return false, OK
		}
		popFront(k.tasks, &p.writers)
		if wtcb.PipeFront {
			p.buf.PushFrontReject(wtcb.RV)
		} else {
			p.buf.PushReject(wtcb.RV)
		}
		wtcb.Flags.PipePut = false
		k.wakeWaiter(wid, OK, 0)
		k.runNotify(p)
		k.schedule()
		return true, OK
	}
	if p.readers.head != NilID {
		v, ok := p.buf.Pop()
		if !ok {
			return false, OK
		}
		rid, _ := popFront(k.tasks, &p.readers)
		k.wakeWaiter(rid, OK, v)
		k.schedule()
		return true, OK
	}
	return false, OK
}

// PipePeekParam selects which PipePeek field to read (spec §6, xpipe.c's
// SMX_PK_PAR subset this pipe supports).
type PipePeekParam uint8

const (
	PipePeekFull PipePeekParam = iota
	PipePeekLength
	PipePeekNumPkts
	PipePeekNumReaders
	PipePeekNumWriters
)

// PipePeek reads a diagnostic field without mutating any state.
func (k *Kernel) PipePeek(h Handle, par PipePeekParam) (uint32, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ec := k.pipeFor(h)
	if ec != OK {
		return 0, k.raise(ec, h)
	}
	switch par {
	case PipePeekFull:
		if p.buf.Len() == p.buf.Cap() {
			return 1, OK
		}
		return 0, OK
	case PipePeekLength:
		return uint32(p.buf.Cap()), OK
	case PipePeekNumPkts:
		return uint32(p.buf.Len()), OK
	case PipePeekNumReaders:
		var n uint32
		for id := p.readers.head; id != NilID; id = k.tasks.At(id).qNext {
			n++
		}
		return n, OK
	case PipePeekNumWriters:
		var n uint32
		for id := p.writers.head; id != NilID; id = k.tasks.At(id).qNext {
			n++
		}
		return n, OK
	default:
		return 0, k.raise(ErrInvPar, h)
	}
}

// PipeSetNotify installs fn as the callback invoked at the end of every
// successful put (xpipe.c's smx_PipeSet(SMX_ST_CBFUN)). Passing nil clears
// it.
func (k *Kernel) PipeSetNotify(h Handle, fn func(Handle)) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ec := k.pipeFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	p.notify = fn
	return OK
}

func (k *Kernel) runNotify(p *Pipe) {
	if p.notify != nil {
		p.notify(p.handle())
	}
}

func (k *Kernel) wakeOneReader(p *Pipe) {
	id, ok := popFront(k.tasks, &p.readers)
	if !ok || p.buf.Empty() {
		return
	}
	v, _ := p.buf.Pop()
	k.wakeWaiter(id, OK, v)
}

func (k *Kernel) wakeOneWriter(p *Pipe) {
	id, ok := popFront(k.tasks, &p.writers)
	if !ok {
		return
	}
	tcb := k.tasks.At(id)
	cell := tcb.RV
	if tcb.PipeFront {
		p.buf.PushFrontReject(cell)
	} else {
		p.buf.PushReject(cell)
	}
	tcb.Flags.PipePut = false
	k.wakeWaiter(id, OK, 0)
}

func (p *Pipe) handle() Handle { return Handle{Type: CBPipe, ID: p.id} }

func (k *Kernel) pipeFor(h Handle) (*Pipe, ErrCode) {
	if h.Type != CBPipe || !k.pipes.Valid(h.ID) {
		return nil, ErrInvPCB
	}
	return k.pipes.At(h.ID), OK
}
