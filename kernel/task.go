package kernel

// TaskState is a task's position in the state machine of spec §4.1.
//
//	NULL --create--> WAIT --start--> READY --dispatch--> RUN
//	 ^                 ^                |                  |
//	 |                 +--stop/timeout--+--preempt---------+
//	 +---------------------------------delete (-> gone)-----+
type TaskState uint8

const (
	TaskNull TaskState = iota
	TaskWait
	TaskReady
	TaskRun
	TaskDel
)

func (s TaskState) String() string {
	switch s {
	case TaskNull:
		return "NULL"
	case TaskWait:
		return "WAIT"
	case TaskReady:
		return "READY"
	case TaskRun:
		return "RUN"
	case TaskDel:
		return "DEL"
	default:
		return "?"
	}
}

// TaskFlags is the Go-idiomatic rendering of the source's packed flags
// bitfield (in_prq, mtx_wait, in_evq, ...): spec §9 asks only that the bit
// packing of the heap's blf field be encapsulated behind an accessor type;
// for TCB.flags, which is never serialized or packed with another field,
// a plain struct of bools is the more idiomatic and equally faithful
// encoding, and is what the invariant checks in §8 operate on directly.
type TaskFlags struct {
	InPriQueue     bool // task is linked into a priority-ordered wait queue
	MutexWaiting   bool // task is blocked on a mutex (vs. sem/exch/pipe/...)
	InEventQueue   bool // task is linked into an event-queue wait list
	UserMode       bool
	PreallocStack  bool
	StackCheckOn   bool
	StopStyle      bool // task restarts at Fn(arg) rather than resuming a saved stack
	BoundPriPass   bool // PASS-exchange owner priority-promotion participant
	PipePut        bool // task is blocked on a pipe put (vs. a get), xpipe.c's flags.pipe_put
}

// TCB is a task control block (spec §3).
type TCB struct {
	id ID

	Name string
	// Fn is the task's entry point. The kernel never calls it: actual
	// context switching and code execution is CPU-exception assembly,
	// out of scope per spec §1. Fn/Arg are retained for diagnostics and
	// so a host's own dispatcher (the external collaborator) knows what
	// to run when this TCB becomes RUN.
	Fn  func(arg uintptr)
	Arg uintptr

	Pri     uint8
	PriNorm uint8
	// PriTmo, if non-nil, overrides Pri for ready-queue placement (see
	// EffectivePriority, spec §4.3). fireTimeout clears it and resets Pri
	// to PriNorm when a timeout fires, before requeueing the task.
	PriTmo *uint8

	State TaskState
	Flags TaskFlags

	StackSize      uint32
	StackHighWater uint32
	SharedStack    bool

	Parent ID // NilID if none
	Priv   Priv
	MPU    *MPA // nil until TaskAllocMPA attaches a table

	MOL ID // head of this task's mutex-owned list (a Mutex ID), NilID if none

	RV  uintptr // saved return value of the last completed blocking wait
	Err ErrCode // result of the last completed blocking wait (TaskPeek's WaitErr)

	Caps CapabilitySet

	// qPrev/qNext: the single intrusive queue link every task carries
	// (spec §3 invariant: "a task is in exactly one queue"). Whichever
	// subsystem currently owns the task (ready queue level, a mutex/sem/
	// exch/pipe wait queue, an event-queue) links through these two
	// fields and nothing else.
	qPrev, qNext ID
	inQueue      bool
	waitQ        *taskQueue // the queue tcb is currently linked into, if any
	rqLevel      int        // ready-queue level tcb was last enqueued at
	BlockedOn    Handle     // the sync object tcb is blocked on, if State==TaskWait

	// EQCount is this task's remaining differential signal count while
	// linked into an EventQueue wait list (spec §4.9, xeq.c's TCB.sv):
	// decremented by EventQueueSignal, never by elapsed time.
	EQCount uint32

	// PendingDSN/HasPendingDSN are xpmsg.c's smx_ct->dsn: the dual slot
	// number a protected receive that found nothing pending stashes for
	// whichever MsgSendProtected delivers next (the system-data trust
	// check it also needs comes from the delivered Msg itself, not from
	// anything the receiver stashed — see mpu.go's receiveSlot).
	PendingDSN    uint16
	HasPendingDSN bool

	// PipeFront is xpipe.c's TCB.flags.pipe_front: a task blocked on a put
	// (TaskFlags.PipePut) recorded here so PipeResume/pipeGet know whether
	// to push its stashed cell (RV) to the back or the front once room or
	// a rendezvous partner appears.
	PipeFront bool
}

// ID returns this task's pool identity, usable to build a Handle.
func (t *TCB) ID() ID { return t.id }

// Handle returns this task's kernel Handle.
func (t *TCB) Handle() Handle { return Handle{Type: CBTask, ID: t.id} }

// EffectivePriority is the priority the ready queue actually dispatches
// on: PriTmo overrides Pri when set (spec §4.3).
func (t *TCB) EffectivePriority() uint8 {
	if t.PriTmo != nil {
		return *t.PriTmo
	}
	return t.Pri
}

// --- Task lifecycle SSRs (spec §6) ---

// TaskCreate allocates a TCB, does not start it (state NULL->WAIT, matching
// the state diagram: create takes a task straight to WAIT, awaiting Start).
func (k *Kernel) TaskCreate(fn func(arg uintptr), pri uint8, stackSize uint32, name string) (Handle, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if int(pri) >= k.cfg.PriorityLevels {
		return NullHandle, ErrInvPri
	}
	id, tcb, ok := k.tasks.Get()
	if !ok {
		return NullHandle, ErrOutOfTCBs
	}
	tcb.id = id
	tcb.Name = name
	tcb.Fn = fn
	tcb.Pri = pri
	tcb.PriNorm = pri
	tcb.State = TaskWait
	tcb.StackSize = stackSize
	tcb.MOL = NilID
	tcb.qPrev, tcb.qNext = NilID, NilID
	tcb.BlockedOn = NullHandle
	tcb.Caps = make(CapabilitySet)
	k.timeouts.set(id, TmoInf)

	h := tcb.Handle()
	if ec := k.Handles.Register(h, name); ec != OK {
		k.tasks.Put(id)
		return NullHandle, ec
	}
	k.logEvent("task.create", h, name)
	return h, OK
}

// TaskDelete releases a TCB back to its pool. The current RUN task may be
// deleted; a non-current task marked RUN is rejected with ErrBrokenQ.
func (k *Kernel) TaskDelete(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()

	tcb, ec := k.taskFor(h)
	if ec != OK {
		return ec
	}
	if tcb.State == TaskRun && h.ID != k.current {
		// a stale RUN marker on a non-current task is an invariant bug
		return ErrBrokenQ
	}
	k.removeFromWhateverQueue(tcb)
	k.releaseMOL(tcb)
	k.releaseAllMsgsOwnedBy(tcb.id)
	k.timeouts.clear(tcb.id)
	tcb.State = TaskDel
	k.Handles.Unregister(h)
	k.tasks.Put(tcb.id)
	k.schedule()
	return OK
}

// TaskStart moves a WAIT task to READY, arg becomes TCB.Arg (the value the
// re-entrant Fn(arg) style described in spec §9 receives).
func (k *Kernel) TaskStart(h Handle, arg uintptr) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	tcb, ec := k.taskFor(h)
	if ec != OK {
		return ec
	}
	if tcb.State != TaskWait {
		return ErrOpNotAllowed
	}
	tcb.Arg = arg
	tcb.Flags.StopStyle = true
	k.nqRQTask(tcb)
	k.schedule()
	return OK
}

// TaskStartNew re-starts a task from scratch (fresh Arg), usable whether
// the task is currently WAIT or already DEL-and-recreated by the caller;
// kept distinct from TaskStart to mirror the source's separate SSR ID.
func (k *Kernel) TaskStartNew(h Handle, arg uintptr) ErrCode {
	return k.TaskStart(h, arg)
}

// TaskStop requests the scheduler stop the current (or named) task: its
// stack (if shared) is recycled and SP cleared so the next Start begins at
// Fn again (spec §4.1). Here that is setting State to WAIT, and clearing
// Arg for a shared-stack task.
func (k *Kernel) TaskStop(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	tcb, ec := k.taskFor(h)
	if ec != OK {
		return ec
	}
	k.removeFromWhateverQueue(tcb)
	if tcb.SharedStack {
		tcb.Arg = 0
	}
	tcb.State = TaskWait
	k.timeouts.set(tcb.id, TmoInf)
	if h.ID == k.current {
		k.current = NilID
	}
	k.schedule()
	return OK
}

// TaskSuspend parks a task in WAIT without touching its stack state
// (distinguishing it from Stop, which may recycle a shared stack).
func (k *Kernel) TaskSuspend(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	tcb, ec := k.taskFor(h)
	if ec != OK {
		return ec
	}
	if tcb.State == TaskDel {
		return ErrOpNotAllowed
	}
	k.removeFromWhateverQueue(tcb)
	tcb.State = TaskWait
	if h.ID == k.current {
		k.current = NilID
	}
	k.schedule()
	return OK
}

// TaskResume is clean cancellation of any wait (spec §5): moves a WAIT task
// back to READY without synthesizing a wake result; a task resumed while it
// was genuinely blocked on a wait queue is dequeued from it here too.
func (k *Kernel) TaskResume(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	tcb, ec := k.taskFor(h)
	if ec != OK {
		return ec
	}
	if tcb.State != TaskWait {
		return ErrOpNotAllowed
	}
	k.removeFromWhateverQueue(tcb)
	k.timeouts.set(tcb.id, TmoInf)
	k.nqRQTask(tcb)
	k.schedule()
	return OK
}

// TaskBump moves a task to the tail of its current ready-queue level
// without changing priority — a round-robin nudge (supplemented feature,
// SPEC_FULL.md, grounded on the source's task API surface).
func (k *Kernel) TaskBump(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	tcb, ec := k.taskFor(h)
	if ec != OK {
		return ec
	}
	if tcb.State != TaskReady && tcb.State != TaskRun {
		return ErrOpNotAllowed
	}
	k.dqFromRQ(tcb)
	k.nqRQTask(tcb)
	k.schedule()
	return OK
}

// TaskSleep blocks the calling task for the given number of ticks by
// installing a timeout with no wait queue membership (a pure timer wait);
// it is a scheduler-point service per spec §5 ("Suspend/Test/Receive/Get"
// family with nonzero timeout) and consumes the timeout firing path.
func (k *Kernel) TaskSleep(h Handle, ticks uint32) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	tcb, ec := k.taskFor(h)
	if ec != OK {
		return ec
	}
	if ticks == 0 {
		return OK
	}
	k.removeFromWhateverQueue(tcb)
	tcb.State = TaskWait
	if h.ID == k.current {
		k.current = NilID
	}
	k.timeouts.set(tcb.id, k.etime+uint64(ticks))
	k.schedule()
	return OK
}

// TaskSetPriority changes Pri (NOCHG sentinel semantics are expressed by
// simply not calling this); requeues the task if it is currently ready.
func (k *Kernel) TaskSetPriority(h Handle, pri uint8) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	tcb, ec := k.taskFor(h)
	if ec != OK {
		return ec
	}
	if int(pri) >= k.cfg.PriorityLevels {
		return ErrInvPri
	}
	tcb.PriNorm = pri
	if tcb.MOL == NilID {
		tcb.Pri = pri
	}
	if tcb.State == TaskReady || tcb.State == TaskRun {
		k.dqFromRQ(tcb)
		k.nqRQTask(tcb)
	}
	k.schedule()
	return OK
}

// TaskSetPriv sets task's privilege level (spec §3's "privilege bits" TCB
// field), read by the protected-message dual-slot-number rule (mpu.go's
// receiveSlot) and by the capability-token gate (spec §9) wherever a check
// needs PrivHi specifically rather than a granted capability.
func (k *Kernel) TaskSetPriv(h Handle, p Priv) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	tcb, ec := k.taskFor(h)
	if ec != OK {
		return ec
	}
	tcb.Priv = p
	return OK
}

// TaskCurrent returns the handle of the running task, or NullHandle if none.
func (k *Kernel) TaskCurrent() Handle {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.current == NilID {
		return NullHandle
	}
	return Handle{Type: CBTask, ID: k.current}
}

// TaskPeek reads diagnostic fields without mutating anything.
type TaskPeek struct {
	Name           string
	Pri, PriNorm   uint8
	State          TaskState
	StackHighWater uint32
	// RV/WaitErr are the outcome of the task's last completed blocking
	// service call (spec's synchronous wait model, kernel.go): a caller
	// that just issued a wait reads these after the satisfying Signal/
	// Release/Timeout/Delete to learn what it woke up with.
	RV      uintptr
	WaitErr ErrCode
}

func (k *Kernel) TaskPeek(h Handle) (TaskPeek, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	tcb, ec := k.taskFor(h)
	if ec != OK {
		return TaskPeek{}, ec
	}
	return TaskPeek{
		Name:           tcb.Name,
		Pri:            tcb.Pri,
		PriNorm:        tcb.PriNorm,
		State:          tcb.State,
		StackHighWater: tcb.StackHighWater,
		RV:             tcb.RV,
		WaitErr:        tcb.Err,
	}, OK
}

// taskFor validates h and resolves its TCB. Caller must hold k.mu.
func (k *Kernel) taskFor(h Handle) (*TCB, ErrCode) {
	if h.Type != CBTask || !k.tasks.Valid(h.ID) {
		return nil, ErrInvTCB
	}
	return k.tasks.At(h.ID), OK
}
