// Package kernel implements the preemptive priority-scheduling and
// synchronization core of a small real-time kernel for 32-bit
// microcontrollers: the task scheduler, the LSR deferred-work queue, the
// full synchronization object family (semaphores, priority-inheriting
// mutexes, message exchanges, pipes, event-flag groups, event queues), the
// differential timer queue and per-task timeout array, and the error
// manager. MPU programming, interrupt-controller primitives, CPU-exception
// assembly, console I/O and the C runtime shim are external collaborators
// and are represented here only by thin interfaces (see mpu.go).
package kernel

import (
	"sync"

	"github.com/vectorkernel/rtcore/heap"
)

const (
	// TmoInf marks "no timeout installed" in the timeout array; any real
	// deadline is strictly less than it for the lifetime of a system.
	TmoInf = ^uint64(0)
)

// Kernel is the whole scheduling/synchronization core. One Kernel is one
// system image; nothing here is a package-level global (unlike the source's
// smx_ct/smx_rq globals), so a program can run more than one in the same
// process — useful for tests, which routinely stand up several small
// kernels side by side.
type Kernel struct {
	mu  sync.Mutex
	cfg Config

	// Task scheduling.
	tasks   *Pool[TCB]
	rq      []taskQueue // one FIFO per priority level, index 0 = lowest
	rqTop   int         // cached highest non-empty level, or 0 when empty
	current ID          // RUN task, or NilID
	lockCtr int         // TaskLock nesting depth; >0 defers preemption

	// Object pools.
	sems       *Pool[Sem]
	mutexes    *Pool[Mutex]
	exchs      *Pool[Exch]
	msgs       *Pool[Msg]
	blockPools *Pool[BlockPool]
	pipes      *Pool[Pipe]
	evgrps     *Pool[EventGroup]
	evqs       *Pool[EventQueue]
	timers     *Pool[Timer]
	lsrs       *Pool[LSRDef]

	// mpuProg is the MPU hand-off's hardware collaborator (spec §4.11, see
	// mpu.go); nil unless supplied via WithMPUProgrammer, in which case MPA
	// slot loads/clears within a task's active-region window also program
	// real MPU registers through it.
	mpuProg MPUProgrammer

	// Deferred work and timing.
	lsrQueue *LSRQueue
	timeouts *TimeoutArray
	timerQ   *TimerQueue
	etime    uint64 // elapsed tick count, advanced only by the keep-time LSR

	// Diagnostics.
	Handles  *HandleTable
	pseudo   pseudoHandles
	errMgr   *ErrorManager
	eventLog *EventLog

	// Heap is the kernel's default embedded heap region (spec §4.10), nil
	// when Config.HeapSize is 0. heap.Heap is unlocked internally (its
	// Locker is left nil); every kernel-level wrapper in heap_service.go
	// takes k.mu itself before touching it, the same as every other
	// service call, so Heap methods are never called reentrantly against
	// the same lock.
	Heap *heap.Heap
}

// New builds a Kernel from cfg, allocating every fixed-capacity pool up
// front (spec §3: "every object pool is sized at system-generation time and
// never grows").
func New(cfg Config) *Kernel {
	k := &Kernel{
		cfg:        cfg,
		tasks:      NewPool[TCB]("tasks", cfg.TaskCapacity),
		sems:       NewPool[Sem]("sems", cfg.SemCapacity),
		mutexes:    NewPool[Mutex]("mutexes", cfg.MutexCapacity),
		exchs:      NewPool[Exch]("exchs", cfg.ExchCapacity),
		msgs:       NewPool[Msg]("msgs", cfg.MsgCapacity),
		blockPools: NewPool[BlockPool]("pools", cfg.PoolCapacity),
		pipes:      NewPool[Pipe]("pipes", cfg.PipeCapacity),
		evgrps:     NewPool[EventGroup]("evgroups", cfg.EventGrpCap),
		evqs:       NewPool[EventQueue]("evqueues", cfg.EventQueueCap),
		timers:     NewPool[Timer]("timers", cfg.TimerCapacity),
		lsrs:       NewPool[LSRDef]("lsrs", cfg.LSRCapacity),
		lsrQueue:   NewLSRQueue(cfg.LSRQueueCapacity),
		Handles:    NewHandleTable(cfg.HandleTableCap),
		pseudo:     pseudoHandles{next: 0},
		mpuProg:    cfg.MPUProgrammer,
		current:    NilID,
	}
	k.rq = make([]taskQueue, cfg.PriorityLevels)
	for i := range k.rq {
		k.rq[i] = taskQueue{head: NilID, tail: NilID}
	}
	k.timeouts = NewTimeoutArray(cfg.TaskCapacity)
	k.timerQ = NewTimerQueue()
	k.errMgr = NewErrorManager(cfg.ErrorBufferCapacity, cfg.Logger)
	k.eventLog = NewEventLog(cfg.EventBufferCapacity)
	if cfg.HeapSize > 0 {
		k.Heap = heap.New(cfg.HeapSize, cfg.HeapDonorSize, nil)
	}
	return k
}

// Etime returns the kernel's elapsed tick count.
func (k *Kernel) Etime() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.etime
}

// logEvent records a lifecycle event into the event ring and, if a logger
// is configured, emits a structured debug record. Never called from the
// ISR/LSR fast path (spec's ambient-logging carve-out, SPEC_FULL.md).
func (k *Kernel) logEvent(kind string, h Handle, detail string) {
	k.eventLog.push(Event{Kind: kind, Handle: h, Detail: detail, Tick: k.etime})
	if lg := k.cfg.Logger; lg != nil {
		if b := lg.Debug(); b != nil {
			b.Str("kind", kind).Str("handle", handleString(h)).Str("detail", detail).Log("kernel event")
		}
	}
}

func handleString(h Handle) string {
	return h.Type.String()
}

// removeFromWhateverQueue takes tcb out of the ready queue or whatever wait
// queue it is currently linked into, per the single-queue-membership
// invariant (spec §3). It is the one general-purpose escape hatch used by
// TaskDelete/TaskStop/TaskSuspend/TaskResume/TaskSleep, fireTimeout and every
// blocking wait so those paths don't need to know which queue a task is in.
func (k *Kernel) removeFromWhateverQueue(tcb *TCB) {
	if !tcb.inQueue {
		return
	}
	switch tcb.State {
	case TaskReady, TaskRun:
		k.dqFromRQ(tcb)
	default:
		// Blocked in a sem/mutex/exch/pipe/event-group/event-queue wait
		// list; each of those maintains its own queue head/tail pointer
		// in its own control block, so a generic unlink here only needs
		// the intrusive links, which dqGeneric provides.
		dqGeneric(k.tasks, tcb)
		tcb.inQueue = false
	}
	tcb.Flags.InPriQueue = false
	tcb.Flags.MutexWaiting = false
	tcb.Flags.InEventQueue = false
	tcb.BlockedOn = NullHandle
}
