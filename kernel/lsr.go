package kernel

import (
	"sync"

	"github.com/vectorkernel/rtcore/internal/ring"
)

// LSR (link service routine) is a deferred-work handler: the bottom half an
// ISR hands work off to so the top half can stay inside interrupt context
// for as little time as possible (spec §4.2). The kernel stores only the
// handler and a name; invocation is queued by LSRInvoke and run from the queue
// drained at LSRDrain.
type LSR struct {
	Name string
	Fn   func(arg uintptr)
}

// LSRDef is the pool-resident control block for a registered LSR.
type LSRDef struct {
	id   ID
	Name string
	Fn   func(arg uintptr)
}

// lsrWorkItem is one deferred invocation: which LSR, with which argument.
type lsrWorkItem struct {
	id  ID
	arg uintptr
}

// LSRQueue is the bounded ring of deferred LSR invocations an ISR enqueues
// into (spec §4.2: "a fixed-capacity FIFO; overflow is a hard error, never
// silently dropped or grown"). It carries its own mutex distinct from the
// main kernel lock so the enqueue side — callable from interrupt context —
// never contends with task-side scheduling work for longer than a ring
// push.
type LSRQueue struct {
	mu  sync.Mutex
	buf *ring.Ring[lsrWorkItem]
}

// NewLSRQueue allocates a queue with the given capacity.
func NewLSRQueue(capacity int) *LSRQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &LSRQueue{buf: ring.New[lsrWorkItem](capacity)}
}

// LSRCreate registers an LSR and returns its handle.
func (k *Kernel) LSRCreate(name string, fn func(arg uintptr)) (Handle, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, def, ok := k.lsrs.Get()
	if !ok {
		return NullHandle, ErrOutOfLCBs
	}
	def.id = id
	def.Name = name
	def.Fn = fn
	h := Handle{Type: CBLSR, ID: id}
	if ec := k.Handles.Register(h, name); ec != OK {
		k.lsrs.Put(id)
		return NullHandle, ec
	}
	return h, OK
}

// LSRDelete releases an LSR's control block.
func (k *Kernel) LSRDelete(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	if h.Type != CBLSR || !k.lsrs.Valid(h.ID) {
		return ErrInvLCB
	}
	k.Handles.Unregister(h)
	k.lsrs.Put(h.ID)
	return OK
}

// LSRInvoke enqueues an LSR for deferred execution (what an ISR calls; safe
// to call from any context since it only ever touches LSRQueue.mu, never
// the main kernel lock). Returns ErrLQOvfl if the queue is full.
func (k *Kernel) LSRInvoke(h Handle, arg uintptr) ErrCode {
	if h.Type != CBLSR {
		return ErrInvLCB
	}
	k.lsrQueue.mu.Lock()
	ok := k.lsrQueue.buf.PushReject(lsrWorkItem{id: h.ID, arg: arg})
	k.lsrQueue.mu.Unlock()
	if !ok {
		return k.raise(ErrLQOvfl, h)
	}
	return OK
}

// LSRDrain runs every LSR enqueued since the last drain, in FIFO order
// (spec §4.2: "run after ISRs before tasks resume"). It is itself a
// scheduler point: an LSR may signal a semaphore or mutex that wakes a
// higher-priority task, so dispatch runs once after the whole batch
// drains, not once per item.
func (k *Kernel) LSRDrain() {
	for {
		k.lsrQueue.mu.Lock()
		item, ok := k.lsrQueue.buf.Pop()
		k.lsrQueue.mu.Unlock()
		if !ok {
			break
		}
		k.invokeLSR(item)
	}
	k.mu.Lock()
	k.schedule()
	k.mu.Unlock()
}

func (k *Kernel) invokeLSR(item lsrWorkItem) {
	k.mu.Lock()
	var fn func(arg uintptr)
	if k.lsrs.Valid(item.id) {
		fn = k.lsrs.At(item.id).Fn
	}
	k.mu.Unlock()
	if fn != nil {
		fn(item.arg)
	}
}

// Tick is the keep-time LSR (spec §4.3): it advances k.etime by one tick
// through advanceTime (the helper PowerDown also uses), fires expired timers
// and reduces the per-task timeout array, and is itself normally invoked via LSRInvoke from a periodic hardware timer
// interrupt rather than called directly.
func (k *Kernel) Tick() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.advanceTime(1)
	k.schedule()
}

// advanceTime moves elapsed time forward by delta ticks, processing every
// timer and task-timeout expiration that falls within the span in strict
// chronological order (spec §9's `smx_TickRecovery` note: expirations that
// occurred during power-off are processed in the order they would have
// occurred had power remained on). Called with k.mu held; callers run
// schedule() themselves once they're done.
func (k *Kernel) advanceTime(delta uint64) {
	k.etime += delta
	k.timerQ.advance(k, delta)
	k.timeouts.advance(k, delta)
}
