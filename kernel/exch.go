package kernel

// ExchMode selects a message exchange's delivery discipline (spec §4.6).
type ExchMode uint8

const (
	// ExchNormal hands a message to the head waiting receiver (highest
	// task priority first, FIFO within a priority), or queues it by message
	// priority when no receiver is waiting.
	ExchNormal ExchMode = iota
	// ExchPass hands messages directly to a single bound receiver task,
	// set via ExchBind, queuing them by priority while it is not the head
	// waiter; MsgSend fails with ErrWrongMode on an unbound exchange.
	ExchPass
	// ExchBroadcast delivers a copy of every sent message to every
	// currently-waiting receiver at once; with no waiters the message is
	// dropped after being queued once (the next receiver that arrives
	// still gets it, matching ExchNormal's queuing for the no-waiter case).
	ExchBroadcast
)

// NoReply is the compact sentinel for "no reply-exchange bound to this
// message" (spec §4.6: "reply-exchange via compact index (0xFF = none)").
const NoReply uint8 = 0xFF

// Msg is a message control block (spec §4.6), grounded on xmsg.c's MCB.
type Msg struct {
	id ID

	Payload   uintptr
	Priority  uint8 // xmsg.c's msg->pri; higher sorts first within Exch.pending
	ReplyExch uint8 // NoReply, or a reply-exchange table index
	Owner     ID    // task that sent it, for NotMsgOnr checks on reply flows

	// Block/Source back a handle-addressable MCB obtained via MsgGet/MsgMake
	// (spec §4.6's "block pointer, block-source" fields; xmsg.c's bp/bs).
	// Standalone is xmsg.c's bs == -1 ("not to be released" — MsgRel only
	// returns the block to Source when Standalone is false).
	Block      uintptr
	Source     Handle // the BlockPool this block came from; NullHandle if Standalone
	Standalone bool
	InExch     ID // exchange this MCB is currently queued at, NilID if none

	// Protected/Bound/SenderSlot/HostSlot/Host/Region carry spec §4.11's MPU
	// hand-off metadata; only meaningful when Protected is set (xpmsg.c's
	// MCB extension fields: con.bnd/con.osn/con.hsn/host/rasr).
	Protected  bool
	Bound      bool
	SystemData bool // xpmsg.c's con.sb: block is system (kernel) memory
	SenderSlot uint8
	HostSlot   uint8
	Host       ID
	Region     MPARegion

	next ID // queue link within Exch.pending
}

func (m *Msg) handle() Handle { return Handle{Type: CBMsg, ID: m.id} }

// Exch is a message exchange control block (spec §4.6).
type Exch struct {
	id ID

	Name string
	Mode ExchMode

	BoundReceiver ID // ExchPass only; NilID until ExchBind

	pending exchMsgQueue
	waitQ   taskQueue // receivers blocked in MsgReceive/MsgReceiveProtected, priority order
}

// exchMsgQueue orders pool-resident Msg IDs by descending Priority, FIFO
// among equal priorities (spec §4.6/§8 scenario 3, xmsg.c's smx_MsgSend:
// messages are inserted into the exchange queue ahead of the first entry
// with a strictly lower priority).
type exchMsgQueue struct {
	head, tail ID
}

func (k *Kernel) pushMsg(q *exchMsgQueue, id ID) {
	m := k.msgs.At(id)
	m.next = NilID
	if q.head == NilID {
		q.head, q.tail = id, id
		return
	}
	if m.Priority > k.msgs.At(q.head).Priority {
		m.next = q.head
		q.head = id
		return
	}
	prev := q.head
	for {
		cur := k.msgs.At(prev).next
		if cur == NilID || k.msgs.At(cur).Priority < m.Priority {
			break
		}
		prev = cur
	}
	m.next = k.msgs.At(prev).next
	k.msgs.At(prev).next = id
	if m.next == NilID {
		q.tail = id
	}
}

func (k *Kernel) popMsg(q *exchMsgQueue) (ID, bool) {
	if q.head == NilID {
		return NilID, false
	}
	id := q.head
	m := k.msgs.At(id)
	q.head = m.next
	if q.head == NilID {
		q.tail = NilID
	}
	m.next = NilID
	return id, true
}

// ExchCreate allocates a message exchange.
func (k *Kernel) ExchCreate(name string, mode ExchMode) (Handle, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, x, ok := k.exchs.Get()
	if !ok {
		return NullHandle, ErrOutOfXCBs
	}
	x.id = id
	x.Name = name
	x.Mode = mode
	x.BoundReceiver = NilID
	x.pending = exchMsgQueue{head: NilID, tail: NilID}
	x.waitQ = taskQueue{head: NilID, tail: NilID}
	h := Handle{Type: CBExch, ID: id}
	if ec := k.Handles.Register(h, name); ec != OK {
		k.exchs.Put(id)
		return NullHandle, ec
	}
	return h, OK
}

// ExchBind designates the single receiver task an ExchPass exchange hands
// messages to directly.
func (k *Kernel) ExchBind(h Handle, receiver Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	x, ec := k.exchFor(h)
	if ec != OK {
		return ec
	}
	if x.Mode != ExchPass {
		return k.raise(ErrWrongMode, h)
	}
	tcb, ec := k.taskFor(receiver)
	if ec != OK {
		return ec
	}
	x.BoundReceiver = tcb.id
	return OK
}

// ExchDelete releases an exchange. Any queued messages are returned to
// their pool; any waiting receivers are woken with ErrOpNotAllowed.
func (k *Kernel) ExchDelete(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	x, ec := k.exchFor(h)
	if ec != OK {
		return ec
	}
	for {
		id, ok := k.popMsg(&x.pending)
		if !ok {
			break
		}
		m := k.msgs.At(id)
		m.InExch = NilID
		k.releaseMsg(m)
	}
	for {
		id, ok := popFront(k.tasks, &x.waitQ)
		if !ok {
			break
		}
		k.wakeWaiter(id, ErrOpNotAllowed, 0)
	}
	k.Handles.Unregister(h)
	k.exchs.Put(x.id)
	k.schedule()
	return OK
}

// MsgSend delivers payload through exchange h, attributed to sender, with
// priority deciding its place in the pending-message queue if it can't be
// delivered immediately (xmsg.c's smx_MsgSend), and an optional bound
// reply-exchange (NoReply for none).
func (k *Kernel) MsgSend(h Handle, sender Handle, payload uintptr, priority uint8, replyExch uint8) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	x, ec := k.exchFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	senderTCB, ec := k.taskFor(sender)
	if ec != OK {
		return k.raise(ec, sender)
	}

	switch x.Mode {
	case ExchPass:
		if x.BoundReceiver == NilID {
			return k.raise(ErrWrongMode, h)
		}
		return k.deliverOrQueue(x, senderTCB.id, payload, priority, replyExch, boundOnly(x.BoundReceiver))

	case ExchBroadcast:
		delivered := false
		for {
			rid, ok := popFront(k.tasks, &x.waitQ)
			if !ok {
				break
			}
			k.deliverMsg(rid, payload, replyExch)
			delivered = true
		}
		if !delivered {
			id, msg, ok := k.msgs.Get()
			if !ok {
				return k.raise(ErrOutOfMCBs, h)
			}
			msg.id = id
			msg.Payload = payload
			msg.Priority = priority
			msg.ReplyExch = replyExch
			msg.Owner = senderTCB.id
			msg.InExch = x.id
			k.pushMsg(&x.pending, id)
		}
		k.schedule()
		return OK

	default: // ExchNormal
		return k.deliverOrQueue(x, senderTCB.id, payload, priority, replyExch, nil)
	}
}

// boundOnly returns a predicate matching only the given receiver task ID,
// used to restrict ExchPass delivery to its one bound receiver.
func boundOnly(id ID) func(ID) bool {
	return func(candidate ID) bool { return candidate == id }
}

// deliverOrQueue matches payload against the head of x.waitQ (filtered by
// accept, if non-nil), delivering directly if possible, else queuing a new
// Msg control block ordered by priority within x.pending.
func (k *Kernel) deliverOrQueue(x *Exch, senderID ID, payload uintptr, priority uint8, replyExch uint8, accept func(ID) bool) ErrCode {
	if x.waitQ.head != NilID && (accept == nil || accept(x.waitQ.head)) {
		rid, _ := popFront(k.tasks, &x.waitQ)
		k.deliverMsg(rid, payload, replyExch)
		k.schedule()
		return OK
	}
	id, msg, ok := k.msgs.Get()
	if !ok {
		return k.raise(ErrOutOfMCBs, x.handle())
	}
	msg.id = id
	msg.Payload = payload
	msg.Priority = priority
	msg.ReplyExch = replyExch
	msg.Owner = senderID
	msg.InExch = x.id
	k.pushMsg(&x.pending, id)
	k.schedule()
	return OK
}

func (x *Exch) handle() Handle { return Handle{Type: CBExch, ID: x.id} }

// deliverMsg writes payload/reply data directly into a waiting receiver's
// saved-return-value slot and wakes it.
func (k *Kernel) deliverMsg(receiver ID, payload uintptr, replyExch uint8) {
	if !k.tasks.Valid(receiver) {
		return
	}
	tcb := k.tasks.At(receiver)
	tcb.RV = payload
	_ = replyExch // reply binding surfaced via MsgReceive's return for queued messages; direct-delivery receivers already know their own reply path
	tcb.inQueue = false
	tcb.waitQ = nil
	tcb.BlockedOn = NullHandle
	tcb.Err = OK
	k.timeouts.clear(receiver)
	k.nqRQTask(tcb)
}

// MsgReceive blocks receiver until a message is available on h (or
// immediately dequeues one already pending), per exchange mode's priority
// rule (spec §4.6: "exchange priority ordering" — receivers queue by task
// priority; pending messages are consumed highest Priority first, oldest
// first among equal priorities).
func (k *Kernel) MsgReceive(h Handle, receiver Handle, timeout uint64) (payload uintptr, replyExch uint8, err ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	x, ec := k.exchFor(h)
	if ec != OK {
		return 0, NoReply, k.raise(ec, h)
	}
	tcb, ec := k.taskFor(receiver)
	if ec != OK {
		return 0, NoReply, k.raise(ec, receiver)
	}

	if mid, ok := k.popMsg(&x.pending); ok {
		m := k.msgs.At(mid)
		payload, replyExch = m.Payload, m.ReplyExch
		k.msgs.Put(mid)
		return payload, replyExch, OK
	}

	if timeout == 0 {
		return 0, NoReply, k.raise(ErrWaitNotAllowed, h)
	}
	k.removeFromWhateverQueue(tcb)
	tcb.BlockedOn = h
	tcb.State = TaskWait
	if tcb.id == k.current {
		k.current = NilID
	}
	enqueuePriority(k.tasks, &x.waitQ, tcb)
	tcb.waitQ = &x.waitQ
	tcb.inQueue = true
	if timeout != TmoInf {
		k.timeouts.set(tcb.id, k.etime+timeout)
	}
	k.schedule()
	return 0, NoReply, OK
}

func (k *Kernel) exchFor(h Handle) (*Exch, ErrCode) {
	if h.Type != CBExch || !k.exchs.Valid(h.ID) {
		return nil, ErrInvXCB
	}
	return k.exchs.At(h.ID), OK
}
