package kernel

// MPUProgrammer is the external collaborator that actually writes region
// descriptors into hardware MPU registers (spec §1: "MPU programming
// micro-API" is out of scope). The kernel only ever calls through this
// interface when Config.MPUEnabled is set; with it unset, MPA tables are
// pure bookkeeping with no hardware effect, which is exactly the subset
// this package implements and tests.
type MPUProgrammer interface {
	Program(region int, base, size uintptr, attrs uint32) error
}

// InterruptController is the external collaborator for interrupt-priority
// and enable/disable primitives (spec §1, also out of scope). LSRInvoke
// does not depend on it: an ISR is expected to mask what it needs to itself
// before calling in.
type InterruptController interface {
	Enable(irq int)
	Disable(irq int)
	SetPriority(irq, pri int)
}

// MPARegion is a single MPU region descriptor captured into, or loaded
// from, an MPA slot (spec §4.11): base address, size, and an
// architecture-defined attributes word (access permissions, memory type,
// ...) this kernel never interprets — only MPUProgrammer does.
type MPARegion struct {
	Base  uintptr
	Size  uintptr
	Attrs uint32
}

// MPA is a per-task memory-protection-area slot table (spec §4.11). Slots
// at or past ActiveRegions are pure bookkeeping: the hardware only ever has
// registers for the leading ActiveRegions of them, so only loads/clears
// within that window are pushed through MPUProgrammer.
type MPA struct {
	Name          string
	Slots         []MPARegion
	Occupied      []bool
	ActiveRegions int
}

// TaskAllocMPA lazily attaches an MPA slot table to task, slots deep with
// the leading activeRegions of those MPU-backed. Calling it again replaces
// the existing table (and loses whatever regions were captured in it).
func (k *Kernel) TaskAllocMPA(task Handle, slots, activeRegions int) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	tcb, ec := k.taskFor(task)
	if ec != OK {
		return k.raise(ec, task)
	}
	if activeRegions > slots {
		activeRegions = slots
	}
	tcb.MPU = &MPA{
		Name:          tcb.Name,
		Slots:         make([]MPARegion, slots),
		Occupied:      make([]bool, slots),
		ActiveRegions: activeRegions,
	}
	return OK
}

// loadMPA writes region into tcb's MPA slot sn, additionally programming
// the MPU when sn falls within tcb's active-region window and
// Config.MPUEnabled is set (spec §4.11). A tcb with no MPA table (MPU
// never allocated for it) is silently a no-op, mirroring how every other
// not-applicable-to-this-task path in this package degrades. Caller must
// hold k.mu.
func (k *Kernel) loadMPA(tcb *TCB, sn uint8, region MPARegion) {
	if tcb.MPU == nil || int(sn) >= len(tcb.MPU.Slots) {
		return
	}
	tcb.MPU.Slots[sn] = region
	tcb.MPU.Occupied[sn] = true
	if k.cfg.MPUEnabled && k.mpuProg != nil && int(sn) < tcb.MPU.ActiveRegions {
		_ = k.mpuProg.Program(int(sn), region.Base, region.Size, region.Attrs)
	}
}

// clearMPA clears tcb's MPA slot sn (and the matching MPU register, under
// the same conditions as loadMPA). Caller must hold k.mu.
func (k *Kernel) clearMPA(tcb *TCB, sn uint8) {
	if tcb.MPU == nil || int(sn) >= len(tcb.MPU.Slots) {
		return
	}
	tcb.MPU.Slots[sn] = MPARegion{}
	tcb.MPU.Occupied[sn] = false
	if k.cfg.MPUEnabled && k.mpuProg != nil && int(sn) < tcb.MPU.ActiveRegions {
		_ = k.mpuProg.Program(int(sn), 0, 0, 0)
	}
}

// dsnPack/dsnActiveSlot/dsnAuxSlot encode and decode a dual slot number:
// the active slot in the low nibble, the auxiliary (trusted-task,
// system-data) slot in the high nibble, mirroring xpmsg.c's ARMM8 dsn
// layout (the ARMM7 single-slot variant is not modeled: this kernel always
// carries both halves).
func dsnPack(activeSlot, auxSlot uint8) uint16 {
	return uint16(auxSlot)<<4 | uint16(activeSlot&0xf)
}
func dsnActiveSlot(dsn uint16) uint8 { return uint8(dsn & 0xf) }
func dsnAuxSlot(dsn uint16) uint8    { return uint8(dsn >> 4) }

// receiveSlot picks which half of dsn a protected receive loads into,
// mirroring xpmsg.c's smx_PMsgReceive rule: the auxiliary slot only for a
// privileged (trusted) receiver taking a system-data block, the active
// slot for every other combination.
func receiveSlot(rtask *TCB, dsn uint16, systemData bool) uint8 {
	if rtask.Priv == PrivHi && systemData {
		return dsnAuxSlot(dsn)
	}
	return dsnActiveSlot(dsn)
}

// EncodeHandle/DecodeHandle pack a Handle into the uintptr result slot a
// blocked wait's RV field carries (spec's synchronous wait model, see
// kernel.go): MsgReceiveProtected's blocking path has nothing else to
// return a woken task's Msg handle through.
func EncodeHandle(h Handle) uintptr { return uintptr(h.Type)<<16 | uintptr(h.ID) }
func DecodeHandle(v uintptr) Handle { return Handle{Type: CBType(v >> 16), ID: ID(v & 0xffff)} }

// MsgSendProtected sends an already-obtained protected Msg (from MsgGet or
// MsgMake) through exchange h, capturing sender's MPA region at senderSlot
// into the message (spec §4.11). A bound send leaves the sender as Owner
// and its MPA/MPU slot untouched, to be cleared only when the matching
// host slot is released (see MsgRel); an unbound send clears the sender's
// slot immediately once the send completes, whether delivered directly or
// queued (xpmsg.c's smx_PMsgSend/smx_PMsgSendB).
//
// Token-check enforcement (spec §9): the sender must hold PrivHi on h when
// Config.TokenCheckEnabled is set. The unprotected MsgSend path performs no
// such check.
func (k *Kernel) MsgSendProtected(h Handle, msg Handle, sender Handle, senderSlot uint8, bound bool, systemData bool, priority uint8, replyExch uint8) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()

	x, ec := k.exchFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	m, ec := k.msgFor(msg)
	if ec != OK {
		return k.raise(ec, msg)
	}
	senderTCB, ec := k.taskFor(sender)
	if ec != OK {
		return k.raise(ec, sender)
	}
	if m.Owner != senderTCB.id {
		return k.raise(ErrNotMsgOnr, msg)
	}
	if k.cfg.TokenCheckEnabled && !senderTCB.Caps.Check(h, PrivHi) {
		return k.raise(ErrTokenViol, h)
	}

	var accept func(ID) bool
	switch x.Mode {
	case ExchPass:
		if x.BoundReceiver == NilID {
			return k.raise(ErrWrongMode, h)
		}
		accept = boundOnly(x.BoundReceiver)
	case ExchBroadcast:
		// Protected messages are point-to-point: a region descriptor can
		// only ever be loaded into one receiver's MPA slot at a time.
		return k.raise(ErrWrongMode, h)
	}

	m.Protected = true
	m.Bound = bound
	m.SystemData = systemData
	m.SenderSlot = senderSlot
	m.Priority = priority
	m.ReplyExch = replyExch
	if senderTCB.MPU != nil && int(senderSlot) < len(senderTCB.MPU.Slots) {
		m.Region = senderTCB.MPU.Slots[senderSlot]
	}

	if x.waitQ.head != NilID && (accept == nil || accept(x.waitQ.head)) {
		rid, _ := popFront(k.tasks, &x.waitQ)
		k.completeProtectedReceive(m, rid)
	} else {
		m.InExch = x.id
		k.pushMsg(&x.pending, m.id)
	}

	if !bound {
		k.clearMPA(senderTCB, senderSlot)
	}
	k.schedule()
	return OK
}

// completeProtectedReceive hands m to rtask: picks rsn from whatever dual
// slot number rtask stashed while blocking in MsgReceiveProtected (0 if it
// never blocked there), loads the receiver's MPA/MPU, transfers ownership
// to rtask if m is unbound (spec §4.6: "send with bound keeps the sender
// as owner"), and wakes rtask with m's handle as its wait result. Caller
// must hold k.mu.
func (k *Kernel) completeProtectedReceive(m *Msg, rid ID) {
	rtask := k.tasks.At(rid)
	var rsn uint8
	if rtask.HasPendingDSN {
		rsn = receiveSlot(rtask, rtask.PendingDSN, m.SystemData)
		rtask.HasPendingDSN = false
	}
	k.loadMPA(rtask, rsn, m.Region)
	m.Host = rtask.id
	m.HostSlot = rsn
	m.InExch = NilID
	if !m.Bound {
		m.Owner = rtask.id
	}

	rtask.RV = EncodeHandle(m.handle())
	rtask.Err = OK
	rtask.inQueue = false
	rtask.waitQ = nil
	rtask.BlockedOn = NullHandle
	k.timeouts.clear(rid)
	k.nqRQTask(rtask)
}

// MsgReceiveProtected blocks receiver until a protected message is
// available on h, or completes immediately against one already pending.
// activeSlot/auxSlot form the receiver's dual slot number for this
// receive; which half actually gets loaded is decided per spec §4.11 from
// the delivered message's SystemData flag and the receiver's own trust
// level, not by the caller. If nothing is pending yet, the pair is stashed
// on the receiver's TCB for whichever MsgSendProtected delivers next
// (xpmsg.c's smx_ct->dsn).
func (k *Kernel) MsgReceiveProtected(h Handle, receiver Handle, activeSlot, auxSlot uint8, timeout uint64) (Handle, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	x, ec := k.exchFor(h)
	if ec != OK {
		return NullHandle, k.raise(ec, h)
	}
	tcb, ec := k.taskFor(receiver)
	if ec != OK {
		return NullHandle, k.raise(ec, receiver)
	}

	dsn := dsnPack(activeSlot, auxSlot)
	if mid, ok := k.popMsg(&x.pending); ok {
		m := k.msgs.At(mid)
		rsn := receiveSlot(tcb, dsn, m.SystemData)
		k.loadMPA(tcb, rsn, m.Region)
		m.Host = tcb.id
		m.HostSlot = rsn
		m.InExch = NilID
		if !m.Bound {
			m.Owner = tcb.id
		}
		return m.handle(), OK
	}

	if timeout == 0 {
		return NullHandle, k.raise(ErrWaitNotAllowed, h)
	}
	k.removeFromWhateverQueue(tcb)
	tcb.PendingDSN = dsn
	tcb.HasPendingDSN = true
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
	return NullHandle, OK
}
