package kernel

// BlockPool is a fixed-count source of same-size message blocks (spec §4.6,
// xmsg.c's PCB): MsgGet draws a block from one, MsgRel returns it. Unlike
// Kernel.Heap, a BlockPool hands out opaque synthetic pointers rather than
// real memory — every payload field elsewhere in this package is already an
// opaque uintptr the caller interprets itself, so a pool-relative slot index
// doubling as a "block pointer" costs nothing and needs no real backing
// store.
type BlockPool struct {
	id ID

	Name      string
	BlockSize uint32

	blocks *Pool[struct{}]
}

func (p *BlockPool) handle() Handle { return Handle{Type: CBPool, ID: p.id} }

// blockPtr/blockIdx convert a BlockPool-relative slot to and from the
// synthetic "block pointer" value stored in Msg.Block; 0 is reserved so the
// zero Msg (no block obtained) never aliases slot 0.
func blockPtr(id ID) uintptr { return uintptr(id) + 1 }
func blockIdx(bp uintptr) ID { return ID(bp - 1) }

// PoolCreate allocates a BlockPool of cap fixed-size blocks.
func (k *Kernel) PoolCreate(name string, blockSize uint32, cap int) (Handle, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, p, ok := k.blockPools.Get()
	if !ok {
		return NullHandle, ErrOutOfPCBs
	}
	p.id = id
	p.Name = name
	p.BlockSize = blockSize
	p.blocks = NewPool[struct{}](name, cap)
	h := p.handle()
	if ec := k.Handles.Register(h, name); ec != OK {
		k.blockPools.Put(id)
		return NullHandle, ec
	}
	return h, OK
}

// PoolDelete releases a BlockPool. Blocks still on loan to live messages are
// not reclaimed; the caller is expected to have released every Msg drawn
// from it first (mirroring the source's "pools are torn down at system
// shutdown, not mid-flight" assumption).
func (k *Kernel) PoolDelete(h Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ec := k.poolFor(h)
	if ec != OK {
		return ec
	}
	k.Handles.Unregister(h)
	k.blockPools.Put(p.id)
	return OK
}

func (k *Kernel) poolFor(h Handle) (*BlockPool, ErrCode) {
	if h.Type != CBPool || !k.blockPools.Valid(h.ID) {
		return nil, ErrInvPool
	}
	return k.blockPools.At(h.ID), OK
}

func (k *Kernel) msgFor(h Handle) (*Msg, ErrCode) {
	if h.Type != CBMsg || !k.msgs.Valid(h.ID) {
		return nil, ErrInvMCB
	}
	return k.msgs.At(h.ID), OK
}

// MsgGet draws a block from pool and wraps it in a fresh, handle-addressable
// MCB owned by caller (xmsg.c's smx_MsgGet): Priority starts at 0, ReplyExch
// at NoReply. clrsz mirrors the source's clear-on-get size; there is no real
// memory behind the synthetic block pointer for this kernel to zero, so
// clrsz is ignored — MsgPeek(MsgPeekSize) always reports the pool's BlockSize.
func (k *Kernel) MsgGet(pool Handle, caller Handle, clrsz uint32) (Handle, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ec := k.poolFor(pool)
	if ec != OK {
		return NullHandle, k.raise(ec, pool)
	}
	tcb, ec := k.taskFor(caller)
	if ec != OK {
		return NullHandle, k.raise(ec, caller)
	}
	bid, _, ok := p.blocks.Get()
	if !ok {
		return NullHandle, k.raise(ErrOutOfPCBs, pool)
	}
	id, m, ok := k.msgs.Get()
	if !ok {
		p.blocks.Put(bid)
		return NullHandle, k.raise(ErrOutOfMCBs, pool)
	}
	m.id = id
	m.Block = blockPtr(bid)
	m.Source = pool
	m.ReplyExch = NoReply
	m.Owner = tcb.id
	m.InExch = NilID
	m.Host = NilID
	return m.handle(), OK
}

// MsgMake wraps a caller-supplied block pointer bp in a new MCB without
// drawing from any pool (xmsg.c's smx_MsgMake). bs itself is not stored;
// only its sign is kept: a negative bs marks the message Standalone, the
// xmsg.c sentinel for "do not release the block on MsgRel".
func (k *Kernel) MsgMake(bp uintptr, bs int32, caller Handle) (Handle, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	tcb, ec := k.taskFor(caller)
	if ec != OK {
		return NullHandle, k.raise(ec, caller)
	}
	id, m, ok := k.msgs.Get()
	if !ok {
		return NullHandle, k.raise(ErrOutOfMCBs, NullHandle)
	}
	m.id = id
	m.Block = bp
	m.Standalone = bs < 0
	m.ReplyExch = NoReply
	m.Owner = tcb.id
	m.InExch = NilID
	m.Host = NilID
	return m.handle(), OK
}

// MsgRel returns msg's block to its source (unless Standalone) and the MCB
// to its pool. Only the current owner may release it (xmsg.c's
// smx_MCBOnrTest); a message still linked into an exchange's pending queue
// is unlinked first.
func (k *Kernel) MsgRel(h Handle, caller Handle) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ec := k.msgFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	tcb, ec := k.taskFor(caller)
	if ec != OK {
		return k.raise(ec, caller)
	}
	if m.Owner != tcb.id {
		return k.raise(ErrNotMsgOnr, h)
	}
	k.unlinkMsgFromExch(m)
	k.releaseMsg(m)
	return OK
}

// unlinkMsgFromExch removes m from whatever exchange pending-queue it is
// linked into, if any (xmsg.c's smx_MsgRel dequeuing a still-queued MCB off
// a broadcast exchange before releasing it).
func (k *Kernel) unlinkMsgFromExch(m *Msg) {
	if m.InExch == NilID || !k.exchs.Valid(m.InExch) {
		m.InExch = NilID
		return
	}
	x := k.exchs.At(m.InExch)
	prev := NilID
	for cur := x.pending.head; cur != NilID; {
		if cur == m.id {
			if prev == NilID {
				x.pending.head = m.next
			} else {
				k.msgs.At(prev).next = m.next
			}
			if x.pending.tail == cur {
				x.pending.tail = prev
			}
			break
		}
		prev = cur
		cur = k.msgs.At(cur).next
	}
	m.InExch = NilID
	m.next = NilID
}

// releaseMsg returns m's block (if not Standalone) and its MCB to their
// pools, first clearing any MPA/MPU slots a protected send/receive loaded
// for it (spec §4.11: "release clears both MPA and MPU slots"). Caller
// must hold k.mu.
func (k *Kernel) releaseMsg(m *Msg) {
	if m.Protected {
		// The host's loaded slot always needs clearing if the message was
		// ever received. The original sender's slot only needs it here for
		// a bound send: an unbound send already cleared it immediately
		// (MsgSendProtected), and Owner no longer even names the sender by
		// the time an unbound message is released (ownership transferred
		// to whichever task received it).
		if m.Host != NilID && k.tasks.Valid(m.Host) {
			k.clearMPA(k.tasks.At(m.Host), m.HostSlot)
		}
		if m.Bound && k.tasks.Valid(m.Owner) {
			k.clearMPA(k.tasks.At(m.Owner), m.SenderSlot)
		}
	}
	if !m.Standalone && m.Source.Valid() {
		if p, ec := k.poolFor(m.Source); ec == OK {
			p.blocks.Put(blockIdx(m.Block))
		}
	}
	k.msgs.Put(m.id)
}

// releaseAllMsgsOwnedBy releases every Msg owned by owner, returning the
// count released. Caller must hold k.mu.
func (k *Kernel) releaseAllMsgsOwnedBy(owner ID) uint32 {
	var n uint32
	k.msgs.Each(func(id ID, m *Msg) {
		if m.Owner == owner {
			k.unlinkMsgFromExch(m)
			k.releaseMsg(m)
			n++
		}
	})
	return n
}

// MsgRelAll releases every message owned by task, returning the count
// released (xmsg.c's smx_MsgRelAll, used on task deletion to recover
// leaked MCBs).
func (k *Kernel) MsgRelAll(task Handle) (uint32, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	tcb, ec := k.taskFor(task)
	if ec != OK {
		return 0, k.raise(ec, task)
	}
	return k.releaseAllMsgsOwnedBy(tcb.id), OK
}

// MsgUnmake reverses MsgMake/MsgGet: releases only the MCB, handing the
// underlying block pointer back to the caller un-freed (xmsg.c's
// smx_MsgUnmake — useful when a block obtained via MsgGet is about to be
// handed off by some other means than Send/Rel).
func (k *Kernel) MsgUnmake(h Handle, caller Handle) (uintptr, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ec := k.msgFor(h)
	if ec != OK {
		return 0, k.raise(ec, h)
	}
	tcb, ec := k.taskFor(caller)
	if ec != OK {
		return 0, k.raise(ec, caller)
	}
	if m.Owner != tcb.id {
		return 0, k.raise(ErrNotMsgOnr, h)
	}
	k.unlinkMsgFromExch(m)
	bp := m.Block
	k.msgs.Put(m.id)
	return bp, OK
}

// MsgBump changes msg's Priority and, if it is currently linked into an
// exchange's pending queue, re-threads it to its new priority-ordered
// position (xmsg.c's smx_MsgBump).
func (k *Kernel) MsgBump(h Handle, pri uint8) ErrCode {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ec := k.msgFor(h)
	if ec != OK {
		return k.raise(ec, h)
	}
	if m.InExch == NilID || !k.exchs.Valid(m.InExch) {
		m.Priority = pri
		return OK
	}
	x := k.exchs.At(m.InExch)
	k.unlinkMsgFromExch(m)
	m.Priority = pri
	m.InExch = x.id
	k.pushMsg(&x.pending, m.id)
	return OK
}

// MsgPeekParam selects which MsgPeek field to read (spec §6, xmsg.c's
// SMX_PK_PAR subset this MCB model supports).
type MsgPeekParam uint8

const (
	MsgPeekBlock MsgPeekParam = iota
	MsgPeekPool
	MsgPeekOwner
	MsgPeekPriority
	MsgPeekReply
	MsgPeekSize
	MsgPeekXchg
	MsgPeekNext
	MsgPeekHost
	MsgPeekHostSlot
	MsgPeekSenderSlot
)

// MsgPeek reads a diagnostic field without mutating any state. Block/Owner/
// Reply/Xchg/Next encode as the raw numeric form of a Handle or ID field
// (the field's own accessor, not this method, is how a caller turns that
// back into a usable Handle).
func (k *Kernel) MsgPeek(h Handle, par MsgPeekParam) (uint32, ErrCode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ec := k.msgFor(h)
	if ec != OK {
		return 0, k.raise(ec, h)
	}
	switch par {
	case MsgPeekBlock:
		return uint32(m.Block), OK
	case MsgPeekPool:
		return uint32(m.Source.ID), OK
	case MsgPeekOwner:
		return uint32(m.Owner), OK
	case MsgPeekPriority:
		return uint32(m.Priority), OK
	case MsgPeekReply:
		return uint32(m.ReplyExch), OK
	case MsgPeekSize:
		if p, ec := k.poolFor(m.Source); ec == OK {
			return p.BlockSize, OK
		}
		return 0, k.raise(ErrUnknownSize, h)
	case MsgPeekXchg:
		return uint32(m.InExch), OK
	case MsgPeekNext:
		return uint32(m.next), OK
	case MsgPeekHost:
		return uint32(m.Host), OK
	case MsgPeekHostSlot:
		return uint32(m.HostSlot), OK
	case MsgPeekSenderSlot:
		return uint32(m.SenderSlot), OK
	default:
		return 0, k.raise(ErrInvPar, h)
	}
}
