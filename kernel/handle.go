package kernel

import "sync"

// CBType tags the kind of control block a Handle refers to, used both for
// handle-validity checks (spec §6: "every operation... validates that the
// control block's type field matches expectation") and for diagnostics.
type CBType uint8

const (
	CBNone CBType = iota
	CBTask
	CBSem
	CBMutex
	CBExch
	CBMsg
	CBPipe
	CBEventGroup
	CBEventQueue
	CBTimer
	CBLSR
	CBPool
	CBHeap
	CBPseudo
)

var cbTypeNames = [...]string{
	CBNone: "NONE", CBTask: "TASK", CBSem: "SEM", CBMutex: "MUTEX",
	CBExch: "EXCH", CBMsg: "MSG", CBPipe: "PIPE", CBEventGroup: "EVENT_GROUP",
	CBEventQueue: "EVENT_QUEUE", CBTimer: "TIMER", CBLSR: "LSR", CBPool: "POOL",
	CBHeap: "HEAP", CBPseudo: "PSEUDO",
}

func (t CBType) String() string {
	if int(t) < len(cbTypeNames) && cbTypeNames[t] != "" {
		return cbTypeNames[t]
	}
	return "UNKNOWN"
}

// Handle is a kernel object reference: a (type, pool-index) pair. The zero
// value is NullHandle — the "handle pointer holds NULL" state from spec §6.
type Handle struct {
	Type CBType
	ID   ID
}

// NullHandle is the live-handle-cleared state.
var NullHandle = Handle{Type: CBNone, ID: NilID}

// Valid reports whether h refers to a (possibly live, possibly stale)
// non-null object slot. It does not check pool membership; that is the
// owning subsystem's job (e.g. Kernel.taskFor).
func (h Handle) Valid() bool { return h.Type != CBNone && h.ID != NilID }

// Priv is an access-privilege level, used by both the legacy privilege-bit
// check (spec §4/§7: PRIV_VIOL) and the generalized capability table below.
type Priv uint8

const (
	PrivLo Priv = iota
	PrivHi
)

// HandleTable is the fixed-capacity (handle -> name) diagnostic registry
// from spec §6: "rejects duplicate names and reports HT_FULL/HT_DUP".
// Grounded on the original's xht.c name lookup table; unlike a Pool, entries
// here are purely for diagnostics (WhatIs, peek-by-name) and carry no
// control-block semantics of their own.
type HandleTable struct {
	mu       sync.Mutex
	cap      int
	byHandle map[Handle]string
	byName   map[string]Handle
}

// NewHandleTable creates a table with the given capacity.
func NewHandleTable(capacity int) *HandleTable {
	return &HandleTable{
		cap:      capacity,
		byHandle: make(map[Handle]string, capacity),
		byName:   make(map[string]Handle, capacity),
	}
}

// Register associates name with h. Returns ErrHTFull if the table is at
// capacity, ErrHTDup if name is already registered to a different handle.
// An empty name is a no-op success (anonymous objects are not registered).
func (t *HandleTable) Register(h Handle, name string) ErrCode {
	if name == "" {
		return OK
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.byName[name]; ok && existing != h {
		return ErrHTDup
	}
	if _, ok := t.byHandle[h]; !ok && len(t.byHandle) >= t.cap {
		return ErrHTFull
	}
	t.byHandle[h] = name
	t.byName[name] = h
	return OK
}

// Unregister removes h's entry, if any.
func (t *HandleTable) Unregister(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if name, ok := t.byHandle[h]; ok {
		delete(t.byName, name)
		delete(t.byHandle, h)
	}
}

// NameOf returns the registered name for h, if any.
func (t *HandleTable) NameOf(h Handle) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	name, ok := t.byHandle[h]
	return name, ok
}

// Lookup resolves a registered name back to its handle (WhatIs by name).
func (t *HandleTable) Lookup(name string) (Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byName[name]
	return h, ok
}

// WhatIs resolves h to its type tag and registered name (spec §6); the type
// tag alone is always available (it's embedded in the Handle), the name is
// only available if the object was created with one.
func (t *HandleTable) WhatIs(h Handle) (typ CBType, name string) {
	n, _ := t.NameOf(h)
	return h.Type, n
}

// pseudoHandles backs PseudoHandleCreate (spec §6): a handle that wraps an
// externally-managed resource purely so it can be named and looked up via
// WhatIs, with no control-block semantics of its own (spec §9's "out of
// scope" collaborators — e.g. a raw hardware timer channel — still want a
// diagnosable name).
type pseudoHandles struct {
	mu   sync.Mutex
	next ID
}

// PseudoHandleCreate registers name against a fresh CBPseudo handle and
// returns it. The handle carries no backing object; Delete-equivalent is
// simply HandleTable.Unregister.
func (k *Kernel) PseudoHandleCreate(name string) (Handle, ErrCode) {
	k.pseudo.mu.Lock()
	if k.pseudo.next == NilID {
		k.pseudo.mu.Unlock()
		return NullHandle, ErrOutOfPCBs
	}
	id := k.pseudo.next
	k.pseudo.next++
	k.pseudo.mu.Unlock()

	h := Handle{Type: CBPseudo, ID: id}
	if ec := k.Handles.Register(h, name); ec != OK {
		return NullHandle, ec
	}
	return h, OK
}

// WhatIs resolves any live handle to its type tag and diagnostic name.
func (k *Kernel) WhatIs(h Handle) (CBType, string) { return k.Handles.WhatIs(h) }

// Capability generalizes the source's per-task `tap` token arrays (spec §9:
// "Token-based access check... generalizes to a capability table"): each
// task holds a set of (Handle -> granted Priv) entries, and service
// entry points check it when Config.TokenCheckEnabled is set.
type Capability struct {
	Handle Handle
	Priv   Priv
}

// CapabilitySet is a task's capability table.
type CapabilitySet map[Handle]Priv

// Grant adds or upgrades a capability.
func (s CapabilitySet) Grant(h Handle, p Priv) { s[h] = p }

// Check reports whether the set authorizes access to h at priv level
// "need". When token checking is disabled kernel-wide, callers should skip
// this entirely (it is not consulted automatically, to keep the check off
// the interrupt/LSR fast path when unused).
func (s CapabilitySet) Check(h Handle, need Priv) bool {
	have, ok := s[h]
	return ok && have >= need
}
