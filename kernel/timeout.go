package kernel

// TimeoutArray is the per-task timeout mechanism backing every blocking
// wait SSR (spec §4.3): one absolute deadline slot per task, plus a cached
// (minimum deadline, task index) pair so the keep-time LSR never has to
// scan every task on a tick where nothing is due. The cache is maintained
// incrementally on Set and only fully rescanned when the cached entry
// itself changes or fires, matching the source's eventual-rescan strategy
// for xtime.c's tmo_min/tmo_indx globals.
type TimeoutArray struct {
	deadline  []uint64
	cachedMin uint64
	cachedIdx ID
}

// NewTimeoutArray allocates a timeout array sized for n tasks.
func NewTimeoutArray(n int) *TimeoutArray {
	d := make([]uint64, n)
	for i := range d {
		d[i] = TmoInf
	}
	return &TimeoutArray{deadline: d, cachedMin: TmoInf, cachedIdx: NilID}
}

// set installs (or clears, via TmoInf) task id's deadline.
func (t *TimeoutArray) set(id ID, deadline uint64) {
	if int(id) >= len(t.deadline) {
		return
	}
	old := t.deadline[id]
	t.deadline[id] = deadline
	switch {
	case deadline < t.cachedMin:
		t.cachedMin = deadline
		t.cachedIdx = id
	case old == t.cachedMin && id == t.cachedIdx && deadline != old:
		t.rescan()
	}
}

// clear removes task id's deadline, equivalent to set(id, TmoInf).
func (t *TimeoutArray) clear(id ID) { t.set(id, TmoInf) }

func (t *TimeoutArray) rescan() {
	t.cachedMin = TmoInf
	t.cachedIdx = NilID
	for i, d := range t.deadline {
		if d < t.cachedMin {
			t.cachedMin = d
			t.cachedIdx = ID(i)
		}
	}
}

// advance fires every timeout now due (k.etime has already been bumped by
// delta ticks by the caller) and reinstalls the cache for whatever remains.
func (t *TimeoutArray) advance(k *Kernel, delta uint64) {
	for t.cachedIdx != NilID && t.cachedMin <= k.etime {
		id := t.cachedIdx
		t.deadline[id] = TmoInf
		t.rescan()
		k.fireTimeout(id)
	}
}

// fireTimeout completes a blocking wait with ErrTMO: the task is pulled out
// of whatever wait queue it was linked into, its PriTmo override (if any)
// is cleared, and it is returned to the ready queue (spec §4.3/§4.1).
func (k *Kernel) fireTimeout(id ID) {
	if !k.tasks.Valid(id) {
		return
	}
	tcb := k.tasks.At(id)
	if tcb.State != TaskWait {
		return
	}
	k.removeFromWhateverQueue(tcb)
	tcb.Err = ErrTMO
	tcb.RV = 0
	tcb.PriTmo = nil
	tcb.Pri = tcb.PriNorm
	k.nqRQTask(tcb)
	k.logEvent("task.timeout", tcb.Handle(), "")
}
