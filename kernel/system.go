package kernel

// SystemPeek is the snapshot returned by Kernel.SystemPeek (spec §6's
// "System: Peek (etime, stime, ticks-per-sec)").
type SystemPeek struct {
	// Etime is the elapsed tick count since system start.
	Etime uint64
	// Stime is elapsed whole seconds since system start, derived from Etime
	// and TicksPerSec rather than tracked as a separate incremental
	// counter (the source's smx_stime/smx_tick_ctr pair exists only to
	// avoid a division on hardware with no divider; that constraint
	// doesn't apply here).
	Stime uint64
	// TicksPerSec is the configured tick rate; purely informational.
	TicksPerSec uint32
}

// SystemPeek reports elapsed ticks, elapsed seconds and the configured tick
// rate (spec §6).
func (k *Kernel) SystemPeek() SystemPeek {
	k.mu.Lock()
	defer k.mu.Unlock()
	pk := SystemPeek{Etime: k.etime, TicksPerSec: k.cfg.TicksPerSecond}
	if k.cfg.TicksPerSecond > 0 {
		pk.Stime = k.etime / uint64(k.cfg.TicksPerSecond)
	}
	return pk
}

// PowerDown recovers elapsed time after the processor slept through
// ticksSlept ticks (spec §6/§9: `smx_SysPowerDown`/`smx_TickRecovery`).
// Actually suspending the processor is an external collaborator's job (the
// architecture-specific sleep primitive, spec §1's out-of-scope list) —
// PowerDown only performs the bookkeeping side once the caller reports how
// many ticks were lost: it advances k.etime by ticksSlept and fires every
// timer and task timeout that expired during the sleep, in the same
// chronological order Tick would have produced had it been called
// ticksSlept times in a row, then runs one scheduler pass. sleepMode is
// opaque to the kernel core; a sleepMode of 0 is rejected the same way the
// source treats it ("nothing to power down").
func (k *Kernel) PowerDown(sleepMode uint32, ticksSlept uint64) ErrCode {
	if sleepMode == 0 {
		return ErrInvPar
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.advanceTime(ticksSlept)
	k.schedule()
	return OK
}
