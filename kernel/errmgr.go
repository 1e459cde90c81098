package kernel

import (
	"time"

	catrate "github.com/joeycumines/go-catrate"

	"github.com/vectorkernel/rtcore/internal/ring"
)

// Event is one entry in the diagnostic event ring (spec §6): a compact,
// allocation-free record of something the kernel did, independent of the
// error taxonomy in errors.go.
type Event struct {
	Kind   string
	Handle Handle
	Detail string
	Tick   uint64
}

// EventLog is the fixed-size overwrite-oldest diagnostic ring backing
// System Peek / event dumps. Grounded on internal/ring's PushEvict, the same
// primitive the error buffer below uses.
type EventLog struct {
	buf *ring.Ring[Event]
}

// NewEventLog allocates an event log with room for n entries.
func NewEventLog(n int) *EventLog {
	if n <= 0 {
		n = 1
	}
	return &EventLog{buf: ring.New[Event](n)}
}

func (l *EventLog) push(e Event) { l.buf.PushEvict(e) }

// Snapshot returns every currently-retained event, oldest first.
func (l *EventLog) Snapshot() []Event {
	out := make([]Event, 0, l.buf.Len())
	l.buf.Each(func(e Event) { out = append(out, e) })
	return out
}

// ErrorRecord is one entry in the error buffer (spec §7).
type ErrorRecord struct {
	Code   ErrCode
	Handle Handle
	Tick   uint64
}

// ErrorManager owns the error buffer and flood suppression (spec §7: "the
// error manager may suppress repeated identical errors to avoid flooding
// the console"). Flood suppression is delegated to go-catrate's sliding-
// window limiter, keyed on ErrCode — a repeated identical error code is
// throttled exactly like a repeated request in catrate's own examples;
// Integrity-category codes bypass the limiter entirely and are always
// recorded and logged, since those represent a broken invariant rather than
// an expected, possibly-noisy runtime condition.
type ErrorManager struct {
	buf     *ring.Ring[ErrorRecord]
	limiter *catrate.Limiter
	logger  *Logger
}

// NewErrorManager builds an error manager with the given buffer capacity.
// The flood limiter allows at most 3 occurrences of the same error code per
// second and 20 per minute — chosen to let a genuine burst of distinct
// causes through while squashing a tight retry loop logging the same thing.
func NewErrorManager(bufCap int, logger *Logger) *ErrorManager {
	if bufCap <= 0 {
		bufCap = 1
	}
	return &ErrorManager{
		buf: ring.New[ErrorRecord](bufCap),
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 3,
			time.Minute: 20,
		}),
		logger: logger,
	}
}

// Report records an error against h at the given tick, and logs it unless
// flood suppression is in effect for this ErrCode.
func (m *ErrorManager) Report(code ErrCode, h Handle, tick uint64) {
	m.buf.PushEvict(ErrorRecord{Code: code, Handle: h, Tick: tick})

	allowed := integrityCodes[code]
	if !allowed {
		_, allowed = m.limiter.Allow(code)
	}
	if !allowed || m.logger == nil {
		return
	}
	b := m.logger.Err()
	if b == nil {
		return
	}
	b.Str("code", code.String()).Str("handle", h.Type.String()).Log("kernel error")
}

// Snapshot returns every currently-retained error record, oldest first.
func (m *ErrorManager) Snapshot() []ErrorRecord {
	out := make([]ErrorRecord, 0, m.buf.Len())
	m.buf.Each(func(r ErrorRecord) { out = append(out, r) })
	return out
}

// raise is the internal helper every kernel subsystem calls on a failure
// path: it routes a non-OK code through the error manager and returns it
// unchanged. It does not touch any task's Err field.
func (k *Kernel) raise(code ErrCode, h Handle) ErrCode {
	if code != OK {
		k.errMgr.Report(code, h, k.etime)
	}
	return code
}
