package kernel

import "github.com/joeycumines/logiface"

// Config holds every compile-time knob the source (bcfg.h) expressed with
// the preprocessor; Go has no comparable conditional-compilation story worth
// abusing for this, so they become runtime fields on a struct built with
// functional options — the same configuration idiom the teacher corpus uses
// for eventloop.Option/stumpy.Option.
type Config struct {
	// PriorityLevels is SMX_PRI_NUM: the number of ready-queue priority
	// levels (valid task priorities are [0, PriorityLevels).
	PriorityLevels int

	// TaskCapacity / pool capacities mirror the source's fixed-size
	// control-block arrays (spec §3: "pools do not grow").
	TaskCapacity   int
	SemCapacity    int
	MutexCapacity  int
	ExchCapacity   int
	MsgCapacity    int
	PoolCapacity   int
	PipeCapacity   int
	EventGrpCap    int
	EventQueueCap  int
	TimerCapacity  int
	LSRCapacity    int
	HandleTableCap int

	// LSRQueueCapacity is the bounded ring capacity for deferred LSR work
	// (spec §4.2); overflow is SMXE_LQ_OVFL, a hard error, never a grow.
	LSRQueueCapacity int

	// EventBufferCapacity / ErrorBufferCapacity size the diagnostic rings
	// (spec §6); both overwrite their oldest record on overflow.
	EventBufferCapacity int
	ErrorBufferCapacity int

	// StackCheckEnabled / TokenCheckEnabled / MPUEnabled mirror the
	// source's SMX_CFG_STACK_CHECK / SMX_CFG_TOKENS / SMX_CFG_MPU knobs.
	StackCheckEnabled bool
	TokenCheckEnabled bool
	MPUEnabled        bool

	// MPUProgrammer is the hardware collaborator MPA slot loads/clears call
	// through to while a task's active-region window covers the slot (spec
	// §4.11); nil means MPA bookkeeping never touches real hardware, which
	// is the default and what every test in this package runs with.
	MPUProgrammer MPUProgrammer

	// Logger receives structured log records for lifecycle events and
	// errors (spec §7's "emits a message line to the console" becomes a
	// logiface call; see log.go). Never consulted on the ISR/LSR fast path.
	Logger *Logger

	// LogLevel configures NewLogger's default logger when Logger is nil.
	LogLevel logiface.Level

	// TicksPerSecond is reported by System Peek; purely informational.
	TicksPerSecond uint32

	// HeapSize / HeapDonorSize configure the kernel's default embedded
	// heap region (spec §4.10): HeapSize bytes total, HeapDonorSize of
	// which is calved off as the donor chunk at system generation. A zero
	// HeapSize means the kernel runs with no default heap; callers that
	// need one construct a heap.Heap directly and manage it themselves.
	HeapSize      uint32
	HeapDonorSize uint32
}

// Option configures a Config, applied in DefaultConfig.
type Option func(*Config)

// DefaultConfig returns sane defaults sized for a small demo system; real
// deployments size every *Capacity field to their worst-case object count,
// per the source's static-allocation philosophy.
func DefaultConfig(opts ...Option) Config {
	c := Config{
		PriorityLevels:      32,
		TaskCapacity:        32,
		SemCapacity:         32,
		MutexCapacity:       16,
		ExchCapacity:        16,
		MsgCapacity:         64,
		PoolCapacity:        8,
		PipeCapacity:        8,
		EventGrpCap:         8,
		EventQueueCap:       8,
		TimerCapacity:       16,
		LSRCapacity:         32,
		HandleTableCap:      128,
		LSRQueueCapacity:    64,
		EventBufferCapacity: 256,
		ErrorBufferCapacity: 64,
		StackCheckEnabled:   true,
		TokenCheckEnabled:   false,
		MPUEnabled:          false,
		LogLevel:            logiface.LevelInformational,
		TicksPerSecond:      1000,
		HeapSize:            16384,
		HeapDonorSize:       2048,
	}
	for _, o := range opts {
		o(&c)
	}
	if c.Logger == nil {
		c.Logger = NewLogger(nil, c.LogLevel)
	}
	return c
}

func WithPriorityLevels(n int) Option { return func(c *Config) { c.PriorityLevels = n } }
func WithTaskCapacity(n int) Option   { return func(c *Config) { c.TaskCapacity = n } }
func WithLogger(l *Logger) Option     { return func(c *Config) { c.Logger = l } }
func WithTokenCheck(enabled bool) Option {
	return func(c *Config) { c.TokenCheckEnabled = enabled }
}
func WithMPU(enabled bool) Option { return func(c *Config) { c.MPUEnabled = enabled } }
func WithMPUProgrammer(p MPUProgrammer) Option {
	return func(c *Config) { c.MPUProgrammer = p }
}
func WithLSRQueueCapacity(n int) Option {
	return func(c *Config) { c.LSRQueueCapacity = n }
}
func WithHeap(size, donorSize uint32) Option {
	return func(c *Config) { c.HeapSize = size; c.HeapDonorSize = donorSize }
}
func WithTicksPerSecond(n uint32) Option {
	return func(c *Config) { c.TicksPerSecond = n }
}
