package kernel

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger type used throughout the kernel. It is a
// thin alias over logiface's generic Logger, following the same pattern the
// teacher's eventloop package uses logiface: the kernel only depends on the
// logiface.Event interface, so a host may swap stumpy for any other logiface
// backend (slog, zerolog, logrus — all present as sibling packages in the
// corpus this kernel was grounded on) without touching a single line here.
type Logger = logiface.Logger[*stumpy.Event]

// NewLogger builds the default kernel logger, writing newline-delimited
// stumpy-encoded events to w (os.Stderr if w is nil). Kernel services only
// ever log from task context (service entry/exit, the error manager); the
// interrupt and LSR fast paths never call through this logger, matching
// spec §5's layering.
func NewLogger(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(w)), level)
}

// nopLogger returns a logger that discards everything. DefaultConfig does
// not use it: without WithLogger it builds a NewLogger writing to os.Stderr.
func nopLogger() *Logger {
	return stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(io.Discard)), logiface.LevelDisabled)
}
