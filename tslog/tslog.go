// Package tslog wires the logiface logging front-end to the stumpy JSON
// backend and fixes the event type for the rest of the simulator.
package tslog

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete logger type used throughout the simulator.
type Logger = logiface.Logger[*stumpy.Event]

// New returns a logger emitting JSON lines to w at the given level.
func New(w io.Writer, level logiface.Level) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	)
}

// Default returns a stderr logger at info level.
func Default() *Logger {
	return New(os.Stderr, logiface.LevelInformational)
}

// Discard returns a logger that drops everything. Used as the fallback so
// components never have to nil-check their logger.
func Discard() *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(io.Discard)),
		stumpy.L.WithLevel(logiface.LevelDisabled),
	)
}
