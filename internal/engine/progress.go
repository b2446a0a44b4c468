package engine

import (
	"github.com/mokuren/passbook-flow/internal/common"
)

// NoopSink discards progress events.
type NoopSink struct{}

// Emit does nothing.
func (NoopSink) Emit(string, int) {}

// SlogSink reports progress through the structured logger. Used by the
// HTTP server, where there is no terminal to draw on.
type SlogSink struct{}

// Emit logs one progress event.
func (SlogSink) Emit(stage string, percent int) {
	common.LogInfo("processing progress", common.Fields{
		"stage":   stage,
		"percent": percent,
	})
}

// SinkFunc adapts a function to the progress sink interface.
type SinkFunc func(stage string, percent int)

// Emit calls the wrapped function.
func (f SinkFunc) Emit(stage string, percent int) {
	f(stage, percent)
}
