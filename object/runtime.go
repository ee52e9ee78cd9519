package object

import (
	"log/slog"

	"github.com/smnsjas/go-ofonocore/bus"
	"github.com/smnsjas/go-ofonocore/loop"
	"github.com/smnsjas/go-ofonocore/metrics"
	"github.com/smnsjas/go-ofonocore/registry"
)

// Runtime is the environment shared by every object created from one
// client: the bus connection, the dispatch loop, the registry of live
// objects, logging and metrics.
type Runtime struct {
	Conn     bus.Conn
	Loop     *loop.Loop
	Registry *registry.Registry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// NewRuntime creates a runtime with an empty registry, no metrics and a
// logger that discards everything.
func NewRuntime(conn bus.Conn, l *loop.Loop) *Runtime {
	return &Runtime{
		Conn:     conn,
		Loop:     l,
		Registry: registry.New(),
		Logger:   slog.New(slog.DiscardHandler),
	}
}

// Log returns the runtime's logger, or one discarding everything if none is
// set.
func (rt *Runtime) Log() *slog.Logger {
	if rt.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return rt.Logger
}
