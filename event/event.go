// Package event provides typed observer lists.
//
// A Signal holds handlers for one kind of event. Handlers may subscribe to
// every emission or only to emissions carrying a given detail, which is how
// per-property change subscriptions are expressed. Signals are not safe for
// concurrent use; they are owned by objects living on a single loop.
package event

import "sync/atomic"

// HandlerID identifies a connected handler. IDs are unique across all
// signals in the process, so an object can route RemoveHandler to whichever
// of its signals owns the id.
type HandlerID uint64

var lastID atomic.Uint64

func nextID() HandlerID {
	return HandlerID(lastID.Add(1))
}

type handler[T any] struct {
	id       HandlerID
	detail   string
	fn       func(T)
	detached bool
}

// Signal is a list of handlers receiving values of type T.
// The zero value is ready to use.
type Signal[T any] struct {
	handlers []*handler[T]
}

// Connect adds a handler invoked on every emission.
func (s *Signal[T]) Connect(fn func(T)) HandlerID {
	return s.ConnectDetailed("", fn)
}

// ConnectDetailed adds a handler invoked only for emissions with the given
// detail. An empty detail matches every emission.
func (s *Signal[T]) ConnectDetailed(detail string, fn func(T)) HandlerID {
	if fn == nil {
		return 0
	}
	h := &handler[T]{id: nextID(), detail: detail, fn: fn}
	s.handlers = append(s.handlers, h)
	return h.id
}

// Disconnect removes the handler with the given id. It reports whether the
// handler belonged to this signal.
func (s *Signal[T]) Disconnect(id HandlerID) bool {
	if id == 0 {
		return false
	}
	for i, h := range s.handlers {
		if h.id == id {
			h.detached = true
			s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Emit invokes all handlers connected without a detail.
func (s *Signal[T]) Emit(v T) {
	s.EmitDetailed("", v)
}

// EmitDetailed invokes handlers connected without a detail and handlers
// connected for exactly this detail. Handlers disconnected during the
// emission are not invoked.
func (s *Signal[T]) EmitDetailed(detail string, v T) {
	if len(s.handlers) == 0 {
		return
	}
	snapshot := make([]*handler[T], len(s.handlers))
	copy(snapshot, s.handlers)
	for _, h := range snapshot {
		if h.detached {
			continue
		}
		if h.detail == "" || h.detail == detail {
			h.fn(v)
		}
	}
}

// Len returns the number of connected handlers.
func (s *Signal[T]) Len() int {
	return len(s.handlers)
}

// Clear disconnects every handler.
func (s *Signal[T]) Clear() {
	for _, h := range s.handlers {
		h.detached = true
	}
	s.handlers = nil
}
