// Package collection tracks a dynamic set of child objects.
//
// A Tracker learns child paths from an enumeration call (GetModems,
// GetContexts) and from out-of-band added/removed signals, which may arrive
// before, during or after the enumeration. It owns one reference to every
// known child and maintains the subset of children that are valid, sorted
// by path.
//
// The tracker is valid when its owner gate holds, the last enumeration
// succeeded and every known child is valid. Added and removed events are
// published only around that state:
//
//	added(c):   c became valid and the tracker is valid afterwards
//	removed(c): c left the valid subset and the tracker was valid before
//
// Transitions while the tracker is incomplete are silent.
package collection

import (
	"cmp"
	"log/slog"
	"maps"
	"slices"

	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/bus"
	"github.com/smnsjas/go-ofonocore/event"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/smnsjas/go-ofonocore/ofonoerr"
)

// Child is the part of a tracked object a Tracker relies on.
type Child interface {
	Path() dbus.ObjectPath
	Valid() bool
	Release()
	AddValidChangedHandler(fn func(*object.Object)) event.HandlerID
	RemoveHandler(id event.HandlerID) bool
}

// Enumerate lists the current children and reports them through done,
// synchronously or later. It returns the call token to cancel, if any.
type Enumerate func(done func(paths []dbus.ObjectPath, err error)) *bus.Call

// Option configures a Tracker.
type Option func(*config)

type config struct {
	name     string
	gate     func() bool
	onUpdate func()
}

// WithName sets the name used in log records and metric labels.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithGate adds an owner condition to the tracker's validity.
func WithGate(fn func() bool) Option {
	return func(c *config) {
		c.gate = fn
	}
}

// OnUpdate registers a hook run whenever the tracker's validity may have
// changed. Owners use it to recompute their own validity.
func OnUpdate(fn func()) Option {
	return func(c *config) {
		c.onUpdate = fn
	}
}

type entry[T Child] struct {
	child   T
	handler event.HandlerID
}

// Tracker maintains the children of one parent object.
type Tracker[T Child] struct {
	rt      *object.Runtime
	log     *slog.Logger
	cfg     config
	factory func(dbus.ObjectPath) T

	enumerate Enumerate
	gen       uint64
	call      *bus.Call
	listing   bool
	retried   bool
	lastOK    bool

	known  map[dbus.ObjectPath]*entry[T]
	subset []T

	added   event.Signal[T]
	removed event.Signal[T]
}

// New creates an empty tracker. factory must return a referenced child for
// path; the tracker releases it when the child is removed or on Reset.
func New[T Child](rt *object.Runtime, factory func(dbus.ObjectPath) T, opts ...Option) *Tracker[T] {
	t := &Tracker[T]{
		rt:      rt,
		factory: factory,
		known:   make(map[dbus.ObjectPath]*entry[T]),
	}
	for _, opt := range opts {
		opt(&t.cfg)
	}
	t.log = rt.Log().With("collection", t.cfg.name)
	return t
}

// Start enumerates children by calling method on proxy. The reply is an
// array of (object path, properties) pairs.
func (t *Tracker[T]) Start(proxy bus.Proxy, method string) {
	t.StartFunc(func(done func([]dbus.ObjectPath, error)) *bus.Call {
		return proxy.Call(method, nil, func(body []any, err error) {
			if err != nil {
				done(nil, err)
				return
			}
			entries, err := bus.DecodeObjectList(body)
			done(bus.Paths(entries), err)
		})
	})
}

// StartFunc enumerates children with fn, canceling any enumeration in
// flight. A transient timeout is retried once; any other error leaves the
// tracker invalid until the next Start.
func (t *Tracker[T]) StartFunc(fn Enumerate) {
	t.cancel()
	t.lastOK = false
	t.retried = false
	t.enumerate = fn
	t.run()
	t.update()
}

func (t *Tracker[T]) run() {
	t.gen++
	gen := t.gen
	t.listing = true
	call := t.enumerate(func(paths []dbus.ObjectPath, err error) {
		t.enumerated(gen, paths, err)
	})
	if gen == t.gen && t.listing {
		t.call = call
	}
}

func (t *Tracker[T]) enumerated(gen uint64, paths []dbus.ObjectPath, err error) {
	if gen != t.gen || !t.listing {
		return
	}
	t.call = nil

	if err != nil {
		t.listing = false
		switch {
		case ofonoerr.IsCanceled(err):
		case ofonoerr.IsTransientTimeout(err) && !t.retried:
			t.retried = true
			t.log.Debug("enumeration timed out, retrying")
			t.rt.Metrics.EnumerationRetry(t.cfg.name)
			t.run()
		default:
			t.log.Error("enumeration failed", "error", err)
			t.update()
		}
		return
	}

	// Children are registered while listing is still set so that the
	// tracker cannot look complete half way through the batch.
	for _, path := range paths {
		t.registerChild(path)
	}
	t.listing = false
	t.lastOK = true
	t.log.Debug("enumerated", "count", len(paths))
	t.update()
}

// AddChild registers path if it is not known yet.
func (t *Tracker[T]) AddChild(path dbus.ObjectPath) {
	if t.registerChild(path) {
		t.update()
	}
}

// RemoveChild forgets path and releases its child. Unknown paths are
// ignored.
func (t *Tracker[T]) RemoveChild(path dbus.ObjectPath) {
	e, ok := t.known[path]
	if !ok {
		return
	}
	wasValid := t.Valid()
	delete(t.known, path)
	e.child.RemoveHandler(e.handler)
	if t.excise(path) && wasValid {
		t.removed.Emit(e.child)
	}
	e.child.Release()
	t.update()
}

func (t *Tracker[T]) registerChild(path dbus.ObjectPath) bool {
	if _, ok := t.known[path]; ok {
		return false
	}
	child := t.factory(path)
	e := &entry[T]{child: child}
	t.known[path] = e
	e.handler = child.AddValidChangedHandler(func(*object.Object) {
		t.childValidChanged(path)
	})
	if child.Valid() {
		t.childValidChanged(path)
	}
	return true
}

func (t *Tracker[T]) childValidChanged(path dbus.ObjectPath) {
	e, ok := t.known[path]
	if !ok {
		return
	}
	wasValid := t.Valid()
	if e.child.Valid() {
		if t.insert(e.child) && t.Valid() {
			t.added.Emit(e.child)
		}
	} else if t.excise(path) && wasValid {
		t.removed.Emit(e.child)
	}
	t.update()
}

func (t *Tracker[T]) insert(child T) bool {
	i, found := slices.BinarySearchFunc(t.subset, child.Path(), comparePath[T])
	if found {
		return false
	}
	t.subset = slices.Insert(t.subset, i, child)
	return true
}

func (t *Tracker[T]) excise(path dbus.ObjectPath) bool {
	i, found := slices.BinarySearchFunc(t.subset, path, comparePath[T])
	if !found {
		return false
	}
	t.subset = slices.Delete(t.subset, i, i+1)
	return true
}

func comparePath[T Child](c T, path dbus.ObjectPath) int {
	return cmp.Compare(c.Path(), path)
}

// Reset cancels any enumeration in flight and forgets every child without
// firing events.
func (t *Tracker[T]) Reset() {
	t.cancel()
	t.lastOK = false
	entries := t.known
	t.known = make(map[dbus.ObjectPath]*entry[T])
	t.subset = nil
	for _, path := range slices.Sorted(maps.Keys(entries)) {
		e := entries[path]
		e.child.RemoveHandler(e.handler)
		e.child.Release()
	}
	t.update()
}

// Close resets the tracker and disconnects all handlers.
func (t *Tracker[T]) Close() {
	t.cfg.onUpdate = nil
	t.Reset()
	t.added.Clear()
	t.removed.Clear()
}

func (t *Tracker[T]) cancel() {
	t.gen++
	t.listing = false
	if t.call != nil {
		t.call.Cancel()
		t.call = nil
	}
}

func (t *Tracker[T]) update() {
	if t.cfg.onUpdate != nil {
		t.cfg.onUpdate()
	}
}

// Valid reports whether the owner gate holds, the last enumeration
// succeeded and every known child is valid.
func (t *Tracker[T]) Valid() bool {
	if t.cfg.gate != nil && !t.cfg.gate() {
		return false
	}
	return t.lastOK && !t.listing && len(t.subset) == len(t.known)
}

// All returns the valid children sorted by path. It is empty while the
// tracker is not valid.
func (t *Tracker[T]) All() []T {
	if !t.Valid() {
		return []T{}
	}
	return slices.Clone(t.subset)
}

// ByPath returns the valid child at path.
func (t *Tracker[T]) ByPath(path dbus.ObjectPath) (T, bool) {
	var zero T
	if !t.Valid() {
		return zero, false
	}
	i, found := slices.BinarySearchFunc(t.subset, path, comparePath[T])
	if !found {
		return zero, false
	}
	return t.subset[i], true
}

// First returns the valid child with the lowest path.
func (t *Tracker[T]) First() (T, bool) {
	var zero T
	if !t.Valid() || len(t.subset) == 0 {
		return zero, false
	}
	return t.subset[0], true
}

// Known returns every registered path, valid or not, sorted.
func (t *Tracker[T]) Known() []dbus.ObjectPath {
	return slices.Sorted(maps.Keys(t.known))
}

// AddAddedHandler registers fn for children joining a valid tracker.
func (t *Tracker[T]) AddAddedHandler(fn func(T)) event.HandlerID {
	return t.added.Connect(fn)
}

// AddRemovedHandler registers fn for children leaving a valid tracker.
func (t *Tracker[T]) AddRemovedHandler(fn func(T)) event.HandlerID {
	return t.removed.Connect(fn)
}

// RemoveHandler disconnects a handler registered on t.
func (t *Tracker[T]) RemoveHandler(id event.HandlerID) bool {
	return t.added.Disconnect(id) || t.removed.Disconnect(id)
}
