// Package object implements the per-object synchronization engine.
//
// An Object mirrors one D-Bus interface of one remote object. It creates a
// proxy, fetches all properties in bulk, keeps them current from
// PropertyChanged signals, and tracks two booleans:
//
//	ready: a proxy exists and every ready gate of the concrete type holds
//	valid: ready, no fetch in flight, the last fetch succeeded, and every
//	       valid gate of the concrete type holds
//
// valid never holds without ready. Concrete types (modems, connection
// contexts, ...) embed *Object and contribute descriptor tables, gates and
// hooks through Options.
//
// # Fetch Errors
//
// A failed GetProperties is classified with ofonoerr.Classify:
//
//	Transient: fetch again immediately
//	Busy:      fetch again after BusyRetryDelay
//	Canceled:  nothing
//	Terminal:  log; the object stays invalid until the next ready transition
//
// # Threading
//
// Objects belong to the loop of their Runtime. Every method must be called
// on that loop.
package object

import (
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/bus"
	"github.com/smnsjas/go-ofonocore/event"
	"github.com/smnsjas/go-ofonocore/loop"
	"github.com/smnsjas/go-ofonocore/names"
	"github.com/smnsjas/go-ofonocore/ofonoerr"
)

// BusyRetryDelay is how long a fetch waits after org.ofono.Error.InProgress.
const BusyRetryDelay = 200 * time.Millisecond

// PropertyChange is delivered to property-changed handlers. Removed is set
// when the property disappeared from the cache; Value is then empty.
type PropertyChange struct {
	Name    string
	Value   dbus.Variant
	Removed bool
}

// Option configures an Object.
type Option func(*Object)

// WithProperties adds a descriptor table. Tables passed earlier take
// precedence when names collide.
func WithProperties(set PropertySet) Option {
	return func(o *Object) {
		o.sets = append(o.sets, set)
	}
}

// WithoutProperties declares that the interface has no GetProperties method.
// Such objects become valid as soon as they are ready.
func WithoutProperties() Option {
	return func(o *Object) {
		o.noProperties = true
	}
}

// WithKind sets the registry kind. Defaults to the interface name.
func WithKind(kind string) Option {
	return func(o *Object) {
		o.kind = kind
	}
}

// WithReadyCheck adds a gate that must hold for the object to be ready.
func WithReadyCheck(fn func() bool) Option {
	return func(o *Object) {
		o.readyChecks = append(o.readyChecks, fn)
	}
}

// WithValidCheck adds a gate that must hold for the object to be valid.
func WithValidCheck(fn func() bool) Option {
	return func(o *Object) {
		o.validChecks = append(o.validChecks, fn)
	}
}

// OnProxy registers a hook run once the proxy has been created.
func OnProxy(fn func(bus.Proxy)) Option {
	return func(o *Object) {
		o.proxyHooks = append(o.proxyHooks, fn)
	}
}

// OnReadyChanged registers a hook run when ready flips, before
// ready-changed handlers.
func OnReadyChanged(fn func(ready bool)) Option {
	return func(o *Object) {
		o.readyHooks = append(o.readyHooks, fn)
	}
}

// OnValidChanged registers a hook run when valid flips, before
// valid-changed handlers.
func OnValidChanged(fn func(valid bool)) Option {
	return func(o *Object) {
		o.validHooks = append(o.validHooks, fn)
	}
}

// OnDispose registers a hook run when the last reference is released.
func OnDispose(fn func()) Option {
	return func(o *Object) {
		o.disposeHooks = append(o.disposeHooks, fn)
	}
}

// WithBusyRetryDelay overrides BusyRetryDelay.
func WithBusyRetryDelay(d time.Duration) Option {
	return func(o *Object) {
		o.busyDelay = d
	}
}

// Object is a local mirror of one interface of a remote object.
type Object struct {
	rt    *Runtime
	log   *slog.Logger
	iface string
	kind  string
	path  dbus.ObjectPath

	sets         []PropertySet
	noProperties bool
	busyDelay    time.Duration
	readyChecks  []func() bool
	validChecks  []func() bool
	proxyHooks   []func(bus.Proxy)
	readyHooks   []func(bool)
	validHooks   []func(bool)
	disposeHooks []func()

	refs        int
	disposed    bool
	proxyCall   *bus.Call
	proxy       bus.Proxy
	unsubscribe func()
	fetch       *bus.Call
	retry       *loop.Timer
	fetched     bool
	ready       bool
	valid       bool
	cache       map[string]dbus.Variant
	pending     map[*Call]struct{}

	readyChanged    event.Signal[*Object]
	validChanged    event.Signal[*Object]
	propertyChanged event.Signal[PropertyChange]
	signals         event.Signal[string]
}

// New creates an object holding one reference. No bus traffic happens until
// Initialize.
func New(rt *Runtime, iface string, path dbus.ObjectPath, opts ...Option) *Object {
	o := &Object{
		rt:        rt,
		iface:     iface,
		kind:      iface,
		path:      path,
		busyDelay: BusyRetryDelay,
		refs:      1,
		cache:     make(map[string]dbus.Variant),
		pending:   make(map[*Call]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = rt.Log().With("iface", iface, "path", string(path))
	rt.Metrics.ObjectCreated(iface)
	return o
}

// Interface returns the D-Bus interface name.
func (o *Object) Interface() string { return o.iface }

// Path returns the object path.
func (o *Object) Path() dbus.ObjectPath { return o.path }

// Kind returns the registry kind.
func (o *Object) Kind() string { return o.kind }

// Runtime returns the runtime the object was created with.
func (o *Object) Runtime() *Runtime { return o.rt }

// Logger returns the object's logger.
func (o *Object) Logger() *slog.Logger { return o.log }

// Ready reports whether the object has a proxy and its ready gates hold.
func (o *Object) Ready() bool { return o.ready }

// Valid reports whether the property cache is complete and trustworthy.
func (o *Object) Valid() bool { return o.valid }

// Disposed reports whether the last reference has been released.
func (o *Object) Disposed() bool { return o.disposed }

// Proxy returns the bus proxy, or nil before it has been created.
func (o *Object) Proxy() bus.Proxy { return o.proxy }

// Property returns the cached raw value of a property.
func (o *Object) Property(name string) (dbus.Variant, bool) {
	v, ok := o.cache[name]
	return v, ok
}

// Properties returns a copy of the property cache.
func (o *Object) Properties() map[string]dbus.Variant {
	return maps.Clone(o.cache)
}

// PropertyNames returns the names of all cached properties, sorted.
func (o *Object) PropertyNames() []string {
	return slices.Sorted(maps.Keys(o.cache))
}

// Encode returns the value of a property as its typed field currently holds
// it, encoded by the property's descriptor.
func (o *Object) Encode(name string) (dbus.Variant, bool) {
	p, ok := o.lookup(name)
	if !ok || p.Value == nil {
		return dbus.Variant{}, false
	}
	return p.Value()
}

// Ref takes another reference.
func (o *Object) Ref() *Object {
	o.refs++
	return o
}

// Release drops a reference. The last release removes the object from the
// registry, cancels everything in flight and disconnects all handlers.
func (o *Object) Release() {
	if o.refs <= 0 {
		return
	}
	o.refs--
	if o.refs == 0 {
		o.dispose()
	}
}

// Initialize starts proxy creation. Calling it again is a no-op.
func (o *Object) Initialize() {
	if o.disposed || o.proxy != nil || o.proxyCall != nil {
		return
	}
	var call *bus.Call
	call = o.rt.Conn.NewProxy(o.iface, o.path, func(p bus.Proxy, err error) {
		o.proxyCreated(call, p, err)
	})
	o.proxyCall = call
}

func (o *Object) proxyCreated(call *bus.Call, p bus.Proxy, err error) {
	if o.disposed || call != o.proxyCall || call.Canceled() {
		if p != nil {
			p.Close()
		}
		return
	}
	o.proxyCall = nil
	if err != nil {
		o.log.Error("failed to create proxy", "error", err)
		return
	}

	o.proxy = p
	if !o.noProperties {
		o.unsubscribe = p.Subscribe(names.PropertyChanged, o.onPropertyChanged)
	}
	for _, hook := range o.proxyHooks {
		hook(p)
	}
	o.UpdateReady()
}

// UpdateReady recomputes ready. Concrete types call it when one of their
// ready gates may have changed.
func (o *Object) UpdateReady() {
	if o.disposed {
		return
	}
	ready := o.proxy != nil && allTrue(o.readyChecks)
	if ready == o.ready {
		return
	}

	o.ready = ready
	wasValid := o.valid
	if ready {
		o.log.Debug("ready")
		o.startFetch()
	} else {
		o.log.Debug("not ready")
		o.valid = false
		o.cancelFetch()
		o.fetched = false
		o.cancelPending()
		o.clearProperties(nil)
	}
	if o.disposed {
		return
	}

	for _, hook := range o.readyHooks {
		hook(ready)
	}
	o.readyChanged.Emit(o)

	if wasValid && !o.valid {
		o.validFlipped(false)
	}
	o.UpdateValid()
}

// UpdateValid recomputes valid. Concrete types call it when one of their
// valid gates may have changed.
func (o *Object) UpdateValid() {
	if o.disposed {
		return
	}
	valid := o.ready &&
		o.fetch == nil &&
		o.retry == nil &&
		(o.noProperties || o.fetched) &&
		allTrue(o.validChecks)
	if valid == o.valid {
		return
	}
	o.valid = valid
	o.validFlipped(valid)
}

func (o *Object) validFlipped(valid bool) {
	o.log.Debug("valid changed", "valid", valid)
	o.rt.Metrics.ValidChanged(o.iface, valid)
	for _, hook := range o.validHooks {
		if o.disposed {
			return
		}
		hook(valid)
	}
	if !o.disposed {
		o.validChanged.Emit(o)
	}
}

// Refresh re-fetches all properties. The object is invalid until the new
// fetch completes.
func (o *Object) Refresh() {
	if o.disposed || !o.ready {
		return
	}
	o.startFetch()
	o.UpdateValid()
}

// ResetProperties drops every cached property except the named ones, firing
// change events for each.
func (o *Object) ResetProperties(except ...string) {
	if o.disposed {
		return
	}
	o.clearProperties(except)
}

func (o *Object) startFetch() {
	o.cancelFetch()
	o.fetched = false
	if o.noProperties || o.proxy == nil {
		return
	}
	var call *bus.Call
	call = o.proxy.Call(names.GetProperties, nil, func(body []any, err error) {
		o.fetchDone(call, body, err)
	})
	o.fetch = call
}

func (o *Object) retryFetch() {
	o.retry = nil
	if o.disposed || !o.ready {
		return
	}
	o.startFetch()
}

func (o *Object) cancelFetch() {
	if o.fetch != nil {
		o.fetch.Cancel()
		o.fetch = nil
	}
	if o.retry != nil {
		o.retry.Stop()
		o.retry = nil
	}
}

func (o *Object) fetchDone(call *bus.Call, body []any, err error) {
	if o.disposed || call != o.fetch || call.Canceled() {
		return
	}
	o.fetch = nil

	if err != nil {
		switch class := ofonoerr.Classify(err); class {
		case ofonoerr.Transient:
			o.log.Debug("property fetch timed out, retrying", "error", err)
			o.rt.Metrics.FetchRetry(o.iface, class.String())
			o.startFetch()
		case ofonoerr.Busy:
			o.log.Debug("service busy, retrying property fetch", "delay", o.busyDelay)
			o.rt.Metrics.FetchRetry(o.iface, class.String())
			o.retry = o.rt.Loop.AfterFunc(o.busyDelay, o.retryFetch)
		case ofonoerr.Canceled:
		default:
			o.log.Error("failed to fetch properties", "error", err)
			o.rt.Metrics.FetchFailure(o.iface)
			o.UpdateValid()
		}
		return
	}

	props, err := bus.DecodeProperties(body)
	if err != nil {
		o.log.Error("malformed GetProperties reply", "error", err)
		o.rt.Metrics.FetchFailure(o.iface)
		o.UpdateValid()
		return
	}

	o.fetched = true
	o.applyProperties(props)
	o.UpdateValid()
}

func (o *Object) onPropertyChanged(body []any) {
	if o.disposed || !o.ready {
		return
	}
	name, value, err := bus.DecodePropertyChanged(body)
	if err != nil {
		o.log.Warn("malformed PropertyChanged signal", "error", err)
		return
	}
	if o.applyOne(name, value) {
		o.emitChanged([]string{name})
	}
}

func (o *Object) applyProperties(props map[string]dbus.Variant) {
	var changed []string
	for _, name := range slices.Sorted(maps.Keys(props)) {
		if o.applyOne(name, props[name]) {
			changed = append(changed, name)
		}
	}
	o.emitChanged(changed)
}

func (o *Object) applyOne(name string, v dbus.Variant) bool {
	old, had := o.cache[name]
	o.cache[name] = v
	if p, ok := o.lookup(name); ok && p.Apply != nil {
		return p.Apply(&v)
	}
	return !had || old.Signature() != v.Signature() || !reflect.DeepEqual(old.Value(), v.Value())
}

// clearProperties removes cached entries not listed in keep and resets
// their descriptors.
func (o *Object) clearProperties(keep []string) {
	if len(o.cache) == 0 {
		return
	}
	var removed []string
	for _, name := range slices.Sorted(maps.Keys(o.cache)) {
		if slices.Contains(keep, name) {
			continue
		}
		delete(o.cache, name)
		if p, ok := o.lookup(name); ok && p.Apply != nil {
			p.Apply(nil)
		}
		removed = append(removed, name)
	}
	o.emitChanged(removed)
}

// emitChanged fires the named and generic events for each property, in
// order, once the whole batch has been applied.
func (o *Object) emitChanged(changed []string) {
	for _, name := range changed {
		if o.disposed {
			return
		}
		if p, ok := o.lookup(name); ok && p.Signal != "" {
			o.signals.EmitDetailed(p.Signal, p.Signal)
		}
		change := PropertyChange{Name: name}
		if v, ok := o.cache[name]; ok {
			change.Value = v
		} else {
			change.Removed = true
		}
		o.propertyChanged.EmitDetailed(name, change)
	}
}

func (o *Object) lookup(name string) (*Property, bool) {
	for _, set := range o.sets {
		if p, ok := set.Lookup(name); ok {
			return p, true
		}
	}
	return nil, false
}

func (o *Object) dispose() {
	if o.disposed {
		return
	}
	o.disposed = true
	o.log.Debug("disposing")

	o.rt.Registry.Remove(o.kind, o.path)
	if o.proxyCall != nil {
		o.proxyCall.Cancel()
		o.proxyCall = nil
	}
	o.cancelFetch()
	o.cancelPending()
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
	if o.proxy != nil {
		o.proxy.Close()
	}
	for _, hook := range o.disposeHooks {
		hook()
	}
	if o.valid {
		o.rt.Metrics.ValidChanged(o.iface, false)
	}
	o.rt.Metrics.ObjectDisposed(o.iface)

	o.readyChanged.Clear()
	o.validChanged.Clear()
	o.propertyChanged.Clear()
	o.signals.Clear()
}

// AddReadyChangedHandler registers fn for ready transitions.
func (o *Object) AddReadyChangedHandler(fn func(*Object)) event.HandlerID {
	return o.readyChanged.Connect(fn)
}

// AddValidChangedHandler registers fn for valid transitions.
func (o *Object) AddValidChangedHandler(fn func(*Object)) event.HandlerID {
	return o.validChanged.Connect(fn)
}

// AddPropertyChangedHandler registers fn for changes of the named property,
// or of every property if name is empty.
func (o *Object) AddPropertyChangedHandler(name string, fn func(*Object, PropertyChange)) event.HandlerID {
	if fn == nil {
		return 0
	}
	return o.propertyChanged.ConnectDetailed(name, func(c PropertyChange) { fn(o, c) })
}

// AddSignalHandler registers fn for a named event such as "powered-changed".
func (o *Object) AddSignalHandler(signal string, fn func(*Object)) event.HandlerID {
	if fn == nil || signal == "" {
		return 0
	}
	return o.signals.ConnectDetailed(signal, func(string) { fn(o) })
}

// EmitSignal fires a named event. Concrete types use it for events derived
// from several properties.
func (o *Object) EmitSignal(signal string) {
	if !o.disposed {
		o.signals.EmitDetailed(signal, signal)
	}
}

// RemoveHandler disconnects a handler registered on this object.
func (o *Object) RemoveHandler(id event.HandlerID) bool {
	return o.readyChanged.Disconnect(id) ||
		o.validChanged.Disconnect(id) ||
		o.propertyChanged.Disconnect(id) ||
		o.signals.Disconnect(id)
}

// RemoveHandlers disconnects several handlers and zeroes the ids.
func (o *Object) RemoveHandlers(ids []event.HandlerID) {
	for i, id := range ids {
		if id != 0 {
			o.RemoveHandler(id)
			ids[i] = 0
		}
	}
}

func allTrue(checks []func() bool) bool {
	for _, check := range checks {
		if !check() {
			return false
		}
	}
	return true
}
