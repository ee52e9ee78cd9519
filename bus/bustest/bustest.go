// Package bustest provides an in-memory bus.Conn for tests.
//
// Calls are either answered automatically by a registered Handler or kept
// pending until the test replies to them. Everything the fake delivers goes
// through the loop, so tests drive it with loop.RunPending:
//
//	b := bustest.New(l)
//	b.SetOwner(":1.1")
//	b.SetProperties(names.Modem, "/ril_0", props)
//	m := modem.New(rt, "/ril_0")
//	l.RunPending()
package bustest

import (
	"fmt"
	"maps"

	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/bus"
	"github.com/smnsjas/go-ofonocore/loop"
	"github.com/smnsjas/go-ofonocore/names"
	"github.com/smnsjas/go-ofonocore/ofonoerr"
)

// Handler answers a method call.
type Handler func(args []any) ([]any, error)

type objectKey struct {
	iface string
	path  dbus.ObjectPath
}

type methodKey struct {
	objectKey
	method string
}

type watch struct {
	name      string
	appeared  func(string)
	vanished  func()
	cancelled bool
}

type subscriber struct {
	fn     func([]any)
	active bool
}

// Bus is a fake bus.Conn. It is not safe for concurrent use; tests call it
// from the goroutine that drains the loop.
type Bus struct {
	loop    *loop.Loop
	service string
	owner   string

	watches   []*watch
	subs      map[methodKey][]*subscriber
	handlers  map[methodKey]Handler
	proxyErrs map[objectKey]error
	proxies   map[objectKey]int
	calls     []*Call
	closed    bool
}

// New creates a fake bus delivering on l. The service is initially unowned.
func New(l *loop.Loop) *Bus {
	return &Bus{
		loop:      l,
		service:   names.Service,
		subs:      make(map[methodKey][]*subscriber),
		handlers:  make(map[methodKey]Handler),
		proxyErrs: make(map[objectKey]error),
		proxies:   make(map[objectKey]int),
	}
}

// SetOwner sets the unique name owning the service. An empty owner makes the
// service vanish. Watchers are notified through the loop.
func (b *Bus) SetOwner(owner string) {
	if owner == b.owner {
		return
	}
	b.owner = owner
	for _, w := range b.watches {
		if w.name == b.service {
			b.notify(w)
		}
	}
}

// Handle registers h for method on (iface, path).
func (b *Bus) Handle(iface string, path dbus.ObjectPath, method string, h Handler) {
	b.handlers[methodKey{objectKey{iface, path}, method}] = h
}

// Unhandle removes a handler registered with Handle; later calls stay pending.
func (b *Bus) Unhandle(iface string, path dbus.ObjectPath, method string) {
	delete(b.handlers, methodKey{objectKey{iface, path}, method})
}

// SetProperties answers GetProperties on (iface, path) with a copy of props.
func (b *Bus) SetProperties(iface string, path dbus.ObjectPath, props map[string]dbus.Variant) {
	snapshot := maps.Clone(props)
	b.Handle(iface, path, names.GetProperties, func([]any) ([]any, error) {
		return []any{maps.Clone(snapshot)}, nil
	})
}

// SetObjects answers an enumeration method (GetModems, GetContexts) on
// (iface, path) with the given paths and empty property maps.
func (b *Bus) SetObjects(iface string, path dbus.ObjectPath, method string, paths ...dbus.ObjectPath) {
	entries := make([]bus.ObjectEntry, len(paths))
	for i, p := range paths {
		entries[i] = bus.ObjectEntry{Path: p, Properties: map[string]dbus.Variant{}}
	}
	b.Handle(iface, path, method, func([]any) ([]any, error) {
		out := make([]bus.ObjectEntry, len(entries))
		copy(out, entries)
		return []any{out}, nil
	})
}

// FailProxy makes proxy creation for (iface, path) fail with err.
func (b *Bus) FailProxy(iface string, path dbus.ObjectPath, err error) {
	b.proxyErrs[objectKey{iface, path}] = err
}

// Emit delivers a signal to subscribers of (iface, path, member).
func (b *Bus) Emit(iface string, path dbus.ObjectPath, member string, body ...any) {
	subs := b.subs[methodKey{objectKey{iface, path}, member}]
	targets := make([]*subscriber, len(subs))
	copy(targets, subs)
	b.loop.Post(func() {
		for _, s := range targets {
			if s.active {
				s.fn(body)
			}
		}
	})
}

// EmitPropertyChanged emits PropertyChanged(name, value) on (iface, path).
func (b *Bus) EmitPropertyChanged(iface string, path dbus.ObjectPath, name string, value any) {
	b.Emit(iface, path, names.PropertyChanged, name, dbus.MakeVariant(value))
}

// Subscribers returns the number of active subscriptions to a signal.
func (b *Bus) Subscribers(iface string, path dbus.ObjectPath, member string) int {
	n := 0
	for _, s := range b.subs[methodKey{objectKey{iface, path}, member}] {
		if s.active {
			n++
		}
	}
	return n
}

// Proxies returns how many proxies were created for (iface, path).
func (b *Bus) Proxies(iface string, path dbus.ObjectPath) int {
	return b.proxies[objectKey{iface, path}]
}

// Calls returns every call made so far matching the filter. Empty filter
// fields match anything.
func (b *Bus) Calls(iface string, path dbus.ObjectPath, method string) []*Call {
	var out []*Call
	for _, c := range b.calls {
		if c.matches(iface, path, method) {
			out = append(out, c)
		}
	}
	return out
}

// Pending returns the unanswered calls matching the filter.
func (b *Bus) Pending(iface string, path dbus.ObjectPath, method string) []*Call {
	var out []*Call
	for _, c := range b.Calls(iface, path, method) {
		if !c.answered {
			out = append(out, c)
		}
	}
	return out
}

// Last returns the most recent call matching the filter, or nil.
func (b *Bus) Last(iface string, path dbus.ObjectPath, method string) *Call {
	calls := b.Calls(iface, path, method)
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

// NewProxy implements bus.Conn.
func (b *Bus) NewProxy(iface string, path dbus.ObjectPath, done func(bus.Proxy, error)) *bus.Call {
	token := bus.NewCall(nil)
	key := objectKey{iface, path}
	b.loop.Post(func() {
		switch {
		case token.Canceled():
			done(nil, ofonoerr.ErrCanceled)
		case b.proxyErrs[key] != nil:
			done(nil, b.proxyErrs[key])
		default:
			b.proxies[key]++
			done(&proxy{bus: b, key: key}, nil)
		}
	})
	return token
}

// WatchName implements bus.Conn.
func (b *Bus) WatchName(name string, appeared func(string), vanished func()) func() {
	w := &watch{name: name, appeared: appeared, vanished: vanished}
	b.watches = append(b.watches, w)
	b.notify(w)
	return func() {
		w.cancelled = true
	}
}

// Close implements bus.Conn.
func (b *Bus) Close() error {
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *Bus) Closed() bool {
	return b.closed
}

func (b *Bus) notify(w *watch) {
	owner := b.owner
	b.loop.Post(func() {
		if w.cancelled {
			return
		}
		if owner != "" {
			w.appeared(owner)
		} else {
			w.vanished()
		}
	})
}

// Call is a method call recorded by the fake.
type Call struct {
	Interface string
	Path      dbus.ObjectPath
	Method    string
	Args      []any

	bus      *Bus
	token    *bus.Call
	done     func([]any, error)
	answered bool
}

func (c *Call) matches(iface string, path dbus.ObjectPath, method string) bool {
	return (iface == "" || iface == c.Interface) &&
		(path == "" || path == c.Path) &&
		(method == "" || method == c.Method)
}

// Reply completes the call successfully with body.
func (c *Call) Reply(body ...any) {
	c.finish(body, nil)
}

// Fail completes the call with err.
func (c *Call) Fail(err error) {
	c.finish(nil, err)
}

// Canceled reports whether the caller canceled the call.
func (c *Call) Canceled() bool {
	return c.token.Canceled()
}

// Answered reports whether Reply or Fail was called.
func (c *Call) Answered() bool {
	return c.answered
}

func (c *Call) String() string {
	return fmt.Sprintf("%s.%s %s %v", c.Interface, c.Method, c.Path, c.Args)
}

func (c *Call) finish(body []any, err error) {
	if c.answered {
		return
	}
	c.answered = true
	c.bus.loop.Post(func() {
		if c.token.Canceled() {
			c.done(nil, ofonoerr.ErrCanceled)
			return
		}
		c.done(body, err)
	})
}

type proxy struct {
	bus    *Bus
	key    objectKey
	subs   []*subscriber
	closed bool
}

func (p *proxy) Interface() string     { return p.key.iface }
func (p *proxy) Path() dbus.ObjectPath { return p.key.path }

func (p *proxy) Call(method string, args []any, done func([]any, error)) *bus.Call {
	c := &Call{
		Interface: p.key.iface,
		Path:      p.key.path,
		Method:    method,
		Args:      args,
		bus:       p.bus,
		token:     bus.NewCall(nil),
		done:      done,
	}
	p.bus.calls = append(p.bus.calls, c)
	if h, ok := p.bus.handlers[methodKey{p.key, method}]; ok {
		body, err := h(args)
		c.finish(body, err)
	}
	return c.token
}

func (p *proxy) Subscribe(member string, fn func([]any)) func() {
	s := &subscriber{fn: fn, active: true}
	key := methodKey{p.key, member}
	p.bus.subs[key] = append(p.bus.subs[key], s)
	p.subs = append(p.subs, s)
	return func() {
		s.active = false
	}
}

func (p *proxy) Close() {
	p.closed = true
	for _, s := range p.subs {
		s.active = false
	}
}
