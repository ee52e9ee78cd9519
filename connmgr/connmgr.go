// Package connmgr mirrors org.ofono.ConnectionManager and the connection
// contexts it owns.
package connmgr

import (
	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/binding"
	"github.com/smnsjas/go-ofonocore/bus"
	"github.com/smnsjas/go-ofonocore/collection"
	"github.com/smnsjas/go-ofonocore/connctx"
	"github.com/smnsjas/go-ofonocore/event"
	"github.com/smnsjas/go-ofonocore/names"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/smnsjas/go-ofonocore/registry"
)

// Named events.
const (
	AttachedChanged       = "attached-changed"
	RoamingAllowedChanged = "roaming-allowed-changed"
	PoweredChanged        = "powered-changed"
)

// ConnMgr is the connection manager of one modem. It is valid once its
// properties are known and every context it lists is valid.
type ConnMgr struct {
	*binding.Binding

	Attached       bool
	RoamingAllowed bool
	Powered        bool

	contexts *collection.Tracker[*connctx.ConnCtx]
	unsub    []func()
}

// Get returns the connection manager of the modem at path, creating it on
// first use. The caller owns one reference.
func Get(rt *object.Runtime, path dbus.ObjectPath) *ConnMgr {
	c, created := registry.GetOrCreate(rt.Registry, names.ConnectionManager, path, func() *ConnMgr {
		return newConnMgr(rt, path)
	})
	if created {
		c.Initialize()
	} else {
		c.Ref()
	}
	return c
}

func newConnMgr(rt *object.Runtime, path dbus.ObjectPath) *ConnMgr {
	c := &ConnMgr{}
	c.contexts = collection.New(rt,
		func(p dbus.ObjectPath) *connctx.ConnCtx { return connctx.Get(rt, p) },
		collection.WithName(names.GetContexts),
		collection.WithGate(func() bool { return c.Ready() }),
		collection.OnUpdate(func() { c.UpdateValid() }),
	)
	props := object.PropertySet{
		object.Bool(names.ConnMgrAttached, AttachedChanged, &c.Attached),
		object.Bool(names.ConnMgrRoamingAllowed, RoamingAllowedChanged, &c.RoamingAllowed),
		object.Bool(names.ConnMgrPowered, PoweredChanged, &c.Powered),
	}
	c.Binding = binding.New(rt, names.ConnectionManager, path,
		object.WithProperties(props),
		object.WithValidCheck(c.contexts.Valid),
		object.OnProxy(c.proxyCreated),
		object.OnReadyChanged(c.readyChanged),
		object.OnDispose(c.dispose),
	)
	return c
}

func (c *ConnMgr) proxyCreated(p bus.Proxy) {
	c.unsub = append(c.unsub,
		p.Subscribe(names.ContextAdded, c.onContextAdded),
		p.Subscribe(names.ContextRemoved, c.onContextRemoved),
	)
}

func (c *ConnMgr) readyChanged(ready bool) {
	if ready {
		c.contexts.Start(c.Proxy(), names.GetContexts)
	} else {
		c.contexts.Reset()
	}
}

func (c *ConnMgr) onContextAdded(body []any) {
	if !c.Ready() {
		return
	}
	path, err := bus.DecodeObjectPath(body)
	if err != nil {
		c.Logger().Warn("malformed ContextAdded signal", "error", err)
		return
	}
	c.contexts.AddChild(path)
}

func (c *ConnMgr) onContextRemoved(body []any) {
	if !c.Ready() {
		return
	}
	path, err := bus.DecodeObjectPath(body)
	if err != nil {
		c.Logger().Warn("malformed ContextRemoved signal", "error", err)
		return
	}
	c.contexts.RemoveChild(path)
}

// Contexts returns the valid contexts sorted by path, or nothing while the
// connection manager is not valid.
func (c *ConnMgr) Contexts() []*connctx.ConnCtx {
	if !c.Valid() {
		return []*connctx.ConnCtx{}
	}
	return c.contexts.All()
}

// Context returns the valid context at path.
func (c *ConnMgr) Context(path dbus.ObjectPath) (*connctx.ConnCtx, bool) {
	if !c.Valid() {
		return nil, false
	}
	return c.contexts.ByPath(path)
}

// ContextForType returns the first valid context of type t.
func (c *ConnMgr) ContextForType(t connctx.Type) (*connctx.ConnCtx, bool) {
	for _, ctx := range c.Contexts() {
		if ctx.Type == t {
			return ctx, true
		}
	}
	return nil, false
}

// SetPowered enables or disables packet data.
func (c *ConnMgr) SetPowered(on bool, done func(error)) (*object.Call, error) {
	return c.SetBool(names.ConnMgrPowered, on, done)
}

// SetRoamingAllowed allows or forbids packet data while roaming.
func (c *ConnMgr) SetRoamingAllowed(allowed bool, done func(error)) (*object.Call, error) {
	return c.SetBool(names.ConnMgrRoamingAllowed, allowed, done)
}

// AddContextAddedHandler registers fn for contexts joining a valid
// connection manager.
func (c *ConnMgr) AddContextAddedHandler(fn func(*connctx.ConnCtx)) event.HandlerID {
	return c.contexts.AddAddedHandler(fn)
}

// AddContextRemovedHandler registers fn for contexts leaving a valid
// connection manager.
func (c *ConnMgr) AddContextRemovedHandler(fn func(*connctx.ConnCtx)) event.HandlerID {
	return c.contexts.AddRemovedHandler(fn)
}

// RemoveHandler disconnects a handler registered on c.
func (c *ConnMgr) RemoveHandler(id event.HandlerID) bool {
	return c.Binding.RemoveHandler(id) || c.contexts.RemoveHandler(id)
}

func (c *ConnMgr) dispose() {
	for _, unsubscribe := range c.unsub {
		unsubscribe()
	}
	c.unsub = nil
	c.contexts.Close()
}
