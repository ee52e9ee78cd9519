// Package binding implements objects for modem-scoped oFono interfaces.
//
// A Binding lives at a modem's path and mirrors one of the interfaces the
// modem advertises in its Interfaces property (SimManager,
// ConnectionManager, NetworkRegistration, ...). It is ready only while the
// modem is valid and lists the interface; when either stops holding, the
// binding drops its cache and becomes invalid.
package binding

import (
	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/event"
	"github.com/smnsjas/go-ofonocore/modem"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/smnsjas/go-ofonocore/registry"
)

// Binding is an object gated on its modem.
type Binding struct {
	*object.Object

	modem    *modem.Modem
	handlers []event.HandlerID
}

// New creates a binding for iface at path holding one reference. It takes a
// reference on the modem at path, released when the binding is disposed.
// Concrete types pass their own options and call Initialize afterwards.
func New(rt *object.Runtime, iface string, path dbus.ObjectPath, opts ...object.Option) *Binding {
	b := &Binding{modem: modem.Get(rt, path)}
	all := append([]object.Option{
		object.WithReadyCheck(func() bool {
			return b.modem.Valid() && b.modem.HasInterface(iface)
		}),
		object.OnDispose(b.dispose),
	}, opts...)
	b.Object = object.New(rt, iface, path, all...)

	b.handlers = []event.HandlerID{
		b.modem.AddValidChangedHandler(func(*object.Object) { b.UpdateReady() }),
		b.modem.AddInterfacesChangedHandler(func(*modem.Modem) { b.UpdateReady() }),
	}
	return b
}

// GenericKind is the registry kind of untyped bindings for iface.
func GenericKind(iface string) string {
	return iface + "#generic"
}

// Get returns an untyped binding for iface at path, creating it on first
// use. Its properties are available only through the raw cache. The caller
// owns one reference.
func Get(rt *object.Runtime, iface string, path dbus.ObjectPath) *Binding {
	kind := GenericKind(iface)
	b, created := registry.GetOrCreate(rt.Registry, kind, path, func() *Binding {
		return New(rt, iface, path, object.WithKind(kind))
	})
	if created {
		b.Initialize()
	} else {
		b.Ref()
	}
	return b
}

// Modem returns the modem the binding is attached to.
func (b *Binding) Modem() *modem.Modem {
	return b.modem
}

func (b *Binding) dispose() {
	for _, id := range b.handlers {
		b.modem.RemoveHandler(id)
	}
	b.handlers = nil
	b.modem.Release()
}
