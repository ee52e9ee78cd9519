// Package manager keeps the set of modems exported by oFono.
package manager

import (
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/bus"
	"github.com/smnsjas/go-ofonocore/collection"
	"github.com/smnsjas/go-ofonocore/event"
	"github.com/smnsjas/go-ofonocore/modem"
	"github.com/smnsjas/go-ofonocore/names"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/smnsjas/go-ofonocore/registry"
	"github.com/smnsjas/go-ofonocore/service"
)

// Kind is the registry kind of the per-client Manager.
const Kind = "manager"

// Manager tracks every modem listed by the service. It is valid once the
// service is valid and every listed modem is valid.
type Manager struct {
	rt  *object.Runtime
	log *slog.Logger

	refs     int
	disposed bool
	valid    bool

	svc         *service.Service
	svcHandlers []event.HandlerID
	modems      *collection.Tracker[*modem.Modem]

	validChanged event.Signal[*Manager]
}

// Get returns the Manager of rt, creating it on first use. The caller owns
// one reference.
func Get(rt *object.Runtime) *Manager {
	m, created := registry.GetOrCreate(rt.Registry, Kind, names.ManagerPath, func() *Manager {
		return newManager(rt)
	})
	if created {
		m.serviceChanged()
	} else {
		m.Ref()
	}
	return m
}

func newManager(rt *object.Runtime) *Manager {
	m := &Manager{
		rt:   rt,
		log:  rt.Log().With("component", "manager"),
		refs: 1,
		svc:  service.Get(rt),
	}
	m.modems = collection.New(rt,
		func(path dbus.ObjectPath) *modem.Modem { return modem.Get(rt, path) },
		collection.WithName("modems"),
		collection.WithGate(m.svc.Valid),
		collection.OnUpdate(m.updateValid),
	)
	m.svcHandlers = []event.HandlerID{
		m.svc.AddValidChangedHandler(func(*service.Service) { m.serviceChanged() }),
		m.svc.AddModemAddedHandler(m.modems.AddChild),
		m.svc.AddModemRemovedHandler(m.modems.RemoveChild),
	}
	return m
}

func (m *Manager) serviceChanged() {
	if m.svc.Valid() {
		m.modems.StartFunc(func(done func([]dbus.ObjectPath, error)) *bus.Call {
			done(m.svc.Paths(), nil)
			return nil
		})
	} else {
		m.modems.Reset()
	}
}

func (m *Manager) updateValid() {
	valid := !m.disposed && m.svc.Valid() && m.modems.Valid()
	if valid == m.valid {
		return
	}
	m.valid = valid
	m.log.Debug("valid changed", "valid", valid)
	m.validChanged.Emit(m)
}

// Valid reports whether the modem list is complete.
func (m *Manager) Valid() bool { return m.valid }

// Service returns the underlying service tracker.
func (m *Manager) Service() *service.Service { return m.svc }

// Modems returns the valid modems sorted by path, or nothing while the
// manager is not valid.
func (m *Manager) Modems() []*modem.Modem {
	return m.modems.All()
}

// Modem returns the valid modem at path.
func (m *Manager) Modem(path dbus.ObjectPath) (*modem.Modem, bool) {
	return m.modems.ByPath(path)
}

// DefaultModem returns the valid modem with the lowest path.
func (m *Manager) DefaultModem() (*modem.Modem, bool) {
	return m.modems.First()
}

// Ref takes another reference.
func (m *Manager) Ref() *Manager {
	m.refs++
	return m
}

// Release drops a reference. The last one releases every modem.
func (m *Manager) Release() {
	if m.refs <= 0 {
		return
	}
	m.refs--
	if m.refs > 0 {
		return
	}
	m.disposed = true
	m.rt.Registry.Remove(Kind, names.ManagerPath)
	for _, id := range m.svcHandlers {
		m.svc.RemoveHandler(id)
	}
	m.svcHandlers = nil
	m.modems.Close()
	m.validChanged.Clear()
	m.svc.Release()
}

// AddValidChangedHandler registers fn for valid transitions.
func (m *Manager) AddValidChangedHandler(fn func(*Manager)) event.HandlerID {
	return m.validChanged.Connect(fn)
}

// AddModemAddedHandler registers fn for modems joining a valid manager.
func (m *Manager) AddModemAddedHandler(fn func(*modem.Modem)) event.HandlerID {
	return m.modems.AddAddedHandler(fn)
}

// AddModemRemovedHandler registers fn for modems leaving a valid manager.
func (m *Manager) AddModemRemovedHandler(fn func(*modem.Modem)) event.HandlerID {
	return m.modems.AddRemovedHandler(fn)
}

// RemoveHandler disconnects a handler registered on m.
func (m *Manager) RemoveHandler(id event.HandlerID) bool {
	return m.validChanged.Disconnect(id) || m.modems.RemoveHandler(id)
}
