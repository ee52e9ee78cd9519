// Package modem mirrors org.ofono.Modem objects.
package modem

import (
	"slices"

	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/event"
	"github.com/smnsjas/go-ofonocore/names"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/smnsjas/go-ofonocore/registry"
	"github.com/smnsjas/go-ofonocore/service"
)

// Named events.
const (
	PoweredChanged      = "powered-changed"
	OnlineChanged       = "online-changed"
	LockdownChanged     = "lockdown-changed"
	EmergencyChanged    = "emergency-changed"
	NameChanged         = "name-changed"
	ManufacturerChanged = "manufacturer-changed"
	ModelChanged        = "model-changed"
	RevisionChanged     = "revision-changed"
	SerialChanged       = "serial-changed"
	TypeChanged         = "type-changed"
	FeaturesChanged     = "features-changed"
	InterfacesChanged   = "interfaces-changed"
)

// Modem is one modem exported by oFono. It is ready only while the service
// is valid and lists its path.
type Modem struct {
	*object.Object

	Powered      bool
	Online       bool
	Lockdown     bool
	Emergency    bool
	Name         string
	Manufacturer string
	Model        string
	Revision     string
	Serial       string
	Type         string
	Features     []string
	Interfaces   []string

	svc         *service.Service
	svcHandlers []event.HandlerID
}

// Get returns the modem at path, creating it on first use. The caller owns
// one reference.
func Get(rt *object.Runtime, path dbus.ObjectPath) *Modem {
	m, created := registry.GetOrCreate(rt.Registry, names.Modem, path, func() *Modem {
		return newModem(rt, path)
	})
	if created {
		m.Initialize()
	} else {
		m.Ref()
	}
	return m
}

func newModem(rt *object.Runtime, path dbus.ObjectPath) *Modem {
	m := &Modem{svc: service.Get(rt)}
	props := object.PropertySet{
		object.Bool(names.ModemPowered, PoweredChanged, &m.Powered),
		object.Bool(names.ModemOnline, OnlineChanged, &m.Online),
		object.Bool(names.ModemLockdown, LockdownChanged, &m.Lockdown),
		object.Bool(names.ModemEmergency, EmergencyChanged, &m.Emergency),
		object.String(names.ModemName, NameChanged, &m.Name),
		object.String(names.ModemManufacturer, ManufacturerChanged, &m.Manufacturer),
		object.String(names.ModemModel, ModelChanged, &m.Model),
		object.String(names.ModemRevision, RevisionChanged, &m.Revision),
		object.String(names.ModemSerial, SerialChanged, &m.Serial),
		object.String(names.ModemType, TypeChanged, &m.Type),
		object.Strings(names.ModemFeatures, FeaturesChanged, &m.Features),
		object.Strings(names.ModemInterfaces, InterfacesChanged, &m.Interfaces),
	}
	m.Object = object.New(rt, names.Modem, path,
		object.WithProperties(props),
		object.WithReadyCheck(func() bool { return m.svc.Has(path) }),
		object.OnDispose(m.dispose),
	)

	update := func() { m.UpdateReady() }
	pathUpdate := func(p dbus.ObjectPath) {
		if p == path {
			m.UpdateReady()
		}
	}
	m.svcHandlers = []event.HandlerID{
		m.svc.AddValidChangedHandler(func(*service.Service) { update() }),
		m.svc.AddModemAddedHandler(pathUpdate),
		m.svc.AddModemRemovedHandler(pathUpdate),
	}
	return m
}

// HasInterface reports whether the modem currently lists iface.
func (m *Modem) HasInterface(iface string) bool {
	return slices.Contains(m.Interfaces, iface)
}

// Service returns the service the modem belongs to.
func (m *Modem) Service() *service.Service {
	return m.svc
}

// SetPowered powers the modem on or off.
func (m *Modem) SetPowered(on bool, done func(error)) (*object.Call, error) {
	return m.SetBool(names.ModemPowered, on, done)
}

// SetOnline switches the radio on or off.
func (m *Modem) SetOnline(on bool, done func(error)) (*object.Call, error) {
	return m.SetBool(names.ModemOnline, on, done)
}

// SetLockdown locks the modem down or releases it.
func (m *Modem) SetLockdown(on bool, done func(error)) (*object.Call, error) {
	return m.SetBool(names.ModemLockdown, on, done)
}

// AddInterfacesChangedHandler registers fn for changes of Interfaces.
func (m *Modem) AddInterfacesChangedHandler(fn func(*Modem)) event.HandlerID {
	return m.AddSignalHandler(InterfacesChanged, func(*object.Object) { fn(m) })
}

func (m *Modem) dispose() {
	for _, id := range m.svcHandlers {
		m.svc.RemoveHandler(id)
	}
	m.svcHandlers = nil
	m.svc.Release()
}
