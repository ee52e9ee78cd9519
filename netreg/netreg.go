// Package netreg mirrors org.ofono.NetworkRegistration.
package netreg

import (
	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/binding"
	"github.com/smnsjas/go-ofonocore/event"
	"github.com/smnsjas/go-ofonocore/names"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/smnsjas/go-ofonocore/registry"
)

// Status is the registration status.
type Status int

const (
	StatusUnknown Status = iota
	StatusUnregistered
	StatusRegistered
	StatusSearching
	StatusDenied
	StatusRoaming
)

var statusNames = names.NewEnum("unregistered", "registered", "searching", "denied", "roaming")

func (s Status) String() string {
	if n := statusNames.Name(int(s)); n != "" {
		return n
	}
	return "unknown"
}

// Mode is the operator selection mode.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeAuto
	ModeAutoOnly
	ModeManual
)

var modeNames = names.NewEnum("auto", "auto-only", "manual")

func (m Mode) String() string {
	if n := modeNames.Name(int(m)); n != "" {
		return n
	}
	return "unknown"
}

// Named events.
const (
	StatusChanged           = "status-changed"
	ModeChanged             = "mode-changed"
	TechnologyChanged       = "technology-changed"
	NameChanged             = "name-changed"
	MCCChanged              = "mcc-changed"
	MNCChanged              = "mnc-changed"
	LocationAreaCodeChanged = "location-area-code-changed"
	CellIDChanged           = "cell-id-changed"
	StrengthChanged         = "strength-changed"
)

// NetReg is the network registration of one modem.
type NetReg struct {
	*binding.Binding

	Status           Status
	Mode             Mode
	Technology       string
	Name             string
	MCC              string
	MNC              string
	LocationAreaCode uint16
	CellID           uint32
	Strength         byte
}

// Get returns the network registration of the modem at path, creating it on
// first use. The caller owns one reference.
func Get(rt *object.Runtime, path dbus.ObjectPath) *NetReg {
	n, created := registry.GetOrCreate(rt.Registry, names.NetworkRegistration, path, func() *NetReg {
		return newNetReg(rt, path)
	})
	if created {
		n.Initialize()
	} else {
		n.Ref()
	}
	return n
}

func newNetReg(rt *object.Runtime, path dbus.ObjectPath) *NetReg {
	n := &NetReg{}
	props := object.PropertySet{
		object.Enum(names.NetRegStatus, StatusChanged, &n.Status, statusNames),
		object.Enum(names.NetRegMode, ModeChanged, &n.Mode, modeNames),
		object.String(names.NetRegTechnology, TechnologyChanged, &n.Technology),
		object.String(names.NetRegName, NameChanged, &n.Name),
		object.String(names.NetRegMCC, MCCChanged, &n.MCC),
		object.String(names.NetRegMNC, MNCChanged, &n.MNC),
		object.Scalar(names.NetRegLocationAreaCode, LocationAreaCodeChanged, &n.LocationAreaCode),
		object.Scalar(names.NetRegCellID, CellIDChanged, &n.CellID),
		object.Scalar(names.NetRegStrength, StrengthChanged, &n.Strength),
	}
	n.Binding = binding.New(rt, names.NetworkRegistration, path, object.WithProperties(props))
	return n
}

// Registered reports whether the modem is registered, at home or roaming.
func (n *NetReg) Registered() bool {
	return n.Status == StatusRegistered || n.Status == StatusRoaming
}

// Register asks the modem to register with the default operator.
func (n *NetReg) Register(done func(error)) (*object.Call, error) {
	return n.CallMethod(names.Register, nil, func(_ []any, err error) {
		if done != nil {
			done(err)
		}
	})
}

// AddStatusChangedHandler registers fn for changes of Status.
func (n *NetReg) AddStatusChangedHandler(fn func(*NetReg)) event.HandlerID {
	return n.AddSignalHandler(StatusChanged, func(*object.Object) { fn(n) })
}

// AddStrengthChangedHandler registers fn for changes of Strength.
func (n *NetReg) AddStrengthChangedHandler(fn func(*NetReg)) event.HandlerID {
	return n.AddSignalHandler(StrengthChanged, func(*object.Object) { fn(n) })
}
