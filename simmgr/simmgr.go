// Package simmgr mirrors org.ofono.SimManager.
package simmgr

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/binding"
	"github.com/smnsjas/go-ofonocore/event"
	"github.com/smnsjas/go-ofonocore/names"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/smnsjas/go-ofonocore/registry"
)

// Pin is a PIN or PUK type, as used by PinRequired and the PIN methods.
type Pin int

const (
	PinUnknown Pin = iota
	PinNone
	PinPin
	PinPhone
	PinFirstPhone
	PinPin2
	PinNetwork
	PinNetSub
	PinService
	PinCorp
	PinPuk
	PinFirstPhonePuk
	PinPuk2
	PinNetworkPuk
	PinNetSubPuk
	PinServicePuk
	PinCorpPuk
)

var pinNames = names.NewEnum(
	"none", "pin", "phone", "firstphone", "pin2", "network", "netsub",
	"service", "corp", "puk", "firstphonepuk", "puk2", "networkpuk",
	"netsubpuk", "servicepuk", "corppuk",
)

func (p Pin) String() string {
	if s := pinNames.Name(int(p)); s != "" {
		return s
	}
	return "unknown"
}

// ParsePin maps oFono's textual PIN type onto a Pin.
func ParsePin(s string) (Pin, bool) {
	v, ok := pinNames.Value(s)
	return Pin(v), ok
}

// Named events.
const (
	PresentChanged     = "present-changed"
	IMSIChanged        = "imsi-changed"
	MCCChanged         = "mcc-changed"
	MNCChanged         = "mnc-changed"
	SPNChanged         = "spn-changed"
	PinRequiredChanged = "pin-required-changed"
)

// SimMgr is the SIM manager of one modem.
type SimMgr struct {
	*binding.Binding

	Present     bool
	IMSI        string
	MCC         string
	MNC         string
	SPN         string
	PinRequired Pin
}

// Get returns the SIM manager of the modem at path, creating it on first
// use. The caller owns one reference.
func Get(rt *object.Runtime, path dbus.ObjectPath) *SimMgr {
	s, created := registry.GetOrCreate(rt.Registry, names.SimManager, path, func() *SimMgr {
		return newSimMgr(rt, path)
	})
	if created {
		s.Initialize()
	} else {
		s.Ref()
	}
	return s
}

func newSimMgr(rt *object.Runtime, path dbus.ObjectPath) *SimMgr {
	s := &SimMgr{}
	props := object.PropertySet{
		object.Bool(names.SimPresent, PresentChanged, &s.Present),
		object.String(names.SimIMSI, IMSIChanged, &s.IMSI),
		object.String(names.SimMCC, MCCChanged, &s.MCC),
		object.String(names.SimMNC, MNCChanged, &s.MNC),
		object.String(names.SimSPN, SPNChanged, &s.SPN),
		object.Enum(names.SimPinRequired, PinRequiredChanged, &s.PinRequired, pinNames),
	}
	s.Binding = binding.New(rt, names.SimManager, path, object.WithProperties(props))
	s.AddPropertyChangedHandler(names.SimPresent, s.presentChanged)
	return s
}

// presentChanged refreshes everything when a SIM is inserted and drops the
// SIM's properties when it is removed.
func (s *SimMgr) presentChanged(_ *object.Object, c object.PropertyChange) {
	if c.Removed {
		return
	}
	if s.Present {
		s.Logger().Debug("SIM present")
		if s.Valid() {
			s.Refresh()
		}
	} else {
		s.Logger().Debug("SIM not present")
		s.ResetProperties(names.SimPresent)
	}
}

// EnterPin supplies a PIN of type pin.
func (s *SimMgr) EnterPin(pin Pin, code string, done func(error)) (*object.Call, error) {
	t, err := pinType(pin)
	if err != nil {
		return nil, err
	}
	return s.call(names.EnterPin, done, t, code)
}

// ResetPin unblocks a PIN with its PUK and sets a new PIN.
func (s *SimMgr) ResetPin(puk Pin, pukCode, newPin string, done func(error)) (*object.Call, error) {
	t, err := pinType(puk)
	if err != nil {
		return nil, err
	}
	return s.call(names.ResetPin, done, t, pukCode, newPin)
}

// ChangePin replaces a PIN.
func (s *SimMgr) ChangePin(pin Pin, oldPin, newPin string, done func(error)) (*object.Call, error) {
	t, err := pinType(pin)
	if err != nil {
		return nil, err
	}
	return s.call(names.ChangePin, done, t, oldPin, newPin)
}

// LockPin enables PIN protection.
func (s *SimMgr) LockPin(pin Pin, code string, done func(error)) (*object.Call, error) {
	t, err := pinType(pin)
	if err != nil {
		return nil, err
	}
	return s.call(names.LockPin, done, t, code)
}

// UnlockPin disables PIN protection.
func (s *SimMgr) UnlockPin(pin Pin, code string, done func(error)) (*object.Call, error) {
	t, err := pinType(pin)
	if err != nil {
		return nil, err
	}
	return s.call(names.UnlockPin, done, t, code)
}

func pinType(p Pin) (string, error) {
	if p == PinNone || pinNames.Name(int(p)) == "" {
		return "", fmt.Errorf("invalid PIN type %v", p)
	}
	return pinNames.Name(int(p)), nil
}

func (s *SimMgr) call(method string, done func(error), args ...any) (*object.Call, error) {
	return s.CallMethod(method, args, func(_ []any, err error) {
		if done != nil {
			done(err)
		}
	})
}

// AddPresentChangedHandler registers fn for changes of Present.
func (s *SimMgr) AddPresentChangedHandler(fn func(*SimMgr)) event.HandlerID {
	return s.AddSignalHandler(PresentChanged, func(*object.Object) { fn(s) })
}

// AddPinRequiredChangedHandler registers fn for changes of PinRequired.
func (s *SimMgr) AddPinRequiredChangedHandler(fn func(*SimMgr)) event.HandlerID {
	return s.AddSignalHandler(PinRequiredChanged, func(*object.Object) { fn(s) })
}
