package simmgr

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/bus/bustest"
	"github.com/smnsjas/go-ofonocore/loop"
	"github.com/smnsjas/go-ofonocore/names"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/smnsjas/go-ofonocore/ofonoerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modemPath = dbus.ObjectPath("/ril_0")

func setup(t *testing.T, sim map[string]dbus.Variant) (*loop.Loop, *bustest.Bus, *object.Runtime) {
	t.Helper()
	l := loop.New(loop.WithClock(clock.NewMock()))
	b := bustest.New(l)
	b.SetOwner(":1.1")
	b.SetObjects(names.Manager, names.ManagerPath, names.GetModems, modemPath)
	b.SetProperties(names.Modem, modemPath, map[string]dbus.Variant{
		names.ModemInterfaces: dbus.MakeVariant([]string{names.SimManager}),
	})
	b.SetProperties(names.SimManager, modemPath, sim)
	return l, b, object.NewRuntime(b, l)
}

func presentSIM() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		names.SimPresent:     dbus.MakeVariant(true),
		names.SimIMSI:        dbus.MakeVariant("244120000000000"),
		names.SimMCC:         dbus.MakeVariant("244"),
		names.SimMNC:         dbus.MakeVariant("12"),
		names.SimSPN:         dbus.MakeVariant("Operator"),
		names.SimPinRequired: dbus.MakeVariant("pin"),
	}
}

func TestSimMgrProperties(t *testing.T) {
	l, b, rt := setup(t, presentSIM())
	s := Get(rt, modemPath)
	defer s.Release()
	l.RunPending()

	require.True(t, s.Valid())
	assert.True(t, s.Present)
	assert.Equal(t, "244120000000000", s.IMSI)
	assert.Equal(t, "244", s.MCC)
	assert.Equal(t, "12", s.MNC)
	assert.Equal(t, "Operator", s.SPN)
	assert.Equal(t, PinPin, s.PinRequired)
	assert.Len(t, b.Calls(names.SimManager, modemPath, names.GetProperties), 1, "no extra fetch for the initial Present")

	var pins []Pin
	s.AddPinRequiredChangedHandler(func(s *SimMgr) { pins = append(pins, s.PinRequired) })
	b.EmitPropertyChanged(names.SimManager, modemPath, names.SimPinRequired, "none")
	l.RunPending()
	assert.Equal(t, []Pin{PinNone}, pins)
}

func TestSimMgrRemovalResetsProperties(t *testing.T) {
	l, b, rt := setup(t, presentSIM())
	s := Get(rt, modemPath)
	defer s.Release()
	l.RunPending()
	require.True(t, s.Valid())

	var present []bool
	s.AddPresentChangedHandler(func(s *SimMgr) { present = append(present, s.Present) })

	b.EmitPropertyChanged(names.SimManager, modemPath, names.SimPresent, false)
	l.RunPending()
	assert.False(t, s.Present)
	assert.Empty(t, s.IMSI)
	assert.Empty(t, s.MCC)
	assert.Equal(t, PinUnknown, s.PinRequired)
	assert.Equal(t, []string{names.SimPresent}, s.PropertyNames())
	assert.True(t, s.Valid())

	b.Unhandle(names.SimManager, modemPath, names.GetProperties)
	b.EmitPropertyChanged(names.SimManager, modemPath, names.SimPresent, true)
	l.RunPending()
	assert.False(t, s.Valid(), "invalid while the SIM is re-read")

	b.Last(names.SimManager, modemPath, names.GetProperties).Reply(presentSIM())
	l.RunPending()
	assert.True(t, s.Valid())
	assert.Equal(t, "244", s.MCC)
	assert.Len(t, b.Calls(names.SimManager, modemPath, names.GetProperties), 2)
	assert.Equal(t, []bool{false, true}, present)
}

func TestSimMgrPinMethods(t *testing.T) {
	l, b, rt := setup(t, presentSIM())
	s := Get(rt, modemPath)
	defer s.Release()
	l.RunPending()
	require.True(t, s.Valid())

	b.Handle(names.SimManager, modemPath, names.EnterPin, func([]any) ([]any, error) {
		return nil, ofonoerr.New(ofonoerr.CodeIncorrectPassword, "wrong")
	})
	var enterErr error
	_, err := s.EnterPin(PinPin, "0000", func(err error) { enterErr = err })
	require.NoError(t, err)
	l.RunPending()
	code, ok := ofonoerr.CodeOf(enterErr)
	require.True(t, ok)
	assert.Equal(t, ofonoerr.CodeIncorrectPassword, code)

	tests := []struct {
		name   string
		call   func() (*object.Call, error)
		method string
		args   []any
	}{
		{"reset", func() (*object.Call, error) { return s.ResetPin(PinPuk, "12345678", "1234", nil) },
			names.ResetPin, []any{"puk", "12345678", "1234"}},
		{"change", func() (*object.Call, error) { return s.ChangePin(PinPin2, "1111", "2222", nil) },
			names.ChangePin, []any{"pin2", "1111", "2222"}},
		{"lock", func() (*object.Call, error) { return s.LockPin(PinPhone, "1234", nil) },
			names.LockPin, []any{"phone", "1234"}},
		{"unlock", func() (*object.Call, error) { return s.UnlockPin(PinPin, "1234", nil) },
			names.UnlockPin, []any{"pin", "1234"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := tt.call()
			require.NoError(t, err)
			require.NotNil(t, call)
			last := b.Last(names.SimManager, modemPath, tt.method)
			require.NotNil(t, last)
			assert.Equal(t, tt.args, last.Args)
		})
	}

	_, err = s.EnterPin(PinNone, "0000", nil)
	assert.Error(t, err)
	_, err = s.EnterPin(Pin(99), "0000", nil)
	assert.Error(t, err)
}

func TestPinNames(t *testing.T) {
	p, ok := ParsePin("firstphonepuk")
	require.True(t, ok)
	assert.Equal(t, PinFirstPhonePuk, p)
	assert.Equal(t, "corppuk", PinCorpPuk.String())
	assert.Equal(t, "unknown", PinUnknown.String())
	_, ok = ParsePin("sim")
	assert.False(t, ok)
}
