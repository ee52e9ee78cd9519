package modem

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/bus/bustest"
	"github.com/smnsjas/go-ofonocore/loop"
	"github.com/smnsjas/go-ofonocore/names"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const path = dbus.ObjectPath("/ril_0")

func setup(t *testing.T) (*loop.Loop, *bustest.Bus, *object.Runtime) {
	t.Helper()
	l := loop.New(loop.WithClock(clock.NewMock()))
	b := bustest.New(l)
	b.SetObjects(names.Manager, names.ManagerPath, names.GetModems, path)
	b.SetProperties(names.Modem, path, map[string]dbus.Variant{
		names.ModemPowered:      dbus.MakeVariant(true),
		names.ModemOnline:       dbus.MakeVariant(false),
		names.ModemManufacturer: dbus.MakeVariant("Jolla"),
		names.ModemType:         dbus.MakeVariant("hardware"),
		names.ModemFeatures:     dbus.MakeVariant([]string{"gprs", "sim"}),
		names.ModemInterfaces:   dbus.MakeVariant([]string{names.SimManager}),
	})
	return l, b, object.NewRuntime(b, l)
}

func TestModemFollowsService(t *testing.T) {
	l, b, rt := setup(t)
	m := Get(rt, path)
	defer m.Release()

	l.RunPending()
	assert.False(t, m.Ready(), "service not running")

	b.SetOwner(":1.1")
	l.RunPending()
	require.True(t, m.Valid())
	assert.True(t, m.Powered)
	assert.False(t, m.Online)
	assert.Equal(t, "Jolla", m.Manufacturer)
	assert.Equal(t, "hardware", m.Type)
	assert.Equal(t, []string{"gprs", "sim"}, m.Features)
	assert.True(t, m.HasInterface(names.SimManager))
	assert.False(t, m.HasInterface(names.ConnectionManager))

	b.Emit(names.Manager, names.ManagerPath, names.ModemRemoved, path)
	l.RunPending()
	assert.False(t, m.Ready())
	assert.False(t, m.Powered)
	assert.Empty(t, m.Interfaces)

	b.Emit(names.Manager, names.ManagerPath, names.ModemAdded, path, map[string]dbus.Variant{})
	l.RunPending()
	assert.True(t, m.Valid())

	b.SetOwner("")
	l.RunPending()
	assert.False(t, m.Ready())
}

func TestModemUnknownPath(t *testing.T) {
	l, b, rt := setup(t)
	b.SetOwner(":1.1")
	m := Get(rt, "/other")
	defer m.Release()
	l.RunPending()

	assert.True(t, m.Service().Valid())
	assert.False(t, m.Ready())
	assert.Empty(t, b.Calls(names.Modem, "/other", names.GetProperties))
}

func TestModemInterfacesChanged(t *testing.T) {
	l, b, rt := setup(t)
	b.SetOwner(":1.1")
	m := Get(rt, path)
	defer m.Release()
	l.RunPending()
	require.True(t, m.Valid())

	events := 0
	m.AddInterfacesChangedHandler(func(got *Modem) {
		assert.Same(t, m, got)
		events++
	})
	b.EmitPropertyChanged(names.Modem, path, names.ModemInterfaces, []string{names.SimManager, names.ConnectionManager})
	l.RunPending()
	assert.Equal(t, 1, events)
	assert.True(t, m.HasInterface(names.ConnectionManager))
}

func TestModemSetters(t *testing.T) {
	l, b, rt := setup(t)
	b.SetOwner(":1.1")
	m := Get(rt, path)
	defer m.Release()
	l.RunPending()

	var got error
	_, err := m.SetOnline(true, func(err error) { got = err })
	require.NoError(t, err)
	_, err = m.SetPowered(false, nil)
	require.NoError(t, err)

	sets := b.Calls(names.Modem, path, names.SetProperty)
	require.Len(t, sets, 2)
	assert.Equal(t, []any{names.ModemOnline, dbus.MakeVariant(true)}, sets[0].Args)
	assert.Equal(t, []any{names.ModemPowered, dbus.MakeVariant(false)}, sets[1].Args)

	sets[0].Reply()
	l.RunPending()
	assert.NoError(t, got)
}

func TestModemSharedInstance(t *testing.T) {
	l, b, rt := setup(t)
	b.SetOwner(":1.1")

	m1 := Get(rt, path)
	m2 := Get(rt, path)
	assert.Same(t, m1, m2)
	l.RunPending()
	assert.Equal(t, 1, b.Proxies(names.Modem, path))

	m1.Release()
	assert.False(t, m2.Disposed())
	m2.Release()
	assert.True(t, m2.Disposed())
	assert.Zero(t, rt.Registry.Len(), "service released with the last modem")
}
