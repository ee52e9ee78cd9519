package manager

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/bus/bustest"
	"github.com/smnsjas/go-ofonocore/loop"
	"github.com/smnsjas/go-ofonocore/modem"
	"github.com/smnsjas/go-ofonocore/names"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, modems ...dbus.ObjectPath) (*loop.Loop, *bustest.Bus, *object.Runtime) {
	t.Helper()
	l := loop.New(loop.WithClock(clock.NewMock()))
	b := bustest.New(l)
	b.SetObjects(names.Manager, names.ManagerPath, names.GetModems, modems...)
	for _, p := range []dbus.ObjectPath{"/ril_0", "/ril_1", "/ril_2"} {
		b.SetProperties(names.Modem, p, map[string]dbus.Variant{
			names.ModemName: dbus.MakeVariant(string(p[1:])),
		})
	}
	return l, b, object.NewRuntime(b, l)
}

func modemPaths(ms []*modem.Modem) []dbus.ObjectPath {
	out := make([]dbus.ObjectPath, len(ms))
	for i, m := range ms {
		out[i] = m.Path()
	}
	return out
}

func TestManagerTracksModems(t *testing.T) {
	l, b, rt := setup(t, "/ril_1", "/ril_0")
	m := Get(rt)
	defer m.Release()

	var valid []bool
	m.AddValidChangedHandler(func(m *Manager) { valid = append(valid, m.Valid()) })
	l.RunPending()
	assert.False(t, m.Valid())
	assert.Empty(t, m.Modems())

	b.SetOwner(":1.1")
	l.RunPending()
	require.True(t, m.Valid())
	assert.Equal(t, []dbus.ObjectPath{"/ril_0", "/ril_1"}, modemPaths(m.Modems()))

	def, ok := m.DefaultModem()
	require.True(t, ok)
	assert.Equal(t, "ril_0", def.Name)
	r1, ok := m.Modem("/ril_1")
	require.True(t, ok)
	assert.Equal(t, "ril_1", r1.Name)
	_, ok = m.Modem("/ril_9")
	assert.False(t, ok)

	b.SetOwner("")
	l.RunPending()
	assert.False(t, m.Valid())
	assert.Empty(t, m.Modems())
	assert.Equal(t, []bool{true, false}, valid)
	assert.Equal(t, 2, rt.Registry.Len(), "only the manager and service remain")
}

func TestManagerModemEvents(t *testing.T) {
	l, b, rt := setup(t, "/ril_0")
	b.SetOwner(":1.1")
	m := Get(rt)
	defer m.Release()
	l.RunPending()
	require.True(t, m.Valid())

	var added, removed []dbus.ObjectPath
	m.AddModemAddedHandler(func(md *modem.Modem) {
		assert.True(t, md.Valid())
		added = append(added, md.Path())
	})
	m.AddModemRemovedHandler(func(md *modem.Modem) { removed = append(removed, md.Path()) })

	b.Emit(names.Manager, names.ManagerPath, names.ModemAdded, dbus.ObjectPath("/ril_2"), map[string]dbus.Variant{})
	l.RunPending()
	assert.Equal(t, []dbus.ObjectPath{"/ril_2"}, added)
	assert.Equal(t, []dbus.ObjectPath{"/ril_0", "/ril_2"}, modemPaths(m.Modems()))

	b.Emit(names.Manager, names.ManagerPath, names.ModemRemoved, dbus.ObjectPath("/ril_0"))
	l.RunPending()
	assert.Equal(t, []dbus.ObjectPath{"/ril_0"}, removed)
	assert.Equal(t, []dbus.ObjectPath{"/ril_2"}, modemPaths(m.Modems()))
	assert.True(t, m.Valid())
}

func TestManagerWaitsForEveryModem(t *testing.T) {
	l, b, rt := setup(t, "/ril_0", "/ril_5")
	b.SetOwner(":1.1")
	m := Get(rt)
	defer m.Release()
	l.RunPending()

	assert.True(t, m.Service().Valid())
	assert.False(t, m.Valid(), "/ril_5 never answers GetProperties")
	assert.Empty(t, m.Modems())

	b.Last(names.Modem, "/ril_5", names.GetProperties).Reply(map[string]dbus.Variant{})
	l.RunPending()
	assert.True(t, m.Valid())
	assert.Len(t, m.Modems(), 2)
}

func TestManagerRelease(t *testing.T) {
	l, b, rt := setup(t, "/ril_0")
	b.SetOwner(":1.1")
	m := Get(rt)
	again := Get(rt)
	assert.Same(t, m, again)
	l.RunPending()

	m.Release()
	again.Release()
	assert.Zero(t, rt.Registry.Len())
	assert.Zero(t, b.Subscribers(names.Manager, names.ManagerPath, names.ModemAdded))
}
