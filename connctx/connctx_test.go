package connctx

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/activation"
	"github.com/smnsjas/go-ofonocore/bus/bustest"
	"github.com/smnsjas/go-ofonocore/loop"
	"github.com/smnsjas/go-ofonocore/names"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/smnsjas/go-ofonocore/ofonoerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	modemPath = dbus.ObjectPath("/modem0")
	ctxPath   = dbus.ObjectPath("/modem0/context1")
)

type fixture struct {
	clk *clock.Mock
	l   *loop.Loop
	b   *bustest.Bus
	rt  *object.Runtime
}

func newFixture(t *testing.T, props map[string]dbus.Variant) *fixture {
	t.Helper()
	f := &fixture{clk: clock.NewMock()}
	f.l = loop.New(loop.WithClock(f.clk))
	f.b = bustest.New(f.l)
	f.rt = object.NewRuntime(f.b, f.l)

	f.b.SetOwner(":1.1")
	f.b.SetObjects(names.Manager, names.ManagerPath, names.GetModems, modemPath)
	f.b.SetProperties(names.Modem, modemPath, map[string]dbus.Variant{
		names.ModemInterfaces: dbus.MakeVariant([]string{names.ConnectionManager}),
	})
	f.b.SetProperties(names.ConnectionContext, ctxPath, props)
	return f
}

func (f *fixture) wait(d time.Duration) {
	f.clk.Add(d)
	f.l.RunPending()
}

func (f *fixture) lastSet() *bustest.Call {
	return f.b.Last(names.ConnectionContext, ctxPath, names.SetProperty)
}

func TestModemPath(t *testing.T) {
	tests := []struct {
		path dbus.ObjectPath
		want dbus.ObjectPath
	}{
		{"/ril_0/context1", "/ril_0"},
		{"/a/b/c", "/a"},
		{"/ril_0", ""},
		{"/", ""},
		{"", ""},
		{"relative/path", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ModemPath(tt.path), string(tt.path))
	}
}

func TestContextProperties(t *testing.T) {
	f := newFixture(t, map[string]dbus.Variant{
		names.ConnCtxType:     dbus.MakeVariant("internet"),
		names.ConnCtxActive:   dbus.MakeVariant(true),
		names.ConnCtxAPN:      dbus.MakeVariant("internet.example"),
		names.ConnCtxAuth:     dbus.MakeVariant("chap"),
		names.ConnCtxProtocol: dbus.MakeVariant("dual"),
		names.ConnCtxSettings: dbus.MakeVariant(map[string]dbus.Variant{
			names.SettingsInterface:    dbus.MakeVariant("rmnet0"),
			names.SettingsMethod:       dbus.MakeVariant("static"),
			names.SettingsAddress:      dbus.MakeVariant("10.0.0.2"),
			names.SettingsNetmask:      dbus.MakeVariant("255.255.255.0"),
			names.SettingsGateway:      dbus.MakeVariant("10.0.0.1"),
			names.SettingsDNS:          dbus.MakeVariant([]string{"10.0.0.53"}),
			names.SettingsPrefixLength: dbus.MakeVariant(byte(24)),
		}),
	})
	c := Get(f.rt, ctxPath)
	defer c.Release()
	f.l.RunPending()

	require.True(t, c.Valid())
	assert.True(t, c.Active)
	assert.Equal(t, TypeInternet, c.Type)
	assert.Equal(t, "internet", c.Type.String())
	assert.Equal(t, AuthCHAP, c.Auth)
	assert.Equal(t, ProtocolDual, c.Protocol)
	assert.Equal(t, "internet.example", c.APN)
	require.NotNil(t, c.Settings)
	assert.Equal(t, Settings{
		Interface:    "rmnet0",
		Method:       MethodStatic,
		Address:      "10.0.0.2",
		Netmask:      "255.255.255.0",
		Gateway:      "10.0.0.1",
		PrefixLength: 24,
		DNS:          []string{"10.0.0.53"},
	}, *c.Settings)
	assert.Nil(t, c.IPv6Settings)
	assert.Equal(t, "rmnet0", c.IfName())
	assert.Equal(t, names.ConnectionContext, c.Interface())

	v, ok := c.Encode(names.ConnCtxSettings)
	require.True(t, ok)
	dict, ok := v.Value().(map[string]dbus.Variant)
	require.True(t, ok)
	assert.Equal(t, "rmnet0", dict[names.SettingsInterface].Value())
	assert.Equal(t, byte(24), dict[names.SettingsPrefixLength].Value())
}

func TestInterfaceChanged(t *testing.T) {
	f := newFixture(t, map[string]dbus.Variant{names.ConnCtxActive: dbus.MakeVariant(false)})
	c := Get(f.rt, ctxPath)
	defer c.Release()
	f.l.RunPending()
	require.True(t, c.Valid())

	var ifnames []string
	c.AddInterfaceChangedHandler(func(c *ConnCtx) { ifnames = append(ifnames, c.IfName()) })

	emit := func(name string, settings map[string]dbus.Variant) {
		f.b.EmitPropertyChanged(names.ConnectionContext, ctxPath, name, settings)
		f.l.RunPending()
	}
	emit(names.ConnCtxIPv6Settings, map[string]dbus.Variant{
		names.SettingsInterface: dbus.MakeVariant("rmnet1"),
	})
	emit(names.ConnCtxSettings, map[string]dbus.Variant{
		names.SettingsInterface: dbus.MakeVariant("rmnet0"),
		names.SettingsAddress:   dbus.MakeVariant("10.0.0.2"),
	})
	// Address change only.
	emit(names.ConnCtxSettings, map[string]dbus.Variant{
		names.SettingsInterface: dbus.MakeVariant("rmnet0"),
		names.SettingsAddress:   dbus.MakeVariant("10.0.0.3"),
	})
	emit(names.ConnCtxSettings, map[string]dbus.Variant{})
	emit(names.ConnCtxIPv6Settings, map[string]dbus.Variant{})

	assert.Equal(t, []string{"rmnet1", "rmnet0", "rmnet1", ""}, ifnames)
	assert.Nil(t, c.Settings)
}

func TestActivationBusyThenSuccess(t *testing.T) {
	f := newFixture(t, map[string]dbus.Variant{names.ConnCtxType: dbus.MakeVariant("internet")})
	c := Get(f.rt, ctxPath)
	defer c.Release()
	f.l.RunPending()
	require.True(t, c.Valid())

	var failures []error
	c.AddActivationFailedHandler(func(_ *ConnCtx, err error) { failures = append(failures, err) })

	c.Activate()
	require.Len(t, f.b.Calls(names.ConnectionContext, ctxPath, names.SetProperty), 1)
	assert.Equal(t, []any{names.ConnCtxActive, dbus.MakeVariant(true)}, f.lastSet().Args)

	busy := ofonoerr.New(ofonoerr.CodeBusy, "Operation already in progress")
	f.lastSet().Fail(busy)
	f.l.RunPending()
	f.wait(activation.RetryDelay)
	f.lastSet().Fail(busy)
	f.l.RunPending()
	f.wait(activation.RetryDelay)
	require.Len(t, f.b.Calls(names.ConnectionContext, ctxPath, names.SetProperty), 3)
	assert.Equal(t, activation.Activating, c.Controller().Current())

	f.lastSet().Reply()
	f.l.RunPending()
	assert.Equal(t, activation.None, c.Controller().Current())
	assert.Empty(t, failures)
}

func TestActivationWaitsForValid(t *testing.T) {
	f := newFixture(t, map[string]dbus.Variant{})
	f.b.Unhandle(names.ConnectionContext, ctxPath, names.GetProperties)
	c := Get(f.rt, ctxPath)
	defer c.Release()
	f.l.RunPending()

	c.Activate()
	assert.Empty(t, f.b.Calls(names.ConnectionContext, ctxPath, names.SetProperty))

	f.b.Last(names.ConnectionContext, ctxPath, names.GetProperties).Reply(map[string]dbus.Variant{})
	f.l.RunPending()
	assert.Len(t, f.b.Calls(names.ConnectionContext, ctxPath, names.SetProperty), 1)
}

func TestActivationFailure(t *testing.T) {
	f := newFixture(t, map[string]dbus.Variant{})
	c := Get(f.rt, ctxPath)
	defer c.Release()
	f.l.RunPending()

	var failed *ConnCtx
	var got error
	c.AddActivationFailedHandler(func(c *ConnCtx, err error) {
		failed = c
		got = err
	})
	c.Activate()
	f.lastSet().Fail(ofonoerr.New(ofonoerr.CodeNotAttached, "not attached"))
	f.l.RunPending()

	assert.Same(t, c, failed)
	code, ok := ofonoerr.CodeOf(got)
	require.True(t, ok)
	assert.Equal(t, ofonoerr.CodeNotAttached, code)
}

func TestReadinessLossCancelsToggle(t *testing.T) {
	f := newFixture(t, map[string]dbus.Variant{})
	c := Get(f.rt, ctxPath)
	defer c.Release()
	f.l.RunPending()

	failures := 0
	c.AddActivationFailedHandler(func(*ConnCtx, error) { failures++ })
	c.Activate()
	set := f.lastSet()

	f.b.EmitPropertyChanged(names.Modem, modemPath, names.ModemInterfaces, []string{})
	f.l.RunPending()
	assert.False(t, c.Ready())
	assert.True(t, set.Canceled())
	assert.Equal(t, activation.None, c.Controller().Current())
	assert.Zero(t, failures)
}

func TestContextRemovedAndAdded(t *testing.T) {
	f := newFixture(t, map[string]dbus.Variant{names.ConnCtxName: dbus.MakeVariant("Internet")})
	c := Get(f.rt, ctxPath)
	defer c.Release()
	f.l.RunPending()
	require.True(t, c.Valid())

	f.b.Emit(names.ConnectionManager, modemPath, names.ContextRemoved, dbus.ObjectPath("/modem0/context2"))
	f.l.RunPending()
	assert.True(t, c.Valid(), "other contexts do not matter")

	f.b.Emit(names.ConnectionManager, modemPath, names.ContextRemoved, ctxPath)
	f.l.RunPending()
	assert.False(t, c.Ready())
	assert.Empty(t, c.Name)

	f.b.Emit(names.ConnectionManager, modemPath, names.ContextAdded, ctxPath, map[string]dbus.Variant{})
	f.l.RunPending()
	assert.True(t, c.Valid())
	assert.Equal(t, "Internet", c.Name)

	// Added again while present: setup is repeated.
	f.b.Emit(names.ConnectionManager, modemPath, names.ContextAdded, ctxPath, map[string]dbus.Variant{})
	f.l.RunPending()
	assert.True(t, c.Valid())
	assert.Len(t, f.b.Calls(names.ConnectionContext, ctxPath, names.GetProperties), 3)
}

func TestProvisionAndSetters(t *testing.T) {
	f := newFixture(t, map[string]dbus.Variant{})
	c := Get(f.rt, ctxPath)
	defer c.Release()
	f.l.RunPending()

	var provisioned error = ofonoerr.ErrNotReady
	_, err := c.Provision(func(err error) { provisioned = err })
	require.NoError(t, err)
	f.b.Last(names.ConnectionContext, ctxPath, names.ProvisionContext).Reply()
	f.l.RunPending()
	assert.NoError(t, provisioned)

	_, err = c.SetType(TypeMMS, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{names.ConnCtxType, dbus.MakeVariant("mms")}, f.lastSet().Args)

	_, err = c.SetAuthMethod(AuthPAP, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{names.ConnCtxAuth, dbus.MakeVariant("pap")}, f.lastSet().Args)

	_, err = c.SetProtocol(ProtocolIPv6, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{names.ConnCtxProtocol, dbus.MakeVariant("ipv6")}, f.lastSet().Args)

	_, err = c.SetAccessPointName("mms.example", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{names.ConnCtxAPN, dbus.MakeVariant("mms.example")}, f.lastSet().Args)

	_, err = c.SetType(TypeUnknown, nil)
	assert.Error(t, err)
}

func TestContextRelease(t *testing.T) {
	f := newFixture(t, map[string]dbus.Variant{})
	c := Get(f.rt, ctxPath)
	f.l.RunPending()

	c.Release()
	assert.True(t, c.Disposed())
	assert.True(t, c.Modem().Disposed())
	assert.Zero(t, f.rt.Registry.Len())
	assert.Zero(t, f.b.Subscribers(names.ConnectionManager, modemPath, names.ContextRemoved))
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "unknown", TypeUnknown.String())
	assert.Equal(t, "ims", TypeIMS.String())
	assert.Equal(t, "none", AuthNone.String())
	assert.Equal(t, "ip", ProtocolIP.String())
	assert.Equal(t, "dhcp", MethodDHCP.String())

	typ, ok := ParseType("wap")
	assert.True(t, ok)
	assert.Equal(t, TypeWAP, typ)
	_, ok = ParseType("bogus")
	assert.False(t, ok)
}
