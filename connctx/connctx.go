// Package connctx mirrors org.ofono.ConnectionContext objects.
//
// A context is present while its modem is valid and lists
// ConnectionManager, and the connection manager has not announced its
// removal. Activation requests go through an activation.Controller, so
// Activate and Deactivate may be called at any time: they are issued once
// the context is valid and retried while oFono reports InProgress.
package connctx

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/activation"
	"github.com/smnsjas/go-ofonocore/bus"
	"github.com/smnsjas/go-ofonocore/event"
	"github.com/smnsjas/go-ofonocore/modem"
	"github.com/smnsjas/go-ofonocore/names"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/smnsjas/go-ofonocore/registry"
)

// Named events.
const (
	ActiveChanged       = "active-changed"
	APNChanged          = "apn-changed"
	TypeChanged         = "type-changed"
	AuthChanged         = "auth-changed"
	NameChanged         = "name-changed"
	UsernameChanged     = "username-changed"
	PasswordChanged     = "password-changed"
	ProtocolChanged     = "protocol-changed"
	MMSProxyChanged     = "mms-proxy-changed"
	MMSCenterChanged    = "mms-center-changed"
	SettingsChanged     = "settings-changed"
	IPv6SettingsChanged = "ipv6-settings-changed"
	InterfaceChanged    = "interface-changed"
)

// ConnCtx is one connection context.
type ConnCtx struct {
	*object.Object

	Active       bool
	APN          string
	Type         Type
	Auth         Auth
	Name         string
	Username     string
	Password     string
	Protocol     Protocol
	MMSProxy     string
	MMSCenter    string
	Settings     *Settings
	IPv6Settings *Settings

	ifname string

	modem         *modem.Modem
	modemHandlers []event.HandlerID
	connMgrCall   *bus.Call
	connMgr       bus.Proxy
	connMgrUnsub  []func()
	removed       bool

	ctrl *activation.Controller
}

// ModemPath returns the path of the modem owning the context at path, which
// is its first path component.
func ModemPath(path dbus.ObjectPath) dbus.ObjectPath {
	p := string(path)
	if len(p) < 2 || p[0] != '/' {
		return ""
	}
	if i := strings.IndexByte(p[1:], '/'); i >= 0 {
		return dbus.ObjectPath(p[:i+1])
	}
	return ""
}

// Get returns the context at path, creating it on first use. The caller
// owns one reference.
func Get(rt *object.Runtime, path dbus.ObjectPath, opts ...activation.Option) *ConnCtx {
	c, created := registry.GetOrCreate(rt.Registry, names.ConnectionContext, path, func() *ConnCtx {
		return newConnCtx(rt, path, opts...)
	})
	if created {
		c.Initialize()
	} else {
		c.Ref()
	}
	return c
}

func newConnCtx(rt *object.Runtime, path dbus.ObjectPath, opts ...activation.Option) *ConnCtx {
	c := &ConnCtx{}
	props := object.PropertySet{
		object.Bool(names.ConnCtxActive, ActiveChanged, &c.Active),
		object.String(names.ConnCtxAPN, APNChanged, &c.APN),
		object.Enum(names.ConnCtxType, TypeChanged, &c.Type, typeNames),
		object.Enum(names.ConnCtxAuth, AuthChanged, &c.Auth, authNames),
		object.String(names.ConnCtxName, NameChanged, &c.Name),
		object.String(names.ConnCtxUsername, UsernameChanged, &c.Username),
		object.String(names.ConnCtxPassword, PasswordChanged, &c.Password),
		object.Enum(names.ConnCtxProtocol, ProtocolChanged, &c.Protocol, protocolNames),
		object.String(names.ConnCtxMMSProxy, MMSProxyChanged, &c.MMSProxy),
		object.String(names.ConnCtxMMSCenter, MMSCenterChanged, &c.MMSCenter),
		settingsProperty(names.ConnCtxSettings, SettingsChanged, &c.Settings),
		settingsProperty(names.ConnCtxIPv6Settings, IPv6SettingsChanged, &c.IPv6Settings),
	}
	c.Object = object.New(rt, names.ConnectionContext, path,
		object.WithProperties(props),
		object.WithReadyCheck(c.present),
		object.OnValidChanged(func(valid bool) {
			if valid {
				c.ctrl.Advance()
			}
		}),
		object.OnDispose(c.dispose),
	)
	c.ctrl = activation.New(rt, c.toggle, c.Valid, opts...)
	c.ctrl.SetLogger(c.Logger())
	c.AddPropertyChangedHandler(names.ConnCtxSettings, c.settingsChanged)
	c.AddPropertyChangedHandler(names.ConnCtxIPv6Settings, c.settingsChanged)

	modemPath := ModemPath(path)
	if modemPath == "" {
		c.Logger().Warn("context path has no modem component")
		return c
	}
	c.modem = modem.Get(rt, modemPath)
	update := func() { c.UpdateReady() }
	c.modemHandlers = []event.HandlerID{
		c.modem.AddValidChangedHandler(func(*object.Object) { update() }),
		c.modem.AddInterfacesChangedHandler(func(*modem.Modem) { update() }),
	}

	var call *bus.Call
	call = rt.Conn.NewProxy(names.ConnectionManager, modemPath, func(p bus.Proxy, err error) {
		c.connMgrCreated(call, p, err)
	})
	c.connMgrCall = call
	return c
}

func settingsProperty(name, signal string, field **Settings) object.Property {
	return object.Dict(name, signal,
		func(dict map[string]dbus.Variant) bool {
			next := decodeSettings(dict)
			if next.equal(*field) {
				return false
			}
			*field = next
			return true
		},
		func() (map[string]dbus.Variant, bool) {
			return (*field).encode(), true
		},
	)
}

func (c *ConnCtx) connMgrCreated(call *bus.Call, p bus.Proxy, err error) {
	if c.Disposed() || call != c.connMgrCall || call.Canceled() {
		if p != nil {
			p.Close()
		}
		return
	}
	c.connMgrCall = nil
	if err != nil {
		c.Logger().Error("failed to create connection manager proxy", "error", err)
		return
	}
	c.connMgr = p
	c.connMgrUnsub = []func(){
		p.Subscribe(names.ContextAdded, c.onContextAdded),
		p.Subscribe(names.ContextRemoved, c.onContextRemoved),
	}
	c.UpdateReady()
}

func (c *ConnCtx) onContextAdded(body []any) {
	path, err := bus.DecodeObjectPath(body)
	if err != nil || path != c.Path() {
		return
	}
	c.Logger().Debug("context added")
	if !c.removed {
		// Already present: drop readiness so that setup is repeated.
		c.removed = true
		c.UpdateReady()
	}
	c.removed = false
	c.UpdateReady()
}

func (c *ConnCtx) onContextRemoved(body []any) {
	path, err := bus.DecodeObjectPath(body)
	if err != nil || path != c.Path() {
		return
	}
	c.Logger().Debug("context removed")
	c.removed = true
	c.UpdateReady()
}

func (c *ConnCtx) present() bool {
	return c.connMgr != nil &&
		c.modem != nil &&
		c.modem.Valid() &&
		!c.removed &&
		c.modem.HasInterface(names.ConnectionManager)
}

func (c *ConnCtx) settingsChanged(*object.Object, object.PropertyChange) {
	ifname := ""
	if c.Settings != nil {
		ifname = c.Settings.Interface
	}
	if ifname == "" && c.IPv6Settings != nil {
		ifname = c.IPv6Settings.Interface
	}
	if ifname == c.ifname {
		return
	}
	c.ifname = ifname
	c.Logger().Debug("interface changed", "ifname", ifname)
	c.EmitSignal(InterfaceChanged)
}

// IfName returns the network interface of the active context, taken from
// Settings or, failing that, IPv6.Settings.
func (c *ConnCtx) IfName() string {
	return c.ifname
}

// Modem returns the modem owning the context, or nil if the path has no
// modem component.
func (c *ConnCtx) Modem() *modem.Modem {
	return c.modem
}

// Controller returns the activation controller.
func (c *ConnCtx) Controller() *activation.Controller {
	return c.ctrl
}

// Activate requests activation. Failures are published through
// AddActivationFailedHandler.
func (c *ConnCtx) Activate() {
	c.ctrl.RequestActivate()
}

// Deactivate requests deactivation.
func (c *ConnCtx) Deactivate() {
	c.ctrl.RequestDeactivate()
}

func (c *ConnCtx) toggle(on bool, done func(error)) error {
	_, err := c.SetBool(names.ConnCtxActive, on, done)
	return err
}

// Provision asks oFono to fill the context in from its provisioning
// database.
func (c *ConnCtx) Provision(done func(error)) (*object.Call, error) {
	return c.CallMethod(names.ProvisionContext, nil, func(_ []any, err error) {
		if done != nil {
			done(err)
		}
	})
}

// SetAccessPointName changes the APN.
func (c *ConnCtx) SetAccessPointName(apn string, done func(error)) (*object.Call, error) {
	return c.SetString(names.ConnCtxAPN, apn, done)
}

// SetUsername changes the user name.
func (c *ConnCtx) SetUsername(username string, done func(error)) (*object.Call, error) {
	return c.SetString(names.ConnCtxUsername, username, done)
}

// SetPassword changes the password.
func (c *ConnCtx) SetPassword(password string, done func(error)) (*object.Call, error) {
	return c.SetString(names.ConnCtxPassword, password, done)
}

// SetName changes the display name.
func (c *ConnCtx) SetName(name string, done func(error)) (*object.Call, error) {
	return c.SetString(names.ConnCtxName, name, done)
}

// SetMessageProxy changes the MMS proxy.
func (c *ConnCtx) SetMessageProxy(proxy string, done func(error)) (*object.Call, error) {
	return c.SetString(names.ConnCtxMMSProxy, proxy, done)
}

// SetMessageCenter changes the MMS center URL.
func (c *ConnCtx) SetMessageCenter(center string, done func(error)) (*object.Call, error) {
	return c.SetString(names.ConnCtxMMSCenter, center, done)
}

// SetType changes the context type.
func (c *ConnCtx) SetType(t Type, done func(error)) (*object.Call, error) {
	return c.setEnum(names.ConnCtxType, typeNames.Name(int(t)), done)
}

// SetAuthMethod changes the authentication method.
func (c *ConnCtx) SetAuthMethod(a Auth, done func(error)) (*object.Call, error) {
	return c.setEnum(names.ConnCtxAuth, authNames.Name(int(a)), done)
}

// SetProtocol changes the IP protocol.
func (c *ConnCtx) SetProtocol(p Protocol, done func(error)) (*object.Call, error) {
	return c.setEnum(names.ConnCtxProtocol, protocolNames.Name(int(p)), done)
}

func (c *ConnCtx) setEnum(property, value string, done func(error)) (*object.Call, error) {
	if value == "" {
		return nil, fmt.Errorf("%s: unknown value", property)
	}
	return c.SetString(property, value, done)
}

// AddActivationFailedHandler registers fn for failed activations.
func (c *ConnCtx) AddActivationFailedHandler(fn func(*ConnCtx, error)) event.HandlerID {
	return c.ctrl.AddFailedHandler(func(err error) { fn(c, err) })
}

// AddInterfaceChangedHandler registers fn for changes of IfName.
func (c *ConnCtx) AddInterfaceChangedHandler(fn func(*ConnCtx)) event.HandlerID {
	return c.AddSignalHandler(InterfaceChanged, func(*object.Object) { fn(c) })
}

// RemoveHandler disconnects a handler registered on c, including
// activation-failed handlers.
func (c *ConnCtx) RemoveHandler(id event.HandlerID) bool {
	return c.Object.RemoveHandler(id) || c.ctrl.RemoveHandler(id)
}

func (c *ConnCtx) dispose() {
	c.ctrl.Close()
	if c.connMgrCall != nil {
		c.connMgrCall.Cancel()
		c.connMgrCall = nil
	}
	for _, unsubscribe := range c.connMgrUnsub {
		unsubscribe()
	}
	c.connMgrUnsub = nil
	if c.connMgr != nil {
		c.connMgr.Close()
		c.connMgr = nil
	}
	if c.modem != nil {
		for _, id := range c.modemHandlers {
			c.modem.RemoveHandler(id)
		}
		c.modemHandlers = nil
		c.modem.Release()
	}
}
