package connctx

import (
	"slices"

	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/names"
)

// Type is the context type.
type Type int

const (
	TypeUnknown Type = iota
	TypeInternet
	TypeMMS
	TypeWAP
	TypeIMS
)

var typeNames = names.NewEnum("internet", "mms", "wap", "ims")

func (t Type) String() string { return enumString(typeNames, int(t)) }

// ParseType maps oFono's textual type onto a Type.
func ParseType(s string) (Type, bool) {
	v, ok := typeNames.Value(s)
	return Type(v), ok
}

// Auth is the authentication method.
type Auth int

const (
	AuthUnknown Auth = iota
	AuthNone
	AuthPAP
	AuthCHAP
	AuthAny
)

var authNames = names.NewEnum("none", "pap", "chap", "any")

func (a Auth) String() string { return enumString(authNames, int(a)) }

// Protocol is the IP protocol of the context.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolIP
	ProtocolIPv6
	ProtocolDual
)

var protocolNames = names.NewEnum("ip", "ipv6", "dual")

func (p Protocol) String() string { return enumString(protocolNames, int(p)) }

// Method is how the interface address was configured.
type Method int

const (
	MethodUnknown Method = iota
	MethodStatic
	MethodDHCP
)

var methodNames = names.NewEnum("static", "dhcp")

func (m Method) String() string { return enumString(methodNames, int(m)) }

func enumString(e *names.Enum, v int) string {
	if s := e.Name(v); s != "" {
		return s
	}
	return "unknown"
}

// Settings is the decoded form of the Settings and IPv6.Settings
// dictionaries of an active context.
type Settings struct {
	Interface    string
	Method       Method
	Address      string
	Netmask      string
	Gateway      string
	PrefixLength byte
	DNS          []string
}

// decodeSettings returns nil for a missing or empty dictionary.
func decodeSettings(dict map[string]dbus.Variant) *Settings {
	if len(dict) == 0 {
		return nil
	}
	s := &Settings{}
	for key, v := range dict {
		switch key {
		case names.SettingsInterface:
			s.Interface, _ = v.Value().(string)
		case names.SettingsMethod:
			if str, ok := v.Value().(string); ok {
				m, _ := methodNames.Value(str)
				s.Method = Method(m)
			}
		case names.SettingsAddress:
			s.Address, _ = v.Value().(string)
		case names.SettingsNetmask:
			s.Netmask, _ = v.Value().(string)
		case names.SettingsGateway:
			s.Gateway, _ = v.Value().(string)
		case names.SettingsPrefixLength:
			s.PrefixLength, _ = v.Value().(byte)
		case names.SettingsDNS:
			if dns, ok := v.Value().([]string); ok && len(dns) > 0 {
				s.DNS = slices.Clone(dns)
			}
		}
	}
	return s
}

func (s *Settings) equal(o *Settings) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Interface == o.Interface &&
		s.Method == o.Method &&
		s.Address == o.Address &&
		s.Netmask == o.Netmask &&
		s.Gateway == o.Gateway &&
		s.PrefixLength == o.PrefixLength &&
		slices.Equal(s.DNS, o.DNS)
}

// encode returns the dictionary form. Unset fields are left out.
func (s *Settings) encode() map[string]dbus.Variant {
	dict := make(map[string]dbus.Variant)
	if s == nil {
		return dict
	}
	put := func(key, value string) {
		if value != "" {
			dict[key] = dbus.MakeVariant(value)
		}
	}
	put(names.SettingsInterface, s.Interface)
	put(names.SettingsMethod, methodNames.Name(int(s.Method)))
	put(names.SettingsAddress, s.Address)
	put(names.SettingsNetmask, s.Netmask)
	put(names.SettingsGateway, s.Gateway)
	if s.PrefixLength != 0 {
		dict[names.SettingsPrefixLength] = dbus.MakeVariant(s.PrefixLength)
	}
	if len(s.DNS) > 0 {
		dict[names.SettingsDNS] = dbus.MakeVariant(slices.Clone(s.DNS))
	}
	return dict
}
