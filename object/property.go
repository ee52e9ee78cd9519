package object

import (
	"slices"

	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/names"
)

// Property describes how one D-Bus property maps onto a typed field.
//
// Apply decodes v into the field and reports whether the field changed. A
// nil v means the property was removed and the field returns to its zero
// value. Apply must be idempotent: applying the current value again returns
// false and has no side effects.
//
// Value encodes the field back into a variant. The second result is false if
// the field holds no encodable value.
type Property struct {
	Name   string
	Signal string
	Apply  func(v *dbus.Variant) bool
	Value  func() (dbus.Variant, bool)
}

// PropertySet is the descriptor table of one object type.
type PropertySet []Property

// Lookup returns the descriptor for name.
func (s PropertySet) Lookup(name string) (*Property, bool) {
	for i := range s {
		if s[i].Name == name {
			return &s[i], true
		}
	}
	return nil, false
}

// Scalar maps a property whose D-Bus type decodes directly to T (bool,
// string, byte, uint16, uint32, ...). Values of any other type are treated as
// removed.
func Scalar[T comparable](name, signal string, field *T) Property {
	return Property{
		Name:   name,
		Signal: signal,
		Apply: func(v *dbus.Variant) bool {
			var next T
			if v != nil {
				next, _ = v.Value().(T)
			}
			if *field == next {
				return false
			}
			*field = next
			return true
		},
		Value: func() (dbus.Variant, bool) {
			return dbus.MakeVariant(*field), true
		},
	}
}

// Bool maps a boolean property.
func Bool(name, signal string, field *bool) Property {
	return Scalar(name, signal, field)
}

// String maps a string property.
func String(name, signal string, field *string) Property {
	return Scalar(name, signal, field)
}

// Strings maps a string array property.
func Strings(name, signal string, field *[]string) Property {
	return Property{
		Name:   name,
		Signal: signal,
		Apply: func(v *dbus.Variant) bool {
			var next []string
			if v != nil {
				if list, ok := v.Value().([]string); ok && len(list) > 0 {
					next = slices.Clone(list)
				}
			}
			if slices.Equal(*field, next) {
				return false
			}
			*field = next
			return true
		},
		Value: func() (dbus.Variant, bool) {
			if *field == nil {
				return dbus.MakeVariant([]string{}), true
			}
			return dbus.MakeVariant(slices.Clone(*field)), true
		},
	}
}

// Enum maps a string property onto an integer type through table. Strings
// not in the table decode to 0.
func Enum[T ~int](name, signal string, field *T, table *names.Enum) Property {
	return Property{
		Name:   name,
		Signal: signal,
		Apply: func(v *dbus.Variant) bool {
			var next T
			if v != nil {
				if s, ok := v.Value().(string); ok {
					n, _ := table.Value(s)
					next = T(n)
				}
			}
			if *field == next {
				return false
			}
			*field = next
			return true
		},
		Value: func() (dbus.Variant, bool) {
			s := table.Name(int(*field))
			if s == "" {
				return dbus.Variant{}, false
			}
			return dbus.MakeVariant(s), true
		},
	}
}

// Dict maps an a{sv} property through a custom decoder. decode receives nil
// when the property is removed or has the wrong type.
func Dict(name, signal string, decode func(map[string]dbus.Variant) bool, encode func() (map[string]dbus.Variant, bool)) Property {
	return Property{
		Name:   name,
		Signal: signal,
		Apply: func(v *dbus.Variant) bool {
			var dict map[string]dbus.Variant
			if v != nil {
				dict, _ = v.Value().(map[string]dbus.Variant)
			}
			return decode(dict)
		},
		Value: func() (dbus.Variant, bool) {
			if encode == nil {
				return dbus.Variant{}, false
			}
			dict, ok := encode()
			if !ok {
				return dbus.Variant{}, false
			}
			return dbus.MakeVariant(dict), true
		},
	}
}
