package bus

import (
	"context"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeObjectList(t *testing.T) {
	raw := [][]any{
		{dbus.ObjectPath("/ril_1"), map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}},
		{dbus.ObjectPath("/ril_0"), map[string]dbus.Variant{}},
	}

	entries, err := DecodeObjectList([]any{raw})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, dbus.ObjectPath("/ril_1"), entries[0].Path)
	assert.Equal(t, true, entries[0].Properties["Powered"].Value())
	assert.Equal(t, []dbus.ObjectPath{"/ril_0", "/ril_1"}, Paths(entries))

	typed := []ObjectEntry{{Path: "/ril_0"}}
	entries, err = DecodeObjectList([]any{typed})
	require.NoError(t, err)
	assert.Equal(t, typed, entries)
}

func TestDecodeObjectListErrors(t *testing.T) {
	tests := []struct {
		name string
		body []any
	}{
		{"empty", nil},
		{"wrong type", []any{"nope"}},
		{"short entry", []any{[][]any{{dbus.ObjectPath("/a")}}}},
		{"bad path", []any{[][]any{{"/a", map[string]dbus.Variant{}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeObjectList(tt.body)
			assert.Error(t, err)
		})
	}
}

func TestDecodeProperties(t *testing.T) {
	props, err := DecodeProperties([]any{map[string]dbus.Variant{"Online": dbus.MakeVariant(false)}})
	require.NoError(t, err)
	assert.Contains(t, props, "Online")

	_, err = DecodeProperties(nil)
	assert.Error(t, err)
	_, err = DecodeProperties([]any{42})
	assert.Error(t, err)
}

func TestDecodePropertyChanged(t *testing.T) {
	name, value, err := DecodePropertyChanged([]any{"Active", dbus.MakeVariant(true)})
	require.NoError(t, err)
	assert.Equal(t, "Active", name)
	assert.Equal(t, true, value.Value())

	_, _, err = DecodePropertyChanged([]any{"Active"})
	assert.Error(t, err)
	_, _, err = DecodePropertyChanged([]any{1, dbus.MakeVariant(true)})
	assert.Error(t, err)
	_, _, err = DecodePropertyChanged([]any{"Active", true})
	assert.Error(t, err)
}

func TestDecodeObjectPath(t *testing.T) {
	path, err := DecodeObjectPath([]any{dbus.ObjectPath("/ril_0"), map[string]dbus.Variant{}})
	require.NoError(t, err)
	assert.Equal(t, dbus.ObjectPath("/ril_0"), path)

	_, err = DecodeObjectPath([]any{"/ril_0"})
	assert.Error(t, err)
}

func TestCall(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	a := NewCall(parent)
	b := NewCall(nil)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Canceled())

	cancel()
	assert.True(t, a.Canceled())
	assert.False(t, b.Canceled())

	b.Cancel()
	b.Cancel()
	assert.True(t, b.Canceled())

	var none *Call
	none.Cancel()
	assert.False(t, none.Canceled())
}
