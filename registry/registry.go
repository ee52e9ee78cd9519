// Package registry deduplicates live objects by kind and path.
//
// Entries are back-references: the registry never keeps an object alive.
// Objects remove themselves when their last reference is released, so at
// most one live instance exists per (kind, path) and every consumer of that
// path shares one property cache.
package registry

import "github.com/godbus/dbus/v5"

// Key identifies a registry entry. Kind is normally the D-Bus interface name.
type Key struct {
	Kind string
	Path dbus.ObjectPath
}

// Registry maps keys to live objects. It is owned by a single loop and is not
// safe for concurrent use.
type Registry struct {
	entries map[Key]any
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// GetOrCreate returns the live instance registered for (kind, path), or
// builds one with create and registers it. The second result reports whether
// create was called; callers take an extra reference on existing instances.
func GetOrCreate[T any](r *Registry, kind string, path dbus.ObjectPath, create func() T) (T, bool) {
	key := Key{Kind: kind, Path: path}
	if v, ok := r.entries[key]; ok {
		if typed, ok := v.(T); ok {
			return typed, false
		}
	}
	obj := create()
	if r.entries == nil {
		r.entries = make(map[Key]any)
	}
	r.entries[key] = obj
	return obj, true
}

// Lookup returns the live instance registered for (kind, path) without
// creating one.
func Lookup[T any](r *Registry, kind string, path dbus.ObjectPath) (T, bool) {
	v, ok := r.entries[Key{Kind: kind, Path: path}]
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// Remove drops the entry for (kind, path). Only the live instance calls it,
// from its final release. The backing map is released once the last entry is
// gone.
func (r *Registry) Remove(kind string, path dbus.ObjectPath) {
	delete(r.entries, Key{Kind: kind, Path: path})
	if len(r.entries) == 0 {
		r.entries = nil
	}
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Keys returns the keys of all live entries.
func (r *Registry) Keys() []Key {
	keys := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}
