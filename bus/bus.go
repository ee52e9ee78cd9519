// Package bus is the boundary between the synchronization engine and the
// message bus.
//
// The engine only needs four things from a bus: creating a proxy for an
// (interface, path) pair, asynchronous method calls on that proxy, signal
// subscriptions, and a watch on the ownership of a well-known name. Conn and
// Proxy describe exactly that surface. DBusConn implements it on top of
// github.com/godbus/dbus/v5; the bustest package provides an in-memory fake.
//
// # Callback Delivery
//
// Every callback passed to a Conn or Proxy is delivered on the loop.Loop the
// connection was created with, and never synchronously from inside the call
// that registered it. A callback for a canceled call is still delivered,
// carrying an error that matches ofonoerr.ErrCanceled.
package bus

import (
	"context"
	"fmt"
	"slices"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
)

// Conn is a bus connection scoped to one service.
type Conn interface {
	// NewProxy creates a proxy for iface at path. done receives the proxy or
	// the error that prevented its creation.
	NewProxy(iface string, path dbus.ObjectPath, done func(Proxy, error)) *Call

	// WatchName reports ownership changes of a well-known name. appeared is
	// also invoked once if the name is owned when the watch starts, vanished
	// if it is not.
	WatchName(name string, appeared func(owner string), vanished func()) (unwatch func())

	// Close releases the connection.
	Close() error
}

// Proxy is a handle on one interface of one remote object.
type Proxy interface {
	Interface() string
	Path() dbus.ObjectPath

	// Call invokes a method of the proxy's interface.
	Call(method string, args []any, done func(body []any, err error)) *Call

	// Subscribe registers fn for a signal member of the proxy's interface
	// emitted at the proxy's path.
	Subscribe(member string, fn func(body []any)) (unsubscribe func())

	// Close drops all subscriptions made through the proxy.
	Close()
}

// Call is the cancellation token of an in-flight asynchronous operation.
type Call struct {
	ID     uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCall creates a token whose context derives from parent.
func NewCall(parent context.Context) *Call {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Call{
		ID:     uuid.New(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context returns the context carried by the call.
func (c *Call) Context() context.Context {
	return c.ctx
}

// Cancel cancels the call. It is safe to call more than once and on a nil
// call.
func (c *Call) Cancel() {
	if c != nil {
		c.cancel()
	}
}

// Canceled reports whether Cancel has been called.
func (c *Call) Canceled() bool {
	return c != nil && c.ctx.Err() != nil
}

// ObjectEntry is one element of an a(oa{sv}) enumeration reply such as
// GetModems or GetContexts.
type ObjectEntry struct {
	Path       dbus.ObjectPath
	Properties map[string]dbus.Variant
}

// DecodeProperties extracts the a{sv} dictionary returned by GetProperties.
func DecodeProperties(body []any) (map[string]dbus.Variant, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("GetProperties: empty reply")
	}
	props, ok := body[0].(map[string]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("GetProperties: unexpected reply type %T", body[0])
	}
	return props, nil
}

// DecodePropertyChanged extracts the (s, v) arguments of PropertyChanged.
func DecodePropertyChanged(body []any) (string, dbus.Variant, error) {
	if len(body) < 2 {
		return "", dbus.Variant{}, fmt.Errorf("PropertyChanged: expected 2 arguments, got %d", len(body))
	}
	name, ok := body[0].(string)
	if !ok {
		return "", dbus.Variant{}, fmt.Errorf("PropertyChanged: unexpected name type %T", body[0])
	}
	value, ok := body[1].(dbus.Variant)
	if !ok {
		return "", dbus.Variant{}, fmt.Errorf("PropertyChanged: unexpected value type %T", body[1])
	}
	return name, value, nil
}

// DecodeObjectPath extracts the leading object path argument of a signal
// such as ModemRemoved, ContextAdded or ContextRemoved.
func DecodeObjectPath(body []any) (dbus.ObjectPath, error) {
	if len(body) < 1 {
		return "", fmt.Errorf("expected an object path argument")
	}
	path, ok := body[0].(dbus.ObjectPath)
	if !ok {
		return "", fmt.Errorf("unexpected path type %T", body[0])
	}
	return path, nil
}

// DecodeObjectList extracts the entries of an a(oa{sv}) reply. It accepts
// both the typed form and the [][]any form produced by the D-Bus decoder.
func DecodeObjectList(body []any) ([]ObjectEntry, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("empty reply")
	}
	switch list := body[0].(type) {
	case []ObjectEntry:
		out := make([]ObjectEntry, len(list))
		copy(out, list)
		return out, nil
	case [][]any:
		out := make([]ObjectEntry, 0, len(list))
		for i, raw := range list {
			if len(raw) != 2 {
				return nil, fmt.Errorf("entry %d: expected 2 fields, got %d", i, len(raw))
			}
			path, ok := raw[0].(dbus.ObjectPath)
			if !ok {
				return nil, fmt.Errorf("entry %d: unexpected path type %T", i, raw[0])
			}
			props, _ := raw[1].(map[string]dbus.Variant)
			out = append(out, ObjectEntry{Path: path, Properties: props})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected reply type %T", body[0])
	}
}

// Paths returns the paths of the entries, sorted.
func Paths(entries []ObjectEntry) []dbus.ObjectPath {
	out := make([]dbus.ObjectPath, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	slices.Sort(out)
	return out
}
