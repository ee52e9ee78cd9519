package object

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/smnsjas/go-ofonocore/bus"
	"github.com/smnsjas/go-ofonocore/names"
	"github.com/smnsjas/go-ofonocore/ofonoerr"
)

// Call is a caller-initiated call in flight. It keeps its object referenced
// until it completes or is canceled, whichever happens first.
type Call struct {
	obj      *Object
	method   string
	token    *bus.Call
	done     func(body []any, err error)
	finished bool
}

// ID returns the identifier used for this call in log records.
func (c *Call) ID() uuid.UUID {
	if c == nil || c.token == nil {
		return uuid.Nil
	}
	return c.token.ID
}

// Done reports whether the call completed or was canceled.
func (c *Call) Done() bool {
	return c == nil || c.finished
}

// Cancel cancels the call. The completion callback runs immediately with an
// error matching ofonoerr.ErrCanceled; the eventual bus reply is dropped.
func (c *Call) Cancel() {
	if c == nil || c.finished {
		return
	}
	c.token.Cancel()
	c.complete(nil, fmt.Errorf("%s %s: %w", c.method, c.obj.path, ofonoerr.ErrCanceled))
}

func (c *Call) complete(body []any, err error) {
	if c.finished {
		return
	}
	c.finished = true
	delete(c.obj.pending, c)
	if c.done != nil {
		c.done(body, err)
	}
	c.obj.Release()
}

// CallMethod invokes method on the object's interface. done, if not nil,
// receives the reply body or the error; errors are never retried here.
func (o *Object) CallMethod(method string, args []any, done func(body []any, err error)) (*Call, error) {
	if o.disposed {
		return nil, ofonoerr.ErrClosed
	}
	if o.proxy == nil {
		return nil, fmt.Errorf("%s %s: %w", method, o.path, ofonoerr.ErrNotReady)
	}

	c := &Call{obj: o, method: method, done: done}
	o.Ref()
	o.pending[c] = struct{}{}
	c.token = o.proxy.Call(method, args, func(body []any, err error) {
		if c.finished {
			return
		}
		if err != nil {
			o.log.Debug("call failed", "method", method, "call_id", c.token.ID, "error", err)
			err = fmt.Errorf("%s %s: %w", method, o.path, err)
		}
		c.complete(body, err)
	})
	o.log.Debug("call issued", "method", method, "call_id", c.token.ID)
	return c, nil
}

// SetProperty asks the remote object to change a property. value may be a
// dbus.Variant or any value godbus can wrap in one.
func (o *Object) SetProperty(name string, value any, done func(error)) (*Call, error) {
	v, ok := value.(dbus.Variant)
	if !ok {
		v = dbus.MakeVariant(value)
	}
	return o.CallMethod(names.SetProperty, []any{name, v}, func(_ []any, err error) {
		if done != nil {
			done(err)
		}
	})
}

// SetBool sets a boolean property.
func (o *Object) SetBool(name string, value bool, done func(error)) (*Call, error) {
	return o.SetProperty(name, dbus.MakeVariant(value), done)
}

// SetString sets a string property.
func (o *Object) SetString(name, value string, done func(error)) (*Call, error) {
	return o.SetProperty(name, dbus.MakeVariant(value), done)
}

func (o *Object) cancelPending() {
	if len(o.pending) == 0 {
		return
	}
	calls := make([]*Call, 0, len(o.pending))
	for c := range o.pending {
		calls = append(calls, c)
	}
	for _, c := range calls {
		c.Cancel()
	}
}
