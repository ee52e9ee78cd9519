package bus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/loop"
	"github.com/smnsjas/go-ofonocore/names"
	"github.com/smnsjas/go-ofonocore/ofonoerr"
)

const (
	busName      = "org.freedesktop.DBus"
	busPath      = dbus.ObjectPath("/org/freedesktop/DBus")
	ownerChanged = busName + ".NameOwnerChanged"
	getNameOwner = busName + ".GetNameOwner"
)

// DialOption configures Dial and NewDBusConn.
type DialOption func(*dialConfig)

type dialConfig struct {
	session bool
	service string
	logger  *slog.Logger
}

// WithSessionBus connects to the session bus instead of the system bus.
func WithSessionBus() DialOption {
	return func(c *dialConfig) {
		c.session = true
	}
}

// WithService overrides the destination service name. Defaults to org.ofono.
func WithService(name string) DialOption {
	return func(c *dialConfig) {
		c.service = name
	}
}

// WithLogger sets the logger used for match rule failures and dropped signals.
func WithLogger(logger *slog.Logger) DialOption {
	return func(c *dialConfig) {
		c.logger = logger
	}
}

// DBusConn implements Conn on a godbus connection. Outgoing messages leave in
// the order they were requested: match rules and method calls share one
// send queue, and replies are awaited on their own goroutines before being
// posted to the loop. Signals reach subscribers of a route in subscription
// order.
type DBusConn struct {
	conn    *dbus.Conn
	owned   bool
	loop    *loop.Loop
	service string
	logger  *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	signals chan *dbus.Signal
	ops     *serial

	mu     sync.Mutex
	routes map[route][]*subscription
}

type route struct {
	path dbus.ObjectPath
	name string // interface.member
}

type subscription struct {
	fn     func([]any)
	active atomic.Bool
}

// Dial connects to the system bus (or the session bus with WithSessionBus)
// and wraps the connection. The returned DBusConn owns the connection.
func Dial(ctx context.Context, l *loop.Loop, opts ...DialOption) (*DBusConn, error) {
	cfg := newDialConfig(opts)

	var (
		conn *dbus.Conn
		err  error
	)
	if cfg.session {
		conn, err = dbus.ConnectSessionBus(dbus.WithContext(ctx))
	} else {
		conn, err = dbus.ConnectSystemBus(dbus.WithContext(ctx))
	}
	if err != nil {
		return nil, fmt.Errorf("connect to bus: %w", err)
	}

	c := NewDBusConn(conn, l, opts...)
	c.owned = true
	return c, nil
}

// NewDBusConn wraps an existing connection. The caller keeps ownership of
// conn; Close only detaches from it.
func NewDBusConn(conn *dbus.Conn, l *loop.Loop, opts ...DialOption) *DBusConn {
	cfg := newDialConfig(opts)
	ctx, cancel := context.WithCancel(context.Background())

	c := &DBusConn{
		conn:    conn,
		loop:    l,
		service: cfg.service,
		logger:  cfg.logger,
		ctx:     ctx,
		cancel:  cancel,
		signals: make(chan *dbus.Signal, 64),
		ops:     newSerial(),
		routes:  make(map[route][]*subscription),
	}
	conn.Signal(c.signals)
	go c.dispatch()
	go c.ops.run(ctx)
	return c
}

func newDialConfig(opts []DialOption) dialConfig {
	cfg := dialConfig{service: names.Service}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	return cfg
}

// NewProxy implements Conn. godbus proxies need no round trip, so creation
// completes on the next loop iteration.
func (c *DBusConn) NewProxy(iface string, path dbus.ObjectPath, done func(Proxy, error)) *Call {
	call := NewCall(c.ctx)
	p := &dbusProxy{
		conn:  c,
		iface: iface,
		path:  path,
		obj:   c.conn.Object(c.service, path),
	}
	c.loop.Post(func() {
		if call.Canceled() {
			done(nil, fmt.Errorf("create proxy %s %s: %w", iface, path, ofonoerr.ErrCanceled))
			return
		}
		done(p, nil)
	})
	return call
}

// WatchName implements Conn.
func (c *DBusConn) WatchName(name string, appeared func(owner string), vanished func()) func() {
	var stopped atomic.Bool

	unsubscribe := c.subscribe(busPath, ownerChanged, func(body []any) {
		if len(body) < 3 {
			return
		}
		changed, _ := body[0].(string)
		owner, _ := body[2].(string)
		if changed != name {
			return
		}
		if owner != "" {
			appeared(owner)
		} else {
			vanished()
		}
	}, []dbus.MatchOption{
		dbus.WithMatchSender(busName),
		dbus.WithMatchInterface(busName),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, name),
	})

	report := func(owner string, err error) {
		c.loop.Post(func() {
			if stopped.Load() {
				return
			}
			if err == nil && owner != "" {
				appeared(owner)
			} else {
				vanished()
			}
		})
	}
	// Queued after the match rule, so an owner change racing the lookup is
	// still seen.
	c.ops.push("GetNameOwner", func(closed bool) {
		if closed {
			report("", ofonoerr.ErrClosed)
			return
		}
		pending := c.conn.BusObject().GoWithContext(c.ctx, getNameOwner, 0, make(chan *dbus.Call, 1), name)
		go func() {
			res := <-pending.Done
			var owner string
			err := res.Store(&owner)
			report(owner, err)
		}()
	})

	return func() {
		stopped.Store(true)
		unsubscribe()
	}
}

// Close implements Conn.
func (c *DBusConn) Close() error {
	c.cancel()
	c.conn.RemoveSignal(c.signals)
	if c.owned {
		return c.conn.Close()
	}
	return nil
}

func (c *DBusConn) dispatch() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case sig, ok := <-c.signals:
			if !ok {
				return
			}
			c.deliver(sig)
		}
	}
}

func (c *DBusConn) deliver(sig *dbus.Signal) {
	c.mu.Lock()
	targets := slices.Clone(c.routes[route{path: sig.Path, name: sig.Name}])
	c.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	body := sig.Body
	c.loop.Post(func() {
		for _, s := range targets {
			if s.active.Load() {
				s.fn(body)
			}
		}
	})
}

func (c *DBusConn) subscribe(path dbus.ObjectPath, name string, fn func([]any), match []dbus.MatchOption) func() {
	sub := &subscription{fn: fn}
	sub.active.Store(true)
	key := route{path: path, name: name}

	c.mu.Lock()
	c.routes[key] = append(c.routes[key], sub)
	c.mu.Unlock()

	c.ops.push("AddMatch", func(closed bool) {
		if closed {
			return
		}
		if err := c.conn.AddMatchSignalContext(c.ctx, match...); err != nil {
			c.logger.Warn("add match rule failed", "path", path, "signal", name, "error", err)
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			c.mu.Lock()
			subs := slices.DeleteFunc(c.routes[key], func(s *subscription) bool { return s == sub })
			if len(subs) == 0 {
				delete(c.routes, key)
			} else {
				c.routes[key] = subs
			}
			c.mu.Unlock()
			c.ops.push("RemoveMatch", func(closed bool) {
				if closed {
					return
				}
				if err := c.conn.RemoveMatchSignalContext(c.ctx, match...); err != nil {
					c.logger.Debug("remove match rule failed", "path", path, "signal", name, "error", err)
				}
			})
		})
	}
}

type dbusProxy struct {
	conn  *DBusConn
	iface string
	path  dbus.ObjectPath
	obj   dbus.BusObject

	mu     sync.Mutex
	unsubs []func()
}

func (p *dbusProxy) Interface() string     { return p.iface }
func (p *dbusProxy) Path() dbus.ObjectPath { return p.path }

func (p *dbusProxy) Call(method string, args []any, done func([]any, error)) *Call {
	call := NewCall(p.conn.ctx)
	member := p.iface + "." + method
	finish := func(body []any, err error) {
		if call.Canceled() {
			body, err = nil, fmt.Errorf("%s %s: %w", member, p.path, ofonoerr.ErrCanceled)
		}
		p.conn.loop.Post(func() {
			done(body, err)
		})
	}
	p.conn.ops.push("Call", func(closed bool) {
		if closed || call.Canceled() {
			finish(nil, ofonoerr.ErrCanceled)
			return
		}
		pending := p.obj.GoWithContext(call.Context(), member, 0, make(chan *dbus.Call, 1), args...)
		go func() {
			res := <-pending.Done
			finish(res.Body, res.Err)
		}()
	})
	return call
}

func (p *dbusProxy) Subscribe(member string, fn func([]any)) func() {
	unsubscribe := p.conn.subscribe(p.path, p.iface+"."+member, fn, []dbus.MatchOption{
		dbus.WithMatchSender(p.conn.service),
		dbus.WithMatchObjectPath(p.path),
		dbus.WithMatchInterface(p.iface),
		dbus.WithMatchMember(member),
	})
	p.mu.Lock()
	p.unsubs = append(p.unsubs, unsubscribe)
	p.mu.Unlock()
	return unsubscribe
}

func (p *dbusProxy) Close() {
	p.mu.Lock()
	unsubs := p.unsubs
	p.unsubs = nil
	p.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}
