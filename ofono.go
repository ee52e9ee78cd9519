package ofono

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smnsjas/go-ofonocore/binding"
	"github.com/smnsjas/go-ofonocore/bus"
	"github.com/smnsjas/go-ofonocore/connctx"
	"github.com/smnsjas/go-ofonocore/connmgr"
	"github.com/smnsjas/go-ofonocore/loop"
	"github.com/smnsjas/go-ofonocore/manager"
	"github.com/smnsjas/go-ofonocore/metrics"
	"github.com/smnsjas/go-ofonocore/modem"
	"github.com/smnsjas/go-ofonocore/names"
	"github.com/smnsjas/go-ofonocore/netreg"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/smnsjas/go-ofonocore/simmgr"
)

// Client owns a bus connection, the loop its callbacks run on, and the
// registry of mirrored objects.
//
// Getters and every method of the objects they return must be called on the
// loop goroutine: from a handler, or from a func passed to Do.
type Client struct {
	rt   *object.Runtime
	loop *loop.Loop
	conn bus.Conn
	log  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Client.
type Option func(*config)

type config struct {
	logger   *slog.Logger
	clock    clock.Clock
	registry prometheus.Registerer
	metrics  bool
	session  bool
	conn     *dbus.Conn
}

// WithLogger enables logging. Without it nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithClock sets the time source for retry delays and timeouts.
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		c.clock = clk
	}
}

// WithMetrics registers the client's Prometheus collectors with reg. A nil
// reg creates collectors that are not registered anywhere.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.registry = reg
		c.metrics = true
	}
}

// WithSessionBus makes Dial connect to the session bus.
func WithSessionBus() Option {
	return func(c *config) {
		c.session = true
	}
}

// WithConn makes Dial use an existing godbus connection. The caller keeps
// ownership of conn.
func WithConn(conn *dbus.Conn) Option {
	return func(c *config) {
		c.conn = conn
	}
}

func newConfig(opts []Option) config {
	cfg := config{clock: clock.New()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	return cfg
}

// Dial connects to the system bus, or the session bus with WithSessionBus,
// and returns a client for the oFono service on it. Nothing is dispatched
// until Run is called.
func Dial(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := newConfig(opts)
	l := loop.New(loop.WithClock(cfg.clock))

	dialOpts := []bus.DialOption{bus.WithLogger(cfg.logger)}
	if cfg.session {
		dialOpts = append(dialOpts, bus.WithSessionBus())
	}

	var conn bus.Conn
	if cfg.conn != nil {
		conn = bus.NewDBusConn(cfg.conn, l, dialOpts...)
	} else {
		dc, err := bus.Dial(ctx, l, dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("dial oFono: %w", err)
		}
		conn = dc
	}
	return newClient(conn, l, cfg), nil
}

// New creates a client on a connection that delivers its callbacks to l.
// The client takes ownership of conn.
func New(conn bus.Conn, l *loop.Loop, opts ...Option) *Client {
	return newClient(conn, l, newConfig(opts))
}

func newClient(conn bus.Conn, l *loop.Loop, cfg config) *Client {
	rt := object.NewRuntime(conn, l)
	rt.Logger = cfg.logger
	if cfg.metrics {
		rt.Metrics = metrics.New(cfg.registry)
	}
	return &Client{
		rt:   rt,
		loop: l,
		conn: conn,
		log:  cfg.logger,
	}
}

// Runtime returns the environment shared by the client's objects.
func (c *Client) Runtime() *object.Runtime { return c.rt }

// Loop returns the loop the client dispatches on.
func (c *Client) Loop() *loop.Loop { return c.loop }

// Run dispatches bus callbacks and timers until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	return c.loop.Run(ctx)
}

// Do runs fn on the loop and waits for it to return. It must not be called
// from the loop goroutine.
func (c *Client) Do(ctx context.Context, fn func()) error {
	return c.loop.Do(ctx, fn)
}

// Close closes the bus connection. Objects still referenced stop receiving
// updates; releasing them afterwards is safe.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.log.Debug("closing client", "objects", c.rt.Registry.Len())
		if err := c.conn.Close(); err != nil {
			c.closeErr = fmt.Errorf("close bus connection: %w", err)
		}
	})
	return c.closeErr
}

// Manager returns the modem manager.
func (c *Client) Manager() *manager.Manager {
	return manager.Get(c.rt)
}

// Modem returns the modem at path.
func (c *Client) Modem(path dbus.ObjectPath) *modem.Modem {
	return modem.Get(c.rt, path)
}

// ConnMgr returns the connection manager of the modem at path.
func (c *Client) ConnMgr(path dbus.ObjectPath) *connmgr.ConnMgr {
	return connmgr.Get(c.rt, path)
}

// ConnCtx returns the connection context at path.
func (c *Client) ConnCtx(path dbus.ObjectPath) *connctx.ConnCtx {
	return connctx.Get(c.rt, path)
}

// SimMgr returns the SIM manager of the modem at path.
func (c *Client) SimMgr(path dbus.ObjectPath) *simmgr.SimMgr {
	return simmgr.Get(c.rt, path)
}

// NetReg returns the network registration of the modem at path.
func (c *Client) NetReg(path dbus.ObjectPath) *netreg.NetReg {
	return netreg.Get(c.rt, path)
}

// Interface returns the binding for a modem interface. Interfaces with a
// typed view share that view's mirror, so both see the same cache.
func (c *Client) Interface(iface string, path dbus.ObjectPath) *binding.Binding {
	switch iface {
	case names.ConnectionManager:
		return c.ConnMgr(path).Binding
	case names.SimManager:
		return c.SimMgr(path).Binding
	case names.NetworkRegistration:
		return c.NetReg(path).Binding
	}
	return binding.Get(c.rt, iface, path)
}

// Get returns a typed object for the interfaces the package knows, and an
// untyped binding for any other modem interface. iface may omit the
// "org.ofono." prefix. The result's Release must be called when it is no
// longer needed.
func (c *Client) Get(iface string, path dbus.ObjectPath) (Releaser, error) {
	if !path.IsValid() {
		return nil, fmt.Errorf("invalid object path %q", path)
	}
	if !strings.Contains(iface, ".") {
		iface = names.Service + "." + iface
	}
	switch iface {
	case names.Manager:
		return c.Manager(), nil
	case names.Modem:
		return c.Modem(path), nil
	case names.ConnectionManager:
		return c.ConnMgr(path), nil
	case names.ConnectionContext:
		return c.ConnCtx(path), nil
	case names.SimManager:
		return c.SimMgr(path), nil
	case names.NetworkRegistration:
		return c.NetReg(path), nil
	}
	return c.Interface(iface, path), nil
}

// Releaser is anything Get can return.
type Releaser interface {
	Valid() bool
	Release()
}
