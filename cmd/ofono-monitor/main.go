// Command ofono-monitor follows one oFono object and prints its state as it
// changes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smnsjas/go-ofonocore"
	"github.com/smnsjas/go-ofonocore/event"
	"github.com/smnsjas/go-ofonocore/manager"
	"github.com/smnsjas/go-ofonocore/modem"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	verbose     bool
	modemIface  bool
	format      string
	sessionBus  bool
	metricsAddr string

	rootCmd = &cobra.Command{
		Use:   "ofono-monitor INTERFACE [PATH]",
		Short: "Follow an oFono object and print its state",
		Long: `ofono-monitor mirrors one oFono object and prints "+++ PATH" when it
becomes valid, its properties, each property change, and "--- PATH" when it
stops being valid. PATH defaults to /.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
)

func init() {
	flags := rootCmd.Flags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVarP(&modemIface, "modem-interface", "m", false, "treat INTERFACE as a modem interface with no typed view")
	flags.StringVar(&format, "format", "text", "output format: text or yaml")
	flags.BoolVar(&sessionBus, "session", false, "use the session bus instead of the system bus")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ofono-monitor: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	iface := args[0]
	path := dbus.ObjectPath("/")
	if len(args) > 1 {
		path = dbus.ObjectPath(args[1])
	}
	if !path.IsValid() {
		return fmt.Errorf("invalid object path %q", path)
	}

	out, err := newPrinter(cmd.OutOrStdout(), format)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []ofono.Option{ofono.WithLogger(logger)}
	if sessionBus {
		opts = append(opts, ofono.WithSessionBus())
	}
	var reg *prometheus.Registry
	if metricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, ofono.WithMetrics(reg))
	}

	client, err := ofono.Dial(sigCtx, opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	// The loop outlives sigCtx so the watched object can be released on it.
	runCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := client.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if reg != nil {
		serveMetrics(gctx, g, reg, logger)
	}

	m := &monitor{client: client, out: out, log: logger}
	var watchErr error
	if err := client.Do(sigCtx, func() { watchErr = m.watch(iface, path) }); err != nil {
		return err
	}
	if watchErr != nil {
		stopLoop()
		_ = g.Wait()
		return watchErr
	}

	select {
	case <-sigCtx.Done():
		logger.Debug("interrupted")
	case <-gctx.Done():
	}

	cleanupCtx, cancel := context.WithTimeout(runCtx, time.Second)
	defer cancel()
	if err := client.Do(cleanupCtx, m.close); err != nil {
		logger.Warn("release failed", "error", err)
	}
	stopLoop()
	return g.Wait()
}

func serveMetrics(ctx context.Context, g *errgroup.Group, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("serving metrics", "addr", metricsAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// mirrored is the part of a mirrored D-Bus object the monitor prints.
type mirrored interface {
	Path() dbus.ObjectPath
	Valid() bool
	Properties() map[string]dbus.Variant
	AddValidChangedHandler(fn func(*object.Object)) event.HandlerID
	AddPropertyChangedHandler(name string, fn func(*object.Object, object.PropertyChange)) event.HandlerID
	Release()
}

// monitor lives on the client's loop.
type monitor struct {
	client  *ofono.Client
	out     *printer
	log     *slog.Logger
	release func()
}

func (m *monitor) watch(iface string, path dbus.ObjectPath) error {
	if modemIface {
		m.watchObject(m.client.Interface(iface, path))
		return nil
	}
	r, err := m.client.Get(iface, path)
	if err != nil {
		return err
	}
	switch o := r.(type) {
	case *manager.Manager:
		m.watchManager(o)
	case mirrored:
		m.watchObject(o)
	default:
		r.Release()
		return fmt.Errorf("cannot monitor %T", r)
	}
	return nil
}

func (m *monitor) watchObject(o mirrored) {
	m.release = o.Release
	report := func() {
		m.out.Valid(o.Path(), o.Valid())
		if o.Valid() {
			m.check(m.out.Dump(o.Path(), o.Properties()))
		}
	}
	o.AddValidChangedHandler(func(*object.Object) { report() })
	o.AddPropertyChangedHandler("", func(obj *object.Object, c object.PropertyChange) {
		if obj.Valid() {
			m.check(m.out.Change(obj.Path(), c.Name, c.Value, c.Removed))
		}
	})
	if o.Valid() {
		report()
	}
}

// watchManager prints the manager's own transitions on "/" and one line per
// modem joining or leaving the list. The manager is briefly invalid while a
// new modem loads; modems already printed are not repeated.
func (m *monitor) watchManager(mgr *manager.Manager) {
	m.release = mgr.Release
	shown := make(map[dbus.ObjectPath]bool)
	sync := func() {
		if !mgr.Valid() {
			return
		}
		current := make(map[dbus.ObjectPath]bool)
		for _, md := range mgr.Modems() {
			current[md.Path()] = true
		}
		for _, path := range slices.Sorted(maps.Keys(shown)) {
			if !current[path] {
				m.out.Valid(path, false)
				delete(shown, path)
			}
		}
		for _, md := range mgr.Modems() {
			if !shown[md.Path()] {
				m.out.Valid(md.Path(), true)
				shown[md.Path()] = true
			}
		}
	}
	mgr.AddValidChangedHandler(func(*manager.Manager) {
		m.out.Valid("/", mgr.Valid())
		sync()
	})
	mgr.AddModemAddedHandler(func(*modem.Modem) { sync() })
	mgr.AddModemRemovedHandler(func(*modem.Modem) { sync() })
	if mgr.Valid() {
		m.out.Valid("/", true)
		sync()
	}
}

func (m *monitor) check(err error) {
	if err != nil {
		m.log.Error("print failed", "error", err)
	}
}

func (m *monitor) close() {
	if m.release != nil {
		m.release()
		m.release = nil
	}
}
