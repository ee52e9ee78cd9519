// Package service tracks the presence of the oFono service on the bus and
// the list of modem paths exported by its Manager object.
//
// A Service is valid once the service owns its bus name, the Manager proxy
// exists and the initial GetModems enumeration has succeeded. ModemAdded and
// ModemRemoved keep the list current afterwards; signals arriving before the
// enumeration completes are merged silently.
package service

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/godbus/dbus/v5"
	"github.com/smnsjas/go-ofonocore/bus"
	"github.com/smnsjas/go-ofonocore/event"
	"github.com/smnsjas/go-ofonocore/names"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/smnsjas/go-ofonocore/ofonoerr"
	"github.com/smnsjas/go-ofonocore/registry"
)

// Kind is the registry kind of the per-client Service.
const Kind = "service"

// Service mirrors org.ofono.Manager.
type Service struct {
	rt  *object.Runtime
	log *slog.Logger

	refs     int
	disposed bool

	owner       string
	unwatch     func()
	proxyCall   *bus.Call
	proxy       bus.Proxy
	unsubscribe []func()
	list        *bus.Call
	retried     bool
	listed      bool
	valid       bool
	paths       map[dbus.ObjectPath]struct{}

	validChanged event.Signal[*Service]
	modemAdded   event.Signal[dbus.ObjectPath]
	modemRemoved event.Signal[dbus.ObjectPath]
}

// Get returns the Service of rt, creating and starting it on first use. The
// caller owns one reference.
func Get(rt *object.Runtime) *Service {
	s, created := registry.GetOrCreate(rt.Registry, Kind, names.ManagerPath, func() *Service {
		return &Service{
			rt:    rt,
			log:   rt.Log().With("iface", names.Manager),
			refs:  1,
			paths: make(map[dbus.ObjectPath]struct{}),
		}
	})
	if created {
		s.unwatch = rt.Conn.WatchName(names.Service, s.appeared, s.vanished)
	} else {
		s.Ref()
	}
	return s
}

// Valid reports whether the modem list is complete.
func (s *Service) Valid() bool { return s.valid }

// Owner returns the unique bus name currently owning the service, or "".
func (s *Service) Owner() string { return s.owner }

// Paths returns the known modem paths, sorted. It is empty while the
// service is not valid.
func (s *Service) Paths() []dbus.ObjectPath {
	if !s.valid {
		return nil
	}
	return slices.Sorted(maps.Keys(s.paths))
}

// Has reports whether the service is valid and lists path.
func (s *Service) Has(path dbus.ObjectPath) bool {
	if !s.valid {
		return false
	}
	_, ok := s.paths[path]
	return ok
}

// Ref takes another reference.
func (s *Service) Ref() *Service {
	s.refs++
	return s
}

// Release drops a reference. The last one stops watching the bus.
func (s *Service) Release() {
	if s.refs <= 0 {
		return
	}
	s.refs--
	if s.refs > 0 {
		return
	}
	s.disposed = true
	s.rt.Registry.Remove(Kind, names.ManagerPath)
	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
	s.reset()
	if s.valid {
		s.valid = false
		s.rt.Metrics.ValidChanged(names.Manager, false)
	}
	s.validChanged.Clear()
	s.modemAdded.Clear()
	s.modemRemoved.Clear()
}

// AddValidChangedHandler registers fn for valid transitions.
func (s *Service) AddValidChangedHandler(fn func(*Service)) event.HandlerID {
	return s.validChanged.Connect(fn)
}

// AddModemAddedHandler registers fn for modems appearing while valid.
func (s *Service) AddModemAddedHandler(fn func(dbus.ObjectPath)) event.HandlerID {
	return s.modemAdded.Connect(fn)
}

// AddModemRemovedHandler registers fn for modems disappearing while valid.
func (s *Service) AddModemRemovedHandler(fn func(dbus.ObjectPath)) event.HandlerID {
	return s.modemRemoved.Connect(fn)
}

// RemoveHandler disconnects a handler registered on s.
func (s *Service) RemoveHandler(id event.HandlerID) bool {
	return s.validChanged.Disconnect(id) ||
		s.modemAdded.Disconnect(id) ||
		s.modemRemoved.Disconnect(id)
}

func (s *Service) appeared(owner string) {
	if s.disposed || owner == s.owner {
		return
	}
	s.log.Debug("service appeared", "owner", owner)
	s.reset()
	s.owner = owner
	s.updateValid()

	var call *bus.Call
	call = s.rt.Conn.NewProxy(names.Manager, names.ManagerPath, func(p bus.Proxy, err error) {
		s.proxyCreated(call, p, err)
	})
	s.proxyCall = call
}

func (s *Service) vanished() {
	if s.disposed {
		return
	}
	if s.owner != "" {
		s.log.Debug("service vanished")
	}
	s.reset()
	s.updateValid()
}

func (s *Service) proxyCreated(call *bus.Call, p bus.Proxy, err error) {
	if s.disposed || call != s.proxyCall || call.Canceled() {
		if p != nil {
			p.Close()
		}
		return
	}
	s.proxyCall = nil
	if err != nil {
		s.log.Error("failed to create manager proxy", "error", err)
		return
	}
	s.proxy = p
	s.unsubscribe = append(s.unsubscribe,
		p.Subscribe(names.ModemAdded, s.onModemAdded),
		p.Subscribe(names.ModemRemoved, s.onModemRemoved),
	)
	s.retried = false
	s.enumerate()
}

func (s *Service) enumerate() {
	var call *bus.Call
	call = s.proxy.Call(names.GetModems, nil, func(body []any, err error) {
		s.enumerated(call, body, err)
	})
	s.list = call
}

func (s *Service) enumerated(call *bus.Call, body []any, err error) {
	if s.disposed || call != s.list || call.Canceled() {
		return
	}
	s.list = nil

	if err == nil {
		var entries []bus.ObjectEntry
		entries, err = bus.DecodeObjectList(body)
		if err == nil {
			for _, e := range entries {
				s.paths[e.Path] = struct{}{}
			}
			s.listed = true
			s.log.Debug("modems enumerated", "count", len(entries))
			s.updateValid()
			return
		}
	}

	switch {
	case ofonoerr.IsCanceled(err):
	case ofonoerr.IsTransientTimeout(err) && !s.retried:
		s.retried = true
		s.log.Debug("GetModems timed out, retrying")
		s.rt.Metrics.EnumerationRetry(names.GetModems)
		s.enumerate()
	default:
		s.log.Error("failed to enumerate modems", "error", err)
	}
}

func (s *Service) onModemAdded(body []any) {
	path, err := bus.DecodeObjectPath(body)
	if err != nil {
		s.log.Warn("malformed ModemAdded signal", "error", err)
		return
	}
	if _, ok := s.paths[path]; ok {
		return
	}
	s.paths[path] = struct{}{}
	s.log.Debug("modem added", "path", string(path))
	if s.valid {
		s.modemAdded.Emit(path)
	}
}

func (s *Service) onModemRemoved(body []any) {
	path, err := bus.DecodeObjectPath(body)
	if err != nil {
		s.log.Warn("malformed ModemRemoved signal", "error", err)
		return
	}
	if _, ok := s.paths[path]; !ok {
		return
	}
	delete(s.paths, path)
	s.log.Debug("modem removed", "path", string(path))
	if s.valid {
		s.modemRemoved.Emit(path)
	}
}

// reset drops the proxy, any enumeration in flight and the modem list
// without firing events.
func (s *Service) reset() {
	s.owner = ""
	if s.proxyCall != nil {
		s.proxyCall.Cancel()
		s.proxyCall = nil
	}
	if s.list != nil {
		s.list.Cancel()
		s.list = nil
	}
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.unsubscribe = nil
	if s.proxy != nil {
		s.proxy.Close()
		s.proxy = nil
	}
	s.listed = false
	clear(s.paths)
}

func (s *Service) updateValid() {
	valid := !s.disposed && s.proxy != nil && s.listed
	if valid == s.valid {
		return
	}
	s.valid = valid
	s.log.Debug("valid changed", "valid", valid)
	s.rt.Metrics.ValidChanged(names.Manager, valid)
	s.validChanged.Emit(s)
}
