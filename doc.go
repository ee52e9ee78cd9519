// Package ofono mirrors the oFono telephony daemon's D-Bus objects as typed,
// event-driven Go objects.
//
// Each mirrored object follows its remote counterpart: it becomes ready once
// its proxy exists and its parent objects are valid, fetches its properties
// in one GetProperties round trip, applies PropertyChanged signals as they
// arrive, and becomes valid once the fetch has completed. Losing readiness
// clears the property cache and cancels anything in flight.
//
// # Architecture
//
// The library is organized into layers:
//
//   - Client: connection, dispatch loop and typed getters
//   - manager, modem, connmgr, connctx, simmgr, netreg: typed interface views
//   - binding: objects gated on their modem advertising an interface
//   - collection: child sets that are valid once every child is valid
//   - activation: the connection context activate/deactivate state machine
//   - object: the property cache, readiness and validity engine
//   - bus: godbus adapter and the bustest fake
//   - loop: the single goroutine every callback runs on
//
// # Basic Usage
//
//	client, err := ofono.Dial(ctx, ofono.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	go client.Run(ctx)
//
//	var m *manager.Manager
//	client.Do(ctx, func() { m = client.Manager() })
//	if err := client.WaitValid(ctx, m, 5*time.Second); err != nil {
//	    return err
//	}
//	client.Do(ctx, func() {
//	    for _, modem := range m.Modems() {
//	        fmt.Println(modem.Path(), modem.Powered)
//	    }
//	    m.Release()
//	})
//
// # Threading
//
// Objects are not safe for concurrent use. Everything runs on the loop
// goroutine started by Run; other goroutines hand work to it with Do.
//
// # Reference
//
// oFono D-Bus API: https://git.kernel.org/pub/scm/network/ofono/ofono.git/tree/doc
package ofono

// Version is the library version.
const Version = "0.1.0-dev"
