package ofono

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smnsjas/go-ofonocore/event"
	"github.com/smnsjas/go-ofonocore/loop"
	"github.com/smnsjas/go-ofonocore/manager"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/smnsjas/go-ofonocore/ofonoerr"
	"github.com/smnsjas/go-ofonocore/service"
)

// Watchable is an object whose validity can be waited for.
type Watchable interface {
	Valid() bool
	RemoveHandler(id event.HandlerID) bool
}

// WaitValid blocks until obj is valid. A non-positive timeout waits until
// ctx is done; otherwise ofonoerr.ErrTimeout is returned once timeout has
// elapsed on the loop's clock. It must not be called from the loop
// goroutine, and the loop must be running.
func WaitValid(ctx context.Context, l *loop.Loop, obj Watchable, timeout time.Duration) error {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = l.Clock().WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan struct{})
	var once sync.Once
	wake := func() { once.Do(func() { close(done) }) }

	var (
		id      event.HandlerID
		connErr error
	)
	err := l.Do(waitCtx, func() {
		if obj.Valid() {
			wake()
			return
		}
		id, connErr = connectValid(obj, func() {
			if obj.Valid() {
				wake()
			}
		})
	})
	// Queued behind the registration, so it runs even if Do gave up early.
	defer l.Post(func() {
		if id != 0 {
			obj.RemoveHandler(id)
		}
	})
	if err != nil {
		return waitErr(ctx, err)
	}
	if connErr != nil {
		return connErr
	}

	select {
	case <-done:
		return nil
	case <-waitCtx.Done():
		return waitErr(ctx, waitCtx.Err())
	}
}

// WaitValid blocks until obj is valid. See the package-level WaitValid.
func (c *Client) WaitValid(ctx context.Context, obj Watchable, timeout time.Duration) error {
	return WaitValid(ctx, c.loop, obj, timeout)
}

// waitErr reports the parent's error if it is done, and a timeout otherwise.
func waitErr(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ofonoerr.ErrTimeout
	}
	return err
}

func connectValid(obj Watchable, fn func()) (event.HandlerID, error) {
	switch o := obj.(type) {
	case interface {
		AddValidChangedHandler(func(*object.Object)) event.HandlerID
	}:
		return o.AddValidChangedHandler(func(*object.Object) { fn() }), nil
	case *manager.Manager:
		return o.AddValidChangedHandler(func(*manager.Manager) { fn() }), nil
	case *service.Service:
		return o.AddValidChangedHandler(func(*service.Service) { fn() }), nil
	}
	return 0, fmt.Errorf("%T has no valid-changed event", obj)
}
