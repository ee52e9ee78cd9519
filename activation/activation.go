// Package activation serializes on/off requests against a remote toggle.
//
// A Controller remembers the last requested state (desired) and the toggle
// currently in progress (current). At most one toggle is outstanding; a
// request arriving while one is in flight is issued after it completes, and
// a request matching the one in flight is dropped.
//
// A toggle failing with org.ofono.Error.InProgress is retried after
// RetryDelay, up to MaxRetry times. A failed activation is published
// through the failed event; a failed deactivation is only logged.
package activation

import (
	"log/slog"
	"time"

	"github.com/smnsjas/go-ofonocore/event"
	"github.com/smnsjas/go-ofonocore/loop"
	"github.com/smnsjas/go-ofonocore/metrics"
	"github.com/smnsjas/go-ofonocore/object"
	"github.com/smnsjas/go-ofonocore/ofonoerr"
)

// Retry defaults.
const (
	MaxRetry   = 30
	RetryDelay = time.Second
)

// State is a toggle direction.
type State int

const (
	// None means no toggle is requested or in progress.
	None State = iota
	// Activating is a toggle to on.
	Activating
	// Deactivating is a toggle to off.
	Deactivating
)

func (s State) String() string {
	switch s {
	case None:
		return "None"
	case Activating:
		return "Activating"
	case Deactivating:
		return "Deactivating"
	default:
		return "Unknown"
	}
}

// Toggle starts switching the remote state to on and reports the outcome
// through done. An error returned directly means the toggle was not issued;
// done is then never called.
type Toggle func(on bool, done func(error)) error

// Option configures a Controller.
type Option func(*Controller)

// WithMaxRetry overrides MaxRetry.
func WithMaxRetry(n int) Option {
	return func(c *Controller) {
		c.maxRetry = n
	}
}

// WithRetryDelay overrides RetryDelay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Controller) {
		c.retryDelay = d
	}
}

// Controller drives one toggle. It lives on the loop of its runtime.
type Controller struct {
	loop    *loop.Loop
	log     *slog.Logger
	metrics *metrics.Metrics

	toggle     Toggle
	valid      func() bool
	maxRetry   int
	retryDelay time.Duration

	desired    State
	current    State
	retryCount int
	retryTimer *loop.Timer
	gen        uint64
	closed     bool

	failed event.Signal[error]
}

// New creates an idle controller. valid reports whether the owner may issue
// toggles; the owner calls Advance when it becomes valid.
func New(rt *object.Runtime, toggle Toggle, valid func() bool, opts ...Option) *Controller {
	c := &Controller{
		loop:       rt.Loop,
		log:        rt.Log(),
		metrics:    rt.Metrics,
		toggle:     toggle,
		valid:      valid,
		maxRetry:   MaxRetry,
		retryDelay: RetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetLogger replaces the logger, typically with one carrying the owner's
// attributes.
func (c *Controller) SetLogger(l *slog.Logger) {
	if l != nil {
		c.log = l
	}
}

// Desired returns the requested state not yet issued.
func (c *Controller) Desired() State { return c.desired }

// Current returns the toggle in progress.
func (c *Controller) Current() State { return c.current }

// RetryCount returns the number of busy retries of the current toggle.
func (c *Controller) RetryCount() int { return c.retryCount }

// RequestActivate asks for the remote state to be switched on.
func (c *Controller) RequestActivate() {
	c.request(Activating)
}

// RequestDeactivate asks for the remote state to be switched off.
func (c *Controller) RequestDeactivate() {
	c.request(Deactivating)
}

func (c *Controller) request(s State) {
	if c.closed {
		return
	}
	if c.current == s {
		c.desired = None
		return
	}
	c.desired = s
	c.Advance()
}

// Advance issues the desired toggle if the owner is valid and nothing is in
// progress. A busy retry waiting for a different direction is abandoned.
func (c *Controller) Advance() {
	if c.closed || !c.valid() {
		return
	}
	if c.retryTimer != nil && c.desired != None && c.desired != c.current {
		c.log.Debug("abandoning busy retry", "current", c.current, "desired", c.desired)
		c.retryTimer.Stop()
		c.retryTimer = nil
		c.current = None
		c.gen++
	}
	if c.current == None && c.desired != None {
		c.retryCount = 0
		c.current = c.desired
		c.desired = None
		c.issue()
	}
}

func (c *Controller) issue() {
	c.gen++
	gen := c.gen
	c.log.Debug("toggle", "state", c.current, "attempt", c.retryCount+1)
	if err := c.toggle(c.current == Activating, func(err error) { c.completed(gen, err) }); err != nil {
		c.completed(gen, err)
	}
}

func (c *Controller) retry() {
	c.retryTimer = nil
	if c.closed || c.current == None {
		return
	}
	c.issue()
}

func (c *Controller) completed(gen uint64, err error) {
	if c.closed || gen != c.gen {
		return
	}

	switch {
	case err == nil:
		c.current = None
	case ofonoerr.IsBusy(err) && c.retryCount < c.maxRetry:
		c.retryCount++
		c.metrics.ToggleRetry()
		c.log.Debug("toggle busy, retrying", "state", c.current, "retry", c.retryCount, "delay", c.retryDelay)
		c.retryTimer = c.loop.AfterFunc(c.retryDelay, c.retry)
		return
	case ofonoerr.IsCanceled(err):
		c.log.Debug("toggle canceled", "state", c.current)
		c.current = None
	default:
		if ofonoerr.IsBusy(err) {
			c.log.Warn("toggle still busy, giving up", "state", c.current, "retries", c.retryCount)
		}
		state := c.current
		c.current = None
		if state == Activating {
			c.log.Error("activation failed", "error", err)
			c.metrics.ActivationFailure()
			c.failed.Emit(err)
		} else {
			c.log.Debug("deactivation failed", "error", err)
		}
	}
	c.Advance()
}

// Close stops any pending retry, forgets the desired state and ignores the
// outcome of a toggle still in flight.
func (c *Controller) Close() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.desired = None
	c.current = None
	c.closed = true
	c.gen++
	c.failed.Clear()
}

// AddFailedHandler registers fn for failed activations.
func (c *Controller) AddFailedHandler(fn func(error)) event.HandlerID {
	return c.failed.Connect(fn)
}

// RemoveHandler disconnects a handler registered on c.
func (c *Controller) RemoveHandler(id event.HandlerID) bool {
	return c.failed.Disconnect(id)
}
