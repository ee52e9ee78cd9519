// Package loop implements the single dispatch goroutine every object in this
// module runs on.
//
// Bus completions, signals and timers are posted to a Loop as plain funcs and
// executed one at a time, so object state needs no locking. Code that runs
// outside the loop hands work over with Post or Do.
//
// # Testing
//
// RunPending drains queued funcs and due timers on the calling goroutine.
// Together with a mock clock from github.com/benbjohnson/clock this gives
// tests full control over ordering and time:
//
//	clk := clock.NewMock()
//	l := loop.New(loop.WithClock(clk))
//	l.AfterFunc(time.Second, fire)
//	clk.Add(time.Second)
//	l.RunPending()
package loop

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Loop is a serial executor with timers.
type Loop struct {
	clock clock.Clock

	mu     sync.Mutex
	queue  []func()
	timers timerHeap
	seq    uint64
	wake   chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the time source. Defaults to the wall clock.
func WithClock(c clock.Clock) Option {
	return func(l *Loop) {
		l.clock = c
	}
}

// New creates a loop. Nothing runs until Run or RunPending is called.
func New(opts ...Option) *Loop {
	l := &Loop{
		clock: clock.New(),
		wake:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Clock returns the loop's time source.
func (l *Loop) Clock() clock.Clock {
	return l.clock
}

// Now returns the current time according to the loop's clock.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Post queues fn for execution on the loop. Safe for concurrent use.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// Do runs fn on the loop and waits for it to return.
// It must not be called from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc schedules fn to run on the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	l.mu.Lock()
	l.seq++
	t := &Timer{
		loop: l,
		when: l.clock.Now().Add(d),
		seq:  l.seq,
		fn:   fn,
	}
	heap.Push(&l.timers, t)
	l.mu.Unlock()
	l.signal()
	return t
}

// RunPending executes queued funcs and expired timers until nothing is
// runnable. It returns the number of funcs executed.
func (l *Loop) RunPending() int {
	n := 0
	for {
		fn := l.next()
		if fn == nil {
			return n
		}
		fn()
		n++
	}
}

// Run executes posted work until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunPending()

		var timer *clock.Timer
		var expired <-chan time.Time
		if d, ok := l.untilNextTimer(); ok {
			timer = l.clock.Timer(d)
			expired = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-l.wake:
		case <-expired:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Pending reports the number of queued funcs and armed timers.
func (l *Loop) Pending() (queued, timers int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue), len(l.timers)
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) > 0 {
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		return fn
	}
	if len(l.timers) > 0 && !l.timers[0].when.After(l.clock.Now()) {
		t := heap.Pop(&l.timers).(*Timer)
		t.fired = true
		return t.fn
	}
	return nil
}

func (l *Loop) untilNextTimer() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return 0, false
	}
	d := l.timers[0].when.Sub(l.clock.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Timer is a pending AfterFunc.
type Timer struct {
	loop  *Loop
	when  time.Time
	seq   uint64
	fn    func()
	index int
	fired bool
}

// Stop cancels the timer. It returns false if the timer already fired or
// was stopped.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.fired || t.index < 0 {
		return false
	}
	heap.Remove(&l.timers, t.index)
	return true
}

// timerHeap orders timers by deadline, then by creation order.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
