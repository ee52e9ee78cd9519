package bus

import (
	"context"
	"sync"
)

// busOp is one message-producing operation on a connection.
type busOp struct {
	kind string
	run  func(closed bool)
}

// serial sends bus operations one at a time in the order they were queued.
// A match rule queued before a method call is installed before the call is
// sent, so no signal emitted after the reply can slip past the rule.
//
// Operations never block the goroutine that queues them. Once the queue is
// closed, pending and later operations run with closed set and must not touch
// the bus.
type serial struct {
	mu     sync.Mutex
	queue  []busOp
	closed bool
	wake   chan struct{}
}

func newSerial() *serial {
	return &serial{wake: make(chan struct{}, 1)}
}

func (s *serial) push(kind string, run func(closed bool)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		go run(true)
		return
	}
	s.queue = append(s.queue, busOp{kind: kind, run: run})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// kinds lists the queued operations.
func (s *serial) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.queue))
	for i, op := range s.queue {
		out[i] = op.kind
	}
	return out
}

func (s *serial) take() []busOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := s.queue
	s.queue = nil
	return ops
}

// run executes queued operations until ctx is done.
func (s *serial) run(ctx context.Context) {
	for {
		ops := s.take()
		for i, op := range ops {
			if ctx.Err() != nil {
				s.close(ops[i:])
				return
			}
			op.run(false)
		}
		if len(ops) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			s.close(nil)
			return
		case <-s.wake:
		}
	}
}

func (s *serial) close(rest []busOp) {
	s.mu.Lock()
	s.closed = true
	rest = append(rest, s.queue...)
	s.queue = nil
	s.mu.Unlock()
	for _, op := range rest {
		op.run(true)
	}
}
