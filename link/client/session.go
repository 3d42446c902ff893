package client

import (
	"context"
	"sync"
)

// failure carries a short cause label ("reader fail", "writer fail", ...)
// plus the underlying error.
type failure struct {
	cause string
	err   error
}

// session bundles the state scoped to a single TCP connect: the reader and
// keepalive loops that run per connect both reference the same session so
// that an outage cancels exactly the right generation of goroutines without
// disturbing the next connect's. QoS retransmit loops are not tied to a
// session and survive across connects.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc

	failCh   chan failure
	failOnce sync.Once
}

func newSession(parent context.Context) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		ctx:    ctx,
		cancel: cancel,
		failCh: make(chan failure, 1),
	}
}

// fail records the first failure for this session and cancels its context.
// Subsequent calls are no-ops: only the first failure cause matters.
func (s *session) fail(cause string, err error) {
	s.failOnce.Do(func() {
		select {
		case s.failCh <- failure{cause: cause, err: err}:
		default:
		}
		s.cancel()
	})
}
