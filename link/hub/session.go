package hub

import (
	"context"
	"sync"
)

// failure mirrors client.failure: the cause text plus the underlying error
// that tore down one admitted socket.
type failure struct {
	cause string
	err   error
}

// session bundles the state scoped to a single admitted socket. When it
// fails, the Connection drops back to "not live" and waits for the client
// to reconnect (admit grafts a fresh session onto the same Connection).
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

func (s *session) fail(cause string, err error) {
	s.failOnce.Do(func() {
		select {
		case s.failCh <- failure{cause: cause, err: err}:
		default:
		}
		s.cancel()
	})
}
