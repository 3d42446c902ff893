package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/xendarboh/linkmesh/link"
)

type state int

const (
	stateInit state = iota
	stateWifi
	stateConnect
	stateUp
	stateOutage
)

// run is the engine's main loop: the connection supervisor state machine.
// It owns exactly one session at a time and transitions through
// INIT -> WIFI -> CONNECT -> UP -> OUTAGE -> WIFI ... until Halt.
func (e *Engine) run() {
	st := stateInit
	var lastCause string
	var lastErr error

	for {
		select {
		case <-e.HaltCh():
			return
		default:
		}

		switch st {
		case stateInit:
			if !e.sleepCancellable(time.Second) {
				return
			}
			st = stateWifi

		case stateWifi:
			if !e.waitStableNetwork() {
				return
			}
			st = stateConnect

		case stateConnect:
			if err := e.connectOnce(); err != nil {
				if e.firstAttempt {
					e.badServer(err)
				}
				lastCause, lastErr = "connect failed", err
				st = stateOutage
				continue
			}
			e.firstAttempt = false
			st = stateUp

		case stateUp:
			lastCause, lastErr = e.runUp()
			st = stateOutage

		case stateOutage:
			e.log.Warnf("outage: %s: %v", lastCause, lastErr)
			e.connectCallback(false)
			e.teardownConn()
			if !e.sleepCancellable(2 * e.timeout()) {
				return
			}
			st = stateWifi
		}
	}
}

// sleepCancellable waits d, returning false if Halt fires first.
func (e *Engine) sleepCancellable(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-e.HaltCh():
		return false
	}
}

// waitStableNetwork calls Network.BringUp until IsConnected stays true for
// 2x timeout, per the WIFI state. Returns false if Halt fires first.
func (e *Engine) waitStableNetwork() bool {
	stableFor := 2 * e.timeout()
	for {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-e.HaltCh():
				cancel()
			case <-ctx.Done():
			}
		}()
		up := e.network.BringUp(ctx, e.cfg.SSID, e.cfg.Password)
		cancel()
		select {
		case <-e.HaltCh():
			return false
		default:
		}
		if !up {
			if e.firstAttempt {
				e.badWifi(fmt.Errorf("network bring-up failed"))
			}
			if !e.sleepCancellable(100 * time.Millisecond) {
				return false
			}
			continue
		}

		deadline := time.Now().Add(stableFor)
		stable := true
		for time.Now().Before(deadline) {
			if !e.network.IsConnected() {
				stable = false
				break
			}
			if !e.sleepCancellable(50 * time.Millisecond) {
				return false
			}
		}
		if stable {
			return true
		}
	}
}

// connectOnce dials the hub, starts the reader for this session, and sends
// the identifier line blind after a 50ms pause.
func (e *Engine) connectOnce() error {
	addr := net.JoinHostPort(e.cfg.Server, fmt.Sprintf("%d", e.cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, e.timeout())
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	sess := newSession(context.Background())
	fr := link.NewFramer(conn)

	e.mu.Lock()
	e.conn = conn
	e.framer = fr
	e.curSess = sess
	e.ok = false
	e.mu.Unlock()

	e.Go(func() { e.readLoop(sess, fr) })

	e.sleepCancellable(50 * time.Millisecond)

	idLine := append([]byte(e.cfg.MyID), '\n')
	if err := e.send(idLine, true); err != nil {
		sess.fail("identifier write failed", err)
		return err
	}
	return nil
}

// runUp starts the keepalive loop, fires the connect callback, and blocks
// until the session's fail-event fires or the engine halts.
func (e *Engine) runUp() (cause string, err error) {
	e.mu.Lock()
	sess := e.curSess
	e.mu.Unlock()
	if sess == nil {
		return "no session", fmt.Errorf("internal: runUp with no session")
	}

	e.Go(func() { e.keepaliveLoop(sess) })
	e.connectCallback(true)

	select {
	case f := <-sess.failCh:
		return f.cause, f.err
	case <-e.HaltCh():
		sess.cancel()
		return "halted", nil
	}
}

func (e *Engine) teardownConn() {
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.framer = nil
	e.curSess = nil
	e.mu.Unlock()
	e.clearOK()
	if conn != nil {
		conn.Close()
	}
}

// readLoop is the per-connect reader task: parses frames until failure,
// dispatching ACKs to the pending set and data frames to onDataFrame.
func (e *Engine) readLoop(sess *session, fr *link.Framer) {
	e.mu.Lock()
	e.connects++
	e.mu.Unlock()

	first := true
	for {
		select {
		case <-sess.ctx.Done():
			return
		default:
		}

		d := e.timeout()
		if first {
			d = 2 * e.timeout()
		}
		line, err := fr.ReadLine(time.Now().Add(d))
		if err != nil {
			sess.fail("reader fail", err)
			return
		}
		first = false

		frame, perr := link.ParseFrame(line)
		if perr != nil {
			sess.fail("reader fail", perr)
			return
		}
		e.markOK()

		switch frame.Kind {
		case link.KindKeepalive:
			if e.indicatorToggle != nil {
				e.indicatorToggle()
			}
		case link.KindAck:
			e.pending.Discard(frame.ID)
		case link.KindData:
			e.onDataFrame(frame.ID, frame.Payload)
		}
	}
}

// onDataFrame applies the reader's per-frame delivery rule: if the
// consumer's one-slot backlog is already full the frame is dropped outright
// (no ACK, so the peer will retransmit); otherwise an ACK is scheduled and,
// if the ID is new, the payload is delivered.
func (e *Engine) onDataFrame(id uint8, payload []byte) {
	if len(e.readCh) > 0 {
		e.log.Debugf("dropping data frame %02x: consumer backlog full", id)
		return
	}

	e.Go(func() { _ = e.send(link.EncodeAck(id), true) })

	isNew := e.dedup.Accept(id)
	if !isNew {
		return
	}
	e.readCh <- payload
}

// keepaliveLoop sends a bare newline whenever no write has happened within
// timeout/2.
func (e *Engine) keepaliveLoop(sess *session) {
	interval := e.timeout() / 2
	for {
		e.mu.Lock()
		elapsed := time.Since(e.lastWrite)
		e.mu.Unlock()
		wait := interval - elapsed
		if wait < 0 {
			wait = 0
		}
		select {
		case <-time.After(wait):
		case <-sess.ctx.Done():
			return
		case <-e.HaltCh():
			return
		}

		e.mu.Lock()
		idle := time.Since(e.lastWrite) >= interval
		e.mu.Unlock()
		if !idle {
			continue
		}
		if err := e.send(link.EncodeKeepalive(), true); err != nil {
			return
		}
	}
}
