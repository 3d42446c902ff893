// Package client implements the device-side half of the link protocol: one
// Engine per device, maintaining a single outbound TCP connection to a hub
// and transparently recovering from network or peer outages.
package client

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xendarboh/linkmesh/internal/worker"
	"github.com/xendarboh/linkmesh/link"
)

// Engine is the client endpoint of the link protocol. Construct with New;
// it runs for the lifetime of the process and is safe for concurrent Read,
// Write, Status, and AwaitConnected calls from any number of goroutines.
type Engine struct {
	worker.Worker

	cfg Config
	log *log.Logger

	network         Network
	connectCallback ConnectCallback
	badWifi         FailureHook
	badServer       FailureHook
	indicatorToggle IndicatorToggle

	firstAttempt bool

	mu        sync.Mutex
	conn      net.Conn
	framer    *link.Framer
	ok        bool
	upCh      chan struct{}
	connects  uint64
	lastWrite time.Time
	curSess   *session

	sendMu chan struct{} // 1-buffered channel used as the per-socket send lock

	outIDs  *link.IDAllocator
	dedup   *link.Dedup
	pending *link.PendingSet

	readCh chan []byte // holds at most one undelivered payload
}

// Option customizes an Engine at construction time.
type Option func(*Engine)

// WithNetwork overrides the default always-up Network collaborator.
func WithNetwork(n Network) Option { return func(e *Engine) { e.network = n } }

// WithConnectCallback installs the UP/OUTAGE transition hook.
func WithConnectCallback(cb ConnectCallback) Option {
	return func(e *Engine) { e.connectCallback = cb }
}

// WithBadWifi overrides the first-attempt network-bring-up failure hook.
func WithBadWifi(fn FailureHook) Option { return func(e *Engine) { e.badWifi = fn } }

// WithBadServer overrides the first-attempt connect failure hook.
func WithBadServer(fn FailureHook) Option { return func(e *Engine) { e.badServer = fn } }

// WithIndicatorToggle installs a callback fired on every received keepalive.
func WithIndicatorToggle(fn IndicatorToggle) Option {
	return func(e *Engine) { e.indicatorToggle = fn }
}

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) Option { return func(e *Engine) { e.log = l } }

// New constructs and starts a client engine. The returned Engine
// immediately begins its connection supervisor loop in the background.
func New(cfg Config, opts ...Option) *Engine {
	cfg.applyDefaults()

	e := &Engine{
		cfg:          cfg,
		network:      alwaysUpNetwork{},
		badWifi:      defaultBadWifi,
		badServer:    defaultBadServer,
		firstAttempt: true,
		upCh:         make(chan struct{}),
		sendMu:       make(chan struct{}, 1),
		outIDs:       link.NewIDAllocator(),
		dedup:        link.NewDedup(),
		pending:      link.NewPendingSet(),
		readCh:       make(chan []byte, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		level := log.InfoLevel
		if cfg.Verbose {
			level = log.DebugLevel
		}
		e.log = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			Prefix:          fmt.Sprintf("client[%s]", cfg.MyID),
			Level:           level,
		})
	}
	e.connectCallback = orNoopCallback(e.connectCallback)

	e.Go(e.run)
	return e
}

func orNoopCallback(cb ConnectCallback) ConnectCallback {
	if cb != nil {
		return cb
	}
	return func(up bool) {}
}

func (e *Engine) timeout() time.Duration { return e.cfg.timeout() }

// Status reports the current "ok" flag: at least one complete inbound
// frame has been received since the most recent connect.
func (e *Engine) Status() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ok
}

// Connects returns the monotone reconnect counter, exposed for diagnostics.
func (e *Engine) Connects() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connects
}

// AwaitConnected blocks until Status() becomes true, ctx is canceled, or
// the engine is closed.
func (e *Engine) AwaitConnected(ctx context.Context) error {
	for {
		e.mu.Lock()
		ok := e.ok
		ch := e.upCh
		e.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-e.HaltCh():
			return link.ErrClosed
		}
	}
}

// markOK sets ok=true if not already set and wakes any AwaitConnected
// waiters. Called by the reader on every successfully parsed frame.
func (e *Engine) markOK() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ok {
		return
	}
	e.ok = true
	close(e.upCh)
	e.upCh = make(chan struct{})
}

// clearOK resets ok=false on outage; a fresh reader session must observe a
// frame again before writes resume.
func (e *Engine) clearOK() {
	e.mu.Lock()
	e.ok = false
	e.mu.Unlock()
}

// Read blocks for the next application payload. At most one payload is ever
// queued: if the consumer is slow, newer inbound data frames are dropped in
// favor of the held one and the peer is expected to retransmit them under
// QoS 1.
func (e *Engine) Read(ctx context.Context) ([]byte, error) {
	select {
	case p := <-e.readCh:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.HaltCh():
		return nil, link.ErrClosed
	}
}

// Write submits an application payload. With qos=true and wait=true the
// call first blocks until the pending-ACK set drains (back-pressure) before
// allocating an ID; with qos=true it then blocks until that ID is ACKed,
// retransmitting on timeout. With qos=false it is fire-and-forget.
func (e *Engine) Write(ctx context.Context, payload []byte, qos, wait bool) error {
	if qos && wait {
		if err := e.waitPendingEmpty(ctx); err != nil {
			return err
		}
	}
	e.mu.Lock()
	id := e.outIDs.Next()
	e.mu.Unlock()
	frame := link.EncodeData(id, payload)
	if qos {
		e.pending.Add(id)
	}
	if err := e.sendWhenUp(ctx, frame); err != nil {
		return err
	}
	if !qos {
		return nil
	}
	return e.awaitAck(ctx, id, frame)
}

// Close tears down the current socket and halts every internal task. The
// Engine is not usable afterward.
func (e *Engine) Close() error {
	e.Halt()
	e.mu.Lock()
	sess := e.curSess
	conn := e.conn
	e.mu.Unlock()
	if sess != nil {
		sess.cancel()
	}
	if conn != nil {
		conn.Close()
	}
	e.Wait()
	return nil
}

func (e *Engine) waitPendingEmpty(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for !e.pending.Empty() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-e.HaltCh():
			return link.ErrClosed
		}
	}
	return nil
}

// sendWhenUp waits for Status() before handing frame to send, matching "a
// client-side writer waits for ok before sending data". A failed send is
// retried once the link is up again, so I/O errors do not reach the caller;
// only ctx cancellation and engine shutdown end the wait.
func (e *Engine) sendWhenUp(ctx context.Context, frame []byte) error {
	for {
		if err := e.AwaitConnected(ctx); err != nil {
			return err
		}
		if err := e.send(frame, false); err == nil {
			return nil
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		case <-e.HaltCh():
			return link.ErrClosed
		}
	}
}

// send serializes frame onto whatever socket is currently live, under the
// per-socket send lock. allowBeforeOK bypasses the ok-gate for the initial
// identifier line and for ACK frames, which the spec calls out as blind
// writes that must go out immediately after connect.
func (e *Engine) send(frame []byte, allowBeforeOK bool) error {
	e.sendMu <- struct{}{}
	defer func() { <-e.sendMu }()

	e.mu.Lock()
	fr := e.framer
	sess := e.curSess
	ok := e.ok
	e.mu.Unlock()

	if fr == nil || sess == nil {
		return link.ErrNotConnected
	}
	if !allowBeforeOK && !ok {
		return link.ErrNotConnected
	}

	if err := fr.WriteLine(frame, time.Now().Add(e.timeout())); err != nil {
		sess.fail("writer fail", err)
		return err
	}
	time.Sleep(link.WritePostPause)

	e.mu.Lock()
	e.lastWrite = time.Now()
	e.mu.Unlock()
	return nil
}

// awaitAck retransmits frame every 100ms*10 = 1s while id remains pending,
// waiting for the link to come back up first if it's currently down.
// Returns once the pending set no longer contains id.
func (e *Engine) awaitAck(ctx context.Context, id uint8, frame []byte) error {
	for e.pending.Contains(id) {
		if err := e.sleepUpToOneSecond(ctx, id); err != nil {
			return err
		}
		if !e.pending.Contains(id) {
			return nil
		}
		if !e.Status() {
			if err := e.AwaitConnected(ctx); err != nil {
				return err
			}
			continue
		}
		e.log.Debugf("retransmitting id %02x", id)
		_ = e.send(frame, false) // failures here surface through the fail-event; the loop just retries
	}
	return nil
}

// sleepUpToOneSecond waits ten 100ms ticks, bailing out early the moment id
// is ACKed.
func (e *Engine) sleepUpToOneSecond(ctx context.Context, id uint8) error {
	for i := 0; i < 10 && e.pending.Contains(id); i++ {
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		case <-e.HaltCh():
			return link.ErrClosed
		}
	}
	return nil
}
