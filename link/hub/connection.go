package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/eapache/channels.v1"

	"github.com/xendarboh/linkmesh/internal/worker"
	"github.com/xendarboh/linkmesh/link"
)

// ErrDuplicateClient is returned by admit when a second socket claims an
// identifier whose Connection is already live.
var ErrDuplicateClient = errors.New("hub: duplicate client connection")

// Connection is the hub-side persistent state for one client identifier. It
// is created once, on the client's first appearance, and survives every
// later disconnect/reconnect: server-side application code holds a
// *Connection across outages without needing to know a socket ever dropped.
type Connection struct {
	worker.Worker

	id  string
	hub *Hub
	log *log.Logger

	mu        sync.Mutex
	conn      net.Conn
	framer    *link.Framer
	live      bool
	connects  uint64
	lastWrite time.Time
	curSess   *session
	liveCh    chan struct{}

	sendMu chan struct{}

	outIDs      *link.IDAllocator
	dedup       *link.Dedup
	initLatch   bool // true until the first application line is ever accepted
	initLatchMu sync.Mutex

	queue channels.Channel
}

func newConnection(id string, h *Hub) *Connection {
	c := &Connection{
		id:        id,
		hub:       h,
		log:       h.log.WithPrefix(fmt.Sprintf("conn[%s]", id)),
		liveCh:    make(chan struct{}),
		sendMu:    make(chan struct{}, 1),
		outIDs:    link.NewIDAllocator(),
		dedup:     link.NewDedup(),
		initLatch: true,
		queue:     channels.NewInfiniteChannel(),
	}
	return c
}

// ID returns the client identifier this Connection was created for.
func (c *Connection) ID() string { return c.id }

func (c *Connection) timeout() time.Duration { return c.hub.cfg.timeout() }

// IsLive reports whether a socket is currently grafted onto this Connection.
func (c *Connection) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// Connects returns the monotone reconnect counter.
func (c *Connection) Connects() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// admit grafts a freshly-accepted socket onto this Connection. It fails with
// ErrDuplicateClient if a socket is already live; the caller is responsible
// for closing the rejected socket.
func (c *Connection) admit(fr *link.Framer, conn net.Conn) error {
	c.mu.Lock()
	if c.live {
		c.mu.Unlock()
		return ErrDuplicateClient
	}

	sess := newSession(context.Background())
	c.conn = conn
	c.framer = fr
	c.live = true
	c.connects++
	c.curSess = sess
	close(c.liveCh)
	c.liveCh = make(chan struct{})
	c.mu.Unlock()

	c.log.Infof("admitted, connects=%d", c.Connects())

	c.Go(func() { c.readLoop(sess, fr) })
	c.Go(func() { c.keepaliveLoop(sess) })
	c.Go(func() { c.monitor(sess) })
	return nil
}

// monitor waits for this session's fail-event (or engine halt) and then
// marks the Connection not-live and releases its socket. Unlike the client
// engine, the hub never itself redials: it simply waits for the next admit.
func (c *Connection) monitor(sess *session) {
	select {
	case f := <-sess.failCh:
		c.log.Warnf("connection dropped: %s: %v", f.cause, f.err)
	case <-c.HaltCh():
	case <-sess.ctx.Done():
	}

	c.mu.Lock()
	if c.curSess == sess {
		conn := c.conn
		c.conn = nil
		c.framer = nil
		c.live = false
		c.curSess = nil
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	c.mu.Unlock()
}

// AwaitLive blocks until a socket is grafted onto this Connection.
func (c *Connection) AwaitLive(ctx context.Context) error {
	for {
		c.mu.Lock()
		live := c.live
		ch := c.liveCh
		c.mu.Unlock()
		if live {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.HaltCh():
			return link.ErrClosed
		}
	}
}

// ReadLine blocks for the next application payload delivered by the client,
// across any number of reconnects.
func (c *Connection) ReadLine(ctx context.Context) ([]byte, error) {
	select {
	case v, ok := <-c.queue.Out():
		if !ok {
			return nil, link.ErrClosed
		}
		return v.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.HaltCh():
		return nil, link.ErrClosed
	}
}

// Write submits an application payload to this Connection's client: allocate
// the next outbound ID, frame and send it, and if qos schedule a one-shot
// repeat that fires only if the connection was down when its timeout
// expired (the socket coming back up before then is taken as the original
// send having gotten through). If pause is true the call blocks until
// timeout has elapsed since it began, to pace at most one message per
// timeout window.
func (c *Connection) Write(ctx context.Context, payload []byte, qos, pause bool) error {
	if err := c.AwaitLive(ctx); err != nil {
		return err
	}

	start := time.Now()
	id := c.outIDs.Next()
	frame := link.EncodeData(id, payload)
	if err := c.send(frame, true); err != nil {
		return err
	}
	if qos {
		c.Go(func() { c.repeatIfDown(frame) })
	}
	if pause {
		if wait := c.timeout() - time.Since(start); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			case <-c.HaltCh():
				return link.ErrClosed
			}
		}
	}
	return nil
}

// repeatIfDown waits one timeout after an original send; if the connection
// is down at that point, it waits for the client to reconnect and resends
// frame once, blind. If the connection is still up at the timeout mark, the
// original send is assumed to have succeeded and nothing is repeated.
func (c *Connection) repeatIfDown(frame []byte) {
	select {
	case <-time.After(c.timeout()):
	case <-c.HaltCh():
		return
	}
	if c.IsLive() {
		return
	}
	if err := c.AwaitLive(context.Background()); err != nil {
		return
	}
	c.log.Debugf("repeating message to %s after outage", c.id)
	_ = c.send(frame, false)
}

func (c *Connection) send(frame []byte, allowBeforeLive bool) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()

	c.mu.Lock()
	fr := c.framer
	sess := c.curSess
	live := c.live
	c.mu.Unlock()

	if fr == nil || sess == nil || (!allowBeforeLive && !live) {
		return link.ErrNotConnected
	}

	if err := fr.WriteLine(frame, time.Now().Add(c.timeout())); err != nil {
		sess.fail("writer fail", err)
		return err
	}
	time.Sleep(link.WritePostPause)

	c.mu.Lock()
	c.lastWrite = time.Now()
	c.mu.Unlock()
	return nil
}

// readLoop parses frames off fr until failure, delivering accepted data
// frames into the unread-line queue. The first-ever accepted data frame is
// delivered unconditionally regardless of dedup (the init latch, cleared
// after that first delivery) to cover a client that kept its ID allocator
// across a hub restart.
func (c *Connection) readLoop(sess *session, fr *link.Framer) {
	first := true
	for {
		select {
		case <-sess.ctx.Done():
			return
		default:
		}

		d := c.timeout()
		if first {
			d = 2 * c.timeout()
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

		switch frame.Kind {
		case link.KindKeepalive:
		case link.KindAck:
			// The hub's own outbound repeat is status-based (repeatIfDown),
			// not acked, so a received ACK needs no bookkeeping here.
		case link.KindData:
			c.onDataFrame(sess, frame.ID, frame.Payload)
		}
	}
}

func (c *Connection) onDataFrame(sess *session, id uint8, payload []byte) {
	c.Go(func() { _ = c.send(link.EncodeAck(id), true) })

	isNew := c.dedup.Accept(id)

	c.initLatchMu.Lock()
	forceDeliver := c.initLatch
	c.initLatch = false
	c.initLatchMu.Unlock()

	if !isNew && !forceDeliver {
		return
	}
	c.queue.In() <- payload
}

// keepaliveLoop sends a bare newline every 2/3 * timeout of inactivity.
func (c *Connection) keepaliveLoop(sess *session) {
	interval := 2 * c.timeout() / 3
	for {
		c.mu.Lock()
		elapsed := time.Since(c.lastWrite)
		c.mu.Unlock()
		wait := interval - elapsed
		if wait < 0 {
			wait = 0
		}
		select {
		case <-time.After(wait):
		case <-sess.ctx.Done():
			return
		case <-c.HaltCh():
			return
		}

		c.mu.Lock()
		idle := time.Since(c.lastWrite) >= interval
		c.mu.Unlock()
		if !idle {
			continue
		}
		if err := c.send(link.EncodeKeepalive(), true); err != nil {
			return
		}
	}
}

// Close tears down this Connection's socket (if any) and halts its tasks.
// The hub calls this from CloseAll; it is not meant to be called directly
// by server application code, which should instead let the Connection
// outlive individual disconnects.
func (c *Connection) Close() error {
	c.Halt()
	c.mu.Lock()
	sess := c.curSess
	conn := c.conn
	c.mu.Unlock()
	if sess != nil {
		sess.cancel()
	}
	if conn != nil {
		conn.Close()
	}
	c.queue.Close()
	c.Wait()
	return nil
}
