// Package hub implements the server-side half of the link protocol: one Hub
// process accepting many concurrent client connections keyed by a stable
// client identifier, exposing a persistent per-client Connection to
// server-side application code across reconnects.
package hub

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

// Hub is the accept loop and connection table for the server side of the
// link protocol. Construct with New; it begins accepting connections
// immediately.
type Hub struct {
	worker.Worker

	cfg Config
	log *log.Logger
	ln  net.Listener

	mu       sync.Mutex
	cond     *sync.Cond
	expected map[string]struct{}
	conns    map[string]*Connection
}

// Option customizes a Hub at construction time.
type Option func(*Hub)

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) Option { return func(h *Hub) { h.log = l } }

// New binds a listening socket on cfg.Port and starts the accept loop in the
// background. Returns an error if the bind fails.
func New(cfg Config, opts ...Option) (*Hub, error) {
	cfg.applyDefaults()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("hub: listen on port %d: %w", cfg.Port, err)
	}

	h := &Hub{
		cfg:      cfg,
		ln:       ln,
		expected: make(map[string]struct{}, len(cfg.ExpectedIDs)),
		conns:    make(map[string]*Connection),
	}
	h.cond = sync.NewCond(&h.mu)
	for _, id := range cfg.ExpectedIDs {
		h.expected[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		level := log.InfoLevel
		if cfg.Verbose {
			level = log.DebugLevel
		}
		h.log = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			Prefix:          "hub",
			Level:           level,
		})
	}

	h.Go(h.acceptLoop)
	h.Go(func() {
		<-h.HaltCh()
		h.ln.Close()
	})
	return h, nil
}

// Addr returns the hub's bound listen address. New replaces a zero Port with
// the default 8123, so the port is never one chosen by the system.
func (h *Hub) Addr() net.Addr { return h.ln.Addr() }

func (h *Hub) timeout() time.Duration { return h.cfg.timeout() }

// acceptLoop accepts incoming sockets. Go's net package does not expose a
// tunable accept backlog sized to the number of expected clients, so room
// for stray or duplicate connections is handled entirely in the identifier
// dispatch logic below rather than at the syscall level.
func (h *Hub) acceptLoop() {
	for {
		conn, err := h.ln.Accept()
		if err != nil {
			select {
			case <-h.HaltCh():
				return
			default:
				h.log.Warnf("accept: %v", err)
				return
			}
		}
		h.Go(func() { h.handleAccept(conn) })
	}
}

// handleAccept reads the identifier handshake line with a timeout deadline
// and dispatches to the matching Connection.
func (h *Hub) handleAccept(conn net.Conn) {
	fr := link.NewFramer(conn)
	line, err := fr.ReadLine(time.Now().Add(h.timeout()))
	if err != nil {
		h.log.Warnf("handshake read failed: %v", err)
		conn.Close()
		return
	}

	id := string(line[:len(line)-1])
	if id == "" {
		h.log.Warnf("empty client identifier on handshake, closing")
		conn.Close()
		return
	}

	h.dispatch(id, fr, conn)
}

// dispatch admits id's socket onto a new or existing Connection: an unknown
// id gets a fresh Connection (removing it from the expected set if present,
// warning if not); a known id with a live Connection is rejected as a
// duplicate; a known id with a dead Connection is grafted back on by admit.
func (h *Hub) dispatch(id string, fr *link.Framer, conn net.Conn) {
	h.mu.Lock()
	c, known := h.conns[id]
	if !known {
		if _, wasExpected := h.expected[id]; wasExpected {
			delete(h.expected, id)
		} else {
			h.log.Warnf("unexpected client id %q connected", id)
		}
		c = newConnection(id, h)
		h.conns[id] = c
		h.cond.Broadcast()
	}
	h.mu.Unlock()

	if err := c.admit(fr, conn); err != nil {
		h.log.Warnf("rejecting duplicate connection for %q", id)
		conn.Close()
	}
}

// WaitFor blocks until a Connection exists for id (it may not yet be live;
// use AwaitLive on the result for that).
func (h *Hub) WaitFor(ctx context.Context, id string) (*Connection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		if c, ok := h.conns[id]; ok {
			return c, nil
		}
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-done:
			}
		}()
		h.cond.Wait()
		close(done)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// WaitAll blocks until every id in ids has a registered Connection.
func (h *Hub) WaitAll(ctx context.Context, ids []string) (map[string]*Connection, error) {
	out := make(map[string]*Connection, len(ids))
	for _, id := range ids {
		c, err := h.WaitFor(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = c
	}
	return out, nil
}

// CloseAll halts every registered Connection and the Hub's own accept loop.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	h.Halt()
	h.Wait()
}
