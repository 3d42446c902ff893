package client

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeHub is a minimal single-connection test double standing in for the
// hub engine, just enough to drive the client's handshake, echo, and QoS
// retransmit paths without pulling in the hub package.
type fakeHub struct {
	ln net.Listener
}

func newFakeHub(t *testing.T) *fakeHub {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return &fakeHub{ln: ln}
}

func (h *fakeHub) addr() (string, int) {
	tcpAddr := h.ln.Addr().(*net.TCPAddr)
	return tcpAddr.IP.String(), tcpAddr.Port
}

func (h *fakeHub) accept(t *testing.T) (net.Conn, *bufio.Reader) {
	conn, err := h.ln.Accept()
	require.NoError(t, err)
	return conn, bufio.NewReader(conn)
}

func (h *fakeHub) close() { h.ln.Close() }

func testConfig(server string, port int) Config {
	cfg := Config{MyID: "devA", Server: server, Port: port, TimeoutMS: 200}
	cfg.applyDefaults()
	return cfg
}

func TestEngineHandshake(t *testing.T) {
	hub := newFakeHub(t)
	defer hub.close()
	host, port := hub.addr()

	e := New(testConfig(host, port))
	defer e.Close()

	conn, r := hub.accept(t)
	defer conn.Close()

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "devA\n", line)
}

func TestEngineEchoRoundTrip(t *testing.T) {
	hub := newFakeHub(t)
	defer hub.close()
	host, port := hub.addr()

	e := New(testConfig(host, port))
	defer e.Close()

	conn, r := hub.accept(t)
	defer conn.Close()

	_, err := r.ReadString('\n') // handshake
	require.NoError(t, err)

	// ok is only set once an inbound frame arrives; a keepalive is enough.
	_, err = conn.Write([]byte("\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.AwaitConnected(ctx))

	require.NoError(t, e.Write(ctx, []byte("hello\n"), false, false))

	// a fresh engine's first outbound ID is 00
	data, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "00hello\n", data)

	_, err = conn.Write([]byte("01world\n"))
	require.NoError(t, err)

	payload, err := e.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, "world\n", string(payload))

	// client should ack the "01world" data frame
	ack, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "01\n", ack)
}

func TestEngineQoSRetransmitsUntilAcked(t *testing.T) {
	hub := newFakeHub(t)
	defer hub.close()
	host, port := hub.addr()

	cfg := testConfig(host, port)
	cfg.TimeoutMS = 50
	e := New(cfg)
	defer e.Close()

	conn, r := hub.accept(t)
	defer conn.Close()

	_, err := r.ReadString('\n') // handshake
	require.NoError(t, err)

	// ok is only set once an inbound frame arrives; a keepalive is enough.
	_, err = conn.Write([]byte("\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, e.AwaitConnected(ctx))

	writeErrCh := make(chan error, 1)
	go func() {
		writeErrCh <- e.Write(ctx, []byte("payload\n"), true, true)
	}()

	first, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "00payload\n", first)

	// Drop the first send; wait for a retransmit of the same ID+payload.
	second, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "00payload\n", second)

	_, err = conn.Write([]byte("00\n"))
	require.NoError(t, err)

	require.NoError(t, <-writeErrCh)
}

func TestEngineAwaitConnectedRespectsContext(t *testing.T) {
	hub := newFakeHub(t)
	defer hub.close()
	host, port := hub.addr()

	e := New(testConfig(host, port))
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := e.AwaitConnected(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
