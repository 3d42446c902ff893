package link

import (
	"errors"
	"net"
	"testing"
	"time"
)

func TestFramerReadWriteLine(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	fa := NewFramer(a)
	fb := NewFramer(b)

	done := make(chan error, 1)
	go func() {
		done <- fa.WriteLine(EncodeData(0x01, []byte("hello")), time.Now().Add(time.Second))
	}()

	line, err := fb.ReadLine(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteLine: %v", err)
	}

	frame, err := ParseFrame(line)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Kind != KindData || frame.ID != 0x01 || string(frame.Payload) != "hello" {
		t.Fatalf("got %+v", frame)
	}
}

func TestFramerReadTimeout(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	fb := NewFramer(b)
	_, err := fb.ReadLine(time.Now().Add(20 * time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestFramerPeerCloseOnRead(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	fb := NewFramer(b)
	a.Close()

	_, err := fb.ReadLine(time.Now().Add(time.Second))
	if !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("expected ErrPeerClosed, got %v", err)
	}
}

func TestFramerBufferedRetainsResidualBytes(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	fb := NewFramer(b)
	go func() {
		fa := NewFramer(a)
		fa.WriteLine([]byte("devA\n01hello\n"), time.Now().Add(time.Second))
	}()

	handshake, err := fb.ReadLine(time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if string(handshake) != "devA\n" {
		t.Fatalf("handshake = %q", handshake)
	}

	deadline := time.Now().Add(time.Second)
	for fb.Buffered() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("residual bytes never arrived")
		}
		time.Sleep(time.Millisecond)
	}

	rest, err := fb.ReadLine(time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if string(rest) != "01hello\n" {
		t.Fatalf("residual frame = %q", rest)
	}
}
