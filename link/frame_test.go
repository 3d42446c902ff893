package link

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeParseDataRoundTrip(t *testing.T) {
	for _, payload := range [][]byte{
		[]byte("hello"),
		[]byte(""),
		[]byte("unicode: éè中文"),
	} {
		encoded := EncodeData(0x01, payload)
		frame, err := ParseFrame(encoded)
		if err != nil {
			t.Fatalf("ParseFrame(%q): %v", encoded, err)
		}
		if frame.Kind != KindData {
			t.Fatalf("expected KindData, got %v", frame.Kind)
		}
		if frame.ID != 0x01 {
			t.Fatalf("ID = %#x, want 0x01", frame.ID)
		}
		if !bytes.Equal(frame.Payload, payload) {
			t.Fatalf("payload round-trip: got %q, want %q", frame.Payload, payload)
		}
	}
}

func TestEncodeDataAddsMissingNewline(t *testing.T) {
	got := EncodeData(0xff, []byte("no newline"))
	if got[len(got)-1] != '\n' {
		t.Fatal("EncodeData must terminate with a newline")
	}
	got2 := EncodeData(0xff, []byte("has newline\n"))
	if bytes.Count(got2, []byte("\n")) != 1 {
		t.Fatal("EncodeData must not double a trailing newline")
	}
}

func TestEncodeParseAck(t *testing.T) {
	encoded := EncodeAck(0x7f)
	if !bytes.Equal(encoded, []byte("7f\n")) {
		t.Fatalf("EncodeAck = %q, want \"7f\\n\"", encoded)
	}
	frame, err := ParseFrame(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Kind != KindAck || frame.ID != 0x7f {
		t.Fatalf("got %+v", frame)
	}
}

func TestEncodeParseKeepalive(t *testing.T) {
	encoded := EncodeKeepalive()
	if !bytes.Equal(encoded, []byte("\n")) {
		t.Fatalf("EncodeKeepalive = %q", encoded)
	}
	frame, err := ParseFrame(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Kind != KindKeepalive {
		t.Fatalf("got %+v", frame)
	}
}

func TestParseFrameRejectsNonHexID(t *testing.T) {
	_, err := ParseFrame([]byte("zz payload\n"))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestParseFrameRejectsMissingTerminator(t *testing.T) {
	_, err := ParseFrame([]byte("01abc"))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestIDPrefixIsLowercaseHex(t *testing.T) {
	encoded := EncodeData(0xab, []byte("x"))
	if encoded[0] != 'a' || encoded[1] != 'b' {
		t.Fatalf("ID prefix not lowercase hex: %q", encoded[:2])
	}
}
