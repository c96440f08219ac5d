package p2p

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payloads := [][]byte{[]byte("one"), bytes.Repeat([]byte{7}, 300*1024), []byte("three")}
	for _, p := range payloads {
		if err := EncodeFrame(&buf, p); err != nil {
			t.Fatal(err)
		}
	}

	// frames decode back one at a time without over-reading
	for i, want := range payloads {
		var rpc RPC
		if err := (FrameDecoder{}).Decode(&buf, &rpc); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(rpc.Payload, want) {
			t.Fatalf("frame %d: payload mismatch", i)
		}
	}
	if buf.Len() != 0 {
		t.Fatalf("%d bytes left over", buf.Len())
	}
}

func TestFrameDecodeRejectsBadType(t *testing.T) {
	var rpc RPC
	err := (FrameDecoder{}).Decode(bytes.NewReader([]byte{0x9, 1, 0, 0, 0, 'x'}), &rpc)
	if err == nil {
		t.Fatal("expected invalid message type error")
	}
}

func TestFrameDecodeRejectsOversize(t *testing.T) {
	frame := make([]byte, 5)
	frame[0] = IncomingMessage
	binary.LittleEndian.PutUint32(frame[1:], MaxMessageSize+1)

	var rpc RPC
	if err := (FrameDecoder{}).Decode(bytes.NewReader(frame), &rpc); !errors.Is(err, ErrMessageLength) {
		t.Fatalf("expected ErrMessageLength, got %v", err)
	}
}

func TestEncodeFrameRejectsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeFrame(&buf, nil); err == nil {
		t.Fatal("expected empty payload to be rejected")
	}
}
