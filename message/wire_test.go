package message_test

import (
	"bytes"
	"testing"

	"github.com/hengestone/chirp/message"
)

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	id, err := message.NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}

	h := message.WireHeader{
		Identity:  id,
		Serial:    42,
		Kind:      message.ReqAck,
		HeaderLen: 3,
		DataLen:   5,
	}

	buf := message.EncodeHeader(h)
	if len(buf) != message.WireHeaderSize {
		t.Fatalf("expected %d bytes, got %d", message.WireHeaderSize, len(buf))
	}

	got, err := message.DecodeHeader(buf[:])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestDecodeHeaderShort(t *testing.T) {
	_, err := message.DecodeHeader(make([]byte, message.WireHeaderSize-1))
	if err != message.ErrShortHeader {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestBuffersOmitsEmptyParts(t *testing.T) {
	m := &message.Message{Kind: message.Noop}
	bufs := message.Buffers(m)
	if len(bufs) != 1 {
		t.Fatalf("expected only the wire header buffer for an empty message, got %d parts", len(bufs))
	}

	m.Data = []byte("hello")
	bufs = message.Buffers(m)
	if len(bufs) != 2 {
		t.Fatalf("expected header+data buffers, got %d", len(bufs))
	}
	if !bytes.Equal(bufs[1], m.Data) {
		t.Fatalf("data buffer mismatch")
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	id, _ := message.NewIdentity()
	buf := message.EncodeHandshake(2998, id)

	port, gotID, ok := message.DecodeHandshake(buf[:])
	if !ok {
		t.Fatal("DecodeHandshake: expected ok")
	}
	if port != 2998 || gotID != id {
		t.Fatalf("handshake round trip mismatch: port=%d id=%v", port, gotID)
	}
}

func TestMessageUsedFlagCAS(t *testing.T) {
	m := &message.Message{}
	if !m.MarkUsed() {
		t.Fatal("first MarkUsed should succeed")
	}
	if m.MarkUsed() {
		t.Fatal("second MarkUsed should report reuse")
	}
	if !m.HasFlag(message.FlagUsed) {
		t.Fatal("FlagUsed should be set")
	}
}

func TestAddrLess(t *testing.T) {
	a := message.Addr{Family: message.FamilyV4, IP: [16]byte{127, 0, 0, 1}, Port: 1000}
	b := message.Addr{Family: message.FamilyV4, IP: [16]byte{127, 0, 0, 1}, Port: 2000}
	if !a.Less(b) {
		t.Fatal("expected a < b by port")
	}
	if b.Less(a) {
		t.Fatal("expected b not < a")
	}
}
