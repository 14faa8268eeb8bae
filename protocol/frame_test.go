package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	payload := []byte(`{"battery":0.82}`)
	h := Header{
		Type:      TypeHeartbeat,
		Source:    11,
		Dest:      42,
		MessageId: 1337,
		HopCount:  2,
		MaxHops:   8,
		Timestamp: 1756400000000,
	}
	frame := Encode(h, payload)
	if len(frame) != HeaderSize+len(payload) {
		t.Fatalf("Expected frame length %d, got %d", HeaderSize+len(payload), len(frame))
	}

	got, body, err := Decode(frame)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !bytes.Equal(body, payload) {
		t.Errorf("Expected payload %q, got %q", payload, body)
	}
	if got.Version != Version {
		t.Errorf("Expected version %d, got %d", Version, got.Version)
	}
	if got.Type != TypeHeartbeat || got.Source != 11 || got.Dest != 42 ||
		got.MessageId != 1337 || got.HopCount != 2 || got.MaxHops != 8 ||
		got.Timestamp != 1756400000000 {
		t.Errorf("Header did not roundtrip: %+v", got)
	}
	if got.PayloadSize != uint16(len(payload)) {
		t.Errorf("Expected payload size %d, got %d", len(payload), got.PayloadSize)
	}
}

func TestDecodeRejectsEverySingleByteFlip(t *testing.T) {
	frame := Encode(Header{
		Type:      TypeData,
		Source:    7,
		Dest:      9,
		MessageId: 500,
		MaxHops:   8,
		Timestamp: 1756400000000,
	}, []byte("capture"))

	// flipping any checksummed header byte must fail validation
	for i := 0; i < HeaderSize-2; i++ {
		corrupted := make([]byte, len(frame))
		copy(corrupted, frame)
		corrupted[i] ^= 0x40
		if _, _, err := Decode(corrupted); err == nil {
			t.Errorf("Expected error after flipping byte %d, got nil", i)
		}
	}
}

func TestDecodeChecksumIsOrderDependent(t *testing.T) {
	frame := Encode(Header{
		Type:      TypeData,
		Source:    1,
		Dest:      2,
		MessageId: 3,
		MaxHops:   8,
	}, nil)

	// swap source and destination; an additive checksum would not notice
	swapped := make([]byte, len(frame))
	copy(swapped, frame)
	copy(swapped[2:6], frame[6:10])
	copy(swapped[6:10], frame[2:6])
	if _, _, err := Decode(swapped); err == nil {
		t.Error("Expected checksum error after swapping source and dest, got nil")
	}
}

func TestDecodeTruncated(t *testing.T) {
	frame := Encode(Header{Type: TypeAck, Source: 1, Dest: 2, MaxHops: 8}, []byte("x"))
	for _, n := range []int{0, 1, HeaderSize - 1} {
		if _, _, err := Decode(frame[:n]); err != ErrMalformed {
			t.Errorf("Expected ErrMalformed for %d bytes, got %v", n, err)
		}
	}
}

func TestDecodePayloadSizeMismatch(t *testing.T) {
	frame := Encode(Header{Type: TypeData, Source: 1, Dest: 2, MaxHops: 8}, []byte("abc"))
	if _, _, err := Decode(frame[:len(frame)-1]); err != ErrMalformed {
		t.Errorf("Expected ErrMalformed for truncated payload, got %v", err)
	}
}

func TestDecodeChecksumBeforeVersion(t *testing.T) {
	frame := Encode(Header{Type: TypeData, Source: 1, Dest: 2, MaxHops: 8}, nil)
	frame[0] = Version + 1 // stale firmware speaking an old dialect
	_, _, err := Decode(frame)
	// the checksum no longer matches, and that must win over version checks
	if err != ErrChecksum {
		t.Errorf("Expected ErrChecksum, got %v", err)
	}
}

func TestMsgTypeString(t *testing.T) {
	if TypeRouteRequest.String() != "route-request" {
		t.Errorf("Expected route-request, got %s", TypeRouteRequest.String())
	}
	if MsgType(200).String() != "unknown" {
		t.Errorf("Expected unknown, got %s", MsgType(200).String())
	}
}
