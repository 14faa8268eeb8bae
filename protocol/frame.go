// Package protocol implements the bramble wire format: a fixed binary header
// with a fold checksum, followed by an opaque payload.
package protocol

import (
	"encoding/binary"
	"errors"
	"math/bits"
)

const Version = 2

// MsgType discriminates frames for dispatch.
type MsgType uint8

const (
	TypeHeartbeat MsgType = iota + 1
	TypeDiscovery
	TypeRouteRequest
	TypeRouteReply
	TypeData
	TypeTimeSync
	TypeAck
)

func (t MsgType) String() string {
	switch t {
	case TypeHeartbeat:
		return "heartbeat"
	case TypeDiscovery:
		return "discovery"
	case TypeRouteRequest:
		return "route-request"
	case TypeRouteReply:
		return "route-reply"
	case TypeData:
		return "data"
	case TypeTimeSync:
		return "time-sync"
	case TypeAck:
		return "ack"
	}
	return "unknown"
}

// HeaderSize is the fixed wire size of an encoded header.
const HeaderSize = 26

var (
	ErrMalformed = errors.New("malformed frame")
	ErrChecksum  = errors.New("header checksum mismatch")
)

// Header precedes every frame on the radio link. The checksum covers every
// other header field and must validate before any field is trusted.
type Header struct {
	Version     uint8
	Type        MsgType
	Source      uint32
	Dest        uint32 // 0 = broadcast
	MessageId   uint16
	HopCount    uint8
	MaxHops     uint8
	Timestamp   int64 // unix milliseconds, network time when available
	PayloadSize uint16
	Checksum    uint16
}

// fold is an order-dependent rotate-and-xor over the checksummed header
// bytes. Not cryptographic; it guards against corruption, not tampering.
func fold(buf []byte) uint16 {
	var cs uint16
	for i := 0; i+1 < len(buf); i += 2 {
		cs = bits.RotateLeft16(cs, 3) ^ binary.BigEndian.Uint16(buf[i:])
	}
	if len(buf)%2 != 0 {
		cs = bits.RotateLeft16(cs, 3) ^ uint16(buf[len(buf)-1])<<8
	}
	return cs
}

func (h *Header) put(buf []byte) {
	buf[0] = h.Version
	buf[1] = uint8(h.Type)
	binary.BigEndian.PutUint32(buf[2:], h.Source)
	binary.BigEndian.PutUint32(buf[6:], h.Dest)
	binary.BigEndian.PutUint16(buf[10:], h.MessageId)
	buf[12] = h.HopCount
	buf[13] = h.MaxHops
	binary.BigEndian.PutUint64(buf[14:], uint64(h.Timestamp))
	binary.BigEndian.PutUint16(buf[22:], h.PayloadSize)
	binary.BigEndian.PutUint16(buf[24:], h.Checksum)
}

// Encode serializes the header and payload into a transmittable frame,
// stamping PayloadSize and Checksum.
func Encode(h Header, payload []byte) []byte {
	h.Version = Version
	h.PayloadSize = uint16(len(payload))
	buf := make([]byte, HeaderSize+len(payload))
	h.Checksum = 0
	h.put(buf)
	h.Checksum = fold(buf[:HeaderSize-2])
	binary.BigEndian.PutUint16(buf[24:], h.Checksum)
	copy(buf[HeaderSize:], payload)
	return buf
}

// Decode parses and validates a frame. The returned payload aliases frame.
func Decode(frame []byte) (Header, []byte, error) {
	if len(frame) < HeaderSize {
		return Header{}, nil, ErrMalformed
	}
	var h Header
	h.Version = frame[0]
	h.Type = MsgType(frame[1])
	h.Source = binary.BigEndian.Uint32(frame[2:])
	h.Dest = binary.BigEndian.Uint32(frame[6:])
	h.MessageId = binary.BigEndian.Uint16(frame[10:])
	h.HopCount = frame[12]
	h.MaxHops = frame[13]
	h.Timestamp = int64(binary.BigEndian.Uint64(frame[14:]))
	h.PayloadSize = binary.BigEndian.Uint16(frame[22:])
	h.Checksum = binary.BigEndian.Uint16(frame[24:])

	if fold(frame[:HeaderSize-2]) != h.Checksum {
		return Header{}, nil, ErrChecksum
	}
	if h.Version != Version {
		return Header{}, nil, ErrMalformed
	}
	if int(h.PayloadSize) != len(frame)-HeaderSize {
		return Header{}, nil, ErrMalformed
	}
	return h, frame[HeaderSize:], nil
}
