package core

import (
	"testing"
	"time"

	"github.com/bramblemesh/bramble/mock"
	"github.com/bramblemesh/bramble/protocol"
	"github.com/bramblemesh/bramble/state"
	"github.com/stretchr/testify/assert"
)

func TestQueueDropsOldestWhenFull(t *testing.T) {
	s, radio, _ := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	m := Get[*Mesh](s)
	radio.SetBusy(true)

	for i := 0; i < state.SendQueueCapacity+2; i++ {
		m.enqueueBroadcast(s, protocol.TypeData, []byte{byte(i)})
	}

	assert.Len(t, m.queue, state.SendQueueCapacity)
	assert.Equal(t, uint64(2), s.Stats.Dropped.Load())
	// the survivors are the newest frames
	_, body, err := protocol.Decode(m.queue[0].frame)
	assert.NoError(t, err)
	assert.Equal(t, []byte{2}, body)
}

func TestBackoffGrowsAndResets(t *testing.T) {
	s, radio, _ := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	m := Get[*Mesh](s)
	now := time.Now()

	radio.SetBusy(true)
	for i := 0; i < 20; i++ {
		assert.False(t, m.transmit(s, []byte{1}, now))
		assert.LessOrEqual(t, m.backoff, state.BackoffCap)
	}
	assert.Equal(t, state.BackoffCap, m.backoff)
	assert.False(t, m.channelClear(now), "hold window is in effect")

	radio.SetBusy(false)
	assert.True(t, m.transmit(s, protocol.Encode(protocol.Header{Type: protocol.TypeData, MaxHops: 8}, nil), now))
	assert.Equal(t, state.BackoffBase, m.backoff, "success resets the backoff")
}

func TestChecksumFailureCounted(t *testing.T) {
	s, _, _ := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	m := Get[*Mesh](s)

	frame := protocol.Encode(protocol.Header{Type: protocol.TypeData, Source: 2, Dest: 1, MaxHops: 8}, []byte("x"))
	frame[3] ^= 0xff
	m.handleFrame(s, frame, 0.9, time.Now())

	assert.Equal(t, uint64(1), s.Stats.ChecksumFailures.Load())
	assert.Equal(t, uint64(1), s.Stats.Dropped.Load())
	assert.Equal(t, uint64(0), s.Stats.Received.Load())
}

func TestDataToSelfIsDeliveredAndAcked(t *testing.T) {
	s, radio, rec := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	m := Get[*Mesh](s)
	now := time.Now()

	frame := protocol.Encode(protocol.Header{
		Type: protocol.TypeData, Source: 2, Dest: 1, MessageId: 77, MaxHops: 8,
	}, []byte("capture-report"))
	m.handleFrame(s, frame, 0.9, now)

	if assert.Len(t, rec.messages, 1) {
		assert.Equal(t, state.NodeId(2), rec.messages[0].V1)
		assert.Equal(t, []byte("capture-report"), rec.messages[0].V2)
	}

	sent := radio.Sent()
	if assert.Len(t, sent, 1) {
		h, body, err := protocol.Decode(sent[0])
		assert.NoError(t, err)
		assert.Equal(t, protocol.TypeAck, h.Type)
		assert.Equal(t, uint32(2), h.Dest)
		var ack protocol.Ack
		assert.NoError(t, protocol.Unmarshal(body, &ack))
		assert.Equal(t, uint16(77), ack.MessageId)
	}
}

func TestDuplicateFrameIgnored(t *testing.T) {
	s, _, rec := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	m := Get[*Mesh](s)
	now := time.Now()

	frame := protocol.Encode(protocol.Header{
		Type: protocol.TypeData, Source: 2, Dest: 1, MessageId: 5, MaxHops: 8,
	}, []byte("once"))
	m.handleFrame(s, frame, 0.9, now)
	m.handleFrame(s, frame, 0.9, now)

	assert.Len(t, rec.messages, 1)
}

func TestTransitFrameForwarded(t *testing.T) {
	s, radio, _ := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	m := Get[*Mesh](s)
	r := Get[*Router](s)
	now := time.Now()
	r.AddRoute(s, 3, 3, 1, 1, now)

	frame := protocol.Encode(protocol.Header{
		Type: protocol.TypeData, Source: 2, Dest: 3, MessageId: 9, HopCount: 1, MaxHops: 8,
	}, []byte("relay-me"))
	m.handleFrame(s, frame, 0.9, now)

	assert.Equal(t, uint64(1), s.Stats.Forwarded.Load())
	sent := radio.Sent()
	if assert.Len(t, sent, 1) {
		h, _, err := protocol.Decode(sent[0])
		assert.NoError(t, err)
		assert.Equal(t, uint32(2), h.Source, "end-to-end source is preserved")
		assert.Equal(t, uint8(2), h.HopCount)
	}
}

func TestTransitFrameWithoutRouteDropped(t *testing.T) {
	s, radio, _ := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	m := Get[*Mesh](s)

	frame := protocol.Encode(protocol.Header{
		Type: protocol.TypeData, Source: 2, Dest: 9, MessageId: 9, HopCount: 1, MaxHops: 8,
	}, []byte("lost"))
	m.handleFrame(s, frame, 0.9, time.Now())

	assert.Equal(t, uint64(1), s.Stats.Dropped.Load())
	assert.Empty(t, radio.Sent())
}

func TestHopLimitStopsForwarding(t *testing.T) {
	s, radio, _ := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	m := Get[*Mesh](s)
	r := Get[*Router](s)
	now := time.Now()
	r.AddRoute(s, 3, 3, 1, 1, now)

	frame := protocol.Encode(protocol.Header{
		Type: protocol.TypeData, Source: 2, Dest: 3, MessageId: 9,
		HopCount: state.MaxHops, MaxHops: state.MaxHops,
	}, []byte("too-far"))
	m.handleFrame(s, frame, 0.9, now)

	assert.Empty(t, radio.Sent())
	assert.Equal(t, uint64(1), s.Stats.Dropped.Load())
}

func TestBroadcastDataDeliveredAndReflooded(t *testing.T) {
	s, radio, rec := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	m := Get[*Mesh](s)

	frame := protocol.Encode(protocol.Header{
		Type: protocol.TypeData, Source: 2, Dest: uint32(state.Broadcast),
		MessageId: 3, HopCount: 0, MaxHops: 8,
	}, []byte("all-points"))
	m.handleFrame(s, frame, 0.9, time.Now())

	assert.Len(t, rec.messages, 1)
	sent := radio.Sent()
	if assert.Len(t, sent, 1) {
		h, _, err := protocol.Decode(sent[0])
		assert.NoError(t, err)
		assert.Equal(t, uint8(1), h.HopCount)
	}
}

func TestSendDataTracksAckAndClearsIt(t *testing.T) {
	s, _, _ := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	m := Get[*Mesh](s)
	r := Get[*Router](s)
	now := time.Now()
	r.AddRoute(s, 5, 5, 1, 1, now)

	assert.True(t, m.SendData(s, 5, []byte("hello")))
	keys := m.pendingAcks.Keys()
	if !assert.Len(t, keys, 1) {
		return
	}

	ackBody, _ := protocol.Marshal(protocol.Ack{MessageId: keys[0]})
	ack := protocol.Encode(protocol.Header{
		Type: protocol.TypeAck, Source: 5, Dest: 1, MessageId: 999, MaxHops: 8,
	}, ackBody)
	m.handleFrame(s, ack, 0.9, now)

	assert.Empty(t, m.pendingAcks.Keys())
}

func TestOversizePayloadRejected(t *testing.T) {
	s, radio, _ := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	m := Get[*Mesh](s)
	r := Get[*Router](s)
	now := time.Now()
	r.AddRoute(s, 5, 5, 1, 1, now)

	// anything past the radio limit is refused before it reaches the air
	big := make([]byte, state.MaxFrameSize)
	assert.False(t, m.SendData(s, 5, big))
	assert.Empty(t, radio.Sent())
	assert.Empty(t, m.queue)
	assert.Empty(t, m.pendingAcks.Keys(), "no ack tracked for a frame that never left")
	assert.Equal(t, uint64(1), s.Stats.Dropped.Load())

	assert.False(t, m.SendData(s, state.Broadcast, big))
	assert.Equal(t, uint64(2), s.Stats.Dropped.Load())
}

func TestSendDataWithoutRouteStartsDiscovery(t *testing.T) {
	s, _, _ := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	m := Get[*Mesh](s)

	m.SendData(s, 9, []byte("into-the-dark"))
	assert.Equal(t, uint64(1), s.Stats.RouteDiscoveries.Load())
}
