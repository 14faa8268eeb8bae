package core

// Radio is the boundary to the physical half-duplex transceiver. Drivers
// deliver received frames from their own context; the mesh never calls
// Transmit while Busy reports a reception in progress.
type Radio interface {
	// Transmit sends one frame on the channel.
	Transmit(frame []byte) error
	// Busy reports whether a reception is currently in progress.
	Busy() bool
	// SetReceiver installs the receive callback. signalQuality is 0..1.
	// The callback may run in interrupt/driver context and must not block.
	SetReceiver(fn func(frame []byte, signalQuality float64))
}
