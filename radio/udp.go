// Package radio provides transport adapters that satisfy the core Radio
// interface. The UDP adapter lets nodes mesh over a shared LAN segment,
// which is how bench setups and soak tests run without RF hardware.
package radio

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/bramblemesh/bramble/state"
)

// UDP broadcasts every frame to a well-known port and receives frames sent
// by peers on the same segment. The medium never reports busy; collisions
// are the kernel's problem here.
type UDP struct {
	conn *net.UDPConn
	port int
	log  *slog.Logger

	mu   sync.Mutex
	recv func(frame []byte, signalQuality float64)

	closed chan struct{}
}

func NewUDP(port int, log *slog.Logger) (*UDP, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to bind radio port: %w", err)
	}
	u := &UDP{conn: conn, port: port, log: log, closed: make(chan struct{})}
	go u.readLoop()
	return u, nil
}

func (u *UDP) readLoop() {
	buf := make([]byte, state.MaxFrameSize*2)
	for {
		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-u.closed:
				return
			default:
			}
			u.log.Warn("radio read failed", "error", err)
			return
		}
		u.mu.Lock()
		recv := u.recv
		u.mu.Unlock()
		if recv != nil {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			// wired link, report full signal quality
			recv(frame, 1.0)
		}
	}
}

func (u *UDP) Transmit(frame []byte) error {
	_, err := u.conn.WriteToUDP(frame, &net.UDPAddr{
		IP:   net.IPv4bcast,
		Port: u.port,
	})
	return err
}

func (u *UDP) Busy() bool {
	return false
}

func (u *UDP) SetReceiver(fn func(frame []byte, signalQuality float64)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.recv = fn
}

func (u *UDP) Close() error {
	close(u.closed)
	return u.conn.Close()
}
