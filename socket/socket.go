package socket

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/nardo/tnlgo/wire"
)

// Datagram is one received UDP payload paired with its source address.
type Datagram struct {
	From wire.Address
	Data []byte
}

// Socket wraps a non-blocking UDP endpoint: bind, sendto, recvfrom
//. Reads happen on a background goroutine and are delivered
// through a channel so the tick loop can drain them without blocking.
type Socket struct {
	conn   net.PacketConn
	local  wire.Address
	inbox  chan Datagram
	ctx    context.Context
	cancel context.CancelFunc
}

// readBufferSize is large enough for any TNL datagram; TNL's own MTU
// discovery keeps packets well under common Ethernet/UDP limits.
const readBufferSize = 2048

// Bind opens a UDP socket on listenAddr ("host:port", or ":0" for an
// ephemeral port) and starts the background read loop.
func Bind(listenAddr string) (*Socket, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	udpAddr, _ := conn.LocalAddr().(*net.UDPAddr)
	s := &Socket{
		conn:   conn,
		local:  wire.FromUDPAddr(udpAddr),
		inbox:  make(chan Datagram, 256),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.readLoop()
	return s, nil
}

// LocalAddress returns the address actually bound, which may differ from
// the requested listenAddr when binding to port 0.
func (s *Socket) LocalAddress() wire.Address {
	return s.local
}

// readLoop drains the OS socket into inbox. It never interprets packet
// contents — classification and dispatch are the Interface's job, run
// synchronously from the tick loop.
func (s *Socket) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if s.ctx.Err() != nil {
				return
			}
			continue
		}
		if n == 0 {
			continue
		}
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		dg := Datagram{From: wire.FromUDPAddr(udpAddr), Data: data}
		select {
		case s.inbox <- dg:
		case <-s.ctx.Done():
			return
		}
	}
}

// Poll returns the next received datagram without blocking, or ok=false if
// none is queued. Called repeatedly by Interface.ProcessSocket to drain
// everything pending in one tick.
func (s *Socket) Poll() (Datagram, bool) {
	select {
	case dg := <-s.inbox:
		return dg, true
	default:
		return Datagram{}, false
	}
}

// SendTo transmits a datagram to addr. Non-blocking: UDP sends don't queue
// in the kernel under normal conditions, so this calls WriteTo directly
// rather than routing through the delayed-send queue — callers that want
// simulated latency use Interface.SendDelayed instead.
func (s *Socket) SendTo(addr wire.Address, data []byte) error {
	_, err := s.conn.WriteTo(data, addr.ToUDPAddr())
	return err
}

// Close stops the read loop and releases the OS socket.
func (s *Socket) Close() error {
	s.cancel()
	return s.conn.Close()
}

// ErrClosed names the closed-socket condition. Socket's own methods do
// not return it: after Close, SendTo returns the error from the closed
// net.PacketConn and Poll reports ok=false.
var ErrClosed = errors.New("socket: closed")
