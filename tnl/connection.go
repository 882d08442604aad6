package tnl

import (
	"encoding/binary"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nardo/tnlgo/bitstream"
	"github.com/nardo/tnlgo/crypto"
	"github.com/nardo/tnlgo/event"
	"github.com/nardo/tnlgo/ghost"
	"github.com/nardo/tnlgo/notify"
	"github.com/nardo/tnlgo/wire"
)

// connectedDataHeaderSize is the cleartext prefix on every connected-data
// datagram: one byte-0 classify byte (wire.ConnectedDataHeaderByte) plus
// the 4-byte outer sequence counter. The outer sequence doubles as the
// AEAD nonce input once crypto is negotiated; it's carried even on an
// unencrypted connection so turning crypto on doesn't change the framing.
const connectedDataHeaderSize = 5

const packetTypeConnectedData byte = 0

// DefaultIdleTimeout is used when InterfaceConfig.IdleTimeout is left
// zero: comfortably above the fixed-rate model's send period so a few
// dropped packets in a row don't look like a dead peer.
const DefaultIdleTimeout = 10 * time.Second

// NetConnection is one established peer: a shared notify.Connection
// carrying both an event.Connection and a ghost.Connection in the same
// packet each tick, framed with the byte-0 classify prefix and, once
// negotiated, sealed with a per-connection symmetric cipher.
type NetConnection struct {
	iface  *NetInterface
	remote wire.Address

	notify *notify.Connection
	Events *event.Connection
	Ghosts *ghost.Connection

	cipher      *crypto.SymmetricCipher
	outSeq      uint32
	idleTimeout time.Duration

	closed bool

	// OnDisconnect fires exactly once, when the connection stops running
	// for any reason (explicit close, timeout, or protocol violation).
	OnDisconnect func(reason DisconnectReason, message string)

	log *logrus.Entry
}

func newNetConnection(iface *NetInterface, now time.Time, remote wire.Address, eventRole event.Role, ghostRole ghost.Role, startSeq uint32, cipher *crypto.SymmetricCipher) *NetConnection {
	nc := &NetConnection{
		iface:       iface,
		remote:      remote,
		notify:      notify.NewConnection(iface.Config.Rate, now, startSeq),
		cipher:      cipher,
		idleTimeout: iface.Config.IdleTimeout,
		log:         logrus.WithField("remote_addr", remote.String()),
	}
	nc.Events = event.NewConnection(nc.notify, iface.Registry, iface.Config.Group, eventRole)
	nc.Ghosts = ghost.NewConnection(nc.notify, iface.Registry, iface.Config.Group, ghostRole)
	return nc
}

// RemoteAddress implements socket.Connection.
func (nc *NetConnection) RemoteAddress() wire.Address { return nc.remote }

// UsingCrypto reports whether outgoing/incoming connected-data packets
// are sealed with a per-connection symmetric cipher.
func (nc *NetConnection) UsingCrypto() bool { return nc.cipher != nil }

// RTT returns the notify layer's current smoothed round-trip estimate.
func (nc *NetConnection) RTT() time.Duration { return nc.notify.RTT() }

// HandleRawPacket implements socket.Connection. NetInterface routes a
// datagram here once it's matched by source address. Connected-data
// packets are decoded and fed through the notify layer; of the control
// packets, only Disconnect is acted on.
func (nc *NetConnection) HandleRawPacket(now time.Time, data []byte) {
	if nc.closed {
		return
	}
	isConnectedData, control := wire.Classify(firstByte(data))
	if !isConnectedData {
		nc.handleControlPacket(now, control, data)
		return
	}
	body, ok := nc.decodeIncoming(data)
	if !ok {
		nc.log.Debug("dropping connected-data packet that failed authentication")
		return
	}
	bs := bitstream.NewReadWithBuffer(body, len(body)*8)
	if err := nc.notify.ReadIncomingPacket(now, bs, nc.readLayers); err != nil {
		nc.fail(DisconnectMalformedPacket, err.Error())
		return
	}
	if nc.Events.Err != nil {
		nc.fail(DisconnectMalformedPacket, nc.Events.Err.Error())
		return
	}
	if nc.Ghosts.Err != nil {
		nc.fail(DisconnectMalformedPacket, nc.Ghosts.Err.Error())
	}
}

func firstByte(data []byte) byte {
	if len(data) == 0 {
		return 0
	}
	return data[0]
}

func (nc *NetConnection) handleControlPacket(now time.Time, control wire.ControlType, data []byte) {
	if control != wire.ControlDisconnect {
		return
	}
	nc.fail(DisconnectClosedByPeer, "peer sent Disconnect")
}

func (nc *NetConnection) readLayers(bs *bitstream.BitStream) {
	nc.Events.ReadIncomingPacket(bs)
	if nc.Events.Err != nil {
		return
	}
	nc.Ghosts.ReadIncomingPacket(bs)
}

// Tick implements socket.Connection: it advances the idle-timeout check,
// and — if the notify layer's timing gate and window allow it — builds
// and sends one combined packet carrying both the event and ghost
// layers' pending work.
func (nc *NetConnection) Tick(now time.Time) (timedOut bool) {
	if nc.closed {
		return true
	}
	if nc.notify.IsTimedOut(now, nc.idleTimeout) {
		nc.fail(DisconnectTimedOut, "no packet received within idle threshold")
		return true
	}

	hasData := nc.Events.HasPendingWork() || nc.Ghosts.HasPendingWork()
	bs, built := nc.notify.BuildOutgoingPacket(now, false, hasData, nc.writeLayers)
	if !built {
		return false
	}
	if err := bs.Error(); err != nil {
		nc.fail(DisconnectMalformedPacket, err.Error())
		return true
	}
	if err := nc.send(nc.encodeOutgoing(bs.Bytes())); err != nil {
		nc.log.WithError(err).Debug("send failed")
	}
	return false
}

func (nc *NetConnection) writeLayers(bs *bitstream.BitStream, seq uint32) {
	nc.Events.WriteOutgoing(bs, seq)
	nc.Ghosts.WriteOutgoing(bs, seq)
}

// Disconnect sends a best-effort, unnotified Disconnect packet and tears
// the connection down locally immediately, per the application-initiated
// disconnect path: the interface removes it on the next tick once Tick
// reports timedOut.
func (nc *NetConnection) Disconnect(message string) {
	if nc.closed {
		return
	}
	_ = nc.send([]byte{byte(wire.ControlDisconnect)})
	nc.fail(DisconnectClosedLocally, message)
}

func (nc *NetConnection) fail(reason DisconnectReason, message string) {
	if nc.closed {
		return
	}
	nc.closed = true
	nc.log.WithFields(logrus.Fields{"reason": reason.String(), "message": message}).Info("connection closed")
	if nc.OnDisconnect != nil {
		nc.OnDisconnect(reason, message)
	}
}

func (nc *NetConnection) send(data []byte) error {
	return nc.iface.Sock.Send(nc.remote, data)
}

func (nc *NetConnection) encodeOutgoing(plainBody []byte) []byte {
	seq := nc.outSeq
	nc.outSeq++

	header := make([]byte, connectedDataHeaderSize)
	header[0] = wire.ConnectedDataHeaderByte(0)
	binary.BigEndian.PutUint32(header[1:], seq)

	if nc.cipher == nil {
		return append(header, plainBody...)
	}
	return bitstream.SealPacketStream(nc.cipher, seq, packetTypeConnectedData, header, plainBody)
}

func (nc *NetConnection) decodeIncoming(data []byte) ([]byte, bool) {
	if len(data) < connectedDataHeaderSize {
		return nil, false
	}
	seq := binary.BigEndian.Uint32(data[1:connectedDataHeaderSize])
	if nc.cipher == nil {
		return data[connectedDataHeaderSize:], true
	}
	return bitstream.OpenPacketStream(nc.cipher, seq, packetTypeConnectedData, data[:connectedDataHeaderSize], data[connectedDataHeaderSize:])
}
