package tnl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nardo/tnlgo/bitstream"
	"github.com/nardo/tnlgo/classreg"
	"github.com/nardo/tnlgo/event"
	"github.com/nardo/tnlgo/notify"
	"github.com/nardo/tnlgo/socket"
	"github.com/nardo/tnlgo/wire"
)

const testGroup = uint32(7)

type pingEvent struct {
	value     uint32
	processed *[]uint32
}

func (e *pingEvent) Guarantee() event.Guarantee     { return event.GuaranteedUnordered }
func (e *pingEvent) Direction() event.Direction     { return event.DirAny }
func (e *pingEvent) Pack(bs *bitstream.BitStream)   { bs.WriteInt(e.value, 32) }
func (e *pingEvent) Unpack(bs *bitstream.BitStream) { e.value = bs.ReadInt(32) }
func (e *pingEvent) Process() {
	if e.processed != nil {
		*e.processed = append(*e.processed, e.value)
	}
}

func newTestRegistry() *classreg.Registry {
	r := classreg.New()
	r.Register("pingEvent", testGroup, classreg.TypeEvent, 0, func() any { return &pingEvent{} })
	r.Freeze()
	return r
}

func newTestNetInterface(t *testing.T, now time.Time) *NetInterface {
	t.Helper()
	sock, err := socket.Bind("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })

	iface := socket.NewInterface(sock)
	cfg := InterfaceConfig{
		AllowConnections:     true,
		Group:                testGroup,
		LocalEventClassCount: 1,
		Rate:                 notify.DefaultRateParams(),
	}
	ni, err := NewNetInterface(iface, newTestRegistry(), cfg, now)
	require.NoError(t, err)
	return ni
}

// driveUntil ticks both interfaces against real wall-clock time until cond
// returns true or the deadline passes.
func driveUntil(t *testing.T, host, client *NetInterface, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		now := time.Now()
		host.Tick(now)
		client.Tick(now)
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestHandshakeEstablishesConnectionWithoutCrypto(t *testing.T) {
	now := time.Now()
	host := newTestNetInterface(t, now)
	client := newTestNetInterface(t, now)

	var hostConn, clientConn *NetConnection
	host.OnConnectionEstablished = func(nc *NetConnection) { hostConn = nc }
	client.OnConnectionEstablished = func(nc *NetConnection) { clientConn = nc }

	var rejected bool
	client.OnConnectionRejected = func(addr wire.Address, reason string) { rejected = true }

	require.NoError(t, client.Connect(now, host.Sock.LocalAddress()))

	driveUntil(t, host, client, func() bool { return hostConn != nil && clientConn != nil })

	require.False(t, rejected, "client handshake was rejected")
	require.False(t, hostConn.UsingCrypto(), "expected no crypto negotiated when RequiresKeyExchange is false")
	require.False(t, clientConn.UsingCrypto(), "expected no crypto negotiated when RequiresKeyExchange is false")
	require.True(t, hostConn.RemoteAddress().Equal(client.Sock.LocalAddress()), "host's connection should be addressed to the client's bound address")
	require.True(t, clientConn.RemoteAddress().Equal(host.Sock.LocalAddress()), "client's connection should be addressed to the host's bound address")
}

func TestEstablishedConnectionExchangesEvents(t *testing.T) {
	now := time.Now()
	host := newTestNetInterface(t, now)
	client := newTestNetInterface(t, now)

	var hostConn, clientConn *NetConnection
	host.OnConnectionEstablished = func(nc *NetConnection) { hostConn = nc }
	client.OnConnectionEstablished = func(nc *NetConnection) { clientConn = nc }

	require.NoError(t, client.Connect(now, host.Sock.LocalAddress()))
	driveUntil(t, host, client, func() bool { return hostConn != nil && clientConn != nil })

	var processed []uint32
	clientConn.Events.PostEvent(0, &pingEvent{value: 42, processed: &processed})

	driveUntil(t, host, client, func() bool { return len(processed) == 1 })

	require.Equal(t, uint32(42), processed[0])
}

func TestExplicitDisconnectNotifiesPeer(t *testing.T) {
	now := time.Now()
	host := newTestNetInterface(t, now)
	client := newTestNetInterface(t, now)

	var hostConn, clientConn *NetConnection
	host.OnConnectionEstablished = func(nc *NetConnection) { hostConn = nc }
	client.OnConnectionEstablished = func(nc *NetConnection) { clientConn = nc }

	require.NoError(t, client.Connect(now, host.Sock.LocalAddress()))
	driveUntil(t, host, client, func() bool { return hostConn != nil && clientConn != nil })

	var hostReason DisconnectReason
	hostConn.OnDisconnect = func(reason DisconnectReason, message string) { hostReason = reason }

	clientConn.Disconnect("done")

	driveUntil(t, host, client, func() bool { return hostReason != DisconnectNone })

	require.Equal(t, DisconnectClosedByPeer, hostReason)
}
