package socket

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nardo/tnlgo/wire"
)

// Connection is the subset of NetConnection behavior the dispatcher needs
// to drive the tick loop. The handshake, notify, and event layers
// implement this over their own connection types; Interface only ever
// sees it through this interface, so socket has no import-time dependency
// on them.
type Connection interface {
	// RemoteAddress is the key the connection is stored under in the
	// interface's address hash table.
	RemoteAddress() wire.Address

	// HandleRawPacket processes one received datagram already known to
	// belong to this connection (classified by Interface.ProcessSocket).
	HandleRawPacket(now time.Time, data []byte)

	// Tick advances handshake retries, timeout accounting, and any other
	// per-connection periodic work. timedOut reports whether the
	// connection should be removed from the interface.
	Tick(now time.Time) (timedOut bool)
}

// TimeoutCheckInterval is how often ProcessConnections walks pending and
// active connections for retries and timeouts.
const TimeoutCheckInterval = 1500 * time.Millisecond

// maxLoadFactor triggers a rehash to a larger table.
const maxLoadFactor = 0.5

const minTableSize = 16

type slot struct {
	used bool
	addr wire.Address
	conn Connection
}

// Interface is TNL's packet dispatcher: a socket, an open-addressed
// connection table, a pending-connection list, and a delayed-send queue
// for latency simulation.
type Interface struct {
	sock *Socket

	table   []slot
	count   int
	pending []Connection

	delayed delayedQueue

	processStartTime time.Time
	lastTimeoutCheck time.Time
	log              *logrus.Entry

	// OnUnknownDatagram is invoked for a datagram whose source address
	// matches neither an active nor a pending connection, instead of
	// silently dropping it — the host side of the handshake is stateless
	// until a ConnectRequest succeeds, so its very first packet from a
	// client always arrives this way.
	OnUnknownDatagram func(now time.Time, from wire.Address, data []byte)
}

// NewInterface creates a dispatcher bound to an already-open socket.
func NewInterface(sock *Socket) *Interface {
	return &Interface{
		sock:  sock,
		table: make([]slot, minTableSize),
		log:   logrus.WithField("component", "net_interface"),
	}
}

func (i *Interface) probe(addr wire.Address) int {
	mask := uint32(len(i.table) - 1)
	idx := addr.Hash() & mask
	for {
		s := &i.table[idx]
		if !s.used || s.addr.Equal(addr) {
			return int(idx)
		}
		idx = (idx + 1) & mask
	}
}

// Lookup returns the active connection for addr, if any.
func (i *Interface) Lookup(addr wire.Address) (Connection, bool) {
	idx := i.probe(addr)
	s := &i.table[idx]
	if s.used {
		return s.conn, true
	}
	return nil, false
}

// AddActive inserts a connection into the address table, rehashing first
// if the load factor would exceed maxLoadFactor.
func (i *Interface) AddActive(conn Connection) {
	if float64(i.count+1)/float64(len(i.table)) > maxLoadFactor {
		i.rehash(len(i.table) * 2)
	}
	idx := i.probe(conn.RemoteAddress())
	if !i.table[idx].used {
		i.count++
	}
	i.table[idx] = slot{used: true, addr: conn.RemoteAddress(), conn: conn}
}

// RemoveActive deletes the connection at addr, then rehashes every entry
// in the probe run after it so linear-probing lookups stay correct.
func (i *Interface) RemoveActive(addr wire.Address) {
	idx := i.probe(addr)
	if !i.table[idx].used {
		return
	}
	i.table[idx] = slot{}
	i.count--

	mask := uint32(len(i.table) - 1)
	next := (uint32(idx) + 1) & mask
	for i.table[next].used {
		displaced := i.table[next]
		i.table[next] = slot{}
		i.count--
		newIdx := i.probe(displaced.addr)
		i.table[newIdx] = displaced
		i.count++
		next = (next + 1) & mask
	}
}

func (i *Interface) rehash(newSize int) {
	old := i.table
	i.table = make([]slot, newSize)
	i.count = 0
	for _, s := range old {
		if !s.used {
			continue
		}
		idx := i.probe(s.addr)
		i.table[idx] = s
		i.count++
	}
}

// AddPending queues a connection that hasn't completed its handshake yet;
// it isn't reachable via Lookup until promoted with AddActive.
func (i *Interface) AddPending(conn Connection) {
	i.pending = append(i.pending, conn)
}

// PromotePending moves conn from the pending list to the active table,
// called once a handshake reaches ConnectAccept.
func (i *Interface) PromotePending(conn Connection) {
	for idx, p := range i.pending {
		if p == conn {
			i.pending = append(i.pending[:idx], i.pending[idx+1:]...)
			break
		}
	}
	i.AddActive(conn)
}

// ProcessSocket drains every datagram currently queued on the socket and
// dispatches it to the matching active or pending connection. A datagram
// from an address matching neither goes to OnUnknownDatagram when that is
// set, and is dropped otherwise.
func (i *Interface) ProcessSocket(now time.Time) {
	i.processStartTime = now
	for {
		dg, ok := i.sock.Poll()
		if !ok {
			return
		}
		if len(dg.Data) == 0 {
			continue
		}
		conn, found := i.Lookup(dg.From)
		if !found {
			conn, found = i.lookupPending(dg.From)
		}
		if !found {
			if i.OnUnknownDatagram != nil {
				i.OnUnknownDatagram(now, dg.From, dg.Data)
			}
			continue
		}
		conn.HandleRawPacket(now, dg.Data)
	}
}

func (i *Interface) lookupPending(addr wire.Address) (Connection, bool) {
	for _, p := range i.pending {
		if p.RemoteAddress().Equal(addr) {
			return p, true
		}
	}
	return nil, false
}

// ProcessConnections flushes due delayed packets and — no more often than
// TimeoutCheckInterval — ticks every pending and active connection,
// removing any that report a timeout. The first call only records the
// time the interval is measured from. Puzzle nonce rotation is not done
// here; tnl.NetInterface.Tick does it.
func (i *Interface) ProcessConnections(now time.Time) {
	i.flushDelayed(now)

	if i.lastTimeoutCheck.IsZero() {
		i.lastTimeoutCheck = now
	}
	if now.Sub(i.lastTimeoutCheck) < TimeoutCheckInterval {
		return
	}
	i.lastTimeoutCheck = now

	stillPending := i.pending[:0]
	for _, p := range i.pending {
		if p.Tick(now) {
			i.log.WithField("addr", p.RemoteAddress().String()).Debug("pending connection timed out")
			continue
		}
		stillPending = append(stillPending, p)
	}
	i.pending = stillPending

	var toRemove []wire.Address
	for _, s := range i.table {
		if !s.used {
			continue
		}
		if s.conn.Tick(now) {
			toRemove = append(toRemove, s.addr)
		}
	}
	for _, addr := range toRemove {
		i.log.WithField("addr", addr.String()).Debug("active connection timed out")
		i.RemoveActive(addr)
	}
}

// SendDelayed is the public entry point for DelaySend, kept as a method
// name that reads naturally from outside the package.
func (i *Interface) SendDelayed(addr wire.Address, data []byte, dueTime time.Time) {
	i.DelaySend(addr, data, dueTime)
}

// Send writes data directly to addr with no simulated delay.
func (i *Interface) Send(addr wire.Address, data []byte) error {
	return i.sock.SendTo(addr, data)
}

// LocalAddress returns the bound socket's local address.
func (i *Interface) LocalAddress() wire.Address {
	return i.sock.LocalAddress()
}

// Close shuts down the underlying socket.
func (i *Interface) Close() error {
	return i.sock.Close()
}
