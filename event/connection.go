package event

import (
	"errors"
	"time"

	"github.com/nardo/tnlgo/bitstream"
	"github.com/nardo/tnlgo/classreg"
	"github.com/nardo/tnlgo/notify"
)

// Connection layers event delivery on top of a notify.Connection. One
// Connection handles exactly one peer and one event class group.
type Connection struct {
	Notify   *notify.Connection
	registry *classreg.Registry
	group    uint32
	role     Role

	classIndexBits int

	unguaranteed unguaranteedQueue
	ordered      orderedQueue

	nextOrderedSendSeq uint8
	lastAckedEventSeq  uint8
	ackedOrdered       map[uint8]bool

	inFlight map[uint32][]*outgoingEvent

	nextExpectedRecvSeq uint8
	pendingOrdered      map[uint8]*pendingEvent

	// Err is set once a malformed or direction-violating packet is
	// observed; the connection stops producing further output once set.
	Err error
}

type pendingEvent struct {
	event Event
}

// NewConnection wraps an already-constructed notify.Connection with
// event delivery for class group group, registered in registry.
func NewConnection(nc *notify.Connection, registry *classreg.Registry, group uint32, role Role) *Connection {
	c := &Connection{
		Notify:         nc,
		registry:       registry,
		group:          group,
		role:           role,
		classIndexBits: registry.BitSizeByGroupType(group, classreg.TypeEvent),
		ackedOrdered:   make(map[uint8]bool),
		inFlight:       make(map[uint32][]*outgoingEvent),
		pendingOrdered: make(map[uint8]*pendingEvent),
	}
	chainOnPacketNotify(nc, c.onPacketNotify)
	return c
}

// chainOnPacketNotify lets more than one layer (event, ghost) share a
// single notify.Connection: each NewConnection call wraps whatever
// handler was already installed rather than clobbering it.
func chainOnPacketNotify(nc *notify.Connection, next func(seq uint32, delivered bool)) {
	prev := nc.OnPacketNotify
	nc.OnPacketNotify = func(seq uint32, delivered bool) {
		if prev != nil {
			prev(seq, delivered)
		}
		next(seq, delivered)
	}
}

// PostEvent queues ev (registered at classIndex) for delivery according
// to its own Guarantee.
func (c *Connection) PostEvent(classIndex uint32, ev Event) {
	oe := &outgoingEvent{classIndex: classIndex, event: ev}
	switch ev.Guarantee() {
	case GuaranteedOrdered:
		oe.seq = c.nextOrderedSendSeq
		c.nextOrderedSendSeq = (c.nextOrderedSendSeq + 1) & eventSeqMask
		c.ordered.push(oe)
	default:
		c.unguaranteed.push(oe)
	}
}

func (c *Connection) hasDataToSend() bool {
	return !c.unguaranteed.empty() || c.orderedHasSendable()
}

// HasPendingWork reports whether this connection has anything it wants
// to send, for a composer sharing one notify.Connection across several
// layers to decide whether a tick needs a packet at all.
func (c *Connection) HasPendingWork() bool { return c.hasDataToSend() }

func (c *Connection) orderedHasSendable() bool {
	if c.ordered.empty() {
		return false
	}
	return seqDiff(c.ordered.entries[0].seq, c.lastAckedEventSeq) < orderedWindow
}

// Tick builds and returns the next outgoing packet, if one is due. It
// never blocks and returns ok=false when nothing needs to be sent.
func (c *Connection) Tick(now time.Time, force bool) (packet []byte, ok bool) {
	if c.Err != nil {
		return nil, false
	}
	bs, built := c.Notify.BuildOutgoingPacket(now, force, c.hasDataToSend(), c.WriteOutgoing)
	if !built {
		return nil, false
	}
	if err := bs.Error(); err != nil {
		return nil, false
	}
	return bs.Bytes(), true
}

// WriteOutgoing writes this connection's pending event entries into bs
// and stages them under seq for later ACK/NACK resolution. Its signature
// matches notify.Connection.BuildOutgoingPacket's writePacket hook
// directly, so a composer building one packet shared across several
// layers (event, ghost) can call it in place of driving Tick itself.
func (c *Connection) WriteOutgoing(bs *bitstream.BitStream, seq uint32) {
	written := c.writeEvents(bs)
	if len(written) > 0 {
		c.inFlight[seq] = written
	}
}

func (c *Connection) writeEvents(bs *bitstream.BitStream) []*outgoingEvent {
	var written []*outgoingEvent

	for !c.unguaranteed.empty() {
		oe := c.unguaranteed.entries[0]
		start := bs.BitsWritten()
		bs.WriteFlag(true)
		bs.WriteInt(oe.classIndex, c.classIndexBits)
		oe.event.Pack(bs)
		if bs.Error() != nil || bs.RemainingBits() < minPaddingBits {
			bs.SetBitPosition(start)
			break
		}
		c.unguaranteed.popFront()
		written = append(written, oe)
	}
	bs.WriteFlag(false)

	havePrev := false
	var prevSeq uint8
	for !c.ordered.empty() {
		oe := c.ordered.entries[0]
		if seqDiff(oe.seq, c.lastAckedEventSeq) >= orderedWindow {
			break
		}
		start := bs.BitsWritten()
		bs.WriteFlag(true)
		if !havePrev {
			bs.WriteFlag(false)
			bs.WriteInt(uint32(oe.seq), eventSeqBits)
		} else {
			bs.WriteFlag(true)
			bs.WriteInt(uint32(oe.seq-prevSeq)&eventSeqMask, eventSeqBits)
		}
		bs.WriteInt(oe.classIndex, c.classIndexBits)
		oe.event.Pack(bs)
		if bs.Error() != nil || bs.RemainingBits() < minPaddingBits {
			bs.SetBitPosition(start)
			break
		}
		prevSeq = oe.seq
		havePrev = true
		c.ordered.popFront()
		written = append(written, oe)
	}
	bs.WriteFlag(false)

	return written
}

func (c *Connection) onPacketNotify(seq uint32, delivered bool) {
	events := c.inFlight[seq]
	delete(c.inFlight, seq)
	for _, oe := range events {
		c.resolveEvent(oe, delivered)
	}
}

func (c *Connection) resolveEvent(oe *outgoingEvent, delivered bool) {
	if delivered {
		if oe.event.Guarantee() == GuaranteedOrdered {
			c.markOrderedAcked(oe.seq)
		}
		notifyDelivery(oe, true)
		return
	}

	switch oe.event.Guarantee() {
	case Unguaranteed:
		notifyDelivery(oe, false)
	case GuaranteedUnordered:
		c.unguaranteed.pushFront(oe)
	case GuaranteedOrdered:
		// Re-insert at the entry's send-sequence position, so several
		// NACKed events (from one packet or several) keep their order.
		pos := 0
		for pos < len(c.ordered.entries) && seqDiff(c.ordered.entries[pos].seq, c.lastAckedEventSeq) < seqDiff(oe.seq, c.lastAckedEventSeq) {
			pos++
		}
		c.ordered.entries = append(c.ordered.entries, nil)
		copy(c.ordered.entries[pos+1:], c.ordered.entries[pos:])
		c.ordered.entries[pos] = oe
	}
}

func (c *Connection) markOrderedAcked(seq uint8) {
	c.ackedOrdered[seq] = true
	for c.ackedOrdered[(c.lastAckedEventSeq+1)&eventSeqMask] {
		c.lastAckedEventSeq = (c.lastAckedEventSeq + 1) & eventSeqMask
		delete(c.ackedOrdered, c.lastAckedEventSeq)
	}
}

// ReadIncomingPacket parses the event-layer content of an already
// notify-framed packet. readPacket is notify.Connection.ReadIncomingPacket's
// upper-layer hook; pass bs straight through from there.
func (c *Connection) ReadIncomingPacket(bs *bitstream.BitStream) {
	if c.Err != nil {
		return
	}
	for bs.ReadFlag() {
		classIdx := bs.ReadInt(c.classIndexBits)
		ev, ok := c.constructAndCheck(classIdx)
		if !ok {
			return
		}
		ev.Unpack(bs)
		if bs.Error() != nil {
			c.fail("Invalid packet")
			return
		}
		ev.Process()
	}

	var prevSeq uint8
	for bs.ReadFlag() {
		isDelta := bs.ReadFlag()
		var seq uint8
		if isDelta {
			seq = (prevSeq + uint8(bs.ReadInt(eventSeqBits))) & eventSeqMask
		} else {
			seq = uint8(bs.ReadInt(eventSeqBits))
		}
		prevSeq = seq

		classIdx := bs.ReadInt(c.classIndexBits)
		ev, ok := c.constructAndCheck(classIdx)
		if !ok {
			return
		}
		ev.Unpack(bs)
		if bs.Error() != nil {
			c.fail("Invalid packet")
			return
		}
		c.handleOrderedArrival(seq, ev)
	}
}

func (c *Connection) constructAndCheck(classIdx uint32) (Event, bool) {
	inst, err := c.registry.Create(c.group, classreg.TypeEvent, int(classIdx))
	if err != nil {
		c.fail("Invalid packet")
		return nil, false
	}
	ev, isEvent := inst.(Event)
	if !isEvent {
		c.fail("Invalid packet")
		return nil, false
	}
	if !c.directionAllowed(ev.Direction()) {
		c.fail("Invalid packet")
		return nil, false
	}
	return ev, true
}

func (c *Connection) directionAllowed(d Direction) bool {
	switch d {
	case DirClientToServer:
		return c.role == RoleServer
	case DirServerToClient:
		return c.role == RoleClient
	default:
		return true
	}
}

// handleOrderedArrival buffers an already-unpacked ordered event and
// dispatches every contiguous run starting at nextExpectedRecvSeq, so a
// later event never overtakes one whose predecessor hasn't arrived yet.
func (c *Connection) handleOrderedArrival(seq uint8, ev Event) {
	if seqDiff(seq, c.nextExpectedRecvSeq) >= orderedWindow {
		return
	}
	c.pendingOrdered[seq] = &pendingEvent{event: ev}
	for {
		pe, ok := c.pendingOrdered[c.nextExpectedRecvSeq]
		if !ok {
			break
		}
		delete(c.pendingOrdered, c.nextExpectedRecvSeq)
		pe.event.Process()
		c.nextExpectedRecvSeq = (c.nextExpectedRecvSeq + 1) & eventSeqMask
	}
}

func (c *Connection) fail(reason string) {
	if c.Err == nil {
		c.Err = errors.New(reason)
	}
}
