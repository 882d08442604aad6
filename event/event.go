package event

import "github.com/nardo/tnlgo/bitstream"

// Guarantee selects how a posted event is delivered.
type Guarantee int

const (
	// Unguaranteed events are written into the first half of the next
	// outbound packet and simply dropped if that packet is never
	// acknowledged.
	Unguaranteed Guarantee = iota
	// GuaranteedUnordered events are re-queued at the head of the
	// unordered queue on NACK, with no ordering promise relative to
	// other events.
	GuaranteedUnordered
	// GuaranteedOrdered events carry a sequence number and are
	// re-inserted at their original position on NACK, so the receiver
	// always dispatches them in post order.
	GuaranteedOrdered
)

// Direction restricts which side of a connection may legitimately send a
// given event class. A connection rejects an arriving event whose
// Direction forbids the side it arrived from.
type Direction int

const (
	DirAny Direction = iota
	DirClientToServer
	DirServerToClient
)

// Role identifies which side of the connection this Connection value
// represents, used to evaluate Direction on arrival.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Event is implemented by every class-indexed event type an application
// registers with the class registry under classreg.TypeEvent.
type Event interface {
	Guarantee() Guarantee
	Direction() Direction
	Pack(bs *bitstream.BitStream)
	Unpack(bs *bitstream.BitStream)
	Process()
}

// DeliveryObserver is an optional interface an Event can implement to
// learn the outcome of its own delivery. NotifyDelivered fires exactly
// once per posted event: ok=true once the peer has acknowledged the
// packet that finally carried it, ok=false only for an Unguaranteed
// event whose sole carrying packet was lost.
type DeliveryObserver interface {
	NotifyDelivered(ok bool)
}

// outgoingEvent is one queued-or-in-flight event instance on the sender
// side. seq is only meaningful for GuaranteedOrdered events.
type outgoingEvent struct {
	classIndex uint32
	event      Event
	seq        uint8
}

func notifyDelivery(oe *outgoingEvent, ok bool) {
	if obs, isObserver := oe.event.(DeliveryObserver); isObserver {
		obs.NotifyDelivered(ok)
	}
}
