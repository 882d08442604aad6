package event

import (
	"testing"
	"time"

	"github.com/nardo/tnlgo/bitstream"
	"github.com/nardo/tnlgo/classreg"
	"github.com/nardo/tnlgo/notify"
)

const testGroup = uint32(1)

type fakeEvent struct {
	value     uint32
	guarantee Guarantee
	direction Direction

	processed *[]uint32
	delivered *[]bool
}

func (e *fakeEvent) Guarantee() Guarantee { return e.guarantee }
func (e *fakeEvent) Direction() Direction { return e.direction }
func (e *fakeEvent) Pack(bs *bitstream.BitStream) {
	bs.WriteInt(e.value, 32)
}
func (e *fakeEvent) Unpack(bs *bitstream.BitStream) {
	e.value = bs.ReadInt(32)
}
func (e *fakeEvent) Process() {
	if e.processed != nil {
		*e.processed = append(*e.processed, e.value)
	}
}
func (e *fakeEvent) NotifyDelivered(ok bool) {
	if e.delivered != nil {
		*e.delivered = append(*e.delivered, ok)
	}
}

func newTestRegistry(factory func() any) *classreg.Registry {
	r := classreg.New()
	r.Register("fakeEvent", testGroup, classreg.TypeEvent, 0, factory)
	r.Freeze()
	return r
}

func newConnPair(now time.Time) (sender, receiver *Connection) {
	return newConnPairWithFactory(now, func() any { return &fakeEvent{} })
}

// newConnPairWithFactory builds the pair over a registry whose fakeEvent
// factory the test supplies, so the instances the receiver constructs
// from the wire can carry a direction or record what they process.
func newConnPairWithFactory(now time.Time, factory func() any) (sender, receiver *Connection) {
	registry := newTestRegistry(factory)
	senderNotify := notify.NewConnection(notify.DefaultRateParams(), now, 0)
	receiverNotify := notify.NewConnection(notify.DefaultRateParams(), now, 0)
	sender = NewConnection(senderNotify, registry, testGroup, RoleClient)
	receiver = NewConnection(receiverNotify, registry, testGroup, RoleServer)
	return sender, receiver
}

// deliverOnce forces `from` to send one packet and feeds it straight to
// `to`, as if nothing between them ever drops a datagram.
func deliverOnce(t *testing.T, from, to *Connection, now time.Time, arrives bool) {
	t.Helper()
	pkt, ok := from.Tick(now, true)
	if !ok {
		t.Fatal("expected a packet to be produced")
	}
	if !arrives {
		return
	}
	bs := bitstream.NewReadWithBuffer(pkt, len(pkt)*8)
	if err := to.Notify.ReadIncomingPacket(now, bs, to.ReadIncomingPacket); err != nil {
		t.Fatalf("read error: %v", err)
	}
}

func TestUnguaranteedEventDispatchedAndNotifiedOnce(t *testing.T) {
	now := time.Now()
	var processed []uint32
	var delivered []bool
	sender, receiver := newConnPairWithFactory(now, func() any { return &fakeEvent{processed: &processed} })

	sender.PostEvent(0, &fakeEvent{value: 42, guarantee: Unguaranteed, delivered: &delivered})

	deliverOnce(t, sender, receiver, now, true)

	t2 := now.Add(sender.Notify.CurrentSendPeriod())
	deliverOnce(t, receiver, sender, t2, true)

	if len(processed) != 1 || processed[0] != 42 {
		t.Fatalf("expected the receiver to dispatch value 42 exactly once, got %v", processed)
	}
	if len(delivered) != 1 || !delivered[0] {
		t.Fatalf("expected exactly one delivered=true notification, got %v", delivered)
	}
}

func TestGuaranteedUnorderedRequeuedOnNack(t *testing.T) {
	now := time.Now()
	sender, receiver := newConnPair(now)

	var delivered []bool
	sender.PostEvent(0, &fakeEvent{value: 7, guarantee: GuaranteedUnordered, delivered: &delivered})

	// Send the event-carrying packet (sequence 0) but never deliver it to
	// the receiver, simulating loss. Then push further packets through
	// until the sender's 32-wide window is full, so the receiver's ack
	// (highest 31, with the bit for sequence 0 clear) produces a genuine
	// NACK through the public API rather than by poking notify-layer
	// internals.
	if _, ok := sender.Tick(now, true); !ok {
		t.Fatal("expected a packet")
	}
	for i := 0; i < notify.WindowSize-1; i++ {
		deliverOnce(t, sender, receiver, now, true)
	}

	ackBS, ok := receiver.Tick(now, true)
	if !ok {
		t.Fatal("expected receiver to produce an ack packet")
	}
	bs := bitstream.NewReadWithBuffer(ackBS, len(ackBS)*8)
	if err := sender.Notify.ReadIncomingPacket(now, bs, sender.ReadIncomingPacket); err != nil {
		t.Fatal(err)
	}

	if len(delivered) != 0 {
		t.Fatalf("expected no delivery notification yet (event was re-queued), got %v", delivered)
	}
	if sender.unguaranteed.empty() {
		t.Error("expected the dropped event to be re-queued at the head of the unguaranteed queue")
	}
}

func TestOrderedEventsDispatchInPostOrder(t *testing.T) {
	now := time.Now()
	var processed []uint32
	sender, receiver := newConnPairWithFactory(now, func() any { return &fakeEvent{processed: &processed} })

	for i := uint32(0); i < 4; i++ {
		sender.PostEvent(0, &fakeEvent{value: i, guarantee: GuaranteedOrdered, processed: &processed})
	}

	// All four small events fit in a single packet; deliver it.
	deliverOnce(t, sender, receiver, now, true)

	if len(processed) != 4 {
		t.Fatalf("expected 4 events processed, got %d: %v", len(processed), processed)
	}
	for i, v := range processed {
		if v != uint32(i) {
			t.Fatalf("expected post order 0,1,2,3, got %v", processed)
		}
	}
}

func TestDirectionMismatchFailsConnection(t *testing.T) {
	now := time.Now()
	sender, receiver := newConnPairWithFactory(now, func() any { return &fakeEvent{direction: DirServerToClient} })

	// receiver is RoleServer; a DirServerToClient event is only valid
	// arriving at a RoleClient connection, so it must fail here.
	sender.PostEvent(0, &fakeEvent{value: 1, guarantee: Unguaranteed, direction: DirServerToClient})
	deliverOnce(t, sender, receiver, now, true)

	if receiver.Err == nil {
		t.Error("expected receiver to fail on a DirServerToClient event arriving at a RoleServer connection")
	}
}
