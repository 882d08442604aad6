package ghost

import (
	"errors"
	"math/bits"
	"sort"
	"time"

	"github.com/nardo/tnlgo/bitstream"
	"github.com/nardo/tnlgo/classreg"
	"github.com/nardo/tnlgo/notify"
)

// Role distinguishes which side started ghosting, for the activation
// handshake below.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

type activationPhase int

const (
	inactive activationPhase = iota
	awaitingReady            // server: sent Start, waiting for matching Ready
	active
)

type controlCmd int

const (
	cmdNone controlCmd = iota
	cmdStart
	cmdReady
	cmdEnd
)

// Connection replicates scoped source objects to one peer on top of a
// notify connection, the way event.Connection replicates class-indexed
// events: both hook notify's per-packet ACK/NACK to resolve their own
// finer-grained bookkeeping.
type Connection struct {
	Notify   *notify.Connection
	registry *classreg.Registry
	group    uint32
	role     Role

	classIndexBits int

	arena  ghostArena
	lookup map[any]*GhostInfo

	inFlight map[uint32][]*GhostRef

	scope ScopeObject
	phase activationPhase

	pendingControlCmd controlCmd
	pendingControlSeq uint32
	startSentSeq      uint32

	// localGhosts is the receiver side's id -> replica object table.
	localGhosts map[uint32]any

	// OnGhostAvailable fires once a newly-created ghost's first update
	// has been acknowledged, making it safe for the application to treat
	// as addressable.
	OnGhostAvailable func(g *GhostInfo)
	// OnGhostAdd fires when the receiver constructs a new local replica;
	// returning false rejects it and fails the connection.
	OnGhostAdd func(id uint32, obj any) bool
	// OnGhostRemove fires when the receiver destroys a local replica,
	// including during EndGhosting teardown.
	OnGhostRemove func(id uint32, obj any)

	Err error
}

const minPaddingBits = 32

// NewConnection wraps an already-constructed notify.Connection with
// ghost replication for object class group group.
func NewConnection(nc *notify.Connection, registry *classreg.Registry, group uint32, role Role) *Connection {
	c := &Connection{
		Notify:         nc,
		registry:       registry,
		group:          group,
		role:           role,
		classIndexBits: registry.BitSizeByGroupType(group, classreg.TypeObject),
		lookup:         make(map[any]*GhostInfo),
		inFlight:       make(map[uint32][]*GhostRef),
		localGhosts:    make(map[uint32]any),
	}
	chainOnPacketNotify(nc, c.onPacketNotify)
	return c
}

// chainOnPacketNotify lets more than one layer (ghost, event) share a
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

// SetScopeObject installs the per-tick scope query callback.
func (c *Connection) SetScopeObject(s ScopeObject) { c.scope = s }

// ObjectInScope marks obj (identified by key, typically the object's own
// pointer) visible for this tick, allocating a GhostInfo the first time
// it's seen.
func (c *Connection) ObjectInScope(key any, obj GhostedObject) {
	if g, ok := c.lookup[key]; ok {
		g.inScopeThisTick = true
		return
	}
	g := c.arena.allocate(obj, key)
	if g == nil {
		return // arena full; try again next tick
	}
	if av, ok := obj.(AlwaysVisible); ok {
		g.scopeAlways = av.ScopeAlways()
	}
	g.inScopeThisTick = true
	c.lookup[key] = g
}

// StartGhosting begins the server-side activation handshake: ghosting
// stays inactive (no scope queries run) until the client's matching
// Ready is observed.
func (c *Connection) StartGhosting(sequence uint32) {
	if c.role != RoleServer {
		return
	}
	c.startSentSeq = sequence
	c.pendingControlCmd = cmdStart
	c.pendingControlSeq = sequence
	c.phase = awaitingReady
}

// EndGhosting tears down ghosting and, on the next tick, tells the peer
// to destroy every local replica too.
func (c *Connection) EndGhosting() {
	c.pendingControlCmd = cmdEnd
	c.phase = inactive
}

// Active reports whether scope queries are currently running.
func (c *Connection) Active() bool { return c.phase == active }

// Tick runs one scope-query/pack/send cycle and returns the resulting
// packet, if the notify layer decided to send one this tick.
func (c *Connection) Tick(now time.Time, force bool) (packet []byte, ok bool) {
	if c.Err != nil {
		return nil, false
	}
	bs, built := c.Notify.BuildOutgoingPacket(now, force, c.HasPendingWork(), c.WriteOutgoing)
	if !built || bs.Error() != nil {
		return nil, false
	}
	return bs.Bytes(), true
}

// WriteOutgoing writes this connection's control block and pending
// ghost entries into bs and stages the written refs under seq for later
// ACK/NACK resolution. Its signature matches
// notify.Connection.BuildOutgoingPacket's writePacket hook directly, so
// a composer building one packet shared across several layers (event,
// ghost) can call it in place of driving Tick itself.
func (c *Connection) WriteOutgoing(bs *bitstream.BitStream, seq uint32) {
	refs := c.writePacket(bs)
	if len(refs) > 0 {
		c.inFlight[seq] = refs
	}
}

func (c *Connection) hasPendingWork() bool {
	return c.arena.freeIndex > c.arena.zeroUpdateIndex
}

// HasPendingWork reports whether this connection has anything it wants
// to send (a pending control command, or pending ghost updates while
// active), for a composer sharing one notify.Connection across several
// layers to decide whether a tick needs a packet at all.
func (c *Connection) HasPendingWork() bool {
	return c.pendingControlCmd != cmdNone || (c.phase == active && c.hasPendingWork())
}

func (c *Connection) writePacket(bs *bitstream.BitStream) []*GhostRef {
	c.writeControl(bs)

	var pending []*GhostInfo
	if c.phase == active {
		if c.scope != nil {
			c.resetScopeFlags()
			c.scope.PerformScopeQuery(c)
		}
		c.detachOutOfScope()

		pending = append([]*GhostInfo{}, c.arena.pendingRange()...)
		for _, g := range pending {
			c.computePriority(g)
		}
		sort.SliceStable(pending, func(i, j int) bool {
			if pending[i].priority != pending[j].priority {
				return pending[i].priority > pending[j].priority
			}
			return pending[i].arrayIndex < pending[j].arrayIndex
		})
	}

	var maxSeen uint32
	for _, g := range pending {
		if g.index > maxSeen {
			maxSeen = g.index
		}
	}
	idBits := ghostIDFieldBits(maxSeen)
	bs.WriteInt(uint32(idBits), 5)

	var refs []*GhostRef
	for _, g := range pending {
		start := bs.BitsWritten()
		bs.WriteFlag(true)
		bs.WriteInt(g.index, idBits)

		var coveredMask uint32
		if g.flag == flagKillGhost {
			bs.WriteFlag(true)
		} else {
			bs.WriteFlag(false)
			firstUpdate := g.flag == flagNotYetGhosted
			bs.WriteFlag(firstUpdate)
			if firstUpdate {
				bs.WriteInt(g.source.ClassIndex(), c.classIndexBits)
			}
			residual := g.source.PackUpdate(g.mask, bs)
			coveredMask = g.mask &^ residual
			g.mask = residual
		}

		if bs.Error() != nil || bs.RemainingBits() < minPaddingBits {
			bs.SetBitPosition(start)
			break
		}

		if g.flag == flagKillGhost {
			coveredMask = ^uint32(0)
			g.flag = flagKillingGhost
		} else if g.flag == flagNotYetGhosted {
			g.flag = flagGhosting
		}

		ref := recordRef(g, coveredMask)
		refs = append(refs, ref)

		g.updateSkipCount = 0
		if g.mask == 0 && g.flag != flagKillingGhost {
			c.arena.pushToZeroRange(g)
		}
	}
	bs.WriteFlag(false)
	return refs
}

func (c *Connection) writeControl(bs *bitstream.BitStream) {
	cmd := c.pendingControlCmd
	bs.WriteFlag(cmd != cmdNone)
	if cmd == cmdNone {
		return
	}
	bs.WriteInt(uint32(cmd), 2)
	bs.WriteInt(c.pendingControlSeq, 32)
	if cmd == cmdEnd {
		c.pendingControlCmd = cmdNone
	}
	// cmdStart keeps re-sending each tick until the client's matching
	// cmdReady arrives (see readControl). The client's cmdReady is never
	// cleared, so it goes out with every packet the client writes.
}

func (c *Connection) resetScopeFlags() {
	for _, g := range c.arena.slots[:c.arena.freeIndex] {
		g.inScopeThisTick = false
	}
}

func (c *Connection) detachOutOfScope() {
	for _, g := range c.arena.slots[:c.arena.freeIndex] {
		if g.inScopeThisTick || g.scopeAlways {
			continue
		}
		if g.flag == flagKillGhost || g.flag == flagKillingGhost {
			continue
		}
		g.flag = flagKillGhost
		g.mask = ^uint32(0)
		c.arena.pushToPendingRange(g)
	}
}

func (c *Connection) computePriority(g *GhostInfo) {
	switch g.flag {
	case flagKillGhost:
		g.priority = 10000
	case flagGhosting, flagKillingGhost:
		g.priority = 0
	default:
		if p, ok := g.source.(Prioritized); ok {
			g.priority = p.UpdatePriority(c.scope, g.mask, g.updateSkipCount)
		} else {
			g.priority = float64(g.updateSkipCount) * 0.1
		}
	}
	g.updateSkipCount++
}

// ghostIDFieldBits computes ceil(log2(maxSeenIndex))+3, minimum 3 — the
// per-packet wire width for ghost ids, sized to the highest index among
// this packet's entries rather than the arena's full 10-bit capacity.
func ghostIDFieldBits(maxSeenIndex uint32) int {
	n := 0
	if maxSeenIndex > 1 {
		n = bits.Len32(maxSeenIndex - 1) // ceil(log2(maxSeenIndex))
	}
	n += 3
	if n < 3 {
		n = 3
	}
	return n
}

func (c *Connection) onPacketNotify(seq uint32, delivered bool) {
	refs := c.inFlight[seq]
	delete(c.inFlight, seq)
	for _, ref := range refs {
		if delivered {
			c.resolveAck(ref)
		} else {
			c.resolveNack(ref)
		}
	}
}

func (c *Connection) resolveAck(ref *GhostRef) {
	g := ref.ghost
	switch g.flag {
	case flagGhosting:
		g.flag = flagGhosted
		if c.OnGhostAvailable != nil {
			c.OnGhostAvailable(g)
		}
	case flagKillingGhost:
		delete(c.lookup, g.key)
		c.arena.free(g)
	}
	unlink(ref)
}

func (c *Connection) resolveNack(ref *GhostRef) {
	g := ref.ghost
	leftover := uncoveredBits(ref)
	switch g.flag {
	case flagGhosting:
		g.flag = flagNotYetGhosted
	case flagKillingGhost:
		g.flag = flagKillGhost
		leftover = ^uint32(0)
	}
	if leftover != 0 {
		g.mask |= leftover
		c.arena.pushToPendingRange(g)
	}
	unlink(ref)
}

// ReadIncomingPacket parses the ghost-layer content of an already
// notify-framed packet; pass it as the upper-layer hook to
// notify.Connection.ReadIncomingPacket.
func (c *Connection) ReadIncomingPacket(bs *bitstream.BitStream) {
	if c.Err != nil {
		return
	}
	c.readControl(bs)
	if c.Err != nil {
		return
	}

	idBits := int(bs.ReadInt(5))
	for bs.ReadFlag() {
		id := bs.ReadInt(idBits)
		isKill := bs.ReadFlag()
		if isKill {
			if obj, ok := c.localGhosts[id]; ok {
				if c.OnGhostRemove != nil {
					c.OnGhostRemove(id, obj)
				}
				delete(c.localGhosts, id)
			}
			continue
		}

		firstUpdate := bs.ReadFlag()
		var obj any
		if firstUpdate {
			classIdx := bs.ReadInt(c.classIndexBits)
			inst, err := c.registry.Create(c.group, classreg.TypeObject, int(classIdx))
			if err != nil {
				c.fail("Invalid packet")
				return
			}
			obj = inst
		} else {
			existing, ok := c.localGhosts[id]
			if !ok {
				c.fail("Invalid packet")
				return
			}
			obj = existing
		}

		local, isLocal := obj.(LocalGhostedObject)
		if !isLocal {
			c.fail("Invalid packet")
			return
		}
		local.UnpackUpdate(bs, firstUpdate)
		if bs.Error() != nil {
			c.fail("Invalid packet")
			return
		}

		if firstUpdate {
			if c.OnGhostAdd != nil && !c.OnGhostAdd(id, obj) {
				c.fail("Invalid packet")
				return
			}
			c.localGhosts[id] = obj
		}
	}
}

func (c *Connection) readControl(bs *bitstream.BitStream) {
	hasControl := bs.ReadFlag()
	if !hasControl {
		return
	}
	cmd := controlCmd(bs.ReadInt(2))
	seq := bs.ReadInt(32)
	switch cmd {
	case cmdStart:
		if c.role == RoleClient {
			c.pendingControlCmd = cmdReady
			c.pendingControlSeq = seq
			c.phase = active
		}
	case cmdReady:
		if c.role == RoleServer && c.phase == awaitingReady && seq == c.startSentSeq {
			c.pendingControlCmd = cmdNone
			c.phase = active
		}
	case cmdEnd:
		c.phase = inactive
		for id, obj := range c.localGhosts {
			if c.OnGhostRemove != nil {
				c.OnGhostRemove(id, obj)
			}
			delete(c.localGhosts, id)
		}
	}
}

func (c *Connection) fail(reason string) {
	if c.Err == nil {
		c.Err = errors.New(reason)
	}
}
