package ghost

import "github.com/nardo/tnlgo/bitstream"

// ScopeObject decides, once per tick, which source objects are visible to
// this connection by calling Connection.ObjectInScope for each one.
type ScopeObject interface {
	PerformScopeQuery(conn *Connection)
}

// GhostedObject is a sender-side source object that can be replicated.
// PackUpdate writes the fields selected by mask and returns the subset of
// mask that still needs updating (bits it couldn't fit, or fields whose
// value didn't actually need to be sent this time are cleared by the
// caller's own logic inside PackUpdate).
type GhostedObject interface {
	ClassIndex() uint32
	PackUpdate(mask uint32, bs *bitstream.BitStream) (residualMask uint32)
}

// Prioritized lets a GhostedObject override the default
// skip-count-based update priority.
type Prioritized interface {
	UpdatePriority(scopeObject ScopeObject, mask uint32, updateSkipCount int) float64
}

// AlwaysVisible marks a GhostedObject as exempt from the leave-scope
// detach check, typically used for static world objects every
// connection ghosts once and keeps forever.
type AlwaysVisible interface {
	ScopeAlways() bool
}

// LocalGhostedObject is the receiver-side replica counterpart: a fresh
// instance is constructed via the class registry on first update and
// then fed every subsequent update through UnpackUpdate.
type LocalGhostedObject interface {
	UnpackUpdate(bs *bitstream.BitStream, initial bool)
}
