package ghost

// GhostRef links one outgoing packet to one ghost it touched: mask is
// the set of dirty bits that packet actually carried. next points to the
// previous (older) GhostRef for the same ghost, so resolving a NACK can
// walk forward in time to see whether a later packet already resent the
// same bits.
type GhostRef struct {
	ghost *GhostInfo
	mask  uint32
	next  *GhostRef
}

// recordRef prepends a new GhostRef at the head of g's chain.
func recordRef(g *GhostInfo, mask uint32) *GhostRef {
	ref := &GhostRef{ghost: g, mask: mask, next: g.lastUpdateChain}
	g.lastUpdateChain = ref
	return ref
}

// unlink removes ref from its ghost's chain once it has been resolved
// (by either ACK or NACK), so stale chain entries don't accumulate.
func unlink(ref *GhostRef) {
	g := ref.ghost
	if g.lastUpdateChain == ref {
		g.lastUpdateChain = ref.next
		return
	}
	for n := g.lastUpdateChain; n != nil; n = n.next {
		if n.next == ref {
			n.next = ref.next
			return
		}
	}
}

// uncoveredBits returns the subset of ref.mask that no packet sent after
// ref also carried — the bits a NACK must re-schedule, since anything a
// later packet already covers is that later packet's responsibility to
// resolve.
func uncoveredBits(ref *GhostRef) uint32 {
	g := ref.ghost
	var covered uint32
	for n := g.lastUpdateChain; n != nil && n != ref; n = n.next {
		covered |= n.mask
	}
	return ref.mask &^ covered
}
