package bitstream

// StringTableSize is the number of interned slots a connection's
// StringTable holds; the wire index field is sized to address exactly this
// many entries.
const StringTableSize = 1024

// stringTableIndexBits is ceil(log2(StringTableSize)).
const stringTableIndexBits = 10

// stringTableEntry is one interned slot. confirmed tracks whether the peer
// has acknowledged a packet that populated this slot's string — until then
// the sender must keep re-sending the full string alongside the index.
type stringTableEntry struct {
	value     string
	confirmed bool
	// pendingPackets lists in-flight packet sequence numbers that first
	// introduced this slot's current value, most recent last. On ACK of
	// one, the entry becomes confirmed; on NACK it stays unconfirmed (the
	// next send will carry the full string again).
	pendingPackets []uint32
	lastUse        uint64
}

// StringTable is the per-connection LRU string interning table. The
// sender and receiver each keep one; indices are only meaningful within
// a single connection, not globally.
type StringTable struct {
	entries [StringTableSize]stringTableEntry
	clock   uint64
}

// NewStringTable creates an empty table.
func NewStringTable() *StringTable {
	return &StringTable{}
}

// intern finds an existing slot for s, or evicts the least-recently-used
// slot and claims it. Returns the slot index and whether it was already
// present with a confirmed value (in which case the sender need not write
// the string itself, only the index).
func (t *StringTable) intern(s string) (index int, alreadyKnown bool) {
	t.clock++
	for i := range t.entries {
		if t.entries[i].value == s && t.entries[i].lastUse != 0 {
			t.entries[i].lastUse = t.clock
			return i, t.entries[i].confirmed
		}
	}
	victim := t.lruIndex()
	t.entries[victim] = stringTableEntry{value: s, lastUse: t.clock}
	return victim, false
}

// lruIndex returns the slot with the oldest lastUse (0 = never used, so
// empty slots are always evicted first).
func (t *StringTable) lruIndex() int {
	victim := 0
	oldest := t.entries[0].lastUse
	for i := 1; i < StringTableSize; i++ {
		if t.entries[i].lastUse < oldest {
			oldest = t.entries[i].lastUse
			victim = i
		}
	}
	return victim
}

// WriteStringTableEntry interns s (evicting if necessary) and writes its
// 10-bit index, a confirmation flag, and — only if the receiver hasn't
// confirmed this slot yet — the full string. seq is the sequence number of
// the packet currently being built, recorded so ConfirmPacket can mark
// the entry confirmed once this packet is ACKed.
func (bs *BitStream) WriteStringTableEntry(t *StringTable, s string, seq uint32) {
	index, known := t.intern(s)
	bs.WriteInt(uint32(index), stringTableIndexBits)
	bs.WriteFlag(known)
	if !known {
		bs.WriteString(s)
		t.entries[index].pendingPackets = append(t.entries[index].pendingPackets, seq)
	}
}

// ReadStringTableEntry is the read-side mirror of WriteStringTableEntry. If
// the sender indicated the slot is already known, the receiver must already
// hold the same string at that index; otherwise
// the full string is read off the wire and stored at the given index.
func (bs *BitStream) ReadStringTableEntry(t *StringTable) string {
	index := int(bs.ReadInt(stringTableIndexBits))
	known := bs.ReadFlag()
	if known {
		if index < 0 || index >= StringTableSize {
			return ""
		}
		return t.entries[index].value
	}
	s := bs.ReadString()
	t.clock++
	t.entries[index] = stringTableEntry{value: s, lastUse: t.clock}
	return s
}

// ConfirmPacket marks every string-table slot that packet seq first
// introduced as confirmed. Called by the notify layer's delivery callback
// on ACK.
func (t *StringTable) ConfirmPacket(seq uint32) {
	for i := range t.entries {
		pending := t.entries[i].pendingPackets[:0]
		for _, p := range t.entries[i].pendingPackets {
			if p == seq {
				t.entries[i].confirmed = true
			} else {
				pending = append(pending, p)
			}
		}
		t.entries[i].pendingPackets = pending
	}
}

// ForgetPacket drops packet seq's pending-confirmation record without
// confirming it, called on NACK — the slot simply stays unconfirmed until
// some other packet carrying it is ACKed.
func (t *StringTable) ForgetPacket(seq uint32) {
	for i := range t.entries {
		pending := t.entries[i].pendingPackets[:0]
		for _, p := range t.entries[i].pendingPackets {
			if p != seq {
				pending = append(pending, p)
			}
		}
		t.entries[i].pendingPackets = pending
	}
}
