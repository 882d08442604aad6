// Package bitstream implements the bit-granular serialization codec used by
// every wire-visible structure in TNL: connection headers, rate-change
// blocks, event payloads, and ghost updates all read and write through a
// BitStream rather than byte-aligned encoding/gob/json.
//
// The codec is deliberately low-level and allocation-free in the steady
// state: a BitStream wraps a caller-supplied byte buffer and tracks a bit
// cursor into it. Overflow on write and underrun on read both set a sticky
// error flag (Error()) rather than panicking, so callers can write/read a
// whole packet and check for trouble once at the end.
//
// Example:
//
//	bs := bitstream.NewWithBuffer(make([]byte, 512))
//	bs.WriteInt(7, 4)
//	bs.WriteSignedFloat(0.25, 8)
//	bs.WriteStringTableEntry(table, "hello", seq)
//	if bs.Error() != nil {
//	    // truncated or overflowed
//	}
package bitstream
