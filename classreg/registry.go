package classreg

import (
	"fmt"
	"math/bits"
	"sort"
)

// ClassType distinguishes replicated objects from events; each gets its own
// index space within a group.
type ClassType uint8

const (
	TypeObject ClassType = iota
	TypeEvent
)

// Factory constructs a zero-value instance of a registered class, used by
// the ghost layer to build a new local object on first update and by the
// event layer to build a new event on receive.
type Factory func() any

// classEntry is one registered class before the registry is frozen into
// its sorted, indexed form.
type classEntry struct {
	name      string
	group     uint32
	typ       ClassType
	version   uint32
	construct Factory
}

// Registry is a catalogue of networkable classes. The zero value is usable;
// call Register for each class, then Freeze once before constructing any
// socket.Interface.
type Registry struct {
	entries []classEntry
	frozen  bool

	// indexed is built by Freeze: indexed[group][type] is the entries for
	// that (group, type) pair, sorted ascending by version.
	indexed map[uint32]map[ClassType][]classEntry
}

// New creates an empty, unfrozen Registry.
func New() *Registry {
	return &Registry{indexed: make(map[uint32]map[ClassType][]classEntry)}
}

// Register adds a class to the catalogue. Panics if called after Freeze —
// the registry is append-only until frozen, then immutable, matching
// Design Note §9's "frozen before the first NetInterface is created".
func (r *Registry) Register(name string, group uint32, typ ClassType, version uint32, construct Factory) {
	if r.frozen {
		panic("classreg: Register called after Freeze")
	}
	r.entries = append(r.entries, classEntry{name: name, group: group, typ: typ, version: version, construct: construct})
}

// Freeze sorts each (group, type) bucket by ascending version and locks the
// registry against further registration. classIds become stable from this
// point on for the lifetime of the process.
func (r *Registry) Freeze() {
	if r.frozen {
		return
	}
	buckets := make(map[uint32]map[ClassType][]classEntry)
	for _, e := range r.entries {
		if buckets[e.group] == nil {
			buckets[e.group] = make(map[ClassType][]classEntry)
		}
		buckets[e.group][e.typ] = append(buckets[e.group][e.typ], e)
	}
	for _, byType := range buckets {
		for typ, list := range byType {
			sort.SliceStable(list, func(i, j int) bool { return list[i].version < list[j].version })
			byType[typ] = list
		}
	}
	r.indexed = buckets
	r.frozen = true
}

// bucket returns the sorted entries for (group, type), or nil if none were
// registered.
func (r *Registry) bucket(group uint32, typ ClassType) []classEntry {
	byType, ok := r.indexed[group]
	if !ok {
		return nil
	}
	return byType[typ]
}

// CountByGroupType returns the number of classes registered in (group, type).
func (r *Registry) CountByGroupType(group uint32, typ ClassType) int {
	return len(r.bucket(group, typ))
}

// BitSizeByGroupType returns ceil(log2(count)) bits, the field width needed
// to address any class index in (group, type) on the wire. A single class
// still needs 1 bit to round-trip through the BitStream codec.
func (r *Registry) BitSizeByGroupType(group uint32, typ ClassType) int {
	count := r.CountByGroupType(group, typ)
	if count <= 1 {
		return 1
	}
	return bits.Len32(uint32(count - 1))
}

// IsVersionBorder reports whether truncating (group, type)'s class list to
// the first count entries lands exactly on a version boundary: every class
// at index < count must share no version with any class at index >= count.
// Used during handshake class-negotiation to reject a
// negotiated count that would split a version's classes across the
// connection's two endpoints.
func (r *Registry) IsVersionBorder(group uint32, typ ClassType, count int) bool {
	list := r.bucket(group, typ)
	if count <= 0 || count >= len(list) {
		return true
	}
	return list[count-1].version != list[count].version
}

// Create constructs a new instance of the class at the given index within
// (group, type). Returns an error for an index the local registry doesn't
// recognize — callers must treat an unknown class index as a malformed
// packet and fail the connection.
func (r *Registry) Create(group uint32, typ ClassType, index int) (any, error) {
	list := r.bucket(group, typ)
	if index < 0 || index >= len(list) {
		return nil, fmt.Errorf("classreg: unknown class index %d in group %d type %v", index, group, typ)
	}
	return list[index].construct(), nil
}

// Name returns the registered name for a class index, for logging.
func (r *Registry) Name(group uint32, typ ClassType, index int) string {
	list := r.bucket(group, typ)
	if index < 0 || index >= len(list) {
		return "<unknown>"
	}
	return list[index].name
}
