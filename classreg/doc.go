// Package classreg implements the process-wide ClassRegistry:
// a catalogue of networkable classes, each tagged with a group, a type
// (Object or Event), and a version, sorted so that class indices are
// stable and dense within each (group, type) pair.
//
// The registry is built once at process startup via Register calls and
// then Frozen before the first socket.Interface is constructed (Design
// Note §9: "an append-only registry built at startup... frozen before the
// first NetInterface is created"). After Freeze, the registry is read-only
// and needs no synchronization — Register panics if called again.
package classreg
