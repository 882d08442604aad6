// Package socket implements the UDP transport and connection dispatcher TNL
// runs its cooperative tick loop on top of.
//
// [Socket] wraps a non-blocking UDP endpoint. A background goroutine drains
// the OS socket into a channel; all classification and dispatch happens
// synchronously inside [Interface.ProcessSocket] and [Interface.ProcessConnections],
// so application code never sees a handler invoked concurrently with the
// rest of a tick — matching the single-threaded-per-tick model the rest of
// the core assumes.
//
// [Interface] is the dispatcher: it owns the socket, the open-addressed
// connection hash table keyed by address, the pending-connection list, and
// the delayed-send queue used to simulate latency in tests.
package socket
