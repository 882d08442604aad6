// Package ghost replicates scoped source objects to a peer: each tick the
// application marks which objects are visible this connection, the
// connection priority-sorts and packs their pending updates into the
// outgoing packet, and resolves per-ghost delivery from the underlying
// notify connection's per-packet ACK/NACK.
package ghost
