// Package puzzle implements the client puzzle anti-DoS handshake gate
//: a stateless-server proof-of-work challenge the host
// publishes and the initiator must solve before the host allocates any
// per-connection state.
//
// [Manager] is the host side: it owns the current and previous server
// nonce, each with the set of client nonces that have already submitted
// an accepted solution against it, and rotates every [PuzzleRefreshTime].
//
// [Solver] is the initiator side: an incremental, resumable search that
// bounds its own per-call work so a cooperative tick loop never blocks on
// it.
//
// Hashing difficulty and the wire format of the puzzle itself are kept
// intentionally generic: this package treats the one-way function as a
// tunable-difficulty primitive, not a specific algorithm chosen for
// cryptographic review.
package puzzle
