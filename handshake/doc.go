// Package handshake implements TNL's four-phase, stateless-server
// connection handshake: ChallengeRequest,
// ChallengeResponse, ConnectRequest, ConnectAccept, plus the
// arranged-connection Punch variant for two NAT-bound peers introduced by
// a third party.
//
// [Initiator] drives the phase state machine from the connecting
// side; [params.go] holds the negotiated [ConnectionParameters] captured
// along the way. The host side stays stateless until a valid puzzle
// solution arrives (package puzzle owns the [puzzle.Manager] that makes
// that possible) — see HandleChallengeRequest and HandleConnectRequest,
// which recompute rather than look up everything they need.
package handshake
