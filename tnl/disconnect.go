package tnl

// DisconnectReason classifies why a NetConnection stopped running, for
// callers that want to react differently to a clean shutdown than to a
// timeout or a protocol violation.
type DisconnectReason int

const (
	DisconnectNone DisconnectReason = iota
	DisconnectClosedLocally
	DisconnectClosedByPeer
	DisconnectTimedOut
	DisconnectMalformedPacket
	DisconnectHandshakeRejected
	DisconnectHandshakeTimedOut
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectNone:
		return "None"
	case DisconnectClosedLocally:
		return "ClosedLocally"
	case DisconnectClosedByPeer:
		return "ClosedByPeer"
	case DisconnectTimedOut:
		return "TimedOut"
	case DisconnectMalformedPacket:
		return "MalformedPacket"
	case DisconnectHandshakeRejected:
		return "HandshakeRejected"
	case DisconnectHandshakeTimedOut:
		return "HandshakeTimedOut"
	default:
		return "Unknown"
	}
}
