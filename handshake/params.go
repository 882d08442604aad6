package handshake

import (
	"github.com/nardo/tnlgo/crypto"
	"github.com/nardo/tnlgo/wire"
)

// ConnectionParameters is the per-connection negotiated state captured
// during the handshake.
type ConnectionParameters struct {
	Nonce            wire.Nonce
	ServerNonce      wire.Nonce
	ClientIdentity   wire.ClientIdentityToken
	PuzzleDifficulty int
	PuzzleSolution   uint64

	UsingCrypto bool
	// SharedSecret is the ECDH output when both sides exchanged keys;
	// nil when the connection negotiated no encryption.
	SharedSecret *[32]byte
	SymmetricKey [32]byte
	InitVector   [8]byte

	DebugObjectSizes bool

	IsArranged        bool
	IsInitiator       bool
	ArrangedSecret    []byte
	PossibleAddresses []wire.Address
}

// DeriveSymmetricCipher builds the connection's packet cipher from the
// negotiated shared secret. Returns nil if the connection isn't using
// crypto.
func (p *ConnectionParameters) DeriveSymmetricCipher() *crypto.SymmetricCipher {
	if !p.UsingCrypto || p.SharedSecret == nil {
		return nil
	}
	return crypto.NewSymmetricCipher(p.SymmetricKey)
}
