package wire

import "crypto/rand"

// NonceSize is the width of a handshake liveness nonce.
const NonceSize = 8

// Nonce proves liveness during the handshake: the initiator's Nc and the
// host's Ns. Equality is plain byte comparison.
type Nonce [NonceSize]byte

// GenerateNonce returns a new cryptographically random Nonce.
func GenerateNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return Nonce{}, err
	}
	return n, nil
}

// Equal reports byte-for-byte equality.
func (n Nonce) Equal(other Nonce) bool {
	return n == other
}
