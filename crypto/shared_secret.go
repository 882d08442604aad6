package crypto

import (
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// DeriveSharedSecret computes the ECDH shared secret for a handshake that
// exchanged Curve25519 public keys: the host's (or client's) static or
// ephemeral private key against the peer's public key. The result seeds
// ConnectionParameters.SharedSecret and, from there, the connection's
// SymmetricCipher.
func DeriveSharedSecret(peerPublicKey, privateKey [32]byte) ([32]byte, error) {
	var publicKeyCopy [32]byte
	var privateKeyCopy [32]byte
	copy(publicKeyCopy[:], peerPublicKey[:])
	copy(privateKeyCopy[:], privateKey[:])

	sharedSecret, err := curve25519.X25519(privateKeyCopy[:], publicKeyCopy[:])
	if err != nil {
		ZeroBytes(privateKeyCopy[:])
		return [32]byte{}, fmt.Errorf("derive shared secret: %w", err)
	}

	var result [32]byte
	copy(result[:], sharedSecret)

	ZeroBytes(privateKeyCopy[:])
	ZeroBytes(sharedSecret)

	return result, nil
}
