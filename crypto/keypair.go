// Package crypto holds the asymmetric and symmetric primitives the
// handshake and connection layers build on: NaCl key pairs for ECDH,
// a ChaChaPoly AEAD for sealed connected-data packets, and Ed25519
// signing for the optional host certificate.
package crypto

import (
	"crypto/rand"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeyPair is a Curve25519 key pair: either a host's long-lived identity
// key or a connection's ephemeral ECDH key, depending on where it's used.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random Curve25519 key pair, suitable for
// either a host's configured identity key or a per-connection ephemeral
// key.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		logrus.WithError(err).Error("key pair generation failed")
		return nil, err
	}
	return &KeyPair{Public: *publicKey, Private: *privateKey}, nil
}

// FromSecretKey derives a key pair's public half from an existing private
// key, clamping it to Curve25519's required form first.
func FromSecretKey(secretKey [32]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		return nil, errors.New("invalid secret key: all zeros")
	}

	var privateKey [32]byte
	copy(privateKey[:], secretKey[:])
	privateKey[0] &= 248
	privateKey[31] &= 127
	privateKey[31] |= 64

	var publicKey [32]byte
	curve25519.ScalarBaseMult(&publicKey, &privateKey)
	ZeroBytes(privateKey[:])

	return &KeyPair{Public: publicKey, Private: secretKey}, nil
}

func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
