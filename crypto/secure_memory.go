package crypto

import (
	"crypto/subtle"
	"errors"
	"runtime"
)

// SecureWipe zeros data in place using a constant-time XOR the compiler
// can't optimize away (x XOR x = 0). Returns an error if data is nil.
func SecureWipe(data []byte) error {
	if data == nil {
		return errors.New("cannot wipe nil data")
	}
	subtle.XORBytes(data, data, data)
	runtime.KeepAlive(data)
	return nil
}

// ZeroBytes wipes data, discarding SecureWipe's nil-check error.
func ZeroBytes(data []byte) {
	_ = SecureWipe(data)
}

// WipeKeyPair erases kp's private half. Used once a key pair's ECDH (or
// certificate) role is done and only its public half is still needed, e.g.
// an initiator's ephemeral key after the shared secret is derived.
func WipeKeyPair(kp *KeyPair) error {
	if kp == nil {
		return errors.New("cannot wipe nil KeyPair")
	}
	return SecureWipe(kp.Private[:])
}
