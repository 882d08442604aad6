package crypto

import (
	"crypto/ed25519"
	"errors"
)

// SignatureSize is the size of an Ed25519 signature in bytes.
const SignatureSize = ed25519.SignatureSize

// Signature represents an Ed25519 signature.
type Signature [SignatureSize]byte

// Sign creates an Ed25519 signature for a message using the private key.
func Sign(message []byte, privateKey [32]byte) (Signature, error) {
	if len(message) == 0 {
		return Signature{}, errors.New("empty message")
	}

	// Ed25519 private keys are 64 bytes (32-byte seed + 32-byte public key);
	// privateKey here is the seed half.
	edPrivateKey := ed25519.NewKeyFromSeed(privateKey[:])
	signatureBytes := ed25519.Sign(edPrivateKey, message)

	var signature Signature
	copy(signature[:], signatureBytes)
	return signature, nil
}

// Verify checks if a signature is valid for a message and public key.
func Verify(message []byte, signature Signature, publicKey [32]byte) (bool, error) {
	if len(message) == 0 {
		return false, errors.New("empty message")
	}

	var edPublicKey [ed25519.PublicKeySize]byte
	copy(edPublicKey[:], publicKey[:])
	return ed25519.Verify(edPublicKey[:], message, signature[:]), nil
}

// CertificateSize is the wire size of an encoded Certificate: the host's
// Curve25519 public key plus the authority's Ed25519 signature over it.
const CertificateSize = 32 + SignatureSize

// Certificate binds a host's ECDH public key to a signature from a trusted
// authority key, so a connecting client can confirm it's talking to the
// host it expects before the handshake's key exchange completes. Sent
// optionally in ChallengeResponse when the host is configured with one and
// the client asked for it.
type Certificate struct {
	HostPublicKey [32]byte
	Signature     Signature
}

// SignCertificate has an authority, identified by authorityPrivateKey,
// vouch for hostPublicKey.
func SignCertificate(hostPublicKey [32]byte, authorityPrivateKey [32]byte) (Certificate, error) {
	sig, err := Sign(hostPublicKey[:], authorityPrivateKey)
	if err != nil {
		return Certificate{}, err
	}
	return Certificate{HostPublicKey: hostPublicKey, Signature: sig}, nil
}

// Verify reports whether c was signed by authorityPublicKey over
// c.HostPublicKey.
func (c Certificate) Verify(authorityPublicKey [32]byte) (bool, error) {
	return Verify(c.HostPublicKey[:], c.Signature, authorityPublicKey)
}

// Encode serializes c to its fixed-size wire form.
func (c Certificate) Encode() []byte {
	buf := make([]byte, CertificateSize)
	copy(buf[:32], c.HostPublicKey[:])
	copy(buf[32:], c.Signature[:])
	return buf
}

// DecodeCertificate parses a Certificate from its wire form.
func DecodeCertificate(data []byte) (Certificate, error) {
	if len(data) != CertificateSize {
		return Certificate{}, errors.New("invalid certificate size")
	}
	var c Certificate
	copy(c.HostPublicKey[:], data[:32])
	copy(c.Signature[:], data[32:])
	return c, nil
}
