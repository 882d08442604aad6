// Package crypto implements the cryptographic primitives TNL's handshake
// and connection layers build on: NaCl-family asymmetric key pairs, ECDH
// shared-secret derivation, Ed25519 certificate signatures, and the
// connection-symmetric cipher that encrypts connected packets once a
// handshake completes.
//
// # Core types
//
//   - [KeyPair]: Curve25519 key pair, used for the interface's optional
//     private key and the initiator's optional key-exchange key
//
//   - [Signature]: Ed25519 signature produced by [Sign] and checked by
//     [Verify]
//   - [Certificate]: a host's Curve25519 public key plus a [Signature]
//     from a trusted authority over it, sent in ChallengeResponse and
//     checked by handshake.Initiator against its TrustedAuthorityKey
//
// # Shared secret and symmetric cipher
//
//	secret, _ := crypto.DeriveSharedSecret(peerPublicKey, myPrivateKey)
//	cipher := crypto.NewSymmetricCipher(secret)
//	sealed := cipher.Seal(sequenceNumber, packetType, plaintext)
//	opened, err := cipher.Open(sequenceNumber, packetType, sealed)
//
// [SymmetricCipher] is what package bitstream's PacketStream framing calls
// once a connection negotiates `usingCrypto`.
//
// # Secure memory
//
// Sensitive byte slices should be wiped with [ZeroBytes] once no longer
// needed; [SecureWipe] is the same operation with an error return for
// callers that want to distinguish "already nil" from "wiped".
package crypto
