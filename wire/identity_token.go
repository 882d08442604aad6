package wire

import "crypto/sha256"

// IdentityTokenSize is the width of a ClientIdentityToken in bytes.
const IdentityTokenSize = 4

// ClientIdentityToken is H(clientAddress ‖ clientNonce ‖ serverSecret). The
// host never stores this value — it's recomputed on every packet and
// compared, which is what keeps the host stateless until a client returns a
// valid puzzle solution.
type ClientIdentityToken [IdentityTokenSize]byte

// ComputeClientIdentityToken derives the token for a given client address,
// client nonce, and the host's per-process random secret.
func ComputeClientIdentityToken(clientAddr Address, clientNonce Nonce, serverSecret []byte) ClientIdentityToken {
	h := sha256.New()
	h.Write(clientAddr.Host[:])
	h.Write([]byte{byte(clientAddr.Protocol)})
	h.Write([]byte{byte(clientAddr.Port >> 8), byte(clientAddr.Port)})
	h.Write(clientNonce[:])
	h.Write(serverSecret)
	sum := h.Sum(nil)

	var token ClientIdentityToken
	copy(token[:], sum[:IdentityTokenSize])
	return token
}

// Equal reports byte-for-byte equality.
func (t ClientIdentityToken) Equal(other ClientIdentityToken) bool {
	return t == other
}
