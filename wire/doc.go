// Package wire implements the data types that travel on TNL's UDP wire
// format but aren't part of any one layer's internal state: Address, the
// handshake liveness Nonce, the ClientIdentityToken, and the byte-0
// packet dispatch rule between notify traffic and control/info packets.
package wire
