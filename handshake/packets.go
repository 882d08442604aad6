package handshake

import (
	"github.com/nardo/tnlgo/bitstream"
	"github.com/nardo/tnlgo/crypto"
	"github.com/nardo/tnlgo/wire"
)

// packetBufferSize comfortably bounds every handshake packet; none carry
// bulk data beyond a small application payload.
const packetBufferSize = 512

const difficultyBits = 8 // MaxPuzzleDifficulty=26 fits comfortably
const publicKeySize = 32

func newWriter(control wire.ControlType) *bitstream.BitStream {
	bs := bitstream.NewWithBuffer(make([]byte, packetBufferSize))
	bs.WriteInt(uint32(control), 8)
	return bs
}

func newReader(data []byte) *bitstream.BitStream {
	bs := bitstream.NewReadWithBuffer(data, len(data)*8)
	bs.ReadInt(8) // control byte, already dispatched on by the caller
	return bs
}

// ChallengeRequest is phase 1, initiator → host.
type ChallengeRequest struct {
	ClientNonce      wire.Nonce
	WantsKeyExchange bool
	WantsCertificate bool
}

func (p ChallengeRequest) Encode() []byte {
	bs := newWriter(wire.ControlChallengeRequest)
	bs.WriteBuffer(p.ClientNonce[:])
	bs.WriteFlag(p.WantsKeyExchange)
	bs.WriteFlag(p.WantsCertificate)
	return bs.Bytes()
}

func DecodeChallengeRequest(data []byte) (ChallengeRequest, error) {
	bs := newReader(data)
	var p ChallengeRequest
	copy(p.ClientNonce[:], bs.ReadBuffer(wire.NonceSize))
	p.WantsKeyExchange = bs.ReadFlag()
	p.WantsCertificate = bs.ReadFlag()
	return p, bs.Error()
}

// ChallengeResponse is phase 2, host → initiator.
// The host computes IdentityToken fresh from the request; it never
// stores it.
type ChallengeResponse struct {
	ClientNonce    wire.Nonce
	IdentityToken  wire.ClientIdentityToken
	ServerNonce    wire.Nonce
	Difficulty     int
	HasPublicKey   bool
	PublicKey      [publicKeySize]byte
	HasCertificate bool
	Certificate    [crypto.CertificateSize]byte
}

func (p ChallengeResponse) Encode() []byte {
	bs := newWriter(wire.ControlChallengeResponse)
	bs.WriteBuffer(p.ClientNonce[:])
	bs.WriteBuffer(p.IdentityToken[:])
	bs.WriteBuffer(p.ServerNonce[:])
	bs.WriteInt(uint32(p.Difficulty), difficultyBits)
	bs.WriteFlag(p.HasPublicKey)
	if p.HasPublicKey {
		bs.WriteBuffer(p.PublicKey[:])
	}
	bs.WriteFlag(p.HasCertificate)
	if p.HasCertificate {
		bs.WriteBuffer(p.Certificate[:])
	}
	return bs.Bytes()
}

func DecodeChallengeResponse(data []byte) (ChallengeResponse, error) {
	bs := newReader(data)
	var p ChallengeResponse
	copy(p.ClientNonce[:], bs.ReadBuffer(wire.NonceSize))
	copy(p.IdentityToken[:], bs.ReadBuffer(wire.IdentityTokenSize))
	copy(p.ServerNonce[:], bs.ReadBuffer(wire.NonceSize))
	p.Difficulty = int(bs.ReadInt(difficultyBits))
	p.HasPublicKey = bs.ReadFlag()
	if p.HasPublicKey {
		copy(p.PublicKey[:], bs.ReadBuffer(publicKeySize))
	}
	p.HasCertificate = bs.ReadFlag()
	if p.HasCertificate {
		copy(p.Certificate[:], bs.ReadBuffer(crypto.CertificateSize))
	}
	return p, bs.Error()
}

// ConnectRequest is phase 3, initiator → host.
type ConnectRequest struct {
	ClientNonce      wire.Nonce
	ServerNonce      wire.Nonce
	IdentityToken    wire.ClientIdentityToken
	Difficulty       int
	Solution         uint64
	HasPublicKey     bool
	PublicKey        [publicKeySize]byte
	InitialSendSeq   uint32
	ObjectClassCount uint16
	EventClassCount  uint16
	Payload          []byte
}

func (p ConnectRequest) Encode() []byte {
	bs := newWriter(wire.ControlConnectRequest)
	bs.WriteBuffer(p.ClientNonce[:])
	bs.WriteBuffer(p.ServerNonce[:])
	bs.WriteBuffer(p.IdentityToken[:])
	bs.WriteInt(uint32(p.Difficulty), difficultyBits)
	bs.WriteInt(uint32(p.Solution>>32), 32)
	bs.WriteInt(uint32(p.Solution), 32)
	bs.WriteFlag(p.HasPublicKey)
	if p.HasPublicKey {
		bs.WriteBuffer(p.PublicKey[:])
	}
	bs.WriteInt(p.InitialSendSeq, 32)
	bs.WriteInt(uint32(p.ObjectClassCount), 16)
	bs.WriteInt(uint32(p.EventClassCount), 16)
	bs.WriteInt(uint32(len(p.Payload)), 16)
	bs.WriteBuffer(p.Payload)
	return bs.Bytes()
}

func DecodeConnectRequest(data []byte) (ConnectRequest, error) {
	bs := newReader(data)
	var p ConnectRequest
	copy(p.ClientNonce[:], bs.ReadBuffer(wire.NonceSize))
	copy(p.ServerNonce[:], bs.ReadBuffer(wire.NonceSize))
	copy(p.IdentityToken[:], bs.ReadBuffer(wire.IdentityTokenSize))
	p.Difficulty = int(bs.ReadInt(difficultyBits))
	hi := uint64(bs.ReadInt(32))
	lo := uint64(bs.ReadInt(32))
	p.Solution = hi<<32 | lo
	p.HasPublicKey = bs.ReadFlag()
	if p.HasPublicKey {
		copy(p.PublicKey[:], bs.ReadBuffer(publicKeySize))
	}
	p.InitialSendSeq = bs.ReadInt(32)
	p.ObjectClassCount = uint16(bs.ReadInt(16))
	p.EventClassCount = uint16(bs.ReadInt(16))
	n := int(bs.ReadInt(16))
	p.Payload = bs.ReadBuffer(n)
	return p, bs.Error()
}

// ConnectAccept is phase 4, host → initiator.
type ConnectAccept struct {
	ClientNonce    wire.Nonce
	ServerNonce    wire.Nonce
	InitialSendSeq uint32
	HasInitVector  bool
	InitVector     [8]byte
	Payload        []byte
}

func (p ConnectAccept) Encode() []byte {
	bs := newWriter(wire.ControlConnectAccept)
	bs.WriteBuffer(p.ClientNonce[:])
	bs.WriteBuffer(p.ServerNonce[:])
	bs.WriteInt(p.InitialSendSeq, 32)
	bs.WriteFlag(p.HasInitVector)
	if p.HasInitVector {
		bs.WriteBuffer(p.InitVector[:])
	}
	bs.WriteInt(uint32(len(p.Payload)), 16)
	bs.WriteBuffer(p.Payload)
	return bs.Bytes()
}

func DecodeConnectAccept(data []byte) (ConnectAccept, error) {
	bs := newReader(data)
	var p ConnectAccept
	copy(p.ClientNonce[:], bs.ReadBuffer(wire.NonceSize))
	copy(p.ServerNonce[:], bs.ReadBuffer(wire.NonceSize))
	p.InitialSendSeq = bs.ReadInt(32)
	p.HasInitVector = bs.ReadFlag()
	if p.HasInitVector {
		copy(p.InitVector[:], bs.ReadBuffer(8))
	}
	n := int(bs.ReadInt(16))
	p.Payload = bs.ReadBuffer(n)
	return p, bs.Error()
}

// ConnectReject is the host's rejection of a ConnectRequest. Reason
// "Puzzle" is special-cased by the initiator: it re-enters
// AwaitingChallengeResponse with a fresh client nonce instead of giving
// up.
type ConnectReject struct {
	ClientNonce wire.Nonce
	Reason      string
}

func (p ConnectReject) Encode() []byte {
	bs := newWriter(wire.ControlConnectReject)
	bs.WriteBuffer(p.ClientNonce[:])
	bs.WriteString(p.Reason)
	return bs.Bytes()
}

func DecodeConnectReject(data []byte) (ConnectReject, error) {
	bs := newReader(data)
	var p ConnectReject
	copy(p.ClientNonce[:], bs.ReadBuffer(wire.NonceSize))
	p.Reason = bs.ReadString()
	return p, bs.Error()
}

// ReasonPuzzle is the special ConnectReject reason that triggers a retry
// with a fresh client nonce rather than a terminal rejection.
const ReasonPuzzle = "Puzzle"

// Punch is the arranged-connection NAT traversal packet: each peer sends it to every candidate address
// of the other. It carries a side-dependent nonce and, when the sender
// is the eventual host, an optional public key.
type Punch struct {
	Nonce        wire.Nonce
	HasPublicKey bool
	PublicKey    [publicKeySize]byte
}

func (p Punch) Encode() []byte {
	bs := newWriter(wire.ControlPunch)
	bs.WriteBuffer(p.Nonce[:])
	bs.WriteFlag(p.HasPublicKey)
	if p.HasPublicKey {
		bs.WriteBuffer(p.PublicKey[:])
	}
	return bs.Bytes()
}

func DecodePunch(data []byte) (Punch, error) {
	bs := newReader(data)
	var p Punch
	copy(p.Nonce[:], bs.ReadBuffer(wire.NonceSize))
	p.HasPublicKey = bs.ReadFlag()
	if p.HasPublicKey {
		copy(p.PublicKey[:], bs.ReadBuffer(publicKeySize))
	}
	return p, bs.Error()
}

// ArrangedConnectRequest carries the full ConnectRequest body, encrypted
// under the pre-shared arranged secret derived at the introducer. Encryption/decryption is the caller's
// responsibility (via crypto.SymmetricCipher keyed on the arranged
// secret); this type only frames the opaque ciphertext.
type ArrangedConnectRequest struct {
	ClientNonce wire.Nonce
	Ciphertext  []byte
}

func (p ArrangedConnectRequest) Encode() []byte {
	bs := newWriter(wire.ControlArrangedConnectRequest)
	bs.WriteBuffer(p.ClientNonce[:])
	bs.WriteInt(uint32(len(p.Ciphertext)), 16)
	bs.WriteBuffer(p.Ciphertext)
	return bs.Bytes()
}

func DecodeArrangedConnectRequest(data []byte) (ArrangedConnectRequest, error) {
	bs := newReader(data)
	var p ArrangedConnectRequest
	copy(p.ClientNonce[:], bs.ReadBuffer(wire.NonceSize))
	n := int(bs.ReadInt(16))
	p.Ciphertext = bs.ReadBuffer(n)
	return p, bs.Error()
}
