package handshake

import (
	"github.com/nardo/tnlgo/crypto"
	"github.com/nardo/tnlgo/puzzle"
	"github.com/nardo/tnlgo/wire"
)

// HandleChallengeRequest builds a ChallengeResponse for an incoming
// ChallengeRequest. The host allocates nothing: IdentityToken is
// recomputed fresh from clientAddr, the request's nonce, and the host's
// own secret, never stored. cert is sent only when the client asked for
// one and the host is configured with one.
func HandleChallengeRequest(req ChallengeRequest, clientAddr wire.Address, serverSecret []byte, mgr *puzzle.Manager, hostPublicKey *[32]byte, cert *crypto.Certificate) ChallengeResponse {
	resp := ChallengeResponse{
		ClientNonce:   req.ClientNonce,
		IdentityToken: wire.ComputeClientIdentityToken(clientAddr, req.ClientNonce, serverSecret),
		ServerNonce:   mgr.CurrentNonce(),
		Difficulty:    mgr.Difficulty(),
	}
	if req.WantsKeyExchange && hostPublicKey != nil {
		resp.HasPublicKey = true
		resp.PublicKey = *hostPublicKey
	}
	if req.WantsCertificate && cert != nil {
		resp.HasCertificate = true
		copy(resp.Certificate[:], cert.Encode())
	}
	return resp
}

// HandleConnectRequest checks an incoming ConnectRequest's identity token
// and puzzle solution against the host's puzzle manager, and returns
// either a ConnectAccept or a ConnectReject. A stale server nonce rejects
// with ReasonPuzzle; any other puzzle failure rejects with the failure
// code's name. Class-count negotiation is not done here (see
// NegotiateClassCount), and accept.Payload is left for the caller to fill.
func HandleConnectRequest(req ConnectRequest, clientAddr wire.Address, serverSecret []byte, mgr *puzzle.Manager, hostInitialSendSeq uint32) (accept *ConnectAccept, reject *ConnectReject) {
	wantIdentity := wire.ComputeClientIdentityToken(clientAddr, req.ClientNonce, serverSecret)
	if !wantIdentity.Equal(req.IdentityToken) {
		return nil, &ConnectReject{ClientNonce: req.ClientNonce, Reason: "Identity"}
	}

	code := mgr.Validate(clientAddr, req.ClientNonce, req.ServerNonce, req.IdentityToken, req.Difficulty, req.Solution, serverSecret)
	if code == puzzle.InvalidServerNonce {
		return nil, &ConnectReject{ClientNonce: req.ClientNonce, Reason: ReasonPuzzle}
	}
	if code != puzzle.Accepted {
		return nil, &ConnectReject{ClientNonce: req.ClientNonce, Reason: code.String()}
	}

	return &ConnectAccept{
		ClientNonce:    req.ClientNonce,
		ServerNonce:    req.ServerNonce,
		InitialSendSeq: hostInitialSendSeq,
	}, nil
}

// DeriveConnectionSecret computes the shared secret for a connection
// that exchanged Curve25519 public keys during the handshake.
func DeriveConnectionSecret(peerPublicKey, localPrivateKey [32]byte) ([32]byte, error) {
	secret, err := crypto.DeriveSharedSecret(peerPublicKey, localPrivateKey)
	if err != nil {
		return [32]byte{}, err
	}
	return secret, nil
}
