package handshake

import (
	"time"

	"github.com/nardo/tnlgo/crypto"
	"github.com/nardo/tnlgo/puzzle"
	"github.com/nardo/tnlgo/wire"
)

// Phase is one state in the initiator's handshake state machine.
type Phase int

const (
	Start Phase = iota
	AwaitingChallengeResponse
	ComputingPuzzleSolution
	SendingPunchPackets
	AwaitingConnectResponse
	Connected
	Rejected
	TimedOut
	Disconnected
)

func (p Phase) String() string {
	switch p {
	case Start:
		return "Start"
	case AwaitingChallengeResponse:
		return "AwaitingChallengeResponse"
	case ComputingPuzzleSolution:
		return "ComputingPuzzleSolution"
	case SendingPunchPackets:
		return "SendingPunchPackets"
	case AwaitingConnectResponse:
		return "AwaitingConnectResponse"
	case Connected:
		return "Connected"
	case Rejected:
		return "Rejected"
	case TimedOut:
		return "TimedOut"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Retry budgets.
const (
	ChallengeRetryInterval = 2500 * time.Millisecond
	ChallengeMaxRetries    = 4
	ConnectRetryInterval   = 2500 * time.Millisecond
	ConnectMaxRetries      = 4
	PunchRetryInterval     = 2500 * time.Millisecond
	PunchMaxRetries        = 6
)

// retryTimer tracks one phase's attempt count and last-sent time.
type retryTimer struct {
	attempts int
	lastSent time.Time
}

// due reports whether interval has elapsed since the last send, and
// whether maxRetries has been exhausted.
func (r *retryTimer) due(now time.Time, interval time.Duration, maxRetries int) (shouldRetry, exhausted bool) {
	if r.attempts >= maxRetries {
		return false, true
	}
	if r.lastSent.IsZero() {
		return true, false
	}
	return now.Sub(r.lastSent) >= interval, false
}

func (r *retryTimer) recordSend(now time.Time) {
	r.attempts++
	r.lastSent = now
}

// Initiator drives the handshake state machine from the connecting
// side. The host stays stateless and is handled by the free functions in
// host.go instead of a comparable type.
type Initiator struct {
	Phase Phase

	HostAddr wire.Address
	Params   ConnectionParameters

	wantsKeyExchange bool
	wantsCertificate bool

	// TrustedAuthorityKey, when set, is the Ed25519 public key the
	// initiator requires ChallengeResponse's certificate to verify
	// against. A host certificate that fails verification, or is absent
	// when one was requested, rejects the handshake.
	TrustedAuthorityKey *[32]byte
	// CertificateVerified reports whether the host's certificate passed
	// verification against TrustedAuthorityKey.
	CertificateVerified bool

	challenge retryTimer
	connect   retryTimer
	punch     retryTimer

	solver *puzzle.Solver

	// localKeyPair is the ephemeral ECDH key pair generated in Begin when
	// wantsKeyExchange is set; remoteHostPublicKey is the host's half,
	// learned from ChallengeResponse. Both are nil on a no-crypto
	// connection.
	localKeyPair        *crypto.KeyPair
	remoteHostPublicKey *[32]byte

	// PunchCandidates lists every address to Punch when IsArranged is
	// set.
	PunchCandidates []wire.Address

	// localObjectClassCount/localEventClassCount are advertised in
	// ConnectRequest; set by the caller before calling Begin.
	LocalObjectClassCount uint16
	LocalEventClassCount  uint16
	InitialSendSeq        uint32
}

// NewInitiator creates a handshake driver targeting hostAddr.
func NewInitiator(hostAddr wire.Address, wantsKeyExchange, wantsCertificate bool) *Initiator {
	return &Initiator{
		Phase:            Start,
		HostAddr:         hostAddr,
		wantsKeyExchange: wantsKeyExchange,
		wantsCertificate: wantsCertificate,
	}
}

// Begin generates the initial client nonce and returns the first
// ChallengeRequest, entering AwaitingChallengeResponse.
func (in *Initiator) Begin(now time.Time) ([]byte, error) {
	nonce, err := wire.GenerateNonce()
	if err != nil {
		return nil, err
	}
	in.Params.Nonce = nonce
	in.Phase = AwaitingChallengeResponse
	if in.wantsKeyExchange {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		in.localKeyPair = kp
	}
	pkt := ChallengeRequest{ClientNonce: nonce, WantsKeyExchange: in.wantsKeyExchange, WantsCertificate: in.wantsCertificate}.Encode()
	in.challenge.recordSend(now)
	return pkt, nil
}

// HandleChallengeResponse processes the host's ChallengeResponse and
// begins puzzle solving. If the initiator requires a certificate
// (TrustedAuthorityKey set) and the response doesn't carry one that
// verifies, the handshake is rejected here rather than proceeding.
func (in *Initiator) HandleChallengeResponse(now time.Time, resp ChallengeResponse) {
	if in.Phase != AwaitingChallengeResponse || !resp.ClientNonce.Equal(in.Params.Nonce) {
		return
	}

	if in.TrustedAuthorityKey != nil {
		if !resp.HasCertificate {
			in.Phase = Rejected
			return
		}
		cert, err := crypto.DecodeCertificate(resp.Certificate[:])
		if err != nil {
			in.Phase = Rejected
			return
		}
		ok, err := cert.Verify(*in.TrustedAuthorityKey)
		if err != nil || !ok {
			in.Phase = Rejected
			return
		}
		in.CertificateVerified = true
	}

	in.Params.ServerNonce = resp.ServerNonce
	in.Params.ClientIdentity = resp.IdentityToken
	in.Params.PuzzleDifficulty = resp.Difficulty
	if resp.HasPublicKey && in.localKeyPair != nil {
		pub := resp.PublicKey
		in.remoteHostPublicKey = &pub
		if secret, err := DeriveConnectionSecret(pub, in.localKeyPair.Private); err == nil {
			in.Params.SharedSecret = &secret
			in.Params.SymmetricKey = secret
			in.Params.UsingCrypto = true
			// The ephemeral private key has served its one purpose; only
			// its public half is still needed, in buildConnectRequest.
			_ = crypto.WipeKeyPair(in.localKeyPair)
		}
	}
	in.Phase = ComputingPuzzleSolution
	in.solver = puzzle.NewSolver(resp.IdentityToken, in.Params.Nonce, resp.ServerNonce, resp.Difficulty, now)
}

// HandleConnectReject processes a ConnectReject. The special "Puzzle"
// reason re-enters AwaitingChallengeResponse with a fresh client nonce;
// anything else is terminal.
func (in *Initiator) HandleConnectReject(now time.Time, reject ConnectReject) ([]byte, error) {
	if reject.Reason == ReasonPuzzle {
		in.challenge = retryTimer{}
		in.connect = retryTimer{}
		return in.Begin(now)
	}
	in.Phase = Rejected
	return nil, nil
}

// HandleConnectAccept processes a ConnectAccept, transitioning to
// Connected.
func (in *Initiator) HandleConnectAccept(accept ConnectAccept) bool {
	if in.Phase != AwaitingConnectResponse || !accept.ClientNonce.Equal(in.Params.Nonce) {
		return false
	}
	in.Phase = Connected
	return true
}

// Tick advances retries and puzzle solving. It returns a packet to send
// when one is due, or ok=false if nothing needs to happen this tick.
// Reaching TimedOut is reported via the Phase field, not a return value.
func (in *Initiator) Tick(now time.Time) (packet []byte, ok bool) {
	switch in.Phase {
	case AwaitingChallengeResponse:
		shouldRetry, exhausted := in.challenge.due(now, ChallengeRetryInterval, ChallengeMaxRetries)
		if exhausted {
			in.Phase = TimedOut
			return nil, false
		}
		if !shouldRetry {
			return nil, false
		}
		in.challenge.recordSend(now)
		pkt := ChallengeRequest{ClientNonce: in.Params.Nonce, WantsKeyExchange: in.wantsKeyExchange, WantsCertificate: in.wantsCertificate}.Encode()
		return pkt, true

	case ComputingPuzzleSolution:
		solution, done, timedOut := in.solver.Step(now)
		if timedOut {
			in.Phase = TimedOut
			return nil, false
		}
		if !done {
			return nil, false
		}
		in.Params.PuzzleSolution = solution
		if in.Params.IsArranged {
			in.Phase = SendingPunchPackets
			in.punch = retryTimer{}
			return in.nextPunchPacket(now)
		}
		in.Phase = AwaitingConnectResponse
		in.connect = retryTimer{}
		in.connect.recordSend(now)
		return in.buildConnectRequest(), true

	case SendingPunchPackets:
		shouldRetry, exhausted := in.punch.due(now, PunchRetryInterval, PunchMaxRetries)
		if exhausted {
			in.Phase = TimedOut
			return nil, false
		}
		if !shouldRetry {
			return nil, false
		}
		return in.nextPunchPacket(now)

	case AwaitingConnectResponse:
		shouldRetry, exhausted := in.connect.due(now, ConnectRetryInterval, ConnectMaxRetries)
		if exhausted {
			in.Phase = TimedOut
			return nil, false
		}
		if !shouldRetry {
			return nil, false
		}
		in.connect.recordSend(now)
		return in.buildConnectRequest(), true

	default:
		return nil, false
	}
}

// AdvanceFromPunch is called once a matching Punch is received from the
// remote side, moving from SendingPunchPackets into the normal
// ConnectRequest phase.
func (in *Initiator) AdvanceFromPunch(now time.Time) []byte {
	if in.Phase != SendingPunchPackets {
		return nil
	}
	in.Phase = AwaitingConnectResponse
	in.connect = retryTimer{}
	in.connect.recordSend(now)
	return in.buildConnectRequest()
}

func (in *Initiator) nextPunchPacket(now time.Time) ([]byte, bool) {
	in.punch.recordSend(now)
	return Punch{Nonce: in.Params.Nonce}.Encode(), true
}

func (in *Initiator) buildConnectRequest() []byte {
	req := ConnectRequest{
		ClientNonce:      in.Params.Nonce,
		ServerNonce:      in.Params.ServerNonce,
		IdentityToken:    in.Params.ClientIdentity,
		Difficulty:       in.Params.PuzzleDifficulty,
		Solution:         in.Params.PuzzleSolution,
		InitialSendSeq:   in.InitialSendSeq,
		ObjectClassCount: in.LocalObjectClassCount,
		EventClassCount:  in.LocalEventClassCount,
	}
	if in.localKeyPair != nil {
		req.HasPublicKey = true
		req.PublicKey = in.localKeyPair.Public
	}
	return req.Encode()
}
