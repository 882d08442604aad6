package puzzle

import (
	"time"

	"github.com/nardo/tnlgo/wire"
)

// Tunable constants required for wire compatibility.
const (
	PuzzleRefreshTime       = 30 * time.Second
	InitialPuzzleDifficulty = 17
	MaxPuzzleDifficulty     = 26
)

// FailureCode names why a submitted puzzle solution was rejected.
type FailureCode int

const (
	Accepted FailureCode = iota
	InvalidSolution
	InvalidServerNonce
	InvalidClientNonce
	InvalidPuzzleDifficulty
)

func (f FailureCode) String() string {
	switch f {
	case Accepted:
		return "Accepted"
	case InvalidSolution:
		return "InvalidSolution"
	case InvalidServerNonce:
		return "InvalidServerNonce"
	case InvalidClientNonce:
		return "InvalidClientNonce"
	case InvalidPuzzleDifficulty:
		return "InvalidPuzzleDifficulty"
	default:
		return "Unknown"
	}
}

// nonceGeneration is one server nonce and the client nonces that have
// already redeemed a solution against it.
type nonceGeneration struct {
	nonce    wire.Nonce
	accepted map[wire.Nonce]bool
}

// Manager is the host-side ClientPuzzleManager: it holds
// the current and previous server nonce and validates submitted
// solutions against either. A solution is accepted at most once per
// (clientNonce, serverNonce) pair.
type Manager struct {
	current    nonceGeneration
	previous   nonceGeneration
	difficulty int
	lastRotate time.Time
}

// NewManager creates a manager with a freshly generated current nonce and
// the initial difficulty.
func NewManager(now time.Time) (*Manager, error) {
	n, err := wire.GenerateNonce()
	if err != nil {
		return nil, err
	}
	return &Manager{
		current:    nonceGeneration{nonce: n, accepted: make(map[wire.Nonce]bool)},
		difficulty: InitialPuzzleDifficulty,
		lastRotate: now,
	}, nil
}

// CurrentNonce is the server nonce (Ns) to publish in ChallengeResponse.
func (m *Manager) CurrentNonce() wire.Nonce { return m.current.nonce }

// Difficulty is the puzzle difficulty (k) currently published.
func (m *Manager) Difficulty() int { return m.difficulty }

// SetDifficulty raises or lowers the published difficulty, clamped to
// [InitialPuzzleDifficulty, MaxPuzzleDifficulty].
func (m *Manager) SetDifficulty(k int) {
	if k < InitialPuzzleDifficulty {
		k = InitialPuzzleDifficulty
	}
	if k > MaxPuzzleDifficulty {
		k = MaxPuzzleDifficulty
	}
	m.difficulty = k
}

// Tick rotates the current nonce into previous and generates a new
// current nonce every PuzzleRefreshTime.
func (m *Manager) Tick(now time.Time) error {
	if now.Sub(m.lastRotate) < PuzzleRefreshTime {
		return nil
	}
	n, err := wire.GenerateNonce()
	if err != nil {
		return err
	}
	m.previous = m.current
	m.current = nonceGeneration{nonce: n, accepted: make(map[wire.Nonce]bool)}
	m.lastRotate = now
	return nil
}

// generationFor returns the nonce generation matching serverNonce, or
// nil if it's neither current nor previous.
func (m *Manager) generationFor(serverNonce wire.Nonce) *nonceGeneration {
	if serverNonce.Equal(m.current.nonce) {
		return &m.current
	}
	if !m.previous.nonce.Equal(wire.Nonce{}) && serverNonce.Equal(m.previous.nonce) {
		return &m.previous
	}
	return nil
}

// Validate checks a submitted puzzle solution and, if valid, records the
// clientNonce as redeemed against that generation so it can't be
// replayed.
func (m *Manager) Validate(clientAddr wire.Address, clientNonce, serverNonce wire.Nonce, identity wire.ClientIdentityToken, difficulty int, solution uint64, serverSecret []byte) FailureCode {
	if difficulty != m.difficulty {
		return InvalidPuzzleDifficulty
	}
	gen := m.generationFor(serverNonce)
	if gen == nil {
		return InvalidServerNonce
	}

	wantIdentity := wire.ComputeClientIdentityToken(clientAddr, clientNonce, serverSecret)
	if !wantIdentity.Equal(identity) {
		return InvalidClientNonce
	}

	if gen.accepted[clientNonce] {
		return InvalidClientNonce
	}

	if !CheckSolution(solution, identity, clientNonce, serverNonce, difficulty) {
		return InvalidSolution
	}

	gen.accepted[clientNonce] = true
	return Accepted
}
