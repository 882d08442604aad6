package puzzle

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/nardo/tnlgo/wire"
)

// Per-tick solving budget.
const (
	MaxAttemptsPerTick = 50000
	MaxTimePerTick     = 30 * time.Millisecond
	TotalSolveTimeout  = 30 * time.Second
)

// hashInput lays out X ‖ identity ‖ Nc ‖ Ns for the puzzle hash.
func hashInput(x uint64, identity wire.ClientIdentityToken, clientNonce, serverNonce wire.Nonce) []byte {
	buf := make([]byte, 8+wire.IdentityTokenSize+wire.NonceSize+wire.NonceSize)
	binary.BigEndian.PutUint64(buf[0:8], x)
	offset := 8
	offset += copy(buf[offset:], identity[:])
	offset += copy(buf[offset:], clientNonce[:])
	copy(buf[offset:], serverNonce[:])
	return buf
}

// leadingZeroBits counts how many of the most significant bits of h are
// zero, capped at len(h)*8.
func leadingZeroBits(h []byte) int {
	count := 0
	for _, b := range h {
		if b == 0 {
			count += 8
			continue
		}
		for mask := byte(0x80); mask != 0 && b&mask == 0; mask >>= 1 {
			count++
		}
		break
	}
	return count
}

// CheckSolution reports whether X solves the puzzle: the high difficulty
// bits of H(X ‖ identity ‖ Nc ‖ Ns) must all be zero.
func CheckSolution(x uint64, identity wire.ClientIdentityToken, clientNonce, serverNonce wire.Nonce, difficulty int) bool {
	h := sha256.Sum256(hashInput(x, identity, clientNonce, serverNonce))
	return leadingZeroBits(h[:]) >= difficulty
}

// Solver is the initiator-side incremental puzzle search. It resumes
// across ticks from the last X tried and bounds its own work per Step
// call so a cooperative tick loop never blocks on it.
type Solver struct {
	identity    wire.ClientIdentityToken
	clientNonce wire.Nonce
	serverNonce wire.Nonce
	difficulty  int
	nextX       uint64
	startedAt   time.Time
}

// NewSolver starts a fresh search for the given puzzle parameters.
func NewSolver(identity wire.ClientIdentityToken, clientNonce, serverNonce wire.Nonce, difficulty int, now time.Time) *Solver {
	return &Solver{
		identity:    identity,
		clientNonce: clientNonce,
		serverNonce: serverNonce,
		difficulty:  difficulty,
		startedAt:   now,
	}
}

// Step runs up to MaxAttemptsPerTick hash attempts or MaxTimePerTick,
// whichever comes first. It returns the solution and done=true once
// found, or timedOut=true if the total 30 s budget has elapsed without a
// solution.
func (s *Solver) Step(now time.Time) (solution uint64, done bool, timedOut bool) {
	if now.Sub(s.startedAt) > TotalSolveTimeout {
		return 0, false, true
	}

	deadline := now.Add(MaxTimePerTick)
	for attempts := 0; attempts < MaxAttemptsPerTick; attempts++ {
		if CheckSolution(s.nextX, s.identity, s.clientNonce, s.serverNonce, s.difficulty) {
			return s.nextX, true, false
		}
		s.nextX++
		if attempts%1024 == 0 && time.Now().After(deadline) {
			break
		}
	}
	return 0, false, false
}
