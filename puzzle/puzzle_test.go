package puzzle

import (
	"testing"
	"time"

	"github.com/nardo/tnlgo/wire"
)

func testAddr() wire.Address {
	return wire.Address{Protocol: wire.ProtocolIPv4, Port: 1000}
}

func TestManagerValidatesFreshSolution(t *testing.T) {
	now := time.Now()
	m, err := NewManager(now)
	if err != nil {
		t.Fatal(err)
	}
	m.SetDifficulty(4)

	addr := testAddr()
	secret := []byte("server-secret")
	clientNonce, _ := wire.GenerateNonce()
	serverNonce := m.CurrentNonce()
	identity := wire.ComputeClientIdentityToken(addr, clientNonce, secret)

	solver := NewSolver(identity, clientNonce, serverNonce, m.Difficulty(), now)
	var solution uint64
	for {
		sol, done, timedOut := solver.Step(now)
		if timedOut {
			t.Fatal("solver timed out unexpectedly")
		}
		if done {
			solution = sol
			break
		}
	}

	code := m.Validate(addr, clientNonce, serverNonce, identity, m.Difficulty(), solution, secret)
	if code != Accepted {
		t.Fatalf("expected Accepted, got %v", code)
	}
}

func TestManagerRejectsReplayedSolution(t *testing.T) {
	now := time.Now()
	m, _ := NewManager(now)
	m.SetDifficulty(3)

	addr := testAddr()
	secret := []byte("secret")
	clientNonce, _ := wire.GenerateNonce()
	serverNonce := m.CurrentNonce()
	identity := wire.ComputeClientIdentityToken(addr, clientNonce, secret)

	solver := NewSolver(identity, clientNonce, serverNonce, m.Difficulty(), now)
	var solution uint64
	for {
		sol, done, _ := solver.Step(now)
		if done {
			solution = sol
			break
		}
	}

	if code := m.Validate(addr, clientNonce, serverNonce, identity, m.Difficulty(), solution, secret); code != Accepted {
		t.Fatalf("first submission should be accepted, got %v", code)
	}
	if code := m.Validate(addr, clientNonce, serverNonce, identity, m.Difficulty(), solution, secret); code == Accepted {
		t.Error("replayed (clientNonce, serverNonce) pair must not be accepted twice")
	}
}

func TestManagerRejectsWrongDifficulty(t *testing.T) {
	now := time.Now()
	m, _ := NewManager(now)
	addr := testAddr()
	clientNonce, _ := wire.GenerateNonce()
	identity := wire.ComputeClientIdentityToken(addr, clientNonce, nil)

	code := m.Validate(addr, clientNonce, m.CurrentNonce(), identity, m.Difficulty()+1, 0, nil)
	if code != InvalidPuzzleDifficulty {
		t.Errorf("expected InvalidPuzzleDifficulty, got %v", code)
	}
}

func TestManagerRejectsUnknownServerNonce(t *testing.T) {
	now := time.Now()
	m, _ := NewManager(now)
	addr := testAddr()
	clientNonce, _ := wire.GenerateNonce()
	stale, _ := wire.GenerateNonce()
	identity := wire.ComputeClientIdentityToken(addr, clientNonce, nil)

	code := m.Validate(addr, clientNonce, stale, identity, m.Difficulty(), 0, nil)
	if code != InvalidServerNonce {
		t.Errorf("expected InvalidServerNonce, got %v", code)
	}
}

func TestManagerAcceptsPreviousNonceAfterRotation(t *testing.T) {
	now := time.Now()
	m, _ := NewManager(now)
	m.SetDifficulty(3)
	addr := testAddr()
	secret := []byte("s")
	clientNonce, _ := wire.GenerateNonce()
	oldServerNonce := m.CurrentNonce()
	identity := wire.ComputeClientIdentityToken(addr, clientNonce, secret)

	solver := NewSolver(identity, clientNonce, oldServerNonce, m.Difficulty(), now)
	var solution uint64
	for {
		sol, done, _ := solver.Step(now)
		if done {
			solution = sol
			break
		}
	}

	if err := m.Tick(now.Add(PuzzleRefreshTime + time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if m.CurrentNonce().Equal(oldServerNonce) {
		t.Fatal("expected rotation to replace the current nonce")
	}

	code := m.Validate(addr, clientNonce, oldServerNonce, identity, m.Difficulty(), solution, secret)
	if code != Accepted {
		t.Errorf("expected the previous nonce to still validate, got %v", code)
	}
}

func TestSolverTimesOutAfterTotalBudget(t *testing.T) {
	now := time.Now()
	identity := wire.ClientIdentityToken{}
	cn, _ := wire.GenerateNonce()
	sn, _ := wire.GenerateNonce()
	solver := NewSolver(identity, cn, sn, MaxPuzzleDifficulty, now)

	_, done, timedOut := solver.Step(now.Add(TotalSolveTimeout + time.Millisecond))
	if done || !timedOut {
		t.Error("expected solver to report timed out past the total budget")
	}
}

func TestCheckSolutionDeterministic(t *testing.T) {
	identity := wire.ClientIdentityToken{1, 2, 3, 4}
	cn := wire.Nonce{1}
	sn := wire.Nonce{2}
	var x uint64
	for !CheckSolution(x, identity, cn, sn, 2) {
		x++
	}
	if !CheckSolution(x, identity, cn, sn, 2) {
		t.Fatal("expected deterministic recheck to agree")
	}
}
