package crypto

import (
	"bytes"
	"testing"
)

func TestGenerateKeyPairProducesDistinctNonZeroKeys(t *testing.T) {
	kp1, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}
	if isZeroKey(kp1.Public) || isZeroKey(kp1.Private) {
		t.Fatal("GenerateKeyPair() returned a zero key")
	}

	kp2, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}
	if bytes.Equal(kp1.Public[:], kp2.Public[:]) {
		t.Error("two GenerateKeyPair() calls produced identical public keys")
	}
}

func TestFromSecretKeyRejectsZeroKey(t *testing.T) {
	if _, err := FromSecretKey([32]byte{}); err == nil {
		t.Fatal("expected FromSecretKey(zero) to fail")
	}
}

func TestFromSecretKeyIsDeterministic(t *testing.T) {
	var secret [32]byte
	for i := range secret {
		secret[i] = byte(i + 1)
	}

	kp1, err := FromSecretKey(secret)
	if err != nil {
		t.Fatalf("FromSecretKey() error: %v", err)
	}
	kp2, err := FromSecretKey(secret)
	if err != nil {
		t.Fatalf("FromSecretKey() error: %v", err)
	}

	if !bytes.Equal(kp1.Public[:], kp2.Public[:]) {
		t.Error("FromSecretKey() derived different public keys from the same secret")
	}
	if !bytes.Equal(kp1.Private[:], secret[:]) {
		t.Error("FromSecretKey() should preserve the caller's secret key verbatim")
	}
	if isZeroKey(kp1.Public) {
		t.Error("FromSecretKey() derived a zero public key from a non-zero secret")
	}
}
