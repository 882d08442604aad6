package crypto

import (
	"bytes"
	"testing"
)

func TestSymmetricCipherRoundTrip(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i * 7)
	}

	sender := NewSymmetricCipher(key)
	receiver := NewSymmetricCipher(key)

	plaintext := []byte("connected packet payload")
	sealed := sender.Seal(42, 0x80, plaintext)

	opened, err := receiver.Open(42, 0x80, sealed)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("round trip mismatch: got %q want %q", opened, plaintext)
	}
}

func TestSymmetricCipherRejectsWrongSequence(t *testing.T) {
	var key [32]byte
	sender := NewSymmetricCipher(key)
	receiver := NewSymmetricCipher(key)

	sealed := sender.Seal(1, 0x80, []byte("hello"))
	if _, err := receiver.Open(2, 0x80, sealed); err == nil {
		t.Error("Open() with wrong sequence should fail authentication")
	}
}

func TestSymmetricCipherRejectsWrongPacketType(t *testing.T) {
	var key [32]byte
	sender := NewSymmetricCipher(key)
	receiver := NewSymmetricCipher(key)

	sealed := sender.Seal(1, 0x80, []byte("hello"))
	if _, err := receiver.Open(1, 0x00, sealed); err == nil {
		t.Error("Open() with wrong packet type should fail authentication")
	}
}
