package bitstream

import (
	"math"
	"strconv"
	"testing"
)

func TestFlagRoundTrip(t *testing.T) {
	w := NewWithBuffer(make([]byte, 4))
	w.WriteFlag(true)
	w.WriteFlag(false)
	w.WriteFlag(true)
	if w.Error() != nil {
		t.Fatalf("unexpected write error: %v", w.Error())
	}

	r := NewReadWithBuffer(w.Bytes(), w.BitsWritten())
	if !r.ReadFlag() || r.ReadFlag() || !r.ReadFlag() {
		t.Fatal("flag round trip mismatch")
	}
}

func TestIntRoundTrip(t *testing.T) {
	cases := []struct {
		value uint32
		bits  int
	}{
		{0, 1}, {1, 1}, {5, 4}, {255, 8}, {1000, 16}, {0xFFFFFFFF, 32},
	}
	w := NewWithBuffer(make([]byte, 32))
	for _, c := range cases {
		w.WriteInt(c.value, c.bits)
	}
	if w.Error() != nil {
		t.Fatalf("unexpected write error: %v", w.Error())
	}
	r := NewReadWithBuffer(w.Bytes(), w.BitsWritten())
	for _, c := range cases {
		got := r.ReadInt(c.bits)
		if got != c.value {
			t.Errorf("ReadInt(%d) = %d, want %d", c.bits, got, c.value)
		}
	}
}

func TestSignedIntRoundTrip(t *testing.T) {
	values := []int32{0, 1, -1, 100, -100, 255, -255}
	w := NewWithBuffer(make([]byte, 32))
	for _, v := range values {
		w.WriteSignedInt(v, 10)
	}
	r := NewReadWithBuffer(w.Bytes(), w.BitsWritten())
	for _, v := range values {
		got := r.ReadSignedInt(10)
		if got != v {
			t.Errorf("ReadSignedInt() = %d, want %d", got, v)
		}
	}
}

func TestRangedU32RoundTrip(t *testing.T) {
	w := NewWithBuffer(make([]byte, 16))
	w.WriteRangedU32(50, 10, 100)
	w.WriteRangedU32(10, 10, 100)
	w.WriteRangedU32(100, 10, 100)
	r := NewReadWithBuffer(w.Bytes(), w.BitsWritten())
	if got := r.ReadRangedU32(10, 100); got != 50 {
		t.Errorf("got %d want 50", got)
	}
	if got := r.ReadRangedU32(10, 100); got != 10 {
		t.Errorf("got %d want 10", got)
	}
	if got := r.ReadRangedU32(10, 100); got != 100 {
		t.Errorf("got %d want 100", got)
	}
}

func TestFloatQuantizationBounded(t *testing.T) {
	w := NewWithBuffer(make([]byte, 8))
	w.WriteFloat(0.3333, 12)
	r := NewReadWithBuffer(w.Bytes(), w.BitsWritten())
	got := r.ReadFloat(12)
	if math.Abs(float64(got)-0.3333) > 1.0/4095 {
		t.Errorf("quantization error exceeds bound: got %f", got)
	}
}

func TestSignedFloatRoundTrip(t *testing.T) {
	w := NewWithBuffer(make([]byte, 8))
	w.WriteSignedFloat(-0.5, 10)
	r := NewReadWithBuffer(w.Bytes(), w.BitsWritten())
	got := r.ReadSignedFloat(10)
	if math.Abs(float64(got)-(-0.5)) > 1.0/1023 {
		t.Errorf("signed float round trip off by too much: got %f", got)
	}
}

func TestStringRoundTrip(t *testing.T) {
	w := NewWithBuffer(make([]byte, 64))
	w.WriteString("hello, TNL")
	r := NewReadWithBuffer(w.Bytes(), w.BitsWritten())
	if got := r.ReadString(); got != "hello, TNL" {
		t.Errorf("got %q want %q", got, "hello, TNL")
	}
}

func TestBufferRoundTrip(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	w := NewWithBuffer(make([]byte, 16))
	w.WriteBuffer(data)
	r := NewReadWithBuffer(w.Bytes(), w.BitsWritten())
	got := r.ReadBuffer(len(data))
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d: got %d want %d", i, got[i], data[i])
		}
	}
}

func TestOverflowSetsStickyError(t *testing.T) {
	w := NewWithBuffer(make([]byte, 1))
	w.WriteInt(0xFF, 8)
	if w.Error() != nil {
		t.Fatalf("unexpected error before overflow: %v", w.Error())
	}
	w.WriteFlag(true)
	if w.Error() != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", w.Error())
	}
}

func TestUnderrunSetsStickyError(t *testing.T) {
	r := NewReadWithBuffer([]byte{0xFF}, 4)
	r.ReadInt(4)
	if r.Error() != nil {
		t.Fatalf("unexpected error: %v", r.Error())
	}
	r.ReadInt(4)
	if r.Error() != ErrUnderrun {
		t.Errorf("expected ErrUnderrun, got %v", r.Error())
	}
}

func TestSetBitPositionRewind(t *testing.T) {
	w := NewWithBuffer(make([]byte, 8))
	w.WriteInt(1, 8)
	mark := w.BitsWritten()
	w.WriteInt(0xFF, 8)
	w.SetBitPosition(mark)
	w.WriteInt(2, 8)
	r := NewReadWithBuffer(w.Bytes(), w.BitsWritten())
	if got := r.ReadInt(8); got != 1 {
		t.Errorf("got %d want 1", got)
	}
	if got := r.ReadInt(8); got != 2 {
		t.Errorf("got %d want 2 (rewind should have overwritten the 0xFF write)", got)
	}
}

func TestStringTableConfirmationRoundTrip(t *testing.T) {
	senderTable := NewStringTable()
	receiverTable := NewStringTable()

	w := NewWithBuffer(make([]byte, 64))
	w.WriteStringTableEntry(senderTable, "alpha", 1)
	r := NewReadWithBuffer(w.Bytes(), w.BitsWritten())
	got := r.ReadStringTableEntry(receiverTable)
	if got != "alpha" {
		t.Fatalf("got %q want %q", got, "alpha")
	}

	senderTable.ConfirmPacket(1)

	w2 := NewWithBuffer(make([]byte, 64))
	w2.WriteStringTableEntry(senderTable, "alpha", 2)
	r2 := NewReadWithBuffer(w2.Bytes(), w2.BitsWritten())
	got2 := r2.ReadStringTableEntry(receiverTable)
	if got2 != "alpha" {
		t.Fatalf("got %q want %q", got2, "alpha")
	}
}

func TestStringTableEvictsLeastRecentlyUsed(t *testing.T) {
	table := NewStringTable()
	w := NewWithBuffer(make([]byte, 8*(StringTableSize+1)))
	var lastIndex int
	for i := 0; i <= StringTableSize; i++ {
		s := strconv.Itoa(i)
		idx, _ := table.intern(s)
		lastIndex = idx
	}
	if lastIndex < 0 || lastIndex >= StringTableSize {
		t.Fatalf("eviction produced out-of-range index %d", lastIndex)
	}
	// StringTableSize distinct strings fill every slot in order; one more
	// evicts the least recently used, the first string, in slot 0.
	if lastIndex != 0 {
		t.Fatalf("expected the least recently used slot 0 to be evicted, got %d", lastIndex)
	}
	_ = w
}
