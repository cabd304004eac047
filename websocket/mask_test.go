package websocket

import (
	"bytes"
	"testing"
)

func TestApplyMaskIsReversible(t *testing.T) {
	key := [4]byte{0xDE, 0xAD, 0xBE, 0xEF}
	for _, n := range []int{0, 1, 3, 4, 7, 8, 9, 16, 17, 1000, 1003} {
		original := bytes.Repeat([]byte{0x55}, n)
		data := append([]byte(nil), original...)

		applyMask(data, key)
		if n > 0 && bytes.Equal(data, original) {
			t.Fatalf("len=%d: masking did not change data", n)
		}
		applyMask(data, key)
		if !bytes.Equal(data, original) {
			t.Fatalf("len=%d: double-masking did not restore original", n)
		}
	}
}

func TestApplyMaskMatchesNaiveXOR(t *testing.T) {
	key := [4]byte{1, 2, 3, 4}
	data := make([]byte, 257)
	for i := range data {
		data[i] = byte(i)
	}

	want := make([]byte, len(data))
	for i := range data {
		want[i] = data[i] ^ key[i%4]
	}

	got := append([]byte(nil), data...)
	applyMask(got, key)

	if !bytes.Equal(got, want) {
		t.Fatalf("applyMask diverged from naive XOR at unaligned offsets")
	}
}

func TestApplyMaskAtUnalignedOffsets(t *testing.T) {
	key := [4]byte{0x11, 0x22, 0x33, 0x44}
	base := make([]byte, 64)
	for i := range base {
		base[i] = byte(i * 7)
	}

	for off := 0; off < 8; off++ {
		buf := append([]byte(nil), base...)
		sub := buf[off:]
		want := append([]byte(nil), sub...)
		for i := range want {
			want[i] ^= key[i%4]
		}
		applyMask(sub, key)
		if !bytes.Equal(sub, want) {
			t.Fatalf("offset %d: masked bytes diverged from expected XOR", off)
		}
	}
}

func TestNewMaskKeyUnpredictable(t *testing.T) {
	a := newMaskKey()
	b := newMaskKey()
	if a == b {
		t.Fatalf("two consecutive mask keys were identical: %v", a)
	}
}
