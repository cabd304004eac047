package websocket

import (
	"crypto/rand"
	"encoding/binary"
	"unsafe"
)

// applyMask XORs data in place with the 4-byte mask key, cycling the key by
// byte index modulo 4 (RFC 6455 Section 5.3). The loop is reversible:
// calling it twice with the same key restores the original bytes, which is
// what lets the codec both mask outgoing and unmask incoming payloads with
// one routine (spec Section 4.2).
//
// The unaligned head and tail are XORed byte-by-byte; the aligned middle is
// processed as 64-bit words against a mask word rotated to match the head's
// phase, which is the word-alignment the spec calls for.
func applyMask(data []byte, key [4]byte) {
	if len(data) < 8 {
		for i := range data {
			data[i] ^= key[i%4]
		}
		return
	}

	keyWord := binary.LittleEndian.Uint64([]byte{
		key[0], key[1], key[2], key[3], key[0], key[1], key[2], key[3],
	})

	// Align to an 8-byte boundary so the word loop below hits naturally
	// aligned uint64 reads; process the misaligned head byte-by-byte first,
	// rotating keyWord by the head length so the aligned loop's first byte
	// lines up with key phase head%4.
	addr := uintptr(unsafe.Pointer(&data[0]))
	head := int((8 - addr%8) % 8)
	if head > len(data) {
		head = len(data)
	}
	for i := 0; i < head; i++ {
		data[i] ^= key[i%4]
	}
	if head%4 != 0 {
		keyWord = rotateMaskWord(keyWord, head%4)
	}

	rest := data[head:]
	n := len(rest) / 8 * 8
	for i := 0; i < n; i += 8 {
		w := binary.LittleEndian.Uint64(rest[i : i+8])
		binary.LittleEndian.PutUint64(rest[i:i+8], w^keyWord)
	}

	for i := n; i < len(rest); i++ {
		rest[i] ^= key[(head+i)%4]
	}
}

// rotateMaskWord rotates the 4-byte mask pattern embedded in an 8-byte
// little-endian word so that its phase matches a stream that is `shift`
// bytes further along than the word's natural starting phase. Endianness
// matters here: applyMask loads and stores words with binary.LittleEndian
// on every machine, so the lowest-addressed byte is the low-order byte of
// the word, and a rotation that advances the *byte* position in memory
// corresponds to a right rotation of the word's bits.
func rotateMaskWord(w uint64, shift int) uint64 {
	bits := uint(shift) * 8
	return (w >> bits) | (w << (64 - bits))
}

// newMaskKey draws a 4-byte masking key from a cryptographically
// nondeterministic source. The spec requires unpredictability, not
// cryptographic strength (spec Section 4.2), but crypto/rand is the
// standard-library source the rest of this ambient stack already pulls in
// for handshake key generation, so it is reused here rather than adding a
// second PRNG dependency.
func newMaskKey() [4]byte {
	var key [4]byte
	_, _ = rand.Read(key[:])
	return key
}
