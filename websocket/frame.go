package websocket

import "encoding/binary"

// Payload length encoding thresholds (RFC 6455 Section 5.2).
const (
	payloadLen7Bit  = 125 // 0-125: stored inline in the 7-bit length field
	payloadLen16Bit = 126 // 126: followed by a 16-bit big-endian length
	payloadLen64Bit = 127 // 127: followed by a 64-bit big-endian length

	// maxControlPayload is the hard RFC ceiling on control frame payloads
	// (spec Section 3 "FrameHeader").
	maxControlPayload = 125

	// MaxHeaderSize is the largest a wire frame header can be: 2 base bytes
	// + 8 extended-length bytes + 4 mask bytes (spec Section 4.1).
	MaxHeaderSize = 14
)

// FrameHeader is the decoded form of the first 2-14 bytes of a WebSocket
// frame (spec Section 3 "FrameHeader", Section 6 bit layout).
type FrameHeader struct {
	Fin              bool
	Rsv1, Rsv2, Rsv3 bool
	Opcode           Opcode

	// Mask is nil for an unmasked frame, else the 4-byte masking key. A
	// parsed frame's Mask reflects the wire MASK bit; the session decides
	// whether that was policy-compliant for the connection's role.
	Mask *[4]byte
}

// Frame is one wire-level WebSocket frame: a header plus the (unmasked, in
// the case of a parsed frame) payload it owns (spec Section 3 "Frame").
type Frame struct {
	Header  FrameHeader
	Payload []byte
}

// headerLen returns the number of header bytes (mask, sans payload) that
// encoding a frame with this mask presence and payload length requires.
func headerLen(masked bool, payloadLen uint64) int {
	n := 2
	switch {
	case payloadLen > 0xFFFF:
		n += 8
	case payloadLen > payloadLen7Bit:
		n += 2
	}
	if masked {
		n += 4
	}
	return n
}

// parseFrameHeader attempts to decode a frame header from the prefix of buf.
// On a short read it returns ok=false without modifying any state the
// caller can observe — the frame buffer's contract (spec Section 4.1
// "restores the cursor position to its entry value and returns None") is
// satisfied by the caller never advancing past what this function reports
// consumed, since it reports nothing until parsing succeeds in full.
//
// Reserved opcode bands fail immediately with a ProtocolError carrying the
// offending nibble (spec Section 4.1); the mask bit itself is not
// policy-checked here, only decoded — the session machine enforces role
// masking policy.
func parseFrameHeader(buf []byte) (hdr FrameHeader, payloadLen uint64, consumed int, err error, ok bool) {
	if len(buf) < 2 {
		return FrameHeader{}, 0, 0, nil, false
	}

	b0, b1 := buf[0], buf[1]
	hdr = FrameHeader{
		Fin:    b0&0x80 != 0,
		Rsv1:   b0&0x40 != 0,
		Rsv2:   b0&0x20 != 0,
		Rsv3:   b0&0x10 != 0,
		Opcode: Opcode(b0 & 0x0F),
	}

	if !hdr.Opcode.valid() {
		if hdr.Opcode.IsControl() {
			return FrameHeader{}, 0, 0, errProtocol(ProtoUnknownControlOpcode, withOpcode(byte(hdr.Opcode))), true
		}
		return FrameHeader{}, 0, 0, errProtocol(ProtoUnknownDataOpcode, withOpcode(byte(hdr.Opcode))), true
	}

	masked := b1&0x80 != 0
	lenField := uint64(b1 & 0x7F)
	pos := 2

	switch lenField {
	case payloadLen16Bit:
		if len(buf) < pos+2 {
			return FrameHeader{}, 0, 0, nil, false
		}
		payloadLen = uint64(binary.BigEndian.Uint16(buf[pos:]))
		pos += 2
	case payloadLen64Bit:
		if len(buf) < pos+8 {
			return FrameHeader{}, 0, 0, nil, false
		}
		payloadLen = binary.BigEndian.Uint64(buf[pos:])
		pos += 8
	default:
		payloadLen = lenField
	}

	if hdr.Opcode.IsControl() {
		if !hdr.Fin {
			return FrameHeader{}, 0, 0, errProtocol(ProtoFragmentedControlFrame), true
		}
		if payloadLen > maxControlPayload {
			return FrameHeader{}, 0, 0, errProtocol(ProtoControlFrameTooBig, withDetail(
				"control frame payload exceeds 125 bytes")), true
		}
	}

	if masked {
		if len(buf) < pos+4 {
			return FrameHeader{}, 0, 0, nil, false
		}
		var key [4]byte
		copy(key[:], buf[pos:pos+4])
		hdr.Mask = &key
		pos += 4
	}

	return hdr, payloadLen, pos, nil, true
}

// formatFrameHeader appends the 2-14 wire header bytes for hdr/payloadLen to
// dst and returns the extended slice. The caller writes the (masked, if
// hdr.Mask is set) payload separately (spec Section 4.1 "format").
func formatFrameHeader(dst []byte, hdr FrameHeader, payloadLen uint64) []byte {
	var b0, b1 byte
	if hdr.Fin {
		b0 |= 0x80
	}
	if hdr.Rsv1 {
		b0 |= 0x40
	}
	if hdr.Rsv2 {
		b0 |= 0x20
	}
	if hdr.Rsv3 {
		b0 |= 0x10
	}
	b0 |= byte(hdr.Opcode) & 0x0F

	if hdr.Mask != nil {
		b1 |= 0x80
	}

	switch {
	case payloadLen > 0xFFFF:
		b1 |= payloadLen64Bit
	case payloadLen > payloadLen7Bit:
		b1 |= payloadLen16Bit
	default:
		b1 |= byte(payloadLen)
	}

	dst = append(dst, b0, b1)

	switch {
	case payloadLen > 0xFFFF:
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], payloadLen)
		dst = append(dst, ext[:]...)
	case payloadLen > payloadLen7Bit:
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(payloadLen))
		dst = append(dst, ext[:]...)
	}

	if hdr.Mask != nil {
		dst = append(dst, hdr.Mask[:]...)
	}

	return dst
}

// encodeFrame serializes hdr and payload into a single wire buffer,
// applying the mask (if hdr.Mask is set) to a copy of payload so the
// caller's Frame.Payload is left holding the unmasked bytes, matching the
// spec's invariant that a Frame always owns its unmasked payload
// (spec Section 3 "Frame").
func encodeFrame(hdr FrameHeader, payload []byte) []byte {
	out := formatFrameHeader(make([]byte, 0, headerLen(hdr.Mask != nil, uint64(len(payload)))+len(payload)), hdr, uint64(len(payload)))
	start := len(out)
	out = append(out, payload...)
	if hdr.Mask != nil {
		applyMask(out[start:], *hdr.Mask)
	}
	return out
}
