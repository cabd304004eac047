package websocket

import "unicode/utf8"

// messageAssembler is the stateful accumulator for a fragmented text or
// binary message (spec Section 3 "IncompleteMessage", Section 4.6). At most
// one exists per Session at any time (spec Section 8 invariant).
type messageAssembler struct {
	kind Opcode // OpcodeText or OpcodeBinary

	data []byte

	// utf8Pending holds at most 3 bytes of an incomplete UTF-8 code unit
	// between extends (spec Section 9 "UTF-8 streaming validation"), plus
	// how many of them are filled in.
	utf8Pending    [3]byte
	utf8PendingLen int

	maxMessageSize *uint64
}

func newMessageAssembler(kind Opcode, maxMessageSize *uint64) *messageAssembler {
	return &messageAssembler{kind: kind, maxMessageSize: maxMessageSize}
}

// extend appends the next fragment's payload, validating UTF-8 incrementally
// for text messages and enforcing max_message_size on every extend (spec
// Section 4.6: "Size check on every extend").
func (a *messageAssembler) extend(payload []byte) error {
	total := uint64(len(a.data)) + uint64(a.utf8PendingLen) + uint64(len(payload))
	if a.maxMessageSize != nil && total > *a.maxMessageSize {
		return errCapacity(CapacityMessageTooLarge, total, *a.maxMessageSize)
	}

	if a.kind != OpcodeText {
		a.data = append(a.data, payload...)
		return nil
	}

	buf := make([]byte, 0, a.utf8PendingLen+len(payload))
	buf = append(buf, a.utf8Pending[:a.utf8PendingLen]...)
	buf = append(buf, payload...)

	valid, pending, ok := splitValidUTF8Prefix(buf)
	if !ok {
		return errUTF8()
	}
	a.data = append(a.data, valid...)
	a.utf8PendingLen = copy(a.utf8Pending[:], pending)
	return nil
}

// finish completes the message, rejecting any trailing incomplete code unit
// for text messages (spec Section 4.6: "text assemblers additionally reject
// trailing incomplete code units").
func (a *messageAssembler) finish() ([]byte, error) {
	if a.kind == OpcodeText && a.utf8PendingLen != 0 {
		return nil, errUTF8()
	}
	return a.data, nil
}

// splitValidUTF8Prefix splits buf into the longest prefix that is complete,
// valid UTF-8 and the trailing bytes (0-3) of a code unit that is not yet
// complete. ok is false if buf contains a sequence that can never become
// valid UTF-8 regardless of what bytes follow.
func splitValidUTF8Prefix(buf []byte) (valid, pending []byte, ok bool) {
	n := len(buf)
	if n == 0 {
		return nil, nil, true
	}

	// Walk backward from the end to find where the last, possibly
	// incomplete, multi-byte sequence begins. At most 3 bytes can be
	// pending (a 4-byte sequence missing its last byte).
	start := n - 1
	for look := 0; look < 3 && start >= 0; look++ {
		b := buf[start]
		if b&0xC0 != 0x80 { // not a continuation byte: this is a lead byte
			break
		}
		start--
	}
	if start < 0 {
		start = 0
	}

	if seqLen := utf8LeadLen(buf[start]); seqLen > 0 && start+seqLen > n {
		// The lead byte at start promises more bytes than are available:
		// everything before it is validated now, the rest held pending.
		if !validPrefixForIncomplete(buf[start:], seqLen) {
			return nil, nil, false
		}
		if !utf8.Valid(buf[:start]) {
			return nil, nil, false
		}
		return buf[:start], buf[start:], true
	}

	if !utf8.Valid(buf) {
		return nil, nil, false
	}
	return buf, nil, true
}

// utf8LeadLen returns the total length of the UTF-8 sequence that a lead
// byte announces, or 0 if b is not a valid lead byte.
func utf8LeadLen(b byte) int {
	switch {
	case b&0x80 == 0x00:
		return 1
	case b&0xE0 == 0xC0:
		return 2
	case b&0xF0 == 0xE0:
		return 3
	case b&0xF8 == 0xF0:
		return 4
	default:
		return 0
	}
}

// validPrefixForIncomplete reports whether the bytes seen so far of an
// announced seqLen-byte sequence are plausible continuation bytes.
func validPrefixForIncomplete(partial []byte, seqLen int) bool {
	if seqLen == 1 {
		return len(partial) == 1
	}
	for i := 1; i < len(partial); i++ {
		if partial[i]&0xC0 != 0x80 {
			return false
		}
	}
	return len(partial) < seqLen
}
