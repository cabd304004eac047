package websocket

import "unicode/utf8"

// Message is the value Session.Read surfaces to the caller (spec Section
// 4.7 "Session state machine", "read(stream) → Message"). Exactly one of
// the accessors below is meaningful, discriminated by Kind.
type Message struct {
	Kind Opcode // OpcodeText, OpcodeBinary, OpcodePing, OpcodePong, or OpcodeClose

	// Text holds the validated UTF-8 payload when Kind == OpcodeText.
	Text string
	// Binary holds the payload when Kind == OpcodeBinary, OpcodePing, or
	// OpcodePong.
	Binary []byte
	// Close holds the (possibly synthesised) close details when
	// Kind == OpcodeClose.
	Close *CloseFrame
}

// CloseCode is the 16-bit status code carried by a Close frame (spec
// Section 3 "CloseFrame", Section 6 "Close-code registry").
type CloseCode uint16

// Protocol-defined, transmittable close codes (RFC 6455 Section 7.4.1).
const (
	CloseNormal           CloseCode = 1000
	CloseGoingAway        CloseCode = 1001
	CloseProtocolError    CloseCode = 1002
	CloseUnsupportedData  CloseCode = 1003
	CloseInvalidPayload   CloseCode = 1007
	ClosePolicyViolation  CloseCode = 1008
	CloseMessageTooBig    CloseCode = 1009
	CloseExtensionNeeded  CloseCode = 1010 // client only
	CloseInternalError    CloseCode = 1011
	CloseServiceRestart   CloseCode = 1012
	CloseTryAgainLater    CloseCode = 1013
)

// Synthetic close codes: spec Section 3 "never transmitted", used only to
// describe how a session ended to the local caller.
const (
	CloseNoStatus CloseCode = 1005
	CloseAbnormal CloseCode = 1006
	CloseTLSError CloseCode = 1015
)

// CloseFrame is the decoded or synthesised content of a Close frame (spec
// Section 3 "CloseFrame").
type CloseFrame struct {
	Code   CloseCode
	Reason string
}

// transmittable reports whether c is legal to put on the wire: the
// protocol-defined band (1000-1015 minus the three synthetic codes and the
// two reserved slots), the IANA-registered band (3000-3999), or the
// library-private band (4000-4999). Spec Section 3: "additional 'bad'
// values (0-999, 1016-2999) are rejected if received and never emitted."
func (c CloseCode) transmittable() bool {
	switch c {
	case CloseNoStatus, CloseAbnormal, CloseTLSError:
		return false
	}
	switch {
	case c >= 1000 && c <= 1003:
		return true
	case c == 1007, c == 1008, c == 1009, c == 1010, c == 1011, c == 1012, c == 1013:
		return true
	case c >= 3000 && c <= 4999:
		return true
	default:
		return false
	}
}

func encodeCloseFrame(cf CloseFrame) []byte {
	payload := make([]byte, 2+len(cf.Reason))
	payload[0] = byte(cf.Code >> 8)
	payload[1] = byte(cf.Code)
	copy(payload[2:], cf.Reason)
	return payload
}

// decodeCloseFrame parses a Close frame's payload (spec Section 3
// "CloseFrame"). An empty payload yields the synthetic CloseNoStatus.
func decodeCloseFrame(payload []byte) (CloseFrame, error) {
	if len(payload) == 0 {
		return CloseFrame{Code: CloseNoStatus}, nil
	}
	if len(payload) == 1 {
		return CloseFrame{}, errProtocol(ProtoInvalidCloseFramePayload)
	}
	code := CloseCode(uint16(payload[0])<<8 | uint16(payload[1]))
	reason := string(payload[2:])
	if !utf8.ValidString(reason) {
		return CloseFrame{}, errUTF8()
	}
	if !code.transmittable() {
		return CloseFrame{}, errProtocol(ProtoInvalidCloseFramePayload,
			withDetail("close code outside the transmittable bands"))
	}
	return CloseFrame{Code: code, Reason: reason}, nil
}
