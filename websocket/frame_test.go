package websocket

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestFrameHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		hdr     FrameHeader
		payload []byte
	}{
		{"empty-text-fin", FrameHeader{Fin: true, Opcode: OpcodeText}, nil},
		{"binary-125", FrameHeader{Fin: true, Opcode: OpcodeBinary}, make([]byte, 125)},
		{"binary-126", FrameHeader{Fin: true, Opcode: OpcodeBinary}, make([]byte, 126)},
		{"binary-65536", FrameHeader{Fin: true, Opcode: OpcodeBinary}, make([]byte, 65536)},
		{"masked-ping", FrameHeader{Fin: true, Opcode: OpcodePing, Mask: &[4]byte{1, 2, 3, 4}}, []byte("abc")},
		{"close", FrameHeader{Fin: true, Opcode: OpcodeClose}, []byte{0x03, 0xE8}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire := encodeFrame(tc.hdr, tc.payload)

			gotHdr, payloadLen, consumed, err, ok := parseFrameHeader(wire)
			if err != nil {
				t.Fatalf("parseFrameHeader: %v", err)
			}
			if !ok {
				t.Fatalf("parseFrameHeader: incomplete header on full wire buffer")
			}

			payload := append([]byte(nil), wire[consumed:consumed+int(payloadLen)]...)
			if gotHdr.Mask != nil {
				applyMask(payload, *gotHdr.Mask)
			}

			if diff := cmp.Diff(tc.hdr, gotHdr, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("header mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.payload, payload, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFrameHeaderShortRead(t *testing.T) {
	full := encodeFrame(FrameHeader{Fin: true, Opcode: OpcodeBinary}, make([]byte, 200))
	for n := 0; n < 4; n++ {
		_, _, _, err, ok := parseFrameHeader(full[:n])
		if err != nil {
			t.Fatalf("unexpected error at prefix len %d: %v", n, err)
		}
		if ok {
			t.Fatalf("parseFrameHeader reported complete at prefix len %d", n)
		}
	}
}

func TestParseFrameHeaderRejectsReservedOpcodes(t *testing.T) {
	for _, op := range []byte{0x3, 0x7, 0xB, 0xF} {
		wire := []byte{0x80 | op, 0x00}
		_, _, _, err, _ := parseFrameHeader(wire)
		if err == nil {
			t.Fatalf("opcode 0x%X: expected protocol error, got nil", op)
		}
	}
}

func TestParseFrameHeaderControlFrameTooBig(t *testing.T) {
	wire := []byte{0x80 | byte(OpcodePing), 126, 0, 126}
	_, _, _, err, _ := parseFrameHeader(wire)
	assertProtocolError(t, err, ProtoControlFrameTooBig)
}

func TestParseFrameHeaderFragmentedControlFrame(t *testing.T) {
	wire := []byte{byte(OpcodeClose), 0x00} // fin=0
	_, _, _, err, _ := parseFrameHeader(wire)
	assertProtocolError(t, err, ProtoFragmentedControlFrame)
}

func assertProtocolError(t *testing.T, err error, code ProtocolErrorCode) {
	t.Helper()
	var wsErr *Error
	if !asError(err, &wsErr) {
		t.Fatalf("expected *Error, got %v (%T)", err, err)
	}
	if wsErr.Protocol == nil || wsErr.Protocol.Code != code {
		t.Fatalf("expected protocol code %v, got %+v", code, wsErr.Protocol)
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}

func TestHeaderLenEncodingBoundaries(t *testing.T) {
	if n := headerLen(false, 125); n != 2 {
		t.Errorf("payload 125: want 2-byte header, got %d", n)
	}
	if n := headerLen(false, 126); n != 4 {
		t.Errorf("payload 126: want 4-byte header, got %d", n)
	}
	if n := headerLen(false, 65536); n != 10 {
		t.Errorf("payload 65536: want 10-byte header, got %d", n)
	}
	if n := headerLen(true, 0); n != 6 {
		t.Errorf("masked empty: want 6-byte header, got %d", n)
	}
}
