package websocket

import (
	"bufio"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestComputeAcceptKeyRFCVector(t *testing.T) {
	// spec Section 8 "Handshake key derivation".
	got := computeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("computeAcceptKey: got %q, want %q", got, want)
	}
}

func TestHeaderContainsToken(t *testing.T) {
	cases := []struct {
		header, token string
		want          bool
	}{
		{"Upgrade, HTTP/2.0", "upgrade", true},
		{"keep-alive", "upgrade", false},
		{"Upgrade", "Upgrade", true},
		{" upgrade ", "UPGRADE", true},
		{"keep-alive Upgrade", "upgrade", true},
		{"keep-alive   upgrade", "upgrade", true},
	}
	for _, tc := range cases {
		if got := headerContainsToken(tc.header, tc.token); got != tc.want {
			t.Errorf("headerContainsToken(%q, %q) = %v, want %v", tc.header, tc.token, got, tc.want)
		}
	}
}

// pipeStream adapts one end of a net.Pipe to the Stream interface used in
// these handshake/session round-trip tests.
func pipeStream() (Stream, Stream) {
	a, b := net.Pipe()
	return TCPStream{a}, TCPStream{b}
}

func TestHandshakeRoundTrip(t *testing.T) {
	clientStream, serverStream := pipeStream()

	serverDone := make(chan error, 1)
	var serverSession *Session
	go func() {
		s, err := AcceptServer(serverStream, DefaultConfig(), nil)
		serverSession = s
		serverDone <- err
	}()

	cfg := DefaultConfig()
	clientSession, resp, err := DialClient(clientStream, ClientHandshakeRequest{
		URL:  "/chat",
		Host: "example.test",
	}, cfg)
	if err != nil {
		t.Fatalf("DialClient: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d, want 101", resp.StatusCode)
	}

	if err := <-serverDone; err != nil {
		t.Fatalf("AcceptServer: %v", err)
	}
	if serverSession == nil {
		t.Fatal("AcceptServer returned a nil session with no error")
	}

	if err := clientSession.WriteText("hi"); err != nil {
		t.Fatalf("client write: %v", err)
	}
	// Flush blocks until the server reads the frame off the (synchronous)
	// net.Pipe, so run it concurrently with the server's Read.
	flushDone := make(chan error, 1)
	go func() { flushDone <- clientSession.Flush() }()

	msg, err := serverSession.Read()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if err := <-flushDone; err != nil {
		t.Fatalf("client flush: %v", err)
	}
	if msg.Kind != OpcodeText || msg.Text != "hi" {
		t.Fatalf("server read = %+v, want Text(\"hi\")", msg)
	}
}

func TestAcceptServerRejectsBadVersion(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		req := "GET /chat HTTP/1.1\r\n" +
			"Host: example.test\r\n" +
			"Upgrade: websocket\r\n" +
			"Connection: Upgrade\r\n" +
			"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
			"Sec-WebSocket-Version: 99\r\n\r\n"
		_ = clientConn.SetWriteDeadline(time.Now().Add(time.Second))
		_, _ = clientConn.Write([]byte(req))
	}()

	_, err := AcceptServer(TCPStream{serverConn}, DefaultConfig(), nil)
	assertProtocolError(t, err, ProtoInvalidVersion)
}

func TestAcceptServerRejectsJunkAfterRequest(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		req := "GET /chat HTTP/1.1\r\n" +
			"Host: example.test\r\n" +
			"Upgrade: websocket\r\n" +
			"Connection: Upgrade\r\n" +
			"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
			"Sec-WebSocket-Version: 13\r\n\r\n" +
			"junk-trailing-bytes"
		_ = clientConn.SetWriteDeadline(time.Now().Add(time.Second))
		_, _ = clientConn.Write([]byte(req))
	}()

	_, err := AcceptServer(TCPStream{serverConn}, DefaultConfig(), nil)
	assertProtocolError(t, err, ProtoJunkAfterRequest)
}

func TestReadHTTPMessageAttackAttempt(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cfg := DefaultConfig()
	cfg.AttackMaxReads = 8
	cfg.AttackAvgWindowReads = 2
	cfg.AttackAvgMinBytes = 1 << 20 // unreachable by a single small drip

	go func() {
		w := bufio.NewWriter(clientConn)
		for i := 0; i < 20; i++ {
			_ = clientConn.SetWriteDeadline(time.Now().Add(time.Second))
			_, _ = w.WriteString("x")
			_ = w.Flush()
		}
	}()

	_, _, err := readHTTPMessage(TCPStream{serverConn}, cfg)
	var wsErr *Error
	if !asError(err, &wsErr) || wsErr.Kind != KindAttackAttempt {
		t.Fatalf("expected AttackAttempt, got %v", err)
	}
}
