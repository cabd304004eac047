package websocket

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // mandated by RFC 6455 Section 1.3, not used for secrecy
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode"
)

// websocketGUID is the magic constant RFC 6455 Section 1.3 concatenates
// onto Sec-WebSocket-Key before hashing.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// computeAcceptKey derives Sec-WebSocket-Accept from a client's
// Sec-WebSocket-Key (spec Section 6 "Sec-WebSocket-Accept computation").
func computeAcceptKey(key string) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// NewClientKey generates a fresh, random Sec-WebSocket-Key (RFC 6455
// Section 4.1: "a randomly selected 16-byte value that has been
// base64-encoded").
func NewClientKey() string {
	var raw [16]byte
	_, _ = rand.Read(raw[:])
	return base64.StdEncoding.EncodeToString(raw[:])
}

// headerContainsToken reports whether header contains token as one of its
// comma- or space-separated entries, case-insensitively (spec Section 4.5
// step 2: "Connection header must contain ... the token 'Upgrade'").
func headerContainsToken(header, token string) bool {
	for _, part := range strings.FieldsFunc(header, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	}) {
		if strings.EqualFold(part, token) {
			return true
		}
	}
	return false
}

// attackCounter implements spec Section 4.4's "attack check": a cheap
// byte-drip (slowloris-style) detector applied while reading the opening
// handshake's HTTP message off the wire.
type attackCounter struct {
	cfg         Config
	totalBytes  int
	totalReads  int
}

func (c *attackCounter) record(n int) error {
	c.totalBytes += n
	c.totalReads++

	if c.totalBytes > c.cfg.AttackMaxBytes {
		return errAttackAttempt(fmt.Sprintf("handshake exceeded %d bytes", c.cfg.AttackMaxBytes))
	}
	if c.totalReads > c.cfg.AttackMaxReads {
		return errAttackAttempt(fmt.Sprintf("handshake exceeded %d reads", c.cfg.AttackMaxReads))
	}
	if c.totalReads > c.cfg.AttackAvgWindowReads {
		avg := c.totalBytes / c.totalReads
		if avg < c.cfg.AttackAvgMinBytes {
			return errAttackAttempt(fmt.Sprintf("average read size %d bytes below floor of %d after %d reads", avg, c.cfg.AttackAvgMinBytes, c.totalReads))
		}
	}
	return nil
}

// readHTTPMessage implements spec Section 4.4's "Reading" sub-state: it
// accumulates bytes one stream.Read call at a time (so the attack counter
// sees real syscall-sized chunks), stopping once the header block's
// terminating CRLFCRLF has been seen. It returns the message head through
// that CRLFCRLF and, separately, every byte read past it; no body is read,
// and a Content-Length header is not consulted.
func readHTTPMessage(stream Stream, cfg Config) ([]byte, []byte, error) {
	counter := &attackCounter{cfg: cfg}
	var acc bytes.Buffer
	buf := make([]byte, 512)

	headerEnd := -1
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			if ce := counter.record(n); ce != nil {
				logger := loggerOrNop(cfg.Logger)
				logger.Warn().Err(ce).Msg("websocket: handshake attack detector tripped")
				return nil, nil, ce
			}
			headerEnd = bytes.Index(acc.Bytes(), []byte("\r\n\r\n"))
		}
		if err != nil {
			if isWouldBlock(err) {
				if headerEnd >= 0 {
					break
				}
				continue
			}
			return nil, nil, errIO(err)
		}
		if headerEnd >= 0 {
			break
		}
		if n == 0 {
			return nil, nil, errIO(errConnReset)
		}
	}

	head := acc.Bytes()[:headerEnd+4]
	tail := append([]byte(nil), acc.Bytes()[headerEnd+4:]...)
	return head, tail, nil
}

// ---- Client role (spec Section 4.5 "Client role") ----

// ClientHandshakeRequest is the caller-prepared request spec Section 4.5
// expects: the caller sets Host, optional Origin/Protocol/extra headers;
// Upgrade, Connection, Sec-WebSocket-Key, and Sec-WebSocket-Version are
// filled in by BuildClientRequest.
type ClientHandshakeRequest struct {
	URL          string // path + query, e.g. "/chat"
	Host         string
	Subprotocols []string
	Origin       string
	Header       http.Header // additional caller headers; may be nil
}

// BuildClientRequest renders req as the wire bytes of an HTTP/1.1 GET
// upgrade request (spec Section 4.5), and returns the Sec-WebSocket-Key it
// generated so the caller can later verify a server's accept value, though
// DialClient does this automatically.
func BuildClientRequest(req ClientHandshakeRequest) (wire []byte, key string) {
	key = NewClientKey()

	var b bytes.Buffer
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", req.URL)
	fmt.Fprintf(&b, "Host: %s\r\n", req.Host)
	fmt.Fprintf(&b, "Upgrade: websocket\r\n")
	fmt.Fprintf(&b, "Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Key: %s\r\n", key)
	fmt.Fprintf(&b, "Sec-WebSocket-Version: 13\r\n")
	if len(req.Subprotocols) > 0 {
		fmt.Fprintf(&b, "Sec-WebSocket-Protocol: %s\r\n", strings.Join(req.Subprotocols, ", "))
	}
	if req.Origin != "" {
		fmt.Fprintf(&b, "Origin: %s\r\n", req.Origin)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	b.WriteString("\r\n")
	return b.Bytes(), key
}

// DialClient drives spec Section 4.4's write-then-read handshake machine in
// the client role and spec Section 4.5's response validation, handing off
// to a new client-mode Session on success.
func DialClient(stream Stream, req ClientHandshakeRequest, cfg Config) (*Session, *http.Response, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	wire, key := BuildClientRequest(req)

	if err := writeAll(stream, wire); err != nil {
		return nil, nil, err
	}

	head, tail, err := readHTTPMessage(stream, cfg)
	if err != nil {
		return nil, nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(head)), nil)
	if err != nil {
		return nil, nil, errHTTPFormat(err)
	}

	if resp.StatusCode != http.StatusSwitchingProtocols {
		resp.Body = http.NoBody
		return nil, nil, errHTTP(resp)
	}
	if !headerContainsToken(resp.Header.Get("Connection"), "upgrade") {
		return nil, nil, errProtocol(ProtoMissingConnectionUpgrade)
	}
	if !strings.EqualFold(resp.Header.Get("Upgrade"), "websocket") {
		return nil, nil, errProtocol(ProtoMissingUpgradeHeader)
	}
	if resp.Header.Get("Sec-WebSocket-Accept") != computeAcceptKey(key) {
		return nil, nil, errProtocol(ProtoAcceptKeyMismatch)
	}

	got := resp.Header.Get("Sec-WebSocket-Protocol")
	switch {
	case len(req.Subprotocols) == 0 && got != "":
		return nil, nil, errProtocol(ProtoServerSentSubProtocolNoneRequested)
	case len(req.Subprotocols) > 0 && got == "":
		return nil, nil, errProtocol(ProtoNoSubProtocol)
	case len(req.Subprotocols) > 0 && !containsFold(req.Subprotocols, got):
		return nil, nil, errProtocol(ProtoInvalidSubProtocol)
	}

	sess, err := NewSession(&tailPrefixedStream{Stream: stream, prefix: tail}, RoleClient, cfg)
	if err != nil {
		return nil, nil, err
	}
	return sess, resp, nil
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// ---- Server role (spec Section 4.5 "Server role") ----

// ServerHandshakeCallback is invoked with the parsed request and a
// pre-built 101 response; it may mutate response headers (to add a
// subprotocol or extension). It rejects the upgrade by returning a non-nil
// error together with a non-2xx response, which AcceptServer writes to the
// peer before failing with a KindHTTP error; a 2xx response returned
// alongside an error fails with ProtoCustomResponseSuccessful instead. A
// response returned with a nil error replaces the 101 response and the
// upgrade proceeds (spec Section 4.5).
type ServerHandshakeCallback func(req *http.Request, resp *http.Response) (*http.Response, error)

// AcceptServer drives spec Section 4.4's read-then-write handshake machine
// in the server role and spec Section 4.5's request validation, handing off
// to a new server-mode Session on success.
func AcceptServer(stream Stream, cfg Config, cb ServerHandshakeCallback) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	head, tail, err := readHTTPMessage(stream, cfg)
	if err != nil {
		return nil, err
	}
	if len(tail) > 0 {
		return nil, errProtocol(ProtoJunkAfterRequest)
	}

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(head)))
	if err != nil {
		return nil, errHTTPFormat(err)
	}

	if req.Method != http.MethodGet {
		return nil, errProtocol(ProtoInvalidHTTPMethod)
	}
	if req.ProtoMajor < 1 || (req.ProtoMajor == 1 && req.ProtoMinor < 1) {
		return nil, errProtocol(ProtoInvalidHTTPVersion)
	}
	if !headerContainsToken(req.Header.Get("Connection"), "upgrade") {
		return nil, errProtocol(ProtoMissingConnectionUpgrade)
	}
	if !strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		return nil, errProtocol(ProtoMissingUpgradeHeader)
	}
	if req.Header.Get("Sec-WebSocket-Version") != "13" {
		return nil, errProtocol(ProtoInvalidVersion)
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, errProtocol(ProtoMissingSecWebSocketKey)
	}
	if cfg.CheckOrigin != nil && !cfg.CheckOrigin(req.Header.Get("Origin")) {
		return nil, errProtocol(ProtoCustomResponseSuccessful, withDetail("origin rejected"))
	}

	resp := &http.Response{
		StatusCode: http.StatusSwitchingProtocols,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
	}
	resp.Header.Set("Upgrade", "websocket")
	resp.Header.Set("Connection", "Upgrade")
	resp.Header.Set("Sec-WebSocket-Accept", computeAcceptKey(key))
	if cfg.Compression.Enabled && strings.Contains(strings.ToLower(req.Header.Get("Sec-WebSocket-Extensions")), "permessage-deflate") {
		resp.Header.Set("Sec-WebSocket-Extensions", negotiateDeflateHeader(cfg.Compression))
	}

	if cb != nil {
		out, cbErr := cb(req, resp)
		if cbErr != nil {
			if out != nil && out.StatusCode >= 200 && out.StatusCode < 300 {
				return nil, errProtocol(ProtoCustomResponseSuccessful)
			}
			if out != nil {
				resp = out
			}
			if err := writeHTTPResponse(stream, resp); err != nil {
				return nil, err
			}
			return nil, errHTTP(resp)
		}
		if out != nil {
			resp = out
		}
	}

	if err := writeHTTPResponse(stream, resp); err != nil {
		return nil, err
	}

	return NewSession(stream, RoleServer, cfg)
}

// negotiateDeflateHeader echoes permessage-deflate parameters symmetrically
// (spec Section 1 Non-goals: the header exchange is in scope, the deflate
// codec itself is not; SPEC_FULL "SUPPLEMENTED FEATURES").
func negotiateDeflateHeader(c CompressionConfig) string {
	parts := []string{"permessage-deflate"}
	if c.ServerNoContextTakeover {
		parts = append(parts, "server_no_context_takeover")
	}
	if c.ClientNoContextTakeover {
		parts = append(parts, "client_no_context_takeover")
	}
	if c.ServerMaxWindowBits != 0 {
		parts = append(parts, "server_max_window_bits="+strconv.Itoa(c.ServerMaxWindowBits))
	}
	if c.ClientMaxWindowBits != 0 {
		parts = append(parts, "client_max_window_bits="+strconv.Itoa(c.ClientMaxWindowBits))
	}
	return strings.Join(parts, "; ")
}

func writeHTTPResponse(stream Stream, resp *http.Response) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	_ = resp.Header.Write(&b)
	b.WriteString("\r\n")
	return writeAll(stream, b.Bytes())
}

func writeAll(stream Stream, data []byte) error {
	for len(data) > 0 {
		n, err := stream.Write(data)
		data = data[n:]
		if err != nil {
			if isWouldBlock(err) {
				continue
			}
			return errIO(err)
		}
	}
	return nil
}

// tailPrefixedStream replays any bytes the handshake's read accumulated
// past the parsed HTTP response before resuming reads from the underlying
// stream (spec Section 4.5 "On success, hand off the stream and any
// buffered tail bytes to a new Session").
type tailPrefixedStream struct {
	Stream
	prefix []byte
}

func (t *tailPrefixedStream) Read(p []byte) (int, error) {
	if len(t.prefix) > 0 {
		n := copy(p, t.prefix)
		t.prefix = t.prefix[n:]
		return n, nil
	}
	return t.Stream.Read(p)
}
