package websocket

import "errors"

// Role distinguishes a Session's side of the connection, which governs
// masking policy (spec Section 4.7, Section 8 invariants).
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// SessionState is the five-valued state machine of spec Section 3
// "SessionState" / Section 9 "Close-state double role". It is a closed,
// totally-ordered progression except for the terminal Terminated state,
// which is reachable from any other state on a fatal error.
type SessionState int

const (
	StateActive SessionState = iota
	StateClosedByUs
	StateClosedByPeer
	StateCloseAcknowledged
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosedByUs:
		return "closed-by-us"
	case StateClosedByPeer:
		return "closed-by-peer"
	case StateCloseAcknowledged:
		return "close-acknowledged"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// canRead reports whether the state still permits a meaningful read. Once
// the peer's Close has been seen (ClosedByPeer) there is nothing further to
// read: the echo has already been queued and the session is done (spec
// Section 4.7 read()).
func (s SessionState) canRead() bool {
	return s == StateActive || s == StateClosedByUs
}

// canWrite reports whether new user frames may be enqueued (spec Section
// 4.7 write(): "Refuse with AlreadyClosed if Terminated; with
// SendAfterClose if not Active").
func (s SessionState) canWrite() bool { return s == StateActive }

// Session is the message-level state machine of spec Section 4.7/4.8: it
// owns a Stream exclusively, decodes frames into Messages, automates pong
// and close-echo responses, and enforces backpressure on writes.
//
// A Session is not safe for concurrent use (spec Section 5: "concurrent
// calls to read, write, or close on the same session are undefined").
type Session struct {
	stream Stream
	role   Role
	config Config
	logger Logger

	state SessionState

	rb *readBuffer
	wb *writeBuffer

	incomplete *messageAssembler

	// additionalSend is the single auxiliary-frame slot of spec Section
	// 4.7/9: a queued Pong may be coalesced or superseded by the next Pong,
	// but never displaced once a Close echo occupies it.
	additionalSend *Frame
	unflushedAux   bool

	// auxPending holds the not-yet-written suffix of additionalSend's
	// encoded wire bytes once a partial write has begun. It must never be
	// reconstructed from additionalSend.Payload alone (that would drop the
	// bytes already committed to the wire ahead of it); once non-nil, the
	// frame it belongs to is no longer eligible for coalescing.
	auxPending []byte

	// deflate is the permessage-deflate codec extension point (spec
	// Section 1 Non-goals, SPEC_FULL "SUPPLEMENTED FEATURES"). Always nil
	// in this build; compression negotiation only exchanges headers.
	deflate any
}

// NewSession constructs a Session that has already completed its opening
// handshake and now owns stream exclusively. cfg is copied and validated.
func NewSession(stream Stream, role Role, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		stream: stream,
		role:   role,
		config: cfg,
		logger: loggerOrNop(cfg.Logger),
		state:  StateActive,
		rb:     newReadBuffer(cfg.ReadBufferSize, cfg.MaxFrameSize),
		wb:     newWriteBuffer(cfg.WriteBufferSize, cfg.MaxWriteBufferSize),
	}, nil
}

// Config returns the session's current configuration.
func (s *Session) Config() Config { return s.config }

// SetConfig re-asserts the configuration invariants and propagates the new
// write-buffer thresholds into the codec (spec Section 4.8 "set_config").
func (s *Session) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.config = cfg
	s.logger = loggerOrNop(cfg.Logger)
	s.wb.setLimits(cfg.WriteBufferSize, cfg.MaxWriteBufferSize)
	s.rb.maxFrameSize = cfg.MaxFrameSize
	return nil
}

// CanRead reports whether Read is still meaningful.
func (s *Session) CanRead() bool { return s.state.canRead() && s.state != StateTerminated }

// CanWrite reports whether Write/Send may still enqueue new frames.
func (s *Session) CanWrite() bool { return s.state.canWrite() }

// queueAux installs f in the single auxiliary slot, honoring the
// empty-or-Pong predicate (spec Section 9 "Auxiliary frame slot"): a queued
// Close must never be displaced by a later Pong, but a Pong may supersede
// an earlier, still-unsent Pong (coalescing).
func (s *Session) queueAux(f Frame) {
	if s.additionalSend != nil && (s.additionalSend.Header.Opcode != OpcodePong || s.auxPending != nil) {
		return
	}
	s.additionalSend = &f
	s.auxPending = nil
}

// drainAux flushes the auxiliary slot, if any, to the stream. The frame is
// encoded once into auxPending; a WouldBlock (or any short write) leaves
// the unwritten suffix parked there and sets the sticky unflushedAux flag
// so the next Read/Write/Flush call resumes the same bytes rather than
// re-encoding the frame from scratch (spec Section 4.7 "swallowing
// WouldBlock and setting an 'unflushed' flag").
func (s *Session) drainAux() error {
	if s.additionalSend == nil {
		return nil
	}
	if s.auxPending == nil {
		s.auxPending = encodeFrame(s.additionalSend.Header, s.additionalSend.Payload)
	}

	n, err := s.stream.Write(s.auxPending)
	s.auxPending = s.auxPending[n:]
	if err != nil {
		if isWouldBlock(err) {
			s.unflushedAux = true
			return nil
		}
		return errIO(err)
	}
	if len(s.auxPending) == 0 {
		s.additionalSend = nil
		s.auxPending = nil
		s.unflushedAux = false
	} else {
		s.unflushedAux = true
	}
	return nil
}

// outgoingMask returns the FrameHeader mask policy for an outgoing frame:
// clients always mask with a fresh random key, servers never mask (spec
// Section 4.2, Section 8 invariant).
func (s *Session) outgoingMask() *[4]byte {
	if s.role != RoleClient {
		return nil
	}
	key := newMaskKey()
	return &key
}

// buildFrame assembles a single-frame, fin=true Frame for opcode/data,
// applying this session's role mask policy.
func (s *Session) buildFrame(opcode Opcode, data []byte) Frame {
	return Frame{
		Header:  FrameHeader{Fin: true, Opcode: opcode, Mask: s.outgoingMask()},
		Payload: data,
	}
}

// Read drives spec Section 4.7's read() loop: it flushes any pending
// auxiliary frame, reads and dispatches frames (queuing pong echoes,
// driving the close handshake, reassembling fragments) until a Message is
// ready to surface.
func (s *Session) Read() (Message, error) {
	if s.state == StateTerminated {
		return Message{}, ErrAlreadyClosed
	}

	for {
		if err := s.drainAux(); err != nil {
			return Message{}, s.fail(err)
		}

		if !s.state.canRead() {
			s.state = StateTerminated
			return Message{}, ErrConnectionClosed
		}

		f, err := s.rb.nextFrame(s.stream)
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				s.logger.Debug().Str("role", roleName(s.role)).Msg("websocket: peer closed without a close frame")
				s.state = StateTerminated
				return Message{}, ErrConnectionClosed
			}
			return Message{}, s.fail(err)
		}
		if f == nil {
			// WouldBlock: no frame yet available without blocking further.
			return Message{}, errIOWouldBlock()
		}

		msg, ready, err := s.dispatch(*f)
		if err != nil {
			return Message{}, s.fail(err)
		}
		if ready {
			return msg, nil
		}
	}
}

// dispatch applies the per-opcode policy table of spec Section 4.7 to one
// received frame. ready is false when the caller's Read loop should read
// another frame (e.g. an automatically-handled control frame, or a
// non-final fragment).
func (s *Session) dispatch(f Frame) (msg Message, ready bool, err error) {
	if f.Header.Rsv1 && !s.config.Compression.Enabled {
		return Message{}, false, errProtocol(ProtoReservedBitsSet, withDetail("RSV1 set without negotiated compression"))
	}
	if f.Header.Rsv2 || f.Header.Rsv3 {
		return Message{}, false, errProtocol(ProtoReservedBitsSet)
	}

	if s.role == RoleClient && f.Header.Mask != nil {
		return Message{}, false, errProtocol(ProtoMaskedFrameFromServer)
	}
	if s.role == RoleServer && f.Header.Mask == nil && !s.config.AcceptUnmaskedFrames {
		return Message{}, false, errProtocol(ProtoUnmaskedFrameFromClient)
	}

	switch f.Header.Opcode {
	case OpcodePing:
		s.queueAux(Frame{Header: FrameHeader{Fin: true, Opcode: OpcodePong, Mask: s.outgoingMask()}, Payload: f.Payload})
		return Message{Kind: OpcodePing, Binary: f.Payload}, true, nil

	case OpcodePong:
		return Message{Kind: OpcodePong, Binary: f.Payload}, true, nil

	case OpcodeClose:
		return s.handleClose(f.Payload)

	case OpcodeText, OpcodeBinary:
		if s.incomplete != nil {
			return Message{}, false, errProtocol(ProtoExpectedFragment)
		}
		if f.Header.Fin {
			return s.finishSingleFrame(f.Header.Opcode, f.Payload)
		}
		s.incomplete = newMessageAssembler(f.Header.Opcode, s.config.MaxMessageSize)
		if err := s.incomplete.extend(f.Payload); err != nil {
			s.incomplete = nil
			return Message{}, false, err
		}
		return Message{}, false, nil

	case opcodeContinuation:
		if s.incomplete == nil {
			return Message{}, false, errProtocol(ProtoUnexpectedContinue)
		}
		if err := s.incomplete.extend(f.Payload); err != nil {
			s.incomplete = nil
			return Message{}, false, err
		}
		if !f.Header.Fin {
			return Message{}, false, nil
		}
		kind := s.incomplete.kind
		data, err := s.incomplete.finish()
		s.incomplete = nil
		if err != nil {
			return Message{}, false, err
		}
		return messageFrom(kind, data), true, nil

	default:
		return Message{}, false, errProtocol(ProtoUnknownDataOpcode, withOpcode(byte(f.Header.Opcode)))
	}
}

func (s *Session) finishSingleFrame(kind Opcode, payload []byte) (Message, bool, error) {
	if s.config.MaxMessageSize != nil && uint64(len(payload)) > *s.config.MaxMessageSize {
		return Message{}, false, errCapacity(CapacityMessageTooLarge, uint64(len(payload)), *s.config.MaxMessageSize)
	}
	if kind == OpcodeText && !validTextPayload(payload) {
		return Message{}, false, errUTF8()
	}
	return messageFrom(kind, payload), true, nil
}

func messageFrom(kind Opcode, data []byte) Message {
	if kind == OpcodeText {
		return Message{Kind: OpcodeText, Text: string(data)}
	}
	return Message{Kind: OpcodeBinary, Binary: data}
}

// handleClose implements spec Section 4.7's close-state transition table.
func (s *Session) handleClose(payload []byte) (Message, bool, error) {
	cf, decodeErr := decodeCloseFrame(payload)
	if decodeErr != nil {
		var wsErr *Error
		if errors.As(decodeErr, &wsErr) && wsErr.Kind == KindProtocol {
			cf = CloseFrame{Code: CloseProtocolError, Reason: "Protocol violation"}
		} else {
			return Message{}, false, decodeErr
		}
	}

	switch s.state {
	case StateActive:
		s.state = StateClosedByPeer
		s.logger.Debug().Uint16("code", uint16(cf.Code)).Msg("websocket: close received, queuing echo")
		echo := encodeCloseFrame(cf)
		if cf.Code == CloseNoStatus {
			// A close without a status is echoed without one; 1005 never goes on the wire.
			echo = nil
		}
		s.queueAux(Frame{Header: FrameHeader{Fin: true, Opcode: OpcodeClose, Mask: s.outgoingMask()}, Payload: echo})
		return Message{Kind: OpcodeClose, Close: &cf}, true, nil

	case StateClosedByUs:
		s.state = StateCloseAcknowledged
		s.logger.Debug().Msg("websocket: close handshake complete")
		return Message{Kind: OpcodeClose, Close: &cf}, true, nil

	case StateClosedByPeer, StateCloseAcknowledged:
		// Duplicate close: spec says no-op, do not surface again.
		return Message{}, false, nil

	default: // StateTerminated is unreachable here; Read already guards it.
		return Message{}, false, ErrAlreadyClosed
	}
}

// Write encodes a single-frame Text, Binary, or Ping message and buffers it,
// opportunistically draining to the stream once the soft fill threshold is
// reached (spec Section 4.7 "write(stream, message)").
func (s *Session) Write(kind Opcode, data []byte) error {
	if kind == OpcodeClose {
		return s.Close(&CloseFrame{Code: CloseNormal})
	}
	if kind == OpcodePong {
		return s.WritePong(data)
	}
	if s.state == StateTerminated {
		return ErrAlreadyClosed
	}
	if !s.state.canWrite() {
		return errProtocol(ProtoSendAfterClose)
	}
	if kind.IsControl() && len(data) > maxControlPayload {
		return errProtocol(ProtoControlFrameTooBig)
	}
	if kind == OpcodeText && !validTextPayload(data) {
		return errUTF8()
	}
	if err := s.drainAux(); err != nil {
		return s.fail(err)
	}

	f := s.buildFrame(kind, data)
	encoded := encodeFrame(f.Header, f.Payload)

	if s.wb.wouldOverflow(len(encoded)) {
		return ErrWriteBufferFull
	}
	s.wb.append(encoded)

	// The write buffer is not drained while an aux frame is only partly sent,
	// so its bytes never land in the middle of that frame.
	if s.additionalSend == nil && s.wb.shouldDrain() {
		if err := s.wb.drain(s.stream); err != nil && !isWouldBlock(err) {
			return s.fail(errIO(err))
		}
	}
	return nil
}

// Send writes a message and flushes it immediately, matching spec Section
// 4.8's Session I/O surface ("send (write+flush)").
func (s *Session) Send(kind Opcode, data []byte) error {
	if err := s.Write(kind, data); err != nil {
		return err
	}
	return s.Flush()
}

// WriteText is a convenience wrapper for Write(OpcodeText, ...).
func (s *Session) WriteText(text string) error { return s.Write(OpcodeText, []byte(text)) }

// WriteBinary is a convenience wrapper for Write(OpcodeBinary, ...).
func (s *Session) WriteBinary(data []byte) error { return s.Write(OpcodeBinary, data) }

// WritePing sends a ping; the peer's pong is surfaced from Read.
func (s *Session) WritePing(data []byte) error { return s.Write(OpcodePing, data) }

// WritePong queues an unsolicited pong as an auxiliary frame rather than
// blocking (spec Section 4.7 "For Pong: queue as auxiliary ... never
// block").
func (s *Session) WritePong(data []byte) error {
	if s.state == StateTerminated {
		return ErrAlreadyClosed
	}
	if !s.state.canWrite() {
		return errProtocol(ProtoSendAfterClose)
	}
	if len(data) > maxControlPayload {
		return errProtocol(ProtoControlFrameTooBig)
	}
	s.queueAux(Frame{Header: FrameHeader{Fin: true, Opcode: OpcodePong, Mask: s.outgoingMask()}, Payload: data})
	return nil
}

// Flush drains the auxiliary slot and the write buffer fully, then flushes
// the underlying stream if it supports flushing (spec Section 4.7
// "flush(stream)").
func (s *Session) Flush() error {
	if s.state == StateTerminated {
		return ErrAlreadyClosed
	}
	if err := s.drainAux(); err != nil {
		return s.fail(err)
	}
	if s.additionalSend != nil {
		// drainAux swallowed a WouldBlock partway through the aux frame;
		// the caller retries (spec Section 5: WouldBlock surfaces as an
		// I/O error, it does not fail the session).
		return errIOWouldBlock()
	}
	if err := s.wb.drain(s.stream); err != nil {
		if !isWouldBlock(err) {
			return s.fail(errIO(err))
		}
		return errIO(err)
	}
	if f, ok := s.stream.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return s.fail(errIO(err))
		}
	}
	s.unflushedAux = false
	return nil
}

// Close performs spec Section 4.7's close(stream, optional CloseFrame):
// idempotent, transitions Active to ClosedByUs and queues the outgoing
// Close frame, then always flushes. A pong whose write is already underway
// is finished first; if that write would block, Close returns the WouldBlock
// error with the state still Active, and a later call retries.
func (s *Session) Close(cf *CloseFrame) error {
	if s.state == StateTerminated {
		return ErrAlreadyClosed
	}
	if s.state == StateActive {
		if s.auxPending != nil {
			if err := s.drainAux(); err != nil {
				return s.fail(err)
			}
			if s.additionalSend != nil {
				return errIOWouldBlock()
			}
		}
		if cf == nil {
			cf = &CloseFrame{Code: CloseNormal}
		}
		if !cf.Code.transmittable() {
			cf = &CloseFrame{Code: CloseProtocolError, Reason: "Protocol violation"}
		}
		s.state = StateClosedByUs
		s.additionalSend = &Frame{
			Header:  FrameHeader{Fin: true, Opcode: OpcodeClose, Mask: s.outgoingMask()},
			Payload: encodeCloseFrame(*cf),
		}
		// A pong still waiting in the slot with no bytes sent is superseded
		// by the close frame; auxPending is already nil here.
	}
	return s.Flush()
}

// fail maps the connection-reset-after-close case to ConnectionClosed
// (spec Section 4.7 "Connection-reset detection") and otherwise terminates
// the session on any propagating error (spec Section 7: "I/O, protocol,
// and capacity errors propagate up and fail the session").
func (s *Session) fail(err error) error {
	if isConnResetError(err) && !s.state.canRead() {
		s.state = StateTerminated
		return ErrConnectionClosed
	}
	if isKind(err, KindProtocol) {
		s.logger.Warn().Str("role", roleName(s.role)).Err(err).Msg("websocket: protocol violation, failing session")
	}
	s.state = StateTerminated
	return err
}

func isConnResetError(err error) bool {
	var wsErr *Error
	if errors.As(err, &wsErr) && wsErr.Err != nil {
		return isConnReset(wsErr.Err)
	}
	return isConnReset(err)
}

func roleName(r Role) string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}
