package websocket

// writeBuffer is a growable byte buffer with the two thresholds the spec
// assigns it (Section 3 "WriteBuffer"): a soft target fill (writeBufferSize)
// that triggers an opportunistic drain on every write, and a hard cap
// (maxWriteBufferSize) that refuses to enqueue more bytes at all.
type writeBuffer struct {
	buf                []byte
	writeBufferSize    int
	maxWriteBufferSize int // 0 means unlimited
}

func newWriteBuffer(writeBufferSize, maxWriteBufferSize int) *writeBuffer {
	return &writeBuffer{
		buf:                make([]byte, 0, writeBufferSize),
		writeBufferSize:    writeBufferSize,
		maxWriteBufferSize: maxWriteBufferSize,
	}
}

func (b *writeBuffer) setLimits(writeBufferSize, maxWriteBufferSize int) {
	b.writeBufferSize = writeBufferSize
	b.maxWriteBufferSize = maxWriteBufferSize
}

// Len returns the number of unflushed bytes currently buffered.
func (b *writeBuffer) Len() int { return len(b.buf) }

// wouldOverflow reports whether enqueueing n more bytes would exceed the
// hard cap.
func (b *writeBuffer) wouldOverflow(n int) bool {
	return b.maxWriteBufferSize > 0 && len(b.buf)+n > b.maxWriteBufferSize
}

// append adds bytes to the buffer. The caller must have already checked
// wouldOverflow.
func (b *writeBuffer) append(p []byte) {
	b.buf = append(b.buf, p...)
}

// shouldDrain reports whether the buffered fill has reached the soft
// target, per spec Section 4.7 write(): "if the buffered bytes exceed
// write_buffer_size, attempt to drain to the stream".
func (b *writeBuffer) shouldDrain() bool {
	return len(b.buf) >= b.writeBufferSize
}

// drain writes as much of the buffer as w accepts without blocking
// indefinitely; a short write leaves the unwritten remainder buffered. It
// returns the I/O error from the underlying writer, if any (WouldBlock is
// passed through unchanged, per spec Section 5).
func (b *writeBuffer) drain(w Stream) error {
	for len(b.buf) > 0 {
		n, err := w.Write(b.buf)
		b.buf = b.buf[n:]
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

// readBuffer is the bounded, growable, frame-yielding accumulator of spec
// Section 4.3 "Frame buffer". It owns a contiguous byte region, parks a
// parsed-but-not-yet-satisfied header between calls, and compacts consumed
// bytes out of the front periodically.
type readBuffer struct {
	buf []byte
	pos int // start of unconsumed bytes
	end int // end of valid bytes

	maxPerRead   int
	maxFrameSize *uint64 // nil means unlimited

	pending       *FrameHeader
	pendingLen    uint64
	pendingHdrLen int
}

func newReadBuffer(initialCap int, maxFrameSize *uint64) *readBuffer {
	if initialCap < MaxHeaderSize {
		initialCap = MaxHeaderSize
	}
	return &readBuffer{
		buf:          make([]byte, initialCap),
		maxPerRead:   initialCap,
		maxFrameSize: maxFrameSize,
	}
}

func (r *readBuffer) unread() []byte { return r.buf[r.pos:r.end] }

// compact discards already-consumed bytes from the front, per spec Section
// 3 "ReadBuffer" invariant: "periodic compaction discards them".
func (r *readBuffer) compact() {
	if r.pos == 0 {
		return
	}
	n := copy(r.buf, r.buf[r.pos:r.end])
	r.pos = 0
	r.end = n
}

// reserve grows buf so at least n more bytes can be appended after end,
// bounded by maxFrameSize (spec Section 4.3 step 1: "reserve capacity equal
// to the parsed length ... bounded by max_frame_size").
func (r *readBuffer) reserve(n int) error {
	if r.maxFrameSize != nil && uint64(n) > *r.maxFrameSize {
		return errCapacity(CapacityMessageTooLarge, uint64(n), *r.maxFrameSize)
	}
	r.compact()
	need := r.end + n
	if need <= len(r.buf) {
		return nil
	}
	grown := make([]byte, need)
	copy(grown, r.buf[:r.end])
	r.buf = grown
	return nil
}

// nextFrame drives one step of spec Section 4.3's three-step algorithm. It
// returns (frame, nil) when a complete frame is available, (nil, nil) when
// the stream reports WouldBlock before a frame is complete (the caller
// retries after more I/O is possible), (nil, ErrConnectionClosed) on a clean
// stream close with no header parked, and an errConnReset I/O error on a
// close with a header parked. A partial frame on a stream that does not
// report WouldBlock is completed by further reads within the same call.
func (r *readBuffer) nextFrame(stream Stream) (*Frame, error) {
	for {
		if r.pending == nil {
			hdr, payloadLen, consumed, err, ok := parseFrameHeader(r.unread())
			if err != nil {
				return nil, err
			}
			if ok {
				if err := r.reserve(int(payloadLen)); err != nil {
					return nil, err
				}
				r.pos += consumed
				h := hdr
				r.pending = &h
				r.pendingLen = payloadLen
				r.pendingHdrLen = consumed
			}
		}

		if r.pending != nil && uint64(len(r.unread())) >= r.pendingLen {
			payload := make([]byte, r.pendingLen)
			copy(payload, r.unread()[:r.pendingLen])
			r.pos += int(r.pendingLen)
			hdr := *r.pending
			r.pending = nil
			r.compact()
			return &Frame{Header: hdr, Payload: payload}, nil
		}

		wouldBlock, eof, err := r.fill(stream)
		if err != nil {
			return nil, err
		}
		if wouldBlock {
			return nil, nil
		}
		if eof {
			if r.pending != nil {
				return nil, errIO(errConnReset)
			}
			return nil, ErrConnectionClosed
		}
	}
}

// fill issues one read from stream into free tail capacity, growing the
// buffer if the tail is exhausted. Exactly one of (wouldBlock, eof, err) is
// meaningful on return: wouldBlock means "no-frame-yet" per spec Section
// 4.3 ("WouldBlock ... returns 'no-frame-yet' without error"); eof means a
// zero-byte read (the spec's "zero-byte read ... terminates read cleanly",
// or a reset if a header is parked, which the caller distinguishes); err is
// any other I/O error, already wrapped with errIO.
func (r *readBuffer) fill(stream Stream) (wouldBlock, eof bool, err error) {
	if r.end == len(r.buf) {
		r.compact()
		if r.end == len(r.buf) {
			grown := make([]byte, len(r.buf)+r.maxPerRead)
			copy(grown, r.buf)
			r.buf = grown
		}
	}

	n, rerr := stream.Read(r.buf[r.end:])
	if n > 0 {
		r.end += n
		return false, false, nil
	}
	if rerr == nil {
		return false, true, nil
	}
	if isWouldBlock(rerr) {
		return true, false, nil
	}
	if isCleanEOF(rerr) {
		return false, true, nil
	}
	return false, false, errIO(rerr)
}
