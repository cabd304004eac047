package websocket

import (
	"errors"
	"unicode/utf8"
)

func validTextPayload(b []byte) bool { return utf8.Valid(b) }

// errWouldBlockSentinel is wrapped into a KindIO *Error when a read would
// require blocking on a stream that has none available right now (spec
// Section 5: "WouldBlock is surfaced as an I/O error"). It intentionally
// does not satisfy net.Error/syscall matching itself; callers detect it
// with errors.Is against ErrWouldBlock.
var errWouldBlockSentinel = errors.New("websocket: read would block")

// ErrWouldBlock is the sentinel a caller compares against with errors.Is
// when Read returns without a Message because no full frame is available
// yet on a non-blocking stream.
var ErrWouldBlock = errIOWouldBlock()

func errIOWouldBlock() error { return errIO(errWouldBlockSentinel) }
