package websocket

import "github.com/rs/zerolog"

// Logger is the diagnostic sink a Session, the opening handshake
// (DialClient/AcceptServer), or a Hub logs
// protocol violations, close negotiation, and attack-detector trips to. It
// is never used to abort a call; a library must not call os.Exit, matching
// how tzrikka-timpani's pkg/websocket/close.go treats its own *zerolog.Logger
// field as an optional collaborator rather than a control-flow dependency.
type Logger = zerolog.Logger

// loggerOrNop substitutes a nil Config.Logger with a discarding logger, so
// callers that never set it never risk writing through an unconfigured
// zerolog.Logger.
func loggerOrNop(l *Logger) Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return *l
}
