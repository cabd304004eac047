package websocket

import "fmt"

// Default buffer sizes and limits (spec Section 3, "Configuration").
const (
	DefaultReadBufferSize  = 128 * 1024
	DefaultWriteBufferSize = 128 * 1024
	DefaultMaxMessageSize  = 64 * 1024 * 1024
	DefaultMaxFrameSize    = 16 * 1024 * 1024

	// Attack-check thresholds for the handshake's slowloris detector
	// (spec Section 4.4, Section 9 "Open question"). Kept as configurable
	// fields rather than compile-time constants, per the spec's decision.
	DefaultAttackMaxBytes       = 64 * 1024
	DefaultAttackMaxReads       = 512
	DefaultAttackAvgWindowReads = 64
	DefaultAttackAvgMinBytes    = 128
)

// CompressionConfig carries the permessage-deflate negotiation knobs (spec
// Section 3, Section 4.5, Section 6). The deflate codec itself is outside
// this package's scope (spec Section 1 Non-goals); only the opening
// handshake's header exchange is implemented. See Session.deflate in
// session.go for the extension point this leaves.
type CompressionConfig struct {
	// Enabled turns on permessage-deflate acceptance during a server-role
	// opening handshake, and lets a Session accept frames with RSV1 set. A
	// client-role handshake does not advertise the extension.
	Enabled bool

	ClientNoContextTakeover bool
	ServerNoContextTakeover bool

	// ClientMaxWindowBits and ServerMaxWindowBits are 0 when unspecified,
	// else in [8, 15].
	ClientMaxWindowBits int
	ServerMaxWindowBits int
}

// Config is the recognized set of options a Session or handshake role is
// constructed with (spec Section 3 "Configuration"). Start from
// DefaultConfig() and override fields, then call Validate(). A zero value
// passes Validate, which fills its buffer sizes and attack-check thresholds
// with the defaults but leaves MaxMessageSize and MaxFrameSize nil
// (unlimited).
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int

	// MaxWriteBufferSize is the hard cap on WriteBuffer.Len() (spec
	// Section 3, WriteBuffer). Zero means unlimited.
	MaxWriteBufferSize int

	// MaxMessageSize is nilable per the spec's Open Question decision
	// (Section 9): nil means unlimited, else the ceiling in bytes applied
	// after fragment reassembly.
	MaxMessageSize *uint64

	// MaxFrameSize is nilable; nil means unlimited. Applied to a single
	// frame's declared payload length before it is read off the wire.
	MaxFrameSize *uint64

	AcceptUnmaskedFrames bool

	Compression CompressionConfig

	AttackMaxBytes       int
	AttackMaxReads       int
	AttackAvgWindowReads int
	AttackAvgMinBytes    int

	// CheckOrigin, when set, vets the Origin header during a server-role
	// handshake (spec Section 4.5 "Server role"). nil accepts any origin.
	CheckOrigin func(origin string) bool

	// Logger receives diagnostic events (protocol violations, close
	// negotiation, attack-detector trips). nil logs nowhere.
	Logger *Logger
}

func u64(v uint64) *uint64 { return &v }

// DefaultConfig returns the spec-mandated defaults (Section 3 and Section 6
// "Configuration surface match RFC-6455 compliant behaviour").
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:       DefaultReadBufferSize,
		WriteBufferSize:      DefaultWriteBufferSize,
		MaxWriteBufferSize:   0,
		MaxMessageSize:       u64(DefaultMaxMessageSize),
		MaxFrameSize:         u64(DefaultMaxFrameSize),
		AcceptUnmaskedFrames: false,
		AttackMaxBytes:       DefaultAttackMaxBytes,
		AttackMaxReads:       DefaultAttackMaxReads,
		AttackAvgWindowReads: DefaultAttackAvgWindowReads,
		AttackAvgMinBytes:    DefaultAttackAvgMinBytes,
	}
}

// Validate asserts the configuration invariants (spec Section 3,
// "the configuration is asserted valid at construction"). It also fills in
// any zero-valued size fields with their defaults, mirroring the teacher's
// UpgradeOptions defaulting pattern (handshake.go).
func (c *Config) Validate() error {
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = DefaultWriteBufferSize
	}
	if c.AttackMaxBytes == 0 {
		c.AttackMaxBytes = DefaultAttackMaxBytes
	}
	if c.AttackMaxReads == 0 {
		c.AttackMaxReads = DefaultAttackMaxReads
	}
	if c.AttackAvgWindowReads == 0 {
		c.AttackAvgWindowReads = DefaultAttackAvgWindowReads
	}
	if c.AttackAvgMinBytes == 0 {
		c.AttackAvgMinBytes = DefaultAttackAvgMinBytes
	}
	if c.ReadBufferSize < MaxHeaderSize {
		return fmt.Errorf("websocket: read buffer size %d is smaller than the max frame header size %d", c.ReadBufferSize, MaxHeaderSize)
	}
	if c.MaxWriteBufferSize != 0 && c.MaxWriteBufferSize <= c.WriteBufferSize {
		return fmt.Errorf("websocket: max_write_buffer_size (%d) must strictly exceed write_buffer_size (%d)", c.MaxWriteBufferSize, c.WriteBufferSize)
	}
	return nil
}
