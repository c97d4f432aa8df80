package wchisp

import "time"

// HAL is the transport used to exchange raw frames with a device in
// bootloader mode.
//
// The protocol is half duplex: the core writes exactly one frame and then
// reads exactly one frame. Implementations must not buffer frames across
// calls.
type HAL interface {
	// Write sends len(p) bytes to the device and returns the count sent.
	Write(p []byte) (int, error)
	// Read receives one raw frame, blocking up to timeout. An empty
	// result with a nil error means nothing arrived within the deadline.
	Read(timeout time.Duration) ([]byte, error)
}

// Configuration register masks shared by the read and write config
// commands.
const (
	// CfgMaskRDPRUserDataWPR selects the RDPR, USER, DATA and WPR
	// registers, the subset touched by the unprotect sequence.
	CfgMaskRDPRUserDataWPR uint32 = 0x07

	// CfgMaskAll selects all configuration registers, including the
	// bootloader version and chip UID trailer.
	CfgMaskAll uint32 = 0x1f
)

const (
	// defaultTimeout bounds one command round trip unless the command
	// kind has a specific entry in commandTimeouts.
	defaultTimeout = 1000 * time.Millisecond

	// defaultGracePeriod is the pause between sending a command and
	// polling for its response, giving the bootloader time to start
	// processing.
	//
	// The value is an observed heuristic, not documented by WCH. Treat a
	// change here as something to validate against hardware.
	defaultGracePeriod = 100 * time.Microsecond
)

// commandTimeouts holds per-kind response deadlines for the slow
// operations. Erase in particular blanks whole sectors and can take
// seconds on the larger parts.
var commandTimeouts = map[CommandKind]time.Duration{
	CmdErase:     5000 * time.Millisecond,
	CmdProgram:   300 * time.Millisecond,
	CmdVerify:    300 * time.Millisecond,
	CmdDataErase: 1000 * time.Millisecond,
}

// Config carries the tunables of a device connection.
type Config struct {
	// Timeout overrides the default round-trip deadline for commands
	// without a kind-specific one. Zero keeps the default of one second.
	Timeout time.Duration

	// GracePeriod is the pause between send and receive. Zero keeps the
	// default of 100µs.
	GracePeriod time.Duration

	// Debug is used for protocol traces.
	Debug Logger
}

// DefaultConfig returns the configuration used against real hardware.
func DefaultConfig() Config {
	return Config{
		Timeout:     defaultTimeout,
		GracePeriod: defaultGracePeriod,
	}
}

// timeoutFor resolves the response deadline for a command kind: the
// kind-specific entry when one exists, otherwise the configured base
// timeout.
func (c Config) timeoutFor(kind CommandKind) time.Duration {
	if t, ok := commandTimeouts[kind]; ok {
		return t
	}
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

func (c Config) gracePeriod() time.Duration {
	if c.GracePeriod > 0 {
		return c.GracePeriod
	}
	return defaultGracePeriod
}
