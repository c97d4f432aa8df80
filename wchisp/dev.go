package wchisp

import (
	"context"
	"fmt"
	"time"
)

// Dev is one device connection in bootloader mode.
//
// Dev performs exactly one round trip per call and never retries; retry
// policy belongs to the caller. It must not be shared between goroutines
// without external synchronization, matching the half-duplex protocol.
type Dev struct {
	hal HAL
	cfg Config
	log Logger
}

// NewDev returns a device connection using the supplied HAL for
// communication.
func NewDev(hal HAL, cfg Config) *Dev {
	d := &Dev{
		hal: hal,
		cfg: cfg,
		log: getLogger(cfg),
	}
	d.hal = &halDebug{"isp", d.log, hal}
	return d
}

// Transfer sends the command and returns its parsed response, bounded by
// the deadline for the command's kind: the kind-specific one for the slow
// operations, the configured base timeout for everything else.
func (d *Dev) Transfer(ctx context.Context, cmd Command) (*Response, error) {
	return d.TransferTimeout(ctx, cmd, d.cfg.timeoutFor(cmd.Kind))
}

// TransferTimeout sends the command and returns its parsed response,
// bounded by an explicit deadline.
//
// The response's kind must echo the command's kind; anything else is
// ErrKindMismatch and means the session is desynchronized.
func (d *Dev) TransferTimeout(ctx context.Context, cmd Command, timeout time.Duration) (*Response, error) {
	raw := cmd.encode()
	n, err := d.hal.Write(raw)
	if err != nil {
		return nil, fmt.Errorf("wchisp: send %s: %w", cmd.Kind, err)
	}
	if n != len(raw) {
		return nil, fmt.Errorf("%w: wrote %d of %d bytes", ErrIncompleteSend, n, len(raw))
	}

	// Give the bootloader a moment to start processing before polling.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(d.cfg.gracePeriod()):
	}

	buf, err := d.hal.Read(timeout)
	if err != nil {
		return nil, fmt.Errorf("wchisp: recv %s: %w", cmd.Kind, err)
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoResponse, cmd.Kind)
	}

	resp, err := parseResponse(buf)
	if err != nil {
		return nil, err
	}
	if resp.Kind != cmd.Kind {
		return nil, fmt.Errorf("%w: sent %s, got %s", ErrKindMismatch, cmd.Kind, resp.Kind)
	}
	return resp, nil
}

// Identify probes the connected chip and returns its chip id and device
// type pair.
func (d *Dev) Identify(ctx context.Context) (chipID, deviceType uint8, err error) {
	resp, err := d.Transfer(ctx, NewIdentify(0, 0))
	if err != nil {
		return 0, 0, err
	}
	if !resp.OK() {
		return 0, 0, &DeviceError{Op: "identify", Status: resp.Status}
	}
	if len(resp.Payload) < 2 {
		return 0, 0, fmt.Errorf("%w: identify payload of %d bytes", ErrTruncated, len(resp.Payload))
	}
	return resp.Payload[0], resp.Payload[1], nil
}

// ReadConfig reads the configuration registers selected by mask.
//
// A device-rejected read is returned as the response itself; callers that
// treat configuration as best-effort telemetry inspect the status byte.
func (d *Dev) ReadConfig(ctx context.Context, mask uint32) (*Response, error) {
	return d.Transfer(ctx, NewReadConfig(mask))
}

// WriteConfig writes the configuration registers selected by mask.
func (d *Dev) WriteConfig(ctx context.Context, mask uint32, data []byte) error {
	resp, err := d.Transfer(ctx, NewWriteConfig(mask, data))
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &DeviceError{Op: "write config", Status: resp.Status}
	}
	return nil
}
