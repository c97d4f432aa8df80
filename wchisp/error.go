package wchisp

import (
	"errors"
	"fmt"
)

// Protocol and transport errors.
var (
	// ErrTruncated is used when a frame is shorter than its header or its
	// declared payload length.
	ErrTruncated = errors.New("wchisp: truncated frame")

	// ErrUnknownKind is used when a frame's kind byte is not one of the
	// known command kinds.
	ErrUnknownKind = errors.New("wchisp: unknown command kind")

	// ErrIncompleteSend is used when the transport accepted fewer bytes
	// than the encoded frame.
	ErrIncompleteSend = errors.New("wchisp: incomplete send")

	// ErrNoResponse is used when nothing arrived within the receive
	// timeout.
	//
	// This is a transient condition; the whole operation may be retried.
	ErrNoResponse = errors.New("wchisp: no response within timeout")

	// ErrKindMismatch is used when a response does not echo the kind of
	// the command that was issued.
	//
	// It usually means host and device lost frame synchronization and the
	// session should be reopened.
	ErrKindMismatch = errors.New("wchisp: response kind mismatch")

	// ErrUnsupported is used when an operation is invalid for the
	// identified chip, for example data flash access on a chip without
	// EEPROM.
	ErrUnsupported = errors.New("wchisp: operation not supported by chip")
)

// DeviceError is a non-zero status byte reported by the bootloader.
type DeviceError struct {
	Op     string
	Status byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("wchisp: device rejected %s: status=0x%02x", e.Op, e.Status)
}

// VerifyError reports flash content diverging from the expected image.
//
// Address is the byte offset of the first mismatching chunk. Flashing must
// be retried from erase.
type VerifyError struct {
	Address uint32
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("wchisp: verification mismatch at address 0x%08x", e.Address)
}

// StageError tags a failure with the flashing stage it occurred in and,
// for program and verify, the byte address in progress.
type StageError struct {
	Stage   string
	Address uint32
	Err     error
}

func (e *StageError) Error() string {
	if e.Stage == "program" || e.Stage == "verify" {
		return fmt.Sprintf("wchisp: %s failed at address 0x%08x: %v", e.Stage, e.Address, e.Err)
	}
	return fmt.Sprintf("wchisp: %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

func stageAddrErr(stage string, address uint32, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Address: address, Err: err}
}
