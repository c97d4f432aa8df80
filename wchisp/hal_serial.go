package wchisp

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// defaultBaudRate is the rate the bootloader's UART interface comes up
// with.
const defaultBaudRate = 115200

// serialPort is the slice of serial.Port the HAL uses.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(time.Duration) error
}

// SerialDev is a HAL over a UART connection to the bootloader.
type SerialDev struct {
	port serialPort
}

// OpenSerial opens the named serial port. A baud of 0 uses the
// bootloader default of 115200.
func OpenSerial(name string, baud int) (*SerialDev, error) {
	if baud == 0 {
		baud = defaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("wchisp: open serial port %s: %w", name, err)
	}
	return &SerialDev{port: port}, nil
}

// Write sends one raw frame.
func (s *SerialDev) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// Read receives one response frame, blocking up to timeout. A timeout
// with nothing received is reported as an empty result, not an error.
//
// A UART delivers a byte stream, and bridges are free to split a frame
// across reads. Read therefore accumulates until the header plus the
// declared payload length has arrived or the deadline elapses; whatever
// arrived by then is returned for the codec to judge.
func (s *SerialDev) Read(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, responseHeaderLen+chunkSize)
	need := responseHeaderLen

	for len(buf) < need {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := s.port.SetReadTimeout(remaining); err != nil {
			return nil, fmt.Errorf("wchisp: set read timeout: %w", err)
		}

		chunk := make([]byte, 64)
		n, err := s.port.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("wchisp: serial read: %w", err)
		}
		if n == 0 {
			break
		}
		buf = append(buf, chunk[:n]...)

		if len(buf) >= responseHeaderLen {
			need = responseHeaderLen + int(buf[1])
		}
	}
	return buf, nil
}

// Close releases the port.
func (s *SerialDev) Close() error {
	return s.port.Close()
}
