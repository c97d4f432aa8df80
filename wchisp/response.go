package wchisp

import "fmt"

const (
	// statusOK is the only status byte reported by the bootloader for a
	// successfully executed command.
	statusOK = 0x00

	// responseHeaderLen is kind, declared payload length, status and one
	// reserved byte.
	responseHeaderLen = 4
)

// Response is one decoded ISP response frame.
type Response struct {
	Kind    CommandKind
	Status  byte
	Payload []byte
}

// OK reports whether the device accepted the command.
func (r *Response) OK() bool {
	return r.Status == statusOK
}

// parseResponse decodes a raw response frame:
// kind, declared payload length, status, reserved, payload.
func parseResponse(raw []byte) (*Response, error) {
	if len(raw) < responseHeaderLen {
		return nil, fmt.Errorf("%w: got %d bytes", ErrTruncated, len(raw))
	}

	kind := CommandKind(raw[0])
	if !kind.valid() {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownKind, raw[0])
	}

	payloadLen := int(raw[1])
	status := raw[2]
	if len(raw) < responseHeaderLen+payloadLen {
		return nil, fmt.Errorf("%w: declared %d payload bytes, got %d",
			ErrTruncated, payloadLen, len(raw)-responseHeaderLen)
	}

	payload := make([]byte, payloadLen)
	copy(payload, raw[responseHeaderLen:responseHeaderLen+payloadLen])

	return &Response{
		Kind:    kind,
		Status:  status,
		Payload: payload,
	}, nil
}
