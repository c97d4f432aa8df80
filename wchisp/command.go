package wchisp

import "encoding/binary"

// CommandKind identifies one ISP operation on the wire.
type CommandKind uint8

// ISP command kinds.
const (
	CmdIdentify    CommandKind = 0xa1
	CmdIspEnd      CommandKind = 0xa2
	CmdIspKey      CommandKind = 0xa3
	CmdErase       CommandKind = 0xa4
	CmdProgram     CommandKind = 0xa5
	CmdVerify      CommandKind = 0xa6
	CmdReadConfig  CommandKind = 0xa7
	CmdWriteConfig CommandKind = 0xa8
	CmdDataErase   CommandKind = 0xa9
	CmdDataProgram CommandKind = 0xaa
	CmdDataRead    CommandKind = 0xab
)

func (k CommandKind) valid() bool {
	return k >= CmdIdentify && k <= CmdDataRead
}

func (k CommandKind) String() string {
	switch k {
	case CmdIdentify:
		return "Identify"
	case CmdIspEnd:
		return "IspEnd"
	case CmdIspKey:
		return "IspKey"
	case CmdErase:
		return "Erase"
	case CmdProgram:
		return "Program"
	case CmdVerify:
		return "Verify"
	case CmdReadConfig:
		return "ReadConfig"
	case CmdWriteConfig:
		return "WriteConfig"
	case CmdDataErase:
		return "DataErase"
	case CmdDataProgram:
		return "DataProgram"
	case CmdDataRead:
		return "DataRead"
	default:
		return "unknown"
	}
}

// Command is one ISP request. Construct it with one of the New* helpers;
// the payload layout is fixed per kind.
type Command struct {
	Kind    CommandKind
	Payload []byte
}

// NewIdentify requests the chip identity. Both arguments are zero for the
// initial probe; the device answers with its chip id and device type.
func NewIdentify(chipID, deviceType uint8) Command {
	payload := make([]byte, 6)
	payload[0] = chipID
	payload[1] = deviceType
	return Command{Kind: CmdIdentify, Payload: payload}
}

// NewIspEnd ends the ISP session. A non-zero reset makes the bootloader
// jump into the application.
func NewIspEnd(reset uint8) Command {
	return Command{Kind: CmdIspEnd, Payload: []byte{reset}}
}

// NewIspKey sends the key seed material used for chunk obfuscation.
func NewIspKey(seed []byte) Command {
	return Command{Kind: CmdIspKey, Payload: seed}
}

// NewErase erases the given number of code flash sectors.
func NewErase(sectors uint32) Command {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, sectors)
	return Command{Kind: CmdErase, Payload: payload}
}

// NewProgram writes one obfuscated chunk at address. The padding byte is
// arbitrary filler after the address word.
func NewProgram(address uint32, padding uint8, data []byte) Command {
	return Command{Kind: CmdProgram, Payload: addressedPayload(address, padding, data)}
}

// NewVerify checks one obfuscated chunk at address against flash content.
func NewVerify(address uint32, padding uint8, data []byte) Command {
	return Command{Kind: CmdVerify, Payload: addressedPayload(address, padding, data)}
}

// NewReadConfig reads the configuration registers selected by mask.
func NewReadConfig(mask uint32) Command {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, mask)
	return Command{Kind: CmdReadConfig, Payload: payload}
}

// NewWriteConfig writes the configuration registers selected by mask.
func NewWriteConfig(mask uint32, data []byte) Command {
	payload := make([]byte, 0, 4+len(data))
	payload = binary.LittleEndian.AppendUint32(payload, mask)
	payload = append(payload, data...)
	return Command{Kind: CmdWriteConfig, Payload: payload}
}

// NewDataErase erases the given number of data flash (EEPROM) sectors.
func NewDataErase(sectors uint16) Command {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, sectors)
	return Command{Kind: CmdDataErase, Payload: payload}
}

// NewDataProgram writes one chunk of data flash at address.
func NewDataProgram(address uint32, padding uint8, data []byte) Command {
	return Command{Kind: CmdDataProgram, Payload: addressedPayload(address, padding, data)}
}

// NewDataRead reads length bytes of data flash starting at address.
func NewDataRead(address uint32, length uint16) Command {
	payload := make([]byte, 6)
	binary.LittleEndian.PutUint32(payload, address)
	binary.LittleEndian.PutUint16(payload[4:], length)
	return Command{Kind: CmdDataRead, Payload: payload}
}

func addressedPayload(address uint32, padding uint8, data []byte) []byte {
	payload := make([]byte, 0, 5+len(data))
	payload = binary.LittleEndian.AppendUint32(payload, address)
	payload = append(payload, padding)
	return append(payload, data...)
}

// encode renders the command into its wire frame:
// kind, payload length, one reserved zero byte, payload.
func (c Command) encode() []byte {
	raw := make([]byte, 0, 3+len(c.Payload))
	raw = append(raw, byte(c.Kind), byte(len(c.Payload)), 0x00)
	return append(raw, c.Payload...)
}
