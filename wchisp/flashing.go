package wchisp

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/wchisp/go-wchisp/wchisp/chipdb"
)

const (
	// chunkSize is the payload size of one Program/Verify command. Fixed
	// by the bootloader's 64-byte USB frames.
	chunkSize = 56

	// keySeedSize is the length of the all-zero seed sent with IspKey.
	// The seed is deliberately not secret; possession of the physical
	// device is the actual access control.
	keySeedSize = 0x1e
)

// Session owns one connected device from identification until release.
//
// A session has exclusive use of its transport. Methods must not be
// called concurrently; the protocol allows a single command in flight.
type Session struct {
	dev       *Dev
	chip      chipdb.Chip
	uid       []byte
	btVer     [4]byte
	protected bool
	log       Logger
	progress  ProgressFunc
}

// NewSession opens a session over the given transport: it identifies the
// chip, resolves it in the registry and reads its configuration state.
func NewSession(ctx context.Context, hal HAL, opts ...Option) (*Session, error) {
	o := sessionOptions{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	db := o.db
	if db == nil {
		var err error
		if db, err = chipdb.Default(); err != nil {
			return nil, err
		}
	}

	s := &Session{
		dev:      NewDev(hal, o.cfg),
		log:      getLogger(o.cfg),
		progress: o.progress,
	}

	chipID, deviceType, err := s.dev.Identify(ctx)
	if err != nil {
		return nil, stageErr("identify", err)
	}
	s.chip = db.Lookup(chipID, deviceType)
	s.log.Printf("identified chip: %s", s.chip)

	if err := s.readChipConfig(ctx); err != nil {
		return nil, stageErr("read config", err)
	}
	return s, nil
}

// readChipConfig captures bootloader version, protection state and chip
// UID. A device-rejected read is tolerated: configuration is telemetry,
// not required for safety.
func (s *Session) readChipConfig(ctx context.Context) error {
	resp, err := s.dev.ReadConfig(ctx, CfgMaskAll)
	if err != nil {
		return err
	}
	if !resp.OK() {
		s.log.Printf("config read rejected: status=0x%02x", resp.Status)
		return nil
	}

	p := resp.Payload
	if len(p) >= 18 {
		copy(s.btVer[:], p[14:18])
		if s.chip.SupportsCodeFlashProtect() {
			s.protected = p[2] != 0xa5
		}
		if len(p) > 18 {
			s.uid = append([]byte(nil), p[18:]...)
		}
		s.log.Printf("config: btver=%02x.%02x.%02x.%02x protected=%v",
			s.btVer[0], s.btVer[1], s.btVer[2], s.btVer[3], s.protected)
	}
	return nil
}

// Chip returns the resolved descriptor.
func (s *Session) Chip() chipdb.Chip { return s.chip }

// UID returns the raw device unique id, empty if the config read did not
// include one.
func (s *Session) UID() []byte { return append([]byte(nil), s.uid...) }

// BootloaderVersion returns the 4-byte BTVER read at open.
func (s *Session) BootloaderVersion() [4]byte { return s.btVer }

// Protected reports whether code flash was read-protected at open (or at
// the last unprotect).
func (s *Session) Protected() bool { return s.protected }

// ChipInfo returns a human readable summary of the identified device.
func (s *Session) ChipInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chip: %s\n", s.chip)
	fmt.Fprintf(&b, "Flash: %d KiB, EEPROM: %d bytes\n", s.chip.FlashSize/1024, s.chip.EEPROMSize)
	if len(s.uid) > 0 {
		parts := make([]string, len(s.uid))
		for i, x := range s.uid {
			parts[i] = fmt.Sprintf("%02X", x)
		}
		fmt.Fprintf(&b, "Chip UID: %s\n", strings.Join(parts, "-"))
	}
	fmt.Fprintf(&b, "BTVER: %02x.%02x.%02x.%02x\n", s.btVer[0], s.btVer[1], s.btVer[2], s.btVer[3])
	if s.chip.SupportsCodeFlashProtect() {
		fmt.Fprintf(&b, "Code Flash Protected: %v\n", s.protected)
	}
	return b.String()
}

// Flash writes firmware to code flash: unprotect if needed, erase enough
// sectors, negotiate the session key and program all chunks.
//
// On failure the device may be left erased but partially programmed;
// retry the whole call from erase.
func (s *Session) Flash(ctx context.Context, firmware []byte) error {
	if s.protected {
		if err := s.Unprotect(ctx); err != nil {
			return err
		}
	}

	sectors := sectorsNeeded(len(firmware), s.chip.SectorSize(), s.chip.MinEraseSectors())
	if err := s.Erase(ctx, sectors); err != nil {
		return err
	}
	if err := s.SetupKey(ctx); err != nil {
		return err
	}
	return s.Program(ctx, firmware)
}

// Unprotect clears read protection and the write-protect register.
//
// There is no partial-success state: a failed read or write aborts and
// the protection flag is left untouched.
func (s *Session) Unprotect(ctx context.Context) error {
	resp, err := s.dev.ReadConfig(ctx, CfgMaskRDPRUserDataWPR)
	if err != nil {
		return stageErr("unprotect", err)
	}
	if !resp.OK() {
		return stageErr("unprotect", &DeviceError{Op: "read config", Status: resp.Status})
	}
	if len(resp.Payload) < 14 {
		return stageErr("unprotect", fmt.Errorf("%w: config payload of %d bytes", ErrTruncated, len(resp.Payload)))
	}

	// RDPR, USER and WPR as three 4-byte registers.
	config := append([]byte(nil), resp.Payload[2:14]...)
	config[0] = 0xa5 // release read protection
	config[1] = 0x5a
	copy(config[8:12], []byte{0xff, 0xff, 0xff, 0xff}) // clear WPR

	if err := s.dev.WriteConfig(ctx, CfgMaskRDPRUserDataWPR, config); err != nil {
		return stageErr("unprotect", err)
	}
	s.protected = false
	s.log.Printf("code flash unprotected")
	return nil
}

// Erase blanks the given number of code flash sectors.
func (s *Session) Erase(ctx context.Context, sectors uint32) error {
	resp, err := s.dev.Transfer(ctx, NewErase(sectors))
	if err != nil {
		return stageErr("erase", err)
	}
	if !resp.OK() {
		return stageErr("erase", &DeviceError{Op: "erase", Status: resp.Status})
	}
	return nil
}

// SetupKey negotiates the session obfuscation key.
//
// The device derives the same key from its UID; its answer carries a one
// byte checksum of the derived key. A checksum mismatch is logged and
// tolerated: device-side derivation failure is recoverable by continuing.
func (s *Session) SetupKey(ctx context.Context) error {
	seed := make([]byte, keySeedSize)
	resp, err := s.dev.Transfer(ctx, NewIspKey(seed))
	if err != nil {
		return stageErr("key setup", err)
	}
	if !resp.OK() {
		return stageErr("key setup", &DeviceError{Op: "isp key", Status: resp.Status})
	}

	want := keyChecksum(s.xorKey())
	if len(resp.Payload) > 0 && resp.Payload[0] != want {
		s.log.Printf("isp key checksum mismatch: want 0x%02x, got 0x%02x", want, resp.Payload[0])
	}
	return nil
}

// Program writes data in obfuscated chunks followed by the terminating
// empty frame that closes the sequence.
func (s *Session) Program(ctx context.Context, data []byte) error {
	key := s.xorKey()
	address := uint32(0)
	total := len(data)

	for len(data) > 0 {
		chunk := data
		if len(chunk) > chunkSize {
			chunk = chunk[:chunkSize]
		}

		cmd := NewProgram(address, randomPadding(), xorChunk(chunk, key))
		resp, err := s.dev.Transfer(ctx, cmd)
		if err != nil {
			return stageAddrErr("program", address, err)
		}
		if !resp.OK() {
			return stageAddrErr("program", address, &DeviceError{Op: "program", Status: resp.Status})
		}

		address += uint32(len(chunk))
		data = data[len(chunk):]
		s.report("program", address, total)
	}

	// An empty frame at the final address completes the sequence.
	resp, err := s.dev.Transfer(ctx, NewProgram(address, 0, nil))
	if err != nil {
		return stageAddrErr("program", address, err)
	}
	if !resp.OK() {
		return stageAddrErr("program", address, &DeviceError{Op: "program end", Status: resp.Status})
	}
	return nil
}

// Verify checks flash content against expected, chunk by chunk. The first
// diverging chunk aborts with a VerifyError carrying its address.
func (s *Session) Verify(ctx context.Context, expected []byte) error {
	key := s.xorKey()
	address := uint32(0)
	total := len(expected)
	remaining := expected

	for len(remaining) > 0 {
		chunk := remaining
		if len(chunk) > chunkSize {
			chunk = chunk[:chunkSize]
		}

		cmd := NewVerify(address, randomPadding(), xorChunk(chunk, key))
		resp, err := s.dev.Transfer(ctx, cmd)
		if err != nil {
			return stageAddrErr("verify", address, err)
		}
		if !resp.OK() {
			return stageAddrErr("verify", address, &DeviceError{Op: "verify", Status: resp.Status})
		}
		if len(resp.Payload) > 0 && resp.Payload[0] != 0x00 {
			return &VerifyError{Address: address}
		}

		address += uint32(len(chunk))
		remaining = remaining[len(chunk):]
		s.report("verify", address, total)
	}
	return nil
}

// Reset ends the ISP session and resets the device into the application.
//
// A rejected status is tolerated; the device may already be disconnecting
// as it resets.
func (s *Session) Reset(ctx context.Context) error {
	resp, err := s.dev.Transfer(ctx, NewIspEnd(1))
	if err != nil {
		return stageErr("reset", err)
	}
	if !resp.OK() {
		s.log.Printf("reset rejected: status=0x%02x", resp.Status)
	}
	return nil
}

// EraseEEPROM blanks the chip's data flash.
func (s *Session) EraseEEPROM(ctx context.Context) error {
	if s.chip.EEPROMSize == 0 {
		return fmt.Errorf("%w: %s has no EEPROM", ErrUnsupported, s.chip.Name)
	}

	sectors := s.chip.EEPROMSize / 1024
	if sectors < 1 {
		sectors = 1
	}
	resp, err := s.dev.Transfer(ctx, NewDataErase(uint16(sectors)))
	if err != nil {
		return stageErr("data erase", err)
	}
	if !resp.OK() {
		return stageErr("data erase", &DeviceError{Op: "data erase", Status: resp.Status})
	}
	return nil
}

// ReadEEPROM reads the chip's whole data flash.
func (s *Session) ReadEEPROM(ctx context.Context) ([]byte, error) {
	if s.chip.EEPROMSize == 0 {
		return nil, fmt.Errorf("%w: %s has no EEPROM", ErrUnsupported, s.chip.Name)
	}

	out := make([]byte, 0, s.chip.EEPROMSize)
	for address := uint32(0); address < s.chip.EEPROMSize; {
		length := s.chip.EEPROMSize - address
		if length > chunkSize {
			length = chunkSize
		}

		resp, err := s.dev.Transfer(ctx, NewDataRead(address, uint16(length)))
		if err != nil {
			return nil, stageAddrErr("data read", address, err)
		}
		if !resp.OK() {
			return nil, stageAddrErr("data read", address, &DeviceError{Op: "data read", Status: resp.Status})
		}
		if len(resp.Payload) == 0 {
			return nil, stageAddrErr("data read", address, fmt.Errorf("%w: empty data read payload", ErrTruncated))
		}

		out = append(out, resp.Payload...)
		address += uint32(len(resp.Payload))
	}
	return out, nil
}

// WriteEEPROM programs the chip's data flash starting at offset zero,
// terminated like code flash with an empty frame.
func (s *Session) WriteEEPROM(ctx context.Context, data []byte) error {
	if s.chip.EEPROMSize == 0 {
		return fmt.Errorf("%w: %s has no EEPROM", ErrUnsupported, s.chip.Name)
	}
	if uint32(len(data)) > s.chip.EEPROMSize {
		return fmt.Errorf("%w: %d bytes exceed %d bytes of EEPROM", ErrUnsupported, len(data), s.chip.EEPROMSize)
	}

	address := uint32(0)
	for len(data) > 0 {
		chunk := data
		if len(chunk) > chunkSize {
			chunk = chunk[:chunkSize]
		}

		resp, err := s.dev.Transfer(ctx, NewDataProgram(address, randomPadding(), chunk))
		if err != nil {
			return stageAddrErr("data program", address, err)
		}
		if !resp.OK() {
			return stageAddrErr("data program", address, &DeviceError{Op: "data program", Status: resp.Status})
		}

		address += uint32(len(chunk))
		data = data[len(chunk):]
	}

	resp, err := s.dev.Transfer(ctx, NewDataProgram(address, 0, nil))
	if err != nil {
		return stageAddrErr("data program", address, err)
	}
	if !resp.OK() {
		return stageAddrErr("data program", address, &DeviceError{Op: "data program end", Status: resp.Status})
	}
	return nil
}

func (s *Session) report(stage string, address uint32, total int) {
	if s.progress == nil {
		return
	}
	p := Progress{
		Stage:   stage,
		Address: address,
		Written: int(address),
		Total:   total,
	}
	if total > 0 {
		p.Percentage = float64(p.Written) / float64(total) * 100
	}
	s.progress(p)
}

// xorKey derives the 8-byte session obfuscation key from the chip UID
// and chip id. It is identity-derived obfuscation, not a cipher, and is
// recomputed identically for every chunk.
func (s *Session) xorKey() [8]byte {
	return deriveXORKey(s.uid, s.chip.ChipID)
}

func deriveXORKey(uid []byte, chipID uint8) [8]byte {
	var sum uint8
	for _, b := range uid {
		sum += b
	}
	var key [8]byte
	for i := range key {
		key[i] = sum
	}
	key[7] += chipID
	return key
}

// keyChecksum is the one-byte wrapping sum of the derived key, echoed by
// the device after IspKey.
func keyChecksum(key [8]byte) uint8 {
	var sum uint8
	for _, b := range key {
		sum += b
	}
	return sum
}

// xorChunk obfuscates one chunk with the session key. XOR is involutive,
// so the same call de-obfuscates.
func xorChunk(chunk []byte, key [8]byte) []byte {
	out := make([]byte, len(chunk))
	for i, b := range chunk {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

// sectorsNeeded is the erase size for an image: enough sectors to cover
// it, never less than the chip's minimum.
func sectorsNeeded(imageLen int, sectorSize, minSectors uint32) uint32 {
	sectors := (uint32(imageLen) + sectorSize - 1) / sectorSize
	if sectors < minSectors {
		return minSectors
	}
	return sectors
}

func randomPadding() uint8 {
	return uint8(rand.Intn(256))
}
