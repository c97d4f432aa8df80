package wchisp

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice simulates a chip in bootloader mode behind the HAL. It
// decodes each written frame, records it and queues the matching
// response.
type fakeDevice struct {
	chipID     uint8
	deviceType uint8
	uid        []byte
	protected  bool

	// rejectKind, when set, makes that command fail with rejectStatus.
	rejectKind   CommandKind
	rejectStatus byte

	// wrongKeyChecksum makes the IspKey answer carry a bogus checksum.
	wrongKeyChecksum bool

	// badVerifyAddr marks one chunk address as diverging.
	badVerifyAddr uint32
	badVerify     bool

	got          []Command
	readDeadline time.Duration
	pending      []byte
}

func (f *fakeDevice) Write(p []byte) (int, error) {
	kind := CommandKind(p[0])
	payload := append([]byte(nil), p[3:3+int(p[1])]...)
	f.got = append(f.got, Command{Kind: kind, Payload: payload})
	f.pending = f.respond(kind, payload)
	return len(p), nil
}

func (f *fakeDevice) Read(timeout time.Duration) ([]byte, error) {
	f.readDeadline = timeout
	b := f.pending
	f.pending = nil
	return b, nil
}

func (f *fakeDevice) respond(kind CommandKind, payload []byte) []byte {
	if kind == f.rejectKind && f.rejectKind != 0 {
		return frame(kind, f.rejectStatus, nil)
	}

	switch kind {
	case CmdIdentify:
		return frame(kind, 0, []byte{f.chipID, f.deviceType})

	case CmdReadConfig:
		p := make([]byte, 18+len(f.uid))
		if f.protected {
			p[2] = 0x40
		} else {
			p[2] = 0xa5
		}
		copy(p[14:18], []byte{0x00, 0x02, 0x03, 0x01})
		copy(p[18:], f.uid)
		return frame(kind, 0, p)

	case CmdWriteConfig:
		// mask + 12 config bytes; the unlock pattern clears protection.
		if len(payload) >= 6 && payload[4] == 0xa5 && payload[5] == 0x5a {
			f.protected = false
		}
		return frame(kind, 0, nil)

	case CmdIspKey:
		sum := keyChecksum(deriveXORKey(f.uid, f.chipID))
		if f.wrongKeyChecksum {
			sum++
		}
		return frame(kind, 0, []byte{sum})

	case CmdVerify:
		addr := binary.LittleEndian.Uint32(payload[:4])
		if f.badVerify && addr == f.badVerifyAddr {
			return frame(kind, 0, []byte{0x01})
		}
		return frame(kind, 0, []byte{0x00})

	case CmdDataRead:
		length := binary.LittleEndian.Uint16(payload[4:6])
		data := bytes.Repeat([]byte{0xff}, int(length))
		return frame(kind, 0, data)

	default:
		return frame(kind, 0, nil)
	}
}

func frame(kind CommandKind, status byte, payload []byte) []byte {
	raw := append([]byte{byte(kind), byte(len(payload)), status, 0x00}, payload...)
	return raw
}

func (f *fakeDevice) kinds() []CommandKind {
	out := make([]CommandKind, len(f.got))
	for i, c := range f.got {
		out[i] = c.Kind
	}
	return out
}

func (f *fakeDevice) ofKind(kind CommandKind) []Command {
	var out []Command
	for _, c := range f.got {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func newCH32V307(protected bool) *fakeDevice {
	return &fakeDevice{
		chipID:     0x70,
		deviceType: 0x17,
		uid:        []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		protected:  protected,
	}
}

func openSession(t *testing.T, f *fakeDevice, opts ...Option) *Session {
	t.Helper()
	opts = append(opts, WithGracePeriod(time.Nanosecond))
	s, err := NewSession(context.Background(), f, opts...)
	require.NoError(t, err)
	return s
}

func TestXORKeyInvolutive(t *testing.T) {
	key := deriveXORKey([]byte{0xde, 0xad, 0xbe, 0xef}, 0x70)
	chunk := []byte("some firmware bytes, longer than the key")

	enc := xorChunk(chunk, key)
	assert.NotEqual(t, chunk, enc)
	assert.Equal(t, chunk, xorChunk(enc, key))
}

func TestXORKeyDerivation(t *testing.T) {
	uid := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	key := deriveXORKey(uid, 0x70)

	// Wrapping sum of the UID replicated over the key, chip id folded
	// into the last byte.
	var sum uint8
	for _, b := range uid {
		sum += b
	}
	for i := 0; i < 7; i++ {
		assert.Equal(t, sum, key[i])
	}
	assert.Equal(t, sum+0x70, key[7])
}

func TestSectorsNeeded(t *testing.T) {
	testCases := []struct {
		imageLen   int
		sectorSize uint32
		minSectors uint32
		want       uint32
	}{
		{0, 1024, 1, 1},
		{1, 1024, 1, 1},
		{1024, 1024, 1, 1},
		{1025, 1024, 1, 2},
		{2048, 1024, 1, 2},
		{100, 1024, 8, 8},
		{16384, 1024, 8, 16},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, sectorsNeeded(tc.imageLen, tc.sectorSize, tc.minSectors),
			"imageLen=%d", tc.imageLen)
	}
}

func TestProgramChunking(t *testing.T) {
	f := newCH32V307(false)
	s := openSession(t, f)

	data := bytes.Repeat([]byte{0x5a}, 130)
	require.NoError(t, s.Program(context.Background(), data))

	progs := f.ofKind(CmdProgram)
	require.Len(t, progs, 4, "3 chunks plus terminator")

	// Address word, padding byte, then the chunk.
	assert.Len(t, progs[0].Payload, 5+56)
	assert.Len(t, progs[1].Payload, 5+56)
	assert.Len(t, progs[2].Payload, 5+18)
	assert.Len(t, progs[3].Payload, 5, "terminator carries no data")

	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(progs[0].Payload[:4]))
	assert.Equal(t, uint32(56), binary.LittleEndian.Uint32(progs[1].Payload[:4]))
	assert.Equal(t, uint32(112), binary.LittleEndian.Uint32(progs[2].Payload[:4]))
	assert.Equal(t, uint32(130), binary.LittleEndian.Uint32(progs[3].Payload[:4]))

	// Chunks go out obfuscated with the session key.
	key := deriveXORKey(f.uid, f.chipID)
	assert.Equal(t, data[:56], xorChunk(progs[0].Payload[5:], key))
}

func TestFlashEndToEnd(t *testing.T) {
	f := newCH32V307(true)
	var progress []Progress
	s := openSession(t, f, WithProgress(func(p Progress) {
		progress = append(progress, p)
	}))

	assert.Equal(t, "CH32V307VCT6", s.Chip().Name)
	assert.Equal(t, uint32(256*1024), s.Chip().FlashSize)
	assert.True(t, s.Protected())
	assert.Equal(t, [4]byte{0x00, 0x02, 0x03, 0x01}, s.BootloaderVersion())
	assert.Equal(t, f.uid, s.UID())

	firmware := bytes.Repeat([]byte{0xaa}, 100)
	require.NoError(t, s.Flash(context.Background(), firmware))
	assert.False(t, s.Protected())

	// Unprotect runs before erase: read config, write config, then the
	// erase/key/program tail.
	kinds := f.kinds()
	require.GreaterOrEqual(t, len(kinds), 8)
	assert.Equal(t, []CommandKind{
		CmdIdentify, CmdReadConfig, // session open
		CmdReadConfig, CmdWriteConfig, // unprotect
		CmdErase, CmdIspKey,
		CmdProgram, CmdProgram, CmdProgram,
	}, kinds)

	progs := f.ofKind(CmdProgram)
	require.Len(t, progs, 3, "2 chunks plus terminator")
	assert.Len(t, progs[0].Payload, 5+56)
	assert.Len(t, progs[1].Payload, 5+44)
	assert.Len(t, progs[2].Payload, 5)

	// The chip's minimum erase span wins over the image size.
	erases := f.ofKind(CmdErase)
	require.Len(t, erases, 1)
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(erases[0].Payload))

	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Equal(t, "program", last.Stage)
	assert.Equal(t, 100, last.Written)
	assert.InDelta(t, 100.0, last.Percentage, 0.01)
}

func TestVerifyMismatchAborts(t *testing.T) {
	f := newCH32V307(false)
	f.badVerify = true
	f.badVerifyAddr = 56
	s := openSession(t, f)

	err := s.Verify(context.Background(), bytes.Repeat([]byte{0x11}, 200))

	var verr *VerifyError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, uint32(56), verr.Address)

	// First failing chunk stops the pass.
	assert.Len(t, f.ofKind(CmdVerify), 2)
}

func TestVerifyClean(t *testing.T) {
	f := newCH32V307(false)
	s := openSession(t, f)

	require.NoError(t, s.Verify(context.Background(), bytes.Repeat([]byte{0x22}, 130)))
	assert.Len(t, f.ofKind(CmdVerify), 3)
}

func TestProgramRejectedCarriesAddress(t *testing.T) {
	f := newCH32V307(false)
	f.rejectKind = CmdProgram
	f.rejectStatus = 0xfe
	s := openSession(t, f)

	err := s.Program(context.Background(), bytes.Repeat([]byte{0x33}, 10))

	var serr *StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "program", serr.Stage)
	assert.Equal(t, uint32(0), serr.Address)

	var devErr *DeviceError
	assert.ErrorAs(t, err, &devErr)
}

func TestKeyChecksumMismatchTolerated(t *testing.T) {
	f := newCH32V307(false)
	f.wrongKeyChecksum = true
	s := openSession(t, f)

	assert.NoError(t, s.SetupKey(context.Background()))
}

func TestWithTimeoutReachesTransport(t *testing.T) {
	f := newCH32V307(false)
	openSession(t, f, WithTimeout(42*time.Millisecond))

	// The last read during setup is the config read, which has no
	// kind-specific deadline.
	assert.Equal(t, 42*time.Millisecond, f.readDeadline)
}

func TestResetToleratesRejection(t *testing.T) {
	f := newCH32V307(false)
	f.rejectKind = CmdIspEnd
	f.rejectStatus = 0xfe
	s := openSession(t, f)

	assert.NoError(t, s.Reset(context.Background()))
	require.Len(t, f.ofKind(CmdIspEnd), 1)
	assert.Equal(t, []byte{0x01}, f.ofKind(CmdIspEnd)[0].Payload)
}

func TestUnprotectSequence(t *testing.T) {
	f := newCH32V307(true)
	s := openSession(t, f)

	require.NoError(t, s.Unprotect(context.Background()))
	assert.False(t, s.Protected())

	writes := f.ofKind(CmdWriteConfig)
	require.Len(t, writes, 1)
	p := writes[0].Payload
	assert.Equal(t, CfgMaskRDPRUserDataWPR, binary.LittleEndian.Uint32(p[:4]))

	config := p[4:]
	require.Len(t, config, 12)
	assert.Equal(t, byte(0xa5), config[0])
	assert.Equal(t, byte(0x5a), config[1])
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, config[8:12])
}

func TestUnprotectRejectedAborts(t *testing.T) {
	f := newCH32V307(true)
	s := openSession(t, f)

	f.rejectKind = CmdWriteConfig
	f.rejectStatus = 0xfe

	err := s.Unprotect(context.Background())
	var serr *StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "unprotect", serr.Stage)
	assert.True(t, s.Protected(), "protection flag untouched on failure")
}

func TestEraseEEPROM(t *testing.T) {
	f := &fakeDevice{chipID: 0x82, deviceType: 0x16, uid: []byte{0xaa, 0xbb, 0xcc, 0xdd}}
	s := openSession(t, f)

	require.NoError(t, s.EraseEEPROM(context.Background()))

	des := f.ofKind(CmdDataErase)
	require.Len(t, des, 1)
	assert.Equal(t, uint16(32), binary.LittleEndian.Uint16(des[0].Payload), "32 KiB in 1 KiB sectors")
}

func TestEraseEEPROMUnsupported(t *testing.T) {
	s := openSession(t, newCH32V307(false))

	err := s.EraseEEPROM(context.Background())
	assert.ErrorIs(t, err, ErrUnsupported)
	err = s.WriteEEPROM(context.Background(), []byte{1})
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = s.ReadEEPROM(context.Background())
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestReadEEPROM(t *testing.T) {
	f := &fakeDevice{chipID: 0x52, deviceType: 0x11, uid: []byte{0x01, 0x02}}
	s := openSession(t, f)

	data, err := s.ReadEEPROM(context.Background())
	require.NoError(t, err)
	assert.Len(t, data, 128)
	assert.Equal(t, bytes.Repeat([]byte{0xff}, 128), data)

	reads := f.ofKind(CmdDataRead)
	require.Len(t, reads, 3, "56+56+16")
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(reads[2].Payload[4:6]))
}

func TestWriteEEPROM(t *testing.T) {
	f := &fakeDevice{chipID: 0x52, deviceType: 0x11, uid: []byte{0x01, 0x02}}
	s := openSession(t, f)

	require.NoError(t, s.WriteEEPROM(context.Background(), bytes.Repeat([]byte{0x42}, 60)))

	writes := f.ofKind(CmdDataProgram)
	require.Len(t, writes, 3, "2 chunks plus terminator")
	assert.Len(t, writes[0].Payload, 5+56)
	assert.Len(t, writes[1].Payload, 5+4)
	assert.Len(t, writes[2].Payload, 5)

	err := s.WriteEEPROM(context.Background(), bytes.Repeat([]byte{0x42}, 129))
	assert.ErrorIs(t, err, ErrUnsupported, "image larger than EEPROM")
}

func TestUnknownChipStillFlashes(t *testing.T) {
	f := &fakeDevice{chipID: 0xde, deviceType: 0xad, uid: []byte{0x09}}
	s := openSession(t, f)

	assert.Equal(t, "Unknown[dead]", s.Chip().Name)
	assert.Equal(t, uint32(64*1024), s.Chip().FlashSize)

	require.NoError(t, s.Flash(context.Background(), []byte{0x01, 0x02, 0x03}))

	// One sector covers three bytes; the synthesized descriptor has no
	// larger minimum.
	erases := f.ofKind(CmdErase)
	require.Len(t, erases, 1)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(erases[0].Payload))
}

func TestChipInfo(t *testing.T) {
	s := openSession(t, newCH32V307(true))

	info := s.ChipInfo()
	assert.Contains(t, info, "CH32V307VCT6")
	assert.Contains(t, info, "01-02-03-04-05-06-07-08")
	assert.Contains(t, info, "00.02.03.01")
	assert.Contains(t, info, "Protected: true")
}

func TestDeviceErrorMessage(t *testing.T) {
	err := &DeviceError{Op: "erase", Status: 0xfe}
	assert.Equal(t, "wchisp: device rejected erase: status=0xfe", err.Error())

	verr := &VerifyError{Address: 0x38}
	assert.Contains(t, verr.Error(), "0x00000038")
}
