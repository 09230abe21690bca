package core

import (
	"encoding/binary"
	"errors"

	"matrixscan/protocol"
)

// SettingsStore persists ScanSettings across power cycles
type SettingsStore interface {
	LoadSettings(*ScanSettings) error
	SaveSettings(*ScanSettings) error
}

var (
	ErrNoSettings      = errors.New("no stored settings")
	ErrCorruptSettings = errors.New("stored settings corrupt")
	ErrVersionMismatch = errors.New("stored settings from another firmware version")
)

// BlockDevice is the subset of a TinyGo flash block device used by
// FlashStore.
type BlockDevice interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	EraseBlocks(start, len int64) error
}

// settingsRecordSize is version + settings + crc16
const settingsRecordSize = 4 + protocol.SettingsSize + protocol.TrailerSize

// FlashStore keeps one settings record at the start of a block device. The
// record is tagged with the firmware version; a record from another version
// is reported as ErrVersionMismatch and never migrated.
type FlashStore struct {
	dev     BlockDevice
	version uint32
	buf     [settingsRecordSize]byte
}

// NewFlashStore creates a store on dev tagged with version
func NewFlashStore(dev BlockDevice, version uint32) *FlashStore {
	return &FlashStore{dev: dev, version: version}
}

// LoadSettings reads and checks the stored record. s is only modified when
// a valid record was found.
func (f *FlashStore) LoadSettings(s *ScanSettings) error {
	if _, err := f.dev.ReadAt(f.buf[:], 0); err != nil {
		return err
	}
	rec := f.buf[:]
	if isErased(rec) {
		return ErrNoSettings
	}
	if !protocol.CheckTrailer(rec) {
		return ErrCorruptSettings
	}
	body := rec[:len(rec)-protocol.TrailerSize]
	if binary.LittleEndian.Uint32(body) != f.version {
		return ErrVersionMismatch
	}

	var loaded ScanSettings
	loaded.UnmarshalBinary(body[4:])
	if err := loaded.Validate(); err != nil {
		return err
	}
	*s = loaded
	return nil
}

// SaveSettings erases the first block and writes the record
func (f *FlashStore) SaveSettings(s *ScanSettings) error {
	binary.LittleEndian.PutUint32(f.buf[0:], f.version)
	s.put(f.buf[4:])
	body := f.buf[:settingsRecordSize-protocol.TrailerSize]
	protocol.PutTrailer(f.buf[len(body):], protocol.CRC16(body))

	if err := f.dev.EraseBlocks(0, 1); err != nil {
		return err
	}
	_, err := f.dev.WriteAt(f.buf[:], 0)
	return err
}

func isErased(b []byte) bool {
	for _, v := range b {
		if v != 0xFF {
			return false
		}
	}
	return true
}

// MemoryFlash is a RAM-backed BlockDevice. Erased bytes read as 0xFF.
type MemoryFlash struct {
	data      []byte
	blockSize int64
}

// NewMemoryFlash creates an erased device of blocks blocks
func NewMemoryFlash(blockSize int64, blocks int) *MemoryFlash {
	m := &MemoryFlash{
		data:      make([]byte, blockSize*int64(blocks)),
		blockSize: blockSize,
	}
	for i := range m.data {
		m.data[i] = 0xFF
	}
	return m
}

var errOutOfRange = errors.New("flash access out of range")

func (m *MemoryFlash) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, errOutOfRange
	}
	return copy(p, m.data[off:]), nil
}

// WriteAt programs bytes. Like NOR flash, bits can only be cleared.
func (m *MemoryFlash) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, errOutOfRange
	}
	for i, v := range p {
		m.data[off+int64(i)] &= v
	}
	return len(p), nil
}

func (m *MemoryFlash) EraseBlocks(start, n int64) error {
	from, to := start*m.blockSize, (start+n)*m.blockSize
	if start < 0 || to > int64(len(m.data)) {
		return errOutOfRange
	}
	for i := from; i < to; i++ {
		m.data[i] = 0xFF
	}
	return nil
}

// Bytes exposes the raw contents
func (m *MemoryFlash) Bytes() []byte {
	return m.data
}
