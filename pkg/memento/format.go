package memento

import (
	"encoding/binary"
	"hash/crc32"
)

// MMF1 on-disk file format. Grounded on the teacher's format.go
// (slc1Header: fixed-size header, field-by-field little-endian encode,
// CRC32-C over the header with the generation and CRC fields excluded)
// adapted from a key/index/slot cache header to the Memento Filter's
// own metadata fields (spec §6).
const (
	// mmf1Magic is the 4-byte signature at the start of every file.
	mmf1Magic = "MMF1"

	// mmf1Version is the file format version.
	mmf1Version = 1

	// mmf1HeaderSize is the fixed header size in bytes.
	mmf1HeaderSize = 128
)

// Header field offsets (bytes from file start).
const (
	offMagic            = 0x00 // [4]byte
	offVersion          = 0x04 // uint32
	offHeaderSize       = 0x08 // uint32
	offNSlots           = 0x0C // uint64 (not 8-byte aligned; no padding)
	offFingerprintBits  = 0x14 // uint32
	offMementoBits      = 0x18 // uint32
	offOrigQuotientBits = 0x1C // uint32
	offHashMode         = 0x20 // uint32
	offSeed             = 0x24 // uint32
	offAutoResize       = 0x28 // uint32 (0/1)
	offExpandable       = 0x2C // uint32 (0/1)
	offNOccupiedSlots   = 0x30 // uint64
	offNDistinctPrefix  = 0x38 // uint64
	offSumOfCounts      = 0x40 // uint64
	offGeneration       = 0x48 // uint64 (seqlock: even=stable, odd=writing)
	offSlotsOffset      = 0x50 // uint64
	offHeaderCRC32C     = 0x58 // uint32
	offReservedStart    = 0x5C // reserved through mmf1HeaderSize-1
)

// fileHeader is the decoded form of an MMF1 file header.
type fileHeader struct {
	Magic                [4]byte
	Version              uint32
	HeaderSize           uint32
	NSlots               uint64
	FingerprintBits      uint32
	MementoBits          uint32
	OriginalQuotientBits uint32
	HashMode             uint32
	Seed                 uint32
	AutoResize           uint32
	Expandable           uint32
	NOccupiedSlots       uint64
	NDistinctPrefixes    uint64
	SumOfCounts          uint64
	Generation           uint64
	SlotsOffset          uint64
	HeaderCRC32C         uint32
}

func newFileHeader(meta Metadata) fileHeader {
	boolU32 := func(b bool) uint32 {
		if b {
			return 1
		}
		return 0
	}

	return fileHeader{
		Magic:                [4]byte{'M', 'M', 'F', '1'},
		Version:              mmf1Version,
		HeaderSize:           mmf1HeaderSize,
		NSlots:               meta.NSlots,
		FingerprintBits:      meta.FingerprintBits,
		MementoBits:          meta.MementoBits,
		OriginalQuotientBits: meta.OriginalQuotientBits,
		HashMode:             uint32(meta.HashMode),
		Seed:                 meta.Seed,
		AutoResize:           boolU32(meta.AutoResize),
		Expandable:           boolU32(meta.Expandable),
		NOccupiedSlots:       meta.NOccupiedSlots,
		NDistinctPrefixes:    meta.NDistinctPrefixes,
		SumOfCounts:          meta.SumOfCounts,
		Generation:           0,
		SlotsOffset:          mmf1HeaderSize,
	}
}

func (h fileHeader) toMetadata() Metadata {
	return Metadata{
		NSlots:               h.NSlots,
		FingerprintBits:      h.FingerprintBits,
		MementoBits:          h.MementoBits,
		OriginalQuotientBits: h.OriginalQuotientBits,
		HashMode:             HashMode(h.HashMode),
		Seed:                 h.Seed,
		NOccupiedSlots:       h.NOccupiedSlots,
		NDistinctPrefixes:    h.NDistinctPrefixes,
		SumOfCounts:          h.SumOfCounts,
		AutoResize:           h.AutoResize != 0,
		Expandable:           h.Expandable != 0,
	}
}

func encodeHeader(h fileHeader) []byte {
	buf := make([]byte, mmf1HeaderSize)

	copy(buf[offMagic:], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[offVersion:], h.Version)
	binary.LittleEndian.PutUint32(buf[offHeaderSize:], h.HeaderSize)
	binary.LittleEndian.PutUint64(buf[offNSlots:], h.NSlots)
	binary.LittleEndian.PutUint32(buf[offFingerprintBits:], h.FingerprintBits)
	binary.LittleEndian.PutUint32(buf[offMementoBits:], h.MementoBits)
	binary.LittleEndian.PutUint32(buf[offOrigQuotientBits:], h.OriginalQuotientBits)
	binary.LittleEndian.PutUint32(buf[offHashMode:], h.HashMode)
	binary.LittleEndian.PutUint32(buf[offSeed:], h.Seed)
	binary.LittleEndian.PutUint32(buf[offAutoResize:], h.AutoResize)
	binary.LittleEndian.PutUint32(buf[offExpandable:], h.Expandable)
	binary.LittleEndian.PutUint64(buf[offNOccupiedSlots:], h.NOccupiedSlots)
	binary.LittleEndian.PutUint64(buf[offNDistinctPrefix:], h.NDistinctPrefixes)
	binary.LittleEndian.PutUint64(buf[offSumOfCounts:], h.SumOfCounts)
	binary.LittleEndian.PutUint64(buf[offGeneration:], h.Generation)
	binary.LittleEndian.PutUint64(buf[offSlotsOffset:], h.SlotsOffset)

	crc := computeHeaderCRC(buf)
	binary.LittleEndian.PutUint32(buf[offHeaderCRC32C:], crc)

	return buf
}

func decodeHeaderBytes(buf []byte) fileHeader {
	var h fileHeader

	copy(h.Magic[:], buf[offMagic:offMagic+4])
	h.Version = binary.LittleEndian.Uint32(buf[offVersion:])
	h.HeaderSize = binary.LittleEndian.Uint32(buf[offHeaderSize:])
	h.NSlots = binary.LittleEndian.Uint64(buf[offNSlots:])
	h.FingerprintBits = binary.LittleEndian.Uint32(buf[offFingerprintBits:])
	h.MementoBits = binary.LittleEndian.Uint32(buf[offMementoBits:])
	h.OriginalQuotientBits = binary.LittleEndian.Uint32(buf[offOrigQuotientBits:])
	h.HashMode = binary.LittleEndian.Uint32(buf[offHashMode:])
	h.Seed = binary.LittleEndian.Uint32(buf[offSeed:])
	h.AutoResize = binary.LittleEndian.Uint32(buf[offAutoResize:])
	h.Expandable = binary.LittleEndian.Uint32(buf[offExpandable:])
	h.NOccupiedSlots = binary.LittleEndian.Uint64(buf[offNOccupiedSlots:])
	h.NDistinctPrefixes = binary.LittleEndian.Uint64(buf[offNDistinctPrefix:])
	h.SumOfCounts = binary.LittleEndian.Uint64(buf[offSumOfCounts:])
	h.Generation = binary.LittleEndian.Uint64(buf[offGeneration:])
	h.SlotsOffset = binary.LittleEndian.Uint64(buf[offSlotsOffset:])
	h.HeaderCRC32C = binary.LittleEndian.Uint32(buf[offHeaderCRC32C:])

	return h
}

// computeHeaderCRC computes the CRC32-C of the header with the
// generation and CRC fields themselves zeroed, so updating the
// generation counter in place (the seqlock dance) doesn't require
// recomputing and rewriting the CRC on every mutation.
func computeHeaderCRC(buf []byte) uint32 {
	tmp := make([]byte, mmf1HeaderSize)
	copy(tmp, buf)

	for i := offGeneration; i < offGeneration+8; i++ {
		tmp[i] = 0
	}
	for i := offHeaderCRC32C; i < offHeaderCRC32C+4; i++ {
		tmp[i] = 0
	}

	return crc32.Checksum(tmp, crc32.MakeTable(crc32.Castagnoli))
}

func validateHeaderCRC(buf []byte) bool {
	stored := binary.LittleEndian.Uint32(buf[offHeaderCRC32C:])
	return stored == computeHeaderCRC(buf)
}

// slotsSizeBytes returns the byte length of the packed slot payload
// that follows the header: one uint64 per slot, plus one
// occupieds+runends+offset record per block.
func slotsSizeBytes(meta Metadata) uint64 {
	return meta.NSlots*8 + meta.NBlocks()*blockMetaSize
}

// blockMetaSize is the per-block on-disk metadata record: occupieds(8)
// + runends(8) + offset, widened to 8 bytes. The offset field holds the
// block's full offset as getOffset reports it (including values kept in
// the in-memory overflow table), and decodeSlotPayload restores it via
// setOffset, which re-creates any overflow entry (see persist.go).
const blockMetaSize = 24
