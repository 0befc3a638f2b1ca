package memento

import (
	"bytes"
	"fmt"
	"math/bits"
	"os"

	"github.com/natefinch/atomic"
	"golang.org/x/sys/unix"

	"github.com/n3slami/memento-filter/pkg/fs"
)

// Open loads a Filter from an MMF1 file at path, validating the magic,
// header CRC and n_slots and rejecting a file whose format version this
// package doesn't read (spec §6, "not a durable database": corruption
// or a version mismatch is a rebuild-class error, not something this
// package attempts to repair).
//
// Open reads the whole file into memory rather than mmap'ing it in
// place; the teacher's slotcache package mmaps live, multi-writer files
// since it's meant to be mutated concurrently by other processes, but a
// Memento Filter here is loaded once and mutated only through this
// process's own Filter methods, so a plain read plus an explicit Save
// (atomic rename, like the teacher's own pkg/fs.AtomicWriter) is simpler
// and just as safe.
func Open(path string) (*Filter, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("memento: open %q: %w", path, err)
	}

	return decodeFilter(raw)
}

func decodeFilter(raw []byte) (*Filter, error) {
	if len(raw) < mmf1HeaderSize {
		return nil, fmt.Errorf("memento: %w: file too short for header", ErrCorrupt)
	}

	headerBuf := raw[:mmf1HeaderSize]
	if !bytes.Equal(headerBuf[offMagic:offMagic+4], []byte(mmf1Magic)) {
		return nil, fmt.Errorf("memento: %w: bad magic", ErrCorrupt)
	}

	if !validateHeaderCRC(headerBuf) {
		return nil, fmt.Errorf("memento: %w: header CRC mismatch", ErrCorrupt)
	}

	h := decodeHeaderBytes(headerBuf)
	if h.Version != mmf1Version {
		return nil, fmt.Errorf("memento: %w: file version %d, this package reads %d", ErrIncompatible, h.Version, mmf1Version)
	}

	if h.Generation%2 != 0 {
		return nil, fmt.Errorf("memento: %w: generation %d is odd, file was saved mid-write", ErrCorrupt, h.Generation)
	}

	meta := h.toMetadata()

	if meta.NSlots == 0 || meta.NSlots%blockSlots != 0 || bits.OnesCount64(meta.NSlots) != 1 {
		return nil, fmt.Errorf("memento: %w: n_slots %d is not a power of two multiple of %d", ErrCorrupt, meta.NSlots, blockSlots)
	}

	want := slotsSizeBytes(meta)
	if uint64(len(raw))-h.SlotsOffset < want {
		return nil, fmt.Errorf("memento: %w: file has %d payload bytes, want %d", ErrCorrupt, uint64(len(raw))-h.SlotsOffset, want)
	}

	f := &Filter{
		idx: newBlockIndex(meta.NBlocks()),
		hash: hashLayer{
			mode:            meta.HashMode,
			seed:            meta.Seed,
			nSlots:          meta.NSlots,
			fingerprintBits: meta.FingerprintBits,
		},
		meta:       meta,
		locks:      newLatchTable(meta.NBlocks()),
		autoResize: meta.AutoResize,
		expandable: meta.Expandable,
	}

	decodeSlotPayload(f.idx, raw[h.SlotsOffset:], meta)

	return f, nil
}

func decodeSlotPayload(idx *blockIndex, payload []byte, meta Metadata) {
	off := 0
	for b := uint64(0); b < meta.NBlocks(); b++ {
		for s := 0; s < blockSlots; s++ {
			v := leUint64(payload[off:])
			idx.blocks[b].slots[s] = v
			off += 8
		}
	}

	for b := uint64(0); b < meta.NBlocks(); b++ {
		idx.blocks[b].occupieds = leUint64(payload[off:])
		off += 8
		idx.blocks[b].runends = leUint64(payload[off:])
		off += 8
		offsetVal := leUint64(payload[off:])
		off += 8
		idx.setOffset(b, uint32(offsetVal))
	}
}

func leUint64(b []byte) uint64 {
	_ = b[7]
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

// Save writes the Filter to path as an MMF1 file via an atomic
// temp-file-then-rename, so a crash mid-write never leaves a partially
// written file at path (spec §6's durability note; grounded on
// pkg/fs.AtomicWriter, the teacher's own atomic-rename helper, and on
// natefinch/atomic for the simpler bytes.Reader snapshot case where no
// caller-supplied fs.FS abstraction is needed).
func (f *Filter) Save(path string) error {
	buf := f.encode()
	return atomic.WriteFile(path, bytes.NewReader(buf))
}

// SaveWithFS writes the Filter to path using an explicit fs.FS (the
// teacher's testable filesystem seam), for callers that want the same
// fault-injection and in-memory testing story the teacher's own
// persistence layer offers.
func (f *Filter) SaveWithFS(path string, filesystem fs.FS) error {
	buf := f.encode()
	writer := fs.NewAtomicWriter(filesystem)
	return writer.WriteWithDefaults(path, bytes.NewReader(buf))
}

func (f *Filter) encode() []byte {
	header := newFileHeader(f.meta)
	headerBytes := encodeHeader(header)

	payload := encodeSlotPayload(f.idx, f.meta)

	buf := make([]byte, 0, len(headerBytes)+len(payload))
	buf = append(buf, headerBytes...)
	buf = append(buf, payload...)
	return buf
}

func encodeSlotPayload(idx *blockIndex, meta Metadata) []byte {
	out := make([]byte, slotsSizeBytes(meta))
	off := 0

	for b := uint64(0); b < meta.NBlocks(); b++ {
		for s := 0; s < blockSlots; s++ {
			putLE64(out[off:], idx.blocks[b].slots[s])
			off += 8
		}
	}

	for b := uint64(0); b < meta.NBlocks(); b++ {
		putLE64(out[off:], idx.blocks[b].occupieds)
		off += 8
		putLE64(out[off:], idx.blocks[b].runends)
		off += 8
		putLE64(out[off:], uint64(idx.getOffset(b)))
		off += 8
	}

	return out
}

func putLE64(b []byte, v uint64) {
	_ = b[7]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}

// mmapPreload memory-maps path read-only, asks the kernel
// (MADV_WILLNEED) to read the file's pages into the page cache, and
// unmaps it again, ahead of decodeFilter's full read; used by OpenLarge for files too
// large to comfortably read into a single []byte in one syscall.
// Grounded on the teacher's registry use of raw mmap for its live
// cache; this package only borrows the mmap call itself; golang.org/
// x/sys/unix.Mmap/Munmap replace the teacher's raw syscall.Mmap calls
// per this project's dependency upgrade (see DESIGN.md).
func mmapPreload(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return fmt.Errorf("memento: mmap preload %q: %w", path, err)
	}
	defer unix.Munmap(data)

	if err := unix.Madvise(data, unix.MADV_WILLNEED); err != nil {
		return fmt.Errorf("memento: madvise preload %q: %w", path, err)
	}

	return nil
}

// OpenLarge is Open plus an mmapPreload warmup pass, for files large
// enough that paging them in during the ReadFile call would otherwise
// stall on first touch.
func OpenLarge(path string) (*Filter, error) {
	if err := mmapPreload(path); err != nil {
		return nil, err
	}
	return Open(path)
}
