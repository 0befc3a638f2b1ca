package memento

import (
	"math/bits"

	"github.com/bits-and-blooms/bitset"
)

// blockSlots is the number of slots per block (spec §4.1): one occupieds
// bitmap and one runends bitmap are each a single native uint64, one bit
// per slot.
const blockSlots = 64

// block is one 64-slot unit of the filter: a flat slot array plus the two
// bitmaps used to answer "is h a run start" (occupieds) and "is h a run
// end" (runends), and an offset cache that points at this block's first
// run tail so run_end doesn't have to walk backward across blocks on
// every lookup. Grounded on other_examples' go-qfext block layout (the
// same occupieds/runends/offset triad), adapted to word-aligned slots.
type block struct {
	slots     [blockSlots]uint64
	occupieds uint64
	runends   uint64
	offset    uint8
}

// blockIndex is the full array of blocks backing a [Filter]. It also owns
// the offset-overflow side table: offset is a uint8 so any block whose
// true offset is 255 or more is flagged in overflowed and its real value
// kept in overflowValues. Overflow is rare (it requires a single block's
// run to spill across 255+ other blocks) so a sparse side table costs
// nothing in the common case. Grounded on FlashLog's use of
// bits-and-blooms/bitset for sparse flag sets.
type blockIndex struct {
	blocks         []block
	overflowed     *bitset.BitSet
	overflowValues map[uint32]uint32
}

func newBlockIndex(nBlocks uint64) *blockIndex {
	return &blockIndex{
		blocks:         make([]block, nBlocks),
		overflowed:     bitset.New(uint(nBlocks)),
		overflowValues: make(map[uint32]uint32),
	}
}

func (bi *blockIndex) nBlocks() uint64 {
	return uint64(len(bi.blocks))
}

func (bi *blockIndex) nSlots() uint64 {
	return bi.nBlocks() * blockSlots
}

// blockOf and slotInBlock split a global slot index into its block and
// intra-block position.
func blockOf(h uint64) uint64   { return h / blockSlots }
func slotInBlock(h uint64) uint { return uint(h % blockSlots) }

func (bi *blockIndex) getSlot(h uint64) uint64 {
	b := &bi.blocks[blockOf(h)]
	return b.slots[slotInBlock(h)]
}

func (bi *blockIndex) setSlot(h uint64, v uint64) {
	b := &bi.blocks[blockOf(h)]
	b.slots[slotInBlock(h)] = v
}

func (bi *blockIndex) isOccupied(h uint64) bool {
	b := &bi.blocks[blockOf(h)]
	return b.occupieds&(uint64(1)<<slotInBlock(h)) != 0
}

func (bi *blockIndex) setOccupied(h uint64, v bool) {
	b := &bi.blocks[blockOf(h)]
	bit := uint64(1) << slotInBlock(h)
	if v {
		b.occupieds |= bit
	} else {
		b.occupieds &^= bit
	}
}

func (bi *blockIndex) isRunend(h uint64) bool {
	b := &bi.blocks[blockOf(h)]
	return b.runends&(uint64(1)<<slotInBlock(h)) != 0
}

func (bi *blockIndex) setRunend(h uint64, v bool) {
	b := &bi.blocks[blockOf(h)]
	bit := uint64(1) << slotInBlock(h)
	if v {
		b.runends |= bit
	} else {
		b.runends &^= bit
	}
}

// getOffset returns a block's offset, consulting the overflow table when
// the uint8 field has saturated.
func (bi *blockIndex) getOffset(blockIdx uint64) uint32 {
	if bi.overflowed != nil && bi.overflowed.Test(uint(blockIdx)) {
		return bi.overflowValues[uint32(blockIdx)]
	}
	return uint32(bi.blocks[blockIdx].offset)
}

// setOffset stores a block's offset, promoting it into the overflow table
// when it no longer fits in a uint8.
func (bi *blockIndex) setOffset(blockIdx uint64, v uint32) {
	if v >= 255 {
		bi.blocks[blockIdx].offset = 255
		bi.overflowed.Set(uint(blockIdx))
		bi.overflowValues[uint32(blockIdx)] = v
		return
	}

	bi.blocks[blockIdx].offset = uint8(v)
	if bi.overflowed.Test(uint(blockIdx)) {
		bi.overflowed.Clear(uint(blockIdx))
		delete(bi.overflowValues, uint32(blockIdx))
	}
}

// rank64 counts set bits at or below position p (inclusive) in a 64-bit
// word, i.e. popcount(w & ((1<<(p+1))-1)). p must be < 64.
func rank64(w uint64, p uint) int {
	if p == 63 {
		return bits.OnesCount64(w)
	}
	return bits.OnesCount64(w & ((uint64(1) << (p + 1)) - 1))
}

// selectBit64 returns the position of the (rank+1)-th set bit in w (0
// indexed), or 64 if w has fewer than rank+1 set bits.
func selectBit64(w uint64, rank uint) uint {
	for rank > 0 {
		if w == 0 {
			return 64
		}
		w &= w - 1
		rank--
	}
	if w == 0 {
		return 64
	}
	return uint(bits.TrailingZeros64(w))
}

// runEnd returns the global slot index of the end of the run belonging
// to home slot h, per spec §4.2: starting from h's block offset, count
// how many runs start at or before h (rank of occupieds), then walk
// forward counting runends until the matching one is reached. selectBit64
// is available for blocks that want a branch-free single-word answer,
// but since a run's end can spill across block boundaries the general
// case still needs a forward scan.
func (bi *blockIndex) runEnd(h uint64) uint64 {
	hBlock := blockOf(h)
	hSlot := slotInBlock(h)

	offset := bi.getOffset(hBlock)
	base := hBlock*blockSlots + uint64(offset)

	d := rank64(bi.blocks[hBlock].occupieds, hSlot)
	if d == 0 {
		if uint64(offset) <= uint64(hSlot) {
			return h
		}
		return base
	}

	pos := base
	remaining := d
	for remaining > 0 {
		if bi.isRunend(pos) {
			remaining--
			if remaining == 0 {
				return pos
			}
		}
		pos++
	}
	return pos
}

// findFirstEmptySlot returns the first global slot index at or after
// from that has neither its occupieds nor runends bit set and is free of
// any run currently occupying it; equivalently, the first slot that is
// not before or equal to the run_end of the run that would logically
// claim it. Per spec §4.3's shift algorithm, this walks forward one slot
// at a time comparing against run_end(scan). Returns nSlots if the tail
// of the filter is reached without finding one (linear, non-wraparound
// array - the caller's capacity check is expected to catch this first).
func (bi *blockIndex) findFirstEmptySlot(from uint64) uint64 {
	scan := from
	for scan < bi.nSlots() {
		end := bi.runEnd(scan)
		if end < scan {
			return scan
		}
		if end == scan && !bi.isOccupied(scan) && !bi.isRunend(scan) {
			return scan
		}
		scan = end + 1
	}
	return bi.nSlots()
}

// nthEmptySlotFrom returns the n-th (1-indexed) genuinely empty slot at or
// after pos, without mutating anything; used to check there's enough room
// before committing to a shift.
func (bi *blockIndex) nthEmptySlotFrom(pos uint64, n int) uint64 {
	slot := pos
	for i := 0; i < n; i++ {
		slot = bi.findFirstEmptySlot(slot)
		if slot >= bi.nSlots() {
			return slot
		}
		if i < n-1 {
			slot++
		}
	}
	return slot
}

// offsetLowerBound returns the minimum legal offset for hBlock: the
// number of slots, if any, that a run starting in an earlier block
// spills into hBlock. Used after a shift to recompute offsets touched by
// the shift range.
func (bi *blockIndex) offsetLowerBound(hBlock uint64) uint32 {
	base := hBlock * blockSlots
	if base == 0 {
		return 0
	}

	// The run_end of the last occupied home slot at or before base-1,
	// if it spills past base, lower-bounds this block's offset.
	lastOccupied := bi.lastOccupiedBefore(base)
	if lastOccupied == ^uint64(0) {
		return 0
	}

	end := bi.runEnd(lastOccupied)
	if end < base {
		return 0
	}
	return uint32(end - base + 1)
}

func (bi *blockIndex) lastOccupiedBefore(h uint64) uint64 {
	for b := int64(blockOf(h - 1)); b >= 0; b-- {
		occ := bi.blocks[b].occupieds
		limit := uint(63)
		if uint64(b) == blockOf(h-1) {
			limit = slotInBlock(h - 1)
		}
		masked := occ & ((uint64(1) << (limit + 1)) - 1)
		if masked != 0 {
			top := 63 - bits.LeadingZeros64(masked)
			return uint64(b)*blockSlots + uint64(top)
		}
	}
	return ^uint64(0)
}

// shiftSlotsRight moves the slots in [from, to-1] one position right into
// [from+1, to], overwriting the old value at `to` (callers pass a `to`
// that findFirstEmptySlot located, so nothing live is lost). The value at
// `from` is left in place as a copy. Works one slot at a time.
func (bi *blockIndex) shiftSlotsRight(from, to uint64) {
	for i := to; i > from; i-- {
		bi.setSlot(i, bi.getSlot(i-1))
	}
}

// shiftRunendsRight moves the runends bits in [from, to-1] one position
// right into [from+1, to] and clears the bit at `from`, the bitmap
// companion to shiftSlotsRight.
func (bi *blockIndex) shiftRunendsRight(from, to uint64) {
	for i := to; i > from; i-- {
		bi.setRunend(i, bi.isRunend(i-1))
	}
	bi.setRunend(from, false)
}

// makeRoom opens up `count` contiguous empty slots starting at pos, moving
// anything from pos onward that's in the way. Each of the count rounds
// shifts [pos, empty] right by one, where empty is the nearest free slot
// found at or after a search cursor that advances past whatever the
// previous round claimed; a fixed, non-advancing cursor would spin in
// place once pos itself is already free, never reaching an unrelated
// run sitting further along that also needs to be displaced.
func (bi *blockIndex) makeRoom(pos uint64, count int) {
	searchFrom := pos
	for i := 0; i < count; i++ {
		empty := bi.findFirstEmptySlot(searchFrom)
		bi.shiftSlotsRight(pos, empty)
		bi.shiftRunendsRight(pos, empty)

		firstBlock := blockOf(pos)
		lastBlock := blockOf(empty)
		for b := firstBlock; b <= lastBlock && b < bi.nBlocks(); b++ {
			bi.setOffset(b, bi.offsetLowerBound(b))
		}

		searchFrom = empty + 1
	}
}
