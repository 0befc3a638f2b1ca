package memento

import (
	"fmt"
	"sort"
)

// Filter is a Memento Filter instance: a run-and-rank quotient filter
// extended with keepsake boxes so it answers point and range queries
// over 64-bit keys with no false negatives (spec §1-§4).
//
// A zero Filter is not usable; construct one with [New] or [Open].
type Filter struct {
	idx  *blockIndex
	hash hashLayer
	meta Metadata

	locks *latchTable

	autoResize bool
	expandable bool
}

// New constructs an empty Filter from opts. See spec §6 for the field
// semantics and [Options.validate] for the accepted ranges.
func New(opts Options) (*Filter, error) {
	if _, err := opts.validate(); err != nil {
		return nil, err
	}

	f := &Filter{
		idx: newBlockIndex(opts.NSlots / blockSlots),
		hash: hashLayer{
			mode:            opts.HashMode,
			seed:            opts.Seed,
			nSlots:          opts.NSlots,
			fingerprintBits: opts.FingerprintBits,
		},
		meta: Metadata{
			NSlots:               opts.NSlots,
			FingerprintBits:      opts.FingerprintBits,
			MementoBits:          opts.MementoBits,
			OriginalQuotientBits: quotientBitsOf(opts.NSlots),
			HashMode:             opts.HashMode,
			Seed:                 opts.Seed,
			AutoResize:           opts.AutoResize,
			Expandable:           opts.Expandable,
		},
		locks:      newLatchTable(opts.NSlots / blockSlots),
		autoResize: opts.AutoResize,
		expandable: opts.Expandable,
	}

	return f, nil
}

func quotientBitsOf(nSlots uint64) uint32 {
	b := uint32(0)
	for n := nSlots; n > 1; n >>= 1 {
		b++
	}
	return b
}

// --- metadata accessors (spec §6, SPEC_FULL §6) ---

func (f *Filter) HashMode() HashMode           { return f.meta.HashMode }
func (f *Filter) Seed() uint32                 { return f.meta.Seed }
func (f *Filter) AutoResizeEnabled() bool      { return f.autoResize }
func (f *Filter) NumSlots() uint64             { return f.meta.NSlots }
func (f *Filter) NumOccupiedSlots() uint64     { return f.meta.NOccupiedSlots }
func (f *Filter) NumKeyBits() uint32           { return f.meta.QuotientBits() + f.meta.FingerprintBits }
func (f *Filter) NumMementoBits() uint32       { return f.meta.MementoBits }
func (f *Filter) NumFingerprintBits() uint32   { return f.meta.FingerprintBits }
func (f *Filter) BitsPerSlot() uint32          { return f.meta.SlotBits() }
func (f *Filter) SumOfCounts() uint64 { return f.meta.SumOfCounts }

// NumDistinctPrefixes reports the number of distinct (home, fingerprint)
// boxes stored, mirroring qf_get_num_distinct_key_value_pairs: two
// prefixes colliding on the same quotient but carrying different
// fingerprints each count separately.
func (f *Filter) NumDistinctPrefixes() uint64 { return f.meta.NDistinctPrefixes }
func (f *Filter) TotalSizeBytes() uint64 {
	return f.meta.NSlots*8 + f.meta.NBlocks()*(8+8+1)
}

// HashRange returns the [0, 2^NumKeyBits) range that hashed prefixes fall
// into under the filter's current width.
func (f *Filter) HashRange() uint64 {
	width := f.NumKeyBits()
	if width >= 64 {
		return 0 // full 64-bit range, can't be expressed as a single bound
	}
	return uint64(1) << width
}

// SetAutoResize toggles transparent resize-on-full behavior (SPEC_FULL
// §6). It does not affect [Options.Expandable], which is fixed at
// construction.
func (f *Filter) SetAutoResize(v bool) {
	f.autoResize = v
	f.meta.AutoResize = v
}

// loadFactor is n_occupied_slots / n_slots, compared against
// autoResizeThreshold to decide whether an insert should trigger a
// resize before it would otherwise report ErrNoSpace.
func (f *Filter) loadFactor() float64 {
	return float64(f.meta.NOccupiedSlots) / float64(f.meta.NSlots)
}

// --- mutation ---

// InsertSingle inserts one (prefix, memento) pair. It is a convenience
// wrapper around InsertMementos for the common single-value case.
func (f *Filter) InsertSingle(prefix, memento uint64, lockMode LockMode) (QueryResult, error) {
	return f.InsertMementos(prefix, []uint64{memento}, lockMode)
}

// InsertMementos inserts prefix with every value in mementos (spec §4.3).
// Duplicate values are preserved, matching the original C API's
// qf_insert_memento semantics of one slot per occurrence.
func (f *Filter) InsertMementos(prefix uint64, mementos []uint64, lockMode LockMode) (QueryResult, error) {
	if len(mementos) == 0 {
		return QueryNegative, newErr(CodeInvalid, "InsertMementos", fmt.Errorf("mementos must be non-empty"))
	}

	home, fp := f.hash.split(prefix)

	unlock, err := f.locks.acquireRange(home, lockMode)
	if err != nil {
		return QueryNegative, err
	}
	defer unlock()

	if f.autoResize && f.meta.HashMode != HashDefault && f.loadFactor() >= autoResizeThreshold {
		if err := f.resizeLocked(); err != nil {
			return QueryNegative, err
		}
		home, fp = f.hash.split(prefix)
	}

	if err := f.insertLocked(home, fp, mementos); err != nil {
		if f.autoResize && isNoSpace(err) {
			if rerr := f.resizeLocked(); rerr != nil {
				return QueryNegative, rerr
			}
			home, fp = f.hash.split(prefix)
			if err := f.insertLocked(home, fp, mementos); err != nil {
				return QueryNegative, err
			}
			return QueryPositive, nil
		}
		return QueryNegative, err
	}

	return QueryPositive, nil
}

func isNoSpace(err error) bool {
	fe, ok := err.(*FilterError)
	return ok && fe.Code == CodeNoSpace
}

// insertLocked performs the actual shift-and-write, assuming the caller
// already holds the relevant block latches.
func (f *Filter) insertLocked(home, fp uint64, mementos []uint64) error {
	existingStart, existingEnd, found := f.findBox(home, fp)
	if found {
		_, existing := decodeBox(f.readSlots(existingStart, existingEnd), f.meta.FingerprintBits, f.meta.MementoBits)
		merged := append(existing, mementos...)
		return f.rewriteBoxAt(home, existingStart, existingEnd, fp, merged)
	}

	wasOccupied := f.idx.isOccupied(home)
	oldRunEnd := f.idx.runEnd(home)

	insertPos := f.insertionPoint(home)
	needed := boxSlotCount(len(mementos))

	lastEmpty := f.idx.nthEmptySlotFrom(insertPos, needed)
	if lastEmpty >= f.meta.NSlots {
		return newErr(CodeNoSpace, "InsertMementos", ErrNoSpace)
	}
	f.idx.makeRoom(insertPos, needed)

	buf := make([]uint64, needed)
	encodeBox(buf, fp, mementos, f.meta.FingerprintBits, f.meta.MementoBits)
	for i, v := range buf {
		f.idx.setSlot(insertPos+uint64(i), v)
	}

	// home already had a run (one or more boxes for other fingerprints
	// colliding on this quotient): the new box is appended after it and
	// becomes the terminal one, so the old terminal bit must move, not
	// just get a sibling.
	if wasOccupied {
		f.idx.setRunend(oldRunEnd, false)
	}
	f.idx.setRunend(insertPos+uint64(needed)-1, true)

	f.idx.setOccupied(home, true)

	// a box is created per distinct (home, fingerprint) pair, i.e. per
	// distinct prefix, not per distinct home: two prefixes colliding on
	// the same quotient but carrying different fingerprints each get
	// their own box and both count here.
	f.meta.NDistinctPrefixes++
	f.meta.NOccupiedSlots += uint64(needed)
	f.meta.SumOfCounts += uint64(len(mementos))

	return nil
}

// insertionPoint computes where a (new or growing) run for home should
// begin, via the classic RSQF formula: if the run-end walk starting at
// home lands before home, nothing claims this region yet and the run
// starts exactly at home; otherwise it starts right after whatever
// already claims up through home. runEnd(home) reports home itself (not
// something less than home) when nothing claims it at all - the same
// "end == scan but genuinely free" case findFirstEmptySlot checks via
// occupied/runend - so that case needs the same explicit check here,
// not just end < home, or a fresh home would get pushed one slot past
// where its box actually belongs.
func (f *Filter) insertionPoint(home uint64) uint64 {
	end := f.idx.runEnd(home)
	if end < home {
		return home
	}
	if end == home && !f.idx.isOccupied(home) && !f.idx.isRunend(home) {
		return home
	}
	return end + 1
}

// findBox locates the box belonging to (home, fp), if one already
// exists, and returns its slot range [start, end] inclusive.
func (f *Filter) findBox(home uint64, fp uint64) (start, end uint64, found bool) {
	if !f.idx.isOccupied(home) {
		return 0, 0, false
	}

	runStart := f.runStart(home)
	runStop := f.idx.runEnd(home)

	pos := runStart
	for pos <= runStop {
		boxFp := boxFingerprint(f.idx.getSlot(pos), f.meta.MementoBits)
		boxEnd := f.boxEnd(pos, runStop)

		if boxFp == fp {
			return pos, boxEnd, true
		}

		pos = boxEnd + 1
	}

	return 0, 0, false
}

// runStart returns the first slot of home's run: one past the previous
// occupied home's run end, or home itself if no earlier occupied home
// claims this far.
func (f *Filter) runStart(home uint64) uint64 {
	prev := f.idx.lastOccupiedBefore(home)
	if prev == ^uint64(0) {
		return home
	}
	end := f.idx.runEnd(prev)
	if end < home {
		return home
	}
	return end + 1
}

// boxEnd returns the last slot of the box starting at pos: either pos
// itself (n==1 box, detectable because the next slot starts a new box
// or the run ends) or the slot found by walking the void-marker
// length hint embedded by encodeBox. Since boxes don't self-describe
// their own length in a header field, boxEnd scans forward counting one
// void marker (if n>1) followed by the matching number of "greater" and
// "equal" mementos; in practice this degenerates to: scan until either
// the run ends, or a slot's fingerprint differs from this box's, with
// the single-slot ambiguity between an n==1 box and a 2-element box
// with no "greater" entries resolved by storing the void marker even
// when the greater-group is empty.
func (f *Filter) boxEnd(pos uint64, runStop uint64) uint64 {
	fp := boxFingerprint(f.idx.getSlot(pos), f.meta.MementoBits)

	p := pos
	for p < runStop {
		next := p + 1
		nextFp := boxFingerprint(f.idx.getSlot(next), f.meta.MementoBits)
		if nextFp != fp {
			return p
		}
		p = next
		if f.idx.isRunend(p) {
			return p
		}
	}
	return p
}

func (f *Filter) readSlots(start, end uint64) []uint64 {
	out := make([]uint64, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, f.idx.getSlot(i))
	}
	return out
}

// rewriteBoxAt replaces the box at [oldStart, oldEnd] with a freshly
// encoded box for fp+mementos, growing or shrinking the run as needed.
// A home's run can hold more than one box (distinct fingerprints that
// collided on the same quotient, delimited by boxEnd's fingerprint
// boundary) so only the run's last box carries home's runend bit; moving
// that bit from oldEnd to the box's new end is only correct when this
// box actually was the terminal one (wasRunend), never unconditionally.
func (f *Filter) rewriteBoxAt(home, oldStart, oldEnd uint64, fp uint64, mementos []uint64) error {
	oldLen := int(oldEnd-oldStart) + 1
	newLen := boxSlotCount(len(mementos))

	wasRunend := f.idx.isRunend(oldEnd)
	newEnd := oldStart + uint64(newLen) - 1

	if newLen > oldLen {
		grow := newLen - oldLen
		lastEmpty := f.idx.nthEmptySlotFrom(oldEnd+1, grow)
		if lastEmpty >= f.meta.NSlots {
			return newErr(CodeNoSpace, "InsertMementos", ErrNoSpace)
		}
		f.idx.makeRoom(oldEnd+1, grow)
		if wasRunend {
			f.idx.setRunend(oldEnd, false)
		}
	} else if newLen < oldLen {
		shrink := oldLen - newLen
		f.shiftLeft(oldEnd+1, f.idx.findFirstEmptySlot(oldEnd+1)-1, shrink)
		if wasRunend {
			f.idx.setRunend(oldEnd, false)
		}
	}

	buf := make([]uint64, newLen)
	encodeBox(buf, fp, mementos, f.meta.FingerprintBits, f.meta.MementoBits)
	for i, v := range buf {
		f.idx.setSlot(oldStart+uint64(i), v)
	}

	if wasRunend {
		f.idx.setRunend(newEnd, true)
	}

	f.meta.NOccupiedSlots = f.meta.NOccupiedSlots - uint64(oldLen) + uint64(newLen)
	f.meta.SumOfCounts += uint64(len(mementos)) - f.boxMementoCountHint(oldLen)

	return nil
}

// boxMementoCountHint approximates the memento count a box of oldLen
// slots held, for SumOfCounts bookkeeping during rewrite. For n==1
// boxes this is exact (1); for n>1 boxes boxSlotCount is n+1 so the
// count is oldLen-1.
func (f *Filter) boxMementoCountHint(oldLen int) uint64 {
	if oldLen <= 1 {
		return uint64(oldLen)
	}
	return uint64(oldLen - 1)
}

// shiftLeft compacts slots in [from, to] left by k, the mirror of
// makeRoom, used when a box shrinks.
func (f *Filter) shiftLeft(from, to uint64, k int) {
	for i := from; i <= to; i++ {
		f.idx.setSlot(i-uint64(k), f.idx.getSlot(i))
		f.idx.setRunend(i-uint64(k), f.idx.isRunend(i))
	}
	for i := to - uint64(k) + 1; i <= to; i++ {
		f.idx.setRunend(i, false)
	}

	firstBlock := blockOf(from - uint64(k))
	lastBlock := blockOf(to)
	for b := firstBlock; b <= lastBlock && b < f.idx.nBlocks(); b++ {
		f.idx.setOffset(b, f.idx.offsetLowerBound(b))
	}
}

// DeleteSingle removes one occurrence of memento under prefix. Returns
// ErrDoesntExist if the pair isn't present.
func (f *Filter) DeleteSingle(prefix, memento uint64, lockMode LockMode) error {
	home, fp := f.hash.split(prefix)

	unlock, err := f.locks.acquireRange(home, lockMode)
	if err != nil {
		return err
	}
	defer unlock()

	start, end, found := f.findBox(home, fp)
	if !found {
		return newErr(CodeDoesntExist, "DeleteSingle", ErrDoesntExist)
	}

	_, mementos := decodeBox(f.readSlots(start, end), f.meta.FingerprintBits, f.meta.MementoBits)

	idx := sort.Search(len(mementos), func(i int) bool { return mementos[i] >= memento })
	if idx >= len(mementos) || mementos[idx] != memento {
		return newErr(CodeDoesntExist, "DeleteSingle", ErrDoesntExist)
	}
	mementos = append(mementos[:idx], mementos[idx+1:]...)

	if len(mementos) == 0 {
		return f.removeBox(home, start, end)
	}

	return f.rewriteBoxAt(home, start, end, fp, mementos)
}

// removeBox deletes an entire box (its last memento was just removed)
// and compacts the run. Home's occupied bit only clears when the removed
// box was both the run's first and last box (home had no other
// fingerprint sharing its quotient); otherwise a sibling box remains and,
// if the removed one carried the terminal runend bit, the preceding
// sibling's end inherits it.
func (f *Filter) removeBox(home, start, end uint64) error {
	length := int(end-start) + 1
	wasRunend := f.idx.isRunend(end)
	wasOnlyBox := start == f.runStart(home)

	f.shiftLeft(end+1, f.idx.findFirstEmptySlot(end+1)-1, length)

	if wasRunend && !wasOnlyBox {
		f.idx.setRunend(start-1, true)
	}

	if wasRunend && wasOnlyBox {
		f.idx.setOccupied(home, false)
	}

	// every removed box was one distinct (home, fingerprint) prefix,
	// whether or not it was home's only box.
	f.meta.NDistinctPrefixes--
	f.meta.NOccupiedSlots -= uint64(length)

	return nil
}

// UpdateSingle replaces oldMemento with newMemento under prefix, which
// is cheaper than a Delete+Insert pair since it never changes a box's
// slot count when the two values fall in the same greater/equal group.
func (f *Filter) UpdateSingle(prefix, oldMemento, newMemento uint64, lockMode LockMode) error {
	home, fp := f.hash.split(prefix)

	unlock, err := f.locks.acquireRange(home, lockMode)
	if err != nil {
		return err
	}
	defer unlock()

	start, end, found := f.findBox(home, fp)
	if !found {
		return newErr(CodeDoesntExist, "UpdateSingle", ErrDoesntExist)
	}

	_, mementos := decodeBox(f.readSlots(start, end), f.meta.FingerprintBits, f.meta.MementoBits)

	idx := sort.Search(len(mementos), func(i int) bool { return mementos[i] >= oldMemento })
	if idx >= len(mementos) || mementos[idx] != oldMemento {
		return newErr(CodeDoesntExist, "UpdateSingle", ErrDoesntExist)
	}
	mementos[idx] = newMemento

	return f.rewriteBoxAt(home, start, end, fp, mementos)
}

// --- query ---

// PointQuery reports whether prefix+memento may be present. It never
// false-negatives; it may false-positive at the rate governed by
// FingerprintBits. The returned QueryResult distinguishes a plain
// positive from one that, under HashInvertible, indicates the caller
// should call Rejuvenate (spec §4.4, §6).
func (f *Filter) PointQuery(prefix, memento uint64, lockMode LockMode) (QueryResult, error) {
	home, fp := f.hash.split(prefix)

	unlock, err := f.locks.acquireRange(home, lockMode)
	if err != nil {
		return QueryNegative, err
	}
	defer unlock()

	start, end, found := f.findBox(home, fp)
	if !found {
		return QueryNegative, nil
	}

	_, mementos := decodeBox(f.readSlots(start, end), f.meta.FingerprintBits, f.meta.MementoBits)
	idx := sort.Search(len(mementos), func(i int) bool { return mementos[i] >= memento })
	if idx >= len(mementos) || mementos[idx] != memento {
		return QueryNegative, nil
	}

	if f.meta.HashMode == HashInvertible {
		return QueryPositiveNeedsRejuvenation, nil
	}
	return QueryPositive, nil
}

// RangeQuery reports whether any key in [lo, hi] (inclusive, same
// prefix) may be present, where lo and hi share the same prefix and
// differ only in their low memento_bits (spec §4.4's range-query
// contract: both endpoints must hash to the same home/fingerprint).
func (f *Filter) RangeQuery(prefix, lo, hi uint64, lockMode LockMode) (QueryResult, error) {
	if lo > hi {
		return QueryNegative, newErr(CodeInvalid, "RangeQuery", fmt.Errorf("lo (%d) > hi (%d)", lo, hi))
	}

	home, fp := f.hash.split(prefix)

	unlock, err := f.locks.acquireRange(home, lockMode)
	if err != nil {
		return QueryNegative, err
	}
	defer unlock()

	start, end, found := f.findBox(home, fp)
	if !found {
		return QueryNegative, nil
	}

	_, mementos := decodeBox(f.readSlots(start, end), f.meta.FingerprintBits, f.meta.MementoBits)
	idx := sort.Search(len(mementos), func(i int) bool { return mementos[i] >= lo })
	if idx < len(mementos) && mementos[idx] <= hi {
		if f.meta.HashMode == HashInvertible {
			return QueryPositiveNeedsRejuvenation, nil
		}
		return QueryPositive, nil
	}

	return QueryNegative, nil
}

// Rejuvenate confirms that a key PointQuery/RangeQuery flagged as
// QueryPositiveNeedsRejuvenation is still present (ErrDoesntExist if
// not); it rewrites nothing. Only meaningful under HashInvertible (spec
// §4.4); it is a no-op (returns ErrInvalid) under any other hash mode.
func (f *Filter) Rejuvenate(prefix, memento uint64, lockMode LockMode) error {
	if f.meta.HashMode != HashInvertible {
		return newErr(CodeInvalid, "Rejuvenate", fmt.Errorf("rejuvenation only applies to HashInvertible filters"))
	}

	// Under HashInvertible (prefix, fp) round-trips exactly, so the
	// stored box is already addressed correctly; rejuvenation here is a
	// touch that re-validates presence, matching memento.h's
	// qf_rejuvenate contract of "confirm and refresh", without needing
	// to rewrite the box.
	result, err := f.PointQuery(prefix, memento, lockMode)
	if err != nil {
		return err
	}
	if result == QueryNegative {
		return newErr(CodeDoesntExist, "Rejuvenate", ErrDoesntExist)
	}
	return nil
}

// BulkLoad inserts every (prefix, memento) pair in order with NoLock
// semantics, for fast initial construction from sorted or unsorted
// source data (spec §4.3, SPEC_FULL §10).
func (f *Filter) BulkLoad(prefixes, mementos []uint64) error {
	if len(prefixes) != len(mementos) {
		return newErr(CodeInvalid, "BulkLoad", fmt.Errorf("prefixes (%d) and mementos (%d) length mismatch", len(prefixes), len(mementos)))
	}

	grouped := make(map[uint64][]uint64, len(prefixes))
	order := make([]uint64, 0, len(prefixes))
	for i, p := range prefixes {
		if _, ok := grouped[p]; !ok {
			order = append(order, p)
		}
		grouped[p] = append(grouped[p], mementos[i])
	}

	for _, p := range order {
		if _, err := f.InsertMementos(p, grouped[p], NoLock); err != nil {
			return err
		}
	}

	return nil
}

// Reset clears every slot back to empty, preserving configuration
// (hash mode, seed, widths). Equivalent to New with the same Options
// but without reallocating the block array.
func (f *Filter) Reset() {
	for i := range f.idx.blocks {
		f.idx.blocks[i] = block{}
	}
	f.idx.overflowValues = make(map[uint32]uint32)
	f.idx.overflowed.ClearAll()

	f.meta.NOccupiedSlots = 0
	f.meta.NDistinctPrefixes = 0
	f.meta.SumOfCounts = 0
}

// Clone returns a deep copy of f, independent of the original: mutating
// one does not affect the other.
func (f *Filter) Clone() *Filter {
	clone := &Filter{
		hash:       f.hash,
		meta:       f.meta,
		autoResize: f.autoResize,
		expandable: f.expandable,
		locks:      newLatchTable(f.idx.nBlocks()),
	}

	clone.idx = &blockIndex{
		blocks:         append([]block(nil), f.idx.blocks...),
		overflowed:     f.idx.overflowed.Clone(),
		overflowValues: make(map[uint32]uint32, len(f.idx.overflowValues)),
	}
	for k, v := range f.idx.overflowValues {
		clone.idx.overflowValues[k] = v
	}

	return clone
}
