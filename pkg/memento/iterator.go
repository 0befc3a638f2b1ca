package memento

// Iterator walks every (prefix, memento) pair stored in a Filter in
// slot order, grouped by box. Grounded on original_source/include/
// memento.h's qf_iterator_from_position / qfi_next / qfi_end shape: an
// explicit cursor object rather than a callback, so callers can pause
// and resume a scan.
type Iterator struct {
	f   *Filter
	pos uint64

	curHome     uint64
	curFp       uint64
	curMementos []uint64
	curIdx      int

	done bool
}

// IteratorFromPosition starts an iterator at the first box at or after
// slot position. Passing 0 iterates the whole filter.
func (f *Filter) IteratorFromPosition(position uint64) *Iterator {
	it := &Iterator{f: f, pos: position}
	it.advanceToNextBox()
	return it
}

// IteratorByKey starts an iterator at the first box whose home slot is
// >= the home slot prefix hashes to, the shape qfi_start_from_key in the
// original API provides for resuming a scan from a known key.
func (f *Filter) IteratorByKey(prefix uint64) *Iterator {
	home, _ := f.hash.split(prefix)
	return f.IteratorFromPosition(home)
}

// End reports whether the iterator has been exhausted.
func (it *Iterator) End() bool {
	return it.done
}

// Hash returns the current element's (home, fingerprint) pair, the
// qfi_get_hash equivalent.
func (it *Iterator) Hash() (home, fingerprint uint64) {
	return it.curHome, it.curFp
}

// Memento returns the current element's memento value.
func (it *Iterator) Memento() uint64 {
	return it.curMementos[it.curIdx]
}

// Next advances the iterator to the next (prefix, memento) pair,
// reporting false once exhausted.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}

	it.curIdx++
	if it.curIdx < len(it.curMementos) {
		return true
	}

	it.pos = it.boxEndOfCurrent() + 1
	it.advanceToNextBox()
	return !it.done
}

func (it *Iterator) boxEndOfCurrent() uint64 {
	return it.f.boxEnd(it.pos, it.f.idx.runEnd(it.curHome))
}

// advanceToNextBox scans forward from it.pos for the next occupied run,
// decodes its first box, and populates the cursor; sets done if the
// filter has no more boxes.
func (it *Iterator) advanceToNextBox() {
	idx := it.f.idx
	nSlots := idx.nSlots()

	scan := it.pos
	for scan < nSlots {
		home := it.homeOwning(scan)
		if home == ^uint64(0) {
			scan++
			continue
		}

		runStop := idx.runEnd(home)
		boxStart := scan
		if boxStart < it.f.runStart(home) {
			boxStart = it.f.runStart(home)
		}
		if boxStart > runStop {
			scan = runStop + 1
			continue
		}

		boxEnd := it.f.boxEnd(boxStart, runStop)
		fp, mementos := decodeBox(it.f.readSlots(boxStart, boxEnd), it.f.meta.FingerprintBits, it.f.meta.MementoBits)

		it.pos = boxStart
		it.curHome = home
		it.curFp = fp
		it.curMementos = mementos
		it.curIdx = 0
		it.done = false
		return
	}

	it.done = true
}

// homeOwning returns the home slot whose run covers slot, i.e. the
// nearest occupied home at or before slot whose run_end is >= slot, or
// ^uint64(0) if no run covers slot (it's genuinely empty space).
func (it *Iterator) homeOwning(slot uint64) uint64 {
	idx := it.f.idx

	candidate := slot
	if !idx.isOccupied(candidate) {
		prev := idx.lastOccupiedBefore(slot + 1)
		if prev == ^uint64(0) {
			return ^uint64(0)
		}
		candidate = prev
	}

	if idx.runEnd(candidate) < slot {
		return ^uint64(0)
	}
	return candidate
}

// RangeIterator wraps Iterator to filter down to mementos within [lo,
// hi] under a single prefix's fingerprint, the convenience shape
// RangeQuery's callers often want when they need every matching
// memento rather than a yes/no answer.
type RangeIterator struct {
	it    *Iterator
	home  uint64
	fp    uint64
	lo    uint64
	hi    uint64
	valid bool
}

// RangeIteratorByKey returns a RangeIterator over prefix's box, limited
// to mementos in [lo, hi].
func (f *Filter) RangeIteratorByKey(prefix, lo, hi uint64) *RangeIterator {
	home, fp := f.hash.split(prefix)
	ri := &RangeIterator{it: f.IteratorByKey(prefix), home: home, fp: fp, lo: lo, hi: hi}
	ri.seek()
	return ri
}

func (ri *RangeIterator) seek() {
	for !ri.it.End() {
		home, fp := ri.it.Hash()
		if home > ri.home {
			break
		}
		if home == ri.home && fp == ri.fp {
			m := ri.it.Memento()
			if m >= ri.lo && m <= ri.hi {
				ri.valid = true
				return
			}
			if m > ri.hi {
				break
			}
		}
		if !ri.it.Next() {
			break
		}
	}
	ri.valid = false
}

// End reports whether the range iterator has no more matches.
func (ri *RangeIterator) End() bool { return !ri.valid }

// Memento returns the current matching memento value.
func (ri *RangeIterator) Memento() uint64 { return ri.it.Memento() }

// Next advances to the next matching memento.
func (ri *RangeIterator) Next() bool {
	if !ri.it.Next() {
		ri.valid = false
		return false
	}
	ri.seek()
	return ri.valid
}
