package memento

// resizeLocked doubles the filter's slot count in place, the driver
// behind AutoResize (spec §4.5); it is not exported.
// Callers must already hold whatever latches they need; resizeLocked
// itself takes no block latches since it rebuilds the entire index and
// expects exclusive access to the whole filter (WaitForLock/TryOnce's
// per-block latching is for ordinary mutations, not structural resize).
func (f *Filter) resizeLocked() error {
	// HashDefault's murmur3 mixer isn't invertible, so a resize can't
	// recover the original prefix from a stored (home, fingerprint) pair
	// to re-split it under the new width. Callers who want AutoResize
	// need HashInvertible or HashNone; see DESIGN.md's notes on
	// resize.go.
	if f.meta.HashMode == HashDefault {
		return newErr(CodeNoSpace, "resize", ErrNoSpace)
	}

	if f.expandable {
		return f.resizeExpandable()
	}
	return f.resizeFixedWidth()
}

// resizeFixedWidth doubles n_slots while holding fingerprint_bits fixed.
// Every existing box is re-split under the new (larger) quotient width:
// since fast_reduce and the affine bijection are both defined in terms
// of n_slots, a prefix's home slot generally changes when n_slots
// changes, so boxes can't just be copied into the larger array at their
// old position. BulkLoad-style reinsertion via the decoded (fp, home)
// and the hash layer's own reconstruction keeps this simple at the cost
// of a full rehash; spec §4.5 accepts a full-filter driver for resize.
func (f *Filter) resizeFixedWidth() error {
	old := f.idx
	oldHash := f.hash

	newNSlots := f.meta.NSlots * 2

	f.idx = newBlockIndex(newNSlots / blockSlots)
	f.hash.nSlots = newNSlots
	f.meta.NSlots = newNSlots
	f.meta.NOccupiedSlots = 0
	f.meta.NDistinctPrefixes = 0
	f.meta.SumOfCounts = 0
	f.locks = newLatchTable(newNSlots / blockSlots)

	return f.reinsertAll(old, oldHash)
}

// resizeExpandable doubles n_slots and shrinks fingerprint_bits by one,
// growing quotient_bits by one in exchange (spec §4.5's "expandable"
// variant). quotient_bits+fingerprint_bits stays the same, so the full
// prefix bits are recovered from each stored (home, fingerprint) and
// re-split by the new hash layer, which turns one old fingerprint bit
// into a quotient bit. Each box is reinserted once; no box is
// duplicated, since HashDefault filters (whose prefix cannot be
// recovered) never reach this path.
func (f *Filter) resizeExpandable() error {
	if f.meta.FingerprintBits == 0 {
		return newErr(CodeNoSpace, "resizeExpandable", ErrNoSpace)
	}

	old := f.idx
	oldHash := f.hash

	newNSlots := f.meta.NSlots * 2
	newFingerprintBits := f.meta.FingerprintBits - 1

	f.idx = newBlockIndex(newNSlots / blockSlots)
	f.hash.nSlots = newNSlots
	f.hash.fingerprintBits = newFingerprintBits
	f.meta.NSlots = newNSlots
	f.meta.FingerprintBits = newFingerprintBits
	f.meta.NOccupiedSlots = 0
	f.meta.NDistinctPrefixes = 0
	f.meta.SumOfCounts = 0
	f.locks = newLatchTable(newNSlots / blockSlots)

	return f.reinsertAllExpand(old, oldHash)
}

// reinsertAll walks every box in the old index and reinserts it by
// recombining (old home, fingerprint) into the bit pattern the hash
// layer originally split from, then re-splitting under the new width.
// This only round-trips correctly under HashNone and HashInvertible; a
// HashDefault filter's resize instead needs the caller's original
// prefixes, which is why BulkLoad-backed callers should prefer
// HashInvertible when they plan to resize (see DESIGN.md's resize.go
// notes).
func (f *Filter) reinsertAll(old *blockIndex, oldHash hashLayer) error {
	for home := uint64(0); home < old.nSlots(); home++ {
		if !old.isOccupied(home) {
			continue
		}
		if err := f.reinsertRunAt(old, oldHash, home, identitySplit); err != nil {
			return err
		}
	}
	return nil
}

// reinsertAllExpand is reinsertAll's counterpart for the expandable
// resize, where the fingerprint has shrunk by one bit and the quotient
// has grown by one: each box is reinserted once under its reconstructed
// prefix (see expandSplit).
func (f *Filter) reinsertAllExpand(old *blockIndex, oldHash hashLayer) error {
	for home := uint64(0); home < old.nSlots(); home++ {
		if !old.isOccupied(home) {
			continue
		}
		if err := f.reinsertRunAt(old, oldHash, home, expandSplit); err != nil {
			return err
		}
	}
	return nil
}

// prefixReconstructor recombines an old (home, fingerprint) pair back
// into a raw prefix bit pattern, for resize's rehash-from-old-state
// path. identitySplit is the non-expanding case; expandSplit is the
// expandable case.
type prefixReconstructor func(oldHash hashLayer, home, fp uint64) []uint64

func identitySplit(oldHash hashLayer, home, fp uint64) []uint64 {
	return []uint64{oldHash.unsplitInvertible(home, fp)}
}

// expandSplit returns the single prefix that (home, fp) came from. The
// old quotient+fingerprint width equals the new one, so no bit is lost:
// unsplitInvertible masks to that width, and a second candidate with an
// extra fingerprint bit set would come back as the same prefix.
func expandSplit(oldHash hashLayer, home, fp uint64) []uint64 {
	return []uint64{oldHash.unsplitInvertible(home, fp)}
}

func (f *Filter) reinsertRunAt(old *blockIndex, oldHash hashLayer, home uint64, reconstruct prefixReconstructor) error {
	runStop := old.runEnd(home)
	prevEnd := uint64(0)
	if home > 0 {
		prevEnd = old.runEnd(home - 1)
	}
	runStart := home
	if home > 0 && prevEnd >= home {
		runStart = prevEnd + 1
	}

	pos := runStart
	for pos <= runStop {
		end := f.boxEndIn(old, pos, runStop)
		fp, mementos := decodeBox(old.sliceSlots(pos, end), oldHash.fingerprintBits, f.meta.MementoBits)

		for _, prefix := range reconstruct(oldHash, home, fp) {
			if oldHash.mode == HashNone {
				prefix = home<<oldHash.fingerprintBits | fp
			}
			if _, err := f.InsertMementos(prefix, mementos, NoLock); err != nil {
				return err
			}
		}

		pos = end + 1
	}

	return nil
}

// boxEndIn mirrors Filter.boxEnd but operates directly on an arbitrary
// blockIndex (the old, pre-resize one), since Filter.boxEnd always
// reads through f.idx.
func (f *Filter) boxEndIn(idx *blockIndex, pos, runStop uint64) uint64 {
	fp := boxFingerprint(idx.getSlot(pos), f.meta.MementoBits)

	p := pos
	for p < runStop {
		next := p + 1
		nextFp := boxFingerprint(idx.getSlot(next), f.meta.MementoBits)
		if nextFp != fp {
			return p
		}
		p = next
		if idx.isRunend(p) {
			return p
		}
	}
	return p
}

func (bi *blockIndex) sliceSlots(start, end uint64) []uint64 {
	out := make([]uint64, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, bi.getSlot(i))
	}
	return out
}
