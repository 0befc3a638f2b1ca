package memento

import (
	"encoding/binary"
	"math/bits"

	"github.com/spaolacci/murmur3"
)

// hashLayer maps an input key to (home, fingerprint) per spec §4.4. It is
// held by Filter rather than being free functions so NONE-mode filters
// never touch murmur3 or the bijection table at all.
type hashLayer struct {
	mode            HashMode
	seed            uint32
	nSlots          uint64
	fingerprintBits uint32
}

// fastReduce maps a uniformly distributed 32-bit value into [0, n) without
// a division, per spec §4.4: fast_reduce(x, n) = (x * n) >> 32.
func fastReduce(x uint32, n uint64) uint64 {
	return (uint64(x) * n) >> 32
}

// split maps a raw 64-bit prefix to (home, fingerprint) under the layer's
// hash mode.
func (h hashLayer) split(prefix uint64) (home uint64, fp uint64) {
	switch h.mode {
	case HashDefault:
		return h.splitDefault(prefix)
	case HashInvertible:
		return h.splitInvertible(prefix)
	case HashNone:
		return h.splitNone(prefix)
	default:
		panic("memento: unknown hash mode")
	}
}

func (h hashLayer) splitDefault(prefix uint64) (home uint64, fp uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], prefix)

	digest := murmur3.Sum64WithSeed(buf[:], h.seed)

	// home is fast_reduce of the digest's low 32 bits; fingerprint is the
	// fingerprint_bits that sit just above the low quotient_bits.
	quotientBits := uint32(bits.TrailingZeros64(h.nSlots))
	low32 := uint32(digest)
	home = fastReduce(low32, h.nSlots)

	rest := digest >> quotientBits
	fp = rest & ((uint64(1) << h.fingerprintBits) - 1)

	return home, fp
}

// splitInvertible applies a seed-keyed bijection over the prefix's low
// (quotient_bits+fingerprint_bits) bits, keyed by seed, so the original
// value is recoverable via unsplitInvertible. No reference implementation
// of an invertible hash was present in the example pack; this is original
// code built directly to spec §4.4's "fixed bijection... recoverable"
// requirement.
func (h hashLayer) splitInvertible(prefix uint64) (home uint64, fp uint64) {
	quotientBits := uint32(bits.TrailingZeros64(h.nSlots))
	width := quotientBits + h.fingerprintBits

	mixed := mixForward(prefix&((uint64(1)<<width)-1), width, h.seed)

	home = mixed & (h.nSlots - 1)
	fp = (mixed >> quotientBits) & ((uint64(1) << h.fingerprintBits) - 1)

	return home, fp
}

// unsplitInvertible recovers the original prefix bits from (home, fp) under
// HashInvertible. Used by the iterator to reconstruct keys.
func (h hashLayer) unsplitInvertible(home, fp uint64) uint64 {
	quotientBits := uint32(bits.TrailingZeros64(h.nSlots))
	width := quotientBits + h.fingerprintBits

	mixed := home | (fp << quotientBits)

	return mixInverse(mixed, width, h.seed)
}

func (h hashLayer) splitNone(prefix uint64) (home uint64, fp uint64) {
	home = prefix >> h.fingerprintBits & (h.nSlots - 1)
	fp = prefix & ((uint64(1) << h.fingerprintBits) - 1)

	return home, fp
}

// mixRounds is the number of affine-mix rounds used by the invertible
// hash mode.
const mixRounds = 4

// mixForward and mixInverse implement a seed-keyed bijection on
// Z/2^width via alternating odd-multiply and xor rounds (the standard
// construction for an invertible finite-domain mix: multiplication by an
// odd constant and xor by any constant are each bijections on Z/2^width,
// and their inverses modulo 2^width are exactly their inverses modulo 2^64
// reduced mod 2^width, since 2^width divides 2^64). Round constants are
// themselves derived from murmur3, the same mixer HashDefault uses, so the
// invertible mode doesn't introduce a second, unrelated mixing primitive.
func mixForward(x uint64, width uint32, seed uint32) uint64 {
	mask := widthMask(width)
	v := x & mask

	for round := uint32(0); round < mixRounds; round++ {
		mul, add, xor := roundConstants(round, seed)
		v = ((v*mul + add) & mask) ^ (xor & mask)
	}

	return v & mask
}

func mixInverse(x uint64, width uint32, seed uint32) uint64 {
	mask := widthMask(width)
	v := x & mask

	for round := int(mixRounds) - 1; round >= 0; round-- {
		mul, add, xor := roundConstants(uint32(round), seed)
		v ^= xor & mask
		v = ((v - add) * modInverseOdd(mul)) & mask
	}

	return v & mask
}

func widthMask(width uint32) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}

	return (uint64(1) << width) - 1
}

func roundConstants(round uint32, seed uint32) (mul, add, xor uint64) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], round)

	mul = murmur3.Sum64WithSeed(append(buf[:], 'm'), seed) | 1 // force odd
	add = murmur3.Sum64WithSeed(append(buf[:], 'a'), seed)
	xor = murmur3.Sum64WithSeed(append(buf[:], 'x'), seed)

	return mul, add, xor
}

// modInverseOdd returns the multiplicative inverse of the odd number m
// modulo 2^64, via Newton-Raphson iteration (each step doubles the number
// of correct low bits: 3 -> 6 -> 12 -> 24 -> 48 -> 96, so five steps
// cover all 64).
func modInverseOdd(m uint64) uint64 {
	inv := m // correct mod 2^3 for any odd m

	for i := 0; i < 5; i++ {
		inv *= 2 - m*inv
	}

	return inv
}
