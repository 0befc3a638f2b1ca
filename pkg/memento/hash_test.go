package memento

import "testing"

func Test_FastReduce_Maps_Into_Range(t *testing.T) {
	for _, n := range []uint64{64, 128, 1024} {
		for _, x := range []uint32{0, 1, 0xffffffff, 0x80000000} {
			got := fastReduce(x, n)
			if got >= n {
				t.Fatalf("fastReduce(%d, %d) = %d, want < %d", x, n, got, n)
			}
		}
	}
}

func Test_FastReduce_Is_Monotonic_In_X(t *testing.T) {
	n := uint64(1024)
	prev := fastReduce(0, n)
	for x := uint32(1); x < 0xffffffff; x += 0x01000000 {
		got := fastReduce(x, n)
		if got < prev {
			t.Fatalf("fastReduce not monotonic: x=%d got %d < prev %d", x, got, prev)
		}
		prev = got
	}
}

func Test_HashLayer_SplitDefault_Home_In_Range(t *testing.T) {
	h := hashLayer{mode: HashDefault, seed: 1, nSlots: 1024, fingerprintBits: 10}
	for _, prefix := range []uint64{0, 1, 12345, 0xffffffffffffffff} {
		home, fp := h.split(prefix)
		if home >= h.nSlots {
			t.Fatalf("home %d out of range [0, %d)", home, h.nSlots)
		}
		if fp >= (uint64(1) << h.fingerprintBits) {
			t.Fatalf("fp %d exceeds fingerprint_bits width", fp)
		}
	}
}

func Test_HashLayer_SplitInvertible_Roundtrips(t *testing.T) {
	h := hashLayer{mode: HashInvertible, seed: 99, nSlots: 256, fingerprintBits: 12}
	width := uint32(8) + h.fingerprintBits // quotient_bits for nSlots=256 is 8

	for _, prefix := range []uint64{0, 1, 42, 1 << 19, (uint64(1) << width) - 1} {
		prefix &= (uint64(1) << width) - 1
		home, fp := h.splitInvertible(prefix)
		got := h.unsplitInvertible(home, fp)
		if got != prefix {
			t.Fatalf("unsplitInvertible(splitInvertible(%d)) = %d, want %d", prefix, got, prefix)
		}
	}
}

func Test_HashLayer_SplitInvertible_Home_And_Fp_In_Range(t *testing.T) {
	h := hashLayer{mode: HashInvertible, seed: 7, nSlots: 64, fingerprintBits: 6}
	for _, prefix := range []uint64{0, 5, 63, 4095} {
		home, fp := h.splitInvertible(prefix)
		if home >= h.nSlots {
			t.Fatalf("home %d out of range", home)
		}
		if fp >= (uint64(1) << h.fingerprintBits) {
			t.Fatalf("fp %d out of range", fp)
		}
	}
}

func Test_HashLayer_SplitNone_Passes_Through_Bits(t *testing.T) {
	h := hashLayer{mode: HashNone, nSlots: 1024, fingerprintBits: 10}
	// combined = (home << fingerprint_bits) | fp
	combined := (uint64(37) << 10) | 500
	home, fp := h.splitNone(combined)
	if home != 37 {
		t.Fatalf("home = %d, want 37", home)
	}
	if fp != 500 {
		t.Fatalf("fp = %d, want 500", fp)
	}
}

func Test_ModInverseOdd_Is_True_Inverse_Modulo_2to64(t *testing.T) {
	for _, m := range []uint64{1, 3, 12345, 0xdeadbeefcafebabe | 1} {
		inv := modInverseOdd(m)
		if m*inv != 1 {
			t.Fatalf("m=%d * inv=%d = %d, want 1 (mod 2^64 wraparound)", m, inv, m*inv)
		}
	}
}

func Test_MixForward_MixInverse_Roundtrip(t *testing.T) {
	for _, width := range []uint32{8, 16, 32, 40} {
		mask := widthMask(width)
		x := uint64(0x123456789abcdef0) & mask
		mixed := mixForward(x, width, 42)
		back := mixInverse(mixed, width, 42)
		if back != x {
			t.Fatalf("width=%d: mixInverse(mixForward(%d)) = %d, want %d", width, x, back, x)
		}
	}
}
