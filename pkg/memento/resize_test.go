package memento

import "testing"

func Test_ResizeLocked_Doubles_NSlots_Under_HashInvertible(t *testing.T) {
	f, err := New(Options{
		NSlots:          64,
		FingerprintBits: 10,
		MementoBits:     4,
		HashMode:        HashInvertible,
		Seed:            3,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := f.resizeLocked(); err != nil {
		t.Fatalf("resizeLocked: %v", err)
	}

	if f.NumSlots() != 128 {
		t.Fatalf("NumSlots after resize = %d, want 128", f.NumSlots())
	}
}

func Test_ResizeLocked_Preserves_Contents_Under_HashInvertible(t *testing.T) {
	f, err := New(Options{
		NSlots:          64,
		FingerprintBits: 10,
		MementoBits:     4,
		HashMode:        HashInvertible,
		Seed:            3,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	prefix := uint64(0x1234)
	if _, err := f.InsertSingle(prefix, 5, NoLock); err != nil {
		t.Fatalf("InsertSingle: %v", err)
	}

	if err := f.resizeLocked(); err != nil {
		t.Fatalf("resizeLocked: %v", err)
	}

	result, err := f.PointQuery(prefix, 5, NoLock)
	if err != nil {
		t.Fatalf("PointQuery: %v", err)
	}
	if result == QueryNegative {
		t.Fatal("entry lost across resize")
	}
}

func Test_ResizeLocked_Returns_NoSpace_Under_HashDefault(t *testing.T) {
	f, err := New(Options{
		NSlots:          64,
		FingerprintBits: 10,
		MementoBits:     4,
		HashMode:        HashDefault,
		Seed:            3,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := f.resizeLocked(); err == nil {
		t.Fatal("expected ErrNoSpace, HashDefault can't resize")
	}
}

func Test_ResizeExpandable_Shrinks_FingerprintBits(t *testing.T) {
	f, err := New(Options{
		NSlots:          64,
		FingerprintBits: 10,
		MementoBits:     4,
		HashMode:        HashInvertible,
		Expandable:      true,
		Seed:            11,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := f.resizeLocked(); err != nil {
		t.Fatalf("resizeLocked: %v", err)
	}

	if f.NumFingerprintBits() != 9 {
		t.Fatalf("NumFingerprintBits after expandable resize = %d, want 9", f.NumFingerprintBits())
	}
	if f.NumSlots() != 128 {
		t.Fatalf("NumSlots after expandable resize = %d, want 128", f.NumSlots())
	}
}
