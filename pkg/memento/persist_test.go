package memento

import (
	"path/filepath"
	"testing"
)

func Test_Save_Then_Open_Roundtrips_Filter_Contents(t *testing.T) {
	f, err := New(Options{
		NSlots:          256,
		FingerprintBits: 8,
		MementoBits:     4,
		HashMode:        HashNone,
		Seed:            7,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	prefix := uint64(3) << 8
	if _, err := f.InsertMementos(prefix, []uint64{1, 5, 9}, NoLock); err != nil {
		t.Fatalf("InsertMementos: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.mmf")
	if err := f.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for _, m := range []uint64{1, 5, 9} {
		result, err := reopened.PointQuery(prefix, m, NoLock)
		if err != nil {
			t.Fatalf("PointQuery(%d): %v", m, err)
		}
		if result != QueryPositive {
			t.Fatalf("PointQuery(%d) = %v after reopen, want QueryPositive", m, result)
		}
	}

	if reopened.NumSlots() != f.NumSlots() {
		t.Fatalf("NumSlots after reopen = %d, want %d", reopened.NumSlots(), f.NumSlots())
	}
}

func Test_Open_Rejects_Bad_Magic(t *testing.T) {
	_, err := decodeFilter(make([]byte, mmf1HeaderSize+8))
	if err == nil {
		t.Fatal("expected ErrCorrupt for all-zero header")
	}
}

func Test_Open_Rejects_File_Too_Short(t *testing.T) {
	_, err := decodeFilter([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected ErrCorrupt for short file")
	}
}
