package memento

import (
	"reflect"
	"testing"
)

func Test_BoxSlotCount_Returns_One_When_Single_Memento(t *testing.T) {
	if got := boxSlotCount(1); got != 1 {
		t.Fatalf("boxSlotCount(1) = %d, want 1", got)
	}
}

func Test_BoxSlotCount_Returns_NPlusOne_When_Multiple_Mementos(t *testing.T) {
	for _, n := range []int{2, 3, 10} {
		if got := boxSlotCount(n); got != n+1 {
			t.Fatalf("boxSlotCount(%d) = %d, want %d", n, got, n+1)
		}
	}
}

func Test_EncodeDecodeBox_Roundtrips_When_Single_Memento(t *testing.T) {
	const fpBits, memBits = 10, 5
	fp := uint64(37)

	buf := make([]uint64, boxSlotCount(1))
	encodeBox(buf, fp, []uint64{12}, fpBits, memBits)

	gotFp, gotMementos := decodeBox(buf, fpBits, memBits)
	if gotFp != fp {
		t.Fatalf("fp = %d, want %d", gotFp, fp)
	}
	if !reflect.DeepEqual(gotMementos, []uint64{12}) {
		t.Fatalf("mementos = %v, want [12]", gotMementos)
	}
}

func Test_EncodeDecodeBox_Roundtrips_When_Many_Mementos_Unsorted(t *testing.T) {
	const fpBits, memBits = 8, 6
	fp := uint64(200)
	mementos := []uint64{5, 1, 9, 1, 3, 9, 0}

	buf := make([]uint64, boxSlotCount(len(mementos)))
	encodeBox(buf, fp, mementos, fpBits, memBits)

	gotFp, gotMementos := decodeBox(buf, fpBits, memBits)
	if gotFp != fp {
		t.Fatalf("fp = %d, want %d", gotFp, fp)
	}

	want := append([]uint64(nil), mementos...)
	sortUint64s(want)
	if !reflect.DeepEqual(gotMementos, want) {
		t.Fatalf("mementos = %v, want %v", gotMementos, want)
	}
}

func Test_EncodeDecodeBox_Roundtrips_When_All_Mementos_Equal(t *testing.T) {
	const fpBits, memBits = 4, 4
	fp := uint64(3)
	mementos := []uint64{7, 7, 7}

	buf := make([]uint64, boxSlotCount(len(mementos)))
	encodeBox(buf, fp, mementos, fpBits, memBits)

	gotFp, gotMementos := decodeBox(buf, fpBits, memBits)
	if gotFp != fp {
		t.Fatalf("fp = %d, want %d", gotFp, fp)
	}
	if !reflect.DeepEqual(gotMementos, []uint64{7, 7, 7}) {
		t.Fatalf("mementos = %v, want [7 7 7]", gotMementos)
	}
}

func Test_VoidMemento_Is_Max_Value_For_Width(t *testing.T) {
	if got := voidMemento(4); got != 15 {
		t.Fatalf("voidMemento(4) = %d, want 15", got)
	}
}

func Test_BoxFingerprint_Reads_Head_Without_Full_Decode(t *testing.T) {
	const memBits = 5
	head := (uint64(42) << memBits) | 3
	if got := boxFingerprint(head, memBits); got != 42 {
		t.Fatalf("boxFingerprint = %d, want 42", got)
	}
}

func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
