package driver

import "testing"

func TestArrayCopyFromValidatesKindAndLength(t *testing.T) {
	a, _ := NewArray(F32, 4, 0)
	b, _ := NewArray(F32, 4, 0)
	copy(b.Float32(), []float32{1, 2, 3, 4})

	if err := a.CopyFrom(b); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	got := a.Float32()
	want := []float32{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %v want %v", i, got[i], want[i])
		}
	}

	mismatchKind, _ := NewArray(I32, 4, 0)
	if err := a.CopyFrom(mismatchKind); !IsType(err, ErrTypeBinding) {
		t.Errorf("expected a Binding error on kind mismatch, got %v", err)
	}

	mismatchLen, _ := NewArray(F32, 3, 0)
	if err := a.CopyFrom(mismatchLen); !IsType(err, ErrTypeBinding) {
		t.Errorf("expected a Binding error on length mismatch, got %v", err)
	}
}

func TestArrayStructElemSize(t *testing.T) {
	a, err := NewArray(Struct, 10, 24)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}
	if a.ElemSize() != 24 {
		t.Errorf("ElemSize() = %d, want 24", a.ElemSize())
	}
	if len(a.Bytes()) != 240 {
		t.Errorf("len(Bytes()) = %d, want 240", len(a.Bytes()))
	}

	if _, err := NewArray(Struct, 10, 0); err == nil {
		t.Error("expected an error for Struct array with elemSize <= 0")
	}
}

func TestAllocateDuplicateMatchesPrimary(t *testing.T) {
	primary, _ := NewArray(F64, 16, 0)
	dup, err := AllocateDuplicate(primary)
	if err != nil {
		t.Fatalf("AllocateDuplicate: %v", err)
	}
	if dup.Kind() != primary.Kind() || dup.Len() != primary.Len() {
		t.Fatalf("duplicate does not match primary: kind=%v len=%d", dup.Kind(), dup.Len())
	}
	ReleaseDuplicate(dup)
}

func TestWrapFloat32SharesBackingArray(t *testing.T) {
	host := []float32{1, 2, 3}
	a := WrapFloat32(host)
	a.Float32()[0] = 99
	if host[0] != 99 {
		t.Error("WrapFloat32 should view the host slice in place, not copy it")
	}
}
