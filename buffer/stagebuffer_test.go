package buffer

import (
	"testing"

	"github.com/cephdon/crunchpool/driver"
)

func TestNewAllocatesMatchingDuplicate(t *testing.T) {
	primary, _ := driver.NewArray(driver.F32, 8, 0)
	sb, err := New(primary, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dup := sb.SwitchedBuffer()
	if dup == nil {
		t.Fatal("SwitchedBuffer() returned nil for a duplicated StageBuffer")
	}
	if dup.Kind() != sb.Primary().Kind() || dup.Len() != sb.Primary().Len() {
		t.Fatalf("duplicate does not match primary: kind=%v len=%d vs kind=%v len=%d",
			dup.Kind(), dup.Len(), sb.Primary().Kind(), sb.Primary().Len())
	}
}

func TestSwitchBuffersExchangesPrimaryAndDuplicate(t *testing.T) {
	primary, _ := driver.NewArray(driver.F32, 4, 0)
	sb, err := New(primary, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	before, after := sb.Primary(), sb.SwitchedBuffer()

	sb.SwitchBuffers()

	if sb.Primary() != after {
		t.Error("SwitchBuffers did not promote the duplicate to primary")
	}
	if sb.SwitchedBuffer() != before {
		t.Error("SwitchBuffers did not demote the old primary to duplicate")
	}
}

func TestNonDuplicatedBufferHasNoSwitchedBuffer(t *testing.T) {
	primary, _ := driver.NewArray(driver.F32, 4, 0)
	sb, err := New(primary, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if sb.Duplicated() {
		t.Fatal("Duplicated() = true for a non-duplicated StageBuffer")
	}
	if got := sb.SwitchedBuffer(); got != nil {
		t.Errorf("SwitchedBuffer() = %v, want nil for a non-duplicated StageBuffer", got)
	}

	before := sb.Primary()
	sb.SwitchBuffers()
	if sb.Primary() != before {
		t.Error("SwitchBuffers should be a no-op on a non-duplicated StageBuffer")
	}
}

func TestReleaseFreesDuplicateAndDisablesFurtherSwitching(t *testing.T) {
	primary, _ := driver.NewArray(driver.F32, 4, 0)
	sb, err := New(primary, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sb.Release()
	if sb.Duplicated() {
		t.Error("Release did not clear the duplicated flag")
	}
	if got := sb.SwitchedBuffer(); got != nil {
		t.Errorf("SwitchedBuffer() after Release() = %v, want nil", got)
	}
}

func TestSetFlagsAppliesToBothSides(t *testing.T) {
	primary, _ := driver.NewArray(driver.F32, 4, 0)
	sb, err := New(primary, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sb.SetRead(true)
	sb.SetWrite(false)
	sb.SetPartialRead(true)

	read, write, partialRead := sb.Flags()
	if !read || write || !partialRead {
		t.Errorf("Flags() = (%v,%v,%v), want (true,false,true)", read, write, partialRead)
	}

	// Flags travel with whichever array is currently primary, on both
	// sides of a switch — they belong to the slot, not the array.
	sb.SwitchBuffers()
	read, write, partialRead = sb.Flags()
	if !read || write || !partialRead {
		t.Errorf("Flags() after SwitchBuffers() = (%v,%v,%v), want (true,false,true)", read, write, partialRead)
	}
}

func TestArgGroupChainsAndRewritesFlagsPerIndex(t *testing.T) {
	in, _ := driver.NewArray(driver.F32, 4, 0)
	hidden, _ := driver.NewArray(driver.F32, 4, 0)
	out, _ := driver.NewArray(driver.F32, 4, 0)

	sbIn, _ := New(in, true)
	sbHidden, _ := New(hidden, false)
	sbOut, _ := New(out, true)

	sbIn.SetRead(true)
	sbOut.SetWrite(true)

	g := NewParam(sbIn).NextParam(sbHidden).NextParam(sbOut)
	if g.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", g.Len())
	}

	args := g.Args()
	if !args[0].Read || args[0].Write {
		t.Errorf("input arg flags = (%v,%v), want (true,false)", args[0].Read, args[0].Write)
	}
	if args[1].Read || args[1].Write {
		t.Errorf("hidden arg flags = (%v,%v), want (false,false)", args[1].Read, args[1].Write)
	}
	if args[2].Read || !args[2].Write {
		t.Errorf("output arg flags = (%v,%v), want (false,true)", args[2].Read, args[2].Write)
	}

	// enqueueMode rewrites flags per kernel index without rebuilding the
	// chain: turn every flag off except the last kernel's output write.
	g.SetFlags(0, false, false, false)
	g.SetFlags(1, false, false, false)
	g.SetFlags(2, false, true, false)
	args = g.Args()
	for i, want := range []bool{false, false, false} {
		if args[i].Read != want {
			t.Errorf("after rewrite, args[%d].Read = %v, want %v", i, args[i].Read, want)
		}
	}
	if !args[2].Write {
		t.Error("after rewrite, last arg should still write")
	}
}
