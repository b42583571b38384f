// Package buffer implements StageBuffer, the double-buffered slot a Stage
// binds one array argument into. It is grounded on the teacher's DevicePtr
// plus MemoryPool pairing (memory.go): a primary array a stage's compute
// call reads/writes this tick, and a duplicate that is being shuttled to or
// from a neighboring stage, swapped atomically once both sides settle.
package buffer

import (
	"sync"

	"github.com/cephdon/crunchpool/driver"
)

// StageBuffer wraps one logical array slot in a stage: the array a kernel
// currently operates on (primary), its double (duplicate), and the
// read/write/partialRead flags Stage.run rewrites per kernel index.
//
// Invariants (spec §4.1): len(primary) == len(duplicate) and
// kind(primary) == kind(duplicate) whenever duplicate is not nil. A
// non-duplicated StageBuffer (hidden buffers, internal buffers, the second
// side of a transition buffer) has duplicate == nil permanently, and
// SwitchBuffers is a no-op.
type StageBuffer struct {
	mu sync.Mutex

	kind ElementKind

	primary   *driver.Array
	duplicate *driver.Array

	// origPrimary is the array the StageBuffer was constructed with,
	// kept only so debug output can report drift after repeated switches.
	origPrimary *driver.Array

	duplicated bool

	read        bool
	write       bool
	partialRead bool
}

// ElementKind re-exports driver.ElementKind so callers of this package
// don't need to import driver just to read a StageBuffer's kind.
type ElementKind = driver.ElementKind

// New builds a StageBuffer around primary. When duplicated is true (the
// default for input/output buffers) a same-shaped duplicate is allocated
// from driver.SharedPool; when false (hidden/internal/transition-second-side
// buffers) no duplicate is allocated and SwitchBuffers becomes a no-op.
func New(primary *driver.Array, duplicated bool) (*StageBuffer, error) {
	sb := &StageBuffer{
		kind:        primary.Kind(),
		primary:     primary,
		origPrimary: primary,
		duplicated:  duplicated,
	}
	if duplicated {
		dup, err := driver.AllocateDuplicate(primary)
		if err != nil {
			return nil, driver.NewError(driver.ErrTypeMemory, "buffer.New", "allocating duplicate", err)
		}
		sb.duplicate = dup
	}
	return sb, nil
}

// Kind returns the ElementKind shared by primary and duplicate.
func (sb *StageBuffer) Kind() ElementKind { return sb.kind }

// Duplicated reports whether this StageBuffer maintains a duplicate side.
func (sb *StageBuffer) Duplicated() bool { return sb.duplicated }

// Primary returns the array a compute call should currently bind.
func (sb *StageBuffer) Primary() *driver.Array {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.primary
}

// SwitchedBuffer returns the current duplicate, or nil if this StageBuffer
// is not duplicated (spec §4.1: "attempting to read via switchedBuffer()
// returns ⊥").
func (sb *StageBuffer) SwitchedBuffer() *driver.Array {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if !sb.duplicated {
		return nil
	}
	return sb.duplicate
}

// SwitchBuffers exchanges primary and duplicate atomically. A no-op when
// the buffer is not duplicated.
func (sb *StageBuffer) SwitchBuffers() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if !sb.duplicated {
		return
	}
	sb.primary, sb.duplicate = sb.duplicate, sb.primary
}

// SetRead sets the read flag on both sides of the buffer.
func (sb *StageBuffer) SetRead(v bool) {
	sb.mu.Lock()
	sb.read = v
	sb.mu.Unlock()
}

// SetWrite sets the write flag on both sides of the buffer.
func (sb *StageBuffer) SetWrite(v bool) {
	sb.mu.Lock()
	sb.write = v
	sb.mu.Unlock()
}

// SetPartialRead sets the partialRead flag on both sides of the buffer.
func (sb *StageBuffer) SetPartialRead(v bool) {
	sb.mu.Lock()
	sb.partialRead = v
	sb.mu.Unlock()
}

// Flags returns the current read/write/partialRead flags, snapshotted
// together so a caller building an ArgGroup sees a consistent triple.
func (sb *StageBuffer) Flags() (read, write, partialRead bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.read, sb.write, sb.partialRead
}

// Release returns this StageBuffer's duplicate to driver.SharedPool. Called
// when a stage that owns non-duplicated semantics for this buffer is torn
// down, or when a caller reconfigures a buffer from duplicated to
// non-duplicated.
func (sb *StageBuffer) Release() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.duplicated && sb.duplicate != nil {
		driver.ReleaseDuplicate(sb.duplicate)
		sb.duplicate = nil
		sb.duplicated = false
	}
}

// Arg builds a driver.Arg for the given array (primary or duplicate) using
// this StageBuffer's current flags.
func (sb *StageBuffer) Arg(a *driver.Array) driver.Arg {
	read, write, partialRead := sb.Flags()
	return driver.Arg{Array: a, Read: read, Write: write, PartialRead: partialRead}
}
