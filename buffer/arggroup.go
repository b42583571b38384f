package buffer

import "github.com/cephdon/crunchpool/driver"

// ArgGroup is the re-modeled replacement for the teacher/source's fluent
// nextParam builder, which threaded a linked list of (buffer, read, write,
// partialRead) tuples one call at a time (spec's Design Notes §9: "re-model
// as a small value-type ArgGroup{kinds[], handles[], flags[]}"). A Stage
// builds one ArgGroup per run by chaining inputs, then hidden buffers,
// then outputs (the chain captures each buffer's current primary, which
// changes with every switch), and within that run mutates only the flags
// slots per kernel index.
type ArgGroup struct {
	kinds   []ElementKind
	handles []*driver.Array
	flags   [][3]bool // read, write, partialRead, one triple per handle
}

// NewParam starts a fresh ArgGroup from a single StageBuffer, binding its
// current primary array.
func NewParam(sb *StageBuffer) ArgGroup {
	g := ArgGroup{}
	return g.NextParam(sb)
}

// NextParam appends others to g in order, capturing each StageBuffer's
// current primary array and flags. It returns a new ArgGroup rather than
// mutating in place, matching the value-type contract from the Design
// Notes; callers reassign (g = g.NextParam(sb)) the way the source's fluent
// builder chained calls.
func (g ArgGroup) NextParam(others ...*StageBuffer) ArgGroup {
	kinds := append([]ElementKind{}, g.kinds...)
	handles := append([]*driver.Array{}, g.handles...)
	flags := append([][3]bool{}, g.flags...)
	for _, sb := range others {
		a := sb.Primary()
		read, write, partialRead := sb.Flags()
		kinds = append(kinds, sb.Kind())
		handles = append(handles, a)
		flags = append(flags, [3]bool{read, write, partialRead})
	}
	return ArgGroup{kinds: kinds, handles: handles, flags: flags}
}

// Len returns the number of bound arguments.
func (g ArgGroup) Len() int { return len(g.handles) }

// SetFlags overwrites the read/write/partialRead flags at index i without
// touching the bound handle, matching how Stage.run rewrites flags per
// kernel index in enqueueMode.
func (g ArgGroup) SetFlags(i int, read, write, partialRead bool) {
	g.flags[i] = [3]bool{read, write, partialRead}
}

// Args materializes the ArgGroup as a []driver.Arg, the shape
// driver.Cruncher.Compute expects.
func (g ArgGroup) Args() []driver.Arg {
	args := make([]driver.Arg, len(g.handles))
	for i, h := range g.handles {
		f := g.flags[i]
		args[i] = driver.Arg{Array: h, Read: f[0], Write: f[1], PartialRead: f[2]}
	}
	return args
}
