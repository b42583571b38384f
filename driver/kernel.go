package driver

import "regexp"

// kernelNamePattern extracts kernel names from a kernel source string, per
// spec §6. The reference grammar calls for a trailing lookahead asserting
// the character after the name is not "(", but Go's regexp package (RE2)
// has no lookahead support; it is also unnecessary here, since the
// identifier character class already stops the capture at the first "("
// (or any other non-identifier rune) on its own. A real OpenCL/CUDA driver
// would compile the source; the reference driver only needs the names,
// which it resolves against a Registry of Go functions.
var kernelNamePattern = regexp.MustCompile(`kernel\s+void\s+([A-Za-z0-9_]+)`)

// enqueueKernelPattern detects device-side enqueue_kernel( calls, which
// spec §6 says should request a device-side default queue from the
// Cruncher.
var enqueueKernelPattern = regexp.MustCompile(`enqueue_kernel\(`)

// ExtractKernelNames returns the ordered, de-duplicated set of kernel names
// found in source.
func ExtractKernelNames(source string) []string {
	matches := kernelNamePattern.FindAllStringSubmatch(source, -1)
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		name := m[1]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// NeedsDeviceQueue reports whether source contains a device-side
// enqueue_kernel( call.
func NeedsDeviceQueue(source string) bool {
	return enqueueKernelPattern.MatchString(source)
}

// Arg is one bound kernel argument: the Array it targets and the
// read/write/partialRead transfer flags StageBuffer/DeviceStage maintain
// around it (spec §4.1/§4.2). The reference driver's Compute does not read
// these flags in any mode.
type Arg struct {
	Array       *Array
	Read        bool
	Write       bool
	PartialRead bool
}

// KernelFunc is a reference CPU kernel: it is invoked once per work-item
// index in [0, global.Size()), receiving the bound arguments. local gives
// the kernel its work-group shape for kernels that need it (e.g. blocked
// GEMM); most of kernellib's kernels ignore it.
type KernelFunc func(item int, global, local Range, args []Arg)

// Registry maps kernel names to their Go implementation. kernellib
// populates one at init time; callers may also build their own for tests.
type Registry map[string]KernelFunc

// NewRegistry builds a Registry from name/function pairs.
func NewRegistry(entries map[string]KernelFunc) Registry {
	r := make(Registry, len(entries))
	for k, v := range entries {
		r[k] = v
	}
	return r
}

// Merge returns a new Registry containing both r and other, with other's
// entries taking precedence on name collision.
func (r Registry) Merge(other Registry) Registry {
	merged := make(Registry, len(r)+len(other))
	for k, v := range r {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}
