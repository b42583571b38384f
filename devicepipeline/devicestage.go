// Package devicepipeline implements DevicePipeline, the single-device
// multi-queue variant of the pipeline engine (spec §4.4): N stages sharing
// one Cruncher configured with up to driver.MaxComputeQueueConcurrency
// command queues, rather than the linear-chain pipeline's one-Cruncher-
// per-stage model. It is grounded on the same guda.Context/Stream launch
// model as package pipeline, generalized to multiple queues per device the
// way guda's benchmark harness drives several concurrent Streams against
// one Context.
package devicepipeline

import (
	"github.com/cephdon/crunchpool/buffer"
	"github.com/cephdon/crunchpool/driver"
)

// BufferRole classifies how a DeviceStage's buffer participates in a
// feed(), per spec §4.4.
type BufferRole int

const (
	// RoleInput is duplicated; host-to-device only on the duplicate;
	// read-only for the kernel.
	RoleInput BufferRole = iota
	// RoleOutput is duplicated; device-to-host only on the duplicate;
	// write-only for the kernel.
	RoleOutput
	// RoleInternal is non-duplicated; only the owning stage's kernel
	// accesses it; persists sequential state across feeds.
	RoleInternal
	// RoleTransition is duplicated and shared, by identity, between two
	// adjacent stages' output and input slots — see AddTransitionBuffer.
	RoleTransition
)

func (r BufferRole) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RoleOutput:
		return "output"
	case RoleInternal:
		return "internal"
	case RoleTransition:
		return "transition"
	default:
		return "unknown"
	}
}

// DeviceStage is one stage of a DevicePipeline: a kernel call sequence
// plus the input/output/internal/transition buffers it binds. Unlike
// pipeline.Stage, a DeviceStage does not own a Cruncher — every stage of a
// DevicePipeline shares the pipeline's single multi-queue Cruncher.
type DeviceStage struct {
	index int

	kernelNames     []string
	globals, locals []driver.Range

	inputs    []*buffer.StageBuffer
	outputs   []*buffer.StageBuffer
	internals []*buffer.StageBuffer
}

// Index returns the stage's position in its DevicePipeline.
func (s *DeviceStage) Index() int { return s.index }

// AddKernels binds the kernel call sequence this stage issues on every
// feed, in order.
func (s *DeviceStage) AddKernels(names []string, globals, locals []driver.Range) {
	s.kernelNames = names
	s.globals = globals
	s.locals = locals
}

// AddInputBuffers binds RoleInput buffers.
func (s *DeviceStage) AddInputBuffers(bufs ...*buffer.StageBuffer) {
	s.inputs = append(s.inputs, bufs...)
}

// AddOutputBuffers binds RoleOutput buffers.
func (s *DeviceStage) AddOutputBuffers(bufs ...*buffer.StageBuffer) {
	s.outputs = append(s.outputs, bufs...)
}

// AddInternalBuffers binds RoleInternal buffers: non-duplicated, visible
// only to this stage's own kernels, persisting across feeds.
func (s *DeviceStage) AddInternalBuffers(bufs ...*buffer.StageBuffer) {
	s.internals = append(s.internals, bufs...)
}

// argGroup chains inputs ++ internals ++ outputs, the same ordering
// convention pipeline.Stage uses.
func (s *DeviceStage) argGroup() buffer.ArgGroup {
	var g buffer.ArgGroup
	g = g.NextParam(s.inputs...)
	g = g.NextParam(s.internals...)
	g = g.NextParam(s.outputs...)
	return g
}

// setIOFlags sets read/write/partialRead on every input and output buffer
// (not internals, which the transfer phase never touches).
func (s *DeviceStage) setIOFlags(read, write, partialRead bool) {
	for _, sb := range s.inputs {
		sb.SetRead(read)
		sb.SetWrite(write)
		sb.SetPartialRead(partialRead)
	}
	for _, sb := range s.outputs {
		sb.SetRead(read)
		sb.SetWrite(write)
		sb.SetPartialRead(partialRead)
	}
}

// switchIOBuffers switches every input and output buffer (transition
// buffers are members of both an inputs and an outputs list of adjacent
// stages, so switching a stage's own outputs also switches the transition
// side the next stage reads as its input).
func (s *DeviceStage) switchIOBuffers() {
	for _, sb := range s.inputs {
		sb.SwitchBuffers()
	}
	for _, sb := range s.outputs {
		sb.SwitchBuffers()
	}
}

// transferRange is the range used for the no-compute-mode transfer-only
// dispatches: one item is enough since no kernel body runs.
func transferRange() driver.Range { return driver.Range1D(1) }

// applyEnqueueFlags rewrites g's flags for kernel index i of n, fusing the
// stage's kernel sequence under one enveloping read/write pair the way
// pipeline.Stage.Run does under EnqueueMode (spec §4.4: "Runs under
// enqueueMode"): kernel 0 reads inputs without writing outputs, the last
// kernel writes outputs without reading inputs, everything in between
// touches neither. Internal buffers are never touched by the transfer
// layer.
func (s *DeviceStage) applyEnqueueFlags(g buffer.ArgGroup, i, n int) {
	nIn, nInternal, nOut := len(s.inputs), len(s.internals), len(s.outputs)
	isFirst := i == 0
	isLast := i == n-1

	for idx := 0; idx < nIn; idx++ {
		g.SetFlags(idx, isFirst, false, false)
	}
	for idx := nIn; idx < nIn+nInternal; idx++ {
		g.SetFlags(idx, false, false, false)
	}
	for idx := nIn + nInternal; idx < nIn+nInternal+nOut; idx++ {
		g.SetFlags(idx, false, isLast, false)
	}
}
