// Package pipeline implements the linear-chain pipeline engine: Stage
// (distinct from devicepipeline.DeviceStage) and Pipeline. It is grounded on the teacher's
// Context/Stream model (execution.go, guda.go): a Stage lazily builds its
// own Cruncher the first time it runs, exactly as guda.Context lazily
// opens its device queues, and dispatches kernels across the work items of
// a Range the way Context.Launch fans a kernel across a grid.
package pipeline

import (
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/cephdon/crunchpool/buffer"
	"github.com/cephdon/crunchpool/driver"
)

// Stage binds a set of devices, a kernel source, and input/output/hidden
// buffers, and runs one or more kernels across them per push (spec §4.2).
type Stage struct {
	lock             *driver.ConstructionLock
	devices          []driver.Device
	queueConcurrency int

	kernelSource string
	registry     driver.Registry

	kernelNames    []string
	globals, locals []driver.Range

	initKernelNames         []string
	initGlobals, initLocals []driver.Range
	initDisabled            bool

	inputBuffers  []*buffer.StageBuffer
	outputBuffers []*buffer.StageBuffer
	hiddenBuffers []*buffer.StageBuffer

	previousStage *Stage
	nextStages    []*Stage
	stageOrder    int

	// EnqueueMode elides the automatic read/write around every kernel in
	// the chain except the first and last, fusing the sequence under one
	// enveloping transfer pair (spec §4.2 step 2).
	EnqueueMode bool

	mu         sync.Mutex
	once       sync.Once
	cruncher   *driver.Cruncher
	lastElapsed time.Duration
}

// NewStage builds an unbound Stage sharing lock with every other Stage
// whose Cruncher construction must be serialized (spec §9, "a process-wide
// lock is used to serialise Cruncher construction").
func NewStage(lock *driver.ConstructionLock, queueConcurrency int) *Stage {
	return &Stage{lock: lock, queueConcurrency: queueConcurrency}
}

// AddDevices binds the devices this stage's Cruncher will be constructed
// over.
func (s *Stage) AddDevices(devices ...driver.Device) {
	s.devices = append(s.devices, devices...)
}

// AddKernels binds the kernel source and the main kernel call sequence:
// names[i] is launched over globals[i]/locals[i], in order.
func (s *Stage) AddKernels(source string, registry driver.Registry, names []string, globals, locals []driver.Range) {
	s.kernelSource = source
	s.registry = registry
	s.kernelNames = names
	s.globals = globals
	s.locals = locals
}

// InitializerKernel binds the kernel call sequence run() uses when invoked
// with initMode=true, for example to zero a hidden accumulator before the
// first real push (spec §4.2, §4.3's makePipeline double-init).
func (s *Stage) InitializerKernel(names []string, globals, locals []driver.Range) {
	s.initKernelNames = names
	s.initGlobals = globals
	s.initLocals = locals
}

// AddInputBuffers binds buffers whose duplicate receives host writes (or a
// previous stage's forwarded output) before this stage's kernels run.
func (s *Stage) AddInputBuffers(bufs ...*buffer.StageBuffer) {
	s.inputBuffers = append(s.inputBuffers, bufs...)
}

// AddOutputBuffers binds buffers whose duplicate is drained to the host
// (or forwarded to the next stage) after this stage's kernels run.
func (s *Stage) AddOutputBuffers(bufs ...*buffer.StageBuffer) {
	s.outputBuffers = append(s.outputBuffers, bufs...)
}

// AddHiddenBuffers binds non-duplicated buffers that persist sequential
// state across pushes (e.g. an accumulator), visible only to this stage's
// own kernels.
func (s *Stage) AddHiddenBuffers(bufs ...*buffer.StageBuffer) {
	s.hiddenBuffers = append(s.hiddenBuffers, bufs...)
}

// AppendToStage chains s after prev: prev's forward output feeds s's
// input, and makePipeline will place s immediately after prev.
func (s *Stage) AppendToStage(prev *Stage) {
	s.previousStage = prev
	prev.nextStages = append(prev.nextStages, s)
}

// PrependToStage chains next after s: the inverse of AppendToStage, for
// building a chain from its tail backward.
func (s *Stage) PrependToStage(next *Stage) {
	next.AppendToStage(s)
}

// StageOrder returns the position makePipeline assigned this stage in its
// linearised chain.
func (s *Stage) StageOrder() int { return s.stageOrder }

// LastElapsed returns the wall-clock duration of the most recent run(),
// for debug output (spec §4.2 step 4).
func (s *Stage) LastElapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastElapsed
}

// ensureCruncher lazily constructs the stage's Cruncher from its devices
// and kernel source, with driver-level pipelining disabled (spec §4.2:
// "device-pipelining uses its own multi-queue strategy").
func (s *Stage) ensureCruncher() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cruncher != nil {
		return nil
	}
	c, err := driver.NewCruncherFacadeForDevices(s.lock, s.devices, s.kernelSource, s.registry, true, s.queueConcurrency)
	if err != nil {
		return driver.NewError(driver.ErrTypeCompile, "Stage.Run", "constructing cruncher", err)
	}
	s.cruncher = c
	return nil
}

// markBaselineFlags sets the default read/write/partialRead flags spec
// §4.2 describes for the non-enqueueMode case: inputs read-only, outputs
// write-only, hidden buffers untouched by the transfer layer. It runs once
// per stage, on the first run() call.
func (s *Stage) markBaselineFlags() {
	for _, sb := range s.inputBuffers {
		sb.SetRead(true)
		sb.SetWrite(false)
		sb.SetPartialRead(false)
	}
	for _, sb := range s.outputBuffers {
		sb.SetRead(false)
		sb.SetWrite(true)
		sb.SetPartialRead(false)
	}
	for _, sb := range s.hiddenBuffers {
		sb.SetRead(false)
		sb.SetWrite(false)
		sb.SetPartialRead(false)
	}
}

// buildArgGroup chains inputs ++ hidden ++ outputs in order, per spec
// §4.2 step 1. When only a single buffer is bound this degenerates to an
// ArgGroup of length one; the spec's "call buffer.compute(...) directly"
// shortcut for that case has no separate code path here since building a
// one-element chain costs nothing extra.
func (s *Stage) buildArgGroup() buffer.ArgGroup {
	var g buffer.ArgGroup
	g = g.NextParam(s.inputBuffers...)
	g = g.NextParam(s.hiddenBuffers...)
	g = g.NextParam(s.outputBuffers...)
	return g
}

// applyEnqueueFlags rewrites g's flags for kernel index i of n kernels
// when EnqueueMode is set, per spec §4.2 step 2: kernel 0 still reads
// inputs but does not write outputs; kernels 1..n-2 have every flag off;
// the last kernel writes outputs. Hidden buffers are always all-off.
func (s *Stage) applyEnqueueFlags(g buffer.ArgGroup, i, n int) {
	if !s.EnqueueMode {
		return
	}
	nIn, nHidden, nOut := len(s.inputBuffers), len(s.hiddenBuffers), len(s.outputBuffers)
	isFirst := i == 0
	isLast := i == n-1

	for idx := 0; idx < nIn; idx++ {
		g.SetFlags(idx, isFirst, false, false)
	}
	for idx := nIn; idx < nIn+nHidden; idx++ {
		g.SetFlags(idx, false, false, false)
	}
	for idx := nIn + nHidden; idx < nIn+nHidden+nOut; idx++ {
		g.SetFlags(idx, false, isLast, false)
	}
}

// Run executes the stage's kernel sequence (or its initializer sequence,
// when initMode is true) over the currently-bound buffers' primary
// arrays. It lazily constructs the stage's Cruncher on first call.
func (s *Stage) Run(initMode bool) error {
	if err := s.ensureCruncher(); err != nil {
		return err
	}
	s.once.Do(s.markBaselineFlags)

	names, globals, locals := s.kernelNames, s.globals, s.locals
	if initMode {
		if s.initDisabled || len(s.initKernelNames) != len(s.initGlobals) || len(s.initGlobals) != len(s.initLocals) {
			if !s.initDisabled {
				klog.Warningf("pipeline: stage has mismatched initializer ranges/names, disabling initializer kernels")
				s.initDisabled = true
			}
			return nil
		}
		names, globals, locals = s.initKernelNames, s.initGlobals, s.initLocals
	}
	if len(names) != len(globals) || len(globals) != len(locals) {
		klog.Warningf("pipeline: stage has %d kernel names but %d globals / %d locals, skipping run", len(names), len(globals), len(locals))
		return nil
	}

	start := time.Now()
	g := s.buildArgGroup()
	for i, name := range names {
		s.applyEnqueueFlags(g, i, len(names))
		opts := driver.ComputeOptions{ComputeID: name, DeviceIndex: -1, QueueIndex: -1}
		if err := s.cruncher.Compute(name, globals[i], locals[i], g.Args(), opts); err != nil {
			klog.Warningf("pipeline: kernel %q failed: %v", name, err)
		}
	}
	s.mu.Lock()
	s.lastElapsed = time.Since(start)
	s.mu.Unlock()
	return nil
}

// SwitchInputBuffers applies SwitchBuffers to every bound input buffer.
func (s *Stage) SwitchInputBuffers() {
	for _, sb := range s.inputBuffers {
		sb.SwitchBuffers()
	}
}

// SwitchOutputBuffers applies SwitchBuffers to every bound output buffer.
func (s *Stage) SwitchOutputBuffers() {
	for _, sb := range s.outputBuffers {
		sb.SwitchBuffers()
	}
}

// ForwardResults copies across the two boundaries of the chain and to any
// next stages, per spec §4.2. index/maxIndex identify this stage's
// position among the pipeline's stages (0-based, inclusive maxIndex).
//
// All copies target the *duplicate* side, never the primary a concurrent
// Run() may be reading/writing this tick, and stop at the first mismatch
// without performing any copy past the offending index.
func (s *Stage) ForwardResults(index, maxIndex int, hostInputs, hostOutputs []*driver.Array) {
	if index == 0 && hostInputs != nil {
		for i, sb := range s.inputBuffers {
			if i >= len(hostInputs) {
				break
			}
			dup := sb.SwitchedBuffer()
			if dup == nil {
				klog.Warningf("pipeline: stage 0 input %d has no duplicate to receive host data", i)
				break
			}
			if err := dup.CopyFrom(hostInputs[i]); err != nil {
				klog.Warningf("pipeline: host input %d: %v", i, err)
				break
			}
		}
	}
	if index == maxIndex && hostOutputs != nil {
		for i, sb := range s.outputBuffers {
			if i >= len(hostOutputs) {
				break
			}
			dup := sb.SwitchedBuffer()
			if dup == nil {
				klog.Warningf("pipeline: stage %d output %d has no duplicate to drain to host", index, i)
				break
			}
			if err := hostOutputs[i].CopyFrom(dup); err != nil {
				klog.Warningf("pipeline: host output %d: %v", i, err)
				break
			}
		}
	}
	for _, next := range s.nextStages {
		for i, sb := range s.outputBuffers {
			if i >= len(next.inputBuffers) {
				break
			}
			nextDup := next.inputBuffers[i].SwitchedBuffer()
			if nextDup == nil {
				klog.Warningf("pipeline: next stage input %d has no duplicate for fan-out", i)
				break
			}
			if err := nextDup.CopyFrom(sb.Primary()); err != nil {
				klog.Warningf("pipeline: stage-to-stage forward %d: %v", i, err)
				break
			}
		}
	}
}
