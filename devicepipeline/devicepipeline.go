package devicepipeline

import (
	"sync"

	"k8s.io/klog/v2"

	"github.com/cephdon/crunchpool/buffer"
	"github.com/cephdon/crunchpool/driver"
)

// DevicePipeline runs N stages on a single device using one Cruncher
// configured with up to driver.MaxComputeQueueConcurrency command queues
// (spec §4.4).
type DevicePipeline struct {
	device   driver.Device
	cruncher *driver.Cruncher

	mu     sync.Mutex
	stages []*DeviceStage

	serialMode        bool
	ioSwitchCounter   int
	parallelPreSwapped bool
}

// New builds a DevicePipeline bound to a single device, compiling
// kernelSource against registry with computeQueueConcurrency queues
// (clamped to [1,16] per spec §6). Serial mode is the default; call
// EnableParallelMode to switch.
func New(lock *driver.ConstructionLock, device driver.Device, kernelSource string, registry driver.Registry, computeQueueConcurrency int) (*DevicePipeline, error) {
	concurrency := driver.ClampQueueConcurrency(computeQueueConcurrency)
	cruncher, err := driver.NewCruncherFacadeForDevices(lock, []driver.Device{device}, kernelSource, registry, true, concurrency)
	if err != nil {
		return nil, driver.NewError(driver.ErrTypeCompile, "devicepipeline.New", "constructing cruncher", err)
	}
	return &DevicePipeline{device: device, cruncher: cruncher, serialMode: true}, nil
}

// AddStage appends a new, empty DeviceStage to the pipeline and returns it
// for the caller to bind kernels and buffers onto.
func (dp *DevicePipeline) AddStage() *DeviceStage {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	st := &DeviceStage{index: len(dp.stages)}
	dp.stages = append(dp.stages, st)
	return st
}

// Stages returns the pipeline's stages, in order.
func (dp *DevicePipeline) Stages() []*DeviceStage { return dp.stages }

// AddTransitionBuffer binds a single StageBuffer as both producer's output
// slot i and consumer's input slot, per spec §4.4: "if the previous stage
// has a matching buffer (same underlying array), its duplicate is
// re-used so the transition is a pointer swap not a copy." Since this
// implementation gives producer and consumer the exact same StageBuffer
// object rather than two objects sharing a duplicate pointer, switching
// producer's outputs already switches what consumer sees as its input —
// there is no copy step to elide.
func AddTransitionBuffer(producer, consumer *DeviceStage, primary *driver.Array) (*buffer.StageBuffer, error) {
	sb, err := buffer.New(primary, true)
	if err != nil {
		return nil, err
	}
	producer.AddOutputBuffers(sb)
	consumer.AddInputBuffers(sb)
	return sb, nil
}

// EnableSerialMode switches feed() to the serial dispatch strategy.
func (dp *DevicePipeline) EnableSerialMode() {
	dp.mu.Lock()
	dp.serialMode = true
	dp.mu.Unlock()
}

// EnableParallelMode switches feed() to the parallel dispatch strategy.
func (dp *DevicePipeline) EnableParallelMode() {
	dp.mu.Lock()
	dp.serialMode = false
	dp.mu.Unlock()
}

// idleSide returns the array a host copy should target: the duplicate
// when parity is even, the primary when odd — "the idle entrance/exit"
// spec §4.4 refers to, since a StageBuffer's primary/duplicate roles flip
// every feed.
func idleSide(sb *buffer.StageBuffer, evenParity bool) *driver.Array {
	if evenParity {
		return sb.SwitchedBuffer()
	}
	return sb.Primary()
}

func (dp *DevicePipeline) runKernelPhase(st *DeviceStage) {
	g := st.argGroup()
	for i, name := range st.kernelNames {
		st.applyEnqueueFlags(g, i, len(st.kernelNames))
		if err := dp.cruncher.Compute(name, st.globals[i], st.locals[i], g.Args(), driver.ComputeOptions{ComputeID: name, DeviceIndex: 0, QueueIndex: -1}); err != nil {
			klog.Warningf("devicepipeline: kernel %q failed: %v", name, err)
		}
	}
}

func (dp *DevicePipeline) transferOnly(st *DeviceStage, name string, read, write bool) {
	st.setIOFlags(read, write, false)
	g := st.argGroup()
	if err := dp.cruncher.Compute(name, transferRange(), driver.Range1D(1), g.Args(), driver.ComputeOptions{ComputeID: name, DeviceIndex: 0, QueueIndex: -1, ForceNoCompute: true}); err != nil {
		klog.Warningf("devicepipeline: transfer dispatch %q failed: %v", name, err)
	}
	st.setIOFlags(false, false, false)
}

// Feed dispatches one tick of every stage, honoring the currently
// selected serial/parallel mode (spec §4.4).
func (dp *DevicePipeline) Feed(hostInputs, hostOutputs []*driver.Array) {
	dp.mu.Lock()
	serial := dp.serialMode
	dp.mu.Unlock()
	if serial {
		dp.feedSerial(hostInputs, hostOutputs)
	} else {
		dp.feedParallel(hostInputs, hostOutputs)
	}
}

// feedSerial implements spec §4.4's serial dispatch: host input copies
// into the idle entrance, then per stage in order — enable inputs / no-
// compute transfer / disable, run kernels, enable outputs / no-compute
// transfer / disable — followed by a single flush and a host read from
// the idle exit.
func (dp *DevicePipeline) feedSerial(hostInputs, hostOutputs []*driver.Array) {
	if len(dp.stages) == 0 {
		return
	}
	evenParity := dp.ioSwitchCounter%2 == 0
	first, last := dp.stages[0], dp.stages[len(dp.stages)-1]

	if hostInputs != nil {
		for i, sb := range first.inputs {
			if i >= len(hostInputs) {
				break
			}
			if err := idleSide(sb, evenParity).CopyFrom(hostInputs[i]); err != nil {
				klog.Warningf("devicepipeline: host input %d: %v", i, err)
				break
			}
		}
	}

	for _, st := range dp.stages {
		if len(st.kernelNames) == 0 {
			continue
		}
		dp.transferOnly(st, st.kernelNames[0], true, false)
		dp.runKernelPhase(st)
		dp.transferOnly(st, st.kernelNames[len(st.kernelNames)-1], false, true)
	}
	dp.cruncher.Flush()

	if hostOutputs != nil {
		for i, sb := range last.outputs {
			if i >= len(hostOutputs) {
				break
			}
			if err := hostOutputs[i].CopyFrom(idleSide(sb, evenParity)); err != nil {
				klog.Warningf("devicepipeline: host output %d: %v", i, err)
				break
			}
		}
	}
	dp.ioSwitchCounter++
}

// feedParallel implements spec §4.4's parallel dispatch: on the first
// call, even-indexed stages pre-swap so adjacent stages alternate parity;
// then every stage issues its transfer-then-kernel sequence concurrently;
// then host copies run concurrently against the idle sides; finally every
// stage switches its buffers.
func (dp *DevicePipeline) feedParallel(hostInputs, hostOutputs []*driver.Array) {
	if len(dp.stages) == 0 {
		return
	}

	dp.mu.Lock()
	if !dp.parallelPreSwapped {
		for i := 0; i < len(dp.stages); i += 2 {
			dp.stages[i].switchIOBuffers()
		}
		dp.parallelPreSwapped = true
	}
	dp.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(dp.stages))
	for _, st := range dp.stages {
		st := st
		go func() {
			defer wg.Done()
			if len(st.kernelNames) == 0 {
				return
			}
			dp.transferOnly(st, st.kernelNames[0], true, true)
			dp.cruncher.Flush()
			st.switchIOBuffers()
			dp.cruncher.Flush()
			dp.runKernelPhase(st)
			dp.cruncher.Flush()
		}()
	}
	wg.Wait()

	first, last := dp.stages[0], dp.stages[len(dp.stages)-1]
	var hostWG sync.WaitGroup
	if hostInputs != nil {
		hostWG.Add(1)
		go func() {
			defer hostWG.Done()
			for i, sb := range first.inputs {
				if i >= len(hostInputs) {
					break
				}
				if err := sb.SwitchedBuffer().CopyFrom(hostInputs[i]); err != nil {
					klog.Warningf("devicepipeline: host input %d: %v", i, err)
					break
				}
			}
		}()
	}
	if hostOutputs != nil {
		hostWG.Add(1)
		go func() {
			defer hostWG.Done()
			for i, sb := range last.outputs {
				if i >= len(hostOutputs) {
					break
				}
				if err := hostOutputs[i].CopyFrom(sb.SwitchedBuffer()); err != nil {
					klog.Warningf("devicepipeline: host output %d: %v", i, err)
					break
				}
			}
		}()
	}
	hostWG.Wait()

	for _, st := range dp.stages {
		st.switchIOBuffers()
	}
}

// FeedAsync runs one Feed to completion, then runs hostCallback, then
// flushes the device again before returning. hostCallback does not overlap
// with any of the tick's device work, since Feed itself already flushes.
func (dp *DevicePipeline) FeedAsync(hostInputs, hostOutputs []*driver.Array, hostCallback func()) {
	dp.FeedAsyncBegin(hostInputs, hostOutputs)
	if hostCallback != nil {
		hostCallback()
	}
	dp.FeedAsyncEnd()
}

// FeedAsyncBegin calls Feed, which completes the whole tick (device work,
// flush and host copies) before returning; no device work is left running
// for the caller to overlap host work with.
func (dp *DevicePipeline) FeedAsyncBegin(hostInputs, hostOutputs []*driver.Array) {
	dp.Feed(hostInputs, hostOutputs)
}

// FeedAsyncEnd synchronizes the device after a FeedAsyncBegin call.
func (dp *DevicePipeline) FeedAsyncEnd() {
	dp.cruncher.Flush()
}
