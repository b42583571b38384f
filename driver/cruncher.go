package driver

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"
)

// ConstructionLock is the single sync-object spec §9's Design Notes asks
// for: "a process-wide lock is used to serialise Cruncher construction...
// keep this behaviour but pass the lock explicitly rather than via a
// static singleton." Callers share one ConstructionLock across every
// Cruncher/CruncherFacade they build in a process.
type ConstructionLock struct{ mu sync.Mutex }

// NewConstructionLock returns a ready-to-share ConstructionLock.
func NewConstructionLock() *ConstructionLock { return &ConstructionLock{} }

// Cruncher is the reference implementation of the external façade spec
// §4.7 requires: it compiles a kernel source (by extracting names and
// resolving them against a Registry), opens ComputeQueueConcurrency queues
// per device, and exposes the enqueue/no-compute/marker/throughput knobs
// PipelineStage and DevicePool are built against.
//
// This is the module's "Driver" stand-in (spec §1: out of scope, treated
// as an external collaborator); any other type satisfying the same method
// set can be substituted.
type Cruncher struct {
	devices  []Device
	queues   [][]*Queue // [deviceIdx][queueIdx]
	nextQ    []int32    // round-robin cursor per device
	registry Registry
	names    map[string]bool // kernel names present in the compiled source

	EnqueueMode             bool
	EnqueueModeAsyncEnable  bool
	NoComputeMode           bool
	FineGrainedQueueControl bool
	SmoothLoadBalancer      bool
	PerformanceFeed         bool

	errorCode    int32
	errorMessage atomic.Value // string

	markerCallbacks int64

	statsMu    sync.Mutex
	throughput map[int]float64            // deviceID -> moving-average work items/sec (raw; RelativeThroughput normalizes)
	shareByOp  map[string]map[int]float64 // computeId -> deviceID -> total work items dispatched (raw; RelativeGlobalRangeShare normalizes)
}

// NewCruncher compiles kernelSource against registry for the given devices,
// opening queueConcurrency queues per device. lock serializes construction
// across every Cruncher sharing it, per spec's Design Notes.
func NewCruncher(lock *ConstructionLock, devices []Device, kernelSource string, registry Registry, queueConcurrency int) (*Cruncher, error) {
	lock.mu.Lock()
	defer lock.mu.Unlock()

	names := ExtractKernelNames(kernelSource)
	if len(names) == 0 {
		return nil, NewError(ErrTypeCompile, "NewCruncher", "no kernel names found in source", nil)
	}
	nameSet := make(map[string]bool, len(names))
	for _, n := range names {
		nameSet[n] = true
		if _, ok := registry[n]; !ok {
			return nil, NewError(ErrTypeCompile, "NewCruncher", fmt.Sprintf("kernel %q has no registered implementation", n), nil)
		}
	}

	qc := ClampQueueConcurrency(queueConcurrency)
	queues := make([][]*Queue, len(devices))
	for d := range devices {
		qs := make([]*Queue, qc)
		for q := 0; q < qc; q++ {
			qs[q] = newQueue(q)
		}
		queues[d] = qs
	}

	c := &Cruncher{
		devices:    devices,
		queues:     queues,
		nextQ:      make([]int32, len(devices)),
		registry:   registry,
		names:      nameSet,
		throughput: make(map[int]float64),
		shareByOp:  make(map[string]map[int]float64),
	}
	for _, d := range devices {
		c.throughput[d.ID] = 1.0 / float64(len(devices))
	}
	return c, nil
}

// ErrorCode returns the last recorded error code: 0 while no error has
// been recorded. Construction failures are returned by NewCruncher itself;
// after construction, a Compute call that fails (for example, an unknown
// kernel name) sets it to 1. It is exposed for parity with spec §7's
// "surfaced via errorCode() != 0".
func (c *Cruncher) ErrorCode() int32 { return atomic.LoadInt32(&c.errorCode) }

// ErrorMessage returns the last recorded error message, if any.
func (c *Cruncher) ErrorMessage() string {
	if v := c.errorMessage.Load(); v != nil {
		return v.(string)
	}
	return ""
}

func (c *Cruncher) recordError(err error) {
	atomic.StoreInt32(&c.errorCode, 1)
	c.errorMessage.Store(err.Error())
	klog.Warningf("driver: cruncher error: %v", err)
}

// DeviceNames returns the human-readable names of every device this
// Cruncher was built against, in enumeration order.
func (c *Cruncher) DeviceNames() []string {
	names := make([]string, len(c.devices))
	for i, d := range c.devices {
		names[i] = d.Name
	}
	return names
}

func (c *Cruncher) pickQueue(deviceIdx int, explicit int) *Queue {
	qs := c.queues[deviceIdx]
	if c.FineGrainedQueueControl && explicit >= 0 && explicit < len(qs) {
		return qs[explicit]
	}
	idx := int(atomic.AddInt32(&c.nextQ[deviceIdx], 1)-1) % len(qs)
	if idx < 0 {
		idx += len(qs)
	}
	return qs[idx]
}

var lastFirstDeviceQueue atomic.Value // *Queue

// LastUsedCommandQueueOfFirstDevice returns the most recent Queue selected
// for device 0, for callers that need to chain dependent work onto it.
func (c *Cruncher) LastUsedCommandQueueOfFirstDevice() *Queue {
	if v := lastFirstDeviceQueue.Load(); v != nil {
		return v.(*Queue)
	}
	return nil
}

// ComputeOptions carries the optional parameters of spec §4.7's compute
// call that are not always set: an explicit offset into the global range,
// the pipelining flag and its blobs, and the device-relative explicit
// queue index fineGrainedQueueControl callers use.
type ComputeOptions struct {
	ComputeID    string
	Offset       Range
	Pipeline     bool
	PipelineType string
	Blobs        []byte
	DeviceIndex  int // -1 lets the Cruncher choose
	QueueIndex   int // -1 lets the Cruncher choose (round robin)

	// ForceNoCompute requests no-compute-mode for this call alone, without
	// touching the Cruncher-wide NoComputeMode flag. devicepipeline uses
	// this for its transfer-only dispatches, since a DevicePipeline's
	// stages may issue calls concurrently (parallel feed mode) and cannot
	// safely toggle a shared field around each call.
	ForceNoCompute bool
}

// Compute runs kernelName across global/local ranges with the given bound
// arguments on one queue and waits for that queue to finish before
// returning. Under NoComputeMode (or ForceNoCompute) the kernel body is not
// invoked; since the reference driver's host and device memory are the
// same address space, no transfer happens either. EnqueueMode and the
// Args' Read/Write/PartialRead flags are not consulted.
func (c *Cruncher) Compute(kernelName string, global, local Range, args []Arg, opts ComputeOptions) error {
	if !c.names[kernelName] {
		err := NewError(ErrTypeBinding, "Compute", fmt.Sprintf("kernel %q was not compiled into this Cruncher", kernelName), nil)
		c.recordError(err)
		return err
	}
	deviceIdx := opts.DeviceIndex
	if deviceIdx < 0 || deviceIdx >= len(c.devices) {
		deviceIdx = c.selectDevice(opts.ComputeID, global)
	}
	queueIdx := opts.QueueIndex
	if queueIdx < 0 {
		queueIdx = -1
	}
	q := c.pickQueue(deviceIdx, queueIdx)
	if deviceIdx == 0 {
		lastFirstDeviceQueue.Store(q)
	}

	fn := c.registry[kernelName]
	deviceID := c.devices[deviceIdx].ID
	start := time.Now()
	q.Submit(func() {
		if c.NoComputeMode || opts.ForceNoCompute {
			// Only the transfer implied by Read/Write flags would happen on
			// real hardware; the reference driver's host and device memory
			// are the same address space, so there is nothing to move.
			return
		}
		runKernelRange(fn, global, local, args)
	})
	q.Synchronize()
	elapsed := time.Since(start)
	c.recordThroughput(deviceID, global.Size(), elapsed)
	if opts.ComputeID != "" {
		c.recordShare(opts.ComputeID, deviceID, global.Size())
	}
	return nil
}

// runKernelRange fans the kernel out over every work item using a bounded
// worker pool, adapted from the teacher's launchInternal cache-aware
// scheduling (execution.go): each goroutine owns a contiguous chunk of
// work items to maximize cache reuse and minimize synchronization.
func runKernelRange(fn KernelFunc, global, local Range, args []Arg) {
	total := global.Size()
	if total == 0 {
		return
	}
	workers := numWorkers(total)
	chunk := (total + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > total {
			end = total
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for item := s; item < e; item++ {
				fn(item, global, local, args)
			}
		}(start, end)
	}
	wg.Wait()
}

// selectDevice implements a proportional split stand-in for the
// out-of-scope single-kernel load balancer (spec §1): when
// SmoothLoadBalancer is set and more than one device is available, it
// picks the device currently holding the largest throughput share;
// otherwise it always uses device 0.
func (c *Cruncher) selectDevice(computeID string, global Range) int {
	if !c.SmoothLoadBalancer || len(c.devices) == 1 {
		return 0
	}
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	best, bestShare := 0, -1.0
	for i, d := range c.devices {
		if share := c.throughput[d.ID]; share > bestShare {
			best, bestShare = i, share
		}
	}
	return best
}

func (c *Cruncher) recordThroughput(deviceID int, workItems int, elapsed time.Duration) {
	if workItems == 0 || elapsed <= 0 {
		return
	}
	rate := float64(workItems) / elapsed.Seconds()
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	// Exponential moving average so one slow outlier doesn't dominate.
	const alpha = 0.2
	prev, ok := c.throughput[deviceID]
	if !ok || prev == 0 {
		c.throughput[deviceID] = rate
	} else {
		c.throughput[deviceID] = alpha*rate + (1-alpha)*prev
	}
}

func (c *Cruncher) recordShare(computeID string, deviceID, workItems int) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	m := c.shareByOp[computeID]
	if m == nil {
		m = make(map[int]float64)
		c.shareByOp[computeID] = m
	}
	m[deviceID] += float64(workItems)
}

// RelativeThroughput returns each device's throughput normalized to sum to
// 1, per spec §4.7's "per-device relative throughput vector".
func (c *Cruncher) RelativeThroughput() map[int]float64 {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return normalize(c.throughput)
}

// RelativeGlobalRangeShare returns, for a given computeId, each device's
// share of total dispatched work normalized to sum to 1, per spec §4.7's
// "per-device relative global-range vector per computeId".
func (c *Cruncher) RelativeGlobalRangeShare(computeID string) map[int]float64 {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return normalize(c.shareByOp[computeID])
}

func normalize(m map[int]float64) map[int]float64 {
	out := make(map[int]float64, len(m))
	var total float64
	for _, v := range m {
		total += v
	}
	if total == 0 {
		return out
	}
	for k, v := range m {
		out[k] = v / total
	}
	return out
}

// Flush blocks until every queue of every device has drained, per spec
// §4.7's flush().
func (c *Cruncher) Flush() {
	for _, qs := range c.queues {
		for _, q := range qs {
			q.Synchronize()
		}
	}
}

// Marker inserts a completion sentinel on the given device's first queue
// and, if cb is non-nil, invokes cb once it completes.
func (c *Cruncher) Marker(deviceIdx int, cb func()) {
	q := c.queues[deviceIdx][0]
	q.Marker()
	if cb == nil {
		return
	}
	atomic.AddInt64(&c.markerCallbacks, 1)
	q.Submit(cb)
}

// CountMarkers returns the total number of completed markers across every
// device and queue this Cruncher owns.
func (c *Cruncher) CountMarkers() int64 {
	var total int64
	for _, qs := range c.queues {
		for _, q := range qs {
			total += q.MarkerCount()
		}
	}
	return total
}

// CountMarkerCallbacks returns how many marker callbacks have been
// registered so far.
func (c *Cruncher) CountMarkerCallbacks() int64 {
	return atomic.LoadInt64(&c.markerCallbacks)
}

func numWorkers(total int) int {
	w := availableParallelism()
	if total < w {
		w = total
	}
	if w < 1 {
		w = 1
	}
	return w
}
