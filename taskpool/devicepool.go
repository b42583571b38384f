package taskpool

import (
	"sort"
	"sync"
	"sync/atomic"

	"k8s.io/klog/v2"

	"github.com/cephdon/crunchpool/driver"
)

// WorkerSelection chooses which device-queue consumer to hand the next
// task to (spec §4.6).
type WorkerSelection int

const (
	// WorkerRoundRobin cycles through devices in order.
	WorkerRoundRobin WorkerSelection = iota
	// WorkerPacket forms a barrier group of size N (one task per attached
	// device) and dispatches the whole group together, waiting for it to
	// finish before forming the next group — see drainPoolPacket.
	WorkerPacket
	// WorkerComputeAtWill assigns each task, at dispatch time, to the
	// device whose queue of pending tasks is currently shortest.
	WorkerComputeAtWill
)

// WorkSelection chooses which dispatchable in the pool a consumer pulls
// from next (spec §4.6).
type WorkSelection int

const (
	// WorkFCFS serves dispatchables strictly in list order (the default
	// TaskPool.NextTask behavior).
	WorkFCFS WorkSelection = iota
	// WorkShortestJobFirst serves the lowest Task.WorkSize() first among
	// currently-eligible tasks.
	WorkShortestJobFirst
	// WorkRoundRobin issues one quantum (driver.RoundRobinQuantum enqueued
	// commands, spec §4.6: one of a task's read/compute/write triple) of a
	// task, then moves to the next task, revisiting each in circular order
	// until all drain — see drainPoolRoundRobinWork.
	WorkRoundRobin
	// WorkPriorityBased serves the highest Task.Priority first among
	// currently-eligible tasks.
	WorkPriorityBased
)

// consumer is one device's dedicated producer/consumer pair: a single
// Cruncher bound to exactly that device, fed by a buffered channel a
// goroutine drains in FIFO order — grounded on the teacher's WorkerPool
// (execution.go), generalized from a fixed in-process job channel to one
// fed by DevicePool's scheduling-discipline-driven producer.
type consumer struct {
	device   driver.Device
	cruncher *driver.Cruncher
	queue    chan *Task
	done     chan struct{}

	mu        sync.Mutex
	completed int
}

// DevicePool is the top-level scheduler (spec §4.6): one producer
// goroutine pulling tasks from an enqueued TaskPool under a configurable
// worker/work selection discipline, and one consumer goroutine per device
// draining its own FIFO against its own Cruncher.
type DevicePool struct {
	kernelSource string
	registry     driver.Registry
	lock         *driver.ConstructionLock

	workerSel WorkerSelection
	workSel   WorkSelection

	mu        sync.Mutex
	consumers []*consumer
	pools     []*TaskPool
	rrCursor  int

	wg sync.WaitGroup

	// pending counts tasks handed to a consumer's queue but not yet
	// completed (queued or mid-Compute); outstandingLocked treats a
	// nonzero pending count as work remaining even after every pool's
	// Remaining() hits zero, so Finish never races a task still executing.
	pending int64

	finishMu   sync.Mutex
	finishCond *sync.Cond
}

// NewDevicePool builds an empty DevicePool. kernelSource/registry compile
// identically for every device AddDevices later attaches.
func NewDevicePool(lock *driver.ConstructionLock, kernelSource string, registry driver.Registry, workerSel WorkerSelection, workSel WorkSelection) *DevicePool {
	dp := &DevicePool{
		kernelSource: kernelSource,
		registry:     registry,
		lock:         lock,
		workerSel:    workerSel,
		workSel:      workSel,
	}
	dp.finishCond = sync.NewCond(&dp.finishMu)
	return dp
}

// AddDevices attaches one consumer per device, each with its own Cruncher
// (spec §4.6: "each consumer owns its own per-device driver instance").
func (dp *DevicePool) AddDevices(devices []driver.Device) error {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	for _, d := range devices {
		cruncher, err := driver.NewCruncherFacadeForDevices(dp.lock, []driver.Device{d}, dp.kernelSource, dp.registry, true, driver.DefaultComputeQueueConcurrency)
		if err != nil {
			return driver.NewError(driver.ErrTypeCompile, "DevicePool.AddDevices", "constructing per-device cruncher", err)
		}
		c := &consumer{device: d, cruncher: cruncher, queue: make(chan *Task, 256), done: make(chan struct{})}
		dp.consumers = append(dp.consumers, c)
		dp.wg.Add(1)
		go dp.runConsumer(c)
	}
	return nil
}

func (dp *DevicePool) runConsumer(c *consumer) {
	defer dp.wg.Done()
	for t := range c.queue {
		if err := t.Compute(c.cruncher); err != nil {
			klog.Warningf("taskpool: device %q: task %q: %v", c.device.Name, t.Name, err)
		}
		t.markComplete()
		c.mu.Lock()
		c.completed++
		c.mu.Unlock()
		atomic.AddInt64(&dp.pending, -1)
		dp.finishMu.Lock()
		dp.finishCond.Broadcast()
		dp.finishMu.Unlock()
	}
	close(c.done)
}

// Completed returns how many tasks each attached device has finished, in
// AddDevices order — used by the FCFS fairness scenario (spec §8
// scenario 5: 100 equal-size tasks over 2 devices split 50±1).
func (dp *DevicePool) Completed() []int {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	out := make([]int, len(dp.consumers))
	for i, c := range dp.consumers {
		c.mu.Lock()
		out[i] = c.completed
		c.mu.Unlock()
	}
	return out
}

// EnqueueTaskPool registers pool with the device pool and starts a
// producer goroutine draining it under the configured selection
// disciplines until the pool reports Remaining() == 0.
func (dp *DevicePool) EnqueueTaskPool(pool *TaskPool) {
	dp.mu.Lock()
	dp.pools = append(dp.pools, pool)
	dp.mu.Unlock()
	dp.wg.Add(1)
	go func() {
		defer dp.wg.Done()
		dp.drainPool(pool)
	}()
}

// drainPool routes to the discipline-specific drain loop: WorkerPacket's
// barrier-group dispatch and WorkRoundRobin's sub-task quantum stepping
// each need their own producer loop shape; every other combination shares
// drainPoolDefault. WorkerPacket takes priority if both are configured,
// since it governs which devices a task may even go to; combining it with
// WorkRoundRobin's quantum stepping is not exercised.
func (dp *DevicePool) drainPool(pool *TaskPool) {
	switch {
	case dp.workerSel == WorkerPacket:
		dp.drainPoolPacket(pool)
	case dp.workSel == WorkRoundRobin:
		dp.drainPoolRoundRobinWork(pool)
	default:
		dp.drainPoolDefault(pool)
	}
}

// drainPoolDefault repeatedly selects the next task under workSel/workerSel
// and hands it to the chosen device's queue until pool is exhausted.
func (dp *DevicePool) drainPoolDefault(pool *TaskPool) {
	roundRobinIssued := 0
	for {
		t := dp.selectTask(pool)
		if t == nil {
			if pool.Remaining() == 0 {
				return
			}
			// A GroupComplete entry ahead of the frontier is still
			// draining on some consumer; wait for the next completion
			// instead of busy-spinning.
			dp.finishMu.Lock()
			dp.finishCond.Wait()
			dp.finishMu.Unlock()
			continue
		}
		idx := dp.selectDevice(t, roundRobinIssued)
		roundRobinIssued++
		dp.dispatchTo(idx, t)
	}
}

// drainPoolPacket implements WORKER_PACKET (spec §4.6 step 1: "all devices
// are selected as a barrier group of size N"). Rather than handing tasks to
// devices one at a time, it gathers up to one task per attached device into
// a single group, dispatches the whole group together, and waits for every
// task in it to finish before forming the next group — a synchronized
// batch, not a continuous rotation like WorkerRoundRobin.
func (dp *DevicePool) drainPoolPacket(pool *TaskPool) {
	for {
		dp.mu.Lock()
		n := len(dp.consumers)
		dp.mu.Unlock()
		if n == 0 {
			return
		}

		batch := make([]*Task, 0, n)
		for len(batch) < n {
			t := dp.selectTask(pool)
			if t == nil {
				if pool.Remaining() == 0 {
					break
				}
				dp.finishMu.Lock()
				dp.finishCond.Wait()
				dp.finishMu.Unlock()
				continue
			}
			batch = append(batch, t)
		}
		if len(batch) == 0 {
			return
		}

		for i, t := range batch {
			idx := i
			if t.group != nil && t.group.Type.pinsDevice() {
				idx, _ = t.group.bindDevice(i%n, 0)
			}
			dp.dispatchTo(idx, t)
		}
		dp.awaitAll(batch)
		if len(batch) < n {
			return
		}
	}
}

// awaitAll blocks until every task in batch has completed, enforcing
// drainPoolPacket's barrier between successive groups.
func (dp *DevicePool) awaitAll(batch []*Task) {
	dp.finishMu.Lock()
	defer dp.finishMu.Unlock()
	for _, t := range batch {
		for !t.Complete() {
			dp.finishCond.Wait()
		}
	}
}

// drainPoolRoundRobinWork implements WORK_ROUND_ROBIN (spec §4.6 step 3):
// it keeps a working set of checked-out tasks sized to the number of
// attached devices, issuing exactly one quantum (Task.ComputeQuantum) of
// the task at the front of the set before moving to the back of the line,
// refilling from the pool as tasks finish their final quantum — "revisit
// in circular order until all drain."
func (dp *DevicePool) drainPoolRoundRobinWork(pool *TaskPool) {
	dp.mu.Lock()
	width := len(dp.consumers)
	dp.mu.Unlock()
	if width < 1 {
		width = 1
	}

	var active []*Task
	roundRobinIssued := 0
	for {
		for len(active) < width {
			t := dp.selectTask(pool)
			if t == nil {
				break
			}
			atomic.AddInt64(&dp.pending, 1)
			active = append(active, t)
		}
		if len(active) == 0 {
			if pool.Remaining() == 0 {
				return
			}
			dp.finishMu.Lock()
			dp.finishCond.Wait()
			dp.finishMu.Unlock()
			continue
		}

		next := active[0]
		active = active[1:]
		idx := dp.selectDevice(next, roundRobinIssued)
		roundRobinIssued++
		done := false
		for i := 0; i < driver.RoundRobinQuantum && !done; i++ {
			done = dp.dispatchQuantum(idx, next)
		}
		if !done {
			active = append(active, next)
		}
	}
}

// dispatchQuantum issues t's next read/compute/write command directly
// against the chosen consumer's Cruncher, synchronously, so the caller
// immediately knows whether to revisit t for another quantum. Only a task's
// final quantum marks it complete and updates the same completion
// bookkeeping runConsumer uses for whole-task dispatch.
func (dp *DevicePool) dispatchQuantum(idx int, t *Task) bool {
	dp.mu.Lock()
	c := dp.consumers[idx]
	dp.mu.Unlock()

	done, err := t.ComputeQuantum(c.cruncher)
	if err != nil {
		klog.Warningf("taskpool: device %q: task %q: %v", c.device.Name, t.Name, err)
	}
	if !done {
		return false
	}
	t.markComplete()
	c.mu.Lock()
	c.completed++
	c.mu.Unlock()
	atomic.AddInt64(&dp.pending, -1)
	dp.finishMu.Lock()
	dp.finishCond.Broadcast()
	dp.finishMu.Unlock()
	return true
}

// selectTask implements workSel's choice of which dispatchable to draw
// from; WorkFCFS delegates directly to the pool's own frontier-ordered
// NextTask, since list order already encodes FCFS. WorkRoundRobin also
// uses it (drainPoolRoundRobinWork calls selectTask to refill its active
// set; the quantum rotation itself happens there, not here).
// WorkShortestJobFirst and WorkPriorityBased peek across every list entry's
// head for the best candidate.
func (dp *DevicePool) selectTask(pool *TaskPool) *Task {
	switch dp.workSel {
	case WorkShortestJobFirst, WorkPriorityBased:
		return pool.nextBy(dp.workSel)
	default:
		return pool.NextTask()
	}
}

// selectDevice implements workerSel's choice of which consumer to hand t
// to. SameDevice/RepeatSameDevice/InOrder/RepeatInOrder pinning (carried
// on t's group, if any) always overrides the worker-selection discipline.
// WorkerPacket is handled entirely by drainPoolPacket and never reaches
// here.
func (dp *DevicePool) selectDevice(t *Task, issued int) int {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	n := len(dp.consumers)
	if n == 0 {
		return -1
	}
	if t.group != nil && t.group.Type.pinsDevice() {
		idx, _ := t.group.bindDevice(dp.rrCursor%n, 0)
		return idx
	}
	switch dp.workerSel {
	case WorkerComputeAtWill:
		return dp.leastLoadedLocked()
	default: // WorkerRoundRobin
		idx := dp.rrCursor % n
		dp.rrCursor++
		return idx
	}
}

func (dp *DevicePool) leastLoadedLocked() int {
	best, bestLen := 0, -1
	for i, c := range dp.consumers {
		l := len(c.queue)
		if bestLen == -1 || l < bestLen {
			best, bestLen = i, l
		}
	}
	return best
}

func (dp *DevicePool) dispatchTo(idx int, t *Task) {
	dp.mu.Lock()
	c := dp.consumers[idx]
	dp.mu.Unlock()
	atomic.AddInt64(&dp.pending, 1)
	c.queue <- t
}

// nextBy peeks at every list entry's next-eligible task (without
// dispatching past one that has none ready) and returns the one sel
// prefers, actually dispatching only that one via its owning
// Dispatchable's Next().
func (p *TaskPool) nextBy(sel WorkSelection) *Task {
	p.mu.Lock()
	p.ensureFrontierLocked()
	type candidate struct {
		d   Dispatchable
		idx int
	}
	var candidates []candidate
	for idx := p.current; idx <= p.frontier && idx < len(p.list); idx++ {
		if p.list[idx].Remaining() > 0 {
			candidates = append(candidates, candidate{p.list[idx], idx})
		}
	}
	p.mu.Unlock()
	if len(candidates) == 0 {
		p.mu.Lock()
		p.advanceCurrentLocked()
		p.mu.Unlock()
		return nil
	}

	peeked := make([]*Task, len(candidates))
	for i, c := range candidates {
		peeked[i] = peekHead(c.d)
	}
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	switch sel {
	case WorkShortestJobFirst:
		sort.SliceStable(order, func(a, b int) bool {
			ta, tb := peeked[order[a]], peeked[order[b]]
			if ta == nil {
				return false
			}
			if tb == nil {
				return true
			}
			return ta.WorkSize() < tb.WorkSize()
		})
	case WorkPriorityBased:
		sort.SliceStable(order, func(a, b int) bool {
			ta, tb := peeked[order[a]], peeked[order[b]]
			if ta == nil {
				return false
			}
			if tb == nil {
				return true
			}
			return ta.Priority > tb.Priority
		})
	}
	for _, i := range order {
		if peeked[i] == nil {
			continue
		}
		if t := candidates[i].d.Next(); t != nil {
			return t
		}
	}
	return nil
}

// peekHead reports the task a Dispatchable would hand out next, without
// consuming it. Task exposes its single element directly; TaskGroup peeks
// its current counter position under its own lock.
func peekHead(d Dispatchable) *Task {
	switch v := d.(type) {
	case *Task:
		if v.Remaining() == 0 {
			return nil
		}
		return v
	case *TaskGroup:
		return v.peek()
	default:
		return nil
	}
}

// peek returns the task at counter without advancing it.
func (g *TaskGroup) peek() *Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.counter >= len(g.tasks) {
		return nil
	}
	return g.tasks[g.counter]
}

// Finish blocks until every enqueued pool's Remaining() and every
// consumer's pending queue length reach zero, then disposes every
// consumer (spec §4.6: "finish() blocks until... then disposes every
// consumer").
func (dp *DevicePool) Finish() {
	dp.finishMu.Lock()
	for dp.outstandingLocked() {
		dp.finishCond.Wait()
	}
	dp.finishMu.Unlock()

	dp.mu.Lock()
	consumers := append([]*consumer(nil), dp.consumers...)
	dp.mu.Unlock()
	for _, c := range consumers {
		close(c.queue)
	}
	for _, c := range consumers {
		<-c.done
	}
	dp.wg.Wait()
}

func (dp *DevicePool) outstandingLocked() bool {
	if atomic.LoadInt64(&dp.pending) > 0 {
		return true
	}
	dp.mu.Lock()
	defer dp.mu.Unlock()
	for _, p := range dp.pools {
		if p.Remaining() > 0 {
			return true
		}
	}
	return false
}
