// Package taskpool implements Task, TaskGroup, TaskPool, and DevicePool:
// the device-pool scheduler layered over package driver's Cruncher (spec
// §4.5-§4.6). It is grounded on the teacher's WorkerPool (execution.go):
// one goroutine per consumer draining a FIFO of submitted work, extended
// with a producer goroutine that implements the worker- and work-selection
// disciplines spec §4.6 requires, and github.com/google/uuid for task
// identifiers (the same dependency the gomlx example repo uses for
// node/session IDs).
package taskpool

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cephdon/crunchpool/driver"
)

// Task is an immutable, deferred compute call: everything Task.Compute
// needs to forward to a Cruncher, frozen at construction time (spec
// §4.5: "Task.compute(cruncher) simply forwards the frozen call to the
// cruncher").
type Task struct {
	ID       uuid.UUID
	Name     string
	Global   driver.Range
	Local    driver.Range
	Args     []driver.Arg
	Opts     driver.ComputeOptions
	Priority int

	// ElementsPerItem divides Global.Size() to produce the cost metric
	// WORK_SHORTEST_JOB_FIRST sorts by; it defaults to 1 when unset via
	// NewTask.
	ElementsPerItem int

	group *TaskGroup // nil for a standalone task

	mu       sync.Mutex
	consumed bool
	complete bool
	quantum  int // next ComputeQuantum step, 0..quantumSteps
}

// NewTask builds a standalone Task (one not owned by any TaskGroup).
func NewTask(name string, global, local driver.Range, args []driver.Arg, opts driver.ComputeOptions) *Task {
	return &Task{
		ID:              uuid.New(),
		Name:            name,
		Global:          global,
		Local:           local,
		Args:            args,
		Opts:            opts,
		ElementsPerItem: 1,
	}
}

// WorkSize is the cost metric WORK_SHORTEST_JOB_FIRST compares:
// Global.Size() / ElementsPerItem.
func (t *Task) WorkSize() int {
	eps := t.ElementsPerItem
	if eps <= 0 {
		eps = 1
	}
	return t.Global.Size() / eps
}

// Compute forwards the frozen call to cruncher.
func (t *Task) Compute(cruncher *driver.Cruncher) error {
	return cruncher.Compute(t.Name, t.Global, t.Local, t.Args, t.Opts)
}

// quantumSteps is spec §4.6's read-compute-write triple: WORK_ROUND_ROBIN
// issues exactly one of these per visit to a task, then moves on to the
// next task in circular order, revisiting this one later for its next step.
const quantumSteps = 3

// ComputeQuantum issues the next of Task's three enqueued commands against
// cruncher and reports whether that was the last one (the task is now
// fully dispatched). The first and third steps reuse ForceNoCompute the
// same way devicepipeline's transfer-only dispatches do: the reference
// driver's shared host/device memory has nothing to move before or after
// the kernel launch, so they are real enqueued commands that frame the
// transfer boundary WORK_ROUND_ROBIN's quantum model assumes, without
// fabricating a data transfer the reference driver doesn't otherwise do.
// The middle step is the kernel launch itself.
func (t *Task) ComputeQuantum(cruncher *driver.Cruncher) (done bool, err error) {
	t.mu.Lock()
	step := t.quantum
	t.quantum++
	t.mu.Unlock()

	opts := t.Opts
	if step != 1 {
		opts.ForceNoCompute = true
	}
	err = cruncher.Compute(t.Name, t.Global, t.Local, t.Args, opts)
	return step >= quantumSteps-1, err
}

// Complete reports whether the task's Compute call has finished.
func (t *Task) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.complete
}

func (t *Task) markComplete() {
	t.mu.Lock()
	t.complete = true
	t.mu.Unlock()
}

// Next implements Dispatchable: a standalone Task dispatches itself
// exactly once.
func (t *Task) Next() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consumed {
		return nil
	}
	t.consumed = true
	return t
}

// Remaining implements Dispatchable: 0 or 1.
func (t *Task) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consumed {
		return 0
	}
	return 1
}

// Reset implements Dispatchable: makes the task dispatchable again.
func (t *Task) Reset() {
	t.mu.Lock()
	t.consumed = false
	t.complete = false
	t.quantum = 0
	t.mu.Unlock()
}

// OrderingType implements Dispatchable: a standalone task always behaves
// like a one-task GroupComplete group for TaskPool's frontier bookkeeping.
func (t *Task) OrderingType() GroupType { return GroupComplete }

// Dispatchable is the common interface of Task and TaskGroup (spec §4.5:
// "the pool list is a mixed list of tasks and groups... both implement
// Dispatchable.next() -> Task?").
type Dispatchable interface {
	Next() *Task
	Remaining() int
	Reset()
	OrderingType() GroupType
}
