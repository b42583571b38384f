package taskpool

import "sync"

// GroupType constrains how a TaskGroup's tasks are ordered relative to
// sibling groups in the same TaskPool and how the DevicePool binds them to
// devices (spec §4.6 "Group-type semantics").
type GroupType int

const (
	// GroupComplete drains before any other group from the same pool is
	// served.
	GroupComplete GroupType = iota
	// GroupAsync places no ordering constraint between groups: the
	// DevicePool may serve a later group's tasks concurrently with this
	// one's.
	GroupAsync
	// GroupSameDevice sends every task of this group to the same
	// consumer, chosen freely on first dispatch.
	GroupSameDevice
	// GroupRepeatSameDevice is GroupSameDevice, but the device mapping
	// chosen on first execution is remembered and reused across a
	// Reset/re-run.
	GroupRepeatSameDevice
	// GroupInOrder sends every task of this group into one command queue
	// of one device with in-order semantics.
	GroupInOrder
	// GroupRepeatInOrder is GroupInOrder, but the device/queue binding
	// persists across a Reset/re-run.
	GroupRepeatInOrder
)

func (t GroupType) String() string {
	switch t {
	case GroupComplete:
		return "complete"
	case GroupAsync:
		return "async"
	case GroupSameDevice:
		return "same-device"
	case GroupRepeatSameDevice:
		return "repeat-same-device"
	case GroupInOrder:
		return "in-order"
	case GroupRepeatInOrder:
		return "repeat-in-order"
	default:
		return "unknown"
	}
}

// pinsDevice reports whether this group type binds all of its tasks to a
// single device/queue (spec §4.6: SameDevice, RepeatSameDevice, InOrder,
// RepeatInOrder).
func (t GroupType) pinsDevice() bool {
	switch t {
	case GroupSameDevice, GroupRepeatSameDevice, GroupInOrder, GroupRepeatInOrder:
		return true
	default:
		return false
	}
}

// repeats reports whether this group type's device/queue binding survives
// a Reset (RepeatSameDevice, RepeatInOrder).
func (t GroupType) repeats() bool {
	return t == GroupRepeatSameDevice || t == GroupRepeatInOrder
}

// TaskGroup is an ordered set of Tasks dispatched together under one
// GroupType's constraints (spec §4.5-§4.6).
type TaskGroup struct {
	ID    string
	Type  GroupType
	tasks []*Task

	mu      sync.Mutex
	counter int

	// boundDevice/boundQueue memoize the device/queue chosen for a
	// pinning GroupType's first dispatched task. -1 means unbound.
	boundDevice int
	boundQueue  int
}

// NewTaskGroup builds a TaskGroup of the given type over tasks, stamping
// each task with a back-reference so DevicePool can consult the group's
// pinning policy when it dispatches that task.
func NewTaskGroup(groupType GroupType, tasks ...*Task) *TaskGroup {
	g := &TaskGroup{Type: groupType, tasks: tasks, boundDevice: -1, boundQueue: -1}
	for _, t := range tasks {
		t.group = g
	}
	return g
}

// Next implements Dispatchable: pops the next not-yet-dispatched task.
func (g *TaskGroup) Next() *Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.counter >= len(g.tasks) {
		return nil
	}
	t := g.tasks[g.counter]
	g.counter++
	return t
}

// Remaining implements Dispatchable.
func (g *TaskGroup) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := len(g.tasks) - g.counter
	if r < 0 {
		return 0
	}
	return r
}

// Reset implements Dispatchable: rewinds the group so its tasks can be
// re-dispatched. Device/queue bindings are cleared unless the GroupType's
// binding is declared to repeat across resets.
func (g *TaskGroup) Reset() {
	g.mu.Lock()
	g.counter = 0
	if !g.Type.repeats() {
		g.boundDevice = -1
		g.boundQueue = -1
	}
	g.mu.Unlock()
	for _, t := range g.tasks {
		t.Reset()
	}
}

// OrderingType implements the pool-ordering side of Dispatchable.
func (g *TaskGroup) OrderingType() GroupType { return g.Type }

// bindDevice returns the device/queue this group's tasks must use if its
// type pins one, assigning deviceIdx/queueIdx the first time it is called
// for an unbound pinning group.
func (g *TaskGroup) bindDevice(deviceIdx, queueIdx int) (int, int) {
	if !g.Type.pinsDevice() {
		return deviceIdx, queueIdx
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.boundDevice < 0 {
		g.boundDevice, g.boundQueue = deviceIdx, queueIdx
	}
	return g.boundDevice, g.boundQueue
}
