package taskpool

import "sync"

// PoolType labels a pool's overall discipline (spec §4.5). It is stored in
// TaskPool.Type but not read by TaskPool or DevicePool: every pool type
// behaves identically, and dispatch order comes only from each list
// entry's own GroupType through the frontier described on TaskPool.
type PoolType int

const (
	// PoolComplete labels a pool whose entries drain to completion.
	PoolComplete PoolType = iota
	// PoolAsync labels a pool whose consumers pull from more than one
	// list entry at a time.
	PoolAsync
	// PoolSync labels a pool fed one dispatchable at a time.
	PoolSync
)

// TaskPool holds an ordered list of Dispatchables (standalone Tasks and
// TaskGroups, freely mixed per spec §4.5) and serves them out to however
// many DevicePool consumers call NextTask concurrently.
//
// Ordering follows a "frontier" over the list: index current is the
// oldest not-yet-fully-drained entry; frontier is the highest index made
// eligible for concurrent dispatch so far. GroupComplete entries (and
// standalone Tasks, which report GroupComplete) block the frontier from
// advancing past them until they drain; GroupAsync entries let the
// frontier slide ahead immediately, so a later group's tasks can be
// served concurrently with an earlier async group's.
type TaskPool struct {
	Type PoolType

	mu          sync.Mutex
	cond        *sync.Cond
	list        []Dispatchable
	current     int
	frontier    int
	constructed bool
}

// NewTaskPool builds an empty pool; call Construct to seal its list and
// unblock NextTask.
func NewTaskPool(poolType PoolType) *TaskPool {
	p := &TaskPool{Type: poolType, frontier: -1}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Add appends dispatchables to the pool's list. Must be called before
// Construct.
func (p *TaskPool) Add(items ...Dispatchable) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.list = append(p.list, items...)
}

// Construct seals the pool's list and wakes any NextTask callers blocked
// waiting for construction (spec §5: "blocks only while the pool has not
// yet been constructed, never on an exhausted-but-constructed pool").
func (p *TaskPool) Construct() {
	p.mu.Lock()
	p.constructed = true
	p.current = 0
	p.frontier = -1
	p.cond.Broadcast()
	p.mu.Unlock()
}

// ensureFrontierLocked extends frontier across consecutive GroupAsync
// entries starting just past current.
func (p *TaskPool) ensureFrontierLocked() {
	if p.frontier < p.current {
		p.frontier = p.current
	}
	for p.frontier < len(p.list)-1 && p.list[p.frontier].OrderingType() == GroupAsync {
		p.frontier++
	}
}

// advanceCurrentLocked retires fully-drained leading entries.
func (p *TaskPool) advanceCurrentLocked() bool {
	advanced := false
	for p.current < len(p.list) && p.list[p.current].Remaining() == 0 {
		p.current++
		advanced = true
	}
	return advanced
}

// NextTask returns the next Task a consumer should run, blocking only
// until the pool has been constructed; once constructed, an exhausted
// pool returns nil immediately rather than blocking (spec §5).
func (p *TaskPool) NextTask() *Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.constructed {
		p.cond.Wait()
	}
	if t := p.scanLocked(); t != nil {
		return t
	}
	if p.advanceCurrentLocked() {
		p.ensureFrontierLocked()
		if t := p.scanLocked(); t != nil {
			return t
		}
	}
	return nil
}

func (p *TaskPool) scanLocked() *Task {
	p.ensureFrontierLocked()
	for idx := p.current; idx <= p.frontier && idx < len(p.list); idx++ {
		if t := p.list[idx].Next(); t != nil {
			return t
		}
	}
	return nil
}

// Remaining sums Remaining() across every list entry.
func (p *TaskPool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, d := range p.list {
		total += d.Remaining()
	}
	return total
}

// Reset rewinds every dispatchable in the list and the pool's own
// current/frontier bookkeeping, so the same pool can be re-fed (spec §8
// scenario: reuse after finish yields the same final state as a fresh
// pool).
func (p *TaskPool) Reset() {
	p.mu.Lock()
	for _, d := range p.list {
		d.Reset()
	}
	p.current = 0
	p.frontier = -1
	p.mu.Unlock()
}
