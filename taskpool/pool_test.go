package taskpool

import "testing"

func TestTaskPoolNextTaskBlocksUntilConstructedThenServesInOrder(t *testing.T) {
	pool := NewTaskPool(PoolComplete)
	a, b := newNoopTask("a", 1), newNoopTask("b", 1)
	pool.Add(a, b)
	pool.Construct()

	got1 := pool.NextTask()
	got2 := pool.NextTask()
	if got1 != a || got2 != b {
		t.Fatalf("NextTask sequence = %v, %v; want a, b", got1, got2)
	}
	if got3 := pool.NextTask(); got3 != nil {
		t.Fatal("NextTask on exhausted, constructed pool should return nil, not block")
	}
}

func TestTaskPoolCompleteGroupBlocksFrontierUntilDrained(t *testing.T) {
	pool := NewTaskPool(PoolComplete)
	g := NewTaskGroup(GroupComplete, newNoopTask("a", 1), newNoopTask("b", 1))
	after := newNoopTask("c", 1)
	pool.Add(g, after)
	pool.Construct()

	// The Complete group must fully drain before "after" becomes eligible.
	first := pool.NextTask()
	if first == nil || first.Name != "a" {
		t.Fatalf("first task = %v, want a", first)
	}
	// "after" is not yet eligible: only one entry (the still-draining
	// group) is in the frontier window.
	pool.mu.Lock()
	frontierAtA := pool.frontier
	pool.mu.Unlock()
	if frontierAtA != 0 {
		t.Fatalf("frontier = %d while GroupComplete still draining, want 0", frontierAtA)
	}

	second := pool.NextTask()
	if second == nil || second.Name != "b" {
		t.Fatalf("second task = %v, want b", second)
	}
	third := pool.NextTask()
	if third != after {
		t.Fatalf("third task = %v, want after (%v)", third, after)
	}
}

func TestTaskPoolAsyncGroupExtendsFrontierImmediately(t *testing.T) {
	pool := NewTaskPool(PoolAsync)
	g1 := NewTaskGroup(GroupAsync, newNoopTask("g1a", 1), newNoopTask("g1b", 1))
	g2 := NewTaskGroup(GroupComplete, newNoopTask("g2a", 1))
	pool.Add(g1, g2)
	pool.Construct()

	pool.mu.Lock()
	pool.ensureFrontierLocked()
	frontier := pool.frontier
	pool.mu.Unlock()
	if frontier != 1 {
		t.Fatalf("frontier after an Async entry = %d, want 1 (g2 eligible immediately)", frontier)
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		task := pool.NextTask()
		if task == nil {
			t.Fatalf("NextTask #%d returned nil before pool exhausted", i)
		}
		seen[task.Name] = true
	}
	for _, name := range []string{"g1a", "g1b", "g2a"} {
		if !seen[name] {
			t.Fatalf("task %q was never dispatched", name)
		}
	}
}

// TestTaskPoolReuseAfterResetMatchesFreshPool exercises the reuse scenario:
// draining a pool, resetting it, and draining it again must produce the
// same total dispatch count and end state as a freshly built pool with an
// identical task list.
func TestTaskPoolReuseAfterResetMatchesFreshPool(t *testing.T) {
	build := func() *TaskPool {
		p := NewTaskPool(PoolComplete)
		p.Add(newNoopTask("a", 1), newNoopTask("b", 1), newNoopTask("c", 1))
		p.Construct()
		return p
	}

	reused := build()
	drainAll(reused)
	reused.Reset()
	reused.Construct()
	reusedCount := drainAll(reused)

	fresh := build()
	freshCount := drainAll(fresh)

	if reusedCount != freshCount {
		t.Fatalf("reused pool drained %d tasks, fresh pool drained %d", reusedCount, freshCount)
	}
	if reused.Remaining() != 0 || fresh.Remaining() != 0 {
		t.Fatalf("Remaining() after full drain: reused=%d fresh=%d, want 0 and 0", reused.Remaining(), fresh.Remaining())
	}
}

func drainAll(p *TaskPool) int {
	n := 0
	for p.NextTask() != nil {
		n++
	}
	return n
}

func TestTaskPoolRemainingIsMonotonicNonIncreasingUnderDispatch(t *testing.T) {
	pool := NewTaskPool(PoolComplete)
	for i := 0; i < 10; i++ {
		pool.Add(newNoopTask("t", 1))
	}
	pool.Construct()

	prev := pool.Remaining()
	for prev > 0 {
		if pool.NextTask() == nil {
			t.Fatal("NextTask returned nil while Remaining() > 0")
		}
		cur := pool.Remaining()
		if cur > prev {
			t.Fatalf("Remaining() increased from %d to %d", prev, cur)
		}
		prev = cur
	}
}
