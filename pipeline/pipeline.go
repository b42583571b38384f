package pipeline

import (
	"sync"

	"github.com/cephdon/crunchpool/driver"
)

// Pipeline is a linearised chain of Stages, built by MakePipeline. Push
// drives every stage through one tick of run + forward + switch (spec
// §4.3).
//
// Per the Open Question (a) resolution (SPEC_FULL.md / DESIGN.md): a
// pipeline layer is always width 1 — only linear chains are supported,
// matching the only configuration the teacher's own Context/Stream model
// exercises. A Stage with more than one nextStages entry is flattened by
// MakePipeline to its first branch; multi-branch fan-out belongs to a
// future layer-width policy, not this one.
type Pipeline struct {
	stages []*Stage

	mu      sync.Mutex
	counter int64
}

// Stages returns the pipeline's linearised stage chain, in stageOrder.
func (p *Pipeline) Stages() []*Stage { return p.stages }

// MakePipeline walks from any stage of a chain to its root (following
// previousStage), linearises the chain forward (following nextStages,
// always taking the first branch when more than one exists; branch length
// is not considered), assigns
// stageOrder, and initializes every buffer twice: run initializers with
// the current buffer set, switch, run initializers again, switch back —
// guaranteeing the duplicate sides start out identical to the primaries
// (spec §4.3).
func MakePipeline(any *Stage) (*Pipeline, error) {
	root := any
	for root.previousStage != nil {
		root = root.previousStage
	}

	var stages []*Stage
	for cur := root; cur != nil; {
		cur.stageOrder = len(stages)
		stages = append(stages, cur)
		if len(cur.nextStages) == 0 {
			break
		}
		cur = cur.nextStages[0]
	}

	p := &Pipeline{stages: stages}

	for _, st := range stages {
		if err := st.Run(true); err != nil {
			return nil, err
		}
	}
	for _, st := range stages {
		st.SwitchInputBuffers()
		st.SwitchOutputBuffers()
	}
	for _, st := range stages {
		if err := st.Run(true); err != nil {
			return nil, err
		}
	}
	for _, st := range stages {
		st.SwitchInputBuffers()
		st.SwitchOutputBuffers()
	}

	return p, nil
}

// readyThreshold returns the push counter value above which a push return
// of true is guaranteed a valid exit-stage result, per spec §4.3's table.
func readyThreshold(n int, hasIn, hasOut bool) int64 {
	switch {
	case !hasIn && !hasOut:
		return int64(2*n - 2)
	case hasIn && !hasOut, !hasIn && hasOut:
		return int64(2*n - 1)
	default:
		return int64(2 * n)
	}
}

// Push runs one tick of the pipeline: in parallel over 2N tasks, stage[i]
// runs its kernels while stage[i] forwards the previous tick's results;
// then, in parallel over N, each stage conditionally switches its
// buffers; then the push counter advances. It returns true once a valid
// result is guaranteed to exist in the exit stage (spec §4.3).
func (p *Pipeline) Push(hostInputs, hostOutputs []*driver.Array) bool {
	n := len(p.stages)
	if n == 0 {
		return false
	}

	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		st := p.stages[i]
		go func() {
			defer wg.Done()
			st.Run(false)
		}()
		go func() {
			defer wg.Done()
			st.ForwardResults(i, n-1, hostInputs, hostOutputs)
		}()
	}
	wg.Wait()

	var switchWG sync.WaitGroup
	switchWG.Add(n)
	for i := 0; i < n; i++ {
		i, st := i, p.stages[i]
		go func() {
			defer switchWG.Done()
			if !(i == 0 && hostInputs == nil) {
				st.SwitchInputBuffers()
			}
			if !(i == n-1 && hostOutputs == nil) {
				st.SwitchOutputBuffers()
			}
		}()
	}
	switchWG.Wait()

	p.mu.Lock()
	p.counter++
	counter := p.counter
	p.mu.Unlock()

	return counter > readyThreshold(n, hostInputs != nil, hostOutputs != nil)
}
