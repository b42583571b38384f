package driver

// NewCruncherFacade builds a Cruncher from an AcceleratorKind bitmask,
// matching spec §6's first constructor form:
//
//	CruncherFacade(kind-mask, kernelSource, cpuFissionCount=-1,
//	                gpuCount=-1, stream=true, noPipelining=false)
//
// Negative selector values mean "all minus one" (CPU cores, see
// EnumerateDevices) or "all" (GPUs). stream and noPipelining are accepted
// for surface parity; the reference driver has no notion of a pipelined
// command queue distinct from an ordinary one, so noPipelining only
// controls whether EnqueueModeAsyncEnable defaults to stream's value.
func NewCruncherFacade(lock *ConstructionLock, kindMask AcceleratorKind, kernelSource string, registry Registry, cpuFissionCount, gpuCount int, stream bool, noPipelining bool) (*Cruncher, error) {
	devices, err := EnumerateDevices(kindMask, cpuFissionCount, gpuCount)
	if err != nil {
		return nil, err
	}
	c, err := NewCruncher(lock, devices, kernelSource, registry, DefaultComputeQueueConcurrency)
	if err != nil {
		return nil, err
	}
	c.EnqueueModeAsyncEnable = stream && !noPipelining
	return c, nil
}

// NewCruncherFacadeForDevices builds a Cruncher over an explicit device
// set, matching spec §6's second constructor form:
//
//	CruncherFacade(devices, kernelSource, noPipelining=false,
//	                computeQueueConcurrency=16)
func NewCruncherFacadeForDevices(lock *ConstructionLock, devices []Device, kernelSource string, registry Registry, noPipelining bool, computeQueueConcurrency int) (*Cruncher, error) {
	c, err := NewCruncher(lock, devices, kernelSource, registry, computeQueueConcurrency)
	if err != nil {
		return nil, err
	}
	c.EnqueueModeAsyncEnable = !noPipelining
	return c, nil
}
