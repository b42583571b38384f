package devicepipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cephdon/crunchpool/buffer"
	"github.com/cephdon/crunchpool/driver"
)

func identityKernel(item int, global, local driver.Range, args []driver.Arg) {
	in := args[0].Array.Float32()
	out := args[1].Array.Float32()
	out[item] = in[item]
}

func scaleKernelFactory(factor float32) driver.KernelFunc {
	return func(item int, global, local driver.Range, args []driver.Arg) {
		in := args[0].Array.Float32()
		out := args[1].Array.Float32()
		out[item] = in[item] * factor
	}
}

func oneCPUDevice(t *testing.T) driver.Device {
	t.Helper()
	devices, err := driver.EnumerateDevices(driver.CPU, 1, 0)
	require.NoError(t, err)
	return devices[0]
}

// Single-stage identity DevicePipeline in serial mode: feeding a constant
// host array long enough must eventually drain the same value back out,
// once the idle-entrance/idle-exit parity toggling has settled.
func TestSerialModeSingleStageIdentitySteadyState(t *testing.T) {
	const n = 4
	source := "kernel void id(global float* in, global float* out) {}\n"
	registry := driver.NewRegistry(map[string]driver.KernelFunc{"id": identityKernel})

	dp, err := New(driver.NewConstructionLock(), oneCPUDevice(t), source, registry, driver.DefaultComputeQueueConcurrency)
	require.NoError(t, err)
	dp.EnableSerialMode()

	st := dp.AddStage()
	st.AddKernels([]string{"id"}, []driver.Range{driver.Range1D(n)}, []driver.Range{driver.Range1D(1)})

	in, _ := driver.NewArray(driver.F32, n, 0)
	out, _ := driver.NewArray(driver.F32, n, 0)
	sbIn, err := buffer.New(in, true)
	require.NoError(t, err)
	sbOut, err := buffer.New(out, true)
	require.NoError(t, err)
	st.AddInputBuffers(sbIn)
	st.AddOutputBuffers(sbOut)

	hostIn := driver.WrapFloat32([]float32{5, 6, 7, 8})
	hostOut, _ := driver.NewArray(driver.F32, n, 0)

	for i := 0; i < 6; i++ {
		dp.Feed([]*driver.Array{hostIn}, []*driver.Array{hostOut})
	}
	require.Equal(t, []float32{5, 6, 7, 8}, hostOut.Float32())
}

// Two-stage DevicePipeline (scale by 2, then by 3) linked by a transition
// buffer in parallel mode: the transition is the same StageBuffer object
// bound as stage 0's output and stage 1's input, so switching stage 0's
// outputs is what promotes a freshly scaled value into stage 1's primary.
func TestParallelModeTransitionBufferChainsStages(t *testing.T) {
	const n = 4
	source := "kernel void mul2(global float* in, global float* out) {}\nkernel void mul3(global float* in, global float* out) {}\n"
	registry := driver.NewRegistry(map[string]driver.KernelFunc{
		"mul2": scaleKernelFactory(2),
		"mul3": scaleKernelFactory(3),
	})

	dp, err := New(driver.NewConstructionLock(), oneCPUDevice(t), source, registry, driver.DefaultComputeQueueConcurrency)
	require.NoError(t, err)
	dp.EnableParallelMode()

	st0 := dp.AddStage()
	st0.AddKernels([]string{"mul2"}, []driver.Range{driver.Range1D(n)}, []driver.Range{driver.Range1D(1)})
	st1 := dp.AddStage()
	st1.AddKernels([]string{"mul3"}, []driver.Range{driver.Range1D(n)}, []driver.Range{driver.Range1D(1)})

	in, _ := driver.NewArray(driver.F32, n, 0)
	sbIn, err := buffer.New(in, true)
	require.NoError(t, err)
	st0.AddInputBuffers(sbIn)

	mid, _ := driver.NewArray(driver.F32, n, 0)
	_, err = AddTransitionBuffer(st0, st1, mid)
	require.NoError(t, err)

	out, _ := driver.NewArray(driver.F32, n, 0)
	sbOut, err := buffer.New(out, true)
	require.NoError(t, err)
	st1.AddOutputBuffers(sbOut)

	hostIn := driver.WrapFloat32([]float32{1, 2, 3, 4})
	hostOut, _ := driver.NewArray(driver.F32, n, 0)

	for i := 0; i < 6; i++ {
		dp.Feed([]*driver.Array{hostIn}, []*driver.Array{hostOut})
	}
	require.Equal(t, []float32{6, 12, 18, 24}, hostOut.Float32())
}
