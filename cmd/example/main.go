package main

import (
	"fmt"
	"os"

	"github.com/cephdon/crunchpool/buffer"
	"github.com/cephdon/crunchpool/devicepipeline"
	"github.com/cephdon/crunchpool/driver"
	"github.com/cephdon/crunchpool/kernellib"
	"github.com/cephdon/crunchpool/pipeline"
	"github.com/cephdon/crunchpool/taskpool"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("crunchpool Examples")
		fmt.Println("===================")
		fmt.Println()
		fmt.Println("Usage: go run ./cmd/example <example>")
		fmt.Println()
		fmt.Println("Available examples:")
		fmt.Println("  pipeline       - linear-chain scale pipeline")
		fmt.Println("  devicepipeline - two-stage device pipeline via a transition buffer")
		fmt.Println("  taskpool       - device-pool scheduler over a FCFS task pool")
		return
	}

	switch os.Args[1] {
	case "pipeline":
		runPipelineExample()
	case "devicepipeline":
		runDevicePipelineExample()
	case "taskpool":
		runTaskPoolExample()
	default:
		fmt.Printf("Unknown example: %s\n", os.Args[1])
	}
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func mustBuf(a *driver.Array, duplicated bool) *buffer.StageBuffer {
	sb, err := buffer.New(a, duplicated)
	must(err)
	return sb
}

// scaleKernelFactory builds a named kernel closing over a fixed scale
// factor, the same convention devicepipeline's tests use, so the demo
// doesn't need a third bound argument just to carry one constant.
func scaleKernelFactory(factor float32) driver.KernelFunc {
	return func(item int, global, local driver.Range, args []driver.Arg) {
		in := args[0].Array.Float32()
		out := args[1].Array.Float32()
		out[item] = in[item] * factor
	}
}

// runPipelineExample builds a two-stage scale(2) -> scale(3) Pipeline and
// pushes a constant input through it until the output settles.
func runPipelineExample() {
	lock := driver.NewConstructionLock()
	devices, err := driver.EnumerateDevices(driver.CPU, 1, 0)
	must(err)

	const n = 4
	source := "kernel void mul2(global float* in, global float* out) {}\n" +
		"kernel void mul3(global float* in, global float* out) {}\n"
	registry := driver.NewRegistry(map[string]driver.KernelFunc{
		"mul2": scaleKernelFactory(2),
		"mul3": scaleKernelFactory(3),
	})

	st0 := pipeline.NewStage(lock, driver.DefaultComputeQueueConcurrency)
	st0.AddDevices(devices...)
	st0.AddKernels(source, registry, []string{"mul2"}, []driver.Range{driver.Range1D(n)}, []driver.Range{driver.Range1D(1)})

	st1 := pipeline.NewStage(lock, driver.DefaultComputeQueueConcurrency)
	st1.AddDevices(devices...)
	st1.AddKernels(source, registry, []string{"mul3"}, []driver.Range{driver.Range1D(n)}, []driver.Range{driver.Range1D(1)})
	st1.AppendToStage(st0)

	in, err := driver.NewArray(driver.F32, n, 0)
	must(err)
	st0.AddInputBuffers(mustBuf(in, true))

	mid, err := driver.NewArray(driver.F32, n, 0)
	must(err)
	midBuf := mustBuf(mid, true)
	st0.AddOutputBuffers(midBuf)
	st1.AddInputBuffers(midBuf)

	out, err := driver.NewArray(driver.F32, n, 0)
	must(err)
	st1.AddOutputBuffers(mustBuf(out, true))

	p, err := pipeline.MakePipeline(st1)
	must(err)

	hostIn := driver.WrapFloat32([]float32{1, 2, 3, 4})
	hostOut, err := driver.NewArray(driver.F32, n, 0)
	must(err)

	for i := 0; i < 8; i++ {
		p.Push([]*driver.Array{hostIn}, []*driver.Array{hostOut})
	}
	fmt.Println("pipeline steady-state output (expect [6 12 18 24]):", hostOut.Float32())
}

// runDevicePipelineExample builds a single-device DevicePipeline with
// DefaultComputeQueueConcurrency queues, chaining the mul2 and mul3 scale
// kernels through a transition buffer in parallel mode.
func runDevicePipelineExample() {
	lock := driver.NewConstructionLock()
	devices, err := driver.EnumerateDevices(driver.CPU, 1, 0)
	must(err)

	const n = 4
	source := "kernel void mul2(global float* in, global float* out) {}\n" +
		"kernel void mul3(global float* in, global float* out) {}\n"
	registry := driver.NewRegistry(map[string]driver.KernelFunc{
		"mul2": scaleKernelFactory(2),
		"mul3": scaleKernelFactory(3),
	})

	dp, err := devicepipeline.New(lock, devices[0], source, registry, driver.DefaultComputeQueueConcurrency)
	must(err)
	dp.EnableParallelMode()

	st0 := dp.AddStage()
	st0.AddKernels([]string{"mul2"}, []driver.Range{driver.Range1D(n)}, []driver.Range{driver.Range1D(1)})
	st1 := dp.AddStage()
	st1.AddKernels([]string{"mul3"}, []driver.Range{driver.Range1D(n)}, []driver.Range{driver.Range1D(1)})

	in, err := driver.NewArray(driver.F32, n, 0)
	must(err)
	st0.AddInputBuffers(mustBuf(in, true))

	mid, err := driver.NewArray(driver.F32, n, 0)
	must(err)
	_, err = devicepipeline.AddTransitionBuffer(st0, st1, mid)
	must(err)

	out, err := driver.NewArray(driver.F32, n, 0)
	must(err)
	st1.AddOutputBuffers(mustBuf(out, true))

	hostIn := driver.WrapFloat32([]float32{1, 2, 3, 4})
	hostOut, err := driver.NewArray(driver.F32, n, 0)
	must(err)

	for i := 0; i < 8; i++ {
		dp.Feed([]*driver.Array{hostIn}, []*driver.Array{hostOut})
	}
	fmt.Println("devicepipeline steady-state output (expect [6 12 18 24]):", hostOut.Float32())
}

// runTaskPoolExample runs 20 equal-size identity tasks over two CPU
// devices under worker-round-robin/FCFS and reports the completed-task
// split per device.
func runTaskPoolExample() {
	lock := driver.NewConstructionLock()
	devices, err := driver.EnumerateDevices(driver.CPU, 2, 0)
	must(err)

	dp := taskpool.NewDevicePool(lock, kernellib.Source, kernellib.Registry(), taskpool.WorkerRoundRobin, taskpool.WorkFCFS)
	must(dp.AddDevices(devices))

	pool := taskpool.NewTaskPool(taskpool.PoolComplete)
	for i := 0; i < 20; i++ {
		in, ierr := driver.NewArray(driver.F32, 8, 0)
		must(ierr)
		out, oerr := driver.NewArray(driver.F32, 8, 0)
		must(oerr)
		pool.Add(taskpool.NewTask("identity", driver.Range1D(8), driver.Range1D(1),
			[]driver.Arg{{Array: in, Read: true}, {Array: out, Write: true}}, driver.ComputeOptions{}))
	}
	pool.Construct()
	dp.EnqueueTaskPool(pool)
	dp.Finish()

	fmt.Println("taskpool completed-per-device split:", dp.Completed())
}
