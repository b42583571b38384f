package taskpool

import (
	"testing"

	"github.com/cephdon/crunchpool/driver"
)

func noopKernel(item int, global, local driver.Range, args []driver.Arg) {}

func newNoopTask(name string, n int) *Task {
	arr, _ := driver.NewArray(driver.F32, n, 0)
	t := NewTask(name, driver.Range1D(n), driver.Range1D(1), []driver.Arg{{Array: arr}}, driver.ComputeOptions{})
	return t
}

func TestTaskDispatchesExactlyOnce(t *testing.T) {
	task := newNoopTask("count", 4)
	if task.Remaining() != 1 {
		t.Fatalf("Remaining() = %d, want 1", task.Remaining())
	}
	if first := task.Next(); first == nil {
		t.Fatal("first Next() returned nil")
	}
	if second := task.Next(); second != nil {
		t.Fatal("second Next() returned non-nil, task should dispatch once")
	}
	if task.Remaining() != 0 {
		t.Fatalf("Remaining() after dispatch = %d, want 0", task.Remaining())
	}
}

func TestTaskResetMakesItDispatchableAgain(t *testing.T) {
	task := newNoopTask("count", 4)
	task.Next()
	task.Reset()
	if task.Remaining() != 1 {
		t.Fatalf("Remaining() after Reset = %d, want 1", task.Remaining())
	}
	if task.Next() == nil {
		t.Fatal("Next() after Reset returned nil")
	}
}

func TestTaskWorkSizeDividesByElementsPerItem(t *testing.T) {
	task := newNoopTask("k", 100)
	task.ElementsPerItem = 4
	if got := task.WorkSize(); got != 25 {
		t.Fatalf("WorkSize() = %d, want 25", got)
	}
}

func TestTaskComputeQuantumRunsTheKernelOnlyOnTheMiddleStep(t *testing.T) {
	source := "kernel void echo(global float* in, global float* out) {}\n"
	runs := 0
	registry := driver.NewRegistry(map[string]driver.KernelFunc{
		"echo": func(item int, global, local driver.Range, args []driver.Arg) {
			runs++
			out := args[1].Array.Float32()
			in := args[0].Array.Float32()
			out[item] = in[item]
		},
	})
	devices, err := driver.EnumerateDevices(driver.CPU, 1, 0)
	if err != nil {
		t.Fatalf("EnumerateDevices: %v", err)
	}
	lock := driver.NewConstructionLock()
	cruncher, err := driver.NewCruncherFacadeForDevices(lock, devices, source, registry, true, driver.DefaultComputeQueueConcurrency)
	if err != nil {
		t.Fatalf("NewCruncherFacadeForDevices: %v", err)
	}

	in := driver.WrapFloat32([]float32{7})
	out, err := driver.NewArray(driver.F32, 1, 0)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}
	task := NewTask("echo", driver.Range1D(1), driver.Range1D(1),
		[]driver.Arg{{Array: in, Read: true}, {Array: out, Write: true}}, driver.ComputeOptions{})

	for step := 0; step < 3; step++ {
		done, err := task.ComputeQuantum(cruncher)
		if err != nil {
			t.Fatalf("ComputeQuantum step %d: %v", step, err)
		}
		wantDone := step == 2
		if done != wantDone {
			t.Fatalf("ComputeQuantum step %d done = %v, want %v", step, done, wantDone)
		}
	}
	if runs != 1 {
		t.Fatalf("kernel ran %d times across the three quanta, want exactly 1", runs)
	}
	if got := out.Float32()[0]; got != 7 {
		t.Fatalf("out[0] = %v, want 7", got)
	}
}
