// Package kernellib is the named CPU reference kernel registry the
// reference driver (package driver) dispatches kernel names into. Each
// kernel here is grounded on a numeric routine from the teacher repository,
// generalized from the teacher's direct Go-API calls (DevicePtr methods) to
// the named, registry-resolved calling convention spec.md §6 requires.
package kernellib

import "github.com/cephdon/crunchpool/driver"

// Identity implements "kernel void identity(...)": out[i] = in[i]. It is
// the reference kernel for the identity-pipeline scenario in spec §8.1.
func Identity(item int, global, local driver.Range, args []driver.Arg) {
	in := args[0].Array.Float32()
	out := args[1].Array.Float32()
	out[item] = in[item]
}

// Scale implements "kernel void scale(...)": out[i] = in[i] * factor.
// factor is carried as a single-element F32 Array in args[2], the
// convention kernellib uses whenever a kernel needs a scalar parameter
// alongside its vector arguments.
func Scale(item int, global, local driver.Range, args []driver.Arg) {
	in := args[0].Array.Float32()
	out := args[1].Array.Float32()
	factor := args[2].Array.Float32()[0]
	out[item] = in[item] * factor
}

// Axpy implements "kernel void axpy(...)": y[i] = a*x[i] + y[i], the
// reference BLAS Level-1 operation the teacher's GEMM code builds on top
// of, generalized here to a standalone named kernel.
func Axpy(item int, global, local driver.Range, args []driver.Arg) {
	x := args[0].Array.Float32()
	y := args[1].Array.Float32()
	a := args[2].Array.Float32()[0]
	y[item] = a*x[item] + y[item]
}

// Accumulate implements "kernel void accumulate(...)": h[0] += x[item];
// out[item] = h[0]. It is the reference kernel for the hidden-state
// accumulator scenario in spec §8.3: h is a single-element hidden buffer
// shared across every work-item in the stage, so the kernel is only
// well-defined for global ranges of size 1 dispatched once per push.
func Accumulate(item int, global, local driver.Range, args []driver.Arg) {
	x := args[0].Array.Float32()
	h := args[1].Array.Float32()
	out := args[2].Array.Float32()
	h[0] += x[item]
	out[item] = h[0]
}

// ReduceSum implements "kernel void reduce_sum(...)": out[0] = sum(in).
// Reduction across work-items cannot be parallelized safely without a
// tree, so ReduceSum only ever does real work on item 0 and the rest of
// the dispatched range is a no-op; callers should dispatch it with a
// global range of 1.
func ReduceSum(item int, global, local driver.Range, args []driver.Arg) {
	if item != 0 {
		return
	}
	in := args[0].Array.Float32()
	out := args[1].Array.Float32()
	var sum float32
	for _, v := range in {
		sum += v
	}
	out[0] = sum
}
