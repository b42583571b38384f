package kernellib

import (
	"testing"

	"github.com/cephdon/crunchpool/driver"
)

func TestConv2DValidPaddingIdentityKernel(t *testing.T) {
	// 3x3 input, 1x1 identity kernel, stride 1, no padding: output == input.
	in := driver.WrapFloat32([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9})
	kernel := driver.WrapFloat32([]float32{1})
	out, _ := driver.NewArray(driver.F32, 9, 0)
	shape := driver.WrapInt32([]int32{3, 3, 1, 1, 1, 1, 0, 0})
	args := []driver.Arg{{Array: in}, {Array: kernel}, {Array: out}, {Array: shape}}

	global := driver.Range1D(9)
	for item := 0; item < 9; item++ {
		Conv2D(item, global, driver.Range1D(1), args)
	}
	got := out.Float32()
	want := in.Float32()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Conv2D identity-kernel output = %v, want %v", got, want)
		}
	}
}

func TestConv2DSumKernelOnUniformInput(t *testing.T) {
	// 4x4 input of all 2s, 2x2 all-ones kernel, stride 2, no padding: each
	// output pixel sums four 2s = 8.
	in := make([]float32, 16)
	for i := range in {
		in[i] = 2
	}
	kernel := driver.WrapFloat32([]float32{1, 1, 1, 1})
	out, _ := driver.NewArray(driver.F32, 4, 0)
	shape := driver.WrapInt32([]int32{4, 4, 2, 2, 2, 2, 0, 0})
	args := []driver.Arg{{Array: driver.WrapFloat32(in)}, {Array: kernel}, {Array: out}, {Array: shape}}

	global := driver.Range1D(4)
	for item := 0; item < 4; item++ {
		Conv2D(item, global, driver.Range1D(1), args)
	}
	for i, v := range out.Float32() {
		if v != 8 {
			t.Fatalf("Conv2D sum-kernel output[%d] = %v, want 8", i, v)
		}
	}
}
