package kernellib

import "github.com/cephdon/crunchpool/driver"

// ConvShape mirrors the teacher's ConvParams (conv.go), trimmed to the
// fields a single-channel, single-batch direct convolution needs; it is
// carried as a [inH, inW, kH, kW, strideH, strideW, padH, padW] I32 Array
// in args[2], the same metadata-argument convention MatmulNaive uses.
func convShapeOf(a driver.Arg) (inH, inW, kH, kW, strideH, strideW, padH, padW int) {
	s := a.Array.Int32()
	return int(s[0]), int(s[1]), int(s[2]), int(s[3]), int(s[4]), int(s[5]), int(s[6]), int(s[7])
}

// Conv2D implements "kernel void conv2d(...)": a direct single-channel 2D
// convolution, one output pixel per work-item, adapted from the teacher's
// ConvParams-driven convolution (conv.go) down to the shape this module's
// multi-stage image-pipeline demo exercises. args: in, kernel, out, shape.
func Conv2D(item int, global, local driver.Range, args []driver.Arg) {
	in := args[0].Array.Float32()
	kernel := args[1].Array.Float32()
	out := args[2].Array.Float32()
	inH, inW, kH, kW, strideH, strideW, padH, padW := convShapeOf(args[3])

	outW := (inW+2*padW-kW)/strideW + 1
	outH := (inH+2*padH-kH)/strideH + 1
	if item >= outH*outW {
		return
	}
	oy, ox := item/outW, item%outW

	var sum float32
	for ky := 0; ky < kH; ky++ {
		iy := oy*strideH - padH + ky
		if iy < 0 || iy >= inH {
			continue
		}
		for kx := 0; kx < kW; kx++ {
			ix := ox*strideW - padW + kx
			if ix < 0 || ix >= inW {
				continue
			}
			sum += in[iy*inW+ix] * kernel[ky*kW+kx]
		}
	}
	out[item] = sum
}
