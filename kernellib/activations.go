package kernellib

import "github.com/cephdon/crunchpool/driver"

// Relu implements "kernel void relu(...)": out[i] = max(0, in[i]).
func Relu(item int, global, local driver.Range, args []driver.Arg) {
	in := args[0].Array.Float32()
	out := args[1].Array.Float32()
	if v := in[item]; v > 0 {
		out[item] = v
	} else {
		out[item] = 0
	}
}

// Sigmoid implements "kernel void sigmoid(...)": out[i] = 1/(1+e^-in[i]).
func Sigmoid(item int, global, local driver.Range, args []driver.Arg) {
	in := args[0].Array.Float32()
	out := args[1].Array.Float32()
	out[item] = sigmoidFloat32(in[item])
}

// Gelu implements "kernel void gelu(...)", the tanh approximation from
// Hendrycks & Gimpel the teacher's fused_gelu.go uses.
func Gelu(item int, global, local driver.Range, args []driver.Arg) {
	in := args[0].Array.Float32()
	out := args[1].Array.Float32()
	out[item] = geluFloat32(in[item])
}
