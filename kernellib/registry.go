package kernellib

import "github.com/cephdon/crunchpool/driver"

// Source is a kernel source string naming every kernel this package
// registers, in the "kernel void name(...)" shape spec §6's name-discovery
// regular expression expects. Callers that only need a subset of
// kernellib's kernels can still pass the full Source to driver.NewCruncher
// — unused names are harmless — or hand-write a smaller source naming only
// the kernels they use.
const Source = `
kernel void identity(global float* in, global float* out) {}
kernel void scale(global float* in, global float* out, global float* factor) {}
kernel void axpy(global float* x, global float* y, global float* a) {}
kernel void accumulate(global float* x, global float* h, global float* out) {}
kernel void reduce_sum(global float* in, global float* out) {}
kernel void matmul_naive(global float* a, global float* b, global float* c, global int* shape) {}
kernel void matmul_blocked(global float* a, global float* b, global float* c, global int* shape) {}
kernel void conv2d(global float* in, global float* kernel, global float* out, global int* shape) {}
kernel void relu(global float* in, global float* out) {}
kernel void sigmoid(global float* in, global float* out) {}
kernel void gelu(global float* in, global float* out) {}
kernel void f32_to_f16(global float* in, global char* out) {}
kernel void f16_to_f32(global char* in, global float* out) {}
kernel void f32_to_bf16(global float* in, global char* out) {}
kernel void aes_encrypt_block(global char* blocks, global char* key) {}
`

// Registry returns every kernel this package implements, keyed by the name
// it is registered under in Source.
func Registry() driver.Registry {
	return driver.NewRegistry(map[string]driver.KernelFunc{
		"identity":          Identity,
		"scale":             Scale,
		"axpy":              Axpy,
		"accumulate":        Accumulate,
		"reduce_sum":        ReduceSum,
		"matmul_naive":      MatmulNaive,
		"matmul_blocked":    MatmulBlocked,
		"conv2d":            Conv2D,
		"relu":              Relu,
		"sigmoid":           Sigmoid,
		"gelu":              Gelu,
		"f32_to_f16":        F32ToF16,
		"f16_to_f32":        F16ToF32,
		"f32_to_bf16":       F32ToBF16,
		"aes_encrypt_block": AESEncryptBlock,
	})
}
