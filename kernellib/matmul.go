package kernellib

import "github.com/cephdon/crunchpool/driver"

// shapeOf decodes a [m, n, k] I32 metadata Array, the convention
// MatmulNaive/MatmulBlocked use to carry matrix dimensions since a
// driver.KernelFunc's signature has no room for them otherwise.
func shapeOf(a driver.Arg) (m, n, k int) {
	s := a.Array.Int32()
	return int(s[0]), int(s[1]), int(s[2])
}

// MatmulNaive implements "kernel void matmul_naive(...)": C = A*B for
// A (m x k), B (k x n), C (m x n), one output element per work-item, the
// direct triple-loop reference the teacher's cache_oblivious_gemm.go and
// optimized_gemm.go exist to outperform. Dispatched with global =
// Range1D(m*n).
func MatmulNaive(item int, global, local driver.Range, args []driver.Arg) {
	a := args[0].Array.Float32()
	b := args[1].Array.Float32()
	c := args[2].Array.Float32()
	m, n, k := shapeOf(args[3])

	row, col := item/n, item%n
	if row >= m {
		return
	}
	var sum float32
	for p := 0; p < k; p++ {
		sum += a[row*k+p] * b[p*n+col]
	}
	c[row*n+col] = sum
}

// MatmulBlocked implements "kernel void matmul_blocked(...)": the same
// product as MatmulNaive, but each work-item owns one row of C and walks
// it in blockSize-wide strips to improve cache reuse of the B matrix row,
// the same intent as the teacher's CacheObliviousGEMM without the
// recursive subdivision machinery (spec's budget favors the orchestration
// layer, not GEMM micro-optimization). Dispatched with global =
// Range1D(m), one work-item per output row.
func MatmulBlocked(item int, global, local driver.Range, args []driver.Arg) {
	a := args[0].Array.Float32()
	b := args[1].Array.Float32()
	c := args[2].Array.Float32()
	m, n, k := shapeOf(args[3])
	if item >= m {
		return
	}

	const blockSize = 64
	row := item
	out := c[row*n : row*n+n]
	for j := range out {
		out[j] = 0
	}
	for p0 := 0; p0 < k; p0 += blockSize {
		p1 := p0 + blockSize
		if p1 > k {
			p1 = k
		}
		for p := p0; p < p1; p++ {
			aVal := a[row*k+p]
			if aVal == 0 {
				continue
			}
			bRow := b[p*n : p*n+n]
			for j := 0; j < n; j++ {
				out[j] += aVal * bRow[j]
			}
		}
	}
}
