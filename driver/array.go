package driver

import (
	"runtime"
	"sync"
	"unsafe"
)

// ElementKind is the closed sum type every Array carries, per spec §3.
type ElementKind int

const (
	F32 ElementKind = iota
	F64
	U8
	I8 // char
	I32
	U32
	I64
	Struct
)

func (k ElementKind) String() string {
	switch k {
	case F32:
		return "f32"
	case F64:
		return "f64"
	case U8:
		return "u8"
	case I8:
		return "i8"
	case I32:
		return "i32"
	case U32:
		return "u32"
	case I64:
		return "i64"
	case Struct:
		return "struct"
	default:
		return "unknown"
	}
}

// elementSize returns the byte size of one element of kind k. For Struct,
// the caller-supplied elemSize on the Array is authoritative instead.
func elementSize(k ElementKind) int {
	switch k {
	case F32, I32, U32:
		return 4
	case F64, I64:
		return 8
	case U8, I8:
		return 1
	default:
		return 0
	}
}

// Array is a typed device buffer: a flat byte region plus the ElementKind
// and per-element stride needed to interpret it. It plays the role of the
// teacher's DevicePtr, generalized from a raw unsafe.Pointer view over Go
// slices to an explicit sum-typed buffer per spec's Design Notes §9
// ("re-model as a tagged sum ElementKind + generic buffer handle").
type Array struct {
	kind     ElementKind
	data     []byte
	elemSize int // authoritative for Struct; derived from kind otherwise
	length   int // number of elements
}

// NewArray allocates a zeroed Array of n elements of kind k. elemSize is
// only consulted when k == Struct; it is the byte size of one work item.
func NewArray(k ElementKind, n int, elemSize int) (*Array, error) {
	if n < 0 {
		return nil, NewError(ErrTypeMemory, "NewArray", "negative length", nil)
	}
	sz := elementSize(k)
	if k == Struct {
		if elemSize <= 0 {
			return nil, NewError(ErrTypeMemory, "NewArray", "struct arrays require a positive elemSize", nil)
		}
		sz = elemSize
	}
	buf := make([]byte, sz*n)
	runtime.KeepAlive(buf)
	return &Array{kind: k, data: buf, elemSize: sz, length: n}, nil
}

// WrapFloat32 builds an F32 Array over an existing host slice without
// copying, matching how a caller feeds host arrays into stage 0.
func WrapFloat32(s []float32) *Array {
	var data []byte
	if len(s) > 0 {
		data = unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4)
	}
	return &Array{kind: F32, data: data, elemSize: 4, length: len(s)}
}

// WrapFloat64 builds an F64 Array over an existing host slice.
func WrapFloat64(s []float64) *Array {
	var data []byte
	if len(s) > 0 {
		data = unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*8)
	}
	return &Array{kind: F64, data: data, elemSize: 8, length: len(s)}
}

// WrapInt32 builds an I32 Array over an existing host slice.
func WrapInt32(s []int32) *Array {
	var data []byte
	if len(s) > 0 {
		data = unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4)
	}
	return &Array{kind: I32, data: data, elemSize: 4, length: len(s)}
}

// WrapBytes builds a U8 Array over an existing host slice.
func WrapBytes(s []byte) *Array {
	return &Array{kind: U8, data: s, elemSize: 1, length: len(s)}
}

func (a *Array) Kind() ElementKind { return a.kind }
func (a *Array) Len() int          { return a.length }
func (a *Array) ElemSize() int     { return a.elemSize }

// Float32 views the Array as a []float32. Panics if Kind() != F32, matching
// the teacher's DevicePtr.Float32 contract.
func (a *Array) Float32() []float32 {
	if a.kind != F32 {
		panic("driver: Float32 called on non-F32 Array")
	}
	if len(a.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&a.data[0])), a.length)
}

// Float64 views the Array as a []float64.
func (a *Array) Float64() []float64 {
	if a.kind != F64 {
		panic("driver: Float64 called on non-F64 Array")
	}
	if len(a.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&a.data[0])), a.length)
}

// Int32 views the Array as a []int32.
func (a *Array) Int32() []int32 {
	if a.kind != I32 && a.kind != U32 {
		panic("driver: Int32 called on non-I32/U32 Array")
	}
	if len(a.data) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&a.data[0])), a.length)
}

// Bytes views the Array as raw bytes, valid for any kind. For Struct
// arrays this is the only supported view.
func (a *Array) Bytes() []byte { return a.data }

// CopyFrom copies min(len(dst),len(src)) elements from src into a,
// validating that kind and length match exactly. It never performs a
// partial copy past a mismatch; it returns an error instead (spec §4.2
// forwardResults: "no partial copy is performed past the offending index").
func (a *Array) CopyFrom(src *Array) error {
	if a.kind != src.kind {
		return NewError(ErrTypeBinding, "CopyFrom", "element kind mismatch: "+a.kind.String()+" != "+src.kind.String(), nil)
	}
	if a.length != src.length {
		return NewError(ErrTypeBinding, "CopyFrom", "length mismatch", nil)
	}
	copy(a.data, src.data)
	return nil
}

// pool is a small allocation-reuse pool for same-sized, same-kind Arrays,
// adapted from the teacher's MemoryPool free-list to avoid reallocating a
// duplicate buffer on every StageBuffer construction.
type pool struct {
	mu   sync.Mutex
	free map[string][]*Array
}

func newPool() *pool { return &pool{free: make(map[string][]*Array)} }

func poolKey(k ElementKind, n, elemSize int) string {
	return k.String() + ":" + itoa(n) + ":" + itoa(elemSize)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (p *pool) get(k ElementKind, n, elemSize int) (*Array, error) {
	key := poolKey(k, n, elemSize)
	p.mu.Lock()
	if bufs := p.free[key]; len(bufs) > 0 {
		a := bufs[len(bufs)-1]
		p.free[key] = bufs[:len(bufs)-1]
		p.mu.Unlock()
		for i := range a.data {
			a.data[i] = 0
		}
		return a, nil
	}
	p.mu.Unlock()
	return NewArray(k, n, elemSize)
}

func (p *pool) put(a *Array) {
	key := poolKey(a.kind, a.length, a.elemSize)
	p.mu.Lock()
	p.free[key] = append(p.free[key], a)
	p.mu.Unlock()
}

// SharedPool is the process-wide Array allocation-reuse pool, used by
// StageBuffer when it allocates a duplicate rather than accepting a caller
// supplied one.
var SharedPool = newPool()

// AllocateDuplicate returns an Array with the same kind/length/elemSize as
// primary, pulling from SharedPool when possible.
func AllocateDuplicate(primary *Array) (*Array, error) {
	return SharedPool.get(primary.kind, primary.length, primary.elemSize)
}

// ReleaseDuplicate returns a duplicate Array to SharedPool for reuse.
func ReleaseDuplicate(a *Array) {
	if a != nil {
		SharedPool.put(a)
	}
}
