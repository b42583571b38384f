package kernellib

import (
	"math"

	"github.com/cephdon/crunchpool/driver"
)

// Float16 conversion, ported directly from the teacher's float16.go: it
// carries F16 values as a plain uint16 so kernellib can store them in a U8
// Array (two bytes per element) without a dedicated ElementKind.
const (
	float16SignMask     = 0x8000
	float16ExponentMask = 0x7C00
	float16MantissaMask = 0x03FF
	float16ExponentBias = 15
	float16MantissaBits = 10
)

func float16ToFloat32(f uint16) float32 {
	sign := uint32(f&float16SignMask) << 16
	exponent := (f & float16ExponentMask) >> float16MantissaBits
	mantissa := uint32(f & float16MantissaMask)

	if exponent == 0 {
		if mantissa == 0 {
			return math.Float32frombits(sign)
		}
		exp := uint32(1)
		for mantissa&0x200 == 0 {
			mantissa <<= 1
			exp++
		}
		mantissa &= 0x1FF
		exponentBits := 127 - 15 - exp + 1
		return math.Float32frombits(sign | (exponentBits << 23) | (mantissa << 13))
	} else if exponent == 0x1F {
		if mantissa == 0 {
			return math.Float32frombits(sign | 0x7F800000)
		}
		return math.Float32frombits(sign | 0x7FC00000 | (mantissa << 13))
	}
	return math.Float32frombits(sign | ((uint32(exponent) + 127 - 15) << 23) | (mantissa << 13))
}

func float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & float16SignMask)
	exponent := (bits >> 23) & 0xFF
	mantissa := bits & 0x7FFFFF

	if exponent == 0xFF {
		if mantissa == 0 {
			return sign | float16ExponentMask
		}
		return sign | float16ExponentMask | uint16(mantissa>>13)
	}

	exp := int(exponent) - 127 + float16ExponentBias
	switch {
	case exp <= 0:
		return sign
	case exp >= 0x1F:
		return sign | float16ExponentMask
	default:
		return sign | (uint16(exp) << float16MantissaBits) | uint16(mantissa>>13)
	}
}

// bfloat16 is the top 16 bits of a float32, rounded to nearest with ties
// to even on the discarded low 16 bits, per the teacher's bfloat16.go.
func float32ToBFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	// Round to nearest, ties to even.
	rounding := uint32(0x7FFF) + ((bits >> 16) & 1)
	return uint16((bits + rounding) >> 16)
}

func bfloat16ToFloat32(b uint16) float32 {
	return math.Float32frombits(uint32(b) << 16)
}

func u16At(a *driver.Array, i int) uint16 {
	b := a.Bytes()
	return uint16(b[2*i]) | uint16(b[2*i+1])<<8
}

func setU16At(a *driver.Array, i int, v uint16) {
	b := a.Bytes()
	b[2*i] = byte(v)
	b[2*i+1] = byte(v >> 8)
}

// F32ToF16 implements "kernel void f32_to_f16(...)": casts an F32 in
// buffer into a U8 out buffer holding packed float16 values.
func F32ToF16(item int, global, local driver.Range, args []driver.Arg) {
	in := args[0].Array.Float32()
	out := args[1].Array
	setU16At(out, item, float32ToFloat16(in[item]))
}

// F16ToF32 implements "kernel void f16_to_f32(...)": the inverse of
// F32ToF16.
func F16ToF32(item int, global, local driver.Range, args []driver.Arg) {
	in := args[0].Array
	out := args[1].Array.Float32()
	out[item] = float16ToFloat32(u16At(in, item))
}

// F32ToBF16 implements "kernel void f32_to_bf16(...)".
func F32ToBF16(item int, global, local driver.Range, args []driver.Arg) {
	in := args[0].Array.Float32()
	out := args[1].Array
	setU16At(out, item, float32ToBFloat16(in[item]))
}
