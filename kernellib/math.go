package kernellib

import "math"

// Mathematical constants and scalar approximations adapted from the
// teacher's math_constants.go / activations.go: polynomial exp/tanh so
// activation kernels stay branch-light per work-item, plus the GELU
// constants from Hendrycks & Gimpel the teacher already carried.
const (
	activationSaturation = 10.0
	geluSqrt2OverPi      = 0.7978845608028653559
	geluCoefficient      = 0.044715
)

// expFloat32 computes exp(x) via range reduction and a degree-5
// polynomial, the same approximation as the teacher's ExpFloat32.
func expFloat32(x float32) float32 {
	if x > 88.7 {
		return math.MaxFloat32
	}
	if x < -87.3 {
		return 0
	}
	const ln2 = 0.6931471805599453094
	k := int(math.Floor(float64(x) / ln2))
	r := x - float32(k)*float32(ln2)
	r2 := r * r
	r3 := r2 * r
	r4 := r2 * r2
	r5 := r4 * r
	expR := 1.0 + r + 0.4999999701976776*r2 + 0.1666666567325592*r3 +
		0.0416666679084301*r4 + 0.0083333337679505*r5
	return float32(math.Ldexp(float64(expR), k))
}

// tanhFloat32 computes tanh(x), matching the teacher's TanhFloat32: a
// series expansion near zero to avoid cancellation, the exp identity
// elsewhere.
func tanhFloat32(x float32) float32 {
	if x > activationSaturation {
		return 1
	}
	if x < -activationSaturation {
		return -1
	}
	if x >= 0 {
		if x < 0.5 {
			x2 := x * x
			return x * (1 - x2/3 + 2*x2*x2/15)
		}
		exp2x := expFloat32(2 * x)
		return (exp2x - 1) / (exp2x + 1)
	}
	return -tanhFloat32(-x)
}

func sigmoidFloat32(x float32) float32 {
	if x < -activationSaturation {
		return 0
	}
	if x > activationSaturation {
		return 1
	}
	if x >= 0 {
		return 1.0 / (1.0 + expFloat32(-x))
	}
	e := expFloat32(x)
	return e / (1.0 + e)
}

func geluFloat32(x float32) float32 {
	x3 := x * x * x
	arg := geluSqrt2OverPi * (x + geluCoefficient*x3)
	return 0.5 * x * (1 + tanhFloat32(arg))
}
