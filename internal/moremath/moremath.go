// Package moremath implements the numeric operations where the Wasm
// specification and the Go standard library disagree, mostly around NaN
// ordering and the rounding mode.
package moremath

import "math"

const (
	// F32CanonicalNaNBits is the 32-bit pattern of the canonical NaN: sign
	// zero, all exponent bits set, and only the most significant mantissa bit.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#aux-canon
	F32CanonicalNaNBits = uint32(0x7fc0_0000)
	// F64CanonicalNaNBits is the 64-bit pattern of the canonical NaN.
	F64CanonicalNaNBits = uint64(0x7ff8_0000_0000_0000)

	f32ExponentMask = uint32(0x7f80_0000)
	f32MantissaMask = uint32(0x007f_ffff)
	f64ExponentMask = uint64(0x7ff0_0000_0000_0000)
	f64MantissaMask = uint64(0x000f_ffff_ffff_ffff)
)

// WasmCompatMin returns the smaller of x or y per the Wasm spec: either
// operand being NaN results in NaN even if the other is -Inf, and
// min(+0, -0) is -0.
//
// math.Min doesn't comply, so this borrows from the original with those
// changes.
// https://github.com/golang/go/blob/1d20a362d0ca4898d77865e314ef6f73582daef0/src/math/dim.go#L74-L91
func WasmCompatMin(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case math.IsInf(x, -1) || math.IsInf(y, -1):
		return math.Inf(-1)
	case x == 0 && x == y:
		if math.Signbit(x) {
			return x
		}
		return y
	}
	if x < y {
		return x
	}
	return y
}

// WasmCompatMax returns the larger of x or y per the Wasm spec: either
// operand being NaN results in NaN even if the other is +Inf, and
// max(+0, -0) is +0.
//
// https://github.com/golang/go/blob/1d20a362d0ca4898d77865e314ef6f73582daef0/src/math/dim.go#L42-L59
func WasmCompatMax(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case math.IsInf(x, 1) || math.IsInf(y, 1):
		return math.Inf(1)
	case x == 0 && x == y:
		if math.Signbit(x) {
			return y
		}
		return x
	}
	if x > y {
		return x
	}
	return y
}

// WasmCompatNearestF32 rounds to the nearest integral float32, ties to even,
// as required by f32.nearest.
//
// math.Round rounds ties away from zero, so this goes through
// math.RoundToEven. float32 values with a fractional part are all exactly
// representable in float64, so the round trip is exact.
func WasmCompatNearestF32(f float32) float32 {
	return float32(math.RoundToEven(float64(f)))
}

// WasmCompatNearestF64 rounds to the nearest integral float64, ties to even,
// as required by f64.nearest.
func WasmCompatNearestF64(f float64) float64 {
	return math.RoundToEven(f)
}

// F32IsNaN returns true if the 32-bit pattern encodes a NaN.
func F32IsNaN(v uint32) bool {
	return v&f32ExponentMask == f32ExponentMask && v&f32MantissaMask != 0
}

// F32IsCanonicalNaN returns true if the mantissa is exactly 2^22, sign
// unspecified.
func F32IsCanonicalNaN(v uint32) bool {
	return F32IsNaN(v) && v&f32MantissaMask == (F32CanonicalNaNBits&f32MantissaMask)
}

// F32IsArithmeticNaN returns true if the most significant mantissa bit is
// set. Every canonical NaN is also arithmetic.
func F32IsArithmeticNaN(v uint32) bool {
	return F32IsNaN(v) && v&(F32CanonicalNaNBits&f32MantissaMask) != 0
}

// F64IsNaN returns true if the 64-bit pattern encodes a NaN.
func F64IsNaN(v uint64) bool {
	return v&f64ExponentMask == f64ExponentMask && v&f64MantissaMask != 0
}

// F64IsCanonicalNaN returns true if the mantissa is exactly 2^51, sign
// unspecified.
func F64IsCanonicalNaN(v uint64) bool {
	return F64IsNaN(v) && v&f64MantissaMask == (F64CanonicalNaNBits&f64MantissaMask)
}

// F64IsArithmeticNaN returns true if the most significant mantissa bit is
// set.
func F64IsArithmeticNaN(v uint64) bool {
	return F64IsNaN(v) && v&(F64CanonicalNaNBits&f64MantissaMask) != 0
}
