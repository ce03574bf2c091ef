package moremath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWasmCompatMin(t *testing.T) {
	require.Equal(t, WasmCompatMin(-1.1, 123), -1.1)
	require.Equal(t, WasmCompatMin(-1.1, math.Inf(1)), -1.1)
	require.Equal(t, WasmCompatMin(math.Inf(-1), 123), math.Inf(-1))

	// Even -Inf loses against NaN.
	require.True(t, math.IsNaN(WasmCompatMin(math.NaN(), math.Inf(-1))))
	require.True(t, math.IsNaN(WasmCompatMin(math.Inf(-1), math.NaN())))
	require.True(t, math.IsNaN(WasmCompatMin(math.NaN(), 1.0)))

	// min(+0, -0) = -0.
	negZero := math.Copysign(0, -1)
	require.True(t, math.Signbit(WasmCompatMin(0, negZero)))
	require.True(t, math.Signbit(WasmCompatMin(negZero, 0)))
}

func TestWasmCompatMax(t *testing.T) {
	require.Equal(t, WasmCompatMax(-1.1, 123.1), 123.1)
	require.Equal(t, WasmCompatMax(math.Inf(1), 123), math.Inf(1))
	require.Equal(t, WasmCompatMax(math.Inf(-1), 123), float64(123))

	// Even +Inf loses against NaN.
	require.True(t, math.IsNaN(WasmCompatMax(math.NaN(), math.Inf(1))))
	require.True(t, math.IsNaN(WasmCompatMax(math.Inf(1), math.NaN())))

	// max(+0, -0) = +0.
	negZero := math.Copysign(0, -1)
	require.False(t, math.Signbit(WasmCompatMax(0, negZero)))
	require.False(t, math.Signbit(WasmCompatMax(negZero, 0)))
}

func TestWasmCompatNearest(t *testing.T) {
	// Ties round to even, unlike math.Round.
	require.Equal(t, float32(0), WasmCompatNearestF32(0.5))
	require.Equal(t, float32(2), WasmCompatNearestF32(1.5))
	require.Equal(t, float32(-2), WasmCompatNearestF32(-1.5))
	require.Equal(t, float32(-1), WasmCompatNearestF32(-0.8))

	require.Equal(t, float64(0), WasmCompatNearestF64(0.5))
	require.Equal(t, float64(2), WasmCompatNearestF64(1.5))
	require.Equal(t, float64(-2), WasmCompatNearestF64(-1.5))

	// -0.5 rounds to -0, not +0.
	require.True(t, math.Signbit(float64(WasmCompatNearestF32(-0.5))))
	require.True(t, math.Signbit(WasmCompatNearestF64(-0.5)))

	// NaN stays NaN.
	require.True(t, math.IsNaN(WasmCompatNearestF64(math.NaN())))
}

func TestNaNClassification(t *testing.T) {
	require.True(t, F32IsCanonicalNaN(F32CanonicalNaNBits))
	require.True(t, F32IsCanonicalNaN(F32CanonicalNaNBits|0x8000_0000)) // sign unspecified
	require.True(t, F32IsArithmeticNaN(F32CanonicalNaNBits))
	require.True(t, F32IsArithmeticNaN(F32CanonicalNaNBits|1))
	require.False(t, F32IsCanonicalNaN(F32CanonicalNaNBits|1))
	require.False(t, F32IsNaN(math.Float32bits(1.0)))
	require.False(t, F32IsNaN(math.Float32bits(float32(math.Inf(1)))))
	// Signaling NaN (msb of mantissa clear) is neither canonical nor arithmetic.
	require.True(t, F32IsNaN(0x7f80_0001))
	require.False(t, F32IsArithmeticNaN(0x7f80_0001))

	require.True(t, F64IsCanonicalNaN(F64CanonicalNaNBits))
	require.True(t, F64IsCanonicalNaN(F64CanonicalNaNBits|0x8000_0000_0000_0000))
	require.True(t, F64IsArithmeticNaN(F64CanonicalNaNBits|42))
	require.False(t, F64IsCanonicalNaN(F64CanonicalNaNBits|42))
	require.False(t, F64IsNaN(math.Float64bits(math.Inf(-1))))
	require.True(t, F64IsNaN(0x7ff0_0000_0000_0001))
	require.False(t, F64IsArithmeticNaN(0x7ff0_0000_0000_0001))
}
