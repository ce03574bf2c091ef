package interpreter

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/wainlabs/wain/api"
	"github.com/wainlabs/wain/internal/moremath"
	"github.com/wainlabs/wain/internal/wasm"
	"github.com/wainlabs/wain/internal/wasmruntime"
)

// execLoad computes the effective address, bounds checks it, and pushes the
// loaded value, extending narrow loads per the opcode.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instructions%E2%91%A2
func execLoad(mem *wasm.MemoryInstance, instr *wasm.Instruction, stack *operandStack) error {
	base := uint32(stack.pop())
	// Both operands widen to uint64 so the sum cannot wrap the bounds check.
	ea := uint64(base) + uint64(instr.Offset)

	var width uint64
	switch instr.Opcode {
	case wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U:
		width = 1
	case wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U:
		width = 2
	case wasm.OpcodeI32Load, wasm.OpcodeF32Load, wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U:
		width = 4
	default:
		width = 8
	}
	buf, ok := mem.Region(ea, width)
	if !ok {
		return wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess
	}

	switch instr.Opcode {
	case wasm.OpcodeI32Load, wasm.OpcodeF32Load:
		stack.push(uint64(binary.LittleEndian.Uint32(buf)))
	case wasm.OpcodeI64Load, wasm.OpcodeF64Load:
		stack.push(binary.LittleEndian.Uint64(buf))
	case wasm.OpcodeI32Load8S:
		stack.push(uint64(uint32(int32(int8(buf[0])))))
	case wasm.OpcodeI32Load8U:
		stack.push(uint64(buf[0]))
	case wasm.OpcodeI32Load16S:
		stack.push(uint64(uint32(int32(int16(binary.LittleEndian.Uint16(buf))))))
	case wasm.OpcodeI32Load16U:
		stack.push(uint64(binary.LittleEndian.Uint16(buf)))
	case wasm.OpcodeI64Load8S:
		stack.push(uint64(int64(int8(buf[0]))))
	case wasm.OpcodeI64Load8U:
		stack.push(uint64(buf[0]))
	case wasm.OpcodeI64Load16S:
		stack.push(uint64(int64(int16(binary.LittleEndian.Uint16(buf)))))
	case wasm.OpcodeI64Load16U:
		stack.push(uint64(binary.LittleEndian.Uint16(buf)))
	case wasm.OpcodeI64Load32S:
		stack.push(uint64(int64(int32(binary.LittleEndian.Uint32(buf)))))
	case wasm.OpcodeI64Load32U:
		stack.push(uint64(binary.LittleEndian.Uint32(buf)))
	}
	return nil
}

// execStore pops the value then the base address, bounds checks, and writes
// little-endian, wrapping narrow stores modulo the store width.
func execStore(mem *wasm.MemoryInstance, instr *wasm.Instruction, stack *operandStack) error {
	value := stack.pop()
	base := uint32(stack.pop())
	ea := uint64(base) + uint64(instr.Offset)

	var width uint64
	switch instr.Opcode {
	case wasm.OpcodeI32Store8, wasm.OpcodeI64Store8:
		width = 1
	case wasm.OpcodeI32Store16, wasm.OpcodeI64Store16:
		width = 2
	case wasm.OpcodeI32Store, wasm.OpcodeF32Store, wasm.OpcodeI64Store32:
		width = 4
	default:
		width = 8
	}
	buf, ok := mem.Region(ea, width)
	if !ok {
		return wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess
	}

	switch width {
	case 1:
		buf[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(value))
	default:
		binary.LittleEndian.PutUint64(buf, value)
	}
	return nil
}

// execNumeric dispatches every instruction without immediates: tests,
// comparisons, arithmetic and conversions.
func execNumeric(op wasm.Opcode, stack *operandStack) error {
	switch op {
	case wasm.OpcodeI32Eqz:
		pushBool(stack, uint32(stack.pop()) == 0)
	case wasm.OpcodeI64Eqz:
		pushBool(stack, stack.pop() == 0)

	case wasm.OpcodeI32Eq, wasm.OpcodeI32Ne, wasm.OpcodeI32LtS, wasm.OpcodeI32LtU,
		wasm.OpcodeI32GtS, wasm.OpcodeI32GtU, wasm.OpcodeI32LeS, wasm.OpcodeI32LeU,
		wasm.OpcodeI32GeS, wasm.OpcodeI32GeU:
		v2, v1 := uint32(stack.pop()), uint32(stack.pop())
		pushBool(stack, i32Compare(op, v1, v2))

	case wasm.OpcodeI64Eq, wasm.OpcodeI64Ne, wasm.OpcodeI64LtS, wasm.OpcodeI64LtU,
		wasm.OpcodeI64GtS, wasm.OpcodeI64GtU, wasm.OpcodeI64LeS, wasm.OpcodeI64LeU,
		wasm.OpcodeI64GeS, wasm.OpcodeI64GeU:
		v2, v1 := stack.pop(), stack.pop()
		pushBool(stack, i64Compare(op, v1, v2))

	case wasm.OpcodeF32Eq, wasm.OpcodeF32Ne, wasm.OpcodeF32Lt, wasm.OpcodeF32Gt,
		wasm.OpcodeF32Le, wasm.OpcodeF32Ge:
		v2, v1 := api.DecodeF32(stack.pop()), api.DecodeF32(stack.pop())
		pushBool(stack, fCompare(op-wasm.OpcodeF32Eq, float64(v1), float64(v2)))

	case wasm.OpcodeF64Eq, wasm.OpcodeF64Ne, wasm.OpcodeF64Lt, wasm.OpcodeF64Gt,
		wasm.OpcodeF64Le, wasm.OpcodeF64Ge:
		v2, v1 := api.DecodeF64(stack.pop()), api.DecodeF64(stack.pop())
		pushBool(stack, fCompare(op-wasm.OpcodeF64Eq, v1, v2))

	case wasm.OpcodeI32Clz:
		stack.push(uint64(bits.LeadingZeros32(uint32(stack.pop()))))
	case wasm.OpcodeI32Ctz:
		stack.push(uint64(bits.TrailingZeros32(uint32(stack.pop()))))
	case wasm.OpcodeI32Popcnt:
		stack.push(uint64(bits.OnesCount32(uint32(stack.pop()))))
	case wasm.OpcodeI64Clz:
		stack.push(uint64(bits.LeadingZeros64(stack.pop())))
	case wasm.OpcodeI64Ctz:
		stack.push(uint64(bits.TrailingZeros64(stack.pop())))
	case wasm.OpcodeI64Popcnt:
		stack.push(uint64(bits.OnesCount64(stack.pop())))

	case wasm.OpcodeI32Add, wasm.OpcodeI32Sub, wasm.OpcodeI32Mul, wasm.OpcodeI32And,
		wasm.OpcodeI32Or, wasm.OpcodeI32Xor, wasm.OpcodeI32Shl, wasm.OpcodeI32ShrS,
		wasm.OpcodeI32ShrU, wasm.OpcodeI32Rotl, wasm.OpcodeI32Rotr:
		v2, v1 := uint32(stack.pop()), uint32(stack.pop())
		stack.push(uint64(i32Binop(op, v1, v2)))

	case wasm.OpcodeI32DivS, wasm.OpcodeI32DivU, wasm.OpcodeI32RemS, wasm.OpcodeI32RemU:
		v2, v1 := uint32(stack.pop()), uint32(stack.pop())
		result, err := i32DivRem(op, v1, v2)
		if err != nil {
			return err
		}
		stack.push(uint64(result))

	case wasm.OpcodeI64Add, wasm.OpcodeI64Sub, wasm.OpcodeI64Mul, wasm.OpcodeI64And,
		wasm.OpcodeI64Or, wasm.OpcodeI64Xor, wasm.OpcodeI64Shl, wasm.OpcodeI64ShrS,
		wasm.OpcodeI64ShrU, wasm.OpcodeI64Rotl, wasm.OpcodeI64Rotr:
		v2, v1 := stack.pop(), stack.pop()
		stack.push(i64Binop(op, v1, v2))

	case wasm.OpcodeI64DivS, wasm.OpcodeI64DivU, wasm.OpcodeI64RemS, wasm.OpcodeI64RemU:
		v2, v1 := stack.pop(), stack.pop()
		result, err := i64DivRem(op, v1, v2)
		if err != nil {
			return err
		}
		stack.push(result)

	case wasm.OpcodeF32Abs, wasm.OpcodeF32Neg, wasm.OpcodeF32Ceil, wasm.OpcodeF32Floor,
		wasm.OpcodeF32Trunc, wasm.OpcodeF32Nearest, wasm.OpcodeF32Sqrt:
		v := api.DecodeF32(stack.pop())
		stack.push(api.EncodeF32(f32Unop(op, v)))

	case wasm.OpcodeF64Abs, wasm.OpcodeF64Neg, wasm.OpcodeF64Ceil, wasm.OpcodeF64Floor,
		wasm.OpcodeF64Trunc, wasm.OpcodeF64Nearest, wasm.OpcodeF64Sqrt:
		v := api.DecodeF64(stack.pop())
		stack.push(api.EncodeF64(f64Unop(op, v)))

	case wasm.OpcodeF32Add, wasm.OpcodeF32Sub, wasm.OpcodeF32Mul, wasm.OpcodeF32Div,
		wasm.OpcodeF32Min, wasm.OpcodeF32Max, wasm.OpcodeF32Copysign:
		v2, v1 := api.DecodeF32(stack.pop()), api.DecodeF32(stack.pop())
		stack.push(api.EncodeF32(f32Binop(op, v1, v2)))

	case wasm.OpcodeF64Add, wasm.OpcodeF64Sub, wasm.OpcodeF64Mul, wasm.OpcodeF64Div,
		wasm.OpcodeF64Min, wasm.OpcodeF64Max, wasm.OpcodeF64Copysign:
		v2, v1 := api.DecodeF64(stack.pop()), api.DecodeF64(stack.pop())
		stack.push(api.EncodeF64(f64Binop(op, v1, v2)))

	default:
		return execConversion(op, stack)
	}
	return nil
}

func pushBool(stack *operandStack, b bool) {
	if b {
		stack.push(1)
	} else {
		stack.push(0)
	}
}

func i32Compare(op wasm.Opcode, v1, v2 uint32) bool {
	switch op {
	case wasm.OpcodeI32Eq:
		return v1 == v2
	case wasm.OpcodeI32Ne:
		return v1 != v2
	case wasm.OpcodeI32LtS:
		return int32(v1) < int32(v2)
	case wasm.OpcodeI32LtU:
		return v1 < v2
	case wasm.OpcodeI32GtS:
		return int32(v1) > int32(v2)
	case wasm.OpcodeI32GtU:
		return v1 > v2
	case wasm.OpcodeI32LeS:
		return int32(v1) <= int32(v2)
	case wasm.OpcodeI32LeU:
		return v1 <= v2
	case wasm.OpcodeI32GeS:
		return int32(v1) >= int32(v2)
	default: // wasm.OpcodeI32GeU
		return v1 >= v2
	}
}

func i64Compare(op wasm.Opcode, v1, v2 uint64) bool {
	switch op {
	case wasm.OpcodeI64Eq:
		return v1 == v2
	case wasm.OpcodeI64Ne:
		return v1 != v2
	case wasm.OpcodeI64LtS:
		return int64(v1) < int64(v2)
	case wasm.OpcodeI64LtU:
		return v1 < v2
	case wasm.OpcodeI64GtS:
		return int64(v1) > int64(v2)
	case wasm.OpcodeI64GtU:
		return v1 > v2
	case wasm.OpcodeI64LeS:
		return int64(v1) <= int64(v2)
	case wasm.OpcodeI64LeU:
		return v1 <= v2
	case wasm.OpcodeI64GeS:
		return int64(v1) >= int64(v2)
	default: // wasm.OpcodeI64GeU
		return v1 >= v2
	}
}

// fCompare covers both float widths: comparisons are exact, and any float32
// converts to float64 losslessly. rel is the offset from the eq opcode.
func fCompare(rel wasm.Opcode, v1, v2 float64) bool {
	switch rel {
	case 0: // eq
		return v1 == v2
	case 1: // ne
		return v1 != v2
	case 2: // lt
		return v1 < v2
	case 3: // gt
		return v1 > v2
	case 4: // le
		return v1 <= v2
	default: // ge
		return v1 >= v2
	}
}

func i32Binop(op wasm.Opcode, v1, v2 uint32) uint32 {
	switch op {
	case wasm.OpcodeI32Add:
		return v1 + v2
	case wasm.OpcodeI32Sub:
		return v1 - v2
	case wasm.OpcodeI32Mul:
		return v1 * v2
	case wasm.OpcodeI32And:
		return v1 & v2
	case wasm.OpcodeI32Or:
		return v1 | v2
	case wasm.OpcodeI32Xor:
		return v1 ^ v2
	case wasm.OpcodeI32Shl:
		return v1 << (v2 % 32)
	case wasm.OpcodeI32ShrS:
		return uint32(int32(v1) >> (v2 % 32))
	case wasm.OpcodeI32ShrU:
		return v1 >> (v2 % 32)
	case wasm.OpcodeI32Rotl:
		return bits.RotateLeft32(v1, int(v2%32))
	default: // wasm.OpcodeI32Rotr
		return bits.RotateLeft32(v1, -int(v2%32))
	}
}

func i64Binop(op wasm.Opcode, v1, v2 uint64) uint64 {
	switch op {
	case wasm.OpcodeI64Add:
		return v1 + v2
	case wasm.OpcodeI64Sub:
		return v1 - v2
	case wasm.OpcodeI64Mul:
		return v1 * v2
	case wasm.OpcodeI64And:
		return v1 & v2
	case wasm.OpcodeI64Or:
		return v1 | v2
	case wasm.OpcodeI64Xor:
		return v1 ^ v2
	case wasm.OpcodeI64Shl:
		return v1 << (v2 % 64)
	case wasm.OpcodeI64ShrS:
		return uint64(int64(v1) >> (v2 % 64))
	case wasm.OpcodeI64ShrU:
		return v1 >> (v2 % 64)
	case wasm.OpcodeI64Rotl:
		return bits.RotateLeft64(v1, int(v2%64))
	default: // wasm.OpcodeI64Rotr
		return bits.RotateLeft64(v1, -int(v2%64))
	}
}

// i32DivRem implements the four division instructions, whose traps are the
// only ones in the integer arithmetic class: division by zero, and signed
// division overflow on INT32_MIN / -1. INT32_MIN % -1 is 0, not a trap.
func i32DivRem(op wasm.Opcode, v1, v2 uint32) (uint32, error) {
	if v2 == 0 {
		return 0, wasmruntime.ErrRuntimeIntegerDivideByZero
	}
	switch op {
	case wasm.OpcodeI32DivS:
		n, d := int32(v1), int32(v2)
		if n == math.MinInt32 && d == -1 {
			return 0, wasmruntime.ErrRuntimeIntegerOverflow
		}
		return uint32(n / d), nil
	case wasm.OpcodeI32DivU:
		return v1 / v2, nil
	case wasm.OpcodeI32RemS:
		n, d := int32(v1), int32(v2)
		if n == math.MinInt32 && d == -1 {
			return 0, nil
		}
		return uint32(n % d), nil
	default: // wasm.OpcodeI32RemU
		return v1 % v2, nil
	}
}

func i64DivRem(op wasm.Opcode, v1, v2 uint64) (uint64, error) {
	if v2 == 0 {
		return 0, wasmruntime.ErrRuntimeIntegerDivideByZero
	}
	switch op {
	case wasm.OpcodeI64DivS:
		n, d := int64(v1), int64(v2)
		if n == math.MinInt64 && d == -1 {
			return 0, wasmruntime.ErrRuntimeIntegerOverflow
		}
		return uint64(n / d), nil
	case wasm.OpcodeI64DivU:
		return v1 / v2, nil
	case wasm.OpcodeI64RemS:
		n, d := int64(v1), int64(v2)
		if n == math.MinInt64 && d == -1 {
			return 0, nil
		}
		return uint64(n % d), nil
	default: // wasm.OpcodeI64RemU
		return v1 % v2, nil
	}
}

func f32Unop(op wasm.Opcode, v float32) float32 {
	switch op {
	case wasm.OpcodeF32Abs:
		return float32(math.Abs(float64(v)))
	case wasm.OpcodeF32Neg:
		return -v
	case wasm.OpcodeF32Ceil:
		return float32(math.Ceil(float64(v)))
	case wasm.OpcodeF32Floor:
		return float32(math.Floor(float64(v)))
	case wasm.OpcodeF32Trunc:
		return float32(math.Trunc(float64(v)))
	case wasm.OpcodeF32Nearest:
		return moremath.WasmCompatNearestF32(v)
	default: // wasm.OpcodeF32Sqrt
		// Square root of a float32 through float64 is exactly rounded.
		return float32(math.Sqrt(float64(v)))
	}
}

func f64Unop(op wasm.Opcode, v float64) float64 {
	switch op {
	case wasm.OpcodeF64Abs:
		return math.Abs(v)
	case wasm.OpcodeF64Neg:
		return -v
	case wasm.OpcodeF64Ceil:
		return math.Ceil(v)
	case wasm.OpcodeF64Floor:
		return math.Floor(v)
	case wasm.OpcodeF64Trunc:
		return math.Trunc(v)
	case wasm.OpcodeF64Nearest:
		return moremath.WasmCompatNearestF64(v)
	default: // wasm.OpcodeF64Sqrt
		return math.Sqrt(v)
	}
}

func f32Binop(op wasm.Opcode, v1, v2 float32) float32 {
	switch op {
	case wasm.OpcodeF32Add:
		return v1 + v2
	case wasm.OpcodeF32Sub:
		return v1 - v2
	case wasm.OpcodeF32Mul:
		return v1 * v2
	case wasm.OpcodeF32Div:
		return v1 / v2
	case wasm.OpcodeF32Min:
		return float32(moremath.WasmCompatMin(float64(v1), float64(v2)))
	case wasm.OpcodeF32Max:
		return float32(moremath.WasmCompatMax(float64(v1), float64(v2)))
	default: // wasm.OpcodeF32Copysign
		return float32(math.Copysign(float64(v1), float64(v2)))
	}
}

func f64Binop(op wasm.Opcode, v1, v2 float64) float64 {
	switch op {
	case wasm.OpcodeF64Add:
		return v1 + v2
	case wasm.OpcodeF64Sub:
		return v1 - v2
	case wasm.OpcodeF64Mul:
		return v1 * v2
	case wasm.OpcodeF64Div:
		return v1 / v2
	case wasm.OpcodeF64Min:
		return moremath.WasmCompatMin(v1, v2)
	case wasm.OpcodeF64Max:
		return moremath.WasmCompatMax(v1, v2)
	default: // wasm.OpcodeF64Copysign
		return math.Copysign(v1, v2)
	}
}

// execConversion handles the wrap/extend/truncate/convert/demote/promote/
// reinterpret class. Truncation to integer traps on NaN and on results out
// of range of the target type.
func execConversion(op wasm.Opcode, stack *operandStack) error {
	switch op {
	case wasm.OpcodeI32WrapI64:
		stack.push(uint64(uint32(stack.pop())))

	case wasm.OpcodeI32TruncF32S:
		v, err := truncToInt(float64(api.DecodeF32(stack.pop())), math.MinInt32, math.MaxInt32)
		if err != nil {
			return err
		}
		stack.push(uint64(uint32(int32(v))))
	case wasm.OpcodeI32TruncF32U:
		v, err := truncToUint(float64(api.DecodeF32(stack.pop())), math.MaxUint32)
		if err != nil {
			return err
		}
		stack.push(uint64(uint32(v)))
	case wasm.OpcodeI32TruncF64S:
		v, err := truncToInt(api.DecodeF64(stack.pop()), math.MinInt32, math.MaxInt32)
		if err != nil {
			return err
		}
		stack.push(uint64(uint32(int32(v))))
	case wasm.OpcodeI32TruncF64U:
		v, err := truncToUint(api.DecodeF64(stack.pop()), math.MaxUint32)
		if err != nil {
			return err
		}
		stack.push(uint64(uint32(v)))

	case wasm.OpcodeI64ExtendI32S:
		stack.push(uint64(int64(int32(stack.pop()))))
	case wasm.OpcodeI64ExtendI32U:
		stack.push(uint64(uint32(stack.pop())))

	case wasm.OpcodeI64TruncF32S:
		v, err := truncToInt(float64(api.DecodeF32(stack.pop())), math.MinInt64, math.MaxInt64)
		if err != nil {
			return err
		}
		stack.push(uint64(v))
	case wasm.OpcodeI64TruncF32U:
		v, err := truncToUint(float64(api.DecodeF32(stack.pop())), math.MaxUint64)
		if err != nil {
			return err
		}
		stack.push(v)
	case wasm.OpcodeI64TruncF64S:
		v, err := truncToInt(api.DecodeF64(stack.pop()), math.MinInt64, math.MaxInt64)
		if err != nil {
			return err
		}
		stack.push(uint64(v))
	case wasm.OpcodeI64TruncF64U:
		v, err := truncToUint(api.DecodeF64(stack.pop()), math.MaxUint64)
		if err != nil {
			return err
		}
		stack.push(v)

	case wasm.OpcodeF32ConvertI32S:
		stack.push(api.EncodeF32(float32(int32(stack.pop()))))
	case wasm.OpcodeF32ConvertI32U:
		stack.push(api.EncodeF32(float32(uint32(stack.pop()))))
	case wasm.OpcodeF32ConvertI64S:
		stack.push(api.EncodeF32(float32(int64(stack.pop()))))
	case wasm.OpcodeF32ConvertI64U:
		stack.push(api.EncodeF32(float32(stack.pop())))
	case wasm.OpcodeF32DemoteF64:
		stack.push(api.EncodeF32(float32(api.DecodeF64(stack.pop()))))

	case wasm.OpcodeF64ConvertI32S:
		stack.push(api.EncodeF64(float64(int32(stack.pop()))))
	case wasm.OpcodeF64ConvertI32U:
		stack.push(api.EncodeF64(float64(uint32(stack.pop()))))
	case wasm.OpcodeF64ConvertI64S:
		stack.push(api.EncodeF64(float64(int64(stack.pop()))))
	case wasm.OpcodeF64ConvertI64U:
		stack.push(api.EncodeF64(float64(stack.pop())))
	case wasm.OpcodeF64PromoteF32:
		stack.push(api.EncodeF64(float64(api.DecodeF32(stack.pop()))))

	case wasm.OpcodeI32ReinterpretF32, wasm.OpcodeI64ReinterpretF64,
		wasm.OpcodeF32ReinterpretI32, wasm.OpcodeF64ReinterpretI64:
		// The bit pattern already is the stack representation.

	default:
		panic(fmt.Errorf("unhandled opcode %#x", op))
	}
	return nil
}

// truncToInt rounds v toward zero and checks the signed range [lo, hi].
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#op-trunc-s
func truncToInt(v float64, lo, hi int64) (int64, error) {
	if math.IsNaN(v) {
		return 0, wasmruntime.ErrRuntimeInvalidConversionToInteger
	}
	t := math.Trunc(v)
	// The upper bound compares in float64: hi+1 is always the exact power of
	// two, while hi itself may not be representable.
	if t < float64(lo) || t >= float64(hi)+1 {
		return 0, wasmruntime.ErrRuntimeIntegerOverflow
	}
	return int64(t), nil
}

// truncToUint rounds v toward zero and checks the unsigned range [0, hi].
func truncToUint(v float64, hi uint64) (uint64, error) {
	if math.IsNaN(v) {
		return 0, wasmruntime.ErrRuntimeInvalidConversionToInteger
	}
	t := math.Trunc(v)
	if t < 0 || t >= float64(hi)+1 {
		return 0, wasmruntime.ErrRuntimeIntegerOverflow
	}
	return uint64(t), nil
}
