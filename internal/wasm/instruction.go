package wasm

import "math"

// BlockTypeEmpty is the encoding of a block with no result values.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-blocktype
const BlockTypeEmpty = byte(0x40)

// Instruction is one decoded instruction, tagged by Opcode. Only the fields
// its opcode uses carry meaning; the rest stay zero. The decoder is the only
// producer, and instances are never mutated after decode, so the executor
// can hold pointers into the tree while the module is shared.
type Instruction struct {
	Opcode Opcode

	// U32 holds the single index immediate: the label index for br/br_if,
	// the function index for call, the type index for call_indirect, the
	// local/global index for variable instructions, and the default label
	// for br_table.
	U32 uint32

	// U64 holds the value immediate of a const instruction, stored as the
	// raw bit pattern the operand stack uses.
	U64 uint64

	// Offset and Align are the memarg of a memory instruction. Align is the
	// exponent as encoded, not the byte count.
	Offset uint32
	Align  uint32

	// Labels are the branch targets of br_table, excluding the default.
	Labels []uint32

	// BlockType is the result type byte of block/loop/if: one ValueType or
	// BlockTypeEmpty.
	BlockType byte

	// Body is the bracketed sequence of block/loop, or the consequent of if.
	// It always terminates with an explicit end (or else, for an if with an
	// alternate) so the executor handles termination uniformly.
	Body []Instruction

	// Else is the alternate of if, terminated by end. Nil when the if has no
	// else; an if without an alternate behaves as if it had an empty one.
	Else []Instruction
}

// BlockResultArity returns how many values the block leaves on the stack.
func (i *Instruction) BlockResultArity() int {
	if i.BlockType == BlockTypeEmpty {
		return 0
	}
	return 1
}

// The helpers below build instructions the way the decoder does. They keep
// module fixtures in tests readable.

// NewInstI32Const returns an i32.const with the value stored unsigned.
func NewInstI32Const(v int32) Instruction {
	return Instruction{Opcode: OpcodeI32Const, U64: uint64(uint32(v))}
}

// NewInstI64Const returns an i64.const with the value stored unsigned.
func NewInstI64Const(v int64) Instruction {
	return Instruction{Opcode: OpcodeI64Const, U64: uint64(v)}
}

// NewInstF32Const returns an f32.const holding the value's bit pattern.
func NewInstF32Const(v float32) Instruction {
	return Instruction{Opcode: OpcodeF32Const, U64: uint64(math.Float32bits(v))}
}

// NewInstF64Const returns an f64.const holding the value's bit pattern.
func NewInstF64Const(v float64) Instruction {
	return Instruction{Opcode: OpcodeF64Const, U64: math.Float64bits(v)}
}

// NewInst returns an instruction with only an opcode.
func NewInst(op Opcode) Instruction {
	return Instruction{Opcode: op}
}

// NewInstIndex returns an instruction with one index immediate.
func NewInstIndex(op Opcode, index uint32) Instruction {
	return Instruction{Opcode: op, U32: index}
}

// NewInstMem returns a memory instruction with its memarg.
func NewInstMem(op Opcode, align, offset uint32) Instruction {
	return Instruction{Opcode: op, Align: align, Offset: offset}
}
