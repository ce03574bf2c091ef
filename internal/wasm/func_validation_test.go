package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// singleFuncModule wraps one function body into a validatable module.
func singleFuncModule(ft *FunctionType, locals []ValueType, body []Instruction) *Module {
	return &Module{
		TypeSection:     []*FunctionType{ft},
		FunctionSection: []Index{0},
		CodeSection:     []*Code{{LocalTypes: locals, Body: body}},
	}
}

func TestValidateFunction(t *testing.T) {
	i32, i64, f32 := ValueTypeI32, ValueTypeI64, ValueTypeF32

	tests := []struct {
		name  string
		input *Module
	}{
		{
			name: "add",
			input: singleFuncModule(
				&FunctionType{Params: []ValueType{i32, i32}, Results: []ValueType{i32}}, nil,
				[]Instruction{
					NewInstIndex(OpcodeLocalGet, 0),
					NewInstIndex(OpcodeLocalGet, 1),
					NewInst(OpcodeI32Add),
					NewInst(OpcodeEnd),
				}),
		},
		{
			name: "block with result",
			input: singleFuncModule(
				&FunctionType{Results: []ValueType{i32}}, nil,
				[]Instruction{
					{Opcode: OpcodeBlock, BlockType: i32, Body: []Instruction{
						NewInstI32Const(1),
						NewInst(OpcodeEnd),
					}},
					NewInst(OpcodeEnd),
				}),
		},
		{
			name: "loop with br_if",
			input: singleFuncModule(
				&FunctionType{}, []ValueType{i32},
				[]Instruction{
					{Opcode: OpcodeLoop, BlockType: BlockTypeEmpty, Body: []Instruction{
						NewInstIndex(OpcodeLocalGet, 0),
						NewInstIndex(OpcodeBrIf, 0),
						NewInst(OpcodeEnd),
					}},
					NewInst(OpcodeEnd),
				}),
		},
		{
			name: "unreachable makes pops polymorphic",
			input: singleFuncModule(
				&FunctionType{Results: []ValueType{i32}}, nil,
				[]Instruction{
					NewInst(OpcodeUnreachable),
					// i32.add pops two unknowns and pushes i32.
					NewInst(OpcodeI32Add),
					NewInst(OpcodeEnd),
				}),
		},
		{
			name: "br makes the rest unreachable",
			input: singleFuncModule(
				&FunctionType{Results: []ValueType{i32}}, nil,
				[]Instruction{
					NewInstI32Const(1),
					NewInstIndex(OpcodeBr, 0),
					// Unreachable: any leftover is allowed to be absent.
					NewInst(OpcodeEnd),
				}),
		},
		{
			name: "select on matching operands",
			input: singleFuncModule(
				&FunctionType{Params: []ValueType{i32}, Results: []ValueType{i64}}, nil,
				[]Instruction{
					NewInstI64Const(1),
					NewInstI64Const(2),
					NewInstIndex(OpcodeLocalGet, 0),
					NewInst(OpcodeSelect),
					NewInst(OpcodeEnd),
				}),
		},
		{
			name: "if else with result",
			input: singleFuncModule(
				&FunctionType{Params: []ValueType{i32}, Results: []ValueType{f32}}, nil,
				[]Instruction{
					NewInstIndex(OpcodeLocalGet, 0),
					{
						Opcode: OpcodeIf, BlockType: f32,
						Body: []Instruction{NewInstF32Const(1), NewInst(OpcodeElse)},
						Else: []Instruction{NewInstF32Const(2), NewInst(OpcodeEnd)},
					},
					NewInst(OpcodeEnd),
				}),
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, tc.input.Validate())
		})
	}
}

func TestValidateFunction_Errors(t *testing.T) {
	i32 := ValueTypeI32

	tests := []struct {
		name        string
		input       *Module
		expectedErr string
	}{
		{
			name: "operand type mismatch",
			input: singleFuncModule(
				&FunctionType{Results: []ValueType{i32}}, nil,
				[]Instruction{
					NewInstI32Const(1),
					NewInstI64Const(2),
					NewInst(OpcodeI32Add),
					NewInst(OpcodeEnd),
				}),
			expectedErr: "invalid func[0]: i32.add: type mismatch: expected i32, but was i64",
		},
		{
			name: "operand stack underflow",
			input: singleFuncModule(
				&FunctionType{Results: []ValueType{i32}}, nil,
				[]Instruction{
					NewInstI32Const(1),
					NewInst(OpcodeI32Add),
					NewInst(OpcodeEnd),
				}),
			expectedErr: "invalid func[0]: i32.add: operand stack underflow",
		},
		{
			name: "br label out of range",
			input: singleFuncModule(
				&FunctionType{}, nil,
				[]Instruction{
					NewInstIndex(OpcodeBr, 1),
					NewInst(OpcodeEnd),
				}),
			expectedErr: "invalid func[0]: br: invalid br operation: index out of range 1 with 1 label(s)",
		},
		{
			name: "br_if without condition",
			input: singleFuncModule(
				&FunctionType{}, nil,
				[]Instruction{
					NewInstIndex(OpcodeBrIf, 0),
					NewInst(OpcodeEnd),
				}),
			expectedErr: "invalid func[0]: br_if: operand stack underflow",
		},
		{
			name: "br_table label type mismatch",
			input: singleFuncModule(
				&FunctionType{}, []ValueType{i32},
				[]Instruction{
					{Opcode: OpcodeBlock, BlockType: i32, Body: []Instruction{
						{Opcode: OpcodeBlock, BlockType: BlockTypeEmpty, Body: []Instruction{
							NewInstI32Const(0),
							NewInstIndex(OpcodeLocalGet, 0),
							{Opcode: OpcodeBrTable, Labels: []uint32{0}, U32: 1},
							NewInst(OpcodeEnd),
						}},
						NewInstI32Const(1),
						NewInst(OpcodeEnd),
					}},
					NewInst(OpcodeDrop),
					NewInst(OpcodeEnd),
				}),
			expectedErr: "invalid func[0]: block: block: br_table: br_table labels must have the same types",
		},
		{
			name: "end with leftover value",
			input: singleFuncModule(
				&FunctionType{}, nil,
				[]Instruction{
					NewInstI32Const(1),
					NewInst(OpcodeEnd),
				}),
			expectedErr: "invalid func[0]: end: type mismatch: 1 value(s) left on the stack",
		},
		{
			name: "end with missing result",
			input: singleFuncModule(
				&FunctionType{Results: []ValueType{i32}}, nil,
				[]Instruction{
					NewInst(OpcodeEnd),
				}),
			expectedErr: "invalid func[0]: end: operand stack underflow",
		},
		{
			name: "if without else but with result",
			input: singleFuncModule(
				&FunctionType{Params: []ValueType{i32}, Results: []ValueType{i32}}, nil,
				[]Instruction{
					NewInstIndex(OpcodeLocalGet, 0),
					{Opcode: OpcodeIf, BlockType: i32, Body: []Instruction{
						NewInstI32Const(1),
						NewInst(OpcodeEnd),
					}},
					NewInst(OpcodeEnd),
				}),
			expectedErr: "invalid func[0]: if: end: if without else must have no result",
		},
		{
			name: "select operand mismatch",
			input: singleFuncModule(
				&FunctionType{Params: []ValueType{i32}, Results: []ValueType{i32}}, nil,
				[]Instruction{
					NewInstI32Const(1),
					NewInstI64Const(2),
					NewInstIndex(OpcodeLocalGet, 0),
					NewInst(OpcodeSelect),
					NewInst(OpcodeEnd),
				}),
			expectedErr: "invalid func[0]: select: type mismatch: select operands differ: i64 and i32",
		},
		{
			name: "unknown local",
			input: singleFuncModule(
				&FunctionType{}, nil,
				[]Instruction{
					NewInstIndex(OpcodeLocalGet, 0),
					NewInst(OpcodeDrop),
					NewInst(OpcodeEnd),
				}),
			expectedErr: "invalid func[0]: local.get: unknown local 0",
		},
		{
			name: "set immutable global",
			input: func() *Module {
				m := singleFuncModule(
					&FunctionType{Params: []ValueType{i32}}, nil,
					[]Instruction{
						NewInstIndex(OpcodeLocalGet, 0),
						NewInstIndex(OpcodeGlobalSet, 0),
						NewInst(OpcodeEnd),
					})
				m.GlobalSection = []*Global{{
					Type: &GlobalType{ValType: i32},
					Init: &ConstantExpression{Opcode: OpcodeI32Const},
				}}
				return m
			}(),
			expectedErr: "invalid func[0]: global.set: global 0 is immutable",
		},
		{
			name: "memory instruction without memory",
			input: singleFuncModule(
				&FunctionType{Results: []ValueType{i32}}, nil,
				[]Instruction{
					NewInstI32Const(0),
					NewInstMem(OpcodeI32Load, 2, 0),
					NewInst(OpcodeEnd),
				}),
			expectedErr: "invalid func[0]: i32.load: memory not declared in module",
		},
		{
			name: "alignment over natural",
			input: func() *Module {
				m := singleFuncModule(
					&FunctionType{Results: []ValueType{i32}}, nil,
					[]Instruction{
						NewInstI32Const(0),
						NewInstMem(OpcodeI32Load, 3, 0),
						NewInst(OpcodeEnd),
					})
				m.MemorySection = &Memory{Min: 1}
				return m
			}(),
			expectedErr: "invalid func[0]: i32.load: alignment must not be larger than natural alignment (2)",
		},
		{
			name: "call_indirect without table",
			input: singleFuncModule(
				&FunctionType{Params: []ValueType{i32}}, nil,
				[]Instruction{
					NewInstIndex(OpcodeLocalGet, 0),
					NewInstIndex(OpcodeCallIndirect, 0),
					NewInst(OpcodeEnd),
				}),
			expectedErr: "invalid func[0]: call_indirect: table not declared in module",
		},
		{
			name: "call unknown function",
			input: singleFuncModule(
				&FunctionType{}, nil,
				[]Instruction{
					NewInstIndex(OpcodeCall, 5),
					NewInst(OpcodeEnd),
				}),
			expectedErr: "invalid func[0]: call: unknown function 5",
		},
		{
			name: "concrete type above the polymorphic base still checks",
			input: singleFuncModule(
				&FunctionType{Results: []ValueType{i32}}, nil,
				[]Instruction{
					NewInst(OpcodeUnreachable),
					NewInstI64Const(1),
					NewInst(OpcodeEnd),
				}),
			expectedErr: "invalid func[0]: end: type mismatch: expected i32, but was i64",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.EqualError(t, tc.input.Validate(), tc.expectedErr)
		})
	}
}
