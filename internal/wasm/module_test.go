package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func uint32Ptr(v uint32) *uint32 { return &v }

// end returns the smallest valid function body.
func end() []Instruction {
	return []Instruction{{Opcode: OpcodeEnd}}
}

func TestModule_Validate_Empty(t *testing.T) {
	require.NoError(t, (&Module{}).Validate())
}

func TestModule_Validate_Errors(t *testing.T) {
	i32, i64 := ValueTypeI32, ValueTypeI64

	tests := []struct {
		name        string
		input       *Module
		expectedErr string
	}{
		{
			name: "function type index out of range",
			input: &Module{
				TypeSection:     []*FunctionType{{}},
				FunctionSection: []Index{1},
				CodeSection:     []*Code{{Body: end()}},
			},
			expectedErr: "invalid func[0]: type index 1 out of range",
		},
		{
			name: "function and code section mismatch",
			input: &Module{
				TypeSection:     []*FunctionType{{}},
				FunctionSection: []Index{0},
			},
			expectedErr: "function and code section have inconsistent lengths: 1 and 0",
		},
		{
			name: "import function type out of range",
			input: &Module{
				ImportSection: []*Import{{Type: ExternTypeFunc, Module: "m", Name: "f", DescFunc: 0}},
			},
			expectedErr: "invalid import[m.f]: function type index out of range",
		},
		{
			name: "table min over max",
			input: &Module{
				TableSection: &Table{Min: 3, Max: uint32Ptr(2)},
			},
			expectedErr: "table size minimum must not be greater than maximum",
		},
		{
			name: "memory min over max",
			input: &Module{
				MemorySection: &Memory{Min: 3, Max: uint32Ptr(2)},
			},
			expectedErr: "memory size minimum must not be greater than maximum",
		},
		{
			name: "memory over hard cap",
			input: &Module{
				MemorySection: &Memory{Min: 65537},
			},
			expectedErr: "memory size must be at most 65536 pages (4GiB)",
		},
		{
			name: "second table via import",
			input: &Module{
				ImportSection: []*Import{{Type: ExternTypeTable, Module: "m", Name: "t", DescTable: &Table{Min: 1}}},
				TableSection:  &Table{Min: 1},
			},
			expectedErr: "at most one table allowed in module",
		},
		{
			name: "second memory via import",
			input: &Module{
				ImportSection: []*Import{{Type: ExternTypeMemory, Module: "m", Name: "m", DescMem: &Memory{Min: 1}}},
				MemorySection: &Memory{Min: 1},
			},
			expectedErr: "at most one memory allowed in module",
		},
		{
			name: "global initializer type mismatch",
			input: &Module{
				GlobalSection: []*Global{{
					Type: &GlobalType{ValType: i32},
					Init: &ConstantExpression{Opcode: OpcodeI64Const, Arg: 0},
				}},
			},
			expectedErr: "invalid global[0]: constant expression has type i64 but expected i32",
		},
		{
			name: "global initializer non-constant opcode",
			input: &Module{
				GlobalSection: []*Global{{
					Type: &GlobalType{ValType: i32},
					Init: &ConstantExpression{Opcode: OpcodeI32Add},
				}},
			},
			expectedErr: "invalid global[0]: opcode i32.add is not allowed in a constant expression",
		},
		{
			name: "global initializer reads defined global",
			input: &Module{
				GlobalSection: []*Global{{
					Type: &GlobalType{ValType: i32},
					Init: &ConstantExpression{Opcode: OpcodeGlobalGet, Arg: 0},
				}},
			},
			expectedErr: "invalid global[0]: global.get 0 out of range of imported globals",
		},
		{
			name: "global initializer reads mutable import",
			input: &Module{
				ImportSection: []*Import{{
					Type: ExternTypeGlobal, Module: "m", Name: "g",
					DescGlobal: &GlobalType{ValType: i32, Mutable: true},
				}},
				GlobalSection: []*Global{{
					Type: &GlobalType{ValType: i32},
					Init: &ConstantExpression{Opcode: OpcodeGlobalGet, Arg: 0},
				}},
			},
			expectedErr: "invalid global[0]: constant expression can only reference an immutable global",
		},
		{
			name: "export unknown function",
			input: &Module{
				ExportSection: map[string]*Export{
					"f": {Name: "f", Type: ExternTypeFunc, Index: 0},
				},
			},
			expectedErr: `unknown function for export["f"]`,
		},
		{
			name: "export unknown memory",
			input: &Module{
				ExportSection: map[string]*Export{
					"m": {Name: "m", Type: ExternTypeMemory, Index: 0},
				},
			},
			expectedErr: `unknown memory for export["m"]`,
		},
		{
			name: "start function with params",
			input: &Module{
				TypeSection:     []*FunctionType{{Params: []ValueType{i32}}},
				FunctionSection: []Index{0},
				CodeSection:     []*Code{{Body: end()}},
				StartSection:    func() *Index { v := Index(0); return &v }(),
			},
			expectedErr: "invalid start function: must have an empty (nullary) signature: (i32)->()",
		},
		{
			name: "start function out of range",
			input: &Module{
				StartSection: func() *Index { v := Index(3); return &v }(),
			},
			expectedErr: "invalid start function: func[3] not found",
		},
		{
			name: "element segment without table",
			input: &Module{
				ElementSection: []*ElementSegment{{
					Offset: &ConstantExpression{Opcode: OpcodeI32Const},
				}},
			},
			expectedErr: "element[0]: unknown table 0",
		},
		{
			name: "element segment function out of range",
			input: &Module{
				TableSection: &Table{Min: 3},
				ElementSection: []*ElementSegment{{
					Offset: &ConstantExpression{Opcode: OpcodeI32Const},
					Init:   []Index{0},
				}},
			},
			expectedErr: "element[0]: func[0] not found",
		},
		{
			name: "element segment offset type",
			input: &Module{
				TableSection: &Table{Min: 3},
				ElementSection: []*ElementSegment{{
					Offset: &ConstantExpression{Opcode: OpcodeI64Const},
				}},
			},
			expectedErr: "element[0]: constant expression has type i64 but expected i32",
		},
		{
			name: "data segment without memory",
			input: &Module{
				DataSection: []*DataSegment{{
					Offset: &ConstantExpression{Opcode: OpcodeI32Const},
				}},
			},
			expectedErr: "data[0]: unknown memory 0",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			err := tc.input.Validate()
			require.EqualError(t, err, tc.expectedErr)
		})
	}

	// A type-correct module passes all of the above checks.
	t.Run("valid module", func(t *testing.T) {
		m := &Module{
			TypeSection:     []*FunctionType{{Results: []ValueType{i64}}},
			FunctionSection: []Index{0},
			CodeSection: []*Code{{Body: []Instruction{
				NewInstI64Const(3),
				{Opcode: OpcodeEnd},
			}}},
			TableSection:  &Table{Min: 2},
			MemorySection: &Memory{Min: 1, Max: uint32Ptr(2)},
			GlobalSection: []*Global{{
				Type: &GlobalType{ValType: i32, Mutable: true},
				Init: &ConstantExpression{Opcode: OpcodeI32Const, Arg: 42},
			}},
			ExportSection: map[string]*Export{
				"f": {Name: "f", Type: ExternTypeFunc, Index: 0},
			},
		}
		require.NoError(t, m.Validate())
	})
}
