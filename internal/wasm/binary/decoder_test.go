package binary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wainlabs/wain/internal/wasm"
)

func TestDecodeModule_Preamble(t *testing.T) {
	t.Run("empty module", func(t *testing.T) {
		m, err := DecodeModule([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})
		require.NoError(t, err)
		require.Equal(t, &wasm.Module{}, m)
	})
	t.Run("bad magic", func(t *testing.T) {
		for _, input := range [][]byte{
			{},
			{0x00, 0x61, 0x73},
			{0x01, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
			{0x6d, 0x73, 0x61, 0x00, 0x01, 0x00, 0x00, 0x00},
		} {
			_, err := DecodeModule(input)
			require.ErrorIs(t, err, ErrInvalidMagicNumber)
		}
	})
	t.Run("bad version", func(t *testing.T) {
		for _, input := range [][]byte{
			{0x00, 0x61, 0x73, 0x6d},
			{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00},
			{0x00, 0x61, 0x73, 0x6d, 0x00, 0x00, 0x00, 0x01},
		} {
			_, err := DecodeModule(input)
			require.ErrorIs(t, err, ErrInvalidVersion)
		}
	})
}

// header duplicates the preamble for fixture brevity.
var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func TestDecodeModule(t *testing.T) {
	i32 := wasm.ValueTypeI32
	zero := wasm.Index(0)

	tests := []struct {
		name     string
		input    []byte
		expected *wasm.Module
	}{
		{
			name: "type section",
			input: append(header,
				wasm.SectionIDType, 0x07, // 7 bytes
				0x01,                         // one type
				0x60, 0x02, i32, i32, 0x01, i32, // (i32,i32)->(i32)
			),
			expected: &wasm.Module{
				TypeSection: []*wasm.FunctionType{
					{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}},
				},
			},
		},
		{
			name: "type and import section",
			input: append(header,
				wasm.SectionIDType, 0x04, // 4 bytes
				0x01,             // one type
				0x60, 0x00, 0x00, // ()->()
				wasm.SectionIDImport, 0x0c, // 12 bytes
				0x01,                          // one import
				0x03, 'e', 'n', 'v',           // module "env"
				0x04, 't', 'i', 'c', 'k', // name "tick"
				0x00, 0x00, // function of type 0
			),
			expected: &wasm.Module{
				TypeSection: []*wasm.FunctionType{{}},
				ImportSection: []*wasm.Import{{
					Type: wasm.ExternTypeFunc, Module: "env", Name: "tick", DescFunc: 0,
				}},
			},
		},
		{
			name: "table and memory section",
			input: append(header,
				wasm.SectionIDTable, 0x05, // 5 bytes
				0x01,                         // one table
				wasm.RefTypeFuncref, 0x01, 2, 3, // (table 2 3)
				wasm.SectionIDMemory, 0x03, // 3 bytes
				0x01,       // one memory
				0x00, 0x01, // (memory 1)
			),
			expected: &wasm.Module{
				TableSection:  &wasm.Table{Min: 2, Max: uint32Ptr(3)},
				MemorySection: &wasm.Memory{Min: 1},
			},
		},
		{
			name: "start section",
			input: append(header,
				wasm.SectionIDType, 0x04,
				0x01,
				0x60, 0x00, 0x00,
				wasm.SectionIDImport, 0x0a, // 10 bytes
				0x01,
				0x00,                      // module ""
				0x05, 'h', 'e', 'l', 'l', 'o', // name "hello"
				0x00, 0x00,
				wasm.SectionIDStart, 0x01,
				0x00, // function index zero
			),
			expected: &wasm.Module{
				TypeSection: []*wasm.FunctionType{{}},
				ImportSection: []*wasm.Import{{
					Type: wasm.ExternTypeFunc, Module: "", Name: "hello", DescFunc: 0,
				}},
				StartSection: &zero,
			},
		},
		{
			name: "export section",
			input: append(header,
				wasm.SectionIDMemory, 0x03,
				0x01,
				0x00, 0x01,
				wasm.SectionIDExport, 0x07, // 7 bytes
				0x01,                // one export
				0x03, 'm', 'e', 'm', // name "mem"
				0x02, 0x00, // memory index zero
			),
			expected: &wasm.Module{
				MemorySection: &wasm.Memory{Min: 1},
				ExportSection: map[string]*wasm.Export{
					"mem": {Name: "mem", Type: wasm.ExternTypeMemory, Index: 0},
				},
			},
		},
		{
			name: "global section",
			input: append(header,
				wasm.SectionIDGlobal, 0x06, // 6 bytes
				0x01,       // one global
				i32, 0x01, // mutable i32
				wasm.OpcodeI32Const, 0x07, wasm.OpcodeEnd,
			),
			expected: &wasm.Module{
				GlobalSection: []*wasm.Global{{
					Type: &wasm.GlobalType{ValType: i32, Mutable: true},
					Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Arg: 7},
				}},
			},
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			m, err := DecodeModule(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.expected, m)
		})
	}
}

func TestDecodeModule_SkipsCustomSection(t *testing.T) {
	input := append(header,
		wasm.SectionIDCustom, 0x0a, // 10 bytes in this section
		0x04, 'm', 'e', 'm', 'e',
		1, 2, 3, 4, 5)
	m, err := DecodeModule(input)
	require.NoError(t, err)
	require.Equal(t, &wasm.Module{}, m)
}

func TestDecodeModule_NameSection(t *testing.T) {
	input := append(header,
		wasm.SectionIDCustom, 0x0e, // 14 bytes in this section
		0x04, 'n', 'a', 'm', 'e',
		subsectionIDModuleName, 0x07, // 7 bytes in this subsection
		0x06, // the module name simple is 6 bytes long
		's', 'i', 'm', 'p', 'l', 'e')
	m, err := DecodeModule(input)
	require.NoError(t, err)
	require.Equal(t, &wasm.Module{NameSection: &wasm.NameSection{ModuleName: "simple"}}, m)
}

func TestDecodeModule_Errors(t *testing.T) {
	tests := []struct {
		name        string
		input       []byte
		expectedErr string
	}{
		{
			name:        "section out of order",
			input:       append(header, wasm.SectionIDFunction, 0x02, 0x01, 0x00, wasm.SectionIDType, 0x01, 0x00),
			expectedErr: "section type out of order",
		},
		{
			name:        "section repeated",
			input:       append(header, wasm.SectionIDType, 0x01, 0x00, wasm.SectionIDType, 0x01, 0x00),
			expectedErr: "section type out of order",
		},
		{
			name:        "invalid section id",
			input:       append(header, 0x0c, 0x01, 0x00),
			expectedErr: "invalid section id 12",
		},
		{
			name:        "section size over remaining input",
			input:       append(header, wasm.SectionIDType, 0x20, 0x00),
			expectedErr: "section type size 32 exceeds remaining input",
		},
		{
			name:        "section size not fully consumed",
			input:       append(header, wasm.SectionIDType, 0x02, 0x00, 0x00),
			expectedErr: "section type size mismatch: 1 byte(s) not consumed",
		},
		{
			name: "function and code section mismatch",
			input: append(header,
				wasm.SectionIDType, 0x04, 0x01, 0x60, 0x00, 0x00,
				wasm.SectionIDFunction, 0x02, 0x01, 0x00),
			expectedErr: "function and code section have inconsistent lengths: 1 and 0",
		},
		{
			name: "invalid UTF-8 in name",
			input: append(header,
				wasm.SectionIDImport, 0x08,
				0x01,
				0x02, 0xff, 0xfe, // invalid UTF-8 module name
				0x01, 'x',
				0x00, 0x00),
			expectedErr: "section import: read 0-th import: import module: name is not valid UTF-8",
		},
		{
			name: "two tables",
			input: append(header,
				wasm.SectionIDTable, 0x07,
				0x02,
				wasm.RefTypeFuncref, 0x00, 0x01,
				wasm.RefTypeFuncref, 0x00, 0x01),
			expectedErr: "section table: at most one table allowed in module, but read 2",
		},
		{
			name: "two memories",
			input: append(header,
				wasm.SectionIDMemory, 0x05,
				0x02,
				0x00, 0x01,
				0x00, 0x01),
			expectedErr: "section memory: at most one memory allowed in module, but read 2",
		},
		{
			name: "duplicated export name",
			input: append(header,
				wasm.SectionIDMemory, 0x03, 0x01, 0x00, 0x01,
				wasm.SectionIDExport, 0x09,
				0x02,
				0x01, 'm', 0x02, 0x00,
				0x01, 'm', 0x02, 0x00),
			expectedErr: `section export: export[1] duplicates name "m"`,
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeModule(tc.input)
			require.EqualError(t, err, tc.expectedErr)
		})
	}
}

func uint32Ptr(v uint32) *uint32 {
	return &v
}
