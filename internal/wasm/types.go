package wasm

import (
	"fmt"
	"strings"

	"github.com/wainlabs/wain/api"
)

// Index is the offset in an index namespace, not necessarily an absolute
// position in a Module section. This is because index namespaces are often
// preceded by a corresponding type in the Module.ImportSection.
//
// For example, the function index namespace starts with any
// ExternTypeFunc in the Module.ImportSection followed by the
// Module.FunctionSection.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-index
type Index = uint32

// ValueType is an alias of api.ValueType defined to simplify imports.
type ValueType = api.ValueType

const (
	ValueTypeI32 = api.ValueTypeI32
	ValueTypeI64 = api.ValueTypeI64
	ValueTypeF32 = api.ValueTypeF32
	ValueTypeF64 = api.ValueTypeF64
)

// ValueTypeName is an alias of api.ValueTypeName defined to simplify imports.
func ValueTypeName(t ValueType) string {
	return api.ValueTypeName(t)
}

// ExternType is an alias of api.ExternType defined to simplify imports.
type ExternType = api.ExternType

const (
	ExternTypeFunc   = api.ExternTypeFunc
	ExternTypeTable  = api.ExternTypeTable
	ExternTypeMemory = api.ExternTypeMemory
	ExternTypeGlobal = api.ExternTypeGlobal
)

// ExternTypeName is an alias of api.ExternTypeName defined to simplify imports.
func ExternTypeName(t ExternType) string {
	return api.ExternTypeName(t)
}

// FunctionType is a possibly empty function signature.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-types%E2%91%A0
type FunctionType struct {
	// Params are the possibly empty sequence of value types accepted by a
	// function with this signature.
	Params []ValueType

	// Results are the possibly empty sequence of value types returned by a
	// function with this signature. In Wasm 1.0 there is at most one result.
	Results []ValueType
}

// EqualsSignature returns true if the function type has the same parameters
// and results.
func (t *FunctionType) EqualsSignature(params []ValueType, results []ValueType) bool {
	return valueTypesEqual(t.Params, params) && valueTypesEqual(t.Results, results)
}

func valueTypesEqual(a []ValueType, b []ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i, t := range a {
		if t != b[i] {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (t *FunctionType) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, p := range t.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(ValueTypeName(p))
	}
	sb.WriteString(")->(")
	for i, r := range t.Results {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(ValueTypeName(r))
	}
	sb.WriteByte(')')
	return sb.String()
}

// Table describes the limits of elements in a table.
//
// In Wasm 1.0 the only element type is funcref.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#table-types%E2%91%A0
type Table struct {
	Min uint32
	Max *uint32
}

// RefTypeFuncref is the only element type in WebAssembly 1.0 (20191205).
const RefTypeFuncref = byte(0x70)

// Memory describes the limits of pages (64KB) in a memory.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-types%E2%91%A0
type Memory struct {
	Min uint32
	Max *uint32
}

// GlobalType describes the value type and mutability of a global.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#global-types%E2%91%A0
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// Global is a module-defined global with its initialization expression.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#syntax-global
type Global struct {
	Type *GlobalType
	Init *ConstantExpression
}

// ConstantExpression is a restricted expression used to initialize globals
// and to compute element and data segment offsets. The only allowed opcodes
// are the four const instructions and global.get of an immutable import.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#constant-expressions%E2%91%A0
type ConstantExpression struct {
	Opcode Opcode
	// Arg is the raw bit pattern of the constant, or the global index when
	// Opcode is OpcodeGlobalGet.
	Arg uint64
}

// Import is the binary representation of an import indicated by Type.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-import
type Import struct {
	Type ExternType
	// Module is the possibly empty name of the module to import from.
	Module string
	// Name is the possibly empty entity name within Module.
	Name string
	// DescFunc is the index in Module.TypeSection when Type equals ExternTypeFunc.
	DescFunc Index
	// DescTable is the inlined Table when Type equals ExternTypeTable.
	DescTable *Table
	// DescMem is the inlined Memory when Type equals ExternTypeMemory.
	DescMem *Memory
	// DescGlobal is the inlined GlobalType when Type equals ExternTypeGlobal.
	DescGlobal *GlobalType
}

func (i *Import) String() string {
	return fmt.Sprintf("import[%s.%s]", i.Module, i.Name)
}

// Export is the binary representation of an export indicated by Type.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-export
type Export struct {
	Type ExternType
	// Name is the unique name of this export.
	Name string
	// Index is the index of the definition exported, in the namespace of Type.
	Index Index
}

// Code is an entry in the Module.CodeSection containing the locals and body
// of the function at the same position in the Module.FunctionSection.
type Code struct {
	// LocalTypes are the function's locals in insertion order, expanded from
	// the run-length encoding in the binary format.
	LocalTypes []ValueType

	// Body is the function body, terminated by OpcodeEnd.
	Body []Instruction
}

// ElementSegment initializes a range of a table with function indexes.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#element-segments%E2%91%A0
type ElementSegment struct {
	TableIndex Index
	Offset     *ConstantExpression
	Init       []Index
}

// DataSegment initializes a range of a memory with bytes.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#data-segments%E2%91%A0
type DataSegment struct {
	MemoryIndex Index
	Offset      *ConstantExpression
	Init        []byte
}

// NameSection represents the known subsections of the custom section "name".
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#name-section%E2%91%A0
type NameSection struct {
	// ModuleName is the possibly empty name of the module.
	ModuleName string

	// FunctionNames maps a function index to its name.
	FunctionNames map[Index]string
}
