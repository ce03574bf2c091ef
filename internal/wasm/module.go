package wasm

import (
	"fmt"
)

// SectionID identifies the sections of a Module in the WebAssembly 1.0
// (20191205) Binary Format.
//
// Note: these are defined in the wasm package, instead of the binary one,
// as a key per section is needed regardless of format, and deferring to the
// binary type avoids confusion.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
type SectionID = byte

const (
	// SectionIDCustom includes the standard defined NameSection and possibly
	// others not defined in the standard.
	SectionIDCustom SectionID = iota // don't add anything not in https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
)

// SectionIDName returns the canonical name of a module section.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
func SectionIDName(sectionID SectionID) string {
	switch sectionID {
	case SectionIDCustom:
		return "custom"
	case SectionIDType:
		return "type"
	case SectionIDImport:
		return "import"
	case SectionIDFunction:
		return "function"
	case SectionIDTable:
		return "table"
	case SectionIDMemory:
		return "memory"
	case SectionIDGlobal:
		return "global"
	case SectionIDExport:
		return "export"
	case SectionIDStart:
		return "start"
	case SectionIDElement:
		return "element"
	case SectionIDCode:
		return "code"
	case SectionIDData:
		return "data"
	}
	return "unknown"
}

const (
	// MemoryPageSize is the unit of memory length in WebAssembly 1.0 (20191205),
	// and is defined as wasm page size equals 64KiB.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0
	MemoryPageSize = uint32(65536)
	// MemoryLimitPages is the maximum memory size in pages (2^16), which
	// makes the maximum linear memory size 2^32 bytes.
	MemoryLimitPages = uint32(65536)
	// MemoryPageSizeInBits satisfies the relation: "1 << MemoryPageSizeInBits == MemoryPageSize".
	MemoryPageSizeInBits = 16
)

// Module is a WebAssembly binary representation.
//
// Differences from the specification:
//   - NameSection is the only key ("name") decoded from the SectionIDCustom.
//   - ExportSection is represented as a map for lookup convenience.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#modules%E2%91%A8
type Module struct {
	// TypeSection contains the unique FunctionType of functions imported or
	// defined in this module.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#type-section%E2%91%A0
	TypeSection []*FunctionType

	// ImportSection contains imported functions, tables, memories or globals
	// required for instantiation.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#import-section%E2%91%A0
	ImportSection []*Import

	// FunctionSection contains the index in TypeSection of each function
	// defined in this module.
	//
	// Note: the function Index namespace begins with imported functions.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-section%E2%91%A0
	FunctionSection []Index

	// TableSection contains the table declared in this module, if any. At
	// most one table is allowed in WebAssembly 1.0 (20191205).
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#table-section%E2%91%A0
	TableSection *Table

	// MemorySection contains the memory declared in this module, if any. At
	// most one memory is allowed in WebAssembly 1.0 (20191205).
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-section%E2%91%A0
	MemorySection *Memory

	// GlobalSection contains each global defined in this module.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#global-section%E2%91%A0
	GlobalSection []*Global

	// ExportSection maps an export name to its record.
	//
	// Names are unique, enforced during decoding.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#export-section%E2%91%A0
	ExportSection map[string]*Export

	// StartSection is the index of a function to call before returning from
	// Store.Instantiate.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#start-section%E2%91%A0
	StartSection *Index

	// ElementSection initializes ranges of the table.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#element-section%E2%91%A0
	ElementSection []*ElementSegment

	// CodeSection is index-correlated with FunctionSection and contains each
	// function's locals and body.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#code-section%E2%91%A0
	CodeSection []*Code

	// DataSection initializes ranges of the memory.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#data-section%E2%91%A0
	DataSection []*DataSegment

	// NameSection is decoded from the custom section "name" when present.
	NameSection *NameSection
}

// ImportFuncCount returns how many functions are imported.
func (m *Module) ImportFuncCount() uint32 {
	return m.importCount(ExternTypeFunc)
}

func (m *Module) importCount(et ExternType) (cnt uint32) {
	for _, im := range m.ImportSection {
		if im.Type == et {
			cnt++
		}
	}
	return
}

// allDeclarations returns the full index namespaces of this module: for each
// kind, the imported entries first, then the module-defined ones.
func (m *Module) allDeclarations() (functions []Index, globals []*GlobalType, memory *Memory, table *Table) {
	for _, imp := range m.ImportSection {
		switch imp.Type {
		case ExternTypeFunc:
			functions = append(functions, imp.DescFunc)
		case ExternTypeGlobal:
			globals = append(globals, imp.DescGlobal)
		case ExternTypeMemory:
			memory = imp.DescMem
		case ExternTypeTable:
			table = imp.DescTable
		}
	}

	functions = append(functions, m.FunctionSection...)
	for _, g := range m.GlobalSection {
		globals = append(globals, g.Type)
	}
	if m.MemorySection != nil {
		memory = m.MemorySection
	}
	if m.TableSection != nil {
		table = m.TableSection
	}
	return
}

// Validate performs the static checks of the instantiation procedure: every
// index is in range, limits are ordered, initializer expressions are
// constant, and each function body type checks. A module that passes never
// fails later for a structural reason; only link-time and run-time errors
// remain possible.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#valid-module
func (m *Module) Validate() error {
	functions, globals, memory, table := m.allDeclarations()

	if err := m.validateImports(); err != nil {
		return err
	}

	// A module may declare at most one table and one memory, counting
	// imported ones.
	if m.TableSection != nil && m.importCount(ExternTypeTable) > 0 {
		return fmt.Errorf("at most one table allowed in module")
	}
	if m.MemorySection != nil && m.importCount(ExternTypeMemory) > 0 {
		return fmt.Errorf("at most one memory allowed in module")
	}
	if table != nil {
		if err := validateLimits(table.Min, table.Max, "table"); err != nil {
			return err
		}
	}
	if memory != nil {
		if err := validateMemory(memory); err != nil {
			return err
		}
	}

	importedGlobals := globals[:m.importCount(ExternTypeGlobal)]
	if err := m.validateGlobals(importedGlobals); err != nil {
		return err
	}

	if err := m.validateExports(functions, globals, memory, table); err != nil {
		return err
	}

	if err := m.validateStartSection(functions); err != nil {
		return err
	}

	if err := m.validateElementSegments(functions, table, importedGlobals); err != nil {
		return err
	}

	if err := m.validateDataSegments(memory, importedGlobals); err != nil {
		return err
	}

	return m.validateFunctions(functions, globals, memory, table)
}

func (m *Module) validateImports() error {
	for _, imp := range m.ImportSection {
		switch imp.Type {
		case ExternTypeFunc:
			if int(imp.DescFunc) >= len(m.TypeSection) {
				return fmt.Errorf("invalid %s: function type index out of range", imp)
			}
		case ExternTypeTable:
			if err := validateLimits(imp.DescTable.Min, imp.DescTable.Max, "table"); err != nil {
				return fmt.Errorf("invalid %s: %w", imp, err)
			}
		case ExternTypeMemory:
			if err := validateMemory(imp.DescMem); err != nil {
				return fmt.Errorf("invalid %s: %w", imp, err)
			}
		case ExternTypeGlobal:
			// Nothing to check: any value type and mutability is valid here.
		default:
			return fmt.Errorf("invalid %s: unknown extern type %#x", imp, imp.Type)
		}
	}
	return nil
}

func validateLimits(min uint32, max *uint32, kind string) error {
	if max != nil && min > *max {
		return fmt.Errorf("%s size minimum must not be greater than maximum", kind)
	}
	return nil
}

func validateMemory(mem *Memory) error {
	if mem.Min > MemoryLimitPages {
		return fmt.Errorf("memory size must be at most 65536 pages (4GiB)")
	}
	if mem.Max != nil {
		if *mem.Max > MemoryLimitPages {
			return fmt.Errorf("memory size must be at most 65536 pages (4GiB)")
		}
		if mem.Min > *mem.Max {
			return fmt.Errorf("memory size minimum must not be greater than maximum")
		}
	}
	return nil
}

// validateGlobals ensures each defined global's initializer is a constant
// expression producing the declared type. Initializers may only read
// imported immutable globals, as the defined ones aren't allocated yet.
func (m *Module) validateGlobals(importedGlobals []*GlobalType) error {
	for i, g := range m.GlobalSection {
		if err := validateConstExpression(importedGlobals, g.Init, g.Type.ValType); err != nil {
			return fmt.Errorf("invalid global[%d]: %w", i, err)
		}
	}
	return nil
}

func (m *Module) validateExports(functions []Index, globals []*GlobalType, memory *Memory, table *Table) error {
	for name, exp := range m.ExportSection {
		switch exp.Type {
		case ExternTypeFunc:
			if int(exp.Index) >= len(functions) {
				return fmt.Errorf("unknown function for export[%q]", name)
			}
		case ExternTypeGlobal:
			if int(exp.Index) >= len(globals) {
				return fmt.Errorf("unknown global for export[%q]", name)
			}
		case ExternTypeMemory:
			if exp.Index != 0 || memory == nil {
				return fmt.Errorf("unknown memory for export[%q]", name)
			}
		case ExternTypeTable:
			if exp.Index != 0 || table == nil {
				return fmt.Errorf("unknown table for export[%q]", name)
			}
		}
	}
	return nil
}

func (m *Module) validateStartSection(functions []Index) error {
	if m.StartSection == nil {
		return nil
	}
	funcIdx := *m.StartSection
	if int(funcIdx) >= len(functions) {
		return fmt.Errorf("invalid start function: func[%d] not found", funcIdx)
	}
	typeIdx := functions[funcIdx]
	if int(typeIdx) >= len(m.TypeSection) {
		return fmt.Errorf("invalid start function: func[%d] has an invalid type", funcIdx)
	}
	ft := m.TypeSection[typeIdx]
	if len(ft.Params) > 0 || len(ft.Results) > 0 {
		return fmt.Errorf("invalid start function: must have an empty (nullary) signature: %s", ft)
	}
	return nil
}

func (m *Module) validateElementSegments(functions []Index, table *Table, importedGlobals []*GlobalType) error {
	for i, elem := range m.ElementSection {
		if table == nil || elem.TableIndex != 0 {
			return fmt.Errorf("element[%d]: unknown table %d", i, elem.TableIndex)
		}
		if err := validateConstExpression(importedGlobals, elem.Offset, ValueTypeI32); err != nil {
			return fmt.Errorf("element[%d]: %w", i, err)
		}
		for _, funcIdx := range elem.Init {
			if int(funcIdx) >= len(functions) {
				return fmt.Errorf("element[%d]: func[%d] not found", i, funcIdx)
			}
		}
	}
	return nil
}

func (m *Module) validateDataSegments(memory *Memory, importedGlobals []*GlobalType) error {
	for i, data := range m.DataSection {
		if memory == nil || data.MemoryIndex != 0 {
			return fmt.Errorf("data[%d]: unknown memory %d", i, data.MemoryIndex)
		}
		if err := validateConstExpression(importedGlobals, data.Offset, ValueTypeI32); err != nil {
			return fmt.Errorf("data[%d]: %w", i, err)
		}
	}
	return nil
}

// validateConstExpression ensures expr is a constant expression producing
// expectedType. Only the four const opcodes and global.get of an immutable
// imported global are allowed.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#constant-expressions%E2%91%A0
func validateConstExpression(importedGlobals []*GlobalType, expr *ConstantExpression, expectedType ValueType) error {
	if expr == nil {
		return fmt.Errorf("constant expression required")
	}
	var actualType ValueType
	switch expr.Opcode {
	case OpcodeI32Const:
		actualType = ValueTypeI32
	case OpcodeI64Const:
		actualType = ValueTypeI64
	case OpcodeF32Const:
		actualType = ValueTypeF32
	case OpcodeF64Const:
		actualType = ValueTypeF64
	case OpcodeGlobalGet:
		idx := Index(expr.Arg)
		if int(idx) >= len(importedGlobals) {
			return fmt.Errorf("global.get %d out of range of imported globals", idx)
		}
		g := importedGlobals[idx]
		if g.Mutable {
			return fmt.Errorf("constant expression can only reference an immutable global")
		}
		actualType = g.ValType
	default:
		return fmt.Errorf("opcode %s is not allowed in a constant expression", OpcodeName(expr.Opcode))
	}
	if actualType != expectedType {
		return fmt.Errorf("constant expression has type %s but expected %s",
			ValueTypeName(actualType), ValueTypeName(expectedType))
	}
	return nil
}

func (m *Module) validateFunctions(functions []Index, globals []*GlobalType, memory *Memory, table *Table) error {
	importCount := m.ImportFuncCount()
	if len(m.FunctionSection) != len(m.CodeSection) {
		return fmt.Errorf("function and code section have inconsistent lengths: %d and %d",
			len(m.FunctionSection), len(m.CodeSection))
	}
	for i, typeIdx := range m.FunctionSection {
		if int(typeIdx) >= len(m.TypeSection) {
			return fmt.Errorf("invalid func[%d]: type index %d out of range", i, typeIdx)
		}
		if err := m.validateFunction(Index(i), functions, globals, memory, table); err != nil {
			return fmt.Errorf("invalid func[%d]%s: %w", i, m.funcDesc(importCount+uint32(i)), err)
		}
	}
	return nil
}

// funcDesc returns the function's name from the name section, if any, for
// error messages keyed by function index.
func (m *Module) funcDesc(funcIdx Index) string {
	if m.NameSection != nil {
		if name, ok := m.NameSection.FunctionNames[funcIdx]; ok {
			return fmt.Sprintf(" (%s)", name)
		}
	}
	return ""
}
