package wasm

import (
	"context"
	"fmt"
)

// The address types below are opaque indexes into the Store's instance
// vectors. They are not pointers, support no arithmetic, and stay valid for
// the Store's lifetime as allocation only ever appends.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#addresses%E2%91%A0
type (
	// FunctionAddr addresses a FunctionInstance in Store.Functions.
	FunctionAddr uint32
	// TableAddr addresses a TableInstance in Store.Tables.
	TableAddr uint32
	// MemoryAddr addresses a MemoryInstance in Store.Memories.
	MemoryAddr uint32
	// GlobalAddr addresses a GlobalInstance in Store.Globals.
	GlobalAddr uint32
)

// Store is the runtime representation of all instances allocated by
// instantiation. A Store is single-owner: only the active call mutates it,
// and multiple module instances share it with disjoint address spaces.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#store%E2%91%A0
type Store struct {
	// Functions, Tables, Memories and Globals hold every instance allocated
	// in this store, addressed by the corresponding *Addr type.
	Functions []*FunctionInstance
	Tables    []*TableInstance
	Memories  []*MemoryInstance
	Globals   []*GlobalInstance

	// ModuleInstances maps a registered module name to its instance. Imports
	// are resolved against this registry.
	ModuleInstances map[string]*ModuleInstance

	// Engine drives execution of wasm functions in this store.
	Engine Engine
}

// Engine executes function instances against a store.
type Engine interface {
	// Call invokes f with the given parameters, returning its results.
	//
	// The error is non-nil on a trap (wasmruntime.Error) or on resource
	// exhaustion; params were already verified against f.Type.
	Call(ctx *CallContext, f *FunctionInstance, params ...uint64) ([]uint64, error)
}

// NewStore returns an empty store driven by the given engine.
func NewStore(engine Engine) *Store {
	return &Store{
		ModuleInstances: map[string]*ModuleInstance{},
		Engine:          engine,
	}
}

// FunctionKind tells whether a function instance holds wasm code or a Go
// function provided by the host.
type FunctionKind byte

const (
	// FunctionKindWasm is a function defined in a wasm module.
	FunctionKindWasm FunctionKind = iota
	// FunctionKindGo is a function implemented by the embedder in Go.
	FunctionKindGo
)

// GoFunction is the signature of a host function. It receives the calling
// context, through which it can reach the importing module's memory, and
// the raw parameter values. A returned error becomes a trap in the caller.
type GoFunction func(ctx *CallContext, params []uint64) ([]uint64, error)

// FunctionInstance is an allocated function: either wasm code closed over
// its defining module, or a host Go function.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-instances%E2%91%A0
type FunctionInstance struct {
	Kind FunctionKind

	// Type is the signature of this function.
	Type *FunctionType

	// LocalTypes and Body hold the code when Kind is FunctionKindWasm.
	LocalTypes []ValueType
	Body       []Instruction

	// GoFunc is the implementation when Kind is FunctionKindGo.
	GoFunc GoFunction

	// Module is the instance this function was defined in, used to resolve
	// its function, global, table and memory index spaces during execution.
	Module *ModuleInstance

	// Name is a debug name: the export or import name when known, otherwise
	// the name section entry. Used only in error messages.
	Name string

	// Address is this instance's position in Store.Functions.
	Address FunctionAddr
}

// GlobalInstance is an allocated global with its current value.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#global-instances%E2%91%A0
type GlobalInstance struct {
	Type *GlobalType
	// Val is the raw bit representation of the current value.
	Val uint64
}

// ExportInstance is an export of a module instance: a kind and the address
// of the exported entity in the store's namespace for that kind.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#export-instances%E2%91%A0
type ExportInstance struct {
	Type ExternType
	// Addr is the store address of the export, in the vector selected by Type.
	Addr uint32
}

// ModuleInstance is an instantiated module: the resolved address vectors of
// its index spaces (imports first), and its exports by name.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#module-instances%E2%91%A0
type ModuleInstance struct {
	Name string

	Types     []*FunctionType
	Functions []FunctionAddr
	Tables    []TableAddr
	Memories  []MemoryAddr
	Globals   []GlobalAddr

	Exports map[string]*ExportInstance

	// MemoryInst and TableInst are the resolved instances of Memories[0] and
	// Tables[0], kept so the executor's hot path skips an address lookup.
	MemoryInst *MemoryInstance
	TableInst  *TableInstance
}

// CallContext is passed to the engine and to host functions during a call.
// Host functions reach the importing module's memory through it.
type CallContext struct {
	store  *Store
	module *ModuleInstance
	ctx    context.Context
}

// NewCallContext returns the context for calls into functions of module.
func NewCallContext(ctx context.Context, store *Store, module *ModuleInstance) *CallContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &CallContext{store: store, module: module, ctx: ctx}
}

// Context returns the Go context of the active invocation.
func (c *CallContext) Context() context.Context { return c.ctx }

// Store returns the store this call executes in.
func (c *CallContext) Store() *Store { return c.store }

// Module returns the module instance whose function is being called.
func (c *CallContext) Module() *ModuleInstance { return c.module }

// Memory returns the calling module's memory, or nil if it has none.
func (c *CallContext) Memory() *MemoryInstance {
	if c.module == nil {
		return nil
	}
	return c.module.MemoryInst
}

// WithModule returns a context pointing at another module instance, used
// when a call crosses a module boundary.
func (c *CallContext) WithModule(m *ModuleInstance) *CallContext {
	return &CallContext{store: c.store, module: m, ctx: c.ctx}
}

// Function resolves a function address allocated in this store.
func (s *Store) Function(addr FunctionAddr) *FunctionInstance {
	return s.Functions[addr]
}

// Table resolves a table address allocated in this store.
func (s *Store) Table(addr TableAddr) *TableInstance {
	return s.Tables[addr]
}

// Memory resolves a memory address allocated in this store.
func (s *Store) Memory(addr MemoryAddr) *MemoryInstance {
	return s.Memories[addr]
}

// Global resolves a global address allocated in this store.
func (s *Store) Global(addr GlobalAddr) *GlobalInstance {
	return s.Globals[addr]
}

// Module returns the instance registered under name, or nil.
func (s *Store) Module(name string) *ModuleInstance {
	return s.ModuleInstances[name]
}

// ExportedFunction looks up a function exported from the named module.
func (s *Store) ExportedFunction(moduleName, name string) (*FunctionInstance, error) {
	m, ok := s.ModuleInstances[moduleName]
	if !ok {
		return nil, fmt.Errorf("module %q not instantiated", moduleName)
	}
	exp, ok := m.Exports[name]
	if !ok {
		return nil, fmt.Errorf("%q is not exported in module %q", name, moduleName)
	}
	if exp.Type != ExternTypeFunc {
		return nil, fmt.Errorf("export %q in module %q is a %s, not a function", name, moduleName, ExternTypeName(exp.Type))
	}
	return s.Functions[exp.Addr], nil
}

// CallFunction invokes an exported function of a registered module,
// checking the number of args against the signature before any execution
// begins. The raw values carry no type, so their types are not checked.
func (s *Store) CallFunction(ctx context.Context, moduleName, funcName string, params ...uint64) ([]uint64, error) {
	f, err := s.ExportedFunction(moduleName, funcName)
	if err != nil {
		return nil, err
	}
	if len(params) != len(f.Type.Params) {
		return nil, fmt.Errorf("expected %d params, but passed %d", len(f.Type.Params), len(params))
	}
	return s.Engine.Call(NewCallContext(ctx, s, f.Module), f, params...)
}

// Instantiate validates module, resolves its imports against the registry,
// allocates its instances, initializes its element and data segments, and
// finally runs its start function, if any.
//
// The store is unchanged when a non-nil error is returned, except that after
// a start-function trap the already-allocated instances stay in the store
// while the module is no longer registered under name.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#instantiation%E2%91%A1
func (s *Store) Instantiate(ctx context.Context, module *Module, name string) (*ModuleInstance, error) {
	if err := module.Validate(); err != nil {
		return nil, err
	}
	if _, ok := s.ModuleInstances[name]; ok {
		return nil, fmt.Errorf("module %q already instantiated", name)
	}

	instance := &ModuleInstance{Name: name, Types: module.TypeSection, Exports: map[string]*ExportInstance{}}

	importedGlobals, err := s.resolveImports(module, instance)
	if err != nil {
		return nil, err
	}

	// Globals evaluate in a temporary frame that sees only imported globals.
	globals := make([]*GlobalInstance, 0, len(module.GlobalSection))
	for _, g := range module.GlobalSection {
		globals = append(globals, &GlobalInstance{
			Type: g.Type,
			Val:  executeConstExpression(importedGlobals, g.Init),
		})
	}

	functions := make([]*FunctionInstance, 0, len(module.FunctionSection))
	for i, typeIdx := range module.FunctionSection {
		code := module.CodeSection[i]
		f := &FunctionInstance{
			Kind:       FunctionKindWasm,
			Type:       module.TypeSection[typeIdx],
			LocalTypes: code.LocalTypes,
			Body:       code.Body,
			Module:     instance,
		}
		if module.NameSection != nil {
			f.Name = module.NameSection.FunctionNames[module.ImportFuncCount()+uint32(i)]
		}
		functions = append(functions, f)
	}

	var table *TableInstance
	if module.TableSection != nil {
		table = newTableInstance(module.TableSection)
	}
	var memory *MemoryInstance
	if module.MemorySection != nil {
		memory = NewMemoryInstance(module.MemorySection)
	}

	// Check element and data segment bounds against the current sizes
	// before writing anything: a failure here must leave the store intact.
	tableInst := instance.TableInst
	if table != nil {
		tableInst = table
	}
	elemOffsets := make([]uint32, len(module.ElementSection))
	for i, elem := range module.ElementSection {
		offset := uint32(executeConstExpression(importedGlobals, elem.Offset))
		if tableInst == nil || uint64(offset)+uint64(len(elem.Init)) > uint64(len(tableInst.Elems)) {
			return nil, fmt.Errorf("element[%d]: out of bounds table access", i)
		}
		elemOffsets[i] = offset
	}
	memoryInst := instance.MemoryInst
	if memory != nil {
		memoryInst = memory
	}
	dataOffsets := make([]uint32, len(module.DataSection))
	for i, data := range module.DataSection {
		offset := uint32(executeConstExpression(importedGlobals, data.Offset))
		if memoryInst == nil || uint64(offset)+uint64(len(data.Init)) > uint64(len(memoryInst.Buffer)) {
			return nil, fmt.Errorf("data[%d]: out of bounds memory access", i)
		}
		dataOffsets[i] = offset
	}

	// All checks passed: publish the new instances into the store.
	for _, f := range functions {
		f.Address = FunctionAddr(len(s.Functions))
		s.Functions = append(s.Functions, f)
		instance.Functions = append(instance.Functions, f.Address)
	}
	if table != nil {
		addr := TableAddr(len(s.Tables))
		s.Tables = append(s.Tables, table)
		instance.Tables = append(instance.Tables, addr)
		instance.TableInst = table
	}
	if memory != nil {
		addr := MemoryAddr(len(s.Memories))
		s.Memories = append(s.Memories, memory)
		instance.Memories = append(instance.Memories, addr)
		instance.MemoryInst = memory
	}
	for _, g := range globals {
		addr := GlobalAddr(len(s.Globals))
		s.Globals = append(s.Globals, g)
		instance.Globals = append(instance.Globals, addr)
	}

	for expName, exp := range module.ExportSection {
		e := &ExportInstance{Type: exp.Type}
		switch exp.Type {
		case ExternTypeFunc:
			e.Addr = uint32(instance.Functions[exp.Index])
			if f := s.Functions[e.Addr]; f.Name == "" {
				f.Name = expName
			}
		case ExternTypeTable:
			e.Addr = uint32(instance.Tables[exp.Index])
		case ExternTypeMemory:
			e.Addr = uint32(instance.Memories[exp.Index])
		case ExternTypeGlobal:
			e.Addr = uint32(instance.Globals[exp.Index])
		}
		instance.Exports[expName] = e
	}

	for i, elem := range module.ElementSection {
		target := instance.TableInst
		offset := elemOffsets[i]
		for j, funcIdx := range elem.Init {
			addr := instance.Functions[funcIdx]
			target.Elems[offset+uint32(j)] = &addr
		}
	}
	for i, data := range module.DataSection {
		copy(instance.MemoryInst.Buffer[dataOffsets[i]:], data.Init)
	}

	s.ModuleInstances[name] = instance

	if module.StartSection != nil {
		funcAddr := instance.Functions[*module.StartSection]
		f := s.Functions[funcAddr]
		if _, err := s.Engine.Call(NewCallContext(ctx, s, f.Module), f); err != nil {
			// The allocated instances stay in the store (addresses are
			// forever), but the failed module must not be reachable by name.
			delete(s.ModuleInstances, name)
			return nil, fmt.Errorf("start function failed: %w", err)
		}
	}
	return instance, nil
}

// resolveImports looks every import up in the registry and type checks the
// resolved address against the declared type. Any failure is a link error.
func (s *Store) resolveImports(module *Module, instance *ModuleInstance) (importedGlobals []*GlobalInstance, err error) {
	for idx, imp := range module.ImportSection {
		exporter, ok := s.ModuleInstances[imp.Module]
		if !ok {
			return nil, fmt.Errorf("module %q not instantiated", imp.Module)
		}
		exp, ok := exporter.Exports[imp.Name]
		if !ok {
			return nil, fmt.Errorf("%q is not exported in module %q", imp.Name, imp.Module)
		}
		if exp.Type != imp.Type {
			return nil, fmt.Errorf("import[%d] %s: expected %s, but was %s",
				idx, imp, ExternTypeName(imp.Type), ExternTypeName(exp.Type))
		}
		switch imp.Type {
		case ExternTypeFunc:
			f := s.Functions[exp.Addr]
			expectedType := module.TypeSection[imp.DescFunc]
			if !f.Type.EqualsSignature(expectedType.Params, expectedType.Results) {
				return nil, fmt.Errorf("import[%d] %s: signature mismatch: %s != %s",
					idx, imp, expectedType, f.Type)
			}
			instance.Functions = append(instance.Functions, FunctionAddr(exp.Addr))
		case ExternTypeTable:
			t := s.Tables[exp.Addr]
			if err := limitsMatch(uint32(len(t.Elems)), t.Max, imp.DescTable.Min, imp.DescTable.Max); err != nil {
				return nil, fmt.Errorf("import[%d] %s: %w", idx, imp, err)
			}
			instance.Tables = append(instance.Tables, TableAddr(exp.Addr))
			instance.TableInst = t
		case ExternTypeMemory:
			m := s.Memories[exp.Addr]
			if err := limitsMatch(m.Pages(), m.Max, imp.DescMem.Min, imp.DescMem.Max); err != nil {
				return nil, fmt.Errorf("import[%d] %s: %w", idx, imp, err)
			}
			instance.Memories = append(instance.Memories, MemoryAddr(exp.Addr))
			instance.MemoryInst = m
		case ExternTypeGlobal:
			g := s.Globals[exp.Addr]
			if g.Type.Mutable != imp.DescGlobal.Mutable {
				return nil, fmt.Errorf("import[%d] %s: mutability mismatch", idx, imp)
			}
			if g.Type.ValType != imp.DescGlobal.ValType {
				return nil, fmt.Errorf("import[%d] %s: value type mismatch: %s != %s",
					idx, imp, ValueTypeName(imp.DescGlobal.ValType), ValueTypeName(g.Type.ValType))
			}
			instance.Globals = append(instance.Globals, GlobalAddr(exp.Addr))
			importedGlobals = append(importedGlobals, g)
		}
	}
	return
}

// limitsMatch implements import matching of limits: the actual limits may
// widen but never narrow the declared ones.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#limits%E2%91%A3
func limitsMatch(actualMin uint32, actualMax *uint32, declaredMin uint32, declaredMax *uint32) error {
	if actualMin < declaredMin {
		return fmt.Errorf("minimum size mismatch: %d < %d", actualMin, declaredMin)
	}
	if declaredMax != nil && (actualMax == nil || *actualMax > *declaredMax) {
		return fmt.Errorf("maximum size mismatch")
	}
	return nil
}

// executeConstExpression evaluates an already-validated constant expression.
// The only variables it can reference are imported globals.
func executeConstExpression(importedGlobals []*GlobalInstance, expr *ConstantExpression) uint64 {
	if expr.Opcode == OpcodeGlobalGet {
		return importedGlobals[expr.Arg].Val
	}
	return expr.Arg
}

// AllocateHostFunction appends a host function to the store and exports it
// from the named module, creating the module instance if needed. The module
// named this way acts as the host-provided import registry.
func (s *Store) AllocateHostFunction(moduleName, name string, fn *HostFunction) (*FunctionInstance, error) {
	m := s.hostModuleInstance(moduleName)
	if _, ok := m.Exports[name]; ok {
		return nil, fmt.Errorf("%q is already exported in module %q", name, moduleName)
	}
	f := &FunctionInstance{
		Kind:    FunctionKindGo,
		Type:    fn.Type,
		GoFunc:  fn.Go,
		Module:  m,
		Name:    moduleName + "." + name,
		Address: FunctionAddr(len(s.Functions)),
	}
	s.Functions = append(s.Functions, f)
	m.Functions = append(m.Functions, f.Address)
	m.Exports[name] = &ExportInstance{Type: ExternTypeFunc, Addr: uint32(f.Address)}
	return f, nil
}

// AllocateGlobal appends a host-defined global to the store and exports it
// from the named module.
func (s *Store) AllocateGlobal(moduleName, name string, g *GlobalInstance) error {
	m := s.hostModuleInstance(moduleName)
	if _, ok := m.Exports[name]; ok {
		return fmt.Errorf("%q is already exported in module %q", name, moduleName)
	}
	addr := GlobalAddr(len(s.Globals))
	s.Globals = append(s.Globals, g)
	m.Globals = append(m.Globals, addr)
	m.Exports[name] = &ExportInstance{Type: ExternTypeGlobal, Addr: uint32(addr)}
	return nil
}

// AllocateTable appends a host-defined table to the store and exports it
// from the named module.
func (s *Store) AllocateTable(moduleName, name string, t *TableInstance) error {
	m := s.hostModuleInstance(moduleName)
	if _, ok := m.Exports[name]; ok {
		return fmt.Errorf("%q is already exported in module %q", name, moduleName)
	}
	addr := TableAddr(len(s.Tables))
	s.Tables = append(s.Tables, t)
	m.Tables = append(m.Tables, addr)
	m.TableInst = t
	m.Exports[name] = &ExportInstance{Type: ExternTypeTable, Addr: uint32(addr)}
	return nil
}

// AllocateMemory appends a host-defined memory to the store and exports it
// from the named module.
func (s *Store) AllocateMemory(moduleName, name string, mem *MemoryInstance) error {
	m := s.hostModuleInstance(moduleName)
	if _, ok := m.Exports[name]; ok {
		return fmt.Errorf("%q is already exported in module %q", name, moduleName)
	}
	addr := MemoryAddr(len(s.Memories))
	s.Memories = append(s.Memories, mem)
	m.Memories = append(m.Memories, addr)
	m.MemoryInst = mem
	m.Exports[name] = &ExportInstance{Type: ExternTypeMemory, Addr: uint32(addr)}
	return nil
}

// RegisterAlias registers an already-instantiated module under another
// name, so later instantiations can import it by that name.
func (s *Store) RegisterAlias(as string, instance *ModuleInstance) error {
	if existing, ok := s.ModuleInstances[as]; ok && existing != instance {
		return fmt.Errorf("module %q already instantiated", as)
	}
	s.ModuleInstances[as] = instance
	return nil
}

func (s *Store) hostModuleInstance(name string) *ModuleInstance {
	if m, ok := s.ModuleInstances[name]; ok {
		return m
	}
	m := &ModuleInstance{Name: name, Exports: map[string]*ExportInstance{}}
	s.ModuleInstances[name] = m
	return m
}
