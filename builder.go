package wain

import (
	"fmt"

	"github.com/wainlabs/wain/api"
	"github.com/wainlabs/wain/internal/wasm"
)

// HostModuleBuilder assembles a module implemented by the embedder: Go
// functions, globals, a memory and a table, importable by wasm modules
// under the builder's module name. Definitions are collected first and
// applied together by Instantiate, so a bad definition leaves the store
// untouched.
type HostModuleBuilder struct {
	runtime    *Runtime
	moduleName string

	functions []hostFunctionDef
	globals   []hostGlobalDef
	memory    *wasm.Memory
	memName   string
	table     *wasm.Table
	tableName string

	err error
}

type hostFunctionDef struct {
	name string
	fn   *wasm.HostFunction
}

type hostGlobalDef struct {
	name string
	g    *wasm.GlobalInstance
}

// NewHostModuleBuilder starts a host module under moduleName.
func (r *Runtime) NewHostModuleBuilder(moduleName string) *HostModuleBuilder {
	return &HostModuleBuilder{runtime: r, moduleName: moduleName}
}

// ExportFunction adds a Go function with the given signature.
func (b *HostModuleBuilder) ExportFunction(name string, params, results []api.ValueType, fn wasm.GoFunction) *HostModuleBuilder {
	if b.err != nil {
		return b
	}
	hf, err := wasm.NewHostFunction(params, results, fn)
	if err != nil {
		b.err = fmt.Errorf("function %q: %w", name, err)
		return b
	}
	b.functions = append(b.functions, hostFunctionDef{name: name, fn: hf})
	return b
}

// ExportGlobal adds a global with an initial raw value.
func (b *HostModuleBuilder) ExportGlobal(name string, valType api.ValueType, mutable bool, val uint64) *HostModuleBuilder {
	if b.err != nil {
		return b
	}
	b.globals = append(b.globals, hostGlobalDef{
		name: name,
		g:    &wasm.GlobalInstance{Type: &wasm.GlobalType{ValType: valType, Mutable: mutable}, Val: val},
	})
	return b
}

// ExportMemory adds a zero-initialized memory of min pages.
func (b *HostModuleBuilder) ExportMemory(name string, min uint32, max *uint32) *HostModuleBuilder {
	if b.err != nil {
		return b
	}
	if b.memory != nil {
		b.err = fmt.Errorf("memory %q: at most one memory allowed in module", name)
		return b
	}
	b.memory = &wasm.Memory{Min: min, Max: max}
	b.memName = name
	return b
}

// ExportTable adds a table with uninitialized elements.
func (b *HostModuleBuilder) ExportTable(name string, min uint32, max *uint32) *HostModuleBuilder {
	if b.err != nil {
		return b
	}
	if b.table != nil {
		b.err = fmt.Errorf("table %q: at most one table allowed in module", name)
		return b
	}
	b.table = &wasm.Table{Min: min, Max: max}
	b.tableName = name
	return b
}

// Instantiate applies the collected definitions to the store and returns
// the host module handle.
func (b *HostModuleBuilder) Instantiate() (*Module, error) {
	if b.err != nil {
		return nil, b.err
	}
	s := b.runtime.store
	for _, def := range b.functions {
		if _, err := s.AllocateHostFunction(b.moduleName, def.name, def.fn); err != nil {
			return nil, err
		}
	}
	for _, def := range b.globals {
		if err := s.AllocateGlobal(b.moduleName, def.name, def.g); err != nil {
			return nil, err
		}
	}
	if b.memory != nil {
		if err := s.AllocateMemory(b.moduleName, b.memName, wasm.NewMemoryInstance(b.memory)); err != nil {
			return nil, err
		}
	}
	if b.table != nil {
		if err := s.AllocateTable(b.moduleName, b.tableName, &wasm.TableInstance{
			Elems: make([]*wasm.FunctionAddr, b.table.Min),
			Min:   b.table.Min,
			Max:   b.table.Max,
		}); err != nil {
			return nil, err
		}
	}
	return b.runtime.Module(b.moduleName), nil
}
