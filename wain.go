// Package wain is a WebAssembly 1.0 (20191205) interpreter: it decodes a
// binary module, validates it, instantiates it in a host-managed store, and
// executes exported functions against a structured operand/control stack.
package wain

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wainlabs/wain/api"
	"github.com/wainlabs/wain/internal/wasm"
	"github.com/wainlabs/wain/internal/wasm/binary"
	"github.com/wainlabs/wain/internal/wasm/interpreter"
	"github.com/wainlabs/wain/internal/wasmruntime"
)

// Runtime is the facade over the pipeline: load, validate, instantiate and
// invoke. A Runtime owns one Store; modules instantiated in it can import
// from each other by name.
//
// A Runtime is not safe for concurrent use: execution is single-threaded
// and synchronous by design.
type Runtime struct {
	store  *wasm.Store
	config *RuntimeConfig
	logger *zap.Logger
}

// NewRuntime returns a runtime with the default configuration.
func NewRuntime() *Runtime {
	return NewRuntimeWithConfig(NewRuntimeConfig())
}

// NewRuntimeWithConfig returns a runtime configured by config.
func NewRuntimeWithConfig(config *RuntimeConfig) *Runtime {
	return &Runtime{
		store:  wasm.NewStore(interpreter.NewEngine(config.callStackCeiling)),
		config: config,
		logger: config.logger,
	}
}

// Store exposes the underlying store, mainly for tests and tooling.
func (r *Runtime) Store() *wasm.Store { return r.store }

// CompiledModule is a decoded and validated module, ready to instantiate
// any number of times.
type CompiledModule struct {
	module *wasm.Module
}

// WasmModule returns the decoded AST. It must not be mutated.
func (c *CompiledModule) WasmModule() *wasm.Module { return c.module }

// CompileModule decodes the binary and validates the result. Decode
// failures are MalformedError; validation failures are InvalidError.
func (r *Runtime) CompileModule(wasmBinary []byte) (*CompiledModule, error) {
	m, err := binary.DecodeModule(wasmBinary)
	if err != nil {
		return nil, &MalformedError{Err: err}
	}
	if err = m.Validate(); err != nil {
		return nil, &InvalidError{Err: err}
	}
	if mem := m.MemorySection; mem != nil && mem.Min > r.config.memoryLimitPages {
		return nil, &InvalidError{Err: fmt.Errorf("memory min %d pages over the configured limit %d",
			mem.Min, r.config.memoryLimitPages)}
	}
	r.logger.Debug("compiled module",
		zap.Int("types", len(m.TypeSection)),
		zap.Int("functions", len(m.FunctionSection)),
		zap.Int("imports", len(m.ImportSection)),
		zap.Int("exports", len(m.ExportSection)))
	return &CompiledModule{module: m}, nil
}

// InstantiateModule allocates the compiled module into the store under the
// given name, runs its initializers, and calls its start function if it has
// one. Link failures are UnlinkableError; a start-function trap or
// exhaustion propagates as the wasmruntime error itself.
func (r *Runtime) InstantiateModule(ctx context.Context, compiled *CompiledModule, name string) (*Module, error) {
	inst, err := r.store.Instantiate(ctx, compiled.module, name)
	if err != nil {
		var trap *wasmruntime.Error
		if errors.As(err, &trap) {
			return nil, err
		}
		return nil, &UnlinkableError{Err: err}
	}
	r.logger.Info("instantiated module", zap.String("module", name))
	return &Module{runtime: r, inst: inst}, nil
}

// InstantiateModuleFromBinary is CompileModule followed by
// InstantiateModule.
func (r *Runtime) InstantiateModuleFromBinary(ctx context.Context, wasmBinary []byte, name string) (*Module, error) {
	compiled, err := r.CompileModule(wasmBinary)
	if err != nil {
		return nil, err
	}
	return r.InstantiateModule(ctx, compiled, name)
}

// Module returns an instantiated module by name, or nil.
func (r *Runtime) Module(name string) *Module {
	inst := r.store.Module(name)
	if inst == nil {
		return nil
	}
	return &Module{runtime: r, inst: inst}
}

// RegisterModuleAlias makes an instantiated module importable under another
// name as well.
func (r *Runtime) RegisterModuleAlias(m *Module, as string) error {
	return r.store.RegisterAlias(as, m.inst)
}

// Module is an instantiated module handle exposing its exports.
type Module struct {
	runtime *Runtime
	inst    *wasm.ModuleInstance
}

// Name returns the name the module was instantiated with.
func (m *Module) Name() string { return m.inst.Name }

// Instance exposes the underlying module instance.
func (m *Module) Instance() *wasm.ModuleInstance { return m.inst }

// ExportedFunction returns a function exported under name, or nil.
func (m *Module) ExportedFunction(name string) *Function {
	exp, ok := m.inst.Exports[name]
	if !ok || exp.Type != wasm.ExternTypeFunc {
		return nil
	}
	return &Function{
		runtime: m.runtime,
		module:  m.inst,
		f:       m.runtime.store.Function(wasm.FunctionAddr(exp.Addr)),
	}
}

// ExportedMemory returns a memory exported under name, or nil.
func (m *Module) ExportedMemory(name string) *wasm.MemoryInstance {
	exp, ok := m.inst.Exports[name]
	if !ok || exp.Type != wasm.ExternTypeMemory {
		return nil
	}
	return m.runtime.store.Memory(wasm.MemoryAddr(exp.Addr))
}

// ExportedTable returns a table exported under name, or nil.
func (m *Module) ExportedTable(name string) *wasm.TableInstance {
	exp, ok := m.inst.Exports[name]
	if !ok || exp.Type != wasm.ExternTypeTable {
		return nil
	}
	return m.runtime.store.Table(wasm.TableAddr(exp.Addr))
}

// ExportedGlobal returns a global exported under name, or nil.
func (m *Module) ExportedGlobal(name string) *Global {
	exp, ok := m.inst.Exports[name]
	if !ok || exp.Type != wasm.ExternTypeGlobal {
		return nil
	}
	return &Global{g: m.runtime.store.Global(wasm.GlobalAddr(exp.Addr))}
}

// Function is an invocable export.
type Function struct {
	runtime *Runtime
	module  *wasm.ModuleInstance
	f       *wasm.FunctionInstance
}

// Type returns the function's signature.
func (fn *Function) Type() *wasm.FunctionType { return fn.f.Type }

// Call invokes the function. Parameters and results use the raw stack
// representation: integers unsigned, floats via api.EncodeF32/api.EncodeF64.
// The parameter count is verified against the signature before any
// execution begins.
func (fn *Function) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	if expected := len(fn.f.Type.Params); len(params) != expected {
		return nil, fmt.Errorf("expected %d params, but passed %d", expected, len(params))
	}
	callCtx := wasm.NewCallContext(ctx, fn.runtime.store, fn.f.Module)
	return fn.runtime.store.Engine.Call(callCtx, fn.f, params...)
}

// Global is a read/write handle on a global instance.
type Global struct {
	g *wasm.GlobalInstance
}

// Type returns the global's value type.
func (g *Global) Type() api.ValueType { return g.g.Type.ValType }

// Get returns the raw value.
func (g *Global) Get() uint64 { return g.g.Val }

// Set replaces the value of a mutable global.
func (g *Global) Set(v uint64) error {
	if !g.g.Type.Mutable {
		return fmt.Errorf("global is immutable")
	}
	g.g.Val = v
	return nil
}
