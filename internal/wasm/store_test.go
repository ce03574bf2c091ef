package wasm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var testCtx = context.Background()

// nopEngine satisfies Engine without executing anything, so store behavior
// is testable in isolation from the interpreter.
type nopEngine struct {
	// calls records the functions invoked, in order.
	calls []*FunctionInstance
	// err is returned from every Call when non-nil.
	err error
}

func (e *nopEngine) Call(_ *CallContext, f *FunctionInstance, _ ...uint64) ([]uint64, error) {
	e.calls = append(e.calls, f)
	if e.err != nil {
		return nil, e.err
	}
	return make([]uint64, len(f.Type.Results)), nil
}

func TestStore_Instantiate(t *testing.T) {
	i32 := ValueTypeI32
	m := &Module{
		TypeSection:     []*FunctionType{{Params: []ValueType{i32}, Results: []ValueType{i32}}},
		FunctionSection: []Index{0},
		CodeSection: []*Code{{Body: []Instruction{
			NewInstIndex(OpcodeLocalGet, 0),
			NewInst(OpcodeEnd),
		}}},
		TableSection:  &Table{Min: 2},
		MemorySection: &Memory{Min: 1},
		GlobalSection: []*Global{{
			Type: &GlobalType{ValType: i32, Mutable: true},
			Init: &ConstantExpression{Opcode: OpcodeI32Const, Arg: 42},
		}},
		ElementSection: []*ElementSegment{{
			Offset: &ConstantExpression{Opcode: OpcodeI32Const, Arg: 1},
			Init:   []Index{0},
		}},
		DataSection: []*DataSegment{{
			Offset: &ConstantExpression{Opcode: OpcodeI32Const, Arg: 8},
			Init:   []byte{0xde, 0xad},
		}},
		ExportSection: map[string]*Export{
			"id":  {Name: "id", Type: ExternTypeFunc, Index: 0},
			"mem": {Name: "mem", Type: ExternTypeMemory, Index: 0},
			"g":   {Name: "g", Type: ExternTypeGlobal, Index: 0},
		},
	}

	s := NewStore(&nopEngine{})
	inst, err := s.Instantiate(testCtx, m, "test")
	require.NoError(t, err)
	require.Equal(t, inst, s.ModuleInstances["test"])

	// One of each was allocated and addressed from zero.
	require.Len(t, s.Functions, 1)
	require.Len(t, s.Tables, 1)
	require.Len(t, s.Memories, 1)
	require.Len(t, s.Globals, 1)
	require.Equal(t, []FunctionAddr{0}, inst.Functions)

	// The global initializer ran.
	require.Equal(t, uint64(42), s.Globals[0].Val)

	// The element segment wrote the function address at offset 1.
	require.Nil(t, inst.TableInst.Elems[0])
	require.NotNil(t, inst.TableInst.Elems[1])
	require.Equal(t, FunctionAddr(0), *inst.TableInst.Elems[1])

	// The data segment wrote its bytes at offset 8.
	require.Equal(t, []byte{0xde, 0xad}, inst.MemoryInst.Buffer[8:10])

	// Exported function names were back-filled for error messages.
	require.Equal(t, "id", s.Functions[0].Name)

	t.Run("same name twice", func(t *testing.T) {
		_, err := s.Instantiate(testCtx, m, "test")
		require.EqualError(t, err, `module "test" already instantiated`)
	})
}

func TestStore_Instantiate_Imports(t *testing.T) {
	i32 := ValueTypeI32

	// A provider module exporting a function, a global, a table and a memory.
	provider := &Module{
		TypeSection:     []*FunctionType{{Results: []ValueType{i32}}},
		FunctionSection: []Index{0},
		CodeSection: []*Code{{Body: []Instruction{
			NewInstI32Const(7),
			NewInst(OpcodeEnd),
		}}},
		TableSection:  &Table{Min: 4},
		MemorySection: &Memory{Min: 2},
		GlobalSection: []*Global{{
			Type: &GlobalType{ValType: i32},
			Init: &ConstantExpression{Opcode: OpcodeI32Const, Arg: 41},
		}},
		ExportSection: map[string]*Export{
			"f":   {Name: "f", Type: ExternTypeFunc, Index: 0},
			"g":   {Name: "g", Type: ExternTypeGlobal, Index: 0},
			"t":   {Name: "t", Type: ExternTypeTable, Index: 0},
			"mem": {Name: "mem", Type: ExternTypeMemory, Index: 0},
		},
	}

	newImporter := func(im ...*Import) *Module {
		return &Module{
			TypeSection:   []*FunctionType{{Results: []ValueType{i32}}},
			ImportSection: im,
		}
	}

	t.Run("resolves all kinds", func(t *testing.T) {
		s := NewStore(&nopEngine{})
		_, err := s.Instantiate(testCtx, provider, "provider")
		require.NoError(t, err)

		importer := newImporter(
			&Import{Type: ExternTypeFunc, Module: "provider", Name: "f", DescFunc: 0},
			&Import{Type: ExternTypeGlobal, Module: "provider", Name: "g", DescGlobal: &GlobalType{ValType: i32}},
			&Import{Type: ExternTypeTable, Module: "provider", Name: "t", DescTable: &Table{Min: 4}},
			&Import{Type: ExternTypeMemory, Module: "provider", Name: "mem", DescMem: &Memory{Min: 1}},
		)
		// A global initializer can read the imported immutable global.
		importer.GlobalSection = []*Global{{
			Type: &GlobalType{ValType: i32, Mutable: true},
			Init: &ConstantExpression{Opcode: OpcodeGlobalGet, Arg: 0},
		}}

		inst, err := s.Instantiate(testCtx, importer, "importer")
		require.NoError(t, err)
		require.Equal(t, uint64(41), s.Globals[inst.Globals[1]].Val)
		// The imported instances are shared, not copied.
		require.Same(t, s.ModuleInstances["provider"].MemoryInst, inst.MemoryInst)
		require.Same(t, s.ModuleInstances["provider"].TableInst, inst.TableInst)
	})

	t.Run("unknown module", func(t *testing.T) {
		s := NewStore(&nopEngine{})
		_, err := s.Instantiate(testCtx,
			newImporter(&Import{Type: ExternTypeFunc, Module: "ghost", Name: "f", DescFunc: 0}), "x")
		require.EqualError(t, err, `module "ghost" not instantiated`)
	})

	t.Run("unknown export", func(t *testing.T) {
		s := NewStore(&nopEngine{})
		_, err := s.Instantiate(testCtx, provider, "provider")
		require.NoError(t, err)
		_, err = s.Instantiate(testCtx,
			newImporter(&Import{Type: ExternTypeFunc, Module: "provider", Name: "ghost", DescFunc: 0}), "x")
		require.EqualError(t, err, `"ghost" is not exported in module "provider"`)
	})

	t.Run("kind mismatch", func(t *testing.T) {
		s := NewStore(&nopEngine{})
		_, err := s.Instantiate(testCtx, provider, "provider")
		require.NoError(t, err)
		_, err = s.Instantiate(testCtx,
			newImporter(&Import{Type: ExternTypeGlobal, Module: "provider", Name: "f", DescGlobal: &GlobalType{ValType: i32}}), "x")
		require.EqualError(t, err, `import[0] import[provider.f]: expected global, but was func`)
	})

	t.Run("function signature mismatch", func(t *testing.T) {
		s := NewStore(&nopEngine{})
		_, err := s.Instantiate(testCtx, provider, "provider")
		require.NoError(t, err)
		importer := &Module{
			TypeSection:   []*FunctionType{{Params: []ValueType{i32}}},
			ImportSection: []*Import{{Type: ExternTypeFunc, Module: "provider", Name: "f", DescFunc: 0}},
		}
		_, err = s.Instantiate(testCtx, importer, "x")
		require.EqualError(t, err,
			"import[0] import[provider.f]: signature mismatch: (i32)->() != ()->(i32)")
	})

	t.Run("memory limits narrow", func(t *testing.T) {
		s := NewStore(&nopEngine{})
		_, err := s.Instantiate(testCtx, provider, "provider")
		require.NoError(t, err)
		// The provider's memory has 2 pages and no max; declaring min 3 or
		// any max must fail.
		_, err = s.Instantiate(testCtx,
			newImporter(&Import{Type: ExternTypeMemory, Module: "provider", Name: "mem", DescMem: &Memory{Min: 3}}), "x")
		require.EqualError(t, err, "import[0] import[provider.mem]: minimum size mismatch: 2 < 3")

		three := uint32(3)
		_, err = s.Instantiate(testCtx,
			newImporter(&Import{Type: ExternTypeMemory, Module: "provider", Name: "mem", DescMem: &Memory{Min: 1, Max: &three}}), "x")
		require.EqualError(t, err, "import[0] import[provider.mem]: maximum size mismatch")
	})

	t.Run("global mutability mismatch", func(t *testing.T) {
		s := NewStore(&nopEngine{})
		_, err := s.Instantiate(testCtx, provider, "provider")
		require.NoError(t, err)
		_, err = s.Instantiate(testCtx,
			newImporter(&Import{Type: ExternTypeGlobal, Module: "provider", Name: "g", DescGlobal: &GlobalType{ValType: i32, Mutable: true}}), "x")
		require.EqualError(t, err, "import[0] import[provider.g]: mutability mismatch")
	})
}

func TestStore_Instantiate_SegmentBounds(t *testing.T) {
	t.Run("element out of bounds", func(t *testing.T) {
		m := &Module{
			TypeSection:     []*FunctionType{{}},
			FunctionSection: []Index{0},
			CodeSection:     []*Code{{Body: []Instruction{NewInst(OpcodeEnd)}}},
			TableSection:    &Table{Min: 2},
			ElementSection: []*ElementSegment{{
				Offset: &ConstantExpression{Opcode: OpcodeI32Const, Arg: 2},
				Init:   []Index{0},
			}},
		}
		s := NewStore(&nopEngine{})
		_, err := s.Instantiate(testCtx, m, "test")
		require.EqualError(t, err, "element[0]: out of bounds table access")
		// Nothing was published.
		require.Empty(t, s.Functions)
		require.Empty(t, s.Tables)
		require.Nil(t, s.ModuleInstances["test"])
	})

	t.Run("data out of bounds", func(t *testing.T) {
		m := &Module{
			MemorySection: &Memory{Min: 1},
			DataSection: []*DataSegment{{
				Offset: &ConstantExpression{Opcode: OpcodeI32Const, Arg: 65535},
				Init:   []byte{1, 2},
			}},
		}
		s := NewStore(&nopEngine{})
		_, err := s.Instantiate(testCtx, m, "test")
		require.EqualError(t, err, "data[0]: out of bounds memory access")
		require.Empty(t, s.Memories)
	})
}

func TestStore_Instantiate_StartFunction(t *testing.T) {
	zero := Index(0)
	m := &Module{
		TypeSection:     []*FunctionType{{}},
		FunctionSection: []Index{0},
		CodeSection:     []*Code{{Body: []Instruction{NewInst(OpcodeEnd)}}},
		StartSection:    &zero,
	}

	t.Run("invoked on success", func(t *testing.T) {
		engine := &nopEngine{}
		s := NewStore(engine)
		inst, err := s.Instantiate(testCtx, m, "test")
		require.NoError(t, err)
		require.Len(t, engine.calls, 1)
		require.Equal(t, s.Functions[inst.Functions[0]], engine.calls[0])
	})

	t.Run("trap unregisters the instance", func(t *testing.T) {
		engine := &nopEngine{err: errors.New("unreachable")}
		s := NewStore(engine)
		_, err := s.Instantiate(testCtx, m, "test")
		require.Error(t, err)
		require.Nil(t, s.ModuleInstances["test"])
		_, err = s.ExportedFunction("test", "anything")
		require.EqualError(t, err, `module "test" not instantiated`)
	})
}

func TestStore_AllocateHostFunction(t *testing.T) {
	s := NewStore(&nopEngine{})

	hf, err := NewHostFunction(nil, nil, func(*CallContext, []uint64) ([]uint64, error) {
		return nil, nil
	})
	require.NoError(t, err)

	f, err := s.AllocateHostFunction("env", "tick", hf)
	require.NoError(t, err)
	require.Equal(t, "env.tick", f.Name)
	require.Equal(t, FunctionKindGo, f.Kind)
	require.Len(t, s.Functions, 1)

	// The function was exported in the host module.
	exp, ok := s.ModuleInstances["env"].Exports["tick"]
	require.True(t, ok)
	require.Equal(t, ExternTypeFunc, exp.Type)

	// Registering the same name again fails and leaves no side effects.
	_, err = s.AllocateHostFunction("env", "tick", hf)
	require.EqualError(t, err, `"tick" is already exported in module "env"`)
	require.Len(t, s.Functions, 1)
}

func TestStore_RegisterAlias(t *testing.T) {
	s := NewStore(&nopEngine{})
	inst, err := s.Instantiate(testCtx, &Module{}, "original")
	require.NoError(t, err)

	require.NoError(t, s.RegisterAlias("alias", inst))
	require.Equal(t, inst, s.ModuleInstances["alias"])

	// Re-registering the same instance is a no-op; a different one fails.
	require.NoError(t, s.RegisterAlias("alias", inst))
	other, err := s.Instantiate(testCtx, &Module{}, "other")
	require.NoError(t, err)
	require.EqualError(t, s.RegisterAlias("alias", other), `module "alias" already instantiated`)
}
