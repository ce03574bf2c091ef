// Package spectest runs the JSON command records produced by wast2json
// against the runtime: each record identifies an operation and its expected
// outcome. This package is consumed only by test code.
//
// See https://github.com/WebAssembly/wabt/blob/main/docs/wast2json.md
package spectest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	wain "github.com/wainlabs/wain"
	"github.com/wainlabs/wain/api"
	"github.com/wainlabs/wain/internal/moremath"
	"github.com/wainlabs/wain/internal/wasm"
	"github.com/wainlabs/wain/internal/wasmruntime"
)

type (
	testbase struct {
		SourceFile string    `json:"source_filename"`
		Commands   []command `json:"commands"`
	}
	command struct {
		CommandType string `json:"type"`
		Line        int    `json:"line"`

		// Set when type == "module" || "register"
		Name string `json:"name,omitempty"`

		// Set when type == "module" || "assert_uninstantiable" || "assert_malformed"
		Filename string `json:"filename,omitempty"`

		// Set when type == "register"
		As string `json:"as,omitempty"`

		// Set when type == "assert_return" || "action"
		Action commandAction      `json:"action,omitempty"`
		Exps   []commandActionVal `json:"expected"`

		// Set when type == "assert_malformed"
		ModuleType string `json:"module_type"`

		// Set when type == "assert_trap"
		Text string `json:"text"`
	}

	commandAction struct {
		ActionType string             `json:"type"`
		Args       []commandActionVal `json:"args"`

		// Set when ActionType == "invoke"
		Field  string `json:"field,omitempty"`
		Module string `json:"module,omitempty"`
	}

	commandActionVal struct {
		ValType string      `json:"type"`
		Value   interface{} `json:"value"`
	}
)

func (c command) String() string {
	return fmt.Sprintf("{line: %d, type: %s}", c.Line, c.CommandType)
}

func (v commandActionVal) toUint64() uint64 {
	str := v.Value.(string)
	switch v.ValType {
	case "i32", "f32":
		ret, err := strconv.ParseUint(str, 10, 32)
		if err != nil {
			panic(err)
		}
		return ret
	default: // "i64", "f64"
		ret, err := strconv.ParseUint(str, 10, 64)
		if err != nil {
			panic(err)
		}
		return ret
	}
}

// expectedNaN returns the NaN class named by an expected value, or "".
func (v commandActionVal) expectedNaN() string {
	if str, ok := v.Value.(string); ok && (str == "nan:canonical" || str == "nan:arithmetic") {
		return str
	}
	return ""
}

// state carries the modules instantiated so far in one spectest file.
type state struct {
	runtime *wain.Runtime
	last    *wain.Module
	named   map[string]*wain.Module
}

func (s *state) module(name string) *wain.Module {
	if name == "" {
		return s.last
	}
	return s.named[name]
}

// Run executes every command record of jsonname within testDataFS, which
// must also hold the wasm binaries the records reference.
func Run(t *testing.T, testDataFS fs.FS, jsonname string) {
	raw, err := fs.ReadFile(testDataFS, jsonname)
	require.NoError(t, err)

	var base testbase
	require.NoError(t, json.Unmarshal(raw, &base))

	ctx := context.Background()
	s := &state{runtime: wain.NewRuntime(), named: map[string]*wain.Module{}}
	require.NoError(t, registerSpectestHost(s.runtime))

	for i := range base.Commands {
		c := base.Commands[i]
		t.Run(fmt.Sprintf("%s/line:%d", c.CommandType, c.Line), func(t *testing.T) {
			runCommand(t, ctx, s, testDataFS, c)
		})
	}
}

func runCommand(t *testing.T, ctx context.Context, s *state, testDataFS fs.FS, c command) {
	switch c.CommandType {
	case "module":
		buf, err := fs.ReadFile(testDataFS, c.Filename)
		require.NoError(t, err, c)
		name := c.Name
		if name == "" {
			// Unnamed modules still need unique registry entries.
			name = c.Filename
		}
		mod, err := s.runtime.InstantiateModuleFromBinary(ctx, buf, name)
		require.NoError(t, err, c)
		s.last = mod
		if c.Name != "" {
			s.named[c.Name] = mod
		}

	case "register":
		mod := s.module(c.Name)
		require.NotNil(t, mod, c)
		require.NoError(t, s.runtime.RegisterModuleAlias(mod, c.As), c)

	case "action", "assert_return":
		mod := s.module(c.Action.Module)
		require.NotNil(t, mod, c)
		require.Equal(t, "invoke", c.Action.ActionType, c)
		fn := mod.ExportedFunction(c.Action.Field)
		require.NotNil(t, fn, c)

		args := make([]uint64, 0, len(c.Action.Args))
		for _, arg := range c.Action.Args {
			args = append(args, arg.toUint64())
		}
		results, err := fn.Call(ctx, args...)
		require.NoError(t, err, c)
		require.Len(t, results, len(c.Exps), c)
		for i, exp := range c.Exps {
			requireValueEq(t, exp, results[i], c)
		}

	case "assert_return_canonical_nan", "assert_return_arithmetic_nan":
		// The older record format names the NaN class in the command type
		// and carries only the expected value types.
		mod := s.module(c.Action.Module)
		require.NotNil(t, mod, c)
		fn := mod.ExportedFunction(c.Action.Field)
		require.NotNil(t, fn, c)

		args := make([]uint64, 0, len(c.Action.Args))
		for _, arg := range c.Action.Args {
			args = append(args, arg.toUint64())
		}
		results, err := fn.Call(ctx, args...)
		require.NoError(t, err, c)
		require.Len(t, results, len(c.Exps), c)
		for i, exp := range c.Exps {
			canonical := c.CommandType == "assert_return_canonical_nan"
			switch exp.ValType {
			case "f32":
				if canonical {
					require.True(t, moremath.F32IsCanonicalNaN(uint32(results[i])), c)
				} else {
					require.True(t, moremath.F32IsArithmeticNaN(uint32(results[i])), c)
				}
			case "f64":
				if canonical {
					require.True(t, moremath.F64IsCanonicalNaN(results[i]), c)
				} else {
					require.True(t, moremath.F64IsArithmeticNaN(results[i]), c)
				}
			default:
				t.Fatalf("unexpected value type %q in %v", exp.ValType, c)
			}
		}

	case "assert_trap":
		mod := s.module(c.Action.Module)
		require.NotNil(t, mod, c)
		fn := mod.ExportedFunction(c.Action.Field)
		require.NotNil(t, fn, c)

		args := make([]uint64, 0, len(c.Action.Args))
		for _, arg := range c.Action.Args {
			args = append(args, arg.toUint64())
		}
		_, err := fn.Call(ctx, args...)
		require.Error(t, err, c)
		var trap *wasmruntime.Error
		require.True(t, errors.As(err, &trap), c)

	case "assert_exhaustion":
		mod := s.module(c.Action.Module)
		require.NotNil(t, mod, c)
		fn := mod.ExportedFunction(c.Action.Field)
		require.NotNil(t, fn, c)

		args := make([]uint64, 0, len(c.Action.Args))
		for _, arg := range c.Action.Args {
			args = append(args, arg.toUint64())
		}
		_, err := fn.Call(ctx, args...)
		require.ErrorIs(t, err, wasmruntime.ErrRuntimeStackOverflow, c)

	case "assert_malformed":
		if c.ModuleType == "text" {
			t.Skip("the binary decoder cannot reject text modules")
		}
		buf, err := fs.ReadFile(testDataFS, c.Filename)
		require.NoError(t, err, c)
		_, err = s.runtime.CompileModule(buf)
		require.Error(t, err, c)
		var malformed *wain.MalformedError
		require.True(t, errors.As(err, &malformed), c)

	case "assert_invalid":
		if c.ModuleType == "text" {
			t.Skip("the binary decoder cannot reject text modules")
		}
		buf, err := fs.ReadFile(testDataFS, c.Filename)
		require.NoError(t, err, c)
		_, err = s.runtime.CompileModule(buf)
		require.Error(t, err, c)
		var invalid *wain.InvalidError
		require.True(t, errors.As(err, &invalid), c)

	case "assert_unlinkable", "assert_uninstantiable":
		buf, err := fs.ReadFile(testDataFS, c.Filename)
		require.NoError(t, err, c)
		_, err = s.runtime.InstantiateModuleFromBinary(ctx, buf, fmt.Sprintf("%s-%d", c.Filename, c.Line))
		require.Error(t, err, c)

	default:
		t.Fatalf("unknown command type %q: %v", c.CommandType, c)
	}
}

func requireValueEq(t *testing.T, exp commandActionVal, actual uint64, c command) {
	switch nan := exp.expectedNaN(); {
	case nan == "nan:canonical" && exp.ValType == "f32":
		require.True(t, moremath.F32IsCanonicalNaN(uint32(actual)), c)
	case nan == "nan:arithmetic" && exp.ValType == "f32":
		require.True(t, moremath.F32IsArithmeticNaN(uint32(actual)), c)
	case nan == "nan:canonical" && exp.ValType == "f64":
		require.True(t, moremath.F64IsCanonicalNaN(actual), c)
	case nan == "nan:arithmetic" && exp.ValType == "f64":
		require.True(t, moremath.F64IsArithmeticNaN(actual), c)
	default:
		require.Equal(t, exp.toUint64(), actual, c)
	}
}

// registerSpectestHost provides the "spectest" module the specification's
// test suite imports: no-op print functions, three globals, a table and a
// memory.
//
// See https://github.com/WebAssembly/spec/blob/wg-1.0/test/harness/sync_index.js
func registerSpectestHost(r *wain.Runtime) error {
	i32, i64, f32, f64 := api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64
	noop := func(_ *wasm.CallContext, _ []uint64) ([]uint64, error) { return nil, nil }

	tableMax, memMax := uint32(20), uint32(2)
	_, err := r.NewHostModuleBuilder("spectest").
		ExportFunction("print", nil, nil, noop).
		ExportFunction("print_i32", []api.ValueType{i32}, nil, noop).
		ExportFunction("print_i64", []api.ValueType{i64}, nil, noop).
		ExportFunction("print_f32", []api.ValueType{f32}, nil, noop).
		ExportFunction("print_f64", []api.ValueType{f64}, nil, noop).
		ExportFunction("print_i32_f32", []api.ValueType{i32, f32}, nil, noop).
		ExportFunction("print_f64_f64", []api.ValueType{f64, f64}, nil, noop).
		ExportGlobal("global_i32", i32, false, api.EncodeI32(666)).
		ExportGlobal("global_i64", i64, false, api.EncodeI64(666)).
		ExportGlobal("global_f32", f32, false, api.EncodeF32(666.6)).
		ExportGlobal("global_f64", f64, false, api.EncodeF64(666.6)).
		ExportTable("table", 10, &tableMax).
		ExportMemory("memory", 1, &memMax).
		Instantiate()
	return err
}
