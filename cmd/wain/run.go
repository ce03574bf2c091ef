package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	wain "github.com/wainlabs/wain"
	"github.com/wainlabs/wain/api"
)

var (
	invokeName string
	stackDepth int
)

var runCmd = &cobra.Command{
	Use:   "run <module.wasm> [args...]",
	Short: "Instantiate a module and invoke an exported function",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		buf, err := afero.ReadFile(fs, args[0])
		if err != nil {
			return err
		}

		config := wain.NewRuntimeConfig().WithLogger(logger)
		if stackDepth > 0 {
			config = config.WithCallStackCeiling(stackDepth)
		}
		r := wain.NewRuntimeWithConfig(config)

		ctx := context.Background()
		mod, err := r.InstantiateModuleFromBinary(ctx, buf, "main")
		if err != nil {
			return err
		}
		if invokeName == "" {
			// Instantiation alone runs the start function, if any.
			return nil
		}

		fn := mod.ExportedFunction(invokeName)
		if fn == nil {
			return fmt.Errorf("function %q is not exported in %s", invokeName, args[0])
		}
		params, err := parseArgs(fn.Type().Params, args[1:])
		if err != nil {
			return err
		}

		results, err := fn.Call(ctx, params...)
		if err != nil {
			return err
		}
		out := make([]string, 0, len(results))
		for i, v := range results {
			out = append(out, formatValue(fn.Type().Results[i], v))
		}
		if len(out) > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(out, " "))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&invokeName, "invoke", "", "exported function to invoke")
	runCmd.Flags().IntVar(&stackDepth, "stack-depth", 0, "call stack ceiling (minimum 1024)")
}

// parseArgs converts command line strings to raw stack values per the
// function's parameter types.
func parseArgs(types []api.ValueType, args []string) ([]uint64, error) {
	if len(args) != len(types) {
		return nil, fmt.Errorf("expected %d args, but passed %d", len(types), len(args))
	}
	params := make([]uint64, 0, len(args))
	for i, arg := range args {
		switch types[i] {
		case api.ValueTypeI32:
			v, err := strconv.ParseInt(arg, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("arg[%d] %q is not an i32: %w", i, arg, err)
			}
			params = append(params, api.EncodeI32(int32(v)))
		case api.ValueTypeI64:
			v, err := strconv.ParseInt(arg, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("arg[%d] %q is not an i64: %w", i, arg, err)
			}
			params = append(params, api.EncodeI64(v))
		case api.ValueTypeF32:
			v, err := strconv.ParseFloat(arg, 32)
			if err != nil {
				return nil, fmt.Errorf("arg[%d] %q is not an f32: %w", i, arg, err)
			}
			params = append(params, api.EncodeF32(float32(v)))
		case api.ValueTypeF64:
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return nil, fmt.Errorf("arg[%d] %q is not an f64: %w", i, arg, err)
			}
			params = append(params, api.EncodeF64(v))
		}
	}
	return params, nil
}

func formatValue(t api.ValueType, v uint64) string {
	switch t {
	case api.ValueTypeI32:
		return strconv.FormatInt(int64(api.DecodeI32(v)), 10)
	case api.ValueTypeI64:
		return strconv.FormatInt(int64(v), 10)
	case api.ValueTypeF32:
		return strconv.FormatFloat(float64(api.DecodeF32(v)), 'g', -1, 32)
	default: // api.ValueTypeF64
		return strconv.FormatFloat(api.DecodeF64(v), 'g', -1, 64)
	}
}
