package wasm

import "fmt"

// HostFunction pairs a function type with a Go callable, ready to be
// allocated into a store as an importable function.
type HostFunction struct {
	Type *FunctionType
	Go   GoFunction
}

// NewHostFunction returns a host function after a sanity check of its
// declared signature.
func NewHostFunction(params, results []ValueType, fn GoFunction) (*HostFunction, error) {
	if fn == nil {
		return nil, fmt.Errorf("host function implementation required")
	}
	for _, t := range append(append([]ValueType{}, params...), results...) {
		switch t {
		case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64:
		default:
			return nil, fmt.Errorf("invalid value type %#x in host function signature", t)
		}
	}
	return &HostFunction{Type: &FunctionType{Params: params, Results: results}, Go: fn}, nil
}
