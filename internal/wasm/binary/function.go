package binary

import (
	"bytes"
	"fmt"

	"github.com/wainlabs/wain/internal/wasm"
)

// decodeFunctionType decodes a function type, whose leading byte must be 0x60.
//
// In WebAssembly 1.0 (20191205) a function may return at most one value.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-functype
func decodeFunctionType(r *bytes.Reader) (*wasm.FunctionType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read leading byte: %w", err)
	}
	if b != 0x60 {
		return nil, fmt.Errorf("expected 0x60 as the leading byte of a function type, but was %#x", b)
	}

	params, err := decodeValueTypes(r)
	if err != nil {
		return nil, fmt.Errorf("read parameter types: %w", err)
	}
	results, err := decodeValueTypes(r)
	if err != nil {
		return nil, fmt.Errorf("read result types: %w", err)
	}
	if len(results) > 1 {
		return nil, fmt.Errorf("multiple result types are invalid")
	}
	return &wasm.FunctionType{Params: params, Results: results}, nil
}
