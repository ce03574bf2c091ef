package binary

import (
	"bytes"
	"fmt"

	"github.com/wainlabs/wain/internal/wasm"
)

// decodeGlobal decodes a global type followed by its initializer.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-global
func decodeGlobal(r *bytes.Reader) (*wasm.Global, error) {
	gt, err := decodeGlobalType(r)
	if err != nil {
		return nil, err
	}
	init, err := decodeConstantExpression(r)
	if err != nil {
		return nil, err
	}
	return &wasm.Global{Type: gt, Init: init}, nil
}

// decodeGlobalType decodes a value type and a mutability flag.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-globaltype
func decodeGlobalType(r *bytes.Reader) (*wasm.GlobalType, error) {
	vt, err := decodeValueType(r)
	if err != nil {
		return nil, fmt.Errorf("read value type: %w", err)
	}
	mut, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read mutability: %w", err)
	}
	if mut > 1 {
		return nil, fmt.Errorf("invalid mutability flag %#x", mut)
	}
	return &wasm.GlobalType{ValType: vt, Mutable: mut == 1}, nil
}
