package binary

import (
	"bytes"
	"fmt"

	"github.com/wainlabs/wain/internal/wasm"
)

// decodeTable decodes a table type: the element type funcref, then limits.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-table
func decodeTable(r *bytes.Reader) (*wasm.Table, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read element type: %w", err)
	}
	if b != wasm.RefTypeFuncref {
		return nil, fmt.Errorf("invalid element type %#x != funcref(%#x)", b, wasm.RefTypeFuncref)
	}
	min, max, err := decodeLimitsType(r)
	if err != nil {
		return nil, fmt.Errorf("read limits: %w", err)
	}
	return &wasm.Table{Min: min, Max: max}, nil
}
