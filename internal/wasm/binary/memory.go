package binary

import (
	"bytes"
	"fmt"

	"github.com/wainlabs/wain/internal/wasm"
)

// decodeMemory decodes a memory type, which is just limits in pages.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-mem
func decodeMemory(r *bytes.Reader) (*wasm.Memory, error) {
	min, max, err := decodeLimitsType(r)
	if err != nil {
		return nil, fmt.Errorf("read limits: %w", err)
	}
	return &wasm.Memory{Min: min, Max: max}, nil
}
