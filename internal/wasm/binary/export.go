package binary

import (
	"bytes"
	"fmt"

	"github.com/wainlabs/wain/internal/leb128"
	"github.com/wainlabs/wain/internal/wasm"
)

// decodeExport decodes a name, a kind byte, and an index.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-export
func decodeExport(r *bytes.Reader) (*wasm.Export, error) {
	name, err := decodeName(r)
	if err != nil {
		return nil, fmt.Errorf("export name: %w", err)
	}

	kind, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read export kind: %w", err)
	}
	switch kind {
	case wasm.ExternTypeFunc, wasm.ExternTypeTable, wasm.ExternTypeMemory, wasm.ExternTypeGlobal:
	default:
		return nil, fmt.Errorf("invalid export kind %#x", kind)
	}

	index, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read export index: %w", err)
	}
	return &wasm.Export{Name: name, Type: kind, Index: index}, nil
}
