package binary

import (
	"bytes"
	"fmt"

	"github.com/wainlabs/wain/internal/leb128"
	"github.com/wainlabs/wain/internal/wasm"
)

// decodeImport decodes module and entity names, then this import's
// description.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-import
func decodeImport(r *bytes.Reader) (*wasm.Import, error) {
	module, err := decodeName(r)
	if err != nil {
		return nil, fmt.Errorf("import module: %w", err)
	}
	name, err := decodeName(r)
	if err != nil {
		return nil, fmt.Errorf("import name: %w", err)
	}

	i := &wasm.Import{Module: module, Name: name}
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read import kind: %w", err)
	}
	i.Type = b
	switch i.Type {
	case wasm.ExternTypeFunc:
		i.DescFunc, _, err = leb128.DecodeUint32(r)
	case wasm.ExternTypeTable:
		i.DescTable, err = decodeTable(r)
	case wasm.ExternTypeMemory:
		i.DescMem, err = decodeMemory(r)
	case wasm.ExternTypeGlobal:
		i.DescGlobal, err = decodeGlobalType(r)
	default:
		return nil, fmt.Errorf("invalid import kind %#x", i.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("import[%s.%s] description: %w", module, name, err)
	}
	return i, nil
}
