package binary

import (
	"bytes"
	"fmt"

	"github.com/wainlabs/wain/internal/leb128"
	"github.com/wainlabs/wain/internal/wasm"
)

// decodeElementSegment decodes a table index, an i32 offset expression and
// the function indexes to write.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-elem
func decodeElementSegment(r *bytes.Reader) (*wasm.ElementSegment, error) {
	tableIndex, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get table index: %w", err)
	}

	offset, err := decodeConstantExpression(r)
	if err != nil {
		return nil, fmt.Errorf("read offset expression: %w", err)
	}

	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}
	init := make([]wasm.Index, 0, count)
	for i := uint32(0); i < count; i++ {
		funcIdx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read function index of %d-th element: %w", i, err)
		}
		init = append(init, funcIdx)
	}
	return &wasm.ElementSegment{TableIndex: tableIndex, Offset: offset, Init: init}, nil
}
