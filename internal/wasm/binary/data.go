package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wainlabs/wain/internal/leb128"
	"github.com/wainlabs/wain/internal/wasm"
)

// decodeDataSegment decodes a memory index, an i32 offset expression and
// the bytes to write.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-data
func decodeDataSegment(r *bytes.Reader) (*wasm.DataSegment, error) {
	memoryIndex, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get memory index: %w", err)
	}

	offset, err := decodeConstantExpression(r)
	if err != nil {
		return nil, fmt.Errorf("read offset expression: %w", err)
	}

	size, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}
	init := make([]byte, size)
	if _, err := io.ReadFull(r, init); err != nil {
		return nil, fmt.Errorf("read init of data segment: %w", err)
	}
	return &wasm.DataSegment{MemoryIndex: memoryIndex, Offset: offset, Init: init}, nil
}
