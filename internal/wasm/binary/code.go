package binary

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/wainlabs/wain/internal/leb128"
	"github.com/wainlabs/wain/internal/wasm"
)

// decodeCode decodes one code entry: a byte size, run-length encoded
// locals, and the function body.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-code
func decodeCode(r *bytes.Reader) (*wasm.Code, error) {
	ss, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get the size of code: %w", err)
	}
	remaining := int64(ss)

	// Parse the function locals.
	ls, bytesRead, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get the size locals: %w", err)
	}
	remaining -= int64(bytesRead)
	if remaining < 0 {
		return nil, io.EOF
	}

	var nums []uint64
	var types []wasm.ValueType
	var sum uint64
	for i := uint32(0); i < ls; i++ {
		num, bytesRead, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read n of locals: %w", err)
		}
		sum += uint64(num)
		nums = append(nums, uint64(num))
		remaining -= int64(bytesRead) + 1 // +1 for the value type below
		if remaining < 0 {
			return nil, io.EOF
		}

		vt, err := decodeValueType(r)
		if err != nil {
			return nil, fmt.Errorf("read type of local: %w", err)
		}
		types = append(types, vt)
	}
	if sum > math.MaxUint32 {
		return nil, fmt.Errorf("too many locals: %d", sum)
	}

	var localTypes []wasm.ValueType
	if sum > 0 {
		localTypes = make([]wasm.ValueType, 0, sum)
	}
	for i, num := range nums {
		for j := uint64(0); j < num; j++ {
			localTypes = append(localTypes, types[i])
		}
	}

	// The rest of the entry is the body expression.
	bodyBytes := make([]byte, remaining)
	if _, err := io.ReadFull(r, bodyBytes); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	br := bytes.NewReader(bodyBytes)
	body, terminator, err := decodeInstructionSequence(br)
	if err != nil {
		return nil, fmt.Errorf("parse body: %w", err)
	}
	if terminator != wasm.OpcodeEnd {
		return nil, fmt.Errorf("parse body: expected end, but found else")
	}
	if br.Len() != 0 {
		return nil, fmt.Errorf("parse body: %d byte(s) past the end", br.Len())
	}

	return &wasm.Code{LocalTypes: localTypes, Body: body}, nil
}
