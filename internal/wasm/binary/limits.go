package binary

import (
	"bytes"
	"fmt"

	"github.com/wainlabs/wain/internal/leb128"
)

// decodeLimitsType decodes a flag byte then one or two u32 bounds.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#limits%E2%91%A6
func decodeLimitsType(r *bytes.Reader) (min uint32, max *uint32, err error) {
	flag, err := r.ReadByte()
	if err != nil {
		return 0, nil, fmt.Errorf("read limits flag: %w", err)
	}
	switch flag {
	case 0x00:
		min, _, err = leb128.DecodeUint32(r)
		if err != nil {
			return 0, nil, fmt.Errorf("read min of limits: %w", err)
		}
	case 0x01:
		min, _, err = leb128.DecodeUint32(r)
		if err != nil {
			return 0, nil, fmt.Errorf("read min of limits: %w", err)
		}
		var m uint32
		if m, _, err = leb128.DecodeUint32(r); err != nil {
			return 0, nil, fmt.Errorf("read max of limits: %w", err)
		}
		max = &m
	default:
		return 0, nil, fmt.Errorf("invalid limits flag %#x", flag)
	}
	return min, max, nil
}
