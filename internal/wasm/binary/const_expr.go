package binary

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/wainlabs/wain/internal/leb128"
	"github.com/wainlabs/wain/internal/wasm"
)

// decodeConstantExpression decodes one const or global.get instruction with
// its immediate, terminated by end. Anything else is malformed: the
// constant restriction itself is re-checked by the validator, which also
// knows the imported globals.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-expr
func decodeConstantExpression(r *bytes.Reader) (*wasm.ConstantExpression, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read opcode of constant expression: %w", err)
	}

	expr := &wasm.ConstantExpression{Opcode: b}
	switch b {
	case wasm.OpcodeI32Const:
		v, _, err := leb128.DecodeInt32(r)
		if err != nil {
			return nil, fmt.Errorf("read i32.const value: %w", err)
		}
		expr.Arg = uint64(uint32(v))
	case wasm.OpcodeI64Const:
		v, _, err := leb128.DecodeInt64(r)
		if err != nil {
			return nil, fmt.Errorf("read i64.const value: %w", err)
		}
		expr.Arg = uint64(v)
	case wasm.OpcodeF32Const:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read f32.const value: %w", err)
		}
		expr.Arg = uint64(binary.LittleEndian.Uint32(buf))
	case wasm.OpcodeF64Const:
		buf := make([]byte, 8)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read f64.const value: %w", err)
		}
		expr.Arg = binary.LittleEndian.Uint64(buf)
	case wasm.OpcodeGlobalGet:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read global.get index: %w", err)
		}
		expr.Arg = uint64(idx)
	default:
		return nil, fmt.Errorf("%s is not a constant expression opcode", wasm.OpcodeName(b))
	}

	end, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("look for end of constant expression: %w", err)
	}
	if end != wasm.OpcodeEnd {
		return nil, fmt.Errorf("constant expression not terminated by end")
	}
	return expr, nil
}
