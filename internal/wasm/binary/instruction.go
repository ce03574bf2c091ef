package binary

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/wainlabs/wain/internal/leb128"
	"github.com/wainlabs/wain/internal/wasm"
)

// decodeBlockType reads the result type of a block-structured instruction:
// 0x40 for an empty result, or one value type.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-blocktype
func decodeBlockType(r *bytes.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("read block type: %w", err)
	}
	switch b {
	case wasm.BlockTypeEmpty, wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64:
		return b, nil
	default:
		return 0, fmt.Errorf("invalid block type %#x", b)
	}
}

// decodeInstructionSequence parses instructions until the terminator of the
// current block: end, or else inside an if. The terminator stays attached
// as the sequence's final instruction so the executor handles termination
// uniformly, and is also returned so callers can tell which one closed the
// block.
func decodeInstructionSequence(r *bytes.Reader) (body []wasm.Instruction, terminator wasm.Opcode, err error) {
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, 0, fmt.Errorf("read opcode: %w", err)
		}

		instr := wasm.Instruction{Opcode: op}
		switch op {
		case wasm.OpcodeEnd, wasm.OpcodeElse:
			body = append(body, instr)
			return body, op, nil

		case wasm.OpcodeUnreachable, wasm.OpcodeNop, wasm.OpcodeReturn,
			wasm.OpcodeDrop, wasm.OpcodeSelect:
			// No immediates.

		case wasm.OpcodeBlock, wasm.OpcodeLoop:
			if instr.BlockType, err = decodeBlockType(r); err != nil {
				return nil, 0, err
			}
			inner, innerTerm, err := decodeInstructionSequence(r)
			if err != nil {
				return nil, 0, err
			}
			if innerTerm != wasm.OpcodeEnd {
				return nil, 0, fmt.Errorf("%s not terminated by end", wasm.OpcodeName(op))
			}
			instr.Body = inner

		case wasm.OpcodeIf:
			if instr.BlockType, err = decodeBlockType(r); err != nil {
				return nil, 0, err
			}
			then, thenTerm, err := decodeInstructionSequence(r)
			if err != nil {
				return nil, 0, err
			}
			instr.Body = then
			if thenTerm == wasm.OpcodeElse {
				alt, altTerm, err := decodeInstructionSequence(r)
				if err != nil {
					return nil, 0, err
				}
				if altTerm != wasm.OpcodeEnd {
					return nil, 0, fmt.Errorf("else not terminated by end")
				}
				instr.Else = alt
			}

		case wasm.OpcodeBr, wasm.OpcodeBrIf, wasm.OpcodeCall,
			wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee,
			wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet:
			if instr.U32, _, err = leb128.DecodeUint32(r); err != nil {
				return nil, 0, fmt.Errorf("read index of %s: %w", wasm.OpcodeName(op), err)
			}

		case wasm.OpcodeBrTable:
			count, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, 0, fmt.Errorf("read size of br_table: %w", err)
			}
			labels := make([]uint32, 0, count)
			for i := uint32(0); i < count; i++ {
				l, _, err := leb128.DecodeUint32(r)
				if err != nil {
					return nil, 0, fmt.Errorf("read %d-th target of br_table: %w", i, err)
				}
				labels = append(labels, l)
			}
			instr.Labels = labels
			if instr.U32, _, err = leb128.DecodeUint32(r); err != nil {
				return nil, 0, fmt.Errorf("read default target of br_table: %w", err)
			}

		case wasm.OpcodeCallIndirect:
			if instr.U32, _, err = leb128.DecodeUint32(r); err != nil {
				return nil, 0, fmt.Errorf("read type index of call_indirect: %w", err)
			}
			// The table index is fixed to zero in WebAssembly 1.0 (20191205).
			flag, err := r.ReadByte()
			if err != nil {
				return nil, 0, fmt.Errorf("read table index of call_indirect: %w", err)
			}
			if flag != 0x00 {
				return nil, 0, fmt.Errorf("call_indirect reserved byte must be zero but was %#x", flag)
			}

		case wasm.OpcodeI32Load, wasm.OpcodeI64Load, wasm.OpcodeF32Load, wasm.OpcodeF64Load,
			wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U,
			wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
			wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U,
			wasm.OpcodeI32Store, wasm.OpcodeI64Store, wasm.OpcodeF32Store, wasm.OpcodeF64Store,
			wasm.OpcodeI32Store8, wasm.OpcodeI32Store16,
			wasm.OpcodeI64Store8, wasm.OpcodeI64Store16, wasm.OpcodeI64Store32:
			if instr.Align, _, err = leb128.DecodeUint32(r); err != nil {
				return nil, 0, fmt.Errorf("read alignment of %s: %w", wasm.OpcodeName(op), err)
			}
			if instr.Offset, _, err = leb128.DecodeUint32(r); err != nil {
				return nil, 0, fmt.Errorf("read offset of %s: %w", wasm.OpcodeName(op), err)
			}

		case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
			// The memory index is fixed to zero in WebAssembly 1.0 (20191205).
			flag, err := r.ReadByte()
			if err != nil {
				return nil, 0, fmt.Errorf("read memory index of %s: %w", wasm.OpcodeName(op), err)
			}
			if flag != 0x00 {
				return nil, 0, fmt.Errorf("%s reserved byte must be zero but was %#x", wasm.OpcodeName(op), flag)
			}

		case wasm.OpcodeI32Const:
			v, _, err := leb128.DecodeInt32(r)
			if err != nil {
				return nil, 0, fmt.Errorf("read i32.const value: %w", err)
			}
			instr.U64 = uint64(uint32(v))

		case wasm.OpcodeI64Const:
			v, _, err := leb128.DecodeInt64(r)
			if err != nil {
				return nil, 0, fmt.Errorf("read i64.const value: %w", err)
			}
			instr.U64 = uint64(v)

		case wasm.OpcodeF32Const:
			buf := make([]byte, 4)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, 0, fmt.Errorf("read f32.const value: %w", err)
			}
			instr.U64 = uint64(binary.LittleEndian.Uint32(buf))

		case wasm.OpcodeF64Const:
			buf := make([]byte, 8)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, 0, fmt.Errorf("read f64.const value: %w", err)
			}
			instr.U64 = binary.LittleEndian.Uint64(buf)

		default:
			// Everything from i32.eqz through f64.reinterpret_i64 carries no
			// immediates; anything outside the 1.0 opcode space is malformed.
			if wasm.OpcodeName(op) == "" {
				return nil, 0, fmt.Errorf("invalid opcode %#x", op)
			}
		}

		body = append(body, instr)
	}
}
