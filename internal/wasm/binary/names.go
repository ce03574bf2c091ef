package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wainlabs/wain/internal/leb128"
	"github.com/wainlabs/wain/internal/wasm"
)

const (
	// subsectionIDModuleName contains only the module name.
	subsectionIDModuleName = uint8(0)
	// subsectionIDFunctionNames is a map of indices to function names, in ascending order by index.
	subsectionIDFunctionNames = uint8(1)
	// subsectionIDLocalNames contains a map of function indices to a map of local indices to their names, in ascending
	// order by index.
	subsectionIDLocalNames = uint8(2)
)

// decodeCustomSection extracts the standard "name" section when present;
// every other custom section is skipped after its name is read.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#custom-section%E2%91%A0
func decodeCustomSection(r *bytes.Reader, m *wasm.Module) error {
	name, err := decodeName(r)
	if err != nil {
		return fmt.Errorf("custom section name: %w", err)
	}
	if name != "name" {
		// The contents of an unknown custom section have no effect on the
		// module; consume the remainder so the size check passes.
		if _, err := io.Copy(io.Discard, r); err != nil {
			return err
		}
		return nil
	}
	ns, err := decodeNameSection(r)
	if err != nil {
		return fmt.Errorf("name section: %w", err)
	}
	m.NameSection = ns
	return nil
}

// decodeNameSection decodes the known subsections of the custom "name"
// section, ignoring the ones this AST doesn't represent.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#name-section%E2%91%A0
func decodeNameSection(r *bytes.Reader) (*wasm.NameSection, error) {
	result := &wasm.NameSection{}
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read subsection id: %w", err)
		}
		size, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("get size of subsection %d: %w", id, err)
		}
		contents := make([]byte, size)
		if _, err := io.ReadFull(r, contents); err != nil {
			return nil, fmt.Errorf("read subsection %d: %w", id, err)
		}
		sr := bytes.NewReader(contents)

		switch id {
		case subsectionIDModuleName:
			if result.ModuleName, err = decodeName(sr); err != nil {
				return nil, fmt.Errorf("module name: %w", err)
			}
		case subsectionIDFunctionNames:
			if result.FunctionNames, err = decodeFunctionNames(sr); err != nil {
				return nil, err
			}
		case subsectionIDLocalNames:
			// Local names aren't represented in the AST.
		default:
			// Ignore unknown subsections for forward compatibility.
		}
	}
	return result, nil
}

func decodeFunctionNames(r *bytes.Reader) (map[wasm.Index]string, error) {
	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of function name map: %w", err)
	}
	result := make(map[wasm.Index]string, count)
	for i := uint32(0); i < count; i++ {
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read index of %d-th function name: %w", i, err)
		}
		name, err := decodeName(r)
		if err != nil {
			return nil, fmt.Errorf("read %d-th function name: %w", i, err)
		}
		result[idx] = name
	}
	return result, nil
}
