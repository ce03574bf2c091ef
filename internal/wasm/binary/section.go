package binary

import (
	"bytes"
	"fmt"

	"github.com/wainlabs/wain/internal/leb128"
	"github.com/wainlabs/wain/internal/wasm"
)

func decodeTypeSection(r *bytes.Reader) ([]*wasm.FunctionType, error) {
	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}
	result := make([]*wasm.FunctionType, 0, count)
	for i := uint32(0); i < count; i++ {
		ft, err := decodeFunctionType(r)
		if err != nil {
			return nil, fmt.Errorf("read %d-th type: %w", i, err)
		}
		result = append(result, ft)
	}
	return result, nil
}

func decodeImportSection(r *bytes.Reader) ([]*wasm.Import, error) {
	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}
	result := make([]*wasm.Import, 0, count)
	for i := uint32(0); i < count; i++ {
		imp, err := decodeImport(r)
		if err != nil {
			return nil, fmt.Errorf("read %d-th import: %w", i, err)
		}
		result = append(result, imp)
	}
	return result, nil
}

func decodeFunctionSection(r *bytes.Reader) ([]wasm.Index, error) {
	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}
	result := make([]wasm.Index, 0, count)
	for i := uint32(0); i < count; i++ {
		typeIdx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("get type index of %d-th function: %w", i, err)
		}
		result = append(result, typeIdx)
	}
	return result, nil
}

func decodeTableSection(r *bytes.Reader) (*wasm.Table, error) {
	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}
	if count > 1 {
		return nil, fmt.Errorf("at most one table allowed in module, but read %d", count)
	}
	if count == 0 {
		return nil, nil
	}
	return decodeTable(r)
}

func decodeMemorySection(r *bytes.Reader) (*wasm.Memory, error) {
	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}
	if count > 1 {
		return nil, fmt.Errorf("at most one memory allowed in module, but read %d", count)
	}
	if count == 0 {
		return nil, nil
	}
	return decodeMemory(r)
}

func decodeGlobalSection(r *bytes.Reader) ([]*wasm.Global, error) {
	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}
	result := make([]*wasm.Global, 0, count)
	for i := uint32(0); i < count; i++ {
		g, err := decodeGlobal(r)
		if err != nil {
			return nil, fmt.Errorf("read %d-th global: %w", i, err)
		}
		result = append(result, g)
	}
	return result, nil
}

func decodeExportSection(r *bytes.Reader) (map[string]*wasm.Export, error) {
	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}
	result := make(map[string]*wasm.Export, count)
	for i := uint32(0); i < count; i++ {
		exp, err := decodeExport(r)
		if err != nil {
			return nil, fmt.Errorf("read %d-th export: %w", i, err)
		}
		if _, ok := result[exp.Name]; ok {
			return nil, fmt.Errorf("export[%d] duplicates name %q", i, exp.Name)
		}
		result[exp.Name] = exp
	}
	return result, nil
}

func decodeStartSection(r *bytes.Reader) (*wasm.Index, error) {
	funcIdx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get function index: %w", err)
	}
	return &funcIdx, nil
}

func decodeElementSection(r *bytes.Reader) ([]*wasm.ElementSegment, error) {
	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}
	result := make([]*wasm.ElementSegment, 0, count)
	for i := uint32(0); i < count; i++ {
		elem, err := decodeElementSegment(r)
		if err != nil {
			return nil, fmt.Errorf("read %d-th element segment: %w", i, err)
		}
		result = append(result, elem)
	}
	return result, nil
}

func decodeCodeSection(r *bytes.Reader) ([]*wasm.Code, error) {
	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}
	result := make([]*wasm.Code, 0, count)
	for i := uint32(0); i < count; i++ {
		c, err := decodeCode(r)
		if err != nil {
			return nil, fmt.Errorf("read %d-th code: %w", i, err)
		}
		result = append(result, c)
	}
	return result, nil
}

func decodeDataSection(r *bytes.Reader) ([]*wasm.DataSegment, error) {
	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}
	result := make([]*wasm.DataSegment, 0, count)
	for i := uint32(0); i < count; i++ {
		data, err := decodeDataSegment(r)
		if err != nil {
			return nil, fmt.Errorf("read %d-th data segment: %w", i, err)
		}
		result = append(result, data)
	}
	return result, nil
}
