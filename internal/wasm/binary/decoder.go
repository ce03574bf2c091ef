// Package binary decodes the WebAssembly 1.0 (20191205) Binary Format into
// the internal Module AST.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-format%E2%91%A0
package binary

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/wainlabs/wain/internal/leb128"
	"github.com/wainlabs/wain/internal/wasm"
)

var (
	// Magic is the 4 byte preamble (literally "\0asm") of the binary format.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-magic
	Magic = []byte{0x00, 0x61, 0x73, 0x6D}

	// version is format version and doesn't change between known specification versions.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-version
	version = []byte{0x01, 0x00, 0x00, 0x00}
)

// ErrInvalidMagicNumber is returned when the preamble is not "\0asm".
var ErrInvalidMagicNumber = errors.New("invalid magic number")

// ErrInvalidVersion is returned when the version is not 1.
var ErrInvalidVersion = errors.New("invalid version header")

// DecodeModule decodes the in-memory binary into a Module. The returned
// module has been syntax checked, not validated: call Module.Validate for
// the type and structure checks.
func DecodeModule(binary []byte) (*wasm.Module, error) {
	r := bytes.NewReader(binary)

	// Magic + version.
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, Magic) {
		return nil, ErrInvalidMagicNumber
	}
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, version) {
		return nil, ErrInvalidVersion
	}

	m := &wasm.Module{}
	// Sections must appear at most once, in increasing id order. Custom
	// sections (id zero) may appear anywhere.
	lastSectionID := wasm.SectionIDCustom
	for {
		sectionID, err := r.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("read section id: %w", err)
		}

		sectionSize, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("get size of section %s: %w", wasm.SectionIDName(sectionID), err)
		}
		if uint64(sectionSize) > uint64(r.Len()) {
			return nil, fmt.Errorf("section %s size %d exceeds remaining input",
				wasm.SectionIDName(sectionID), sectionSize)
		}

		if sectionID != wasm.SectionIDCustom {
			if sectionID <= lastSectionID {
				return nil, fmt.Errorf("section %s out of order", wasm.SectionIDName(sectionID))
			}
			if sectionID > wasm.SectionIDData {
				return nil, fmt.Errorf("invalid section id %d", sectionID)
			}
			lastSectionID = sectionID
		}

		// Every section decodes from its own sub-reader so that a body
		// shorter or longer than the declared size is caught.
		contents := make([]byte, sectionSize)
		if _, err := io.ReadFull(r, contents); err != nil {
			return nil, fmt.Errorf("read section %s: %w", wasm.SectionIDName(sectionID), err)
		}
		sr := bytes.NewReader(contents)

		switch sectionID {
		case wasm.SectionIDCustom:
			err = decodeCustomSection(sr, m)
		case wasm.SectionIDType:
			m.TypeSection, err = decodeTypeSection(sr)
		case wasm.SectionIDImport:
			m.ImportSection, err = decodeImportSection(sr)
		case wasm.SectionIDFunction:
			m.FunctionSection, err = decodeFunctionSection(sr)
		case wasm.SectionIDTable:
			m.TableSection, err = decodeTableSection(sr)
		case wasm.SectionIDMemory:
			m.MemorySection, err = decodeMemorySection(sr)
		case wasm.SectionIDGlobal:
			m.GlobalSection, err = decodeGlobalSection(sr)
		case wasm.SectionIDExport:
			m.ExportSection, err = decodeExportSection(sr)
		case wasm.SectionIDStart:
			m.StartSection, err = decodeStartSection(sr)
		case wasm.SectionIDElement:
			m.ElementSection, err = decodeElementSection(sr)
		case wasm.SectionIDCode:
			m.CodeSection, err = decodeCodeSection(sr)
		case wasm.SectionIDData:
			m.DataSection, err = decodeDataSection(sr)
		}
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", wasm.SectionIDName(sectionID), err)
		}
		if sr.Len() != 0 {
			return nil, fmt.Errorf("section %s size mismatch: %d byte(s) not consumed",
				wasm.SectionIDName(sectionID), sr.Len())
		}
	}

	if len(m.FunctionSection) != len(m.CodeSection) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths: %d and %d",
			len(m.FunctionSection), len(m.CodeSection))
	}
	return m, nil
}
