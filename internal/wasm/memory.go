package wasm

import (
	"encoding/binary"
	"fmt"
)

// MemoryInstance is an allocated linear memory: a byte buffer growing in
// units of MemoryPageSize, bounded by Max and the 2^16-page hard cap.
//
// Interior mutability is confined to loads, stores, Grow and the data
// segment writes during instantiation.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0
type MemoryInstance struct {
	Buffer []byte
	Min    uint32
	Max    *uint32
}

// NewMemoryInstance allocates a zero-initialized memory of memSec.Min pages.
func NewMemoryInstance(memSec *Memory) *MemoryInstance {
	return &MemoryInstance{
		Buffer: make([]byte, uint64(memSec.Min)*uint64(MemoryPageSize)),
		Min:    memSec.Min,
		Max:    memSec.Max,
	}
}

// Pages returns the current size in pages.
func (m *MemoryInstance) Pages() uint32 {
	return uint32(uint64(len(m.Buffer)) >> MemoryPageSizeInBits)
}

// hasSize reports whether the region [offset, offset+width) lies inside the
// buffer. Both operands are already widened to uint64 so the sum cannot wrap.
func (m *MemoryInstance) hasSize(offset uint64, width uint64) bool {
	return offset+width <= uint64(len(m.Buffer))
}

// Region returns the width bytes at offset, or false when the access is out
// of bounds.
func (m *MemoryInstance) Region(offset uint64, width uint64) ([]byte, bool) {
	if !m.hasSize(offset, width) {
		return nil, false
	}
	return m.Buffer[offset : offset+width], true
}

// ReadUint32Le reads a little-endian uint32, reporting ok=false when out of
// bounds.
func (m *MemoryInstance) ReadUint32Le(offset uint32) (uint32, bool) {
	if !m.hasSize(uint64(offset), 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.Buffer[offset:]), true
}

// ReadUint64Le reads a little-endian uint64, reporting ok=false when out of
// bounds.
func (m *MemoryInstance) ReadUint64Le(offset uint32) (uint64, bool) {
	if !m.hasSize(uint64(offset), 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.Buffer[offset:]), true
}

// WriteUint32Le writes a little-endian uint32, reporting ok=false when out
// of bounds.
func (m *MemoryInstance) WriteUint32Le(offset uint32, v uint32) bool {
	if !m.hasSize(uint64(offset), 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.Buffer[offset:], v)
	return true
}

// WriteUint64Le writes a little-endian uint64, reporting ok=false when out
// of bounds.
func (m *MemoryInstance) WriteUint64Le(offset uint32, v uint64) bool {
	if !m.hasSize(uint64(offset), 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.Buffer[offset:], v)
	return true
}

// Read copies out the byte range [offset, offset+count), reporting ok=false
// when out of bounds.
func (m *MemoryInstance) Read(offset, count uint32) ([]byte, bool) {
	if !m.hasSize(uint64(offset), uint64(count)) {
		return nil, false
	}
	out := make([]byte, count)
	copy(out, m.Buffer[offset:])
	return out, true
}

// Write copies data into the buffer at offset, reporting ok=false when out
// of bounds.
func (m *MemoryInstance) Write(offset uint32, data []byte) bool {
	if !m.hasSize(uint64(offset), uint64(len(data))) {
		return false
	}
	copy(m.Buffer[offset:], data)
	return true
}

// Grow extends the buffer by delta pages, returning the previous size in
// pages, or ok=false when the result would exceed the declared maximum or
// the hard cap. A failed grow never traps: memory.grow reports it as -1.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem
func (m *MemoryInstance) Grow(delta uint32) (previous uint32, ok bool) {
	current := m.Pages()
	next := uint64(current) + uint64(delta)
	max := MemoryLimitPages
	if m.Max != nil && *m.Max < max {
		max = *m.Max
	}
	if next > uint64(max) {
		return 0, false
	}
	m.Buffer = append(m.Buffer, make([]byte, uint64(delta)*uint64(MemoryPageSize))...)
	return current, true
}

// String implements fmt.Stringer.
func (m *MemoryInstance) String() string {
	return fmt.Sprintf("memory(%d pages)", m.Pages())
}
