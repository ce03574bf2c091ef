package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryInstance_Grow(t *testing.T) {
	t.Run("within max", func(t *testing.T) {
		two := uint32(2)
		m := NewMemoryInstance(&Memory{Min: 1, Max: &two})
		require.Equal(t, uint32(1), m.Pages())

		previous, ok := m.Grow(1)
		require.True(t, ok)
		require.Equal(t, uint32(1), previous)
		require.Equal(t, uint32(2), m.Pages())

		// Growing by zero still reports the current size.
		previous, ok = m.Grow(0)
		require.True(t, ok)
		require.Equal(t, uint32(2), previous)
	})

	t.Run("over max fails without mutating", func(t *testing.T) {
		two := uint32(2)
		m := NewMemoryInstance(&Memory{Min: 1, Max: &two})
		_, ok := m.Grow(2)
		require.False(t, ok)
		require.Equal(t, uint32(1), m.Pages())
	})

	t.Run("no max is capped by the hard limit", func(t *testing.T) {
		m := NewMemoryInstance(&Memory{Min: 0})
		_, ok := m.Grow(MemoryLimitPages + 1)
		require.False(t, ok)

		previous, ok := m.Grow(1)
		require.True(t, ok)
		require.Equal(t, uint32(0), previous)
	})
}

func TestMemoryInstance_ReadWrite(t *testing.T) {
	m := NewMemoryInstance(&Memory{Min: 1})

	require.True(t, m.WriteUint32Le(0, 0x11223344))
	v32, ok := m.ReadUint32Le(0)
	require.True(t, ok)
	require.Equal(t, uint32(0x11223344), v32)

	// Little-endian: the low byte is first.
	require.Equal(t, byte(0x44), m.Buffer[0])

	require.True(t, m.WriteUint64Le(8, 0x1122334455667788))
	v64, ok := m.ReadUint64Le(8)
	require.True(t, ok)
	require.Equal(t, uint64(0x1122334455667788), v64)

	require.True(t, m.Write(16, []byte{1, 2, 3}))
	buf, ok := m.Read(16, 3)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3}, buf)

	t.Run("out of bounds", func(t *testing.T) {
		size := uint32(len(m.Buffer))
		require.False(t, m.WriteUint32Le(size-3, 1))
		_, ok := m.ReadUint32Le(size - 3)
		require.False(t, ok)
		require.False(t, m.Write(size-2, []byte{1, 2, 3}))
		_, ok = m.Read(size-2, 3)
		require.False(t, ok)

		// The last in-bounds access of each width succeeds.
		require.True(t, m.WriteUint32Le(size-4, 1))
		require.True(t, m.WriteUint64Le(size-8, 1))
	})

	t.Run("region widens before the bounds check", func(t *testing.T) {
		_, ok := m.Region(uint64(0xffffffff)+1, 4)
		require.False(t, ok)
	})
}

func TestTableInstance_Elem(t *testing.T) {
	table := newTableInstance(&Table{Min: 3})
	require.Len(t, table.Elems, 3)

	_, ok := table.Elem(0)
	require.False(t, ok) // uninitialized

	addr := FunctionAddr(7)
	table.Elems[1] = &addr
	got, ok := table.Elem(1)
	require.True(t, ok)
	require.Equal(t, addr, got)

	_, ok = table.Elem(3)
	require.False(t, ok) // out of range
}
