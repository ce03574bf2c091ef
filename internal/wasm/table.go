package wasm

// TableInstance is an allocated table. Elements are optional function
// addresses: nil marks an uninitialized slot, which traps when
// call_indirect reaches it.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#table-instances%E2%91%A0
type TableInstance struct {
	Elems []*FunctionAddr
	Min   uint32
	Max   *uint32
}

func newTableInstance(tableSec *Table) *TableInstance {
	return &TableInstance{
		Elems: make([]*FunctionAddr, tableSec.Min),
		Min:   tableSec.Min,
		Max:   tableSec.Max,
	}
}

// Elem returns the function address at index, or ok=false when the index is
// out of range or the slot is uninitialized.
func (t *TableInstance) Elem(index uint32) (FunctionAddr, bool) {
	if uint64(index) >= uint64(len(t.Elems)) {
		return 0, false
	}
	addr := t.Elems[index]
	if addr == nil {
		return 0, false
	}
	return *addr, true
}
