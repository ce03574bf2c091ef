package wasm

import (
	"fmt"
)

// valueTypeUnknown is the polymorphic operand produced by pops in
// unreachable code. It matches any expected type.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#validation-algorithm (appendix)
const valueTypeUnknown = ValueType(0)

// validateFunction type checks the body of the idx-th defined function
// against its declared signature using the abstract operand/control stacks.
//
// The caller passes the full index namespaces built by allDeclarations:
// functions (type index per function), globals, memory and table, imports
// first.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#validation-algorithm
func (m *Module) validateFunction(idx Index, functions []Index, globals []*GlobalType, memory *Memory, table *Table) error {
	typeIdx := m.FunctionSection[idx]
	ft := m.TypeSection[typeIdx]
	code := m.CodeSection[idx]

	localTypes := make([]ValueType, 0, len(ft.Params)+len(code.LocalTypes))
	localTypes = append(localTypes, ft.Params...)
	localTypes = append(localTypes, code.LocalTypes...)

	v := &funcValidator{
		m:          m,
		functions:  functions,
		globals:    globals,
		memory:     memory,
		table:      table,
		localTypes: localTypes,
		returns:    ft.Results,
	}
	// The function body acts as a block whose label and end types are the
	// results, closed by the body's final end.
	v.pushControlFrame(OpcodeBlock, ft.Results, ft.Results)
	if err := v.validateBody(code.Body); err != nil {
		return err
	}
	if len(v.ctrl) != 0 {
		return fmt.Errorf("unbalanced block structure: %d frame(s) left open", len(v.ctrl))
	}
	return nil
}

type controlFrame struct {
	// opcode is the instruction that opened this frame: block, loop, if, or
	// else once the alternate began.
	opcode Opcode
	// labelTypes are the types a branch to this frame must provide: the
	// result types, or nothing for a loop.
	labelTypes []ValueType
	// endTypes are the types the stack must hold when the frame's end executes.
	endTypes []ValueType
	// height is the operand stack length when the frame was entered.
	height int
	// unreachable is set once flow past this point cannot be reached, after
	// which pops produce valueTypeUnknown.
	unreachable bool
}

type funcValidator struct {
	m          *Module
	functions  []Index
	globals    []*GlobalType
	memory     *Memory
	table      *Table
	localTypes []ValueType
	returns    []ValueType

	stack []ValueType
	ctrl  []*controlFrame
}

func (v *funcValidator) pushControlFrame(opcode Opcode, labelTypes, endTypes []ValueType) {
	v.ctrl = append(v.ctrl, &controlFrame{
		opcode:     opcode,
		labelTypes: labelTypes,
		endTypes:   endTypes,
		height:     len(v.stack),
	})
}

func (v *funcValidator) push(t ValueType) {
	v.stack = append(v.stack, t)
}

// popAny pops the operand stack with no expectation, honoring the
// unreachable polymorphism.
func (v *funcValidator) popAny() (ValueType, error) {
	f := v.ctrl[len(v.ctrl)-1]
	if len(v.stack) == f.height {
		if f.unreachable {
			return valueTypeUnknown, nil
		}
		return 0, fmt.Errorf("operand stack underflow")
	}
	t := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	return t, nil
}

func (v *funcValidator) pop(expected ValueType) error {
	actual, err := v.popAny()
	if err != nil {
		return err
	}
	if actual != expected && actual != valueTypeUnknown && expected != valueTypeUnknown {
		return fmt.Errorf("type mismatch: expected %s, but was %s", ValueTypeName(expected), ValueTypeName(actual))
	}
	return nil
}

func (v *funcValidator) popValues(expected []ValueType) error {
	for i := len(expected) - 1; i >= 0; i-- {
		if err := v.pop(expected[i]); err != nil {
			return err
		}
	}
	return nil
}

func (v *funcValidator) pushValues(types []ValueType) {
	v.stack = append(v.stack, types...)
}

// markUnreachable resets the stack to the current frame's height and flags
// it, so that subsequent pops are polymorphic.
func (v *funcValidator) markUnreachable() {
	f := v.ctrl[len(v.ctrl)-1]
	v.stack = v.stack[:f.height]
	f.unreachable = true
}

func (v *funcValidator) label(l uint32) (*controlFrame, error) {
	if int(l) >= len(v.ctrl) {
		return nil, fmt.Errorf("invalid br operation: index out of range %d with %d label(s)", l, len(v.ctrl))
	}
	return v.ctrl[len(v.ctrl)-1-int(l)], nil
}

func blockResultTypes(bt byte) []ValueType {
	if bt == BlockTypeEmpty {
		return nil
	}
	return []ValueType{bt}
}

func (v *funcValidator) validateBody(body []Instruction) error {
	for i := range body {
		instr := &body[i]
		if err := v.validateInstruction(instr); err != nil {
			return fmt.Errorf("%s: %w", OpcodeName(instr.Opcode), err)
		}
	}
	return nil
}

func (v *funcValidator) validateInstruction(instr *Instruction) error {
	switch op := instr.Opcode; op {
	case OpcodeUnreachable:
		v.markUnreachable()
	case OpcodeNop:
	case OpcodeBlock:
		res := blockResultTypes(instr.BlockType)
		v.pushControlFrame(op, res, res)
		return v.validateBody(instr.Body)
	case OpcodeLoop:
		res := blockResultTypes(instr.BlockType)
		// A branch to a loop label re-enters the loop, so it carries no values.
		v.pushControlFrame(op, nil, res)
		return v.validateBody(instr.Body)
	case OpcodeIf:
		if err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		res := blockResultTypes(instr.BlockType)
		v.pushControlFrame(op, res, res)
		if err := v.validateBody(instr.Body); err != nil {
			return err
		}
		if instr.Else != nil {
			return v.validateBody(instr.Else)
		}
	case OpcodeElse:
		f := v.ctrl[len(v.ctrl)-1]
		if f.opcode != OpcodeIf {
			return fmt.Errorf("else must close an if")
		}
		if err := v.checkFrameEnd(f); err != nil {
			return err
		}
		f.opcode = OpcodeElse
		f.unreachable = false
		v.stack = v.stack[:f.height]
	case OpcodeEnd:
		f := v.ctrl[len(v.ctrl)-1]
		if err := v.checkFrameEnd(f); err != nil {
			return err
		}
		if f.opcode == OpcodeIf && len(f.endTypes) != 0 {
			return fmt.Errorf("if without else must have no result")
		}
		v.ctrl = v.ctrl[:len(v.ctrl)-1]
		v.stack = v.stack[:f.height]
		v.pushValues(f.endTypes)
	case OpcodeBr:
		f, err := v.label(instr.U32)
		if err != nil {
			return err
		}
		if err = v.popValues(f.labelTypes); err != nil {
			return err
		}
		v.markUnreachable()
	case OpcodeBrIf:
		f, err := v.label(instr.U32)
		if err != nil {
			return err
		}
		if err = v.pop(ValueTypeI32); err != nil {
			return err
		}
		// The label types stay on the stack for the fall-through.
		if err = v.popValues(f.labelTypes); err != nil {
			return err
		}
		v.pushValues(f.labelTypes)
	case OpcodeBrTable:
		if err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		def, err := v.label(instr.U32)
		if err != nil {
			return err
		}
		for _, l := range instr.Labels {
			f, err := v.label(l)
			if err != nil {
				return err
			}
			if !valueTypesEqual(f.labelTypes, def.labelTypes) {
				return fmt.Errorf("br_table labels must have the same types")
			}
		}
		if err = v.popValues(def.labelTypes); err != nil {
			return err
		}
		v.markUnreachable()
	case OpcodeReturn:
		if err := v.popValues(v.returns); err != nil {
			return err
		}
		v.markUnreachable()
	case OpcodeCall:
		if int(instr.U32) >= len(v.functions) {
			return fmt.Errorf("unknown function %d", instr.U32)
		}
		ft := v.m.TypeSection[v.functions[instr.U32]]
		if err := v.popValues(ft.Params); err != nil {
			return err
		}
		v.pushValues(ft.Results)
	case OpcodeCallIndirect:
		if v.table == nil {
			return fmt.Errorf("table not declared in module")
		}
		if int(instr.U32) >= len(v.m.TypeSection) {
			return fmt.Errorf("unknown type %d", instr.U32)
		}
		if err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		ft := v.m.TypeSection[instr.U32]
		if err := v.popValues(ft.Params); err != nil {
			return err
		}
		v.pushValues(ft.Results)
	case OpcodeDrop:
		_, err := v.popAny()
		return err
	case OpcodeSelect:
		if err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		t1, err := v.popAny()
		if err != nil {
			return err
		}
		t2, err := v.popAny()
		if err != nil {
			return err
		}
		if t1 != t2 && t1 != valueTypeUnknown && t2 != valueTypeUnknown {
			return fmt.Errorf("type mismatch: select operands differ: %s and %s", ValueTypeName(t1), ValueTypeName(t2))
		}
		if t1 == valueTypeUnknown {
			v.push(t2)
		} else {
			v.push(t1)
		}
	case OpcodeLocalGet:
		t, err := v.localType(instr.U32)
		if err != nil {
			return err
		}
		v.push(t)
	case OpcodeLocalSet:
		t, err := v.localType(instr.U32)
		if err != nil {
			return err
		}
		return v.pop(t)
	case OpcodeLocalTee:
		t, err := v.localType(instr.U32)
		if err != nil {
			return err
		}
		if err = v.pop(t); err != nil {
			return err
		}
		v.push(t)
	case OpcodeGlobalGet:
		if int(instr.U32) >= len(v.globals) {
			return fmt.Errorf("unknown global %d", instr.U32)
		}
		v.push(v.globals[instr.U32].ValType)
	case OpcodeGlobalSet:
		if int(instr.U32) >= len(v.globals) {
			return fmt.Errorf("unknown global %d", instr.U32)
		}
		g := v.globals[instr.U32]
		if !g.Mutable {
			return fmt.Errorf("global %d is immutable", instr.U32)
		}
		return v.pop(g.ValType)
	case OpcodeI32Load, OpcodeI64Load, OpcodeF32Load, OpcodeF64Load,
		OpcodeI32Load8S, OpcodeI32Load8U, OpcodeI32Load16S, OpcodeI32Load16U,
		OpcodeI64Load8S, OpcodeI64Load8U, OpcodeI64Load16S, OpcodeI64Load16U,
		OpcodeI64Load32S, OpcodeI64Load32U:
		if err := v.checkMemArg(instr); err != nil {
			return err
		}
		if err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(memoryInstructionValueType(op))
	case OpcodeI32Store, OpcodeI64Store, OpcodeF32Store, OpcodeF64Store,
		OpcodeI32Store8, OpcodeI32Store16, OpcodeI64Store8, OpcodeI64Store16,
		OpcodeI64Store32:
		if err := v.checkMemArg(instr); err != nil {
			return err
		}
		if err := v.pop(memoryInstructionValueType(op)); err != nil {
			return err
		}
		return v.pop(ValueTypeI32)
	case OpcodeMemorySize:
		if v.memory == nil {
			return fmt.Errorf("memory not declared in module")
		}
		v.push(ValueTypeI32)
	case OpcodeMemoryGrow:
		if v.memory == nil {
			return fmt.Errorf("memory not declared in module")
		}
		if err := v.pop(ValueTypeI32); err != nil {
			return err
		}
		v.push(ValueTypeI32)
	case OpcodeI32Const:
		v.push(ValueTypeI32)
	case OpcodeI64Const:
		v.push(ValueTypeI64)
	case OpcodeF32Const:
		v.push(ValueTypeF32)
	case OpcodeF64Const:
		v.push(ValueTypeF64)
	case OpcodeI32Eqz:
		return v.testop(ValueTypeI32)
	case OpcodeI64Eqz:
		return v.testop(ValueTypeI64)
	case OpcodeI32Eq, OpcodeI32Ne, OpcodeI32LtS, OpcodeI32LtU, OpcodeI32GtS,
		OpcodeI32GtU, OpcodeI32LeS, OpcodeI32LeU, OpcodeI32GeS, OpcodeI32GeU:
		return v.relop(ValueTypeI32)
	case OpcodeI64Eq, OpcodeI64Ne, OpcodeI64LtS, OpcodeI64LtU, OpcodeI64GtS,
		OpcodeI64GtU, OpcodeI64LeS, OpcodeI64LeU, OpcodeI64GeS, OpcodeI64GeU:
		return v.relop(ValueTypeI64)
	case OpcodeF32Eq, OpcodeF32Ne, OpcodeF32Lt, OpcodeF32Gt, OpcodeF32Le, OpcodeF32Ge:
		return v.relop(ValueTypeF32)
	case OpcodeF64Eq, OpcodeF64Ne, OpcodeF64Lt, OpcodeF64Gt, OpcodeF64Le, OpcodeF64Ge:
		return v.relop(ValueTypeF64)
	case OpcodeI32Clz, OpcodeI32Ctz, OpcodeI32Popcnt:
		return v.unop(ValueTypeI32)
	case OpcodeI64Clz, OpcodeI64Ctz, OpcodeI64Popcnt:
		return v.unop(ValueTypeI64)
	case OpcodeI32Add, OpcodeI32Sub, OpcodeI32Mul, OpcodeI32DivS, OpcodeI32DivU,
		OpcodeI32RemS, OpcodeI32RemU, OpcodeI32And, OpcodeI32Or, OpcodeI32Xor,
		OpcodeI32Shl, OpcodeI32ShrS, OpcodeI32ShrU, OpcodeI32Rotl, OpcodeI32Rotr:
		return v.binop(ValueTypeI32)
	case OpcodeI64Add, OpcodeI64Sub, OpcodeI64Mul, OpcodeI64DivS, OpcodeI64DivU,
		OpcodeI64RemS, OpcodeI64RemU, OpcodeI64And, OpcodeI64Or, OpcodeI64Xor,
		OpcodeI64Shl, OpcodeI64ShrS, OpcodeI64ShrU, OpcodeI64Rotl, OpcodeI64Rotr:
		return v.binop(ValueTypeI64)
	case OpcodeF32Abs, OpcodeF32Neg, OpcodeF32Ceil, OpcodeF32Floor, OpcodeF32Trunc,
		OpcodeF32Nearest, OpcodeF32Sqrt:
		return v.unop(ValueTypeF32)
	case OpcodeF64Abs, OpcodeF64Neg, OpcodeF64Ceil, OpcodeF64Floor, OpcodeF64Trunc,
		OpcodeF64Nearest, OpcodeF64Sqrt:
		return v.unop(ValueTypeF64)
	case OpcodeF32Add, OpcodeF32Sub, OpcodeF32Mul, OpcodeF32Div, OpcodeF32Min,
		OpcodeF32Max, OpcodeF32Copysign:
		return v.binop(ValueTypeF32)
	case OpcodeF64Add, OpcodeF64Sub, OpcodeF64Mul, OpcodeF64Div, OpcodeF64Min,
		OpcodeF64Max, OpcodeF64Copysign:
		return v.binop(ValueTypeF64)
	case OpcodeI32WrapI64:
		return v.cvtop(ValueTypeI64, ValueTypeI32)
	case OpcodeI32TruncF32S, OpcodeI32TruncF32U:
		return v.cvtop(ValueTypeF32, ValueTypeI32)
	case OpcodeI32TruncF64S, OpcodeI32TruncF64U:
		return v.cvtop(ValueTypeF64, ValueTypeI32)
	case OpcodeI64ExtendI32S, OpcodeI64ExtendI32U:
		return v.cvtop(ValueTypeI32, ValueTypeI64)
	case OpcodeI64TruncF32S, OpcodeI64TruncF32U:
		return v.cvtop(ValueTypeF32, ValueTypeI64)
	case OpcodeI64TruncF64S, OpcodeI64TruncF64U:
		return v.cvtop(ValueTypeF64, ValueTypeI64)
	case OpcodeF32ConvertI32S, OpcodeF32ConvertI32U:
		return v.cvtop(ValueTypeI32, ValueTypeF32)
	case OpcodeF32ConvertI64S, OpcodeF32ConvertI64U:
		return v.cvtop(ValueTypeI64, ValueTypeF32)
	case OpcodeF32DemoteF64:
		return v.cvtop(ValueTypeF64, ValueTypeF32)
	case OpcodeF64ConvertI32S, OpcodeF64ConvertI32U:
		return v.cvtop(ValueTypeI32, ValueTypeF64)
	case OpcodeF64ConvertI64S, OpcodeF64ConvertI64U:
		return v.cvtop(ValueTypeI64, ValueTypeF64)
	case OpcodeF64PromoteF32:
		return v.cvtop(ValueTypeF32, ValueTypeF64)
	case OpcodeI32ReinterpretF32:
		return v.cvtop(ValueTypeF32, ValueTypeI32)
	case OpcodeI64ReinterpretF64:
		return v.cvtop(ValueTypeF64, ValueTypeI64)
	case OpcodeF32ReinterpretI32:
		return v.cvtop(ValueTypeI32, ValueTypeF32)
	case OpcodeF64ReinterpretI64:
		return v.cvtop(ValueTypeI64, ValueTypeF64)
	default:
		return fmt.Errorf("unknown opcode %#x", op)
	}
	return nil
}

// checkFrameEnd requires the stack above the frame's height to equal its
// end types exactly.
func (v *funcValidator) checkFrameEnd(f *controlFrame) error {
	if err := v.popValues(f.endTypes); err != nil {
		return err
	}
	if len(v.stack) != f.height {
		return fmt.Errorf("type mismatch: %d value(s) left on the stack", len(v.stack)-f.height)
	}
	// Restore what popValues consumed; end/else handlers truncate themselves.
	v.pushValues(f.endTypes)
	return nil
}

func (v *funcValidator) localType(idx uint32) (ValueType, error) {
	if int(idx) >= len(v.localTypes) {
		return 0, fmt.Errorf("unknown local %d", idx)
	}
	return v.localTypes[idx], nil
}

func (v *funcValidator) checkMemArg(instr *Instruction) error {
	if v.memory == nil {
		return fmt.Errorf("memory not declared in module")
	}
	if maxAlign := memoryInstructionMaxAlign(instr.Opcode); instr.Align > maxAlign {
		return fmt.Errorf("alignment must not be larger than natural alignment (%d)", maxAlign)
	}
	return nil
}

func (v *funcValidator) unop(t ValueType) error {
	if err := v.pop(t); err != nil {
		return err
	}
	v.push(t)
	return nil
}

func (v *funcValidator) binop(t ValueType) error {
	if err := v.pop(t); err != nil {
		return err
	}
	if err := v.pop(t); err != nil {
		return err
	}
	v.push(t)
	return nil
}

func (v *funcValidator) testop(t ValueType) error {
	if err := v.pop(t); err != nil {
		return err
	}
	v.push(ValueTypeI32)
	return nil
}

func (v *funcValidator) relop(t ValueType) error {
	if err := v.pop(t); err != nil {
		return err
	}
	if err := v.pop(t); err != nil {
		return err
	}
	v.push(ValueTypeI32)
	return nil
}

func (v *funcValidator) cvtop(from, to ValueType) error {
	if err := v.pop(from); err != nil {
		return err
	}
	v.push(to)
	return nil
}

// memoryInstructionValueType returns the type a memory instruction loads or
// stores, ignoring its width on the wire.
func memoryInstructionValueType(op Opcode) ValueType {
	switch op {
	case OpcodeI32Load, OpcodeI32Load8S, OpcodeI32Load8U, OpcodeI32Load16S, OpcodeI32Load16U,
		OpcodeI32Store, OpcodeI32Store8, OpcodeI32Store16:
		return ValueTypeI32
	case OpcodeI64Load, OpcodeI64Load8S, OpcodeI64Load8U, OpcodeI64Load16S, OpcodeI64Load16U,
		OpcodeI64Load32S, OpcodeI64Load32U, OpcodeI64Store, OpcodeI64Store8, OpcodeI64Store16,
		OpcodeI64Store32:
		return ValueTypeI64
	case OpcodeF32Load, OpcodeF32Store:
		return ValueTypeF32
	default: // OpcodeF64Load, OpcodeF64Store
		return ValueTypeF64
	}
}

// memoryInstructionMaxAlign returns log2 of the access width in bytes, the
// largest allowed alignment exponent.
func memoryInstructionMaxAlign(op Opcode) uint32 {
	switch op {
	case OpcodeI32Load8S, OpcodeI32Load8U, OpcodeI64Load8S, OpcodeI64Load8U,
		OpcodeI32Store8, OpcodeI64Store8:
		return 0
	case OpcodeI32Load16S, OpcodeI32Load16U, OpcodeI64Load16S, OpcodeI64Load16U,
		OpcodeI32Store16, OpcodeI64Store16:
		return 1
	case OpcodeI32Load, OpcodeF32Load, OpcodeI64Load32S, OpcodeI64Load32U,
		OpcodeI32Store, OpcodeF32Store, OpcodeI64Store32:
		return 2
	default: // 64-bit access
		return 3
	}
}
