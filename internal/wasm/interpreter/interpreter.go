// Package interpreter implements a structured stack machine over the
// decoded instruction tree: frames own label stacks, the topmost label owns
// the active operand stack, and one handler per opcode class drives the
// WebAssembly 1.0 (20191205) execution semantics.
package interpreter

import (
	"fmt"

	"github.com/wainlabs/wain/internal/wasm"
	"github.com/wainlabs/wain/internal/wasmruntime"
)

// DefaultCallStackCeiling bounds the call frame stack. The specification
// requires an implementation-defined limit of at least 1024.
const DefaultCallStackCeiling = 2048

type engine struct {
	callStackCeiling int
}

// NewEngine returns an interpreter-backed wasm.Engine. A non-positive
// callStackCeiling selects DefaultCallStackCeiling.
func NewEngine(callStackCeiling int) wasm.Engine {
	if callStackCeiling <= 0 {
		callStackCeiling = DefaultCallStackCeiling
	}
	return &engine{callStackCeiling: callStackCeiling}
}

// operandStack holds raw value representations: integers unsigned, floats
// by their bit pattern.
type operandStack struct {
	values []uint64
}

func (s *operandStack) push(v uint64) {
	s.values = append(s.values, v)
}

func (s *operandStack) pop() uint64 {
	if len(s.values) == 0 {
		// The validator proves this cannot happen; reaching it is a bug, not
		// a guest error. The panic is recovered at the Call boundary.
		panic(fmt.Errorf("operand stack underflow"))
	}
	v := s.values[len(s.values)-1]
	s.values = s.values[:len(s.values)-1]
	return v
}

func (s *operandStack) peek() uint64 {
	if len(s.values) == 0 {
		panic(fmt.Errorf("operand stack underflow"))
	}
	return s.values[len(s.values)-1]
}

// label is one structured control boundary: the target of br instructions.
// Each label owns its operand stack; the frame's active stack is always the
// topmost label's.
type label struct {
	// arity is how many values a branch to this label carries: the block's
	// result count, or zero for a loop.
	arity int
	// body is the instruction sequence this label executes, ending with end
	// (or else for the consequent of an if).
	body []wasm.Instruction
	// pc indexes the next instruction in body.
	pc int
	// isLoop redirects branches to the start of body instead of past its end.
	isLoop bool

	stack operandStack
}

// callFrame is one function activation: its locals and its label stack.
// labels[0] is the implicit label of the function body itself.
type callFrame struct {
	f      *wasm.FunctionInstance
	locals []uint64
	labels []*label
}

func (frame *callFrame) top() *label {
	return frame.labels[len(frame.labels)-1]
}

// callEngine tracks one invocation: the frame stack and its ceiling.
type callEngine struct {
	engine *engine
	frames []*callFrame
}

// Call implements wasm.Engine.
//
// The function call state machine: a frame is created, runs, and on its
// final end (or return) pops back to the caller; a trap or exhaustion
// discards all in-progress frames and surfaces as the error.
func (e *engine) Call(ctx *wasm.CallContext, f *wasm.FunctionInstance, params ...uint64) (results []uint64, err error) {
	if expected := len(f.Type.Params); len(params) != expected {
		return nil, fmt.Errorf("expected %d params, but passed %d", expected, len(params))
	}
	ce := &callEngine{engine: e}
	defer func() {
		// Operand stack invariant violations surface as errors rather than
		// corrupting state, but they always indicate a validator bug.
		if v := recover(); v != nil {
			err = fmt.Errorf("wasm runtime bug: %v", v)
		}
	}()
	return ce.call(ctx, f, params)
}

func (ce *callEngine) call(ctx *wasm.CallContext, f *wasm.FunctionInstance, params []uint64) ([]uint64, error) {
	if len(ce.frames) >= ce.engine.callStackCeiling {
		return nil, wasmruntime.ErrRuntimeStackOverflow
	}

	if f.Kind == wasm.FunctionKindGo {
		results, err := f.GoFunc(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("host function %s failed: %w", f.Name, err)
		}
		if len(results) != len(f.Type.Results) {
			return nil, fmt.Errorf("host function %s returned %d results, but expected %d",
				f.Name, len(results), len(f.Type.Results))
		}
		return results, nil
	}

	locals := make([]uint64, len(f.Type.Params)+len(f.LocalTypes))
	copy(locals, params)

	frame := &callFrame{
		f:      f,
		locals: locals,
		labels: []*label{{arity: len(f.Type.Results), body: f.Body}},
	}
	ce.frames = append(ce.frames, frame)
	results, err := ce.exec(ctx, frame)
	ce.frames = ce.frames[:len(ce.frames)-1]
	return results, err
}

// exec drives frame to completion, returning the function's result values.
func (ce *callEngine) exec(ctx *wasm.CallContext, frame *callFrame) ([]uint64, error) {
	module := frame.f.Module
	store := ctx.Store()
	for {
		lbl := frame.top()
		instr := &lbl.body[lbl.pc]

		switch op := instr.Opcode; op {
		case wasm.OpcodeUnreachable:
			return nil, wasmruntime.ErrRuntimeUnreachable

		case wasm.OpcodeNop:
			lbl.pc++

		case wasm.OpcodeBlock:
			lbl.pc++
			frame.labels = append(frame.labels, &label{
				arity: instr.BlockResultArity(),
				body:  instr.Body,
			})

		case wasm.OpcodeLoop:
			lbl.pc++
			// A branch to a loop label re-enters the loop body with no values.
			frame.labels = append(frame.labels, &label{
				arity:  0,
				body:   instr.Body,
				isLoop: true,
			})

		case wasm.OpcodeIf:
			cond := lbl.stack.pop()
			lbl.pc++
			body := instr.Body
			if cond == 0 {
				if instr.Else == nil {
					// No alternate: an if with a result type always has one,
					// so falling through is complete.
					continue
				}
				body = instr.Else
			}
			frame.labels = append(frame.labels, &label{
				arity: instr.BlockResultArity(),
				body:  body,
			})

		case wasm.OpcodeElse, wasm.OpcodeEnd:
			// The consequent's trailing else ends its label exactly like end.
			vals := lbl.stack.values
			frame.labels = frame.labels[:len(frame.labels)-1]
			if len(frame.labels) == 0 {
				// End of the function body: transition to RETURNING.
				return vals, nil
			}
			parent := frame.top()
			parent.stack.values = append(parent.stack.values, vals...)

		case wasm.OpcodeBr:
			if done, results := frame.branch(instr.U32); done {
				return results, nil
			}

		case wasm.OpcodeBrIf:
			if lbl.stack.pop() != 0 {
				if done, results := frame.branch(instr.U32); done {
					return results, nil
				}
			} else {
				lbl.pc++
			}

		case wasm.OpcodeBrTable:
			index := uint32(lbl.stack.pop())
			target := instr.U32
			if uint64(index) < uint64(len(instr.Labels)) {
				target = instr.Labels[index]
			}
			if done, results := frame.branch(target); done {
				return results, nil
			}

		case wasm.OpcodeReturn:
			arity := len(frame.f.Type.Results)
			return frame.popResults(arity), nil

		case wasm.OpcodeCall:
			addr := module.Functions[instr.U32]
			if err := ce.invoke(ctx, frame, store.Function(addr)); err != nil {
				return nil, err
			}

		case wasm.OpcodeCallIndirect:
			elemIdx := uint32(lbl.stack.pop())
			table := module.TableInst
			addr, ok := table.Elem(elemIdx)
			if !ok {
				return nil, wasmruntime.ErrRuntimeInvalidTableAccess
			}
			target := store.Function(addr)
			expected := module.Types[instr.U32]
			if !target.Type.EqualsSignature(expected.Params, expected.Results) {
				return nil, wasmruntime.ErrRuntimeIndirectCallTypeMismatch
			}
			if err := ce.invoke(ctx, frame, target); err != nil {
				return nil, err
			}

		case wasm.OpcodeDrop:
			lbl.stack.pop()
			lbl.pc++

		case wasm.OpcodeSelect:
			cond := lbl.stack.pop()
			v2 := lbl.stack.pop()
			v1 := lbl.stack.pop()
			if cond != 0 {
				lbl.stack.push(v1)
			} else {
				lbl.stack.push(v2)
			}
			lbl.pc++

		case wasm.OpcodeLocalGet:
			lbl.stack.push(frame.locals[instr.U32])
			lbl.pc++

		case wasm.OpcodeLocalSet:
			frame.locals[instr.U32] = lbl.stack.pop()
			lbl.pc++

		case wasm.OpcodeLocalTee:
			frame.locals[instr.U32] = lbl.stack.peek()
			lbl.pc++

		case wasm.OpcodeGlobalGet:
			g := store.Global(module.Globals[instr.U32])
			lbl.stack.push(g.Val)
			lbl.pc++

		case wasm.OpcodeGlobalSet:
			g := store.Global(module.Globals[instr.U32])
			g.Val = lbl.stack.pop()
			lbl.pc++

		case wasm.OpcodeMemorySize:
			lbl.stack.push(uint64(module.MemoryInst.Pages()))
			lbl.pc++

		case wasm.OpcodeMemoryGrow:
			delta := uint32(lbl.stack.pop())
			if previous, ok := module.MemoryInst.Grow(delta); ok {
				lbl.stack.push(uint64(previous))
			} else {
				// A failed grow is not a trap: it pushes -1 as an i32.
				lbl.stack.push(uint64(uint32(0xffffffff)))
			}
			lbl.pc++

		case wasm.OpcodeI32Load, wasm.OpcodeI64Load, wasm.OpcodeF32Load, wasm.OpcodeF64Load,
			wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U,
			wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
			wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U:
			if err := execLoad(module.MemoryInst, instr, &lbl.stack); err != nil {
				return nil, err
			}
			lbl.pc++

		case wasm.OpcodeI32Store, wasm.OpcodeI64Store, wasm.OpcodeF32Store, wasm.OpcodeF64Store,
			wasm.OpcodeI32Store8, wasm.OpcodeI32Store16,
			wasm.OpcodeI64Store8, wasm.OpcodeI64Store16, wasm.OpcodeI64Store32:
			if err := execStore(module.MemoryInst, instr, &lbl.stack); err != nil {
				return nil, err
			}
			lbl.pc++

		case wasm.OpcodeI32Const, wasm.OpcodeI64Const, wasm.OpcodeF32Const, wasm.OpcodeF64Const:
			lbl.stack.push(instr.U64)
			lbl.pc++

		default:
			if err := execNumeric(op, &lbl.stack); err != nil {
				return nil, err
			}
			lbl.pc++
		}
	}
}

// invoke pops the callee's arguments from the active stack, calls it, and
// pushes its results back.
func (ce *callEngine) invoke(ctx *wasm.CallContext, frame *callFrame, f *wasm.FunctionInstance) error {
	lbl := frame.top()
	paramCount := len(f.Type.Params)
	params := make([]uint64, paramCount)
	for i := paramCount - 1; i >= 0; i-- {
		params[i] = lbl.stack.pop()
	}
	// Host functions see the calling module's context, so they can reach the
	// importer's memory; wasm callees execute against their own module.
	callCtx := ctx
	if f.Kind == wasm.FunctionKindWasm && f.Module != frame.f.Module {
		callCtx = ctx.WithModule(f.Module)
	}
	results, err := ce.call(callCtx, f, params)
	if err != nil {
		return err
	}
	lbl.stack.values = append(lbl.stack.values, results...)
	lbl.pc++
	return nil
}

// branch transfers control to label l, carrying its arity values. It
// returns done=true with the carried values when the branch leaves the
// function body, which happens when l targets the implicit bottom label.
func (frame *callFrame) branch(l uint32) (done bool, results []uint64) {
	targetIdx := len(frame.labels) - 1 - int(l)
	target := frame.labels[targetIdx]

	carried := frame.popResults(target.arity)

	if target.isLoop {
		// Keep the loop label, reset it, and resume at the start of its body.
		frame.labels = frame.labels[:targetIdx+1]
		target.stack.values = target.stack.values[:0]
		target.stack.values = append(target.stack.values, carried...)
		target.pc = 0
		return false, nil
	}

	frame.labels = frame.labels[:targetIdx]
	if len(frame.labels) == 0 {
		return true, carried
	}
	parent := frame.top()
	parent.stack.values = append(parent.stack.values, carried...)
	return false, nil
}

// popResults removes the top n values of the active stack, preserving order.
func (frame *callFrame) popResults(n int) []uint64 {
	if n == 0 {
		return nil
	}
	stack := &frame.top().stack
	results := make([]uint64, n)
	for i := n - 1; i >= 0; i-- {
		results[i] = stack.pop()
	}
	return results
}
