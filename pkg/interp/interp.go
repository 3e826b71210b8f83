// Package interp is a straightforward bytecode interpreter built only from
// the generic operations in package vm. It serves as the fallback executor
// on platforms without a baseline tier, as the oracle for differential
// tests, and as the target of on-stack replacement.
package interp

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"basejit/pkg/bytecode"
	"basejit/pkg/value"
	"basejit/pkg/vm"
)

// Interpreter executes units one instruction at a time.
type Interpreter struct {
	VM *vm.VM

	steps atomic.Uint64
}

func New(v *vm.VM) *Interpreter {
	return &Interpreter{VM: v}
}

// Steps is the number of instructions executed so far.
func (in *Interpreter) Steps() uint64 { return in.steps.Load() }

type activation struct {
	vm    *vm.VM
	unit  *bytecode.Unit
	frame *vm.Frame

	pc     int
	next   int
	done   bool
	result value.Value
}

func (a *activation) get(ins bytecode.Instruction, i int) value.Value {
	return a.frame.Get(ins.Reg(i))
}

func (a *activation) set(ins bytecode.Instruction, i int, v value.Value) {
	a.frame.Set(ins.Reg(i), v)
}

func (a *activation) jump(ins bytecode.Instruction, i int) {
	a.next = ins.Int(i)
}

// Execute implements vm.Executor.
func (in *Interpreter) Execute(u *bytecode.Unit, callee, this value.Value, args []value.Value) (value.Value, error) {
	f := vm.NewFrame(u, callee, this, args)
	defer in.VM.EnterFrame(f)()
	return in.Resume(f, 0)
}

// Resume runs f starting at instruction pc. f must already be registered
// with the VM.
func (in *Interpreter) Resume(f *vm.Frame, pc int) (value.Value, error) {
	u := f.Unit
	if !u.Linked() {
		return value.Empty, errors.AssertionFailedf("unit %s is not linked", u.Name)
	}
	a := &activation{vm: in.VM, unit: u, frame: f, pc: pc}
	var steps uint64
	defer func() { in.steps.Add(steps) }()
	for !a.done {
		if a.pc < 0 || a.pc >= len(u.Instructions) {
			return value.Empty, errors.AssertionFailedf("%s: pc %d out of range", u.Name, a.pc)
		}
		ins := u.Instructions[a.pc]
		h := dispatchTable[ins.Op]
		if h == nil {
			return value.Empty, errors.AssertionFailedf("%s@%d: no handler for %s", u.Name, a.pc, ins.Op)
		}
		a.next = a.pc + 1
		steps++
		if err := h(a, ins); err != nil {
			if !a.unwind(err) {
				return value.Empty, err
			}
			continue
		}
		a.pc = a.next
	}
	return a.result, nil
}

// unwind moves a catchable exception to the innermost handler covering pc.
func (a *activation) unwind(err error) bool {
	e, ok := vm.AsException(err)
	if !ok || e.Uncatchable {
		return false
	}
	h, ok := a.unit.HandlerFor(a.pc)
	if !ok {
		return false
	}
	a.vm.SetPendingException(e)
	a.pc = int(h.Target)
	return true
}
