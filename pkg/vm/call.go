package vm

import (
	"github.com/cockroachdb/errors"

	"basejit/pkg/heap"
	"basejit/pkg/value"
)

// HostFunc is a built-in implemented in Go.
type HostFunc func(vm *VM, this value.Value, args []value.Value) (value.Value, error)

type hostFunction struct {
	name string
	call HostFunc
	// construct is nil for host functions that are not constructors.
	construct HostFunc
}

// NewHostFunction wraps fn as a callable function value.
func (vm *VM) NewHostFunction(name string, arity int, fn HostFunc) (value.Value, error) {
	return vm.newHost(name, arity, fn, nil)
}

// NewHostConstructor is NewHostFunction for functions usable with construct.
func (vm *VM) NewHostConstructor(name string, arity int, call, construct HostFunc) (value.Value, error) {
	return vm.newHost(name, arity, call, construct)
}

func (vm *VM) newHost(name string, arity int, call, construct HostFunc) (value.Value, error) {
	index := uint32(len(vm.hostFuncs))
	vm.hostFuncs = append(vm.hostFuncs, hostFunction{name: name, call: call, construct: construct})
	cell, err := vm.Heap.NewFunction(vm.hostStructure, index, FunctionKindHost)
	if err != nil {
		return value.Empty, err
	}
	fn := value.FromCell(cell)
	if err := vm.defineFunctionMetadata(fn, name, arity); err != nil {
		return value.Empty, err
	}
	return fn, nil
}

func (vm *VM) enterCall() error {
	vm.depth++
	if vm.depth > vm.opts.MaxCallDepth {
		vm.depth--
		return vm.uncatchable(ErrorKindStackOverflow, "maximum call stack size exceeded")
	}
	return nil
}

func (vm *VM) leaveCall() { vm.depth-- }

// Depth is the number of active calls.
func (vm *VM) Depth() int { return vm.depth }

// Call invokes callee with the given receiver and arguments.
func (vm *VM) Call(callee, this value.Value, args []value.Value) (value.Value, error) {
	if !vm.IsFunction(callee) {
		return value.Empty, vm.TypeError("%s is not a function", vm.Display(callee))
	}
	if err := vm.enterCall(); err != nil {
		return value.Empty, err
	}
	defer vm.leaveCall()

	cell := callee.AsCell()
	exec := vm.Heap.FunctionExecutable(cell)
	if vm.Heap.FunctionKind(cell) == FunctionKindHost {
		return vm.hostFuncs[exec].call(vm, this, args)
	}
	u, ok := vm.Unit(exec)
	if !ok {
		return value.Empty, errors.AssertionFailedf("function refers to missing unit %d", exec)
	}
	if vm.Executor == nil {
		return value.Empty, errors.New("vm has no executor")
	}
	return vm.Executor.Execute(u, callee, this, args)
}

// Construct implements construct: a fresh receiver whose prototype is the
// callee's, replaced by the callee's result when that is an object.
func (vm *VM) Construct(callee value.Value, args []value.Value) (value.Value, error) {
	if !vm.IsFunction(callee) {
		return value.Empty, vm.TypeError("%s is not a constructor", vm.Display(callee))
	}
	cell := callee.AsCell()
	switch vm.Heap.FunctionKind(cell) {
	case FunctionKindArrow:
		return value.Empty, vm.TypeError("%s is not a constructor", vm.Display(callee))
	case FunctionKindHost:
		h := vm.hostFuncs[vm.Heap.FunctionExecutable(cell)]
		if h.construct == nil {
			return value.Empty, vm.TypeError("%s is not a constructor", h.name)
		}
		if err := vm.enterCall(); err != nil {
			return value.Empty, err
		}
		defer vm.leaveCall()
		return h.construct(vm, value.Undefined, args)
	}
	this, err := vm.CreateThis(callee, heap.DefaultInlineCapacity, nil)
	if err != nil {
		return value.Empty, err
	}
	r, err := vm.Call(callee, this, args)
	if err != nil {
		return value.Empty, err
	}
	if vm.IsObject(r) {
		return r, nil
	}
	return this, nil
}
