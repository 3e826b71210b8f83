package vm

import (
	"fmt"

	"basejit/pkg/value"
)

// ErrorKind selects the constructor name of a runtime-created error object.
type ErrorKind uint8

const (
	ErrorKindError ErrorKind = iota
	ErrorKindType
	ErrorKindRange
	ErrorKindReference
	ErrorKindSyntax
	ErrorKindStackOverflow
	ErrorKindTermination
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindType:
		return "TypeError"
	case ErrorKindRange, ErrorKindStackOverflow:
		return "RangeError"
	case ErrorKindReference:
		return "ReferenceError"
	case ErrorKindSyntax:
		return "SyntaxError"
	case ErrorKindTermination:
		return "TerminationError"
	}
	return "Error"
}

// Exception is a thrown language value. Generic operations return it as an
// error; generated code sees its Cell in the pending-exception slot.
type Exception struct {
	Value       value.Value
	Cell        uintptr
	Uncatchable bool
	Message     string
}

func (e *Exception) Error() string {
	if e.Uncatchable {
		return "uncatchable exception: " + e.Message
	}
	return "uncaught exception: " + e.Message
}

// AsException extracts a language exception from err.
func AsException(err error) (*Exception, bool) {
	e, ok := err.(*Exception)
	return e, ok
}

// Throw wraps v as a catchable exception.
func (vm *VM) Throw(v value.Value) error {
	return vm.newException(v, false)
}

func (vm *VM) newException(v value.Value, uncatchable bool) error {
	cell, err := vm.Heap.NewException(v, uncatchable)
	if err != nil {
		return err
	}
	return &Exception{Value: v, Cell: cell, Uncatchable: uncatchable, Message: vm.Display(v)}
}

func (vm *VM) exceptionFromCell(cell uintptr) *Exception {
	v := vm.Heap.ExceptionValue(cell)
	return &Exception{
		Value:       v,
		Cell:        cell,
		Uncatchable: vm.Heap.ExceptionUncatchable(cell),
		Message:     vm.Display(v),
	}
}

// NewError creates an error object without throwing it.
func (vm *VM) NewError(kind ErrorKind, message string) (value.Value, error) {
	obj, err := vm.NewPlainObject(vm.ErrorPrototype)
	if err != nil {
		return value.Empty, err
	}
	name, err := vm.NewString(kind.String())
	if err != nil {
		return value.Empty, err
	}
	msg, err := vm.NewString(message)
	if err != nil {
		return value.Empty, err
	}
	if err := vm.Heap.PutOwnProperty(obj.AsCell(), "name", name); err != nil {
		return value.Empty, err
	}
	if err := vm.Heap.PutOwnProperty(obj.AsCell(), "message", msg); err != nil {
		return value.Empty, err
	}
	return obj, nil
}

// ThrowError creates and throws an error object of the given kind.
func (vm *VM) ThrowError(kind ErrorKind, format string, args ...any) error {
	v, err := vm.NewError(kind, fmt.Sprintf(format, args...))
	if err != nil {
		return err
	}
	return vm.Throw(v)
}

func (vm *VM) TypeError(format string, args ...any) error {
	return vm.ThrowError(ErrorKindType, format, args...)
}

func (vm *VM) uncatchable(kind ErrorKind, message string) error {
	v, err := vm.NewError(kind, message)
	if err != nil {
		return err
	}
	return vm.newException(v, true)
}
