package vm

import (
	"unsafe"

	"basejit/pkg/bytecode"
	"basejit/pkg/value"
)

// Frame is one activation. Slots holds the arguments in reverse order, then
// the locals; argument i (this is 0) sits at base-1-i and local j at base+j,
// so a virtual register r is always at base+r. Generated code addresses the
// frame through Base, which stays valid for the frame's lifetime.
type Frame struct {
	Unit   *bytecode.Unit
	Callee value.Value
	Slots  []value.Value
	// ArgumentCount is the number of arguments passed, including this.
	ArgumentCount int

	base int
}

// NewFrame lays out an activation of u. Missing parameters and all locals
// start out undefined.
func NewFrame(u *bytecode.Unit, callee, this value.Value, args []value.Value) *Frame {
	argc := 1 + len(args)
	slotsForArgs := argc
	if u.NumParams > slotsForArgs {
		slotsForArgs = u.NumParams
	}
	// One spare slot keeps &Slots[base] valid for units without locals.
	f := &Frame{
		Unit:          u,
		Callee:        callee,
		Slots:         make([]value.Value, slotsForArgs+u.NumLocals+1),
		ArgumentCount: argc,
		base:          slotsForArgs,
	}
	for i := range f.Slots {
		f.Slots[i] = value.Undefined
	}
	f.Slots[f.base-1] = this
	for i, a := range args {
		f.Slots[f.base-2-i] = a
	}
	return f
}

// Get reads r; constants come from the unit's linked pool.
func (f *Frame) Get(r bytecode.VirtualRegister) value.Value {
	if r.IsConstant() {
		return f.Unit.Values[r.ToConstantIndex()]
	}
	return f.Slots[f.base+int(r)]
}

func (f *Frame) Set(r bytecode.VirtualRegister, v value.Value) {
	f.Slots[f.base+int(r)] = v
}

// Base is the address of local 0.
func (f *Frame) Base() uintptr {
	return uintptr(unsafe.Pointer(&f.Slots[f.base]))
}

// Argument returns argument i (0 is this), or undefined when it was not passed.
func (f *Frame) Argument(i int) value.Value {
	if i < 0 || i >= f.ArgumentCount {
		return value.Undefined
	}
	return f.Slots[f.base-1-i]
}

// This returns the receiver.
func (f *Frame) This() value.Value { return f.Slots[f.base-1] }

// Locals returns a copy of the local registers.
func (f *Frame) Locals() []value.Value {
	return append([]value.Value(nil), f.Slots[f.base:f.base+f.Unit.NumLocals]...)
}

// Arguments returns a copy of every argument slot, this first.
func (f *Frame) Arguments() []value.Value {
	out := make([]value.Value, f.base)
	for i := range out {
		out[i] = f.Slots[f.base-1-i]
	}
	return out
}

// Restore overwrites locals and argument slots from a snapshot.
func (f *Frame) Restore(locals, args []value.Value) {
	copy(f.Slots[f.base:f.base+f.Unit.NumLocals], locals)
	for i := 0; i < len(args) && i < f.base; i++ {
		f.Slots[f.base-1-i] = args[i]
	}
}

// Range returns count consecutive locals starting at first.
func (f *Frame) Range(first bytecode.VirtualRegister, count int) []value.Value {
	if count <= 0 {
		return nil
	}
	start := f.base + int(first)
	return append([]value.Value(nil), f.Slots[start:start+count]...)
}

// InitializeLocals implements enter: every local becomes undefined.
func (f *Frame) InitializeLocals() {
	for i := 0; i < f.Unit.NumLocals; i++ {
		f.Slots[f.base+i] = value.Undefined
	}
}
