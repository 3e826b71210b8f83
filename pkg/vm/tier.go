package vm

import (
	"basejit/pkg/bytecode"
	"basejit/pkg/value"
)

// Executor runs a bytecode function. The interpreter and the baseline
// runtime both implement it.
type Executor interface {
	Execute(u *bytecode.Unit, callee, this value.Value, args []value.Value) (value.Value, error)
}

// OSRRequest carries the live state of an activation asking to tier up.
// Index is the instruction that triggered the request.
type OSRRequest struct {
	Unit          *bytecode.Unit
	Index         int
	Callee        value.Value
	ArgumentCount int
	Locals        []value.Value
	Args          []value.Value
}

// Continuation is a higher-tier activation ready to take over. The transfer
// is one-way: the caller returns whatever Enter returns.
type Continuation struct {
	Unit          *bytecode.Unit
	Index         int
	Callee        value.Value
	ArgumentCount int
	Locals        []value.Value
	Args          []value.Value
	Enter         func(c *Continuation) (value.Value, error)
}

// Tierer decides whether an activation moves to a higher tier. Returning nil
// keeps it in the current tier.
type Tierer interface {
	Optimize(req *OSRRequest) *Continuation
}

// Optimize consults the configured tierer. A nil result rearms the unit's
// counter.
func (vm *VM) Optimize(req *OSRRequest) *Continuation {
	if vm.Tierer != nil {
		if c := vm.Tierer.Optimize(req); c != nil {
			return c
		}
	}
	req.Unit.ExecuteCounter = -vm.opts.TierUpThreshold
	return nil
}
