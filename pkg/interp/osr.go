package interp

import (
	"sync/atomic"

	"basejit/pkg/value"
	"basejit/pkg/vm"
)

// OSRTier is the reference higher tier. It accepts every request and resumes
// the activation in the interpreter right after the instruction that asked.
type OSRTier struct {
	Interpreter *Interpreter

	transfers atomic.Int64
}

func NewOSRTier(in *Interpreter) *OSRTier {
	return &OSRTier{Interpreter: in}
}

// Transfers is the number of activations that moved to this tier.
func (t *OSRTier) Transfers() int64 { return t.transfers.Load() }

// Optimize implements vm.Tierer.
func (t *OSRTier) Optimize(req *vm.OSRRequest) *vm.Continuation {
	return &vm.Continuation{
		Unit:          req.Unit,
		Index:         req.Index,
		Callee:        req.Callee,
		ArgumentCount: req.ArgumentCount,
		Locals:        req.Locals,
		Args:          req.Args,
		Enter:         t.enter,
	}
}

func (t *OSRTier) enter(c *vm.Continuation) (value.Value, error) {
	t.transfers.Add(1)
	this := value.Undefined
	if len(c.Args) > 0 {
		this = c.Args[0]
	}
	var args []value.Value
	if len(c.Args) > 1 {
		args = c.Args[1:]
	}
	f := vm.NewFrame(c.Unit, c.Callee, this, args)
	f.Restore(c.Locals, c.Args)
	f.ArgumentCount = c.ArgumentCount
	defer t.Interpreter.VM.EnterFrame(f)()
	return t.Interpreter.Resume(f, c.Index+1)
}
