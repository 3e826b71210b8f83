package bytecode

import "fmt"

// VirtualRegister names a frame slot. Non-negative values are locals,
// negative values are arguments (-1 is this, -1-i is argument i) and values
// at or above FirstConstantIndex index the constant pool.
type VirtualRegister int32

const FirstConstantIndex VirtualRegister = 1 << 30

// ThisRegister is the receiver slot.
const ThisRegister VirtualRegister = -1

func Local(i int) VirtualRegister { return VirtualRegister(i) }

// Argument returns the register of argument i, where 0 is this.
func Argument(i int) VirtualRegister { return VirtualRegister(-1 - i) }

func ConstantRegister(i int) VirtualRegister { return FirstConstantIndex + VirtualRegister(i) }

func (r VirtualRegister) IsLocal() bool { return r >= 0 && r < FirstConstantIndex }

func (r VirtualRegister) IsArgument() bool { return r < 0 }

func (r VirtualRegister) IsConstant() bool { return r >= FirstConstantIndex }

func (r VirtualRegister) ToLocal() int { return int(r) }

func (r VirtualRegister) ToArgument() int { return int(-1 - r) }

func (r VirtualRegister) ToConstantIndex() int { return int(r - FirstConstantIndex) }

// FrameOffset is the byte offset of r from the frame base.
func (r VirtualRegister) FrameOffset() int32 { return int32(r) * 8 }

func (r VirtualRegister) String() string {
	switch {
	case r.IsConstant():
		return fmt.Sprintf("k%d", r.ToConstantIndex())
	case r == ThisRegister:
		return "this"
	case r.IsArgument():
		return fmt.Sprintf("a%d", r.ToArgument())
	}
	return fmt.Sprintf("r%d", int(r))
}
