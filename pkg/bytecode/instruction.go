package bytecode

import (
	"fmt"
	"strings"
)

// Instruction is one entry of the stream. Unused argument slots are zero.
type Instruction struct {
	Op   Opcode
	Args [MaxArgs]int32
}

func (ins Instruction) Reg(i int) VirtualRegister { return VirtualRegister(ins.Args[i]) }

func (ins Instruction) Int(i int) int { return int(ins.Args[i]) }

// Target returns the jump target of the first target operand.
func (ins Instruction) Target() (int, bool) {
	for i, k := range ins.Op.Operands() {
		if k == OperandTarget {
			return int(ins.Args[i]), true
		}
	}
	return 0, false
}

// Format renders the instruction with the unit's constants resolved.
func (ins Instruction) Format(u *Unit) string {
	var b strings.Builder
	b.WriteString(ins.Op.String())
	for i, k := range ins.Op.Operands() {
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteString(", ")
		}
		a := ins.Args[i]
		switch k {
		case OperandDst, OperandReg:
			b.WriteString(VirtualRegister(a).String())
		case OperandSrc:
			r := VirtualRegister(a)
			if r.IsConstant() && u != nil && r.ToConstantIndex() < len(u.Constants) {
				fmt.Fprintf(&b, "%s(%s)", r, u.Constants[r.ToConstantIndex()])
			} else {
				b.WriteString(r.String())
			}
		case OperandTarget:
			fmt.Fprintf(&b, "->%d", a)
		case OperandImm:
			fmt.Fprintf(&b, "%d", a)
		case OperandSwitchTable, OperandStringSwitchTable:
			fmt.Fprintf(&b, "table%d", a)
		default:
			fmt.Fprintf(&b, "p%d", a)
		}
	}
	return b.String()
}
