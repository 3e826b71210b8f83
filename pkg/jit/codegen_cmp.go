package jit

import (
	"basejit/pkg/bytecode"
	"basejit/pkg/heap"
	"basejit/pkg/value"
	"basejit/pkg/vm"
)

// Comparison, equality and conditional branch code generation

// eqGenerator: d = a == b for int32 operands, loose equality otherwise
func eqGenerator(cond Cond) generator {
	return func(c *Compiler, ins bytecode.Instruction) {
		c.slowIfNotBothInt32(ins.Reg(1), ins.Reg(2))
		c.asm.CmpRegReg(RAX, RSI)
		c.boxCondition(cond)
		c.store(ins.Reg(0), RAX)
	}
}

// jeqGenerator: branch on a == b for int32 operands
func jeqGenerator(cond Cond) generator {
	return func(c *Compiler, ins bytecode.Instruction) {
		c.slowIfNotBothInt32(ins.Reg(0), ins.Reg(1))
		c.asm.CmpRegReg(RAX, RSI)
		c.jccTo(cond, ins.Int(2))
	}
}

// emitStrictEqOperands loads a and b into RAX and RSI and records slow cases
// when both are cells or either is a double. What remains compares by bits.
func (c *Compiler) emitStrictEqOperands(a, b bytecode.VirtualRegister) {
	c.load(RAX, a)
	c.load(RSI, b)
	for i, r := range []bytecode.VirtualRegister{a, b} {
		if r.IsConstant() && c.constant(r).IsDouble() {
			c.slowJmp()
			return
		}
		if r.IsConstant() {
			continue
		}
		reg := []Reg{RAX, RSI}[i]
		notDouble := c.newLabel()
		c.asm.CmpRegReg(reg, regNumberTag)
		c.jcc(CondAE, notDouble)
		c.asm.TestRegReg(reg, regNumberTag)
		c.slow(CondNE)
		c.bind(notDouble)
	}
	c.asm.MovRegReg(regScratch, RAX)
	c.asm.OrRegReg(regScratch, RSI)
	c.asm.TestRegReg(regScratch, regNotCellMask)
	c.slow(CondE)
}

func strictEqGenerator(cond Cond) generator {
	return func(c *Compiler, ins bytecode.Instruction) {
		c.emitStrictEqOperands(ins.Reg(1), ins.Reg(2))
		c.asm.CmpRegReg(RAX, RSI)
		c.boxCondition(cond)
		c.store(ins.Reg(0), RAX)
	}
}

func jstrictEqGenerator(cond Cond) generator {
	return func(c *Compiler, ins bytecode.Instruction) {
		c.emitStrictEqOperands(ins.Reg(0), ins.Reg(1))
		c.asm.CmpRegReg(RAX, RSI)
		c.jccTo(cond, ins.Int(2))
	}
}

// emitNullTest sets the flags so that CondE means "equals null": cells
// test their masquerade bit, other values compare v & ^8 against null.
// It jumps to cell with the flags of the masquerade test inverted
// (CondNE means "equals null") when the operand is a cell.
func (c *Compiler) emitNullTest(r bytecode.VirtualRegister, cell Label) {
	notCell := c.newLabel()
	c.load(RAX, r)
	c.branchIfNotCell(RAX, notCell)
	c.asm.TestMem8Imm(RAX, heap.CellFlagsOffset, byte(heap.MasqueradesAsUndefined))
	c.jmp(cell)
	c.bind(notCell)
	c.asm.AndRegImm32(RAX, ^int32(value.UndefinedTag))
	c.asm.CmpRegImm32(RAX, int32(value.Null))
}

// eqNullGenerator: d = s == null (negate for neq_null)
func eqNullGenerator(negate bool) generator {
	return func(c *Compiler, ins bytecode.Instruction) {
		cell, done := c.newLabel(), c.newLabel()
		isNull, isNullInCell := CondE, CondNE
		if negate {
			isNull, isNullInCell = CondNE, CondE
		}
		c.emitNullTest(ins.Reg(1), cell)
		c.boxCondition(isNull)
		c.jmp(done)
		c.bind(cell)
		c.boxCondition(isNullInCell)
		c.bind(done)
		c.store(ins.Reg(0), RAX)
	}
}

// emitJEqNull: branch when s == null
func (c *Compiler) emitJEqNull(ins bytecode.Instruction) {
	cell := c.newLabel()
	target := ins.Int(1)
	c.emitNullTest(ins.Reg(0), cell)
	c.jccTo(CondE, target)
	c.jmp(c.next())
	c.bind(cell)
	c.jccTo(CondNE, target)
}

// emitJNeqNull: branch when s != null
func (c *Compiler) emitJNeqNull(ins bytecode.Instruction) {
	cell := c.newLabel()
	target := ins.Int(1)
	c.emitNullTest(ins.Reg(0), cell)
	c.jccTo(CondNE, target)
	c.jmp(c.next())
	c.bind(cell)
	c.jccTo(CondE, target)
}

// emitJNeqPtr: branch and raise the site's flag unless s is the special pointer k
func (c *Compiler) emitJNeqPtr(ins bytecode.Instruction) {
	want, ok := c.vm.SpecialPointer(vm.SpecialPointer(ins.Args[1]))
	if !ok {
		c.fail("unknown special pointer %d", ins.Args[1])
		return
	}
	c.load(RAX, ins.Reg(0))
	c.asm.MovRegConst(regScratch, want.Bits())
	c.asm.CmpRegReg(RAX, regScratch)
	c.jcc(CondE, c.next())
	c.moveAddress(regScratch, c.unit.PointerFlags[ins.Args[3]].Address())
	c.asm.MovMemImm32(regScratch, 0, 1)
	c.jumpTo(ins.Int(2))
}

// jboolGenerator: jtrue (onTrue) or jfalse. Booleans, int32, null and
// undefined decide inline; cells, doubles and Empty convert in the slow path.
func jboolGenerator(onTrue bool) generator {
	return func(c *Compiler, ins bytecode.Instruction) {
		a := c.asm
		target := c.instructionLabels[ins.Int(1)]
		truthy, falsy := target, c.next()
		if !onTrue {
			truthy, falsy = falsy, target
		}
		notInt := c.newLabel()

		c.load(RAX, ins.Reg(0))
		a.CmpRegImm32(RAX, int32(value.False))
		c.jcc(CondE, falsy)
		a.CmpRegImm32(RAX, int32(value.True))
		c.jcc(CondE, truthy)
		c.branchIfNotInt32(RAX, notInt)
		a.TestRegReg32(RAX, RAX)
		c.jcc(CondE, falsy)
		c.jmp(truthy)
		c.bind(notInt)
		a.MovRegReg(regScratch, RAX)
		a.AndRegImm32(regScratch, ^int32(value.UndefinedTag))
		a.CmpRegImm32(regScratch, int32(value.Null))
		c.jcc(CondE, falsy)
		c.slowJmp()
	}
}

// incGenerator: d = d + 1 (or d - 1) on int32, overflow goes slow
func incGenerator(increment bool) generator {
	return func(c *Compiler, ins bytecode.Instruction) {
		c.load(RAX, ins.Reg(0))
		c.slowIfNotInt32(RAX)
		if increment {
			c.asm.AddReg32Imm(RAX, 1)
		} else {
			c.asm.SubReg32Imm(RAX, 1)
		}
		c.slow(CondO)
		c.boxInt32(RAX)
		c.store(ins.Reg(0), RAX)
	}
}

// emitLess: d = a < b (signed int32)
func (c *Compiler) emitLess(ins bytecode.Instruction) {
	c.slowIfNotBothInt32(ins.Reg(1), ins.Reg(2))
	c.asm.CmpRegReg32(RAX, RSI)
	c.boxCondition(CondL)
	c.store(ins.Reg(0), RAX)
}

func jlessGenerator(cond Cond) generator {
	return func(c *Compiler, ins bytecode.Instruction) {
		c.slowIfNotBothInt32(ins.Reg(0), ins.Reg(1))
		c.asm.CmpRegReg32(RAX, RSI)
		c.jccTo(cond, ins.Int(2))
	}
}
