package jit

import (
	"basejit/pkg/bytecode"
	"basejit/pkg/heap"
	"basejit/pkg/value"
)

// Property enumeration (for-in).

// slowIfNotEnumerator records slow cases unless reg holds an enumerator cell.
func (c *Compiler) slowIfNotEnumerator(reg Reg) {
	c.slowIfNotCell(reg)
	c.asm.CmpMem8Imm(reg, heap.CellTypeOffset, byte(heap.EnumeratorType))
	c.slow(CondNE)
}

// emitHasStructureProperty: d = true while base keeps the enumerator's
// cached structure
func (c *Compiler) emitHasStructureProperty(ins bytecode.Instruction) {
	a := c.asm
	c.load(RAX, ins.Reg(1))
	c.slowIfNotCell(RAX)
	c.load(RCX, ins.Reg(3))
	c.slowIfNotEnumerator(RCX)
	a.MovRegMem32(RDX, RAX, heap.CellStructureIDOffset)
	a.CmpRegMem32(RDX, RCX, heap.EnumeratorCachedStructureIDOffset)
	c.slow(CondNE)
	a.MovRegImm32(RAX, uint32(value.True))
	c.store(ins.Reg(0), RAX)
}

// emitHasIndexedProperty: d = base has element prop. The structure is
// recorded in the array profile; the test itself is a patchable stub.
func (c *Compiler) emitHasIndexedProperty(ins bytecode.Instruction) {
	a := c.asm
	c.load(RAX, ins.Reg(1))
	c.slowIfNotCell(RAX)
	c.load(RSI, ins.Reg(2))
	c.slowIfNotInt32(RSI)
	a.MovRegMem32(RCX, RAX, heap.CellStructureIDOffset)
	c.moveAddress(regScratch, c.unit.ArrayProfiles[ins.Args[3]].Address())
	a.MovMemReg32(regScratch, 0, RCX)
	c.emitPatchableJump(PatchHasIndexedProperty)
	c.store(ins.Reg(0), RAX)
}

func (c *Compiler) emitSlowHasIndexedProperty(ins bytecode.Instruction) {
	c.emitPatchableSlowPath(ins, OperationHasIndexedPropertyDefault, ins.Reg(1), ins.Reg(2))
}

// emitGetDirectPname: d = base[prop], read straight from slot index while
// base keeps the enumerator's cached structure
func (c *Compiler) emitGetDirectPname(ins bytecode.Instruction) {
	a := c.asm
	outOfLine, done := c.newLabel(), c.newLabel()

	c.load(RAX, ins.Reg(1))
	c.slowIfNotCell(RAX)
	c.load(RCX, ins.Reg(4))
	c.slowIfNotEnumerator(RCX)
	a.MovRegMem32(RDX, RAX, heap.CellStructureIDOffset)
	a.CmpRegMem32(RDX, RCX, heap.EnumeratorCachedStructureIDOffset)
	c.slow(CondNE)
	c.load(RDX, ins.Reg(3))
	c.slowIfNotInt32(RDX)
	a.MovRegReg32(RDX, RDX)
	a.CmpRegMem32(RDX, RCX, heap.EnumeratorEndStructurePropertyOffset)
	c.slow(CondAE)

	a.MovRegMem32(RSI, RCX, heap.EnumeratorCachedInlineCapacityOffset)
	a.CmpRegReg32(RDX, RSI)
	c.jcc(CondAE, outOfLine)
	a.MovRegMemIdx64(RAX, RAX, RDX, heap.ObjectInlineStorageOffset)
	c.jmp(done)

	// Out-of-line slot k lives below the butterfly.
	c.bind(outOfLine)
	a.SubRegReg32(RDX, RSI)
	a.ShlRegImm8(RDX, 3)
	a.MovRegMem64(RAX, RAX, heap.ObjectButterflyOffset)
	a.SubRegReg(RAX, RDX)
	a.MovRegMem64(RAX, RAX, heap.ButterflyFirstPropertyOffset)

	c.bind(done)
	c.recordValue(c.unit.ValueProfiles[ins.Args[5]].Address(), RAX)
	c.store(ins.Reg(0), RAX)
}

// pnameGenerator: d = name index of the enumerator, or null at or past the
// range end stored at endOffset
func pnameGenerator(endOffset int32) generator {
	return func(c *Compiler, ins bytecode.Instruction) {
		a := c.asm
		isNull, done := c.newLabel(), c.newLabel()
		c.load(RAX, ins.Reg(1))
		c.slowIfNotEnumerator(RAX)
		c.load(RSI, ins.Reg(2))
		c.slowIfNotInt32(RSI)
		a.CmpRegMem32(RSI, RAX, endOffset)
		c.jcc(CondAE, isNull)
		a.MovRegMem64(RCX, RAX, heap.EnumeratorCachedPropertyNamesOffset)
		a.MovRegReg32(RDX, RSI)
		a.MovRegMemIdx64(RAX, RCX, RDX, 0)
		c.jmp(done)
		c.bind(isNull)
		a.MovRegImm32(RAX, uint32(value.Null))
		c.bind(done)
		c.store(ins.Reg(0), RAX)
	}
}
