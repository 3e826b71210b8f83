package jit

import (
	"basejit/pkg/bytecode"
	"basejit/pkg/heap"
	"basejit/pkg/value"
	"basejit/pkg/vm"
)

// Object construction and instanceof.

// emitBumpAllocate takes one cell from the allocator whose address is in
// regScratch. The cell lands in RAX; tmp is clobbered.
func (c *Compiler) emitBumpAllocate(tmp Reg) {
	a := c.asm
	a.MovRegMem64(RAX, regScratch, heap.AllocatorCursorOffset)
	a.MovRegReg(tmp, RAX)
	a.AddRegMem64(tmp, regScratch, heap.AllocatorCellSizeOffset)
	a.CmpRegMem64(tmp, regScratch, heap.AllocatorLimitOffset)
	c.slow(CondA)
	a.MovMemReg64(regScratch, heap.AllocatorCursorOffset, tmp)
}

// emitNewObject: d = new object of the profiled structure
func (c *Compiler) emitNewObject(ins bytecode.Instruction) {
	a := c.asm
	p := &c.unit.AllocationProfiles[ins.Args[2]]
	var s *heap.Structure
	if p.StructureID != 0 {
		s = c.vm.Heap.Structure(p.StructureID)
	}
	if p.Allocator == 0 || s == nil {
		c.callOperation(OperationNewObject)
		c.store(ins.Reg(0), regReturnValue)
		return
	}

	c.asm.MovRegImm64(regScratch, p.Allocator)
	c.emitBumpAllocate(RCX)
	a.MovRegImm64(RCX, heap.HeaderWord(s.ID, s.Indexing, s.Type, s.Flags))
	a.MovMemReg64(RAX, 0, RCX)
	a.XorRegReg32(RCX, RCX)
	a.MovMemReg64(RAX, heap.ObjectButterflyOffset, RCX)
	for i := 0; i < s.InlineCapacity; i++ {
		a.MovMemReg64(RAX, int32(heap.ObjectInlineStorageOffset+8*i), RCX)
	}
	c.store(ins.Reg(0), RAX)
}

// emitCreateThis: d = new instance of callee, allocated from the profile in
// the callee's rare data
func (c *Compiler) emitCreateThis(ins bytecode.Instruction) {
	a := c.asm
	hit := c.newLabel()

	c.load(RAX, ins.Reg(1))
	c.slowIfNotCell(RAX)
	a.CmpMem8Imm(RAX, heap.CellTypeOffset, byte(heap.FunctionType))
	c.slow(CondNE)

	c.moveAddress(regScratch, c.unit.CreateThisCaches[ins.Args[3]].Address())
	a.MovRegMem64(RCX, regScratch, 0)
	a.CmpRegImm32(RCX, int32(bytecode.SeenMultipleCallees))
	c.jcc(CondE, hit)
	a.CmpRegReg(RCX, RAX)
	c.slow(CondNE)
	c.bind(hit)

	a.MovRegMem64(RDX, RAX, heap.FunctionRareDataOffset)
	a.TestRegReg(RDX, RDX)
	c.slow(CondE)
	a.MovRegMem64(regScratch, RDX, heap.RareDataAllocatorOffset)
	a.TestRegReg(regScratch, regScratch)
	c.slow(CondE)
	a.MovRegMem32(RCX, RDX, heap.RareDataStructureIDOffset)
	a.TestRegReg32(RCX, RCX)
	c.slow(CondE)
	a.MovRegMem32(RSI, RDX, heap.RareDataInlineCapacityOffset)

	c.emitBumpAllocate(RDX)

	// Header: the structure ID, then indexing, type and flags from the
	// structure table entry.
	a.MovRegImm64(R8, uint64(c.vm.Heap.StructureTableAddress()))
	a.MovRegReg(R10, RCX)
	a.ShlRegImm8(R10, 4)
	a.AddRegReg(R8, R10)
	a.MovRegMem8(R10, R8, heap.StructureFlagsOffset)
	a.ShlRegImm8(R10, 8)
	a.MovRegMem8(RDX, R8, heap.StructureTypeOffset)
	a.OrRegReg(R10, RDX)
	a.ShlRegImm8(R10, 8)
	a.MovRegMem8(RDX, R8, heap.StructureIndexingOffset)
	a.OrRegReg(R10, RDX)
	a.MovMemReg32(RAX, heap.CellIndexingTypeOffset, R10)
	a.MovMemReg32(RAX, heap.CellStructureIDOffset, RCX)

	loop, zeroed := c.newLabel(), c.newLabel()
	a.XorRegReg32(RDX, RDX)
	a.MovMemReg64(RAX, heap.ObjectButterflyOffset, RDX)
	a.TestRegReg32(RSI, RSI)
	c.jcc(CondE, zeroed)
	c.bind(loop)
	a.SubReg32Imm(RSI, 1)
	a.MovMemIdxReg64(RAX, RSI, heap.ObjectInlineStorageOffset, RDX)
	c.jcc(CondNE, loop)
	c.bind(zeroed)
	c.store(ins.Reg(0), RAX)
}

// emitOverridesHasInstance: d = hasInstance is not the built-in, or ctor lacks
// the default-has-instance flag
func (c *Compiler) emitOverridesHasInstance(ins bytecode.Instruction) {
	a := c.asm
	builtin, ok := c.vm.SpecialPointer(vm.SpecialHasInstanceFunction)
	if !ok {
		c.fail("no built-in hasInstance")
		return
	}
	overridden, done := c.newLabel(), c.newLabel()
	c.load(RSI, ins.Reg(2))
	a.MovRegConst(regScratch, builtin.Bits())
	a.CmpRegReg(RSI, regScratch)
	c.jcc(CondNE, overridden)
	c.load(RAX, ins.Reg(1))
	c.branchIfNotCell(RAX, overridden)
	a.TestMem8Imm(RAX, heap.CellFlagsOffset, byte(heap.ImplementsDefaultHasInstance))
	c.boxCondition(CondE)
	c.jmp(done)
	c.bind(overridden)
	a.MovRegImm32(RAX, uint32(value.True))
	c.bind(done)
	c.store(ins.Reg(0), RAX)
}

// emitPatchableJump emits an aligned jmp rel32 that initially enters the
// instruction's slow path. Stubs installed later jump back to the
// returned site's Done offset with their result in RAX.
func (c *Compiler) emitPatchableJump(kind PatchKind) *PatchableSite {
	c.asm.AlignFor(4, 1)
	at := c.asm.JmpRel32(0)
	c.slowCases = append(c.slowCases, slowCase{index: c.index, at: at})
	p := &PatchableSite{Index: c.index, Kind: kind, Displacement: at}
	c.patches = append(c.patches, p)
	p.Done = c.asm.Offset()
	return p
}

// emitPatchableSlowPath is the slow path behind a patchable jump: a call to
// op whose result is stored in operand 0.
func (c *Compiler) emitPatchableSlowPath(ins bytecode.Instruction, op OperationID, srcs ...bytecode.VirtualRegister) {
	id := -1
	for i := len(c.patches) - 1; i >= 0; i-- {
		if c.patches[i].Index == c.index {
			id = i
			break
		}
	}
	if id < 0 {
		c.fail("%s has no patchable site", ins.Op)
		return
	}
	p := c.patches[id]
	p.Slow = c.asm.Offset()
	p.Site = len(c.sites)
	site := c.callOperation(op, srcs...)
	site.Patch = id
	c.store(ins.Reg(0), regReturnValue)
	c.jmp(c.next())
}

// emitInstanceOf: d = v instanceof proto, through a patchable site keyed on
// v's structure and proto
func (c *Compiler) emitInstanceOf(ins bytecode.Instruction) {
	c.load(RAX, ins.Reg(1))
	c.load(RSI, ins.Reg(2))
	c.slowIfNotCell(RAX)
	c.slowIfNotCell(RSI)
	c.emitPatchableJump(PatchInstanceOf)
	c.store(ins.Reg(0), RAX)
}

func (c *Compiler) emitSlowInstanceOf(ins bytecode.Instruction) {
	c.emitPatchableSlowPath(ins, OperationInstanceOfOptimize, ins.Reg(1), ins.Reg(2))
}
