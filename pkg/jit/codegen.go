package jit

import (
	"basejit/pkg/bytecode"
	"basejit/pkg/heap"
	"basejit/pkg/value"
	"basejit/pkg/vm"
)

// Code generation for data movement, control, type queries and conversions.

type generator func(c *Compiler, ins bytecode.Instruction)

var hotGenerators, slowGenerators [bytecode.NumOpcodes]generator

func init() {
	nothing := func(*Compiler, bytecode.Instruction) {}
	hotGenerators = [bytecode.NumOpcodes]generator{
		bytecode.OpNop:                 nothing,
		bytecode.OpIdentityWithProfile: nothing,
		bytecode.OpEnter:               (*Compiler).emitEnter,
		bytecode.OpMov:                 (*Compiler).emitMov,
		bytecode.OpEnd:                 (*Compiler).emitRet,
		bytecode.OpRet:                 (*Compiler).emitRet,
		bytecode.OpJmp:                 (*Compiler).emitJmp,
		bytecode.OpDebug:               generic(OperationDebug, false),
		bytecode.OpArgumentCount:       (*Compiler).emitArgumentCount,
		bytecode.OpGetRestLength:       (*Compiler).emitGetRestLength,
		bytecode.OpGetArgument:         (*Compiler).emitGetArgument,

		bytecode.OpIsEmpty:        (*Compiler).emitIsEmpty,
		bytecode.OpIsUndefined:    (*Compiler).emitIsUndefined,
		bytecode.OpIsBoolean:      (*Compiler).emitIsBoolean,
		bytecode.OpIsNumber:       (*Compiler).emitIsNumber,
		bytecode.OpIsCellWithType: (*Compiler).emitIsCellWithType,
		bytecode.OpIsObject:       (*Compiler).emitIsObject,

		bytecode.OpToPrimitive: (*Compiler).emitToPrimitive,
		bytecode.OpToNumber:    (*Compiler).emitToNumber,
		bytecode.OpToString:    (*Compiler).emitToString,
		bytecode.OpToObject:    (*Compiler).emitToObject,
		bytecode.OpNot:         (*Compiler).emitNot,
		bytecode.OpToThis:      (*Compiler).emitToThis,

		bytecode.OpEq:         eqGenerator(CondE),
		bytecode.OpNeq:        eqGenerator(CondNE),
		bytecode.OpStrictEq:   strictEqGenerator(CondE),
		bytecode.OpNStrictEq:  strictEqGenerator(CondNE),
		bytecode.OpJEq:        jeqGenerator(CondE),
		bytecode.OpJNeq:       jeqGenerator(CondNE),
		bytecode.OpJStrictEq:  jstrictEqGenerator(CondE),
		bytecode.OpJNStrictEq: jstrictEqGenerator(CondNE),
		bytecode.OpEqNull:     eqNullGenerator(false),
		bytecode.OpNeqNull:    eqNullGenerator(true),
		bytecode.OpJEqNull:    (*Compiler).emitJEqNull,
		bytecode.OpJNeqNull:   (*Compiler).emitJNeqNull,
		bytecode.OpJNeqPtr:    (*Compiler).emitJNeqPtr,
		bytecode.OpJFalse:     jboolGenerator(false),
		bytecode.OpJTrue:      jboolGenerator(true),

		bytecode.OpMul:    mathGenerator(mathMul),
		bytecode.OpAdd:    mathGenerator(mathAdd),
		bytecode.OpSub:    mathGenerator(mathSub),
		bytecode.OpInc:    incGenerator(true),
		bytecode.OpDec:    incGenerator(false),
		bytecode.OpLess:   (*Compiler).emitLess,
		bytecode.OpJLess:  jlessGenerator(CondL),
		bytecode.OpJNLess: jlessGenerator(CondGE),

		bytecode.OpNewObject:        (*Compiler).emitNewObject,
		bytecode.OpCreateThis:       (*Compiler).emitCreateThis,
		bytecode.OpNewArray:         generic(OperationNewArray, true),
		bytecode.OpNewArrayWithSize: generic(OperationNewArrayWithSize, true, 1),
		bytecode.OpNewFunc:          generic(OperationNewFunc, true),
		bytecode.OpNewFuncExp:       generic(OperationNewFunc, true),
		bytecode.OpNewRegExp:        generic(OperationNewRegExp, true, 1, 2),
		bytecode.OpSetFunctionName:  generic(OperationSetFunctionName, false, 0, 1),

		bytecode.OpOverridesHasInstance: (*Compiler).emitOverridesHasInstance,
		bytecode.OpInstanceOf:           (*Compiler).emitInstanceOf,
		bytecode.OpInstanceOfCustom:     generic(OperationInstanceOfCustom, true, 1, 2, 3),

		bytecode.OpGetByVal:  generic(OperationGetByVal, true, 1, 2),
		bytecode.OpPutByVal:  generic(OperationPutByVal, false, 0, 1, 2),
		bytecode.OpCall:      generic(OperationCall, true, 1, 2),
		bytecode.OpConstruct: generic(OperationConstruct, true, 1),

		bytecode.OpGetPropertyEnumerator:    generic(OperationGetPropertyEnumerator, true, 1),
		bytecode.OpHasStructureProperty:     (*Compiler).emitHasStructureProperty,
		bytecode.OpHasGenericProperty:       generic(OperationHasGenericProperty, true, 1, 2),
		bytecode.OpHasIndexedProperty:       (*Compiler).emitHasIndexedProperty,
		bytecode.OpGetDirectPname:           (*Compiler).emitGetDirectPname,
		bytecode.OpEnumeratorStructurePname: pnameGenerator(heap.EnumeratorEndStructurePropertyOffset),
		bytecode.OpEnumeratorGenericPname:   pnameGenerator(heap.EnumeratorEndGenericPropertyOffset),

		bytecode.OpThrow:    (*Compiler).emitThrow,
		bytecode.OpCatch:    (*Compiler).emitCatch,
		bytecode.OpCheckTdz: (*Compiler).emitCheckTDZ,

		bytecode.OpSwitchImm:    switchGenerator(OperationSwitchImm),
		bytecode.OpSwitchChar:   switchGenerator(OperationSwitchChar),
		bytecode.OpSwitchString: switchGenerator(OperationSwitchString),

		bytecode.OpProfileType:        (*Compiler).emitProfileType,
		bytecode.OpProfileControlFlow: (*Compiler).emitProfileControlFlow,
		bytecode.OpLoopHint:           (*Compiler).emitLoopHint,
		bytecode.OpCheckTraps:         (*Compiler).emitCheckTraps,
	}

	slowGenerators = [bytecode.NumOpcodes]generator{
		bytecode.OpEnter:    (*Compiler).emitSlowOptimize,
		bytecode.OpLoopHint: (*Compiler).emitSlowOptimize,

		bytecode.OpToPrimitive: slowUnary(OperationToPrimitive, 0, 1),
		bytecode.OpToNumber:    slowUnary(OperationToNumber, 0, 1),
		bytecode.OpToString:    slowUnary(OperationToString, 0, 1),
		bytecode.OpToObject:    slowUnary(OperationToObject, 0, 1),
		bytecode.OpNot:         slowUnary(OperationNot, 0, 1),
		bytecode.OpToThis:      slowUnary(OperationToThis, 0, 0),

		bytecode.OpEq:         slowBinary(OperationEq),
		bytecode.OpNeq:        slowBinary(OperationNeq),
		bytecode.OpStrictEq:   slowBinary(OperationStrictEq),
		bytecode.OpNStrictEq:  slowBinary(OperationNStrictEq),
		bytecode.OpJEq:        slowBranch(OperationJEq, 2, 0, 1),
		bytecode.OpJNeq:       slowBranch(OperationJNeq, 2, 0, 1),
		bytecode.OpJStrictEq:  slowBranch(OperationJStrictEq, 2, 0, 1),
		bytecode.OpJNStrictEq: slowBranch(OperationJNStrictEq, 2, 0, 1),
		bytecode.OpJFalse:     slowBranch(OperationJFalse, 1, 0),
		bytecode.OpJTrue:      slowBranch(OperationJTrue, 1, 0),

		bytecode.OpMul:    slowMath(OperationMul),
		bytecode.OpAdd:    slowMath(OperationAdd),
		bytecode.OpSub:    slowMath(OperationSub),
		bytecode.OpInc:    slowUnary(OperationInc, 0, 0),
		bytecode.OpDec:    slowUnary(OperationDec, 0, 0),
		bytecode.OpLess:   slowBinary(OperationLess),
		bytecode.OpJLess:  slowBranch(OperationJLess, 2, 0, 1),
		bytecode.OpJNLess: slowBranch(OperationJNLess, 2, 0, 1),

		bytecode.OpNewObject:  slowUnary(OperationNewObject, 0),
		bytecode.OpCreateThis: slowUnary(OperationCreateThis, 0, 1),

		bytecode.OpInstanceOf: (*Compiler).emitSlowInstanceOf,

		bytecode.OpHasStructureProperty:     slowBinary(OperationHasStructureProperty),
		bytecode.OpHasIndexedProperty:       (*Compiler).emitSlowHasIndexedProperty,
		bytecode.OpGetDirectPname:           slowBinary(OperationGetDirectPname),
		bytecode.OpEnumeratorStructurePname: slowBinary(OperationEnumeratorStructurePname),
		bytecode.OpEnumeratorGenericPname:   slowBinary(OperationEnumeratorGenericPname),

		bytecode.OpCheckTdz: (*Compiler).emitSlowCheckTDZ,

		bytecode.OpProfileType: slowCall(OperationProcessTypeLog),
		bytecode.OpCheckTraps:  slowCall(OperationHandleTraps),
	}
}

// generic emits an unconditional call to op. srcs are the operand slots
// spilled to the call; the rest are read by the operation from the frame.
// With store set, operand 0 receives the result.
func generic(op OperationID, store bool, srcs ...int) generator {
	return func(c *Compiler, ins bytecode.Instruction) {
		c.callOperation(op, operandRegs(ins, srcs)...)
		if store {
			c.store(ins.Reg(0), regReturnValue)
		}
	}
}

func operandRegs(ins bytecode.Instruction, slots []int) []bytecode.VirtualRegister {
	regs := make([]bytecode.VirtualRegister, len(slots))
	for i, s := range slots {
		regs[i] = ins.Reg(s)
	}
	return regs
}

// slowUnary calls op with the given operand slots, stores the result in
// operand dst and resumes at the next instruction.
func slowUnary(op OperationID, dst int, srcs ...int) generator {
	return func(c *Compiler, ins bytecode.Instruction) {
		c.callOperation(op, operandRegs(ins, srcs)...)
		c.store(ins.Reg(dst), regReturnValue)
		c.jmp(c.next())
	}
}

// slowBinary is slowUnary for d, a, b instructions.
func slowBinary(op OperationID) generator { return slowUnary(op, 0, 1, 2) }

// slowBranch calls a branch operation and jumps to the target in operand
// target when it answers true.
func slowBranch(op OperationID, target int, srcs ...int) generator {
	return func(c *Compiler, ins bytecode.Instruction) {
		c.callOperation(op, operandRegs(ins, srcs)...)
		c.branchOnResult(ins.Int(target))
	}
}

// slowCall calls op for its side effect.
func slowCall(op OperationID) generator {
	return func(c *Compiler, ins bytecode.Instruction) {
		c.callOperation(op)
		c.jmp(c.next())
	}
}

// emitEnter: locals = undefined, then the entry counter
func (c *Compiler) emitEnter(ins bytecode.Instruction) {
	for i := 0; i < c.unit.NumLocals; i++ {
		c.asm.MovMem64Imm32(regFrame, bytecode.Local(i).FrameOffset(), int32(value.Undefined))
	}
	c.counterCheck(c.opts.EntryIncrement)
}

func (c *Compiler) emitSlowOptimize(ins bytecode.Instruction) {
	c.emitOptimizeSlowPath()
}

// emitMov: d = s
func (c *Compiler) emitMov(ins bytecode.Instruction) {
	c.load(regT0, ins.Reg(1))
	c.store(ins.Reg(0), regT0)
}

// emitRet: Context.Ret = s, leave with exitReturn
func (c *Compiler) emitRet(ins bytecode.Instruction) {
	c.load(regReturnValue, ins.Reg(0))
	c.asm.MovMemReg64(regContext, ctxRetOffset, regReturnValue)
	c.exit(exitReturn)
}

func (c *Compiler) emitJmp(ins bytecode.Instruction) {
	c.jumpTo(ins.Int(0))
}

// emitArgumentCount: d = argc - 1
func (c *Compiler) emitArgumentCount(ins bytecode.Instruction) {
	c.asm.MovRegMem32(RAX, regContext, ctxArgumentCountOffset)
	c.asm.SubReg32Imm(RAX, 1)
	c.boxInt32(RAX)
	c.store(ins.Reg(0), RAX)
}

// emitGetRestLength: d = max(argc - 1 - k, 0)
func (c *Compiler) emitGetRestLength(ins bytecode.Instruction) {
	positive := c.newLabel()
	c.asm.MovRegMem32(RAX, regContext, ctxArgumentCountOffset)
	c.asm.SubReg32Imm(RAX, int32(1+ins.Int(1)))
	c.jcc(CondNS, positive)
	c.asm.XorRegReg32(RAX, RAX)
	c.bind(positive)
	c.boxInt32(RAX)
	c.store(ins.Reg(0), RAX)
}

// emitGetArgument: d = argument k, or undefined when it was not passed
func (c *Compiler) emitGetArgument(ins bytecode.Instruction) {
	k := ins.Int(1)
	if k < 0 {
		c.asm.MovRegImm32(RAX, uint32(value.Undefined))
	} else {
		passed, done := c.newLabel(), c.newLabel()
		c.asm.CmpMem32Imm(regContext, ctxArgumentCountOffset, int32(k))
		c.jcc(CondA, passed)
		c.asm.MovRegImm32(RAX, uint32(value.Undefined))
		c.jmp(done)
		c.bind(passed)
		c.asm.MovRegMem64(RAX, regFrame, bytecode.Argument(k).FrameOffset())
		c.bind(done)
	}
	c.recordValue(c.unit.ValueProfiles[ins.Args[2]].Address(), RAX)
	c.store(ins.Reg(0), RAX)
}

// recordValue stores reg into the value profile at addr.
func (c *Compiler) recordValue(addr uintptr, reg Reg) {
	c.moveAddress(regScratch, addr)
	c.asm.MovMemReg64(regScratch, 0, reg)
}

// Type queries.

func (c *Compiler) emitIsEmpty(ins bytecode.Instruction) {
	c.load(RAX, ins.Reg(1))
	c.asm.TestRegReg(RAX, RAX)
	c.boxCondition(CondE)
	c.store(ins.Reg(0), RAX)
}

// emitIsUndefined: cells answer with their masquerade bit
func (c *Compiler) emitIsUndefined(ins bytecode.Instruction) {
	notCell, done := c.newLabel(), c.newLabel()
	c.load(RAX, ins.Reg(1))
	c.branchIfNotCell(RAX, notCell)
	c.asm.TestMem8Imm(RAX, heap.CellFlagsOffset, byte(heap.MasqueradesAsUndefined))
	c.boxCondition(CondNE)
	c.jmp(done)
	c.bind(notCell)
	c.asm.CmpRegImm32(RAX, int32(value.Undefined))
	c.boxCondition(CondE)
	c.bind(done)
	c.store(ins.Reg(0), RAX)
}

// emitIsBoolean: (v ^ false) & ^1 == 0
func (c *Compiler) emitIsBoolean(ins bytecode.Instruction) {
	c.load(RAX, ins.Reg(1))
	c.asm.XorRegImm32(RAX, int32(value.False))
	c.asm.TestRegImm32(RAX, -2)
	c.boxCondition(CondE)
	c.store(ins.Reg(0), RAX)
}

func (c *Compiler) emitIsNumber(ins bytecode.Instruction) {
	c.load(RAX, ins.Reg(1))
	c.asm.TestRegReg(RAX, regNumberTag)
	c.boxCondition(CondNE)
	c.store(ins.Reg(0), RAX)
}

// emitCellTypeTest: d = isCell(s) && type(s) cond k
func (c *Compiler) emitCellTypeTest(ins bytecode.Instruction, cond Cond, k byte) {
	notCell, done := c.newLabel(), c.newLabel()
	c.load(RAX, ins.Reg(1))
	c.branchIfNotCell(RAX, notCell)
	c.asm.CmpMem8Imm(RAX, heap.CellTypeOffset, k)
	c.boxCondition(cond)
	c.jmp(done)
	c.bind(notCell)
	c.asm.MovRegImm32(RAX, uint32(value.False))
	c.bind(done)
	c.store(ins.Reg(0), RAX)
}

func (c *Compiler) emitIsCellWithType(ins bytecode.Instruction) {
	c.emitCellTypeTest(ins, CondE, byte(ins.Args[2]))
}

func (c *Compiler) emitIsObject(ins bytecode.Instruction) {
	c.emitCellTypeTest(ins, CondAE, byte(heap.ObjectType))
}

// Conversions. Each keeps the operand when it already has the target type.

// emitToPrimitive: objects go slow, everything else is already primitive
func (c *Compiler) emitToPrimitive(ins bytecode.Instruction) {
	done := c.newLabel()
	c.load(RAX, ins.Reg(1))
	c.branchIfNotCell(RAX, done)
	c.asm.CmpMem8Imm(RAX, heap.CellTypeOffset, byte(heap.ObjectType))
	c.slow(CondAE)
	c.bind(done)
	c.store(ins.Reg(0), RAX)
}

func (c *Compiler) emitToNumber(ins bytecode.Instruction) {
	c.load(RAX, ins.Reg(1))
	c.asm.TestRegReg(RAX, regNumberTag)
	c.slow(CondE)
	c.recordValue(c.unit.ValueProfiles[ins.Args[2]].Address(), RAX)
	c.store(ins.Reg(0), RAX)
}

func (c *Compiler) emitToString(ins bytecode.Instruction) {
	c.load(RAX, ins.Reg(1))
	c.slowIfNotCell(RAX)
	c.asm.CmpMem8Imm(RAX, heap.CellTypeOffset, byte(heap.StringType))
	c.slow(CondNE)
	c.store(ins.Reg(0), RAX)
}

func (c *Compiler) emitToObject(ins bytecode.Instruction) {
	c.load(RAX, ins.Reg(1))
	c.slowIfNotCell(RAX)
	c.asm.CmpMem8Imm(RAX, heap.CellTypeOffset, byte(heap.ObjectType))
	c.slow(CondB)
	c.recordValue(c.unit.ValueProfiles[ins.Args[2]].Address(), RAX)
	c.store(ins.Reg(0), RAX)
}

// emitNot: booleans flip inline, anything else converts in the slow path
func (c *Compiler) emitNot(ins bytecode.Instruction) {
	c.load(RAX, ins.Reg(1))
	c.asm.XorRegImm32(RAX, int32(value.False))
	c.asm.TestRegImm32(RAX, -2)
	c.slow(CondNE)
	c.asm.XorRegImm32(RAX, int32(value.True))
	c.store(ins.Reg(0), RAX)
}

// emitToThis: the operand stays when its structure is the cached one
func (c *Compiler) emitToThis(ins bytecode.Instruction) {
	c.load(RAX, ins.Reg(0))
	c.slowIfNotCell(RAX)
	c.asm.MovRegMem32(RCX, RAX, heap.CellStructureIDOffset)
	c.moveAddress(regScratch, c.unit.ToThisCaches[ins.Args[1]].Address())
	c.asm.CmpRegMem32(RCX, regScratch, 0)
	c.slow(CondNE)
}

func (c *Compiler) emitThrow(ins bytecode.Instruction) {
	c.callOperation(OperationThrow, ins.Reg(0))
	c.asm.Int3()
}

func (c *Compiler) emitCheckTDZ(ins bytecode.Instruction) {
	c.load(RAX, ins.Reg(0))
	c.asm.TestRegReg(RAX, RAX)
	c.slow(CondE)
}

func (c *Compiler) emitSlowCheckTDZ(ins bytecode.Instruction) {
	c.callOperation(OperationCheckTDZ, ins.Reg(0))
	c.jmp(c.next())
}

// emitCatch: the handler entry. The pending exception moves into the two
// destinations and the slot is cleared.
func (c *Compiler) emitCatch(ins bytecode.Instruction) {
	a := c.asm
	c.restoreCalleeSaves()
	c.moveAddress(regScratch, c.vm.ExceptionAddress())
	a.MovRegMem64(RAX, regScratch, 0)
	a.TestMem32Imm(RAX, heap.ExceptionFlagsOffset, int32(heap.ExceptionUncatchable))
	c.jcc(CondNE, c.exceptionLabel)
	a.MovMem64Imm32(regScratch, 0, 0)
	c.store(ins.Reg(0), RAX)
	a.MovRegMem64(RCX, RAX, heap.ExceptionValueOffset)
	c.store(ins.Reg(1), RCX)

	if c.opts.TierUp {
		stay := c.newLabel()
		c.moveAddress(regScratch, c.counterAddress())
		a.CmpMem32Imm(regScratch, 0, 0)
		c.jcc(CondL, stay)
		c.callOperation(OperationCatchOSR)
		a.CmpRegImm32(RAX, int32(value.True))
		c.jcc(CondNE, stay)
		c.exit(exitOSR)
		c.bind(stay)
	}

	if ins.Args[2] < 0 {
		return
	}
	cp := &c.unit.CatchProfiles[ins.Args[2]]
	for i, r := range cp.Operands {
		c.load(RAX, r)
		c.recordValue(cp.Profiles[i].Address(), RAX)
	}
}

// switchGenerator: the operation answers with the code address to continue at
func switchGenerator(op OperationID) generator {
	return func(c *Compiler, ins bytecode.Instruction) {
		c.callOperation(op, ins.Reg(2))
		c.asm.JmpReg(regReturnValue)
	}
}

// Profiling.

// emitProfileType appends the value to the type profiler log unless it
// matches the type the location saw last when this code was compiled.
func (c *Compiler) emitProfileType(ins bytecode.Instruction) {
	a := c.asm
	loc := &c.unit.TypeLocations[ins.Args[1]]
	next := c.next()

	c.load(RAX, ins.Reg(0))
	a.TestRegReg(RAX, RAX)
	c.jcc(CondE, next)
	switch loc.LastSeen {
	case bytecode.TypeUndefined:
		a.CmpRegImm32(RAX, int32(value.Undefined))
		c.jcc(CondE, next)
	case bytecode.TypeNull:
		a.CmpRegImm32(RAX, int32(value.Null))
		c.jcc(CondE, next)
	case bytecode.TypeBoolean:
		a.MovRegReg(RCX, RAX)
		a.XorRegImm32(RCX, int32(value.False))
		a.TestRegImm32(RCX, -2)
		c.jcc(CondE, next)
	case bytecode.TypeAnyInt:
		a.CmpRegReg(RAX, regNumberTag)
		c.jcc(CondAE, next)
	case bytecode.TypeNumber:
		a.TestRegReg(RAX, regNumberTag)
		c.jcc(CondNE, next)
	}

	log := c.vm.TypeLog()
	noStructure := c.newLabel()
	c.moveAddress(regScratch, log.CursorAddress())
	a.MovRegMem64(RCX, regScratch, 0)
	a.MovMemReg64(RCX, vm.TypeLogEntryValueOffset, RAX)
	a.XorRegReg32(RDX, RDX)
	a.TestRegReg(RAX, regNotCellMask)
	c.jcc(CondNE, noStructure)
	a.MovRegMem32(RDX, RAX, heap.CellStructureIDOffset)
	c.bind(noStructure)
	a.MovMemReg32(RCX, vm.TypeLogEntryStructureIDOff, RDX)
	a.MovRegImm64(RDX, vm.LocationAddress(loc))
	a.MovMemReg64(RCX, vm.TypeLogEntryLocationOffset, RDX)
	a.AddRegImm32(RCX, vm.TypeLogEntrySize)
	a.MovMemReg64(regScratch, 0, RCX)
	a.CmpRegMem64(RCX, regScratch, int32(log.EndAddress()-log.CursorAddress()))
	c.slow(CondAE)
}

// emitProfileControlFlow: lock add [counter], 1
func (c *Compiler) emitProfileControlFlow(ins bytecode.Instruction) {
	c.moveAddress(regScratch, c.unit.BasicBlocks[ins.Args[0]].Address())
	c.asm.LockAddMem64Imm(regScratch, 0, 1)
}

func (c *Compiler) emitLoopHint(ins bytecode.Instruction) {
	c.counterCheck(c.opts.LoopIncrement)
}

// emitCheckTraps: call out while the trap flag is set
func (c *Compiler) emitCheckTraps(ins bytecode.Instruction) {
	c.moveAddress(regScratch, c.vm.TrapAddress())
	c.asm.CmpMem32Imm(regScratch, 0, 0)
	c.slow(CondNE)
}
