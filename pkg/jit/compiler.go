package jit

import (
	"fmt"
	"unsafe"

	"basejit/pkg/bytecode"
	jiterrors "basejit/pkg/errors"
	"basejit/pkg/value"
	"basejit/pkg/vm"
)

// Options tune code generation. The zero value is usable.
type Options struct {
	// TierUp enables the counter checks in enter and loop_hint.
	TierUp bool
	// LoopIncrement and EntryIncrement are added to the unit's execute
	// counter per loop_hint and per invocation.
	LoopIncrement  int32
	EntryIncrement int32
}

const (
	DefaultLoopIncrement  = 1
	DefaultEntryIncrement = 15
)

func (o Options) withDefaults() Options {
	if o.LoopIncrement <= 0 {
		o.LoopIncrement = DefaultLoopIncrement
	}
	if o.EntryIncrement <= 0 {
		o.EntryIncrement = DefaultEntryIncrement
	}
	return o
}

// Code is the product of one compilation. Offsets are relative to the start
// of Bytes; Address is set once the code is installed.
type Code struct {
	Unit  *bytecode.Unit
	Bytes []byte

	// InstructionOffsets maps each bytecode index to the start of its hot
	// path code. The extra last entry marks the end of the hot path.
	InstructionOffsets []int
	SlowPathOffset     int
	ExitOffset         int
	ExceptionOffset    int

	Sites     []*CallSite
	Patches   []*PatchableSite
	Map       *CodeMap
	SlowCases int

	Address uintptr
}

// AddressOf returns the installed address of code offset off.
func (code *Code) AddressOf(off int) uintptr { return code.Address + uintptr(off) }

// Size is the number of code bytes.
func (code *Code) Size() int { return len(code.Bytes) }

// Compiler turns one unit into machine code in two passes: hot paths in
// instruction order, then the slow paths recorded along the way.
type Compiler struct {
	vm   *vm.VM
	unit *bytecode.Unit
	opts Options
	asm  *Assembler

	labels            []int
	jumps             []jumpRecord
	slowCases         []slowCase
	nextSlowCase      int
	instructionLabels []Label
	exitLabel         Label
	exceptionLabel    Label

	sites   []*CallSite
	patches []*PatchableSite
	codeMap *CodeMap

	index int
	err   error
}

// Compile compiles a linked unit.
func Compile(v *vm.VM, u *bytecode.Unit, opts Options) (*Code, error) {
	if !u.Linked() {
		return nil, jiterrors.CompileErrorf(u.Name, -1, "unit is not linked")
	}
	if err := u.Validate(); err != nil {
		return nil, jiterrors.WrapCompileError(err, u.Name, -1, "invalid unit")
	}
	n := len(u.Instructions)
	c := &Compiler{
		vm:      v,
		unit:    u,
		opts:    opts.withDefaults(),
		asm:     NewAssembler(64 * n),
		codeMap: NewCodeMap(),
	}
	c.instructionLabels = make([]Label, n+1)
	for i := range c.instructionLabels {
		c.instructionLabels[i] = c.newLabel()
	}
	c.exitLabel = c.newLabel()
	c.exceptionLabel = c.newLabel()
	return c.compile()
}

func (c *Compiler) compile() (*Code, error) {
	u := c.unit
	code := &Code{Unit: u}

	c.emitEntryStub()
	code.ExitOffset = c.asm.Offset()
	c.emitExitStub()
	code.ExceptionOffset = c.asm.Offset()
	c.emitExceptionStub()

	// Pass 1: fast paths.
	for i, ins := range u.Instructions {
		c.index = i
		c.bind(c.instructionLabels[i])
		c.codeMap.Add(c.asm.Offset(), i, false)
		gen := hotGenerators[ins.Op]
		if gen == nil {
			return nil, jiterrors.CompileErrorf(u.Name, i, "no generator for %s", ins.Op)
		}
		gen(c, ins)
		if c.err != nil {
			return nil, c.err
		}
	}
	c.bind(c.instructionLabels[len(u.Instructions)])
	c.asm.Int3()

	// Pass 2: slow paths, in instruction order.
	code.SlowPathOffset = c.asm.Offset()
	for i, ins := range u.Instructions {
		if c.bindSlowCases(i) == 0 {
			continue
		}
		c.index = i
		c.codeMap.Add(c.asm.Offset(), i, true)
		gen := slowGenerators[ins.Op]
		if gen == nil {
			return nil, jiterrors.CompileErrorf(u.Name, i, "%s recorded a slow case but has no slow path", ins.Op)
		}
		gen(c, ins)
		if c.err != nil {
			return nil, c.err
		}
	}
	if c.nextSlowCase != len(c.slowCases) {
		sc := c.slowCases[c.nextSlowCase]
		return nil, jiterrors.WrapCompileError(
			jiterrors.Assertf("slow case of instruction %d consumed out of order", sc.index),
			u.Name, sc.index, "slow path linking")
	}
	if err := c.link(); err != nil {
		return nil, err
	}

	code.Bytes = c.asm.Bytes()
	code.InstructionOffsets = make([]int, len(c.instructionLabels))
	for i, l := range c.instructionLabels {
		code.InstructionOffsets[i] = c.offsetOf(l)
	}
	code.Sites = c.sites
	code.Map = c.codeMap
	code.SlowCases = len(c.slowCases)
	code.Patches = c.patches
	return code, nil
}

// fail records the first compile-time fatal condition.
func (c *Compiler) fail(format string, args ...any) {
	if c.err == nil {
		c.err = jiterrors.CompileErrorf(c.unit.Name, c.index, format, args...)
	}
}

// emitEntryStub saves the Go caller's callee-saved registers, loads the
// pinned registers from the context and jumps to Context.Resume with
// Context.Ret in RAX.
func (c *Compiler) emitEntryStub() {
	a := c.asm
	a.Push(RBX)
	a.Push(RBP)
	a.Push(R12)
	a.Push(R13)
	a.Push(R14)
	a.Push(R15)
	c.restoreCalleeSaves()
	a.MovRegMem64(regReturnValue, regContext, ctxRetOffset)
	a.JmpMem(regContext, ctxResumeOffset)
}

// restoreCalleeSaves reloads the frame and tag registers from the context.
func (c *Compiler) restoreCalleeSaves() {
	a := c.asm
	a.MovRegMem64(regFrame, regContext, ctxCalleeSavesOffset)
	a.MovRegMem64(regNumberTag, regContext, ctxCalleeSavesOffset+8)
	a.MovRegMem64(regNotCellMask, regContext, ctxCalleeSavesOffset+16)
}

// emitExitStub returns to the driver with the exit code in EAX.
func (c *Compiler) emitExitStub() {
	c.bind(c.exitLabel)
	a := c.asm
	a.Pop(R15)
	a.Pop(R14)
	a.Pop(R13)
	a.Pop(R12)
	a.Pop(RBP)
	a.Pop(RBX)
	a.Ret()
}

func (c *Compiler) emitExceptionStub() {
	c.bind(c.exceptionLabel)
	c.asm.MovRegImm32(RAX, exitThrow)
	c.jmp(c.exitLabel)
}

// exit leaves generated code with the given exit code.
func (c *Compiler) exit(code uint32) {
	c.asm.MovRegImm32(RAX, code)
	c.jmp(c.exitLabel)
}

// Operand access.

func (c *Compiler) constant(r bytecode.VirtualRegister) value.Value {
	return c.unit.Constant(r)
}

// load materializes r in reg. Constants become immediates.
func (c *Compiler) load(reg Reg, r bytecode.VirtualRegister) {
	if r.IsConstant() {
		c.asm.MovRegConst(reg, c.constant(r).Bits())
		return
	}
	c.asm.MovRegMem64(reg, regFrame, r.FrameOffset())
}

func (c *Compiler) store(r bytecode.VirtualRegister, reg Reg) {
	if r.IsConstant() {
		c.fail("store to constant %s", r)
		return
	}
	c.asm.MovMemReg64(regFrame, r.FrameOffset(), reg)
}

// storeImmediate writes a non-cell value directly.
func (c *Compiler) storeImmediate(r bytecode.VirtualRegister, v value.Value) {
	if int64(v) >= -1<<31 && int64(v) < 1<<31 {
		c.asm.MovMem64Imm32(regFrame, r.FrameOffset(), int32(int64(v)))
		return
	}
	c.asm.MovRegConst(regScratch, v.Bits())
	c.asm.MovMemReg64(regFrame, r.FrameOffset(), regScratch)
}

// moveAddress loads the address of a Go-side profiling record into reg.
func (c *Compiler) moveAddress(reg Reg, addr uintptr) {
	c.asm.MovRegImm64(reg, uint64(addr))
}

// next is the label of the instruction after the current one.
func (c *Compiler) next() Label { return c.instructionLabels[c.index+1] }

// callOperation exits to op with srcs spilled to Context.Args. The code that
// follows runs at the call's continuation with the result in RAX, after the
// pending-exception check.
func (c *Compiler) callOperation(op OperationID, srcs ...bytecode.VirtualRegister) *CallSite {
	if len(srcs) > len(argumentRegisters) {
		c.fail("%s passes %d operands, at most %d fit", op, len(srcs), len(argumentRegisters))
		return newCallSite(c.index, op)
	}
	for i, r := range srcs {
		c.load(argumentRegisters[i], r)
		c.asm.MovMemReg64(regContext, int32(ctxArgsOffset+8*i), argumentRegisters[i])
	}
	site := newCallSite(c.index, op)
	id := len(c.sites)
	c.sites = append(c.sites, site)
	c.asm.MovMemImm32(regContext, ctxSiteOffset, int32(id))
	c.exit(exitCall)
	site.Continuation = c.asm.Offset()
	c.exceptionCheck()
	return site
}

// exceptionCheck branches to the exception stub when an exception is pending.
func (c *Compiler) exceptionCheck() {
	c.moveAddress(regScratch, c.vm.ExceptionAddress())
	c.asm.CmpMem64Imm32(regScratch, 0, 0)
	c.jcc(CondNE, c.exceptionLabel)
}

// boxCondition turns a condition into a boxed boolean in RAX.
func (c *Compiler) boxCondition(cond Cond) {
	c.asm.Setcc(cond, RAX)
	c.asm.MovzxRegReg8(RAX, RAX)
	c.asm.OrReg32Imm(RAX, int32(value.False))
}

// boxInt32 tags the 32-bit integer in the low half of reg, which must be
// zero-extended already.
func (c *Compiler) boxInt32(reg Reg) {
	c.asm.OrRegReg(reg, regNumberTag)
}

// branchIfNotInt32 jumps to l unless reg holds an int32.
func (c *Compiler) branchIfNotInt32(reg Reg, l Label) {
	c.asm.CmpRegReg(reg, regNumberTag)
	c.jcc(CondB, l)
}

// slowIfNotInt32 records a slow case unless reg holds an int32.
func (c *Compiler) slowIfNotInt32(reg Reg) {
	c.asm.CmpRegReg(reg, regNumberTag)
	c.slow(CondB)
}

// slowIfNotCell records slow cases for non-cells and Empty.
func (c *Compiler) slowIfNotCell(reg Reg) {
	c.asm.TestRegReg(reg, regNotCellMask)
	c.slow(CondNE)
	c.asm.TestRegReg(reg, reg)
	c.slow(CondE)
}

// branchIfNotCell jumps to l for non-cells and Empty.
func (c *Compiler) branchIfNotCell(reg Reg, l Label) {
	c.asm.TestRegReg(reg, regNotCellMask)
	c.jcc(CondNE, l)
	c.asm.TestRegReg(reg, reg)
	c.jcc(CondE, l)
}

// int32Operand reports whether r is a constant holding an int32.
func (c *Compiler) int32Operand(r bytecode.VirtualRegister) (int32, bool) {
	if !r.IsConstant() {
		return 0, false
	}
	v := c.constant(r)
	return v.AsInt32(), v.IsInt32()
}

// slowIfNotBothInt32 loads a and b into RAX and RSI and records slow cases
// unless both hold int32. Int32 constants need no check; any other constant
// sends the instruction to its slow path unconditionally.
func (c *Compiler) slowIfNotBothInt32(a, b bytecode.VirtualRegister) {
	c.load(RAX, a)
	c.load(RSI, b)
	_, aInt := c.int32Operand(a)
	_, bInt := c.int32Operand(b)
	switch {
	case (a.IsConstant() && !aInt) || (b.IsConstant() && !bInt):
		c.slowJmp()
	case aInt && bInt:
	case aInt:
		c.slowIfNotInt32(RSI)
	case bInt:
		c.slowIfNotInt32(RAX)
	default:
		c.asm.MovRegReg(regScratch, RAX)
		c.asm.AndRegReg(regScratch, RSI)
		c.slowIfNotInt32(regScratch)
	}
}

// branchOnResult jumps to target when the operation in RAX reported True,
// otherwise continues with the next instruction.
func (c *Compiler) branchOnResult(target int) {
	c.asm.CmpRegImm32(RAX, int32(value.True))
	c.jccTo(CondE, target)
	c.jmp(c.next())
}

// counterCheck adds increment to the unit's execute counter and records a
// slow case once it turns non-negative.
func (c *Compiler) counterCheck(increment int32) {
	if !c.opts.TierUp {
		return
	}
	c.moveAddress(regScratch, c.counterAddress())
	c.asm.AddMem32Imm(regScratch, 0, increment)
	c.slow(CondNS)
}

func (c *Compiler) counterAddress() uintptr {
	return uintptr(unsafe.Pointer(&c.unit.ExecuteCounter))
}

// emitOptimizeSlowPath asks for a higher tier. True means a continuation is
// ready and the activation leaves through exitOSR.
func (c *Compiler) emitOptimizeSlowPath() {
	c.callOperation(OperationOptimize)
	c.asm.CmpRegImm32(RAX, int32(value.True))
	c.jcc(CondNE, c.next())
	c.exit(exitOSR)
}

func (c *Compiler) String() string {
	return fmt.Sprintf("compiler(%s@%d)", c.unit.Name, c.index)
}
