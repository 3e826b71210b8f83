package jit

import (
	"math"

	"basejit/pkg/bytecode"
	"basejit/pkg/value"
)

type mathKind uint8

const (
	mathMul mathKind = iota
	mathAdd
	mathSub
)

// mathSnippet emits one binary arithmetic instruction: an int32 path with
// overflow checks, then a double path that profiles its result.
type mathSnippet struct {
	c       *Compiler
	kind    mathKind
	lhs     bytecode.VirtualRegister
	rhs     bytecode.VirtualRegister
	profile *bytecode.ResultProfile
}

func mathGenerator(kind mathKind) generator {
	return func(c *Compiler, ins bytecode.Instruction) {
		s := mathSnippet{
			c:       c,
			kind:    kind,
			lhs:     ins.Reg(1),
			rhs:     ins.Reg(2),
			profile: &c.unit.ResultProfiles[ins.Args[3]],
		}
		done := c.newLabel()
		s.emit(done)
		c.bind(done)
		c.store(ins.Reg(0), RAX)
	}
}

// slowMath calls the generic operation, which also updates the profile.
func slowMath(op OperationID) generator {
	return func(c *Compiler, ins bytecode.Instruction) {
		c.callOperation(op, ins.Reg(1), ins.Reg(2))
		c.store(ins.Reg(0), regReturnValue)
		c.jmp(c.next())
	}
}

func (s *mathSnippet) emit(done Label) {
	c := s.c
	c.load(RAX, s.lhs)
	c.load(RSI, s.rhs)

	notInt := c.newLabel()
	if s.emitInt32(notInt, done) {
		c.bind(notInt)
	}
	s.emitDouble()
}

// emitInt32 emits the int32 path into RCX and boxes it into RAX. It reports
// false when a constant operand rules the path out.
func (s *mathSnippet) emitInt32(notInt, done Label) bool {
	c, a := s.c, s.c.asm
	lk, lInt := c.int32Operand(s.lhs)
	rk, rInt := c.int32Operand(s.rhs)
	if (s.lhs.IsConstant() && !lInt) || (s.rhs.IsConstant() && !rInt) {
		return false
	}
	if !lInt {
		c.branchIfNotInt32(RAX, notInt)
	}
	if !rInt {
		c.branchIfNotInt32(RSI, notInt)
	}

	switch s.kind {
	case mathMul:
		switch {
		case rInt && !lInt && rk > 0:
			a.IMulRegRegImm32x32(RCX, RAX, rk)
			c.slow(CondO)
		case lInt && !rInt && lk > 0:
			a.IMulRegRegImm32x32(RCX, RSI, lk)
			c.slow(CondO)
		default:
			nonZero := c.newLabel()
			a.MovRegReg32(RCX, RAX)
			a.IMulRegReg32(RCX, RSI)
			c.slow(CondO)
			a.TestRegReg32(RCX, RCX)
			c.jcc(CondNE, nonZero)
			// A zero product with a negative operand is -0.
			a.MovRegReg32(regScratch, RAX)
			a.OrRegReg32(regScratch, RSI)
			c.slow(CondS)
			c.bind(nonZero)
		}
	case mathAdd:
		a.MovRegReg32(RCX, RAX)
		a.AddRegReg32(RCX, RSI)
		c.slow(CondO)
	case mathSub:
		a.MovRegReg32(RCX, RAX)
		a.SubRegReg32(RCX, RSI)
		c.slow(CondO)
	}
	a.MovRegReg32(RAX, RCX)
	c.boxInt32(RAX)
	c.jmp(done)
	return true
}

// emitDouble converts both operands to XMM0 and XMM1, computes the result,
// records it in the profile and boxes it into RAX.
func (s *mathSnippet) emitDouble() {
	c, a := s.c, s.c.asm
	if s.profile.Left == bytecode.OperandNeverNumber || s.profile.Right == bytecode.OperandNeverNumber {
		c.slowJmp()
		return
	}
	if !s.loadDouble(XMM0, RAX, s.lhs, s.profile.Left) || !s.loadDouble(XMM1, RSI, s.rhs, s.profile.Right) {
		return
	}
	switch s.kind {
	case mathMul:
		a.Mulsd(XMM0, XMM1)
	case mathAdd:
		a.Addsd(XMM0, XMM1)
	case mathSub:
		a.Subsd(XMM0, XMM1)
	}
	a.MovqRegXmm(RAX, XMM0)
	s.profileDouble()
	a.SubRegReg(RAX, regNumberTag)
}

// loadDouble puts the numeric value of operand r, held boxed in reg, into
// xmm. Non-numbers go to the slow path.
func (s *mathSnippet) loadDouble(xmm XReg, reg Reg, r bytecode.VirtualRegister, typ bytecode.OperandType) bool {
	c, a := s.c, s.c.asm
	if r.IsConstant() {
		v := c.constant(r)
		if !v.IsNumber() {
			c.slowJmp()
			return false
		}
		a.MovRegConst(reg, math.Float64bits(v.AsNumber()))
		a.MovqXmmReg(xmm, reg)
		return true
	}
	isInt, have := c.newLabel(), c.newLabel()
	a.CmpRegReg(reg, regNumberTag)
	c.jcc(CondAE, isInt)
	if typ != bytecode.OperandDefinitelyNumber {
		a.TestRegReg(reg, regNumberTag)
		c.slow(CondE)
	}
	a.AddRegReg(reg, regNumberTag)
	a.MovqXmmReg(xmm, reg)
	c.jmp(have)
	c.bind(isInt)
	a.Cvtsi2sdReg32(xmm, reg)
	c.bind(have)
	return true
}

// profileDouble ORs the classification of the raw double in RAX into the
// result profile.
func (s *mathSnippet) profileDouble() {
	c, a := s.c, s.c.asm
	notNegZero, large, profiled := c.newLabel(), c.newLabel(), c.newLabel()
	c.moveAddress(regScratch, s.profile.Address())
	a.MovRegImm64(RCX, value.NegativeZeroBits)
	a.CmpRegReg(RAX, RCX)
	c.jcc(CondNE, notNegZero)
	a.OrMem32Imm(regScratch, 0, int32(bytecode.NegZeroDouble))
	c.jmp(profiled)
	c.bind(notNegZero)
	a.MovRegReg(RCX, RAX)
	a.ShrRegImm8(RCX, 52)
	a.AndRegImm32(RCX, 0x7ff)
	a.CmpRegImm32(RCX, value.Int52ExponentCutoff)
	c.jcc(CondA, large)
	a.OrMem32Imm(regScratch, 0, int32(bytecode.NonNegZeroDouble))
	c.jmp(profiled)
	c.bind(large)
	a.OrMem32Imm(regScratch, 0, int32(bytecode.NonNegZeroDouble|bytecode.Int52Overflow))
	c.bind(profiled)
}
