package jit

import (
	"encoding/binary"
)

// x86-64 register encoding
type Reg byte

const (
	RAX Reg = 0
	RCX Reg = 1
	RDX Reg = 2
	RBX Reg = 3
	RSP Reg = 4
	RBP Reg = 5
	RSI Reg = 6
	RDI Reg = 7
	R8  Reg = 8
	R9  Reg = 9
	R10 Reg = 10
	R11 Reg = 11
	R12 Reg = 12
	R13 Reg = 13
	R14 Reg = 14
	R15 Reg = 15
)

// XReg is an SSE register.
type XReg byte

const (
	XMM0 XReg = 0
	XMM1 XReg = 1
	XMM2 XReg = 2
)

// Cond is the condition nibble shared by Jcc and SETcc.
type Cond byte

const (
	CondO  Cond = 0x0 // overflow
	CondNO Cond = 0x1
	CondB  Cond = 0x2 // below (unsigned), carry
	CondAE Cond = 0x3
	CondE  Cond = 0x4 // equal, zero
	CondNE Cond = 0x5
	CondBE Cond = 0x6
	CondA  Cond = 0x7
	CondS  Cond = 0x8 // sign
	CondNS Cond = 0x9
	CondL  Cond = 0xC // less (signed)
	CondGE Cond = 0xD
	CondLE Cond = 0xE
	CondG  Cond = 0xF
)

// Invert returns the opposite condition.
func (c Cond) Invert() Cond { return c ^ 1 }

// aluOp is the /digit of the group-1 arithmetic instructions.
type aluOp byte

const (
	aluAdd aluOp = 0
	aluOr  aluOp = 1
	aluAnd aluOp = 4
	aluSub aluOp = 5
	aluXor aluOp = 6
	aluCmp aluOp = 7
)

// Assembler emits x86-64 machine code into a growable buffer.
type Assembler struct {
	buf []byte
}

// NewAssembler creates an assembler with room for sizeHint bytes.
func NewAssembler(sizeHint int) *Assembler {
	return &Assembler{buf: make([]byte, 0, sizeHint)}
}

// Offset returns current write position
func (a *Assembler) Offset() int {
	return len(a.buf)
}

// Bytes returns the assembled code
func (a *Assembler) Bytes() []byte {
	return a.buf
}

// emit appends bytes to the buffer
func (a *Assembler) emit(bytes ...byte) {
	a.buf = append(a.buf, bytes...)
}

// emitUint32 appends a little-endian uint32
func (a *Assembler) emitUint32(v uint32) {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, v)
}

// emitUint64 appends a little-endian uint64
func (a *Assembler) emitUint64(v uint64) {
	a.buf = binary.LittleEndian.AppendUint64(a.buf, v)
}

// emitInt32 appends a little-endian int32
func (a *Assembler) emitInt32(v int32) {
	a.emitUint32(uint32(v))
}

// PutInt32 overwrites the 4 bytes at off.
func (a *Assembler) PutInt32(off int, v int32) {
	binary.LittleEndian.PutUint32(a.buf[off:], uint32(v))
}

// rex builds REX prefix: 0100WRXB
// W=1 for 64-bit operand size
// R=1 if reg field uses R8-R15
// X=1 if SIB index uses R8-R15
// B=1 if rm field uses R8-R15
func rex(w, r, x, b bool) byte {
	var prefix byte = 0x40
	if w {
		prefix |= 0x08
	}
	if r {
		prefix |= 0x04
	}
	if x {
		prefix |= 0x02
	}
	if b {
		prefix |= 0x01
	}
	return prefix
}

// rexW returns REX.W prefix for 64-bit operations
func rexW(reg, rm Reg) byte {
	return rex(true, reg >= 8, false, rm >= 8)
}

// rexOpt emits a REX prefix only when the operation needs one
func (a *Assembler) rexOpt(w bool, reg, rm Reg) {
	if w || reg >= 8 || rm >= 8 {
		a.emit(rex(w, reg >= 8, false, rm >= 8))
	}
}

// modRM builds ModR/M byte: [mod:2][reg:3][rm:3]
// mod should be pre-shifted: 0x00=no disp, 0x40=disp8, 0x80=disp32, 0xC0=register
func modRM(mod byte, reg, rm Reg) byte {
	return mod | ((byte(reg) & 7) << 3) | (byte(rm) & 7)
}

func isInt8(v int32) bool { return v >= -128 && v <= 127 }

// emitMemOperand emits ModR/M and displacement for memory operands
func (a *Assembler) emitMemOperand(reg, base Reg, disp int32) {
	if base == RSP || base == R12 {
		if disp == 0 {
			a.emit(modRM(0x00, reg, RSP), 0x24)
		} else if isInt8(disp) {
			a.emit(modRM(0x40, reg, RSP), 0x24, byte(disp))
		} else {
			a.emit(modRM(0x80, reg, RSP), 0x24)
			a.emitInt32(disp)
		}
	} else if base == RBP || base == R13 {
		if isInt8(disp) {
			a.emit(modRM(0x40, reg, base), byte(disp))
		} else {
			a.emit(modRM(0x80, reg, base))
			a.emitInt32(disp)
		}
	} else if disp == 0 {
		a.emit(modRM(0x00, reg, base))
	} else if isInt8(disp) {
		a.emit(modRM(0x40, reg, base), byte(disp))
	} else {
		a.emit(modRM(0x80, reg, base))
		a.emitInt32(disp)
	}
}

// emitIndexOperand emits ModR/M, SIB and displacement for [base + index*8 + disp].
// index must not be RSP.
func (a *Assembler) emitIndexOperand(reg, base, index Reg, disp int32) {
	sib := byte(0xC0) | ((byte(index) & 7) << 3) | (byte(base) & 7)
	switch {
	case disp == 0 && base != RBP && base != R13:
		a.emit(modRM(0x00, reg, RSP), sib)
	case isInt8(disp):
		a.emit(modRM(0x40, reg, RSP), sib, byte(disp))
	default:
		a.emit(modRM(0x80, reg, RSP), sib)
		a.emitInt32(disp)
	}
}

// MovRegReg: mov dst, src (64-bit)
func (a *Assembler) MovRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x89, modRM(0xC0, src, dst))
}

// MovRegReg32: mov dst32, src32 (zero-extends)
func (a *Assembler) MovRegReg32(dst, src Reg) {
	a.rexOpt(false, src, dst)
	a.emit(0x89, modRM(0xC0, src, dst))
}

// MovRegImm64: mov reg, imm64
func (a *Assembler) MovRegImm64(reg Reg, imm uint64) {
	// REX.W + B8+rd + imm64
	a.emit(rex(true, false, false, reg >= 8), 0xB8|byte(reg&7))
	a.emitUint64(imm)
}

// MovRegImm32: mov reg32, imm32 (zero-extended to 64-bit)
func (a *Assembler) MovRegImm32(reg Reg, imm uint32) {
	a.rexOpt(false, 0, reg)
	a.emit(0xB8 | byte(reg&7))
	a.emitUint32(imm)
}

// MovRegImm32SignExt: mov reg, imm32 (sign-extended to 64-bit)
func (a *Assembler) MovRegImm32SignExt(reg Reg, imm int32) {
	// REX.W + C7 /0 + imm32
	a.emit(rex(true, false, false, reg >= 8), 0xC7, modRM(0xC0, 0, reg))
	a.emitInt32(imm)
}

// MovRegConst loads imm with the shortest encoding.
func (a *Assembler) MovRegConst(reg Reg, imm uint64) {
	switch {
	case imm <= 0xffffffff:
		a.MovRegImm32(reg, uint32(imm))
	case int64(imm) >= -1<<31 && int64(imm) < 1<<31:
		a.MovRegImm32SignExt(reg, int32(int64(imm)))
	default:
		a.MovRegImm64(reg, imm)
	}
}

// MovRegMem64: mov reg, [base + disp32] (64-bit load)
func (a *Assembler) MovRegMem64(reg, base Reg, disp int32) {
	a.emit(rexW(reg, base), 0x8B)
	a.emitMemOperand(reg, base, disp)
}

// MovMemReg64: mov [base + disp32], reg (64-bit store)
func (a *Assembler) MovMemReg64(base Reg, disp int32, reg Reg) {
	a.emit(rexW(reg, base), 0x89)
	a.emitMemOperand(reg, base, disp)
}

// MovRegMemIdx64: mov reg, [base + index*8 + disp] (64-bit load with index)
func (a *Assembler) MovRegMemIdx64(reg, base, index Reg, disp int32) {
	a.emit(rex(true, reg >= 8, index >= 8, base >= 8), 0x8B)
	a.emitIndexOperand(reg, base, index, disp)
}

// MovMemIdxReg64: mov [base + index*8 + disp], reg (64-bit store with index)
func (a *Assembler) MovMemIdxReg64(base, index Reg, disp int32, reg Reg) {
	a.emit(rex(true, reg >= 8, index >= 8, base >= 8), 0x89)
	a.emitIndexOperand(reg, base, index, disp)
}

// MovRegMem32: mov reg32, [base + disp32] (zero-extends to 64-bit)
func (a *Assembler) MovRegMem32(reg, base Reg, disp int32) {
	a.rexOpt(false, reg, base)
	a.emit(0x8B)
	a.emitMemOperand(reg, base, disp)
}

// MovMemReg32: mov dword [base + disp32], reg32
func (a *Assembler) MovMemReg32(base Reg, disp int32, reg Reg) {
	a.rexOpt(false, reg, base)
	a.emit(0x89)
	a.emitMemOperand(reg, base, disp)
}

// MovRegMem8: movzx reg, byte [base + disp32]
func (a *Assembler) MovRegMem8(reg, base Reg, disp int32) {
	a.emit(rexW(reg, base), 0x0F, 0xB6)
	a.emitMemOperand(reg, base, disp)
}

// MovMemImm32: mov dword [base + disp32], imm32
func (a *Assembler) MovMemImm32(base Reg, disp int32, imm int32) {
	a.rexOpt(false, 0, base)
	a.emit(0xC7)
	a.emitMemOperand(0, base, disp)
	a.emitInt32(imm)
}

// MovMem64Imm32: mov qword [base + disp32], imm32 (sign-extended)
func (a *Assembler) MovMem64Imm32(base Reg, disp int32, imm int32) {
	a.emit(rexW(0, base), 0xC7)
	a.emitMemOperand(0, base, disp)
	a.emitInt32(imm)
}

func (a *Assembler) aluRegReg(op aluOp, w bool, dst, src Reg) {
	a.rexOpt(w, src, dst)
	a.emit(byte(op)<<3|0x01, modRM(0xC0, src, dst))
}

func (a *Assembler) aluRegImm(op aluOp, w bool, reg Reg, imm int32) {
	a.rexOpt(w, 0, reg)
	if isInt8(imm) {
		a.emit(0x83, modRM(0xC0, Reg(op), reg), byte(imm))
		return
	}
	a.emit(0x81, modRM(0xC0, Reg(op), reg))
	a.emitInt32(imm)
}

func (a *Assembler) aluRegMem(op aluOp, w bool, reg, base Reg, disp int32) {
	a.rexOpt(w, reg, base)
	a.emit(byte(op)<<3 | 0x03)
	a.emitMemOperand(reg, base, disp)
}

func (a *Assembler) aluMemImm(op aluOp, w bool, base Reg, disp int32, imm int32) {
	a.rexOpt(w, 0, base)
	if isInt8(imm) {
		a.emit(0x83)
		a.emitMemOperand(Reg(op), base, disp)
		a.emit(byte(imm))
		return
	}
	a.emit(0x81)
	a.emitMemOperand(Reg(op), base, disp)
	a.emitInt32(imm)
}

// AddRegReg: add dst, src (64-bit)
func (a *Assembler) AddRegReg(dst, src Reg) { a.aluRegReg(aluAdd, true, dst, src) }

// AddRegImm32: add reg, imm32 (64-bit, sign-extended)
func (a *Assembler) AddRegImm32(reg Reg, imm int32) { a.aluRegImm(aluAdd, true, reg, imm) }

// SubRegReg: sub dst, src (64-bit)
func (a *Assembler) SubRegReg(dst, src Reg) { a.aluRegReg(aluSub, true, dst, src) }

// AndRegReg: and dst, src (64-bit)
func (a *Assembler) AndRegReg(dst, src Reg) { a.aluRegReg(aluAnd, true, dst, src) }

// AndRegImm32: and reg, imm32 (64-bit, sign-extended)
func (a *Assembler) AndRegImm32(reg Reg, imm int32) { a.aluRegImm(aluAnd, true, reg, imm) }

// OrRegReg: or dst, src (64-bit)
func (a *Assembler) OrRegReg(dst, src Reg) { a.aluRegReg(aluOr, true, dst, src) }

// XorRegImm32: xor reg, imm32 (64-bit, sign-extended)
func (a *Assembler) XorRegImm32(reg Reg, imm int32) { a.aluRegImm(aluXor, true, reg, imm) }

// CmpRegReg: cmp left, right (64-bit)
func (a *Assembler) CmpRegReg(left, right Reg) { a.aluRegReg(aluCmp, true, left, right) }

// CmpRegImm32: cmp reg, imm32 (64-bit, sign-extended)
func (a *Assembler) CmpRegImm32(reg Reg, imm int32) { a.aluRegImm(aluCmp, true, reg, imm) }

// 32-bit variants. Writing a 32-bit register clears the upper half.

// AddRegReg32: add dst32, src32
func (a *Assembler) AddRegReg32(dst, src Reg) { a.aluRegReg(aluAdd, false, dst, src) }

// SubRegReg32: sub dst32, src32
func (a *Assembler) SubRegReg32(dst, src Reg) { a.aluRegReg(aluSub, false, dst, src) }

// OrRegReg32: or dst32, src32
func (a *Assembler) OrRegReg32(dst, src Reg) { a.aluRegReg(aluOr, false, dst, src) }

// XorRegReg32: xor dst32, src32
func (a *Assembler) XorRegReg32(dst, src Reg) { a.aluRegReg(aluXor, false, dst, src) }

// CmpRegReg32: cmp left32, right32
func (a *Assembler) CmpRegReg32(left, right Reg) { a.aluRegReg(aluCmp, false, left, right) }

// AddReg32Imm: add reg32, imm32
func (a *Assembler) AddReg32Imm(reg Reg, imm int32) { a.aluRegImm(aluAdd, false, reg, imm) }

// SubReg32Imm: sub reg32, imm32
func (a *Assembler) SubReg32Imm(reg Reg, imm int32) { a.aluRegImm(aluSub, false, reg, imm) }

// OrReg32Imm: or reg32, imm32
func (a *Assembler) OrReg32Imm(reg Reg, imm int32) { a.aluRegImm(aluOr, false, reg, imm) }

// CmpReg32Imm: cmp reg32, imm32
func (a *Assembler) CmpReg32Imm(reg Reg, imm int32) { a.aluRegImm(aluCmp, false, reg, imm) }

// IMulRegReg32: imul dst32, src32
func (a *Assembler) IMulRegReg32(dst, src Reg) {
	a.rexOpt(false, dst, src)
	a.emit(0x0F, 0xAF, modRM(0xC0, dst, src))
}

// IMulRegRegImm32x32: imul dst32, src32, imm32
func (a *Assembler) IMulRegRegImm32x32(dst, src Reg, imm int32) {
	a.rexOpt(false, dst, src)
	a.emit(0x69, modRM(0xC0, dst, src))
	a.emitInt32(imm)
}

// Memory forms.

// CmpRegMem64: cmp reg, [base + disp32]
func (a *Assembler) CmpRegMem64(reg, base Reg, disp int32) {
	a.aluRegMem(aluCmp, true, reg, base, disp)
}

// CmpRegMem32: cmp reg32, dword [base + disp32]
func (a *Assembler) CmpRegMem32(reg, base Reg, disp int32) {
	a.aluRegMem(aluCmp, false, reg, base, disp)
}

// CmpMem64Imm32: cmp qword [base + disp32], imm32 (sign-extended)
func (a *Assembler) CmpMem64Imm32(base Reg, disp int32, imm int32) {
	a.aluMemImm(aluCmp, true, base, disp, imm)
}

// CmpMem32Imm: cmp dword [base + disp32], imm32
func (a *Assembler) CmpMem32Imm(base Reg, disp int32, imm int32) {
	a.aluMemImm(aluCmp, false, base, disp, imm)
}

// CmpMem8Imm: cmp byte [base + disp32], imm8
func (a *Assembler) CmpMem8Imm(base Reg, disp int32, imm byte) {
	a.rexOpt(false, 0, base)
	a.emit(0x80)
	a.emitMemOperand(Reg(aluCmp), base, disp)
	a.emit(imm)
}

// TestMem8Imm: test byte [base + disp32], imm8
func (a *Assembler) TestMem8Imm(base Reg, disp int32, imm byte) {
	a.rexOpt(false, 0, base)
	a.emit(0xF6)
	a.emitMemOperand(0, base, disp)
	a.emit(imm)
}

// TestMem32Imm: test dword [base + disp32], imm32
func (a *Assembler) TestMem32Imm(base Reg, disp int32, imm int32) {
	a.rexOpt(false, 0, base)
	a.emit(0xF7)
	a.emitMemOperand(0, base, disp)
	a.emitInt32(imm)
}

// AddMem32Imm: add dword [base + disp32], imm32
func (a *Assembler) AddMem32Imm(base Reg, disp int32, imm int32) {
	a.aluMemImm(aluAdd, false, base, disp, imm)
}

// OrMem32Imm: or dword [base + disp32], imm32
func (a *Assembler) OrMem32Imm(base Reg, disp int32, imm int32) {
	a.aluMemImm(aluOr, false, base, disp, imm)
}

// AddRegMem64: add reg, [base + disp32]
func (a *Assembler) AddRegMem64(reg, base Reg, disp int32) {
	a.aluRegMem(aluAdd, true, reg, base, disp)
}

// LockAddMem64Imm: lock add qword [base + disp32], imm32
func (a *Assembler) LockAddMem64Imm(base Reg, disp int32, imm int32) {
	a.emit(0xF0)
	a.aluMemImm(aluAdd, true, base, disp, imm)
}

// TestRegReg: test left, right (64-bit)
func (a *Assembler) TestRegReg(left, right Reg) {
	a.emit(rexW(right, left), 0x85, modRM(0xC0, right, left))
}

// TestRegReg32: test left32, right32
func (a *Assembler) TestRegReg32(left, right Reg) {
	a.rexOpt(false, right, left)
	a.emit(0x85, modRM(0xC0, right, left))
}

// TestRegImm32: test reg, imm32 (64-bit, sign-extended)
func (a *Assembler) TestRegImm32(reg Reg, imm int32) {
	a.emit(rex(true, false, false, reg >= 8), 0xF7, modRM(0xC0, 0, reg))
	a.emitInt32(imm)
}

// ShlRegImm8: shl reg, imm8 (64-bit)
func (a *Assembler) ShlRegImm8(reg Reg, imm byte) {
	a.emit(rex(true, false, false, reg >= 8), 0xC1, modRM(0xC0, 4, reg), imm)
}

// ShrRegImm8: shr reg, imm8 (64-bit logical)
func (a *Assembler) ShrRegImm8(reg Reg, imm byte) {
	a.emit(rex(true, false, false, reg >= 8), 0xC1, modRM(0xC0, 5, reg), imm)
}

// Setcc: set byte reg on condition
func (a *Assembler) Setcc(cond Cond, reg Reg) {
	// SPL, BPL, SIL and DIL need an empty REX
	if reg >= RSP {
		a.emit(rex(false, false, false, reg >= 8))
	}
	a.emit(0x0F, 0x90|byte(cond), modRM(0xC0, 0, reg))
}

// MovzxRegReg8: movzx dst, src8 (zero-extend byte to 64-bit)
func (a *Assembler) MovzxRegReg8(dst, src Reg) {
	a.emit(rexW(dst, src), 0x0F, 0xB6, modRM(0xC0, dst, src))
}

// Jcc: conditional jump, near form (rel32). Returns the offset of the displacement.
func (a *Assembler) Jcc(cond Cond, rel32 int32) int {
	a.emit(0x0F, 0x80|byte(cond))
	at := a.Offset()
	a.emitInt32(rel32)
	return at
}

// JmpRel32: jmp rel32. Returns the offset of the displacement.
func (a *Assembler) JmpRel32(rel32 int32) int {
	a.emit(0xE9)
	at := a.Offset()
	a.emitInt32(rel32)
	return at
}

// JmpReg: jmp reg
func (a *Assembler) JmpReg(reg Reg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xFF, modRM(0xC0, 4, reg))
}

// JmpMem: jmp qword [base + disp32]
func (a *Assembler) JmpMem(base Reg, disp int32) {
	a.rexOpt(false, 0, base)
	a.emit(0xFF)
	a.emitMemOperand(4, base, disp)
}

// Ret: ret
func (a *Assembler) Ret() {
	a.emit(0xC3)
}

// Push: push reg
func (a *Assembler) Push(reg Reg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x50 | byte(reg&7))
}

// Pop: pop reg
func (a *Assembler) Pop(reg Reg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x58 | byte(reg&7))
}

// Nop: nop
func (a *Assembler) Nop() {
	a.emit(0x90)
}

// Int3: int3 (breakpoint)
func (a *Assembler) Int3() {
	a.emit(0xCC)
}

// AlignFor pads with nops until Offset()+skip is a multiple of align.
func (a *Assembler) AlignFor(align, skip int) {
	for (a.Offset()+skip)%align != 0 {
		a.Nop()
	}
}

// SSE2

func (a *Assembler) sse(prefix byte, w bool, op byte, reg, rm Reg) {
	a.emit(prefix)
	a.rexOpt(w, reg, rm)
	a.emit(0x0F, op, modRM(0xC0, reg, rm))
}

// MovqXmmReg: movq xmm, reg
func (a *Assembler) MovqXmmReg(dst XReg, src Reg) { a.sse(0x66, true, 0x6E, Reg(dst), src) }

// MovqRegXmm: movq reg, xmm
func (a *Assembler) MovqRegXmm(dst Reg, src XReg) { a.sse(0x66, true, 0x7E, Reg(src), dst) }

// Cvtsi2sdReg32: cvtsi2sd xmm, reg32
func (a *Assembler) Cvtsi2sdReg32(dst XReg, src Reg) { a.sse(0xF2, false, 0x2A, Reg(dst), src) }

// Mulsd: mulsd dst, src
func (a *Assembler) Mulsd(dst, src XReg) { a.sse(0xF2, false, 0x59, Reg(dst), Reg(src)) }

// Addsd: addsd dst, src
func (a *Assembler) Addsd(dst, src XReg) { a.sse(0xF2, false, 0x58, Reg(dst), Reg(src)) }

// Subsd: subsd dst, src
func (a *Assembler) Subsd(dst, src XReg) { a.sse(0xF2, false, 0x5C, Reg(dst), Reg(src)) }
