package jit

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

// decodeAll decodes code completely and fails the test on any byte that is
// not part of a valid instruction.
func decodeAll(t *testing.T, code []byte) []x86asm.Inst {
	t.Helper()
	var insts []x86asm.Inst
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			t.Fatalf("decode at 0x%x (% x): %v", off, code[off:], err)
		}
		insts = append(insts, inst)
		off += inst.Len
	}
	return insts
}

func TestAssemblerEncodings(t *testing.T) {
	cases := []struct {
		name string
		emit func(a *Assembler)
		op   x86asm.Op
		args []x86asm.Arg
	}{
		{"mov reg reg", func(a *Assembler) { a.MovRegReg(RAX, RBX) }, x86asm.MOV, []x86asm.Arg{x86asm.RAX, x86asm.RBX}},
		{"mov high regs", func(a *Assembler) { a.MovRegReg(R11, R14) }, x86asm.MOV, []x86asm.Arg{x86asm.R11, x86asm.R14}},
		{"load", func(a *Assembler) { a.MovRegMem64(RAX, RBX, 8) }, x86asm.MOV,
			[]x86asm.Arg{x86asm.RAX, x86asm.Mem{Base: x86asm.RBX, Disp: 8}}},
		{"store", func(a *Assembler) { a.MovMemReg64(RBX, -16, RCX) }, x86asm.MOV,
			[]x86asm.Arg{x86asm.Mem{Base: x86asm.RBX, Disp: -16}, x86asm.RCX}},
		{"load wide disp", func(a *Assembler) { a.MovRegMem64(RDX, RDI, 0x1000) }, x86asm.MOV,
			[]x86asm.Arg{x86asm.RDX, x86asm.Mem{Base: x86asm.RDI, Disp: 0x1000}}},
		{"add imm32", func(a *Assembler) { a.AddReg32Imm(RAX, 1) }, x86asm.ADD, []x86asm.Arg{x86asm.EAX, x86asm.Imm(1)}},
		{"sub reg32", func(a *Assembler) { a.SubRegReg32(RCX, RSI) }, x86asm.SUB, []x86asm.Arg{x86asm.ECX, x86asm.ESI}},
		{"cmp tag", func(a *Assembler) { a.CmpRegReg(RAX, R14) }, x86asm.CMP, []x86asm.Arg{x86asm.RAX, x86asm.R14}},
		{"test mask", func(a *Assembler) { a.TestRegReg(RSI, R15) }, x86asm.TEST, []x86asm.Arg{x86asm.RSI, x86asm.R15}},
		{"imul", func(a *Assembler) { a.IMulRegReg32(RCX, RSI) }, x86asm.IMUL, []x86asm.Arg{x86asm.ECX, x86asm.ESI}},
		{"shl", func(a *Assembler) { a.ShlRegImm8(RDX, 3) }, x86asm.SHL, []x86asm.Arg{x86asm.RDX, x86asm.Imm(3)}},
		{"sete", func(a *Assembler) { a.Setcc(CondE, RAX) }, x86asm.SETE, []x86asm.Arg{x86asm.AL}},
		{"push r15", func(a *Assembler) { a.Push(R15) }, x86asm.PUSH, []x86asm.Arg{x86asm.R15}},
		{"pop rbx", func(a *Assembler) { a.Pop(RBX) }, x86asm.POP, []x86asm.Arg{x86asm.RBX}},
		{"mulsd", func(a *Assembler) { a.Mulsd(XMM0, XMM1) }, x86asm.MULSD, []x86asm.Arg{x86asm.X0, x86asm.X1}},
		{"jne", func(a *Assembler) { a.Jcc(CondNE, 0x10) }, x86asm.JNE, []x86asm.Arg{x86asm.Rel(0x10)}},
		{"jmp", func(a *Assembler) { a.JmpRel32(-5) }, x86asm.JMP, []x86asm.Arg{x86asm.Rel(-5)}},
		{"ret", func(a *Assembler) { a.Ret() }, x86asm.RET, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := NewAssembler(16)
			c.emit(a)
			insts := decodeAll(t, a.Bytes())
			if len(insts) != 1 {
				t.Fatalf("decoded %d instructions from % x, want 1", len(insts), a.Bytes())
			}
			inst := insts[0]
			if inst.Op != c.op {
				t.Errorf("op = %v, want %v (% x)", inst.Op, c.op, a.Bytes())
			}
			for i, want := range c.args {
				if inst.Args[i] != want {
					t.Errorf("arg %d = %v, want %v (% x)", i, inst.Args[i], want, a.Bytes())
				}
			}
		})
	}
}

func TestMovRegConstPicksShortestForm(t *testing.T) {
	cases := []struct {
		imm  uint64
		size int
	}{
		{0, 5},
		{0x7, 5},
		{0xffffffff, 5},
		{0xffffffffffffff00, 7},
		{0xfffe000000000005, 10},
	}
	for _, c := range cases {
		a := NewAssembler(16)
		a.MovRegConst(RAX, c.imm)
		insts := decodeAll(t, a.Bytes())
		if len(insts) != 1 || insts[0].Op != x86asm.MOV {
			t.Errorf("MovRegConst(%#x) decoded as %v", c.imm, insts)
		}
		if n := len(a.Bytes()); n != c.size {
			t.Errorf("MovRegConst(%#x) took %d bytes, want %d", c.imm, n, c.size)
		}
	}
}

func TestAlignForPatchableDisplacement(t *testing.T) {
	for prefix := 0; prefix < 8; prefix++ {
		a := NewAssembler(32)
		for i := 0; i < prefix; i++ {
			a.Int3()
		}
		a.AlignFor(4, 1)
		at := a.JmpRel32(0)
		if at%4 != 0 {
			t.Errorf("prefix %d: displacement at %d, not 4-byte aligned", prefix, at)
		}
	}
}

func TestPutInt32Patches(t *testing.T) {
	a := NewAssembler(16)
	at := a.Jcc(CondL, 0)
	a.PutInt32(at, 0x1234)
	insts := decodeAll(t, a.Bytes())
	if insts[0].Args[0] != x86asm.Rel(0x1234) {
		t.Errorf("patched target = %v, want .+0x1234", insts[0].Args[0])
	}
}
