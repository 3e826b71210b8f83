package jit

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/arch/x86/x86asm"

	"basejit/pkg/bytecode"
	jiterrors "basejit/pkg/errors"
	"basejit/pkg/vm"
)

func newTestVM(t *testing.T, opts vm.Options) *vm.VM {
	t.Helper()
	v, err := vm.New(opts)
	if err != nil {
		t.Fatalf("Failed to create VM: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

// linkMain assembles src into v and returns its main unit.
func linkMain(t *testing.T, v *vm.VM, src string) *bytecode.Unit {
	t.Helper()
	p, err := bytecode.Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	base, err := v.Link(p)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	u, ok := v.Unit(uint32(base + p.Main))
	if !ok {
		t.Fatalf("main unit %d not linked", base+p.Main)
	}
	return u
}

const loopSource = `
function main params=2 locals=3
    mov r0, 0
    mov r1, 0
loop:
    loop_hint
    add r1, r1, r0
    mul r2, r0, a1
    inc r0
    jless r0, 100, loop
    has_indexed_property r2, a1, 0
    instanceof r2, a1, a1
    ret r1
end`

func TestCompileLayout(t *testing.T) {
	v := newTestVM(t, vm.Options{})
	u := linkMain(t, v, loopSource)
	code, err := Compile(v, u, Options{TierUp: true})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if got, want := len(code.InstructionOffsets), len(u.Instructions)+1; got != want {
		t.Fatalf("%d instruction offsets, want %d", got, want)
	}
	for i := 1; i < len(code.InstructionOffsets); i++ {
		if code.InstructionOffsets[i] < code.InstructionOffsets[i-1] {
			t.Errorf("instruction %d starts at %d, before instruction %d at %d",
				i, code.InstructionOffsets[i], i-1, code.InstructionOffsets[i-1])
		}
	}
	if code.SlowPathOffset <= code.InstructionOffsets[len(u.Instructions)-1] {
		t.Errorf("slow paths at %d overlap the hot path", code.SlowPathOffset)
	}
	if code.SlowCases == 0 {
		t.Errorf("no slow cases recorded")
	}

	if len(code.Patches) != 2 {
		t.Fatalf("%d patchable sites, want 2", len(code.Patches))
	}
	kinds := []PatchKind{code.Patches[0].Kind, code.Patches[1].Kind}
	if diff := cmp.Diff([]PatchKind{PatchHasIndexedProperty, PatchInstanceOf}, kinds); diff != "" {
		t.Errorf("patch kinds (-want +got):\n%s", diff)
	}
	for _, p := range code.Patches {
		if p.Displacement%4 != 0 {
			t.Errorf("patch at instruction %d: displacement offset %d is not aligned", p.Index, p.Displacement)
		}
		if p.Slow < code.SlowPathOffset {
			t.Errorf("patch at instruction %d: slow path %d is in the hot path", p.Index, p.Slow)
		}
		site := code.Sites[p.Site]
		if site.Patch < 0 || code.Patches[site.Patch] != p {
			t.Errorf("patch at instruction %d: call site does not point back", p.Index)
		}
		if p.State() != ICEmpty {
			t.Errorf("fresh patch state = %s", p.State())
		}
	}

	for i, site := range code.Sites {
		if site.Continuation <= 0 || site.Continuation > code.Size() {
			t.Errorf("site %d: continuation %d outside the code", i, site.Continuation)
		}
		if site.Operation() == OperationNone {
			t.Errorf("site %d has no operation", i)
		}
	}
}

func TestCompiledCodeDecodes(t *testing.T) {
	v := newTestVM(t, vm.Options{})
	u := linkMain(t, v, loopSource)
	code, err := Compile(v, u, Options{TierUp: true})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	decodeAll(t, code.Bytes)

	var buf bytes.Buffer
	if err := code.Dump(&buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, " db ") {
		t.Errorf("listing contains undecodable bytes:\n%s", out)
	}
	for _, want := range []string{"entry:", "exit:", "slow mul", "loop_hint"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing lacks %q", want)
		}
	}
	t.Logf("%d bytes, %d lines", code.Size(), strings.Count(out, "\n"))
}

func TestCodeMapLookup(t *testing.T) {
	m := NewCodeMap()
	m.Add(0, 0, false)
	m.Add(10, 1, false)
	m.Add(10, 2, false) // instruction 1 emitted nothing
	m.Add(25, 3, false)
	m.Add(90, 2, true)

	cases := []struct {
		off   int
		index int
		slow  bool
	}{
		{0, 0, false},
		{9, 0, false},
		{10, 2, false},
		{24, 2, false},
		{60, 3, false},
		{90, 2, true},
		{1000, 2, true},
	}
	for _, c := range cases {
		index, slow, ok := m.Lookup(c.off)
		if !ok || index != c.index || slow != c.slow {
			t.Errorf("Lookup(%d) = %d, %v, %v; want %d, %v", c.off, index, slow, ok, c.index, c.slow)
		}
	}
	if _, _, ok := m.Lookup(-1); ok {
		t.Errorf("Lookup(-1) found a range")
	}
	if m.Len() != 4 {
		t.Errorf("Len = %d, want 4", m.Len())
	}
}

func TestCompileRejectsUnlinkedUnit(t *testing.T) {
	v := newTestVM(t, vm.Options{})
	p, err := bytecode.Assemble(`
function main params=1 locals=1
    mov r0, "x"
    ret r0
end`)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Compile(v, p.Units[p.Main], Options{})
	if !jiterrors.IsCompileError(err) {
		t.Fatalf("error = %v, want compile error", err)
	}
}

func TestSwitchCompilesToDispatch(t *testing.T) {
	v := newTestVM(t, vm.Options{})
	u := linkMain(t, v, `
function main params=2 locals=1
    .jumptable t0 min=0 zero, one
    switch_imm t0, other, a1
zero:
    ret 10
one:
    ret 11
other:
    ret 12
end`)
	code, err := Compile(v, u, Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	insts := decodeAll(t, code.Bytes[code.InstructionOffsets[0]:code.InstructionOffsets[1]])
	last := insts[len(insts)-1]
	if last.Op != x86asm.JMP || last.Args[0] != x86asm.RAX {
		t.Errorf("switch ends with %v, want an indirect jmp", last)
	}
}

func TestStatsOperationsOrder(t *testing.T) {
	s := Stats{Calls: map[OperationID]uint64{
		OperationMul:         2,
		OperationGetByVal:    7,
		OperationAdd:         2,
		OperationHandleTraps: 1,
	}}
	want := []OperationID{OperationGetByVal, OperationMul, OperationAdd, OperationHandleTraps}
	if diff := cmp.Diff(want, s.Operations()); diff != "" {
		t.Errorf("Operations (-want +got):\n%s", diff)
	}
	if s.TotalCalls() != 12 {
		t.Errorf("TotalCalls = %d, want 12", s.TotalCalls())
	}
}
