package interp

import (
	"testing"

	"basejit/pkg/bytecode"
	"basejit/pkg/value"
	"basejit/pkg/vm"
)

func newTestInterpreter(t *testing.T) *Interpreter {
	t.Helper()
	v, err := vm.New(vm.Options{})
	if err != nil {
		t.Fatalf("Failed to create VM: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	in := New(v)
	v.Executor = in
	return in
}

func run(t *testing.T, in *Interpreter, src string) (value.Value, error) {
	t.Helper()
	p, err := bytecode.Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	base, err := in.VM.Link(p)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	u, _ := in.VM.Unit(uint32(base + p.Main))
	return in.Execute(u, value.Undefined, value.Undefined, nil)
}

func mustRun(t *testing.T, in *Interpreter, src string) value.Value {
	t.Helper()
	r, err := run(t, in, src)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return r
}

func TestPrograms(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"loop", `
function main params=1 locals=2
    mov r0, 0
    mov r1, 0
loop:
    loop_hint
    add r1, r1, r0
    inc r0
    jless r0, 100, loop
    ret r1
end`, "4950"},
		{"call", `
function main params=1 locals=4
    new_func r0, square, 0
    mov r2, 7
    call r1, r0, undefined, r2, 1
    ret r1
end

function square params=2 locals=1
    mul r0, a1, a1
    ret r0
end`, "49"},
		{"construct", `
function main params=1 locals=3
    new_func r0, Point, 0
    mov r1, 3
    construct r2, r0, r1, 1
    get_by_val r2, r2, "x"
    ret r2
end

function Point params=2 locals=0
    put_by_val this, "x", a1
    ret undefined
end`, "3"},
		{"for in", `
function main params=1 locals=5
    new_object r0, 4
    put_by_val r0, "a", 1
    put_by_val r0, "b", 2
    get_property_enumerator r1, r0
    mov r2, 0
    mov r3, ""
loop:
    enumerator_generic_pname r4, r1, r2
    jeq_null r4, done
    add r3, r3, r4
    inc r2
    jmp loop
done:
    ret r3
end`, "ab"},
		{"string switch", `
function main params=1 locals=1
    .stringtable s0 "x" no, "y" yes
    switch_string s0, no, "y"
no:
    ret false
yes:
    ret true
end`, "true"},
		{"imm switch", `
function main params=1 locals=1
    .jumptable t0 min=3 three, four
    switch_imm t0, other, 4
three:
    ret 3
four:
    ret 4
other:
    ret 0
end`, "4"},
		{"catch", `
function main params=1 locals=2
    .handler try done catcher
try:
    throw "boom"
done:
    ret 0
catcher:
    catch r0, r1
    ret r1
end`, "boom"},
		{"negative zero", `
function main params=1 locals=1
    mul r0, -1, 0
    ret r0
end`, "0"},
		{"to_this in sloppy code", `
function main params=1 locals=1
    mov r0, undefined
    to_this r0
    is_object r0, r0
    ret r0
end`, "true"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			in := newTestInterpreter(t)
			r := mustRun(t, in, c.src)
			if got := in.VM.Display(r); got != c.want {
				t.Errorf("result = %s, want %s", got, c.want)
			}
		})
	}
}

func TestUncaughtException(t *testing.T) {
	in := newTestInterpreter(t)
	_, err := run(t, in, `
function main params=1 locals=1
    mov r0, undefined
    get_by_val r0, r0, "x"
    ret r0
end`)
	e, ok := vm.AsException(err)
	if !ok {
		t.Fatalf("error = %v, want exception", err)
	}
	if e.Uncatchable {
		t.Errorf("TypeError reported as uncatchable")
	}
}

func TestTerminationIsNotCaught(t *testing.T) {
	in := newTestInterpreter(t)
	in.VM.RequestTermination()
	_, err := run(t, in, `
function main params=1 locals=2
    .handler try done catcher
try:
    check_traps
done:
    ret 0
catcher:
    catch r0, r1
    ret 1
end`)
	if e, ok := vm.AsException(err); !ok || !e.Uncatchable {
		t.Fatalf("error = %v, want uncatchable exception", err)
	}
}

func TestProfiles(t *testing.T) {
	in := newTestInterpreter(t)
	p, err := bytecode.Assemble(`
function main params=1 locals=2
    mov r0, 0
loop:
    profile_control_flow
    profile_type r0
    add r0, r0, 0.5
    jless r0, 2, loop
    ret r0
end`)
	if err != nil {
		t.Fatal(err)
	}
	base, err := in.VM.Link(p)
	if err != nil {
		t.Fatal(err)
	}
	u, _ := in.VM.Unit(uint32(base))
	if _, err := in.Execute(u, value.Undefined, value.Undefined, nil); err != nil {
		t.Fatal(err)
	}
	if got := u.BasicBlocks[0].Count(); got != 4 {
		t.Errorf("block count = %d, want 4", got)
	}
	in.VM.ProcessTypeProfilerLog()
	if want := bytecode.TypeAnyInt | bytecode.TypeNumber; u.TypeLocations[0].Seen != want {
		t.Errorf("seen types = %#x, want %#x", u.TypeLocations[0].Seen, want)
	}
	if got := u.ResultProfiles[0].Load(); got&bytecode.NonNegZeroDouble == 0 {
		t.Errorf("add profile = %#x, want NonNegZeroDouble", got)
	}
	if in.Steps() == 0 {
		t.Errorf("no steps counted")
	}
}

func TestOSRTierResumesAfterRequest(t *testing.T) {
	in := newTestInterpreter(t)
	p, err := bytecode.Assemble(`
function main params=2 locals=1
    mov r0, 5
    loop_hint
    add r0, r0, a1
    ret r0
end`)
	if err != nil {
		t.Fatal(err)
	}
	base, err := in.VM.Link(p)
	if err != nil {
		t.Fatal(err)
	}
	u, _ := in.VM.Unit(uint32(base))
	tier := NewOSRTier(in)
	c := tier.Optimize(&vm.OSRRequest{
		Unit:          u,
		Index:         1,
		Callee:        value.Undefined,
		ArgumentCount: 2,
		Locals:        []value.Value{value.FromInt32(40)},
		Args:          []value.Value{value.Undefined, value.FromInt32(2)},
	})
	r, err := c.Enter(c)
	if err != nil {
		t.Fatal(err)
	}
	if r != value.FromInt32(42) {
		t.Errorf("result = %s, want 42", in.VM.Display(r))
	}
	if tier.Transfers() != 1 {
		t.Errorf("transfers = %d, want 1", tier.Transfers())
	}
}
