//go:build linux && amd64

package jit

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"basejit/pkg/bytecode"
	"basejit/pkg/interp"
	"basejit/pkg/value"
	"basejit/pkg/vm"
)

func newTestRuntime(t *testing.T, vopts vm.Options, opts RuntimeOptions) (*vm.VM, *Runtime) {
	t.Helper()
	v := newTestVM(t, vopts)
	rt, err := NewRuntime(v, opts)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return v, rt
}

// outcome renders a result so that both tiers can be compared: doubles the
// generated code leaves boxed compare equal to the int32 the interpreter
// produces. Negative zero keeps its sign.
func outcome(v *vm.VM, r value.Value, err error) string {
	if err != nil {
		if e, ok := vm.AsException(err); ok {
			return e.Error()
		}
		return "error: " + err.Error()
	}
	if r.IsDouble() && r.AsDouble() == 0 && math.Signbit(r.AsDouble()) {
		return "-0"
	}
	return v.Display(r)
}

// interpret runs src on a fresh VM with the interpreter.
func interpret(t *testing.T, src string, args []value.Value) string {
	t.Helper()
	v := newTestVM(t, vm.Options{})
	in := interp.New(v)
	v.Executor = in
	u := linkMain(t, v, src)
	r, err := in.Execute(u, value.Undefined, value.Undefined, args)
	return outcome(v, r, err)
}

// compileAndRun runs src on a fresh VM with the baseline runtime.
func compileAndRun(t *testing.T, src string, args []value.Value) string {
	t.Helper()
	v, rt := newTestRuntime(t, vm.Options{}, RuntimeOptions{})
	u := linkMain(t, v, src)
	r, err := rt.Execute(u, value.Undefined, value.Undefined, args)
	return outcome(v, r, err)
}

var programs = []struct {
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
	{"for in generic", `
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
	{"for in structure", `
function main params=1 locals=7
    new_object r0, 4
    put_by_val r0, "a", 1
    put_by_val r0, "b", 2
    get_property_enumerator r1, r0
    mov r2, 0
    mov r3, 0
loop:
    enumerator_structure_pname r4, r1, r2
    jeq_null r4, done
    has_structure_property r5, r0, r4, r1
    jfalse r5, skip
    get_direct_pname r6, r0, r4, r2, r1
    add r3, r3, r6
skip:
    inc r2
    jmp loop
done:
    ret r3
end`, "3"},
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
	{"imm switch default", `
function main params=1 locals=1
    .jumptable t0 min=3 three, four
    switch_imm t0, other, 9
three:
    ret 3
four:
    ret 4
other:
    ret 0
end`, "0"},
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
	{"callee throws", `
function main params=1 locals=5
    .handler try done catcher
    new_func r0, thrower, 0
try:
    call r1, r0, undefined, r2, 0
done:
    ret r1
catcher:
    catch r3, r4
    ret r4
end

function thrower params=1 locals=0
    throw "inner"
end`, "inner"},
	{"negative zero", `
function main params=1 locals=1
    mul r0, -1, 0
    ret r0
end`, "-0"},
	{"to_this in sloppy code", `
function main params=1 locals=1
    mov r0, undefined
    to_this r0
    is_object r0, r0
    ret r0
end`, "true"},
	{"array elements", `
function main params=1 locals=6
    mov r0, 1
    mov r1, 2
    mov r2, 3
    new_array r3, r0, 3
    has_indexed_property r4, r3, 2
    has_indexed_property r5, r3, 3
    jfalse r4, no
    jtrue r5, no
    get_by_val r4, r3, 1
    ret r4
no:
    ret -1
end`, "2"},
	{"uncaught", `
function main params=1 locals=1
    mov r0, undefined
    get_by_val r0, r0, "x"
    ret r0
end`, "uncaught exception: TypeError: cannot read properties of undefined"},
	{"char switch", `
function main params=1 locals=1
    .jumptable t0 min=97 first, second
    switch_char t0, other, "b"
first:
    ret 1
second:
    ret 2
other:
    ret 0
end`, "2"},
	{"char switch outside ascii", `
function main params=1 locals=1
    .jumptable t0 min=233 eacute
    switch_char t0, other, "é"
eacute:
    ret 1
other:
    ret 0
end`, "1"},
	{"char switch on longer string", `
function main params=1 locals=1
    .jumptable t0 min=97 first
    switch_char t0, other, "ab"
first:
    ret 1
other:
    ret 0
end`, "0"},
	{"char switch on number", `
function main params=1 locals=1
    .jumptable t0 min=97 first
    switch_char t0, other, 97
first:
    ret 1
other:
    ret 0
end`, "0"},
}

func TestProgramsMatchInterpreter(t *testing.T) {
	for _, c := range programs {
		t.Run(c.name, func(t *testing.T) {
			want := interpret(t, c.src, nil)
			got := compileAndRun(t, c.src, nil)
			if got != want {
				t.Errorf("compiled result = %q, interpreter = %q", got, want)
			}
			if c.want != "" && got != c.want {
				t.Errorf("result = %q, want %q", got, c.want)
			}
		})
	}
}

func inputs() []value.Value {
	return []value.Value{
		value.FromInt32(0),
		value.FromInt32(-1),
		value.FromInt32(3),
		value.FromInt32(math.MaxInt32),
		value.FromInt32(math.MinInt32),
		value.FromDouble(1.5),
		value.FromDouble(-2.25),
		value.FromDouble(math.Copysign(0, -1)),
		value.FromDouble(math.NaN()),
		value.FromDouble(math.Inf(1)),
		value.Undefined,
		value.Null,
		value.True,
		value.False,
	}
}

func TestOperationsMatchInterpreter(t *testing.T) {
	binary := []string{"add", "sub", "mul", "less", "eq", "neq", "stricteq", "nstricteq"}
	unary := []string{"not", "to_number r0, a1", "to_primitive r0, a1", "is_number r0, a1", "eq_null r0, a1"}

	type run struct {
		src  string
		args [][]value.Value
	}
	var runs []run
	for _, op := range binary {
		var args [][]value.Value
		for _, l := range inputs() {
			for _, r := range inputs() {
				args = append(args, []value.Value{l, r})
			}
		}
		runs = append(runs, run{
			src:  fmt.Sprintf("function main params=3 locals=1\n    %s r0, a1, a2\n    ret r0\nend", op),
			args: args,
		})
	}
	for _, op := range unary {
		ins := op
		if op == "not" {
			ins = "not r0, a1"
		}
		var args [][]value.Value
		for _, x := range inputs() {
			args = append(args, []value.Value{x})
		}
		runs = append(runs, run{
			src:  fmt.Sprintf("function main params=2 locals=1\n    %s\n    ret r0\nend", ins),
			args: args,
		})
	}
	for _, op := range []string{"inc", "dec"} {
		var args [][]value.Value
		for _, x := range inputs() {
			args = append(args, []value.Value{x})
		}
		runs = append(runs, run{
			src:  fmt.Sprintf("function main params=2 locals=1\n    mov r0, a1\n    %s r0\n    ret r0\nend", op),
			args: args,
		})
	}

	for _, r := range runs {
		iv := newTestVM(t, vm.Options{})
		in := interp.New(iv)
		iv.Executor = in
		iu := linkMain(t, iv, r.src)

		jv, rt := newTestRuntime(t, vm.Options{}, RuntimeOptions{})
		ju := linkMain(t, jv, r.src)

		var got, want []string
		for _, args := range r.args {
			res, err := in.Execute(iu, value.Undefined, value.Undefined, args)
			want = append(want, outcome(iv, res, err))
			res, err = rt.Execute(ju, value.Undefined, value.Undefined, args)
			got = append(got, outcome(jv, res, err))
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s: compiled results differ from the interpreter (-interp +jit):\n%s", ju.Name, diff)
			t.Logf("program:\n%s", r.src)
		}
	}
}

func TestHotLoopStaysInGeneratedCode(t *testing.T) {
	v, rt := newTestRuntime(t, vm.Options{}, RuntimeOptions{})
	u := linkMain(t, v, `
function main params=2 locals=3
    mov r0, 0
    mov r1, 0
loop:
    loop_hint
    add r1, r0, a1
    mul r2, r0, 2
    sub r2, r2, r0
    inc r0
    jless r0, 1000000, loop
    ret r1
end`)
	for i := 0; i < 5; i++ {
		r, err := rt.Execute(u, value.Undefined, value.Undefined, []value.Value{value.FromInt32(7)})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if r != value.FromInt32(1000006) {
			t.Fatalf("run %d: result = %s, want 1000006", i, v.Display(r))
		}
	}
	s := rt.Stats()
	if n := s.TotalCalls(); n != 0 {
		t.Errorf("%d generic operation calls, want none: %v", n, s.Calls)
	}
	if s.Entries != 5 || s.Compiled != 1 {
		t.Errorf("entries = %d, compiled = %d; want 5, 1", s.Entries, s.Compiled)
	}
}

func TestMulProducesNegativeZero(t *testing.T) {
	v, rt := newTestRuntime(t, vm.Options{}, RuntimeOptions{})
	u := linkMain(t, v, `
function main params=2 locals=1
    mul r0, a1, 0
    ret r0
end`)
	negZero := value.FromDouble(math.Copysign(0, -1))

	r, err := rt.Execute(u, value.Undefined, value.Undefined, []value.Value{value.FromDouble(-1.5)})
	if err != nil {
		t.Fatal(err)
	}
	if r != negZero {
		t.Errorf("-1.5 * 0 = %#x, want -0 (%#x)", r.Bits(), negZero.Bits())
	}
	if u.ResultProfiles[0].Load()&bytecode.NegZeroDouble == 0 {
		t.Errorf("profile = %#x, want NegZeroDouble", u.ResultProfiles[0].Load())
	}
	if n := rt.Stats().Calls[OperationMul]; n != 0 {
		t.Errorf("double multiply left generated code %d times", n)
	}

	// An int32 zero product with a negative operand needs the slow path.
	r, err = rt.Execute(u, value.Undefined, value.Undefined, []value.Value{value.FromInt32(-1)})
	if err != nil {
		t.Fatal(err)
	}
	if r != negZero {
		t.Errorf("-1 * 0 = %#x, want -0", r.Bits())
	}
	if n := rt.Stats().Calls[OperationMul]; n != 1 {
		t.Errorf("mul calls = %d, want 1", n)
	}
}

func TestLoopTiersUp(t *testing.T) {
	v, rt := newTestRuntime(t, vm.Options{TierUpThreshold: 50}, RuntimeOptions{Options: Options{TierUp: true}})
	in := interp.New(v)
	tier := interp.NewOSRTier(in)
	v.Tierer = tier

	u := linkMain(t, v, `
function main params=1 locals=2
    mov r0, 0
    mov r1, 0
loop:
    loop_hint
    add r1, r1, r0
    inc r0
    jless r0, 100, loop
    ret r1
end`)
	r, err := rt.Execute(u, value.Undefined, value.Undefined, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r != value.FromInt32(4950) {
		t.Errorf("result = %s, want 4950", v.Display(r))
	}
	if tier.Transfers() != 1 {
		t.Errorf("tier transfers = %d, want 1", tier.Transfers())
	}
	s := rt.Stats()
	if s.OSRTransfers != 1 || s.Calls[OperationOptimize] != 1 {
		t.Errorf("osr transfers = %d, optimize calls = %d; want 1, 1", s.OSRTransfers, s.Calls[OperationOptimize])
	}
}

func TestLoopStaysWithoutTierer(t *testing.T) {
	v, rt := newTestRuntime(t, vm.Options{TierUpThreshold: 10}, RuntimeOptions{Options: Options{TierUp: true}})
	u := linkMain(t, v, `
function main params=1 locals=2
    mov r0, 0
    mov r1, 0
loop:
    loop_hint
    add r1, r1, r0
    inc r0
    jless r0, 100, loop
    ret r1
end`)
	r, err := rt.Execute(u, value.Undefined, value.Undefined, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r != value.FromInt32(4950) {
		t.Errorf("result = %s, want 4950", v.Display(r))
	}
	s := rt.Stats()
	if s.OSRTransfers != 0 {
		t.Errorf("osr transfers = %d, want 0", s.OSRTransfers)
	}
	// The counter is rearmed after every declined request.
	if n := s.Calls[OperationOptimize]; n < 9 || n > 10 {
		t.Errorf("optimize calls = %d, want 9 or 10", n)
	}
}

func TestInstanceOfCache(t *testing.T) {
	v, rt := newTestRuntime(t, vm.Options{}, RuntimeOptions{})
	u := linkMain(t, v, `
function main params=3 locals=1
    instanceof r0, a1, a2
    ret r0
end`)
	proto, err := v.NewPlainObject(v.ObjectPrototype)
	if err != nil {
		t.Fatal(err)
	}
	check := func(obj value.Value) {
		t.Helper()
		r, err := rt.Execute(u, value.Undefined, value.Undefined, []value.Value{obj, proto})
		if err != nil {
			t.Fatal(err)
		}
		if r != value.True {
			t.Fatalf("instanceof = %s, want true", v.Display(r))
		}
	}

	obj, err := v.NewPlainObject(proto)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		check(obj)
	}
	code, ok := rt.Code(u)
	if !ok {
		t.Fatal("no code installed")
	}
	p := code.Patches[0]
	if p.State() != ICMonomorphic {
		t.Fatalf("state after one structure = %s, want monomorphic", p.State())
	}
	if n := rt.Stats().Calls[OperationInstanceOfOptimize]; n != 1 {
		t.Errorf("optimize calls = %d, want 1", n)
	}

	for k := 0; k < 6; k++ {
		o, err := v.NewPlainObject(proto)
		if err != nil {
			t.Fatal(err)
		}
		if err := v.PutProperty(o, fmt.Sprintf("k%d", k), value.FromInt32(int32(k))); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 3; i++ {
			check(o)
		}
	}
	if p.State() != ICMegamorphic {
		t.Fatalf("state after six structures = %s, want megamorphic", p.State())
	}
	if code.Sites[p.Site].Operation() != OperationInstanceOfGeneric {
		t.Errorf("site operation = %s, want the generic one", code.Sites[p.Site].Operation())
	}
	if rt.Stats().Calls[OperationInstanceOfGeneric] == 0 {
		t.Errorf("megamorphic site never called the generic operation")
	}

	// Non-objects keep working once the site is megamorphic.
	r, err := rt.Execute(u, value.Undefined, value.Undefined, []value.Value{value.FromInt32(1), proto})
	if err != nil || r != value.False {
		t.Errorf("1 instanceof proto = %s, %v; want false", v.Display(r), err)
	}
}

func TestInstanceOfNonObjectPrototypeThrows(t *testing.T) {
	v, rt := newTestRuntime(t, vm.Options{}, RuntimeOptions{})
	u := linkMain(t, v, `
function main params=3 locals=1
    instanceof r0, a1, a2
    ret r0
end`)
	obj, err := v.NewPlainObject(v.ObjectPrototype)
	if err != nil {
		t.Fatal(err)
	}
	_, err = rt.Execute(u, value.Undefined, value.Undefined, []value.Value{obj, value.FromInt32(3)})
	if e, ok := vm.AsException(err); !ok || e.Uncatchable {
		t.Errorf("error = %v, want catchable exception", err)
	}
}

func TestHasIndexedPropertyCache(t *testing.T) {
	v, rt := newTestRuntime(t, vm.Options{}, RuntimeOptions{})
	u := linkMain(t, v, `
function main params=3 locals=1
    has_indexed_property r0, a1, a2
    ret r0
end`)
	arr, err := v.NewArray([]value.Value{value.FromInt32(1), value.FromInt32(2), value.FromInt32(3)})
	if err != nil {
		t.Fatal(err)
	}
	has := func(i int32) bool {
		t.Helper()
		r, err := rt.Execute(u, value.Undefined, value.Undefined, []value.Value{arr, value.FromInt32(i)})
		if err != nil {
			t.Fatal(err)
		}
		return r == value.True
	}

	var got []bool
	for _, i := range []int32{1, 0, 2, 2, 1} {
		got = append(got, has(i))
	}
	if diff := cmp.Diff([]bool{true, true, true, true, true}, got); diff != "" {
		t.Errorf("in-bounds results (-want +got):\n%s", diff)
	}
	if n := rt.Stats().Calls[OperationHasIndexedPropertyDefault]; n != 1 {
		t.Errorf("calls after the stub was installed = %d, want 1", n)
	}

	if has(10) || has(-1) {
		t.Errorf("out-of-bounds index reported present")
	}
	code, _ := rt.Code(u)
	p := code.Patches[0]
	if p.State() != ICMonomorphic || p.Misses() != 0 {
		t.Errorf("state = %s with %d misses, want monomorphic with none", p.State(), p.Misses())
	}
	if prof := u.ArrayProfiles[0]; prof.LastSeenStructureID != v.Heap.StructureID(arr.AsCell()) {
		t.Errorf("array profile saw structure %d, want %d", prof.LastSeenStructureID, v.Heap.StructureID(arr.AsCell()))
	}
}

func TestTerminationIsNotCaught(t *testing.T) {
	v, rt := newTestRuntime(t, vm.Options{}, RuntimeOptions{})
	u := linkMain(t, v, `
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
	v.RequestTermination()
	_, err := rt.Execute(u, value.Undefined, value.Undefined, nil)
	if e, ok := vm.AsException(err); !ok || !e.Uncatchable {
		t.Fatalf("error = %v, want uncatchable exception", err)
	}
	// The trap is consumed; the next run completes.
	r, err := rt.Execute(u, value.Undefined, value.Undefined, nil)
	if err != nil || r != value.FromInt32(0) {
		t.Errorf("second run = %s, %v; want 0", v.Display(r), err)
	}
}

func TestCompileAll(t *testing.T) {
	v, rt := newTestRuntime(t, vm.Options{}, RuntimeOptions{Workers: 2})
	p, err := bytecode.Assemble(`
function main params=1 locals=1
    mov r0, 1
    ret r0
end

function f params=2 locals=1
    add r0, a1, 1
    ret r0
end

function g params=2 locals=1
    mul r0, a1, a1
    ret r0
end`)
	if err != nil {
		t.Fatal(err)
	}
	base, err := v.Link(p)
	if err != nil {
		t.Fatal(err)
	}
	var units []*bytecode.Unit
	for i := range p.Units {
		u, _ := v.Unit(uint32(base + i))
		units = append(units, u, u)
	}
	if err := rt.CompileAll(context.Background(), units); err != nil {
		t.Fatalf("CompileAll: %v", err)
	}
	if got := rt.Stats().Compiled; got != uint64(len(p.Units)) {
		t.Errorf("compiled %d units, want %d", got, len(p.Units))
	}
	for _, u := range units {
		if _, ok := rt.Code(u); !ok {
			t.Errorf("%s has no code", u.Name)
		}
	}
	if rt.CodeUsed() == 0 {
		t.Errorf("no executable memory used")
	}
}

func TestMulScenarios(t *testing.T) {
	v, rt := newTestRuntime(t, vm.Options{}, RuntimeOptions{})
	u := linkMain(t, v, `
function main params=1 locals=4
    mov r1, 5
    mov r2, 1048576
    mul r3, r1, r2
    ret r3
end`)
	r, err := rt.Execute(u, value.Undefined, value.Undefined, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r != value.FromInt32(5*1048576) {
		t.Errorf("5 * 1meg = %s, want %d", v.Display(r), 5*1048576)
	}
	if n := rt.Stats().TotalCalls(); n != 0 {
		t.Errorf("%d slow path calls, want none", n)
	}

	z := linkMain(t, v, `
function main params=1 locals=3
    mov r1, -1
    mov r2, 0
    mul r0, r1, r2
    ret r0
end`)
	r, err = rt.Execute(z, value.Undefined, value.Undefined, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r != value.FromDouble(math.Copysign(0, -1)) {
		t.Errorf("-1 * 0 = %#x, want boxed -0", r.Bits())
	}
	if z.ResultProfiles[0].Load()&bytecode.NegZeroDouble == 0 {
		t.Errorf("negative zero not flagged: %#x", z.ResultProfiles[0].Load())
	}
}

func TestMulRecordsInt52Overflow(t *testing.T) {
	v, rt := newTestRuntime(t, vm.Options{}, RuntimeOptions{})
	u := linkMain(t, v, `
function main params=3 locals=1
    mul r0, a1, a2
    ret r0
end`)
	r, err := rt.Execute(u, value.Undefined, value.Undefined, []value.Value{value.FromInt32(1 << 30), value.FromInt32(1 << 30)})
	if err != nil {
		t.Fatal(err)
	}
	if r.AsNumber() != 1<<60 {
		t.Errorf("2^30 * 2^30 = %s, want 2^60", v.Display(r))
	}
	want := bytecode.NonNegZeroDouble | bytecode.Int52Overflow | bytecode.Int32Overflowed
	if got := u.ResultProfiles[0].Load(); got != want {
		t.Errorf("profile = %#x, want %#x", got, want)
	}
}

func TestCatchTiersUp(t *testing.T) {
	// The outer activation enters with the counter still negative. The
	// recursive call pushes it past zero and moves the callee up at its
	// entry; the callee throws, and the outer handler finds the counter
	// non-negative.
	v, rt := newTestRuntime(t, vm.Options{TierUpThreshold: 20}, RuntimeOptions{Options: Options{TierUp: true}})
	in := interp.New(v)
	tier := interp.NewOSRTier(in)
	v.Tierer = tier

	u := linkMain(t, v, `
function main params=2 locals=4
    .handler try done catcher
    enter
    jfalse a1, boom
    new_func r0, main, 0
    mov r2, 0
try:
    call r1, r0, undefined, r2, 1
done:
    ret r1
catcher:
    catch r3, r1
    ret r1
boom:
    throw "inner"
end`)
	r, err := rt.Execute(u, value.Undefined, value.Undefined, []value.Value{value.FromInt32(1)})
	if err != nil {
		t.Fatal(err)
	}
	if got := v.Display(r); got != "inner" {
		t.Errorf("result = %q, want inner", got)
	}
	s := rt.Stats()
	if s.Calls[OperationCatchOSR] != 1 || s.Calls[OperationOptimize] != 1 {
		t.Errorf("catch requests = %d, entry requests = %d; want 1, 1",
			s.Calls[OperationCatchOSR], s.Calls[OperationOptimize])
	}
	if s.OSRTransfers != 2 || tier.Transfers() != 2 {
		t.Errorf("osr transfers = %d, tier transfers = %d; want 2, 2", s.OSRTransfers, tier.Transfers())
	}
}

func TestGetDirectPnameReadsOutOfLineSlots(t *testing.T) {
	src := `
function main params=1 locals=7
    new_object r0, 2
    put_by_val r0, "a", 1
    put_by_val r0, "b", 2
    put_by_val r0, "c", 4
    put_by_val r0, "d", 8
    put_by_val r0, "e", 16
    put_by_val r0, "f", 32
    get_property_enumerator r1, r0
    mov r2, 0
    mov r3, 0
loop:
    enumerator_structure_pname r4, r1, r2
    jeq_null r4, done
    get_direct_pname r6, r0, r4, r2, r1
    add r3, r3, r6
    inc r2
    jmp loop
done:
    ret r3
end`
	if want := interpret(t, src, nil); want != "63" {
		t.Fatalf("interpreter result = %q, want 63", want)
	}
	v, rt := newTestRuntime(t, vm.Options{}, RuntimeOptions{})
	u := linkMain(t, v, src)
	r, err := rt.Execute(u, value.Undefined, value.Undefined, nil)
	if got := outcome(v, r, err); got != "63" {
		t.Errorf("result = %q, want 63", got)
	}
	if n := rt.Stats().Calls[OperationGetDirectPname]; n != 0 {
		t.Errorf("get_direct_pname left generated code %d times", n)
	}
}

func TestDumpInstalledShowsRepatchedJumps(t *testing.T) {
	v, rt := newTestRuntime(t, vm.Options{}, RuntimeOptions{})
	if rt.CodeCapacity() != DefaultCodeSize {
		t.Errorf("capacity = %d, want %d", rt.CodeCapacity(), DefaultCodeSize)
	}
	u := linkMain(t, v, `
function main params=3 locals=1
    instanceof r0, a1, a2
    ret r0
end`)
	proto, err := v.NewPlainObject(v.ObjectPrototype)
	if err != nil {
		t.Fatal(err)
	}
	obj, err := v.NewPlainObject(proto)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Execute(u, value.Undefined, value.Undefined, []value.Value{obj, proto}); err != nil {
		t.Fatal(err)
	}
	code, ok := rt.Code(u)
	if !ok {
		t.Fatal("no code installed")
	}
	if code.Patches[0].State() != ICMonomorphic {
		t.Fatalf("state = %s, want monomorphic", code.Patches[0].State())
	}

	installed := rt.mem.Read(code.Address, code.Size())
	if installed == nil {
		t.Fatal("installed code not readable")
	}
	if bytes.Equal(installed, code.Bytes) {
		t.Errorf("installed code does not show the repatched jump")
	}
	var live, compiled strings.Builder
	if err := rt.DumpInstalled(&live, code); err != nil {
		t.Fatal(err)
	}
	if err := code.Dump(&compiled); err != nil {
		t.Fatal(err)
	}
	if live.String() == compiled.String() {
		t.Errorf("installed listing matches the listing at compile time")
	}

	start, end := rt.mem.Bounds()
	if rt.mem.Read(start-1, 4) != nil || rt.mem.Read(end-2, 4) != nil {
		t.Errorf("read outside the region succeeded")
	}
	if err := rt.mem.Repatch32(end, 0); err == nil {
		t.Errorf("repatch past the region succeeded")
	}
	if err := rt.mem.Repatch32(start+1, 0); err == nil {
		t.Errorf("misaligned repatch succeeded")
	}
}
