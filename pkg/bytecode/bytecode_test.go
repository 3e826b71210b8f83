package bytecode

import (
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const loopSource = `
# counts to ten
function main params=1 locals=3
    mov r0, 0
loop:
    loop_hint
    add r0, r0, #1
    jless r0, 10, loop
    mul r1, r0, 2.5
    new_func r2, helper, 0
    ret r1
end

function helper params=2 locals=1
    .jumptable t0 min=1 one, -, three
    .stringtable s0 "a" one, "b,c" three
    .handler try done catcher
try:
    switch_imm t0, three, a1
one:
    switch_string s0, three, a1
three:
    throw "boom"
done:
catcher:
    catch r0, r0
    ret r0
end
`

func TestAssemble(t *testing.T) {
	p, err := Assemble(loopSource)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(p.Units) != 2 || p.Main != 0 {
		t.Fatalf("got %d units, main %d", len(p.Units), p.Main)
	}
	main := p.Units[0]
	if got := len(main.Instructions); got != 7 {
		t.Fatalf("main has %d instructions", got)
	}
	jl := main.Instructions[3]
	if jl.Op != OpJLess {
		t.Fatalf("instruction 3 is %s", jl.Op)
	}
	if target, _ := jl.Target(); target != 1 {
		t.Errorf("jless target = %d, want 1", target)
	}
	if len(main.ResultProfiles) != 2 {
		t.Errorf("result profiles = %d, want 2", len(main.ResultProfiles))
	}
	mul := main.Instructions[4]
	k := main.Constants[mul.Reg(2).ToConstantIndex()]
	if k.Kind != ConstDouble || k.Double != 2.5 {
		t.Errorf("mul constant = %v", k)
	}
	if nf := main.Instructions[5]; nf.Int(1) != 1 {
		t.Errorf("new_func refers to unit %d, want 1", nf.Int(1))
	}

	helper := p.Units[1]
	if diff := cmp.Diff([]int32{1, -1, 2}, helper.SwitchTables[0].Branches); diff != "" {
		t.Errorf("jump table (-want +got):\n%s", diff)
	}
	if got := helper.StringSwitchTables[0].Cases[1]; got.Key != "b,c" || got.Target != 2 {
		t.Errorf("string case = %+v", got)
	}
	if diff := cmp.Diff(Handler{Start: 0, End: 3, Target: 3}, helper.Handlers[0]); diff != "" {
		t.Errorf("handler (-want +got):\n%s", diff)
	}
	if h, ok := helper.HandlerFor(2); !ok || h.Target != 3 {
		t.Errorf("HandlerFor(2) = %+v, %v", h, ok)
	}
	if _, ok := helper.HandlerFor(3); ok {
		t.Errorf("HandlerFor(3) should miss")
	}
	if got := len(helper.CatchProfiles[0].Operands); got != 1 {
		t.Errorf("catch profile covers %d locals", got)
	}
}

func TestDisassembleRoundTrip(t *testing.T) {
	p, err := Assemble(loopSource)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	var sb strings.Builder
	if err := DisassembleProgram(&sb, p); err != nil {
		t.Fatalf("DisassembleProgram: %v", err)
	}
	q, err := Assemble(sb.String())
	if err != nil {
		t.Fatalf("reassemble: %v\n%s", err, sb.String())
	}
	for i := range p.Units {
		if FingerprintOf(p.Units[i]) != FingerprintOf(q.Units[i]) {
			t.Errorf("unit %s changed across a round trip:\n%s", p.Units[i].Name, sb.String())
		}
	}
}

func TestConstantsAreInterned(t *testing.T) {
	b := NewBuilder("f", 1, 1)
	if b.Int(3) != b.Int(3) {
		t.Errorf("equal ints got distinct registers")
	}
	if b.Double(0) == b.Double(math.Copysign(0, -1)) {
		t.Errorf("0.0 and -0.0 share a register")
	}
	if b.Int(1) == b.Double(1) {
		t.Errorf("int 1 and double 1.0 share a register")
	}
	b.Emit(OpRet, int32(b.Undefined()))
	u, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(u.Constants) != 6 {
		t.Errorf("constant pool has %d entries, want 6", len(u.Constants))
	}
}

func TestConstantString(t *testing.T) {
	cases := []struct {
		c    Constant
		want string
	}{
		{IntConstant(-4), "-4"},
		{DoubleConstant(2), "2.0"},
		{DoubleConstant(-3), "-3.0"},
		{DoubleConstant(math.Copysign(0, -1)), "-0.0"},
		{DoubleConstant(0.5), "0.5"},
		{DoubleConstant(math.Inf(-1)), "-Infinity"},
		{StringConstant("a\"b"), `"a\"b"`},
		{Constant{Kind: ConstWellKnownSymbol, Str: "hasInstance"}, "@hasInstance"},
	}
	for _, c := range cases {
		if got := c.c.String(); got != c.want {
			t.Errorf("%+v: got %q, want %q", c.c, got, c.want)
		}
		back, err := parseConstant(c.want)
		if err != nil {
			t.Errorf("parseConstant(%q): %v", c.want, err)
			continue
		}
		if diff := cmp.Diff(c.c, back, cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("parseConstant(%q) (-want +got):\n%s", c.want, diff)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown label":  "function f locals=1\n jmp nowhere\nend",
		"local range":    "function f locals=1\n mov r3, 1\n ret r0\nend",
		"falls through":  "function f locals=1\n mov r0, 1\nend",
		"argument range": "function f params=1 locals=1\n ret a4\nend",
		"constant dst":   "function f locals=1\n mov 1, r0\n ret r0\nend",
		"arg range":      "function f locals=2\n call r0, r0, this, r1, 3\n ret r0\nend",
		"unknown op":     "function f\n frobnicate\nend",
		"unclosed":       "function f\n ret 1\n",
	}
	for name, src := range cases {
		if _, err := Assemble(src); err == nil {
			t.Errorf("%s: expected an error", name)
		} else {
			t.Logf("%s: %v", name, err)
		}
	}
}

func TestRegisterNames(t *testing.T) {
	for _, r := range []VirtualRegister{Local(0), Local(12), ThisRegister, Argument(3)} {
		back, ok := parseRegister(r.String())
		if !ok || back != r {
			t.Errorf("%s reparsed as %s, %v", r, back, ok)
		}
	}
	if Argument(2).FrameOffset() != -24 {
		t.Errorf("argument 2 offset = %d", Argument(2).FrameOffset())
	}
}

func TestJumpTableLookup(t *testing.T) {
	tbl := SimpleJumpTable{Min: -1, Branches: []int32{4, -1, 6}}
	for key, want := range map[int32]int32{-2: -1, -1: 4, 0: -1, 1: 6, 2: -1, math.MaxInt32: -1} {
		if got := tbl.Lookup(key); got != want {
			t.Errorf("Lookup(%d) = %d, want %d", key, got, want)
		}
	}
	st := StringJumpTable{Cases: []StringCase{{"x", 1}, {"y", 2}}}
	if st.Lookup("y") != 1 || st.Lookup("z") != -1 {
		t.Errorf("string lookup broken")
	}
	st.EnsureCTITable()
	if len(st.CTI) != 3 {
		t.Errorf("CTI table has %d slots", len(st.CTI))
	}
}

func TestStringJumpTableConcurrentLookup(t *testing.T) {
	st := &StringJumpTable{Cases: []StringCase{{"x", 1}, {"y", 2}, {"x", 3}}}
	var wg sync.WaitGroup
	misses := make([]int, 8)
	for g := range misses {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if st.Lookup("x") != 0 || st.Lookup("y") != 1 || st.Lookup("z") != -1 {
					misses[g]++
				}
			}
		}()
	}
	wg.Wait()
	for g, n := range misses {
		if n != 0 {
			t.Errorf("goroutine %d: %d wrong lookups", g, n)
		}
	}
}

func TestFingerprintIgnoresProfiles(t *testing.T) {
	p, err := Assemble(loopSource)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	u := p.Units[0]
	before := FingerprintOf(u)
	u.ResultProfiles[0].Set(NegZeroDouble)
	u.ExecuteCounter = -5
	if FingerprintOf(u) != before {
		t.Errorf("profile state changed the fingerprint")
	}
	u.Instructions[0].Op = OpNop
	u.Instructions[0].Args = [MaxArgs]int32{}
	if FingerprintOf(u) == before {
		t.Errorf("code change kept the fingerprint")
	}
}

func TestResultProfileObserveDouble(t *testing.T) {
	var p ResultProfile
	p.ObserveDouble(math.Copysign(0, -1))
	if p.Load() != NegZeroDouble {
		t.Errorf("-0 flags = %#x", p.Load())
	}
	p = ResultProfile{}
	p.ObserveDouble(math.Ldexp(1, 52))
	if p.Load() != NonNegZeroDouble|Int52Overflow {
		t.Errorf("2^52 flags = %#x", p.Load())
	}
	p = ResultProfile{}
	p.ObserveDouble(1.5)
	if p.Load() != NonNegZeroDouble {
		t.Errorf("1.5 flags = %#x", p.Load())
	}
}
