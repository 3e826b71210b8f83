package vm

import (
	"bytes"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"basejit/pkg/bytecode"
	"basejit/pkg/heap"
	"basejit/pkg/value"
)

func newTestVM(t *testing.T, opts Options) *VM {
	t.Helper()
	if opts.Heap.Size == 0 {
		opts.Heap.Size = 16 << 20
	}
	vm, err := New(opts)
	if err != nil {
		t.Fatalf("Failed to create VM: %v", err)
	}
	t.Cleanup(func() { vm.Close() })
	return vm
}

func str(t *testing.T, vm *VM, s string) value.Value {
	t.Helper()
	v, err := vm.NewString(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestMulProfiles(t *testing.T) {
	vm := newTestVM(t, Options{})
	cases := []struct {
		name  string
		a, b  value.Value
		want  float64
		flags uint32
	}{
		{"negative zero", value.FromInt32(-1), value.FromInt32(0), math.Copysign(0, -1), bytecode.NegZeroDouble},
		{"int", value.FromInt32(6), value.FromInt32(7), 42, 0},
		{"double", value.FromDouble(2.5), value.FromInt32(3), 7.5, bytecode.NonNegZeroDouble},
		{"beyond int52", value.FromInt32(1 << 30), value.FromInt32(1 << 30), 1 << 60,
			bytecode.NonNegZeroDouble | bytecode.Int52Overflow | bytecode.Int32Overflowed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var p bytecode.ResultProfile
			r, err := vm.Mul(c.a, c.b, &p)
			if err != nil {
				t.Fatal(err)
			}
			if math.Float64bits(r.AsNumber()) != math.Float64bits(c.want) {
				t.Errorf("Mul = %v, want %v", r, c.want)
			}
			if p.Load() != c.flags {
				t.Errorf("flags = %#x, want %#x", p.Load(), c.flags)
			}
		})
	}
}

func TestAddConcatenates(t *testing.T) {
	vm := newTestVM(t, Options{})
	var p bytecode.ResultProfile
	r, err := vm.Add(str(t, vm, "a"), value.FromInt32(1), &p)
	if err != nil {
		t.Fatal(err)
	}
	if !vm.IsString(r) || vm.StringOf(r) != "a1" {
		t.Fatalf("Add = %s, want a1", vm.Display(r))
	}
}

func TestLooseEqual(t *testing.T) {
	vm := newTestVM(t, Options{})
	cases := []struct {
		a, b value.Value
		want bool
	}{
		{value.Null, value.Undefined, true},
		{str(t, vm, "1"), value.FromInt32(1), true},
		{value.True, value.FromInt32(1), true},
		{value.Null, value.FromInt32(0), false},
		{value.FromDouble(math.NaN()), value.FromDouble(math.NaN()), false},
	}
	for _, c := range cases {
		got, err := vm.LooseEqual(c.a, c.b)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("LooseEqual(%s, %s) = %v, want %v", vm.Display(c.a), vm.Display(c.b), got, c.want)
		}
	}
}

func enumeratorNames(t *testing.T, vm *VM, enum value.Value, end uint32) []string {
	t.Helper()
	var names []string
	for i := int32(0); ; i++ {
		n := vm.Heap.EnumeratorName(enum.AsCell(), uint32(i), end)
		if n.IsNull() {
			return names
		}
		names = append(names, vm.StringOf(n))
	}
}

func TestEnumeratorCachesPlainObjects(t *testing.T) {
	vm := newTestVM(t, Options{})
	parent, err := vm.NewPlainObject(vm.ObjectPrototype)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"a", "c"} {
		if err := vm.PutProperty(parent, k, value.FromInt32(1)); err != nil {
			t.Fatal(err)
		}
	}
	obj, err := vm.NewPlainObject(parent)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"a", "b"} {
		if err := vm.PutProperty(obj, k, value.FromInt32(2)); err != nil {
			t.Fatal(err)
		}
	}

	enum, err := vm.GetPropertyEnumerator(obj)
	if err != nil {
		t.Fatal(err)
	}
	info := vm.Heap.Enumerator(enum.AsCell())
	if info.CachedStructureID != vm.Heap.StructureID(obj.AsCell()) {
		t.Errorf("cached structure = %d, want %d", info.CachedStructureID, vm.Heap.StructureID(obj.AsCell()))
	}
	if info.EndStructureProperty != 2 || info.EndGenericProperty != 3 {
		t.Errorf("ends = %d/%d, want 2/3", info.EndStructureProperty, info.EndGenericProperty)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, enumeratorNames(t, vm, enum, info.EndGenericProperty)); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	if n := vm.EnumeratorStructurePname(enum, value.FromInt32(2)); !n.IsNull() {
		t.Errorf("structure pname past end = %s, want null", vm.Display(n))
	}
	if n := vm.EnumeratorGenericPname(enum, value.FromInt32(2)); vm.StringOf(n) != "c" {
		t.Errorf("generic pname 2 = %s, want c", vm.Display(n))
	}
	ok, err := vm.HasStructureProperty(obj, str(t, vm, "b"))
	if err != nil || !ok {
		t.Errorf("HasStructureProperty(b) = %v, %v", ok, err)
	}
}

func TestEnumeratorGenericCases(t *testing.T) {
	vm := newTestVM(t, Options{})
	arr, err := vm.NewArray([]value.Value{value.FromInt32(1), value.Empty, value.FromInt32(3)})
	if err != nil {
		t.Fatal(err)
	}
	enum, err := vm.GetPropertyEnumerator(arr)
	if err != nil {
		t.Fatal(err)
	}
	info := vm.Heap.Enumerator(enum.AsCell())
	if info.CachedStructureID != 0 || info.EndStructureProperty != 0 {
		t.Errorf("array enumerator should not be cached: %+v", info)
	}
	if diff := cmp.Diff([]string{"0", "2"}, enumeratorNames(t, vm, enum, info.EndGenericProperty)); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}

	empty, err := vm.GetPropertyEnumerator(value.Null)
	if err != nil {
		t.Fatal(err)
	}
	if got := vm.Heap.Enumerator(empty.AsCell()).EndGenericProperty; got != 0 {
		t.Errorf("null enumerator has %d names", got)
	}

	has, err := vm.HasIndexedProperty(arr, value.FromInt32(1))
	if err != nil || has {
		t.Errorf("HasIndexedProperty(hole) = %v, %v", has, err)
	}
	has, err = vm.HasIndexedProperty(arr, value.FromInt32(2))
	if err != nil || !has {
		t.Errorf("HasIndexedProperty(2) = %v, %v", has, err)
	}
}

func TestTypeProfilerLog(t *testing.T) {
	vm := newTestVM(t, Options{TypeLogCapacity: 2})
	loc := &bytecode.TypeLocation{}
	vm.typeLog.register(loc)

	vm.ProfileType(value.Empty, loc)
	vm.ProfileType(value.FromInt32(1), loc)
	if got := vm.TypeLog().Len(); got != 1 {
		t.Fatalf("log length = %d, want 1", got)
	}
	vm.ProfileType(str(t, vm, "x"), loc)
	if got := vm.TypeLog().Len(); got != 0 {
		t.Fatalf("full log was not processed, length %d", got)
	}
	if want := bytecode.TypeAnyInt | bytecode.TypeString; loc.Seen != want {
		t.Errorf("Seen = %#x, want %#x", loc.Seen, want)
	}
	if loc.LastSeen != bytecode.TypeString {
		t.Errorf("LastSeen = %#x, want string", loc.LastSeen)
	}
	vm.ProfileType(str(t, vm, "y"), loc)
	if got := vm.TypeLog().Len(); got != 0 {
		t.Errorf("value matching the last seen type was logged")
	}

	obj, err := vm.NewPlainObject(vm.ObjectPrototype)
	if err != nil {
		t.Fatal(err)
	}
	vm.ProfileType(obj, loc)
	vm.ProcessTypeProfilerLog()
	if diff := cmp.Diff([]uint32{vm.Heap.StructureID(obj.AsCell())}, loc.Structures); diff != "" {
		t.Errorf("structures mismatch (-want +got):\n%s", diff)
	}
}

func TestHasInstance(t *testing.T) {
	vm := newTestVM(t, Options{})
	hasInstance, ok := vm.SpecialPointer(SpecialHasInstanceFunction)
	if !ok || !vm.IsFunction(hasInstance) {
		t.Fatalf("no default hasInstance function")
	}
	ctor, _ := vm.GlobalProperty("Object")
	if vm.OverridesHasInstance(ctor, hasInstance) {
		t.Errorf("Object should use the default hasInstance")
	}
	if !vm.OverridesHasInstance(ctor, value.Undefined) {
		t.Errorf("a different hasInstance must count as an override")
	}
	obj, err := vm.NewPlainObject(vm.ObjectPrototype)
	if err != nil {
		t.Fatal(err)
	}
	r, err := vm.InstanceOfCustom(obj, ctor, hasInstance)
	if err != nil || !r {
		t.Errorf("obj instanceof Object = %v, %v", r, err)
	}
	if _, err := vm.InstanceOf(obj, value.FromInt32(1)); err == nil {
		t.Errorf("InstanceOf with a primitive prototype should throw")
	}
}

func TestConstructUsesPrototype(t *testing.T) {
	vm := newTestVM(t, Options{})
	ctor, _ := vm.GlobalProperty("Array")
	arr, err := vm.Construct(ctor, []value.Value{value.FromInt32(3)})
	if err != nil {
		t.Fatal(err)
	}
	if vm.Heap.PublicLength(arr.AsCell()) != 3 {
		t.Errorf("new Array(3) has length %d", vm.Heap.PublicLength(arr.AsCell()))
	}
	if vm.Prototype(arr) != vm.ArrayPrototype {
		t.Errorf("array prototype mismatch")
	}
	if _, err := vm.NewArrayWithSize(value.FromInt32(-1)); err == nil {
		t.Errorf("negative array length should throw")
	}
}

func TestPrint(t *testing.T) {
	var out bytes.Buffer
	vm := newTestVM(t, Options{Output: &out})
	printFn, ok := vm.GlobalProperty("print")
	if !ok {
		t.Fatal("print is not defined")
	}
	if _, err := vm.Call(printFn, value.Undefined, []value.Value{str(t, vm, "hi"), value.FromInt32(3), value.FromDouble(0.5)}); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "hi 3 0.5\n" {
		t.Errorf("print wrote %q", got)
	}
}

func TestExceptions(t *testing.T) {
	vm := newTestVM(t, Options{})
	err := vm.TypeError("bad %s", "thing")
	e, ok := AsException(err)
	if !ok {
		t.Fatalf("TypeError returned %T", err)
	}
	if e.Uncatchable {
		t.Errorf("TypeError must be catchable")
	}
	if e.Message != "TypeError: bad thing" {
		t.Errorf("message = %q", e.Message)
	}

	vm.SetPendingException(e)
	if p := vm.PendingException(); p == nil || p.Cell != e.Cell {
		t.Fatalf("pending exception not stored")
	}
	if p := vm.TakePendingException(); p.Value != e.Value {
		t.Errorf("taken exception carries %s", vm.Display(p.Value))
	}
	if vm.PendingException() != nil {
		t.Errorf("slot not cleared")
	}

	vm.RequestTermination()
	err = vm.HandleTraps()
	if e, ok := AsException(err); !ok || !e.Uncatchable {
		t.Errorf("termination = %v, want uncatchable exception", err)
	}
	if err := vm.HandleTraps(); err != nil {
		t.Errorf("second HandleTraps = %v", err)
	}
}

func TestCallDepthLimit(t *testing.T) {
	vm := newTestVM(t, Options{MaxCallDepth: 3})
	var fn value.Value
	fn, err := vm.NewHostFunction("recurse", 0, func(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
		return vm.Call(fn, this, nil)
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = vm.Call(fn, value.Undefined, nil)
	e, ok := AsException(err)
	if !ok || !e.Uncatchable {
		t.Fatalf("runaway recursion = %v, want uncatchable exception", err)
	}
	if vm.Depth() != 0 {
		t.Errorf("depth = %d after unwinding", vm.Depth())
	}
}

func TestToThis(t *testing.T) {
	vm := newTestVM(t, Options{})
	var c bytecode.ToThisCache
	r, err := vm.ToThis(value.Undefined, &c)
	if err != nil || r != vm.GlobalObject() {
		t.Errorf("ToThis(undefined) = %s, %v", vm.Display(r), err)
	}
	obj, _ := vm.NewPlainObject(vm.ObjectPrototype)
	if _, err := vm.ToThis(obj, &c); err != nil {
		t.Fatal(err)
	}
	if c.StructureID != vm.Heap.StructureID(obj.AsCell()) {
		t.Errorf("cache = %d, want %d", c.StructureID, vm.Heap.StructureID(obj.AsCell()))
	}
	wrapped, err := vm.ToThis(value.FromInt32(4), &c)
	if err != nil {
		t.Fatal(err)
	}
	if !vm.IsObject(wrapped) || vm.Prototype(wrapped) != vm.NumberPrototype {
		t.Errorf("ToThis(4) = %s", vm.Display(wrapped))
	}
}

func TestFrameLayout(t *testing.T) {
	u := &bytecode.Unit{Name: "f", NumParams: 3, NumLocals: 2}
	f := NewFrame(u, value.Undefined, value.True, []value.Value{value.FromInt32(9)})
	if f.ArgumentCount != 2 {
		t.Errorf("ArgumentCount = %d, want 2", f.ArgumentCount)
	}
	if got := f.Get(bytecode.ThisRegister); got != value.True {
		t.Errorf("this = %v", got)
	}
	if got := f.Get(bytecode.Argument(1)); got != value.FromInt32(9) {
		t.Errorf("argument 1 = %v", got)
	}
	if got := f.Get(bytecode.Argument(2)); got != value.Undefined {
		t.Errorf("missing argument = %v", got)
	}
	f.Set(bytecode.Local(1), value.Null)
	if got := f.Locals(); got[1] != value.Null {
		t.Errorf("locals = %v", got)
	}
}

func TestSwitchImm(t *testing.T) {
	vm := newTestVM(t, Options{})
	table := &bytecode.SimpleJumpTable{Min: 10, Branches: []int32{4, -1, 6}}
	cases := []struct {
		v    value.Value
		want int
	}{
		{value.FromInt32(10), 4},
		{value.FromInt32(11), 99},
		{value.FromDouble(12), 6},
		{value.FromDouble(12.5), 99},
		{value.True, 99},
	}
	for _, c := range cases {
		if got := vm.SwitchImm(table, 99, c.v); got != c.want {
			t.Errorf("SwitchImm(%v) = %d, want %d", c.v, got, c.want)
		}
	}
}

func TestSwitchChar(t *testing.T) {
	vm := newTestVM(t, Options{})
	cases := []struct {
		name string
		v    value.Value
		key  int32
		ok   bool
	}{
		{"ascii", str(t, vm, "a"), 'a', true},
		{"latin", str(t, vm, "é"), 0xe9, true},
		{"bmp", str(t, vm, "€"), 0x20ac, true},
		{"replacement character", str(t, vm, "\uFFFD"), 0xfffd, true},
		{"two characters", str(t, vm, "ab"), 0, false},
		{"empty", str(t, vm, ""), 0, false},
		{"astral", str(t, vm, "😀"), 0, false},
		{"invalid byte", str(t, vm, "\xff"), 0, false},
		{"number", value.FromInt32('a'), 0, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			key, ok := vm.SwitchCharKey(c.v)
			if key != c.key || ok != c.ok {
				t.Errorf("SwitchCharKey = %d, %v, want %d, %v", key, ok, c.key, c.ok)
			}
		})
	}

	table := &bytecode.SimpleJumpTable{Min: 0xe9, Branches: []int32{7}}
	if got := vm.SwitchChar(table, 99, str(t, vm, "é")); got != 7 {
		t.Errorf("SwitchChar(é) = %d, want 7", got)
	}
	if got := vm.SwitchChar(table, 99, str(t, vm, "e")); got != 99 {
		t.Errorf("SwitchChar(e) = %d, want 99", got)
	}
}

func TestRegExp(t *testing.T) {
	vm := newTestVM(t, Options{})
	re, err := vm.NewRegExp(str(t, vm, "^a+b$"), str(t, vm, "i"))
	if err != nil {
		t.Fatal(err)
	}
	if !vm.IsCellWithType(re, heap.RegExpType) {
		t.Fatalf("NewRegExp returned %s", vm.Display(re))
	}
	test, err := vm.GetProperty(re, "test")
	if err != nil {
		t.Fatal(err)
	}
	r, err := vm.Call(test, re, []value.Value{str(t, vm, "AAb")})
	if err != nil || r != value.True {
		t.Errorf("test(AAb) = %v, %v", r, err)
	}
	if _, err := vm.NewRegExp(str(t, vm, "("), value.Undefined); err == nil {
		t.Errorf("invalid pattern should throw")
	}
}
