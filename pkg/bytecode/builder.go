package bytecode

import (
	"fmt"
	"math"
)

// Builder assembles a Unit. Side-table operands are allocated by the builder
// and must not be passed to Emit; jump targets are passed as label references.
type Builder struct {
	unit      *Unit
	constants map[constantKey]VirtualRegister
	labels    map[string]int
	refs      []string
	fixups    []fixup
	err       error
}

type constantKey struct {
	kind ConstantKind
	bits uint64
	str  string
}

type fixup struct {
	label string
	set   func(int32)
}

// labelRefBase marks operands that name a label. Real targets are
// non-negative instruction indices, so the range cannot collide.
const labelRefBase = math.MinInt32 / 2

func NewBuilder(name string, numParams, numLocals int) *Builder {
	return &Builder{
		unit: &Unit{
			Name:      name,
			NumParams: numParams,
			NumLocals: numLocals,
		},
		constants: make(map[constantKey]VirtualRegister),
		labels:    make(map[string]int),
	}
}

// Constant interns c in the constant pool.
func (b *Builder) Constant(c Constant) VirtualRegister {
	key := constantKey{kind: c.Kind, bits: math.Float64bits(c.Double), str: c.Str}
	if c.Kind == ConstInt32 {
		key.bits = uint64(uint32(c.Int))
	}
	if r, ok := b.constants[key]; ok {
		return r
	}
	r := ConstantRegister(len(b.unit.Constants))
	b.unit.Constants = append(b.unit.Constants, c)
	b.constants[key] = r
	return r
}

func (b *Builder) Int(i int32) VirtualRegister      { return b.Constant(IntConstant(i)) }
func (b *Builder) Double(d float64) VirtualRegister { return b.Constant(DoubleConstant(d)) }
func (b *Builder) String(s string) VirtualRegister  { return b.Constant(StringConstant(s)) }
func (b *Builder) Undefined() VirtualRegister       { return b.Constant(Constant{Kind: ConstUndefined}) }
func (b *Builder) Null() VirtualRegister            { return b.Constant(Constant{Kind: ConstNull}) }
func (b *Builder) Bool(v bool) VirtualRegister {
	if v {
		return b.Constant(Constant{Kind: ConstTrue})
	}
	return b.Constant(Constant{Kind: ConstFalse})
}

// Label binds name to the next emitted instruction.
func (b *Builder) Label(name string) {
	if _, dup := b.labels[name]; dup {
		b.fail(fmt.Errorf("label %q defined twice", name))
		return
	}
	b.labels[name] = len(b.unit.Instructions)
}

// Ref returns an operand standing for the instruction bound to name.
func (b *Builder) Ref(name string) int32 {
	for i, r := range b.refs {
		if r == name {
			return int32(labelRefBase + i)
		}
	}
	b.refs = append(b.refs, name)
	return int32(labelRefBase + len(b.refs) - 1)
}

func (b *Builder) refName(a int32) (string, bool) {
	i := int(a) - labelRefBase
	if a >= 0 || i < 0 || i >= len(b.refs) {
		return "", false
	}
	return b.refs[i], true
}

// Here returns the index the next instruction will get.
func (b *Builder) Here() int { return len(b.unit.Instructions) }

// Emit appends an instruction. args lists the non-side-table operands in
// layout order; register operands are passed as int32(VirtualRegister).
func (b *Builder) Emit(op Opcode, args ...int32) int {
	index := len(b.unit.Instructions)
	if !op.Valid() {
		b.fail(fmt.Errorf("@%d: invalid opcode %d", index, op))
		return index
	}
	ins := Instruction{Op: op}
	next := 0
	for i, k := range op.Operands() {
		if k.IsSideTable() {
			ins.Args[i] = b.allocate(k)
			continue
		}
		if next >= len(args) {
			b.fail(fmt.Errorf("@%d %s: missing operand %d", index, op, i))
			return index
		}
		a := args[next]
		next++
		if k == OperandTarget {
			if name, ok := b.refName(a); ok {
				slot := i
				b.fixups = append(b.fixups, fixup{label: name, set: func(t int32) {
					b.unit.Instructions[index].Args[slot] = t
				}})
				a = 0
			}
		}
		ins.Args[i] = a
	}
	if next != len(args) {
		b.fail(fmt.Errorf("@%d %s: %d operands given, %d used", index, op, len(args), next))
	}
	b.unit.Instructions = append(b.unit.Instructions, ins)
	return index
}

func (b *Builder) allocate(k OperandKind) int32 {
	u := b.unit
	switch k {
	case OperandValueProfile:
		u.ValueProfiles = append(u.ValueProfiles, ValueProfile{})
		return int32(len(u.ValueProfiles) - 1)
	case OperandResultProfile:
		u.ResultProfiles = append(u.ResultProfiles, ResultProfile{})
		return int32(len(u.ResultProfiles) - 1)
	case OperandArrayProfile:
		u.ArrayProfiles = append(u.ArrayProfiles, ArrayProfile{})
		return int32(len(u.ArrayProfiles) - 1)
	case OperandAllocationProfile:
		u.AllocationProfiles = append(u.AllocationProfiles, AllocationProfile{})
		return int32(len(u.AllocationProfiles) - 1)
	case OperandToThisCache:
		u.ToThisCaches = append(u.ToThisCaches, ToThisCache{})
		return int32(len(u.ToThisCaches) - 1)
	case OperandCreateThisCache:
		u.CreateThisCaches = append(u.CreateThisCaches, CreateThisCache{})
		return int32(len(u.CreateThisCaches) - 1)
	case OperandPointerFlag:
		u.PointerFlags = append(u.PointerFlags, PointerFlag{})
		return int32(len(u.PointerFlags) - 1)
	case OperandCatchProfile:
		// Every local may be live into a handler.
		operands := make([]VirtualRegister, u.NumLocals)
		for i := range operands {
			operands[i] = Local(i)
		}
		u.CatchProfiles = append(u.CatchProfiles, CatchProfile{
			Operands: operands,
			Profiles: make([]ValueProfile, len(operands)),
		})
		return int32(len(u.CatchProfiles) - 1)
	case OperandTypeLocation:
		u.TypeLocations = append(u.TypeLocations, TypeLocation{})
		return int32(len(u.TypeLocations) - 1)
	case OperandBasicBlock:
		u.BasicBlocks = append(u.BasicBlocks, BasicBlock{})
		return int32(len(u.BasicBlocks) - 1)
	}
	b.fail(fmt.Errorf("operand kind %d is not a side table", k))
	return 0
}

// SwitchTable registers an imm/char jump table. An empty label leaves the
// entry on the default target.
func (b *Builder) SwitchTable(min int32, labels []string) int32 {
	id := len(b.unit.SwitchTables)
	branches := make([]int32, len(labels))
	b.unit.SwitchTables = append(b.unit.SwitchTables, SimpleJumpTable{Min: min, Branches: branches})
	for i, l := range labels {
		branches[i] = -1
		if l == "" {
			continue
		}
		slot := i
		b.fixups = append(b.fixups, fixup{label: l, set: func(t int32) {
			b.unit.SwitchTables[id].Branches[slot] = t
		}})
	}
	return int32(id)
}

// StringSwitchTable registers a string jump table. keys and labels pair up.
func (b *Builder) StringSwitchTable(keys, labels []string) int32 {
	if len(keys) != len(labels) {
		b.fail(fmt.Errorf("string switch table: %d keys, %d labels", len(keys), len(labels)))
		return 0
	}
	id := len(b.unit.StringSwitchTables)
	cases := make([]StringCase, len(keys))
	for i := range keys {
		cases[i].Key = keys[i]
		slot := i
		b.fixups = append(b.fixups, fixup{label: labels[i], set: func(t int32) {
			b.unit.StringSwitchTables[id].Cases[slot].Target = t
		}})
	}
	b.unit.StringSwitchTables = append(b.unit.StringSwitchTables, StringJumpTable{Cases: cases})
	return int32(id)
}

// Handler covers [start, end) with a handler at target, all given as labels.
func (b *Builder) Handler(start, end, target string) {
	id := len(b.unit.Handlers)
	b.unit.Handlers = append(b.unit.Handlers, Handler{})
	h := func(set func(*Handler, int32)) func(int32) {
		return func(t int32) { set(&b.unit.Handlers[id], t) }
	}
	b.fixups = append(b.fixups,
		fixup{label: start, set: h(func(x *Handler, t int32) { x.Start = t })},
		fixup{label: end, set: h(func(x *Handler, t int32) { x.End = t })},
		fixup{label: target, set: h(func(x *Handler, t int32) { x.Target = t })},
	)
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Finish resolves labels and validates the unit.
func (b *Builder) Finish() (*Unit, error) {
	if b.err != nil {
		return nil, fmt.Errorf("%s: %w", b.unit.Name, b.err)
	}
	for _, f := range b.fixups {
		t, ok := b.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("%s: undefined label %q", b.unit.Name, f.label)
		}
		f.set(int32(t))
	}
	if err := b.unit.Validate(); err != nil {
		return nil, err
	}
	return b.unit, nil
}
