package bytecode

import (
	"fmt"
	"sync"

	"basejit/pkg/value"
)

// SimpleJumpTable serves switch_imm and switch_char. Branches[i] is the
// target for scrutinee Min+i, or -1 for the default target.
type SimpleJumpTable struct {
	Min      int32
	Branches []int32

	// CTI holds native code addresses, one per branch plus the default in
	// the last slot. It is allocated once and refilled on every compile.
	CTI []uintptr `serialize:"-"`
}

// EnsureCTITable allocates the native address table if needed.
func (t *SimpleJumpTable) EnsureCTITable() {
	if len(t.CTI) != len(t.Branches)+1 {
		t.CTI = make([]uintptr, len(t.Branches)+1)
	}
}

// Lookup returns the branch target for key, or -1.
func (t *SimpleJumpTable) Lookup(key int32) int32 {
	i := int64(key) - int64(t.Min)
	if i < 0 || i >= int64(len(t.Branches)) {
		return -1
	}
	return t.Branches[i]
}

// LookupCTI returns the native address of the branch for key. It reports
// false when key takes the default target.
func (t *SimpleJumpTable) LookupCTI(key int32) (uintptr, bool) {
	i := int64(key) - int64(t.Min)
	if i < 0 || i >= int64(len(t.Branches)) || t.Branches[i] < 0 || i >= int64(len(t.CTI)) {
		return 0, false
	}
	return t.CTI[i], true
}

// StringCase is one arm of a string switch.
type StringCase struct {
	Key    string
	Target int32
}

// StringJumpTable serves switch_string. Keys match by exact content.
type StringJumpTable struct {
	Cases []StringCase

	indexOnce sync.Once
	index     map[string]int
	CTI       []uintptr `serialize:"-"`
}

// buildIndex maps each key to its first case. Both tiers may look keys up
// concurrently, so the map is built once.
func (t *StringJumpTable) buildIndex() {
	t.indexOnce.Do(func() {
		index := make(map[string]int, len(t.Cases))
		for i, c := range t.Cases {
			if _, dup := index[c.Key]; !dup {
				index[c.Key] = i
			}
		}
		t.index = index
	})
}

// EnsureCTITable allocates the native address table if needed. Callers
// hold the unit's compile lock.
func (t *StringJumpTable) EnsureCTITable() {
	t.buildIndex()
	if len(t.CTI) != len(t.Cases)+1 {
		t.CTI = make([]uintptr, len(t.Cases)+1)
	}
}

// Lookup returns the case index for key, or -1.
func (t *StringJumpTable) Lookup(key string) int {
	t.buildIndex()
	if i, ok := t.index[key]; ok {
		return i
	}
	return -1
}

// LookupCTI returns the native address of the case matching key.
func (t *StringJumpTable) LookupCTI(key string) (uintptr, bool) {
	i := t.Lookup(key)
	if i < 0 || i >= len(t.CTI) {
		return 0, false
	}
	return t.CTI[i], true
}

// Handler is an exception handler covering instructions [Start, End).
type Handler struct {
	Start  int32
	End    int32
	Target int32
}

// Unit is the per-function artifact handed to the compilers. Side tables are
// sized before execution starts and never reallocated afterwards, so
// generated code can embed the address of any element.
type Unit struct {
	Name         string
	Instructions []Instruction
	Constants    []Constant
	NumLocals    int
	NumParams    int // including this

	ValueProfiles      []ValueProfile
	ResultProfiles     []ResultProfile
	ArrayProfiles      []ArrayProfile
	AllocationProfiles []AllocationProfile
	ToThisCaches       []ToThisCache
	CreateThisCaches   []CreateThisCache
	PointerFlags       []PointerFlag
	CatchProfiles      []CatchProfile
	TypeLocations      []TypeLocation
	BasicBlocks        []BasicBlock
	SwitchTables       []SimpleJumpTable
	StringSwitchTables []StringJumpTable
	Handlers           []Handler

	// ExecuteCounter counts towards tier-up. It starts negative and the
	// transfer is requested once it reaches zero.
	ExecuteCounter int32 `serialize:"-"`

	// Values holds the materialized constant pool once the unit is linked.
	Values []value.Value `serialize:"-"`
	// Index is the unit's executable index inside its VM.
	Index uint32 `serialize:"-"`
}

// Constant returns the linked value of constant register r.
func (u *Unit) Constant(r VirtualRegister) value.Value {
	return u.Values[r.ToConstantIndex()]
}

// Linked reports whether the constant pool has been materialized.
func (u *Unit) Linked() bool { return len(u.Values) == len(u.Constants) }

// HandlerFor returns the innermost handler covering instruction index.
func (u *Unit) HandlerFor(index int) (Handler, bool) {
	best := -1
	for i, h := range u.Handlers {
		if int(h.Start) <= index && index < int(h.End) {
			if best < 0 || h.End-h.Start < u.Handlers[best].End-u.Handlers[best].Start {
				best = i
			}
		}
	}
	if best < 0 {
		return Handler{}, false
	}
	return u.Handlers[best], true
}

// Validate checks operand ranges against the unit's tables.
func (u *Unit) Validate() error {
	n := len(u.Instructions)
	if n == 0 {
		return fmt.Errorf("%s: empty instruction stream", u.Name)
	}
	if u.NumParams < 1 {
		return fmt.Errorf("%s: NumParams must count this", u.Name)
	}
	for i, ins := range u.Instructions {
		if !ins.Op.Valid() {
			return fmt.Errorf("%s@%d: invalid opcode %d", u.Name, i, ins.Op)
		}
		for j, k := range ins.Op.Operands() {
			if err := u.validateOperand(k, ins.Args[j]); err != nil {
				return fmt.Errorf("%s@%d %s operand %d: %w", u.Name, i, ins.Op, j, err)
			}
		}
		if ins.Op == OpNewArray {
			first, count := ins.Reg(1), ins.Int(2)
			if count < 0 || (count > 0 && (!first.IsLocal() || first.ToLocal()+count > u.NumLocals)) {
				return fmt.Errorf("%s@%d: element range %s+%d outside locals", u.Name, i, first, count)
			}
		}
		if ins.Op == OpCall || ins.Op == OpConstruct {
			argIdx := 3
			if ins.Op == OpConstruct {
				argIdx = 2
			}
			first, count := ins.Reg(argIdx), ins.Int(argIdx+1)
			if count < 0 || (count > 0 && (!first.IsLocal() || first.ToLocal()+count > u.NumLocals)) {
				return fmt.Errorf("%s@%d: argument range %s+%d outside locals", u.Name, i, first, count)
			}
		}
	}
	last := u.Instructions[n-1].Op
	if !last.IsTerminal() {
		return fmt.Errorf("%s: stream ends with %s, which falls through", u.Name, last)
	}
	for _, t := range u.SwitchTables {
		for _, b := range t.Branches {
			if b < -1 || int(b) >= n {
				return fmt.Errorf("%s: switch target %d out of range", u.Name, b)
			}
		}
	}
	for i := range u.StringSwitchTables {
		for _, c := range u.StringSwitchTables[i].Cases {
			if c.Target < 0 || int(c.Target) >= n {
				return fmt.Errorf("%s: switch target %d out of range", u.Name, c.Target)
			}
		}
	}
	for _, h := range u.Handlers {
		if h.Start < 0 || h.Start > h.End || int(h.End) > n || h.Target < 0 || int(h.Target) >= n {
			return fmt.Errorf("%s: handler %+v out of range", u.Name, h)
		}
	}
	for _, c := range u.CatchProfiles {
		if len(c.Profiles) != len(c.Operands) {
			return fmt.Errorf("%s: catch profile has %d operands but %d profiles", u.Name, len(c.Operands), len(c.Profiles))
		}
		for _, r := range c.Operands {
			if err := u.validateRegister(r, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (u *Unit) validateRegister(r VirtualRegister, constantOK bool) error {
	switch {
	case r.IsConstant():
		if !constantOK {
			return fmt.Errorf("constant %s not allowed here", r)
		}
		if r.ToConstantIndex() >= len(u.Constants) {
			return fmt.Errorf("constant %s out of range", r)
		}
	case r.IsArgument():
		// Arguments beyond NumParams read as undefined through get_argument;
		// direct references must stay within the declared parameters.
		if r.ToArgument() >= u.NumParams {
			return fmt.Errorf("argument %s out of range", r)
		}
	default:
		if r.ToLocal() >= u.NumLocals {
			return fmt.Errorf("local %s out of range", r)
		}
	}
	return nil
}

func (u *Unit) validateOperand(k OperandKind, a int32) error {
	r := VirtualRegister(a)
	n := int(a)
	within := func(length int) error {
		if n < 0 || n >= length {
			return fmt.Errorf("index %d out of range [0,%d)", n, length)
		}
		return nil
	}
	switch k {
	case OperandDst:
		return u.validateRegister(r, false)
	case OperandSrc:
		return u.validateRegister(r, true)
	case OperandReg:
		if r.IsConstant() || r.IsArgument() {
			return fmt.Errorf("range start %s must be a local", r)
		}
		return nil
	case OperandImm:
		return nil
	case OperandTarget:
		return within(len(u.Instructions))
	case OperandSwitchTable:
		return within(len(u.SwitchTables))
	case OperandStringSwitchTable:
		return within(len(u.StringSwitchTables))
	case OperandValueProfile:
		return within(len(u.ValueProfiles))
	case OperandResultProfile:
		return within(len(u.ResultProfiles))
	case OperandArrayProfile:
		return within(len(u.ArrayProfiles))
	case OperandAllocationProfile:
		return within(len(u.AllocationProfiles))
	case OperandToThisCache:
		return within(len(u.ToThisCaches))
	case OperandCreateThisCache:
		return within(len(u.CreateThisCaches))
	case OperandPointerFlag:
		return within(len(u.PointerFlags))
	case OperandCatchProfile:
		if n == -1 {
			return nil
		}
		return within(len(u.CatchProfiles))
	case OperandTypeLocation:
		return within(len(u.TypeLocations))
	case OperandBasicBlock:
		return within(len(u.BasicBlocks))
	}
	return fmt.Errorf("unknown operand kind %d", k)
}

// Program is a set of units; new_func refers to units by index.
type Program struct {
	Units []*Unit
	Main  int
}

// Lookup finds a unit by name.
func (p *Program) Lookup(name string) (*Unit, bool) {
	for _, u := range p.Units {
		if u.Name == name {
			return u, true
		}
	}
	return nil, false
}
