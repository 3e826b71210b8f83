package bytecode

import (
	"math"
	"sync/atomic"
	"unsafe"

	"basejit/pkg/value"
)

// Result profile flags. Generated code and generic operations only ever set
// bits; a missed flag is acceptable, a spurious one is not.
const (
	NegZeroDouble    uint32 = 1 << 0
	NonNegZeroDouble uint32 = 1 << 1
	Int52Overflow    uint32 = 1 << 2
	LHSNonNumber     uint32 = 1 << 3
	RHSNonNumber     uint32 = 1 << 4
	Int32Overflowed  uint32 = 1 << 5
	NonNumeric       uint32 = 1 << 6
)

// OperandType is the static knowledge the producer has about an arithmetic operand.
type OperandType uint8

const (
	OperandUnknown OperandType = iota
	OperandDefinitelyNumber
	OperandNeverNumber
)

// ResultProfile records what an arithmetic instruction has produced.
type ResultProfile struct {
	Flags uint32
	Left  OperandType
	Right OperandType
}

func (p *ResultProfile) Address() uintptr { return uintptr(unsafe.Pointer(&p.Flags)) }

func (p *ResultProfile) Load() uint32 { return atomic.LoadUint32(&p.Flags) }

func (p *ResultProfile) Set(flags uint32) {
	for {
		old := atomic.LoadUint32(&p.Flags)
		if old&flags == flags || atomic.CompareAndSwapUint32(&p.Flags, old, old|flags) {
			return
		}
	}
}

// ObserveDouble classifies a double result the same way generated code does.
func (p *ResultProfile) ObserveDouble(d float64) {
	bits := math.Float64bits(d)
	if value.IsNegativeZeroBits(bits) {
		p.Set(NegZeroDouble)
		return
	}
	flags := NonNegZeroDouble
	if value.ExceedsInt52(bits) {
		flags |= Int52Overflow
	}
	p.Set(flags)
}

// ValueProfile remembers the last value seen at a profiling site.
type ValueProfile struct {
	LastSeen uint64
}

func (p *ValueProfile) Address() uintptr { return uintptr(unsafe.Pointer(&p.LastSeen)) }

func (p *ValueProfile) Record(v value.Value) { atomic.StoreUint64(&p.LastSeen, uint64(v)) }

func (p *ValueProfile) Last() value.Value { return value.Value(atomic.LoadUint64(&p.LastSeen)) }

// ArrayProfile tracks the structures and indexing shapes seen by an
// indexed access.
type ArrayProfile struct {
	LastSeenStructureID uint32
	ObservedShapes      uint32 // bit (shape>>1) per shape seen
}

func (p *ArrayProfile) Address() uintptr {
	return uintptr(unsafe.Pointer(&p.LastSeenStructureID))
}

func (p *ArrayProfile) ObserveShape(shape uint8) {
	bit := uint32(1) << (shape >> 1)
	for {
		old := atomic.LoadUint32(&p.ObservedShapes)
		if old&bit != 0 || atomic.CompareAndSwapUint32(&p.ObservedShapes, old, old|bit) {
			return
		}
	}
}

func (p *ArrayProfile) Shapes() uint32 { return atomic.LoadUint32(&p.ObservedShapes) }

// AllocationProfile describes how new_object allocates. It is filled when the
// unit is linked; Allocator is zero when inline allocation is impossible.
type AllocationProfile struct {
	Allocator      uint64
	StructureID    uint32
	InlineCapacity uint32
}

// ToThisCache remembers the structure last converted by to_this.
type ToThisCache struct {
	StructureID uint32
}

func (c *ToThisCache) Address() uintptr { return uintptr(unsafe.Pointer(&c.StructureID)) }

// SeenMultipleCallees marks a create_this site that saw more than one callee.
const SeenMultipleCallees uint64 = 1

// CreateThisCache remembers the callee of a create_this site.
type CreateThisCache struct {
	Callee uint64
}

func (c *CreateThisCache) Address() uintptr { return uintptr(unsafe.Pointer(&c.Callee)) }

// PointerFlag is set by jneq_ptr when the comparison failed.
type PointerFlag struct {
	Mismatch int32
}

func (f *PointerFlag) Address() uintptr { return uintptr(unsafe.Pointer(&f.Mismatch)) }

// CatchProfile lists the registers live into a catch handler, with one value
// profile each.
type CatchProfile struct {
	Operands []VirtualRegister
	Profiles []ValueProfile
}

// Type profiler categories.
type TypeSet uint32

const (
	TypeNothing   TypeSet = 0
	TypeUndefined TypeSet = 1 << 0
	TypeNull      TypeSet = 1 << 1
	TypeBoolean   TypeSet = 1 << 2
	TypeAnyInt    TypeSet = 1 << 3
	TypeNumber    TypeSet = 1 << 4
	TypeString    TypeSet = 1 << 5
	TypeObject    TypeSet = 1 << 6
	TypeSymbol    TypeSet = 1 << 7
)

// TypeLocation accumulates the types observed at one profile_type site.
// LastSeen drives the inline filter that skips logging repeated types.
type TypeLocation struct {
	Seen       TypeSet
	LastSeen   TypeSet
	Structures []uint32
}

// AddStructure records a structure ID once.
func (l *TypeLocation) AddStructure(id uint32) {
	for _, s := range l.Structures {
		if s == id {
			return
		}
	}
	l.Structures = append(l.Structures, id)
}

// BasicBlock counts executions of a profiled block.
type BasicBlock struct {
	ExecutionCount uint64
}

func (b *BasicBlock) Address() uintptr { return uintptr(unsafe.Pointer(&b.ExecutionCount)) }

func (b *BasicBlock) Count() uint64 { return atomic.LoadUint64(&b.ExecutionCount) }
