package value

import (
	"fmt"
	"math"
)

// Value is one tagged machine word.
//
// Layout (64-bit form):
//
//	Pointer   { 0000:PPPP:PPPP:PPPP }
//	Double    { 0002:****:****:**** .. FFFC:****:****:**** }  (bits + 2^49)
//	Integer   { FFFE:0000:IIII:IIII }
//
// The remaining immediates live in the low byte with the "other" tag set:
//
//	Null 0x02, False 0x06, True 0x07, Undefined 0x0a, Empty 0x00
//
// Empty is never a language value; it marks uninitialized slots and holes.
type Value uint64

const (
	// NumberTag marks int32 values; any of its bits set means "number".
	NumberTag uint64 = 0xfffe000000000000
	// DoubleEncodeOffset is added to raw double bits when boxing.
	DoubleEncodeOffset uint64 = 1 << 49

	OtherTag     uint64 = 0x2
	BoolTag      uint64 = 0x4
	UndefinedTag uint64 = 0x8

	// NotCellMask has a bit set for every non-pointer encoding.
	NotCellMask = NumberTag | OtherTag

	CanonicalNaNBits uint64 = 0x7ff8000000000000
)

const (
	Empty     Value = 0
	Null      Value = Value(OtherTag)
	False     Value = Value(OtherTag | BoolTag)
	True      Value = Value(OtherTag | BoolTag | 1)
	Undefined Value = Value(OtherTag | UndefinedTag)
)

// FromInt32 boxes a 32-bit integer.
func FromInt32(i int32) Value {
	return Value(NumberTag | uint64(uint32(i)))
}

// FromDouble boxes d as a double even when it holds an integral value.
// NaNs are canonicalized so no payload can reach the integer range.
func FromDouble(d float64) Value {
	if d != d {
		return Value(CanonicalNaNBits + DoubleEncodeOffset)
	}
	return Value(math.Float64bits(d) + DoubleEncodeOffset)
}

// FromNumber boxes d, preferring the int32 encoding when it is exact.
// Negative zero stays a double.
func FromNumber(d float64) Value {
	if i := int32(d); float64(i) == d && !(i == 0 && math.Signbit(d)) {
		return FromInt32(i)
	}
	return FromDouble(d)
}

// FromBool boxes a boolean.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// FromCell boxes a heap address. The address must be non-zero and 8-byte aligned.
func FromCell(addr uintptr) Value {
	return Value(addr)
}

func (v Value) IsEmpty() bool { return v == Empty }

func (v Value) IsInt32() bool { return uint64(v) >= NumberTag }

func (v Value) IsNumber() bool { return uint64(v)&NumberTag != 0 }

func (v Value) IsDouble() bool { return v.IsNumber() && !v.IsInt32() }

// IsCell reports whether v is a heap reference.
func (v Value) IsCell() bool { return uint64(v)&NotCellMask == 0 && v != Empty }

func (v Value) IsBoolean() bool { return (uint64(v)^uint64(False))&^1 == 0 }

func (v Value) IsUndefined() bool { return v == Undefined }

func (v Value) IsNull() bool { return v == Null }

// IsUndefinedOrNull clears the undefined bit and compares against null.
func (v Value) IsUndefinedOrNull() bool { return uint64(v)&^UndefinedTag == uint64(Null) }

func (v Value) AsInt32() int32 { return int32(uint32(v)) }

func (v Value) AsDouble() float64 {
	return math.Float64frombits(uint64(v) - DoubleEncodeOffset)
}

// AsNumber returns the numeric payload of an int32 or double value.
func (v Value) AsNumber() float64 {
	if v.IsInt32() {
		return float64(v.AsInt32())
	}
	return v.AsDouble()
}

func (v Value) AsBool() bool { return v == True }

func (v Value) AsCell() uintptr { return uintptr(v) }

// Bits returns the raw encoding.
func (v Value) Bits() uint64 { return uint64(v) }

func (v Value) String() string {
	switch {
	case v == Empty:
		return "<empty>"
	case v == Null:
		return "null"
	case v == Undefined:
		return "undefined"
	case v == True:
		return "true"
	case v == False:
		return "false"
	case v.IsInt32():
		return fmt.Sprintf("%d", v.AsInt32())
	case v.IsDouble():
		return FormatNumber(v.AsDouble())
	case v.IsCell():
		return fmt.Sprintf("cell@%#x", uint64(v))
	}
	return fmt.Sprintf("<bad %#016x>", uint64(v))
}
