package value

import (
	"fmt"
	"math"
)

// Pair is the two-word form used on targets without a wide enough pointer:
// a 32-bit payload plus a 32-bit tag. Any tag below TagLowest is the high
// word of a double.
type Pair struct {
	Tag     uint32
	Payload uint32
}

const (
	TagInt32     uint32 = 0xffffffff
	TagBoolean   uint32 = 0xfffffffe
	TagNull      uint32 = 0xfffffffd
	TagUndefined uint32 = 0xfffffffc
	TagCell      uint32 = 0xfffffffb
	TagEmpty     uint32 = 0xfffffffa
	TagDeleted   uint32 = 0xfffffff9

	TagLowest = TagDeleted
)

func (p Pair) IsInt32() bool     { return p.Tag == TagInt32 }
func (p Pair) IsDouble() bool    { return p.Tag < TagLowest }
func (p Pair) IsNumber() bool    { return p.IsInt32() || p.IsDouble() }
func (p Pair) IsCell() bool      { return p.Tag == TagCell }
func (p Pair) IsBoolean() bool   { return p.Tag == TagBoolean }
func (p Pair) IsUndefined() bool { return p.Tag == TagUndefined }
func (p Pair) IsEmpty() bool     { return p.Tag == TagEmpty }

// IsUndefinedOrNull relies on the two tags differing only in the low bit.
func (p Pair) IsUndefinedOrNull() bool { return p.Tag|1 == TagNull }

func PairFromInt32(i int32) Pair { return Pair{Tag: TagInt32, Payload: uint32(i)} }

func PairFromBool(b bool) Pair {
	if b {
		return Pair{Tag: TagBoolean, Payload: 1}
	}
	return Pair{Tag: TagBoolean}
}

func PairFromDouble(d float64) Pair {
	bits := math.Float64bits(d)
	if d != d {
		bits = CanonicalNaNBits
	}
	return Pair{Tag: uint32(bits >> 32), Payload: uint32(bits)}
}

// ToPair converts a 64-bit value. Cells convert only when the address fits in
// the payload word.
func ToPair(v Value) (Pair, error) {
	switch {
	case v == Empty:
		return Pair{Tag: TagEmpty}, nil
	case v == Null:
		return Pair{Tag: TagNull}, nil
	case v == Undefined:
		return Pair{Tag: TagUndefined}, nil
	case v.IsBoolean():
		return PairFromBool(v == True), nil
	case v.IsInt32():
		return PairFromInt32(v.AsInt32()), nil
	case v.IsDouble():
		return PairFromDouble(v.AsDouble()), nil
	case v.IsCell():
		if uint64(v) > math.MaxUint32 {
			return Pair{}, fmt.Errorf("cell address %#x does not fit a payload word", uint64(v))
		}
		return Pair{Tag: TagCell, Payload: uint32(v)}, nil
	}
	return Pair{}, fmt.Errorf("invalid value encoding %#016x", uint64(v))
}

// FromPair converts back to the 64-bit form.
func FromPair(p Pair) (Value, error) {
	switch p.Tag {
	case TagInt32:
		return FromInt32(int32(p.Payload)), nil
	case TagBoolean:
		return FromBool(p.Payload != 0), nil
	case TagNull:
		return Null, nil
	case TagUndefined:
		return Undefined, nil
	case TagCell:
		if p.Payload == 0 {
			return Empty, fmt.Errorf("null cell payload")
		}
		return FromCell(uintptr(p.Payload)), nil
	case TagEmpty:
		return Empty, nil
	case TagDeleted:
		return Empty, fmt.Errorf("deleted value has no 64-bit encoding")
	}
	return FromDouble(math.Float64frombits(uint64(p.Tag)<<32 | uint64(p.Payload))), nil
}
