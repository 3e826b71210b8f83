package bytecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"basejit/pkg/value"
)

// ConstantKind tags a constant pool entry.
type ConstantKind uint8

const (
	ConstUndefined ConstantKind = iota
	ConstNull
	ConstTrue
	ConstFalse
	ConstEmpty
	ConstInt32
	ConstDouble
	ConstString
	ConstWellKnownSymbol
)

// Constant is the serializable description of a constant. Cell constants
// (strings, symbols) are materialized when the unit is linked into a VM.
type Constant struct {
	Kind   ConstantKind
	Int    int32
	Double float64
	Str    string
}

func IntConstant(i int32) Constant      { return Constant{Kind: ConstInt32, Int: i} }
func DoubleConstant(d float64) Constant { return Constant{Kind: ConstDouble, Double: d} }
func StringConstant(s string) Constant  { return Constant{Kind: ConstString, Str: s} }

// NumberConstant prefers the int32 form when exact.
func NumberConstant(d float64) Constant {
	if v := value.FromNumber(d); v.IsInt32() {
		return IntConstant(v.AsInt32())
	}
	return DoubleConstant(d)
}

// Immediate returns the encoded value of a non-cell constant.
func (c Constant) Immediate() (value.Value, bool) {
	switch c.Kind {
	case ConstUndefined:
		return value.Undefined, true
	case ConstNull:
		return value.Null, true
	case ConstTrue:
		return value.True, true
	case ConstFalse:
		return value.False, true
	case ConstEmpty:
		return value.Empty, true
	case ConstInt32:
		return value.FromInt32(c.Int), true
	case ConstDouble:
		return value.FromDouble(c.Double), true
	}
	return value.Empty, false
}

func (c Constant) String() string {
	switch c.Kind {
	case ConstUndefined:
		return "undefined"
	case ConstNull:
		return "null"
	case ConstTrue:
		return "true"
	case ConstFalse:
		return "false"
	case ConstEmpty:
		return "empty"
	case ConstInt32:
		return strconv.Itoa(int(c.Int))
	case ConstDouble:
		if c.Double == 0 && math.Signbit(c.Double) {
			return "-0.0"
		}
		s := value.FormatNumber(c.Double)
		if math.Trunc(c.Double) == c.Double && !strings.ContainsAny(s, "eI") {
			s += ".0"
		}
		return s
	case ConstString:
		return strconv.Quote(c.Str)
	case ConstWellKnownSymbol:
		return "@" + c.Str
	}
	return fmt.Sprintf("<constant kind %d>", c.Kind)
}
