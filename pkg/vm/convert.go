package vm

import (
	"math"
	"strconv"
	"strings"

	"basejit/pkg/bytecode"
	"basejit/pkg/heap"
	"basejit/pkg/value"
)

// NewString allocates a string cell.
func (vm *VM) NewString(s string) (value.Value, error) {
	cell, err := vm.Heap.NewString(s)
	if err != nil {
		return value.Empty, err
	}
	return value.FromCell(cell), nil
}

func (vm *VM) cellType(v value.Value) (heap.CellType, bool) {
	if !v.IsCell() {
		return 0, false
	}
	return vm.Heap.Type(v.AsCell()), true
}

func (vm *VM) IsString(v value.Value) bool {
	t, ok := vm.cellType(v)
	return ok && t == heap.StringType
}

func (vm *VM) IsSymbol(v value.Value) bool {
	t, ok := vm.cellType(v)
	return ok && t == heap.SymbolType
}

func (vm *VM) IsObject(v value.Value) bool {
	t, ok := vm.cellType(v)
	return ok && t.IsObject()
}

func (vm *VM) IsFunction(v value.Value) bool {
	t, ok := vm.cellType(v)
	return ok && t == heap.FunctionType
}

// IsCellWithType implements is_cell_with_type.
func (vm *VM) IsCellWithType(v value.Value, t heap.CellType) bool {
	ct, ok := vm.cellType(v)
	return ok && ct == t
}

// StringOf returns the contents of a string value.
func (vm *VM) StringOf(v value.Value) string { return vm.Heap.StringValue(v.AsCell()) }

// MasqueradesAsUndefined reports the legacy undefined-like objects.
func (vm *VM) MasqueradesAsUndefined(v value.Value) bool {
	return v.IsCell() && vm.Heap.Flags(v.AsCell())&heap.MasqueradesAsUndefined != 0
}

// ToBoolean never calls out.
func (vm *VM) ToBoolean(v value.Value) bool {
	switch {
	case v.IsInt32():
		return v.AsInt32() != 0
	case v.IsDouble():
		d := v.AsDouble()
		return d != 0 && !math.IsNaN(d)
	case v.IsBoolean():
		return v.AsBool()
	case v.IsCell():
		if vm.IsString(v) {
			return vm.StringOf(v) != ""
		}
		return !vm.MasqueradesAsUndefined(v)
	}
	return false
}

// ToPrimitive converts objects with valueOf then toString (toString first
// when hintString is set). Other values are returned unchanged.
func (vm *VM) ToPrimitive(v value.Value, hintString bool) (value.Value, error) {
	if !vm.IsObject(v) {
		return v, nil
	}
	methods := []string{"valueOf", "toString"}
	if hintString {
		methods[0], methods[1] = methods[1], methods[0]
	}
	for _, name := range methods {
		fn, err := vm.GetProperty(v, name)
		if err != nil {
			return value.Empty, err
		}
		if !vm.IsFunction(fn) {
			continue
		}
		r, err := vm.Call(fn, v, nil)
		if err != nil {
			return value.Empty, err
		}
		if !vm.IsObject(r) {
			return r, nil
		}
	}
	return value.Empty, vm.TypeError("cannot convert object to primitive value")
}

// ToNumeric returns the float64 value of v, running conversions as needed.
func (vm *VM) ToNumeric(v value.Value) (float64, error) {
	switch {
	case v.IsNumber():
		return v.AsNumber(), nil
	case v.IsUndefined():
		return math.NaN(), nil
	case v.IsNull():
		return 0, nil
	case v.IsBoolean():
		if v.AsBool() {
			return 1, nil
		}
		return 0, nil
	case vm.IsString(v):
		return value.ParseNumber(vm.StringOf(v)), nil
	case vm.IsSymbol(v):
		return 0, vm.TypeError("cannot convert a symbol to a number")
	case vm.IsObject(v):
		p, err := vm.ToPrimitive(v, false)
		if err != nil {
			return 0, err
		}
		return vm.ToNumeric(p)
	}
	return math.NaN(), nil
}

// ToNumber implements to_number and records the result in p.
func (vm *VM) ToNumber(v value.Value, p *bytecode.ValueProfile) (value.Value, error) {
	if v.IsNumber() {
		if p != nil {
			p.Record(v)
		}
		return v, nil
	}
	d, err := vm.ToNumeric(v)
	if err != nil {
		return value.Empty, err
	}
	r := value.FromNumber(d)
	if p != nil {
		p.Record(r)
	}
	return r, nil
}

// ToGoString converts v to a Go string following the language rules.
func (vm *VM) ToGoString(v value.Value) (string, error) {
	switch {
	case v.IsInt32():
		return strconv.Itoa(int(v.AsInt32())), nil
	case v.IsDouble():
		return value.FormatNumber(v.AsDouble()), nil
	case v.IsUndefined():
		return "undefined", nil
	case v.IsNull():
		return "null", nil
	case v.IsBoolean():
		return strconv.FormatBool(v.AsBool()), nil
	case vm.IsString(v):
		return vm.StringOf(v), nil
	case vm.IsSymbol(v):
		return "", vm.TypeError("cannot convert a symbol to a string")
	case vm.IsObject(v):
		p, err := vm.ToPrimitive(v, true)
		if err != nil {
			return "", err
		}
		return vm.ToGoString(p)
	}
	return "", vm.TypeError("cannot convert value to a string")
}

// ToString implements to_string.
func (vm *VM) ToString(v value.Value) (value.Value, error) {
	if vm.IsString(v) {
		return v, nil
	}
	s, err := vm.ToGoString(v)
	if err != nil {
		return value.Empty, err
	}
	return vm.NewString(s)
}

// ToObject implements to_object: objects pass through, primitives are
// wrapped and undefined or null throw.
func (vm *VM) ToObject(v value.Value, p *bytecode.ValueProfile) (value.Value, error) {
	r, err := vm.toObject(v)
	if err != nil {
		return value.Empty, err
	}
	if p != nil {
		p.Record(r)
	}
	return r, nil
}

func (vm *VM) toObject(v value.Value) (value.Value, error) {
	if vm.IsObject(v) {
		return v, nil
	}
	if v.IsUndefinedOrNull() || v.IsEmpty() {
		return value.Empty, vm.TypeError("cannot convert %s to object", vm.Display(v))
	}
	proto := vm.prototypeForPrimitive(v)
	obj, err := vm.NewPlainObject(proto)
	if err != nil {
		return value.Empty, err
	}
	if err := vm.Heap.PutOwnProperty(obj.AsCell(), primitiveValueKey, v); err != nil {
		return value.Empty, err
	}
	return obj, nil
}

// ToThis implements to_this for sloppy functions. FinalObject structures
// seen here are cached in c so generated code can skip the call.
func (vm *VM) ToThis(v value.Value, c *bytecode.ToThisCache) (value.Value, error) {
	if vm.IsObject(v) {
		if c != nil && vm.Heap.Type(v.AsCell()) == heap.FinalObjectType {
			c.StructureID = vm.Heap.StructureID(v.AsCell())
		}
		return v, nil
	}
	if v.IsUndefinedOrNull() {
		return vm.GlobalObject(), nil
	}
	return vm.toObject(v)
}

// PropertyKey converts a value to the string key used by the object model.
// Symbols map to hidden keys that enumeration skips.
func (vm *VM) PropertyKey(v value.Value) (string, error) {
	if vm.IsSymbol(v) {
		return symbolKey(vm.Heap.SymbolID(v.AsCell())), nil
	}
	if p, err := vm.ToPrimitive(v, true); err != nil {
		return "", err
	} else {
		v = p
	}
	if vm.IsSymbol(v) {
		return symbolKey(vm.Heap.SymbolID(v.AsCell())), nil
	}
	return vm.ToGoString(v)
}

const hiddenKeyPrefix = "\x00"

const primitiveValueKey = hiddenKeyPrefix + "primitive"

func symbolKey(id uint32) string { return hiddenKeyPrefix + strconv.FormatUint(uint64(id), 10) }

func isHiddenKey(k string) bool { return strings.HasPrefix(k, hiddenKeyPrefix) }

// arrayIndex parses canonical array index keys.
func arrayIndex(key string) (uint32, bool) {
	if key == "" || len(key) > 10 || (len(key) > 1 && key[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(key, 10, 32)
	if err != nil || n == math.MaxUint32 {
		return 0, false
	}
	return uint32(n), true
}

// TypeSetOf classifies v for the type profiler.
func (vm *VM) TypeSetOf(v value.Value) bytecode.TypeSet {
	switch {
	case v.IsUndefined():
		return bytecode.TypeUndefined
	case v.IsNull():
		return bytecode.TypeNull
	case v.IsBoolean():
		return bytecode.TypeBoolean
	case v.IsInt32():
		return bytecode.TypeAnyInt
	case v.IsDouble():
		d := v.AsDouble()
		if d == math.Trunc(d) && math.Abs(d) < 1<<52 && !value.IsNegativeZeroBits(math.Float64bits(d)) {
			return bytecode.TypeAnyInt
		}
		return bytecode.TypeNumber
	case vm.IsString(v):
		return bytecode.TypeString
	case vm.IsSymbol(v):
		return bytecode.TypeSymbol
	case vm.IsObject(v):
		return bytecode.TypeObject
	}
	return bytecode.TypeNothing
}

// Display renders v for diagnostics and the command line. It never calls
// into bytecode.
func (vm *VM) Display(v value.Value) string {
	return vm.display(v, 0)
}

func (vm *VM) display(v value.Value, depth int) string {
	switch {
	case v.IsEmpty():
		return "<empty>"
	case v.IsInt32():
		return strconv.Itoa(int(v.AsInt32()))
	case v.IsDouble():
		return value.FormatNumber(v.AsDouble())
	case v.IsUndefined():
		return "undefined"
	case v.IsNull():
		return "null"
	case v.IsBoolean():
		return strconv.FormatBool(v.AsBool())
	}
	if !v.IsCell() || !vm.Heap.Contains(v.AsCell()) {
		return v.String()
	}
	cell := v.AsCell()
	switch vm.Heap.Type(cell) {
	case heap.StringType:
		if depth > 0 {
			return strconv.Quote(vm.StringOf(v))
		}
		return vm.StringOf(v)
	case heap.SymbolType:
		desc := vm.Heap.SymbolDescription(cell)
		if desc == 0 {
			return "Symbol()"
		}
		return "Symbol(" + vm.Heap.StringValue(desc) + ")"
	case heap.ArrayType:
		if depth > 2 {
			return "[...]"
		}
		n := vm.Heap.PublicLength(cell)
		parts := make([]string, 0, n)
		for i := uint32(0); i < n; i++ {
			e, ok := vm.Heap.GetIndex(cell, i)
			if !ok {
				parts = append(parts, "")
				continue
			}
			parts = append(parts, vm.display(e, depth+1))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case heap.FunctionType:
		name, _ := vm.Heap.GetOwnProperty(cell, "name")
		if vm.IsString(name) {
			return "function " + vm.StringOf(name)
		}
		return "function"
	}
	if vm.Heap.Type(cell).IsObject() {
		if p, ok := vm.Heap.GetOwnProperty(cell, primitiveValueKey); ok {
			return vm.display(p, depth)
		}
		if depth > 2 {
			return "{...}"
		}
		s := vm.Heap.StructureOf(cell)
		if s != nil && s.Prototype == vm.ErrorPrototype {
			name, _ := vm.Heap.GetOwnProperty(cell, "name")
			msg, _ := vm.Heap.GetOwnProperty(cell, "message")
			return vm.display(name, depth) + ": " + vm.display(msg, depth)
		}
		var parts []string
		if s != nil {
			for _, k := range s.Keys() {
				if isHiddenKey(k) {
					continue
				}
				parts = append(parts, k+": "+vm.display(vm.Heap.GetDirect(cell, mustOffset(s, k)), depth+1))
			}
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return vm.Heap.Type(cell).String()
}

func mustOffset(s *heap.Structure, k string) int {
	off, _ := s.Offset(k)
	return off
}
