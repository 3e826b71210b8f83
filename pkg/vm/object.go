package vm

import (
	"math"
	"regexp"
	"strings"

	"basejit/pkg/bytecode"
	"basejit/pkg/heap"
	"basejit/pkg/value"
)

// Function kinds stored in the function cell.
const (
	FunctionKindNormal uint8 = iota
	FunctionKindArrow
	FunctionKindHost
)

// NewPlainObject allocates an empty object with the default inline capacity.
func (vm *VM) NewPlainObject(proto value.Value) (value.Value, error) {
	s, err := vm.ObjectStructure(proto, heap.DefaultInlineCapacity)
	if err != nil {
		return value.Empty, err
	}
	cell, err := vm.Heap.NewObject(s)
	if err != nil {
		return value.Empty, err
	}
	return value.FromCell(cell), nil
}

// NewObjectFromProfile implements the generic path of new_object.
func (vm *VM) NewObjectFromProfile(p *bytecode.AllocationProfile) (value.Value, error) {
	s := vm.Heap.Structure(p.StructureID)
	if s == nil {
		return vm.NewPlainObject(vm.ObjectPrototype)
	}
	cell, err := vm.Heap.NewObject(s)
	if err != nil {
		return value.Empty, err
	}
	return value.FromCell(cell), nil
}

// CreateThis implements create_this. It also (re)builds the callee's
// allocation profile so the next execution can allocate inline.
func (vm *VM) CreateThis(callee value.Value, inlineCapacity int, c *bytecode.CreateThisCache) (value.Value, error) {
	if c != nil {
		switch c.Callee {
		case uint64(callee):
		case 0:
			c.Callee = uint64(callee)
		default:
			c.Callee = bytecode.SeenMultipleCallees
		}
	}
	if !vm.IsFunction(callee) {
		return vm.NewPlainObject(vm.ObjectPrototype)
	}
	fn := callee.AsCell()
	if s := vm.Heap.AllocationStructure(fn); s != nil {
		cell, err := vm.Heap.NewObject(s)
		if err != nil {
			return value.Empty, err
		}
		return value.FromCell(cell), nil
	}
	proto, err := vm.GetProperty(callee, "prototype")
	if err != nil {
		return value.Empty, err
	}
	if !vm.IsObject(proto) {
		proto = vm.ObjectPrototype
	}
	s, err := vm.ObjectStructure(proto, inlineCapacity)
	if err != nil {
		return value.Empty, err
	}
	if err := vm.Heap.SetAllocationProfile(fn, s); err != nil {
		return value.Empty, err
	}
	cell, err := vm.Heap.NewObject(s)
	if err != nil {
		return value.Empty, err
	}
	return value.FromCell(cell), nil
}

// NewArray implements new_array.
func (vm *VM) NewArray(elems []value.Value) (value.Value, error) {
	cell, err := vm.Heap.NewArray(vm.arrayStructure, elems)
	if err != nil {
		return value.Empty, err
	}
	return value.FromCell(cell), nil
}

// NewArrayWithSize implements new_array_with_size.
func (vm *VM) NewArrayWithSize(length value.Value) (value.Value, error) {
	if !length.IsNumber() {
		// A single non-numeric argument becomes the only element.
		return vm.NewArray([]value.Value{length})
	}
	d := length.AsNumber()
	if d < 0 || d != math.Trunc(d) || d > math.MaxUint32-1 {
		return value.Empty, vm.ThrowError(ErrorKindRange, "invalid array length")
	}
	arr, err := vm.NewArray(nil)
	if err != nil {
		return value.Empty, err
	}
	if err := vm.Heap.SetPublicLength(arr.AsCell(), uint32(d)); err != nil {
		return value.Empty, err
	}
	return arr, nil
}

// NewFunction implements new_func and new_func_exp.
func (vm *VM) NewFunction(unitIndex uint32, kind uint8) (value.Value, error) {
	u, ok := vm.Unit(unitIndex)
	if !ok {
		return value.Empty, vm.TypeError("no function with index %d", unitIndex)
	}
	cell, err := vm.Heap.NewFunction(vm.functionStructure, unitIndex, kind)
	if err != nil {
		return value.Empty, err
	}
	fn := value.FromCell(cell)
	if err := vm.defineFunctionMetadata(fn, u.Name, u.NumParams-1); err != nil {
		return value.Empty, err
	}
	if kind != FunctionKindArrow {
		proto, err := vm.NewPlainObject(vm.ObjectPrototype)
		if err != nil {
			return value.Empty, err
		}
		if err := vm.Heap.PutOwnProperty(proto.AsCell(), "constructor", fn); err != nil {
			return value.Empty, err
		}
		if err := vm.Heap.PutOwnProperty(cell, "prototype", proto); err != nil {
			return value.Empty, err
		}
	}
	return fn, nil
}

func (vm *VM) defineFunctionMetadata(fn value.Value, name string, length int) error {
	n, err := vm.NewString(name)
	if err != nil {
		return err
	}
	if err := vm.Heap.PutOwnProperty(fn.AsCell(), "name", n); err != nil {
		return err
	}
	if length < 0 {
		length = 0
	}
	return vm.Heap.PutOwnProperty(fn.AsCell(), "length", value.FromInt32(int32(length)))
}

// SetFunctionName implements set_function_name.
func (vm *VM) SetFunctionName(fn, name value.Value) error {
	if !vm.IsFunction(fn) {
		return nil
	}
	var s string
	if vm.IsSymbol(name) {
		if desc := vm.Heap.SymbolDescription(name.AsCell()); desc != 0 {
			s = "[" + vm.Heap.StringValue(desc) + "]"
		}
	} else {
		var err error
		if s, err = vm.ToGoString(name); err != nil {
			return err
		}
	}
	n, err := vm.NewString(s)
	if err != nil {
		return err
	}
	return vm.Heap.PutOwnProperty(fn.AsCell(), "name", n)
}

// NewRegExp implements new_regexp. Patterns are validated eagerly.
func (vm *VM) NewRegExp(pattern, flags value.Value) (value.Value, error) {
	src, err := vm.ToGoString(pattern)
	if err != nil {
		return value.Empty, err
	}
	fl := ""
	if !flags.IsUndefined() {
		if fl, err = vm.ToGoString(flags); err != nil {
			return value.Empty, err
		}
	}
	var goFlags strings.Builder
	for _, f := range fl {
		switch f {
		case 'i', 'm', 's':
			goFlags.WriteRune(f)
		case 'g', 'y', 'u':
		default:
			return value.Empty, vm.ThrowError(ErrorKindSyntax, "invalid regular expression flags %q", fl)
		}
	}
	expr := src
	if goFlags.Len() > 0 {
		expr = "(?" + goFlags.String() + ")" + src
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return value.Empty, vm.ThrowError(ErrorKindSyntax, "invalid regular expression /%s/: %v", src, err)
	}
	cell, err := vm.Heap.NewObject(vm.regexpStructure)
	if err != nil {
		return value.Empty, err
	}
	for _, kv := range []struct{ k, v string }{{"source", src}, {"flags", fl}} {
		s, err := vm.NewString(kv.v)
		if err != nil {
			return value.Empty, err
		}
		if err := vm.Heap.PutOwnProperty(cell, kv.k, s); err != nil {
			return value.Empty, err
		}
	}
	if err := vm.Heap.PutOwnProperty(cell, "lastIndex", value.FromInt32(0)); err != nil {
		return value.Empty, err
	}
	vm.structuresMu.Lock()
	vm.regexps[cell] = re
	vm.structuresMu.Unlock()
	return value.FromCell(cell), nil
}

func (vm *VM) compiledRegExp(v value.Value) (*regexp.Regexp, bool) {
	if !vm.IsCellWithType(v, heap.RegExpType) {
		return nil, false
	}
	vm.structuresMu.Lock()
	defer vm.structuresMu.Unlock()
	re, ok := vm.regexps[v.AsCell()]
	return re, ok
}

// Prototype returns the prototype of an object, or null.
func (vm *VM) Prototype(v value.Value) value.Value {
	if !vm.IsObject(v) {
		return value.Null
	}
	s := vm.Heap.StructureOf(v.AsCell())
	if s == nil || s.Prototype.IsEmpty() {
		return value.Null
	}
	return s.Prototype
}

func (vm *VM) prototypeForPrimitive(v value.Value) value.Value {
	switch {
	case vm.IsString(v):
		return vm.StringPrototype
	case v.IsNumber():
		return vm.NumberPrototype
	case v.IsBoolean():
		return vm.BooleanPrototype
	case vm.IsSymbol(v):
		return vm.SymbolPrototype
	}
	return vm.ObjectPrototype
}

// getOwn reads an own property of an object, including elements and the
// array length.
func (vm *VM) getOwn(cell uintptr, key string) (value.Value, bool) {
	if i, ok := arrayIndex(key); ok {
		if v, ok := vm.Heap.GetIndex(cell, i); ok {
			return v, true
		}
	}
	if key == "length" && vm.Heap.Type(cell) == heap.ArrayType {
		return value.FromNumber(float64(vm.Heap.PublicLength(cell))), true
	}
	return vm.Heap.GetOwnProperty(cell, key)
}

// GetProperty reads key from v, walking the prototype chain.
func (vm *VM) GetProperty(v value.Value, key string) (value.Value, error) {
	switch {
	case v.IsUndefinedOrNull() || v.IsEmpty():
		return value.Empty, vm.TypeError("cannot read property %q of %s", key, vm.Display(v))
	case vm.IsString(v):
		s := vm.StringOf(v)
		if key == "length" {
			return value.FromInt32(int32(len(s))), nil
		}
		if i, ok := arrayIndex(key); ok {
			if int(i) < len(s) {
				return vm.NewString(s[i : i+1])
			}
			return value.Undefined, nil
		}
	}
	obj := v
	if !vm.IsObject(obj) {
		obj = vm.prototypeForPrimitive(v)
	}
	for vm.IsObject(obj) {
		if r, ok := vm.getOwn(obj.AsCell(), key); ok {
			return r, nil
		}
		obj = vm.Prototype(obj)
	}
	return value.Undefined, nil
}

// HasProperty implements the in test used by property enumeration.
func (vm *VM) HasProperty(base value.Value, key string) bool {
	for obj := base; vm.IsObject(obj); obj = vm.Prototype(obj) {
		if _, ok := vm.getOwn(obj.AsCell(), key); ok {
			return true
		}
	}
	return false
}

// GetByVal implements get_by_val.
func (vm *VM) GetByVal(base, prop value.Value) (value.Value, error) {
	if vm.IsObject(base) && prop.IsInt32() && prop.AsInt32() >= 0 {
		if v, ok := vm.Heap.GetIndex(base.AsCell(), uint32(prop.AsInt32())); ok {
			return v, nil
		}
	}
	if base.IsUndefinedOrNull() {
		return value.Empty, vm.TypeError("cannot read properties of %s", vm.Display(base))
	}
	key, err := vm.PropertyKey(prop)
	if err != nil {
		return value.Empty, err
	}
	return vm.GetProperty(base, key)
}

// PutByVal implements put_by_val.
func (vm *VM) PutByVal(base, prop, v value.Value) error {
	if base.IsUndefinedOrNull() || base.IsEmpty() {
		return vm.TypeError("cannot set properties of %s", vm.Display(base))
	}
	key, err := vm.PropertyKey(prop)
	if err != nil {
		return err
	}
	if !vm.IsObject(base) {
		return nil
	}
	return vm.PutProperty(base, key, v)
}

// PutProperty writes an own property of an object.
func (vm *VM) PutProperty(base value.Value, key string, v value.Value) error {
	cell := base.AsCell()
	if i, ok := arrayIndex(key); ok {
		return vm.Heap.PutIndex(cell, i, v)
	}
	switch vm.Heap.Type(cell) {
	case heap.ArrayType:
		if key == "length" {
			d, err := vm.ToNumeric(v)
			if err != nil {
				return err
			}
			if d < 0 || d != math.Trunc(d) || d > math.MaxUint32-1 {
				return vm.ThrowError(ErrorKindRange, "invalid array length")
			}
			return vm.Heap.SetPublicLength(cell, uint32(d))
		}
	case heap.FunctionType:
		if key == "prototype" {
			vm.Heap.ClearAllocationProfile(cell)
		}
	}
	return vm.Heap.PutOwnProperty(cell, key, v)
}

// InstanceOf walks the prototype chain of v looking for proto.
func (vm *VM) InstanceOf(v, proto value.Value) (bool, error) {
	if !vm.IsObject(proto) {
		return false, vm.TypeError("instanceof: prototype is not an object")
	}
	if !vm.IsObject(v) {
		return false, nil
	}
	for p := vm.Prototype(v); vm.IsObject(p); p = vm.Prototype(p) {
		if p == proto {
			return true, nil
		}
	}
	return false, nil
}

// OverridesHasInstance implements overrides_has_instance.
func (vm *VM) OverridesHasInstance(ctor, hasInstance value.Value) bool {
	if hasInstance != vm.special[SpecialHasInstanceFunction] {
		return true
	}
	if !ctor.IsCell() {
		return true
	}
	return vm.Heap.Flags(ctor.AsCell())&heap.ImplementsDefaultHasInstance == 0
}

// InstanceOfCustom implements instanceof_custom by calling hasInstance.
func (vm *VM) InstanceOfCustom(v, ctor, hasInstance value.Value) (bool, error) {
	if !vm.IsObject(ctor) {
		return false, vm.TypeError("right-hand side of instanceof is not an object")
	}
	if !vm.IsFunction(hasInstance) {
		return false, vm.TypeError("right-hand side of instanceof is not callable")
	}
	r, err := vm.Call(hasInstance, ctor, []value.Value{v})
	if err != nil {
		return false, err
	}
	return vm.ToBoolean(r), nil
}

// OrdinaryHasInstance is the default @@hasInstance behavior.
func (vm *VM) OrdinaryHasInstance(ctor, v value.Value) (bool, error) {
	if !vm.IsFunction(ctor) {
		return false, nil
	}
	proto, err := vm.GetProperty(ctor, "prototype")
	if err != nil {
		return false, err
	}
	return vm.InstanceOf(v, proto)
}

// CheckTDZ throws when v is the empty sentinel.
func (vm *VM) CheckTDZ(v value.Value) error {
	if v.IsEmpty() {
		return vm.ThrowError(ErrorKindReference, "cannot access a binding before initialization")
	}
	return nil
}
