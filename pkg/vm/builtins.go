package vm

import (
	"fmt"
	"math"
	"strings"

	"basejit/pkg/heap"
	"basejit/pkg/value"
)

// SpecialPointer names a built-in that jneq_ptr can compare against.
type SpecialPointer int32

const (
	SpecialCallFunction SpecialPointer = iota
	SpecialApplyFunction
	SpecialHasInstanceFunction
	SpecialObjectConstructor
	SpecialArrayConstructor
	numSpecialPointers
)

// SpecialPointer returns the value jneq_ptr compares against for k.
func (vm *VM) SpecialPointer(k SpecialPointer) (value.Value, bool) {
	if k < 0 || k >= numSpecialPointers {
		return value.Empty, false
	}
	return vm.special[k], true
}

// WellKnownSymbol returns a symbol such as hasInstance.
func (vm *VM) WellKnownSymbol(name string) (value.Value, bool) {
	v, ok := vm.wellKnown[name]
	return v, ok
}

var wellKnownSymbols = []string{"hasInstance", "iterator", "toPrimitive", "toStringTag"}

type builtinMethod struct {
	name  string
	arity int
	fn    HostFunc
}

func arg(args []value.Value, i int) value.Value {
	if i < len(args) {
		return args[i]
	}
	return value.Undefined
}

// markBuiltin hides the properties of obj from enumeration and keeps it
// reachable across safepoints.
func (vm *VM) markBuiltin(obj value.Value) {
	vm.builtinObjects[obj.AsCell()] = true
	vm.builtinRoots = append(vm.builtinRoots, obj)
}

func (vm *VM) defineMethods(obj value.Value, methods []builtinMethod) error {
	for _, m := range methods {
		fn, err := vm.NewHostFunction(m.name, m.arity, m.fn)
		if err != nil {
			return err
		}
		if err := vm.Heap.PutOwnProperty(obj.AsCell(), m.name, fn); err != nil {
			return err
		}
		vm.markBuiltin(fn)
	}
	return nil
}

func (vm *VM) newSymbol(description string) (value.Value, error) {
	var desc uintptr
	if description != "" {
		s, err := vm.NewString(description)
		if err != nil {
			return value.Empty, err
		}
		desc = s.AsCell()
	}
	id := uint32(len(vm.symbols) + 1)
	cell, err := vm.Heap.NewSymbol(id, desc)
	if err != nil {
		return value.Empty, err
	}
	vm.symbols = append(vm.symbols, cell)
	return value.FromCell(cell), nil
}

func (vm *VM) initBuiltins() error {
	vm.globalID = 1

	var err error
	if vm.ObjectPrototype, err = vm.NewPlainObject(value.Null); err != nil {
		return err
	}
	protos := []*value.Value{
		&vm.FunctionPrototype, &vm.ArrayPrototype, &vm.ErrorPrototype, &vm.StringPrototype,
		&vm.NumberPrototype, &vm.BooleanPrototype, &vm.SymbolPrototype, &vm.RegExpPrototype,
	}
	for _, p := range protos {
		if *p, err = vm.NewPlainObject(vm.ObjectPrototype); err != nil {
			return err
		}
	}
	vm.markBuiltin(vm.ObjectPrototype)
	for _, p := range protos {
		vm.markBuiltin(*p)
	}

	if vm.arrayStructure, err = vm.Heap.NewStructure(heap.ArrayType, 0, heap.IsArray, 0, vm.ArrayPrototype, vm.globalID); err != nil {
		return err
	}
	if vm.functionStructure, err = vm.Heap.NewStructure(heap.FunctionType, heap.ImplementsDefaultHasInstance, heap.NoIndexingShape, 0, vm.FunctionPrototype, vm.globalID); err != nil {
		return err
	}
	if vm.hostStructure, err = vm.Heap.NewStructure(heap.FunctionType, heap.ImplementsDefaultHasInstance, heap.NoIndexingShape, 0, vm.FunctionPrototype, vm.globalID); err != nil {
		return err
	}
	if vm.regexpStructure, err = vm.Heap.NewStructure(heap.RegExpType, 0, heap.NoIndexingShape, heap.DefaultInlineCapacity, vm.RegExpPrototype, vm.globalID); err != nil {
		return err
	}
	gs, err := vm.Heap.NewStructure(heap.GlobalObjectType, 0, heap.NoIndexingShape, heap.DefaultInlineCapacity, vm.ObjectPrototype, vm.globalID)
	if err != nil {
		return err
	}
	if vm.global, err = vm.Heap.NewObject(gs); err != nil {
		return err
	}
	vm.markBuiltin(vm.GlobalObject())

	for _, name := range wellKnownSymbols {
		s, err := vm.newSymbol("Symbol." + name)
		if err != nil {
			return err
		}
		vm.wellKnown[name] = s
		vm.builtinRoots = append(vm.builtinRoots, s)
	}

	if err := vm.initPrototypes(); err != nil {
		return err
	}
	return vm.initGlobals()
}

func (vm *VM) initPrototypes() error {
	err := vm.defineMethods(vm.ObjectPrototype, []builtinMethod{
		{"toString", 0, objectToString},
		{"valueOf", 0, func(vm *VM, this value.Value, _ []value.Value) (value.Value, error) {
			return vm.toObject(this)
		}},
		{"hasOwnProperty", 1, func(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
			obj, err := vm.toObject(this)
			if err != nil {
				return value.Empty, err
			}
			key, err := vm.PropertyKey(arg(args, 0))
			if err != nil {
				return value.Empty, err
			}
			_, ok := vm.getOwn(obj.AsCell(), key)
			return value.FromBool(ok), nil
		}},
	})
	if err != nil {
		return err
	}

	err = vm.defineMethods(vm.FunctionPrototype, []builtinMethod{
		{"call", 1, func(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
			var rest []value.Value
			if len(args) > 1 {
				rest = args[1:]
			}
			return vm.Call(this, arg(args, 0), rest)
		}},
		{"apply", 2, func(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
			list, err := vm.listFromArrayLike(arg(args, 1))
			if err != nil {
				return value.Empty, err
			}
			return vm.Call(this, arg(args, 0), list)
		}},
		{"toString", 0, func(vm *VM, this value.Value, _ []value.Value) (value.Value, error) {
			if !vm.IsFunction(this) {
				return value.Empty, vm.TypeError("Function.prototype.toString requires a function")
			}
			return vm.NewString(vm.Display(this) + "() { [code] }")
		}},
	})
	if err != nil {
		return err
	}
	hasInstance, err := vm.NewHostFunction("[Symbol.hasInstance]", 1, func(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
		ok, err := vm.OrdinaryHasInstance(this, arg(args, 0))
		return value.FromBool(ok), err
	})
	if err != nil {
		return err
	}
	vm.markBuiltin(hasInstance)
	if err := vm.Heap.PutOwnProperty(vm.FunctionPrototype.AsCell(), symbolKey(vm.Heap.SymbolID(vm.wellKnown["hasInstance"].AsCell())), hasInstance); err != nil {
		return err
	}
	vm.special[SpecialHasInstanceFunction] = hasInstance
	vm.special[SpecialCallFunction], _ = vm.Heap.GetOwnProperty(vm.FunctionPrototype.AsCell(), "call")
	vm.special[SpecialApplyFunction], _ = vm.Heap.GetOwnProperty(vm.FunctionPrototype.AsCell(), "apply")

	join := func(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
		sep := ","
		if s := arg(args, 0); !s.IsUndefined() {
			var err error
			if sep, err = vm.ToGoString(s); err != nil {
				return value.Empty, err
			}
		}
		s, err := vm.joinArray(this, sep)
		if err != nil {
			return value.Empty, err
		}
		return vm.NewString(s)
	}
	err = vm.defineMethods(vm.ArrayPrototype, []builtinMethod{
		{"push", 1, func(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
			if !vm.IsCellWithType(this, heap.ArrayType) {
				return value.Empty, vm.TypeError("Array.prototype.push requires an array")
			}
			cell := this.AsCell()
			for _, a := range args {
				if err := vm.Heap.PutIndex(cell, vm.Heap.PublicLength(cell), a); err != nil {
					return value.Empty, err
				}
			}
			return value.FromNumber(float64(vm.Heap.PublicLength(cell))), nil
		}},
		{"join", 1, join},
		{"toString", 0, func(vm *VM, this value.Value, _ []value.Value) (value.Value, error) {
			return join(vm, this, nil)
		}},
	})
	if err != nil {
		return err
	}

	for _, p := range []struct {
		proto value.Value
		name  string
		is    func(value.Value) bool
	}{
		{vm.StringPrototype, "String", vm.IsString},
		{vm.NumberPrototype, "Number", value.Value.IsNumber},
		{vm.BooleanPrototype, "Boolean", value.Value.IsBoolean},
		{vm.SymbolPrototype, "Symbol", vm.IsSymbol},
	} {
		unwrap := vm.primitiveReceiver(p.name, p.is)
		err := vm.defineMethods(p.proto, []builtinMethod{
			{"valueOf", 0, func(vm *VM, this value.Value, _ []value.Value) (value.Value, error) {
				return unwrap(this)
			}},
			{"toString", 0, func(vm *VM, this value.Value, _ []value.Value) (value.Value, error) {
				v, err := unwrap(this)
				if err != nil {
					return value.Empty, err
				}
				if vm.IsSymbol(v) {
					return vm.NewString(vm.Display(v))
				}
				return vm.ToString(v)
			}},
		})
		if err != nil {
			return err
		}
	}

	for _, kv := range [][2]string{{"name", "Error"}, {"message", ""}} {
		s, err := vm.NewString(kv[1])
		if err != nil {
			return err
		}
		if err := vm.Heap.PutOwnProperty(vm.ErrorPrototype.AsCell(), kv[0], s); err != nil {
			return err
		}
	}
	err = vm.defineMethods(vm.ErrorPrototype, []builtinMethod{
		{"toString", 0, func(vm *VM, this value.Value, _ []value.Value) (value.Value, error) {
			if !vm.IsObject(this) {
				return value.Empty, vm.TypeError("Error.prototype.toString requires an object")
			}
			parts := make([]string, 0, 2)
			for _, k := range []string{"name", "message"} {
				v, err := vm.GetProperty(this, k)
				if err != nil {
					return value.Empty, err
				}
				s, err := vm.ToGoString(v)
				if err != nil {
					return value.Empty, err
				}
				if s != "" {
					parts = append(parts, s)
				}
			}
			return vm.NewString(strings.Join(parts, ": "))
		}},
	})
	if err != nil {
		return err
	}

	return vm.defineMethods(vm.RegExpPrototype, []builtinMethod{
		{"test", 1, func(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
			re, ok := vm.compiledRegExp(this)
			if !ok {
				return value.Empty, vm.TypeError("RegExp.prototype.test requires a regular expression")
			}
			s, err := vm.ToGoString(arg(args, 0))
			if err != nil {
				return value.Empty, err
			}
			return value.FromBool(re.MatchString(s)), nil
		}},
	})
}

func (vm *VM) initGlobals() error {
	type ctor struct {
		name      string
		arity     int
		proto     value.Value
		call      HostFunc
		construct HostFunc
		special   SpecialPointer
	}
	errorCtor := func(vm *VM, _ value.Value, args []value.Value) (value.Value, error) {
		msg := ""
		if m := arg(args, 0); !m.IsUndefined() {
			var err error
			if msg, err = vm.ToGoString(m); err != nil {
				return value.Empty, err
			}
		}
		return vm.NewError(ErrorKindError, msg)
	}
	objectCtor := func(vm *VM, _ value.Value, args []value.Value) (value.Value, error) {
		if v := arg(args, 0); !v.IsUndefinedOrNull() {
			return vm.toObject(v)
		}
		return vm.NewPlainObject(vm.ObjectPrototype)
	}
	arrayCtor := func(vm *VM, _ value.Value, args []value.Value) (value.Value, error) {
		if len(args) == 1 {
			return vm.NewArrayWithSize(args[0])
		}
		return vm.NewArray(args)
	}
	ctors := []ctor{
		{"Object", 1, vm.ObjectPrototype, objectCtor, objectCtor, SpecialObjectConstructor},
		{"Array", 1, vm.ArrayPrototype, arrayCtor, arrayCtor, SpecialArrayConstructor},
		{"Error", 1, vm.ErrorPrototype, errorCtor, errorCtor, -1},
		{"String", 1, vm.StringPrototype, func(vm *VM, _ value.Value, args []value.Value) (value.Value, error) {
			if len(args) == 0 {
				return vm.NewString("")
			}
			if vm.IsSymbol(args[0]) {
				return vm.NewString(vm.Display(args[0]))
			}
			return vm.ToString(args[0])
		}, nil, -1},
		{"Number", 1, vm.NumberPrototype, func(vm *VM, _ value.Value, args []value.Value) (value.Value, error) {
			if len(args) == 0 {
				return value.FromInt32(0), nil
			}
			return vm.ToNumber(args[0], nil)
		}, nil, -1},
		{"Boolean", 1, vm.BooleanPrototype, func(vm *VM, _ value.Value, args []value.Value) (value.Value, error) {
			return value.FromBool(vm.ToBoolean(arg(args, 0))), nil
		}, nil, -1},
		{"Symbol", 0, vm.SymbolPrototype, func(vm *VM, _ value.Value, args []value.Value) (value.Value, error) {
			desc := ""
			if d := arg(args, 0); !d.IsUndefined() {
				var err error
				if desc, err = vm.ToGoString(d); err != nil {
					return value.Empty, err
				}
			}
			return vm.newSymbol(desc)
		}, nil, -1},
		{"RegExp", 2, vm.RegExpPrototype, func(vm *VM, _ value.Value, args []value.Value) (value.Value, error) {
			return vm.NewRegExp(arg(args, 0), arg(args, 1))
		}, nil, -1},
		{"Function", 0, vm.FunctionPrototype, func(vm *VM, _ value.Value, _ []value.Value) (value.Value, error) {
			return value.Empty, vm.ThrowError(ErrorKindSyntax, "dynamic function creation is not supported")
		}, nil, -1},
	}
	global := vm.global
	for _, c := range ctors {
		construct := c.construct
		if construct == nil {
			call := c.call
			// Wrapper construction boxes the primitive the call form returns.
			construct = func(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
				v, err := call(vm, this, args)
				if err != nil {
					return value.Empty, err
				}
				return vm.toObject(v)
			}
		}
		if c.name == "Symbol" || c.name == "Function" {
			construct = nil
		}
		fn, err := vm.NewHostConstructor(c.name, c.arity, c.call, construct)
		if err != nil {
			return err
		}
		vm.markBuiltin(fn)
		if err := vm.Heap.PutOwnProperty(fn.AsCell(), "prototype", c.proto); err != nil {
			return err
		}
		if err := vm.Heap.PutOwnProperty(c.proto.AsCell(), "constructor", fn); err != nil {
			return err
		}
		if err := vm.Heap.PutOwnProperty(global, c.name, fn); err != nil {
			return err
		}
		if c.special >= 0 {
			vm.special[c.special] = fn
		}
		if c.name == "Symbol" {
			for _, name := range wellKnownSymbols {
				if err := vm.Heap.PutOwnProperty(fn.AsCell(), name, vm.wellKnown[name]); err != nil {
					return err
				}
			}
		}
	}

	printFn, err := vm.NewHostFunction("print", 1, func(vm *VM, _ value.Value, args []value.Value) (value.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			if vm.IsString(a) {
				parts[i] = vm.StringOf(a)
				continue
			}
			parts[i] = vm.Display(a)
		}
		if _, err := fmt.Fprintln(vm.output, strings.Join(parts, " ")); err != nil {
			return value.Empty, err
		}
		return value.Undefined, nil
	})
	if err != nil {
		return err
	}
	vm.markBuiltin(printFn)
	return vm.Heap.PutOwnProperty(global, "print", printFn)
}

// GlobalProperty reads a property of the global object.
func (vm *VM) GlobalProperty(name string) (value.Value, bool) {
	return vm.Heap.GetOwnProperty(vm.global, name)
}

func objectToString(vm *VM, this value.Value, _ []value.Value) (value.Value, error) {
	tag := "Object"
	switch {
	case this.IsUndefined():
		tag = "Undefined"
	case this.IsNull():
		tag = "Null"
	case vm.IsCellWithType(this, heap.ArrayType):
		tag = "Array"
	case vm.IsFunction(this):
		tag = "Function"
	case vm.IsCellWithType(this, heap.RegExpType):
		tag = "RegExp"
	case vm.IsString(this):
		tag = "String"
	case this.IsNumber():
		tag = "Number"
	case this.IsBoolean():
		tag = "Boolean"
	case vm.IsObject(this) && vm.Prototype(this) == vm.ErrorPrototype:
		tag = "Error"
	}
	return vm.NewString("[object " + tag + "]")
}

// primitiveReceiver unwraps this for the methods of a primitive prototype.
func (vm *VM) primitiveReceiver(name string, is func(value.Value) bool) func(value.Value) (value.Value, error) {
	return func(this value.Value) (value.Value, error) {
		if is(this) {
			return this, nil
		}
		if vm.IsObject(this) {
			if p, ok := vm.Heap.GetOwnProperty(this.AsCell(), primitiveValueKey); ok && is(p) {
				return p, nil
			}
		}
		return value.Empty, vm.TypeError("%s.prototype method called on incompatible receiver", name)
	}
}

func (vm *VM) joinArray(v value.Value, sep string) (string, error) {
	if !vm.IsObject(v) {
		return vm.ToGoString(v)
	}
	n := vm.Heap.PublicLength(v.AsCell())
	parts := make([]string, n)
	for i := uint32(0); i < n; i++ {
		e, ok := vm.Heap.GetIndex(v.AsCell(), i)
		if !ok || e.IsUndefinedOrNull() {
			continue
		}
		s, err := vm.ToGoString(e)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, sep), nil
}

func (vm *VM) listFromArrayLike(v value.Value) ([]value.Value, error) {
	if v.IsUndefinedOrNull() {
		return nil, nil
	}
	if !vm.IsObject(v) {
		return nil, vm.TypeError("argument list must be an object")
	}
	lv, err := vm.GetProperty(v, "length")
	if err != nil {
		return nil, err
	}
	d, err := vm.ToNumeric(lv)
	if err != nil {
		return nil, err
	}
	if d < 0 || math.IsNaN(d) {
		d = 0
	}
	if int(d) > vm.opts.MaxCallDepth*64 {
		return nil, vm.ThrowError(ErrorKindRange, "too many arguments")
	}
	list := make([]value.Value, int(d))
	for i := range list {
		if list[i], err = vm.GetByVal(v, value.FromInt32(int32(i))); err != nil {
			return nil, err
		}
	}
	return list, nil
}
