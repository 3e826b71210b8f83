package vm

import (
	"math"

	"basejit/pkg/bytecode"
	"basejit/pkg/value"
)

// numberResult boxes d and records it in p the way generated code would.
func numberResult(d float64, p *bytecode.ResultProfile) value.Value {
	r := value.FromNumber(d)
	if p != nil && !r.IsInt32() {
		p.ObserveDouble(d)
	}
	return r
}

func observeOperands(a, b value.Value, p *bytecode.ResultProfile) {
	if p == nil {
		return
	}
	var flags uint32
	if !a.IsNumber() {
		flags |= bytecode.LHSNonNumber
	}
	if !b.IsNumber() {
		flags |= bytecode.RHSNonNumber
	}
	if flags != 0 {
		p.Set(flags)
	}
}

func (vm *VM) numericOperands(a, b value.Value) (float64, float64, error) {
	x, err := vm.ToNumeric(a)
	if err != nil {
		return 0, 0, err
	}
	y, err := vm.ToNumeric(b)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

// Mul is the generic multiply. The int32 fast path in generated code never
// reaches here unless the product overflowed or was zero.
func (vm *VM) Mul(a, b value.Value, p *bytecode.ResultProfile) (value.Value, error) {
	if a.IsInt32() && b.IsInt32() {
		prod := int64(a.AsInt32()) * int64(b.AsInt32())
		if prod != 0 && prod == int64(int32(prod)) {
			return value.FromInt32(int32(prod)), nil
		}
		if prod != int64(int32(prod)) && p != nil {
			p.Set(bytecode.Int32Overflowed)
		}
	}
	observeOperands(a, b, p)
	x, y, err := vm.numericOperands(a, b)
	if err != nil {
		return value.Empty, err
	}
	return numberResult(x*y, p), nil
}

func (vm *VM) Sub(a, b value.Value, p *bytecode.ResultProfile) (value.Value, error) {
	if a.IsInt32() && b.IsInt32() {
		d := int64(a.AsInt32()) - int64(b.AsInt32())
		if d == int64(int32(d)) {
			return value.FromInt32(int32(d)), nil
		}
		if p != nil {
			p.Set(bytecode.Int32Overflowed)
		}
	}
	observeOperands(a, b, p)
	x, y, err := vm.numericOperands(a, b)
	if err != nil {
		return value.Empty, err
	}
	return numberResult(x-y, p), nil
}

// Add concatenates when either primitive operand is a string.
func (vm *VM) Add(a, b value.Value, p *bytecode.ResultProfile) (value.Value, error) {
	if a.IsInt32() && b.IsInt32() {
		s := int64(a.AsInt32()) + int64(b.AsInt32())
		if s == int64(int32(s)) {
			return value.FromInt32(int32(s)), nil
		}
		if p != nil {
			p.Set(bytecode.Int32Overflowed)
		}
	}
	observeOperands(a, b, p)
	pa, err := vm.ToPrimitive(a, false)
	if err != nil {
		return value.Empty, err
	}
	pb, err := vm.ToPrimitive(b, false)
	if err != nil {
		return value.Empty, err
	}
	if vm.IsString(pa) || vm.IsString(pb) {
		sa, err := vm.ToGoString(pa)
		if err != nil {
			return value.Empty, err
		}
		sb, err := vm.ToGoString(pb)
		if err != nil {
			return value.Empty, err
		}
		if p != nil {
			p.Set(bytecode.NonNumeric)
		}
		return vm.NewString(sa + sb)
	}
	x, y, err := vm.numericOperands(pa, pb)
	if err != nil {
		return value.Empty, err
	}
	return numberResult(x+y, p), nil
}

// Inc and Dec implement ++ and -- on the numeric value of v.
func (vm *VM) Inc(v value.Value) (value.Value, error) {
	if v.IsInt32() && v.AsInt32() != math.MaxInt32 {
		return value.FromInt32(v.AsInt32() + 1), nil
	}
	d, err := vm.ToNumeric(v)
	if err != nil {
		return value.Empty, err
	}
	return value.FromNumber(d + 1), nil
}

func (vm *VM) Dec(v value.Value) (value.Value, error) {
	if v.IsInt32() && v.AsInt32() != math.MinInt32 {
		return value.FromInt32(v.AsInt32() - 1), nil
	}
	d, err := vm.ToNumeric(v)
	if err != nil {
		return value.Empty, err
	}
	return value.FromNumber(d - 1), nil
}

// Less implements a < b.
func (vm *VM) Less(a, b value.Value) (bool, error) {
	if a.IsInt32() && b.IsInt32() {
		return a.AsInt32() < b.AsInt32(), nil
	}
	pa, err := vm.ToPrimitive(a, false)
	if err != nil {
		return false, err
	}
	pb, err := vm.ToPrimitive(b, false)
	if err != nil {
		return false, err
	}
	if vm.IsString(pa) && vm.IsString(pb) {
		return vm.StringOf(pa) < vm.StringOf(pb), nil
	}
	x, y, err := vm.numericOperands(pa, pb)
	if err != nil {
		return false, err
	}
	return x < y, nil
}

// StrictEqual never calls out.
func (vm *VM) StrictEqual(a, b value.Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return a.AsNumber() == b.AsNumber()
	}
	if a == b {
		return true
	}
	if vm.IsString(a) && vm.IsString(b) {
		return vm.StringOf(a) == vm.StringOf(b)
	}
	return false
}

// EqualsNull is the == null test, honoring masquerading objects.
func (vm *VM) EqualsNull(v value.Value) bool {
	return v.IsUndefinedOrNull() || vm.MasqueradesAsUndefined(v)
}

// LooseEqual implements ==.
func (vm *VM) LooseEqual(a, b value.Value) (bool, error) {
	for {
		if a.IsInt32() && b.IsInt32() {
			return a == b, nil
		}
		aNullish, bNullish := vm.EqualsNull(a), vm.EqualsNull(b)
		if aNullish || bNullish {
			return aNullish && bNullish, nil
		}
		if a.IsNumber() && b.IsNumber() {
			return a.AsNumber() == b.AsNumber(), nil
		}
		aStr, bStr := vm.IsString(a), vm.IsString(b)
		switch {
		case aStr && bStr:
			return vm.StringOf(a) == vm.StringOf(b), nil
		case vm.IsObject(a) && vm.IsObject(b), vm.IsSymbol(a) && vm.IsSymbol(b):
			return a == b, nil
		case a.IsBoolean() && b.IsBoolean():
			return a == b, nil
		case a.IsBoolean():
			a = value.FromInt32(int32(a.Bits() & 1))
			continue
		case b.IsBoolean():
			b = value.FromInt32(int32(b.Bits() & 1))
			continue
		case aStr && b.IsNumber():
			a = value.FromNumber(value.ParseNumber(vm.StringOf(a)))
			continue
		case a.IsNumber() && bStr:
			b = value.FromNumber(value.ParseNumber(vm.StringOf(b)))
			continue
		case vm.IsObject(a) && !vm.IsObject(b):
			p, err := vm.ToPrimitive(a, false)
			if err != nil {
				return false, err
			}
			a = p
			continue
		case vm.IsObject(b) && !vm.IsObject(a):
			p, err := vm.ToPrimitive(b, false)
			if err != nil {
				return false, err
			}
			b = p
			continue
		}
		return false, nil
	}
}
