package interp

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"basejit/pkg/bytecode"
	"basejit/pkg/heap"
	"basejit/pkg/value"
	"basejit/pkg/vm"
)

type handler func(a *activation, ins bytecode.Instruction) error

var dispatchTable [bytecode.NumOpcodes]handler

func init() {
	nop := func(*activation, bytecode.Instruction) error { return nil }
	dispatchTable = [bytecode.NumOpcodes]handler{
		bytecode.OpNop:                 nop,
		bytecode.OpIdentityWithProfile: nop,
		bytecode.OpLoopHint: func(a *activation, _ bytecode.Instruction) error {
			a.vm.Safepoint()
			return nil
		},
		bytecode.OpEnter: func(a *activation, _ bytecode.Instruction) error {
			a.frame.InitializeLocals()
			return nil
		},
		bytecode.OpMov: func(a *activation, ins bytecode.Instruction) error {
			a.set(ins, 0, a.get(ins, 1))
			return nil
		},
		bytecode.OpEnd: handleReturn,
		bytecode.OpRet: handleReturn,
		bytecode.OpJmp: func(a *activation, ins bytecode.Instruction) error {
			a.jump(ins, 0)
			return nil
		},
		bytecode.OpDebug: func(a *activation, ins bytecode.Instruction) error {
			a.vm.Debug(a.unit, a.pc, ins.Args[0])
			return nil
		},
		bytecode.OpArgumentCount: func(a *activation, ins bytecode.Instruction) error {
			a.set(ins, 0, value.FromInt32(int32(a.frame.ArgumentCount-1)))
			return nil
		},
		bytecode.OpGetRestLength: func(a *activation, ins bytecode.Instruction) error {
			n := a.frame.ArgumentCount - 1 - ins.Int(1)
			if n < 0 {
				n = 0
			}
			a.set(ins, 0, value.FromInt32(int32(n)))
			return nil
		},
		bytecode.OpGetArgument: func(a *activation, ins bytecode.Instruction) error {
			v := a.frame.Argument(ins.Int(1))
			a.unit.ValueProfiles[ins.Args[2]].Record(v)
			a.set(ins, 0, v)
			return nil
		},

		bytecode.OpIsEmpty:     predicate(func(_ *vm.VM, v value.Value) bool { return v.IsEmpty() }),
		bytecode.OpIsUndefined: predicate(func(m *vm.VM, v value.Value) bool { return v.IsUndefined() || m.MasqueradesAsUndefined(v) }),
		bytecode.OpIsBoolean:   predicate(func(_ *vm.VM, v value.Value) bool { return v.IsBoolean() }),
		bytecode.OpIsNumber:    predicate(func(_ *vm.VM, v value.Value) bool { return v.IsNumber() }),
		bytecode.OpIsObject:    predicate((*vm.VM).IsObject),
		bytecode.OpNot:         predicate(func(m *vm.VM, v value.Value) bool { return !m.ToBoolean(v) }),
		bytecode.OpEqNull:      predicate((*vm.VM).EqualsNull),
		bytecode.OpNeqNull:     predicate(func(m *vm.VM, v value.Value) bool { return !m.EqualsNull(v) }),
		bytecode.OpIsCellWithType: func(a *activation, ins bytecode.Instruction) error {
			a.set(ins, 0, value.FromBool(a.vm.IsCellWithType(a.get(ins, 1), heap.CellType(ins.Args[2]))))
			return nil
		},

		bytecode.OpToPrimitive: unary(func(m *vm.VM, v value.Value) (value.Value, error) { return m.ToPrimitive(v, false) }),
		bytecode.OpToString:    unary((*vm.VM).ToString),
		bytecode.OpToNumber: func(a *activation, ins bytecode.Instruction) error {
			r, err := a.vm.ToNumber(a.get(ins, 1), &a.unit.ValueProfiles[ins.Args[2]])
			if err != nil {
				return err
			}
			a.set(ins, 0, r)
			return nil
		},
		bytecode.OpToObject: func(a *activation, ins bytecode.Instruction) error {
			r, err := a.vm.ToObject(a.get(ins, 1), &a.unit.ValueProfiles[ins.Args[2]])
			if err != nil {
				return err
			}
			a.set(ins, 0, r)
			return nil
		},
		bytecode.OpToThis: func(a *activation, ins bytecode.Instruction) error {
			r, err := a.vm.ToThis(a.get(ins, 0), &a.unit.ToThisCaches[ins.Args[1]])
			if err != nil {
				return err
			}
			a.set(ins, 0, r)
			return nil
		},

		bytecode.OpEq:        compare(func(m *vm.VM, x, y value.Value) (bool, error) { return m.LooseEqual(x, y) }),
		bytecode.OpNeq:       compare(negate((*vm.VM).LooseEqual)),
		bytecode.OpStrictEq:  compare(func(m *vm.VM, x, y value.Value) (bool, error) { return m.StrictEqual(x, y), nil }),
		bytecode.OpNStrictEq: compare(func(m *vm.VM, x, y value.Value) (bool, error) { return !m.StrictEqual(x, y), nil }),
		bytecode.OpLess:      compare((*vm.VM).Less),
		bytecode.OpJEq:       branch((*vm.VM).LooseEqual),
		bytecode.OpJNeq:      branch(negate((*vm.VM).LooseEqual)),
		bytecode.OpJStrictEq: branch(func(m *vm.VM, x, y value.Value) (bool, error) { return m.StrictEqual(x, y), nil }),
		bytecode.OpJNStrictEq: branch(func(m *vm.VM, x, y value.Value) (bool, error) {
			return !m.StrictEqual(x, y), nil
		}),
		bytecode.OpJLess:  branch((*vm.VM).Less),
		bytecode.OpJNLess: branch(negate((*vm.VM).Less)),
		bytecode.OpJEqNull: func(a *activation, ins bytecode.Instruction) error {
			if a.vm.EqualsNull(a.get(ins, 0)) {
				a.jump(ins, 1)
			}
			return nil
		},
		bytecode.OpJNeqNull: func(a *activation, ins bytecode.Instruction) error {
			if !a.vm.EqualsNull(a.get(ins, 0)) {
				a.jump(ins, 1)
			}
			return nil
		},
		bytecode.OpJFalse: func(a *activation, ins bytecode.Instruction) error {
			if !a.vm.ToBoolean(a.get(ins, 0)) {
				a.jump(ins, 1)
			}
			return nil
		},
		bytecode.OpJTrue: func(a *activation, ins bytecode.Instruction) error {
			if a.vm.ToBoolean(a.get(ins, 0)) {
				a.jump(ins, 1)
			}
			return nil
		},
		bytecode.OpJNeqPtr: func(a *activation, ins bytecode.Instruction) error {
			want, ok := a.vm.SpecialPointer(vm.SpecialPointer(ins.Args[1]))
			if !ok {
				return errors.AssertionFailedf("unknown special pointer %d", ins.Args[1])
			}
			if a.get(ins, 0) != want {
				atomic.StoreInt32(&a.unit.PointerFlags[ins.Args[3]].Mismatch, 1)
				a.jump(ins, 2)
			}
			return nil
		},

		bytecode.OpMul: arith((*vm.VM).Mul),
		bytecode.OpAdd: arith((*vm.VM).Add),
		bytecode.OpSub: arith((*vm.VM).Sub),
		bytecode.OpInc: func(a *activation, ins bytecode.Instruction) error {
			r, err := a.vm.Inc(a.get(ins, 0))
			if err != nil {
				return err
			}
			a.set(ins, 0, r)
			return nil
		},
		bytecode.OpDec: func(a *activation, ins bytecode.Instruction) error {
			r, err := a.vm.Dec(a.get(ins, 0))
			if err != nil {
				return err
			}
			a.set(ins, 0, r)
			return nil
		},

		bytecode.OpNewObject: func(a *activation, ins bytecode.Instruction) error {
			r, err := a.vm.NewObjectFromProfile(&a.unit.AllocationProfiles[ins.Args[2]])
			if err != nil {
				return err
			}
			a.set(ins, 0, r)
			return nil
		},
		bytecode.OpCreateThis: func(a *activation, ins bytecode.Instruction) error {
			r, err := a.vm.CreateThis(a.get(ins, 1), ins.Int(2), &a.unit.CreateThisCaches[ins.Args[3]])
			if err != nil {
				return err
			}
			a.set(ins, 0, r)
			return nil
		},
		bytecode.OpNewArray: func(a *activation, ins bytecode.Instruction) error {
			r, err := a.vm.NewArray(a.frame.Range(ins.Reg(1), ins.Int(2)))
			if err != nil {
				return err
			}
			a.set(ins, 0, r)
			return nil
		},
		bytecode.OpNewArrayWithSize: unary((*vm.VM).NewArrayWithSize),
		bytecode.OpNewFunc:          newFunction,
		bytecode.OpNewFuncExp:       newFunction,
		bytecode.OpNewRegExp: func(a *activation, ins bytecode.Instruction) error {
			r, err := a.vm.NewRegExp(a.get(ins, 1), a.get(ins, 2))
			if err != nil {
				return err
			}
			a.set(ins, 0, r)
			return nil
		},
		bytecode.OpSetFunctionName: func(a *activation, ins bytecode.Instruction) error {
			return a.vm.SetFunctionName(a.get(ins, 0), a.get(ins, 1))
		},

		bytecode.OpOverridesHasInstance: compare(func(m *vm.VM, ctor, hasInstance value.Value) (bool, error) {
			return m.OverridesHasInstance(ctor, hasInstance), nil
		}),
		bytecode.OpInstanceOf: compare((*vm.VM).InstanceOf),
		bytecode.OpInstanceOfCustom: func(a *activation, ins bytecode.Instruction) error {
			r, err := a.vm.InstanceOfCustom(a.get(ins, 1), a.get(ins, 2), a.get(ins, 3))
			if err != nil {
				return err
			}
			a.set(ins, 0, value.FromBool(r))
			return nil
		},

		bytecode.OpGetByVal: binary((*vm.VM).GetByVal),
		bytecode.OpPutByVal: func(a *activation, ins bytecode.Instruction) error {
			return a.vm.PutByVal(a.get(ins, 0), a.get(ins, 1), a.get(ins, 2))
		},
		bytecode.OpCall: func(a *activation, ins bytecode.Instruction) error {
			r, err := a.vm.Call(a.get(ins, 1), a.get(ins, 2), a.frame.Range(ins.Reg(3), ins.Int(4)))
			if err != nil {
				return err
			}
			a.set(ins, 0, r)
			a.vm.Safepoint()
			return nil
		},
		bytecode.OpConstruct: func(a *activation, ins bytecode.Instruction) error {
			r, err := a.vm.Construct(a.get(ins, 1), a.frame.Range(ins.Reg(2), ins.Int(3)))
			if err != nil {
				return err
			}
			a.set(ins, 0, r)
			a.vm.Safepoint()
			return nil
		},

		bytecode.OpGetPropertyEnumerator: unary((*vm.VM).GetPropertyEnumerator),
		bytecode.OpHasStructureProperty:  compare((*vm.VM).HasStructureProperty),
		bytecode.OpHasGenericProperty:    compare((*vm.VM).HasGenericProperty),
		bytecode.OpHasIndexedProperty: func(a *activation, ins bytecode.Instruction) error {
			base := a.get(ins, 1)
			a.vm.ObserveArray(&a.unit.ArrayProfiles[ins.Args[3]], base)
			r, err := a.vm.HasIndexedProperty(base, a.get(ins, 2))
			if err != nil {
				return err
			}
			a.set(ins, 0, value.FromBool(r))
			return nil
		},
		bytecode.OpGetDirectPname: func(a *activation, ins bytecode.Instruction) error {
			r, err := a.vm.GetDirectPname(a.get(ins, 1), a.get(ins, 2))
			if err != nil {
				return err
			}
			a.unit.ValueProfiles[ins.Args[5]].Record(r)
			a.set(ins, 0, r)
			return nil
		},
		bytecode.OpEnumeratorStructurePname: func(a *activation, ins bytecode.Instruction) error {
			a.set(ins, 0, a.vm.EnumeratorStructurePname(a.get(ins, 1), a.get(ins, 2)))
			return nil
		},
		bytecode.OpEnumeratorGenericPname: func(a *activation, ins bytecode.Instruction) error {
			a.set(ins, 0, a.vm.EnumeratorGenericPname(a.get(ins, 1), a.get(ins, 2)))
			return nil
		},

		bytecode.OpThrow: func(a *activation, ins bytecode.Instruction) error {
			return a.vm.Throw(a.get(ins, 0))
		},
		bytecode.OpCatch: handleCatch,
		bytecode.OpCheckTdz: func(a *activation, ins bytecode.Instruction) error {
			return a.vm.CheckTDZ(a.get(ins, 0))
		},

		bytecode.OpSwitchImm: func(a *activation, ins bytecode.Instruction) error {
			a.next = a.vm.SwitchImm(&a.unit.SwitchTables[ins.Args[0]], ins.Int(1), a.get(ins, 2))
			return nil
		},
		bytecode.OpSwitchChar: func(a *activation, ins bytecode.Instruction) error {
			a.next = a.vm.SwitchChar(&a.unit.SwitchTables[ins.Args[0]], ins.Int(1), a.get(ins, 2))
			return nil
		},
		bytecode.OpSwitchString: func(a *activation, ins bytecode.Instruction) error {
			a.next = a.vm.SwitchString(&a.unit.StringSwitchTables[ins.Args[0]], ins.Int(1), a.get(ins, 2))
			return nil
		},

		bytecode.OpProfileType: func(a *activation, ins bytecode.Instruction) error {
			a.vm.ProfileType(a.get(ins, 0), &a.unit.TypeLocations[ins.Args[1]])
			return nil
		},
		bytecode.OpProfileControlFlow: func(a *activation, ins bytecode.Instruction) error {
			atomic.AddUint64(&a.unit.BasicBlocks[ins.Args[0]].ExecutionCount, 1)
			return nil
		},
		bytecode.OpCheckTraps: func(a *activation, _ bytecode.Instruction) error {
			a.vm.Safepoint()
			return a.vm.HandleTraps()
		},
	}
}

func handleReturn(a *activation, ins bytecode.Instruction) error {
	a.result = a.get(ins, 0)
	a.done = true
	return nil
}

func handleCatch(a *activation, ins bytecode.Instruction) error {
	e := a.vm.TakePendingException()
	if e == nil {
		return errors.AssertionFailedf("%s@%d: catch without a pending exception", a.unit.Name, a.pc)
	}
	a.set(ins, 0, value.FromCell(e.Cell))
	a.set(ins, 1, e.Value)
	if ins.Args[2] < 0 {
		return nil
	}
	cp := &a.unit.CatchProfiles[ins.Args[2]]
	for i, r := range cp.Operands {
		cp.Profiles[i].Record(a.frame.Get(r))
	}
	return nil
}

func newFunction(a *activation, ins bytecode.Instruction) error {
	r, err := a.vm.NewFunction(uint32(ins.Args[1]), uint8(ins.Args[2]))
	if err != nil {
		return err
	}
	a.set(ins, 0, r)
	return nil
}

func predicate(f func(*vm.VM, value.Value) bool) handler {
	return func(a *activation, ins bytecode.Instruction) error {
		a.set(ins, 0, value.FromBool(f(a.vm, a.get(ins, 1))))
		return nil
	}
}

func unary(f func(*vm.VM, value.Value) (value.Value, error)) handler {
	return func(a *activation, ins bytecode.Instruction) error {
		r, err := f(a.vm, a.get(ins, 1))
		if err != nil {
			return err
		}
		a.set(ins, 0, r)
		return nil
	}
}

func binary(f func(*vm.VM, value.Value, value.Value) (value.Value, error)) handler {
	return func(a *activation, ins bytecode.Instruction) error {
		r, err := f(a.vm, a.get(ins, 1), a.get(ins, 2))
		if err != nil {
			return err
		}
		a.set(ins, 0, r)
		return nil
	}
}

func arith(f func(*vm.VM, value.Value, value.Value, *bytecode.ResultProfile) (value.Value, error)) handler {
	return func(a *activation, ins bytecode.Instruction) error {
		r, err := f(a.vm, a.get(ins, 1), a.get(ins, 2), &a.unit.ResultProfiles[ins.Args[3]])
		if err != nil {
			return err
		}
		a.set(ins, 0, r)
		return nil
	}
}

func negate(f func(*vm.VM, value.Value, value.Value) (bool, error)) func(*vm.VM, value.Value, value.Value) (bool, error) {
	return func(m *vm.VM, x, y value.Value) (bool, error) {
		r, err := f(m, x, y)
		return !r, err
	}
}

func compare(f func(*vm.VM, value.Value, value.Value) (bool, error)) handler {
	return func(a *activation, ins bytecode.Instruction) error {
		r, err := f(a.vm, a.get(ins, 1), a.get(ins, 2))
		if err != nil {
			return err
		}
		a.set(ins, 0, value.FromBool(r))
		return nil
	}
}

func branch(f func(*vm.VM, value.Value, value.Value) (bool, error)) handler {
	return func(a *activation, ins bytecode.Instruction) error {
		r, err := f(a.vm, a.get(ins, 0), a.get(ins, 1))
		if err != nil {
			return err
		}
		if r {
			a.jump(ins, 2)
		}
		return nil
	}
}
