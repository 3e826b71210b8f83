//go:build linux && amd64

package jit

import (
	"github.com/cockroachdb/errors"

	"basejit/pkg/bytecode"
	"basejit/pkg/heap"
	"basejit/pkg/value"
	"basejit/pkg/vm"
)

// activation is the Go side of one running invocation of generated code.
type activation struct {
	rt    *Runtime
	vm    *vm.VM
	code  *Code
	frame *vm.Frame
	ctx   *Context

	// site and index describe the most recent exit.
	site  *CallSite
	index int

	// cont is set by a successful tier-up request.
	cont *vm.Continuation
}

func (a *activation) unit() *bytecode.Unit { return a.code.Unit }

func (a *activation) arg(i int) value.Value { return a.ctx.arg(i) }

func (a *activation) get(ins bytecode.Instruction, i int) value.Value {
	return a.frame.Get(ins.Reg(i))
}

// operation is the generic routine behind a call site. Operands spilled by
// the slow path are in Context.Args; the rest come from the frame.
type operation func(a *activation, ins bytecode.Instruction) (value.Value, error)

var operations [numOperations]operation

func boolResult(r bool, err error) (value.Value, error) {
	if err != nil {
		return value.Empty, err
	}
	return value.FromBool(r), nil
}

func unaryOperation(f func(*vm.VM, value.Value) (value.Value, error)) operation {
	return func(a *activation, _ bytecode.Instruction) (value.Value, error) {
		return f(a.vm, a.arg(0))
	}
}

func binaryOperation(f func(*vm.VM, value.Value, value.Value) (value.Value, error)) operation {
	return func(a *activation, _ bytecode.Instruction) (value.Value, error) {
		return f(a.vm, a.arg(0), a.arg(1))
	}
}

func compareOperation(f func(*vm.VM, value.Value, value.Value) (bool, error), negate bool) operation {
	return func(a *activation, _ bytecode.Instruction) (value.Value, error) {
		r, err := f(a.vm, a.arg(0), a.arg(1))
		return boolResult(r != negate, err)
	}
}

func arithOperation(f func(*vm.VM, value.Value, value.Value, *bytecode.ResultProfile) (value.Value, error)) operation {
	return func(a *activation, ins bytecode.Instruction) (value.Value, error) {
		return f(a.vm, a.arg(0), a.arg(1), &a.unit().ResultProfiles[ins.Args[3]])
	}
}

func strictEqual(m *vm.VM, x, y value.Value) (bool, error) { return m.StrictEqual(x, y), nil }

func toBoolean(negate bool) operation {
	return func(a *activation, _ bytecode.Instruction) (value.Value, error) {
		return value.FromBool(a.vm.ToBoolean(a.arg(0)) != negate), nil
	}
}

func init() {
	operations = [numOperations]operation{
		OperationMul:    arithOperation((*vm.VM).Mul),
		OperationAdd:    arithOperation((*vm.VM).Add),
		OperationSub:    arithOperation((*vm.VM).Sub),
		OperationInc:    unaryOperation((*vm.VM).Inc),
		OperationDec:    unaryOperation((*vm.VM).Dec),
		OperationLess:   compareOperation((*vm.VM).Less, false),
		OperationJLess:  compareOperation((*vm.VM).Less, false),
		OperationJNLess: compareOperation((*vm.VM).Less, true),

		OperationEq:         compareOperation((*vm.VM).LooseEqual, false),
		OperationNeq:        compareOperation((*vm.VM).LooseEqual, true),
		OperationJEq:        compareOperation((*vm.VM).LooseEqual, false),
		OperationJNeq:       compareOperation((*vm.VM).LooseEqual, true),
		OperationStrictEq:   compareOperation(strictEqual, false),
		OperationNStrictEq:  compareOperation(strictEqual, true),
		OperationJStrictEq:  compareOperation(strictEqual, false),
		OperationJNStrictEq: compareOperation(strictEqual, true),
		OperationJFalse:     toBoolean(true),
		OperationJTrue:      toBoolean(false),

		OperationToPrimitive: unaryOperation(func(m *vm.VM, v value.Value) (value.Value, error) {
			return m.ToPrimitive(v, false)
		}),
		OperationToNumber: func(a *activation, ins bytecode.Instruction) (value.Value, error) {
			return a.vm.ToNumber(a.arg(0), &a.unit().ValueProfiles[ins.Args[2]])
		},
		OperationToString: unaryOperation((*vm.VM).ToString),
		OperationToObject: func(a *activation, ins bytecode.Instruction) (value.Value, error) {
			return a.vm.ToObject(a.arg(0), &a.unit().ValueProfiles[ins.Args[2]])
		},
		OperationNot: toBoolean(true),
		OperationToThis: func(a *activation, ins bytecode.Instruction) (value.Value, error) {
			return a.vm.ToThis(a.arg(0), &a.unit().ToThisCaches[ins.Args[1]])
		},

		OperationNewObject: func(a *activation, ins bytecode.Instruction) (value.Value, error) {
			return a.vm.NewObjectFromProfile(&a.unit().AllocationProfiles[ins.Args[2]])
		},
		OperationCreateThis: func(a *activation, ins bytecode.Instruction) (value.Value, error) {
			return a.vm.CreateThis(a.arg(0), ins.Int(2), &a.unit().CreateThisCaches[ins.Args[3]])
		},
		OperationNewArray: func(a *activation, ins bytecode.Instruction) (value.Value, error) {
			return a.vm.NewArray(a.frame.Range(ins.Reg(1), ins.Int(2)))
		},
		OperationNewArrayWithSize: unaryOperation((*vm.VM).NewArrayWithSize),
		OperationNewFunc: func(a *activation, ins bytecode.Instruction) (value.Value, error) {
			return a.vm.NewFunction(uint32(ins.Args[1]), uint8(ins.Args[2]))
		},
		OperationNewRegExp: binaryOperation((*vm.VM).NewRegExp),
		OperationSetFunctionName: func(a *activation, _ bytecode.Instruction) (value.Value, error) {
			return value.Undefined, a.vm.SetFunctionName(a.arg(0), a.arg(1))
		},

		OperationInstanceOfOptimize: func(a *activation, _ bytecode.Instruction) (value.Value, error) {
			v, proto := a.arg(0), a.arg(1)
			r, err := a.vm.InstanceOf(v, proto)
			if err != nil {
				return value.Empty, err
			}
			a.rt.updateInstanceOfIC(a, v, proto, r)
			return value.FromBool(r), nil
		},
		OperationInstanceOfGeneric: compareOperation((*vm.VM).InstanceOf, false),
		OperationInstanceOfCustom: func(a *activation, _ bytecode.Instruction) (value.Value, error) {
			return boolResult(a.vm.InstanceOfCustom(a.arg(0), a.arg(1), a.arg(2)))
		},

		OperationGetByVal: binaryOperation((*vm.VM).GetByVal),
		OperationPutByVal: func(a *activation, _ bytecode.Instruction) (value.Value, error) {
			return value.Undefined, a.vm.PutByVal(a.arg(0), a.arg(1), a.arg(2))
		},
		OperationCall: func(a *activation, ins bytecode.Instruction) (value.Value, error) {
			return a.vm.Call(a.arg(0), a.arg(1), a.frame.Range(ins.Reg(3), ins.Int(4)))
		},
		OperationConstruct: func(a *activation, ins bytecode.Instruction) (value.Value, error) {
			return a.vm.Construct(a.arg(0), a.frame.Range(ins.Reg(2), ins.Int(3)))
		},

		OperationGetPropertyEnumerator:     unaryOperation((*vm.VM).GetPropertyEnumerator),
		OperationHasStructureProperty:      compareOperation((*vm.VM).HasStructureProperty, false),
		OperationHasGenericProperty:        compareOperation((*vm.VM).HasGenericProperty, false),
		OperationHasIndexedPropertyDefault: hasIndexedProperty(true),
		OperationHasIndexedPropertyGeneric: hasIndexedProperty(false),
		OperationGetDirectPname: func(a *activation, ins bytecode.Instruction) (value.Value, error) {
			r, err := a.vm.GetDirectPname(a.arg(0), a.arg(1))
			if err != nil {
				return value.Empty, err
			}
			a.unit().ValueProfiles[ins.Args[5]].Record(r)
			return r, nil
		},
		OperationEnumeratorStructurePname: func(a *activation, _ bytecode.Instruction) (value.Value, error) {
			return a.vm.EnumeratorStructurePname(a.arg(0), a.arg(1)), nil
		},
		OperationEnumeratorGenericPname: func(a *activation, _ bytecode.Instruction) (value.Value, error) {
			return a.vm.EnumeratorGenericPname(a.arg(0), a.arg(1)), nil
		},

		OperationThrow: func(a *activation, _ bytecode.Instruction) (value.Value, error) {
			return value.Empty, a.vm.Throw(a.arg(0))
		},
		OperationCatchOSR: (*activation).requestOSR,
		OperationCheckTDZ: func(a *activation, _ bytecode.Instruction) (value.Value, error) {
			return value.Undefined, a.vm.CheckTDZ(a.arg(0))
		},

		OperationSwitchImm: func(a *activation, ins bytecode.Instruction) (value.Value, error) {
			t := &a.unit().SwitchTables[ins.Args[0]]
			if key, ok := vm.SwitchImmKey(a.arg(0)); ok {
				if addr, ok := t.LookupCTI(key); ok {
					return value.Value(addr), nil
				}
			}
			return a.defaultTarget(ins), nil
		},
		OperationSwitchChar: func(a *activation, ins bytecode.Instruction) (value.Value, error) {
			t := &a.unit().SwitchTables[ins.Args[0]]
			if key, ok := a.vm.SwitchCharKey(a.arg(0)); ok {
				if addr, ok := t.LookupCTI(key); ok {
					return value.Value(addr), nil
				}
			}
			return a.defaultTarget(ins), nil
		},
		OperationSwitchString: func(a *activation, ins bytecode.Instruction) (value.Value, error) {
			t := &a.unit().StringSwitchTables[ins.Args[0]]
			if v := a.arg(0); a.vm.IsString(v) {
				if addr, ok := t.LookupCTI(a.vm.StringOf(v)); ok {
					return value.Value(addr), nil
				}
			}
			return a.defaultTarget(ins), nil
		},

		OperationProcessTypeLog: func(a *activation, _ bytecode.Instruction) (value.Value, error) {
			a.vm.ProcessTypeProfilerLog()
			return value.Undefined, nil
		},
		OperationHandleTraps: func(a *activation, _ bytecode.Instruction) (value.Value, error) {
			return value.Undefined, a.vm.HandleTraps()
		},
		OperationOptimize: (*activation).requestOSR,
		OperationDebug: func(a *activation, ins bytecode.Instruction) (value.Value, error) {
			a.vm.Debug(a.unit(), a.index, ins.Args[0])
			return value.Undefined, nil
		},
	}
}

// defaultTarget is the code address of a switch's default target.
func (a *activation) defaultTarget(ins bytecode.Instruction) value.Value {
	return value.Value(a.code.AddressOf(a.code.InstructionOffsets[ins.Int(1)]))
}

// hasIndexedProperty records the base in the array profile, answers
// generically and, for the optimizing form, updates the site's stub.
func hasIndexedProperty(optimize bool) operation {
	return func(a *activation, ins bytecode.Instruction) (value.Value, error) {
		base, prop := a.arg(0), a.arg(1)
		a.vm.ObserveArray(&a.unit().ArrayProfiles[ins.Args[3]], base)
		r, err := a.vm.HasIndexedProperty(base, prop)
		if err != nil {
			return value.Empty, err
		}
		if optimize {
			a.rt.updateHasIndexedIC(a, base)
		}
		return value.FromBool(r), nil
	}
}

// requestOSR snapshots the frame and asks the VM for a higher tier. True
// tells the generated code to leave through exitOSR.
func (a *activation) requestOSR(_ bytecode.Instruction) (value.Value, error) {
	u := a.unit()
	req := &vm.OSRRequest{
		Unit:          u,
		Index:         a.index,
		Callee:        a.frame.Callee,
		ArgumentCount: a.frame.ArgumentCount,
		Locals:        a.frame.Locals(),
		Args:          a.frame.Arguments(),
	}
	cont := a.vm.Optimize(req)
	if cont == nil {
		return value.False, nil
	}
	a.cont = cont
	a.rt.stats.osrTransfers.Add(1)
	a.rt.logf("%s@%d: tier-up transfer", u.Name, a.index)
	return value.True, nil
}

// call runs the operation bound to the current site.
func (a *activation) call() (value.Value, error) {
	op := a.site.Operation()
	if op >= numOperations || operations[op] == nil {
		return value.Empty, errors.AssertionFailedf("%s@%d: no operation %s", a.unit().Name, a.index, op)
	}
	a.rt.stats.calls[op].Add(1)
	return operations[op](a, a.unit().Instructions[a.index])
}

// unwind maps a failed operation to the handler covering the current
// instruction. It returns the handler's code address, or err when the
// exception is uncatchable or unhandled here.
func (a *activation) unwind(err error) (uintptr, error) {
	e, ok := vm.AsException(err)
	if !ok || e.Uncatchable {
		return 0, err
	}
	h, ok := a.unit().HandlerFor(a.index)
	if !ok {
		return 0, err
	}
	a.vm.SetPendingException(e)
	return a.code.AddressOf(a.code.InstructionOffsets[h.Target]), nil
}

// isIndexableObject reports whether v is an object whose elements the
// has_indexed_property stub can read.
func isIndexableObject(m *vm.VM, v value.Value) (heap.IndexingType, bool) {
	if !m.IsObject(v) {
		return 0, false
	}
	shape := m.Heap.Indexing(v.AsCell()).Shape()
	return shape, shape == heap.Int32Shape || shape == heap.ContiguousShape
}
