package jit

import (
	"fmt"
	"sync/atomic"
)

// OperationID names the generic routine a call site exits to.
type OperationID uint32

const (
	OperationNone OperationID = iota

	OperationMul
	OperationAdd
	OperationSub
	OperationInc
	OperationDec
	OperationLess
	OperationJLess
	OperationJNLess

	OperationEq
	OperationNeq
	OperationJEq
	OperationJNeq
	OperationStrictEq
	OperationNStrictEq
	OperationJStrictEq
	OperationJNStrictEq
	OperationJFalse
	OperationJTrue

	OperationToPrimitive
	OperationToNumber
	OperationToString
	OperationToObject
	OperationNot
	OperationToThis

	OperationNewObject
	OperationCreateThis
	OperationNewArray
	OperationNewArrayWithSize
	OperationNewFunc
	OperationNewRegExp
	OperationSetFunctionName

	OperationInstanceOfOptimize
	OperationInstanceOfGeneric
	OperationInstanceOfCustom

	OperationGetByVal
	OperationPutByVal
	OperationCall
	OperationConstruct

	OperationGetPropertyEnumerator
	OperationHasStructureProperty
	OperationHasGenericProperty
	OperationHasIndexedPropertyDefault
	OperationHasIndexedPropertyGeneric
	OperationGetDirectPname
	OperationEnumeratorStructurePname
	OperationEnumeratorGenericPname

	OperationThrow
	OperationCatchOSR
	OperationCheckTDZ

	OperationSwitchImm
	OperationSwitchChar
	OperationSwitchString

	OperationProcessTypeLog
	OperationHandleTraps
	OperationOptimize
	OperationDebug

	numOperations
)

var operationNames = [numOperations]string{
	OperationNone:                      "none",
	OperationMul:                       "mul",
	OperationAdd:                       "add",
	OperationSub:                       "sub",
	OperationInc:                       "inc",
	OperationDec:                       "dec",
	OperationLess:                      "less",
	OperationJLess:                     "jless",
	OperationJNLess:                    "jnless",
	OperationEq:                        "eq",
	OperationNeq:                       "neq",
	OperationJEq:                       "jeq",
	OperationJNeq:                      "jneq",
	OperationStrictEq:                  "stricteq",
	OperationNStrictEq:                 "nstricteq",
	OperationJStrictEq:                 "jstricteq",
	OperationJNStrictEq:                "jnstricteq",
	OperationJFalse:                    "jfalse",
	OperationJTrue:                     "jtrue",
	OperationToPrimitive:               "to_primitive",
	OperationToNumber:                  "to_number",
	OperationToString:                  "to_string",
	OperationToObject:                  "to_object",
	OperationNot:                       "not",
	OperationToThis:                    "to_this",
	OperationNewObject:                 "new_object",
	OperationCreateThis:                "create_this",
	OperationNewArray:                  "new_array",
	OperationNewArrayWithSize:          "new_array_with_size",
	OperationNewFunc:                   "new_func",
	OperationNewRegExp:                 "new_regexp",
	OperationSetFunctionName:           "set_function_name",
	OperationInstanceOfOptimize:        "instanceof_optimize",
	OperationInstanceOfGeneric:         "instanceof_generic",
	OperationInstanceOfCustom:          "instanceof_custom",
	OperationGetByVal:                  "get_by_val",
	OperationPutByVal:                  "put_by_val",
	OperationCall:                      "call",
	OperationConstruct:                 "construct",
	OperationGetPropertyEnumerator:     "get_property_enumerator",
	OperationHasStructureProperty:      "has_structure_property",
	OperationHasGenericProperty:        "has_generic_property",
	OperationHasIndexedPropertyDefault: "has_indexed_property_default",
	OperationHasIndexedPropertyGeneric: "has_indexed_property_generic",
	OperationGetDirectPname:            "get_direct_pname",
	OperationEnumeratorStructurePname:  "enumerator_structure_pname",
	OperationEnumeratorGenericPname:    "enumerator_generic_pname",
	OperationThrow:                     "throw",
	OperationCatchOSR:                  "catch_osr",
	OperationCheckTDZ:                  "check_tdz",
	OperationSwitchImm:                 "switch_imm",
	OperationSwitchChar:                "switch_char",
	OperationSwitchString:              "switch_string",
	OperationProcessTypeLog:            "process_type_log",
	OperationHandleTraps:               "handle_traps",
	OperationOptimize:                  "optimize",
	OperationDebug:                     "debug",
}

func (op OperationID) String() string {
	if op < numOperations {
		return operationNames[op]
	}
	return fmt.Sprintf("operation(%d)", uint32(op))
}

// CallSite is one exit from generated code into a generic operation. The
// driver re-enters at Continuation with the result in the return register.
type CallSite struct {
	Index        int
	Continuation int
	// Patch is the patchable site this call backs, or -1.
	Patch int

	operation atomic.Uint32
}

func newCallSite(index int, op OperationID) *CallSite {
	s := &CallSite{Index: index, Patch: -1}
	s.operation.Store(uint32(op))
	return s
}

// Operation is the routine the site currently calls.
func (s *CallSite) Operation() OperationID { return OperationID(s.operation.Load()) }

// Retarget switches the routine, e.g. from an optimizing IC operation to its
// generic form. Concurrent exits see either routine.
func (s *CallSite) Retarget(op OperationID) { s.operation.Store(uint32(op)) }

// ICState is the life cycle of a patchable site.
type ICState uint32

const (
	ICEmpty ICState = iota
	ICMonomorphic
	ICMegamorphic
)

func (s ICState) String() string {
	switch s {
	case ICEmpty:
		return "empty"
	case ICMonomorphic:
		return "monomorphic"
	case ICMegamorphic:
		return "megamorphic"
	}
	return "invalid"
}

// PatchableSite is a jmp rel32 whose displacement is 4-byte aligned, so one
// atomic 32-bit store retargets it while the code runs.
type PatchableSite struct {
	Index int
	Kind  PatchKind
	// Displacement is the code offset of the rel32 operand.
	Displacement int
	// Slow is the initial target, the instruction's slow path.
	Slow int
	// Done is where specialized stubs jump back with their result in RAX.
	Done int
	// Site is the call site of the slow path.
	Site int

	state  atomic.Uint32
	misses atomic.Uint32
	// key identifies what the installed stub is specialized for.
	key [2]uint64
}

// PatchKind selects the stub generator for a site.
type PatchKind uint8

const (
	PatchInstanceOf PatchKind = iota
	PatchHasIndexedProperty
)

func (p *PatchableSite) State() ICState { return ICState(p.state.Load()) }

func (p *PatchableSite) setState(s ICState) { p.state.Store(uint32(s)) }

// Misses is the number of times the site saw a case its stub did not cover.
func (p *PatchableSite) Misses() uint32 { return p.misses.Load() }
