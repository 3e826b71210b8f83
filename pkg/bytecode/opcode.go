package bytecode

import "fmt"

// Opcode is the closed set of instruction kinds.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpEnter
	OpIdentityWithProfile
	OpMov
	OpEnd
	OpRet
	OpJmp
	OpDebug
	OpArgumentCount
	OpGetRestLength
	OpGetArgument

	OpIsEmpty
	OpIsUndefined
	OpIsBoolean
	OpIsNumber
	OpIsCellWithType
	OpIsObject

	OpToPrimitive
	OpToNumber
	OpToString
	OpToObject
	OpNot
	OpToThis

	OpEq
	OpNeq
	OpStrictEq
	OpNStrictEq
	OpJEq
	OpJNeq
	OpJStrictEq
	OpJNStrictEq
	OpEqNull
	OpNeqNull
	OpJEqNull
	OpJNeqNull
	OpJNeqPtr
	OpJFalse
	OpJTrue

	OpMul
	OpAdd
	OpSub
	OpInc
	OpDec
	OpLess
	OpJLess
	OpJNLess

	OpNewObject
	OpCreateThis
	OpNewArray
	OpNewArrayWithSize
	OpNewFunc
	OpNewFuncExp
	OpNewRegExp
	OpSetFunctionName

	OpOverridesHasInstance
	OpInstanceOf
	OpInstanceOfCustom

	OpGetByVal
	OpPutByVal
	OpCall
	OpConstruct

	OpGetPropertyEnumerator
	OpHasStructureProperty
	OpHasGenericProperty
	OpHasIndexedProperty
	OpGetDirectPname
	OpEnumeratorStructurePname
	OpEnumeratorGenericPname

	OpThrow
	OpCatch
	OpCheckTdz

	OpSwitchImm
	OpSwitchChar
	OpSwitchString

	OpProfileType
	OpProfileControlFlow
	OpLoopHint
	OpCheckTraps

	NumOpcodes
)

// OperandKind describes how an operand slot is interpreted.
type OperandKind uint8

const (
	OperandDst    OperandKind = iota + 1 // register written (and sometimes read)
	OperandSrc                           // register or constant read
	OperandReg                           // first register of a contiguous range
	OperandImm                           // immediate integer
	OperandTarget                        // instruction index
	OperandSwitchTable
	OperandStringSwitchTable

	// Side-table slots. The builder allocates these itself.
	OperandValueProfile
	OperandResultProfile
	OperandArrayProfile
	OperandAllocationProfile
	OperandToThisCache
	OperandCreateThisCache
	OperandPointerFlag
	OperandCatchProfile
	OperandTypeLocation
	OperandBasicBlock
)

// IsSideTable reports whether operands of this kind index a profiling table.
func (k OperandKind) IsSideTable() bool { return k >= OperandValueProfile }

// MaxArgs is the fixed operand count of every instruction.
const MaxArgs = 6

type opcodeInfo struct {
	name     string
	operands []OperandKind
}

const (
	kDst    = OperandDst
	kSrc    = OperandSrc
	kReg    = OperandReg
	kImm    = OperandImm
	kTarget = OperandTarget
)

var opcodeTable = [NumOpcodes]opcodeInfo{
	OpNop:                 {"nop", nil},
	OpEnter:               {"enter", nil},
	OpIdentityWithProfile: {"identity_with_profile", []OperandKind{kSrc, OperandValueProfile}},
	OpMov:                 {"mov", []OperandKind{kDst, kSrc}},
	OpEnd:                 {"end", []OperandKind{kSrc}},
	OpRet:                 {"ret", []OperandKind{kSrc}},
	OpJmp:                 {"jmp", []OperandKind{kTarget}},
	OpDebug:               {"debug", []OperandKind{kImm}},
	OpArgumentCount:       {"argument_count", []OperandKind{kDst}},
	OpGetRestLength:       {"get_rest_length", []OperandKind{kDst, kImm}},
	OpGetArgument:         {"get_argument", []OperandKind{kDst, kImm, OperandValueProfile}},

	OpIsEmpty:        {"is_empty", []OperandKind{kDst, kSrc}},
	OpIsUndefined:    {"is_undefined", []OperandKind{kDst, kSrc}},
	OpIsBoolean:      {"is_boolean", []OperandKind{kDst, kSrc}},
	OpIsNumber:       {"is_number", []OperandKind{kDst, kSrc}},
	OpIsCellWithType: {"is_cell_with_type", []OperandKind{kDst, kSrc, kImm}},
	OpIsObject:       {"is_object", []OperandKind{kDst, kSrc}},

	OpToPrimitive: {"to_primitive", []OperandKind{kDst, kSrc}},
	OpToNumber:    {"to_number", []OperandKind{kDst, kSrc, OperandValueProfile}},
	OpToString:    {"to_string", []OperandKind{kDst, kSrc}},
	OpToObject:    {"to_object", []OperandKind{kDst, kSrc, OperandValueProfile}},
	OpNot:         {"not", []OperandKind{kDst, kSrc}},
	OpToThis:      {"to_this", []OperandKind{kDst, OperandToThisCache}},

	OpEq:         {"eq", []OperandKind{kDst, kSrc, kSrc}},
	OpNeq:        {"neq", []OperandKind{kDst, kSrc, kSrc}},
	OpStrictEq:   {"stricteq", []OperandKind{kDst, kSrc, kSrc}},
	OpNStrictEq:  {"nstricteq", []OperandKind{kDst, kSrc, kSrc}},
	OpJEq:        {"jeq", []OperandKind{kSrc, kSrc, kTarget}},
	OpJNeq:       {"jneq", []OperandKind{kSrc, kSrc, kTarget}},
	OpJStrictEq:  {"jstricteq", []OperandKind{kSrc, kSrc, kTarget}},
	OpJNStrictEq: {"jnstricteq", []OperandKind{kSrc, kSrc, kTarget}},
	OpEqNull:     {"eq_null", []OperandKind{kDst, kSrc}},
	OpNeqNull:    {"neq_null", []OperandKind{kDst, kSrc}},
	OpJEqNull:    {"jeq_null", []OperandKind{kSrc, kTarget}},
	OpJNeqNull:   {"jneq_null", []OperandKind{kSrc, kTarget}},
	OpJNeqPtr:    {"jneq_ptr", []OperandKind{kSrc, kImm, kTarget, OperandPointerFlag}},
	OpJFalse:     {"jfalse", []OperandKind{kSrc, kTarget}},
	OpJTrue:      {"jtrue", []OperandKind{kSrc, kTarget}},

	OpMul:    {"mul", []OperandKind{kDst, kSrc, kSrc, OperandResultProfile}},
	OpAdd:    {"add", []OperandKind{kDst, kSrc, kSrc, OperandResultProfile}},
	OpSub:    {"sub", []OperandKind{kDst, kSrc, kSrc, OperandResultProfile}},
	OpInc:    {"inc", []OperandKind{kDst}},
	OpDec:    {"dec", []OperandKind{kDst}},
	OpLess:   {"less", []OperandKind{kDst, kSrc, kSrc}},
	OpJLess:  {"jless", []OperandKind{kSrc, kSrc, kTarget}},
	OpJNLess: {"jnless", []OperandKind{kSrc, kSrc, kTarget}},

	OpNewObject:        {"new_object", []OperandKind{kDst, kImm, OperandAllocationProfile}},
	OpCreateThis:       {"create_this", []OperandKind{kDst, kSrc, kImm, OperandCreateThisCache}},
	OpNewArray:         {"new_array", []OperandKind{kDst, kReg, kImm}},
	OpNewArrayWithSize: {"new_array_with_size", []OperandKind{kDst, kSrc}},
	OpNewFunc:          {"new_func", []OperandKind{kDst, kImm, kImm}},
	OpNewFuncExp:       {"new_func_exp", []OperandKind{kDst, kImm, kImm}},
	OpNewRegExp:        {"new_regexp", []OperandKind{kDst, kSrc, kSrc}},
	OpSetFunctionName:  {"set_function_name", []OperandKind{kSrc, kSrc}},

	OpOverridesHasInstance: {"overrides_has_instance", []OperandKind{kDst, kSrc, kSrc}},
	OpInstanceOf:           {"instanceof", []OperandKind{kDst, kSrc, kSrc}},
	OpInstanceOfCustom:     {"instanceof_custom", []OperandKind{kDst, kSrc, kSrc, kSrc}},

	OpGetByVal:  {"get_by_val", []OperandKind{kDst, kSrc, kSrc}},
	OpPutByVal:  {"put_by_val", []OperandKind{kSrc, kSrc, kSrc}},
	OpCall:      {"call", []OperandKind{kDst, kSrc, kSrc, kReg, kImm}},
	OpConstruct: {"construct", []OperandKind{kDst, kSrc, kReg, kImm}},

	OpGetPropertyEnumerator:    {"get_property_enumerator", []OperandKind{kDst, kSrc}},
	OpHasStructureProperty:     {"has_structure_property", []OperandKind{kDst, kSrc, kSrc, kSrc}},
	OpHasGenericProperty:       {"has_generic_property", []OperandKind{kDst, kSrc, kSrc}},
	OpHasIndexedProperty:       {"has_indexed_property", []OperandKind{kDst, kSrc, kSrc, OperandArrayProfile}},
	OpGetDirectPname:           {"get_direct_pname", []OperandKind{kDst, kSrc, kSrc, kSrc, kSrc, OperandValueProfile}},
	OpEnumeratorStructurePname: {"enumerator_structure_pname", []OperandKind{kDst, kSrc, kSrc}},
	OpEnumeratorGenericPname:   {"enumerator_generic_pname", []OperandKind{kDst, kSrc, kSrc}},

	OpThrow:    {"throw", []OperandKind{kSrc}},
	OpCatch:    {"catch", []OperandKind{kDst, kDst, OperandCatchProfile}},
	OpCheckTdz: {"check_tdz", []OperandKind{kSrc}},

	OpSwitchImm:    {"switch_imm", []OperandKind{OperandSwitchTable, kTarget, kSrc}},
	OpSwitchChar:   {"switch_char", []OperandKind{OperandSwitchTable, kTarget, kSrc}},
	OpSwitchString: {"switch_string", []OperandKind{OperandStringSwitchTable, kTarget, kSrc}},

	OpProfileType:        {"profile_type", []OperandKind{kSrc, OperandTypeLocation}},
	OpProfileControlFlow: {"profile_control_flow", []OperandKind{OperandBasicBlock}},
	OpLoopHint:           {"loop_hint", nil},
	OpCheckTraps:         {"check_traps", nil},
}

var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, NumOpcodes)
	for op := Opcode(0); op < NumOpcodes; op++ {
		m[opcodeTable[op].name] = op
	}
	return m
}()

func (op Opcode) String() string {
	if op < NumOpcodes {
		return opcodeTable[op].name
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// Operands returns the operand layout of op.
func (op Opcode) Operands() []OperandKind {
	if op >= NumOpcodes {
		return nil
	}
	return opcodeTable[op].operands
}

// Valid reports whether op is a member of the instruction set.
func (op Opcode) Valid() bool { return op < NumOpcodes }

// IsJump reports whether op may transfer control to an operand target.
func (op Opcode) IsJump() bool {
	for _, k := range op.Operands() {
		if k == OperandTarget {
			return true
		}
	}
	return false
}

// IsTerminal reports whether control never falls through to the next instruction.
func (op Opcode) IsTerminal() bool {
	switch op {
	case OpRet, OpEnd, OpJmp, OpThrow, OpSwitchImm, OpSwitchChar, OpSwitchString:
		return true
	}
	return false
}

// LookupOpcode finds an opcode by its textual name.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}
