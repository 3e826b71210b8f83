package vm

import (
	"math"
	"unicode/utf8"

	"basejit/pkg/bytecode"
	"basejit/pkg/value"
)

// SwitchImmKey converts the scrutinee of switch_imm to a table key. Doubles
// qualify only when they hold an int32 exactly.
func SwitchImmKey(v value.Value) (int32, bool) {
	switch {
	case v.IsInt32():
		return v.AsInt32(), true
	case v.IsDouble():
		d := v.AsDouble()
		if d != math.Trunc(d) || d < math.MinInt32 || d > math.MaxInt32 {
			return 0, false
		}
		return int32(d), true
	}
	return 0, false
}

// SwitchCharKey converts the scrutinee of switch_char to a table key: the
// code unit of a string holding exactly one character. Characters outside
// the basic multilingual plane are two code units long and take the
// default target.
func (vm *VM) SwitchCharKey(v value.Value) (int32, bool) {
	if !vm.IsString(v) {
		return 0, false
	}
	s := vm.StringOf(v)
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || size != len(s) || r > 0xFFFF {
		return 0, false
	}
	if r == utf8.RuneError && size == 1 {
		// Invalid byte, not a literal U+FFFD.
		return 0, false
	}
	return int32(r), true
}

// SwitchImm returns the instruction index switch_imm continues at.
func (vm *VM) SwitchImm(t *bytecode.SimpleJumpTable, defaultTarget int, v value.Value) int {
	key, ok := SwitchImmKey(v)
	if !ok {
		return defaultTarget
	}
	if target := t.Lookup(key); target >= 0 {
		return int(target)
	}
	return defaultTarget
}

// SwitchChar dispatches on single-character strings.
func (vm *VM) SwitchChar(t *bytecode.SimpleJumpTable, defaultTarget int, v value.Value) int {
	key, ok := vm.SwitchCharKey(v)
	if !ok {
		return defaultTarget
	}
	if target := t.Lookup(key); target >= 0 {
		return int(target)
	}
	return defaultTarget
}

// SwitchString dispatches on string contents.
func (vm *VM) SwitchString(t *bytecode.StringJumpTable, defaultTarget int, v value.Value) int {
	if !vm.IsString(v) {
		return defaultTarget
	}
	if i := t.Lookup(vm.StringOf(v)); i >= 0 {
		return int(t.Cases[i].Target)
	}
	return defaultTarget
}

// SwitchStringCase is SwitchString reporting the matching case index, or -1.
func (vm *VM) SwitchStringCase(t *bytecode.StringJumpTable, v value.Value) int {
	if !vm.IsString(v) {
		return -1
	}
	return t.Lookup(vm.StringOf(v))
}
