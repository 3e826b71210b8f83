package value

import (
	"math"
	"testing"
)

func TestImmediateEncodings(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want uint64
	}{
		{"null", Null, 0x02},
		{"false", False, 0x06},
		{"true", True, 0x07},
		{"undefined", Undefined, 0x0a},
		{"empty", Empty, 0x00},
		{"int 5", FromInt32(5), 0xfffe000000000005},
		{"int -1", FromInt32(-1), 0xfffe0000ffffffff},
		{"double 0.5", FromDouble(0.5), math.Float64bits(0.5) + 1<<49},
	}
	for _, tt := range tests {
		if uint64(tt.v) != tt.want {
			t.Errorf("%s = %#016x, want %#016x", tt.name, uint64(tt.v), tt.want)
		}
	}
}

func TestPredicates(t *testing.T) {
	cell := FromCell(0x10000)
	tests := []struct {
		v                                         Value
		int32, double, number, cell, boolean, nul bool
	}{
		{FromInt32(7), true, false, true, false, false, false},
		{FromDouble(1.5), false, true, true, false, false, false},
		{FromDouble(math.Inf(-1)), false, true, true, false, false, false},
		{FromDouble(math.NaN()), false, true, true, false, false, false},
		{cell, false, false, false, true, false, false},
		{True, false, false, false, false, true, false},
		{False, false, false, false, false, true, false},
		{Null, false, false, false, false, false, true},
		{Undefined, false, false, false, false, false, true},
		{Empty, false, false, false, false, false, false},
	}
	for _, tt := range tests {
		if got := tt.v.IsInt32(); got != tt.int32 {
			t.Errorf("%v.IsInt32() = %v", tt.v, got)
		}
		if got := tt.v.IsDouble(); got != tt.double {
			t.Errorf("%v.IsDouble() = %v", tt.v, got)
		}
		if got := tt.v.IsNumber(); got != tt.number {
			t.Errorf("%v.IsNumber() = %v", tt.v, got)
		}
		if got := tt.v.IsCell(); got != tt.cell {
			t.Errorf("%v.IsCell() = %v", tt.v, got)
		}
		if got := tt.v.IsBoolean(); got != tt.boolean {
			t.Errorf("%v.IsBoolean() = %v", tt.v, got)
		}
		if got := tt.v.IsUndefinedOrNull(); got != tt.nul {
			t.Errorf("%v.IsUndefinedOrNull() = %v", tt.v, got)
		}
	}
}

func TestDoublesNeverReachTagSpace(t *testing.T) {
	extremes := []uint64{
		0, 1, 0x7ff0000000000000, 0x7fffffffffffffff, 0x8000000000000000,
		0xfff0000000000000, 0xfff8000000000000, 0xffffffffffffffff,
	}
	for _, bits := range extremes {
		v := FromDouble(math.Float64frombits(bits))
		if v.IsInt32() || v.IsCell() || !v.IsNumber() {
			t.Errorf("double bits %#016x boxed to %#016x outside the double range", bits, uint64(v))
		}
	}
}

func TestFromNumber(t *testing.T) {
	if v := FromNumber(3); !v.IsInt32() || v.AsInt32() != 3 {
		t.Errorf("FromNumber(3) = %v, want int32 3", v)
	}
	if v := FromNumber(math.Copysign(0, -1)); !v.IsDouble() || !math.Signbit(v.AsDouble()) {
		t.Errorf("FromNumber(-0) = %v, want double -0", v)
	}
	if v := FromNumber(1 << 31); !v.IsDouble() {
		t.Errorf("FromNumber(2^31) = %v, want a double", v)
	}
}

func TestInt52Classifier(t *testing.T) {
	if !IsNegativeZeroBits(math.Float64bits(math.Copysign(0, -1))) {
		t.Error("-0 not recognized")
	}
	if IsNegativeZeroBits(0) {
		t.Error("+0 recognized as -0")
	}
	if ExceedsInt52(math.Float64bits(1 << 50)) {
		t.Error("2^50 flagged")
	}
	if !ExceedsInt52(math.Float64bits(1 << 51)) {
		t.Error("2^51 not flagged")
	}
	// -2^51 fits in int52 but is still flagged.
	if !ExceedsInt52(math.Float64bits(-(1 << 51))) {
		t.Error("-2^51 not flagged")
	}
}

func TestFormatNumber(t *testing.T) {
	tests := map[float64]string{
		0:           "0",
		1:           "1",
		-1.5:        "-1.5",
		123.456:     "123.456",
		1e21:        "1e+21",
		1e20:        "100000000000000000000",
		0.000001:    "0.000001",
		5e-7:        "5e-7",
		1.25e-10:    "1.25e-10",
		math.Inf(1): "Infinity",
	}
	for in, want := range tests {
		if got := FormatNumber(in); got != want {
			t.Errorf("FormatNumber(%v) = %q, want %q", in, got, want)
		}
	}
	if got := FormatNumber(math.NaN()); got != "NaN" {
		t.Errorf("FormatNumber(NaN) = %q", got)
	}
}

func TestToInt32(t *testing.T) {
	tests := map[float64]int32{
		1:           1,
		-1:          -1,
		4294967296:  0,
		4294967297:  1,
		2147483648:  -2147483648,
		-2147483649: 2147483647,
		3.9:         3,
		math.Inf(1): 0,
	}
	for in, want := range tests {
		if got := ToInt32(in); got != want {
			t.Errorf("ToInt32(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestParseNumber(t *testing.T) {
	if got := ParseNumber("  42 "); got != 42 {
		t.Errorf("ParseNumber(42) = %v", got)
	}
	if got := ParseNumber("0x10"); got != 16 {
		t.Errorf("ParseNumber(0x10) = %v", got)
	}
	if got := ParseNumber(""); got != 0 {
		t.Errorf("ParseNumber(\"\") = %v", got)
	}
	if got := ParseNumber("abc"); !math.IsNaN(got) {
		t.Errorf("ParseNumber(abc) = %v", got)
	}
}
