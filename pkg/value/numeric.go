package value

import (
	"math"
	"strconv"
	"strings"
)

const (
	// NegativeZeroBits is the IEEE-754 encoding of -0.0.
	NegativeZeroBits uint64 = 1 << 63

	// Int52ExponentCutoff is the largest biased exponent not reported as a
	// possible int52 overflow. 0x431 is 1023+50: every magnitude of at least
	// 2^51 is flagged, including -2^51 which still fits.
	Int52ExponentCutoff = 0x431
)

// IsNegativeZeroBits reports whether bits is exactly -0.0.
func IsNegativeZeroBits(bits uint64) bool {
	return bits == NegativeZeroBits
}

// ExceedsInt52 reports whether the biased exponent of bits is above the cutoff.
func ExceedsInt52(bits uint64) bool {
	return (bits>>52)&0x7ff > Int52ExponentCutoff
}

// ToInt32 applies the modular int32 conversion.
func ToInt32(d float64) int32 {
	if i := int32(d); float64(i) == d {
		return i
	}
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	m := math.Mod(math.Trunc(d), 4294967296)
	if m < 0 {
		m += 4294967296
	}
	return int32(uint32(m))
}

// ToUint32 applies the modular uint32 conversion.
func ToUint32(d float64) uint32 {
	return uint32(ToInt32(d))
}

// FormatNumber renders d using the language's Number-to-String rules.
func FormatNumber(d float64) string {
	switch {
	case math.IsNaN(d):
		return "NaN"
	case d == 0:
		return "0"
	case math.IsInf(d, 1):
		return "Infinity"
	case math.IsInf(d, -1):
		return "-Infinity"
	}
	if d < 0 {
		return "-" + FormatNumber(-d)
	}

	// Shortest round-tripping digits and the decimal exponent n such that
	// d = 0.digits * 10^n.
	e := strconv.FormatFloat(d, 'e', -1, 64)
	mant, expPart, _ := strings.Cut(e, "e")
	digits := strings.Replace(mant, ".", "", 1)
	exp, _ := strconv.Atoi(expPart)
	k := len(digits)
	n := exp + 1

	switch {
	case k <= n && n <= 21:
		return digits + strings.Repeat("0", n-k)
	case 0 < n && n <= 21:
		return digits[:n] + "." + digits[n:]
	case -6 < n && n <= 0:
		return "0." + strings.Repeat("0", -n) + digits
	}
	sign := "+"
	if n-1 < 0 {
		sign = "-"
	}
	abs := n - 1
	if abs < 0 {
		abs = -abs
	}
	if k == 1 {
		return digits + "e" + sign + strconv.Itoa(abs)
	}
	return digits[:1] + "." + digits[1:] + "e" + sign + strconv.Itoa(abs)
}

// ParseNumber converts string contents to a number the way ToNumber does.
func ParseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			u, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return math.NaN()
			}
			return float64(u)
		}
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-') {
			return math.NaN()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f
		}
		return math.NaN()
	}
	return f
}
