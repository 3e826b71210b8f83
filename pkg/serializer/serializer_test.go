package serializer

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type sample struct {
	Name    string
	Count   int32
	Ratio   float64
	Enabled bool
	Items   []uint16
	Nested  *sample
	Tags    map[string]uint8
	Raw     [3]byte
	Cache   []uintptr `serialize:"-"`
	private int
}

func TestRoundTrip(t *testing.T) {
	in := sample{
		Name:    "loop",
		Count:   -7,
		Ratio:   math.Copysign(0, -1),
		Enabled: true,
		Items:   []uint16{1, 300, 65535},
		Nested:  &sample{Name: "inner", Ratio: 2.5},
		Tags:    map[string]uint8{"b": 2, "a": 1},
		Raw:     [3]byte{9, 8, 7},
		Cache:   []uintptr{0xdead},
		private: 3,
	}
	data := Serialize(&in)

	var out sample
	if err := Deserialize(data, &out); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	want := in
	want.Cache = nil
	want.private = 0
	if diff := cmp.Diff(want, out, cmp.AllowUnexported(sample{}), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if !math.Signbit(out.Ratio) {
		t.Errorf("negative zero lost its sign")
	}
}

func TestMapOrderIsStable(t *testing.T) {
	a := Serialize(map[string]uint8{"x": 1, "y": 2, "z": 3})
	b := Serialize(map[string]uint8{"z": 3, "y": 2, "x": 1})
	if !cmp.Equal(a, b) {
		t.Errorf("map encodings differ: %x vs %x", a, b)
	}
}

func TestGeneralNatural(t *testing.T) {
	for _, x := range []uint64{0, 1, 127, 128, 16383, 16384, 1 << 32, 1<<56 - 1, 1 << 56, math.MaxUint64} {
		enc := EncodeGeneralNatural(x)
		got, n, ok := DecodeGeneralNatural(enc)
		if !ok || n != len(enc) || got != x {
			t.Errorf("natural %d: decoded %d (n=%d ok=%v) from %x", x, got, n, ok, enc)
		}
	}
	if len(EncodeGeneralNatural(127)) != 1 {
		t.Errorf("127 should fit in one octet")
	}
}

func TestSignedConversions(t *testing.T) {
	if got := SignedToUnsigned(2, -1); got != 0xffff {
		t.Errorf("SignedToUnsigned(2, -1) = %#x", got)
	}
	if got := UnsignedToSigned(2, 0xffff); got != -1 {
		t.Errorf("UnsignedToSigned(2, 0xffff) = %d", got)
	}
	if got := UnsignedToSigned(4, 0x7fffffff); got != math.MaxInt32 {
		t.Errorf("UnsignedToSigned(4, max) = %d", got)
	}
}

func TestDeserializeErrors(t *testing.T) {
	var s sample
	if err := Deserialize([]byte{5, 'a'}, &s); err == nil {
		t.Errorf("expected truncated string error")
	}
	var n uint8
	if err := Deserialize([]byte{1, 2}, &n); err == nil {
		t.Errorf("expected leftover bytes error")
	}
	if err := Deserialize([]byte{1}, n); err == nil {
		t.Errorf("expected non-pointer error")
	}
}
