package value

import (
	"math"
	"testing"
)

func TestPairAgreesWithWordForm(t *testing.T) {
	values := []Value{
		FromInt32(0), FromInt32(-7), FromInt32(math.MaxInt32),
		FromDouble(2.5), FromDouble(math.Copysign(0, -1)), FromDouble(math.Inf(1)),
		True, False, Null, Undefined, Empty, FromCell(0x4000),
	}
	for _, v := range values {
		p, err := ToPair(v)
		if err != nil {
			t.Fatalf("ToPair(%v): %v", v, err)
		}
		if p.IsInt32() != v.IsInt32() || p.IsDouble() != v.IsDouble() || p.IsNumber() != v.IsNumber() {
			t.Errorf("%v: numeric predicates disagree (pair %+v)", v, p)
		}
		if p.IsCell() != v.IsCell() || p.IsBoolean() != v.IsBoolean() {
			t.Errorf("%v: cell/boolean predicates disagree (pair %+v)", v, p)
		}
		if p.IsUndefinedOrNull() != v.IsUndefinedOrNull() || p.IsEmpty() != v.IsEmpty() {
			t.Errorf("%v: undefined/null/empty predicates disagree (pair %+v)", v, p)
		}
		back, err := FromPair(p)
		if err != nil {
			t.Fatalf("FromPair(%+v): %v", p, err)
		}
		if back != v {
			t.Errorf("FromPair(ToPair(%v)) = %v", v, back)
		}
	}
}

func TestPairRejectsWideCells(t *testing.T) {
	if _, err := ToPair(FromCell(0x7f0000000000)); err == nil {
		t.Error("expected an error for a cell above 4GiB")
	}
}
