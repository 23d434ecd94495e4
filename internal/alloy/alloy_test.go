package alloy

import (
	"errors"
	"math"
	"testing"
)

func TestAllElementsEndsWithIron(t *testing.T) {
	if len(AllElements) != len(Elements)+1 {
		t.Fatalf("expected %d elements, got %d", len(Elements)+1, len(AllElements))
	}
	if AllElements[len(AllElements)-1] != Iron {
		t.Errorf("expected Fe last, got %s", AllElements[len(AllElements)-1])
	}
	if Iron.Selectable() {
		t.Error("iron must not be selectable")
	}
}

func TestParseElement(t *testing.T) {
	e, err := ParseElement(" Mn ")
	if err != nil || e != Manganese {
		t.Errorf("expected Mn, got %q (%v)", e, err)
	}
	if _, err := ParseElement("mn"); err == nil {
		t.Error("expected error for lower-case symbol")
	}
	if e, err := ParseElement("Fe"); err != nil || e != Iron {
		t.Errorf("expected Fe, got %q (%v)", e, err)
	}
}

func TestVectorIgnoresNonFinite(t *testing.T) {
	v := NewVector()
	v[Carbon] = math.NaN()
	v[Silicon] = 2
	v[Iron] = math.Inf(1)
	if v.Get(Carbon) != 0 {
		t.Errorf("expected NaN to read as 0, got %f", v.Get(Carbon))
	}
	if got := v.SumExcept(Iron); got != 2 {
		t.Errorf("expected sum 2, got %f", got)
	}
	if len(v.Clone()) != len(AllElements) {
		t.Error("clone must keep every element")
	}
}

func TestMaterialDefaults(t *testing.T) {
	m := Material{Name: "pig", Content: map[Element]float64{Carbon: math.NaN(), Silicon: 1.5}}
	if m.Percent(Carbon) != 0 {
		t.Errorf("malformed content should read as 0, got %f", m.Percent(Carbon))
	}
	if m.Percent(Manganese) != 0 {
		t.Error("absent content should read as 0")
	}
	if m.YieldRate() != 1.0 {
		t.Errorf("expected default yield 1.0, got %f", m.YieldRate())
	}
	y := 0.9
	m.Yield = &y
	if m.YieldRate() != 0.9 {
		t.Errorf("expected yield 0.9, got %f", m.YieldRate())
	}
}

func TestLimitsBound(t *testing.T) {
	l := Limits{Magnesium: 0.05, Tin: 0}
	if b, ok := l.Bound(Magnesium); !ok || b != 0.05 {
		t.Errorf("expected bound 0.05, got %f %v", b, ok)
	}
	if _, ok := l.Bound(Tin); ok {
		t.Error("zero limit means unbounded")
	}
	if _, ok := l.Bound(Carbon); ok {
		t.Error("absent limit means unbounded")
	}
}

func TestTargetSpec(t *testing.T) {
	s := TargetSpec{
		Selected: []Element{Carbon, Sulfur},
		Targets: map[Element]ElementTarget{
			Carbon: {Value: 3.6, Tolerance: 0.05},
			Sulfur: {Value: 0.02, Tolerance: 0.002, Mode: UpperOnly},
		},
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Target(Carbon).Mode != Symmetric {
		t.Error("empty mode should default to symmetric")
	}
	if s.Target(Sulfur).Mode != UpperOnly {
		t.Error("expected upper-only for S")
	}
	unselected := s.Target(Manganese)
	if unselected.Value != 0 || unselected.Tolerance != 0.05 {
		t.Errorf("unexpected unselected target %+v", unselected)
	}

	bad := TargetSpec{Selected: []Element{Iron}}
	var verr *ValidationError
	if err := bad.Validate(); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError selecting Fe, got %v", err)
	}
}

func TestParseToleranceMode(t *testing.T) {
	tests := []struct {
		in   string
		want ToleranceMode
	}{
		{"", Symmetric},
		{"±", Symmetric},
		{"以下", UpperOnly},
		{"<=", UpperOnly},
	}
	for _, tt := range tests {
		got, err := ParseToleranceMode(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseToleranceMode(%q) = %q, %v", tt.in, got, err)
		}
	}
	if _, err := ParseToleranceMode("maybe"); err == nil {
		t.Error("expected error")
	}
}

func TestChargeContextValidate(t *testing.T) {
	if err := (ChargeContext{TotalMassGrams: 110000}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (ChargeContext{}).Validate(); err == nil {
		t.Error("expected error for zero mass")
	}
	if err := (ChargeContext{TotalMassGrams: math.NaN()}).Validate(); err == nil {
		t.Error("expected error for NaN mass")
	}
}
