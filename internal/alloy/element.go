package alloy

import (
	"fmt"
	"math"
	"strings"
)

// Element is a chemical symbol tracked by the blending model.
type Element string

const (
	Carbon     Element = "C"
	Silicon    Element = "Si"
	Manganese  Element = "Mn"
	Phosphorus Element = "P"
	Sulfur     Element = "S"
	Nickel     Element = "Ni"
	Chromium   Element = "Cr"
	Molybdenum Element = "Mo"
	Titanium   Element = "Ti"
	Vanadium   Element = "V"
	Copper     Element = "Cu"
	Tungsten   Element = "W"
	Tin        Element = "Sn"
	Aluminium  Element = "Al"
	Magnesium  Element = "Mg"
	Zinc       Element = "Zn"

	// Iron is never selectable. Its target is the complement to 100%.
	Iron Element = "Fe"
)

// Elements is the closed, ordered set an operator can select from.
var Elements = []Element{
	Carbon, Silicon, Manganese, Phosphorus, Sulfur, Nickel, Chromium, Molybdenum,
	Titanium, Vanadium, Copper, Tungsten, Tin, Aluminium, Magnesium, Zinc,
}

// AllElements is Elements followed by Iron. Every full composition vector covers it.
var AllElements = append(append([]Element{}, Elements...), Iron)

// ParseElement returns the element for a symbol. Iron is accepted.
func ParseElement(s string) (Element, error) {
	s = strings.TrimSpace(s)
	for _, e := range AllElements {
		if string(e) == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown element %q", s)
}

// Selectable reports whether e belongs to the operator-selectable set.
func (e Element) Selectable() bool {
	for _, x := range Elements {
		if x == e {
			return true
		}
	}
	return false
}

// Vector is a percentage or gram value per element. Vectors built with NewVector
// always carry every member of AllElements.
type Vector map[Element]float64

func NewVector() Vector {
	v := make(Vector, len(AllElements))
	for _, e := range AllElements {
		v[e] = 0
	}
	return v
}

// Get returns the value for e, treating absent and non-finite entries as 0.
func (v Vector) Get(e Element) float64 {
	return finite(v[e])
}

func (v Vector) Clone() Vector {
	out := NewVector()
	for _, e := range AllElements {
		out[e] = v[e]
	}
	return out
}

// SumExcept totals every entry except the given element. Entries are added in
// AllElements order so the result is bit-for-bit repeatable.
func (v Vector) SumExcept(skip Element) float64 {
	var total float64
	for _, e := range AllElements {
		if e == skip {
			continue
		}
		total += finite(v[e])
	}
	return total
}

// Scale returns a copy with every entry multiplied by k.
func (v Vector) Scale(k float64) Vector {
	out := NewVector()
	for _, e := range AllElements {
		out[e] = finite(v[e]) * k
	}
	return out
}

func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}
