package alloy

// MaterialKind separates bulk charge materials from alloying materials.
// Base materials are charged by the kilogram on the instruction sheet.
type MaterialKind string

const (
	KindBase  MaterialKind = "base"
	KindAlloy MaterialKind = "alloy"
)

// Material is a raw material whose dosing mass the solver may decide.
type Material struct {
	Name string       `json:"name" yaml:"name"`
	Kind MaterialKind `json:"kind,omitempty" yaml:"kind,omitempty"`

	// Content is the mass % of each element, 0-100.
	Content map[Element]float64 `json:"content" yaml:"content"`

	// Yield is the recovery fraction, 0-1. nil means full recovery.
	Yield *float64 `json:"yield,omitempty" yaml:"yield,omitempty"`
}

// Percent returns the content of e in %, 0 when absent or malformed.
func (m Material) Percent(e Element) float64 {
	return finite(m.Content[e])
}

// YieldRate returns the recovery fraction, defaulting to 1.0.
func (m Material) YieldRate() float64 {
	if m.Yield == nil {
		return 1.0
	}
	y := finite(*m.Yield)
	if y == 0 && *m.Yield != 0 {
		return 1.0
	}
	return y
}

// IsBase reports whether the material is a bulk charge material.
func (m Material) IsBase() bool {
	return m.Kind == KindBase
}

// Additive is dosed as a percentage of the charge and applied at face value.
type Additive struct {
	Name    string              `json:"name" yaml:"name"`
	Content map[Element]float64 `json:"content" yaml:"content"`
}

func (a Additive) Percent(e Element) float64 {
	return finite(a.Content[e])
}

// Limits holds the calibration upper bound (%) per element for one instrument group.
type Limits map[Element]float64

// Bound returns the upper bound for e. ok is false when the element is unbounded.
func (l Limits) Bound(e Element) (float64, bool) {
	v, present := l[e]
	if !present {
		return 0, false
	}
	v = finite(v)
	if v <= 0 {
		return 0, false
	}
	return v, true
}
