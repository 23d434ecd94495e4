package alloy

import "fmt"

// Mode is the melt type of a channel. It selects the carbon pickup offset.
type Mode string

const (
	ModeFCD Mode = "FCD" // ductile iron
	ModeFC  Mode = "FC"  // grey iron
)

// ToleranceMode is the rule used to judge an achieved percentage.
type ToleranceMode string

const (
	// Symmetric passes when |achieved - target| <= tolerance.
	Symmetric ToleranceMode = "±"
	// UpperOnly passes when achieved <= target + tolerance.
	UpperOnly ToleranceMode = "<="
)

// ParseToleranceMode accepts the symbols used on operator sheets.
func ParseToleranceMode(s string) (ToleranceMode, error) {
	switch s {
	case "", "±", "+-", "symmetric":
		return Symmetric, nil
	case "<=", "以下", "upper", "upper_only":
		return UpperOnly, nil
	}
	return "", fmt.Errorf("unknown tolerance mode %q", s)
}

// DefaultTolerance is the tolerance an element starts with on a fresh sheet.
func DefaultTolerance(e Element) float64 {
	switch e {
	case Carbon, Silicon, Manganese:
		return 0.05
	}
	return 0.01
}

// ElementTarget is the operator's requirement for one element.
type ElementTarget struct {
	Value     float64       `json:"value" yaml:"value"`
	Tolerance float64       `json:"tolerance" yaml:"tolerance"`
	Mode      ToleranceMode `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// TargetSpec is the immutable per-channel target snapshot.
type TargetSpec struct {
	Selected []Element                `json:"selected" yaml:"selected"`
	Targets  map[Element]ElementTarget `json:"targets" yaml:"targets"`
}

// IsSelected reports whether e is one of the selected elements.
func (s TargetSpec) IsSelected(e Element) bool {
	for _, x := range s.Selected {
		if x == e {
			return true
		}
	}
	return false
}

// Target returns the requirement for e. Unselected elements target 0 with the
// symmetric rule and the default tolerance.
func (s TargetSpec) Target(e Element) ElementTarget {
	if !s.IsSelected(e) {
		return ElementTarget{Tolerance: DefaultTolerance(e), Mode: Symmetric}
	}
	t, ok := s.Targets[e]
	if !ok {
		return ElementTarget{Tolerance: DefaultTolerance(e), Mode: Symmetric}
	}
	if t.Mode == "" {
		t.Mode = Symmetric
	}
	return t
}

// Validate checks the selection against the closed element set.
func (s TargetSpec) Validate() error {
	seen := make(map[Element]bool, len(s.Selected))
	for _, e := range s.Selected {
		if !e.Selectable() {
			return &ValidationError{msg: fmt.Sprintf("element %q cannot be selected", e)}
		}
		if seen[e] {
			return &ValidationError{msg: fmt.Sprintf("element %s selected twice", e)}
		}
		seen[e] = true
		t := s.Targets[e]
		if t.Value < 0 {
			return &ValidationError{msg: fmt.Sprintf("target for %s must not be negative", e)}
		}
		if t.Tolerance < 0 {
			return &ValidationError{msg: fmt.Sprintf("tolerance for %s must not be negative", e)}
		}
	}
	return nil
}

// ChargeContext describes the melt being adjusted.
type ChargeContext struct {
	TotalMassGrams  float64 `json:"total_mass_g" yaml:"total_mass_g"`
	Mode            Mode    `json:"mode" yaml:"mode"`
	InstrumentGroup string  `json:"instrument_group,omitempty" yaml:"instrument_group,omitempty"`

	// Informational only; carried into reports.
	RemainingMassKg float64 `json:"remaining_mass_kg,omitempty" yaml:"remaining_mass_kg,omitempty"`
	TappingTempC    float64 `json:"tapping_temp_c,omitempty" yaml:"tapping_temp_c,omitempty"`
}

func (c ChargeContext) Validate() error {
	if !(c.TotalMassGrams > 0) {
		return &ValidationError{msg: fmt.Sprintf("total mass must be positive, got %.3f g", c.TotalMassGrams)}
	}
	return nil
}

// ValidationError represents an invalid operator input.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

// Invalid returns a ValidationError with a formatted message.
func Invalid(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}
