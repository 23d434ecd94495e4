package blend

import (
	"fmt"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Warning codes.
const (
	CodeUnknownMaterial    = "unknown_material"
	CodeUnknownAdditive    = "unknown_additive"
	CodeNegativeIronTarget = "negative_iron_target"
	CodeRankDeficient      = "rank_deficient"
	CodeSolveFailed        = "solve_failed"
	CodeNoTopUpCarrier     = "no_topup_carrier"
	CodeInvalidCharge      = "invalid_charge"
	CodeInvalidTarget      = "invalid_target"
	CodeNoMaterials        = "no_materials"
)

// Warning is a non-fatal condition met during a solve. Solves report problems as
// warnings and still return a dosing.
type Warning struct {
	Level    Level         `json:"level"`
	Code     string        `json:"code"`
	Element  alloy.Element `json:"element,omitempty"`
	Material string        `json:"material,omitempty"`
	Message  string        `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("[%s] %s: %s", w.Level, w.Code, w.Message)
}

type warnings []Warning

func (ws *warnings) add(level Level, code, format string, args ...any) *Warning {
	*ws = append(*ws, Warning{Level: level, Code: code, Message: fmt.Sprintf(format, args...)})
	return &(*ws)[len(*ws)-1]
}

// HasCode reports whether any warning carries code.
func HasCode(ws []Warning, code string) bool {
	for _, w := range ws {
		if w.Code == code {
			return true
		}
	}
	return false
}
