package report

import (
	"fmt"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
	"github.com/MikeSquared-Agency/Crucible/internal/blend"
)

var printer = message.NewPrinter(language.English)

// FormatGrams rounds to whole grams with a thousands separator.
func FormatGrams(g float64) string {
	return printer.Sprintf("%d", int64(math.Round(g)))
}

// FormatPercent prints three significant digits; zero prints as "0".
func FormatPercent(v float64) string {
	if math.IsNaN(v) || math.Abs(v) < 1e-12 {
		return "0"
	}
	return fmt.Sprintf("%.3g", v)
}

// VisibleElements returns the elements, in canonical order, that are non-zero in
// at least one row.
func VisibleElements(rows ...alloy.Vector) []alloy.Element {
	var out []alloy.Element
	for _, e := range alloy.AllElements {
		for _, r := range rows {
			if math.Abs(r.Get(e)) >= 1e-12 {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Mark renders a verdict the way the result sheet shows it.
func Mark(j blend.ElementJudgement) string {
	switch j.Verdict {
	case blend.VerdictPass:
		return "OK"
	case blend.VerdictFail:
		if j.Mode == alloy.UpperOnly {
			return fmt.Sprintf("NG (max %s)", FormatPercent(j.Target+j.Tolerance))
		}
		return fmt.Sprintf("NG (±%g)", j.Tolerance)
	}
	return "-"
}

func (t IncrementTable) vectors() []alloy.Vector {
	out := make([]alloy.Vector, 0, len(t.Rows)+1)
	for _, r := range t.Rows {
		out = append(out, r.Increment)
	}
	return append(out, t.Total.Increment)
}

func (c Composition) vectors() []alloy.Vector {
	return []alloy.Vector{c.Target, c.PreTap, c.PostTapAdditive, c.Urgent, c.Achieved}
}
