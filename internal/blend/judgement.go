package blend

import (
	"fmt"
	"math"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
)

type Verdict string

const (
	VerdictPass          Verdict = "pass"
	VerdictFail          Verdict = "fail"
	VerdictNotApplicable Verdict = "n/a"
)

// judgeEpsilon absorbs floating-point noise at an exact tolerance boundary.
const judgeEpsilon = 1e-9

// ElementJudgement is the verdict for one element.
type ElementJudgement struct {
	Element   alloy.Element       `json:"element"`
	Verdict   Verdict             `json:"verdict"`
	Target    float64             `json:"target"`
	Achieved  float64             `json:"achieved"`
	Tolerance float64             `json:"tolerance"`
	Mode      alloy.ToleranceMode `json:"mode"`
	Reason    string              `json:"reason,omitempty"`
}

// Judgement compares the phase-one composition with the urgent target.
type Judgement struct {
	Elements          []ElementJudgement `json:"elements"`
	MaxDeviationGrams float64            `json:"max_deviation_g"`
}

// Passed reports whether no judged element failed.
func (j Judgement) Passed() bool {
	for _, el := range j.Elements {
		if el.Verdict == VerdictFail {
			return false
		}
	}
	return true
}

// For returns the verdict for e.
func (j Judgement) For(e alloy.Element) ElementJudgement {
	for _, el := range j.Elements {
		if el.Element == e {
			return el
		}
	}
	return ElementJudgement{Element: e, Verdict: VerdictNotApplicable}
}

// Failed lists the elements that failed.
func (j Judgement) Failed() []alloy.Element {
	var out []alloy.Element
	for _, el := range j.Elements {
		if el.Verdict == VerdictFail {
			out = append(out, el.Element)
		}
	}
	return out
}

// Achieved sums the elemental grams delivered by the given material masses.
// Yield is not applied.
func Achieved(materials []alloy.Material, masses func(name string) float64, totalGrams float64) (grams, pct alloy.Vector) {
	grams, pct = alloy.NewVector(), alloy.NewVector()
	for _, m := range materials {
		g := masses(m.Name)
		if g == 0 {
			continue
		}
		for _, e := range alloy.AllElements {
			grams[e] += m.Percent(e) / 100 * g
		}
	}
	for _, e := range alloy.AllElements {
		pct[e] = grams[e] / totalGrams * 100
	}
	return grams, pct
}

// Judge evaluates every element. Selected elements are judged when their urgent
// target is non-zero, and upper-only elements always are; iron never is. The maximum deviation covers all rows.
func Judge(spec alloy.TargetSpec, urgent, achieved, achievedGrams alloy.Vector, totalGrams float64) Judgement {
	var j Judgement
	for _, e := range alloy.AllElements {
		t := spec.Target(e)
		el := ElementJudgement{
			Element:   e,
			Verdict:   VerdictNotApplicable,
			Target:    urgent.Get(e),
			Achieved:  achieved.Get(e),
			Tolerance: t.Tolerance,
			Mode:      t.Mode,
		}
		if spec.IsSelected(e) && (el.Target != 0 || el.Mode == alloy.UpperOnly) {
			el.Verdict, el.Reason = verdict(el)
		}
		j.Elements = append(j.Elements, el)

		dev := math.Abs(achievedGrams.Get(e) - urgent.Get(e)/100*totalGrams)
		if dev > j.MaxDeviationGrams {
			j.MaxDeviationGrams = dev
		}
	}
	return j
}

func verdict(el ElementJudgement) (Verdict, string) {
	switch el.Mode {
	case alloy.UpperOnly:
		if el.Achieved <= el.Target+el.Tolerance+judgeEpsilon {
			return VerdictPass, ""
		}
		return VerdictFail, fmt.Sprintf("%.4f%% above %.4f%% + %.4f", el.Achieved, el.Target, el.Tolerance)
	default:
		if math.Abs(el.Achieved-el.Target) <= el.Tolerance+judgeEpsilon {
			return VerdictPass, ""
		}
		return VerdictFail, fmt.Sprintf("%.4f%% outside %.4f%% ± %.4f", el.Achieved, el.Target, el.Tolerance)
	}
}
