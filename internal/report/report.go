// Package report turns a blend result into the tables operators read: element
// increments per dosed item, the composition summary with judgement marks, and
// the per-material dosing split between the urgent and post-analysis phases.
package report

import (
	"math"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
	"github.com/MikeSquared-Agency/Crucible/internal/blend"
)

// Options are the presentation constants.
type Options struct {
	PreTapFCDOffset       float64 `json:"pre_tap_fcd_offset" yaml:"pre_tap_fcd_offset"`
	PreTapFCOffset        float64 `json:"pre_tap_fc_offset" yaml:"pre_tap_fc_offset"`
	InstructionMultiplier float64 `json:"instruction_multiplier" yaml:"instruction_multiplier"`
	MassFloor             float64 `json:"mass_floor_g" yaml:"mass_floor_g"`
}

func DefaultOptions() Options {
	return Options{
		PreTapFCDOffset:       0.08,
		PreTapFCOffset:        0.07,
		InstructionMultiplier: 0.95,
		MassFloor:             0.001,
	}
}

type RowKind string

const (
	RowMaterial RowKind = "material"
	RowAdditive RowKind = "additive"
	RowTotal    RowKind = "total"
)

// IncrementRow is the composition increase in % one item brings to the charge.
type IncrementRow struct {
	Name      string       `json:"name"`
	Kind      RowKind      `json:"kind"`
	Grams     float64      `json:"grams"`
	Increment alloy.Vector `json:"increment"`
}

// IncrementTable lists material rows, then additive rows, then the total.
type IncrementTable struct {
	Stage string         `json:"stage"`
	Rows  []IncrementRow `json:"rows"`
	Total IncrementRow   `json:"total"`
}

// Composition is the summary of targets against the phase-one result.
type Composition struct {
	Target          alloy.Vector    `json:"target"`
	PreTap          alloy.Vector    `json:"pre_tap"`
	PostTapAdditive alloy.Vector    `json:"post_tap_additive"`
	Urgent          alloy.Vector    `json:"urgent"`
	Achieved        alloy.Vector    `json:"achieved"`
	Judgement       blend.Judgement `json:"judgement"`
}

// DosingLine is a material's rounded mass per phase, in grams.
type DosingLine struct {
	Material     string  `json:"material"`
	Urgent       float64 `json:"urgent_g"`
	PostAnalysis float64 `json:"post_analysis_g"`
}

type AdditiveLine struct {
	Name    string  `json:"name"`
	Percent float64 `json:"percent"`
	Grams   float64 `json:"grams"`
}

type Report struct {
	Charge      alloy.ChargeContext `json:"charge"`
	UrgentPhase IncrementTable      `json:"urgent_phase"`
	Combined    IncrementTable      `json:"combined"`
	Composition Composition         `json:"composition"`
	Dosing      []DosingLine        `json:"dosing"`
	Additives   []AdditiveLine      `json:"additives"`

	MaxDeviationGrams float64         `json:"max_deviation_g"`
	Warnings          []blend.Warning `json:"warnings"`
}

// Build assembles the report. The urgent-phase table uses manual and auto masses;
// the combined table adds the post-analysis top-up.
func Build(res blend.Result, opts Options) Report {
	total := res.Charge.TotalMassGrams
	rep := Report{
		Charge:            res.Charge,
		UrgentPhase:       increments("urgent", res, res.Dosing.Urgent, total),
		Combined:          increments("combined", res, res.Dosing.Total, total),
		Composition:       composition(res, opts),
		MaxDeviationGrams: res.Judgement.MaxDeviationGrams,
		Warnings:          res.Warnings,
	}
	for _, a := range res.Additives {
		rep.Additives = append(rep.Additives, AdditiveLine{Name: a.Additive.Name, Percent: a.Percent, Grams: a.Grams})
	}
	rep.Dosing = DosingLines(res, opts.MassFloor)
	return rep
}

func increments(stage string, res blend.Result, mass func(string) float64, total float64) IncrementTable {
	t := IncrementTable{Stage: stage}
	sum := IncrementRow{Name: "total", Kind: RowTotal, Increment: alloy.NewVector()}
	if !(total > 0) {
		t.Total = sum
		return t
	}

	for _, m := range res.Materials {
		g := mass(m.Name)
		row := IncrementRow{Name: m.Name, Kind: RowMaterial, Grams: g, Increment: alloy.NewVector()}
		y := m.YieldRate()
		for _, e := range alloy.AllElements {
			row.Increment[e] = m.Percent(e) * y * g / total
		}
		t.Rows = append(t.Rows, row)
	}
	for _, a := range res.Additives {
		row := IncrementRow{Name: a.Additive.Name, Kind: RowAdditive, Grams: a.Grams, Increment: alloy.NewVector()}
		for _, e := range alloy.AllElements {
			row.Increment[e] = a.Additive.Percent(e) * a.Grams / total
		}
		t.Rows = append(t.Rows, row)
	}

	for _, row := range t.Rows {
		sum.Grams += math.Round(row.Grams)
		for _, e := range alloy.AllElements {
			sum.Increment[e] += row.Increment[e]
		}
	}
	t.Total = sum
	return t
}

func composition(res blend.Result, opts Options) Composition {
	c := Composition{
		Target:          res.Target.Clone(),
		PreTap:          alloy.NewVector(),
		PostTapAdditive: res.AdditivePercent.Clone(),
		Urgent:          res.Urgent.Clone(),
		Achieved:        res.Achieved.Clone(),
		Judgement:       res.Judgement,
	}
	if res.Spec.IsSelected(alloy.Carbon) {
		c.Target[alloy.Carbon] = res.Spec.Target(alloy.Carbon).Value
	}

	offset := opts.PreTapFCOffset
	if res.Charge.Mode == alloy.ModeFCD {
		offset = opts.PreTapFCDOffset
	}
	for _, e := range alloy.AllElements {
		v := res.Target.Get(e) - res.AdditivePercent.Get(e)
		if e == alloy.Carbon {
			v += offset
		}
		c.PreTap[e] = math.Max(0, v)
	}
	return c
}

// DosingLines rounds each material's phase masses. Materials with neither phase
// above the floor are left out.
func DosingLines(res blend.Result, floor float64) []DosingLine {
	var out []DosingLine
	for _, m := range res.Materials {
		urgent := res.Dosing.Urgent(m.Name)
		post := res.Dosing.TopUp[m.Name]
		if urgent <= floor && post <= floor {
			continue
		}
		out = append(out, DosingLine{
			Material:     m.Name,
			Urgent:       math.Round(urgent),
			PostAnalysis: math.Round(post),
		})
	}
	return out
}
