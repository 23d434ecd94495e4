// Package blend computes how much of each material to charge into a melt so that it
// reaches a target composition. A solve is a pure function of its inputs: the
// catalog, a target snapshot, the charge context, additive doses and operator
// pins. Problems are reported as warnings on the result, never as errors.
package blend

import (
	"log/slog"
	"sort"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
)

const defaultRCond = 1e-10

// Catalog is the reference data a solve reads.
type Catalog interface {
	Material(name string) (alloy.Material, bool)
	Additive(name string) (alloy.Additive, bool)
	Limits(group string) alloy.Limits
}

// Options are the numeric constants of the blending model.
type Options struct {
	FCDCarbonOffset  float64 `json:"fcd_carbon_offset" yaml:"fcd_carbon_offset"`
	FCCarbonOffset   float64 `json:"fc_carbon_offset" yaml:"fc_carbon_offset"`
	MassFloor        float64 `json:"mass_floor_g" yaml:"mass_floor_g"`
	FallbackBaseMass float64 `json:"fallback_base_mass_g" yaml:"fallback_base_mass_g"`
	RCond            float64 `json:"rcond" yaml:"rcond"`
}

func DefaultOptions() Options {
	return Options{
		FCDCarbonOffset:  0.07,
		FCCarbonOffset:   0.05,
		MassFloor:        0.001,
		FallbackBaseMass: 1000,
		RCond:            defaultRCond,
	}
}

// Request is one channel's solve input. Materials lists the selected materials in
// operator order. Pins holds operator-fixed masses in grams; a pin of 0 leaves the
// material to the solver, and a pinned material need not be listed in Materials.
type Request struct {
	Spec      alloy.TargetSpec    `json:"spec" yaml:"spec"`
	Charge    alloy.ChargeContext `json:"charge" yaml:"charge"`
	Additives []AdditiveDose      `json:"additives,omitempty" yaml:"additives,omitempty"`
	Materials []string            `json:"materials" yaml:"materials"`
	Pins      map[string]float64  `json:"pins_g,omitempty" yaml:"pins_g,omitempty"`
}

// Dosing is the mass to charge per material and additive, in grams.
type Dosing struct {
	Additives map[string]float64 `json:"additives_g"`
	Manual    map[string]float64 `json:"manual_g"`
	Auto      map[string]float64 `json:"auto_g"`
	TopUp     map[string]float64 `json:"topup_g"`
}

func newDosing() Dosing {
	return Dosing{
		Additives: make(map[string]float64),
		Manual:    make(map[string]float64),
		Auto:      make(map[string]float64),
		TopUp:     make(map[string]float64),
	}
}

// Urgent is the phase-one mass of a material, dosed before the lab assay.
func (d Dosing) Urgent(name string) float64 {
	return d.Manual[name] + d.Auto[name]
}

// Total is the phase-one mass plus the post-analysis top-up.
func (d Dosing) Total(name string) float64 {
	return d.Urgent(name) + d.TopUp[name]
}

// TopUpTotal sums the top-up grams in name order.
func (d Dosing) TopUpTotal() float64 {
	names := make([]string, 0, len(d.TopUp))
	for name := range d.TopUp {
		names = append(names, name)
	}
	sort.Strings(names)
	var total float64
	for _, name := range names {
		total += d.TopUp[name]
	}
	return total
}

func (d Dosing) HasTopUp() bool {
	for _, g := range d.TopUp {
		if g > 0 {
			return true
		}
	}
	return false
}

// Result carries the dosing together with every intermediate composition vector.
// All vectors cover alloy.AllElements.
type Result struct {
	Spec      alloy.TargetSpec    `json:"spec"`
	Charge    alloy.ChargeContext `json:"charge"`
	Materials []alloy.Material    `json:"materials"`
	Additives []AppliedAdditive   `json:"additives"`

	Target          alloy.Vector `json:"target"`
	AdditiveGrams   alloy.Vector `json:"additive_g"`
	AdditivePercent alloy.Vector `json:"additive_pct"`
	Residual        alloy.Vector `json:"residual"`
	Urgent          alloy.Vector `json:"urgent"`
	Deferred        alloy.Vector `json:"deferred"`
	AchievedGrams   alloy.Vector `json:"achieved_g"`
	Achieved        alloy.Vector `json:"achieved"`

	Dosing    Dosing    `json:"dosing"`
	Judgement Judgement `json:"judgement"`
	Rank      int       `json:"rank"`
	Warnings  []Warning `json:"warnings"`
}

// Passed reports whether the phase-one composition is within tolerance.
func (r Result) Passed() bool {
	return r.Judgement.Passed()
}

// Blender runs solves with a fixed set of options.
type Blender struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Blender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Blender{opts: opts, logger: logger}
}

func (b *Blender) Options() Options {
	return b.opts
}

// Solve runs one channel end to end: target resolution, additive contribution,
// calibration split, mass solve, top-up and judgement.
func (b *Blender) Solve(cat Catalog, req Request) Result {
	var ws warnings
	res := Result{
		Spec:            req.Spec,
		Charge:          req.Charge,
		Target:          alloy.NewVector(),
		AdditiveGrams:   alloy.NewVector(),
		AdditivePercent: alloy.NewVector(),
		Residual:        alloy.NewVector(),
		Urgent:          alloy.NewVector(),
		Deferred:        alloy.NewVector(),
		AchievedGrams:   alloy.NewVector(),
		Achieved:        alloy.NewVector(),
		Dosing:          newDosing(),
	}

	if err := req.Charge.Validate(); err != nil {
		ws.add(LevelError, CodeInvalidCharge, "%v", err)
		return b.finish(res, ws)
	}
	if err := req.Spec.Validate(); err != nil {
		ws.add(LevelError, CodeInvalidTarget, "%v", err)
		return b.finish(res, ws)
	}
	total := req.Charge.TotalMassGrams

	res.Target = ResolveTargets(req.Spec, req.Charge.Mode, b.opts)
	if fe := res.Target.Get(alloy.Iron); fe < 0 {
		w := ws.add(LevelWarn, CodeNegativeIronTarget, "selected targets sum above 100%%; Fe target is %.4f%%", fe)
		w.Element = alloy.Iron
	}

	contrib, cws := AdditiveContribution(req.Additives, total, cat)
	ws = append(ws, cws...)
	res.Additives = contrib.Applied
	res.AdditiveGrams = contrib.Grams
	res.AdditivePercent = contrib.Percent
	for _, a := range contrib.Applied {
		res.Dosing.Additives[a.Additive.Name] += a.Grams
	}

	res.Residual = Residual(res.Target, res.AdditivePercent)
	res.Urgent, res.Deferred = Split(res.Residual, cat.Limits(req.Charge.InstrumentGroup))

	candidates, mws := resolveMaterials(cat, req)
	ws = append(ws, mws...)
	res.Materials = candidates
	if len(candidates) == 0 {
		ws.add(LevelWarn, CodeNoMaterials, "no materials selected")
	}

	mb, sws := SolveMasses(candidates, canonicalPins(cat, req.Pins), res.Urgent, total, b.opts)
	ws = append(ws, sws...)
	res.Dosing.Manual = mb.Manual
	res.Dosing.Auto = mb.Auto
	res.Rank = mb.Rank

	var auto []alloy.Material
	for _, m := range candidates {
		if _, pinned := mb.Manual[m.Name]; !pinned {
			auto = append(auto, m)
		}
	}
	topUp, tws := TopUp(auto, res.Deferred, total, b.opts.MassFloor)
	ws = append(ws, tws...)
	res.Dosing.TopUp = topUp

	res.AchievedGrams, res.Achieved = Achieved(candidates, res.Dosing.Urgent, total)
	res.Judgement = Judge(req.Spec, res.Urgent, res.Achieved, res.AchievedGrams, total)

	return b.finish(res, ws)
}

func (b *Blender) finish(res Result, ws warnings) Result {
	if len(res.Judgement.Elements) == 0 {
		res.Judgement = Judge(alloy.TargetSpec{}, res.Urgent, res.Achieved, res.AchievedGrams, 1)
	}
	res.Warnings = ws
	if res.Warnings == nil {
		res.Warnings = []Warning{}
	}
	b.logger.Debug("blend solved",
		"group", res.Charge.InstrumentGroup,
		"mode", res.Charge.Mode,
		"materials", len(res.Materials),
		"rank", res.Rank,
		"topup", res.Dosing.HasTopUp(),
		"passed", res.Passed(),
		"warnings", len(res.Warnings),
	)
	return res
}

// resolveMaterials looks up the selected materials in operator order, followed by
// any pinned materials that were not selected, sorted by name.
func resolveMaterials(cat Catalog, req Request) ([]alloy.Material, []Warning) {
	var ws warnings
	seen := make(map[string]bool)
	var out []alloy.Material

	add := func(name string) {
		m, ok := cat.Material(name)
		if !ok {
			w := ws.add(LevelWarn, CodeUnknownMaterial, "material %q is not in the catalog", name)
			w.Material = name
			seen[name] = true
			return
		}
		if seen[m.Name] {
			return
		}
		seen[m.Name] = true
		seen[name] = true
		out = append(out, m)
	}

	for _, name := range req.Materials {
		if seen[name] {
			continue
		}
		add(name)
	}

	var extra []string
	for name, g := range req.Pins {
		if !seen[name] && IsPinned(g) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		add(name)
	}
	return out, ws
}

// canonicalPins keys pins by catalog name so width variants of a name still match.
func canonicalPins(cat Catalog, pins map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(pins))
	for name, g := range pins {
		if m, ok := cat.Material(name); ok {
			name = m.Name
		}
		out[name] += g
	}
	return out
}
