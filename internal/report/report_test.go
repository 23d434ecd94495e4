package report

import (
	"bytes"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
	"github.com/MikeSquared-Agency/Crucible/internal/blend"
	"github.com/MikeSquared-Agency/Crucible/internal/catalog"
)

func solved(t *testing.T) blend.Result {
	t.Helper()
	yield := 0.9
	cat := catalog.New(
		[]alloy.Material{
			{Name: "pig", Kind: alloy.KindBase, Content: map[alloy.Element]float64{alloy.Carbon: 4.0}},
			{Name: "MgAlloy", Content: map[alloy.Element]float64{alloy.Magnesium: 2.0}, Yield: &yield},
			{Name: "unused", Content: map[alloy.Element]float64{alloy.Copper: 90.0}},
		},
		[]alloy.Additive{{Name: "graphite", Content: map[alloy.Element]float64{alloy.Carbon: 100.0}}},
		map[string]alloy.Limits{"OES/A": {alloy.Magnesium: 0.05}},
		nil,
	)
	b := blend.New(blend.DefaultOptions(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	res := b.Solve(cat, blend.Request{
		Spec: alloy.TargetSpec{
			Selected: []alloy.Element{alloy.Carbon, alloy.Magnesium},
			Targets: map[alloy.Element]alloy.ElementTarget{
				alloy.Carbon:    {Value: 3.6, Tolerance: 0.05},
				alloy.Magnesium: {Value: 0.08, Tolerance: 0.01},
			},
		},
		Charge: alloy.ChargeContext{
			TotalMassGrams:  100000,
			Mode:            alloy.ModeFCD,
			InstrumentGroup: "OES/A",
			RemainingMassKg: 12,
			TappingTempC:    1450,
		},
		Additives: []blend.AdditiveDose{{Name: "graphite", Percent: 0.1}},
		Materials: []string{"pig", "MgAlloy", "unused"},
	})
	require.NotEmpty(t, res.Dosing.TopUp, "fixture must defer Mg")
	return res
}

func TestFormatGrams(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{0.4, "0"},
		{2.5, "3"},
		{1234.5, "1,235"},
		{98175, "98,175"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatGrams(tt.in), "FormatGrams(%v)", tt.in)
	}
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "0", FormatPercent(0))
	assert.Equal(t, "0", FormatPercent(1e-15))
	assert.Equal(t, "3.67", FormatPercent(3.67))
	assert.Equal(t, "0.0123", FormatPercent(0.012345))
}

func TestVisibleElements(t *testing.T) {
	a, b := alloy.NewVector(), alloy.NewVector()
	a[alloy.Silicon] = 1
	b[alloy.Iron] = 90
	assert.Equal(t, []alloy.Element{alloy.Silicon, alloy.Iron}, VisibleElements(a, b))
	assert.Empty(t, VisibleElements(alloy.NewVector()))
}

func TestBuildStages(t *testing.T) {
	res := solved(t)
	rep := Build(res, DefaultOptions())

	require.Len(t, rep.UrgentPhase.Rows, 4)
	assert.Equal(t, "urgent", rep.UrgentPhase.Stage)
	assert.Equal(t, "combined", rep.Combined.Stage)

	mg := rep.UrgentPhase.Rows[1]
	assert.Equal(t, "MgAlloy", mg.Name)
	// Yield applies to display increments only.
	want := 2.0 * 0.9 * res.Dosing.Urgent("MgAlloy") / 100000
	assert.InDelta(t, want, mg.Increment[alloy.Magnesium], 1e-12)

	combined := rep.Combined.Rows[1]
	assert.Greater(t, combined.Grams, mg.Grams, "combined stage includes the top-up")

	additive := rep.UrgentPhase.Rows[3]
	assert.Equal(t, RowAdditive, additive.Kind)
	assert.InDelta(t, 0.1, additive.Increment[alloy.Carbon], 1e-12)

	var sum float64
	for _, r := range rep.UrgentPhase.Rows {
		sum += r.Increment[alloy.Carbon]
	}
	assert.InDelta(t, sum, rep.UrgentPhase.Total.Increment[alloy.Carbon], 1e-12)
}

func TestComposition(t *testing.T) {
	res := solved(t)
	c := Build(res, DefaultOptions()).Composition

	assert.Equal(t, 3.6, c.Target[alloy.Carbon], "carbon is shown as entered")
	// 3.67 + 0.08 pre-tap offset - 0.1 graphite
	assert.InDelta(t, 3.65, c.PreTap[alloy.Carbon], 1e-12)
	assert.InDelta(t, 0.1, c.PostTapAdditive[alloy.Carbon], 1e-12)
	assert.InDelta(t, 0.05, c.Urgent[alloy.Magnesium], 1e-12)
	for _, e := range alloy.AllElements {
		assert.GreaterOrEqual(t, c.PreTap[e], 0.0, "pre-tap %s", e)
	}
}

func TestDosingLinesDropsIdle(t *testing.T) {
	res := solved(t)
	lines := DosingLines(res, 0.001)
	require.Len(t, lines, 2)
	assert.Equal(t, "pig", lines[0].Material)
	assert.Equal(t, "MgAlloy", lines[1].Material)
	assert.Equal(t, math.Round(res.Dosing.TopUp["MgAlloy"]), lines[1].PostAnalysis)
	assert.Zero(t, lines[0].PostAnalysis)
}

func TestWriteCSV(t *testing.T) {
	rep := Build(solved(t), DefaultOptions())
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rep))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\ufeff"), "csv must start with a BOM")
	for _, section := range []string{
		"Settings",
		"Element increase per material and additive (%)",
		"Additive dosing (g)",
		"Material dosing (g)",
		"Targets",
		"Urgent analysis and judgement",
		"Max deviation (g)",
	} {
		assert.Contains(t, out, section)
	}
	assert.Contains(t, out, "Tapping temperature (C),1450")
	assert.NotContains(t, out, ",Cu,", "all-zero columns are hidden")
}

func TestWriteText(t *testing.T) {
	rep := Build(solved(t), DefaultOptions())
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, "Ch1", rep))
	out := buf.String()
	assert.Contains(t, out, "MATERIAL DOSING:")
	assert.Contains(t, out, "MgAlloy")
	assert.Contains(t, out, "Judgement")
}

func TestInstruction(t *testing.T) {
	res := solved(t)
	in := BuildInstruction("Ch1", res, 0.95)

	require.Len(t, in.BaseMaterials, 1)
	assert.Equal(t, "kg", in.BaseMaterials[0].Unit)
	assert.Equal(t, math.Round(res.Dosing.Urgent("pig")*0.95/1000), in.BaseMaterials[0].Amount)

	require.Len(t, in.AlloyMaterials, 1)
	assert.Equal(t, "g", in.AlloyMaterials[0].Unit)
	assert.Equal(t, math.Round(res.Dosing.Urgent("MgAlloy")*0.95), in.AlloyMaterials[0].Amount)

	require.Len(t, in.Additives, 1)
	assert.Equal(t, 100.0, in.Additives[0].Amount, "additives are not scaled")

	var buf bytes.Buffer
	require.NoError(t, WriteInstructions(&buf, "trial-7", []Instruction{in}))
	assert.Contains(t, buf.String(), "[Ch1]")
	assert.Contains(t, buf.String(), "□")
}

func TestInstructableNeedsCarbon(t *testing.T) {
	res := solved(t)
	assert.True(t, Instructable(res))

	res.Spec = alloy.TargetSpec{
		Selected: []alloy.Element{alloy.Magnesium},
		Targets:  map[alloy.Element]alloy.ElementTarget{alloy.Magnesium: {Value: 0.08, Tolerance: 0.01}},
	}
	assert.False(t, Instructable(res))
	assert.False(t, Instructable(blend.Result{}))
}

func TestWriteChart(t *testing.T) {
	rep := Build(solved(t), DefaultOptions())
	var buf bytes.Buffer
	require.NoError(t, WriteChart(&buf, "Ch1", rep, "png"))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")), "expected a PNG")

	assert.Error(t, WriteChart(&buf, "empty", Report{}, "png"))
}
