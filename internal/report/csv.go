package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
)

const bom = "\ufeff"

// WriteCSV writes the report as a sectioned, BOM-prefixed UTF-8 CSV.
func WriteCSV(w io.Writer, rep Report) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)

	section := func(title string, rows [][]string) {
		_ = cw.Write([]string{title})
		for _, r := range rows {
			_ = cw.Write(r)
		}
		_ = cw.Write(nil)
	}

	section("Settings", [][]string{
		{"Mode", string(rep.Charge.Mode)},
		{"Tapping temperature (C)", num(rep.Charge.TappingTempC)},
		{"Charge mass (kg)", num(rep.Charge.TotalMassGrams / 1000)},
		{"Remaining melt (kg)", num(rep.Charge.RemainingMassKg)},
	})

	section("Element increase per material and additive (%)", incrementRows(rep.Combined))

	adds := [][]string{{"", "Percent (%)", "Dose (g)"}}
	for _, a := range rep.Additives {
		adds = append(adds, []string{a.Name, num(a.Percent), FormatGrams(a.Grams)})
	}
	section("Additive dosing (g)", adds)

	head := []string{""}
	urgent := []string{"Before urgent analysis (g)"}
	post := []string{"After urgent analysis (g)"}
	for _, d := range rep.Dosing {
		head = append(head, d.Material)
		urgent = append(urgent, FormatGrams(d.Urgent))
		if d.PostAnalysis == 0 {
			post = append(post, "-")
		} else {
			post = append(post, FormatGrams(d.PostAnalysis))
		}
	}
	section("Material dosing (g)", [][]string{head, urgent, post})

	c := rep.Composition
	elems := VisibleElements(c.vectors()...)
	section("Targets", [][]string{
		elementHeader("", elems),
		percentRow("Target (%)", c.Target, elems),
		percentRow("Pre-tap target (%)", c.PreTap, elems),
		percentRow("Post-tap additive (%)", c.PostTapAdditive, elems),
	})

	marks := []string{"Judgement"}
	for _, e := range elems {
		marks = append(marks, Mark(c.Judgement.For(e)))
	}
	_ = cw.Write([]string{"Urgent analysis and judgement"})
	_ = cw.Write(elementHeader("", elems))
	_ = cw.Write(percentRow("Urgent analysis target (%)", c.Urgent, elems))
	_ = cw.Write(percentRow("Blend result (%)", c.Achieved, elems))
	_ = cw.Write(marks)
	_ = cw.Write(nil)
	_ = cw.Write([]string{"Max deviation (g)", fmt.Sprintf("%.3g", rep.MaxDeviationGrams)})

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func incrementRows(t IncrementTable) [][]string {
	elems := VisibleElements(t.vectors()...)
	rows := [][]string{elementHeader("Dose (g)", elems)}
	for _, r := range t.Rows {
		rows = append(rows, incrementRow(r, elems))
	}
	return append(rows, incrementRow(t.Total, elems))
}

func incrementRow(r IncrementRow, elems []alloy.Element) []string {
	out := []string{r.Name, FormatGrams(r.Grams)}
	for _, e := range elems {
		out = append(out, FormatPercent(r.Increment.Get(e)))
	}
	return out
}

func elementHeader(first string, elems []alloy.Element) []string {
	out := []string{""}
	if first != "" {
		out = append(out, first)
	}
	for _, e := range elems {
		out = append(out, string(e))
	}
	return out
}

func percentRow(label string, v alloy.Vector, elems []alloy.Element) []string {
	out := []string{label}
	for _, e := range elems {
		out = append(out, FormatPercent(v.Get(e)))
	}
	return out
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
