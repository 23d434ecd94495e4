package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

const rule = "───────────────────────────────────────────────────────────────"

// WriteText prints the report as aligned plain-text tables.
func WriteText(w io.Writer, title string, rep Report) error {
	var b strings.Builder

	fmt.Fprintln(&b, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintf(&b, "     %s\n", title)
	fmt.Fprintln(&b, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "CHARGE:")
	fmt.Fprintln(&b, rule)
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  Mode:\t%s\n", rep.Charge.Mode)
	fmt.Fprintf(tw, "  Charge mass:\t%s kg\n", num(rep.Charge.TotalMassGrams/1000))
	fmt.Fprintf(tw, "  Remaining melt:\t%s kg\n", num(rep.Charge.RemainingMassKg))
	fmt.Fprintf(tw, "  Tapping temperature:\t%s C\n", num(rep.Charge.TappingTempC))
	if rep.Charge.InstrumentGroup != "" {
		fmt.Fprintf(tw, "  Instrument group:\t%s\n", rep.Charge.InstrumentGroup)
	}
	tw.Flush()
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "ELEMENT INCREASE (%):")
	fmt.Fprintln(&b, rule)
	writeRows(&b, incrementRows(rep.Combined))
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "MATERIAL DOSING:")
	fmt.Fprintln(&b, rule)
	tw = tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "  Material\tUrgent (g)\tPost-analysis (g)\t")
	for _, d := range rep.Dosing {
		post := "-"
		if d.PostAnalysis != 0 {
			post = FormatGrams(d.PostAnalysis)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t\n", d.Material, FormatGrams(d.Urgent), post)
	}
	for _, a := range rep.Additives {
		fmt.Fprintf(tw, "  %s\t%s\t-\t\n", a.Name, FormatGrams(a.Grams))
	}
	tw.Flush()
	fmt.Fprintln(&b)

	c := rep.Composition
	elems := VisibleElements(c.vectors()...)
	fmt.Fprintln(&b, "COMPOSITION (%):")
	fmt.Fprintln(&b, rule)
	marks := []string{"Judgement"}
	for _, e := range elems {
		marks = append(marks, Mark(c.Judgement.For(e)))
	}
	writeRows(&b, [][]string{
		elementHeader("", elems),
		percentRow("Target", c.Target, elems),
		percentRow("Pre-tap target", c.PreTap, elems),
		percentRow("Post-tap additive", c.PostTapAdditive, elems),
		percentRow("Urgent analysis target", c.Urgent, elems),
		percentRow("Blend result", c.Achieved, elems),
		marks,
	})
	fmt.Fprintf(&b, "\n  Max deviation: %.3g g\n", rep.MaxDeviationGrams)

	if len(rep.Warnings) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "WARNINGS:")
		fmt.Fprintln(&b, rule)
		for _, wn := range rep.Warnings {
			fmt.Fprintf(&b, "  ⚠ %s\n", wn)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeRows(w io.Writer, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range rows {
		fmt.Fprintf(tw, "  %s\t\n", strings.Join(r, "\t"))
	}
	tw.Flush()
}
