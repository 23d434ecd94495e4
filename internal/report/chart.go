package report

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// WriteChart renders the urgent and post-analysis masses per material as a grouped
// bar chart. format is any format gonum/plot can encode, e.g. "png" or "svg".
func WriteChart(w io.Writer, title string, rep Report, format string) error {
	if len(rep.Dosing) == 0 {
		return fmt.Errorf("nothing to chart")
	}

	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "Mass (g)"

	names := make([]string, len(rep.Dosing))
	urgent := make(plotter.Values, len(rep.Dosing))
	post := make(plotter.Values, len(rep.Dosing))
	for i, d := range rep.Dosing {
		names[i] = d.Material
		urgent[i] = d.Urgent
		post[i] = d.PostAnalysis
	}

	width := vg.Points(18)
	ub, err := plotter.NewBarChart(urgent, width)
	if err != nil {
		return err
	}
	ub.Color = color.RGBA{R: 100, G: 149, B: 237, A: 255}
	ub.LineStyle.Width = vg.Length(0)
	ub.Offset = -width / 2

	pb, err := plotter.NewBarChart(post, width)
	if err != nil {
		return err
	}
	pb.Color = color.RGBA{R: 255, G: 140, B: 0, A: 255}
	pb.LineStyle.Width = vg.Length(0)
	pb.Offset = width / 2

	p.Add(ub, pb)
	p.Legend.Add("Urgent", ub)
	p.Legend.Add("Post-analysis", pb)
	p.Legend.Top = true
	p.NominalX(names...)

	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, format)
	if err != nil {
		return fmt.Errorf("encode chart: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
