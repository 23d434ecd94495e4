package blend

import (
	"math"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
)

// AdditiveDose is an additive charged as a percentage of the melt mass.
type AdditiveDose struct {
	Name    string  `json:"name" yaml:"name"`
	Percent float64 `json:"percent" yaml:"percent"`
}

// AppliedAdditive is a resolved additive with its mass for this charge.
type AppliedAdditive struct {
	Additive alloy.Additive `json:"additive"`
	Percent  float64        `json:"percent"`
	Grams    float64        `json:"grams"`
}

// Contribution is the elemental mass the chosen additives bring to the charge.
type Contribution struct {
	Applied []AppliedAdditive `json:"applied"`
	Grams   alloy.Vector      `json:"grams"`
	Percent alloy.Vector      `json:"percent"`
}

// AdditiveContribution converts additive doses into grams and percent per element.
// Unknown additives are skipped with a warning; malformed content reads as 0.
func AdditiveContribution(doses []AdditiveDose, totalGrams float64, cat Catalog) (Contribution, []Warning) {
	var ws warnings
	c := Contribution{Grams: alloy.NewVector(), Percent: alloy.NewVector()}
	for _, d := range doses {
		a, ok := cat.Additive(d.Name)
		if !ok {
			w := ws.add(LevelInfo, CodeUnknownAdditive, "additive %q is not in the catalog", d.Name)
			w.Material = d.Name
			continue
		}
		pct := d.Percent
		if math.IsNaN(pct) || math.IsInf(pct, 0) || pct < 0 {
			pct = 0
		}
		grams := pct / 100 * totalGrams
		c.Applied = append(c.Applied, AppliedAdditive{Additive: a, Percent: pct, Grams: grams})
		for _, e := range alloy.AllElements {
			c.Grams[e] += grams * a.Percent(e) / 100
		}
	}
	for _, e := range alloy.AllElements {
		c.Percent[e] = c.Grams[e] / totalGrams * 100
	}
	return c, ws
}
