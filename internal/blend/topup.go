package blend

import (
	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
)

// TopUp allocates the deferred composition to a single carrier per element: the
// auto material richest in that element, ties going to the lexically smallest
// name. Extra masses for several elements on one material are summed without
// re-solving.
func TopUp(auto []alloy.Material, deferred alloy.Vector, totalGrams float64, floor float64) (map[string]float64, []Warning) {
	var ws warnings
	extra := make(map[string]float64)
	for _, e := range alloy.AllElements {
		d := deferred.Get(e)
		if d <= 0 {
			continue
		}
		best, ok := carrier(auto, e)
		if !ok {
			w := ws.add(LevelInfo, CodeNoTopUpCarrier, "no auto material carries %s; %.4f%% stays undosed", e, d)
			w.Element = e
			continue
		}
		extra[best.Name] += d / 100 * totalGrams / (best.Percent(e) / 100)
	}
	for name, g := range extra {
		if g <= floor {
			delete(extra, name)
		}
	}
	return extra, ws
}

func carrier(auto []alloy.Material, e alloy.Element) (alloy.Material, bool) {
	var best alloy.Material
	found := false
	for _, m := range auto {
		c := m.Percent(e)
		if c <= 0 {
			continue
		}
		if !found || c > best.Percent(e) || (c == best.Percent(e) && m.Name < best.Name) {
			best, found = m, true
		}
	}
	return best, found
}
