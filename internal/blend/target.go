package blend

import (
	"math"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
)

// CarbonOffset returns the carbon pickup offset for a melt mode.
func (o Options) CarbonOffset(mode alloy.Mode) float64 {
	if mode == alloy.ModeFCD {
		return o.FCDCarbonOffset
	}
	return o.FCCarbonOffset
}

// ResolveTargets expands a target snapshot into a full composition vector.
// Carbon gets the mode offset, unselected elements are 0 and iron is the
// complement to 100. A negative iron value is returned as is.
func ResolveTargets(spec alloy.TargetSpec, mode alloy.Mode, opts Options) alloy.Vector {
	target := alloy.NewVector()
	for _, e := range alloy.Elements {
		if !spec.IsSelected(e) {
			continue
		}
		v := spec.Target(e).Value
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		if e == alloy.Carbon {
			v += opts.CarbonOffset(mode)
		}
		target[e] = v
	}
	target[alloy.Iron] = 100 - target.SumExcept(alloy.Iron)
	return target
}
