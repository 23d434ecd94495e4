package blend

import (
	"math"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
)

// Residual is the composition still to be supplied after additives, floored at 0.
func Residual(target, additivePct alloy.Vector) alloy.Vector {
	out := alloy.NewVector()
	for _, e := range alloy.AllElements {
		out[e] = math.Max(0, target.Get(e)-additivePct.Get(e))
	}
	return out
}

// Split divides the residual into what the instrument can verify now and what is
// deferred until after the lab assay. urgent + deferred == residual per element.
func Split(residual alloy.Vector, limits alloy.Limits) (urgent, deferred alloy.Vector) {
	urgent, deferred = alloy.NewVector(), alloy.NewVector()
	for _, e := range alloy.AllElements {
		r := residual.Get(e)
		if bound, ok := limits.Bound(e); ok && r > bound {
			urgent[e] = bound
			deferred[e] = r - bound
			continue
		}
		urgent[e] = r
	}
	return urgent, deferred
}
