package blend

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
)

// MassBalance is the outcome of the phase-one mass solve, in grams.
type MassBalance struct {
	Manual   map[string]float64 `json:"manual_g"`
	Auto     map[string]float64 `json:"auto_g"`
	Rank     int                `json:"rank"`
	Fallback bool               `json:"fallback,omitempty"`
}

// IsPinned reports whether a pin marks the material as operator-fixed.
func IsPinned(grams float64) bool {
	return grams > 0 && !math.IsInf(grams, 0)
}

// SolveMasses finds the masses of the unpinned candidates that best deliver the
// urgent composition on top of the pinned ones. The system has one row per
// element, iron included, and is solved by minimum-norm least squares followed by
// clipping at zero. Masses at or below the floor are reported as zero.
func SolveMasses(candidates []alloy.Material, pins map[string]float64, urgent alloy.Vector, totalGrams float64, opts Options) (MassBalance, []Warning) {
	var ws warnings
	mb := MassBalance{Manual: make(map[string]float64), Auto: make(map[string]float64)}

	var auto []alloy.Material
	for _, m := range candidates {
		if p := pins[m.Name]; IsPinned(p) {
			mb.Manual[m.Name] = p
			continue
		}
		auto = append(auto, m)
	}

	rows := len(alloy.AllElements)
	b := mat.NewVecDense(rows, nil)
	for i, e := range alloy.AllElements {
		need := urgent.Get(e) / 100 * totalGrams
		for _, m := range candidates {
			if p, ok := mb.Manual[m.Name]; ok {
				need -= m.Percent(e) / 100 * p
			}
		}
		b.SetVec(i, need)
	}

	if len(auto) == 0 {
		return mb, ws
	}

	a := mat.NewDense(rows, len(auto), nil)
	for i, e := range alloy.AllElements {
		for j, m := range auto {
			a.Set(i, j, m.Percent(e)/100)
		}
	}

	x, rank, err := leastSquares(a, b, opts.RCond)
	if err != nil {
		x = equalSplit(b, len(auto), opts.FallbackBaseMass)
		mb.Fallback = true
		ws.add(LevelError, CodeSolveFailed, "least-squares solve failed (%v); using an equal split", err)
	} else if rank < len(auto) {
		ws.add(LevelWarn, CodeRankDeficient, "rank %d for %d materials; using an approximate solution", rank, len(auto))
	}
	mb.Rank = rank

	for j, m := range auto {
		mb.Auto[m.Name] = floorMass(math.Max(x[j], 0), opts.MassFloor)
	}
	return mb, ws
}

// leastSquares is swapped out in tests to force the fallback.
var leastSquares = svdLeastSquares

// svdLeastSquares returns the minimum-norm solution of min ||a x - b||. Singular
// values below rcond times the largest are treated as zero.
func svdLeastSquares(a *mat.Dense, b *mat.VecDense, rcond float64) (x []float64, rank int, err error) {
	defer func() {
		if r := recover(); r != nil {
			x, rank, err = nil, 0, fmt.Errorf("svd: %v", r)
		}
	}()
	if !(rcond > 0) {
		rcond = defaultRCond
	}
	_, n := a.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, 0, fmt.Errorf("svd factorization did not converge")
	}
	rank = svd.Rank(rcond)
	x = make([]float64, n)
	if rank == 0 {
		return x, 0, nil
	}

	var sol mat.VecDense
	svd.SolveVecTo(&sol, b, rank)
	for j := range x {
		v := sol.AtVec(j)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, rank, fmt.Errorf("non-finite solution for column %d", j)
		}
		x[j] = v
	}
	return x, rank, nil
}

// equalSplit spreads a nominal base mass evenly when the solve cannot be trusted.
// Nothing is dosed when nothing is needed.
func equalSplit(b *mat.VecDense, n int, baseMass float64) []float64 {
	x := make([]float64, n)
	var need float64
	for i := 0; i < b.Len(); i++ {
		need += math.Abs(b.AtVec(i))
	}
	if need <= 1e-10 {
		return x
	}
	for j := range x {
		x[j] = baseMass / float64(n)
	}
	return x
}

func floorMass(g, floor float64) float64 {
	if g <= floor {
		return 0
	}
	return g
}
