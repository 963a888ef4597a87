// Package features turns local environments into the feature vectors sub-models regress on.
//
// Evaluator is the collaborator contract. Radial is a deterministic, rotation-invariant
// evaluator built from cutoff-damped radial powers: every sub-model output is a linear
// function of these features. It stands in for a full equivariant basis, which plugs in
// through the same interface.
package features

import (
	"fmt"
	"math"

	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/env"
	"github.com/born-ml/blockfit/internal/params"
)

// Evaluator computes feature vectors. Implementations must be deterministic.
type Evaluator interface {
	// Len returns the feature vector length for a pair kind and hyperparameters.
	Len(kind block.Kind, h params.Hyper) int
	// Features evaluates the feature vector of one environment.
	Features(e *env.Environment, h params.Hyper) ([]float64, error)
}

// Radial is the reference Evaluator.
//
// With g_n(r) = fc(r) * (1 - r/rc)^(n-1) and s_n = sum over neighbors of g_n(r):
//
//	on-site:  [1, s_n^v for v=1..CorrelationOrder, n=1..MaxDegree]
//	off-site: [1, exp(-n*d/rc) for n=1..MaxDegree, s_n^v ...]
//
// where d is the bond length and fc the cosine cutoff envelope.
type Radial struct{}

var _ Evaluator = Radial{}

// Len implements Evaluator.
func (Radial) Len(kind block.Kind, h params.Hyper) int {
	n := 1 + h.MaxDegree*h.CorrelationOrder
	if kind == block.OffSite {
		n += h.MaxDegree
	}
	return n
}

// Features implements Evaluator.
func (r Radial) Features(e *env.Environment, h params.Hyper) ([]float64, error) {
	if h.Cutoff <= 0 {
		return nil, fmt.Errorf("features: cutoff must be positive, got %g", h.Cutoff)
	}
	kind := block.OffSite
	if e.OnSite() {
		kind = block.OnSite
	}

	out := make([]float64, 0, r.Len(kind, h))
	out = append(out, 1)

	if kind == block.OffSite {
		d := e.BondLength()
		for n := 1; n <= h.MaxDegree; n++ {
			out = append(out, math.Exp(-float64(n)*d/h.Cutoff))
		}
	}

	sums := make([]float64, h.MaxDegree)
	for _, nb := range e.Neighbors {
		if nb.Distance >= h.Cutoff {
			continue
		}
		fc := cutoffEnvelope(nb.Distance, h.Cutoff)
		x := 1 - nb.Distance/h.Cutoff
		p := 1.0
		for n := range sums {
			sums[n] += fc * p
			p *= x
		}
	}
	for v := 1; v <= h.CorrelationOrder; v++ {
		for _, s := range sums {
			out = append(out, math.Pow(s, float64(v)))
		}
	}
	return out, nil
}

// cutoffEnvelope is 0.5*(cos(pi*r/rc)+1) inside the cutoff and 0 outside.
func cutoffEnvelope(r, rc float64) float64 {
	if r >= rc {
		return 0
	}
	return 0.5 * (math.Cos(math.Pi*r/rc) + 1)
}
