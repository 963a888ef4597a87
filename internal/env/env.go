// Package env describes atomic configurations and the local environments sub-models see.
//
// Source is the collaborator contract used by the fitter and predictor; NeighborSource is
// a plain cutoff-sphere implementation for non-periodic configurations.
package env

import (
	"fmt"
	"math"

	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/blockerr"
)

// Configuration is a set of atoms.
type Configuration struct {
	Species   []string     `json:"species" yaml:"species"`
	Positions [][3]float64 `json:"positions" yaml:"positions"`
}

// Len returns the number of atoms.
func (c *Configuration) Len() int { return len(c.Species) }

// Validate checks that species and positions agree and all coordinates are finite.
func (c *Configuration) Validate() error {
	if len(c.Species) != len(c.Positions) {
		return fmt.Errorf("%d species for %d positions", len(c.Species), len(c.Positions))
	}
	for i, p := range c.Positions {
		for _, x := range p {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return fmt.Errorf("atom %d has non-finite position %v", i, p)
			}
		}
	}
	return nil
}

// Neighbor is one atom inside an environment's cutoff sphere.
type Neighbor struct {
	Index    int
	Species  string
	Vector   [3]float64 // Position relative to the environment centre
	Distance float64
}

// Environment is the local geometry around an atom (on-site) or a bond (off-site).
type Environment struct {
	Block     block.AtomBlock
	Species   [2]string
	Bond      [3]float64 // r_j - r_i; zero on-site
	Cutoff    float64
	Neighbors []Neighbor
}

// OnSite reports whether the environment is centred on a single atom.
func (e *Environment) OnSite() bool { return e.Block.Diagonal() }

// BondLength returns |r_j - r_i|.
func (e *Environment) BondLength() float64 { return norm(e.Bond) }

// Source builds environments.
type Source interface {
	Environment(cfg *Configuration, b block.AtomBlock, cutoff float64) (*Environment, error)
}

// NeighborSource collects every other atom within the cutoff of the environment centre.
// On-site the centre is atom i; off-site it is the bond midpoint and atoms i and j are
// excluded. Periodic images are not considered.
type NeighborSource struct{}

var _ Source = NeighborSource{}

// Environment implements Source.
func (NeighborSource) Environment(cfg *Configuration, b block.AtomBlock, cutoff float64) (*Environment, error) {
	n := cfg.Len()
	if b.I < 0 || b.I >= n || b.J < 0 || b.J >= n {
		return nil, &blockerr.DataError{
			Block:   b.String(),
			Details: fmt.Sprintf("atom index out of range for %d atoms", n),
		}
	}
	if len(cfg.Positions) != n {
		return nil, &blockerr.DataError{Block: b.String(), Details: "configuration has mismatched species and positions"}
	}

	ri, rj := cfg.Positions[b.I], cfg.Positions[b.J]
	e := &Environment{
		Block:   b,
		Species: [2]string{cfg.Species[b.I], cfg.Species[b.J]},
		Bond:    sub(rj, ri),
		Cutoff:  cutoff,
	}

	centre := ri
	if !b.Diagonal() {
		centre = scale(add(ri, rj), 0.5)
	}
	for k := range n {
		if k == b.I || k == b.J {
			continue
		}
		v := sub(cfg.Positions[k], centre)
		d := norm(v)
		if d > cutoff {
			continue
		}
		e.Neighbors = append(e.Neighbors, Neighbor{Index: k, Species: cfg.Species[k], Vector: v, Distance: d})
	}
	return e, nil
}

// Distance returns |r_j - r_i| for two atoms of a configuration.
func Distance(cfg *Configuration, i, j int) float64 {
	return norm(sub(cfg.Positions[j], cfg.Positions[i]))
}

func add(a, b [3]float64) [3]float64 { return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func sub(a, b [3]float64) [3]float64 { return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func scale(a [3]float64, s float64) [3]float64 {
	return [3]float64{a[0] * s, a[1] * s, a[2] * s}
}
func norm(a [3]float64) float64 { return math.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2]) }
