// Package synth generates reference frames whose matrix blocks are exact linear
// functions of the block features.
//
// Fitting such frames with the same evaluator and hyperparameters recovers the
// generating weights, which makes them useful for demos and end-to-end checks.
// Generated H and S are symmetric and on-site S blocks are the identity.
package synth

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/env"
	"github.com/born-ml/blockfit/internal/features"
	"github.com/born-ml/blockfit/internal/params"
	"github.com/born-ml/blockfit/internal/reference"
	"github.com/born-ml/blockfit/internal/shell"
)

// Generator builds synthetic frames.
type Generator struct {
	Registry *shell.Registry
	Envs     env.Source
	Basis    features.Evaluator
	Hyper    map[block.Kind]params.Hyper

	// MinDistance is the smallest allowed interatomic distance of random geometries.
	MinDistance float64
	// Box is the edge length of the cube random atoms are placed in.
	Box float64
}

// New returns a Generator with the reference collaborators.
func New(reg *shell.Registry, hyper map[block.Kind]params.Hyper) *Generator {
	return &Generator{
		Registry:    reg,
		Envs:        env.NeighborSource{},
		Basis:       features.Radial{},
		Hyper:       hyper,
		MinDistance: 0.8,
		Box:         3,
	}
}

// Frame computes H and S for one configuration.
func (g *Generator) Frame(species []string, positions [][3]float64) (*reference.Frame, error) {
	cfg := &env.Configuration{Species: species, Positions: positions}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	offsets, total, err := g.Registry.AtomOffsets(species)
	if err != nil {
		return nil, err
	}

	h := square(total)
	s := square(total)
	for i := range species {
		for j := range species {
			kind := block.OffSite
			if i == j {
				kind = block.OnSite
			}
			hyper, ok := g.Hyper[kind]
			if !ok {
				return nil, fmt.Errorf("synth: no hyperparameters for %s blocks", kind)
			}
			e, err := g.Envs.Environment(cfg, block.AtomBlock{I: i, J: j}, hyper.Cutoff)
			if err != nil {
				return nil, err
			}
			feats, err := g.Basis.Features(e, hyper)
			if err != nil {
				return nil, err
			}
			bi, _ := g.Registry.Basis(species[i])
			bj, _ := g.Registry.Basis(species[j])
			for a := range bi.Dim() {
				for b := range bj.Dim() {
					row, col := offsets[i]+a, offsets[j]+b
					h[row][col] = value(block.Hamiltonian, species[i], a, species[j], b, feats)
					switch {
					case i != j:
						s[row][col] = value(block.Overlap, species[i], a, species[j], b, feats)
					case a == b:
						s[row][col] = 1
					}
				}
			}
		}
	}
	return &reference.Frame{Species: species, Positions: positions, H: h, S: s}, nil
}

// Random generates n frames of the given composition with random geometries,
// keyed "frame-000.yaml", "frame-001.yaml", and so on.
func (g *Generator) Random(n int, species []string, seed uint64) (map[string]*reference.Frame, error) {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	coord := distuv.Uniform{Min: 0, Max: g.Box, Src: src}

	out := make(map[string]*reference.Frame, n)
	for f := range n {
		positions, err := g.place(len(species), coord)
		if err != nil {
			return nil, err
		}
		frame, err := g.Frame(species, positions)
		if err != nil {
			return nil, err
		}
		out[fmt.Sprintf("frame-%03d.yaml", f)] = frame
	}
	return out, nil
}

const maxPlacementTries = 10000

func (g *Generator) place(n int, coord distuv.Uniform) ([][3]float64, error) {
	positions := make([][3]float64, 0, n)
	for tries := 0; len(positions) < n; tries++ {
		if tries == maxPlacementTries {
			return nil, fmt.Errorf("synth: cannot place %d atoms %.2f apart in a box of %.2f", n, g.MinDistance, g.Box)
		}
		p := [3]float64{coord.Rand(), coord.Rand(), coord.Rand()}
		if g.clear(positions, p) {
			positions = append(positions, p)
		}
	}
	return positions, nil
}

func (g *Generator) clear(positions [][3]float64, p [3]float64) bool {
	for _, q := range positions {
		dx, dy, dz := p[0]-q[0], p[1]-q[1], p[2]-q[2]
		if math.Sqrt(dx*dx+dy*dy+dz*dz) < g.MinDistance {
			return false
		}
	}
	return true
}

// value is the generating linear model of one matrix element. The weights depend on
// the orbitals only through the product of their tags, so value(A, a, B, b) equals
// value(B, b, A, a) and the generated matrices are symmetric.
func value(q block.Quantity, si string, a int, sj string, b int, feats []float64) float64 {
	t := tag(q, si, a) * tag(q, sj, b)
	var v float64
	for f, x := range feats {
		v += math.Cos(float64(f+1)*t) * x
	}
	return v
}

func tag(q block.Quantity, species string, orbital int) float64 {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s/%s/%d", q, species, orbital)
	return 0.5 + float64(h.Sum32()%1000)/1000
}

func square(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	return m
}
