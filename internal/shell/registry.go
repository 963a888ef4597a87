// Package shell declares per-element orbital shells and derives the flat orbital ordering.
//
// Each element lists its shells in a fixed order. A shell (L, N) holds N radial functions
// of angular momentum L and contributes N*(2L+1) orbitals. Orbitals are ordered shell-major,
// then by radial index, then by magnetic number m = -L..+L:
//
//	shells (0,2),(1,1)  ->  s0 s1 p(-1) p(0) p(+1)   dimension 5
//
// The Registry answers "which rows/columns of an atom block belong to shell A, radial r"
// and "where does atom i start inside a full matrix".
package shell

import (
	"fmt"
	"maps"
	"slices"

	"github.com/born-ml/blockfit/internal/blockerr"
)

// Shell is one group of orbitals sharing an angular momentum.
type Shell struct {
	L int `json:"l" yaml:"l"` // Angular momentum
	N int `json:"n" yaml:"n"` // Radial function count
}

// Multiplicity returns 2L+1.
func (s Shell) Multiplicity() int { return 2*s.L + 1 }

// Size returns the number of orbitals contributed by the shell.
func (s Shell) Size() int { return s.N * s.Multiplicity() }

// Orbital labels one row/column of an atom block.
type Orbital struct {
	Shell  int // Index into the element's shell list
	Radial int // Radial function index within the shell
	M      int // Magnetic quantum number, -L..+L
}

// Basis is the resolved orbital layout of one element.
type Basis struct {
	species string
	shells  []Shell
	starts  []int // starts[s] = first orbital of shell s
	dim     int
}

// Species returns the element symbol.
func (b *Basis) Species() string { return b.species }

// Shells returns a copy of the declared shells.
func (b *Basis) Shells() []Shell { return slices.Clone(b.shells) }

// NumShells returns the number of declared shells.
func (b *Basis) NumShells() int { return len(b.shells) }

// Shell returns the shell at index s.
func (b *Basis) Shell(s int) (Shell, error) {
	if s < 0 || s >= len(b.shells) {
		return Shell{}, &blockerr.IllegalStateError{
			Details: fmt.Sprintf("element %s has no shell %d (declares %d)", b.species, s, len(b.shells)),
		}
	}
	return b.shells[s], nil
}

// Dim returns the per-atom matrix dimension, the sum of N*(2L+1) over shells.
func (b *Basis) Dim() int { return b.dim }

// Range returns the half-open orbital range [lo, hi) owned by radial function r of shell s.
func (b *Basis) Range(s, r int) (lo, hi int, err error) {
	sh, err := b.Shell(s)
	if err != nil {
		return 0, 0, err
	}
	if r < 0 || r >= sh.N {
		return 0, 0, &blockerr.IllegalStateError{
			Details: fmt.Sprintf("element %s shell %d has no radial function %d (declares %d)", b.species, s, r, sh.N),
		}
	}
	lo = b.starts[s] + r*sh.Multiplicity()
	return lo, lo + sh.Multiplicity(), nil
}

// Orbitals returns the flat orbital ordering.
func (b *Basis) Orbitals() []Orbital {
	out := make([]Orbital, 0, b.dim)
	for s, sh := range b.shells {
		for r := 0; r < sh.N; r++ {
			for m := -sh.L; m <= sh.L; m++ {
				out = append(out, Orbital{Shell: s, Radial: r, M: m})
			}
		}
	}
	return out
}

// Registry maps element symbols to their bases.
//
// A Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	bases map[string]*Basis
}

// NewRegistry validates the per-element shell declarations and builds the registry.
//
// Fails with a ConfigurationError if no element is declared, an element's shell list is
// empty, or a shell has a negative angular momentum or a non-positive radial count.
func NewRegistry(decl map[string][]Shell) (*Registry, error) {
	if len(decl) == 0 {
		return nil, &blockerr.ConfigurationError{Details: "no elements declared"}
	}

	reg := &Registry{bases: make(map[string]*Basis, len(decl))}
	for _, species := range slices.Sorted(maps.Keys(decl)) {
		shells := decl[species]
		if species == "" {
			return nil, &blockerr.ConfigurationError{Details: "empty element symbol"}
		}
		if len(shells) == 0 {
			return nil, &blockerr.ConfigurationError{Key: species, Details: "empty shell list"}
		}

		b := &Basis{
			species: species,
			shells:  slices.Clone(shells),
			starts:  make([]int, len(shells)),
		}
		for s, sh := range shells {
			if sh.L < 0 {
				return nil, &blockerr.ConfigurationError{
					Key:     species,
					Details: fmt.Sprintf("shell %d has negative angular momentum %d", s, sh.L),
				}
			}
			if sh.N <= 0 {
				return nil, &blockerr.ConfigurationError{
					Key:     species,
					Details: fmt.Sprintf("shell %d has invalid radial count %d", s, sh.N),
				}
			}
			b.starts[s] = b.dim
			b.dim += sh.Size()
		}
		reg.bases[species] = b
	}

	return reg, nil
}

// Basis returns the basis of one element.
func (r *Registry) Basis(species string) (*Basis, error) {
	b, ok := r.bases[species]
	if !ok {
		return nil, &blockerr.IllegalStateError{Details: fmt.Sprintf("undeclared element %q", species)}
	}
	return b, nil
}

// Has reports whether the element is declared.
func (r *Registry) Has(species string) bool {
	_, ok := r.bases[species]
	return ok
}

// Elements returns the declared element symbols in sorted order.
func (r *Registry) Elements() []string {
	return slices.Sorted(maps.Keys(r.bases))
}

// Declaration returns a copy of the shell declaration the registry was built from.
func (r *Registry) Declaration() map[string][]Shell {
	out := make(map[string][]Shell, len(r.bases))
	for species, b := range r.bases {
		out[species] = b.Shells()
	}
	return out
}

// AtomOffsets returns, for a configuration's species list, the first row of every
// atom block inside the full matrix and the full matrix dimension.
func (r *Registry) AtomOffsets(species []string) (offsets []int, total int, err error) {
	offsets = make([]int, len(species))
	for i, s := range species {
		b, err := r.Basis(s)
		if err != nil {
			return nil, 0, fmt.Errorf("atom %d: %w", i, err)
		}
		offsets[i] = total
		total += b.Dim()
	}
	return offsets, total, nil
}
