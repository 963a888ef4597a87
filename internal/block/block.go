// Package block defines the tagged identifiers used to address matrix blocks and sub-models.
//
// A sub-model is addressed by an explicit Key (quantity, pair kind, species pair,
// shell pair, radial pair). Keys are plain comparable values so they can be used
// directly as map keys and enumerated ahead of time from the shell declarations.
package block

import (
	"cmp"
	"fmt"
	"slices"
)

// Quantity is the matrix being modeled.
type Quantity string

// Supported quantities.
const (
	Hamiltonian Quantity = "H"
	Overlap     Quantity = "S"
)

// ParseQuantity validates a quantity identifier.
func ParseQuantity(s string) (Quantity, error) {
	switch Quantity(s) {
	case Hamiltonian, Overlap:
		return Quantity(s), nil
	default:
		return "", fmt.Errorf("unknown quantity %q (expected %q or %q)", s, Hamiltonian, Overlap)
	}
}

// Kind distinguishes on-site (single atom) from off-site (atom pair) blocks.
type Kind string

// Supported pair kinds.
const (
	OnSite  Kind = "on-site"
	OffSite Kind = "off-site"
)

// ParseKind validates a pair-kind identifier.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case OnSite, OffSite:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown pair kind %q (expected %q or %q)", s, OnSite, OffSite)
	}
}

// AtomBlock addresses the (I, J) atom block of a full matrix.
// On-site blocks have I == J.
type AtomBlock struct {
	I int `json:"i" yaml:"i"`
	J int `json:"j" yaml:"j"`
}

// Diagonal reports whether the block belongs to a single atom.
func (b AtomBlock) Diagonal() bool { return b.I == b.J }

// Swap returns the (J, I) block.
func (b AtomBlock) Swap() AtomBlock { return AtomBlock{I: b.J, J: b.I} }

// String formats the block as "(i,j)".
func (b AtomBlock) String() string { return fmt.Sprintf("(%d,%d)", b.I, b.J) }

// Key identifies one sub-model.
//
// Species, Shells and Radials are ordered (A, B): A indexes the row atom's basis,
// B the column atom's basis. On-site keys carry the same species twice.
type Key struct {
	Quantity Quantity  `json:"quantity"`
	Kind     Kind      `json:"kind"`
	Species  [2]string `json:"species"`
	Shells   [2]int    `json:"shells"`
	Radials  [2]int    `json:"radials"`
}

// String formats the key as "H:off-site:C-H:s0-s1:r0-r2".
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s-%s:s%d-s%d:r%d-r%d",
		k.Quantity, k.Kind, k.Species[0], k.Species[1],
		k.Shells[0], k.Shells[1], k.Radials[0], k.Radials[1])
}

// Conjugate returns the key with A and B exchanged.
func (k Key) Conjugate() Key {
	return Key{
		Quantity: k.Quantity,
		Kind:     k.Kind,
		Species:  [2]string{k.Species[1], k.Species[0]},
		Shells:   [2]int{k.Shells[1], k.Shells[0]},
		Radials:  [2]int{k.Radials[1], k.Radials[0]},
	}
}

// SelfPaired reports whether the key couples a shell/radial function with itself.
// Such on-site sub-blocks are placed once, without a mirrored transpose.
func (k Key) SelfPaired() bool {
	return k.Species[0] == k.Species[1] && k.Shells[0] == k.Shells[1] && k.Radials[0] == k.Radials[1]
}

// Compare orders keys by quantity, kind, species, shells, then radials.
func Compare(a, b Key) int {
	return cmp.Or(
		cmp.Compare(a.Quantity, b.Quantity),
		cmp.Compare(a.Kind, b.Kind),
		cmp.Compare(a.Species[0], b.Species[0]),
		cmp.Compare(a.Species[1], b.Species[1]),
		cmp.Compare(a.Shells[0], b.Shells[0]),
		cmp.Compare(a.Shells[1], b.Shells[1]),
		cmp.Compare(a.Radials[0], b.Radials[0]),
		cmp.Compare(a.Radials[1], b.Radials[1]),
	)
}

// Sort sorts keys in place in Compare order.
func Sort(keys []Key) { slices.SortFunc(keys, Compare) }
