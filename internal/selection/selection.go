// Package selection declares which reference files and atom blocks supply fitting targets.
//
// A Selector is a declaration only: constructing one never opens a file. The fitter
// resolves it lazily through a reference source.
package selection

import (
	"fmt"
	"slices"

	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/blockerr"
)

// Selector lists reference files and, per file, the atom blocks to train on.
type Selector struct {
	kind   block.Kind
	files  []string
	blocks [][]block.AtomBlock
}

// OnSite normalizes atom indices to diagonal blocks (i, i).
func OnSite(indices ...int) []block.AtomBlock {
	out := make([]block.AtomBlock, len(indices))
	for n, i := range indices {
		out[n] = block.AtomBlock{I: i, J: i}
	}
	return out
}

// Broadcast selects the same blocks from every file.
func Broadcast(kind block.Kind, files []string, blocks []block.AtomBlock) (*Selector, error) {
	nested := make([][]block.AtomBlock, len(files))
	for i := range nested {
		nested[i] = blocks
	}
	return PerFile(kind, files, nested)
}

// PerFile selects blocks[i] from files[i].
//
// Fails with a DataError if the lengths differ, no file is given, an index is negative,
// or a block does not match the pair kind (on-site blocks must be diagonal, off-site
// blocks must not be).
func PerFile(kind block.Kind, files []string, blocks [][]block.AtomBlock) (*Selector, error) {
	if _, err := block.ParseKind(string(kind)); err != nil {
		return nil, &blockerr.DataError{Details: "selection pair kind", Err: err}
	}
	if len(files) == 0 {
		return nil, &blockerr.DataError{Details: "no reference files selected"}
	}
	if len(blocks) != len(files) {
		return nil, &blockerr.DataError{
			Details: fmt.Sprintf("%d block lists for %d files", len(blocks), len(files)),
		}
	}

	s := &Selector{
		kind:   kind,
		files:  slices.Clone(files),
		blocks: make([][]block.AtomBlock, len(blocks)),
	}
	for i, list := range blocks {
		for _, b := range list {
			if err := checkBlock(kind, b); err != nil {
				return nil, &blockerr.DataError{File: files[i], Block: b.String(), Details: err.Error()}
			}
		}
		s.blocks[i] = slices.Clone(list)
	}
	return s, nil
}

func checkBlock(kind block.Kind, b block.AtomBlock) error {
	if b.I < 0 || b.J < 0 {
		return fmt.Errorf("negative atom index")
	}
	if kind == block.OnSite && !b.Diagonal() {
		return fmt.Errorf("on-site selection requires i == j")
	}
	if kind == block.OffSite && b.Diagonal() {
		return fmt.Errorf("off-site selection requires i != j")
	}
	return nil
}

// Kind returns the pair kind the selection targets.
func (s *Selector) Kind() block.Kind { return s.kind }

// Files returns the selected file references.
func (s *Selector) Files() []string { return slices.Clone(s.files) }

// Blocks returns the blocks selected from file i.
func (s *Selector) Blocks(i int) []block.AtomBlock { return slices.Clone(s.blocks[i]) }

// Len returns the total number of (file, block) selections.
func (s *Selector) Len() int {
	n := 0
	for _, b := range s.blocks {
		n += len(b)
	}
	return n
}
