package params

import (
	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/shell"
)

// Defaults generates one entry for every shell pair the registry implies, filled with
// the hyperparameters given per pair kind. A kind missing from defaults is skipped.
//
// On-site entries are generated for A <= B only and never for the overlap; off-site
// entries cover every ordered species pair and every ordered shell pair.
func Defaults(reg *shell.Registry, quantities []block.Quantity, defaults map[block.Kind]Hyper) []Entry {
	var out []Entry
	elements := reg.Elements()

	for _, q := range quantities {
		if h, ok := defaults[block.OnSite]; ok && q != block.Overlap {
			for _, s := range elements {
				b, _ := reg.Basis(s)
				for a := range b.NumShells() {
					for c := a; c < b.NumShells(); c++ {
						out = append(out, uniform(reg, q, block.OnSite, [2]string{s, s}, [2]int{a, c}, h))
					}
				}
			}
		}
		if h, ok := defaults[block.OffSite]; ok {
			for _, si := range elements {
				for _, sj := range elements {
					bi, _ := reg.Basis(si)
					bj, _ := reg.Basis(sj)
					for a := range bi.NumShells() {
						for c := range bj.NumShells() {
							out = append(out, uniform(reg, q, block.OffSite, [2]string{si, sj}, [2]int{a, c}, h))
						}
					}
				}
			}
		}
	}
	return out
}

func uniform(reg *shell.Registry, q block.Quantity, kind block.Kind, species [2]string, shells [2]int, h Hyper) Entry {
	bi, _ := reg.Basis(species[0])
	bj, _ := reg.Basis(species[1])
	si, _ := bi.Shell(shells[0])
	sj, _ := bj.Shell(shells[1])

	p := make([][]Hyper, si.N)
	for i := range p {
		p[i] = make([]Hyper, sj.N)
		for j := range p[i] {
			p[i][j] = h
		}
	}
	return Entry{Quantity: q, Kind: kind, Species: species, Shells: shells, Params: p}
}

// Pairs keeps on-site entries and the off-site entries whose ordered species pair is
// listed. Use it to drop species pairs that never occur in the training data, since a
// declared key with no samples cannot be fit.
func Pairs(entries []Entry, pairs [][2]string) []Entry {
	keep := make(map[[2]string]bool, len(pairs))
	for _, p := range pairs {
		keep[p] = true
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Kind == block.OffSite && !keep[e.Species] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Override replaces entries of base that share a shell-pair key with an override and
// appends overrides with no counterpart. Base order is preserved.
func Override(base, overrides []Entry) []Entry {
	idx := make(map[entryID]int, len(base))
	out := make([]Entry, len(base), len(base)+len(overrides))
	for i, e := range base {
		out[i] = e
		idx[e.id()] = i
	}
	for _, e := range overrides {
		if i, ok := idx[e.id()]; ok {
			out[i] = e
			continue
		}
		idx[e.id()] = len(out)
		out = append(out, e)
	}
	return out
}

// ExpectedKeys enumerates every key needed to assemble the (si, sj) block of one
// quantity and pair kind, in sorted order. On-site overlap needs no keys.
func ExpectedKeys(reg *shell.Registry, q block.Quantity, kind block.Kind, si, sj string) ([]block.Key, error) {
	bi, err := reg.Basis(si)
	if err != nil {
		return nil, err
	}
	bj, err := reg.Basis(sj)
	if err != nil {
		return nil, err
	}

	var keys []block.Key
	for a := range bi.NumShells() {
		sa, _ := bi.Shell(a)
		for c := range bj.NumShells() {
			sc, _ := bj.Shell(c)
			for ra := range sa.N {
				for rc := range sc.N {
					k := block.Key{
						Quantity: q,
						Kind:     kind,
						Species:  [2]string{si, sj},
						Shells:   [2]int{a, c},
						Radials:  [2]int{ra, rc},
					}
					if modeled(k) {
						keys = append(keys, k)
					}
				}
			}
		}
	}
	block.Sort(keys)
	return keys, nil
}
