// Package predict assembles dense matrix blocks from a fitted bank.
//
// Predict returns one block per requested atom pair. On-site blocks are complete:
// on-site overlap is the identity and on-site Hamiltonian blocks mirror every
// off-diagonal shell pair by transposition. Off-site blocks are raw one-sided
// predictions. The physical off-site block (i, j) is only obtained by combining both
// orderings:
//
//	block(i,j) = (raw(i,j) + raw(j,i)ᵀ) / 2
//
// Symmetrize performs that combination and PredictOffSite runs both orderings and
// combines them. Matrix assembles a whole matrix from an on-site and an off-site bank.
package predict

import (
	"context"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/blockfit/internal/bank"
	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/blockerr"
	"github.com/born-ml/blockfit/internal/env"
	"github.com/born-ml/blockfit/internal/features"
	"github.com/born-ml/blockfit/internal/parallel"
	"github.com/born-ml/blockfit/internal/params"
	"github.com/born-ml/blockfit/internal/shell"
)

// Predictor evaluates banks. It is safe for concurrent use as long as the banks it
// reads are frozen.
type Predictor struct {
	registry *shell.Registry
	envs     env.Source
	basis    features.Evaluator

	parallel parallel.Config
	logger   *slog.Logger
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithParallel sets the fan-out across requested blocks.
func WithParallel(cfg parallel.Config) Option {
	return func(p *Predictor) { p.parallel = cfg }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Predictor) { p.logger = l }
}

// New creates a Predictor.
func New(reg *shell.Registry, envs env.Source, basis features.Evaluator, opts ...Option) *Predictor {
	p := &Predictor{
		registry: reg,
		envs:     envs,
		basis:    basis,
		parallel: parallel.DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Predict returns one dense block per requested atom block, in request order.
//
// On-site overlap never touches the bank, so b may be nil for it. Any other request
// fails with an IllegalStateError if a required key is missing from b or unfit.
func (p *Predictor) Predict(ctx context.Context, cfg *env.Configuration, blocks []block.AtomBlock, q block.Quantity, kind block.Kind, b *bank.Bank) ([]*mat.Dense, error) {
	if err := checkConfiguration(cfg); err != nil {
		return nil, err
	}
	return p.predict(ctx, cfg, blocks, q, kind, b)
}

// predict is Predict on a configuration that has already been checked.
func (p *Predictor) predict(ctx context.Context, cfg *env.Configuration, blocks []block.AtomBlock, q block.Quantity, kind block.Kind, b *bank.Bank) ([]*mat.Dense, error) {
	for _, ab := range blocks {
		if err := checkRequest(cfg, ab, kind); err != nil {
			return nil, err
		}
	}

	out := make([]*mat.Dense, len(blocks))
	if kind == block.OnSite && q == block.Overlap {
		for n, ab := range blocks {
			basis, err := p.registry.Basis(cfg.Species[ab.I])
			if err != nil {
				return nil, &blockerr.IllegalStateError{Details: fmt.Sprintf("atom %d: %v", ab.I, err)}
			}
			out[n] = identity(basis.Dim())
		}
		return out, nil
	}

	if b == nil {
		return nil, &blockerr.IllegalStateError{Details: fmt.Sprintf("no bank for %s:%s", q, kind)}
	}
	if b.Quantity() != q || b.Kind() != kind {
		return nil, &blockerr.IllegalStateError{
			Details: fmt.Sprintf("bank holds %s:%s, requested %s:%s", b.Quantity(), b.Kind(), q, kind),
		}
	}

	err := parallel.For(ctx, len(blocks), func(n int) error {
		m, err := p.predictBlock(cfg, blocks[n], q, kind, b)
		if err != nil {
			return err
		}
		out[n] = m
		return nil
	}, p.parallel)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("predicted blocks", "quantity", q, "kind", kind, "blocks", len(blocks))
	return out, nil
}

func checkConfiguration(cfg *env.Configuration) error {
	if cfg == nil {
		return &blockerr.DataError{Details: "no configuration"}
	}
	if err := cfg.Validate(); err != nil {
		return &blockerr.DataError{Details: "invalid configuration", Err: err}
	}
	return nil
}

func checkRequest(cfg *env.Configuration, ab block.AtomBlock, kind block.Kind) error {
	n := cfg.Len()
	if ab.I < 0 || ab.I >= n || ab.J < 0 || ab.J >= n {
		return &blockerr.DataError{Block: ab.String(), Details: fmt.Sprintf("configuration has %d atoms", n)}
	}
	if (kind == block.OnSite) != ab.Diagonal() {
		return &blockerr.DataError{Block: ab.String(), Details: fmt.Sprintf("block does not match pair kind %s", kind)}
	}
	return nil
}

// predictBlock evaluates every key of the block's species pair and places the
// sub-blocks at their registry offsets.
func (p *Predictor) predictBlock(cfg *env.Configuration, ab block.AtomBlock, q block.Quantity, kind block.Kind, b *bank.Bank) (*mat.Dense, error) {
	si, sj := cfg.Species[ab.I], cfg.Species[ab.J]
	keys, err := params.ExpectedKeys(p.registry, q, kind, si, sj)
	if err != nil {
		return nil, &blockerr.IllegalStateError{Details: fmt.Sprintf("block %s: %v", ab, err)}
	}
	ba, _ := p.registry.Basis(si)
	bb, _ := p.registry.Basis(sj)
	out := mat.NewDense(ba.Dim(), bb.Dim(), nil)

	// Keys sharing hyperparameters share features.
	cache := make(map[params.Hyper][]float64)
	for _, k := range keys {
		m, err := b.Model(k)
		if err != nil {
			return nil, err
		}
		feats, ok := cache[m.Hyper]
		if !ok {
			e, err := p.envs.Environment(cfg, ab, m.Hyper.Cutoff)
			if err != nil {
				return nil, err
			}
			if feats, err = p.basis.Features(e, m.Hyper); err != nil {
				return nil, fmt.Errorf("features for %s: %w", k, err)
			}
			cache[m.Hyper] = feats
		}
		sub, err := m.Evaluate(feats)
		if err != nil {
			return nil, err
		}

		loA, _, err := ba.Range(k.Shells[0], k.Radials[0])
		if err != nil {
			return nil, err
		}
		loB, _, err := bb.Range(k.Shells[1], k.Radials[1])
		if err != nil {
			return nil, err
		}
		place(out, loA, loB, sub)
		if kind == block.OnSite && !k.SelfPaired() {
			place(out, loB, loA, sub.T())
		}
	}
	return out, nil
}

func place(dst *mat.Dense, row, col int, src mat.Matrix) {
	r, c := src.Dims()
	dst.Slice(row, row+r, col, col+c).(*mat.Dense).Copy(src)
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := range n {
		m.Set(i, i, 1)
	}
	return m
}

// Symmetrize combines the raw predictions of (i, j) and (j, i) into the physical
// block (raw(i,j) + raw(j,i)ᵀ) / 2. Symmetrize(a, b) is exactly the transpose of
// Symmetrize(b, a).
func Symmetrize(rawIJ, rawJI mat.Matrix) (*mat.Dense, error) {
	r, c := rawIJ.Dims()
	rt, ct := rawJI.Dims()
	if rt != c || ct != r {
		return nil, fmt.Errorf("predict: cannot symmetrize %dx%d with %dx%d", r, c, rt, ct)
	}
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, _ float64) float64 {
		return (rawIJ.At(i, j) + rawJI.At(j, i)) / 2
	}, out)
	return out, nil
}

// PredictOffSite predicts both orderings of every pair and returns the symmetrized
// (i, j) blocks in request order.
func (p *Predictor) PredictOffSite(ctx context.Context, cfg *env.Configuration, pairs []block.AtomBlock, q block.Quantity, b *bank.Bank) ([]*mat.Dense, error) {
	both := make([]block.AtomBlock, 0, 2*len(pairs))
	both = append(both, pairs...)
	for _, ab := range pairs {
		both = append(both, ab.Swap())
	}
	raw, err := p.Predict(ctx, cfg, both, q, block.OffSite, b)
	if err != nil {
		return nil, err
	}

	out := make([]*mat.Dense, len(pairs))
	for n := range pairs {
		if out[n], err = Symmetrize(raw[n], raw[len(pairs)+n]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
