// Package fit trains the sub-models of a bank from reference data.
//
// Every key of a Specification is an independent regression problem. For one key the
// Fitter walks the data selection, keeps the atom blocks whose species match the key,
// evaluates features on each block's environment and cuts the key's sub-region out of
// the reference block. The stacked problem is handed to the linear solver and the
// coefficients are bound into the bank. Keys are fit concurrently; the first failure
// cancels the rest.
package fit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/blockfit/internal/bank"
	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/blockerr"
	"github.com/born-ml/blockfit/internal/env"
	"github.com/born-ml/blockfit/internal/features"
	"github.com/born-ml/blockfit/internal/params"
	"github.com/born-ml/blockfit/internal/reference"
	"github.com/born-ml/blockfit/internal/selection"
	"github.com/born-ml/blockfit/internal/solver"
)

// Fitter fits banks. It holds no per-fit state and may be reused.
type Fitter struct {
	envs   env.Source
	basis  features.Evaluator
	solver solver.LinearSolver
	refs   reference.Source

	logger   *slog.Logger
	workers  int
	metrics  *Metrics
	progress func(k block.Key, err error)
}

// Option configures a Fitter.
type Option func(*Fitter)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *Fitter) { f.logger = l }
}

// WithWorkers bounds the number of keys fit concurrently. Values below 1 mean NumCPU.
func WithWorkers(n int) Option {
	return func(f *Fitter) { f.workers = n }
}

// WithMetrics enables prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(f *Fitter) { f.metrics = m }
}

// WithProgress registers a callback run after every key attempt, from the worker
// goroutine. err is nil for a bound key.
func WithProgress(fn func(k block.Key, err error)) Option {
	return func(f *Fitter) { f.progress = fn }
}

// New creates a Fitter over the given collaborators.
func New(envs env.Source, basis features.Evaluator, lin solver.LinearSolver, refs reference.Source, opts ...Option) *Fitter {
	f := &Fitter{
		envs:   envs,
		basis:  basis,
		solver: lin,
		refs:   refs,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.workers < 1 {
		f.workers = runtime.NumCPU()
	}
	return f
}

// Plan returns a bank with every key of (q, kind) declared Unfit.
func (f *Fitter) Plan(spec *params.Specification, q block.Quantity, kind block.Kind) (*bank.Bank, error) {
	b := bank.New(q, kind)
	for _, k := range spec.Keys(q, kind) {
		h, err := spec.Hyper(k)
		if err != nil {
			return nil, err
		}
		if err := b.Declare(k, h); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Fit plans, fits and freezes a bank for (q, kind).
//
// On failure the partially fit bank is returned with the error: keys that completed
// are Fit, all others remain Unfit.
func (f *Fitter) Fit(ctx context.Context, spec *params.Specification, q block.Quantity, kind block.Kind, sel *selection.Selector) (*bank.Bank, error) {
	b, err := f.Plan(spec, q, kind)
	if err != nil {
		return nil, err
	}
	if err := f.FitInto(ctx, b, spec, sel, false); err != nil {
		return b, err
	}
	b.Freeze()
	return b, nil
}

// FitInto fits every key the specification declares for the bank's quantity and kind.
// With refit set, keys that already hold coefficients are overwritten; otherwise
// meeting such a key is an IllegalStateError.
func (f *Fitter) FitInto(ctx context.Context, b *bank.Bank, spec *params.Specification, sel *selection.Selector, refit bool) error {
	q, kind := b.Quantity(), b.Kind()
	if sel.Kind() != kind {
		return &blockerr.ConfigurationError{
			Details: fmt.Sprintf("selection holds %s blocks, bank is %s", sel.Kind(), kind),
		}
	}

	keys := spec.Keys(q, kind)
	if len(keys) == 0 {
		f.logger.Info("no keys to fit", "quantity", q, "kind", kind)
		return nil
	}

	start := time.Now()
	defer func() { f.metrics.pass(string(q), string(kind), time.Since(start).Seconds()) }()

	f.logger.Info("fitting",
		"quantity", q,
		"kind", kind,
		"keys", len(keys),
		"files", len(sel.Files()),
		"blocks", sel.Len(),
		"workers", f.workers,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for _, k := range keys {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				f.metrics.key("cancelled")
				return err
			}
			err := f.fitKey(gctx, b, spec, sel, k, refit)
			if f.progress != nil {
				f.progress(k, err)
			}
			if err != nil {
				f.metrics.key("failed")
				f.logger.Error("fit failed", "key", k.String(), "error", err)
				return err
			}
			f.metrics.key("fit")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	// A cancellation observed only by the dispatch loop leaves no goroutine error.
	if err := ctx.Err(); err != nil {
		return err
	}

	f.logger.Info("fit complete", "quantity", q, "kind", kind, "keys", len(keys), "elapsed", time.Since(start))
	return nil
}

// fitKey gathers, solves and binds one key.
func (f *Fitter) fitKey(ctx context.Context, b *bank.Bank, spec *params.Specification, sel *selection.Selector, k block.Key, refit bool) error {
	h, err := spec.Hyper(k)
	if err != nil {
		return err
	}
	if err := b.Declare(k, h); err != nil {
		return err
	}

	x, y, rows, cols, err := f.gather(ctx, spec, sel, k, h)
	if err != nil {
		return err
	}
	n, _ := x.Dims()
	f.metrics.sampleCount(n)

	coeffs, err := f.solver.Solve(x, y, spec.Regularization(), h.Lambda, spec.Solver())
	if err != nil {
		return &blockerr.FittingError{Key: k.String(), Err: err}
	}

	if refit {
		err = b.Rebind(k, h, coeffs, rows, cols)
	} else {
		err = b.Bind(k, h, coeffs, rows, cols)
	}
	if err != nil {
		return err
	}
	f.logger.Debug("fit key", "key", k.String(), "samples", n)
	return nil
}

// gather builds the design matrix (samples x features) and targets (samples x outputs)
// of one key. rows and cols give the sub-block shape.
func (f *Fitter) gather(ctx context.Context, spec *params.Specification, sel *selection.Selector, k block.Key, h params.Hyper) (x, y *mat.Dense, rows, cols int, err error) {
	reg := spec.Registry()
	ba, err := reg.Basis(k.Species[0])
	if err != nil {
		return nil, nil, 0, 0, err
	}
	bb, err := reg.Basis(k.Species[1])
	if err != nil {
		return nil, nil, 0, 0, err
	}
	loA, hiA, err := ba.Range(k.Shells[0], k.Radials[0])
	if err != nil {
		return nil, nil, 0, 0, err
	}
	loB, hiB, err := bb.Range(k.Shells[1], k.Radials[1])
	if err != nil {
		return nil, nil, 0, 0, err
	}
	rows, cols = hiA-loA, hiB-loB
	nf := f.basis.Len(k.Kind, h)

	var xs, ys []float64
	for i, file := range sel.Files() {
		if err := ctx.Err(); err != nil {
			return nil, nil, 0, 0, err
		}
		cfg, err := f.refs.Configuration(file)
		if err != nil {
			return nil, nil, 0, 0, err
		}
		for _, ab := range sel.Blocks(i) {
			if ab.I >= cfg.Len() || ab.J >= cfg.Len() {
				return nil, nil, 0, 0, &blockerr.DataError{
					File:    file,
					Block:   ab.String(),
					Details: fmt.Sprintf("configuration has %d atoms", cfg.Len()),
				}
			}
			if cfg.Species[ab.I] != k.Species[0] || cfg.Species[ab.J] != k.Species[1] {
				continue
			}

			e, err := f.envs.Environment(cfg, ab, h.Cutoff)
			if err != nil {
				return nil, nil, 0, 0, withFile(err, file, ab)
			}
			feats, err := f.basis.Features(e, h)
			if err != nil {
				return nil, nil, 0, 0, &blockerr.FittingError{Key: k.String(), Err: err}
			}
			if len(feats) != nf {
				return nil, nil, 0, 0, &blockerr.FittingError{
					Key: k.String(),
					Err: fmt.Errorf("evaluator returned %d features, expected %d", len(feats), nf),
				}
			}

			target, err := f.refs.Block(file, k.Quantity, ab)
			if err != nil {
				return nil, nil, 0, 0, err
			}
			tr, tc := target.Dims()
			if tr != ba.Dim() || tc != bb.Dim() {
				return nil, nil, 0, 0, &blockerr.DataError{
					File:    file,
					Block:   ab.String(),
					Details: fmt.Sprintf("reference block is %dx%d, basis needs %dx%d", tr, tc, ba.Dim(), bb.Dim()),
				}
			}

			xs = append(xs, feats...)
			sub := target.Slice(loA, hiA, loB, hiB)
			for r := range rows {
				for c := range cols {
					ys = append(ys, sub.At(r, c))
				}
			}
		}
	}

	n := len(xs) / max(nf, 1)
	if n == 0 || nf == 0 {
		return nil, nil, 0, 0, &blockerr.FittingError{Key: k.String(), Err: errors.New("no training samples in the data selection")}
	}
	return mat.NewDense(n, nf, xs), mat.NewDense(n, rows*cols, ys), rows, cols, nil
}

// withFile attaches the file to a DataError raised without one.
func withFile(err error, file string, ab block.AtomBlock) error {
	var de *blockerr.DataError
	if errors.As(err, &de) && de.File == "" {
		return &blockerr.DataError{File: file, Block: ab.String(), Details: de.Details, Err: de.Err}
	}
	return err
}
