package predict

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/blockfit/internal/bank"
	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/env"
	"github.com/born-ml/blockfit/internal/parallel"
)

// Matrix assembles the full matrix of q for a configuration.
//
// Diagonal blocks come from onSite (ignored for the overlap). Off-diagonal blocks are
// symmetrized predictions from offSite for atom pairs closer than bondCutoff and zero
// beyond it; a non-positive bondCutoff keeps every pair. Block (j, i) is always the
// transpose of block (i, j).
func (p *Predictor) Matrix(ctx context.Context, cfg *env.Configuration, q block.Quantity, onSite, offSite *bank.Bank, bondCutoff float64) (*mat.Dense, error) {
	if err := checkConfiguration(cfg); err != nil {
		return nil, err
	}
	offsets, total, err := p.registry.AtomOffsets(cfg.Species)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(total, total, nil)
	n := cfg.Len()

	// Every (i, j) with i <= j writes a disjoint region of out: its own block and, off
	// the diagonal, the mirrored (j, i) block.
	err = parallel.ForPairs(ctx, n, n, func(i, j int) error {
		switch {
		case i > j:
			return nil
		case i == j:
			ab := block.AtomBlock{I: i, J: i}
			blocks, err := p.predictSerial(ctx, cfg, ab, q, block.OnSite, onSite)
			if err != nil {
				return err
			}
			place(out, offsets[i], offsets[i], blocks[0])
			return nil
		}

		if bondCutoff > 0 && env.Distance(cfg, i, j) >= bondCutoff {
			return nil
		}
		ab := block.AtomBlock{I: i, J: j}
		raw, err := p.predictSerial(ctx, cfg, ab, q, block.OffSite, offSite)
		if err != nil {
			return err
		}
		rawT, err := p.predictSerial(ctx, cfg, ab.Swap(), q, block.OffSite, offSite)
		if err != nil {
			return err
		}
		sym, err := Symmetrize(raw[0], rawT[0])
		if err != nil {
			return err
		}
		place(out, offsets[i], offsets[j], sym)
		place(out, offsets[j], offsets[i], sym.T())
		return nil
	}, p.parallel)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// predictSerial predicts one block without a nested fan-out.
func (p *Predictor) predictSerial(ctx context.Context, cfg *env.Configuration, ab block.AtomBlock, q block.Quantity, kind block.Kind, b *bank.Bank) ([]*mat.Dense, error) {
	serial := *p
	serial.parallel.Enabled = false
	return serial.predict(ctx, cfg, []block.AtomBlock{ab}, q, kind, b)
}

// Errors summarizes the element-wise deviation of a prediction from a reference.
type Errors struct {
	MAE    float64 `json:"mae" yaml:"mae"`
	RMSE   float64 `json:"rmse" yaml:"rmse"`
	MaxAbs float64 `json:"max_abs" yaml:"max_abs"`
	N      int     `json:"n" yaml:"n"`
}

// Compare computes error statistics between two matrices of equal shape.
func Compare(pred, ref mat.Matrix) (Errors, error) {
	r, c := pred.Dims()
	rr, rc := ref.Dims()
	if r != rr || c != rc {
		return Errors{}, fmt.Errorf("predict: cannot compare %dx%d with %dx%d", r, c, rr, rc)
	}
	n := r * c
	if n == 0 {
		return Errors{}, nil
	}

	diff := mat.DenseCopyOf(pred).RawMatrix().Data
	floats.Sub(diff, mat.DenseCopyOf(ref).RawMatrix().Data)
	return Errors{
		MAE:    floats.Norm(diff, 1) / float64(n),
		RMSE:   floats.Norm(diff, 2) / math.Sqrt(float64(n)),
		MaxAbs: floats.Norm(diff, math.Inf(1)),
		N:      n,
	}, nil
}
