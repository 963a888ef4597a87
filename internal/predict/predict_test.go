package predict

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/blockfit/internal/bank"
	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/blockerr"
	"github.com/born-ml/blockfit/internal/env"
	"github.com/born-ml/blockfit/internal/features"
	"github.com/born-ml/blockfit/internal/fit"
	"github.com/born-ml/blockfit/internal/params"
	"github.com/born-ml/blockfit/internal/parallel"
	"github.com/born-ml/blockfit/internal/reference"
	"github.com/born-ml/blockfit/internal/selection"
	"github.com/born-ml/blockfit/internal/shell"
	"github.com/born-ml/blockfit/internal/solver"
	"github.com/born-ml/blockfit/internal/synth"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// O carries s and p shells (dimension 4), H a single s shell.
func registry(t *testing.T) *shell.Registry {
	t.Helper()
	reg, err := shell.NewRegistry(map[string][]shell.Shell{
		"O": {{L: 0, N: 1}, {L: 1, N: 1}},
		"H": {{L: 0, N: 1}},
	})
	require.NoError(t, err)
	return reg
}

func water() *env.Configuration {
	return &env.Configuration{
		Species:   []string{"O", "H", "H"},
		Positions: [][3]float64{{0, 0, 0}, {0.96, 0, 0}, {-0.24, 0.93, 0}},
	}
}

func predictor(reg *shell.Registry) *Predictor {
	return New(reg, env.NeighborSource{}, features.Radial{},
		WithLogger(quiet),
		WithParallel(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}))
}

func TestOnSiteOverlapIsIdentityWithoutBank(t *testing.T) {
	p := predictor(registry(t))

	out, err := p.Predict(context.Background(), water(), selection.OnSite(0, 1, 2), block.Overlap, block.OnSite, nil)
	require.NoError(t, err)
	require.Len(t, out, 3)

	for n, want := range []int{4, 1, 1} {
		r, c := out[n].Dims()
		assert.Equal(t, want, r)
		assert.Equal(t, want, c)
		assert.True(t, mat.Equal(identity(want), out[n]))
	}
}

func TestSymmetrizeIsExact(t *testing.T) {
	a := mat.NewDense(2, 3, []float64{0.1, 0.7, 1e-17, 3.3, -2.2, 1.0 / 3})
	b := mat.NewDense(3, 2, []float64{5.5, 0.2, 0.3, 1e17, -0.9, 2.0 / 7})

	ij, err := Symmetrize(a, b)
	require.NoError(t, err)
	ji, err := Symmetrize(b, a)
	require.NoError(t, err)

	assert.True(t, mat.Equal(ij, ji.T()))
	assert.InDelta(t, (0.7+0.3)/2, ij.At(0, 1), 1e-15)

	_, err = Symmetrize(a, a)
	assert.Error(t, err)
}

// constantHyper makes the Radial evaluator return the single feature [1], so a
// sub-model's coefficients are its prediction.
var constantHyper = params.Hyper{Cutoff: 3, MaxDegree: 0, CorrelationOrder: 1}

func constantBank(t *testing.T, reg *shell.Registry, q block.Quantity, kind block.Kind, si, sj string) *bank.Bank {
	t.Helper()
	keys, err := params.ExpectedKeys(reg, q, kind, si, sj)
	require.NoError(t, err)

	b := bank.New(q, kind)
	for n, k := range keys {
		ba, _ := reg.Basis(k.Species[0])
		bb, _ := reg.Basis(k.Species[1])
		sa, _ := ba.Shell(k.Shells[0])
		sb, _ := bb.Shell(k.Shells[1])
		rows, cols := sa.Multiplicity(), sb.Multiplicity()

		coeffs := mat.NewDense(1, rows*cols, nil)
		for o := range rows * cols {
			coeffs.Set(0, o, float64(10*(n+1)+o))
		}
		m, err := bank.NewLoaded(k, constantHyper, rows, cols, coeffs)
		require.NoError(t, err)
		require.NoError(t, b.Insert(m))
	}
	b.Freeze()
	return b
}

func TestOnSitePlacementMirrorsTransposes(t *testing.T) {
	reg := registry(t)
	b := constantBank(t, reg, block.Hamiltonian, block.OnSite, "O", "O")
	require.Equal(t, 3, b.Len(), "s-s, s-p and p-p")

	out, err := predictor(reg).Predict(context.Background(), water(), selection.OnSite(0), block.Hamiltonian, block.OnSite, b)
	require.NoError(t, err)
	h := out[0]

	// Keys sort as s-s (10), s-p (20..22), p-p (30..38).
	assert.Equal(t, 10.0, h.At(0, 0))
	for m := range 3 {
		assert.Equal(t, float64(20+m), h.At(0, 1+m), "s-p placed directly")
		assert.Equal(t, float64(20+m), h.At(1+m, 0), "p-s is the transpose")
	}
	for r := range 3 {
		for c := range 3 {
			assert.Equal(t, float64(30+3*r+c), h.At(1+r, 1+c), "self pair placed without mirroring")
		}
	}
}

func TestOffSiteIsRaw(t *testing.T) {
	reg := registry(t)
	b := bank.New(block.Hamiltonian, block.OffSite)
	for _, pair := range [][2]string{{"O", "H"}, {"H", "O"}} {
		keys, err := params.ExpectedKeys(reg, block.Hamiltonian, block.OffSite, pair[0], pair[1])
		require.NoError(t, err)
		for _, k := range keys {
			ba, _ := reg.Basis(k.Species[0])
			bb, _ := reg.Basis(k.Species[1])
			sa, _ := ba.Shell(k.Shells[0])
			sb, _ := bb.Shell(k.Shells[1])
			coeffs := mat.NewDense(1, sa.Multiplicity()*sb.Multiplicity(), nil)
			// O-H predicts 1, H-O predicts 3: one-sided predictions disagree.
			v := 1.0
			if pair[0] == "H" {
				v = 3
			}
			for o := range sa.Multiplicity() * sb.Multiplicity() {
				coeffs.Set(0, o, v)
			}
			m, err := bank.NewLoaded(k, constantHyper, sa.Multiplicity(), sb.Multiplicity(), coeffs)
			require.NoError(t, err)
			require.NoError(t, b.Insert(m))
		}
	}
	b.Freeze()

	p := predictor(reg)
	raw, err := p.Predict(context.Background(), water(), []block.AtomBlock{{I: 0, J: 1}, {I: 1, J: 0}}, block.Hamiltonian, block.OffSite, b)
	require.NoError(t, err)
	assert.Equal(t, 1.0, raw[0].At(2, 0))
	assert.Equal(t, 3.0, raw[1].At(0, 2))

	sym, err := p.PredictOffSite(context.Background(), water(), []block.AtomBlock{{I: 0, J: 1}}, block.Hamiltonian, b)
	require.NoError(t, err)
	want, err := Symmetrize(raw[0], raw[1])
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, sym[0]))
	assert.Equal(t, 2.0, sym[0].At(3, 0))
}

func TestMissingKeyIsIllegalState(t *testing.T) {
	reg := registry(t)
	empty := bank.New(block.Hamiltonian, block.OnSite)
	empty.Freeze()

	_, err := predictor(reg).Predict(context.Background(), water(), selection.OnSite(1), block.Hamiltonian, block.OnSite, empty)
	require.ErrorIs(t, err, blockerr.ErrIllegalState)
	var ise *blockerr.IllegalStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "H:on-site:H-H:s0-s0:r0-r0", ise.Key)

	_, err = predictor(reg).Predict(context.Background(), water(), selection.OnSite(1), block.Hamiltonian, block.OnSite, nil)
	assert.ErrorIs(t, err, blockerr.ErrIllegalState)
}

func TestRequestValidation(t *testing.T) {
	reg := registry(t)
	p := predictor(reg)

	tests := []struct {
		name   string
		blocks []block.AtomBlock
		kind   block.Kind
	}{
		{"off-diagonal on-site request", []block.AtomBlock{{I: 0, J: 1}}, block.OnSite},
		{"diagonal off-site request", []block.AtomBlock{{I: 1, J: 1}}, block.OffSite},
		{"atom out of range", []block.AtomBlock{{I: 0, J: 3}}, block.OffSite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Predict(context.Background(), water(), tt.blocks, block.Overlap, tt.kind, nil)
			assert.ErrorIs(t, err, blockerr.ErrData)
		})
	}
}

func TestInvalidConfigurationIsDataError(t *testing.T) {
	p := predictor(registry(t))
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  *env.Configuration
	}{
		{"nil", nil},
		{"fewer positions than species", &env.Configuration{
			Species:   []string{"O", "H", "H"},
			Positions: [][3]float64{{0, 0, 0}},
		}},
		{"non-finite position", &env.Configuration{
			Species:   []string{"O", "H"},
			Positions: [][3]float64{{0, 0, 0}, {math.NaN(), 0, 0}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Matrix(ctx, tt.cfg, block.Overlap, nil, nil, 2.0)
			assert.ErrorIs(t, err, blockerr.ErrData)

			_, err = p.Predict(ctx, tt.cfg, selection.OnSite(0), block.Overlap, block.OnSite, nil)
			assert.ErrorIs(t, err, blockerr.ErrData)

			_, err = p.PredictOffSite(ctx, tt.cfg, []block.AtomBlock{{I: 0, J: 1}}, block.Hamiltonian, nil)
			assert.ErrorIs(t, err, blockerr.ErrData)
		})
	}
}

func TestFittedMatrixMatchesReference(t *testing.T) {
	reg := registry(t)
	h := params.Hyper{Cutoff: 4, MaxDegree: 2, CorrelationOrder: 1}
	gen := synth.New(reg, map[block.Kind]params.Hyper{block.OnSite: h, block.OffSite: h})
	frames, err := gen.Random(12, []string{"O", "H", "H"}, 11)
	require.NoError(t, err)
	refs, err := reference.NewMemory(reg, frames)
	require.NoError(t, err)
	files := slices.Sorted(maps.Keys(frames))

	entries := params.Defaults(reg, []block.Quantity{block.Hamiltonian, block.Overlap},
		map[block.Kind]params.Hyper{block.OnSite: h, block.OffSite: h})
	entries = params.Pairs(entries, [][2]string{{"O", "H"}, {"H", "O"}, {"H", "H"}})
	spec, err := params.New(reg, "none", "qr", entries, params.WithLogger(quiet))
	require.NoError(t, err)

	f := fit.New(env.NeighborSource{}, features.Radial{}, solver.NewGonum(), refs, fit.WithLogger(quiet))
	onSel, err := selection.Broadcast(block.OnSite, files, selection.OnSite(0, 1, 2))
	require.NoError(t, err)
	offSel, err := selection.Broadcast(block.OffSite, files, []block.AtomBlock{
		{I: 0, J: 1}, {I: 0, J: 2}, {I: 1, J: 0}, {I: 1, J: 2}, {I: 2, J: 0}, {I: 2, J: 1},
	})
	require.NoError(t, err)

	ctx := context.Background()
	hOn, err := f.Fit(ctx, spec, block.Hamiltonian, block.OnSite, onSel)
	require.NoError(t, err)
	hOff, err := f.Fit(ctx, spec, block.Hamiltonian, block.OffSite, offSel)
	require.NoError(t, err)
	sOff, err := f.Fit(ctx, spec, block.Overlap, block.OffSite, offSel)
	require.NoError(t, err)

	probe, err := gen.Frame(water().Species, water().Positions)
	require.NoError(t, err)
	p := predictor(reg)

	hm, err := p.Matrix(ctx, water(), block.Hamiltonian, hOn, hOff, 0)
	require.NoError(t, err)
	errs, err := Compare(hm, mat.NewDense(6, 6, flatten(probe.H)))
	require.NoError(t, err)
	assert.Equal(t, 36, errs.N)
	assert.Less(t, errs.MaxAbs, 1e-8)

	sm, err := p.Matrix(ctx, water(), block.Overlap, nil, sOff, 0)
	require.NoError(t, err)
	errs, err = Compare(sm, mat.NewDense(6, 6, flatten(probe.S)))
	require.NoError(t, err)
	assert.Less(t, errs.MaxAbs, 1e-8)

	// A bond cutoff below every H-H distance zeroes that block.
	cut, err := p.Matrix(ctx, water(), block.Hamiltonian, hOn, hOff, 1.0)
	require.NoError(t, err)
	assert.Zero(t, cut.At(4, 5))
	assert.InDelta(t, probe.H[0][4], cut.At(0, 4), 1e-8)
}

func TestCompare(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	b := mat.NewDense(2, 2, []float64{1, 1, 3, 7})

	errs, err := Compare(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, errs.MAE, 1e-15)
	assert.InDelta(t, 1.5811388300841898, errs.RMSE, 1e-15)
	assert.Equal(t, 3.0, errs.MaxAbs)

	_, err = Compare(a, mat.NewDense(1, 4, nil))
	assert.Error(t, err)
}

func flatten(m [][]float64) []float64 {
	var out []float64
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}
