package solver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// linearProblem returns X (20x3) and Y = X*C for a known C (3x2).
func linearProblem() (*mat.Dense, *mat.Dense, *mat.Dense) {
	x := mat.NewDense(20, 3, nil)
	for i := range 20 {
		t := float64(i) / 10
		x.Set(i, 0, 1)
		x.Set(i, 1, t)
		x.Set(i, 2, math.Sin(3*t))
	}
	c := mat.NewDense(3, 2, []float64{
		0.5, -1.0,
		2.0, 0.25,
		-0.75, 3.0,
	})
	var y mat.Dense
	y.Mul(x, c)
	return x, &y, c
}

func TestSolversRecoverExactCoefficients(t *testing.T) {
	x, y, want := linearProblem()
	s := NewGonum()

	for _, id := range []ID{QR, Direct, SVD, LSQR} {
		t.Run(string(id), func(t *testing.T) {
			got, err := s.Solve(x, y, None, 0, id)
			require.NoError(t, err)
			assert.True(t, mat.EqualApprox(want, got, 1e-8), "coefficients:\n%v", mat.Formatted(got))
		})
	}
}

func TestRegularizedSolversAgree(t *testing.T) {
	x, y, _ := linearProblem()
	s := NewGonum()

	for _, reg := range []Regularization{Ridge, Tikhonov} {
		t.Run(string(reg), func(t *testing.T) {
			ref, err := s.Solve(x, y, reg, 0.1, QR)
			require.NoError(t, err)
			for _, id := range []ID{Direct, SVD, LSQR} {
				got, err := s.Solve(x, y, reg, 0.1, id)
				require.NoError(t, err, "solver %s", id)
				assert.True(t, mat.EqualApprox(ref, got, 1e-7), "solver %s disagrees with qr", id)
			}
		})
	}
}

func TestRidgeShrinksCoefficients(t *testing.T) {
	x, y, _ := linearProblem()
	s := NewGonum()

	plain, err := s.Solve(x, y, None, 0, QR)
	require.NoError(t, err)
	ridge, err := s.Solve(x, y, Ridge, 10, QR)
	require.NoError(t, err)

	assert.Less(t, mat.Norm(ridge, 2), mat.Norm(plain, 2))
}

func TestSingularSystemFails(t *testing.T) {
	x := mat.NewDense(6, 3, nil)
	y := mat.NewDense(6, 1, nil)
	for i := range 6 {
		x.Set(i, 0, 1)
		x.Set(i, 1, float64(i))
		// column 2 stays zero
		y.Set(i, 0, float64(2*i+1))
	}
	s := NewGonum()

	for _, id := range []ID{QR, Direct, SVD} {
		t.Run(string(id), func(t *testing.T) {
			_, err := s.Solve(x, y, None, 0, id)
			assert.ErrorIs(t, err, ErrSingular)
		})
	}

	// A ridge penalty makes the same system well posed.
	_, err := s.Solve(x, y, Ridge, 1e-3, QR)
	assert.NoError(t, err)
}

func TestIllPosedInputs(t *testing.T) {
	s := NewGonum()

	_, err := s.Solve(mat.NewDense(2, 4, nil), mat.NewDense(2, 1, nil), None, 0, QR)
	assert.ErrorIs(t, err, ErrIllPosed, "underdetermined without regularization")

	_, err = s.Solve(mat.NewDense(3, 2, nil), mat.NewDense(4, 1, nil), Ridge, 1, QR)
	assert.ErrorIs(t, err, ErrIllPosed, "row mismatch")

	_, err = s.Solve(mat.NewDense(3, 2, nil), mat.NewDense(3, 1, nil), Ridge, -1, QR)
	assert.ErrorIs(t, err, ErrIllPosed, "negative lambda")

	x := mat.NewDense(3, 1, []float64{1, math.NaN(), 2})
	_, err = s.Solve(x, mat.NewDense(3, 1, nil), Ridge, 1, QR)
	assert.ErrorIs(t, err, ErrIllPosed, "NaN input")
}

func TestParseIdentifiers(t *testing.T) {
	for _, s := range []string{"qr", "direct", "svd", "lsqr"} {
		_, err := ParseID(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseID("cg")
	assert.Error(t, err)

	for _, s := range []string{"none", "ridge", "tikhonov"} {
		_, err := ParseRegularization(s)
		assert.NoError(t, err, s)
	}
	_, err = ParseRegularization("lasso")
	assert.Error(t, err)
}
