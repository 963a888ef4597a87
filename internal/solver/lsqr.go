package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// lsqrCondLimit is the largest estimated condition number LSQR accepts.
const lsqrCondLimit = 1e12

// solveLSQR runs Paige-Saunders LSQR independently for every target column.
func (g *Gonum) solveLSQR(a, b *mat.Dense) (*mat.Dense, error) {
	_, n := a.Dims()
	_, k := b.Dims()

	maxIter := g.MaxIterations
	if maxIter <= 0 {
		maxIter = max(10*n, 100)
	}

	c := mat.NewDense(n, k, nil)
	for j := range k {
		rhs := mat.Col(nil, j, b)
		x, err := lsqr(a, rhs, g.Tolerance, maxIter)
		if err != nil {
			return nil, fmt.Errorf("target column %d: %w", j, err)
		}
		c.SetCol(j, x)
	}
	return c, nil
}

// lsqr solves min ||A x - b|| for one right-hand side.
func lsqr(a *mat.Dense, b []float64, tol float64, maxIter int) ([]float64, error) {
	m, n := a.Dims()
	x := make([]float64, n)

	u := make([]float64, m)
	copy(u, b)
	beta := floats.Norm(u, 2)
	if beta == 0 {
		return x, nil
	}
	floats.Scale(1/beta, u)

	v := mulT(a, u)
	alpha := floats.Norm(v, 2)
	if alpha == 0 {
		return x, nil
	}
	floats.Scale(1/alpha, v)

	w := make([]float64, n)
	copy(w, v)
	phibar, rhobar := beta, alpha
	bnorm := beta
	anorm2, ddnorm := 0.0, 0.0

	for range maxIter {
		// Bidiagonalization step.
		av := mul(a, v)
		floats.AddScaled(av, -alpha, u)
		u = av
		beta = floats.Norm(u, 2)
		if beta > 0 {
			floats.Scale(1/beta, u)
		}
		anorm2 += alpha*alpha + beta*beta

		atu := mulT(a, u)
		floats.AddScaled(atu, -beta, v)
		v = atu
		alpha = floats.Norm(v, 2)
		if alpha > 0 {
			floats.Scale(1/alpha, v)
		}

		// Plane rotation eliminating the subdiagonal.
		rho := math.Hypot(rhobar, beta)
		c, s := rhobar/rho, beta/rho
		theta := s * alpha
		rhobar = -c * alpha
		phi := c * phibar
		phibar = s * phibar

		floats.AddScaled(x, phi/rho, w)
		ddnorm += floats.Dot(w, w) / (rho * rho)
		for i := range w {
			w[i] = v[i] - (theta/rho)*w[i]
		}

		anorm := math.Sqrt(anorm2)
		if acond := anorm * math.Sqrt(ddnorm); acond > lsqrCondLimit {
			return nil, fmt.Errorf("%w: estimated condition number %g", ErrSingular, acond)
		}

		rnorm := phibar
		arnorm := alpha * math.Abs(c) * phibar
		xnorm := floats.Norm(x, 2)
		if rnorm <= tol*bnorm+tol*anorm*xnorm {
			return x, nil
		}
		if arnorm <= tol*anorm*rnorm {
			return x, nil
		}
	}

	return nil, fmt.Errorf("%w: %d iterations", ErrNotConverged, maxIter)
}

func mul(a *mat.Dense, v []float64) []float64 {
	m, _ := a.Dims()
	out := mat.NewVecDense(m, nil)
	out.MulVec(a, mat.NewVecDense(len(v), v))
	return out.RawVector().Data
}

func mulT(a *mat.Dense, u []float64) []float64 {
	_, n := a.Dims()
	out := mat.NewVecDense(n, nil)
	out.MulVec(a.T(), mat.NewVecDense(len(u), u))
	return out.RawVector().Data
}
