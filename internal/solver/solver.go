// Package solver provides the regularized least-squares kernels used by the fitter.
//
// The fitter only depends on the LinearSolver interface. Gonum is the reference
// implementation, built on gonum.org/v1/gonum/mat:
//
//	qr      Householder QR on the penalty-augmented system
//	direct  Cholesky factorization of the regularized normal equations
//	svd     thin SVD of the penalty-augmented system
//	lsqr    Paige-Saunders LSQR iterations on the penalty-augmented system
//
// All solvers fail explicitly with ErrSingular, ErrIllPosed or ErrNotConverged instead of
// returning degenerate coefficients.
package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Solver failures.
var (
	ErrSingular     = errors.New("solver: singular system")
	ErrIllPosed     = errors.New("solver: ill-posed system")
	ErrNotConverged = errors.New("solver: did not converge")
)

// Regularization is the penalty form applied to the coefficients.
type Regularization string

// Supported regularization kinds.
const (
	// None solves the plain least-squares problem; the strength is ignored.
	None Regularization = "none"
	// Ridge adds lambda*||c||^2.
	Ridge Regularization = "ridge"
	// Tikhonov adds lambda*sum_j ||X_j||^2 c_j^2, a ridge penalty scaled by column norms.
	Tikhonov Regularization = "tikhonov"
)

// ParseRegularization validates a regularization identifier.
func ParseRegularization(s string) (Regularization, error) {
	switch Regularization(s) {
	case None, Ridge, Tikhonov:
		return Regularization(s), nil
	default:
		return "", fmt.Errorf("unknown regularization %q (expected one of %q, %q, %q)", s, None, Ridge, Tikhonov)
	}
}

// ID identifies a solver algorithm.
type ID string

// Supported solvers.
const (
	QR     ID = "qr"
	Direct ID = "direct"
	SVD    ID = "svd"
	LSQR   ID = "lsqr"
)

// ParseID validates a solver identifier.
func ParseID(s string) (ID, error) {
	switch ID(s) {
	case QR, Direct, SVD, LSQR:
		return ID(s), nil
	default:
		return "", fmt.Errorf("unknown solver %q (expected one of %q, %q, %q, %q)", s, QR, Direct, SVD, LSQR)
	}
}

// directCondLimit bounds the condition number of the regularized normal equations.
const directCondLimit = 1e14

// LinearSolver solves min ||X C - Y||^2 + penalty(C) column by column.
//
// X is samples x features, Y is samples x outputs and the returned coefficients are
// features x outputs.
type LinearSolver interface {
	Solve(x, y *mat.Dense, reg Regularization, lambda float64, id ID) (*mat.Dense, error)
}

// Gonum is the reference LinearSolver.
type Gonum struct {
	RCond         float64 // Relative threshold below which a pivot/singular value counts as zero
	Tolerance     float64 // LSQR stopping tolerance
	MaxIterations int     // LSQR iteration cap; 0 means 10*features (at least 100)
}

var _ LinearSolver = (*Gonum)(nil)

// NewGonum returns a solver with default tolerances.
func NewGonum() *Gonum {
	return &Gonum{
		RCond:     1e-10,
		Tolerance: 1e-12,
	}
}

// Solve implements LinearSolver.
func (g *Gonum) Solve(x, y *mat.Dense, reg Regularization, lambda float64, id ID) (*mat.Dense, error) {
	m, n := x.Dims()
	ym, _ := y.Dims()
	if m != ym {
		return nil, fmt.Errorf("%w: design matrix has %d rows, targets have %d", ErrIllPosed, m, ym)
	}
	if lambda < 0 || math.IsNaN(lambda) || math.IsInf(lambda, 0) {
		return nil, fmt.Errorf("%w: invalid regularization strength %g", ErrIllPosed, lambda)
	}
	if !finite(x) || !finite(y) {
		return nil, fmt.Errorf("%w: NaN or Inf in inputs", ErrIllPosed)
	}

	penalty, err := penalties(x, reg, lambda)
	if err != nil {
		return nil, err
	}
	if penalty == nil && m < n {
		return nil, fmt.Errorf("%w: %d samples for %d features without regularization", ErrIllPosed, m, n)
	}

	switch id {
	case QR:
		a, b := augment(x, y, penalty)
		return g.solveQR(a, b)
	case Direct:
		return g.solveNormal(x, y, penalty)
	case SVD:
		a, b := augment(x, y, penalty)
		return g.solveSVD(a, b)
	case LSQR:
		a, b := augment(x, y, penalty)
		return g.solveLSQR(a, b)
	default:
		return nil, fmt.Errorf("%w: unknown solver %q", ErrIllPosed, id)
	}
}

// penalties returns the per-feature diagonal penalty, or nil when unregularized.
func penalties(x *mat.Dense, reg Regularization, lambda float64) ([]float64, error) {
	_, n := x.Dims()
	switch reg {
	case None:
		return nil, nil
	case Ridge, Tikhonov:
	default:
		return nil, fmt.Errorf("%w: unknown regularization %q", ErrIllPosed, reg)
	}
	if lambda == 0 {
		return nil, nil
	}

	p := make([]float64, n)
	for j := range n {
		p[j] = lambda
		if reg == Tikhonov {
			if norm := mat.Norm(x.ColView(j), 2); norm > 0 {
				p[j] = lambda * norm * norm
			}
		}
	}
	return p, nil
}

// augment stacks sqrt(penalty) rows under X and zero rows under Y.
func augment(x, y *mat.Dense, penalty []float64) (*mat.Dense, *mat.Dense) {
	if penalty == nil {
		return x, y
	}
	m, n := x.Dims()
	_, k := y.Dims()

	a := mat.NewDense(m+n, n, nil)
	a.Slice(0, m, 0, n).(*mat.Dense).Copy(x)
	for j, p := range penalty {
		a.Set(m+j, j, math.Sqrt(p))
	}
	b := mat.NewDense(m+n, k, nil)
	b.Slice(0, m, 0, k).(*mat.Dense).Copy(y)
	return a, b
}

func (g *Gonum) solveQR(a, b *mat.Dense) (*mat.Dense, error) {
	_, n := a.Dims()
	_, k := b.Dims()

	var qr mat.QR
	qr.Factorize(a)

	var r mat.Dense
	qr.RTo(&r)
	maxDiag := 0.0
	for i := range n {
		maxDiag = math.Max(maxDiag, math.Abs(r.At(i, i)))
	}
	for i := range n {
		if math.Abs(r.At(i, i)) <= g.RCond*maxDiag || maxDiag == 0 {
			return nil, fmt.Errorf("%w: zero pivot at feature %d", ErrSingular, i)
		}
	}

	c := mat.NewDense(n, k, nil)
	if err := qr.SolveTo(c, false, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	return c, nil
}

func (g *Gonum) solveNormal(x, y *mat.Dense, penalty []float64) (*mat.Dense, error) {
	_, n := x.Dims()
	_, k := y.Dims()

	gram := mat.NewSymDense(n, nil)
	gram.SymOuterK(1, x.T())
	for j, p := range penalty {
		gram.SetSym(j, j, gram.At(j, j)+p)
	}

	var rhs mat.Dense
	rhs.Mul(x.T(), y)

	var ch mat.Cholesky
	if ok := ch.Factorize(gram); !ok {
		return nil, fmt.Errorf("%w: normal equations are not positive definite", ErrSingular)
	}
	if cond := ch.Cond(); cond > directCondLimit || math.IsInf(cond, 0) {
		return nil, fmt.Errorf("%w: condition number %g", ErrSingular, cond)
	}

	c := mat.NewDense(n, k, nil)
	if err := ch.SolveTo(c, &rhs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	return c, nil
}

func (g *Gonum) solveSVD(a, b *mat.Dense) (*mat.Dense, error) {
	_, n := a.Dims()
	_, k := b.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: SVD factorization failed", ErrNotConverged)
	}
	values := svd.Values(nil)
	if len(values) < n || values[0] == 0 {
		return nil, fmt.Errorf("%w: rank 0", ErrSingular)
	}
	for i, s := range values {
		if s <= g.RCond*values[0] {
			return nil, fmt.Errorf("%w: rank %d < %d features", ErrSingular, i, n)
		}
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var utb mat.Dense
	utb.Mul(u.T(), b)
	for i, s := range values {
		for j := range k {
			utb.Set(i, j, utb.At(i, j)/s)
		}
	}

	c := mat.NewDense(n, k, nil)
	c.Mul(&v, &utb)
	return c, nil
}

func finite(m *mat.Dense) bool {
	r, c := m.Dims()
	for i := range r {
		for j := range c {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
