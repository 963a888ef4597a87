// Package bank holds the sub-models of one (quantity, pair kind) combination.
//
// A Bank has two phases. During the write phase keys are declared and bound, each
// write guarded by a mutex so that concurrent fitters can insert independently. Freeze
// ends the write phase; afterwards lookups take no locks and every write fails with an
// IllegalStateError.
package bank

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/blockerr"
	"github.com/born-ml/blockfit/internal/params"
)

// ErrNotFound is returned by Lookup for keys that were never declared.
var ErrNotFound = errors.New("sub-model not found")

// State is a sub-model lifecycle state.
type State int

// Lifecycle states.
const (
	Unfit State = iota
	Fit
	Loaded
)

func (s State) String() string {
	switch s {
	case Unfit:
		return "unfit"
	case Fit:
		return "fit"
	case Loaded:
		return "loaded"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SubModel maps a feature vector to one (2L_A+1) x (2L_B+1) sub-block.
//
// Coefficients are stored as a features x outputs matrix where outputs enumerates the
// sub-block in row-major order. A SubModel is immutable once bound.
type SubModel struct {
	Key   block.Key
	Hyper params.Hyper
	Rows  int
	Cols  int

	coeffs *mat.Dense
	state  State
}

// NewLoaded builds a sub-model restored from storage.
func NewLoaded(key block.Key, h params.Hyper, rows, cols int, coeffs *mat.Dense) (*SubModel, error) {
	if err := checkShape(key, rows, cols, coeffs); err != nil {
		return nil, err
	}
	return &SubModel{Key: key, Hyper: h, Rows: rows, Cols: cols, coeffs: coeffs, state: Loaded}, nil
}

// State returns the lifecycle state.
func (m *SubModel) State() State { return m.state }

// Ready reports whether the sub-model can be evaluated.
func (m *SubModel) Ready() bool { return m.state == Fit || m.state == Loaded }

// NumFeatures returns the feature vector length the coefficients expect, or 0 if unfit.
func (m *SubModel) NumFeatures() int {
	if m.coeffs == nil {
		return 0
	}
	r, _ := m.coeffs.Dims()
	return r
}

// Coefficients returns a copy of the coefficient matrix, or nil if unfit.
func (m *SubModel) Coefficients() *mat.Dense {
	if m.coeffs == nil {
		return nil
	}
	return mat.DenseCopyOf(m.coeffs)
}

// Evaluate predicts the sub-block for one feature vector.
func (m *SubModel) Evaluate(features []float64) (*mat.Dense, error) {
	if !m.Ready() {
		return nil, &blockerr.IllegalStateError{Key: m.Key.String(), Details: "sub-model is not fit"}
	}
	if len(features) != m.NumFeatures() {
		return nil, &blockerr.IllegalStateError{
			Key:     m.Key.String(),
			Details: fmt.Sprintf("got %d features, sub-model expects %d", len(features), m.NumFeatures()),
		}
	}

	var out mat.VecDense
	out.MulVec(m.coeffs.T(), mat.NewVecDense(len(features), features))
	return mat.NewDense(m.Rows, m.Cols, out.RawVector().Data), nil
}

func checkShape(key block.Key, rows, cols int, coeffs *mat.Dense) error {
	if coeffs == nil {
		return &blockerr.IllegalStateError{Key: key.String(), Details: "nil coefficients"}
	}
	if rows <= 0 || cols <= 0 {
		return &blockerr.IllegalStateError{Key: key.String(), Details: fmt.Sprintf("invalid output shape %dx%d", rows, cols)}
	}
	if _, c := coeffs.Dims(); c != rows*cols {
		return &blockerr.IllegalStateError{
			Key:     key.String(),
			Details: fmt.Sprintf("coefficients have %d outputs, shape %dx%d needs %d", c, rows, cols, rows*cols),
		}
	}
	return nil
}

// Bank maps keys of one quantity and pair kind to sub-models.
type Bank struct {
	quantity block.Quantity
	kind     block.Kind

	mu     sync.Mutex
	models map[block.Key]*SubModel
	frozen atomic.Bool
}

// New returns an empty bank in the write phase.
func New(q block.Quantity, kind block.Kind) *Bank {
	return &Bank{quantity: q, kind: kind, models: make(map[block.Key]*SubModel)}
}

// Quantity returns the bank's quantity.
func (b *Bank) Quantity() block.Quantity { return b.quantity }

// Kind returns the bank's pair kind.
func (b *Bank) Kind() block.Kind { return b.kind }

// Declare registers key as Unfit. Declaring a key that already exists is a no-op.
func (b *Bank) Declare(key block.Key, h params.Hyper) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writable(key); err != nil {
		return err
	}

	if _, ok := b.models[key]; !ok {
		b.models[key] = &SubModel{Key: key, Hyper: h}
	}
	return nil
}

// Bind attaches coefficients fit under h to a declared key; the sub-model keeps h,
// replacing the declared hyperparameters. It fails if the key already holds
// coefficients; use Rebind to overwrite them explicitly.
func (b *Bank) Bind(key block.Key, h params.Hyper, coeffs *mat.Dense, rows, cols int) error {
	return b.bind(key, h, coeffs, rows, cols, false)
}

// Rebind is Bind that may overwrite existing coefficients.
func (b *Bank) Rebind(key block.Key, h params.Hyper, coeffs *mat.Dense, rows, cols int) error {
	return b.bind(key, h, coeffs, rows, cols, true)
}

func (b *Bank) bind(key block.Key, h params.Hyper, coeffs *mat.Dense, rows, cols int, overwrite bool) error {
	if err := checkShape(key, rows, cols, coeffs); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writable(key); err != nil {
		return err
	}

	cur, ok := b.models[key]
	if !ok {
		return &blockerr.IllegalStateError{Key: key.String(), Details: "key was not declared"}
	}
	if cur.Ready() && !overwrite {
		return &blockerr.IllegalStateError{Key: key.String(), Details: "sub-model is already " + cur.state.String() + "; refit required to overwrite"}
	}
	b.models[key] = &SubModel{Key: key, Hyper: h, Rows: rows, Cols: cols, coeffs: coeffs, state: Fit}
	return nil
}

// Insert stores a Loaded sub-model, replacing an Unfit declaration if present.
func (b *Bank) Insert(m *SubModel) error {
	if m.state != Loaded {
		return &blockerr.IllegalStateError{Key: m.Key.String(), Details: "only loaded sub-models can be inserted"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writable(m.Key); err != nil {
		return err
	}

	if cur, ok := b.models[m.Key]; ok && cur.Ready() {
		return &blockerr.IllegalStateError{Key: m.Key.String(), Details: "sub-model is already " + cur.state.String()}
	}
	b.models[m.Key] = m
	return nil
}

// writable must be called with mu held; Freeze stores under the same lock.
func (b *Bank) writable(key block.Key) error {
	if b.frozen.Load() {
		return &blockerr.IllegalStateError{Key: key.String(), Details: "bank is frozen"}
	}
	if key.Quantity != b.quantity || key.Kind != b.kind {
		return &blockerr.IllegalStateError{
			Key:     key.String(),
			Details: fmt.Sprintf("key does not belong to bank %s:%s", b.quantity, b.kind),
		}
	}
	return nil
}

// Lookup returns the sub-model stored under key in any state.
func (b *Bank) Lookup(key block.Key) (*SubModel, error) {
	m, ok := b.get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return m, nil
}

// Model returns the sub-model for prediction. Missing and Unfit keys fail with an
// IllegalStateError naming the key.
func (b *Bank) Model(key block.Key) (*SubModel, error) {
	m, ok := b.get(key)
	if !ok {
		return nil, &blockerr.IllegalStateError{Key: key.String(), Details: "no sub-model in bank"}
	}
	if !m.Ready() {
		return nil, &blockerr.IllegalStateError{Key: key.String(), Details: "sub-model is not fit"}
	}
	return m, nil
}

func (b *Bank) get(key block.Key) (*SubModel, bool) {
	if b.frozen.Load() {
		m, ok := b.models[key]
		return m, ok
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.models[key]
	return m, ok
}

// Keys returns every stored key, sorted.
func (b *Bank) Keys() []block.Key {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]block.Key, 0, len(b.models))
	for k := range b.models {
		keys = append(keys, k)
	}
	block.Sort(keys)
	return keys
}

// Unfit returns the keys that are still declared but not fit, sorted.
func (b *Bank) Unfit() []block.Key {
	var out []block.Key
	for _, k := range b.Keys() {
		if m, _ := b.get(k); !m.Ready() {
			out = append(out, k)
		}
	}
	return out
}

// Len returns the number of stored keys.
func (b *Bank) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.models)
}

// Freeze ends the write phase.
func (b *Bank) Freeze() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frozen.Store(true)
}

// Frozen reports whether the bank is in the read phase.
func (b *Bank) Frozen() bool { return b.frozen.Load() }
