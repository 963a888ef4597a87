// Package params holds the per-block hyperparameters of a model and validates them.
//
// A Specification is built from Entries. Each Entry covers one shell pair of one
// (quantity, pair kind, species pair) and carries an N_A x N_B matrix of Hyper values,
// one per radial-function pair. Construction fails with a ConfigurationError for any
// malformed entry; suspicious but legal declarations (off-site entries whose conjugate is
// not the transpose) only produce advisories.
package params

import (
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/blockerr"
	"github.com/born-ml/blockfit/internal/shell"
	"github.com/born-ml/blockfit/internal/solver"
)

// hyperValidate checks Hyper field ranges.
var hyperValidate = validator.New(validator.WithRequiredStructEnabled())

// Hyper is the hyperparameter tuple of one sub-model.
type Hyper struct {
	Cutoff           float64 `json:"cutoff" yaml:"cutoff" validate:"gt=0"`
	MaxDegree        int     `json:"max_degree" yaml:"max_degree" validate:"gte=0"`
	CorrelationOrder int     `json:"correlation_order" yaml:"correlation_order" validate:"gte=1"`
	Lambda           float64 `json:"lambda" yaml:"lambda" validate:"gte=0"`
}

// Validate checks that every field is in range.
func (h Hyper) Validate() error {
	if math.IsInf(h.Cutoff, 0) || math.IsNaN(h.Lambda) || math.IsInf(h.Lambda, 0) {
		return fmt.Errorf("non-finite hyperparameter in %+v", h)
	}
	return hyperValidate.Struct(h)
}

// Entry declares the hyperparameters of one shell pair.
type Entry struct {
	Quantity block.Quantity `json:"quantity" yaml:"quantity"`
	Kind     block.Kind     `json:"kind" yaml:"kind"`
	Species  [2]string      `json:"species" yaml:"species"`
	Shells   [2]int         `json:"shells" yaml:"shells"`
	Params   [][]Hyper      `json:"params" yaml:"params"`
}

// Name formats the entry as "H:off-site:C-H:s0-s1".
func (e Entry) Name() string {
	return fmt.Sprintf("%s:%s:%s-%s:s%d-s%d", e.Quantity, e.Kind, e.Species[0], e.Species[1], e.Shells[0], e.Shells[1])
}

func (e Entry) id() entryID {
	return entryID{quantity: e.Quantity, kind: e.Kind, species: e.Species, shells: e.Shells}
}

// entryID is the shell-pair key of an Entry.
type entryID struct {
	quantity block.Quantity
	kind     block.Kind
	species  [2]string
	shells   [2]int
}

func (id entryID) conjugate() entryID {
	return entryID{
		quantity: id.quantity,
		kind:     id.kind,
		species:  [2]string{id.species[1], id.species[0]},
		shells:   [2]int{id.shells[1], id.shells[0]},
	}
}

func (id entryID) name() string {
	return Entry{Quantity: id.quantity, Kind: id.kind, Species: id.species, Shells: id.shells}.Name()
}

func entryIDOf(k block.Key) entryID {
	return entryID{quantity: k.Quantity, kind: k.Kind, species: k.Species, shells: k.Shells}
}

// Advisory is a non-fatal diagnostic raised during construction.
type Advisory struct {
	Entry   string
	Details string
}

// Specification is the validated set of hyperparameters plus the global solver settings.
//
// A Specification is immutable after construction and safe for concurrent use.
type Specification struct {
	registry       *shell.Registry
	regularization solver.Regularization
	solver         solver.ID
	entries        map[entryID]Entry
	advisories     []Advisory
}

type options struct {
	logger    *slog.Logger
	tolerance float64
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger advisories are reported to. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTransposeTolerance sets the absolute tolerance used when comparing conjugate
// off-site entries. Default: 1e-12.
func WithTransposeTolerance(tol float64) Option {
	return func(o *options) { o.tolerance = tol }
}

// New validates entries against the registry and builds a Specification.
//
// Fails with a ConfigurationError naming the offending entry when an entry has an
// unknown species, shell index or identifier, duplicates another entry, declares an
// on-site overlap block, declares an on-site pair with A > B, has an invalid Hyper, or
// has a Params matrix whose shape is not (N_A, N_B). Unknown regularization or solver
// identifiers fail the same way.
func New(reg *shell.Registry, regularization, solverID string, entries []Entry, opts ...Option) (*Specification, error) {
	o := options{logger: slog.Default(), tolerance: 1e-12}
	for _, opt := range opts {
		opt(&o)
	}

	if reg == nil {
		return nil, &blockerr.ConfigurationError{Details: "nil shell registry"}
	}
	r, err := solver.ParseRegularization(regularization)
	if err != nil {
		return nil, &blockerr.ConfigurationError{Details: "regularization", Err: err}
	}
	id, err := solver.ParseID(solverID)
	if err != nil {
		return nil, &blockerr.ConfigurationError{Details: "solver", Err: err}
	}

	spec := &Specification{
		registry:       reg,
		regularization: r,
		solver:         id,
		entries:        make(map[entryID]Entry, len(entries)),
	}
	for _, e := range entries {
		if err := validateEntry(reg, e); err != nil {
			return nil, err
		}
		if _, dup := spec.entries[e.id()]; dup {
			return nil, &blockerr.ConfigurationError{Key: e.Name(), Details: "duplicate entry"}
		}
		spec.entries[e.id()] = cloneEntry(e)
	}

	spec.advisories = spec.checkConjugates(o.tolerance)
	for _, a := range spec.advisories {
		o.logger.Warn("asymmetric off-site hyperparameters", "entry", a.Entry, "details", a.Details)
	}

	return spec, nil
}

func validateEntry(reg *shell.Registry, e Entry) error {
	name := e.Name()
	cfgErr := func(format string, args ...any) error {
		return &blockerr.ConfigurationError{Key: name, Details: fmt.Sprintf(format, args...)}
	}

	if _, err := block.ParseQuantity(string(e.Quantity)); err != nil {
		return &blockerr.ConfigurationError{Key: name, Details: "quantity", Err: err}
	}
	if _, err := block.ParseKind(string(e.Kind)); err != nil {
		return &blockerr.ConfigurationError{Key: name, Details: "pair kind", Err: err}
	}
	if e.Kind == block.OnSite {
		if e.Quantity == block.Overlap {
			return cfgErr("on-site overlap blocks are the identity and take no parameters")
		}
		if e.Species[0] != e.Species[1] {
			return cfgErr("on-site entry must name one species twice")
		}
		if e.Shells[0] > e.Shells[1] {
			return cfgErr("on-site shell pair must be declared with A <= B")
		}
	}

	var counts [2]int
	for side := range 2 {
		b, err := reg.Basis(e.Species[side])
		if err != nil {
			return &blockerr.ConfigurationError{Key: name, Details: "species", Err: err}
		}
		sh, err := b.Shell(e.Shells[side])
		if err != nil {
			return &blockerr.ConfigurationError{Key: name, Details: "shell", Err: err}
		}
		counts[side] = sh.N
	}

	if len(e.Params) != counts[0] {
		return cfgErr("params shape (%d,%s) does not match radial counts (%d,%d)",
			len(e.Params), colCount(e.Params), counts[0], counts[1])
	}
	for i, row := range e.Params {
		if len(row) != counts[1] {
			return cfgErr("params row %d has %d columns, expected %d (radial counts (%d,%d))",
				i, len(row), counts[1], counts[0], counts[1])
		}
		for j, h := range row {
			if err := h.Validate(); err != nil {
				return &blockerr.ConfigurationError{Key: name, Details: fmt.Sprintf("params[%d][%d]", i, j), Err: err}
			}
		}
	}
	return nil
}

func colCount(p [][]Hyper) string {
	if len(p) == 0 {
		return "0"
	}
	return fmt.Sprint(len(p[0]))
}

// checkConjugates compares each off-site entry with its conjugate.
func (s *Specification) checkConjugates(tol float64) []Advisory {
	var out []Advisory
	for _, id := range s.sortedIDs() {
		if id.kind != block.OffSite {
			continue
		}
		e := s.entries[id]
		cid := id.conjugate()
		conj, ok := s.entries[cid]
		if !ok {
			out = append(out, Advisory{Entry: e.Name(), Details: "conjugate entry " + cid.name() + " is not declared"})
			continue
		}
		// Report each unordered pair once; a self-conjugate entry is compared with itself.
		if compareIDs(cid, id) < 0 {
			continue
		}
		for i, row := range e.Params {
			for j, h := range row {
				if !hyperClose(h, conj.Params[j][i], tol) {
					out = append(out, Advisory{
						Entry:   e.Name(),
						Details: fmt.Sprintf("params[%d][%d] differs from %s params[%d][%d]", i, j, conj.Name(), j, i),
					})
				}
			}
		}
	}
	return out
}

func hyperClose(a, b Hyper, tol float64) bool {
	return a.MaxDegree == b.MaxDegree &&
		a.CorrelationOrder == b.CorrelationOrder &&
		math.Abs(a.Cutoff-b.Cutoff) <= tol &&
		math.Abs(a.Lambda-b.Lambda) <= tol
}

func compareIDs(a, b entryID) int {
	return block.Compare(
		block.Key{Quantity: a.quantity, Kind: a.kind, Species: a.species, Shells: a.shells},
		block.Key{Quantity: b.quantity, Kind: b.kind, Species: b.species, Shells: b.shells},
	)
}

func (s *Specification) sortedIDs() []entryID {
	ids := make([]entryID, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareIDs)
	return ids
}

func cloneEntry(e Entry) Entry {
	out := e
	out.Params = make([][]Hyper, len(e.Params))
	for i, row := range e.Params {
		out.Params[i] = slices.Clone(row)
	}
	return out
}

// Registry returns the shell registry the specification was validated against.
func (s *Specification) Registry() *shell.Registry { return s.registry }

// Regularization returns the global regularization kind.
func (s *Specification) Regularization() solver.Regularization { return s.regularization }

// Solver returns the global solver identifier.
func (s *Specification) Solver() solver.ID { return s.solver }

// Advisories returns the non-fatal diagnostics raised during construction.
func (s *Specification) Advisories() []Advisory { return slices.Clone(s.advisories) }

// Entries returns copies of all entries in key order.
func (s *Specification) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, id := range s.sortedIDs() {
		out = append(out, cloneEntry(s.entries[id]))
	}
	return out
}

// Keys enumerates the sub-model keys declared for one quantity and pair kind, sorted.
func (s *Specification) Keys(q block.Quantity, kind block.Kind) []block.Key {
	var keys []block.Key
	for _, id := range s.sortedIDs() {
		if id.quantity != q || id.kind != kind {
			continue
		}
		e := s.entries[id]
		for ra, row := range e.Params {
			for rb := range row {
				k := block.Key{Quantity: q, Kind: kind, Species: id.species, Shells: id.shells, Radials: [2]int{ra, rb}}
				if modeled(k) {
					keys = append(keys, k)
				}
			}
		}
	}
	block.Sort(keys)
	return keys
}

// Hyper resolves the hyperparameters of one key.
//
// Fails with an IllegalStateError if the key is not declared.
func (s *Specification) Hyper(k block.Key) (Hyper, error) {
	e, ok := s.entries[entryIDOf(k)]
	if !ok || !modeled(k) {
		return Hyper{}, &blockerr.IllegalStateError{Key: k.String(), Details: "no hyperparameters declared"}
	}
	ra, rb := k.Radials[0], k.Radials[1]
	if ra < 0 || ra >= len(e.Params) || rb < 0 || rb >= len(e.Params[ra]) {
		return Hyper{}, &blockerr.IllegalStateError{Key: k.String(), Details: "radial pair outside declared params"}
	}
	return e.Params[ra][rb], nil
}

// MaxCutoff returns the largest cutoff declared for a quantity and pair kind, or 0.
func (s *Specification) MaxCutoff(q block.Quantity, kind block.Kind) float64 {
	var out float64
	for id, e := range s.entries {
		if id.quantity != q || id.kind != kind {
			continue
		}
		for _, row := range e.Params {
			for _, h := range row {
				out = math.Max(out, h.Cutoff)
			}
		}
	}
	return out
}

// modeled reports whether a key is fit at all. On-site keys are unordered: only
// (shell, radial) pairs with A <= B are modeled; the rest are transposes.
func modeled(k block.Key) bool {
	if k.Kind != block.OnSite {
		return true
	}
	if k.Quantity == block.Overlap {
		return false
	}
	if k.Shells[0] != k.Shells[1] {
		return k.Shells[0] < k.Shells[1]
	}
	return k.Radials[0] <= k.Radials[1]
}
