// Package config loads blockfit project files.
//
// A project file declares the basis, the hyperparameters, the training data and the
// output location. It is YAML (or JSON, chosen by extension) and is layered over
// Default():
//
//	basis:
//	  O: [{l: 0, n: 2}, {l: 1, n: 1}]
//	  H: [{l: 0, n: 1}]
//	model:
//	  regularization: ridge
//	  solver: qr
//	  quantities: [H, S]
//	  pairs: [[O, H], [H, O], [H, H]]
//	  defaults:
//	    on-site:  {cutoff: 4.0, max_degree: 3, correlation_order: 2, lambda: 1.0e-6}
//	    off-site: {cutoff: 5.0, max_degree: 3, correlation_order: 1, lambda: 1.0e-6}
//	  overrides: []
//	data:
//	  root: frames
//	  glob: "*.yaml"
//	  on_site: [0, 1, 2]
//	  off_site: [[0, 1], [1, 0]]
//	output: water.hblk
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/blockerr"
	"github.com/born-ml/blockfit/internal/params"
	"github.com/born-ml/blockfit/internal/selection"
	"github.com/born-ml/blockfit/internal/shell"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Project is the root of a project file.
type Project struct {
	// Basis maps element symbols to their ordered shell lists.
	Basis map[string][]shell.Shell `json:"basis" yaml:"basis" validate:"required,min=1"`

	// Model contains the hyperparameter declarations.
	Model ModelConfig `json:"model" yaml:"model"`

	// Data selects the reference frames to train on.
	Data DataConfig `json:"data" yaml:"data"`

	// Fit contains fitting and prediction settings.
	Fit FitConfig `json:"fit" yaml:"fit"`

	// Output is the model file written by fit.
	Output string `json:"output" yaml:"output" validate:"required"`
}

// ModelConfig declares hyperparameters. Defaults are expanded to every shell pair the
// basis implies, restricted to Pairs for off-site blocks when given; Overrides replace
// individual entries. Every declared key needs training samples, so list in Pairs only
// the ordered species pairs the data contains.
type ModelConfig struct {
	Regularization string                  `json:"regularization" yaml:"regularization" validate:"oneof=none ridge tikhonov"`
	Solver         string                  `json:"solver" yaml:"solver" validate:"oneof=qr direct svd lsqr"`
	Quantities     []string                `json:"quantities" yaml:"quantities" validate:"required,min=1,dive,oneof=H S"`
	Defaults       map[string]params.Hyper `json:"defaults" yaml:"defaults" validate:"dive,keys,oneof=on-site off-site,endkeys"`
	Pairs          [][2]string             `json:"pairs" yaml:"pairs"`
	Overrides      []params.Entry          `json:"overrides" yaml:"overrides"`
}

// DataConfig selects training data. Files are resolved against Root; Glob adds every
// match under Root. Either broadcast lists (OnSite, OffSite) or PerFile selections
// may be given.
type DataConfig struct {
	Root    string    `json:"root" yaml:"root"`
	Files   []string  `json:"files" yaml:"files"`
	Glob    string    `json:"glob" yaml:"glob"`
	OnSite  []int     `json:"on_site" yaml:"on_site" validate:"dive,gte=0"`
	OffSite [][2]int  `json:"off_site" yaml:"off_site"`
	PerFile []PerFile `json:"per_file" yaml:"per_file" validate:"dive"`
}

// PerFile is the nested selection for one file.
type PerFile struct {
	File    string   `json:"file" yaml:"file" validate:"required"`
	OnSite  []int    `json:"on_site" yaml:"on_site" validate:"dive,gte=0"`
	OffSite [][2]int `json:"off_site" yaml:"off_site"`
}

// FitConfig contains fitting and prediction settings.
type FitConfig struct {
	Workers    int     `json:"workers" yaml:"workers" validate:"gte=0"`
	BondCutoff float64 `json:"bond_cutoff" yaml:"bond_cutoff" validate:"gte=0"`
	Refit      bool    `json:"refit" yaml:"refit"`
}

// Default returns a project with every setting but the basis and data filled in.
func Default() Project {
	return Project{
		Model: ModelConfig{
			Regularization: "ridge",
			Solver:         "qr",
			Quantities:     []string{"H", "S"},
			Defaults: map[string]params.Hyper{
				string(block.OnSite):  {Cutoff: 4, MaxDegree: 3, CorrelationOrder: 2, Lambda: 1e-6},
				string(block.OffSite): {Cutoff: 5, MaxDegree: 3, CorrelationOrder: 1, Lambda: 1e-6},
			},
		},
		Output: "model.hblk",
	}
}

// Load reads a project file over Default(). A relative data root or output path is
// resolved against the project file's directory.
func Load(path string) (*Project, error) {
	p := Default()
	if err := loadFile(path, &p); err != nil {
		return nil, &blockerr.ConfigurationError{Key: path, Details: "load project file", Err: err}
	}
	dir := filepath.Dir(path)
	if !filepath.IsAbs(p.Data.Root) {
		p.Data.Root = filepath.Join(dir, p.Data.Root)
	}
	if p.Output != "" && !filepath.IsAbs(p.Output) {
		p.Output = filepath.Join(dir, p.Output)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func loadFile(path string, p *Project) error {
	//nolint:gosec // G304: project path is supplied by the user
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.Unmarshal(data, p)
	}
	return yaml.Unmarshal(data, p)
}

// Validate checks field ranges and the consistency of the data selection.
func (p *Project) Validate() error {
	if err := validate.Struct(p); err != nil {
		return &blockerr.ConfigurationError{Details: "invalid project", Err: err}
	}
	for kind, h := range p.Model.Defaults {
		if err := h.Validate(); err != nil {
			return &blockerr.ConfigurationError{Key: "model.defaults." + kind, Details: "invalid hyperparameters", Err: err}
		}
	}
	if len(p.Data.PerFile) > 0 && (len(p.Data.OnSite) > 0 || len(p.Data.OffSite) > 0) {
		return &blockerr.ConfigurationError{Key: "data", Details: "per_file cannot be combined with broadcast on_site/off_site lists"}
	}
	return nil
}

// Registry builds the shell registry.
func (p *Project) Registry() (*shell.Registry, error) {
	return shell.NewRegistry(p.Basis)
}

// Quantities returns the declared quantities.
func (p *Project) Quantities() ([]block.Quantity, error) {
	out := make([]block.Quantity, 0, len(p.Model.Quantities))
	for _, s := range p.Model.Quantities {
		q, err := block.ParseQuantity(s)
		if err != nil {
			return nil, &blockerr.ConfigurationError{Key: "model.quantities", Details: "quantity", Err: err}
		}
		out = append(out, q)
	}
	return out, nil
}

// Specification expands defaults, applies overrides and validates the result.
func (p *Project) Specification(reg *shell.Registry, opts ...params.Option) (*params.Specification, error) {
	qs, err := p.Quantities()
	if err != nil {
		return nil, err
	}
	defaults := make(map[block.Kind]params.Hyper, len(p.Model.Defaults))
	for k, h := range p.Model.Defaults {
		kind, err := block.ParseKind(k)
		if err != nil {
			return nil, &blockerr.ConfigurationError{Key: "model.defaults", Details: "pair kind", Err: err}
		}
		defaults[kind] = h
	}
	entries := params.Defaults(reg, qs, defaults)
	if len(p.Model.Pairs) > 0 {
		entries = params.Pairs(entries, p.Model.Pairs)
	}
	entries = params.Override(entries, p.Model.Overrides)
	return params.New(reg, p.Model.Regularization, p.Model.Solver, entries, opts...)
}

// Files lists the selected files relative to the data root. Explicit files win over
// the glob; glob matches are sorted.
func (p *Project) Files() ([]string, error) {
	if len(p.Data.PerFile) > 0 {
		files := make([]string, len(p.Data.PerFile))
		for i, pf := range p.Data.PerFile {
			files[i] = pf.File
		}
		return files, nil
	}

	files := slices.Clone(p.Data.Files)
	if p.Data.Glob != "" && len(files) == 0 {
		matches, err := filepath.Glob(filepath.Join(p.Data.Root, p.Data.Glob))
		if err != nil {
			return nil, &blockerr.ConfigurationError{Key: "data.glob", Details: "bad pattern", Err: err}
		}
		slices.Sort(matches)
		for _, m := range matches {
			rel, err := filepath.Rel(p.Data.Root, m)
			if err != nil {
				return nil, &blockerr.ConfigurationError{Key: "data.glob", Details: "resolve match", Err: err}
			}
			files = append(files, rel)
		}
	}
	if len(files) == 0 {
		return nil, &blockerr.DataError{File: p.Data.Root, Details: "no reference files selected"}
	}
	return files, nil
}

// Selector builds the data selection for one pair kind, or nil if the project selects
// no blocks of that kind.
func (p *Project) Selector(kind block.Kind) (*selection.Selector, error) {
	files, err := p.Files()
	if err != nil {
		return nil, err
	}

	if len(p.Data.PerFile) > 0 {
		nested := make([][]block.AtomBlock, len(p.Data.PerFile))
		total := 0
		for i, pf := range p.Data.PerFile {
			nested[i] = blocks(kind, pf.OnSite, pf.OffSite)
			total += len(nested[i])
		}
		if total == 0 {
			return nil, nil
		}
		return selection.PerFile(kind, files, nested)
	}

	list := blocks(kind, p.Data.OnSite, p.Data.OffSite)
	if len(list) == 0 {
		return nil, nil
	}
	return selection.Broadcast(kind, files, list)
}

func blocks(kind block.Kind, onSite []int, offSite [][2]int) []block.AtomBlock {
	if kind == block.OnSite {
		return selection.OnSite(onSite...)
	}
	out := make([]block.AtomBlock, len(offSite))
	for i, pair := range offSite {
		out[i] = block.AtomBlock{I: pair[0], J: pair[1]}
	}
	return out
}

// String renders the project as YAML.
func (p *Project) String() string {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Sprintf("<project: %v>", err)
	}
	return string(data)
}
