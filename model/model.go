// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package model

import (
	"log/slog"

	"github.com/born-ml/blockfit/internal/bank"
	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/blockerr"
	"github.com/born-ml/blockfit/internal/env"
	"github.com/born-ml/blockfit/internal/features"
	"github.com/born-ml/blockfit/internal/fit"
	"github.com/born-ml/blockfit/internal/parallel"
	"github.com/born-ml/blockfit/internal/params"
	"github.com/born-ml/blockfit/internal/predict"
	"github.com/born-ml/blockfit/internal/reference"
	"github.com/born-ml/blockfit/internal/selection"
	"github.com/born-ml/blockfit/internal/shell"
	"github.com/born-ml/blockfit/internal/solver"
)

// Quantity is the matrix being modeled (H or S).
type Quantity = block.Quantity

// Kind distinguishes on-site from off-site blocks.
type Kind = block.Kind

// Supported quantities and pair kinds.
const (
	Hamiltonian Quantity = block.Hamiltonian
	Overlap     Quantity = block.Overlap
	OnSite      Kind     = block.OnSite
	OffSite     Kind     = block.OffSite
)

// AtomBlock addresses one (i, j) atom block of a full matrix.
type AtomBlock = block.AtomBlock

// Key identifies one sub-model.
type Key = block.Key

// Shell is one group of orbitals sharing an angular momentum.
type Shell = shell.Shell

// Registry holds the per-element shell declarations.
type Registry = shell.Registry

// Hyper is the hyperparameter tuple of one sub-model.
type Hyper = params.Hyper

// Entry declares the hyperparameters of one shell pair.
type Entry = params.Entry

// Specification is a validated set of hyperparameter entries.
type Specification = params.Specification

// Selector lists reference files and the atom blocks to train on.
type Selector = selection.Selector

// Configuration is an atomic structure: species and Cartesian positions.
type Configuration = env.Configuration

// Frame is one reference configuration with its H and S matrices.
type Frame = reference.Frame

// Source provides configurations and reference blocks by file.
type Source = reference.Source

// Bank holds the sub-models of one quantity and pair kind.
type Bank = bank.Bank

// SubModel is one fitted linear map.
type SubModel = bank.SubModel

// Fitter fills model banks from reference data.
type Fitter = fit.Fitter

// Predictor assembles blocks and matrices from fitted banks.
type Predictor = predict.Predictor

// Errors summarizes the deviation of a predicted matrix from a reference.
type Errors = predict.Errors

// Error kinds. Use errors.Is to branch on them.
var (
	ErrConfiguration = blockerr.ErrConfiguration
	ErrData          = blockerr.ErrData
	ErrFitting       = blockerr.ErrFitting
	ErrIllegalState  = blockerr.ErrIllegalState
)

// NewRegistry validates a shell declaration.
func NewRegistry(decl map[string][]Shell) (*Registry, error) {
	return shell.NewRegistry(decl)
}

// NewSpecification validates hyperparameter entries against a registry.
// Regularization is one of none, ridge or tikhonov; solverID one of qr, direct, svd or lsqr.
func NewSpecification(reg *Registry, regularization, solverID string, entries []Entry) (*Specification, error) {
	return params.New(reg, regularization, solverID, entries)
}

// Defaults expands uniform hyperparameters to every shell pair the registry implies.
func Defaults(reg *Registry, quantities []Quantity, defaults map[Kind]Hyper) []Entry {
	return params.Defaults(reg, quantities, defaults)
}

// Override replaces default entries with per-shell-pair overrides.
func Override(base, overrides []Entry) []Entry {
	return params.Override(base, overrides)
}

// Pairs drops off-site entries whose ordered species pair is not listed.
func Pairs(entries []Entry, pairs [][2]string) []Entry {
	return params.Pairs(entries, pairs)
}

// Diagonal normalizes atom indices to on-site blocks (i, i).
func Diagonal(indices ...int) []AtomBlock {
	return selection.OnSite(indices...)
}

// Broadcast selects the same blocks from every file.
func Broadcast(kind Kind, files []string, blocks []AtomBlock) (*Selector, error) {
	return selection.Broadcast(kind, files, blocks)
}

// PerFile selects blocks[i] from files[i].
func PerFile(kind Kind, files []string, blocks [][]AtomBlock) (*Selector, error) {
	return selection.PerFile(kind, files, blocks)
}

// NewStore reads YAML reference frames from a directory.
func NewStore(reg *Registry, root string) Source {
	return reference.NewStore(reg, root)
}

// NewMemory serves reference frames held in memory.
func NewMemory(reg *Registry, frames map[string]*Frame) (Source, error) {
	return reference.NewMemory(reg, frames)
}

// NewFitter returns a fitter over a reference source using the radial descriptor and
// the gonum solvers. Workers bounds the number of keys solved concurrently (values below 1
// mean NumCPU). A nil logger means slog.Default().
func NewFitter(refs Source, workers int, logger *slog.Logger) *Fitter {
	opts := []fit.Option{fit.WithWorkers(workers)}
	if logger != nil {
		opts = append(opts, fit.WithLogger(logger))
	}
	return fit.New(env.NeighborSource{}, features.Radial{}, solver.NewGonum(), refs, opts...)
}

// NewPredictor returns a predictor using the radial descriptor. Atom blocks are
// evaluated in parallel unless workers is below 2.
func NewPredictor(reg *Registry, workers int, logger *slog.Logger) *Predictor {
	cfg := parallel.DefaultConfig()
	cfg.NumWorkers = workers
	cfg.Enabled = workers > 1
	opts := []predict.Option{predict.WithParallel(cfg)}
	if logger != nil {
		opts = append(opts, predict.WithLogger(logger))
	}
	return predict.New(reg, env.NeighborSource{}, features.Radial{}, opts...)
}
