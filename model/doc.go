// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package model is the public API for fitting and evaluating block-structured
// Hamiltonian and overlap models.
//
// # Overview
//
// A full H or S matrix is split into atom blocks, and every atom block into
// shell-pair sub-blocks. Each (quantity, pair kind, species pair, shell pair,
// radial pair) key owns one linear sub-model mapping an environment descriptor
// to the flattened sub-block. This package exposes:
//   - Shell registries and hyperparameter specifications
//   - Data selection over reference frames
//   - A concurrent fitter that fills model banks
//   - A predictor that assembles blocks and full matrices
//
// # Basic Usage
//
//	reg, _ := model.NewRegistry(map[string][]model.Shell{
//	    "O": {{L: 0, N: 2}, {L: 1, N: 1}},
//	    "H": {{L: 0, N: 1}},
//	})
//	h := model.Hyper{Cutoff: 4, MaxDegree: 3, CorrelationOrder: 1, Lambda: 1e-6}
//	entries := model.Defaults(reg, []model.Quantity{model.Hamiltonian},
//	    map[model.Kind]model.Hyper{model.OnSite: h, model.OffSite: h})
//	// Every declared key needs training samples: drop O-O, absent from water frames.
//	entries = model.Pairs(entries, [][2]string{{"O", "H"}, {"H", "O"}, {"H", "H"}})
//	spec, _ := model.NewSpecification(reg, "ridge", "qr", entries)
//
//	refs := model.NewStore(reg, "frames")
//	sel, _ := model.Broadcast(model.OnSite, []string{"a.yaml"}, model.Diagonal(0, 1, 2))
//	bank, _ := model.NewFitter(refs, 0, nil).Fit(ctx, spec, model.Hamiltonian, model.OnSite, sel)
//
//	blocks, _ := model.NewPredictor(reg, 4, nil).Predict(ctx, cfg, model.Diagonal(0), model.Hamiltonian, model.OnSite, bank)
//
// Fitted banks are persisted with the loader package.
package model
