// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package loader saves and opens fitted block models (.hblk files).
//
// This package wraps the internal serialization implementation and exports a clean
// public API for persisting a specification together with its fitted banks.
//
// Example usage:
//
//	import "github.com/born-ml/blockfit/loader"
//
//	// Persist every fitted bank
//	hdr, err := loader.Save("water.hblk", spec, banks, loader.WithMetadata(map[string]string{
//	    "system": "water",
//	}))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Model ID: %s\n", hdr.ModelID)
//
//	// Open it again; banks come back frozen and ready for prediction
//	m, err := loader.Open("water.hblk")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	hOn := m.Bank(model.Hamiltonian, model.OnSite)
package loader

import (
	"github.com/born-ml/blockfit/internal/bank"
	"github.com/born-ml/blockfit/internal/params"
	"github.com/born-ml/blockfit/internal/serialization"
)

// Version is the library version recorded in saved files.
const Version = serialization.LibraryVersion

// Header is the decoded metadata of a model file.
type Header = serialization.Header

// Model is an opened model file: header, specification and frozen banks.
type Model = serialization.Model

// ValidationLevel selects how strictly Open checks the file layout.
type ValidationLevel = serialization.ValidationLevel

// Validation levels.
const (
	ValidationStrict ValidationLevel = serialization.ValidationStrict
	ValidationNormal ValidationLevel = serialization.ValidationNormal
)

// Options configures Open.
type Options = serialization.ReaderOptions

// SaveOption configures Save.
type SaveOption = serialization.WriteOption

// WithMetadata attaches free-form string metadata to the file header.
func WithMetadata(md map[string]string) SaveOption {
	return serialization.WithMetadata(md)
}

// Save writes spec and every bank to path. Every sub-model must be fit.
//
// Example:
//
//	hdr, err := loader.Save("model.hblk", spec, []*model.Bank{hOn, hOff, sOff})
func Save(path string, spec *params.Specification, banks []*bank.Bank, opts ...SaveOption) (*Header, error) {
	return serialization.SaveFile(path, spec, banks, opts...)
}

// Open reads a model file with strict validation and checksum verification.
func Open(path string) (*Model, error) {
	return serialization.LoadFile(path, Options{})
}

// OpenWithOptions reads a model file with custom options.
func OpenWithOptions(path string, opts Options) (*Model, error) {
	return serialization.LoadFile(path, opts)
}

// ReadHeader decodes only the metadata of a model file, without reading coefficients.
func ReadHeader(path string) (*Header, error) {
	return serialization.ReadHeaderFile(path)
}
