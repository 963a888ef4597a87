// Package serialization provides the .hblk format for saving and loading fitted block models.
//
// A model file is self-describing: it carries the shell declaration, the full
// parameter specification and every fitted sub-model, so it can be loaded for
// prediction without the original fitting data.
//
//	Format Structure:
//	  [0x00: 4 bytes Magic "HBLK"]
//	  [0x04: 4 bytes Version (uint32 LE)]
//	  [0x08: 4 bytes Flags (uint32 LE)]
//	  [0x0C: 4 bytes reserved]
//	  [0x10: 8 bytes Header Size (uint64 LE)]
//	  [0x18: 8 bytes Data Size (uint64 LE)]
//	  [0x20: 32 bytes SHA-256 of the data section]
//	  [0x40: Header: JSON metadata]
//	  [padding to 64 bytes]
//	  [Coefficient data: float64 LE, one features x outputs matrix per sub-model, row-major]
//
// Unknown JSON fields are ignored, so newer writers stay readable.
//
// Example usage:
//
//	// Save
//	hdr, err := serialization.SaveFile("water.hblk", spec, []*bank.Bank{hOn, hOff, sOff})
//
//	// Load
//	m, err := serialization.LoadFile("water.hblk", serialization.ReaderOptions{})
//	onSite := m.Bank(block.Hamiltonian, block.OnSite)
package serialization
