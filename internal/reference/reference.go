// Package reference supplies target matrices for fitting.
//
// A reference file holds one frame: the configuration plus the dense H and S matrices in
// the registry's orbital ordering. Frames are YAML documents (JSON is accepted as well):
//
//	species: [C, H]
//	positions: [[0, 0, 0], [1.09, 0, 0]]
//	H: [[...], ...]
//	S: [[...], ...]
//
// Source is the collaborator contract; Store reads frames from disk and Memory serves
// frames held in memory.
package reference

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/blockerr"
	"github.com/born-ml/blockfit/internal/env"
	"github.com/born-ml/blockfit/internal/shell"
)

// Source resolves configurations and target blocks by file reference.
type Source interface {
	Configuration(file string) (*env.Configuration, error)
	Block(file string, q block.Quantity, b block.AtomBlock) (*mat.Dense, error)
}

// Frame is the content of one reference file.
type Frame struct {
	Species   []string     `json:"species" yaml:"species"`
	Positions [][3]float64 `json:"positions" yaml:"positions"`
	H         [][]float64  `json:"H" yaml:"H"`
	S         [][]float64  `json:"S,omitempty" yaml:"S,omitempty"`
}

// Configuration returns the frame's atoms.
func (f *Frame) Configuration() *env.Configuration {
	return &env.Configuration{Species: f.Species, Positions: f.Positions}
}

// validate checks the frame against the registry's orbital layout.
func (f *Frame) validate(reg *shell.Registry) error {
	if err := f.Configuration().Validate(); err != nil {
		return err
	}
	_, total, err := reg.AtomOffsets(f.Species)
	if err != nil {
		return err
	}
	for name, m := range map[string][][]float64{"H": f.H, "S": f.S} {
		if m == nil {
			continue
		}
		if len(m) != total {
			return fmt.Errorf("%s has %d rows, basis dimension is %d", name, len(m), total)
		}
		for i, row := range m {
			if len(row) != total {
				return fmt.Errorf("%s row %d has %d columns, basis dimension is %d", name, i, len(row), total)
			}
		}
	}
	if f.H == nil && f.S == nil {
		return fmt.Errorf("frame has neither H nor S")
	}
	return nil
}

// extract copies atom block b of quantity q out of the frame.
func (f *Frame) extract(reg *shell.Registry, file string, q block.Quantity, b block.AtomBlock) (*mat.Dense, error) {
	dataErr := func(format string, args ...any) error {
		return &blockerr.DataError{File: file, Block: b.String(), Details: fmt.Sprintf(format, args...)}
	}

	var full [][]float64
	switch q {
	case block.Hamiltonian:
		full = f.H
	case block.Overlap:
		full = f.S
	default:
		return nil, dataErr("unknown quantity %q", q)
	}
	if full == nil {
		return nil, dataErr("file has no %s matrix", q)
	}
	n := len(f.Species)
	if b.I < 0 || b.I >= n || b.J < 0 || b.J >= n {
		return nil, dataErr("atom index out of range for %d atoms", n)
	}

	offsets, _, err := reg.AtomOffsets(f.Species)
	if err != nil {
		return nil, &blockerr.DataError{File: file, Block: b.String(), Details: "species", Err: err}
	}
	bi, _ := reg.Basis(f.Species[b.I])
	bj, _ := reg.Basis(f.Species[b.J])

	out := mat.NewDense(bi.Dim(), bj.Dim(), nil)
	for r := range bi.Dim() {
		out.SetRow(r, full[offsets[b.I]+r][offsets[b.J]:offsets[b.J]+bj.Dim()])
	}
	return out, nil
}

// Memory serves frames held in memory. It is safe for concurrent reads.
type Memory struct {
	registry *shell.Registry
	frames   map[string]*Frame
}

var _ Source = (*Memory)(nil)

// NewMemory validates the frames against the registry.
func NewMemory(reg *shell.Registry, frames map[string]*Frame) (*Memory, error) {
	for file, f := range frames {
		if err := f.validate(reg); err != nil {
			return nil, &blockerr.DataError{File: file, Details: "invalid frame", Err: err}
		}
	}
	return &Memory{registry: reg, frames: frames}, nil
}

// Configuration implements Source.
func (m *Memory) Configuration(file string) (*env.Configuration, error) {
	f, ok := m.frames[file]
	if !ok {
		return nil, &blockerr.DataError{File: file, Details: "unknown reference file"}
	}
	return f.Configuration(), nil
}

// Block implements Source.
func (m *Memory) Block(file string, q block.Quantity, b block.AtomBlock) (*mat.Dense, error) {
	f, ok := m.frames[file]
	if !ok {
		return nil, &blockerr.DataError{File: file, Block: b.String(), Details: "unknown reference file"}
	}
	return f.extract(m.registry, file, q, b)
}

// Store reads frames from files relative to a root directory and caches them.
// It is safe for concurrent use.
type Store struct {
	registry *shell.Registry
	root     string

	mu     sync.Mutex
	frames map[string]*Frame
}

var _ Source = (*Store)(nil)

// NewStore returns a Store resolving relative file references against root.
func NewStore(reg *shell.Registry, root string) *Store {
	return &Store{registry: reg, root: root, frames: make(map[string]*Frame)}
}

// Configuration implements Source.
func (s *Store) Configuration(file string) (*env.Configuration, error) {
	f, err := s.frame(file)
	if err != nil {
		return nil, err
	}
	return f.Configuration(), nil
}

// Block implements Source.
func (s *Store) Block(file string, q block.Quantity, b block.AtomBlock) (*mat.Dense, error) {
	f, err := s.frame(file)
	if err != nil {
		return nil, err
	}
	return f.extract(s.registry, file, q, b)
}

func (s *Store) frame(file string) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.frames[file]; ok {
		return f, nil
	}
	f, err := ReadFrame(s.resolve(file))
	if err != nil {
		return nil, &blockerr.DataError{File: file, Details: "read frame", Err: err}
	}
	if err := f.validate(s.registry); err != nil {
		return nil, &blockerr.DataError{File: file, Details: "invalid frame", Err: err}
	}
	s.frames[file] = f
	return f, nil
}

func (s *Store) resolve(file string) string {
	if filepath.IsAbs(file) || s.root == "" {
		return file
	}
	return filepath.Join(s.root, file)
}

// ReadFrame decodes a YAML or JSON frame file.
func ReadFrame(path string) (*Frame, error) {
	//nolint:gosec // G304: reference paths come from the user's data selection
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f Frame
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &f, nil
}

// WriteFrame encodes a frame as YAML.
func WriteFrame(path string, f *Frame) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	//nolint:gosec // G306: frame files are not secret
	return os.WriteFile(path, data, 0o644)
}
