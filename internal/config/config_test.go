package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/blockerr"
	"github.com/born-ml/blockfit/internal/params"
	"github.com/born-ml/blockfit/internal/shell"
)

const waterProject = `
basis:
  O: [{l: 0, n: 2}, {l: 1, n: 1}]
  H: [{l: 0, n: 1}]
model:
  solver: svd
  quantities: [H]
  pairs: [[O, H], [H, O], [H, H]]
  defaults:
    off-site: {cutoff: 6.0, max_degree: 2, correlation_order: 1, lambda: 0.001}
  overrides:
    - quantity: H
      kind: off-site
      species: [O, H]
      shells: [0, 0]
      params:
        - [{cutoff: 3.5, max_degree: 1, correlation_order: 1, lambda: 0.01}]
        - [{cutoff: 3.5, max_degree: 1, correlation_order: 1, lambda: 0.01}]
data:
  root: frames
  glob: "*.yaml"
  on_site: [0, 1, 2]
  off_site: [[0, 1], [1, 0]]
fit:
  workers: 3
  bond_cutoff: 2.5
output: water.hblk
`

func waterBasis() map[string][]shell.Shell {
	return map[string][]shell.Shell{
		"O": {{L: 0, N: 2}, {L: 1, N: 1}},
		"H": {{L: 0, N: 1}},
	}
}

func writeProject(t *testing.T, name, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := writeProject(t, "project.yaml", waterProject)

	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ridge", p.Model.Regularization, "default kept")
	assert.Equal(t, "svd", p.Model.Solver)
	assert.Equal(t, []string{"H"}, p.Model.Quantities)
	assert.Equal(t, 4.0, p.Model.Defaults["on-site"].Cutoff, "unset default kind kept")
	assert.Equal(t, 6.0, p.Model.Defaults["off-site"].Cutoff)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "frames"), p.Data.Root)
	assert.Equal(t, 3, p.Fit.Workers)
	assert.Equal(t, 2.5, p.Fit.BondCutoff)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "water.hblk"), p.Output)
	assert.Contains(t, p.String(), "bond_cutoff: 2.5")
}

func TestLoadJSON(t *testing.T) {
	path := writeProject(t, "project.json", `{
		"basis": {"H": [{"l": 0, "n": 1}]},
		"model": {"quantities": ["S"]},
		"data": {"root": "/data", "files": ["a.yaml"], "off_site": [[0, 1]]}
	}`)

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data", p.Data.Root)
	assert.Equal(t, []string{"S"}, p.Model.Quantities)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "model.hblk"), p.Output)
}

func TestLoadRejectsInvalidProjects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no basis", "model: {quantities: [H]}"},
		{"regularization", "basis: {H: [{l: 0, n: 1}]}\nmodel: {regularization: lasso}"},
		{"solver", "basis: {H: [{l: 0, n: 1}]}\nmodel: {solver: cholesky}"},
		{"quantity", "basis: {H: [{l: 0, n: 1}]}\nmodel: {quantities: [D]}"},
		{"pair kind", "basis: {H: [{l: 0, n: 1}]}\nmodel: {defaults: {both: {cutoff: 1, correlation_order: 1}}}"},
		{"hyper range", "basis: {H: [{l: 0, n: 1}]}\nmodel: {defaults: {on-site: {cutoff: -1, correlation_order: 1}}}"},
		{"negative index", "basis: {H: [{l: 0, n: 1}]}\ndata: {on_site: [-1]}"},
		{"negative workers", "basis: {H: [{l: 0, n: 1}]}\nfit: {workers: -2}"},
		{"mixed selection", "basis: {H: [{l: 0, n: 1}]}\ndata: {on_site: [0], per_file: [{file: a.yaml, on_site: [0]}]}"},
		{"malformed yaml", "basis: [unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeProject(t, "project.yaml", tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, blockerr.ErrConfiguration)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, blockerr.ErrConfiguration)
}

func TestSpecificationAppliesOverrides(t *testing.T) {
	p, err := Load(writeProject(t, "project.yaml", waterProject))
	require.NoError(t, err)

	reg, err := p.Registry()
	require.NoError(t, err)
	assert.Equal(t, []string{"H", "O"}, reg.Elements())

	spec, err := p.Specification(reg)
	require.NoError(t, err)
	assert.Equal(t, "svd", string(spec.Solver()))

	overridden := block.Key{
		Quantity: block.Hamiltonian, Kind: block.OffSite,
		Species: [2]string{"O", "H"}, Shells: [2]int{0, 0}, Radials: [2]int{1, 0},
	}
	h, err := spec.Hyper(overridden)
	require.NoError(t, err)
	assert.Equal(t, params.Hyper{Cutoff: 3.5, MaxDegree: 1, CorrelationOrder: 1, Lambda: 0.01}, h)

	sibling := overridden
	sibling.Shells = [2]int{1, 0}
	sibling.Radials = [2]int{0, 0}
	h, err = spec.Hyper(sibling)
	require.NoError(t, err)
	assert.Equal(t, 6.0, h.Cutoff)

	assert.Empty(t, spec.Keys(block.Overlap, block.OffSite), "only H was declared")
	for _, k := range spec.Keys(block.Hamiltonian, block.OffSite) {
		assert.NotEqual(t, [2]string{"O", "O"}, k.Species, "O-O is not a listed pair")
	}
	assert.NotEmpty(t, spec.Keys(block.Hamiltonian, block.OnSite))
}

func TestSpecificationRejectsBadOverride(t *testing.T) {
	p := Default()
	p.Basis = waterBasis()
	p.Model.Overrides = []params.Entry{{
		Quantity: block.Hamiltonian, Kind: block.OffSite,
		Species: [2]string{"O", "H"}, Shells: [2]int{0, 0},
		Params: [][]params.Hyper{{{Cutoff: 1, CorrelationOrder: 1}}},
	}}

	reg, err := p.Registry()
	require.NoError(t, err)
	_, err = p.Specification(reg)
	assert.ErrorIs(t, err, blockerr.ErrConfiguration, "O s0 has two radials")
}

func TestSelectorFromGlob(t *testing.T) {
	path := writeProject(t, "project.yaml", waterProject)
	frames := filepath.Join(filepath.Dir(path), "frames")
	require.NoError(t, os.Mkdir(frames, 0o750))
	for _, name := range []string{"b.yaml", "a.yaml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(frames, name), nil, 0o600))
	}

	p, err := Load(path)
	require.NoError(t, err)

	files, err := p.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.yaml", "b.yaml"}, files)

	on, err := p.Selector(block.OnSite)
	require.NoError(t, err)
	require.NotNil(t, on)
	assert.Equal(t, block.OnSite, on.Kind())
	assert.Equal(t, 6, on.Len())
	assert.Equal(t, []block.AtomBlock{{I: 0, J: 0}, {I: 1, J: 1}, {I: 2, J: 2}}, on.Blocks(1))

	off, err := p.Selector(block.OffSite)
	require.NoError(t, err)
	require.NotNil(t, off)
	assert.Equal(t, []block.AtomBlock{{I: 0, J: 1}, {I: 1, J: 0}}, off.Blocks(0))
}

func TestSelectorPerFile(t *testing.T) {
	p := Default()
	p.Basis = waterBasis()
	p.Data.PerFile = []PerFile{
		{File: "x.yaml", OnSite: []int{0}},
		{File: "y.yaml", OnSite: []int{1, 2}},
	}
	require.NoError(t, p.Validate())

	on, err := p.Selector(block.OnSite)
	require.NoError(t, err)
	assert.Equal(t, []string{"x.yaml", "y.yaml"}, on.Files())
	assert.Equal(t, 3, on.Len())

	off, err := p.Selector(block.OffSite)
	require.NoError(t, err)
	assert.Nil(t, off, "no off-site blocks selected")
}

func TestFilesRequiresSelection(t *testing.T) {
	p := Default()
	p.Basis = waterBasis()
	p.Data.Root = t.TempDir()
	p.Data.Glob = "*.yaml"

	_, err := p.Files()
	assert.ErrorIs(t, err, blockerr.ErrData)

	p.Data.Glob = "["
	_, err = p.Files()
	assert.ErrorIs(t, err, blockerr.ErrConfiguration)
}
