package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuantityAndKind(t *testing.T) {
	q, err := ParseQuantity("H")
	require.NoError(t, err)
	assert.Equal(t, Hamiltonian, q)

	_, err = ParseQuantity("D")
	assert.Error(t, err)

	k, err := ParseKind("off-site")
	require.NoError(t, err)
	assert.Equal(t, OffSite, k)

	_, err = ParseKind("onsite")
	assert.Error(t, err)
}

func TestKeyConjugate(t *testing.T) {
	k := Key{
		Quantity: Hamiltonian,
		Kind:     OffSite,
		Species:  [2]string{"C", "H"},
		Shells:   [2]int{1, 0},
		Radials:  [2]int{2, 0},
	}

	c := k.Conjugate()
	assert.Equal(t, [2]string{"H", "C"}, c.Species)
	assert.Equal(t, [2]int{0, 1}, c.Shells)
	assert.Equal(t, [2]int{0, 2}, c.Radials)
	assert.Equal(t, k, c.Conjugate())
	assert.Equal(t, "H:off-site:C-H:s1-s0:r2-r0", k.String())
}

func TestKeySelfPaired(t *testing.T) {
	k := Key{Quantity: Hamiltonian, Kind: OnSite, Species: [2]string{"C", "C"}, Shells: [2]int{1, 1}, Radials: [2]int{0, 0}}
	assert.True(t, k.SelfPaired())

	k.Radials = [2]int{0, 1}
	assert.False(t, k.SelfPaired())
}

func TestSortKeys(t *testing.T) {
	keys := []Key{
		{Quantity: Overlap, Kind: OffSite, Species: [2]string{"C", "C"}},
		{Quantity: Hamiltonian, Kind: OnSite, Species: [2]string{"H", "H"}},
		{Quantity: Hamiltonian, Kind: OnSite, Species: [2]string{"C", "C"}, Shells: [2]int{0, 1}},
		{Quantity: Hamiltonian, Kind: OnSite, Species: [2]string{"C", "C"}},
	}
	Sort(keys)

	assert.Equal(t, Hamiltonian, keys[0].Quantity)
	assert.Equal(t, "C", keys[0].Species[0])
	assert.Equal(t, [2]int{0, 0}, keys[0].Shells)
	assert.Equal(t, [2]int{0, 1}, keys[1].Shells)
	assert.Equal(t, "H", keys[2].Species[0])
	assert.Equal(t, Overlap, keys[3].Quantity)
}

func TestAtomBlock(t *testing.T) {
	b := AtomBlock{I: 2, J: 5}
	assert.False(t, b.Diagonal())
	assert.Equal(t, AtomBlock{I: 5, J: 2}, b.Swap())
	assert.Equal(t, "(2,5)", b.String())
	assert.True(t, AtomBlock{I: 1, J: 1}.Diagonal())
}
