package fields

import (
	"testing"

	"github.com/notargets/ipsens/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestFieldsLifecycle(t *testing.T) {
	f := New(2, 3, PhiSolution, mesh.Cells)
	assert.Equal(t, Uninitialized, f.State())
	_, err := f.Get(0, PhiSolution)
	assert.ErrorIs(t, err, ErrUninitialized)

	u := mat.NewDense(3, 2, []float64{
		1, 4,
		2, 5,
		3, 6,
	})
	require.NoError(t, f.SetSolutions(u))
	assert.Equal(t, Computed, f.State())

	got, err := f.Get(1, PhiSolution)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5, 6}, got)
	phi, err := f.Get(0, Phi)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, phi)

	_, err = f.Get(2, Phi)
	assert.ErrorIs(t, err, ErrSource)

	f.Clear()
	assert.Equal(t, Cleared, f.State())
	_, err = f.Get(0, Phi)
	assert.ErrorIs(t, err, ErrCleared)
}

func TestSetSolutionsShape(t *testing.T) {
	f := New(2, 3, PhiSolution, mesh.Nodes)
	err := f.SetSolutions(mat.NewDense(2, 2, nil))
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Equal(t, Uninitialized, f.State())
	assert.Equal(t, mesh.Nodes, f.Location())
}

func TestPhiDerivIsIdentity(t *testing.T) {
	f := New(1, 2, PhiSolution, mesh.Cells)
	require.NoError(t, f.SetSolutions(mat.NewDense(2, 1, []float64{1, 1})))

	du := []float64{0.5, -1}
	got, err := f.Deriv(Phi, 0, du, []float64{9, 9, 9})
	require.NoError(t, err)
	assert.Equal(t, du, got)

	dfdu, dfdm, err := f.DerivAdjoint(Phi, 0, []float64{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, dfdu)
	assert.Nil(t, dfdm)

	_, err = f.Deriv(Phi, 0, []float64{1}, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = f.Deriv(Tag(42), 0, du, nil)
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestParseTag(t *testing.T) {
	tag, err := ParseTag("phi")
	require.NoError(t, err)
	assert.Equal(t, Phi, tag)
	assert.Equal(t, "phiSolution", PhiSolution.String())
	_, err = ParseTag("e")
	assert.ErrorIs(t, err, ErrUnknownTag)
}
