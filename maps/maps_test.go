package maps

import (
	"math"
	"testing"

	"github.com/notargets/ipsens/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	id := Identity{N: 3}
	m := []float64{0.1, -2, 3}
	out, err := id.Transform(m)
	require.NoError(t, err)
	assert.Equal(t, m, out)
	out[0] = 99
	assert.Equal(t, 0.1, m[0])

	d, err := id.Deriv(m)
	require.NoError(t, err)
	assert.Equal(t, m, utils.MulVec(d, m, false))

	_, err = id.Transform([]float64{1})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestExpDerivMatchesFiniteDifference(t *testing.T) {
	e := Exp{N: 3}
	m := []float64{0.1, -1, 0.5}
	v := []float64{1, 2, -1}
	d, err := e.Deriv(m)
	require.NoError(t, err)
	dv := utils.MulVec(d, v, false)

	h := 1e-6
	mp := make([]float64, 3)
	for i := range m {
		mp[i] = m[i] + h*v[i]
	}
	f0, _ := e.Transform(m)
	f1, _ := e.Transform(mp)
	for i := range m {
		assert.InDelta(t, (f1[i]-f0[i])/h, dv[i], 1e-5)
	}
}

func TestByName(t *testing.T) {
	m, err := ByName("exp", 4)
	require.NoError(t, err)
	assert.Equal(t, "exp", m.Name())
	assert.Equal(t, 4, m.NP())
	m, err = ByName("", 2)
	require.NoError(t, err)
	assert.Equal(t, "identity", m.Name())
	_, err = ByName("log", 2)
	assert.Error(t, err)
}

func TestReciprocal(t *testing.T) {
	r, err := FromSigma([]float64{0.01, 0.5})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{100, 2}, r.Rho(), 1e-12)
	assert.Equal(t, 2, r.Len())

	r, err = FromRho([]float64{4})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25}, r.Sigma())

	for _, bad := range [][]float64{{0}, {-1}, {math.NaN()}, {math.Inf(1)}} {
		_, err = FromSigma(bad)
		assert.ErrorIs(t, err, ErrNonPositive)
	}
}
