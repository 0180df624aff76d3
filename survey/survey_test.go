package survey

import (
	"testing"

	"github.com/notargets/ipsens/fields"
	"github.com/notargets/ipsens/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testMesh(t *testing.T) *mesh.TensorMesh {
	tm, err := mesh.NewUniformMesh([]int{4, 3}, 1, nil)
	require.NoError(t, err)
	return tm
}

func TestSurveyLayout(t *testing.T) {
	rx1 := NewPoleRx([][]float64{{1, 1}})
	rx2, err := NewDipoleRx([][]float64{{1, 2}, {2, 2}}, [][]float64{{2, 2}, {3, 2}})
	require.NoError(t, err)
	rx3 := NewPoleRx([][]float64{{0, 0}, {1, 0}, {2, 0}})
	s, err := New(
		NewDipoleSrc([]float64{0.5, 0.5}, []float64{3.5, 0.5}, 1, rx1, rx2),
		NewPoleSrc([]float64{2, 1}, 2, rx3),
	)
	require.NoError(t, err)
	assert.Equal(t, 2, s.NSrc())
	assert.Equal(t, 6, s.NData())
	assert.Equal(t, 3, s.SourceData(0))
	assert.Equal(t, 0, s.Offset(0, 0))
	assert.Equal(t, 1, s.Offset(0, 1))
	assert.Equal(t, 3, s.Offset(1, 0))

	d := []float64{0, 1, 2, 3, 4, 5}
	part, err := s.Slice(d, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, part)
	part, err = s.Slice(d, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 5}, part)

	_, err = s.Slice(d[:5], 0, 0)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = s.Slice(d, 2, 0)
	assert.ErrorIs(t, err, ErrIndex)

	_, err = New()
	assert.ErrorIs(t, err, ErrNoSources)
	_, err = NewDipoleRx([][]float64{{0, 0}}, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestDipoleSourceConservesCurrent(t *testing.T) {
	tm := testMesh(t)
	src := NewDipoleSrc([]float64{0.7, 1.2}, []float64{3.1, 2.4}, 2.5)
	for _, loc := range []mesh.Location{mesh.Cells, mesh.Nodes} {
		q, err := src.Eval(tm, loc)
		require.NoError(t, err)
		assert.Len(t, q, tm.Count(loc))
		var sum, pos float64
		for _, v := range q {
			sum += v
			if v > 0 {
				pos += v
			}
		}
		assert.InDelta(t, 0, sum, 1e-12)
		assert.InDelta(t, 2.5, pos, 1e-12)
	}
}

func TestReceiverApparentChargeability(t *testing.T) {
	tm := testMesh(t)
	rx, err := NewDipoleRx([][]float64{{1, 1}}, [][]float64{{3, 2}})
	require.NoError(t, err)

	f := fields.New(1, tm.NN(), fields.PhiSolution, mesh.Nodes)
	phi := make([]float64, tm.NN())
	for i, p := range tm.NodeLocations() {
		phi[i] = p[0] + 2*p[1]
	}
	require.NoError(t, f.SetSolutions(mat.NewDense(tm.NN(), 1, phi)))

	v, err := rx.Voltage(tm, f, 0)
	require.NoError(t, err)
	assert.InDelta(t, (1+2)-(3+4), v[0], 1e-12)

	volt, err := rx.Eval(tm, f, 0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, v, volt, 1e-12)

	rx.SetDataType(ApparentChargeability)
	rx.ResetProjections()
	_, err = rx.Eval(tm, f, 0)
	assert.ErrorIs(t, err, ErrNoBaseline)

	require.NoError(t, rx.SetBaseline([]float64{-8}))
	rx.ResetProjections()
	ratio, err := rx.Eval(tm, f, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, ratio[0], 1e-12)

	// the cached projection keeps the old baseline until it is reset
	require.NoError(t, rx.SetBaseline([]float64{-2}))
	ratio, _ = rx.Eval(tm, f, 0)
	assert.InDelta(t, 0.5, ratio[0], 1e-12)
	rx.ResetProjections()
	ratio, _ = rx.Eval(tm, f, 0)
	assert.InDelta(t, 2, ratio[0], 1e-12)

	assert.Error(t, rx.SetBaseline([]float64{1, 2}))
}

func TestReceiverEvalDerivAdjoint(t *testing.T) {
	tm := testMesh(t)
	rx := NewPoleRx([][]float64{{0.5, 0.5}, {1.7, 2.2}})
	f := fields.New(1, tm.NC(), fields.PhiSolution, mesh.Cells)
	require.NoError(t, f.SetSolutions(mat.NewDense(tm.NC(), 1, nil)))

	u := make([]float64, tm.NC())
	for i := range u {
		u[i] = float64(i%5) - 1.5
	}
	w := []float64{0.3, -2}
	pu, err := rx.EvalDeriv(tm, f, 0, u, false)
	require.NoError(t, err)
	ptw, err := rx.EvalDeriv(tm, f, 0, w, true)
	require.NoError(t, err)

	var lhs, rhs float64
	for i := range w {
		lhs += w[i] * pu[i]
	}
	for i := range u {
		rhs += u[i] * ptw[i]
	}
	assert.InDelta(t, lhs, rhs, 1e-12)

	_, err = rx.EvalDeriv(tm, f, 0, w, false)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestParseDataType(t *testing.T) {
	dt, err := ParseDataType("apparent_chargeability")
	require.NoError(t, err)
	assert.Equal(t, ApparentChargeability, dt)
	assert.Equal(t, "volt", Volt.String())
	_, err = ParseDataType("ohm")
	assert.Error(t, err)
}
