package survey

import (
	"fmt"

	"github.com/notargets/ipsens/mesh"
	"github.com/notargets/ipsens/utils"
)

// Source injects current and owns the receivers listening to it
type Source interface {
	Receivers() []Receiver
	// Eval is the source term over the unknowns on loc
	Eval(m mesh.Mesh, loc mesh.Location) ([]float64, error)
}

// RHSDeriver is implemented by sources whose source term depends on the
// model. Sources without it contribute nothing to the sensitivity.
type RHSDeriver interface {
	RHSDeriv(m mesh.Mesh, loc mesh.Location, v []float64, adjoint bool) ([]float64, error)
}

// Src is a pole (B nil) or dipole current source
type Src struct {
	A, B    []float64
	Current float64
	Rxs     []Receiver
}

func NewPoleSrc(a []float64, current float64, rxs ...Receiver) *Src {
	return &Src{A: a, Current: current, Rxs: rxs}
}

func NewDipoleSrc(a, b []float64, current float64, rxs ...Receiver) *Src {
	return &Src{A: a, B: b, Current: current, Rxs: rxs}
}

func (s *Src) Receivers() []Receiver { return s.Rxs }

func (s *Src) Eval(m mesh.Mesh, loc mesh.Location) ([]float64, error) {
	pts := [][]float64{s.A}
	if s.B != nil {
		pts = append(pts, s.B)
	}
	p, err := m.Interpolation(loc, pts)
	if err != nil {
		return nil, fmt.Errorf("source electrodes: %w", err)
	}
	// weights of A minus weights of B, scaled by the current
	w := []float64{s.Current}
	if s.B != nil {
		w = append(w, -s.Current)
	}
	return utils.MulVec(p, w, true), nil
}
