package simulation

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"github.com/notargets/ipsens/mesh"
	"github.com/notargets/ipsens/runner"
	"github.com/notargets/ipsens/survey"
	"github.com/notargets/ipsens/utils"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// derivCache memoizes the operators built from the background and the
// model. Each entry is computed on first use and dropped on invalidation.
type derivCache struct {
	etaDeriv *runner.Deferred[*sparse.CSR] // dη/dm, [nC × nP]

	mfRhoI  *runner.Deferred[[]float64] // inverse lumped face resistance
	meSigma *runner.Deferred[[]float64] // lumped edge conductance

	mfRhoDerivMat   *runner.Deferred[*sparse.CSR] // [nF × nP]
	meSigmaDerivMat *runner.Deferred[*sparse.CSR] // [nE × nP]
}

func (s *Simulation) resetModelCache() {
	s.cache.etaDeriv = runner.Defer(func() (*sparse.CSR, error) {
		if s.model == nil {
			return nil, ErrNoModel
		}
		return s.mapping.Deriv(s.model)
	})
	s.resetDerivMats()
}

func (s *Simulation) resetConductivityCache() {
	s.cache.mfRhoI = runner.Defer(func() ([]float64, error) {
		if s.cond == nil {
			return nil, ErrNoConductivity
		}
		mf := s.mesh.FaceInnerProduct(s.cond.Rho())
		out := make([]float64, len(mf))
		for i, v := range mf {
			out[i] = 1 / v
		}
		return out, nil
	})
	s.cache.meSigma = runner.Defer(func() ([]float64, error) {
		if s.cond == nil {
			return nil, ErrNoConductivity
		}
		return s.mesh.EdgeInnerProduct(s.cond.Sigma()), nil
	})
	s.resetDerivMats()
}

func (s *Simulation) resetDerivMats() {
	s.cache.mfRhoDerivMat = runner.Defer(func() (*sparse.CSR, error) {
		drho, err := s.dPropDm(true)
		if err != nil {
			return nil, err
		}
		pf := s.mesh.FaceInnerProductDeriv(ones(s.mesh.NF()))
		return utils.Mul(pf, drho), nil
	})
	s.cache.meSigmaDerivMat = runner.Defer(func() (*sparse.CSR, error) {
		dsigma, err := s.dPropDm(false)
		if err != nil {
			return nil, err
		}
		pe := s.mesh.EdgeInnerProductDeriv(ones(s.mesh.NE()))
		return utils.Mul(pe, dsigma), nil
	})
}

// dPropDm is diag(prop)·dη/dm, the derivative of the background resistivity
// (or conductivity) with respect to the log model
func (s *Simulation) dPropDm(rho bool) (*sparse.CSR, error) {
	if s.cond == nil {
		return nil, ErrNoConductivity
	}
	prop := s.cond.Sigma()
	if rho {
		prop = s.cond.Rho()
	}
	eta, err := s.cache.etaDeriv.Compute()
	if err != nil {
		return nil, err
	}
	return utils.ScaleRows(eta, prop), nil
}

func ones(n int) []float64 {
	o := make([]float64, n)
	for i := range o {
		o[i] = 1
	}
	return o
}

// MfRhoDerivMat is the derivative of the face inner product with respect to
// the model
func (s *Simulation) MfRhoDerivMat() (*sparse.CSR, error) {
	return s.cache.mfRhoDerivMat.Compute()
}

// MeSigmaDerivMat is the derivative of the edge inner product with respect to
// the model
func (s *Simulation) MeSigmaDerivMat() (*sparse.CSR, error) {
	return s.cache.meSigmaDerivMat.Compute()
}

// MfRhoIDeriv is d(MfRhoI·u)/dm applied to v, or its transpose when adjoint
func (s *Simulation) MfRhoIDeriv(u, v []float64, adjoint bool) ([]float64, error) {
	mfRhoI, err := s.cache.mfRhoI.Compute()
	if err != nil {
		return nil, err
	}
	dI := make([]float64, len(mfRhoI))
	for i, x := range mfRhoI {
		dI[i] = -x * x
	}
	if s.storeInnerProduct {
		d, err := s.MfRhoDerivMat()
		if err != nil {
			return nil, err
		}
		if adjoint {
			w := make([]float64, len(v))
			floats.MulTo(w, dI, v)
			floats.Mul(w, u)
			return utils.MulVec(d, w, true), nil
		}
		out := utils.MulVec(d, v, false)
		floats.Mul(out, u)
		floats.Mul(out, dI)
		return out, nil
	}
	drho, err := s.dPropDm(true)
	if err != nil {
		return nil, err
	}
	dMf := s.mesh.FaceInnerProductDeriv(u)
	if adjoint {
		w := make([]float64, len(v))
		floats.MulTo(w, dI, v)
		return utils.MulVec(drho, utils.MulVec(dMf, w, true), true), nil
	}
	out := utils.MulVec(dMf, utils.MulVec(drho, v, false), false)
	floats.Mul(out, dI)
	return out, nil
}

// MeSigmaDeriv is d(MeSigma·u)/dm applied to v, or its transpose when adjoint
func (s *Simulation) MeSigmaDeriv(u, v []float64, adjoint bool) ([]float64, error) {
	if s.storeInnerProduct {
		d, err := s.MeSigmaDerivMat()
		if err != nil {
			return nil, err
		}
		if adjoint {
			w := make([]float64, len(v))
			floats.MulTo(w, u, v)
			return utils.MulVec(d, w, true), nil
		}
		out := utils.MulVec(d, v, false)
		floats.Mul(out, u)
		return out, nil
	}
	dsigma, err := s.dPropDm(false)
	if err != nil {
		return nil, err
	}
	dMe := s.mesh.EdgeInnerProductDeriv(u)
	if adjoint {
		return utils.MulVec(dsigma, utils.MulVec(dMe, v, true), true), nil
	}
	return utils.MulVec(dMe, utils.MulVec(dsigma, v, false), false), nil
}

// getA assembles the system operator Gᵀ·diag(M)·G. The nodal operator has a
// null space of constants, removed by adding one to its first diagonal entry.
func (s *Simulation) getA() (*sparse.CSR, error) {
	if s.cond == nil {
		return nil, ErrNoConductivity
	}
	if s.form.Location == mesh.Cells {
		w, err := s.cache.mfRhoI.Compute()
		if err != nil {
			return nil, err
		}
		return utils.GTWG(s.grad, w), nil
	}
	w, err := s.cache.meSigma.Compute()
	if err != nil {
		return nil, err
	}
	a := utils.GTWG(s.grad, w)
	n, _ := a.Dims()
	acc := utils.NewAccumulator(n, n)
	a.DoNonZero(func(i, j int, v float64) { acc.Add(i, j, v) })
	acc.Add(0, 0, 1)
	return acc.ToCSR(), nil
}

// getADeriv is d(A·u)/dm applied to v, or (dA·u/dm)ᵀ applied to v
func (s *Simulation) getADeriv(u, v []float64, adjoint bool) ([]float64, error) {
	gu := utils.MulVec(s.grad, u, false)
	deriv := s.MeSigmaDeriv
	if s.form.Location == mesh.Cells {
		deriv = s.MfRhoIDeriv
	}
	if adjoint {
		return deriv(gu, utils.MulVec(s.grad, v, false), true)
	}
	d, err := deriv(gu, v, false)
	if err != nil {
		return nil, err
	}
	return utils.MulVec(s.grad, d, true), nil
}

// getRHS is the source term matrix, one column per source
func (s *Simulation) getRHS() (*mat.Dense, error) {
	n := s.nUnknowns()
	q := mat.NewDense(n, s.survey.NSrc(), nil)
	for i, src := range s.survey.Sources {
		col, err := src.Eval(s.mesh, s.form.Location)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		if err := checkLen(col, n, fmt.Sprintf("source %d term", i)); err != nil {
			return nil, err
		}
		q.SetCol(i, col)
	}
	return q, nil
}

// getRHSDeriv is nil for sources whose term does not depend on the model
func (s *Simulation) getRHSDeriv(src int, v []float64, adjoint bool) ([]float64, error) {
	d, ok := s.survey.Sources[src].(survey.RHSDeriver)
	if !ok {
		return nil, nil
	}
	out, err := d.RHSDeriv(s.mesh, s.form.Location, v, adjoint)
	if err != nil {
		return nil, fmt.Errorf("source %d term derivative: %w", src, err)
	}
	want := s.nUnknowns()
	if adjoint {
		want = s.NP()
	}
	if err := checkLen(out, want, fmt.Sprintf("source %d term derivative", src)); err != nil {
		return nil, err
	}
	return out, nil
}
