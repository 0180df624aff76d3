package simulation

import (
	"context"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/notargets/ipsens/fields"
	"github.com/notargets/ipsens/runner"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// fieldsFor validates a supplied field object, or solves for one. Fields
// cleared by a stored sensitivity are solved again.
func (s *Simulation) fieldsFor(f *fields.Fields) (*fields.Fields, error) {
	if f != nil {
		return f, s.checkFields(f)
	}
	if s.f != nil && s.f.State() == fields.Cleared {
		s.f = nil
	}
	return s.ensureFields()
}

// Jvec is the sensitivity applied to a model-space direction v
func (s *Simulation) Jvec(m, v []float64, f *fields.Fields) ([]float64, error) {
	if err := s.SetModel(m); err != nil {
		return nil, err
	}
	if err := checkLen(v, s.NP(), "model direction"); err != nil {
		return nil, err
	}
	if s.storeJ {
		if s.NData() == 0 {
			return []float64{}, nil
		}
		j, err := s.GetJ(m, f)
		if err != nil {
			return nil, err
		}
		var jv mat.VecDense
		jv.MulVec(j, mat.NewVecDense(len(v), v))
		out := append([]float64(nil), jv.RawVector().Data...)
		floats.Scale(s.form.Sign, out)
		return out, nil
	}

	f, err := s.fieldsFor(f)
	if err != nil {
		return nil, err
	}
	ainv, err := s.factorization()
	if err != nil {
		return nil, err
	}
	jv := make([]float64, s.NData())
	err = s.runner.Run(context.Background(), func(ctx context.Context, i int) error {
		u, err := f.Get(i, s.form.Solution)
		if err != nil {
			return fieldsErr(err)
		}
		dA := runner.Defer(func() ([]float64, error) { return s.getADeriv(u, v, false) })
		dRHS := runner.Defer(func() ([]float64, error) { return s.getRHSDeriv(i, v, false) })
		if err := runner.ComputeAll(ctx, dA, dRHS); err != nil {
			return err
		}
		dAv, _ := dA.Compute()
		dRHSv, _ := dRHS.Compute()
		rhs := make([]float64, len(dAv))
		floats.ScaleTo(rhs, -1, dAv)
		if dRHSv != nil {
			floats.Add(rhs, dRHSv)
		}
		du, err := ainv.Solve(rhs)
		if err != nil {
			return solverErr(err)
		}
		for j, rx := range s.survey.Sources[i].Receivers() {
			df, err := f.Deriv(rx.ProjField(), i, du, v)
			if err != nil {
				return fieldsErr(err)
			}
			d, err := rx.EvalDeriv(s.mesh, f, i, df, false)
			if err != nil {
				return fmt.Errorf("receiver %d: %w", j, err)
			}
			if err := checkLen(d, rx.NData(), fmt.Sprintf("receiver %d data", j)); err != nil {
				return err
			}
			copy(jv[s.survey.Offset(i, j):], d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	floats.Scale(s.form.Sign, jv)
	return jv, nil
}

// Jtvec is the transposed sensitivity applied to a data-space vector v
func (s *Simulation) Jtvec(m, v []float64, f *fields.Fields) ([]float64, error) {
	if err := s.SetModel(m); err != nil {
		return nil, err
	}
	if err := checkLen(v, s.NData(), "data vector"); err != nil {
		return nil, err
	}
	if s.storeJ {
		if s.NData() == 0 {
			return make([]float64, s.NP()), nil
		}
		j, err := s.GetJ(m, f)
		if err != nil {
			return nil, err
		}
		var jtv mat.VecDense
		jtv.MulVec(j.T(), mat.NewVecDense(len(v), v))
		out := append([]float64(nil), jtv.RawVector().Data...)
		floats.Scale(s.form.Sign, out)
		return out, nil
	}

	f, err := s.fieldsFor(f)
	if err != nil {
		return nil, err
	}
	ainv, err := s.factorization()
	if err != nil {
		return nil, err
	}
	nP := s.NP()
	partials := make([][]float64, s.survey.NSrc())
	err = s.runner.Run(context.Background(), func(ctx context.Context, i int) error {
		u, err := f.Get(i, s.form.Solution)
		if err != nil {
			return fieldsErr(err)
		}
		acc := make([]float64, nP)
		for j, rx := range s.survey.Sources[i].Receivers() {
			vs, err := s.survey.Slice(v, i, j)
			if err != nil {
				return err
			}
			ptv, err := rx.EvalDeriv(s.mesh, f, i, vs, true)
			if err != nil {
				return fmt.Errorf("receiver %d: %w", j, err)
			}
			dfduT, dfdmT, err := f.DerivAdjoint(rx.ProjField(), i, ptv)
			if err != nil {
				return fieldsErr(err)
			}
			w, err := ainv.Solve(dfduT)
			if err != nil {
				return solverErr(err)
			}
			col, err := s.adjointColumn(ctx, i, u, w, dfdmT)
			if err != nil {
				return err
			}
			floats.Add(acc, col)
		}
		partials[i] = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	// reduce in source order so the sum does not depend on scheduling
	jtv := make([]float64, nP)
	for _, p := range partials {
		floats.Add(jtv, p)
	}
	floats.Scale(s.form.Sign, jtv)
	return jtv, nil
}

// adjointColumn is dfdmT - (dA/dm)ᵀ·w + (dRHS/dm)ᵀ·w for one adjoint field w
func (s *Simulation) adjointColumn(ctx context.Context, src int, u, w, dfdmT []float64) ([]float64, error) {
	dA := runner.Defer(func() ([]float64, error) { return s.getADeriv(u, w, true) })
	dRHS := runner.Defer(func() ([]float64, error) { return s.getRHSDeriv(src, w, true) })
	if err := runner.ComputeAll(ctx, dA, dRHS); err != nil {
		return nil, err
	}
	dAw, _ := dA.Compute()
	dRHSw, _ := dRHS.Compute()
	col := make([]float64, len(dAw))
	floats.ScaleTo(col, -1, dAw)
	if dRHSw != nil {
		floats.Add(col, dRHSw)
	}
	if dfdmT != nil {
		floats.Add(col, dfdmT)
	}
	return col, nil
}

// jtvecFull assembles the transposed sensitivity, [nP × nD], one column per
// datum in source then receiver order. The result is not scaled by the
// formulation sign.
func (s *Simulation) jtvecFull(f *fields.Fields) (*mat.Dense, error) {
	if s.NData() == 0 {
		return nil, ErrNoData
	}
	ainv, err := s.factorization()
	if err != nil {
		return nil, err
	}
	nSrc, nP, n := s.survey.NSrc(), s.NP(), s.nUnknowns()
	blocks := make([]*mat.Dense, nSrc)

	var mu sync.Mutex
	done := 0
	report := func() {
		mu.Lock()
		defer mu.Unlock()
		done++
		s.progress(done, nSrc)
	}

	err = s.runner.Run(context.Background(), func(ctx context.Context, i int) error {
		nDs := s.survey.SourceData(i)
		if nDs == 0 {
			report()
			return nil
		}
		u, err := f.Get(i, s.form.Solution)
		if err != nil {
			return fieldsErr(err)
		}
		// adjoint right hand sides for every datum of the source
		b := mat.NewDense(n, nDs, nil)
		direct := make([][]float64, nDs)
		next := 0
		for j, rx := range s.survey.Sources[i].Receivers() {
			for k := 0; k < rx.NData(); k++ {
				e := make([]float64, rx.NData())
				e[k] = 1
				pte, err := rx.EvalDeriv(s.mesh, f, i, e, true)
				if err != nil {
					return fmt.Errorf("receiver %d: %w", j, err)
				}
				dfduT, dfdmT, err := f.DerivAdjoint(rx.ProjField(), i, pte)
				if err != nil {
					return fieldsErr(err)
				}
				b.SetCol(next, dfduT)
				direct[next] = dfdmT
				next++
			}
		}
		w, err := ainv.SolveMany(b)
		if err != nil {
			return solverErr(err)
		}
		cols := make([]*runner.Deferred[[]float64], nDs)
		tasks := make([]runner.Forcer, nDs)
		for c := range cols {
			wc := mat.Col(nil, c, w)
			cols[c] = runner.Defer(func() ([]float64, error) {
				return s.adjointColumn(ctx, i, u, wc, direct[c])
			})
			tasks[c] = cols[c]
		}
		if err := runner.ComputeAll(ctx, tasks...); err != nil {
			return err
		}
		block := mat.NewDense(nP, nDs, nil)
		for c, d := range cols {
			col, _ := d.Compute()
			block.SetCol(c, col)
		}
		blocks[i] = block
		report()
		return nil
	})
	if err != nil {
		return nil, err
	}

	jt := mat.NewDense(nP, s.NData(), nil)
	for i, blk := range blocks {
		if blk == nil {
			continue
		}
		_, w := blk.Dims()
		start := s.survey.Offset(i, 0)
		jt.Slice(0, nP, start, start+w).(*mat.Dense).Copy(blk)
	}
	return jt, nil
}

// GetJ returns the sensitivity [nD × nP], computing it once per model. It is
// not scaled by the formulation sign: Jvec equals Sign()·J·v. Computing it
// clears the held fields and releases the factorization. The returned matrix
// is the cached one and must not be modified. A survey without data has no
// sensitivity matrix and gives ErrNoData.
func (s *Simulation) GetJ(m []float64, f *fields.Fields) (*mat.Dense, error) {
	if err := s.SetModel(m); err != nil {
		return nil, err
	}
	if s.NData() == 0 {
		return nil, fmt.Errorf("%w: %d sources without receivers", ErrNoData, s.survey.NSrc())
	}
	if s.jmat != nil {
		return s.jmat, nil
	}
	f, err := s.fieldsFor(f)
	if err != nil {
		return nil, err
	}
	jt, err := s.jtvecFull(f)
	if err != nil {
		return nil, err
	}
	s.jmat = mat.DenseCopyOf(jt.T())
	r, c := s.jmat.Dims()
	s.logger.Debug("stored sensitivity",
		zap.Int("rows", r), zap.Int("cols", c),
		zap.String("size", humanize.Bytes(uint64(r*c*8))))

	if s.f != nil {
		s.f.Clear()
	}
	s.Clean()
	return s.jmat, nil
}
