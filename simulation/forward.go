package simulation

import (
	"errors"
	"fmt"

	"github.com/notargets/ipsens/fields"
	"github.com/notargets/ipsens/survey"
	"go.uber.org/zap"
)

// ensureFields solves for every source once per model. For apparent
// chargeability data each receiver's baseline voltage is taken from the
// fresh solution.
func (s *Simulation) ensureFields() (*fields.Fields, error) {
	if s.f != nil {
		return s.f, nil
	}
	ainv, err := s.factorization()
	if err != nil {
		return nil, err
	}
	rhs, err := s.getRHS()
	if err != nil {
		return nil, err
	}
	u, err := ainv.SolveMany(rhs)
	if err != nil {
		return nil, solverErr(err)
	}
	f := fields.New(s.survey.NSrc(), s.nUnknowns(), s.form.Solution, s.form.Location)
	if err := f.SetSolutions(u); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	}
	s.logger.Debug("computed fields", zap.Int("sources", s.survey.NSrc()))

	if s.dataType == survey.ApparentChargeability {
		if err := s.setBaselines(f); err != nil {
			return nil, err
		}
	}
	s.f = f
	return f, nil
}

func (s *Simulation) setBaselines(f *fields.Fields) error {
	for i, src := range s.survey.Sources {
		for j, rx := range src.Receivers() {
			b, ok := rx.(survey.Baseliner)
			if !ok {
				continue
			}
			v, err := b.Voltage(s.mesh, f, i)
			if err != nil {
				return fmt.Errorf("baseline of source %d receiver %d: %w", i, j, err)
			}
			if err := b.SetBaseline(v); err != nil {
				return fmt.Errorf("baseline of source %d receiver %d: %w", i, j, err)
			}
			b.SetDataType(survey.ApparentChargeability)
			b.ResetProjections()
			s.baselineEvals++
		}
	}
	return nil
}

// Fields returns the field object for m, solving only if none is held, and
// caches the predicted data computed from it
func (s *Simulation) Fields(m []float64) (*fields.Fields, error) {
	if err := s.SetModel(m); err != nil {
		return nil, err
	}
	f, err := s.ensureFields()
	if err != nil {
		return nil, err
	}
	if s.pred == nil {
		pred, err := s.Forward(m, f)
		if err != nil {
			return nil, err
		}
		s.pred = pred
	}
	return f, nil
}

// Dpred returns the predicted data for m. A cached prediction for the current
// model is returned as is. A supplied field object is used instead of solving,
// which keeps the baselines it was computed with.
func (s *Simulation) Dpred(m []float64, f *fields.Fields) ([]float64, error) {
	if err := s.SetModel(m); err != nil {
		return nil, err
	}
	if s.pred == nil {
		if f == nil {
			if _, err := s.Fields(m); err != nil {
				return nil, err
			}
		} else {
			pred, err := s.Forward(m, f)
			if err != nil {
				return nil, err
			}
			s.pred = pred
		}
	}
	return append([]float64(nil), s.pred...), nil
}

// Forward is the linearized chargeability response, J·m
func (s *Simulation) Forward(m []float64, f *fields.Fields) ([]float64, error) {
	return s.Jvec(m, m, f)
}

// checkFields rejects field objects that cannot feed a sensitivity product
func (s *Simulation) checkFields(f *fields.Fields) error {
	if f.NSources() != s.survey.NSrc() || f.NUnknowns() != s.nUnknowns() {
		return fmt.Errorf("%w: fields hold %d sources × %d unknowns, want %d × %d",
			ErrShapeMismatch, f.NSources(), f.NUnknowns(), s.survey.NSrc(), s.nUnknowns())
	}
	switch f.State() {
	case fields.Cleared:
		return ErrFieldsCleared
	case fields.Uninitialized:
		return ErrFieldsMissing
	}
	return nil
}

// fieldsErr maps field lookup failures onto this package's sentinels
func fieldsErr(err error) error {
	switch {
	case errors.Is(err, fields.ErrCleared):
		return fmt.Errorf("%w: %w", ErrFieldsCleared, err)
	case errors.Is(err, fields.ErrUninitialized):
		return fmt.Errorf("%w: %w", ErrFieldsMissing, err)
	case errors.Is(err, fields.ErrShapeMismatch):
		return fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	}
	return err
}
