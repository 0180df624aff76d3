package fields

import "fmt"

type projectionDeriv struct {
	// forward: perturbation of the projected field for a solution
	// perturbation du and model direction v
	forward func(f *Fields, src int, du, v []float64) []float64
	// adjoint: split of v into a solution-space part and a model-space part,
	// nil meaning no direct model dependence
	adjoint func(f *Fields, src int, v []float64) (dfdu, dfdm []float64)
}

// the potential is the solution itself, so its derivative is the identity
var phiDeriv = projectionDeriv{
	forward: func(_ *Fields, _ int, du, _ []float64) []float64 { return du },
	adjoint: func(_ *Fields, _ int, v []float64) ([]float64, []float64) { return v, nil },
}

var derivTable = map[Tag]projectionDeriv{
	PhiSolution: phiDeriv,
	Phi:         phiDeriv,
}

// Deriv returns the directional derivative of field tag for source src
func (f *Fields) Deriv(tag Tag, src int, du, v []float64) ([]float64, error) {
	d, err := f.lookup(tag, src)
	if err != nil {
		return nil, err
	}
	if len(du) != f.n {
		return nil, fmt.Errorf("%w: solution perturbation has %d values, want %d",
			ErrShapeMismatch, len(du), f.n)
	}
	return d.forward(f, src, du, v), nil
}

// DerivAdjoint returns the transposed derivative of field tag for source src
func (f *Fields) DerivAdjoint(tag Tag, src int, v []float64) (dfdu, dfdm []float64, err error) {
	d, err := f.lookup(tag, src)
	if err != nil {
		return nil, nil, err
	}
	if len(v) != f.n {
		return nil, nil, fmt.Errorf("%w: adjoint vector has %d values, want %d",
			ErrShapeMismatch, len(v), f.n)
	}
	dfdu, dfdm = d.adjoint(f, src, v)
	return
}

func (f *Fields) lookup(tag Tag, src int) (projectionDeriv, error) {
	if err := f.ready(src); err != nil {
		return projectionDeriv{}, err
	}
	d, ok := derivTable[tag]
	if !ok {
		return projectionDeriv{}, fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	return d, nil
}
