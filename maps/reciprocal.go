package maps

import (
	"fmt"
	"math"
)

// Reciprocal holds one invertible property seen either as conductivity
// (S/m) or as resistivity (Ohm m)
type Reciprocal struct {
	sigma []float64
	rho   []float64
}

func FromSigma(sigma []float64) (*Reciprocal, error) {
	rho, err := invert(sigma, "conductivity")
	if err != nil {
		return nil, err
	}
	return &Reciprocal{sigma: append([]float64(nil), sigma...), rho: rho}, nil
}

func FromRho(rho []float64) (*Reciprocal, error) {
	sigma, err := invert(rho, "resistivity")
	if err != nil {
		return nil, err
	}
	return &Reciprocal{sigma: sigma, rho: append([]float64(nil), rho...)}, nil
}

// Sigma and Rho expose the stored slices; callers must not modify them
func (r *Reciprocal) Sigma() []float64 { return r.sigma }
func (r *Reciprocal) Rho() []float64 { return r.rho }
func (r *Reciprocal) Len() int { return len(r.sigma) }

func invert(v []float64, what string) ([]float64, error) {
	out := make([]float64, len(v))
	for i, x := range v {
		if !(x > 0) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: %s[%d] = %g", ErrNonPositive, what, i, x)
		}
		out[i] = 1 / x
	}
	return out, nil
}
