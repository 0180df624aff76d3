package maps

import (
	"errors"
	"fmt"
	"math"

	"github.com/james-bowman/sparse"
	"github.com/notargets/ipsens/utils"
)

var (
	ErrShapeMismatch = errors.New("maps: shape mismatch")
	ErrNonPositive   = errors.New("maps: property must be positive and finite")
)

// Mapping takes a model vector of length NP to a physical property on NOut cells
type Mapping interface {
	Name() string
	NP() int
	NOut() int
	Transform(m []float64) ([]float64, error)
	// Deriv is d Transform / dm, [NOut × NP]
	Deriv(m []float64) (*sparse.CSR, error)
}

// Identity passes the model through unchanged
type Identity struct {
	N int
}

func (id Identity) Name() string { return "identity" }
func (id Identity) NP() int { return id.N }
func (id Identity) NOut() int { return id.N }

func (id Identity) Transform(m []float64) ([]float64, error) {
	if err := checkLen(m, id.N); err != nil {
		return nil, err
	}
	return append([]float64(nil), m...), nil
}

func (id Identity) Deriv(m []float64) (*sparse.CSR, error) {
	if err := checkLen(m, id.N); err != nil {
		return nil, err
	}
	return utils.Identity(id.N), nil
}

// Exp maps a log-valued model to exp(m)
type Exp struct {
	N int
}

func (e Exp) Name() string { return "exp" }
func (e Exp) NP() int { return e.N }
func (e Exp) NOut() int { return e.N }

func (e Exp) Transform(m []float64) ([]float64, error) {
	if err := checkLen(m, e.N); err != nil {
		return nil, err
	}
	out := make([]float64, len(m))
	for i, v := range m {
		out[i] = math.Exp(v)
	}
	return out, nil
}

func (e Exp) Deriv(m []float64) (*sparse.CSR, error) {
	d, err := e.Transform(m)
	if err != nil {
		return nil, err
	}
	return utils.Diag(d), nil
}

// ByName returns the mapping registered under name, sized for n cells
func ByName(name string, n int) (Mapping, error) {
	switch name {
	case "", "identity":
		return Identity{N: n}, nil
	case "exp":
		return Exp{N: n}, nil
	}
	return nil, fmt.Errorf("maps: unknown mapping %q", name)
}

func checkLen(m []float64, n int) error {
	if len(m) != n {
		return fmt.Errorf("%w: model has %d values, mapping expects %d", ErrShapeMismatch, len(m), n)
	}
	return nil
}
