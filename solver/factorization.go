package solver

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/edp1096/sparse"
	spmat "github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrSingular      = errors.New("solver: singular or ill-conditioned operator")
	ErrReleased      = errors.New("solver: factorization already released")
	ErrNotSquare     = errors.New("solver: operator is not square")
	ErrShapeMismatch = errors.New("solver: right hand side shape mismatch")
)

// Factorization owns an LU factorization of a sparse operator. It is built
// once and reused for any number of solves until Release is called. The
// underlying solver keeps scratch state, so solves are serialized.
type Factorization struct {
	mu       sync.Mutex
	matrix   *sparse.Matrix
	n        int
	solves   int
	released bool
}

func defaultConfig() *sparse.Configuration {
	return &sparse.Configuration{
		Real:                    true,
		Complex:                 false,
		SeparatedComplexVectors: false,
		Expandable:              true,
		Translate:               false,
		ModifiedNodal:           true,
		TiesMultiplier:          5,
		PrinterWidth:            140,
		Annotate:                0,
	}
}

// Factor loads a and factorizes it
func Factor(a *spmat.CSR) (f *Factorization, err error) {
	nr, nc := a.Dims()
	if nr != nc {
		return nil, fmt.Errorf("%w: %dx%d", ErrNotSquare, nr, nc)
	}
	m, err := sparse.Create(int64(nr), defaultConfig())
	if err != nil {
		return nil, fmt.Errorf("creating sparse matrix: %w", err)
	}
	m.Clear()
	// diagonal entries exist even when structurally zero so pivoting can see them
	for i := 1; i <= nr; i++ {
		m.GetElement(int64(i), int64(i))
	}
	a.DoNonZero(func(i, j int, v float64) {
		m.GetElement(int64(i+1), int64(j+1)).Real += v
	})
	if err = m.Factor(); err != nil {
		m.Destroy()
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	return &Factorization{matrix: m, n: nr}, nil
}

func (f *Factorization) Size() int { return f.n }

// Solves reports how many right hand sides have been solved
func (f *Factorization) Solves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.solves
}

func (f *Factorization) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

// Solve returns A⁻¹·b
func (f *Factorization) Solve(b []float64) ([]float64, error) {
	if len(b) != f.n {
		return nil, fmt.Errorf("%w: got %d values, operator is %d", ErrShapeMismatch, len(b), f.n)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.solveLocked(b)
}

// SolveMany solves every column of b against the same factorization
func (f *Factorization) SolveMany(b *mat.Dense) (*mat.Dense, error) {
	nr, nc := b.Dims()
	if nr != f.n {
		return nil, fmt.Errorf("%w: got %d rows, operator is %d", ErrShapeMismatch, nr, f.n)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	x := mat.NewDense(nr, nc, nil)
	col := make([]float64, nr)
	for j := 0; j < nc; j++ {
		mat.Col(col, j, b)
		xj, err := f.solveLocked(col)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", j, err)
		}
		x.SetCol(j, xj)
	}
	return x, nil
}

func (f *Factorization) solveLocked(b []float64) ([]float64, error) {
	if f.released {
		return nil, ErrReleased
	}
	// the solver indexes from 1
	rhs := make([]float64, f.n+1)
	copy(rhs[1:], b)
	sol, err := f.matrix.Solve(rhs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	f.solves++
	x := make([]float64, f.n)
	copy(x, sol[1:])
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non finite solution at row %d", ErrSingular, i)
		}
	}
	return x, nil
}

// Release frees the factorization. It is safe to call more than once.
func (f *Factorization) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return
	}
	f.matrix.Destroy()
	f.matrix = nil
	f.released = true
}
