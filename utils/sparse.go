package utils

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// Accumulator collects triplets, summing duplicates, and emits a CSR matrix
type Accumulator struct {
	dok *sparse.DOK
}

func NewAccumulator(r, c int) *Accumulator {
	return &Accumulator{dok: sparse.NewDOK(r, c)}
}

func (ac *Accumulator) Add(i, j int, v float64) {
	if v == 0 {
		return
	}
	ac.dok.Set(i, j, ac.dok.At(i, j)+v)
}

func (ac *Accumulator) ToCSR() *sparse.CSR {
	return ac.dok.ToCSR()
}

// Diag builds the square sparse matrix diag(d), storing only non zeros
func Diag(d []float64) *sparse.CSR {
	n := len(d)
	indptr := make([]int, n+1)
	ind := make([]int, 0, n)
	data := make([]float64, 0, n)
	for i, v := range d {
		if v != 0 {
			ind = append(ind, i)
			data = append(data, v)
		}
		indptr[i+1] = len(ind)
	}
	return sparse.NewCSR(n, n, indptr, ind, data)
}

// Identity builds the n×n sparse identity
func Identity(n int) *sparse.CSR {
	d := make([]float64, n)
	for i := range d {
		d[i] = 1
	}
	return Diag(d)
}

// MulVec returns a·x, or aᵀ·x when trans is set
func MulVec(a *sparse.CSR, x []float64, trans bool) []float64 {
	nr, nc := a.Dims()
	in, out := nc, nr
	if trans {
		in, out = nr, nc
	}
	if len(x) != in {
		panic(fmt.Sprintf("utils: MulVec operand length %d, want %d", len(x), in))
	}
	dst := make([]float64, out)
	a.MulVecTo(dst, trans, x)
	return dst
}

// ScaleRows returns diag(d)·a
func ScaleRows(a *sparse.CSR, d []float64) *sparse.CSR {
	nr, _ := a.Dims()
	if len(d) != nr {
		panic(fmt.Sprintf("utils: ScaleRows scale length %d, want %d", len(d), nr))
	}
	var c sparse.CSR
	c.Mul(sparse.NewDIA(nr, nr, d), a)
	return &c
}

// ScaleCols returns a·diag(d)
func ScaleCols(a *sparse.CSR, d []float64) *sparse.CSR {
	_, nc := a.Dims()
	if len(d) != nc {
		panic(fmt.Sprintf("utils: ScaleCols scale length %d, want %d", len(d), nc))
	}
	var c sparse.CSR
	c.Mul(a, sparse.NewDIA(nc, nc, d))
	return &c
}

// Mul returns the sparse product a·b
func Mul(a, b *sparse.CSR) *sparse.CSR {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ac != br {
		panic(fmt.Sprintf("utils: Mul dimension mismatch %dx%d · %dx%d", ar, ac, br, bc))
	}
	var c sparse.CSR
	c.Mul(a, b)
	return &c
}

// GTWG assembles gᵀ·diag(w)·g, the usual symmetric finite volume operator
func GTWG(g *sparse.CSR, w []float64) *sparse.CSR {
	wg := ScaleRows(g, w)
	var c sparse.CSR
	c.Mul(g.T(), wg)
	return &c
}

// ToDense copies a sparse matrix into a gonum dense matrix
func ToDense(a *sparse.CSR) *mat.Dense {
	nr, nc := a.Dims()
	d := mat.NewDense(nr, nc, nil)
	a.DoNonZero(func(i, j int, v float64) {
		d.Set(i, j, v)
	})
	return d
}
