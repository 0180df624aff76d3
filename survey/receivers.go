package survey

import (
	"fmt"
	"sync"

	"github.com/james-bowman/sparse"
	"github.com/notargets/ipsens/fields"
	"github.com/notargets/ipsens/mesh"
	"github.com/notargets/ipsens/utils"
)

// Receiver projects a source's field onto its observations
type Receiver interface {
	NData() int
	ProjField() fields.Tag
	// Projection is the [NData × unknowns] operator for fields living on loc
	Projection(m mesh.Mesh, loc mesh.Location) (*sparse.CSR, error)
	Eval(m mesh.Mesh, f *fields.Fields, src int) ([]float64, error)
	EvalDeriv(m mesh.Mesh, f *fields.Fields, src int, v []float64, adjoint bool) ([]float64, error)
}

// Baseliner is implemented by receivers that can report data as a ratio to
// a background voltage
type Baseliner interface {
	// Voltage is the plain projected potential, whatever the data type
	Voltage(m mesh.Mesh, f *fields.Fields, src int) ([]float64, error)
	SetDataType(dt DataType)
	SetBaseline(v []float64) error
	Baseline() []float64
	ResetProjections()
}

// Rx measures potential at M electrodes, or potential differences M - N when
// N electrodes are given
type Rx struct {
	M, N [][]float64

	mu       sync.Mutex
	dataType DataType
	baseline []float64
	ps       map[mesh.Location]*sparse.CSR
}

func NewPoleRx(m [][]float64) *Rx {
	return &Rx{M: m}
}

func NewDipoleRx(m, n [][]float64) (*Rx, error) {
	if len(m) != len(n) {
		return nil, fmt.Errorf("%w: %d M electrodes and %d N electrodes",
			ErrShapeMismatch, len(m), len(n))
	}
	return &Rx{M: m, N: n}, nil
}

func (rx *Rx) NData() int { return len(rx.M) }

func (rx *Rx) ProjField() fields.Tag { return fields.Phi }

func (rx *Rx) SetDataType(dt DataType) {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	rx.dataType = dt
}

func (rx *Rx) DataType() DataType {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	return rx.dataType
}

func (rx *Rx) SetBaseline(v []float64) error {
	if len(v) != rx.NData() {
		return fmt.Errorf("%w: baseline has %d values, receiver has %d",
			ErrShapeMismatch, len(v), rx.NData())
	}
	rx.mu.Lock()
	defer rx.mu.Unlock()
	rx.baseline = append([]float64(nil), v...)
	return nil
}

func (rx *Rx) Baseline() []float64 {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	return rx.baseline
}

func (rx *Rx) ResetProjections() {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	rx.ps = nil
}

// Projection returns the cached effective projection. For apparent
// chargeability the rows are divided by the baseline voltage.
func (rx *Rx) Projection(m mesh.Mesh, loc mesh.Location) (*sparse.CSR, error) {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	if p, ok := rx.ps[loc]; ok {
		return p, nil
	}
	p, err := rx.rawProjection(m, loc)
	if err != nil {
		return nil, err
	}
	if rx.dataType == ApparentChargeability {
		if rx.baseline == nil {
			return nil, ErrNoBaseline
		}
		inv := make([]float64, len(rx.baseline))
		for i, b := range rx.baseline {
			inv[i] = 1 / b
		}
		p = utils.ScaleRows(p, inv)
	}
	if rx.ps == nil {
		rx.ps = make(map[mesh.Location]*sparse.CSR)
	}
	rx.ps[loc] = p
	return p, nil
}

func (rx *Rx) Voltage(m mesh.Mesh, f *fields.Fields, src int) ([]float64, error) {
	u, err := f.Get(src, rx.ProjField())
	if err != nil {
		return nil, err
	}
	p, err := rx.rawProjection(m, f.Location())
	if err != nil {
		return nil, err
	}
	return utils.MulVec(p, u, false), nil
}

func (rx *Rx) Eval(m mesh.Mesh, f *fields.Fields, src int) ([]float64, error) {
	u, err := f.Get(src, rx.ProjField())
	if err != nil {
		return nil, err
	}
	p, err := rx.Projection(m, f.Location())
	if err != nil {
		return nil, err
	}
	return utils.MulVec(p, u, false), nil
}

func (rx *Rx) EvalDeriv(m mesh.Mesh, f *fields.Fields, src int, v []float64, adjoint bool) ([]float64, error) {
	p, err := rx.Projection(m, f.Location())
	if err != nil {
		return nil, err
	}
	nr, nc := p.Dims()
	want := nc
	if adjoint {
		want = nr
	}
	if len(v) != want {
		return nil, fmt.Errorf("%w: receiver derivative operand has %d values, want %d",
			ErrShapeMismatch, len(v), want)
	}
	return utils.MulVec(p, v, adjoint), nil
}

func (rx *Rx) rawProjection(m mesh.Mesh, loc mesh.Location) (*sparse.CSR, error) {
	pm, err := m.Interpolation(loc, rx.M)
	if err != nil {
		return nil, fmt.Errorf("receiver M electrodes: %w", err)
	}
	if rx.N == nil {
		return pm, nil
	}
	pn, err := m.Interpolation(loc, rx.N)
	if err != nil {
		return nil, fmt.Errorf("receiver N electrodes: %w", err)
	}
	nr, nc := pm.Dims()
	acc := utils.NewAccumulator(nr, nc)
	pm.DoNonZero(func(i, j int, v float64) { acc.Add(i, j, v) })
	pn.DoNonZero(func(i, j int, v float64) { acc.Add(i, j, -v) })
	return acc.ToCSR(), nil
}
