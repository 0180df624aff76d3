package mesh

import (
	"fmt"
	"sort"
	"strings"

	"github.com/james-bowman/sparse"
	"github.com/notargets/ipsens/utils"
)

// TensorMesh is a rectilinear mesh built from per-axis cell widths.
// Every indexed quantity is ordered with x varying fastest; faces and edges
// are grouped by orientation (x, then y, then z).
type TensorMesh struct {
	H      [][]float64 // cell widths per axis
	Origin []float64

	n        []int
	nodeAxes [][]float64
	ccAxes   [][]float64

	cellGrad  *sparse.CSR
	nodalGrad *sparse.CSR
	pf        *sparse.CSR // cell resistivity -> lumped face resistance
	pe        *sparse.CSR // cell conductivity -> lumped edge conductance
}

// NewTensorMesh builds a mesh and its operators from widths and an origin
func NewTensorMesh(h [][]float64, origin []float64) (tm *TensorMesh, err error) {
	dim := len(h)
	if dim < 1 || dim > 3 {
		return nil, fmt.Errorf("%w: %d axes, want 1 to 3", ErrBadShape, dim)
	}
	if origin == nil {
		origin = make([]float64, dim)
	}
	if len(origin) != dim {
		return nil, fmt.Errorf("%w: origin has %d coordinates for %d axes",
			ErrBadShape, len(origin), dim)
	}
	tm = &TensorMesh{
		H:        make([][]float64, dim),
		Origin:   append([]float64(nil), origin...),
		n:        make([]int, dim),
		nodeAxes: make([][]float64, dim),
		ccAxes:   make([][]float64, dim),
	}
	for d, widths := range h {
		if len(widths) == 0 {
			return nil, fmt.Errorf("%w: axis %d has no cells", ErrBadShape, d)
		}
		tm.H[d] = append([]float64(nil), widths...)
		tm.n[d] = len(widths)
		tm.nodeAxes[d] = make([]float64, len(widths)+1)
		tm.ccAxes[d] = make([]float64, len(widths))
		x := origin[d]
		tm.nodeAxes[d][0] = x
		for i, w := range widths {
			if w <= 0 {
				return nil, fmt.Errorf("%w: axis %d cell %d has width %g", ErrBadShape, d, i, w)
			}
			tm.ccAxes[d][i] = x + w/2
			x += w
			tm.nodeAxes[d][i+1] = x
		}
	}
	tm.cellGrad, tm.pf = tm.buildFaceOperators()
	tm.nodalGrad = tm.buildNodalGrad()
	tm.pe = tm.buildEdgeInnerProduct()
	return
}

// NewUniformMesh builds a mesh of equal cells of width hw
func NewUniformMesh(shape []int, hw float64, origin []float64) (*TensorMesh, error) {
	h := make([][]float64, len(shape))
	for d, nd := range shape {
		if nd < 1 {
			return nil, fmt.Errorf("%w: axis %d has %d cells", ErrBadShape, d, nd)
		}
		h[d] = make([]float64, nd)
		for i := range h[d] {
			h[d][i] = hw
		}
	}
	return NewTensorMesh(h, origin)
}

func (tm *TensorMesh) Dimensions() Dimensionality { return Dimensionality(len(tm.n)) }

func (tm *TensorMesh) Shape() []int { return append([]int(nil), tm.n...) }

func (tm *TensorMesh) NC() int { return prod(tm.n) }

func (tm *TensorMesh) NN() int { return prod(tm.nodeShape()) }

func (tm *TensorMesh) NF() (nf int) {
	for d := range tm.n {
		nf += prod(tm.faceShape(d))
	}
	return
}

func (tm *TensorMesh) NE() (ne int) {
	for d := range tm.n {
		ne += prod(tm.edgeShape(d))
	}
	return
}

func (tm *TensorMesh) Count(loc Location) int {
	switch loc {
	case Cells:
		return tm.NC()
	case Nodes:
		return tm.NN()
	case Faces:
		return tm.NF()
	case Edges:
		return tm.NE()
	}
	return 0
}

func (tm *TensorMesh) CellVolumes() (vol []float64) {
	vol = make([]float64, tm.NC())
	idx := make([]int, len(tm.n))
	for c := range vol {
		unravel(c, tm.n, idx)
		v := 1.0
		for d, i := range idx {
			v *= tm.H[d][i]
		}
		vol[c] = v
	}
	return
}

// CellCenters returns the coordinates of every cell center
func (tm *TensorMesh) CellCenters() [][]float64 { return tm.gridPoints(tm.ccAxes) }

// NodeLocations returns the coordinates of every node
func (tm *TensorMesh) NodeLocations() [][]float64 { return tm.gridPoints(tm.nodeAxes) }

func (tm *TensorMesh) CellGrad() *sparse.CSR { return tm.cellGrad }
func (tm *TensorMesh) NodalGrad() *sparse.CSR { return tm.nodalGrad }

func (tm *TensorMesh) FaceInnerProduct(rho []float64) []float64 {
	tm.checkCellVector("FaceInnerProduct", rho)
	return utils.MulVec(tm.pf, rho, false)
}

func (tm *TensorMesh) FaceInnerProductDeriv(u []float64) *sparse.CSR {
	return utils.ScaleRows(tm.pf, u)
}

func (tm *TensorMesh) EdgeInnerProduct(sigma []float64) []float64 {
	tm.checkCellVector("EdgeInnerProduct", sigma)
	return utils.MulVec(tm.pe, sigma, false)
}

func (tm *TensorMesh) EdgeInnerProductDeriv(u []float64) *sparse.CSR {
	return utils.ScaleRows(tm.pe, u)
}

// Interpolation builds multilinear weights from cell centers or nodes to
// arbitrary points. Points outside the grid are clamped to its hull.
func (tm *TensorMesh) Interpolation(loc Location, points [][]float64) (*sparse.CSR, error) {
	var axes [][]float64
	switch loc {
	case Cells:
		axes = tm.ccAxes
	case Nodes:
		axes = tm.nodeAxes
	default:
		return nil, fmt.Errorf("%w: interpolation from %s", ErrUnsupportedLocation, loc)
	}
	dim := len(tm.n)
	shape := make([]int, dim)
	for d := range axes {
		shape[d] = len(axes[d])
	}
	acc := utils.NewAccumulator(len(points), prod(shape))
	lo := make([]int, dim)
	t := make([]float64, dim)
	corner := make([]int, dim)
	for p, pt := range points {
		if len(pt) != dim {
			return nil, fmt.Errorf("%w: point %d has %d coordinates, mesh has %d",
				ErrPointDimension, p, len(pt), dim)
		}
		for d := range axes {
			lo[d], t[d] = bracket(axes[d], pt[d])
		}
		for k := 0; k < 1<<dim; k++ {
			w := 1.0
			for d := 0; d < dim; d++ {
				if k&(1<<d) == 0 {
					corner[d] = lo[d]
					w *= 1 - t[d]
				} else {
					corner[d] = lo[d] + 1
					w *= t[d]
				}
			}
			if w == 0 {
				continue
			}
			acc.Add(p, ravel(corner, shape), w)
		}
	}
	return acc.ToCSR(), nil
}

func (tm *TensorMesh) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("TensorMesh %dD %v: nC=%d nN=%d nF=%d nE=%d\n",
		len(tm.n), tm.n, tm.NC(), tm.NN(), tm.NF(), tm.NE()))
	for d := range tm.n {
		sb.WriteString(fmt.Sprintf("  axis %d: [%g, %g]\n", d,
			tm.nodeAxes[d][0], tm.nodeAxes[d][tm.n[d]]))
	}
	return sb.String()
}

// buildFaceOperators returns the cell gradient and the lumped face map
func (tm *TensorMesh) buildFaceOperators() (grad, pf *sparse.CSR) {
	dim := len(tm.n)
	nf, nc := tm.NF(), tm.NC()
	g := utils.NewAccumulator(nf, nc)
	p := utils.NewAccumulator(nf, nc)
	f := make([]int, dim)
	cell := make([]int, dim)
	row := 0
	for d := 0; d < dim; d++ {
		shape := tm.faceShape(d)
		for i := 0; i < prod(shape); i++ {
			unravel(i, shape, f)
			area := 1.0
			for k := 0; k < dim; k++ {
				if k != d {
					area *= tm.H[k][f[k]]
				}
			}
			copy(cell, f)
			if f[d] > 0 {
				cell[d] = f[d] - 1
				c := ravel(cell, tm.n)
				g.Add(row, c, -1)
				p.Add(row, c, tm.H[d][cell[d]]/2/area)
			}
			if f[d] < tm.n[d] {
				cell[d] = f[d]
				c := ravel(cell, tm.n)
				g.Add(row, c, 1)
				p.Add(row, c, tm.H[d][cell[d]]/2/area)
			}
			row++
		}
	}
	return g.ToCSR(), p.ToCSR()
}

func (tm *TensorMesh) buildNodalGrad() *sparse.CSR {
	dim := len(tm.n)
	nodes := tm.nodeShape()
	g := utils.NewAccumulator(tm.NE(), tm.NN())
	e := make([]int, dim)
	node := make([]int, dim)
	row := 0
	for d := 0; d < dim; d++ {
		shape := tm.edgeShape(d)
		for i := 0; i < prod(shape); i++ {
			unravel(i, shape, e)
			copy(node, e)
			g.Add(row, ravel(node, nodes), -1)
			node[d]++
			g.Add(row, ravel(node, nodes), 1)
			row++
		}
	}
	return g.ToCSR()
}

func (tm *TensorMesh) buildEdgeInnerProduct() *sparse.CSR {
	dim := len(tm.n)
	share := float64(int(1) << (dim - 1))
	p := utils.NewAccumulator(tm.NE(), tm.NC())
	e := make([]int, dim)
	cell := make([]int, dim)
	row := 0
	for d := 0; d < dim; d++ {
		shape := tm.edgeShape(d)
		for i := 0; i < prod(shape); i++ {
			unravel(i, shape, e)
			// cells sharing the edge differ only off the edge axis
			for k := 0; k < 1<<dim; k++ {
				if k&(1<<d) != 0 {
					continue
				}
				valid := true
				for a := 0; a < dim; a++ {
					cell[a] = e[a]
					if a != d && k&(1<<a) != 0 {
						cell[a]--
					}
					if cell[a] < 0 || cell[a] >= tm.n[a] {
						valid = false
					}
				}
				if !valid {
					continue
				}
				area := 1.0
				for a := 0; a < dim; a++ {
					if a != d {
						area *= tm.H[a][cell[a]]
					}
				}
				p.Add(row, ravel(cell, tm.n), area/(share*tm.H[d][cell[d]]))
			}
			row++
		}
	}
	return p.ToCSR()
}

func (tm *TensorMesh) nodeShape() []int {
	s := make([]int, len(tm.n))
	for d, nd := range tm.n {
		s[d] = nd + 1
	}
	return s
}

func (tm *TensorMesh) faceShape(dir int) []int {
	s := append([]int(nil), tm.n...)
	s[dir]++
	return s
}

func (tm *TensorMesh) edgeShape(dir int) []int {
	s := tm.nodeShape()
	s[dir]--
	return s
}

func (tm *TensorMesh) gridPoints(axes [][]float64) (pts [][]float64) {
	shape := make([]int, len(axes))
	for d := range axes {
		shape[d] = len(axes[d])
	}
	pts = make([][]float64, prod(shape))
	idx := make([]int, len(shape))
	for i := range pts {
		unravel(i, shape, idx)
		pts[i] = make([]float64, len(shape))
		for d, j := range idx {
			pts[i][d] = axes[d][j]
		}
	}
	return
}

func (tm *TensorMesh) checkCellVector(op string, v []float64) {
	if len(v) != tm.NC() {
		panic(fmt.Sprintf("mesh: %s got %d values for %d cells", op, len(v), tm.NC()))
	}
}

// bracket locates x in a sorted axis, returning the lower index and the
// normalized offset toward the next entry
func bracket(axis []float64, x float64) (lo int, t float64) {
	if len(axis) == 1 || x <= axis[0] {
		return 0, 0
	}
	last := len(axis) - 1
	if x >= axis[last] {
		return last - 1, 1
	}
	lo = sort.SearchFloat64s(axis, x)
	if axis[lo] == x {
		if lo == last {
			return lo - 1, 1
		}
		return lo, 0
	}
	lo--
	t = (x - axis[lo]) / (axis[lo+1] - axis[lo])
	return
}

func prod(s []int) int {
	p := 1
	for _, v := range s {
		p *= v
	}
	return p
}

func ravel(idx, shape []int) (i int) {
	for d := len(shape) - 1; d >= 0; d-- {
		i = i*shape[d] + idx[d]
	}
	return
}

func unravel(i int, shape, idx []int) {
	for d, s := range shape {
		idx[d] = i % s
		i /= s
	}
}
