package fields

import (
	"errors"
	"fmt"

	"github.com/notargets/ipsens/mesh"
	"gonum.org/v1/gonum/mat"
)

// Tag names a field that can be stored or projected
type Tag uint8

const (
	PhiSolution Tag = iota // solved potential on the formulation's unknowns
	Phi                    // potential as seen by receivers
)

func (t Tag) String() string {
	switch t {
	case PhiSolution:
		return "phiSolution"
	case Phi:
		return "phi"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// ParseTag maps a field name onto its tag
func ParseTag(name string) (Tag, error) {
	switch name {
	case "phiSolution":
		return PhiSolution, nil
	case "phi":
		return Phi, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTag, name)
}

// State is the lifecycle of a field object between model updates
type State uint8

const (
	Uninitialized State = iota
	Computed
	Cleared // solutions dropped after the dense sensitivity was stored
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Computed:
		return "computed"
	case Cleared:
		return "cleared"
	default:
		return "unknown"
	}
}

var (
	ErrUninitialized = errors.New("fields: no solution computed")
	ErrCleared       = errors.New("fields: solutions were cleared")
	ErrUnknownTag    = errors.New("fields: unknown field tag")
	ErrSource        = errors.New("fields: source index out of range")
	ErrShapeMismatch = errors.New("fields: shape mismatch")
)

// Fields stores one solution vector per source. Sources are addressed by
// their position in the survey.
type Fields struct {
	solution Tag
	loc      mesh.Location
	nSrc     int
	n        int
	data     [][]float64
	state    State
}

func New(nSrc, nUnknowns int, solution Tag, loc mesh.Location) *Fields {
	return &Fields{
		solution: solution,
		loc:      loc,
		nSrc:     nSrc,
		n:        nUnknowns,
		state:    Uninitialized,
	}
}

func (f *Fields) State() State { return f.state }
func (f *Fields) NSources() int { return f.nSrc }
func (f *Fields) NUnknowns() int { return f.n }
func (f *Fields) Location() mesh.Location { return f.loc }
func (f *Fields) SolutionTag() Tag { return f.solution }

// SetSolutions stores column j of u as the solution of source j
func (f *Fields) SetSolutions(u *mat.Dense) error {
	r, c := u.Dims()
	if r != f.n || c != f.nSrc {
		return fmt.Errorf("%w: solutions are %dx%d, want %dx%d",
			ErrShapeMismatch, r, c, f.n, f.nSrc)
	}
	f.data = make([][]float64, c)
	for j := range f.data {
		f.data[j] = mat.Col(nil, j, u)
	}
	f.state = Computed
	return nil
}

// Get returns the named field for source src
func (f *Fields) Get(src int, tag Tag) ([]float64, error) {
	if err := f.ready(src); err != nil {
		return nil, err
	}
	switch tag {
	case PhiSolution, Phi:
		return f.data[src], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTag, tag)
}

// Clear drops every stored solution and moves to the Cleared state
func (f *Fields) Clear() {
	f.data = nil
	f.state = Cleared
}

func (f *Fields) ready(src int) error {
	switch f.state {
	case Uninitialized:
		return ErrUninitialized
	case Cleared:
		return ErrCleared
	}
	if src < 0 || src >= f.nSrc {
		return fmt.Errorf("%w: %d of %d", ErrSource, src, f.nSrc)
	}
	return nil
}
