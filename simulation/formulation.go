package simulation

import (
	"fmt"
	"strings"

	"github.com/notargets/ipsens/fields"
	"github.com/notargets/ipsens/mesh"
)

// BoundaryCondition is the boundary treatment of the potential
type BoundaryCondition uint8

const (
	// Dirichlet holds the potential at zero outside the domain
	Dirichlet BoundaryCondition = iota
	// Neumann is the natural (no flux) condition, gauged by pinning node 0
	Neumann
)

func (bc BoundaryCondition) String() string {
	switch bc {
	case Dirichlet:
		return "dirichlet"
	case Neumann:
		return "neumann"
	}
	return "unknown"
}

// Formulation describes one discretization of the potential problem. The
// engine is generic over it.
type Formulation struct {
	Name     string
	Solution fields.Tag
	// Sign scales every sensitivity product
	Sign     float64
	Location mesh.Location
	Boundary BoundaryCondition
}

var (
	// CellCentered puts potentials on cells and current density on faces
	CellCentered = Formulation{
		Name:     "HJ",
		Solution: fields.PhiSolution,
		Sign:     1,
		Location: mesh.Cells,
		Boundary: Dirichlet,
	}
	// Nodal puts potentials on nodes and the electric field on edges
	Nodal = Formulation{
		Name:     "EB",
		Solution: fields.PhiSolution,
		Sign:     -1,
		Location: mesh.Nodes,
		Boundary: Neumann,
	}
)

func (fm Formulation) String() string { return fm.Name }

// ParseFormulation accepts the short tags and the descriptive names
func ParseFormulation(name string) (Formulation, error) {
	switch strings.ToLower(name) {
	case "", "hj", "cc", "cell_centered":
		return CellCentered, nil
	case "eb", "n", "nodal":
		return Nodal, nil
	}
	return Formulation{}, fmt.Errorf("%w: %q", ErrUnknownFormulation, name)
}

func (fm Formulation) validate() error {
	switch {
	case fm.Location == mesh.Cells && fm.Boundary == Dirichlet:
	case fm.Location == mesh.Nodes && fm.Boundary == Neumann:
	default:
		return fmt.Errorf("%w: %s unknowns with %s boundary",
			ErrUnknownFormulation, fm.Location, fm.Boundary)
	}
	if fm.Sign != 1 && fm.Sign != -1 {
		return fmt.Errorf("%w: sign %g", ErrUnknownFormulation, fm.Sign)
	}
	return nil
}
