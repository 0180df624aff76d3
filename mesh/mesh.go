package mesh

import (
	"errors"

	"github.com/james-bowman/sparse"
)

type Dimensionality uint8

const (
	D1 Dimensionality = iota + 1
	D2
	D3
)

// Location identifies the mesh entity a discrete quantity lives on
type Location uint8

const (
	Cells Location = iota
	Nodes
	Faces
	Edges
)

func (l Location) String() string {
	switch l {
	case Cells:
		return "cells"
	case Nodes:
		return "nodes"
	case Faces:
		return "faces"
	case Edges:
		return "edges"
	default:
		return "unknown"
	}
}

var (
	ErrBadShape            = errors.New("mesh: invalid shape")
	ErrUnsupportedLocation = errors.New("mesh: unsupported location")
	ErrPointDimension      = errors.New("mesh: point dimension mismatch")
)

// Mesh is the discretization consumed by the simulation. Inner products are
// lumped (diagonal) and returned as their diagonal.
type Mesh interface {
	Dimensions() Dimensionality
	NC() int
	NN() int
	NF() int
	NE() int
	Count(loc Location) int

	CellVolumes() []float64

	// CellGrad is [NF × NC], ±1 across each face, with a single entry on
	// boundary faces (zero potential outside the domain)
	CellGrad() *sparse.CSR
	// NodalGrad is [NE × NN], ±1 along each edge
	NodalGrad() *sparse.CSR

	// FaceInnerProduct is the lumped face resistance for cell resistivity rho
	FaceInnerProduct(rho []float64) []float64
	// FaceInnerProductDeriv is d(Mf(rho)·u)/drho, [NF × NC]
	FaceInnerProductDeriv(u []float64) *sparse.CSR
	// EdgeInnerProduct is the lumped edge conductance for cell conductivity sigma
	EdgeInnerProduct(sigma []float64) []float64
	// EdgeInnerProductDeriv is d(Me(sigma)·u)/dsigma, [NE × NC]
	EdgeInnerProductDeriv(u []float64) *sparse.CSR

	// Interpolation returns [len(points) × Count(loc)] multilinear weights
	Interpolation(loc Location, points [][]float64) (*sparse.CSR, error)
}
