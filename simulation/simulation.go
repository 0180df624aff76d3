package simulation

import (
	"errors"
	"fmt"

	"github.com/james-bowman/sparse"
	"github.com/notargets/ipsens/fields"
	"github.com/notargets/ipsens/maps"
	"github.com/notargets/ipsens/mesh"
	"github.com/notargets/ipsens/partitions"
	"github.com/notargets/ipsens/runner"
	"github.com/notargets/ipsens/solver"
	"github.com/notargets/ipsens/survey"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrShapeMismatch      = errors.New("simulation: shape mismatch")
	ErrSingular           = errors.New("simulation: singular system operator")
	ErrFieldsCleared      = errors.New("simulation: fields were cleared after storing the sensitivity")
	ErrFieldsMissing      = errors.New("simulation: fields have not been computed")
	ErrReleased           = errors.New("simulation: factorization released")
	ErrNoSources          = errors.New("simulation: survey has no sources")
	ErrUnknownFormulation = errors.New("simulation: unknown formulation")
	ErrUnknownDataType    = errors.New("simulation: unknown data type")
	ErrNoMesh             = errors.New("simulation: no mesh")
	ErrNoConductivity     = errors.New("simulation: background conductivity not set")
	ErrNoModel            = errors.New("simulation: no model set")
	ErrNoData             = errors.New("simulation: survey has no data")
)

// ProgressFunc observes the full sensitivity assembly, one call per finished
// source
type ProgressFunc func(done, total int)

// Config holds everything needed to build a Simulation. Exactly one of Sigma
// and Rho gives the background; Mapping defaults to the identity on cells.
type Config struct {
	Mesh        mesh.Mesh
	Survey      *survey.Survey
	Formulation Formulation
	Mapping     maps.Mapping

	Sigma []float64
	Rho   []float64

	DataType          survey.DataType
	StoreJ            bool
	StoreInnerProduct bool

	// Workers bounds the per-source goroutines, GOMAXPROCS when <= 0
	Workers  int
	Strategy partitions.PartitionStrategy

	Logger   *zap.Logger
	Progress ProgressFunc
}

// Simulation computes induced polarization data and sensitivities for a
// chargeability model on top of a fixed background conductivity
type Simulation struct {
	mesh     mesh.Mesh
	survey   *survey.Survey
	form     Formulation
	mapping  maps.Mapping
	dataType survey.DataType

	storeJ            bool
	storeInnerProduct bool

	logger   *zap.Logger
	progress ProgressFunc
	runner   *runner.Runner

	grad *sparse.CSR // CellGrad or NodalGrad, by formulation

	cond  *maps.Reciprocal
	model []float64
	cache derivCache

	ainv *solver.Factorization
	f    *fields.Fields
	pred []float64
	jmat *mat.Dense

	factorizations int
	retiredSolves  int
	baselineEvals  int
}

func New(cfg Config) (*Simulation, error) {
	if cfg.Mesh == nil {
		return nil, ErrNoMesh
	}
	if cfg.Survey == nil || cfg.Survey.NSrc() == 0 {
		return nil, ErrNoSources
	}
	if err := cfg.Formulation.validate(); err != nil {
		return nil, err
	}
	if cfg.DataType != survey.Volt && cfg.DataType != survey.ApparentChargeability {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDataType, cfg.DataType)
	}
	nC := cfg.Mesh.NC()
	mapping := cfg.Mapping
	if mapping == nil {
		mapping = maps.Identity{N: nC}
	}
	if mapping.NOut() != nC {
		return nil, fmt.Errorf("%w: mapping %s produces %d values, mesh has %d cells",
			ErrShapeMismatch, mapping.Name(), mapping.NOut(), nC)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	nSrc := cfg.Survey.NSrc()
	weights := make([]float64, nSrc)
	for i := range weights {
		// one solve per source plus one adjoint solve per datum
		weights[i] = float64(1 + cfg.Survey.SourceData(i))
	}
	pb := partitions.PartitionBuilder{
		NumItems:      nSrc,
		Weights:       weights,
		NumPartitions: cfg.Workers,
		Strategy:      cfg.Strategy,
	}
	if pb.NumPartitions <= 0 {
		pb.NumPartitions = nSrc
	}
	layout, err := pb.BuildPartitions()
	if err != nil {
		return nil, fmt.Errorf("partitioning sources: %w", err)
	}

	s := &Simulation{
		mesh:              cfg.Mesh,
		survey:            cfg.Survey,
		form:              cfg.Formulation,
		mapping:           mapping,
		dataType:          cfg.DataType,
		storeJ:            cfg.StoreJ,
		storeInnerProduct: cfg.StoreInnerProduct,
		logger:            logger.With(zap.String("formulation", cfg.Formulation.Name)),
		progress:          cfg.Progress,
		runner:            runner.NewRunner(layout, cfg.Workers, logger),
	}
	if s.progress == nil {
		s.progress = func(done, total int) {
			s.logger.Debug("sensitivity progress", zap.Int("source", done), zap.Int("of", total))
		}
	}
	if s.form.Location == mesh.Cells {
		s.grad = cfg.Mesh.CellGrad()
	} else {
		s.grad = cfg.Mesh.NodalGrad()
	}
	s.resetModelCache()
	s.resetConductivityCache()

	switch {
	case cfg.Sigma != nil:
		err = s.SetSigma(cfg.Sigma)
	case cfg.Rho != nil:
		err = s.SetRho(cfg.Rho)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Simulation) Mesh() mesh.Mesh { return s.mesh }
func (s *Simulation) Survey() *survey.Survey { return s.survey }
func (s *Simulation) Formulation() Formulation { return s.form }
func (s *Simulation) Sign() float64 { return s.form.Sign }
func (s *Simulation) DataType() survey.DataType { return s.dataType }
func (s *Simulation) NP() int { return s.mapping.NP() }
func (s *Simulation) NData() int { return s.survey.NData() }
func (s *Simulation) Layout() *partitions.PartitionLayout { return s.runner.Layout }

// Model returns a copy of the current model, nil before the first call that
// takes one
func (s *Simulation) Model() []float64 {
	if s.model == nil {
		return nil
	}
	return append([]float64(nil), s.model...)
}

// nUnknowns is the length of a solution vector
func (s *Simulation) nUnknowns() int { return s.mesh.Count(s.form.Location) }

// SetSigma replaces the background conductivity and drops everything
// derived from it
func (s *Simulation) SetSigma(sigma []float64) error {
	return s.setConductivity(sigma, maps.FromSigma, "conductivity")
}

// SetRho is SetSigma given resistivity
func (s *Simulation) SetRho(rho []float64) error {
	return s.setConductivity(rho, maps.FromRho, "resistivity")
}

func (s *Simulation) setConductivity(v []float64, from func([]float64) (*maps.Reciprocal, error), what string) error {
	if len(v) != s.mesh.NC() {
		return fmt.Errorf("%w: %s has %d values, mesh has %d cells",
			ErrShapeMismatch, what, len(v), s.mesh.NC())
	}
	cond, err := from(v)
	if err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	s.cond = cond
	s.invalidate()
	s.resetConductivityCache()
	return nil
}

// SetModel makes m the current model. A model equal to the current one keeps
// every cache; any other model invalidates fields, factorization, predicted
// data and the stored sensitivity. Receiver baselines survive.
func (s *Simulation) SetModel(m []float64) error {
	if len(m) != s.NP() {
		return fmt.Errorf("%w: model has %d values, mapping expects %d",
			ErrShapeMismatch, len(m), s.NP())
	}
	if s.model != nil && floats.Equal(s.model, m) {
		return nil
	}
	s.model = append([]float64(nil), m...)
	s.invalidate()
	s.resetModelCache()
	return nil
}

func (s *Simulation) invalidate() {
	s.Clean()
	s.f = nil
	s.pred = nil
	s.jmat = nil
}

// Clean releases the factorization. It is rebuilt on the next solve.
func (s *Simulation) Clean() {
	if s.ainv == nil {
		return
	}
	s.retiredSolves += s.ainv.Solves()
	s.ainv.Release()
	s.ainv = nil
	s.logger.Debug("released factorization")
}

// DeleteForSensitivity drops the stored sensitivity and the cached inner
// products so they are rebuilt on demand
func (s *Simulation) DeleteForSensitivity() {
	s.jmat = nil
	s.resetConductivityCache()
}

// FieldsState reports the state of the held field object
func (s *Simulation) FieldsState() fields.State {
	if s.f == nil {
		return fields.Uninitialized
	}
	return s.f.State()
}

// FactorizationCount is the number of factorizations built so far
func (s *Simulation) FactorizationCount() int { return s.factorizations }

// SolveCount is the number of right hand sides solved so far
func (s *Simulation) SolveCount() int {
	n := s.retiredSolves
	if s.ainv != nil {
		n += s.ainv.Solves()
	}
	return n
}

// BaselineEvaluations counts receiver baseline voltages computed
func (s *Simulation) BaselineEvaluations() int { return s.baselineEvals }

func (s *Simulation) factorization() (*solver.Factorization, error) {
	if s.ainv != nil {
		return s.ainv, nil
	}
	a, err := s.getA()
	if err != nil {
		return nil, err
	}
	ainv, err := solver.Factor(a)
	if err != nil {
		return nil, solverErr(err)
	}
	s.ainv = ainv
	s.factorizations++
	s.logger.Debug("factorized system operator",
		zap.Int("n", ainv.Size()), zap.Int("nnz", a.NNZ()))
	return ainv, nil
}

// solverErr maps solver failures onto this package's sentinels
func solverErr(err error) error {
	switch {
	case errors.Is(err, solver.ErrSingular):
		return fmt.Errorf("%w: %w", ErrSingular, err)
	case errors.Is(err, solver.ErrReleased):
		return fmt.Errorf("%w: %w", ErrReleased, err)
	case errors.Is(err, solver.ErrShapeMismatch):
		return fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	}
	return err
}

func checkLen(v []float64, want int, what string) error {
	if len(v) != want {
		return fmt.Errorf("%w: %s has %d values, want %d", ErrShapeMismatch, what, len(v), want)
	}
	return nil
}
