package config

import (
	"fmt"

	"github.com/notargets/ipsens/maps"
	"github.com/notargets/ipsens/mesh"
	"github.com/notargets/ipsens/partitions"
	"github.com/notargets/ipsens/simulation"
	"github.com/notargets/ipsens/survey"
	opensimplex "github.com/ojrac/opensimplex-go"
	"go.uber.org/zap"
)

// Run is a configuration turned into live objects
type Run struct {
	Mesh   *mesh.TensorMesh
	Survey *survey.Survey
	Sigma  []float64
	Model  []float64
	Sim    *simulation.Simulation
}

// Build creates the mesh, survey, background, model and simulation
func (c *Config) Build(logger *zap.Logger) (*Run, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	tm, err := c.Mesh.build()
	if err != nil {
		return nil, err
	}
	sigma, err := c.Background.generate(tm)
	if err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}
	srv, err := c.Survey.build()
	if err != nil {
		return nil, err
	}

	form, _ := simulation.ParseFormulation(c.Simulation.Formulation)
	dt, _ := survey.ParseDataType(c.Simulation.DataType)
	strategy, _ := partitions.ParseStrategy(c.Simulation.Strategy)
	mapping, _ := maps.ByName(c.Simulation.Mapping, tm.NC())

	model, err := c.Model.generate(tm)
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	if len(model) != mapping.NP() {
		return nil, fmt.Errorf("%w: model has %d values, mapping %s expects %d",
			ErrInvalid, len(model), mapping.Name(), mapping.NP())
	}

	sim, err := simulation.New(simulation.Config{
		Mesh:              tm,
		Survey:            srv,
		Formulation:       form,
		Mapping:           mapping,
		Sigma:             sigma,
		DataType:          dt,
		StoreJ:            c.Simulation.StoreJ,
		StoreInnerProduct: c.Simulation.StoreInnerProduct,
		Workers:           c.Simulation.Workers,
		Strategy:          strategy,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Debug("built simulation",
			zap.String("mesh", tm.String()),
			zap.Int("sources", srv.NSrc()),
			zap.Int("data", srv.NData()))
	}
	return &Run{Mesh: tm, Survey: srv, Sigma: sigma, Model: model, Sim: sim}, nil
}

func (mc MeshConfig) build() (*mesh.TensorMesh, error) {
	if len(mc.H) > 0 {
		return mesh.NewTensorMesh(mc.H, mc.Origin)
	}
	return mesh.NewUniformMesh(mc.Shape, mc.CellWidth, mc.Origin)
}

// generate evaluates the field at every cell center
func (fc FieldConfig) generate(tm *mesh.TensorMesh) ([]float64, error) {
	nC := tm.NC()
	out := make([]float64, nC)
	switch fc.Kind {
	case "", "constant":
		for i := range out {
			out[i] = fc.Value
		}
	case "values":
		if len(fc.Values) != nC {
			return nil, fmt.Errorf("%w: %d values for %d cells", ErrInvalid, len(fc.Values), nC)
		}
		copy(out, fc.Values)
	case "simplex":
		noise := opensimplex.NewNormalized(fc.Seed)
		for i, x := range tm.CellCenters() {
			n := octaveNoise(noise, x, fc.Octaves, fc.Frequency, fc.Persistence)
			out[i] = fc.Value + fc.Amplitude*(2*n-1)
		}
	default:
		return nil, fmt.Errorf("%w: field kind %q", ErrInvalid, fc.Kind)
	}
	return out, nil
}

// octaveNoise layers octaves of noise, doubling the frequency each time. The
// result stays in [0, 1].
func octaveNoise(noise opensimplex.Noise, x []float64, octaves int, frequency, persistence float64) float64 {
	if octaves < 1 {
		octaves = 1
	}
	if persistence <= 0 {
		persistence = 0.5
	}
	total, amplitude, maxVal := 0.0, 1.0, 0.0
	for i := 0; i < octaves; i++ {
		var v float64
		switch len(x) {
		case 1:
			v = noise.Eval2(x[0]*frequency, 0)
		case 2:
			v = noise.Eval2(x[0]*frequency, x[1]*frequency)
		default:
			v = noise.Eval3(x[0]*frequency, x[1]*frequency, x[2]*frequency)
		}
		total += v * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}
	return total / maxVal
}

func (sc SurveyConfig) build() (*survey.Survey, error) {
	if len(sc.Sources) == 0 {
		return sc.DipoleDipole.build()
	}
	sources := make([]survey.Source, 0, len(sc.Sources))
	for i, s := range sc.Sources {
		rxs := make([]survey.Receiver, 0, len(s.Receivers))
		for j, r := range s.Receivers {
			if r.N == nil {
				rxs = append(rxs, survey.NewPoleRx(r.M))
				continue
			}
			rx, err := survey.NewDipoleRx(r.M, r.N)
			if err != nil {
				return nil, fmt.Errorf("source %d receiver %d: %w", i, j, err)
			}
			rxs = append(rxs, rx)
		}
		current := s.Current
		if current == 0 {
			current = 1
		}
		if s.B == nil {
			sources = append(sources, survey.NewPoleSrc(s.A, current, rxs...))
		} else {
			sources = append(sources, survey.NewDipoleSrc(s.A, s.B, current, rxs...))
		}
	}
	return survey.New(sources...)
}

func (dd *DipoleDipoleConfig) build() (*survey.Survey, error) {
	electrode := func(k int) []float64 {
		p := append([]float64(nil), dd.Start...)
		p[0] += float64(k) * dd.Spacing
		return p
	}
	current := dd.Current
	if current == 0 {
		current = 1
	}
	var sources []survey.Source
	for i := 0; i+3 < dd.Electrodes; i++ {
		var m, n [][]float64
		for sep := 1; sep <= dd.MaxN && i+2+sep < dd.Electrodes; sep++ {
			m = append(m, electrode(i+1+sep))
			n = append(n, electrode(i+2+sep))
		}
		rx, err := survey.NewDipoleRx(m, n)
		if err != nil {
			return nil, err
		}
		sources = append(sources, survey.NewDipoleSrc(electrode(i), electrode(i+1), current, rx))
	}
	return survey.New(sources...)
}
