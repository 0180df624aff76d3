package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []int{16, 8}, cfg.Mesh.Shape)
	assert.Equal(t, "cell_centered", cfg.Simulation.Formulation)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	data := `
mesh:
  shape: [6, 4]
  cell_width: 2
simulation:
  formulation: nodal
  mapping: exp
  workers: 2
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 4}, cfg.Mesh.Shape)
	assert.Equal(t, 2.0, cfg.Mesh.CellWidth)
	assert.Equal(t, "nodal", cfg.Simulation.Formulation)
	assert.Equal(t, "exp", cfg.Simulation.Mapping)
	assert.Equal(t, 2, cfg.Simulation.Workers)
	// untouched sections keep their defaults
	assert.Equal(t, "volt", cfg.Simulation.DataType)
	assert.Equal(t, Default().Survey, cfg.Survey)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("simulation:\n  formulation: spectral\n"), 0644))
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalid)

	require.NoError(t, os.WriteFile(path, []byte("mesh: [1, 2"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run.yaml")
	cfg := Default()
	cfg.Simulation.StoreJ = true
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no axes", func(c *Config) { c.Mesh.Shape = nil }},
		{"zero width", func(c *Config) { c.Mesh.CellWidth = 0 }},
		{"negative background", func(c *Config) { c.Background.Value = -1 }},
		{"unknown model kind", func(c *Config) { c.Model.Kind = "fractal" }},
		{"simplex without frequency", func(c *Config) { c.Model.Frequency = 0 }},
		{"no sources", func(c *Config) { c.Survey.DipoleDipole = nil }},
		{"too few electrodes", func(c *Config) { c.Survey.DipoleDipole.Electrodes = 3 }},
		{"receiver mismatch", func(c *Config) {
			c.Survey.Sources = []SourceConfig{{
				A:         []float64{1, 1},
				Receivers: []ReceiverConfig{{M: [][]float64{{2, 2}}, N: [][]float64{{3, 3}, {4, 4}}}},
			}}
		}},
		{"source without receivers", func(c *Config) {
			c.Survey.Sources = []SourceConfig{{A: []float64{1, 1}, Receivers: []ReceiverConfig{}}}
		}},
		{"unknown mapping", func(c *Config) { c.Simulation.Mapping = "log" }},
		{"unknown data type", func(c *Config) { c.Simulation.DataType = "ohm" }},
		{"unknown strategy", func(c *Config) { c.Simulation.Strategy = "random" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestBuildDipoleDipole(t *testing.T) {
	run, err := Default().Build(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 128, run.Mesh.NC())
	// sources 0..8, the last three lose separations past the end of the line
	assert.Equal(t, 9, run.Survey.NSrc())
	assert.Equal(t, 6*4+3+2+1, run.Survey.NData())
	assert.Len(t, run.Sigma, 128)

	d, err := run.Sim.Dpred(run.Model, nil)
	require.NoError(t, err)
	require.Len(t, d, run.Survey.NData())
	for _, v := range d {
		assert.False(t, math.IsNaN(v), "NaN in predicted data")
	}
}

func TestBuildExplicitSources(t *testing.T) {
	cfg := Default()
	cfg.Mesh = MeshConfig{H: [][]float64{{1, 1, 1, 1}, {1, 1, 1}}}
	cfg.Model = FieldConfig{Kind: "values", Values: make([]float64, 12)}
	cfg.Survey.Sources = []SourceConfig{
		{
			A: []float64{0.5, 0.5},
			Receivers: []ReceiverConfig{
				{M: [][]float64{{2.5, 1.5}}},
				{M: [][]float64{{1.5, 2.5}}, N: [][]float64{{3.5, 2.5}}},
			},
		},
		{
			A: []float64{0.5, 2.5}, B: []float64{3.5, 0.5}, Current: 2,
			Receivers: []ReceiverConfig{{M: [][]float64{{2, 2}}}},
		},
	}
	cfg.Simulation.Formulation = "nodal"

	run, err := cfg.Build(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Survey.NSrc())
	assert.Equal(t, 3, run.Survey.NData())

	d, err := run.Sim.Dpred(run.Model, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, d)
}

func TestBuildRejectsModelLength(t *testing.T) {
	cfg := Default()
	cfg.Model = FieldConfig{Kind: "values", Values: []float64{0.1, 0.2}}
	_, err := cfg.Build(nil)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSimplexModelIsDeterministic(t *testing.T) {
	cfg := Default()
	a, err := cfg.Build(nil)
	require.NoError(t, err)
	b, err := cfg.Build(nil)
	require.NoError(t, err)
	assert.Equal(t, a.Model, b.Model)

	lo, hi := cfg.Model.Value-cfg.Model.Amplitude, cfg.Model.Value+cfg.Model.Amplitude
	varied := false
	for _, v := range a.Model {
		assert.GreaterOrEqual(t, v, lo)
		assert.LessOrEqual(t, v, hi)
		varied = varied || v != a.Model[0]
	}
	assert.True(t, varied, "simplex model is flat")

	cfg.Model.Seed = 2
	c, err := cfg.Build(nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.Model, c.Model)
}

func TestExampleConfigsBuild(t *testing.T) {
	for name, nD := range map[string]int{"dipole_dipole.yaml": 35, "nodal_explicit.yaml": 3} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(filepath.Join("..", "examples", name))
			require.NoError(t, err)
			run, err := cfg.Build(nil)
			require.NoError(t, err)
			t.Cleanup(run.Sim.Clean)
			assert.Equal(t, nD, run.Survey.NData())
		})
	}
}
