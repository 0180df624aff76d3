package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/notargets/ipsens/maps"
	"github.com/notargets/ipsens/partitions"
	"github.com/notargets/ipsens/simulation"
	"github.com/notargets/ipsens/survey"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid configuration")

// Config is a complete run description: mesh, background conductivity,
// chargeability model, survey geometry and simulation options
type Config struct {
	Mesh       MeshConfig       `yaml:"mesh"`
	Background FieldConfig      `yaml:"background"`
	Model      FieldConfig      `yaml:"model"`
	Survey     SurveyConfig     `yaml:"survey"`
	Simulation SimulationConfig `yaml:"simulation"`
}

type MeshConfig struct {
	// Shape and CellWidth describe a uniform mesh; H gives per-axis widths
	// and takes precedence
	Shape     []int       `yaml:"shape,omitempty"`
	CellWidth float64     `yaml:"cell_width,omitempty"`
	H         [][]float64 `yaml:"h,omitempty"`
	Origin    []float64   `yaml:"origin,omitempty"`
}

// FieldConfig generates one value per cell
type FieldConfig struct {
	// Kind is constant, simplex or values
	Kind  string  `yaml:"kind"`
	Value float64 `yaml:"value"`

	// simplex: Value + Amplitude·(2·noise - 1), noise in [0, 1]
	Amplitude   float64 `yaml:"amplitude,omitempty"`
	Frequency   float64 `yaml:"frequency,omitempty"`
	Octaves     int     `yaml:"octaves,omitempty"`
	Persistence float64 `yaml:"persistence,omitempty"`
	Seed        int64   `yaml:"seed,omitempty"`

	Values []float64 `yaml:"values,omitempty"`
}

// SurveyConfig lists sources explicitly or generates them. Explicit sources
// take precedence.
type SurveyConfig struct {
	Sources      []SourceConfig      `yaml:"sources,omitempty"`
	DipoleDipole *DipoleDipoleConfig `yaml:"dipole_dipole,omitempty"`
}

type SourceConfig struct {
	A         []float64        `yaml:"a"`
	B         []float64        `yaml:"b,omitempty"`
	Current   float64          `yaml:"current"`
	Receivers []ReceiverConfig `yaml:"receivers"`
}

type ReceiverConfig struct {
	M [][]float64 `yaml:"m"`
	N [][]float64 `yaml:"n,omitempty"`
}

// DipoleDipoleConfig lays out a line of equally spaced electrodes parallel
// to x. Source i uses electrodes i and i+1; its receiver measures the
// dipoles i+1+n, i+2+n for n = 1..MaxN.
type DipoleDipoleConfig struct {
	Start      []float64 `yaml:"start"`
	Spacing    float64   `yaml:"spacing"`
	Electrodes int       `yaml:"electrodes"`
	MaxN       int       `yaml:"max_n"`
	Current    float64   `yaml:"current"`
}

type SimulationConfig struct {
	Formulation       string `yaml:"formulation"`
	Mapping           string `yaml:"mapping"`
	DataType          string `yaml:"data_type"`
	StoreJ            bool   `yaml:"store_j"`
	StoreInnerProduct bool   `yaml:"store_inner_product"`
	Workers           int    `yaml:"workers"`
	Strategy          string `yaml:"strategy"`
}

// Default is a small two dimensional dipole-dipole line over a uniform
// half space
func Default() *Config {
	return &Config{
		Mesh: MeshConfig{
			Shape:     []int{16, 8},
			CellWidth: 1,
		},
		Background: FieldConfig{Kind: "constant", Value: 0.01},
		Model: FieldConfig{
			Kind:        "simplex",
			Value:       0.05,
			Amplitude:   0.04,
			Frequency:   0.2,
			Octaves:     3,
			Persistence: 0.5,
			Seed:        1,
		},
		Survey: SurveyConfig{
			DipoleDipole: &DipoleDipoleConfig{
				Start:      []float64{2, 7.5},
				Spacing:    1,
				Electrodes: 12,
				MaxN:       4,
				Current:    1,
			},
		},
		Simulation: SimulationConfig{
			Formulation: "cell_centered",
			Mapping:     "identity",
			DataType:    "volt",
			Strategy:    "weighted",
		},
	}
}

// Load reads a YAML file over Default. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports settings that can not produce a simulation
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}

	if len(c.Mesh.H) == 0 {
		if len(c.Mesh.Shape) == 0 || len(c.Mesh.Shape) > 3 {
			return invalid("mesh needs 1 to 3 axes, got %d", len(c.Mesh.Shape))
		}
		if c.Mesh.CellWidth <= 0 {
			return invalid("mesh cell_width must be positive")
		}
	}

	if err := c.Background.validate("background"); err != nil {
		return err
	}
	if c.Background.Kind != "values" && c.Background.Value-c.Background.Amplitude <= 0 {
		return invalid("background conductivity must stay positive")
	}
	if err := c.Model.validate("model"); err != nil {
		return err
	}

	if len(c.Survey.Sources) == 0 && c.Survey.DipoleDipole == nil {
		return invalid("survey has no sources")
	}
	if dd := c.Survey.DipoleDipole; dd != nil {
		if len(dd.Start) == 0 {
			return invalid("dipole_dipole needs a start position")
		}
		if dd.Spacing <= 0 || dd.MaxN < 1 || dd.Electrodes < 4 {
			return invalid("dipole_dipole needs positive spacing, max_n >= 1 and at least 4 electrodes")
		}
	}
	for i, src := range c.Survey.Sources {
		if len(src.A) == 0 {
			return invalid("source %d has no A electrode", i)
		}
		if len(src.Receivers) == 0 {
			return invalid("source %d has no receivers", i)
		}
		for j, rx := range src.Receivers {
			if len(rx.M) == 0 || (rx.N != nil && len(rx.N) != len(rx.M)) {
				return invalid("source %d receiver %d has mismatched electrodes", i, j)
			}
		}
	}

	if _, err := simulation.ParseFormulation(c.Simulation.Formulation); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := maps.ByName(c.Simulation.Mapping, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := survey.ParseDataType(c.Simulation.DataType); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := partitions.ParseStrategy(c.Simulation.Strategy); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (fc FieldConfig) validate(name string) error {
	switch fc.Kind {
	case "", "constant", "values":
	case "simplex":
		if fc.Frequency <= 0 {
			return fmt.Errorf("%w: %s simplex frequency must be positive", ErrInvalid, name)
		}
	default:
		return fmt.Errorf("%w: %s kind %q", ErrInvalid, name, fc.Kind)
	}
	return nil
}
