package survey

import (
	"errors"
	"fmt"
)

var (
	ErrNoSources     = errors.New("survey: no sources")
	ErrShapeMismatch = errors.New("survey: shape mismatch")
	ErrNoBaseline    = errors.New("survey: baseline voltage not set")
	ErrIndex         = errors.New("survey: index out of range")
)

// DataType selects how receiver voltages are reported
type DataType uint8

const (
	Volt DataType = iota
	ApparentChargeability
)

func (dt DataType) String() string {
	switch dt {
	case Volt:
		return "volt"
	case ApparentChargeability:
		return "apparent_chargeability"
	default:
		return "unknown"
	}
}

func ParseDataType(name string) (DataType, error) {
	switch name {
	case "", "volt":
		return Volt, nil
	case "apparent_chargeability":
		return ApparentChargeability, nil
	}
	return 0, fmt.Errorf("survey: unknown data type %q", name)
}

// Survey is the ordered list of sources. Data vectors are laid out source by
// source, and within a source receiver by receiver.
type Survey struct {
	Sources []Source

	offsets [][]int // [src][rx] start of the receiver's data
	nD      int
}

func New(sources ...Source) (*Survey, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	s := &Survey{Sources: sources, offsets: make([][]int, len(sources))}
	for i, src := range sources {
		rxs := src.Receivers()
		s.offsets[i] = make([]int, len(rxs))
		for j, rx := range rxs {
			s.offsets[i][j] = s.nD
			s.nD += rx.NData()
		}
	}
	return s, nil
}

func (s *Survey) NSrc() int { return len(s.Sources) }

// NData is the total number of observations
func (s *Survey) NData() int { return s.nD }

// SourceData returns the number of observations belonging to source src
func (s *Survey) SourceData(src int) (n int) {
	for _, rx := range s.Sources[src].Receivers() {
		n += rx.NData()
	}
	return
}

// Offset is the position of the first observation of receiver rx of source src
func (s *Survey) Offset(src, rx int) int { return s.offsets[src][rx] }

// Slice returns the part of a data vector belonging to receiver rx of source src
func (s *Survey) Slice(d []float64, src, rx int) ([]float64, error) {
	if len(d) != s.nD {
		return nil, fmt.Errorf("%w: data vector has %d values, survey has %d",
			ErrShapeMismatch, len(d), s.nD)
	}
	if src < 0 || src >= len(s.Sources) {
		return nil, fmt.Errorf("%w: source %d", ErrIndex, src)
	}
	rxs := s.Sources[src].Receivers()
	if rx < 0 || rx >= len(rxs) {
		return nil, fmt.Errorf("%w: receiver %d of source %d", ErrIndex, rx, src)
	}
	start := s.offsets[src][rx]
	return d[start : start+rxs[rx].NData()], nil
}
