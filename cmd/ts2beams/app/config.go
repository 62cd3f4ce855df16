package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/radar-beams/internal/beam"
	"github.com/roman-kulish/radar-beams/internal/dwell"
	"github.com/roman-kulish/radar-beams/internal/pulse"
)

const (
	SourceArchive   SourceType = "archive"
	SourceSimulator SourceType = "simulator"
)

type SourceType string

func (s SourceType) String() string {
	return string(s)
}

type TimeDuration time.Duration

func NewTimeDuration(d time.Duration) TimeDuration {
	return TimeDuration(d)
}

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d TimeDuration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d TimeDuration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d TimeDuration) Duration() time.Duration {
	return time.Duration(d)
}

func (d TimeDuration) String() string {
	return time.Duration(d).String()
}

// Config represents the main application configuration
type Config struct {
	Settings   Settings         `yaml:"settings"`
	Source     SourceConfig     `yaml:"source"`
	Assembler  AssemblerConfig  `yaml:"assembler"`
	Processing ProcessingConfig `yaml:"processing"`
	Output     OutputConfig     `yaml:"output"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel   string       `yaml:"logLevel"`
	Workers    int          `yaml:"workers"`
	QueueSize  int          `yaml:"queueSize"`
	RetryDelay TimeDuration `yaml:"retryDelay"`
	PoolSize   int          `yaml:"poolSize"`
}

// SourceConfig selects where pulses come from
type SourceConfig struct {
	Type      SourceType       `yaml:"type"`
	Archive   *ArchiveConfig   `yaml:"archive"`
	Simulator *pulse.SimConfig `yaml:"simulator"`

	// Paced feeds the pulses through a channel at their PRT, as a live
	// receiver would.
	Paced       bool         `yaml:"paced"`
	ReadTimeout TimeDuration `yaml:"readTimeout"`
}

// ArchiveConfig points at a recorded session
type ArchiveConfig struct {
	DBPath    string `yaml:"dbPath"`
	SessionID int64  `yaml:"sessionID"`
}

// AssemblerConfig controls dwell assembly
type AssemblerConfig struct {
	MaxDwellPulses int              `yaml:"maxDwellPulses"`
	PrtTolerance   float64          `yaml:"prtTolerance"`
	Simulate       bool             `yaml:"simulate"`
	StartTime      time.Time        `yaml:"startTime"`
	EndTime        time.Time        `yaml:"endTime"`
	AttenMethod    beam.AttenMethod `yaml:"attenMethod"`
	AttenDbPerKm   float64          `yaml:"attenDbPerKm"`
	Overrides      pulse.Overrides  `yaml:"overrides"`

	DiscardMissingPulses bool `yaml:"discardMissingPulses"`
}

// ProcessingConfig enables optional beam processing steps
type ProcessingConfig struct {
	ZdrMedianFilterLen   int  `yaml:"zdrMedianFilterLen"`
	RhohvMedianFilterLen int  `yaml:"rhohvMedianFilterLen"`
	ComputeKdp           bool `yaml:"computeKdp"`
	CorrectPrecipAtten   bool `yaml:"correctPrecipAtten"`
}

// OutputConfig represents beam catalog settings
type OutputConfig struct {
	DBPath       string `yaml:"dbPath"`
	MaxBatchSize int    `yaml:"maxBatchSize"`

	// Beams are written in sequence order when Resequence is set.
	Resequence bool `yaml:"resequence"`
	Capacity   int  `yaml:"capacity"`
	FlushCount int  `yaml:"flushCount"`
}

// MetricsConfig represents the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// NewConfig returns the configuration defaults.
func NewConfig() *Config {
	sim := pulse.DefaultSimConfig()

	return &Config{
		Settings: Settings{
			LogLevel:   "info",
			QueueSize:  64,
			RetryDelay: NewTimeDuration(50 * time.Millisecond),
		},
		Source: SourceConfig{
			Type:        SourceArchive,
			Simulator:   &sim,
			ReadTimeout: NewTimeDuration(pulse.DefaultReadTimeout),
		},
		Assembler: AssemblerConfig{
			MaxDwellPulses: dwell.DefaultMaxDwellPulses,
			PrtTolerance:   dwell.DefaultPrtTolerance,
			AttenMethod:    beam.AttenNone,
		},
		Output: OutputConfig{
			MaxBatchSize: 100,
			Capacity:     256,
			FlushCount:   64,
		},
		Metrics: MetricsConfig{
			Listen: ":9100",
		},
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a YAML configuration. Simulator settings
// absent from the document keep their default scenario values.
func ParseConfig(data []byte) (*Config, error) {
	c := NewConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	switch c.Source.Type {
	case SourceArchive:
		if c.Source.Archive == nil {
			errs = append(errs, errors.New("source: archive settings required"))
		} else {
			if c.Source.Archive.DBPath == "" {
				errs = append(errs, errors.New("source: archive db path required"))
			}
			if c.Source.Archive.SessionID <= 0 {
				errs = append(errs, errors.New("source: archive session id required"))
			}
		}

	case SourceSimulator:
		if c.Source.Simulator == nil {
			errs = append(errs, errors.New("source: simulator settings required"))
		} else if err := c.Source.Simulator.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("source: %w", err))
		}

	default:
		errs = append(errs, fmt.Errorf("source: unknown type '%s'", c.Source.Type))
	}

	if c.Source.Paced && c.Source.ReadTimeout <= 0 {
		errs = append(errs, errors.New("source: paced source needs a positive read timeout"))
	}

	dc := c.DwellConfig()
	if err := dc.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("assembler: %w", err))
	}

	if c.Processing.ZdrMedianFilterLen < 0 || c.Processing.RhohvMedianFilterLen < 0 {
		errs = append(errs, errors.New("processing: median filter length must not be negative"))
	}

	if c.Output.DBPath == "" {
		errs = append(errs, errors.New("output: db path required"))
	}
	if c.Output.Resequence && (c.Output.Capacity <= 0 || c.Output.FlushCount <= 0 || c.Output.FlushCount > c.Output.Capacity) {
		errs = append(errs, fmt.Errorf("output: invalid resequencer capacity %d and flush count %d",
			c.Output.Capacity, c.Output.FlushCount))
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics: listen address required"))
	}

	return errors.Join(errs...)
}

// DwellConfig returns the assembler configuration.
func (c *Config) DwellConfig() dwell.Config {
	return dwell.Config{
		MaxDwellPulses: c.Assembler.MaxDwellPulses,
		PrtTolerance:   c.Assembler.PrtTolerance,
		Simulate:       c.Assembler.Simulate,
		StartTime:      c.Assembler.StartTime,
		EndTime:        c.Assembler.EndTime,
		AttenMethod:    c.Assembler.AttenMethod,
		AttenDbPerKm:   c.Assembler.AttenDbPerKm,
		Overrides:      c.Assembler.Overrides,

		DiscardMissingPulses: c.Assembler.DiscardMissingPulses,
	}
}

// BeamParams returns the beam processing parameters.
func (c *Config) BeamParams() beam.Params {
	return beam.Params{
		ZdrMedianFilterLen:   c.Processing.ZdrMedianFilterLen,
		RhohvMedianFilterLen: c.Processing.RhohvMedianFilterLen,
		ComputeKdp:           c.Processing.ComputeKdp,
		CorrectPrecipAtten:   c.Processing.CorrectPrecipAtten,
		Overrides:            c.Assembler.Overrides,
	}
}
