package app

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/roman-kulish/radar-beams/internal/pulse"
)

const defaultBatchSize = 512

type Config struct {
	DBPath    string
	BatchSize int
	Verbose   bool
	Sim       pulse.SimConfig
}

func NewConfig() *Config {
	return &Config{
		BatchSize: defaultBatchSize,
		Sim:       pulse.DefaultSimConfig(),
	}
}

func NewConfigFromCLI() (*Config, error) {
	return ParseArgs(os.Args[0], os.Args[1:])
}

// ParseArgs builds the configuration from command line arguments.
func ParseArgs(name string, args []string) (*Config, error) {
	c := NewConfig()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	var mode string
	fs.StringVar(&c.DBPath, "db", "", "Path to the database file")
	fs.IntVar(&c.BatchSize, "batch", defaultBatchSize, "Pulses stored per transaction")
	fs.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	fs.StringVar(&mode, "mode", string(c.Sim.Mode), "Transmission mode. [single, alternating, staggered]")
	fs.IntVar(&c.Sim.NGates, "gates", c.Sim.NGates, "Number of gates (short PRT gates when staggered)")
	fs.IntVar(&c.Sim.NGatesLong, "gates-long", 0, "Number of long PRT gates when staggered")
	fs.IntVar(&c.Sim.NSamples, "samples", c.Sim.NSamples, "Pulses per beam")
	fs.IntVar(&c.Sim.BeamsPerDwell, "beams", c.Sim.BeamsPerDwell, "Beams per dwell")
	fs.IntVar(&c.Sim.NDwells, "dwells", 360, "Number of dwells to generate")
	fs.IntVar(&c.Sim.NChannels, "channels", c.Sim.NChannels, "Receiver channels. [1, 2]")
	fs.Float64Var(&c.Sim.Prt, "prt", c.Sim.Prt, "Pulse repetition time in seconds (short PRT when staggered)")
	fs.Float64Var(&c.Sim.PrtLong, "prt-long", 0, "Long pulse repetition time in seconds when staggered")
	fs.Float64Var(&c.Sim.Elevation, "elevation", c.Sim.Elevation, "Antenna elevation in degrees")
	fs.Uint64Var(&c.Sim.Seed, "seed", c.Sim.Seed, "Random seed")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	c.Sim.Mode = pulse.SimMode(mode)

	var err error
	if c.DBPath == "" {
		err = errors.New("db path is required")
	} else if c.BatchSize <= 0 {
		err = fmt.Errorf("invalid batch size: %d", c.BatchSize)
	} else if c.Sim.NDwells <= 0 {
		err = fmt.Errorf("invalid number of dwells: %d", c.Sim.NDwells)
	} else if vErr := c.Sim.Validate(); vErr != nil {
		err = vErr
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}
	return c, nil
}
