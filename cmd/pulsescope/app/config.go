package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"
)

type ImageFormat string

type Config struct {
	DBPath        string
	SessionID     int64
	OutputFile    string
	Format        ImageFormat
	Theme         ColorTheme
	MinPower      *float64 // dB
	MaxPower      *float64 // dB
	StartTime     *time.Time
	EndTime       *time.Time
	TimeZone      *time.Location
	Verbose       bool
	NoAnnotations bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

var validThemes = map[ColorTheme]struct{}{
	DefaultTheme:   {},
	ClassicTheme:   {},
	GrayscaleTheme: {},
	ThermalTheme:   {},
	MarineTheme:    {},
}

func NewConfig() *Config {
	return &Config{
		Format:   ImagePNG,
		Theme:    DefaultTheme,
		TimeZone: time.UTC,
	}
}

func NewConfigFromCLI() (*Config, error) {
	return ParseArgs(os.Args[0], os.Args[1:])
}

// ParseArgs builds the configuration from command line arguments. The output
// file name gets the image format as its extension.
func ParseArgs(name string, args []string) (*Config, error) {
	c := NewConfig()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	var imageFormat, theme, startTime, endTime, tz string
	var minPower, maxPower float64
	fs.StringVar(&c.DBPath, "db", "", "Path to the pulse archive")
	fs.Int64Var(&c.SessionID, "s", 1, "Session ID")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, without extension")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.StringVar(&theme, "theme", string(DefaultTheme), "Color theme. [default, classic, grayscale, thermal, marine]")
	fs.Float64Var(&minPower, "min-power", 0, "Manual minimum power in dB")
	fs.Float64Var(&maxPower, "max-power", 0, "Manual maximum power in dB")
	fs.StringVar(&startTime, "start", "", "Render pulses from this time (RFC 3339)")
	fs.StringVar(&endTime, "end", "", "Render pulses up to this time (RFC 3339)")
	fs.StringVar(&tz, "tz", "UTC", "Time zone of the time scale")
	fs.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable range and time scales")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "min-power":
			c.MinPower = &minPower
		case "max-power":
			c.MaxPower = &maxPower
		}
	})

	err := c.parse(imageFormat, theme, startTime, endTime, tz)
	if err != nil {
		fs.Usage()
		return nil, err
	}

	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}

func (c *Config) parse(imageFormat, theme, startTime, endTime, tz string) error {
	imageFormat = strings.ToLower(imageFormat)
	theme = strings.ToLower(theme)

	switch {
	case c.DBPath == "":
		return errors.New("db path is required")
	case c.SessionID <= 0:
		return errors.New("session id is required")
	case c.OutputFile == "":
		return errors.New("output file is required")
	}

	if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		return fmt.Errorf("invalid image format: %s", imageFormat)
	}
	c.Format = ImageFormat(imageFormat)

	if _, ok := validThemes[ColorTheme(theme)]; !ok {
		return fmt.Errorf("invalid color theme: %s", theme)
	}
	c.Theme = ColorTheme(theme)

	if c.MinPower != nil && c.MaxPower != nil && *c.MinPower >= *c.MaxPower {
		return fmt.Errorf("min power %.1f dB must be below max power %.1f dB", *c.MinPower, *c.MaxPower)
	}

	var err error
	if c.StartTime, err = parseTime("start", startTime); err != nil {
		return err
	}
	if c.EndTime, err = parseTime("end", endTime); err != nil {
		return err
	}
	if c.StartTime != nil && c.EndTime != nil && !c.StartTime.Before(*c.EndTime) {
		return errors.New("start time must be before end time")
	}

	if c.TimeZone, err = time.LoadLocation(tz); err != nil {
		return fmt.Errorf("invalid time zone: %w", err)
	}
	return nil
}

func parseTime(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s time: %w", name, err)
	}
	return &t, nil
}
