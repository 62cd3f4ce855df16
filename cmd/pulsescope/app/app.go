package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/radar-beams/internal/pulse"
	"github.com/roman-kulish/radar-beams/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	scope, err := readScope(ctx, store, config, logger)
	if err != nil {
		return err
	}

	renderCfg := RenderConfig{
		Theme:       config.Theme,
		Annotations: !config.NoAnnotations,
	}
	if config.MinPower != nil || config.MaxPower != nil {
		bounds := scope.Histogram.Bounds()
		if config.MinPower != nil {
			bounds.Min = *config.MinPower
		}
		if config.MaxPower != nil {
			bounds.Max = *config.MaxPower
		}
		if bounds.Min >= bounds.Max {
			return fmt.Errorf("invalid power range %.1f to %.1f dB", bounds.Min, bounds.Max)
		}
		renderCfg.Bounds = &bounds
	}
	if renderCfg.Annotations {
		if renderCfg.Annotator, err = NewAnnotator(config.TimeZone); err != nil {
			return fmt.Errorf("creating annotator: %w", err)
		}
	}

	renderer, err := NewScopeRenderer(renderCfg)
	if err != nil {
		return fmt.Errorf("creating scope renderer: %w", err)
	}

	logger.Info("rendering scope",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Int("width", scope.Width),
			slog.Int("height", scope.Height),
		))

	img, err := renderer.Render(scope)
	if err != nil {
		return fmt.Errorf("rendering scope: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	if err = encode(out, img, config.Format); err != nil {
		_ = out.Close()
		return fmt.Errorf("encoding image: %w", err)
	}
	return out.Close()
}

func readScope(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) (*ScopeData, error) {
	var opts []storage.ReaderOption
	var filters []any
	if config.StartTime != nil {
		opts = append(opts, storage.WithStartTime(config.StartTime.UTC()))
		filters = append(filters, slog.String("startTime", config.StartTime.UTC().Format(time.DateTime)))
	}
	if config.EndTime != nil {
		opts = append(opts, storage.WithEndTime(config.EndTime.UTC()))
		filters = append(filters, slog.String("endTime", config.EndTime.UTC().Format(time.DateTime)))
	}
	opts = append(opts, storage.WithPulsePool(pulse.NewPool(1)))

	logger.Info("reader configuration", filters...)

	reader, err := store.ReadPulses(ctx, config.SessionID, opts...)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	scope := NewScopeData(reader.OpsInfo().Geometry)
	var payload int
	for {
		p, err := reader.Next(ctx)
		if errors.Is(err, pulse.ErrEndOfStream) {
			break
		}
		if err != nil {
			return nil, err
		}
		scope.Add(p)
		payload += p.IQBytes()
		p.Recycle()
	}

	bounds := scope.Histogram.Bounds()
	logger.Info("finished reading pulses",
		slog.Group("stats",
			slog.String("pulses", humanize.Comma(int64(scope.Height))),
			slog.String("payload", humanize.Bytes(uint64(payload))),
			slog.String("startTime", scope.TimeStart.Format(time.DateTime)),
			slog.String("endTime", scope.TimeEnd.Format(time.DateTime)),
			slog.String("minPower", fmt.Sprintf("%0.1fdB", bounds.Min)),
			slog.String("maxPower", fmt.Sprintf("%0.1fdB", bounds.Max)),
		))

	return scope, nil
}

func encode(w io.Writer, img image.Image, format ImageFormat) error {
	switch format {
	case ImageJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 98})
	default:
		return png.Encode(w, img)
	}
}
