package app

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
)

const (
	dpi      float64 = 72
	fontSize float64 = 12
	spacing  float64 = 1.2

	// pixels between scale labels
	rangeLabelStep = 160
	timeLabelStep  = 80

	infoLines = 5
)

// Annotator draws range and time scales and a summary onto a rendered scope.
type Annotator struct {
	context *freetype.Context
	tz      *time.Location
}

func NewAnnotator(tz *time.Location) (*Annotator, error) {
	parsedFont, err := freetype.ParseFont(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(fontSize)
	ctx.SetSrc(image.White)
	ctx.SetHinting(font.HintingFull)

	if tz == nil {
		tz = time.UTC
	}
	return &Annotator{context: ctx, tz: tz}, nil
}

// InfoHeight returns the height of the summary block in pixels.
func (a *Annotator) InfoHeight() int {
	return int(fontSize*spacing*infoLines) + 8
}

func (a *Annotator) Annotate(img *image.RGBA, scope *ScopeData, cm *ColorMapper) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func(*image.RGBA, *ScopeData, *ColorMapper) error
	}{
		{"drawing range scale", a.drawRangeScale},
		{"drawing time scale", a.drawTimeScale},
		{"drawing info", a.drawInfo},
	}
	for _, op := range ops {
		if err := op.fn(img, scope, cm); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}
	return nil
}

func (a *Annotator) drawRangeScale(img *image.RGBA, scope *ScopeData, _ *ColorMapper) error {
	for px := 0; px < scope.Width; px += rangeLabelStep {
		for y := 0; y < 20 && y < scope.Height; y++ {
			img.Set(px, y, color.White)
		}

		label := humanRange(scope.Geometry.RangeKm(px))
		if _, err := a.context.DrawString(label, freetype.Pt(px+4, int(fontSize))); err != nil {
			return err
		}
	}
	return nil
}

func (a *Annotator) drawTimeScale(img *image.RGBA, scope *ScopeData, _ *ColorMapper) error {
	if scope.Height < 2 {
		return nil
	}
	perRow := scope.TimeEnd.Sub(scope.TimeStart) / time.Duration(scope.Height-1)

	for py := timeLabelStep; py < scope.Height; py += timeLabelStep {
		for x := 0; x < 40 && x < scope.Width; x++ {
			img.Set(x, py, color.White)
		}

		t := scope.TimeStart.Add(perRow * time.Duration(py)).In(a.tz)
		if _, err := a.context.DrawString(t.Format("15:04:05.000"), freetype.Pt(3, py-3)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Annotator) drawInfo(img *image.RGBA, scope *ScopeData, cm *ColorMapper) error {
	bounds := cm.Bounds()
	lines := []string{
		"Start: " + scope.TimeStart.In(a.tz).Format(time.RFC3339Nano),
		"End:   " + scope.TimeEnd.In(a.tz).Format(time.RFC3339Nano),
		fmt.Sprintf("Range: %s to %s, %s gates",
			humanRange(scope.Geometry.RangeKm(0)), humanRange(scope.MaxRangeKm()), humanize.Comma(int64(scope.Width))),
		fmt.Sprintf("Pulses: %s", humanize.Comma(int64(scope.Height))),
		fmt.Sprintf("Power: %.1f to %.1f dB, mean %.1f dB", bounds.Min, bounds.Max, bounds.Mean),
	}

	pt := freetype.Pt(3, img.Bounds().Dy()-a.InfoHeight()+int(fontSize)+4)
	for _, s := range lines {
		if _, err := a.context.DrawString(s, pt); err != nil {
			return err
		}
		pt.Y += a.context.PointToFixed(fontSize * spacing)
	}
	return nil
}

func humanRange(km float64) string {
	v, prefix := humanize.ComputeSI(km * 1000)
	return fmt.Sprintf("%.2f %sm", v, prefix)
}
