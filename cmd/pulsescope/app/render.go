package app

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
)

var ErrEmptyScope = errors.New("no pulses to render")

type RenderConfig struct {
	Theme       ColorTheme
	Bounds      *PowerBounds // derived from the data when nil
	Annotations bool
	Annotator   *Annotator
}

// ScopeRenderer draws a ScopeData as an image, range across and time down.
type ScopeRenderer struct {
	config RenderConfig
}

func NewScopeRenderer(config RenderConfig) (*ScopeRenderer, error) {
	if config.Annotations && config.Annotator == nil {
		return nil, errors.New("annotations need an annotator")
	}
	return &ScopeRenderer{config: config}, nil
}

func (r *ScopeRenderer) Render(scope *ScopeData) (*image.RGBA, error) {
	if scope.Width == 0 || scope.Height == 0 {
		return nil, ErrEmptyScope
	}

	bounds := scope.Histogram.Bounds()
	if r.config.Bounds != nil {
		bounds = *r.config.Bounds
	}
	cm := NewColorMapper(r.config.Theme, bounds)

	height := scope.Height
	if r.config.Annotations {
		height += r.config.Annotator.InfoHeight()
	}

	img := image.NewRGBA(image.Rect(0, 0, scope.Width, height))
	draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)

	for y, row := range scope.Rows {
		for x, db := range row {
			img.Set(x, y, cm.Color(db))
		}
	}

	if r.config.Annotations {
		if err := r.config.Annotator.Annotate(img, scope, cm); err != nil {
			return nil, fmt.Errorf("annotating: %w", err)
		}
	}
	return img, nil
}
