package models

import (
	"errors"
	"math"
	"regexp"
)

var (
	ErrInvalidPage       = errors.New("invalid page index")
	ErrInvalidPoint      = errors.New("invalid point")
	ErrInvalidTool       = errors.New("invalid tool")
	ErrInvalidStrokeSize = errors.New("invalid stroke size")
	ErrInvalidColor      = errors.New("invalid color")
)

// Any printable css color value. Renderers fall back for what they cannot parse.
var colorRegex = regexp.MustCompile(`^[^\x00-\x1f\x7f]+$`)

func (t Tool) Valid() bool {
	return t == ToolPen || t == ToolEraser
}

func (p Point) Valid() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// ValidColor reports whether color is usable as a pen color.
func ValidColor(color string) bool {
	return len(color) <= maxColorLength && colorRegex.MatchString(color)
}

func ValidPage(page int) bool {
	return page >= 0 && page < MaxPages
}

func (a Action) Validate() error {
	if !ValidPage(a.Page) {
		return ErrInvalidPage
	}
	if !a.Prev.Valid() || !a.Current.Valid() {
		return ErrInvalidPoint
	}
	if !a.Tool.Valid() {
		return ErrInvalidTool
	}
	if math.IsNaN(a.StrokeSize) || a.StrokeSize <= 0 || a.StrokeSize > MaxStrokeSize {
		return ErrInvalidStrokeSize
	}
	// Erasers ignore color.
	if a.Tool == ToolPen && !ValidColor(a.Color) {
		return ErrInvalidColor
	}
	return nil
}
