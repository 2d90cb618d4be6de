// Package raster paints page logs into RGBA images.
package raster

import (
	"image"
	"image/color"
	"image/draw"
	"io"
	"math"

	"github.com/charmbracelet/log"
	"github.com/fogleman/gg"
	"github.com/zlnvch/pageboard/models"
	"github.com/zlnvch/pageboard/render"
)

// Canvas is a transparent bitmap surface. Erasing is destination-out: the
// eraser footprint is rendered into a mask and the canvas alpha is scaled by
// the inverse of the mask coverage.
type Canvas struct {
	dc   *gg.Context
	mask *gg.Context
}

func New(width, height int) *Canvas {
	c := &Canvas{
		dc:   gg.NewContext(width, height),
		mask: gg.NewContext(width, height),
	}
	c.Clear()
	return c
}

func (c *Canvas) Width() int  { return c.dc.Width() }
func (c *Canvas) Height() int { return c.dc.Height() }

func (c *Canvas) Clear() {
	c.dc.SetColor(color.Transparent)
	c.dc.Clear()
}

func (c *Canvas) Stroke(prev, current models.Point, tool models.Tool, colorName string, size float64) {
	if !prev.Valid() || !current.Valid() || size <= 0 {
		return
	}

	if tool == models.ToolEraser {
		c.erase(prev, current, size)
		return
	}

	col, err := render.ParseColor(colorName)
	if err != nil {
		log.Debug("Unknown stroke color, painting black", "color", colorName)
		col = color.NRGBA{A: 255}
	}
	c.dc.SetColor(col)
	segment(c.dc, prev, current, size)
}

func (c *Canvas) erase(prev, current models.Point, size float64) {
	dst := c.dc.Image().(*image.RGBA)
	bounds := segmentBounds(prev, current, size).Intersect(dst.Bounds())
	if bounds.Empty() {
		return
	}

	mask := c.mask.Image().(*image.RGBA)
	draw.Draw(mask, bounds, image.Transparent, image.Point{}, draw.Src)
	c.mask.SetColor(color.Black)
	segment(c.mask, prev, current, size)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			coverage := uint32(mask.Pix[mask.PixOffset(x, y)+3])
			if coverage == 0 {
				continue
			}
			keep := 255 - coverage
			i := dst.PixOffset(x, y)
			// Premultiplied channels scale together.
			for k := 0; k < 4; k++ {
				dst.Pix[i+k] = uint8(uint32(dst.Pix[i+k]) * keep / 255)
			}
		}
	}
}

func segment(dc *gg.Context, prev, current models.Point, size float64) {
	if prev == current {
		dc.DrawCircle(current.X, current.Y, size/2)
		dc.Fill()
		return
	}
	dc.SetLineWidth(size)
	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)
	dc.DrawLine(prev.X, prev.Y, current.X, current.Y)
	dc.Stroke()
}

func segmentBounds(prev, current models.Point, size float64) image.Rectangle {
	pad := size/2 + 2
	minX := math.Floor(math.Min(prev.X, current.X) - pad)
	minY := math.Floor(math.Min(prev.Y, current.Y) - pad)
	maxX := math.Ceil(math.Max(prev.X, current.X) + pad)
	maxY := math.Ceil(math.Max(prev.Y, current.Y) + pad)
	return image.Rect(clampInt(minX), clampInt(minY), clampInt(maxX), clampInt(maxY))
}

func clampInt(v float64) int {
	const limit = 1 << 30
	if v < -limit {
		return -limit
	}
	if v > limit {
		return limit
	}
	return int(v)
}

func (c *Canvas) Image() *image.RGBA {
	return c.dc.Image().(*image.RGBA)
}

func (c *Canvas) EncodePNG(w io.Writer) error {
	return c.dc.EncodePNG(w)
}
