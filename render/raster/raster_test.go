package raster_test

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/pageboard/models"
	"github.com/zlnvch/pageboard/render"
	"github.com/zlnvch/pageboard/render/raster"
)

func pen(x1, y1, x2, y2 float64, color string, size float64) models.Action {
	return models.Action{
		Prev:       models.Point{X: x1, Y: y1},
		Current:    models.Point{X: x2, Y: y2},
		Tool:       models.ToolPen,
		Color:      color,
		StrokeSize: size,
	}
}

func eraser(x1, y1, x2, y2 float64, size float64) models.Action {
	return models.Action{
		Prev:       models.Point{X: x1, Y: y1},
		Current:    models.Point{X: x2, Y: y2},
		Tool:       models.ToolEraser,
		StrokeSize: size,
	}
}

func TestPenPaintsColor(t *testing.T) {
	c := raster.New(100, 100)
	render.Paint(c, pen(10, 10, 50, 10, "#ff0000", 6))

	px := c.Image().RGBAAt(30, 10)
	assert.Equal(t, uint8(255), px.R)
	assert.Equal(t, uint8(0), px.G)
	assert.Equal(t, uint8(255), px.A)

	assert.Equal(t, uint8(0), c.Image().RGBAAt(30, 40).A)
}

func TestZeroLengthSegmentPaintsDot(t *testing.T) {
	c := raster.New(100, 100)
	render.Paint(c, pen(70, 70, 70, 70, "blue", 8))

	px := c.Image().RGBAAt(70, 70)
	assert.Equal(t, uint8(255), px.B)
	assert.Equal(t, uint8(255), px.A)
}

func TestEraserRemovesPaint(t *testing.T) {
	c := raster.New(100, 100)
	render.Paint(c, pen(10, 10, 50, 10, "#000", 6))
	render.Paint(c, pen(10, 60, 50, 60, "#000", 6))
	render.Paint(c, eraser(10, 10, 50, 10, 12))

	assert.Equal(t, uint8(0), c.Image().RGBAAt(30, 10).A)
	assert.Equal(t, uint8(255), c.Image().RGBAAt(30, 60).A)
}

func TestEraserOutsideCanvasIsIgnored(t *testing.T) {
	c := raster.New(10, 10)
	render.Paint(c, pen(0, 5, 10, 5, "#000", 4))
	render.Paint(c, eraser(500, 500, 600, 600, 4))

	assert.Equal(t, uint8(255), c.Image().RGBAAt(5, 5).A)
}

func TestReplayIsIdempotent(t *testing.T) {
	log := []models.Action{
		pen(5, 5, 90, 90, "#336699", 5),
		pen(90, 5, 5, 90, "rgba", 3),
		eraser(40, 40, 60, 60, 10),
		pen(50, 50, 50, 50, "#0f0", 7),
	}

	c := raster.New(100, 100)
	render.Replay(c, log)
	once := append([]byte(nil), c.Image().Pix...)

	render.Replay(c, log)
	render.Replay(c, log)
	assert.True(t, bytes.Equal(once, c.Image().Pix))
}

func TestClearMakesTransparent(t *testing.T) {
	c := raster.New(20, 20)
	render.Paint(c, pen(0, 0, 20, 20, "#000", 10))
	c.Clear()

	for _, v := range c.Image().Pix {
		if v != 0 {
			t.Fatalf("expected transparent canvas after clear")
		}
	}
}

func TestEncodePNG(t *testing.T) {
	c := raster.New(32, 16)
	render.Paint(c, pen(0, 8, 32, 8, "#000", 2))

	var buf bytes.Buffer
	require.NoError(t, c.EncodePNG(&buf))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())
}
