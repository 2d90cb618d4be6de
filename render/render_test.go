package render_test

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/pageboard/models"
	"github.com/zlnvch/pageboard/render"
)

type call struct {
	clear   bool
	prev    models.Point
	current models.Point
	tool    models.Tool
	color   string
	size    float64
}

type recordingSurface struct {
	calls []call
}

func (s *recordingSurface) Stroke(prev, current models.Point, tool models.Tool, color string, size float64) {
	s.calls = append(s.calls, call{prev: prev, current: current, tool: tool, color: color, size: size})
}

func (s *recordingSurface) Clear() {
	s.calls = append(s.calls, call{clear: true})
}

// visible returns what the surface shows: everything after the last clear.
func (s *recordingSurface) visible() []call {
	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].clear {
			return s.calls[i+1:]
		}
	}
	return s.calls
}

func sampleLog() []models.Action {
	return []models.Action{
		{Page: 0, Prev: models.Point{X: 0, Y: 0}, Current: models.Point{X: 10, Y: 10}, Tool: models.ToolPen, Color: "#000", StrokeSize: 4},
		{Page: 0, Prev: models.Point{X: 10, Y: 10}, Current: models.Point{X: 20, Y: 5}, Tool: models.ToolEraser, StrokeSize: 12},
	}
}

func TestReplay_ClearsThenPaintsInOrder(t *testing.T) {
	s := &recordingSurface{}
	render.Replay(s, sampleLog())

	require.Len(t, s.calls, 3)
	assert.True(t, s.calls[0].clear)
	assert.Equal(t, models.Point{X: 10, Y: 10}, s.calls[1].current)
	assert.Equal(t, models.ToolEraser, s.calls[2].tool)
	assert.Equal(t, 12.0, s.calls[2].size)
}

func TestReplay_Idempotent(t *testing.T) {
	once := &recordingSurface{}
	render.Replay(once, sampleLog())

	twice := &recordingSurface{}
	render.Replay(twice, sampleLog())
	render.Replay(twice, sampleLog())

	assert.Equal(t, once.visible(), twice.visible())
}

func TestReplay_EmptyLogOnlyClears(t *testing.T) {
	s := &recordingSurface{}
	render.Replay(s, nil)
	assert.Equal(t, []call{{clear: true}}, s.calls)
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.NRGBA
		wantErr bool
	}{
		{"#000", color.NRGBA{R: 0, G: 0, B: 0, A: 255}, false},
		{"#fff", color.NRGBA{R: 255, G: 255, B: 255, A: 255}, false},
		{"#ff8000", color.NRGBA{R: 255, G: 128, B: 0, A: 255}, false},
		{"#11223344", color.NRGBA{R: 0x11, G: 0x22, B: 0x33, A: 0x44}, false},
		{"Red", color.NRGBA{R: 255, G: 0, B: 0, A: 255}, false},
		{"#12345", color.NRGBA{}, true},
		{"#gggggg", color.NRGBA{}, true},
		{"notacolor", color.NRGBA{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := render.ParseColor(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, render.ErrUnknownColor)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
