// Package render replays page logs onto drawing surfaces.
package render

import "github.com/zlnvch/pageboard/models"

// Surface paints single segments. Pen segments are painted with color,
// eraser segments remove paint under them. Caps and joins are round and a
// zero length segment paints a dot of diameter size.
type Surface interface {
	Stroke(prev, current models.Point, tool models.Tool, color string, size float64)
	Clear()
}

func Paint(surface Surface, action models.Action) {
	surface.Stroke(action.Prev, action.Current, action.Tool, action.Color, action.StrokeSize)
}

// Replay clears the surface then paints every action in log order.
func Replay(surface Surface, actions []models.Action) {
	surface.Clear()
	for _, action := range actions {
		Paint(surface, action)
	}
}
