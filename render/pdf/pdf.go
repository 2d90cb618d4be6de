// Package pdf records painted segments and writes them out as a one page PDF.
package pdf

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/jung-kurt/gofpdf"
	"github.com/zlnvch/pageboard/models"
	"github.com/zlnvch/pageboard/render"
)

type segment struct {
	prev, current models.Point
	tool          models.Tool
	color         string
	size          float64
}

// Document is a vector surface measured in points. The eraser paints the
// paper color since PDF has no destination-out blending.
type Document struct {
	width, height float64
	segments      []segment
}

func New(width, height float64) *Document {
	return &Document{width: width, height: height}
}

func (d *Document) Stroke(prev, current models.Point, tool models.Tool, color string, size float64) {
	d.segments = append(d.segments, segment{prev: prev, current: current, tool: tool, color: color, size: size})
}

func (d *Document) Clear() {
	d.segments = d.segments[:0]
}

func (d *Document) Len() int {
	return len(d.segments)
}

func (d *Document) Write(w io.Writer) error {
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: d.width, Ht: d.height},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	pdf.SetLineCapStyle("round")
	pdf.SetLineJoinStyle("round")

	for _, s := range d.segments {
		r, g, b := 255, 255, 255
		if s.tool != models.ToolEraser {
			c, err := render.ParseColor(s.color)
			if err != nil {
				log.Debug("Unknown stroke color, painting black", "color", s.color)
			}
			r, g, b = int(c.R), int(c.G), int(c.B)
		}

		if s.prev == s.current {
			pdf.SetFillColor(r, g, b)
			pdf.Circle(s.current.X, s.current.Y, s.size/2, "F")
			continue
		}
		pdf.SetDrawColor(r, g, b)
		pdf.SetLineWidth(s.size)
		pdf.Line(s.prev.X, s.prev.Y, s.current.X, s.current.Y)
	}

	return pdf.Output(w)
}
