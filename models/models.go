package models

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Tool string

const (
	ToolPen    Tool = "pen"
	ToolEraser Tool = "eraser"
)

// Action is one drawn segment. Id is assigned by the server and is absent on
// actions created locally.
type Action struct {
	Page       int     `json:"page"`
	Prev       Point   `json:"prev"`
	Current    Point   `json:"current"`
	Tool       Tool    `json:"tool"`
	Color      string  `json:"color"`
	StrokeSize float64 `json:"strokeSize"`
	Id         string  `json:"id,omitempty"`
}

const (
	MaxPages       = 10000
	MaxStrokeSize  = 200
	maxColorLength = 64
)
