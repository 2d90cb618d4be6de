package render

import (
	"errors"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

var ErrUnknownColor = errors.New("unknown color")

// ParseColor understands #rgb, #rrggbb, #rrggbbaa and css color names.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		return parseHex(s[1:])
	}
	if c, ok := colornames.Map[strings.ToLower(s)]; ok {
		return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}, nil
	}
	return color.NRGBA{}, ErrUnknownColor
}

func parseHex(hex string) (color.NRGBA, error) {
	switch len(hex) {
	case 3:
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]}) + "ff"
	case 6:
		hex += "ff"
	case 8:
	default:
		return color.NRGBA{}, ErrUnknownColor
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, ErrUnknownColor
	}
	return color.NRGBA{
		R: uint8(v >> 24),
		G: uint8(v >> 16),
		B: uint8(v >> 8),
		A: uint8(v),
	}, nil
}
