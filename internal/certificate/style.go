package certificate

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"example.com/certgate/internal/fonts"
)

const (
	DefaultFontSize = 60
	DefaultQRSize   = 150
	minHashFontSize = 12
	cornerMargin    = 50
)

// Point is a pixel position measured from the template's top-left corner.
type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Style describes how every certificate of a run is laid out. Nil anchors
// fall back to the defaults: name at the centre, hash near the bottom-left
// corner, QR code near the bottom-right corner.
type Style struct {
	Font     *fonts.Font
	FontSize float64
	Color    color.Color
	Name     *Point
	Hash     *Point
	HideHash bool
	QR       *Point
	QRSize   int
}

type layout struct {
	font         *fonts.Font
	fontSize     float64
	hashFontSize float64
	color        color.Color
	name         Point
	hash         Point
	showHash     bool
	qr           Point
	qrSize       int
}

func (s Style) resolve(width, height int) (layout, error) {
	if s.Font == nil {
		return layout{}, fmt.Errorf("%w: no font resolved", ErrFont)
	}
	l := layout{
		font:     s.Font,
		fontSize: s.FontSize,
		color:    s.Color,
		showHash: !s.HideHash,
		qrSize:   s.QRSize,
	}
	if l.fontSize <= 0 {
		l.fontSize = DefaultFontSize
	}
	l.hashFontSize = float64(int(l.fontSize) / 3)
	if l.hashFontSize < minHashFontSize {
		l.hashFontSize = minHashFontSize
	}
	if l.color == nil {
		l.color = color.Black
	}
	if l.qrSize <= 0 {
		l.qrSize = DefaultQRSize
	}
	l.name = pointOr(s.Name, Point{X: width / 2, Y: height / 2})
	l.hash = pointOr(s.Hash, Point{X: cornerMargin, Y: height - 100})
	l.qr = pointOr(s.QR, Point{X: width - l.qrSize - cornerMargin, Y: height - l.qrSize - cornerMargin})
	if l.qr.X < 0 || l.qr.Y < 0 || l.qr.X+l.qrSize > width || l.qr.Y+l.qrSize > height {
		return layout{}, fmt.Errorf("%w: %dpx QR code at (%d,%d) does not fit a %dx%d template",
			ErrOutOfBounds, l.qrSize, l.qr.X, l.qr.Y, width, height)
	}
	return l, nil
}

func pointOr(p *Point, fallback Point) Point {
	if p == nil {
		return fallback
	}
	return *p
}

// ParseColor reads "#RRGGBB" or "#RGB" (the leading # is optional).
func ParseColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
