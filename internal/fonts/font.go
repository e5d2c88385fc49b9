package fonts

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

var ErrInvalidFont = errors.New("fonts: invalid font data")

// Font is a parsed font ready for rendering. It is safe for concurrent use;
// every Face call returns an independent face.
type Font struct {
	Family    string
	Direction Direction
	Bytes     int
	sf        *opentype.Font
}

// Parse validates raw TrueType/OpenType bytes.
func Parse(family string, dir Direction, data []byte) (*Font, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s: empty", ErrInvalidFont, family)
	}
	sf, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFont, family, err)
	}
	if dir == "" {
		dir = LeftToRight
	}
	return &Font{Family: family, Direction: dir, Bytes: len(data), sf: sf}, nil
}

// Bundled returns the compiled-in Go Regular font.
func Bundled() *Font {
	f, err := Parse(BundledFamily, LeftToRight, goregular.TTF)
	if err != nil {
		panic(fmt.Sprintf("fonts: bundled font: %v", err))
	}
	return f
}

// Face returns a new face at the given pixel size. Faces are not safe for
// concurrent use; callers close them when done.
func (f *Font) Face(size float64) (font.Face, error) {
	face, err := opentype.NewFace(f.sf, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFont, f.Family, err)
	}
	return face, nil
}

// MissingGlyph reports the first rune of s the font has no glyph for.
// Whitespace and control characters are ignored.
func (f *Font) MissingGlyph(s string) (rune, bool) {
	var buf sfnt.Buffer
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) || unicode.Is(unicode.Bidi_Control, r) {
			continue
		}
		idx, err := f.sf.GlyphIndex(&buf, r)
		if err != nil || idx == 0 {
			return r, true
		}
	}
	return 0, false
}
