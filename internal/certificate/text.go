package certificate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"unicode"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"example.com/certgate/internal/fonts"
)

// drawText renders s with its top-left corner (ascent line) at p. Text that
// is partly outside dst is clipped; text entirely outside is an error and
// nothing is drawn.
func drawText(dst draw.Image, face font.Face, col color.Color, p Point, s string) error {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(p.X), Y: fixed.I(p.Y) + face.Metrics().Ascent},
	}
	b, _ := d.BoundString(s)
	box := image.Rect(b.Min.X.Floor(), b.Min.Y.Floor(), b.Max.X.Ceil(), b.Max.Y.Ceil())
	if box.Empty() || !box.Overlaps(dst.Bounds()) {
		return fmt.Errorf("%w: text box %v outside %v", ErrOutOfBounds, box, dst.Bounds())
	}
	d.DrawString(s)
	return nil
}

// shape returns s in the order its glyphs are painted left to right.
func shape(s string, dir fonts.Direction) string {
	if dir == fonts.RightToLeft {
		return visualOrder(s)
	}
	return s
}

func isRTLScript(r rune) bool {
	return unicode.In(r, unicode.Arabic, unicode.Hebrew, unicode.Syriac, unicode.Thaana, unicode.Nko)
}

func isStrongLTR(r rune) bool {
	if unicode.IsDigit(r) {
		return true
	}
	return unicode.IsLetter(r) && !isRTLScript(r)
}

func isStrongRTL(r rune) bool {
	return !unicode.IsDigit(r) && isRTLScript(r) && !unicode.Is(unicode.Mn, r)
}

var mirrored = map[rune]rune{
	'(': ')', ')': '(',
	'[': ']', ']': '[',
	'{': '}', '}': '{',
	'<': '>', '>': '<',
	'«': '»', '»': '«',
}

// visualOrder lays out a right-to-left paragraph: runs are painted from the
// right, RTL runs are reversed character by character (keeping combining
// marks after their base), and embedded LTR runs such as Latin words or
// digits keep their own order. Neutrals between two LTR characters stay in
// the LTR run; all other neutrals follow the paragraph direction.
func visualOrder(s string) string {
	runes := []rune(s)
	type run struct {
		rtl   bool
		runes []rune
	}
	var runs []run
	for i := 0; i < len(runes); {
		if isStrongLTR(runes[i]) {
			last := i
			j := i + 1
			for ; j < len(runes) && !isStrongRTL(runes[j]); j++ {
				if isStrongLTR(runes[j]) {
					last = j
				}
			}
			runs = append(runs, run{runes: runes[i : last+1]})
			i = last + 1
			continue
		}
		j := i + 1
		for j < len(runes) && !isStrongLTR(runes[j]) {
			j++
		}
		runs = append(runs, run{rtl: true, runes: runes[i:j]})
		i = j
	}

	var b strings.Builder
	b.Grow(len(s))
	for k := len(runs) - 1; k >= 0; k-- {
		r := runs[k]
		if !r.rtl {
			b.WriteString(string(r.runes))
			continue
		}
		clusters := splitClusters(r.runes)
		for c := len(clusters) - 1; c >= 0; c-- {
			for n, ch := range clusters[c] {
				if n == 0 {
					if m, ok := mirrored[ch]; ok {
						ch = m
					}
				}
				b.WriteRune(ch)
			}
		}
	}
	return b.String()
}

// splitClusters groups each base rune with the nonspacing marks after it.
func splitClusters(rs []rune) [][]rune {
	var out [][]rune
	for i := 0; i < len(rs); {
		j := i + 1
		for j < len(rs) && unicode.Is(unicode.Mn, rs[j]) {
			j++
		}
		out = append(out, rs[i:j])
		i = j
	}
	return out
}
