package certificate

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Template is the shared background image. It is read-only once loaded.
type Template struct {
	img    image.Image
	format string
}

func NewTemplate(img image.Image) (*Template, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrTemplate)
	}
	return &Template{img: img}, nil
}

// LoadTemplate decodes PNG, JPEG, GIF, BMP, TIFF or WebP data.
func LoadTemplate(r io.Reader) (*Template, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplate, err)
	}
	tpl, err := NewTemplate(img)
	if err != nil {
		return nil, err
	}
	tpl.format = format
	return tpl, nil
}

func LoadTemplateFile(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplate, err)
	}
	defer f.Close()
	return LoadTemplate(f)
}

// Size returns the template width and height in pixels.
func (t *Template) Size() (int, int) {
	b := t.img.Bounds()
	return b.Dx(), b.Dy()
}

// Format is the decoder name reported by image.Decode, empty for templates
// built from an in-memory image.
func (t *Template) Format() string {
	return t.format
}
