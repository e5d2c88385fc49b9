package certificate

import (
	"fmt"
	"image"
	"image/draw"
	"strings"

	"github.com/disintegration/imaging"
)

// Artifact is one generated certificate.
type Artifact struct {
	Name      string
	Event     string
	Timestamp string
	Digest    string
	Payload   []byte
	Image     *image.NRGBA
}

// Compositor renders certificates from one template and one style. It holds
// no mutable state and is safe for concurrent use.
type Compositor struct {
	template *Template
	layout   layout
}

// New validates the style against the template once for the whole run.
func New(tpl *Template, style Style) (*Compositor, error) {
	if tpl == nil || tpl.img == nil {
		return nil, fmt.Errorf("%w: no template", ErrTemplate)
	}
	w, h := tpl.Size()
	l, err := style.resolve(w, h)
	if err != nil {
		return nil, err
	}
	return &Compositor{template: tpl, layout: l}, nil
}

// Generate produces the certificate for one attendee. The timestamp is
// supplied by the caller so the digest is reproducible.
func (c *Compositor) Generate(name, event, timestamp string) (*Artifact, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	l := c.layout
	if r, missing := l.font.MissingGlyph(name); missing {
		return nil, fmt.Errorf("%w: %q (U+%04X) in %s", ErrMissingGlyph, r, r, l.font.Family)
	}

	canvas := imaging.Clone(c.template.img)
	payload := NewPayload(name, event, timestamp)

	nameFace, err := l.font.Face(l.fontSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFont, err)
	}
	defer nameFace.Close()
	if err := drawText(canvas, nameFace, l.color, l.name, shape(name, l.font.Direction)); err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}

	if l.showHash {
		id := DisplayID(payload.Hash)
		if r, missing := l.font.MissingGlyph(id); missing {
			return nil, fmt.Errorf("%w: %q (U+%04X) in %s", ErrMissingGlyph, r, r, l.font.Family)
		}
		hashFace, err := l.font.Face(l.hashFontSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFont, err)
		}
		defer hashFace.Close()
		if err := drawText(canvas, hashFace, l.color, l.hash, id); err != nil {
			return nil, fmt.Errorf("hash: %w", err)
		}
	}

	data, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	qr, err := PayloadQR(data, l.qrSize)
	if err != nil {
		return nil, err
	}
	at := image.Pt(l.qr.X, l.qr.Y)
	draw.Draw(canvas, image.Rectangle{Min: at, Max: at.Add(image.Pt(l.qrSize, l.qrSize))}, qr, qr.Bounds().Min, draw.Src)

	return &Artifact{
		Name:      name,
		Event:     event,
		Timestamp: timestamp,
		Digest:    payload.Hash,
		Payload:   data,
		Image:     canvas,
	}, nil
}
