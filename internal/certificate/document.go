package certificate

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Format is the document type written for each attendee.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatPNG Format = "png"
)

// pointsPerPixel maps template pixels to PDF points at 96 DPI.
const pointsPerPixel = 72.0 / 96.0

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pdf":
		return FormatPDF, nil
	case "png":
		return FormatPNG, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", s)
	}
}

func (f Format) Extension() string {
	return "." + string(f)
}

func (f Format) ContentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "application/pdf"
}

// Write serializes the artifact in the requested format.
func (a *Artifact) Write(w io.Writer, f Format) error {
	switch f {
	case FormatPNG:
		return a.WritePNG(w)
	case FormatPDF, "":
		return a.WritePDF(w)
	default:
		return fmt.Errorf("unsupported output format %q", f)
	}
}

func (a *Artifact) WritePNG(w io.Writer) error {
	return png.Encode(w, flatten(a.Image))
}

// WritePDF writes a single-page PDF whose page is exactly the certificate
// image. The digest is recorded in the document's subject and keywords.
func (a *Artifact) WritePDF(w io.Writer) error {
	var page bytes.Buffer
	if err := png.Encode(&page, flatten(a.Image)); err != nil {
		return fmt.Errorf("encode page image: %w", err)
	}
	b := a.Image.Bounds()
	wd := float64(b.Dx()) * pointsPerPixel
	ht := float64(b.Dy()) * pointsPerPixel

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: wd, Ht: ht},
	})
	pdf.SetTitle("Certificate - "+a.Name, true)
	pdf.SetAuthor(a.Event, true)
	pdf.SetCreator("certgate", false)
	pdf.SetSubject("sha256:"+a.Digest, false)
	pdf.SetKeywords(a.Digest, false)
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("certificate", opts, &page)
	pdf.ImageOptions("certificate", 0, 0, wd, ht, false, opts, 0, "")

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.Output(w)
}

// flatten composites the image over white, dropping the alpha channel the
// PDF page does not need.
func flatten(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}
