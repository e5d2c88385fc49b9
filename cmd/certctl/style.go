package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"example.com/certgate/internal/certificate"
	"example.com/certgate/internal/config"
)

// styleFlags are the layout overrides shared by generate and preview. Only
// flags the operator actually set replace configuration values.
type styleFlags struct {
	fs *pflag.FlagSet

	template  string
	event     string
	timestamp string
	family    string
	fontFile  string
	direction string
	fontSize  float64
	color     string
	nameX     int
	nameY     int
	hashX     int
	hashY     int
	noHash    bool
	qrX       int
	qrY       int
	qrSize    int
}

func (s *styleFlags) bind(fs *pflag.FlagSet) {
	s.fs = fs
	fs.StringVarP(&s.template, "template", "t", "", "template image (PNG, JPEG, GIF, BMP, TIFF or WebP)")
	fs.StringVarP(&s.event, "event", "e", "", "event name")
	fs.StringVar(&s.timestamp, "timestamp", "", "run timestamp, "+config.TimestampLayout+" (default now)")
	fs.StringVar(&s.family, "font", "", "catalog font family")
	fs.StringVar(&s.fontFile, "font-file", "", "TrueType/OpenType font file")
	fs.StringVar(&s.direction, "direction", "", "text direction for the font (ltr or rtl)")
	fs.Float64Var(&s.fontSize, "font-size", 0, "name size in points")
	fs.StringVar(&s.color, "color", "", "text color, #RRGGBB")
	fs.IntVar(&s.nameX, "name-x", 0, "name anchor x")
	fs.IntVar(&s.nameY, "name-y", 0, "name anchor y")
	fs.IntVar(&s.hashX, "hash-x", 0, "hash anchor x")
	fs.IntVar(&s.hashY, "hash-y", 0, "hash anchor y")
	fs.BoolVar(&s.noHash, "no-hash", false, "do not print the short hash")
	fs.IntVar(&s.qrX, "qr-x", 0, "QR top-left x")
	fs.IntVar(&s.qrY, "qr-y", 0, "QR top-left y")
	fs.IntVar(&s.qrSize, "qr-size", 0, "QR side in pixels")
}

func (s *styleFlags) changed(name string) bool {
	return s.fs != nil && s.fs.Changed(name)
}

func (s *styleFlags) intPtr(name string, v int) *int {
	if !s.changed(name) {
		return nil
	}
	return &v
}

// apply copies set flags onto c and revalidates it.
func (s *styleFlags) apply(c *config.Config) error {
	if s.changed("template") {
		c.Template = s.template
	}
	if s.changed("event") {
		c.Event = s.event
	}
	if s.changed("timestamp") {
		c.Timestamp = s.timestamp
	}
	if s.changed("font") {
		c.Font.Family = s.family
		c.Font.File = ""
	}
	if s.changed("font-file") {
		c.Font.File = s.fontFile
	}
	if s.changed("direction") {
		c.Font.Direction = s.direction
	}
	if s.changed("font-size") {
		c.Font.Size = s.fontSize
	}
	if s.changed("color") {
		c.Font.Color = s.color
	}
	if p := s.intPtr("name-x", s.nameX); p != nil {
		c.Name.X = p
	}
	if p := s.intPtr("name-y", s.nameY); p != nil {
		c.Name.Y = p
	}
	if p := s.intPtr("hash-x", s.hashX); p != nil {
		c.Hash.X = p
	}
	if p := s.intPtr("hash-y", s.hashY); p != nil {
		c.Hash.Y = p
	}
	if s.changed("no-hash") {
		enabled := !s.noHash
		c.Hash.Enabled = &enabled
	}
	if p := s.intPtr("qr-x", s.qrX); p != nil {
		c.QR.X = p
	}
	if p := s.intPtr("qr-y", s.qrY); p != nil {
		c.QR.Y = p
	}
	if s.changed("qr-size") {
		c.QR.Size = s.qrSize
	}
	*c = c.WithDefaults()
	return c.Validate()
}

// buildCompositor loads the template and font named by c. A missing template
// or font is an input error.
func buildCompositor(ctx context.Context, c config.Config) (*certificate.Compositor, error) {
	if c.Template == "" {
		return nil, usageError(fmt.Errorf("no template configured (use --template)"))
	}
	tpl, err := certificate.LoadTemplateFile(c.Template)
	if err != nil {
		return nil, usageError(err)
	}
	f, err := newResolver().Resolve(ctx, c.FontRequest())
	if err != nil {
		return nil, usageError(fmt.Errorf("font: %w", err))
	}
	style, err := c.Style(f)
	if err != nil {
		return nil, usageError(err)
	}
	comp, err := certificate.New(tpl, style)
	if err != nil {
		return nil, usageError(err)
	}
	return comp, nil
}
