package verify

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"example.com/certgate/internal/certificate"
	"example.com/certgate/internal/fonts"
)

const (
	testEvent = "GDG Basra Event"
	testDate  = "2026-02-05 19:00:00"
)

func generate(t *testing.T, name string) *certificate.Artifact {
	t.Helper()
	tpl, err := certificate.NewTemplate(imaging.New(1000, 700, color.White))
	if err != nil {
		t.Fatalf("NewTemplate: %v", err)
	}
	c, err := certificate.New(tpl, certificate.Style{
		Font:     fonts.Bundled(),
		FontSize: 48,
		Name:     &certificate.Point{X: 60, Y: 80},
		QR:       &certificate.Point{X: 620, Y: 320},
		QRSize:   320,
	})
	if err != nil {
		t.Fatalf("certificate.New: %v", err)
	}
	art, err := c.Generate(name, testEvent, testDate)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return art
}

func TestQRRoundTrip(t *testing.T) {
	for _, name := range []string{"John Doe", "Tom & Jerry <3"} {
		art := generate(t, name)
		text, err := DecodeImage(art.Image, image.Rect(600, 300, 960, 660))
		if err != nil {
			t.Fatalf("DecodeImage(%q): %v", name, err)
		}
		if text != string(art.Payload) {
			t.Fatalf("decoded %q, want %q", text, art.Payload)
		}
		res, err := CheckText(text)
		if err != nil {
			t.Fatalf("CheckText: %v", err)
		}
		if !res.Valid || res.Payload.Name != name || res.Payload.Date != testDate {
			t.Fatalf("result = %+v", res)
		}
	}
}

func TestQRRoundTripLongPayloads(t *testing.T) {
	cases := map[string]certificate.Payload{
		"latin 200":  certificate.NewPayload(strings.Repeat("Bartholomew ", 17)[:200], testEvent, testDate),
		"arabic 100": certificate.NewPayload(strings.Repeat("محمد ", 20), testEvent, testDate),
		"long event": certificate.NewPayload("Jane Smith", strings.Repeat("Go Developer Summit ", 9), testDate),
	}
	for label, p := range cases {
		data, err := p.Marshal()
		if err != nil {
			t.Fatalf("%s: Marshal: %v", label, err)
		}
		for _, size := range []int{certificate.DefaultQRSize, 300} {
			img, err := certificate.PayloadQR(data, size)
			if err != nil {
				t.Fatalf("%s at %dpx: PayloadQR: %v", label, size, err)
			}
			text, err := DecodeImage(img, image.Rectangle{})
			if err != nil {
				t.Fatalf("%s at %dpx: DecodeImage: %v", label, size, err)
			}
			if text != string(data) {
				t.Fatalf("%s at %dpx: decoded %q, want %q", label, size, text, data)
			}
		}
	}
}

func TestGenerateLongNameRoundTrip(t *testing.T) {
	name := strings.Repeat("Maximilian ", 19)[:200]
	tpl, err := certificate.NewTemplate(imaging.New(1000, 700, color.White))
	if err != nil {
		t.Fatalf("NewTemplate: %v", err)
	}
	c, err := certificate.New(tpl, certificate.Style{Font: fonts.Bundled(), FontSize: 24, Name: &certificate.Point{X: 20, Y: 40}})
	if err != nil {
		t.Fatalf("certificate.New: %v", err)
	}
	art, err := c.Generate(name, testEvent, testDate)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	text, err := DecodeImage(art.Image, image.Rectangle{})
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	if text != string(art.Payload) {
		t.Fatalf("decoded %q, want %q", text, art.Payload)
	}
}

func TestDecodeFileWholeImage(t *testing.T) {
	art := generate(t, "Jane Smith")
	path := filepath.Join(t.TempDir(), "Jane Smith.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, art.Image); err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.Close()

	text, err := DecodeFile(path, image.Rectangle{})
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if !strings.Contains(text, art.Digest) {
		t.Fatalf("payload %q lacks digest", text)
	}
}

func TestDecodeBlankImage(t *testing.T) {
	if _, err := DecodeImage(imaging.New(200, 200, color.White), image.Rectangle{}); !errors.Is(err, ErrNoCode) {
		t.Fatalf("err = %v", err)
	}
}

func TestCheckDetectsTampering(t *testing.T) {
	p := certificate.NewPayload("John Doe", testEvent, testDate)
	p.Name = "Jane Doe"
	if res := Check(p); res.Valid {
		t.Fatalf("tampered payload accepted")
	}
}

func TestParsePayloadErrors(t *testing.T) {
	good := certificate.NewPayload("John Doe", testEvent, testDate)
	data, _ := good.Marshal()
	if _, err := ParsePayload(string(data)); err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	bad := []string{
		"",
		"not json",
		`{"name":"John Doe","event":"e","date":"d"}`,
		`{"hash":"xyz","name":"John Doe","event":"e","date":"d"}`,
		`{"hash":"` + good.Hash + `","name":null,"event":"e","date":"d"}`,
		`{"hash":"` + good.Hash + `","name":"John Doe","event":null,"date":"d"}`,
		`{"hash":"` + good.Hash + `","name":"John Doe","event":"e","date":20260205}`,
		`{"hash":null,"name":"John Doe","event":"e","date":"d"}`,
	}
	for _, in := range bad {
		if _, err := ParsePayload(in); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("ParsePayload(%q) err = %v", in, err)
		}
	}
}
