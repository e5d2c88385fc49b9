package verify

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	zxqrcode "github.com/makiuchi-d/gozxing/qrcode"

	"example.com/certgate/internal/certificate"
)

var (
	ErrNoCode         = errors.New("verify: no QR code found")
	ErrInvalidPayload = errors.New("verify: invalid payload")
)

// Result is the outcome of checking one payload.
type Result struct {
	Payload  certificate.Payload `json:"payload"`
	Expected string              `json:"expected"`
	Valid    bool                `json:"valid"`
}

// decodeScales are tried in order. Small modules on a large certificate can
// defeat the binarizer; nearest-neighbour upscaling keeps them crisp.
var decodeScales = []int{1, 2, 3}

const maxDecodePixels = 40 << 20

// DecodeImage reads the QR code text from a certificate image. When region is
// non-empty only that part of the image is scanned.
func DecodeImage(img image.Image, region image.Rectangle) (string, error) {
	if img == nil {
		return "", ErrNoCode
	}
	if !region.Empty() {
		img = imaging.Crop(img, region)
	}
	b := img.Bounds()
	var lastErr error
	for _, scale := range decodeScales {
		candidate := img
		if scale > 1 {
			if b.Dx()*b.Dy()*scale*scale > maxDecodePixels {
				break
			}
			candidate = imaging.Resize(img, b.Dx()*scale, b.Dy()*scale, imaging.NearestNeighbor)
		}
		text, err := decodeQR(candidate)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: %v", ErrNoCode, lastErr)
}

func decodeQR(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER:    true,
		gozxing.DecodeHintType_CHARACTER_SET: "UTF-8",
	}
	res, err := zxqrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", err
	}
	return res.GetText(), nil
}

// DecodeFile decodes an image file (PNG, JPEG, GIF, BMP, TIFF or WebP).
func DecodeFile(path string, region image.Rectangle) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	return DecodeImage(img, region)
}

// ParsePayload decodes the JSON carried by the QR code. All four fields are
// required strings (null is rejected) and the hash must be 64 hex characters.
func ParsePayload(text string) (certificate.Payload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &fields); err != nil {
		return certificate.Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var p certificate.Payload
	for _, f := range []struct {
		key string
		dst *string
	}{
		{"hash", &p.Hash},
		{"name", &p.Name},
		{"event", &p.Event},
		{"date", &p.Date},
	} {
		raw, ok := fields[f.key]
		if !ok {
			return certificate.Payload{}, fmt.Errorf("%w: missing %q", ErrInvalidPayload, f.key)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '"' {
			return certificate.Payload{}, fmt.Errorf("%w: %q is not a string", ErrInvalidPayload, f.key)
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return certificate.Payload{}, fmt.Errorf("%w: %q: %v", ErrInvalidPayload, f.key, err)
		}
	}
	if _, err := hex.DecodeString(p.Hash); err != nil || len(p.Hash) != 64 {
		return certificate.Payload{}, fmt.Errorf("%w: hash is not a sha256 hex digest", ErrInvalidPayload)
	}
	return p, nil
}

// Check recomputes the digest from the payload's name, event and date.
func Check(p certificate.Payload) Result {
	want := certificate.Digest(p.Name, p.Event, p.Date)
	return Result{
		Payload:  p,
		Expected: want,
		Valid:    strings.EqualFold(want, p.Hash),
	}
}

// CheckText parses and checks a raw payload string.
func CheckText(text string) (Result, error) {
	p, err := ParsePayload(text)
	if err != nil {
		return Result{}, err
	}
	return Check(p), nil
}
