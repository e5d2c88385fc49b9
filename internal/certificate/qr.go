package certificate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	// minModulePixels is the smallest module edge the verifier reads back
	// reliably from a rendered certificate.
	minModulePixels = 2
	quietModules    = 2
)

// PayloadQR encodes the verification payload as a size x size QR image.
// Every module is a square of whole pixels centred on a white field with a
// quiet zone of at least two modules. ErrQRCapacity is returned when size
// cannot give each module two pixels.
func PayloadQR(payload []byte, size int) (image.Image, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("qr payload is empty")
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	code, err := qrcode.New(string(payload), qrcode.Low)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQRCapacity, err)
	}
	code.DisableBorder = true
	bits := code.Bitmap()
	scale := size / (len(bits) + 2*quietModules)
	if scale < minModulePixels {
		return nil, fmt.Errorf("%w: %d byte payload needs a %dpx QR code, have %dpx",
			ErrQRCapacity, len(payload), (len(bits)+2*quietModules)*minModulePixels, size)
	}

	img := image.NewGray(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	dark := image.NewUniform(color.Black)
	offset := (size - len(bits)*scale) / 2
	for y, row := range bits {
		for x, on := range row {
			if !on {
				continue
			}
			px := offset + x*scale
			py := offset + y*scale
			draw.Draw(img, image.Rect(px, py, px+scale, py+scale), dark, image.Point{}, draw.Src)
		}
	}
	return img, nil
}
