package certificate

import "errors"

var (
	ErrTemplate     = errors.New("certificate: template cannot be loaded")
	ErrFont         = errors.New("certificate: font cannot be used")
	ErrEmptyName    = errors.New("certificate: attendee name is empty")
	ErrMissingGlyph = errors.New("certificate: glyph missing from selected font")
	ErrOutOfBounds  = errors.New("certificate: element lies outside the template")
	ErrQRCapacity   = errors.New("certificate: payload does not fit the QR code size")
)
