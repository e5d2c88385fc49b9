package report

import (
	"encoding/hex"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// ChecksumLine formats a bundle digest the way sha256sum prints it, so a
// scanned summary can be pasted straight into "sha256sum -c".
func ChecksumLine(digest, archive string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(digest))
	if b, err := hex.DecodeString(d); err != nil || len(b) != 32 {
		return "", fmt.Errorf("bundle digest %q is not a SHA-256 hex string", digest)
	}
	if archive = strings.TrimSpace(archive); archive == "" {
		return d, nil
	}
	return d + "  " + archive, nil
}

// BundleQR renders the checksum line of a bundle as a QR code PNG.
func BundleQR(digest, archive string, size int) ([]byte, error) {
	line, err := ChecksumLine(digest, archive)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 128
	}
	return qrcode.Encode(line, qrcode.Medium, size)
}
