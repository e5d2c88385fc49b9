package certificate

import (
	"bytes"
	"encoding/json"
	"strings"

	"example.com/certgate/internal/common"
)

// Digest binds a certificate to its attendee, event and timestamp:
// hex(SHA256(name || event || timestamp)).
func Digest(name, event, timestamp string) string {
	h := common.NewHasher()
	h.WriteString(name)
	h.WriteString(event)
	h.WriteString(timestamp)
	return h.Sum()
}

// DisplayID is the short form printed on the certificate.
func DisplayID(digest string) string {
	short := digest
	if len(short) > 12 {
		short = short[:12]
	}
	return "ID: " + strings.ToUpper(short)
}

// Payload is the verification record carried by the QR code. Field order is
// part of the wire format.
type Payload struct {
	Hash  string `json:"hash"`
	Name  string `json:"name"`
	Event string `json:"event"`
	Date  string `json:"date"`
}

// NewPayload builds the record for one attendee.
func NewPayload(name, event, timestamp string) Payload {
	return Payload{
		Hash:  Digest(name, event, timestamp),
		Name:  name,
		Event: event,
		Date:  timestamp,
	}
}

// Marshal returns the compact JSON encoding without HTML escaping, so names
// containing <, > or & are carried verbatim.
func (p Payload) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
