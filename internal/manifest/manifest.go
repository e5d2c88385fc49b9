package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/certgate/internal/common"
)

// Entry is one produced document handed to Build.
type Entry struct {
	Path     string // file on disk
	Name     string // path inside the bundle; defaults to the base name
	Attendee string
	Digest   string
}

type Item struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Sha256   string `json:"sha256"`
	Type     string `json:"type"`
	Attendee string `json:"attendee,omitempty"`
	Digest   string `json:"digest,omitempty"`
}

type Manifest struct {
	CreatedAt time.Time  `json:"createdAt"`
	ShaAlgo   string     `json:"shaAlgo"`
	Event     string     `json:"event,omitempty"`
	Items     []Item     `json:"items"`
	Signature *Signature `json:"signature,omitempty"`
}

type Signature struct {
	Type          string `json:"type"`
	CertSubject   string `json:"certSubject,omitempty"`
	Issuer        string `json:"issuer,omitempty"`
	SignatureFile string `json:"signatureFile,omitempty"`
}

func Build(event string, entries []Entry) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256", Event: event}
	for _, e := range entries {
		hex, sz, err := common.Sha256OfFile(e.Path)
		if err != nil { return m, err }
		name := e.Name
		if name == "" {
			name = filepath.Base(e.Path)
		}
		m.Items = append(m.Items, Item{
			Path:     filepath.ToSlash(name),
			Size:     sz,
			Sha256:   hex,
			Type:     typeOf(name),
			Attendee: e.Attendee,
			Digest:   e.Digest,
		})
	}
	return m, nil
}

func typeOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "pdf"
	case ".png":
		return "png"
	case ".json":
		return "json"
	default:
		return "other"
	}
}

func (m Manifest) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func Save(m Manifest, out string) error {
	b, err := m.Marshal()
	if err != nil { return err }
	return os.WriteFile(out, b, 0644)
}

func Load(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil { return m, err }
	err = json.Unmarshal(b, &m)
	return m, err
}
