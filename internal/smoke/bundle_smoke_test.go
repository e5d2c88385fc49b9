package smoke

import (
	"archive/zip"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"example.com/certgate/internal/attendees"
	"example.com/certgate/internal/batch"
	"example.com/certgate/internal/certificate"
	"example.com/certgate/internal/common"
	"example.com/certgate/internal/config"
	"example.com/certgate/internal/fonts"
	"example.com/certgate/internal/report"
	"example.com/certgate/internal/verify"
)

func writeSigner(t *testing.T, keyPath, certPath string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	now := time.Now().UTC()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Bundle Signer", Organization: []string{"certgate"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatalf("WriteFile key: %v", err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		t.Fatalf("WriteFile cert: %v", err)
	}
}

func writeTemplate(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 800, 600))
	for y := 0; y < 600; y++ {
		for x := 0; x < 800; x++ {
			c := color.RGBA{0xff, 0xfb, 0xf0, 0xff}
			if x < 10 || y < 10 || x >= 790 || y >= 590 {
				c = color.RGBA{0x1a, 0x3c, 0x6e, 0xff}
			}
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create template: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Encode template: %v", err)
	}
}

type fixture struct {
	cfg      config.Config
	certPEM  []byte
	rep      *batch.Report
	ledger   *common.IssueLog
	qrRegion image.Rectangle
}

func runBatch(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	keyPath := filepath.Join(root, "signing.key")
	certPath := filepath.Join(root, "signing.crt")
	writeSigner(t, keyPath, certPath)
	writeTemplate(t, filepath.Join(root, "template.png"))
	names := "Name,Track\nJohn Doe,Go\nJane Smith,Cloud\n,Go\nJohn Doe,Web\n"
	if err := os.WriteFile(filepath.Join(root, "names.csv"), []byte(names), 0o644); err != nil {
		t.Fatalf("write names: %v", err)
	}
	yml := fmt.Sprintf(`event: GDG Basra Event
timestamp: "2026-02-05 19:00:00"
template: template.png
names:
  file: names.csv
font:
  size: 40
name: {x: 60, y: 200}
qr: {x: 540, y: 340, size: 240}
output:
  dir: %s
  format: png
  ledger: %s
signing:
  privateKey: signing.key
  certificate: signing.crt
workers: 3
`, filepath.Join(root, "out"), filepath.Join(root, "issued.jsonl"))
	cfgPath := filepath.Join(root, "certgate.yaml")
	if err := os.WriteFile(cfgPath, []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	tpl, err := certificate.LoadTemplateFile(cfg.Template)
	if err != nil {
		t.Fatalf("LoadTemplateFile: %v", err)
	}
	font, err := fonts.NewResolver(nil, nil, nil).Resolve(context.Background(), cfg.FontRequest())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	style, err := cfg.Style(font)
	if err != nil {
		t.Fatalf("Style: %v", err)
	}
	comp, err := certificate.New(tpl, style)
	if err != nil {
		t.Fatalf("certificate.New: %v", err)
	}
	f, err := os.Open(cfg.Names.File)
	if err != nil {
		t.Fatalf("open names: %v", err)
	}
	defer f.Close()
	list, err := attendees.Parse(cfg.Names.File, f, cfg.HeaderRow())
	if err != nil {
		t.Fatalf("parse names: %v", err)
	}
	key, _ := os.ReadFile(cfg.Signing.PrivateKey)
	certPEM, _ := os.ReadFile(cfg.Signing.Certificate)
	ledger := common.NewIssueLog(cfg.Output.Ledger)

	rep, err := batch.Run(context.Background(), batch.Job{
		Compositor:  comp,
		Attendees:   list,
		Event:       cfg.Event,
		Timestamp:   cfg.RunTimestamp(time.Now()),
		Format:      cfg.Format(),
		OutputDir:   cfg.Output.Dir,
		Workers:     cfg.Workers,
		Archive:     cfg.ArchiveEnabled(),
		ArchiveName: cfg.Output.ArchiveName,
		SigningKey:  key,
		SigningCert: certPEM,
		Ledger:      ledger,
	})
	if err != nil {
		t.Fatalf("batch.Run: %v", err)
	}
	return fixture{cfg: cfg, certPEM: certPEM, rep: rep, ledger: ledger, qrRegion: image.Rect(520, 320, 800, 600)}
}

func TestSignedBundleRoundTrip(t *testing.T) {
	fx := runBatch(t)
	rep := fx.rep
	if rep.Total != 4 || rep.Succeeded != 3 || rep.Failed != 1 || !rep.Signed {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Results[0].File != "John Doe.png" || rep.Results[3].File != "John Doe_2.png" {
		t.Fatalf("files = %q, %q", rep.Results[0].File, rep.Results[3].File)
	}
	if rep.Results[0].Digest != rep.Results[3].Digest {
		t.Fatal("duplicate names should share a digest")
	}

	check, err := batch.VerifyBundle(rep.ArchivePath, fx.certPEM)
	if err != nil {
		t.Fatalf("VerifyBundle: %v", err)
	}
	if !check.Signed || len(check.Manifest.Items) != 3 || check.Manifest.Event != fx.cfg.Event {
		t.Fatalf("check = %+v", check)
	}

	for _, res := range rep.Results {
		if !res.OK() {
			continue
		}
		text, err := verify.DecodeFile(res.Path, fx.qrRegion)
		if err != nil {
			t.Fatalf("DecodeFile %s: %v", res.File, err)
		}
		got, err := verify.CheckText(text)
		if err != nil {
			t.Fatalf("CheckText: %v", err)
		}
		if !got.Valid || got.Payload.Hash != res.Digest || got.Payload.Name != res.Name {
			t.Fatalf("verify %s = %+v", res.File, got)
		}
		entries, err := fx.ledger.Lookup(res.Digest)
		if err != nil || len(entries) == 0 || entries[0].RunID != rep.RunID {
			t.Fatalf("ledger lookup %s = %+v, %v", res.Digest, entries, err)
		}
	}

	summary, err := report.WriteSummary(rep, "")
	if err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	if _, err := os.Stat(summary); err != nil {
		t.Fatalf("summary missing: %v", err)
	}
}

func TestTamperedBundleFailsVerification(t *testing.T) {
	fx := runBatch(t)
	tampered := filepath.Join(t.TempDir(), "tampered.zip")
	rewriteBundle(t, fx.rep.ArchivePath, tampered, func(name string, data []byte) []byte {
		if name == "Jane Smith.png" {
			return append(data, 0)
		}
		return data
	})
	if _, err := batch.VerifyBundle(tampered, fx.certPEM); err == nil {
		t.Fatal("tampered document passed verification")
	}

	unsigned := filepath.Join(t.TempDir(), "unsigned.zip")
	rewriteBundle(t, fx.rep.ArchivePath, unsigned, func(name string, data []byte) []byte {
		if name == batch.SignatureName {
			return nil
		}
		return data
	})
	if _, err := batch.VerifyBundle(unsigned, fx.certPEM); err == nil || !strings.Contains(err.Error(), "not signed") {
		t.Fatalf("stripped signature: %v", err)
	}
}

// rewriteBundle copies src to dst passing every entry through edit; a nil
// result drops the entry.
func rewriteBundle(t *testing.T, src, dst string, edit func(name string, data []byte) []byte) {
	t.Helper()
	zr, err := zip.OpenReader(src)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	defer zr.Close()
	out, err := os.Create(dst)
	if err != nil {
		t.Fatalf("create bundle: %v", err)
	}
	defer out.Close()
	zw := zip.NewWriter(out)
	for _, zf := range zr.File {
		rc, err := zf.Open()
		if err != nil {
			t.Fatalf("open entry: %v", err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry: %v", err)
		}
		data = edit(zf.Name, data)
		if data == nil {
			continue
		}
		w, err := zw.Create(zf.Name)
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close bundle: %v", err)
	}
}
