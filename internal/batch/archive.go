package batch

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"example.com/certgate/internal/common"
	"example.com/certgate/internal/crypto"
	"example.com/certgate/internal/manifest"
)

const (
	ManifestName  = "manifest.json"
	SignatureName = "manifest.jws"
)

func bundle(ctx context.Context, job Job, rep *Report, logger *zap.Logger) error {
	name := job.ArchiveName
	if name == "" {
		name = DefaultArchiveName
	}
	if filepath.Base(name) != name {
		return &PackagingError{Op: "archive", Err: fmt.Errorf("archive name %q must be a plain file name", name)}
	}

	var entries []manifest.Entry
	for _, res := range rep.Results {
		if !res.OK() {
			continue
		}
		entries = append(entries, manifest.Entry{Path: res.Path, Name: res.File, Attendee: res.Name, Digest: res.Digest})
	}
	m, err := manifest.Build(job.Event, entries)
	if err != nil {
		return &PackagingError{Op: "manifest", Err: err}
	}

	var sig []byte
	if len(job.SigningKey) > 0 {
		m.Signature = &manifest.Signature{Type: "JWS-RS256", SignatureFile: SignatureName}
		if len(job.SigningCert) > 0 {
			subject, issuer, err := crypto.CertificateInfo(job.SigningCert)
			if err != nil {
				return &PackagingError{Op: "sign", Err: fmt.Errorf("signing certificate: %w", err)}
			}
			m.Signature.CertSubject = subject
			m.Signature.Issuer = issuer
		}
	}
	manifestJSON, err := m.Marshal()
	if err != nil {
		return &PackagingError{Op: "manifest", Err: err}
	}
	if len(job.SigningKey) > 0 {
		jws, err := crypto.SignDetachedJWS(manifestJSON, job.SigningKey, rep.RunID)
		if err != nil {
			return &PackagingError{Op: "sign", Err: err}
		}
		sig = []byte(jws.Compact() + "\n")
		rep.Signed = true
	}

	path := filepath.Join(job.OutputDir, name)
	if err := writeArchive(path, entries, manifestJSON, sig); err != nil {
		return &PackagingError{Op: "archive", Err: err}
	}
	rep.Archive = name
	rep.ArchivePath = path
	logger.Info("bundle written", zap.String("path", path), zap.Int("documents", len(entries)), zap.Bool("signed", rep.Signed))

	if job.Publisher != nil {
		url, err := job.Publisher.Publish(ctx, rep.RunID+"/"+name, path, "application/zip")
		if err != nil {
			return &PackagingError{Op: "publish", Err: err}
		}
		rep.ArchiveURL = url
	}
	return nil
}

func writeArchive(path string, entries []manifest.Entry, manifestJSON, sig []byte) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()
	zw := zip.NewWriter(f)
	now := time.Now()
	for _, e := range entries {
		if err := addFile(zw, e.Name, e.Path, now); err != nil {
			return err
		}
	}
	if err := addBytes(zw, ManifestName, manifestJSON, now); err != nil {
		return err
	}
	if len(sig) > 0 {
		if err := addBytes(zw, SignatureName, sig, now); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return f.Close()
}

func addFile(zw *zip.Writer, name, path string, mod time.Time) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: mod})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

func addBytes(zw *zip.Writer, name string, data []byte, mod time.Time) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: mod})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// BundleCheck is the outcome of VerifyBundle.
type BundleCheck struct {
	Manifest manifest.Manifest
	Signed   bool
}

// VerifyBundle extracts a bundle into a scratch workspace, checks the
// manifest signature against certPEM (when the bundle is signed or a
// certificate is given) and every document's size and SHA-256.
func VerifyBundle(path string, certPEM []byte) (BundleCheck, error) {
	ws, err := common.NewWorkspace("", "certgate-verify-")
	if err != nil {
		return BundleCheck{}, err
	}
	defer ws.Close()

	zr, err := zip.OpenReader(path)
	if err != nil {
		return BundleCheck{}, fmt.Errorf("open bundle: %w", err)
	}
	defer zr.Close()
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		dst, err := ws.Dir(filepath.Dir(zf.Name))
		if err != nil {
			return BundleCheck{}, fmt.Errorf("bundle entry %q: %w", zf.Name, err)
		}
		if err := extract(zf, filepath.Join(dst, filepath.Base(zf.Name))); err != nil {
			return BundleCheck{}, err
		}
	}

	manifestJSON, err := os.ReadFile(filepath.Join(ws.Root(), ManifestName))
	if err != nil {
		return BundleCheck{}, fmt.Errorf("read manifest: %w", err)
	}
	m, err := manifest.Load(filepath.Join(ws.Root(), ManifestName))
	if err != nil {
		return BundleCheck{}, fmt.Errorf("parse manifest: %w", err)
	}
	check := BundleCheck{Manifest: m}
	sigBytes, err := os.ReadFile(filepath.Join(ws.Root(), SignatureName))
	switch {
	case err == nil:
		if len(certPEM) == 0 {
			return check, errors.New("bundle is signed; a certificate is required to verify it")
		}
		jws, err := crypto.ParseDetachedJWS(sigBytes)
		if err != nil {
			return check, fmt.Errorf("parse jws: %w", err)
		}
		if err := crypto.VerifyDetachedJWS(manifestJSON, jws, certPEM); err != nil {
			return check, fmt.Errorf("verify signature: %w", err)
		}
		check.Signed = true
	case errors.Is(err, os.ErrNotExist):
		if len(certPEM) > 0 {
			return check, errors.New("bundle is not signed")
		}
	default:
		return check, fmt.Errorf("read signature: %w", err)
	}
	if err := manifest.VerifyDir(ws.Root(), m); err != nil {
		return check, err
	}
	return check, nil
}

func extract(zf *zip.File, dst string) error {
	src, err := zf.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", zf.Name, err)
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
