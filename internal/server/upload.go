package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"example.com/certgate/internal/certificate"
	"example.com/certgate/internal/common"
	"example.com/certgate/internal/fonts"
)

// Upload kinds, by the role the file plays in a run.
const (
	kindTemplate = "template"
	kindNames    = "names"
	kindFont     = "font"
)

var uploadKinds = map[string]string{
	".png":  kindTemplate,
	".jpg":  kindTemplate,
	".jpeg": kindTemplate,
	".gif":  kindTemplate,
	".bmp":  kindTemplate,
	".tif":  kindTemplate,
	".tiff": kindTemplate,
	".webp": kindTemplate,
	".csv":  kindNames,
	".xlsx": kindNames,
	".txt":  kindNames,
	".ttf":  kindFont,
	".otf":  kindFont,
}

func uploadKind(filename string) (string, bool) {
	kind, ok := uploadKinds[strings.ToLower(filepath.Ext(filename))]
	return kind, ok
}

// handleUpload stores templates, attendee lists and font files for later
// generate, preview and verify requests. Templates and fonts are decoded on
// arrival so a broken file is rejected here rather than mid-run.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("upload exceeds %s", common.FormatBytes(tooLarge.Limit)), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), http.StatusBadRequest)
		return
	}
	if r.MultipartForm == nil {
		http.Error(w, "no files provided", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()
	var refs []ArtifactRef
	for _, files := range r.MultipartForm.File {
		for _, fh := range files {
			ref, err := s.saveUpload(fh)
			if err != nil {
				http.Error(w, fmt.Sprintf("upload %s: %v", fh.Filename, err), httpStatus(err))
				return
			}
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		http.Error(w, "no files uploaded", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Files []ArtifactRef `json:"files"`
	}{Files: refs})
}

func (s *Server) saveUpload(fh *multipart.FileHeader) (ArtifactRef, error) {
	name := filepath.Base(fh.Filename)
	kind, ok := uploadKind(name)
	if !ok {
		return ArtifactRef{}, &requestError{
			status: http.StatusUnsupportedMediaType,
			err:    fmt.Errorf("unsupported file type %q", filepath.Ext(name)),
		}
	}
	src, err := fh.Open()
	if err != nil {
		return ArtifactRef{}, err
	}
	defer src.Close()
	dest, err := os.CreateTemp(s.uploadsDir, kind+"-*"+strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return ArtifactRef{}, err
	}
	hasher := common.NewHasher()
	_, copyErr := io.Copy(io.MultiWriter(dest, hasher), src)
	closeErr := dest.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(dest.Name())
		return ArtifactRef{}, err
	}
	if err := checkUpload(kind, name, dest.Name()); err != nil {
		os.Remove(dest.Name())
		return ArtifactRef{}, err
	}
	art, err := s.addArtifact(dest.Name(), name, guessContentType(name), kind)
	if err != nil {
		return ArtifactRef{}, err
	}
	art = s.setArtifactDigest(art.ID, hasher.Sum())
	s.logger.Info("upload stored",
		zap.String("artifact_id", art.ID),
		zap.String("kind", kind),
		zap.String("name", name),
		zap.Int64("size", art.Size),
	)
	return toRef(art), nil
}

func checkUpload(kind, name, path string) error {
	switch kind {
	case kindTemplate:
		if _, err := certificate.LoadTemplateFile(path); err != nil {
			return badRequest("%v", err)
		}
	case kindFont:
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := fonts.Parse(strings.TrimSuffix(name, filepath.Ext(name)), "", data); err != nil {
			return badRequest("%v", err)
		}
	}
	return nil
}
