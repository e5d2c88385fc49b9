package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/certgate/internal/common"
	"example.com/certgate/internal/config"
	"example.com/certgate/internal/fonts"
	"example.com/certgate/internal/publish"
)

const defaultMaxUpload = 64 << 20

// Server coordinates HTTP handlers and owns the workspaces holding uploads
// and generated certificates.
type Server struct {
	artifacts  *ArtifactStore
	workspace  *common.Workspace
	uploadsDir string
	jobsDir    string
	defaults   config.Config
	resolver   *fonts.Resolver
	signer     signer
	publisher  publish.Publisher
	ledger     *common.IssueLog
	workers    int
	maxUpload  int64
	metrics    *serverMetrics
	logger     *zap.Logger

	jobsMu sync.Mutex
	jobs   map[string]*common.Workspace
}

// Artifact represents a file uploaded to or generated by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
	SHA256      string
}

// ArtifactRef is the public representation returned in API responses.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
}

// ArtifactStore keeps track of artifacts for later download.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

// NewServer constructs a Server rooted at a fresh workspace below
// StorageDir. Close removes it.
func NewServer(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sig, err := loadSigner(opts.ManifestSigning)
	if err != nil {
		return nil, err
	}
	ws, err := common.NewWorkspace(opts.StorageDir, "certd-")
	if err != nil {
		return nil, err
	}
	uploadsDir, err := ws.Dir("uploads")
	if err != nil {
		ws.Close()
		return nil, err
	}
	jobsDir, err := ws.Dir("jobs")
	if err != nil {
		ws.Close()
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = fonts.NewResolver(nil, nil, logger)
	}
	var ledger *common.IssueLog
	if p := strings.TrimSpace(opts.LedgerPath); p != "" {
		ledger = common.NewIssueLog(p)
	}
	s := &Server{
		artifacts:  &ArtifactStore{entries: make(map[string]Artifact)},
		workspace:  ws,
		uploadsDir: uploadsDir,
		jobsDir:    jobsDir,
		defaults:   opts.Defaults.WithDefaults(),
		resolver:   resolver,
		signer:     sig,
		publisher:  opts.Publisher,
		ledger:     ledger,
		workers:    workers,
		maxUpload:  maxUpload,
		metrics:    newServerMetrics(),
		logger:     logger,
		jobs:       make(map[string]*common.Workspace),
	}
	return s, nil
}

// Close removes every job workspace and the server workspace.
func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	s.jobsMu.Lock()
	var errs []error
	for id, ws := range s.jobs {
		if err := ws.Close(); err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", id, err))
		}
		delete(s.jobs, id)
	}
	s.jobsMu.Unlock()
	if err := s.workspace.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// newJob creates the scoped directory one generate request writes into.
func (s *Server) newJob(id string) (*common.Workspace, error) {
	ws, err := common.NewWorkspace(s.jobsDir, "job-")
	if err != nil {
		return nil, err
	}
	s.jobsMu.Lock()
	s.jobs[id] = ws
	s.jobsMu.Unlock()
	return ws, nil
}

func (s *Server) addArtifact(path, displayName, contentType, kind string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	id := randomID()
	art := Artifact{
		ID:          id,
		Path:        path,
		Name:        displayName,
		ContentType: contentType,
		Size:        info.Size(),
		Kind:        kind,
	}
	if art.Name == "" {
		art.Name = filepath.Base(path)
	}
	if art.ContentType == "" {
		art.ContentType = guessContentType(art.Name)
	}
	s.artifacts.mu.Lock()
	s.artifacts.entries[id] = art
	s.artifacts.mu.Unlock()
	return art, nil
}

func (s *Server) getArtifact(id string) (Artifact, bool) {
	s.artifacts.mu.RLock()
	art, ok := s.artifacts.entries[id]
	s.artifacts.mu.RUnlock()
	return art, ok
}

func (s *Server) setArtifactDigest(id, digest string) Artifact {
	s.artifacts.mu.Lock()
	defer s.artifacts.mu.Unlock()
	art := s.artifacts.entries[id]
	art.SHA256 = digest
	s.artifacts.entries[id] = art
	return art
}

// resolveArtifact maps an artifact ID from a request to its file. Only
// uploads of the expected kind can be referenced.
func (s *Server) resolveArtifact(field, id, kind string) (Artifact, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Artifact{}, fmt.Errorf("%s required", field)
	}
	art, ok := s.getArtifact(id)
	if !ok {
		return Artifact{}, fmt.Errorf("%s: unknown artifact %q", field, id)
	}
	if art.Kind != kind {
		return Artifact{}, fmt.Errorf("%s: artifact %q is a %s, not a %s upload", field, id, art.Kind, kind)
	}
	return art, nil
}

func (s *Server) listArtifacts() []ArtifactRef {
	s.artifacts.mu.RLock()
	refs := make([]ArtifactRef, 0, len(s.artifacts.entries))
	for _, art := range s.artifacts.entries {
		refs = append(refs, toRef(art))
	}
	s.artifacts.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		ContentType: art.ContentType,
		Size:        art.Size,
		Kind:        art.Kind,
		SHA256:      art.SHA256,
	}
}

func guessContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".json":
		return "application/json"
	case ".ndjson":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".zip":
		return "application/zip"
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".ttf":
		return "font/ttf"
	case ".otf":
		return "font/otf"
	default:
		return "application/octet-stream"
	}
}

func randomID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		now := time.Now().UTC()
		return fmt.Sprintf("%d%06d", now.UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(b[:])
}
