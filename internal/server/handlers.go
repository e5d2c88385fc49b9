package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/certgate/internal/attendees"
	"example.com/certgate/internal/batch"
	"example.com/certgate/internal/certificate"
	"example.com/certgate/internal/fonts"
	"example.com/certgate/internal/report"
	"example.com/certgate/internal/verify"
)

type fontRequest struct {
	Family    string  `json:"family"`
	File      string  `json:"file"`
	Direction string  `json:"direction"`
	Size      float64 `json:"size"`
	Color     string  `json:"color"`
}

type layoutRequest struct {
	Name     *certificate.Point `json:"name"`
	Hash     *certificate.Point `json:"hash"`
	HideHash *bool              `json:"hideHash"`
	QR       *certificate.Point `json:"qr"`
	QRSize   int                `json:"qrSize"`
}

// styleRequest is shared by /generate and /preview. Template and Font.File
// are artifact IDs returned by /upload.
type styleRequest struct {
	Template string        `json:"template"`
	Font     fontRequest   `json:"font"`
	Layout   layoutRequest `json:"layout"`
}

type generateRequest struct {
	styleRequest
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Names     string `json:"names"`
	NamesText string `json:"namesText"`
	Header    *bool  `json:"header"`
	Format    string `json:"format"`
	Archive   *bool  `json:"archive"`
	Publish   bool   `json:"publish"`
}

type generateResponse struct {
	Type      string        `json:"type,omitempty"`
	JobID     string        `json:"jobId"`
	Report    *batch.Report `json:"report"`
	Artifacts []ArtifactRef `json:"artifacts"`
}

type requestError struct {
	status int
	err    error
}

func (e *requestError) Error() string { return e.err.Error() }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, err: fmt.Errorf(format, args...)}
}

func httpStatus(err error) int {
	var re *requestError
	if errors.As(err, &re) {
		return re.status
	}
	switch {
	case errors.Is(err, certificate.ErrTemplate),
		errors.Is(err, certificate.ErrOutOfBounds),
		errors.Is(err, certificate.ErrEmptyName),
		errors.Is(err, certificate.ErrMissingGlyph),
		errors.Is(err, certificate.ErrQRCapacity),
		errors.Is(err, fonts.ErrUnknownFamily),
		errors.Is(err, fonts.ErrInvalidFont):
		return http.StatusBadRequest
	case errors.Is(err, fonts.ErrNoFetcher):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// buildCompositor applies the request on top of the daemon defaults.
func (s *Server) buildCompositor(ctx context.Context, req styleRequest) (*certificate.Compositor, error) {
	cfg := s.defaults
	tplArt, err := s.resolveArtifact("template", req.Template, kindTemplate)
	if err != nil {
		return nil, badRequest("%v", err)
	}
	tpl, err := certificate.LoadTemplateFile(tplArt.Path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.TrimSpace(req.Font.File) != "":
		fontArt, err := s.resolveArtifact("font.file", req.Font.File, kindFont)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		cfg.Font.File = fontArt.Path
		cfg.Font.Family = ""
	case strings.TrimSpace(req.Font.Family) != "":
		cfg.Font.Family = req.Font.Family
		cfg.Font.File = ""
	}
	if req.Font.Direction != "" {
		if _, err := fonts.ParseDirection(req.Font.Direction); err != nil {
			return nil, badRequest("%v", err)
		}
		cfg.Font.Direction = req.Font.Direction
	}
	if req.Font.Size > 0 {
		cfg.Font.Size = req.Font.Size
	}
	if req.Font.Color != "" {
		cfg.Font.Color = req.Font.Color
	}
	font, err := s.resolver.Resolve(ctx, cfg.FontRequest())
	if err != nil {
		return nil, err
	}
	style, err := cfg.Style(font)
	if err != nil {
		return nil, badRequest("%v", err)
	}
	l := req.Layout
	if l.Name != nil {
		style.Name = l.Name
	}
	if l.Hash != nil {
		style.Hash = l.Hash
	}
	if l.HideHash != nil {
		style.HideHash = *l.HideHash
	}
	if l.QR != nil {
		style.QR = l.QR
	}
	if l.QRSize > 0 {
		style.QRSize = l.QRSize
	}
	return certificate.New(tpl, style)
}

func (s *Server) loadAttendees(req generateRequest) ([]attendees.Attendee, error) {
	header := s.defaults.HeaderRow()
	if req.Header != nil {
		header = *req.Header
	}
	switch {
	case strings.TrimSpace(req.Names) != "":
		art, err := s.resolveArtifact("names", req.Names, kindNames)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		f, err := os.Open(art.Path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		list, err := attendees.Parse(art.Name, f, header)
		if err != nil {
			return nil, badRequest("names: %v", err)
		}
		return list, nil
	case strings.TrimSpace(req.NamesText) != "":
		list, err := attendees.ParseText(strings.NewReader(req.NamesText))
		if err != nil {
			return nil, badRequest("namesText: %v", err)
		}
		return list, nil
	default:
		return nil, badRequest("names or namesText required")
	}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stream := r.URL.Query().Get("stream") == "true"
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	event := strings.TrimSpace(req.Event)
	if event == "" {
		event = s.defaults.Event
	}
	if event == "" {
		http.Error(w, "event required", http.StatusBadRequest)
		return
	}
	timestamp := req.Timestamp
	if timestamp == "" {
		timestamp = s.defaults.RunTimestamp(time.Now())
	}
	format := s.defaults.Format()
	if req.Format != "" {
		f, err := certificate.ParseFormat(req.Format)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		format = f
	}
	archive := s.defaults.ArchiveEnabled()
	if req.Archive != nil {
		archive = *req.Archive
	}
	if req.Publish && s.publisher == nil {
		http.Error(w, "publishing is not configured", http.StatusBadRequest)
		return
	}
	comp, err := s.buildCompositor(r.Context(), req.styleRequest)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	list, err := s.loadAttendees(req)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}

	jobID := uuid.NewString()
	ws, err := s.newJob(jobID)
	if err != nil {
		http.Error(w, fmt.Sprintf("job workspace: %v", err), http.StatusInternalServerError)
		return
	}
	job := batch.Job{
		Compositor:  comp,
		Attendees:   list,
		Event:       event,
		Timestamp:   timestamp,
		Format:      format,
		OutputDir:   ws.Root(),
		Workers:     s.workers,
		Archive:     archive,
		ArchiveName: s.defaults.Output.ArchiveName,
		SigningKey:  s.signer.key,
		SigningCert: s.signer.cert,
		Ledger:      s.ledger,
		Logger:      s.logger.With(zap.String("job_id", jobID)),
	}
	if req.Publish {
		job.Publisher = s.publisher
	}

	var st *runStream
	if stream {
		st = newRunStream(w)
		job.Progress = func(res batch.Result) {
			_ = st.result(res)
		}
		_ = st.start(jobID, len(list))
	}

	start := time.Now()
	rep, runErr := batch.Run(r.Context(), job)
	var inputErr *batch.InputError
	if errors.As(runErr, &inputErr) {
		s.metrics.observeBatch("input_error", 0, 0, time.Since(start))
		if stream {
			_ = st.fail(runErr)
			return
		}
		http.Error(w, runErr.Error(), http.StatusBadRequest)
		return
	}
	outcome := "ok"
	switch {
	case runErr != nil:
		outcome = "packaging_error"
	case rep.Failed > 0:
		outcome = "partial"
	}
	s.metrics.observeBatch(outcome, rep.Succeeded, rep.Failed, time.Since(start))

	refs, err := s.registerOutputs(rep, format)
	if err != nil {
		if stream {
			_ = st.fail(err)
			return
		}
		http.Error(w, fmt.Sprintf("register outputs: %v", err), http.StatusInternalServerError)
		return
	}
	resp := generateResponse{JobID: jobID, Report: rep, Artifacts: refs}
	if stream {
		_ = st.summary(resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) registerOutputs(rep *batch.Report, format certificate.Format) ([]ArtifactRef, error) {
	var refs []ArtifactRef
	for _, res := range rep.Results {
		if !res.OK() {
			continue
		}
		art, err := s.addArtifact(res.Path, res.File, format.ContentType(), "certificate")
		if err != nil {
			return nil, err
		}
		refs = append(refs, toRef(art))
	}
	if rep.ArchivePath != "" {
		art, err := s.addArtifact(rep.ArchivePath, rep.Archive, "application/zip", "bundle")
		if err != nil {
			return nil, err
		}
		refs = append(refs, toRef(art))
	}
	if rep.ReportPath != "" {
		art, err := s.addArtifact(rep.ReportPath, batch.ReportName, "application/json", "report")
		if err != nil {
			return nil, err
		}
		refs = append(refs, toRef(art))

		summary, err := report.WriteSummary(rep, "")
		if err != nil {
			s.logger.Warn("summary pdf failed", zap.String("run_id", rep.RunID), zap.Error(err))
			return refs, nil
		}
		art, err = s.addArtifact(summary, report.SummaryName, "application/pdf", "summary")
		if err != nil {
			return nil, err
		}
		refs = append(refs, toRef(art))
	}
	return refs, nil
}

type previewRequest struct {
	styleRequest
	Attendee  string `json:"attendee"`
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	comp, err := s.buildCompositor(r.Context(), req.styleRequest)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	name := req.Attendee
	if strings.TrimSpace(name) == "" {
		name = "John Doe"
	}
	event := req.Event
	if event == "" {
		event = s.defaults.Event
	}
	timestamp := req.Timestamp
	if timestamp == "" {
		timestamp = s.defaults.RunTimestamp(time.Now())
	}
	art, err := comp.Generate(name, event, timestamp)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Certificate-Digest", art.Digest)
	if err := art.WritePNG(w); err != nil {
		s.logger.Warn("write preview", zap.Error(err))
	}
}

type verifyResponse struct {
	Text string `json:"text"`
	verify.Result
	Issued *bool `json:"issued,omitempty"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var text string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
		file, _, err := r.FormFile("image")
		if err != nil {
			http.Error(w, fmt.Sprintf("image field: %v", err), http.StatusBadRequest)
			return
		}
		defer file.Close()
		img, _, err := image.Decode(file)
		if err != nil {
			http.Error(w, fmt.Sprintf("decode image: %v", err), http.StatusBadRequest)
			return
		}
		if text, err = verify.DecodeImage(img, image.Rectangle{}); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	} else {
		var req struct {
			Payload string `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
			return
		}
		text = req.Payload
	}
	res, err := verify.CheckText(text)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	resp := verifyResponse{Text: text, Result: res}
	if s.ledger != nil && res.Valid {
		entries, err := s.ledger.Lookup(res.Payload.Hash)
		if err != nil {
			s.logger.Error("ledger lookup", zap.Error(err))
			http.Error(w, "ledger unavailable", http.StatusInternalServerError)
			return
		}
		issued := len(entries) > 0
		resp.Issued = &issued
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFonts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Families []fonts.Family `json:"families"`
	}{Families: fonts.Catalog()})
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Artifacts []ArtifactRef `json:"artifacts"`
	}{Artifacts: s.listArtifacts()})
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if id == "" {
		s.handleArtifacts(w, r)
		return
	}
	art, ok := s.getArtifact(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	if art.ContentType != "" {
		w.Header().Set("Content-Type", art.ContentType)
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	disposition := fmt.Sprintf("attachment; filename=%q", art.Name)
	w.Header().Set("Content-Disposition", disposition)
	io.Copy(w, f)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
