package batch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"example.com/certgate/internal/attendees"
	"example.com/certgate/internal/certificate"
	"example.com/certgate/internal/common"
	"example.com/certgate/internal/publish"
)

const DefaultArchiveName = "certificates.zip"

// Job is one batch run. Compositor, Attendees and OutputDir are required.
type Job struct {
	Compositor *certificate.Compositor
	Attendees  []attendees.Attendee
	Event      string
	Timestamp  string
	Format     certificate.Format
	OutputDir  string
	Workers    int

	Archive     bool
	ArchiveName string
	// SigningKey and SigningCert are PEM blocks; with a key the bundle
	// carries manifest.jws.
	SigningKey  []byte
	SigningCert []byte
	Publisher   publish.Publisher
	// Ledger, when set, receives one entry per written document.
	Ledger      *common.IssueLog

	// Progress is called once per finished row. Calls are serialized.
	Progress func(Result)
	Metrics  *common.Metrics
	Logger   *zap.Logger
}

type task struct {
	index    int
	attendee attendees.Attendee
	file     string
}

// Run generates one document per attendee. Row failures are recorded in the
// report and do not stop the batch. The returned error is an *InputError
// when nothing could start, or a *PackagingError (together with a non-nil
// report) when bundling, publishing or saving the report failed.
func Run(ctx context.Context, job Job) (*Report, error) {
	logger := job.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if job.Compositor == nil {
		return nil, &InputError{Err: errors.New("no compositor")}
	}
	if len(job.Attendees) == 0 {
		return nil, &InputError{Err: attendees.ErrNoAttendees}
	}
	if strings.TrimSpace(job.OutputDir) == "" {
		return nil, &InputError{Err: errors.New("no output directory")}
	}
	format := job.Format
	if format == "" {
		format = certificate.FormatPDF
	}
	if _, err := certificate.ParseFormat(string(format)); err != nil {
		return nil, &InputError{Err: err}
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return nil, &InputError{Err: fmt.Errorf("create output dir: %w", err)}
	}
	workers := job.Workers
	if workers <= 0 {
		workers = 1
	}
	metrics := job.Metrics
	if metrics == nil {
		metrics = common.NewMetrics()
	}

	rep := &Report{
		RunID:     uuid.NewString(),
		Event:     job.Event,
		Timestamp: job.Timestamp,
		Format:    string(format),
		StartedAt: time.Now().UTC(),
		Total:     len(job.Attendees),
		Results:   make([]Result, len(job.Attendees)),
		OutputDir: job.OutputDir,
	}
	logger = logger.With(zap.String("run_id", rep.RunID))
	logger.Info("batch started",
		zap.String("event", job.Event),
		zap.Int("attendees", rep.Total),
		zap.Int("workers", workers),
		zap.String("format", string(format)))

	// names are fixed before dispatch so they never depend on scheduling
	archiveName := job.ArchiveName
	if archiveName == "" {
		archiveName = DefaultArchiveName
	}
	namer := attendees.NewNamer(ReportName, SummaryName, archiveName)
	tasks := make([]task, len(job.Attendees))
	for i, a := range job.Attendees {
		tasks[i] = task{index: i, attendee: a}
		if strings.TrimSpace(a.Name) != "" {
			tasks[i].file = namer.Next(a.Name, format.Extension())
		}
	}

	metrics.SetTotal(rep.Total)
	metrics.Start()
	var progressMu sync.Mutex
	finish := func(res Result) {
		rep.Results[res.Row-1] = res
		if res.OK() {
			metrics.AddSuccess(res.Size)
			err := job.Ledger.Append(common.IssueEntry{
				RunID:  rep.RunID,
				Row:    res.Row,
				Name:   res.Name,
				Event:  job.Event,
				Date:   job.Timestamp,
				Digest: res.Digest,
				File:   res.File,
			})
			if err != nil {
				logger.Warn("ledger append failed", zap.Int("row", res.Row), zap.Error(err))
			}
		} else {
			metrics.AddFailure()
			logger.Warn("certificate failed", zap.Int("row", res.Row), zap.String("name", res.Name), zap.Error(res.Err))
		}
		if job.Progress != nil {
			progressMu.Lock()
			job.Progress(res)
			progressMu.Unlock()
		}
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			finish(failed(t, err))
			continue
		}
		g.Go(func() error {
			finish(generate(job, format, t))
			return nil
		})
	}
	_ = g.Wait()
	metrics.Stop()

	for _, res := range rep.Results {
		if res.OK() {
			rep.Succeeded++
		} else {
			rep.Failed++
		}
	}

	var pkgErr error
	if job.Archive && rep.Succeeded > 0 {
		pkgErr = bundle(ctx, job, rep, logger)
	}
	rep.FinishedAt = time.Now().UTC()
	if pkgErr != nil {
		rep.PackagingError = pkgErr.Error()
	}
	rep.ReportPath = filepath.Join(job.OutputDir, ReportName)
	if err := SaveReportJSON(rep, rep.ReportPath); err != nil {
		rep.ReportPath = ""
		if pkgErr == nil {
			pkgErr = &PackagingError{Op: "report", Err: err}
		}
	}

	logger.Info("batch finished",
		zap.Int("succeeded", rep.Succeeded),
		zap.Int("failed", rep.Failed),
		zap.String("archive", rep.ArchivePath),
		zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)))
	return rep, pkgErr
}

func failed(t task, err error) Result {
	row := t.index + 1
	return Result{
		Row:   row,
		Name:  t.attendee.Name,
		Error: err.Error(),
		Err:   &AttendeeError{Row: row, Name: t.attendee.Name, Err: err},
	}
}

func generate(job Job, format certificate.Format, t task) Result {
	art, err := job.Compositor.Generate(t.attendee.Name, job.Event, job.Timestamp)
	if err != nil {
		return failed(t, err)
	}
	path := filepath.Join(job.OutputDir, t.file)
	size, err := writeDocument(path, art, format)
	if err != nil {
		return failed(t, fmt.Errorf("write %s: %w", t.file, err))
	}
	return Result{
		Row:    t.index + 1,
		Name:   t.attendee.Name,
		File:   t.file,
		Digest: art.Digest,
		Size:   size,
		Path:   path,
	}
}

func writeDocument(path string, art *certificate.Artifact, format certificate.Format) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(f)
	err = art.Write(bw, format)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
