package batch

import (
	"encoding/json"
	"os"
	"time"
)

const (
	ReportName  = "report.json"
	// SummaryName is the printable summary written next to report.json.
	SummaryName = "report.pdf"
)

// Result is the outcome of one attendee row.
type Result struct {
	Row    int    `json:"row"`
	Name   string `json:"name"`
	File   string `json:"file,omitempty"`
	Digest string `json:"digest,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Error  string `json:"error,omitempty"`

	Path string `json:"-"`
	Err  error  `json:"-"`
}

func (r Result) OK() bool { return r.Err == nil }

type Report struct {
	RunID          string    `json:"runId"`
	Event          string    `json:"event"`
	Timestamp      string    `json:"timestamp"`
	Format         string    `json:"format"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	Total          int       `json:"total"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	Results        []Result  `json:"results"`
	Archive        string    `json:"archive,omitempty"`
	ArchiveURL     string    `json:"archiveUrl,omitempty"`
	Signed         bool      `json:"signed,omitempty"`
	PackagingError string    `json:"packagingError,omitempty"`

	OutputDir   string `json:"-"`
	ArchivePath string `json:"-"`
	ReportPath  string `json:"-"`
}

// Failures returns the rows that did not produce a document.
func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

func SaveReportJSON(rep *Report, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil { return err }
	return os.WriteFile(out, b, 0644)
}
