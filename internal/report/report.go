package report

import (
	"encoding/json"
	"os"
	"path/filepath"

	"example.com/certgate/internal/batch"
	"example.com/certgate/internal/common"
)

// SummaryName is the file WriteSummary creates next to report.json.
const SummaryName = batch.SummaryName

func LoadReportJSON(path string) (*batch.Report, error) {
	var rep batch.Report
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &rep); err != nil {
		return nil, err
	}
	rep.ReportPath = path
	rep.OutputDir = filepath.Dir(path)
	if rep.Archive != "" {
		archive := filepath.Join(rep.OutputDir, rep.Archive)
		if _, err := os.Stat(archive); err == nil {
			rep.ArchivePath = archive
		}
	}
	return &rep, nil
}

// WriteSummary renders the batch summary PDF to out, or to report.pdf in the
// report's output directory when out is empty, and returns the path.
func WriteSummary(rep *batch.Report, out string) (string, error) {
	var digest string
	if rep.ArchivePath != "" {
		sum, _, err := common.Sha256OfFile(rep.ArchivePath)
		if err != nil {
			return "", err
		}
		digest = sum
	}
	if out == "" {
		out = filepath.Join(rep.OutputDir, SummaryName)
	}
	if err := SaveSummaryPDF(rep, digest, out); err != nil {
		return "", err
	}
	return out, nil
}
