package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/certgate/internal/batch"
)

// SaveSummaryPDF renders a batch report into a PDF document. When
// bundleDigest is set the first page carries it as text and as a QR code.
// Core PDF fonts are Latin-1; other scripts in names are replaced, and
// report.json stays the authoritative record.
func SaveSummaryPDF(rep *batch.Report, bundleDigest, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	cp1252 := pdf.UnicodeTranslatorFromDescriptor("")
	tr := func(s string) string { return cp1252(coreText(s)) }
	pdf.SetTitle("Certificate Batch Report", false)
	pdf.SetAuthor("certgate", false)
	pdf.SetCreator("certgate", false)
	pdf.SetSubject(rep.Event, true)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "Certificate Batch Report")
	if bundleDigest != "" {
		if err := addBundleQR(pdf, bundleDigest, rep.Archive); err != nil {
			return err
		}
	}
	addSummarySection(pdf, tr, rep, bundleDigest)
	addResultsSection(pdf, tr, rep.Results)
	addFailuresSection(pdf, tr, rep.Results)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addBundleQR(pdf *gofpdf.Fpdf, digest, archive string) error {
	png, err := BundleQR(digest, archive, 256)
	if err != nil {
		return err
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("bundle-digest", opts, bytes.NewReader(png))
	pageW, _ := pdf.GetPageSize()
	_, _, right, _ := pdf.GetMargins()
	const side = 32.0
	pdf.ImageOptions("bundle-digest", pageW-right-side, 15, side, side, false, opts, 0, "")
	return nil
}

func addSummarySection(pdf *gofpdf.Fpdf, tr func(string) string, rep *batch.Report, bundleDigest string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	type item struct{ label, value string }
	items := []item{
		{label: "Run", value: rep.RunID},
		{label: "Event", value: tr(rep.Event)},
		{label: "Timestamp", value: rep.Timestamp},
		{label: "Format", value: strings.ToUpper(rep.Format)},
		{label: "Attendees", value: strconv.Itoa(rep.Total)},
		{label: "Generated", value: strconv.Itoa(rep.Succeeded)},
		{label: "Failed", value: strconv.Itoa(rep.Failed)},
		{label: "Elapsed", value: rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond).String()},
		{label: "Bundle", value: emptyFallback(rep.Archive, "-")},
		{label: "Signed", value: yesNo(rep.Signed)},
	}
	if bundleDigest != "" {
		items = append(items, item{label: "Bundle SHA-256", value: bundleDigest})
	}
	if rep.ArchiveURL != "" {
		items = append(items, item{label: "Published", value: rep.ArchiveURL})
	}
	if rep.PackagingError != "" {
		items = append(items, item{label: "Packaging", value: tr(rep.PackagingError)})
	}
	for _, it := range items {
		pdf.CellFormat(35, 6, it.label, "", 0, "L", false, 0, "")
		pdf.MultiCell(0, 6, it.value, "", "L", false)
	}
	pdf.Ln(4)
}

func addResultsSection(pdf *gofpdf.Fpdf, tr func(string) string, results []batch.Result) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Certificates")
	pdf.Ln(9)

	headers := []string{"Row", "Name", "File", "ID", "Status"}
	widths := []float64{12, 62, 56, 32, 18}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	lineHeight := 5.0
	for _, res := range results {
		values := []string{
			strconv.Itoa(res.Row),
			emptyFallback(res.Name, "(empty)"),
			emptyFallback(res.File, "-"),
			shortID(res.Digest),
			statusLabel(res),
		}
		renderTableRow(pdf, tr, widths, values, lineHeight)
	}
	pdf.Ln(4)
}

func addFailuresSection(pdf *gofpdf.Fpdf, tr func(string) string, results []batch.Result) {
	var failed []batch.Result
	for _, res := range results {
		if res.Error != "" {
			failed = append(failed, res)
		}
	}
	if len(failed) == 0 {
		return
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Failures")
	pdf.Ln(9)
	for _, res := range failed {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.MultiCell(0, 5, fmt.Sprintf("Row %d: %s", res.Row, tr(emptyFallback(res.Name, "(empty)"))), "", "L", false)
		pdf.SetFont("Helvetica", "", 9)
		pdf.MultiCell(0, 4, tr(res.Error), "", "L", false)
		pdf.Ln(2)
	}
}

// renderTableRow measures cells as UTF-8 and writes them translated, since
// SplitText reads runes while the core fonts expect cp1252 bytes.
func renderTableRow(pdf *gofpdf.Fpdf, tr func(string) string, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(coreText(text), widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	_, pageH := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	if yStart+rowHeight > pageH-bottom {
		pdf.AddPage()
		xStart, yStart = pdf.GetX(), pdf.GetY()
	}
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, tr(strings.Join(lines, "\n")), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

// coreText replaces every rune outside Latin-1 with '?'. The core PDF fonts
// carry 256 glyph widths, and names in other scripts stay readable in
// report.json.
func coreText(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case r < 0x20, r >= 0x7f && r < 0xa0:
			return ' '
		case r > 0xff:
			return '?'
		}
		return r
	}, s)
}

func statusLabel(res batch.Result) string {
	if res.Error != "" {
		return "FAILED"
	}
	return "OK"
}

func shortID(digest string) string {
	if len(digest) > 12 {
		digest = digest[:12]
	}
	return strings.ToUpper(digest)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
