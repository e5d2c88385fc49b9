package attendees

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrNoAttendees = errors.New("attendees: no names found")
	// ErrUnsupportedFormat is returned for spreadsheet formats that have no
	// reader. Legacy .xls workbooks must be saved as .xlsx or .csv first.
	ErrUnsupportedFormat = errors.New("attendees: unsupported spreadsheet format")
)

// Attendee is one input record. Row is 1-based and counts data rows only,
// so it stays stable whether or not the source had a header.
type Attendee struct {
	Row  int    `json:"row"`
	Name string `json:"name"`
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse picks a reader from the file extension: .csv, .xlsx, anything else
// is newline-delimited text. Binary spreadsheets without a reader fail with
// ErrUnsupportedFormat. header only applies to tabular inputs.
func Parse(filename string, r io.Reader, header bool) ([]Attendee, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".csv":
		return ParseCSV(r, header)
	case ".xlsx", ".xlsm":
		return ParseXLSX(r, header)
	case ".xls", ".xlsb", ".ods", ".numbers":
		return nil, fmt.Errorf("%w %q: save the list as .xlsx or .csv", ErrUnsupportedFormat, ext)
	default:
		return ParseText(r)
	}
}

// ParseText reads one name per line. Lines are trimmed and blank lines
// skipped.
func ParseText(r io.Reader) ([]Attendee, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var out []Attendee
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			line = strings.TrimPrefix(line, string(utf8BOM))
			first = false
		}
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		out = append(out, Attendee{Row: len(out) + 1, Name: name})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read names: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNoAttendees
	}
	return out, nil
}

// ParseCSV takes the first column of every row. Rows with an empty name cell
// are kept so they surface as per-attendee failures.
func ParseCSV(r io.Reader, header bool) ([]Attendee, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		br.Discard(len(utf8BOM))
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return fromRows(records, header)
}

// ParseXLSX takes the first column of the first worksheet.
func ParseXLSX(r io.Reader, header bool) ([]Attendee, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoAttendees
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return fromRows(rows, header)
}

func fromRows(rows [][]string, header bool) ([]Attendee, error) {
	if header && len(rows) > 0 {
		rows = rows[1:]
	}
	// trailing empty rows are padding, not attendees
	for len(rows) > 0 && emptyRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	out := make([]Attendee, 0, len(rows))
	for i, row := range rows {
		name := ""
		if len(row) > 0 {
			name = strings.TrimSpace(row[0])
		}
		out = append(out, Attendee{Row: i + 1, Name: name})
	}
	if len(out) == 0 {
		return nil, ErrNoAttendees
	}
	return out, nil
}

func emptyRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Names is a convenience for callers that only need the name column.
func Names(list []Attendee) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Name
	}
	return out
}
