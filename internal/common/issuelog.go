package common

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// IssueEntry records one certificate that was written successfully.
type IssueEntry struct {
	RunID  string    `json:"runId"`
	Row    int       `json:"row"`
	Name   string    `json:"name"`
	Event  string    `json:"event"`
	Date   string    `json:"date"`
	Digest string    `json:"digest"`
	File   string    `json:"file,omitempty"`
	Ts     time.Time `json:"ts"`
}

// IssueLog provides append-only access to a JSONL ledger of issued
// certificates. A nil *IssueLog discards entries.
type IssueLog struct {
	path string
	mu   sync.Mutex
}

func NewIssueLog(path string) *IssueLog {
	return &IssueLog{path: path}
}

func (l *IssueLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes one entry as a single JSON line.
func (l *IssueLog) Append(entry IssueEntry) error {
	if l == nil {
		return nil
	}
	if entry.Digest == "" {
		return errors.New("issue entry missing digest")
	}
	if entry.Ts.IsZero() {
		entry.Ts = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	dir := filepath.Dir(l.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// Lookup returns the entries whose digest matches, oldest first. A missing
// ledger has no entries.
func (l *IssueLog) Lookup(digest string) ([]IssueEntry, error) {
	if l == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := ReadIssueLog(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []IssueEntry
	for _, e := range entries {
		if strings.EqualFold(e.Digest, digest) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ReadIssueLog loads every entry from the supplied JSONL file.
func ReadIssueLog(path string) ([]IssueEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var entries []IssueEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry IssueEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode issue entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
