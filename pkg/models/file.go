package models

import (
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle state of a FileRecord.
type Status string

const (
	StatusRegistered       Status = "registered"        // record created, waiting for upload
	StatusExtracted        Status = "extracted"         // text persisted, callback pending
	StatusNotified         Status = "notified"          // callback endpoint accepted the result
	StatusExtractionFailed Status = "extraction_failed" // engine failed or found no text
	StatusFailureNotified  Status = "failure_notified"  // callback endpoint accepted the failure
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRegistered, StatusExtracted, StatusNotified, StatusExtractionFailed, StatusFailureNotified:
		return true
	}
	return false
}

// Terminal reports whether no further pipeline step is expected for the record.
func (s Status) Terminal() bool {
	return s == StatusNotified || s == StatusFailureNotified
}

type FileRecord struct {
	// Core identifiers
	FileID      string // UUID assigned at registration
	CallbackURL string // Absolute URL the result is delivered to

	// Extraction result: unique non-empty lines, replaced as a whole on every write
	Text []string

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasText reports whether extraction has produced at least one line.
func (r *FileRecord) HasText() bool {
	return r != nil && len(r.Text) > 0
}

// Clone returns a deep copy so callers can't mutate stored state.
func (r *FileRecord) Clone() *FileRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Text != nil {
		c.Text = append([]string(nil), r.Text...)
	}
	return &c
}

// NormalizeLines trims every line, drops empty ones and returns the
// remaining unique lines in sorted order.
func NormalizeLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	sort.Strings(out)
	return out
}
