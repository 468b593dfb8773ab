// Package watch defines core types shared across subsystems.
package watch

import (
	"time"
)

// PageStatus represents the scheduling state of a monitored page.
type PageStatus string

// Page status values persisted in the page store.
const (
	StatusPending    PageStatus = "PENDING"
	StatusProcessing PageStatus = "PROCESSING"
	StatusPaused     PageStatus = "PAUSED"
)

// Page is one monitored URL together with its scheduling state.
type Page struct {
	ID             int64         `json:"id"`
	URL            string        `json:"url"`
	URLHash        string        `json:"url_hash"` // sha1(url), stable short key
	Domain         string        `json:"domain"`
	Status         PageStatus    `json:"status"`
	LastCleanHash  string        `json:"last_clean_hash,omitempty"`
	LastCheckAt    *time.Time    `json:"last_check_at,omitempty"`
	NextCheckAt    time.Time     `json:"next_check_at"`
	HeartbeatAt    *time.Time    `json:"heartbeat_at,omitempty"`
	CheckInterval  time.Duration `json:"check_interval"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Snapshot is one durable, content-distinct capture of a page.
// Rows exist only for checks where a change was detected.
type Snapshot struct {
	ID          int64     `json:"id"`
	PageID      int64     `json:"page_id"`
	CapturedAt  time.Time `json:"captured_at"`
	StoragePath string    `json:"storage_path"`
	ContentHash string    `json:"content_hash"`
	CleanHash   string    `json:"clean_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// MonitorRecord is the append-only audit row written for every check
// attempt, successful or not.
type MonitorRecord struct {
	ID             int64     `json:"id"`
	PageID         int64     `json:"page_id"`
	CheckedAt      time.Time `json:"checked_at"`
	ContentHash    string    `json:"content_hash,omitempty"`
	CleanHash      string    `json:"clean_hash,omitempty"`
	ChangeDetected bool      `json:"change_detected"`
	HTTPStatus     int       `json:"http_status,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CaptureResult is the value returned by one capture attempt. Expected
// failure categories (network, timeout, bad status, storage error) are
// carried in ErrorMessage; they never surface as Go errors.
type CaptureResult struct {
	URL            string    `json:"url"`
	StoragePath    string    `json:"storage_path"` // empty unless artifacts were persisted
	ContentHash    string    `json:"content_hash"`
	CleanHash      string    `json:"clean_hash"`
	Timestamp      time.Time `json:"timestamp"`
	ChangeDetected bool      `json:"change_detected"`
	HTTPStatus     int       `json:"http_status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// OK reports whether the capture completed without an expected failure.
func (r CaptureResult) OK() bool {
	return r.ErrorMessage == ""
}

// Artifact file names written beneath a capture's storage path prefix.
// These names are part of the persisted-data contract.
const (
	ArtifactDOM        = "dom.html"
	ArtifactSource     = "source.html"
	ArtifactArchive    = "page.mhtml"
	ArtifactScreenshot = "screenshot.png"
)

// ChangeEvent is published when a capture detects changed content.
type ChangeEvent struct {
	EventID     string    `json:"event_id"`
	PageID      int64     `json:"page_id"`
	URL         string    `json:"url"`
	StoragePath string    `json:"storage_path"`
	CleanHash   string    `json:"clean_hash"`
	CapturedAt  time.Time `json:"captured_at"`
}
