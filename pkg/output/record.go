// Package output provides JSONL output for mirror runs.
//
// Output is structured as typed record envelopes describing created
// directories, downloaded files, errors and the final summary. Each line is
// a self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: nimbusdl.<type>.v<version>
const (
	// TypeDir identifies created directory records.
	TypeDir = "nimbusdl.dir.v1"

	// TypeFile identifies downloaded or skipped file records.
	TypeFile = "nimbusdl.file.v1"

	// TypeError identifies error records.
	TypeError = "nimbusdl.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "nimbusdl.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// The type field determines how to interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "nimbusdl.file.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this mirror run.
	JobID string `json:"job_id"`

	// Provider identifies the storage backend (e.g., "s3", "minio").
	Provider string `json:"provider"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// DirRecord is the data payload for a created local directory.
type DirRecord struct {
	// Rel is the directory path relative to the local root.
	Rel string `json:"rel"`

	// Path is the local directory path.
	Path string `json:"path"`
}

// File status values.
const (
	FileStatusDownloaded = "downloaded"
	FileStatusSkipped    = "skipped"
	FileStatusFailed     = "failed"
)

// FileRecord is the data payload for one file key.
type FileRecord struct {
	// Key is the full object key in the bucket.
	Key string `json:"key"`

	// Rel is the key with the source prefix stripped.
	Rel string `json:"rel"`

	// Path is the local file path. Empty for skipped keys.
	Path string `json:"path,omitempty"`

	// Status is one of FileStatusDownloaded, FileStatusSkipped or FileStatusFailed.
	Status string `json:"status"`

	// Bytes is the number of bytes written.
	Bytes int64 `json:"bytes"`

	// Duration is the download time.
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// ErrorRecord is the data payload for errors.
//
// Per-file failures are emitted as records rather than failing the run, so
// a consumer sees every failed key alongside the successful ones.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Key is the object key that caused the error, if applicable.
	Key string `json:"key,omitempty"`

	// Prefix is the source prefix being mirrored, if applicable.
	Prefix string `json:"prefix,omitempty"`

	// Path is the local path involved, if applicable.
	Path string `json:"path,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeAccessDenied        = "ACCESS_DENIED"
	ErrCodeThrottled           = "THROTTLED"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeInvalidKey          = "INVALID_KEY"
	ErrCodeIncomplete          = "INCOMPLETE"
	ErrCodeLocalIO             = "LOCAL_IO"
	ErrCodeCanceled            = "CANCELED"
	ErrCodeInternal            = "INTERNAL"
)

// SummaryRecord is the data payload for the final summary of a run.
type SummaryRecord struct {
	Bucket   string `json:"bucket"`
	Prefix   string `json:"prefix"`
	LocalDir string `json:"local_dir"`

	Pages           int64 `json:"pages"`
	KeysListed      int64 `json:"keys_listed"`
	DirsCreated     int64 `json:"dirs_created"`
	FilesDownloaded int64 `json:"files_downloaded"`
	FilesFailed     int64 `json:"files_failed"`
	FilesSkipped    int64 `json:"files_skipped"`
	BytesDownloaded int64 `json:"bytes_downloaded"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Error holds the fatal error of a failed run.
	Error string `json:"error,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
