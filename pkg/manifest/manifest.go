// Package manifest provides loading and validation of nimbusdl job manifests.
//
// A job manifest is a YAML or JSON file that configures a mirror run:
// provider connection, source location, local directory, download tuning,
// key filtering and output.
//
// Manifests are validated against an embedded JSON Schema before use. The
// schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	connection:
//	  provider: s3
//	  region: eu-west-1
//	source:
//	  bucket: assets
//	  prefix: site/
//	local_dir: /srv/mirror
//	download:
//	  concurrency: 8
//	  retry_count: 5
//	  retry_delay: 2s
//	match:
//	  excludes:
//	    - "**/*.tmp"
//	output:
//	  destination: file:/var/log/nimbusdl/run.jsonl
package manifest

import (
	"fmt"
	"time"
)

// Manifest represents a validated job manifest.
//
// Version, Connection, Source and LocalDir are required. Download, Match
// and Output are optional with defaults applied during loading.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Connection configures the storage provider.
	Connection ConnectionConfig `json:"connection" yaml:"connection"`

	// Source names the remote bucket and prefix to mirror.
	Source SourceConfig `json:"source" yaml:"source"`

	// LocalDir is the local directory. Its previous contents are destroyed.
	LocalDir string `json:"local_dir" yaml:"local_dir"`

	// Download tunes the run (optional).
	Download DownloadConfig `json:"download,omitempty" yaml:"download,omitempty"`

	// Match filters file keys by glob patterns (optional).
	Match MatchConfig `json:"match,omitempty" yaml:"match,omitempty"`

	// Output configures the JSONL record destination (optional).
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`
}

// ConnectionConfig configures the storage provider connection.
type ConnectionConfig struct {
	// Provider is one of "s3", "minio" or "blob".
	Provider string `json:"provider" yaml:"provider"`

	// Region is the storage region. Optional.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint is a custom endpoint. For s3 a URL
	// (e.g. "https://s3.wasabisys.com"), for minio a host:port.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Profile is the AWS shared config profile (s3 only).
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`

	// ForcePathStyle forces path-style addressing (s3 only).
	ForcePathStyle bool `json:"force_path_style,omitempty" yaml:"force_path_style,omitempty"`

	// Insecure disables TLS (minio only).
	Insecure bool `json:"insecure,omitempty" yaml:"insecure,omitempty"`

	// BaseURL is the bucket root for the blob provider: "mem://" or
	// "file:///abs/path".
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// SourceConfig names the remote side of the mirror.
type SourceConfig struct {
	Bucket    string `json:"bucket" yaml:"bucket"`
	Prefix    string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
}

// DownloadConfig tunes the run.
type DownloadConfig struct {
	// Concurrency is the number of concurrent file downloads.
	// Range: 1-256. Default: 16.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// RetryCount is the number of retries per failed provider call.
	// Zero disables retries. Default: 3.
	RetryCount *int `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`

	// RetryDelay is a Go duration string. Default: "1s".
	RetryDelay string `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`

	// RateLimit caps page calls per second (0 = unlimited).
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// MatchConfig filters file keys by their prefix-relative path.
// With no includes every key is kept.
type MatchConfig struct {
	Includes      []string `json:"includes,omitempty" yaml:"includes,omitempty"`
	Excludes      []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
	ExcludeHidden bool     `json:"exclude_hidden,omitempty" yaml:"exclude_hidden,omitempty"`
}

// OutputConfig configures the JSONL record destination.
type OutputConfig struct {
	// Destination is "stdout" or "file:/path/to/output.jsonl".
	// Default: "stdout".
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// Quiet suppresses JSONL records entirely.
	Quiet bool `json:"quiet,omitempty" yaml:"quiet,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultConcurrency is the default number of concurrent downloads.
	DefaultConcurrency = 16

	// DefaultRetryCount is the default number of retries.
	DefaultRetryCount = 3

	// DefaultRetryDelay is the default delay between retries.
	DefaultRetryDelay = "1s"

	// DefaultDestination is the default output destination.
	DefaultDestination = "stdout"
)

// ApplyDefaults fills in default values for optional fields.
func (m *Manifest) ApplyDefaults() {
	if m.Download.Concurrency == 0 {
		m.Download.Concurrency = DefaultConcurrency
	}
	if m.Download.RetryCount == nil {
		n := DefaultRetryCount
		m.Download.RetryCount = &n
	}
	if m.Download.RetryDelay == "" {
		m.Download.RetryDelay = DefaultRetryDelay
	}
	if m.Output.Destination == "" {
		m.Output.Destination = DefaultDestination
	}
}

// Retries returns the configured retry count, or DefaultRetryCount if unset.
func (d *DownloadConfig) Retries() int {
	if d.RetryCount == nil {
		return DefaultRetryCount
	}
	return *d.RetryCount
}

// Delay parses RetryDelay. An empty value yields DefaultRetryDelay.
func (d *DownloadConfig) Delay() (time.Duration, error) {
	raw := d.RetryDelay
	if raw == "" {
		raw = DefaultRetryDelay
	}
	delay, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("download.retry_delay: %w", err)
	}
	return delay, nil
}
