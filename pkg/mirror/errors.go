package mirror

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by the structured error kinds below.
var (
	// ErrPrematureClose means the remote stream ended before the announced
	// content length was written.
	ErrPrematureClose = errors.New("stream closed before full content was written")

	// ErrPathEscape means a key maps outside the local root.
	ErrPathEscape = errors.New("key escapes the local directory")

	// ErrStalledListing means a truncated page did not advance the marker.
	ErrStalledListing = errors.New("truncated page without a usable continuation marker")

	// ErrGetUnsupported means the provider cannot open object streams.
	ErrGetUnsupported = errors.New("provider does not support GetObject")
)

// ValidationError reports missing or malformed input. No I/O has happened.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// LocalSetupError reports a failure to reset the local root or create a
// planned directory. It aborts the whole operation.
type LocalSetupError struct {
	Path string
	Err  error
}

func (e *LocalSetupError) Error() string {
	return fmt.Sprintf("prepare local directory %s: %v", e.Path, e.Err)
}

func (e *LocalSetupError) Unwrap() error { return e.Err }

// ListError reports a failed page call. It aborts the whole listing and no
// partial key list is acted upon.
type ListError struct {
	Bucket string
	Prefix string
	Marker string
	Err    error
}

func (e *ListError) Error() string {
	if e.Marker != "" {
		return fmt.Sprintf("list %s/%s (marker %q): %v", e.Bucket, e.Prefix, e.Marker, e.Err)
	}
	return fmt.Sprintf("list %s/%s: %v", e.Bucket, e.Prefix, e.Err)
}

func (e *ListError) Unwrap() error { return e.Err }

// DownloadError reports one failed file. Sibling downloads are unaffected.
type DownloadError struct {
	Bucket    string
	Key       string
	LocalPath string
	Err       error
}

func (e *DownloadError) Error() string {
	if e.LocalPath == "" {
		return fmt.Sprintf("download %s/%s: %v", e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("download %s/%s to %s: %v", e.Bucket, e.Key, e.LocalPath, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ShortReadError carries the byte counts behind ErrPrematureClose.
type ShortReadError struct {
	Expected int64
	Written  int64
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("%v: expected=%d written=%d", ErrPrematureClose, e.Expected, e.Written)
}

func (e *ShortReadError) Unwrap() error { return ErrPrematureClose }
