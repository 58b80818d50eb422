package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound indicates the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrProviderUnavailable indicates the provider service is unavailable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrThrottled indicates the request was rate limited by the provider.
	ErrThrottled = errors.New("request throttled")
)

// ProviderError wraps backend errors with the call that produced them.
type ProviderError struct {
	// Op is the operation that failed (e.g. "ListPage", "GetObject").
	Op string

	// Provider is the backend type.
	Provider ProviderType

	// Bucket is the bucket name, if applicable.
	Bucket string

	// Key is the object key or listing prefix, if applicable.
	Key string

	// Err is the underlying error, normalised to a sentinel when recognised.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Provider, e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates an object was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsBucketNotFound returns true if the error indicates the bucket does not exist.
func IsBucketNotFound(err error) bool {
	return errors.Is(err, ErrBucketNotFound)
}

// IsInvalidCredentials returns true if the error indicates authentication failed.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsProviderUnavailable returns true if the error indicates the provider service is unavailable.
func IsProviderUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsPermanent reports whether retrying the call cannot succeed.
//
// Missing objects or buckets and authorization failures are permanent;
// everything else (throttling, unavailability, transport errors) may clear up.
func IsPermanent(err error) bool {
	return IsNotFound(err) || IsBucketNotFound(err) || IsAccessDenied(err) || IsInvalidCredentials(err)
}

// ErrorCode maps an error to a stable machine-readable code for records.
func ErrorCode(err error) string {
	switch {
	case IsNotFound(err), IsBucketNotFound(err):
		return "NOT_FOUND"
	case IsAccessDenied(err), IsInvalidCredentials(err):
		return "ACCESS_DENIED"
	case IsThrottled(err):
		return "THROTTLED"
	case IsProviderUnavailable(err):
		return "PROVIDER_UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
