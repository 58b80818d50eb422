// Package provider defines the object storage capability used by the mirror core.
//
// A provider lists keys one page at a time using marker-based pagination and,
// through the optional ObjectGetter capability, opens object bodies as
// streams. Authentication uses SDK default credential chains; providers do not
// implement custom auth logic.
package provider

import (
	"context"
	"io"
)

// Provider abstracts paginated key listing against an object store.
//
// Implementations should:
//   - Return at most one page per ListPage call
//   - Report IsTruncated when more data is available
//   - Be safe for concurrent use
type Provider interface {
	// ListPage returns a single page of keys (or common prefixes when a
	// delimiter is set) starting after req.Marker.
	ListPage(ctx context.Context, req ListRequest) (*ListPage, error)

	// Close releases any resources held by the provider.
	Close() error
}

// ObjectGetter can download objects as a stream.
//
// The returned content length is -1 when the provider does not know it.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) (body io.ReadCloser, contentLength int64, err error)
}

// ListRequest describes one page request.
type ListRequest struct {
	// Bucket is the bucket to list (required).
	Bucket string

	// Prefix filters results to keys starting with this value.
	Prefix string

	// Delimiter groups keys into common prefixes (e.g. "/").
	// Empty string requests a flat listing.
	Delimiter string

	// Marker resumes listing after this position. Empty starts at the beginning.
	Marker string

	// MaxKeys limits the number of entries per page.
	// Zero uses the provider default (1000).
	MaxKeys int
}

// ListPage is the raw result of a single page request.
type ListPage struct {
	// Keys contains the object keys of this page, in listing order.
	Keys []string

	// CommonPrefixes contains the folder-like groupings when a delimiter was set.
	CommonPrefixes []string

	// IsTruncated indicates whether more results are available.
	IsTruncated bool

	// NextMarker is the continuation point reported by the remote.
	// Flat S3 listings do not report one; callers fall back to the last key.
	NextMarker string
}

// DefaultMaxKeys is the page size used when a request leaves MaxKeys unset.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the largest page size accepted by S3-style listings.
const MaxAllowedKeys = 1000

// ClampMaxKeys applies defaults and limits to a requested page size.
func ClampMaxKeys(requested int) int {
	if requested <= 0 {
		return DefaultMaxKeys
	}
	if requested > MaxAllowedKeys {
		return MaxAllowedKeys
	}
	return requested
}

// ProviderType identifies a storage backend.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 through aws-sdk-go-v2.
	ProviderS3 ProviderType = "s3"

	// ProviderMinio represents S3-compatible stores through minio-go.
	ProviderMinio ProviderType = "minio"

	// ProviderBlob represents gocloud.dev/blob buckets (mem://, file://).
	ProviderBlob ProviderType = "blob"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
