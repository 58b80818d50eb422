package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/3leaps/nimbusdl/pkg/provider"
)

// URI parsing errors
var (
	// ErrInvalidURI indicates the URI could not be parsed.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrUnsupportedProvider indicates the URI scheme is not supported.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrMissingBucket indicates the URI is missing a bucket name.
	ErrMissingBucket = errors.New("missing bucket name")
)

// SourceURI is a parsed remote location.
//
// Example URIs:
//   - s3://bucket/site/
//   - minio://bucket/site/
//   - mem://bucket/site/
//   - file:///srv/store/bucket?prefix=site/
type SourceURI struct {
	// Scheme is the URI scheme as written ("s3", "minio", "mem", "file").
	Scheme string

	// Provider is the backend serving Scheme.
	Provider provider.ProviderType

	// Bucket is the bucket name.
	Bucket string

	// Prefix is the key prefix. May be empty for the bucket root.
	Prefix string

	// BaseURL is the blob bucket root ("mem://" or "file:///srv/store").
	// Empty for s3 and minio.
	BaseURL string
}

// String returns the URI in canonical form.
func (u *SourceURI) String() string {
	if u.Scheme == "file" {
		base := strings.TrimSuffix(u.BaseURL, "/")
		if u.Prefix != "" {
			return fmt.Sprintf("%s/%s?prefix=%s", base, u.Bucket, url.QueryEscape(u.Prefix))
		}
		return fmt.Sprintf("%s/%s", base, u.Bucket)
	}
	return fmt.Sprintf("%s://%s/%s", u.Scheme, u.Bucket, u.Prefix)
}

// ParseURI parses a source URI into its components.
//
// For s3, minio and mem the first path element is the bucket and the rest
// is the prefix, kept verbatim. For file the path names the bucket directory
// and the prefix is given as the "prefix" query parameter.
func ParseURI(uri string) (*SourceURI, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}

	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return nil, fmt.Errorf("%w: missing scheme (expected s3://...)", ErrInvalidURI)
	}
	scheme := strings.ToLower(uri[:schemeEnd])
	remainder := uri[schemeEnd+3:]

	switch scheme {
	case "s3", "minio", "mem":
		return parseBucketURI(uri, scheme, remainder)
	case "file":
		return parseFileURI(uri, remainder)
	default:
		return nil, fmt.Errorf("%w: %s (supported: s3, minio, mem, file)", ErrUnsupportedProvider, scheme)
	}
}

func parseBucketURI(uri, scheme, remainder string) (*SourceURI, error) {
	// Split manually: keys may contain '?' or '#', which url.Parse would eat.
	bucket, prefix, _ := strings.Cut(remainder, "/")
	if bucket == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}
	if _, err := url.Parse(scheme + "://" + bucket + "/"); err != nil {
		return nil, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidURI, bucket)
	}

	u := &SourceURI{Scheme: scheme, Bucket: bucket, Prefix: prefix}
	switch scheme {
	case "s3":
		u.Provider = provider.ProviderS3
	case "minio":
		u.Provider = provider.ProviderMinio
	case "mem":
		u.Provider = provider.ProviderBlob
		u.BaseURL = "mem://"
	}
	return u, nil
}

func parseFileURI(uri, remainder string) (*SourceURI, error) {
	parsed, err := url.Parse("file://" + remainder)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if parsed.Host != "" && parsed.Host != "localhost" {
		return nil, fmt.Errorf("%w: file URI must be absolute (file:///...): %s", ErrInvalidURI, uri)
	}

	dir := path.Clean(parsed.Path)
	if !path.IsAbs(dir) || dir == "/" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}
	root, bucket := path.Split(dir)

	return &SourceURI{
		Scheme:   "file",
		Provider: provider.ProviderBlob,
		Bucket:   bucket,
		Prefix:   parsed.Query().Get("prefix"),
		BaseURL:  "file://" + path.Clean(root),
	}, nil
}
