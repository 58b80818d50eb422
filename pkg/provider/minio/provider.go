// Package minio implements the provider interface for S3-compatible stores
// through minio-go.
//
// It uses the low-level minio.Core client so listings keep the V1 marker
// semantics (ListObjects with marker and delimiter) instead of the channel
// based iterator of the high-level client.
package minio

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/3leaps/nimbusdl/pkg/provider"
)

// Config configures a minio provider.
type Config struct {
	// Endpoint is host[:port] without scheme, e.g. "localhost:9000".
	Endpoint string

	// AccessKeyID and SecretAccessKey are static V4 credentials.
	AccessKeyID     string
	SecretAccessKey string

	// Region is optional; minio-go discovers it when empty.
	Region string

	// Secure selects https.
	Secure bool

	// MaxKeys is the default page size. Zero uses 1000.
	MaxKeys int
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "minio config: " + e.Field + ": " + e.Message
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return &ConfigError{Field: "Endpoint", Message: "endpoint is required"}
	}
	if strings.Contains(c.Endpoint, "://") {
		return &ConfigError{Field: "Endpoint", Message: "endpoint must not include a scheme"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// api is the subset of minio.Core used by Provider.
type api interface {
	ListObjects(bucket, prefix, marker, delimiter string, maxKeys int) (minio.ListBucketResult, error)
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, minio.ObjectInfo, http.Header, error)
}

// Provider implements provider.Provider over minio-go.
type Provider struct {
	client  api
	maxKeys int
}

var (
	_ provider.Provider     = (*Provider)(nil)
	_ provider.ObjectGetter = (*Provider)(nil)
)

// New creates a provider from cfg.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderMinio, Err: err}
	}
	return newWithAPI(core, cfg.MaxKeys), nil
}

func newWithAPI(client api, maxKeys int) *Provider {
	return &Provider{client: client, maxKeys: provider.ClampMaxKeys(maxKeys)}
}

// ListPage returns one page using the V1 ListObjects call.
//
// minio.Core.ListObjects takes no context, so cancellation is only observed
// between pages.
func (p *Provider) ListPage(ctx context.Context, req provider.ListRequest) (*provider.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	maxKeys := p.maxKeys
	if req.MaxKeys > 0 {
		maxKeys = provider.ClampMaxKeys(req.MaxKeys)
	}

	res, err := p.client.ListObjects(req.Bucket, req.Prefix, req.Marker, req.Delimiter, maxKeys)
	if err != nil {
		return nil, wrapError("ListPage", req.Bucket, req.Prefix, err)
	}

	page := &provider.ListPage{
		Keys:           make([]string, 0, len(res.Contents)),
		CommonPrefixes: make([]string, 0, len(res.CommonPrefixes)),
		IsTruncated:    res.IsTruncated,
		NextMarker:     res.NextMarker,
	}
	for _, obj := range res.Contents {
		page.Keys = append(page.Keys, obj.Key)
	}
	for _, cp := range res.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, cp.Prefix)
	}
	return page, nil
}

// GetObject opens the object body as a stream.
func (p *Provider) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	body, info, _, err := p.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, wrapError("GetObject", bucket, key, err)
	}
	size := info.Size
	if size < 0 {
		size = -1
	}
	return body, size, nil
}

// Close is a no-op; minio clients hold no resources beyond the HTTP pool.
func (p *Provider) Close() error { return nil }

// wrapError maps minio error responses onto provider sentinels.
func wrapError(op, bucket, key string, err error) error {
	wrapped := &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderMinio,
		Bucket:   bucket,
		Key:      key,
		Err:      err,
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapped
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		wrapped.Err = provider.ErrNotFound
		return wrapped
	case "NoSuchBucket":
		wrapped.Err = provider.ErrBucketNotFound
		return wrapped
	case "AccessDenied":
		wrapped.Err = provider.ErrAccessDenied
		return wrapped
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		wrapped.Err = provider.ErrInvalidCredentials
		return wrapped
	case "SlowDown", "SlowDownRead", "RequestLimitExceeded":
		wrapped.Err = provider.ErrThrottled
		return wrapped
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		wrapped.Err = provider.ErrNotFound
	case http.StatusForbidden:
		wrapped.Err = provider.ErrAccessDenied
	case http.StatusTooManyRequests:
		wrapped.Err = provider.ErrThrottled
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusInternalServerError:
		wrapped.Err = provider.ErrProviderUnavailable
	}
	return wrapped
}
