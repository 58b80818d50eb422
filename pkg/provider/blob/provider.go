// Package blob implements the provider interface over gocloud.dev/blob.
//
// Supported URL schemes are the ones whose drivers are registered here:
//
//	mem://          every bucket name gets its own in-memory bucket
//	file:///root    bucket "b" is the directory /root/b
//
// Listing markers are the portable page tokens returned by blob.Bucket.ListPage.
// The registered drivers use the last returned key as token, so a key is also
// a valid marker.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"path"
	"strings"
	"sync"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/3leaps/nimbusdl/pkg/provider"
)

// Config configures a blob provider.
type Config struct {
	// BaseURL is "mem://" or "file:///abs/root".
	BaseURL string

	// MaxKeys is the default page size. Zero uses 1000.
	MaxKeys int
}

// Validate checks the base URL.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("blob config: BaseURL: %w", err)
	}
	switch u.Scheme {
	case "mem":
		return nil
	case "file":
		if u.Path == "" || !strings.HasPrefix(u.Path, "/") {
			return fmt.Errorf("blob config: BaseURL: file URL needs an absolute path")
		}
		return nil
	default:
		return fmt.Errorf("blob config: BaseURL: unsupported scheme %q", u.Scheme)
	}
}

// Opener opens the bucket for a name.
type Opener func(ctx context.Context, name string) (*blob.Bucket, error)

// Provider implements provider.Provider for gocloud buckets.
type Provider struct {
	open    Opener
	maxKeys int

	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

var (
	_ provider.Provider     = (*Provider)(nil)
	_ provider.ObjectGetter = (*Provider)(nil)
)

// New creates a provider that resolves bucket names against cfg.BaseURL.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	u, _ := url.Parse(cfg.BaseURL)

	var open Opener
	switch u.Scheme {
	case "mem":
		open = func(ctx context.Context, _ string) (*blob.Bucket, error) {
			return blob.OpenBucket(ctx, "mem://")
		}
	case "file":
		root := u.Path
		open = func(ctx context.Context, name string) (*blob.Bucket, error) {
			return blob.OpenBucket(ctx, "file://"+path.Join(root, name))
		}
	}
	return NewWithOpener(open, cfg.MaxKeys), nil
}

// NewWithOpener creates a provider with a custom bucket opener.
func NewWithOpener(open Opener, maxKeys int) *Provider {
	return &Provider{
		open:    open,
		maxKeys: provider.ClampMaxKeys(maxKeys),
		buckets: make(map[string]*blob.Bucket),
	}
}

// Bucket returns the opened bucket for name, opening it on first use.
// Tests use it to seed in-memory buckets.
func (p *Provider) Bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.buckets[name]; ok {
		return b, nil
	}
	if name == "" || strings.Contains(name, "/") || name == "." || name == ".." {
		return nil, &provider.ProviderError{Op: "OpenBucket", Provider: provider.ProviderBlob, Bucket: name, Err: provider.ErrBucketNotFound}
	}
	b, err := p.open(ctx, name)
	if err != nil {
		return nil, wrapError("OpenBucket", name, "", err)
	}
	p.buckets[name] = b
	return b, nil
}

// ListPage returns one page of keys. Directory entries reported by the driver
// become common prefixes.
func (p *Provider) ListPage(ctx context.Context, req provider.ListRequest) (*provider.ListPage, error) {
	b, err := p.Bucket(ctx, req.Bucket)
	if err != nil {
		return nil, err
	}

	pageSize := p.maxKeys
	if req.MaxKeys > 0 {
		pageSize = provider.ClampMaxKeys(req.MaxKeys)
	}

	token := blob.FirstPageToken
	if req.Marker != "" {
		token = []byte(req.Marker)
	}

	objs, next, err := b.ListPage(ctx, token, pageSize, &blob.ListOptions{
		Prefix:    req.Prefix,
		Delimiter: req.Delimiter,
	})
	if err != nil {
		return nil, wrapError("ListPage", req.Bucket, req.Prefix, err)
	}

	page := &provider.ListPage{
		IsTruncated: len(next) > 0,
		NextMarker:  string(next),
	}
	for _, obj := range objs {
		if obj.IsDir {
			page.CommonPrefixes = append(page.CommonPrefixes, obj.Key)
			continue
		}
		page.Keys = append(page.Keys, obj.Key)
	}
	return page, nil
}

// GetObject opens a reader for the object.
func (p *Provider) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	b, err := p.Bucket(ctx, bucket)
	if err != nil {
		return nil, 0, err
	}
	r, err := b.NewReader(ctx, key, nil)
	if err != nil {
		return nil, 0, wrapError("GetObject", bucket, key, err)
	}
	return r, r.Size(), nil
}

// Close closes every opened bucket.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for name, b := range p.buckets {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bucket %s: %w", name, err))
		}
		delete(p.buckets, name)
	}
	return errors.Join(errs...)
}

func wrapError(op, bucket, key string, err error) error {
	wrapped := &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderBlob,
		Bucket:   bucket,
		Key:      key,
		Err:      err,
	}

	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		if op == "OpenBucket" {
			wrapped.Err = provider.ErrBucketNotFound
		} else {
			wrapped.Err = provider.ErrNotFound
		}
		return wrapped
	case gcerrors.PermissionDenied:
		wrapped.Err = provider.ErrAccessDenied
		return wrapped
	case gcerrors.ResourceExhausted:
		wrapped.Err = provider.ErrThrottled
		return wrapped
	}

	if errors.Is(err, fs.ErrNotExist) || strings.Contains(err.Error(), "no such file or directory") {
		if op == "OpenBucket" {
			wrapped.Err = provider.ErrBucketNotFound
		} else {
			wrapped.Err = provider.ErrNotFound
		}
	}
	return wrapped
}
