// Package retry wraps a provider with bounded retries.
//
// Attempt n (starting at 1) waits Delay*n before retrying. Permanent errors
// (missing object or bucket, access denied, bad credentials) and context
// cancellation return immediately.
package retry

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/nimbusdl/pkg/provider"
)

// Policy controls retry behaviour.
type Policy struct {
	// Count is the number of retries after the first attempt.
	Count int

	// Delay is the base wait between attempts.
	Delay time.Duration
}

// Provider decorates a provider.Provider (and ObjectGetter when the inner
// provider implements it) with retries.
type Provider struct {
	inner  provider.Provider
	policy Policy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

var (
	_ provider.Provider     = (*Provider)(nil)
	_ provider.ObjectGetter = (*Provider)(nil)
)

// Wrap returns inner decorated with policy. A nil logger disables logging.
func Wrap(inner provider.Provider, policy Policy, logger *zap.Logger) *Provider {
	if policy.Count < 0 {
		policy.Count = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{inner: inner, policy: policy, logger: logger, sleep: sleepCtx}
}

// Unwrap returns the decorated provider.
func (p *Provider) Unwrap() provider.Provider { return p.inner }

// ListPage calls the inner ListPage with retries.
func (p *Provider) ListPage(ctx context.Context, req provider.ListRequest) (*provider.ListPage, error) {
	var page *provider.ListPage
	err := p.do(ctx, "ListPage", req.Prefix, func() error {
		var err error
		page, err = p.inner.ListPage(ctx, req)
		return err
	})
	return page, err
}

// GetObject calls the inner GetObject with retries. Only opening the stream
// is retried; read errors surface to the caller.
func (p *Provider) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	getter, ok := p.inner.(provider.ObjectGetter)
	if !ok {
		return nil, 0, &provider.ProviderError{Op: "GetObject", Bucket: bucket, Key: key, Err: errors.ErrUnsupported}
	}

	var (
		body io.ReadCloser
		size int64
	)
	err := p.do(ctx, "GetObject", key, func() error {
		var err error
		body, size, err = getter.GetObject(ctx, bucket, key)
		return err
	})
	return body, size, err
}

// Close closes the inner provider.
func (p *Provider) Close() error { return p.inner.Close() }

func (p *Provider) do(ctx context.Context, op, key string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !Retryable(err) || attempt >= p.policy.Count {
			return err
		}

		wait := p.policy.Delay * time.Duration(attempt+1)
		p.logger.Debug("retrying provider call",
			zap.String("op", op),
			zap.String("key", key),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if serr := p.sleep(ctx, wait); serr != nil {
			return err
		}
	}
}

// Retryable reports whether err may succeed on a later attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, errors.ErrUnsupported) {
		return false
	}
	return !provider.IsPermanent(err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
