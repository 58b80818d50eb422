package mirror

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/3leaps/nimbusdl/pkg/provider"
)

// PageSize is the number of entries requested per page call.
const PageSize = 1000

// Source names the remote side of a mirror run.
type Source struct {
	// Bucket is required.
	Bucket string

	// Prefix selects keys starting with it. It is stripped to form local paths.
	Prefix string

	// Delimiter switches to folder listing: only the common prefixes of
	// each page are collected. Empty lists every key.
	Delimiter string
}

// KeyLister enumerates every key under a source, one page at a time.
type KeyLister struct {
	provider provider.Provider
	limiter  *rate.Limiter
	observer Observer
}

// NewKeyLister creates a lister. A nil limiter disables rate limiting and a
// nil observer discards events.
func NewKeyLister(p provider.Provider, limiter *rate.Limiter, obs Observer) *KeyLister {
	if obs == nil {
		obs = NopObserver{}
	}
	return &KeyLister{provider: p, limiter: limiter, observer: obs}
}

// ListKeys pages through src until the remote reports no more data and
// returns the collected keys in listing order.
//
// Pages are requested strictly one after the other. A truncated page that
// contributes no entries still advances to the next marker. Any page error
// aborts the listing with a *ListError; keys gathered so far are dropped.
func (l *KeyLister) ListKeys(ctx context.Context, src Source) ([]string, error) {
	var keys []string
	marker := ""

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, &ListError{Bucket: src.Bucket, Prefix: src.Prefix, Marker: marker, Err: err}
		}
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return nil, &ListError{Bucket: src.Bucket, Prefix: src.Prefix, Marker: marker, Err: err}
			}
		}

		res, err := l.provider.ListPage(ctx, provider.ListRequest{
			Bucket:    src.Bucket,
			Prefix:    src.Prefix,
			Delimiter: src.Delimiter,
			Marker:    marker,
			MaxKeys:   PageSize,
		})
		if err != nil {
			return nil, &ListError{Bucket: src.Bucket, Prefix: src.Prefix, Marker: marker, Err: err}
		}

		entries := res.Keys
		if src.Delimiter != "" {
			entries = res.CommonPrefixes
		}
		keys = append(keys, entries...)

		l.observer.PageListed(ctx, PageEvent{
			Bucket:    src.Bucket,
			Prefix:    src.Prefix,
			Marker:    marker,
			Page:      page,
			Entries:   len(entries),
			Truncated: res.IsTruncated,
		})

		if !res.IsTruncated {
			return keys, nil
		}

		next := nextMarker(src.Delimiter != "", res)
		if next == "" || next == marker {
			return nil, &ListError{Bucket: src.Bucket, Prefix: src.Prefix, Marker: marker, Err: ErrStalledListing}
		}
		marker = next
	}
}

// nextMarker picks the continuation point of a truncated page.
//
// Delimiter listings report NextMarker. Flat S3 listings do not, so the last
// key of the page is used; token based backends report NextMarker in both
// modes and it takes precedence.
func nextMarker(delimited bool, res *provider.ListPage) string {
	if res.NextMarker != "" {
		return res.NextMarker
	}
	last := lastOf(res.Keys)
	if delimited {
		if cp := lastOf(res.CommonPrefixes); cp > last {
			last = cp
		}
	}
	return last
}

func lastOf(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}
