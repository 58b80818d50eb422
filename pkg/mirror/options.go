package mirror

import (
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/nimbusdl/pkg/match"
)

// DefaultConcurrency is the number of concurrent file downloads.
const DefaultConcurrency = 16

type options struct {
	concurrency int
	rateLimit   float64
	matcher     *match.Matcher
	observers   []Observer
}

// Option configures a Downloader.
type Option func(*options)

// WithConcurrency bounds the number of files downloaded at once.
// Values below 1 use DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithRateLimit caps page calls per second. Zero means unlimited.
func WithRateLimit(perSecond float64) Option {
	return func(o *options) { o.rateLimit = perSecond }
}

// WithMatcher filters file keys by their relative path.
func WithMatcher(m *match.Matcher) Option {
	return func(o *options) { o.matcher = m }
}

// WithObserver adds an event observer. May be given more than once.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithLogger adds a zap-backed observer.
func WithLogger(logger *zap.Logger) Option {
	return WithObserver(NewZapObserver(logger))
}

func buildOptions(opts []Option) options {
	o := options{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency < 1 {
		o.concurrency = DefaultConcurrency
	}
	return o
}

func (o options) observer() Observer {
	switch len(o.observers) {
	case 0:
		return NopObserver{}
	case 1:
		return o.observers[0]
	default:
		return multiObserver(o.observers)
	}
}

func (o options) limiter() *rate.Limiter {
	if o.rateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(o.rateLimit), 1)
}
