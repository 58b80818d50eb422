package mirror

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PageEvent describes one completed page call.
type PageEvent struct {
	Bucket    string
	Prefix    string
	Marker    string
	Page      int
	Entries   int
	Truncated bool
}

// DirEvent describes one created directory.
type DirEvent struct {
	Rel       string
	LocalPath string
}

// FileEvent describes the outcome of one file key.
// Err is nil on success. Skipped is set when a matcher dropped the key.
type FileEvent struct {
	Bucket    string
	Key       string
	Rel       string
	LocalPath string
	Bytes     int64
	Duration  time.Duration
	Skipped   bool
	Err       *DownloadError
}

// Observer receives progress events from a mirror run.
//
// Methods may be called concurrently from download workers and must not
// block for long; the run does not depend on what an observer does.
type Observer interface {
	PageListed(ctx context.Context, ev PageEvent)
	DirCreated(ctx context.Context, ev DirEvent)
	FileFinished(ctx context.Context, ev FileEvent)
	Finished(ctx context.Context, summary *Summary, err error)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) PageListed(context.Context, PageEvent)     {}
func (NopObserver) DirCreated(context.Context, DirEvent)      {}
func (NopObserver) FileFinished(context.Context, FileEvent)   {}
func (NopObserver) Finished(context.Context, *Summary, error) {}

// ZapObserver renders events as structured log lines.
type ZapObserver struct {
	logger *zap.Logger
}

// NewZapObserver returns an observer writing to logger.
func NewZapObserver(logger *zap.Logger) *ZapObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapObserver{logger: logger}
}

func (o *ZapObserver) PageListed(_ context.Context, ev PageEvent) {
	o.logger.Debug("listed page",
		zap.String("bucket", ev.Bucket),
		zap.String("prefix", ev.Prefix),
		zap.String("marker", ev.Marker),
		zap.Int("page", ev.Page),
		zap.Int("entries", ev.Entries),
		zap.Bool("truncated", ev.Truncated),
	)
}

func (o *ZapObserver) DirCreated(_ context.Context, ev DirEvent) {
	o.logger.Debug("created directory", zap.String("path", ev.LocalPath))
}

func (o *ZapObserver) FileFinished(_ context.Context, ev FileEvent) {
	switch {
	case ev.Err != nil:
		o.logger.Warn("download failed",
			zap.String("key", ev.Key),
			zap.String("path", ev.LocalPath),
			zap.Error(ev.Err.Err),
		)
	case ev.Skipped:
		o.logger.Debug("skipped file", zap.String("key", ev.Key))
	default:
		o.logger.Info("downloaded file",
			zap.String("key", ev.Key),
			zap.String("path", ev.LocalPath),
			zap.Int64("bytes", ev.Bytes),
			zap.Duration("duration", ev.Duration),
		)
	}
}

func (o *ZapObserver) Finished(_ context.Context, s *Summary, err error) {
	if err != nil {
		o.logger.Error("mirror failed", zap.Error(err))
		return
	}
	o.logger.Info("mirror complete",
		zap.String("bucket", s.Bucket),
		zap.String("prefix", s.Prefix),
		zap.String("local_dir", s.LocalDir),
		zap.Int64("keys", s.KeysListed),
		zap.Int64("dirs", s.DirsCreated),
		zap.Int64("files", s.FilesDownloaded),
		zap.Int64("failed", s.FilesFailed),
		zap.Int64("skipped", s.FilesSkipped),
		zap.Int64("bytes", s.BytesDownloaded),
		zap.Duration("duration", s.Duration),
	)
}

// multiObserver fans events out to several observers.
type multiObserver []Observer

func (m multiObserver) PageListed(ctx context.Context, ev PageEvent) {
	for _, o := range m {
		o.PageListed(ctx, ev)
	}
}

func (m multiObserver) DirCreated(ctx context.Context, ev DirEvent) {
	for _, o := range m {
		o.DirCreated(ctx, ev)
	}
}

func (m multiObserver) FileFinished(ctx context.Context, ev FileEvent) {
	for _, o := range m {
		o.FileFinished(ctx, ev)
	}
}

func (m multiObserver) Finished(ctx context.Context, s *Summary, err error) {
	for _, o := range m {
		o.Finished(ctx, s, err)
	}
}
