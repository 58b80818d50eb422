package output

import (
	"context"
	"errors"
	"io/fs"
	"sync"

	"github.com/3leaps/nimbusdl/pkg/mirror"
	"github.com/3leaps/nimbusdl/pkg/provider"
)

// Observer renders mirror events as JSONL records.
//
// Records are written even after the run context is canceled so the
// summary of an interrupted run still reaches the output. The first write
// failure is kept and reported by Err; later events are still attempted.
type Observer struct {
	w      Writer
	prefix string

	mu  sync.Mutex
	err error
}

var _ mirror.Observer = (*Observer)(nil)

// NewObserver returns an observer writing to w.
func NewObserver(w Writer) *Observer {
	return &Observer{w: w}
}

// Err returns the first write error, if any.
func (o *Observer) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

func (o *Observer) record(err error) {
	if err == nil {
		return
	}
	o.mu.Lock()
	if o.err == nil {
		o.err = err
	}
	o.mu.Unlock()
}

// PageListed remembers the prefix for error records. Pages are not written.
func (o *Observer) PageListed(_ context.Context, ev mirror.PageEvent) {
	o.mu.Lock()
	o.prefix = ev.Prefix
	o.mu.Unlock()
}

func (o *Observer) DirCreated(ctx context.Context, ev mirror.DirEvent) {
	o.record(o.w.WriteDir(context.WithoutCancel(ctx), &DirRecord{Rel: ev.Rel, Path: ev.LocalPath}))
}

func (o *Observer) FileFinished(ctx context.Context, ev mirror.FileEvent) {
	ctx = context.WithoutCancel(ctx)

	switch {
	case ev.Err != nil:
		o.mu.Lock()
		prefix := o.prefix
		o.mu.Unlock()
		o.record(o.w.WriteError(ctx, &ErrorRecord{
			Code:    ErrorCode(ev.Err),
			Message: ev.Err.Error(),
			Key:     ev.Key,
			Prefix:  prefix,
			Path:    ev.LocalPath,
		}))
		o.record(o.w.WriteFile(ctx, &FileRecord{
			Key:      ev.Key,
			Rel:      ev.Rel,
			Path:     ev.LocalPath,
			Status:   FileStatusFailed,
			Bytes:    ev.Bytes,
			Duration: ev.Duration,
		}))
	case ev.Skipped:
		o.record(o.w.WriteFile(ctx, &FileRecord{Key: ev.Key, Status: FileStatusSkipped}))
	default:
		o.record(o.w.WriteFile(ctx, &FileRecord{
			Key:      ev.Key,
			Rel:      ev.Rel,
			Path:     ev.LocalPath,
			Status:   FileStatusDownloaded,
			Bytes:    ev.Bytes,
			Duration: ev.Duration,
		}))
	}
}

func (o *Observer) Finished(ctx context.Context, s *mirror.Summary, err error) {
	ctx = context.WithoutCancel(ctx)

	rec := &SummaryRecord{}
	if s != nil {
		rec.Bucket = s.Bucket
		rec.Prefix = s.Prefix
		rec.LocalDir = s.LocalDir
		rec.Pages = s.Pages
		rec.KeysListed = s.KeysListed
		rec.DirsCreated = s.DirsCreated
		rec.FilesDownloaded = s.FilesDownloaded
		rec.FilesFailed = s.FilesFailed
		rec.FilesSkipped = s.FilesSkipped
		rec.BytesDownloaded = s.BytesDownloaded
		rec.Duration = s.Duration
		rec.DurationHuman = s.Duration.String()
	}
	if err != nil {
		rec.Error = err.Error()
		o.record(o.w.WriteError(ctx, &ErrorRecord{
			Code:    ErrorCode(err),
			Message: err.Error(),
			Prefix:  rec.Prefix,
			Path:    rec.LocalDir,
		}))
	}
	o.record(o.w.WriteSummary(ctx, rec))
}

// ErrorCode maps a mirror or provider error to an ErrorRecord code.
func ErrorCode(err error) string {
	var setupErr *mirror.LocalSetupError
	var pathErr *fs.PathError

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeCanceled
	case errors.Is(err, mirror.ErrPathEscape):
		return ErrCodeInvalidKey
	case errors.Is(err, mirror.ErrPrematureClose):
		return ErrCodeIncomplete
	case errors.As(err, &setupErr):
		return ErrCodeLocalIO
	}

	if code := provider.ErrorCode(err); code != ErrCodeInternal {
		return code
	}
	if errors.As(err, &pathErr) {
		return ErrCodeLocalIO
	}
	return ErrCodeInternal
}
