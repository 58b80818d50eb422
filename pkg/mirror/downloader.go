// Package mirror mirrors an object storage prefix onto a local directory.
//
// A run resets the local directory, lists every key under the prefix with
// marker based pagination, creates the implied directory tree and downloads
// each file key through a bounded worker pool:
//
//	d, err := mirror.New(p, osfs.New("/"), mirror.WithConcurrency(8))
//	summary, err := d.Run(ctx, mirror.Request{
//	    LocalDir: "/srv/mirror",
//	    Source:   &mirror.Source{Bucket: "assets", Prefix: "site/"},
//	})
//
// Fatal failures (validation, local setup, listing) end the run with an
// error. Per-file failures are isolated and collected in Summary.Failures.
package mirror

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/3leaps/nimbusdl/pkg/provider"
)

// Request describes one mirror run.
type Request struct {
	// LocalDir is the local root. Its previous contents are destroyed.
	LocalDir string

	// Source is the remote side. Required.
	Source *Source
}

// Summary holds the statistics of a run.
type Summary struct {
	Bucket   string
	Prefix   string
	LocalDir string

	Pages           int64
	KeysListed      int64
	DirsCreated     int64
	FilesDownloaded int64
	FilesFailed     int64
	FilesSkipped    int64
	BytesDownloaded int64
	Duration        time.Duration

	// Failures lists every per-file error, in completion order.
	Failures []*DownloadError
}

// Err joins the per-file failures, or returns nil when every file succeeded.
func (s *Summary) Err() error {
	if s == nil || len(s.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(s.Failures))
	for i, f := range s.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Result is the single terminal outcome of a run. Err is set for fatal
// failures; Summary is always set once the run has started I/O.
type Result struct {
	Summary *Summary
	Err     error
}

// Handle tracks a run started by DownloadDir.
type Handle struct {
	done   chan struct{}
	result Result
}

// Done is closed when the run has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result blocks until the run finishes and returns its outcome.
func (h *Handle) Result() Result {
	<-h.done
	return h.result
}

// Wait blocks until the run finishes.
func (h *Handle) Wait() (*Summary, error) {
	r := h.Result()
	return r.Summary, r.Err
}

func (h *Handle) finish(r Result) {
	h.result = r
	close(h.done)
}

// Downloader mirrors remote prefixes into a local filesystem.
type Downloader struct {
	provider provider.Provider
	getter   provider.ObjectGetter
	fs       billy.Filesystem
	opts     options
}

// New creates a Downloader. p must also implement provider.ObjectGetter.
func New(p provider.Provider, fs billy.Filesystem, opts ...Option) (*Downloader, error) {
	if p == nil {
		return nil, &ValidationError{Field: "Provider", Message: "provider is required"}
	}
	if fs == nil {
		return nil, &ValidationError{Field: "FileSystem", Message: "filesystem is required"}
	}
	getter, ok := p.(provider.ObjectGetter)
	if !ok {
		return nil, ErrGetUnsupported
	}
	return &Downloader{provider: p, getter: getter, fs: fs, opts: buildOptions(opts)}, nil
}

// Run mirrors req synchronously.
func (d *Downloader) Run(ctx context.Context, req Request) (*Summary, error) {
	return d.DownloadDir(ctx, req).Wait()
}

// DownloadDir validates req and starts the run in the background.
//
// Invalid input yields an already finished handle carrying a
// *ValidationError; nothing is touched in that case. Otherwise the handle
// finishes after every download has completed or failed.
//
// Runs targeting the same directory of the same filesystem are serialized.
func (d *Downloader) DownloadDir(ctx context.Context, req Request) *Handle {
	h := &Handle{done: make(chan struct{})}

	if err := req.validate(); err != nil {
		h.finish(Result{Err: err})
		return h
	}

	go func() {
		unlock := lockDir(d.fs, req.LocalDir)
		defer unlock()

		summary, err := d.run(ctx, req)
		d.opts.observer().Finished(ctx, summary, err)
		h.finish(Result{Summary: summary, Err: err})
	}()
	return h
}

func (r Request) validate() error {
	if strings.TrimSpace(r.LocalDir) == "" {
		return &ValidationError{Field: "LocalDir", Message: "local directory is required"}
	}
	if path.Clean(strings.ReplaceAll(r.LocalDir, "\\", "/")) == "/" {
		return &ValidationError{Field: "LocalDir", Message: "refusing to reset the filesystem root"}
	}
	if r.Source == nil {
		return &ValidationError{Field: "Source", Message: "source parameters are required"}
	}
	if strings.TrimSpace(r.Source.Bucket) == "" {
		return &ValidationError{Field: "Source.Bucket", Message: "bucket is required"}
	}
	return nil
}

// run executes reset, listing, materialization and downloads.
func (d *Downloader) run(ctx context.Context, req Request) (*Summary, error) {
	start := time.Now()
	src := *req.Source
	obs := d.opts.observer()
	st := &runState{summary: &Summary{Bucket: src.Bucket, Prefix: src.Prefix, LocalDir: req.LocalDir}}

	if err := ctx.Err(); err != nil {
		return st.finish(start), err
	}
	if err := resetDir(d.fs, req.LocalDir); err != nil {
		return st.finish(start), err
	}

	counted := &countingObserver{Observer: obs, state: st}
	lister := NewKeyLister(d.provider, d.opts.limiter(), counted)
	keys, err := lister.ListKeys(ctx, src)
	if err != nil {
		return st.finish(start), err
	}
	st.keys = int64(len(keys))

	mat := NewMaterializer(d.fs, d.opts.matcher, counted)
	plan := mat.Plan(src.Bucket, src.Prefix, req.LocalDir, keys)
	for _, rej := range plan.Rejected {
		st.fail(rej)
		obs.FileFinished(ctx, FileEvent{Bucket: rej.Bucket, Key: rej.Key, Err: rej})
	}
	for _, key := range plan.Skipped {
		st.skipped.Add(1)
		obs.FileFinished(ctx, FileEvent{Bucket: src.Bucket, Key: key, Skipped: true})
	}

	fd := NewFileDownloader(d.getter, d.fs)
	pool := newPool(ctx, d.opts.concurrency, func(ctx context.Context, job DownloadJob) {
		began := time.Now()
		n, err := fd.Download(ctx, job)
		ev := FileEvent{
			Bucket:    job.Bucket,
			Key:       job.Key,
			Rel:       job.Rel,
			LocalPath: job.LocalPath,
			Bytes:     n,
			Duration:  time.Since(began),
		}
		if err != nil {
			var de *DownloadError
			if !errors.As(err, &de) {
				de = &DownloadError{Bucket: job.Bucket, Key: job.Key, LocalPath: job.LocalPath, Err: err}
			}
			ev.Err = de
			st.fail(de)
		} else {
			st.downloaded.Add(1)
			st.bytes.Add(n)
		}
		obs.FileFinished(ctx, ev)
	})

	err = mat.Materialize(ctx, req.LocalDir, plan, pool.Submit)
	pool.CloseAndWait()

	if err == nil {
		err = ctx.Err()
	}
	return st.finish(start), err
}

// resetDir destroys dir if present and recreates it empty.
func resetDir(fs billy.Filesystem, dir string) error {
	if err := util.RemoveAll(fs, dir); err != nil {
		return &LocalSetupError{Path: dir, Err: err}
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return &LocalSetupError{Path: dir, Err: err}
	}
	return nil
}

// runState accumulates counters from concurrent workers.
type runState struct {
	summary    *Summary
	pages      atomic.Int64
	dirs       atomic.Int64
	keys       int64
	downloaded atomic.Int64
	skipped    atomic.Int64
	bytes      atomic.Int64

	mu       sync.Mutex
	failures []*DownloadError
}

func (s *runState) fail(err *DownloadError) {
	s.mu.Lock()
	s.failures = append(s.failures, err)
	s.mu.Unlock()
}

func (s *runState) finish(start time.Time) *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := s.summary
	sum.Pages = s.pages.Load()
	sum.KeysListed = s.keys
	sum.DirsCreated = s.dirs.Load()
	sum.FilesDownloaded = s.downloaded.Load()
	sum.FilesSkipped = s.skipped.Load()
	sum.BytesDownloaded = s.bytes.Load()
	sum.Failures = append([]*DownloadError(nil), s.failures...)
	sum.FilesFailed = int64(len(sum.Failures))
	sum.Duration = time.Since(start)
	return sum
}

// countingObserver updates run counters before forwarding events.
type countingObserver struct {
	Observer
	state *runState
}

func (c *countingObserver) PageListed(ctx context.Context, ev PageEvent) {
	c.state.pages.Add(1)
	c.Observer.PageListed(ctx, ev)
}

func (c *countingObserver) DirCreated(ctx context.Context, ev DirEvent) {
	c.state.dirs.Add(1)
	c.Observer.DirCreated(ctx, ev)
}

// pool runs download jobs on a fixed number of workers.
type pool struct {
	jobs chan DownloadJob
	wg   sync.WaitGroup
}

func newPool(ctx context.Context, width int, work func(context.Context, DownloadJob)) *pool {
	p := &pool{jobs: make(chan DownloadJob, width)}
	for i := 0; i < width; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				if ctx.Err() != nil {
					continue
				}
				work(ctx, job)
			}
		}()
	}
	return p
}

// Submit queues job. It blocks only while every worker is busy and the
// queue is full, and gives up when ctx is done.
func (p *pool) Submit(ctx context.Context, job DownloadJob) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- job:
		return nil
	}
}

// CloseAndWait stops accepting jobs and waits for the workers to drain.
func (p *pool) CloseAndWait() {
	close(p.jobs)
	p.wg.Wait()
}

var dirLocks sync.Map // string -> *sync.Mutex

// lockDir serializes runs on the same directory and returns the unlock func.
func lockDir(fs billy.Filesystem, dir string) func() {
	key := fs.Root() + "\x00" + fs.Join(dir)
	v, _ := dirLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
