package mirror

import (
	"context"
	"io"
	"os"

	"github.com/go-git/go-billy/v5"

	"github.com/3leaps/nimbusdl/pkg/provider"
)

// FileDownloader streams one object into one local file.
type FileDownloader struct {
	getter provider.ObjectGetter
	fs     billy.Filesystem
}

// NewFileDownloader creates a downloader reading from getter and writing to fs.
func NewFileDownloader(getter provider.ObjectGetter, fs billy.Filesystem) *FileDownloader {
	return &FileDownloader{getter: getter, fs: fs}
}

// Download copies job.Key to job.LocalPath and returns the bytes written.
//
// It succeeds only once the full stream has been written and the local file
// closed cleanly. On any failure the partial file is removed and a
// *DownloadError is returned.
func (d *FileDownloader) Download(ctx context.Context, job DownloadJob) (int64, error) {
	fail := func(err error) (int64, error) {
		return 0, &DownloadError{Bucket: job.Bucket, Key: job.Key, LocalPath: job.LocalPath, Err: err}
	}

	body, size, err := d.getter.GetObject(ctx, job.Bucket, job.Key)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = body.Close() }()

	f, err := d.fs.OpenFile(job.LocalPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fail(err)
	}

	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: body})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && size >= 0 && n != size {
		err = &ShortReadError{Expected: size, Written: n}
	}
	if err != nil {
		_ = d.fs.Remove(job.LocalPath)
		return fail(err)
	}
	return n, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
