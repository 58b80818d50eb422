package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/3leaps/nimbusdl/pkg/match"
	"github.com/3leaps/nimbusdl/pkg/provider"
	blobprovider "github.com/3leaps/nimbusdl/pkg/provider/blob"
	"github.com/3leaps/nimbusdl/pkg/provider/retry"
)

// snapshot returns path -> content ("<dir>" for directories) under root.
func snapshot(t *testing.T, fs billy.Filesystem, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := util.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			out[rel] = "<dir>"
			return nil
		}
		data, err := util.ReadFile(fs, p)
		if err != nil {
			return err
		}
		out[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func sampleProvider() *mockProvider {
	return newMockProvider("bkt").
		put("site/", "").
		put("site/index.html", "<html>").
		put("site/css/", "").
		put("site/css/main.css", "body{}").
		put("site/img/logo.png", "PNG")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, memfs.New())
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = New(newMockProvider("b"), nil)
	assert.ErrorAs(t, err, &ve)

	_, err = New(&scriptedProvider{}, memfs.New())
	assert.ErrorIs(t, err, ErrGetUnsupported)
}

func TestDownloadDir_ValidationPerformsNoIO(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"missing local dir", Request{Source: &Source{Bucket: "bkt"}}, "LocalDir"},
		{"blank local dir", Request{LocalDir: "  ", Source: &Source{Bucket: "bkt"}}, "LocalDir"},
		{"filesystem root", Request{LocalDir: "/", Source: &Source{Bucket: "bkt"}}, "LocalDir"},
		{"missing source", Request{LocalDir: "out"}, "Source"},
		{"missing bucket", Request{LocalDir: "out", Source: &Source{Prefix: "x/"}}, "Source.Bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := sampleProvider()
			fs := &failingFS{Filesystem: memfs.New()}
			d, err := New(p, fs)
			require.NoError(t, err)

			h := d.DownloadDir(context.Background(), tt.req)
			select {
			case <-h.Done():
			default:
				t.Fatal("validation failure must finish the handle immediately")
			}

			res := h.Result()
			var ve *ValidationError
			require.ErrorAs(t, res.Err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Nil(t, res.Summary)

			assert.Empty(t, p.listCalls())
			assert.Zero(t, p.getCalls())
			assert.Zero(t, fs.touched.Load())
		})
	}
}

func TestRun_MirrorsTree(t *testing.T) {
	fs := memfs.New()
	d, err := New(sampleProvider(), fs)
	require.NoError(t, err)

	summary, err := d.Run(context.Background(), Request{
		LocalDir: "out",
		Source:   &Source{Bucket: "bkt", Prefix: "site/"},
	})
	require.NoError(t, err)
	require.NoError(t, summary.Err())

	assert.Equal(t, map[string]string{
		"index.html":   "<html>",
		"css":          "<dir>",
		"css/main.css": "body{}",
		"img":          "<dir>",
		"img/logo.png": "PNG",
	}, snapshot(t, fs, "out"))

	assert.Equal(t, int64(5), summary.KeysListed)
	assert.Equal(t, int64(3), summary.FilesDownloaded)
	assert.Equal(t, int64(2), summary.DirsCreated)
	assert.Equal(t, int64(len("<html>")+len("body{}")+len("PNG")), summary.BytesDownloaded)
	assert.Equal(t, int64(1), summary.Pages)
	assert.Equal(t, "bkt", summary.Bucket)
	assert.Equal(t, "out", summary.LocalDir)
}

func TestRun_Idempotent(t *testing.T) {
	fs := memfs.New()
	d, err := New(sampleProvider(), fs)
	require.NoError(t, err)
	req := Request{LocalDir: "out", Source: &Source{Bucket: "bkt", Prefix: "site/"}}

	_, err = d.Run(context.Background(), req)
	require.NoError(t, err)
	first := snapshot(t, fs, "out")

	_, err = d.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, snapshot(t, fs, "out"))
}

func TestRun_DestructiveReset(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "out/stale.txt", []byte("old"), 0o644))
	require.NoError(t, util.WriteFile(fs, "out/nested/old.bin", []byte("old"), 0o644))
	require.NoError(t, util.WriteFile(fs, "out/index.html", []byte("old"), 0o644))

	d, err := New(sampleProvider(), fs)
	require.NoError(t, err)

	_, err = d.Run(context.Background(), Request{LocalDir: "out", Source: &Source{Bucket: "bkt", Prefix: "site/"}})
	require.NoError(t, err)

	tree := snapshot(t, fs, "out")
	assert.NotContains(t, tree, "stale.txt")
	assert.NotContains(t, tree, "nested")
	assert.Equal(t, "<html>", tree["index.html"], "re-created by the remote")
}

func TestRun_RemoteRecreatesStaleName(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "out/stale.txt", []byte("old"), 0o644))
	p := newMockProvider("bkt").put("stale.txt", "fresh")

	d, err := New(p, fs)
	require.NoError(t, err)
	_, err = d.Run(context.Background(), Request{LocalDir: "out", Source: &Source{Bucket: "bkt"}})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"stale.txt": "fresh"}, snapshot(t, fs, "out"))
}

func TestRun_EmptyRemoteLeavesEmptyRoot(t *testing.T) {
	fs := memfs.New()
	d, err := New(newMockProvider("bkt"), fs)
	require.NoError(t, err)

	summary, err := d.Run(context.Background(), Request{LocalDir: "out", Source: &Source{Bucket: "bkt"}})
	require.NoError(t, err)
	assert.Zero(t, summary.KeysListed)

	info, err := fs.Stat("out")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Empty(t, snapshot(t, fs, "out"))
}

func TestRun_FaultIsolation(t *testing.T) {
	p := newMockProvider("bkt")
	for i := 1; i <= 5; i++ {
		p.put(fmt.Sprintf("f%d.txt", i), fmt.Sprintf("content %d", i))
	}
	p.failGet["f3.txt"] = errors.New("simulated stream error")

	fs := memfs.New()
	d, err := New(p, fs, WithConcurrency(2))
	require.NoError(t, err)

	summary, err := d.Run(context.Background(), Request{LocalDir: "out", Source: &Source{Bucket: "bkt"}})
	require.NoError(t, err, "per-file failures do not fail the run")

	assert.Equal(t, int64(4), summary.FilesDownloaded)
	assert.Equal(t, int64(1), summary.FilesFailed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "f3.txt", summary.Failures[0].Key)
	assert.Contains(t, summary.Err().Error(), "simulated stream error")

	tree := snapshot(t, fs, "out")
	assert.Len(t, tree, 4)
	assert.NotContains(t, tree, "f3.txt")
	for _, i := range []int{1, 2, 4, 5} {
		assert.Equal(t, fmt.Sprintf("content %d", i), tree[fmt.Sprintf("f%d.txt", i)])
	}
}

func TestRun_ListErrorIsFatal(t *testing.T) {
	p := sampleProvider()
	p.listErr = &provider.ProviderError{Op: "ListPage", Err: provider.ErrAccessDenied}
	fs := memfs.New()
	d, err := New(p, fs)
	require.NoError(t, err)

	summary, err := d.Run(context.Background(), Request{LocalDir: "out", Source: &Source{Bucket: "bkt"}})

	var le *ListError
	require.ErrorAs(t, err, &le)
	assert.True(t, provider.IsAccessDenied(err))
	assert.Zero(t, p.getCalls())
	assert.NotNil(t, summary)
	assert.Empty(t, snapshot(t, fs, "out"))
}

func TestRun_LocalSetupErrorIsFatal(t *testing.T) {
	boom := errors.New("permission denied")
	fs := &failingFS{Filesystem: memfs.New(), mkdirErr: boom, mkdirPath: "out"}
	p := sampleProvider()
	d, err := New(p, fs)
	require.NoError(t, err)

	_, err = d.Run(context.Background(), Request{LocalDir: "out", Source: &Source{Bucket: "bkt"}})

	var se *LocalSetupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "out", se.Path)
	assert.Empty(t, p.listCalls(), "no listing after a failed reset")
}

func TestRun_RejectedKeysAreReported(t *testing.T) {
	p := newMockProvider("bkt").put("ok.txt", "ok").put("../escape.txt", "bad")
	d, err := New(p, memfs.New())
	require.NoError(t, err)

	summary, err := d.Run(context.Background(), Request{LocalDir: "out", Source: &Source{Bucket: "bkt"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.FilesDownloaded)
	require.Len(t, summary.Failures, 1)
	assert.ErrorIs(t, summary.Failures[0], ErrPathEscape)
}

func TestRun_BoundedConcurrency(t *testing.T) {
	p := newMockProvider("bkt")
	for i := 0; i < 40; i++ {
		p.put(fmt.Sprintf("k%02d", i), "x")
	}
	release := make(chan struct{})
	p.getDelay = release

	d, err := New(p, memfs.New(), WithConcurrency(3))
	require.NoError(t, err)

	h := d.DownloadDir(context.Background(), Request{LocalDir: "out", Source: &Source{Bucket: "bkt"}})

	require.Eventually(t, func() bool { return p.inFlight.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	close(release)

	summary, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, int64(40), summary.FilesDownloaded)
	assert.LessOrEqual(t, p.maxInFlight.Load(), int64(3))
}

func TestRun_WaitsForAllDownloads(t *testing.T) {
	p := newMockProvider("bkt").put("a", "1").put("b", "2")
	release := make(chan struct{})
	p.getDelay = release

	d, err := New(p, memfs.New())
	require.NoError(t, err)
	h := d.DownloadDir(context.Background(), Request{LocalDir: "out", Source: &Source{Bucket: "bkt"}})

	require.Eventually(t, func() bool { return p.inFlight.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	select {
	case <-h.Done():
		t.Fatal("run finished while downloads were in flight")
	default:
	}

	close(release)
	<-h.Done()
	assert.Equal(t, int64(2), h.Result().Summary.FilesDownloaded)
}

func TestRun_Cancelled(t *testing.T) {
	p := newMockProvider("bkt")
	for i := 0; i < 10; i++ {
		p.put(fmt.Sprintf("k%d", i), "x")
	}
	p.getDelay = make(chan struct{}) // never released

	d, err := New(p, memfs.New(), WithConcurrency(2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := d.DownloadDir(ctx, Request{LocalDir: "out", Source: &Source{Bucket: "bkt"}})
	require.Eventually(t, func() bool { return p.inFlight.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	summary, err := h.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Zero(t, summary.FilesDownloaded)
}

func TestRun_AlreadyCancelledTouchesNothing(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "out/keep.txt", []byte("keep"), 0o644))
	d, err := New(sampleProvider(), fs)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Run(ctx, Request{LocalDir: "out", Source: &Source{Bucket: "bkt"}})
	assert.ErrorIs(t, err, context.Canceled)

	data, err := util.ReadFile(fs, "out/keep.txt")
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func TestRun_Matcher(t *testing.T) {
	m, err := match.New(match.Config{Excludes: []string{"**/*.png"}})
	require.NoError(t, err)
	fs := memfs.New()
	d, err := New(sampleProvider(), fs, WithMatcher(m))
	require.NoError(t, err)

	summary, err := d.Run(context.Background(), Request{LocalDir: "out", Source: &Source{Bucket: "bkt", Prefix: "site/"}})
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.FilesSkipped)
	assert.Equal(t, int64(2), summary.FilesDownloaded)
	assert.NotContains(t, snapshot(t, fs, "out"), "img")
}

func TestRun_DelimiterModeCreatesFolders(t *testing.T) {
	fs := memfs.New()
	d, err := New(sampleProvider(), fs)
	require.NoError(t, err)

	summary, err := d.Run(context.Background(), Request{LocalDir: "out", Source: &Source{Bucket: "bkt", Prefix: "site/", Delimiter: "/"}})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"css": "<dir>", "img": "<dir>"}, snapshot(t, fs, "out"))
	assert.Zero(t, summary.FilesDownloaded)
}

type eventLog struct {
	mu       sync.Mutex
	pages    int
	dirs     []string
	files    []string
	failed   []string
	finished int
	err      error
}

func (e *eventLog) PageListed(context.Context, PageEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pages++
}

func (e *eventLog) DirCreated(_ context.Context, ev DirEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirs = append(e.dirs, ev.Rel)
}

func (e *eventLog) FileFinished(_ context.Context, ev FileEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ev.Err != nil {
		e.failed = append(e.failed, ev.Key)
		return
	}
	e.files = append(e.files, ev.Rel)
}

func (e *eventLog) Finished(_ context.Context, _ *Summary, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished++
	e.err = err
}

func TestRun_ObserverEvents(t *testing.T) {
	p := sampleProvider()
	p.failGet["site/img/logo.png"] = errors.New("boom")
	log := &eventLog{}
	core, logs := observer.New(zap.DebugLevel)

	d, err := New(p, memfs.New(), WithObserver(log), WithLogger(zap.New(core)))
	require.NoError(t, err)

	_, err = d.Run(context.Background(), Request{LocalDir: "out", Source: &Source{Bucket: "bkt", Prefix: "site/"}})
	require.NoError(t, err)

	sort.Strings(log.files)
	assert.Equal(t, 1, log.pages)
	assert.Equal(t, []string{"css", "img"}, log.dirs)
	assert.Equal(t, []string{"css/main.css", "index.html"}, log.files)
	assert.Equal(t, []string{"site/img/logo.png"}, log.failed)
	assert.Equal(t, 1, log.finished)
	assert.NoError(t, log.err)

	assert.Equal(t, 1, logs.FilterMessage("download failed").Len())
	assert.Equal(t, 2, logs.FilterMessage("downloaded file").Len())
	assert.Equal(t, 1, logs.FilterMessage("mirror complete").Len())
}

func TestRun_SameDirectoryIsSerialized(t *testing.T) {
	p := newMockProvider("bkt").put("a", "1")
	release := make(chan struct{})
	p.getDelay = release
	fs := memfs.New()

	d, err := New(p, fs)
	require.NoError(t, err)
	req := Request{LocalDir: "shared", Source: &Source{Bucket: "bkt"}}

	first := d.DownloadDir(context.Background(), req)
	require.Eventually(t, func() bool { return p.inFlight.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	second := d.DownloadDir(context.Background(), req)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, p.listCalls(), 1, "second run waits for the first")

	close(release)
	_, err = first.Wait()
	require.NoError(t, err)
	_, err = second.Wait()
	require.NoError(t, err)
	assert.Len(t, p.listCalls(), 2)
}

func TestRun_EndToEndMemBlobWithRetry(t *testing.T) {
	ctx := context.Background()
	bp, err := blobprovider.New(blobprovider.Config{BaseURL: "mem://"})
	require.NoError(t, err)
	defer bp.Close()

	b, err := bp.Bucket(ctx, "assets")
	require.NoError(t, err)
	for i := 0; i < 2500; i++ {
		require.NoError(t, b.WriteAll(ctx, fmt.Sprintf("v1/part-%04d.dat", i), []byte{byte(i)}, nil))
	}
	require.NoError(t, b.WriteAll(ctx, "v1/meta/manifest.json", []byte(`{}`), nil))

	p := retry.Wrap(bp, retry.Policy{Count: 2, Delay: time.Millisecond}, nil)
	fs := memfs.New()
	d, err := New(p, fs, WithConcurrency(8))
	require.NoError(t, err)

	summary, err := d.Run(ctx, Request{LocalDir: "mirror", Source: &Source{Bucket: "assets", Prefix: "v1/"}})
	require.NoError(t, err)

	assert.Equal(t, int64(2501), summary.FilesDownloaded)
	assert.Equal(t, int64(3), summary.Pages)
	assert.Equal(t, int64(1), summary.DirsCreated)

	data, err := util.ReadFile(fs, "mirror/meta/manifest.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}
