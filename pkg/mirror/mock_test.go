package mirror

import (
	"context"
	"errors"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"

	"github.com/3leaps/nimbusdl/pkg/provider"
)

// mockProvider is an in-memory bucket with S3 ListObjects (V1) semantics:
// flat pages report no NextMarker, delimiter pages do.
type mockProvider struct {
	mu       sync.Mutex
	bucket   string
	objects  map[string][]byte
	failGet  map[string]error
	shortGet map[string]int64 // key -> announced length
	requests []provider.ListRequest
	gets     []string
	listErr  error

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	getDelay    chan struct{}
}

func newMockProvider(bucket string) *mockProvider {
	return &mockProvider{
		bucket:   bucket,
		objects:  make(map[string][]byte),
		failGet:  make(map[string]error),
		shortGet: make(map[string]int64),
	}
}

func (m *mockProvider) put(key, content string) *mockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = []byte(content)
	return m
}

func (m *mockProvider) listCalls() []provider.ListRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.requests)
}

func (m *mockProvider) getCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.gets)
}

func (m *mockProvider) ListPage(ctx context.Context, req provider.ListRequest) (*provider.ListPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if m.listErr != nil {
		return nil, m.listErr
	}
	if req.Bucket != m.bucket {
		return nil, &provider.ProviderError{Op: "ListPage", Bucket: req.Bucket, Err: provider.ErrBucketNotFound}
	}

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, req.Prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	// Collapse into entries (key or common prefix), skipping up to the marker.
	type entry struct {
		name  string
		isDir bool
	}
	var entries []entry
	for _, k := range keys {
		e := entry{name: k}
		if req.Delimiter != "" {
			rest := k[len(req.Prefix):]
			if i := strings.Index(rest, req.Delimiter); i >= 0 {
				e = entry{name: req.Prefix + rest[:i+len(req.Delimiter)], isDir: true}
			}
		}
		if len(entries) > 0 && entries[len(entries)-1] == e {
			continue
		}
		if req.Marker != "" && e.name <= req.Marker {
			continue
		}
		entries = append(entries, e)
	}

	limit := req.MaxKeys
	if limit <= 0 {
		limit = 1000
	}
	page := &provider.ListPage{}
	if len(entries) > limit {
		entries = entries[:limit]
		page.IsTruncated = true
		if req.Delimiter != "" {
			page.NextMarker = entries[len(entries)-1].name
		}
	}
	for _, e := range entries {
		if e.isDir {
			page.CommonPrefixes = append(page.CommonPrefixes, e.name)
		} else {
			page.Keys = append(page.Keys, e.name)
		}
	}
	return page, nil
}

func (m *mockProvider) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	m.gets = append(m.gets, key)
	data, ok := m.objects[key]
	failErr := m.failGet[key]
	announced, short := m.shortGet[key]
	delay := m.getDelay
	m.mu.Unlock()

	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}

	if failErr != nil {
		return nil, 0, failErr
	}
	if !ok {
		return nil, 0, &provider.ProviderError{Op: "GetObject", Bucket: bucket, Key: key, Err: provider.ErrNotFound}
	}
	size := int64(len(data))
	if short {
		size = announced
	}
	return io.NopCloser(strings.NewReader(string(data))), size, nil
}

func (m *mockProvider) Close() error { return nil }

// scriptedProvider returns canned pages in order and records requests.
type scriptedProvider struct {
	mu       sync.Mutex
	pages    []*provider.ListPage
	errAt    int // 1-based page index that fails; 0 disables
	requests []provider.ListRequest
}

func (s *scriptedProvider) ListPage(ctx context.Context, req provider.ListRequest) (*provider.ListPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	n := len(s.requests)
	if s.errAt == n {
		return nil, errors.New("connection reset")
	}
	if n > len(s.pages) {
		return nil, errors.New("unexpected page request")
	}
	return s.pages[n-1], nil
}

func (s *scriptedProvider) Close() error { return nil }

// failingFS injects errors into selected filesystem calls.
type failingFS struct {
	billy.Filesystem
	mkdirErr  error
	mkdirPath string
	openErr   error
	touched   atomic.Int64
}

func (f *failingFS) MkdirAll(path string, perm os.FileMode) error {
	f.touched.Add(1)
	if f.mkdirErr != nil && (f.mkdirPath == "" || path == f.mkdirPath) {
		return f.mkdirErr
	}
	return f.Filesystem.MkdirAll(path, perm)
}

func (f *failingFS) OpenFile(name string, flag int, perm os.FileMode) (billy.File, error) {
	f.touched.Add(1)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.Filesystem.OpenFile(name, flag, perm)
}

func (f *failingFS) Remove(name string) error {
	f.touched.Add(1)
	return f.Filesystem.Remove(name)
}

func (f *failingFS) Stat(name string) (os.FileInfo, error) {
	f.touched.Add(1)
	return f.Filesystem.Stat(name)
}

func (f *failingFS) Lstat(name string) (os.FileInfo, error) {
	f.touched.Add(1)
	return f.Filesystem.Lstat(name)
}

func (f *failingFS) ReadDir(name string) ([]os.FileInfo, error) {
	f.touched.Add(1)
	return f.Filesystem.ReadDir(name)
}
