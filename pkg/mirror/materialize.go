package mirror

import (
	"context"
	"path"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/3leaps/nimbusdl/pkg/match"
)

// Separator is the key path separator used to classify directory markers.
const Separator = "/"

// DownloadJob is one file key bound to its local path.
type DownloadJob struct {
	Bucket    string
	Key       string
	Rel       string
	LocalPath string
}

// Plan is a classified key list, ready to be materialized.
type Plan struct {
	// Dirs holds every directory to create, relative to the root: the
	// directory markers and the parents of every planned file. Sorted, so
	// parents come before children.
	Dirs []string

	// Jobs holds one entry per file key, in listing order.
	Jobs []DownloadJob

	// Skipped holds the file keys dropped by the matcher.
	Skipped []string

	// Rejected holds keys that cannot be placed under the root.
	Rejected []*DownloadError
}

// Materializer turns a key list into directories and download jobs.
type Materializer struct {
	fs       billy.Filesystem
	matcher  *match.Matcher
	observer Observer
}

// NewMaterializer creates a materializer writing to fs. A nil matcher keeps
// every key.
func NewMaterializer(fs billy.Filesystem, m *match.Matcher, obs Observer) *Materializer {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Materializer{fs: fs, matcher: m, observer: obs}
}

// Plan classifies keys listed under prefix for the local root.
//
// A key whose prefix-stripped remainder ends in "/" is a directory marker;
// any other non-empty remainder is a file. Empty remainders (the prefix's own
// marker) are ignored.
func (m *Materializer) Plan(bucket, prefix, root string, keys []string) *Plan {
	plan := &Plan{}
	dirs := make(map[string]struct{})

	for _, key := range keys {
		rel, isDir, err := classify(key, prefix)
		if err != nil {
			plan.Rejected = append(plan.Rejected, &DownloadError{Bucket: bucket, Key: key, Err: err})
			continue
		}
		if rel == "" {
			continue
		}

		if isDir {
			addDirWithParents(dirs, rel)
			continue
		}

		if !m.matcher.Match(rel) {
			plan.Skipped = append(plan.Skipped, key)
			continue
		}
		if parent := path.Dir(rel); parent != "." {
			addDirWithParents(dirs, parent)
		}
		plan.Jobs = append(plan.Jobs, DownloadJob{
			Bucket:    bucket,
			Key:       key,
			Rel:       rel,
			LocalPath: m.fs.Join(root, rel),
		})
	}

	plan.Dirs = make([]string, 0, len(dirs))
	for d := range dirs {
		plan.Dirs = append(plan.Dirs, d)
	}
	slices.Sort(plan.Dirs)
	return plan
}

// Materialize creates every planned directory, then hands each job to
// dispatch in order. dispatch must not wait for the download itself.
//
// A directory that cannot be created aborts with a *LocalSetupError before
// any job is dispatched.
func (m *Materializer) Materialize(ctx context.Context, root string, plan *Plan, dispatch func(context.Context, DownloadJob) error) error {
	for _, rel := range plan.Dirs {
		local := m.fs.Join(root, rel)
		if err := m.fs.MkdirAll(local, 0o755); err != nil {
			return &LocalSetupError{Path: local, Err: err}
		}
		m.observer.DirCreated(ctx, DirEvent{Rel: rel, LocalPath: local})
	}

	for _, job := range plan.Jobs {
		if err := dispatch(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// classify strips prefix from key and reports the cleaned relative path and
// whether the key is a directory marker.
func classify(key, prefix string) (rel string, isDir bool, err error) {
	rest := strings.TrimPrefix(key, prefix)
	if rest == "" {
		return "", false, nil
	}
	isDir = strings.HasSuffix(rest, Separator)

	rest = strings.TrimLeft(rest, Separator)
	for _, seg := range strings.Split(rest, Separator) {
		if seg == ".." {
			return "", false, ErrPathEscape
		}
	}
	if rest == "" {
		return "", isDir, nil
	}

	rel = path.Clean(rest)
	if rel == "." {
		return "", isDir, nil
	}
	return rel, isDir, nil
}

func addDirWithParents(dirs map[string]struct{}, rel string) {
	for rel != "." && rel != "" {
		if _, ok := dirs[rel]; ok {
			return
		}
		dirs[rel] = struct{}{}
		rel = path.Dir(rel)
	}
}
