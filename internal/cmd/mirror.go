package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusdl/internal/config"
	"github.com/3leaps/nimbusdl/internal/observability"
	"github.com/3leaps/nimbusdl/pkg/manifest"
	"github.com/3leaps/nimbusdl/pkg/match"
	"github.com/3leaps/nimbusdl/pkg/mirror"
	"github.com/3leaps/nimbusdl/pkg/output"
	"github.com/3leaps/nimbusdl/pkg/provider"
	"github.com/3leaps/nimbusdl/pkg/provider/blob"
	"github.com/3leaps/nimbusdl/pkg/provider/minio"
	"github.com/3leaps/nimbusdl/pkg/provider/retry"
	"github.com/3leaps/nimbusdl/pkg/provider/s3"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror <uri> <local-dir>",
	Short: "Mirror a bucket prefix into a local directory",
	Long: `Mirror every key under a bucket prefix into a local directory.

The local directory is deleted and recreated first. Keys ending in "/" become
directories; all other keys are downloaded as files. Per-file failures do not
stop the run; they are reported and make the command exit non-zero.

Supported URIs:
  s3://bucket/prefix/                  AWS S3 (or minio, see storage.provider)
  minio://bucket/prefix/               S3-compatible store at --endpoint
  mem://bucket/prefix/                 in-memory bucket (testing)
  file:///srv/store/bucket?prefix=p/   local directory of buckets

Examples:
  nimbusdl mirror s3://assets/site/ ./site
  nimbusdl mirror s3://assets/site/ ./site --exclude '**/*.tmp' --concurrency 32
  nimbusdl mirror minio://backups/2024/ /srv/restore --endpoint localhost:9000
  nimbusdl mirror --job mirror.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: runMirror,
}

var (
	mirrorJobPath        string
	mirrorDelimiter      string
	mirrorConcurrency    int
	mirrorRetryCount     int
	mirrorRetryDelay     time.Duration
	mirrorRateLimit      float64
	mirrorIncludes       []string
	mirrorExcludes       []string
	mirrorExcludeHidden  bool
	mirrorRegion         string
	mirrorProfile        string
	mirrorEndpoint       string
	mirrorForcePathStyle bool
	mirrorInsecure       bool
	mirrorOutput         string
	mirrorQuiet          bool
	mirrorDryRun         bool
)

func init() {
	rootCmd.AddCommand(mirrorCmd)

	f := mirrorCmd.Flags()
	f.StringVarP(&mirrorJobPath, "job", "j", "", "Path to job manifest (replaces the positional arguments)")
	f.StringVar(&mirrorDelimiter, "delimiter", "", `List with a delimiter (e.g. "/"): only folders are recreated`)
	f.IntVarP(&mirrorConcurrency, "concurrency", "c", 0, "Concurrent downloads (default from config: 16)")
	f.IntVar(&mirrorRetryCount, "retry-count", 0, "Retries per failed provider call (default from config: 3)")
	f.DurationVar(&mirrorRetryDelay, "retry-delay", 0, "Base delay between retries (default from config: 1s)")
	f.Float64Var(&mirrorRateLimit, "rate-limit", 0, "Max list page calls per second (0 = unlimited)")
	f.StringArrayVar(&mirrorIncludes, "include", nil, "Only download paths matching this glob (repeatable)")
	f.StringArrayVar(&mirrorExcludes, "exclude", nil, "Skip paths matching this glob (repeatable)")
	f.BoolVar(&mirrorExcludeHidden, "exclude-hidden", false, "Skip paths with a segment starting with '.'")
	f.StringVar(&mirrorRegion, "region", "", "Storage region")
	f.StringVar(&mirrorProfile, "profile", "", "AWS shared config profile")
	f.StringVar(&mirrorEndpoint, "endpoint", "", "Custom endpoint (s3: URL, minio: host:port)")
	f.BoolVar(&mirrorForcePathStyle, "force-path-style", false, "Use path-style S3 addressing")
	f.BoolVar(&mirrorInsecure, "insecure", false, "Disable TLS for minio endpoints")
	f.StringVarP(&mirrorOutput, "output", "o", "", "JSONL record destination: stdout or file:/path")
	f.BoolVarP(&mirrorQuiet, "quiet", "q", false, "Do not emit JSONL records")
	f.BoolVar(&mirrorDryRun, "dry-run", false, "Validate and show the plan without touching anything")
}

func runMirror(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := resolveJob(cmd, args, appConfig)
	if err != nil {
		observability.CLILogger.Error("Invalid mirror job", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid mirror job", err)
	}

	observability.CLILogger.Debug("Resolved mirror job",
		zap.String("provider", m.Connection.Provider),
		zap.String("bucket", m.Source.Bucket),
		zap.String("prefix", m.Source.Prefix),
		zap.String("local_dir", m.LocalDir))

	if mirrorDryRun {
		return showMirrorPlan(cmd.OutOrStdout(), m)
	}
	return executeMirror(ctx, m)
}

// resolveJob builds the job from --job or the positional arguments, then
// applies explicitly set flags and validates the result.
func resolveJob(cmd *cobra.Command, args []string, cfg *config.Config) (*manifest.Manifest, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}

	var m *manifest.Manifest
	switch {
	case mirrorJobPath != "" && len(args) > 0:
		return nil, errors.New("--job and positional arguments are mutually exclusive")
	case mirrorJobPath != "":
		loaded, err := manifest.Load(mirrorJobPath)
		if err != nil {
			return nil, err
		}
		m = loaded
	case len(args) == 2:
		built, err := jobFromArgs(args[0], args[1], cfg)
		if err != nil {
			return nil, err
		}
		m = built
	default:
		return nil, errors.New("expected <uri> <local-dir> or --job")
	}

	applyFlagOverrides(cmd, m)

	if err := manifest.Validate(m); err != nil {
		return nil, err
	}
	m.ApplyDefaults()

	abs, err := filepath.Abs(m.LocalDir)
	if err != nil {
		return nil, fmt.Errorf("local directory %q: %w", m.LocalDir, err)
	}
	m.LocalDir = abs
	return m, nil
}

// jobFromArgs turns a URI and a local directory into a job, taking tuning
// and connection defaults from cfg.
func jobFromArgs(rawURI, localDir string, cfg *config.Config) (*manifest.Manifest, error) {
	u, err := ParseURI(rawURI)
	if err != nil {
		return nil, err
	}

	retries := cfg.Download.RetryCount
	m := &manifest.Manifest{
		Version:  manifest.DefaultVersion,
		Source:   manifest.SourceConfig{Bucket: u.Bucket, Prefix: u.Prefix},
		LocalDir: localDir,
		Download: manifest.DownloadConfig{
			Concurrency: cfg.Download.Concurrency,
			RetryCount:  &retries,
			RateLimit:   cfg.Download.RateLimit,
		},
	}
	if cfg.Download.RetryDelay > 0 {
		m.Download.RetryDelay = cfg.Download.RetryDelay.String()
	}

	switch u.Provider {
	case provider.ProviderS3:
		m.Connection.Provider = string(provider.ProviderS3)
		if cfg.Storage.Provider == string(provider.ProviderMinio) {
			m.Connection.Provider = string(provider.ProviderMinio)
		}
		m.Connection.Region = cfg.Storage.Region
		m.Connection.Endpoint = cfg.Storage.Endpoint
		m.Connection.Profile = cfg.Storage.Profile
		m.Connection.ForcePathStyle = cfg.Storage.ForcePathStyle
	case provider.ProviderMinio:
		m.Connection.Provider = string(provider.ProviderMinio)
		m.Connection.Region = cfg.Storage.Region
		m.Connection.Endpoint = cfg.Storage.Endpoint
	case provider.ProviderBlob:
		m.Connection.Provider = string(provider.ProviderBlob)
		m.Connection.BaseURL = u.BaseURL
	}
	return m, nil
}

// applyFlagOverrides copies flags the user actually set onto m.
func applyFlagOverrides(cmd *cobra.Command, m *manifest.Manifest) {
	flags := cmd.Flags()
	if flags.Changed("delimiter") {
		m.Source.Delimiter = mirrorDelimiter
	}
	if flags.Changed("concurrency") {
		m.Download.Concurrency = mirrorConcurrency
	}
	if flags.Changed("retry-count") {
		n := mirrorRetryCount
		m.Download.RetryCount = &n
	}
	if flags.Changed("retry-delay") {
		m.Download.RetryDelay = mirrorRetryDelay.String()
	}
	if flags.Changed("rate-limit") {
		m.Download.RateLimit = mirrorRateLimit
	}
	if flags.Changed("include") {
		m.Match.Includes = mirrorIncludes
	}
	if flags.Changed("exclude") {
		m.Match.Excludes = mirrorExcludes
	}
	if flags.Changed("exclude-hidden") {
		m.Match.ExcludeHidden = mirrorExcludeHidden
	}
	if flags.Changed("region") {
		m.Connection.Region = mirrorRegion
	}
	if flags.Changed("profile") {
		m.Connection.Profile = mirrorProfile
	}
	if flags.Changed("endpoint") {
		m.Connection.Endpoint = mirrorEndpoint
	}
	if flags.Changed("force-path-style") {
		m.Connection.ForcePathStyle = mirrorForcePathStyle
	}
	if flags.Changed("insecure") {
		m.Connection.Insecure = mirrorInsecure
	}
	if flags.Changed("output") {
		m.Output.Destination = mirrorOutput
	}
	if flags.Changed("quiet") {
		m.Output.Quiet = mirrorQuiet
	}
}

// showMirrorPlan displays what would be mirrored without executing.
func showMirrorPlan(w io.Writer, m *manifest.Manifest) error {
	delay, _ := m.Download.Delay()

	var b strings.Builder
	b.WriteString("=== Mirror Plan (dry-run) ===\n\n")
	fmt.Fprintf(&b, "Provider:    %s\n", m.Connection.Provider)
	if m.Connection.Endpoint != "" {
		fmt.Fprintf(&b, "Endpoint:    %s\n", m.Connection.Endpoint)
	}
	if m.Connection.BaseURL != "" {
		fmt.Fprintf(&b, "Base URL:    %s\n", m.Connection.BaseURL)
	}
	fmt.Fprintf(&b, "Bucket:      %s\n", m.Source.Bucket)
	fmt.Fprintf(&b, "Prefix:      %q\n", m.Source.Prefix)
	if m.Source.Delimiter != "" {
		fmt.Fprintf(&b, "Delimiter:   %q (folders only)\n", m.Source.Delimiter)
	}
	fmt.Fprintf(&b, "Local dir:   %s (will be reset)\n", m.LocalDir)
	fmt.Fprintf(&b, "Concurrency: %d\n", m.Download.Concurrency)
	fmt.Fprintf(&b, "Retries:     %d every %s\n", m.Download.Retries(), delay)
	if m.Download.RateLimit > 0 {
		fmt.Fprintf(&b, "Rate limit:  %.1f pages/s\n", m.Download.RateLimit)
	}
	for _, p := range m.Match.Includes {
		fmt.Fprintf(&b, "Include:     %s\n", p)
	}
	for _, p := range m.Match.Excludes {
		fmt.Fprintf(&b, "Exclude:     %s\n", p)
	}
	if m.Output.Quiet {
		b.WriteString("Output:      none\n")
	} else {
		fmt.Fprintf(&b, "Output:      %s\n", m.Output.Destination)
	}
	b.WriteString("\nJob validated successfully. Remove --dry-run to execute.\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// executeMirror runs the job.
func executeMirror(ctx context.Context, m *manifest.Manifest) error {
	logger := observability.CLILogger

	prov, err := createProvider(ctx, m, logger)
	if err != nil {
		logger.Error("Failed to create provider", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage provider", err)
	}
	defer func() { _ = prov.Close() }()

	matcher, err := match.New(match.Config{
		Includes:      m.Match.Includes,
		Excludes:      m.Match.Excludes,
		ExcludeHidden: m.Match.ExcludeHidden,
	})
	if err != nil {
		logger.Error("Failed to create matcher", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid match patterns", err)
	}

	opts := []mirror.Option{
		mirror.WithConcurrency(m.Download.Concurrency),
		mirror.WithRateLimit(m.Download.RateLimit),
		mirror.WithLogger(logger),
	}
	if !matcher.IsZero() {
		opts = append(opts, mirror.WithMatcher(matcher))
	}

	var records *output.Observer
	jobID := output.NewJobID()
	if !m.Output.Quiet {
		writer, cleanup, err := createWriter(m, jobID)
		if err != nil {
			logger.Error("Failed to create writer", zap.Error(err))
			return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
		}
		defer cleanup()
		records = output.NewObserver(writer)
		opts = append(opts, mirror.WithObserver(records))
	}

	d, err := mirror.New(prov, osfs.New("/"), opts...)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot mirror with this provider", err)
	}

	logger.Info("Starting mirror",
		zap.String("job_id", jobID),
		zap.String("bucket", m.Source.Bucket),
		zap.String("prefix", m.Source.Prefix),
		zap.String("local_dir", m.LocalDir),
		zap.Int("concurrency", m.Download.Concurrency))

	summary, err := d.Run(ctx, mirror.Request{
		LocalDir: m.LocalDir,
		Source: &mirror.Source{
			Bucket:    m.Source.Bucket,
			Prefix:    m.Source.Prefix,
			Delimiter: m.Source.Delimiter,
		},
	})
	if records != nil {
		if werr := records.Err(); werr != nil {
			logger.Warn("Failed to write records", zap.Error(werr))
		}
	}
	return mirrorOutcome(ctx, summary, err)
}

// mirrorOutcome maps the result of a run onto an exit error.
func mirrorOutcome(ctx context.Context, summary *mirror.Summary, err error) error {
	var validationErr *mirror.ValidationError
	var setupErr *mirror.LocalSetupError

	switch {
	case err == nil:
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return exitError(foundry.ExitSignalInt, "Mirror cancelled", err)
	case errors.As(err, &validationErr):
		return exitError(foundry.ExitInvalidArgument, "Invalid mirror request", err)
	case errors.As(err, &setupErr):
		return exitError(foundry.ExitFileWriteError, "Cannot prepare local directory", err)
	default:
		return exitError(foundry.ExitExternalServiceUnavailable, "Mirror failed", err)
	}

	if ferr := summary.Err(); ferr != nil {
		return exitError(foundry.ExitExternalServiceUnavailable,
			fmt.Sprintf("%d of %d files failed", summary.FilesFailed, summary.FilesFailed+summary.FilesDownloaded), ferr)
	}
	return nil
}

// createProvider builds the backend named by the job. Backends without a
// native retry policy are wrapped with the retry decorator.
func createProvider(ctx context.Context, m *manifest.Manifest, logger *zap.Logger) (provider.Provider, error) {
	delay, err := m.Download.Delay()
	if err != nil {
		return nil, err
	}
	policy := retry.Policy{Count: m.Download.Retries(), Delay: delay}

	switch provider.ProviderType(m.Connection.Provider) {
	case provider.ProviderS3:
		p, err := s3.New(ctx, s3.Config{
			Region:   m.Connection.Region,
			Endpoint: m.Connection.Endpoint,
			Profile:  m.Connection.Profile,
			// S3-compatible endpoints (moto, Ceph, ...) generally need path style.
			ForcePathStyle: m.Connection.ForcePathStyle || m.Connection.Endpoint != "",
			RetryCount:     policy.Count,
			RetryDelay:     policy.Delay,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case provider.ProviderMinio:
		p, err := minio.New(minio.Config{
			Endpoint:        m.Connection.Endpoint,
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Region:          m.Connection.Region,
			Secure:          !m.Connection.Insecure,
		})
		if err != nil {
			return nil, err
		}
		return retry.Wrap(p, policy, logger), nil
	case provider.ProviderBlob:
		p, err := blob.New(blob.Config{BaseURL: m.Connection.BaseURL})
		if err != nil {
			return nil, err
		}
		return retry.Wrap(p, policy, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, m.Connection.Provider)
	}
}

// createWriter creates an output writer from the job configuration.
// Returns the writer, a cleanup function, and any error.
func createWriter(m *manifest.Manifest, jobID string) (output.Writer, func(), error) {
	dest := m.Output.Destination
	providerName := m.Connection.Provider

	if dest == "" || dest == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, jobID, providerName)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	w := output.NewJSONLWriter(f, jobID, providerName)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}
