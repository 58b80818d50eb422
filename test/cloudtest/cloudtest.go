//go:build cloudintegration

// Package cloudtest provides moto-backed fixtures for cloud integration tests.
//
// Tests using this package should be tagged with //go:build cloudintegration
// and call SkipIfUnavailable first:
//
//	func TestMirror_CloudIntegration(t *testing.T) {
//	    cloudtest.SkipIfUnavailable(t)
//	    bucket := cloudtest.CreateBucket(t, ctx)
//	    cloudtest.PutTree(t, ctx, bucket, map[string]string{"data/a.txt": "a"})
//	    p := cloudtest.NewProvider(t, ctx)
//	    // ... mirror from p ...
//	}
package cloudtest

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/3leaps/nimbusdl/pkg/provider/s3"
)

const (
	// DefaultEndpoint is the default moto server endpoint.
	DefaultEndpoint = "http://localhost:5555"

	// DefaultRegion is the default AWS region for tests.
	DefaultRegion = "us-east-1"

	// TestAccessKeyID is the access key used for moto (accepts any).
	TestAccessKeyID = "testing"

	// TestSecretAccessKey is the secret key used for moto (accepts any).
	TestSecretAccessKey = "testing"
)

var (
	// Endpoint is the moto server endpoint, overridable via NIMBUSDL_MOTO_ENDPOINT.
	Endpoint = envOr("NIMBUSDL_MOTO_ENDPOINT", DefaultEndpoint)

	// Region is the region for tests, overridable via NIMBUSDL_MOTO_REGION.
	Region = envOr("NIMBUSDL_MOTO_REGION", DefaultRegion)

	seedClient     *awss3.Client
	seedClientOnce sync.Once
	seedClientErr  error
)

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// Available reports whether the moto server answers.
func Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Endpoint+"/moto-api/", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// SkipIfUnavailable skips the test if moto is not reachable.
func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	if !Available() {
		t.Skipf("moto server not available at %s", Endpoint)
	}
}

// ProviderConfig returns an s3.Config pointed at moto.
func ProviderConfig() s3.Config {
	return s3.Config{
		Endpoint:        Endpoint,
		Region:          Region,
		AccessKeyID:     TestAccessKeyID,
		SecretAccessKey: TestSecretAccessKey,
		ForcePathStyle:  true,
		RetryCount:      1,
		RetryDelay:      100 * time.Millisecond,
	}
}

// NewProvider builds an S3 provider against moto and closes it on cleanup.
func NewProvider(t *testing.T, ctx context.Context) *s3.Provider {
	t.Helper()
	p, err := s3.New(ctx, ProviderConfig())
	if err != nil {
		t.Fatalf("create s3 provider: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// seed returns the raw SDK client used to create fixtures.
func seed(t *testing.T) *awss3.Client {
	t.Helper()
	seedClientOnce.Do(func() {
		cfg, err := config.LoadDefaultConfig(context.Background(),
			config.WithRegion(Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				TestAccessKeyID, TestSecretAccessKey, "",
			)),
		)
		if err != nil {
			seedClientErr = fmt.Errorf("load config: %w", err)
			return
		}
		seedClient = awss3.NewFromConfig(cfg, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(Endpoint)
			o.UsePathStyle = true
		})
	})
	if seedClientErr != nil {
		t.Fatalf("seed client: %v", seedClientErr)
	}
	return seedClient
}

// CreateBucket creates a uniquely named bucket and removes it on cleanup.
func CreateBucket(t *testing.T, ctx context.Context) string {
	t.Helper()
	c := seed(t)

	name := strings.ToLower(t.Name())
	name = strings.NewReplacer("/", "-", "_", "-").Replace(name)
	if len(name) > 50 {
		name = name[:50]
	}
	name = fmt.Sprintf("%s-%d", name, time.Now().UnixNano()%100000)

	if _, err := c.CreateBucket(ctx, &awss3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		t.Fatalf("create bucket %s: %v", name, err)
	}
	t.Cleanup(func() { deleteBucket(t, context.Background(), name) })
	return name
}

func deleteBucket(t *testing.T, ctx context.Context, bucket string) {
	c := seed(t)

	paginator := awss3.NewListObjectsV2Paginator(c, &awss3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			t.Logf("warning: list %s: %v", bucket, err)
			return
		}
		for _, obj := range page.Contents {
			if _, err := c.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key}); err != nil {
				t.Logf("warning: delete %s: %v", aws.ToString(obj.Key), err)
			}
		}
	}
	if _, err := c.DeleteBucket(ctx, &awss3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Logf("warning: delete bucket %s: %v", bucket, err)
	}
}

// PutObject uploads one object.
func PutObject(t *testing.T, ctx context.Context, bucket, key string, content []byte) {
	t.Helper()
	_, err := seed(t).PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(string(content)),
	})
	if err != nil {
		t.Fatalf("put %s/%s: %v", bucket, key, err)
	}
}

// PutTree uploads a key to content map. Keys ending in "/" become empty
// directory markers.
func PutTree(t *testing.T, ctx context.Context, bucket string, tree map[string]string) {
	t.Helper()
	for key, content := range tree {
		PutObject(t, ctx, bucket, key, []byte(content))
	}
}
