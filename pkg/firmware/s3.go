package firmware

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
)

// S3Fetcher retrieves images from S3 buckets, for fleets that publish
// firmware to a private bucket instead of a public HTTP feed. URLs use
// the s3://bucket/key form.
type S3Fetcher struct {
	client *s3.Client
}

// NewS3Fetcher creates a fetcher using the default AWS credential chain.
func NewS3Fetcher(ctx context.Context, region string) (*S3Fetcher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "load AWS config")
	}
	slog.Info("s3_fetcher_init", "region", region)
	return &S3Fetcher{client: s3.NewFromConfig(cfg)}, nil
}

// Fetch streams an object. The returned total is -1 when the object
// length is unknown.
func (f *S3Fetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	bucket, key, err := splitS3URL(rawURL)
	if err != nil {
		return nil, 0, err
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, &FetchError{URL: rawURL, Reason: "s3 get object", Err: err}
	}

	total := int64(-1)
	if out.ContentLength != nil {
		total = *out.ContentLength
	}
	if total == 0 {
		out.Body.Close()
		return nil, 0, &FetchError{URL: rawURL, Reason: "empty response body"}
	}
	return out.Body, total, nil
}

func splitS3URL(rawURL string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(rawURL, "s3://")
	if trimmed == rawURL {
		return "", "", &FetchError{URL: rawURL, Reason: "not an s3 URL"}
	}
	bucket, key, ok := strings.Cut(trimmed, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", &FetchError{URL: rawURL, Reason: fmt.Sprintf("malformed s3 URL %q", rawURL)}
	}
	return bucket, key, nil
}
