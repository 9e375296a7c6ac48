package blob

import (
	"context"

	infraS3 "cellrex/internal/infra/blob/s3"
)

// S3Config re-exports the infra S3 configuration type.
type S3Config = infraS3.Config

// NewS3 constructs an S3-backed blob.Store from the provided configuration.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// NewFakeS3 returns an S3 store wired to an in-process fake bucket, for tests
// in packages that cannot reach the infra layer directly.
func NewFakeS3(ctx context.Context, bucket string) (Store, error) {
	fake := infraS3.NewFakeBucket()
	return infraS3.New(ctx, infraS3.Config{
		Bucket:          bucket,
		Endpoint:        "https://fake.s3.local",
		AccessKeyID:     "fake",
		SecretAccessKey: "fake",
		PathStyle:       true,
		HTTPClient:      fake.Client(),
	})
}
