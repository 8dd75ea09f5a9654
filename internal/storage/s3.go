package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Destination is the bucket an archive is uploaded to, with the
// credentials to reach it.
type Destination struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the AWS endpoint for S3-compatible stores.
	Endpoint string
}

// API is the subset of the S3 client the uploader needs.
type API interface {
	manager.UploadAPIClient
	s3.HeadObjectAPIClient
}

func NewS3Client(ctx context.Context, dest Destination) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(dest.Region),
	}
	if dest.AccessKeyID != "" && dest.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			dest.AccessKeyID,
			dest.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if dest.Endpoint == "" {
		return s3.NewFromConfig(awsCfg), nil
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(dest.Endpoint)
		o.UsePathStyle = true
	}), nil
}
