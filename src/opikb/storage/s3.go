package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config points the archive at an S3-compatible bucket
type S3Config struct {
	// Endpoint is the S3-compatible endpoint URL; empty means AWS itself
	Endpoint string
	Region   string
	Bucket   string
	// Prefix is prepended to every artifact key
	Prefix string

	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle enables path-style addressing (MinIO, Garage and friends)
	UsePathStyle bool
}

// S3Backend stores artifacts in a bucket
type S3Backend struct {
	client *s3.Client
	cfg    S3Config
}

// NewS3 creates the S3 artifact store. Only the bucket is mandatory.
func NewS3(cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 artifact store needs a bucket")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	awsCfg := aws.Config{Region: cfg.Region}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &S3Backend{client: client, cfg: cfg}, nil
}

// objectKey maps an artifact key into the bucket
func (b *S3Backend) objectKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if b.cfg.Prefix == "" {
		return key
	}
	return path.Join(b.cfg.Prefix, key)
}

// artifactKey is the inverse of objectKey
func (b *S3Backend) artifactKey(objectKey string) string {
	if b.cfg.Prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, b.cfg.Prefix+"/")
}

// Upload puts one artifact. The payload is signed, which needs a seekable
// body on plain HTTP endpoints, so other readers are buffered first.
func (b *S3Backend) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	if _, ok := reader.(io.ReadSeeker); !ok {
		data, err := io.ReadAll(reader)
		if err != nil {
			return fmt.Errorf("failed to read artifact %s: %w", key, err)
		}
		reader = bytes.NewReader(data)
		size = int64(len(data))
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.cfg.Bucket),
		Key:           aws.String(b.objectKey(key)),
		Body:          reader,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload artifact %s: %w", key, err)
	}
	return nil
}

// Exists reports whether an artifact is present
func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	var notFound *types.NotFound
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &notFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat artifact %s: %w", key, err)
	}
}

// List returns the artifacts under prefix, with keys relative to the
// configured bucket prefix.
func (b *S3Backend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	pages := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.cfg.Bucket),
		Prefix: aws.String(b.objectKey(prefix)),
	})

	var objects []ObjectInfo
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list artifacts under %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:          b.artifactKey(aws.ToString(obj.Key)),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// Delete removes one artifact
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete artifact %s: %w", key, err)
	}
	return nil
}

// Ping checks that the bucket is reachable with the configured credentials
func (b *S3Backend) Ping(ctx context.Context) error {
	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.cfg.Bucket)}); err != nil {
		return fmt.Errorf("bucket %s not reachable: %w", b.cfg.Bucket, err)
	}
	return nil
}

// Type returns "s3"
func (b *S3Backend) Type() string {
	return "s3"
}

// Location returns the bucket URL, including the key prefix
func (b *S3Backend) Location() string {
	loc := "s3://" + b.cfg.Bucket
	if b.cfg.Endpoint != "" {
		loc = strings.TrimSuffix(b.cfg.Endpoint, "/") + "/" + b.cfg.Bucket
	}
	if b.cfg.Prefix != "" {
		loc += "/" + b.cfg.Prefix
	}
	return loc
}
