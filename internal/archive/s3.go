package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds object storage settings for batch exports and workflow
// s3 steps.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// s3API is the part of *s3.Client this package uses. Tests substitute a
// recording implementation.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Client is a thin object-store client over one bucket and key prefix.
// It satisfies workflow.ObjectStore and feeds the archiver's batch export.
type S3Client struct {
	api    s3API
	logger *slog.Logger
	bucket string
	prefix string

	puts    atomic.Uint64
	gets    atomic.Uint64
	deletes atomic.Uint64
	lists   atomic.Uint64
	errors  atomic.Uint64
}

// NewS3Client builds a client from static or ambient credentials. A
// custom endpoint with path-style addressing covers MinIO and LocalStack.
func NewS3Client(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "s3", "bucket", cfg.Bucket)

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	logger.Info("s3 client ready", "region", cfg.Region, "prefix", prefix)
	return &S3Client{api: api, logger: logger, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (c *S3Client) objectKey(key string) string {
	return c.prefix + strings.TrimPrefix(key, "/")
}

// Put stores one object and returns its s3:// location.
func (c *S3Client) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	full := c.objectKey(key)

	input := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(full),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := c.api.PutObject(ctx, input); err != nil {
		c.errors.Add(1)
		return "", fmt.Errorf("archive: put object %s: %w", full, err)
	}

	c.puts.Add(1)
	c.logger.Debug("object stored", "key", full, "bytes", len(body))
	return fmt.Sprintf("s3://%s/%s", c.bucket, full), nil
}

// Get returns the full body of one object.
func (c *S3Client) Get(ctx context.Context, key string) ([]byte, error) {
	full := c.objectKey(key)

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		c.errors.Add(1)
		return nil, fmt.Errorf("archive: get object %s: %w", full, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		c.errors.Add(1)
		return nil, fmt.Errorf("archive: read object %s: %w", full, err)
	}

	c.gets.Add(1)
	return data, nil
}

// Delete removes one object. Deleting a missing key is not an error.
func (c *S3Client) Delete(ctx context.Context, key string) error {
	full := c.objectKey(key)

	if _, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(full),
	}); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("archive: delete object %s: %w", full, err)
	}

	c.deletes.Add(1)
	return nil
}

// List returns up to max keys under the given prefix, with the client's
// own key prefix stripped so keys round-trip through Put and Get.
func (c *S3Client) List(ctx context.Context, prefix string, max int) ([]string, error) {
	full := c.prefix + strings.TrimPrefix(prefix, "/")

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(full),
	}
	if max > 0 {
		input.MaxKeys = aws.Int32(int32(max))
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			c.errors.Add(1)
			return nil, fmt.Errorf("archive: list objects %s: %w", full, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), c.prefix))
		}
		if max > 0 && len(keys) >= max {
			keys = keys[:max]
			break
		}
	}

	c.lists.Add(1)
	return keys, nil
}

// HealthCheck verifies the bucket is reachable with current credentials.
func (c *S3Client) HealthCheck(ctx context.Context) error {
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("archive: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Stats reports client counters.
func (c *S3Client) Stats() map[string]interface{} {
	return map[string]interface{}{
		"puts":    c.puts.Load(),
		"gets":    c.gets.Load(),
		"deletes": c.deletes.Load(),
		"lists":   c.lists.Load(),
		"errors":  c.errors.Load(),
	}
}
