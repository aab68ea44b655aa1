package slot

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/errors"
)

// S3 stores each key as an object under a prefix in one bucket. Works with
// AWS S3 and S3-compatible servers such as MinIO.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
	quota  int64
}

// NewS3 builds a client from the default AWS credential chain.
func NewS3(ctx context.Context, cfg *conf.S3Settings, quota int64) (*S3, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, errors.New(err).
			Component("slot").
			Category(errors.CategoryConfiguration).
			Context("backend", "s3").
			Build()
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return NewS3WithClient(client, cfg.Bucket, cfg.Prefix, quota), nil
}

// NewS3WithClient wraps an existing client.
func NewS3WithClient(client *s3.Client, bucket, prefix string, quota int64) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix, quota: quota}
}

func (s *S3) objectKey(key string) string {
	return s.prefix + key + ".json"
}

func (s *S3) Get(ctx context.Context, key string) (string, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, s.netError(err, key, "get")
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", false, s.netError(err, key, "read")
	}
	return string(data), true, nil
}

func (s *S3) Set(ctx context.Context, key, value string) error {
	if s.quota > 0 && int64(len(value)) > s.quota {
		return quotaError(s.Name(), key, int64(len(value)), s.quota)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          strings.NewReader(value),
		ContentLength: aws.Int64(int64(len(value))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return s.netError(err, key, "put")
	}
	return nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

func (s *S3) netError(err error, key, op string) error {
	return errors.New(err).
		Component("slot").
		Category(errors.CategoryNetwork).
		Context("backend", "s3").
		Context("bucket", s.bucket).
		Context("key", key).
		Context("operation", op).
		Build()
}

func (s *S3) Name() string { return "s3" }

func (s *S3) Close() error { return nil }
