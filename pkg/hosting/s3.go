package hosting

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/logger"
)

// s3Client defines the minimal subset of the S3 client used by s3Backend.
type s3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Backend struct {
	id        string
	bucket    string
	prefix    string
	publicURL string
	client    s3Client
	log       logger.Logger
}

func newS3Backend(ctx context.Context, cfg BackendConfig, log logger.Logger) (Backend, error) {
	if cfg.S3 == nil {
		return nil, fmt.Errorf("backend %q missing s3 configuration", cfg.ID)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(cfg.S3.Region)}
	if cfg.S3.AccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKey, cfg.S3.SecretKey, ""),
		))
	}
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint, pathStyle := cfg.S3.Endpoint, cfg.S3.PathStyle
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})

	return &s3Backend{
		id:        cfg.ID,
		bucket:    cfg.S3.Bucket,
		prefix:    cfg.S3.Prefix,
		publicURL: cfg.S3.PublicURL,
		client:    client,
		log:       logger.Ensure(log),
	}, nil
}

func (b *s3Backend) ID() string   { return b.id }
func (b *s3Backend) Type() string { return TypeS3 }

func (b *s3Backend) Upload(ctx context.Context, name string, data []byte) (string, error) {
	key := name
	if b.prefix != "" {
		key = path.Join(b.prefix, name)
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(http.DetectContentType(data)),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		b.log.ErrorObj("s3 put object failed", "hosting_s3_error", map[string]any{
			"backend": b.id,
			"key":     key,
			"error":   err.Error(),
		})
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return b.publicURL + "/" + key, nil
}
