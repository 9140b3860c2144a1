package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	// PublicBaseURL is optional. Without it PublicURL returns the bare key.
	PublicBaseURL string
}

func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

type r2Bucket struct {
	client        *s3.Client
	bucket        string
	publicBaseURL *url.URL
}

// NewR2Bucket builds an S3 client pointed at the Cloudflare R2 endpoint of
// the account.
func NewR2Bucket(ctx context.Context, cfg R2Config) (ObjectStore, error) {
	if !cfg.Enabled() {
		return nil, errors.New("invalid R2 configuration: account, credentials and bucket are required")
	}

	var base *url.URL
	if cfg.PublicBaseURL != "" {
		parsed, err := url.Parse(strings.TrimRight(cfg.PublicBaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid R2 public base URL: %w", err)
		}
		base = parsed
	}

	sdkCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config for R2: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	client := s3.NewFromConfig(sdkCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &r2Bucket{client: client, bucket: cfg.BucketName, publicBaseURL: base}, nil
}

func (b *r2Bucket) Put(ctx context.Context, key, contentType string, body []byte) (StoredObject, error) {
	out, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return StoredObject{}, fmt.Errorf("failed to upload object to R2 (key: %s): %w", key, err)
	}

	etag := ""
	if out.ETag != nil {
		// S3-compatible APIs quote the ETag.
		etag = strings.Trim(*out.ETag, "\"")
	}
	return StoredObject{Key: key, URL: b.PublicURL(key), ETag: etag}, nil
}

func (b *r2Bucket) PublicURL(key string) string {
	return joinPublicURL(b.publicBaseURL, key)
}

func joinPublicURL(base *url.URL, key string) string {
	key = strings.TrimPrefix(key, "/")
	if base == nil || key == "" {
		return key
	}
	ref, err := url.Parse(key)
	if err != nil {
		return key
	}
	return base.ResolveReference(ref).String()
}
