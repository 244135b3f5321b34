// Package archive keeps a copy of every published signed event in an
// S3-compatible bucket under events/YYYY/MM/DD/<event id>.json.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nbd-wtf/go-nostr"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// Options configure the bucket connection; credentials are static
// (MinIO root user style).
type Options struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	User         string
	Password     string
}

type S3Archive struct {
	bucket  string
	client  *s3.Client
	presign *s3.PresignClient
}

func New(ctx context.Context, opts Options) (*S3Archive, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is not configured")
	}

	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.User,
			opts.Password,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Archive{bucket: opts.Bucket, client: client, presign: s3.NewPresignClient(client)}, nil
}

// Key returns the object key for ev, dated by its created_at.
func Key(ev *nostr.Event) string {
	d := ev.CreatedAt.Time().UTC()
	return fmt.Sprintf("events/%04d/%02d/%02d/%s.json", d.Year(), d.Month(), d.Day(), ev.ID)
}

// Archive uploads ev as JSON.
func (a *S3Archive) Archive(ctx context.Context, ev *nostr.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	key := Key(ev)
	_, err = putObject(a.client, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// URL returns a presigned download link for the archived copy of ev.
func (a *S3Archive) URL(ctx context.Context, ev *nostr.Event, ttl time.Duration) (string, error) {
	req, err := presignGetObject(a.presign, ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(Key(ev)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
