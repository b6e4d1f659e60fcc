// Package s3 implements the object store on Amazon S3: job inputs under
// "<id>/", artifacts under "artifacts/<id>/", presigned download URLs for
// terminal records.
package s3

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel"

	"github.com/zksmith/contract-worker/internal/config"
	"github.com/zksmith/contract-worker/internal/domain"
	"github.com/zksmith/contract-worker/internal/retry"
)

var tracer = otel.Tracer("adapter.blob.s3")

type api interface {
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Client is the object store client. Every data call goes through the retry
// engine; uploads rewind their source before each attempt.
type Client struct {
	api      api
	presign  presignAPI
	bucket   string
	engine   *retry.Engine
	logger   *slog.Logger
}

// New builds the blob client, its presigner, and its retry engine.
func New(awsCfg aws.Config, cfg config.Config, logger *slog.Logger) *Client {
	sdk := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
			// Local stacks route by path, not virtual host.
			o.UsePathStyle = true
		}
	})
	return &Client{
		api:     sdk,
		presign: awss3.NewPresignClient(sdk),
		bucket:  cfg.BucketName,
		engine: retry.NewEngine(retry.Config{
			Name:           "blobs",
			ResendInterval: cfg.ResendInterval,
			MailboxSize:    cfg.MailboxSize,
			Logger:         logger,
		}),
		logger: logger.With(slog.String("adapter", "blobs")),
	}
}

// Engine exposes the retry engine state for readiness probes.
func (c *Client) Engine() *retry.Engine { return c.engine }

// Close stops the retry engine.
func (c *Client) Close() { c.engine.Close() }

// Ping verifies the bucket is reachable. Bypasses the retry engine so probes
// report real connectivity instead of parking.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	return err
}

// ListPrefix walks every key under dir, following continuation tokens until
// the listing reports no truncation or the token vanishes.
func (c *Client) ListPrefix(ctx context.Context, dir string) ([]domain.ObjectInfo, error) {
	ctx, span := tracer.Start(ctx, "blobs.ListPrefix")
	defer span.End()

	var objects []domain.ObjectInfo
	var token *string
	for {
		in := &awss3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(dir),
			ContinuationToken: token,
		}
		var out *awss3.ListObjectsV2Output
		err := c.engine.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = c.api.ListObjectsV2(ctx, in)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("op=blobs.ListPrefix: %w", err)
		}
		for _, obj := range out.Contents {
			objects = append(objects, domain.ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return objects, nil
		}
		token = out.NextContinuationToken
	}
}

// ExtractFiles lists dir and downloads each object whole. A byte count that
// differs from the advertised size fails with ErrInvalidObject. Returned
// paths are relative to dir.
func (c *Client) ExtractFiles(ctx context.Context, dir string) ([]domain.SourceFile, error) {
	ctx, span := tracer.Start(ctx, "blobs.ExtractFiles")
	defer span.End()

	objects, err := c.ListPrefix(ctx, dir)
	if err != nil {
		return nil, err
	}
	files := make([]domain.SourceFile, 0, len(objects))
	for _, obj := range objects {
		data, err := c.getObject(ctx, obj.Key)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) != obj.Size {
			return nil, fmt.Errorf("op=blobs.ExtractFiles: key %s: %w: got %d bytes, advertised %d",
				obj.Key, domain.ErrInvalidObject, len(data), obj.Size)
		}
		files = append(files, domain.SourceFile{
			Path: strings.TrimPrefix(obj.Key, dir),
			Data: data,
		})
	}
	return files, nil
}

func (c *Client) getObject(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := c.engine.Do(ctx, func(ctx context.Context) error {
		out, err := c.api.GetObject(ctx, &awss3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer func() { _ = out.Body.Close() }()
		data, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("op=blobs.Get: key %s: %w", key, err)
	}
	return data, nil
}

// Put uploads from a seekable source. The body is rewound to offset 0 before
// every attempt, so a deferred retry re-reads the whole object.
func (c *Client) Put(ctx context.Context, key string, body io.ReadSeeker) error {
	ctx, span := tracer.Start(ctx, "blobs.Put")
	defer span.End()

	contentType := detectContentType(key, body)
	err := c.engine.Do(ctx, func(ctx context.Context) error {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := c.api.PutObject(ctx, &awss3.PutObjectInput{
			Bucket:      aws.String(c.bucket),
			Key:         aws.String(key),
			Body:        body,
			ContentType: aws.String(contentType),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("op=blobs.Put: key %s: %w", key, err)
	}
	return nil
}

// detectContentType sniffs the body, preferring extension-based detection for
// the artifact formats the sniffer cannot distinguish from plain text.
func detectContentType(key string, body io.ReadSeeker) string {
	if strings.HasSuffix(key, ".json") {
		return "application/json"
	}
	mt, err := mimetype.DetectReader(body)
	if _, serr := body.Seek(0, io.SeekStart); err != nil || serr != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

// GetPresigned mints a time-limited download URL for key.
func (c *Client) GetPresigned(ctx context.Context, key string, ttl time.Duration) (string, error) {
	ctx, span := tracer.Start(ctx, "blobs.GetPresigned")
	defer span.End()

	var url string
	err := c.engine.Do(ctx, func(ctx context.Context) error {
		req, err := c.presign.PresignGetObject(ctx, &awss3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		}, func(o *awss3.PresignOptions) {
			o.Expires = ttl
		})
		if err != nil {
			return err
		}
		url = req.URL
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("op=blobs.GetPresigned: key %s: %w", key, err)
	}
	return url, nil
}

// Delete removes a single object.
func (c *Client) Delete(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "blobs.Delete")
	defer span.End()

	err := c.engine.Do(ctx, func(ctx context.Context) error {
		_, err := c.api.DeleteObject(ctx, &awss3.DeleteObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("op=blobs.Delete: key %s: %w", key, err)
	}
	return nil
}

// DeletePrefix lists dir and removes every object under it.
func (c *Client) DeletePrefix(ctx context.Context, dir string) error {
	ctx, span := tracer.Start(ctx, "blobs.DeletePrefix")
	defer span.End()

	objects, err := c.ListPrefix(ctx, dir)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := c.Delete(ctx, obj.Key); err != nil {
			return err
		}
	}
	return nil
}

var _ domain.ObjectStore = (*Client)(nil)
