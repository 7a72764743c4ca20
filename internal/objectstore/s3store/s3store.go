// Package s3store implements objectstore.ObjectStore against Amazon S3,
// the natural concrete object store for the bucket model spec.md
// describes (primary/read-replica/standby buckets per tenant). The AWS
// SDK v2 family is already in the example pack for other services; this
// extends it to S3.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/tenantsqld/tenantsqld/internal/objectstore"
)

type Store struct {
	client *s3.Client
	region string
}

// New constructs an S3-backed store for the given region, loading
// credentials the standard AWS SDK way (environment, shared config,
// instance profile). endpoint overrides the default S3 endpoint when
// non-empty, for local S3-compatible test doubles.
func New(ctx context.Context, region, endpoint string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("s3store: load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &Store{client: s3.NewFromConfig(cfg, opts...), region: region}, nil
}

func (s *Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3store: %s/%s: %w", bucket, key, objectstore.ErrNotExist)
		}
		return nil, fmt.Errorf("s3store: get %s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

// GetToFile downloads with a small retry/backoff wrapper around
// transient S3 errors, since every object-store call in the core may
// block on a flaky network path (§5's suspension-point guidance).
func (s *Store) GetToFile(ctx context.Context, bucket, key, destPath string) error {
	op := func() error {
		rc, err := s.Get(ctx, bucket, key)
		if err != nil {
			if errors.Is(err, objectstore.ErrNotExist) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer rc.Close()

		f, ferr := os.Create(destPath)
		if ferr != nil {
			return backoff.Permanent(fmt.Errorf("s3store: create %s: %w", destPath, ferr))
		}
		defer f.Close()

		if _, werr := io.Copy(f, rc); werr != nil {
			return fmt.Errorf("s3store: write %s: %w", destPath, werr)
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, bo)
}

func (s *Store) PutFile(ctx context.Context, bucket, key, srcPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("s3store: open %s: %w", srcPath, err)
	}
	defer f.Close()

	op := func() error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(err)
		}
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   f,
		})
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return fmt.Errorf("s3store: put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3store: delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	return false
}
