// Package s3 implements the staging capability on Amazon S3 or any
// S3-compatible object store.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/staging"
)

// User-metadata keys attached to every staged object. S3 lowercases
// metadata keys, so these are lowercase from the start.
const (
	metaContentType    = "content-type"
	metaFilename       = "original-filename"
	metaEncrypted      = "encrypted"
	metaUploadedAt     = "uploaded-at"
	metaLastAccessedAt = "last-accessed-at"
	metaExpiresAt      = "expires-at"
	metaLifecycle      = "lifecycle"

	lifecycleTemporary = "temporary"
)

// Metrics receives operation timings from the store. Optional.
type Metrics interface {
	ObserveOperation(op string, d time.Duration, err error)
	RecordBytes(direction string, n int64)
}

// Config configures the S3 staging store.
type Config struct {
	// Client is a pre-built S3 client. When nil, one is built from Region
	// and the credential fields; when that fails, the store starts disabled.
	Client *s3.Client

	// Bucket is the staging bucket name. Required.
	Bucket string

	// Region is the AWS region used when building a client.
	Region string

	// AccessKeyID and SecretAccessKey override the provider chain when both
	// are set. Leave empty to use the default chain (env, shared config,
	// instance role).
	AccessKeyID     string
	SecretAccessKey string

	// Endpoint overrides the S3 endpoint for compatible stores (MinIO).
	Endpoint string

	// ForcePathStyle enables path-style addressing for compatible stores.
	ForcePathStyle bool

	// Metrics is an optional metrics collector.
	Metrics Metrics
}

// Store is the S3-backed staging store.
//
// Disabled mode: when no usable credentials are available the store is
// constructed anyway with disabled=true, and every call fails fast with
// staging.ErrDisabled. The intake maps this to a 503 so clients back off
// and retry; it is not a crash condition.
type Store struct {
	client   *s3.Client
	bucket   string
	disabled bool
	metrics  Metrics

	// now is swappable in tests.
	now func() time.Time
}

// New builds the staging store, probing bucket access once. Probe failure
// from missing credentials produces a disabled store rather than an error so
// the daemon can still serve quotes and downloads of completed blobs.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("staging bucket is required")
	}

	client := cfg.Client
	if client == nil {
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			logger.Warn("Staging store starting disabled, AWS config unavailable",
				"error", err,
				"bucket", cfg.Bucket)
			return &Store{bucket: cfg.Bucket, disabled: true, metrics: cfg.Metrics, now: time.Now}, nil
		}

		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
		})
	}

	st := &Store{client: client, bucket: cfg.Bucket, metrics: cfg.Metrics, now: time.Now}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		logger.Warn("Staging store starting disabled, bucket probe failed",
			"error", err,
			"bucket", cfg.Bucket)
		st.disabled = true
	}

	return st, nil
}

// Disabled reports whether the store rejects writes.
func (s *Store) Disabled() bool {
	return s.disabled
}

// Put writes the object with its lifecycle metadata.
func (s *Store) Put(ctx context.Context, key string, data []byte, meta staging.Metadata) (err error) {
	start := time.Now()
	defer s.observe("Put", start, &err)

	if s.disabled {
		return staging.ErrDisabled
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	uploadedAt := meta.UploadedAt
	if uploadedAt.IsZero() {
		uploadedAt = s.now()
	}

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(staging.SanitizeHeaderValue(contentType)),
		Metadata:    s.objectMetadata(meta, uploadedAt),
	})
	if err != nil {
		return fmt.Errorf("staging put %q: %w", key, err)
	}

	if s.metrics != nil {
		s.metrics.RecordBytes("write", int64(len(data)))
	}
	return nil
}

// Get returns the object bytes and refreshes its lifecycle tags in the
// background. A failed refresh is logged and swallowed: reads must not fail
// because a touch did.
func (s *Store) Get(ctx context.Context, key string) (data []byte, err error) {
	start := time.Now()
	defer s.observe("Get", start, &err)

	if s.disabled {
		return nil, staging.ErrDisabled
	}
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, staging.ErrNotFound
		}
		return nil, fmt.Errorf("staging get %q: %w", key, err)
	}
	defer out.Body.Close()

	data, err = io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("staging get %q: read body: %w", key, err)
	}

	go func() {
		// Detached from the request context: the refresh should proceed even
		// when the caller returns immediately after the read.
		touchCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if terr := s.Touch(touchCtx, key); terr != nil {
			logger.Debug("Staged object access refresh failed",
				"key", key,
				"error", terr)
		}
	}()

	if s.metrics != nil {
		s.metrics.RecordBytes("read", int64(len(data)))
	}
	return data, nil
}

// Head reports whether the object exists.
func (s *Store) Head(ctx context.Context, key string) (ok bool, err error) {
	start := time.Now()
	defer s.observe("Head", start, &err)

	if s.disabled {
		return false, staging.ErrDisabled
	}
	if err = ctx.Err(); err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("staging head %q: %w", key, err)
	}
	return true, nil
}

// Delete removes the object. Missing objects are ignored.
func (s *Store) Delete(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer s.observe("Delete", start, &err)

	if s.disabled {
		return staging.ErrDisabled
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("staging delete %q: %w", key, err)
	}
	return nil
}

// Touch refreshes last-accessed-at and expires-at via a self-copy with
// REPLACE metadata, which is the only way S3 updates user metadata in place.
func (s *Store) Touch(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer s.observe("Touch", start, &err)

	if s.disabled {
		return staging.ErrDisabled
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return staging.ErrNotFound
		}
		return fmt.Errorf("staging touch %q: head: %w", key, err)
	}

	now := s.now()
	meta := refreshedMetadata(head.Metadata, now)

	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(s.bucket + "/" + key),
		Metadata:          meta,
		MetadataDirective: types.MetadataDirectiveReplace,
		ContentType:       head.ContentType,
	})
	if err != nil {
		return fmt.Errorf("staging touch %q: copy: %w", key, err)
	}
	return nil
}

// Rename moves the object by copy-and-delete, preserving its metadata and
// refreshing expires-at so a freshly completed blob gets a full window.
func (s *Store) Rename(ctx context.Context, oldKey, newKey string) (err error) {
	start := time.Now()
	defer s.observe("Rename", start, &err)

	if s.disabled {
		return staging.ErrDisabled
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(oldKey),
	})
	if err != nil {
		if isNotFound(err) {
			return staging.ErrNotFound
		}
		return fmt.Errorf("staging rename %q: head: %w", oldKey, err)
	}

	meta := refreshedMetadata(head.Metadata, s.now())

	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(newKey),
		CopySource:        aws.String(s.bucket + "/" + oldKey),
		Metadata:          meta,
		MetadataDirective: types.MetadataDirectiveReplace,
		ContentType:       head.ContentType,
	})
	if err != nil {
		return fmt.Errorf("staging rename %q -> %q: copy: %w", oldKey, newKey, err)
	}

	if err = s.Delete(ctx, oldKey); err != nil {
		// The copy landed; a leftover pending object only costs storage
		// until its expiry. Surface the error for the operator anyway.
		return fmt.Errorf("staging rename %q -> %q: delete source: %w", oldKey, newKey, err)
	}
	return nil
}

func (s *Store) objectMetadata(meta staging.Metadata, uploadedAt time.Time) map[string]string {
	now := s.now()
	return map[string]string{
		metaFilename:       staging.SanitizeHeaderValue(meta.Filename),
		metaEncrypted:      strconv.FormatBool(meta.Encrypted),
		metaUploadedAt:     uploadedAt.UTC().Format(time.RFC3339),
		metaLastAccessedAt: now.UTC().Format(time.RFC3339),
		metaExpiresAt:      now.Add(staging.RetentionWindow).UTC().Format(time.RFC3339),
		metaLifecycle:      lifecycleTemporary,
	}
}

// refreshedMetadata copies existing metadata with fresh access/expiry tags.
func refreshedMetadata(existing map[string]string, now time.Time) map[string]string {
	meta := make(map[string]string, len(existing)+2)
	for k, v := range existing {
		meta[k] = v
	}
	meta[metaLastAccessedAt] = now.UTC().Format(time.RFC3339)
	meta[metaExpiresAt] = now.Add(staging.RetentionWindow).UTC().Format(time.RFC3339)
	return meta
}

// isNotFound matches the S3 not-found error shapes.
func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}

func (s *Store) observe(op string, start time.Time, err *error) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, time.Since(start), *err)
	}
}
