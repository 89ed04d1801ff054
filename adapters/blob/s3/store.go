// Package s3 uploads run artifacts to an S3-compatible bucket (AWS S3 or MinIO).
package s3

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	apperrors "goregress/internal/errors"
	"goregress/ports"
)

// Store implements ports.BlobStore on a single bucket. Keys are joined under Prefix.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ ports.BlobStore = (*Store)(nil)

// Config holds construction parameters. Credentials come from the default AWS chain.
type Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // optional; set for MinIO and other S3-compatible servers
	PathStyle bool
}

// New creates an S3 blob store from Config
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, apperrors.ConfigInvalid("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, apperrors.ExternalServiceError("s3", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *s3.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the full object key for a relative artifact key
func (s *Store) Key(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Put uploads one object, overwriting any existing one
func (s *Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	full := s.Key(key)
	input := &s3.PutObjectInput{Bucket: &s.bucket, Key: &full, Body: body}
	if contentType != "" {
		input.ContentType = &contentType
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return apperrors.ExternalServiceError("s3", fmt.Errorf("put %s: %w", full, err))
	}
	return nil
}

var contentTypes = map[string]string{
	".tsv":  "text/tab-separated-values",
	".csv":  "text/csv",
	".gz":   "application/gzip",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".json": "application/json",
	".md":   "text/markdown",
	".html": "text/html",
	".prom": "text/plain; version=0.0.4",
}

// ContentType guesses an artifact's content type from its extension
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// UploadDir puts every regular file under dir at keyPrefix/<relative path>
// and returns the number of uploaded files.
func UploadDir(ctx context.Context, store ports.BlobStore, dir, keyPrefix string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return apperrors.IOError(p, err)
		}
		defer f.Close()

		key := path.Join(keyPrefix, filepath.ToSlash(rel))
		if err := store.Put(ctx, key, f, ContentType(p)); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}
