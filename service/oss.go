package service

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"ScriptSuite-server/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ScriptStore keeps uploaded scripts and hands out short-lived read URLs.
type ScriptStore interface {
	PutScript(ctx context.Context, projectID, name string, r io.Reader, size int64, contentType string) (string, error)
	PresignScript(ctx context.Context, object string) (string, error)
	RemoveScript(ctx context.Context, object string) error
}

type MinIOOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// URLExpiry bounds presigned URLs handed to the worker.
	URLExpiry time.Duration
}

type MinIOStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
	log    *logger.Logger
}

func NewMinIOStore(ctx context.Context, opts MinIOOptions, log *logger.Logger) (*MinIOStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio init: %w", err)
	}
	s := &MinIOStore{client: client, bucket: opts.Bucket, expiry: opts.URLExpiry, log: log.With("component", "ScriptStore")}
	if s.expiry <= 0 {
		s.expiry = 24 * time.Hour
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	s.log.Info("Bucket created", "bucket", s.bucket)
	return nil
}

// ScriptObjectName is where a project's script lives in the bucket.
func ScriptObjectName(projectID, name string) string {
	base := path.Base(name)
	if base == "." || base == "/" || base == "" {
		base = "script.pdf"
	}
	return fmt.Sprintf("projects/%s/%s", projectID, base)
}

func (s *MinIOStore) PutScript(ctx context.Context, projectID, name string, r io.Reader, size int64, contentType string) (string, error) {
	object := ScriptObjectName(projectID, name)
	_, err := s.client.PutObject(ctx, s.bucket, object, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload script: %w", err)
	}
	s.log.Info("Script uploaded", "project_id", projectID, "object", object, "size", size)
	return object, nil
}

func (s *MinIOStore) PresignScript(ctx context.Context, object string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, object, s.expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign script: %w", err)
	}
	return u.String(), nil
}

func (s *MinIOStore) RemoveScript(ctx context.Context, object string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove script: %w", err)
	}
	return nil
}
