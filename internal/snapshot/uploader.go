// Package snapshot backs up the SQLite database and ships the copy to
// S3-compatible storage. When no bucket is configured the NoopUploader keeps
// backups local.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/issuesync/internal/config"
)

// ErrNotConfigured is returned when S3 snapshot storage is not configured.
var ErrNotConfigured = errors.New("snapshot storage not configured")

// Uploader uploads backups and generates pre-signed download URLs.
type Uploader interface {
	Upload(ctx context.Context, objectName, filePath string) error
	// PresignedURL returns ErrNotConfigured when S3 is not configured.
	PresignedURL(ctx context.Context, objectName string) (url string, expiry time.Time, err error)
}

// s3Client is the subset of *minio.Client the uploader needs.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string) error
	PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error)
}

type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	_, err := w.client.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: "application/vnd.sqlite3",
	})
	return err
}

func (w *minioClientWrapper) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	return w.client.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
}

// S3Uploader uploads backups to S3-compatible storage.
type S3Uploader struct {
	client    s3Client
	bucket    string
	urlExpiry time.Duration
}

// Upload uploads the file at filePath under objectName.
func (u *S3Uploader) Upload(ctx context.Context, objectName, filePath string) error {
	if err := u.client.FPutObject(ctx, u.bucket, objectName, filePath); err != nil {
		return fmt.Errorf("upload backup to S3: %w", err)
	}
	return nil
}

// PresignedURL returns a pre-signed GET URL for objectName.
func (u *S3Uploader) PresignedURL(ctx context.Context, objectName string) (string, time.Time, error) {
	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, objectName, u.urlExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate pre-signed URL: %w", err)
	}
	return presigned.String(), time.Now().Add(u.urlExpiry), nil
}

// NoopUploader is used when S3 storage is not configured.
type NoopUploader struct{}

// Upload does nothing.
func (u *NoopUploader) Upload(ctx context.Context, objectName, filePath string) error {
	return nil
}

// PresignedURL always returns ErrNotConfigured.
func (u *NoopUploader) PresignedURL(ctx context.Context, objectName string) (string, time.Time, error) {
	return "", time.Time{}, ErrNotConfigured
}

// NewUploader returns a NoopUploader when the bucket is empty, an S3Uploader otherwise.
func NewUploader(cfg config.SnapshotConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}
	endpoint := stripScheme(cfg.Endpoint, &useSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client:    &minioClientWrapper{client: client},
		bucket:    cfg.Bucket,
		urlExpiry: time.Duration(cfg.URLExpiry),
	}, nil
}

// stripScheme accepts either a bare host[:port] or a URL. A scheme, when
// present, decides SSL and overrides *useSSL.
func stripScheme(endpoint string, useSSL *bool) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		*useSSL = true
		return strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		*useSSL = false
		return strings.TrimPrefix(endpoint, "http://")
	default:
		return endpoint
	}
}

// ObjectName returns the key a backup taken at t is stored under.
// Convention: backups/{YYYYMMDDTHHMMSSZ}.db
func ObjectName(t time.Time) string {
	return "backups/" + t.UTC().Format("20060102T150405Z") + ".db"
}

// Source produces a consistent copy of the database at a path.
// *store.SQLiteStore implements it.
type Source interface {
	BackupTo(ctx context.Context, destPath string) error
}

// Result describes a completed backup.
type Result struct {
	LocalPath  string
	ObjectName string
	Uploaded   bool
}

// Backup writes a copy of src into dir and uploads it. The local copy is
// kept either way.
func Backup(ctx context.Context, src Source, u Uploader, dir string, now time.Time) (*Result, error) {
	object := ObjectName(now)
	local := filepath.Join(dir, filepath.Base(object))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	if err := src.BackupTo(ctx, local); err != nil {
		return nil, fmt.Errorf("write backup: %w", err)
	}

	_, noop := u.(*NoopUploader)
	if err := u.Upload(ctx, object, local); err != nil {
		return nil, err
	}

	slog.Info("backup complete",
		"component", "snapshot",
		"action", "backup",
		"path", local,
		"object", object,
		"uploaded", !noop,
	)
	return &Result{LocalPath: local, ObjectName: object, Uploaded: !noop}, nil
}
