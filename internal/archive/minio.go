// Package archive keeps copies of call recordings in S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"followup-caller/internal/postcall"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// PresignTTL is how long a recording download link stays valid.
const PresignTTL = 15 * time.Minute

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

// objectStore is the subset of *minio.Client used here.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, params url.Values) (*url.URL, error)
}

// RecordingArchive implements postcall.Archiver.
type RecordingArchive struct {
	store  objectStore
	bucket string
}

func NewRecordingArchive(cfg Config) (*RecordingArchive, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("archive: object storage is not configured")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: create minio client: %w", err)
	}
	return &RecordingArchive{store: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (a *RecordingArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("archive: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("archive: create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// ObjectKey is deterministic so a re-run overwrites instead of duplicating.
func ObjectKey(providerCallID, recordingID string) string {
	return path.Join("recordings", providerCallID, recordingID+".mp3")
}

func (a *RecordingArchive) Archive(ctx context.Context, providerCallID, recordingID string, audio postcall.Audio) (string, error) {
	key := ObjectKey(providerCallID, recordingID)
	contentType := audio.MimeType
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	_, err := a.store.PutObject(ctx, a.bucket, key, bytes.NewReader(audio.Data), int64(len(audio.Data)), minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"provider-call-id": providerCallID,
			"recording-id":     recordingID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("archive: upload %s: %w", key, err)
	}
	return key, nil
}

// DownloadURL returns a presigned GET link for an archived recording.
func (a *RecordingArchive) DownloadURL(ctx context.Context, objectKey string) (string, time.Time, error) {
	expiresAt := time.Now().Add(PresignTTL)
	u, err := a.store.PresignedGetObject(ctx, a.bucket, objectKey, PresignTTL, url.Values{})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("archive: presign %s: %w", objectKey, err)
	}
	return u.String(), expiresAt, nil
}
