package archive

import (
	"context"
	"errors"
	"io"
	"net/url"
	"testing"
	"time"

	"followup-caller/internal/postcall"

	"github.com/minio/minio-go/v7"
)

type fakeStore struct {
	buckets map[string]bool
	objects map[string][]byte
	meta    map[string]minio.PutObjectOptions
	putErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{buckets: map[string]bool{}, objects: map[string][]byte{}, meta: map[string]minio.PutObjectOptions{}}
}

func (f *fakeStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeStore) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeStore) PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, _ := io.ReadAll(reader)
	f.objects[bucket+"/"+object] = data
	f.meta[bucket+"/"+object] = opts
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func (f *fakeStore) PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, params url.Values) (*url.URL, error) {
	return url.Parse("https://s3.example.com/" + bucket + "/" + object + "?X-Amz-Expires=900")
}

func TestArchive_UploadsUnderDeterministicKey(t *testing.T) {
	fs := newFakeStore()
	a := &RecordingArchive{store: fs, bucket: "calls"}

	key, err := a.Archive(context.Background(), "CA1", "RE1", postcall.Audio{Data: []byte("mp3")})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if key != "recordings/CA1/RE1.mp3" {
		t.Fatalf("unexpected key %q", key)
	}
	if string(fs.objects["calls/recordings/CA1/RE1.mp3"]) != "mp3" {
		t.Fatalf("expected object stored")
	}
	if fs.meta["calls/"+key].ContentType != "audio/mpeg" {
		t.Fatalf("expected default content type")
	}
}

func TestArchive_UploadError(t *testing.T) {
	fs := newFakeStore()
	fs.putErr = errors.New("access denied")
	a := &RecordingArchive{store: fs, bucket: "calls"}
	if _, err := a.Archive(context.Background(), "CA1", "RE1", postcall.Audio{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEnsureBucket(t *testing.T) {
	fs := newFakeStore()
	a := &RecordingArchive{store: fs, bucket: "calls"}
	if err := a.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !fs.buckets["calls"] {
		t.Fatalf("expected bucket created")
	}
	if err := a.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("expected idempotent ensure, got %v", err)
	}
}

func TestDownloadURL(t *testing.T) {
	a := &RecordingArchive{store: newFakeStore(), bucket: "calls"}
	u, exp, err := a.DownloadURL(context.Background(), "recordings/CA1/RE1.mp3")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if u == "" || time.Until(exp) <= 0 {
		t.Fatalf("unexpected url %q exp %v", u, exp)
	}
}

func TestNewRecordingArchive_RequiresConfig(t *testing.T) {
	if _, err := NewRecordingArchive(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("expected error for incomplete config")
	}
}
