package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aligncensus/aligncensus/internal/storage"
)

func TestPutResolvesKeyUnderPrefix(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewWithClient("census-results", "/aligncensus/prod/", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	info, err := store.Put(context.Background(), "/aligned/date=2026-02-19/run-1.parquet", bytes.NewBufferString("abc"), 3, storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
		Metadata:    map[string]string{"run-id": "run-1"},
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.lastBucket != "census-results" {
		t.Fatalf("bucket = %q", fake.lastBucket)
	}
	if fake.lastKey != "aligncensus/prod/aligned/date=2026-02-19/run-1.parquet" {
		t.Fatalf("key = %q", fake.lastKey)
	}
	if fake.lastOpts.Metadata["run-id"] != "run-1" {
		t.Fatalf("metadata = %v", fake.lastOpts.Metadata)
	}
	if info.Key != "/aligned/date=2026-02-19/run-1.parquet" {
		t.Fatalf("info.Key = %q", info.Key)
	}
}

func TestPutRejectsPathTraversal(t *testing.T) {
	store, err := NewWithClient("census-results", "", &fakeClient{})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	for _, key := range []string{"../secrets.txt", "aligned/../../x", "", "  "} {
		if _, err := store.Put(context.Background(), key, bytes.NewBufferString("x"), 1, storage.PutOptions{}); err == nil {
			t.Fatalf("Put(%q) expected key validation error", key)
		}
	}
}

func TestGetAndStatMapMissingObject(t *testing.T) {
	fake := &fakeClient{missing: true}
	store, err := NewWithClient("census-results", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	if _, err := store.Get(context.Background(), "aligned/x.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
	if _, err := store.Stat(context.Background(), "aligned/x.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() error = %v, want ErrObjectNotFound", err)
	}
}

func TestDeleteIgnoresMissingObject(t *testing.T) {
	store, err := NewWithClient("census-results", "", &fakeClient{missing: true})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	if err := store.Delete(context.Background(), "aligned/missing.parquet"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestEnsureBucketCreatesWhenMissing(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewWithClient("census-results", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	if err := store.CheckReady(context.Background()); err == nil {
		t.Fatal("CheckReady() expected error for missing bucket")
	}
	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if fake.madeRegion != "us-east-1" {
		t.Fatalf("CreateBucket region = %q", fake.madeRegion)
	}
	if err := store.CheckReady(context.Background()); err != nil {
		t.Fatalf("CheckReady() error = %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	endpoint, secure, err := parseEndpoint("https://minio.example.com", false)
	if err != nil {
		t.Fatalf("parseEndpoint() error = %v", err)
	}
	if endpoint != "minio.example.com" || !secure {
		t.Fatalf("endpoint/secure = %q/%v", endpoint, secure)
	}

	endpoint, secure, err = parseEndpoint("localhost:9000", false)
	if err != nil || endpoint != "localhost:9000" || secure {
		t.Fatalf("parseEndpoint(host) = %q/%v/%v", endpoint, secure, err)
	}

	if _, _, err := parseEndpoint("ftp://minio.example.com", false); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
}

type fakeClient struct {
	lastBucket string
	lastKey    string
	lastOpts   storage.PutOptions
	bucketMade bool
	madeRegion string
	missing    bool
}

func (f *fakeClient) Put(_ context.Context, bucket, key string, reader io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	f.lastBucket = bucket
	f.lastKey = key
	f.lastOpts = opts
	_, _ = io.Copy(io.Discard, reader)
	return storage.ObjectInfo{Key: key, Size: size, ETag: "etag-1"}, nil
}

func (f *fakeClient) Get(_ context.Context, _, key string) (io.ReadCloser, error) {
	if f.missing {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(strings.NewReader(key)), nil
}

func (f *fakeClient) Stat(_ context.Context, _, key string) (storage.ObjectInfo, error) {
	if f.missing {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: 10, LastModified: time.Now().UTC()}, nil
}

func (f *fakeClient) Delete(context.Context, string, string) error {
	if f.missing {
		return storage.ErrObjectNotFound
	}
	return nil
}

func (f *fakeClient) BucketExists(context.Context, string) (bool, error) {
	return f.bucketMade, nil
}

func (f *fakeClient) CreateBucket(_ context.Context, _, region string) error {
	f.bucketMade = true
	f.madeRegion = region
	return nil
}
