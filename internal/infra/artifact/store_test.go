package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vietddude/blockingest/internal/core/domain"
)

func TestResolveKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"data/bittensor/metagraph/1/100.json", "data/bittensor/metagraph/1/100.json", false},
		{"/leading/slash.json", "leading/slash.json", false},
		{"", "", true},
		{"/", "", true},
		{"dir/", "", true},
		{"a/../b", "", true},
		{"..", "", true},
		{"space in/key", "", true},
		{"a/..b/c", "a/..b/c", false},
	}

	for _, tt := range tests {
		got, err := ResolveKey(tt.key)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("ResolveKey(%q): expected ErrInvalidKey, got %v", tt.key, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ResolveKey(%q) unexpected error: %v", tt.key, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ResolveKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := "data/bittensor/metagraph/3/1020.json"

	if ok, err := s.Exists(ctx, key); err != nil || ok {
		t.Fatalf("expected missing key, got exists=%v err=%v", ok, err)
	}
	if _, err := s.Read(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	data := []byte(`{"netuid":3}`)
	if err := s.Store(ctx, key, data); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	// Rewriting the same key is idempotent.
	if err := s.Store(ctx, key, data); err != nil {
		t.Fatalf("second Store failed: %v", err)
	}

	got, err := s.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Read = %s, want %s", got, data)
	}
	if ok, _ := s.Exists(ctx, key); !ok {
		t.Error("expected key to exist")
	}

	if err := s.Store(ctx, "bad/../key", data); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, _ := s.Exists(ctx, key); ok {
		t.Error("expected key to be gone")
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFilesystemStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFilesystemStore(dir)
	if err != nil {
		t.Fatalf("NewFilesystemStore failed: %v", err)
	}
	exerciseStore(t, s)

	// No temp files are left behind after writes.
	if err := s.Store(context.Background(), "a/b.json", []byte("x")); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "a"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "b.json" {
		t.Errorf("unexpected files in dir: %v", entries)
	}
}

// fakeS3 is an in-memory S3API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Bucket+"/"+*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	fake := newFakeS3()
	s := NewS3StoreWithClient(fake, "snapshots", "prod")
	exerciseStore(t, s)

	if err := s.Store(context.Background(), "x/y.json", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if _, ok := fake.objects["snapshots/prod/x/y.json"]; !ok {
		t.Errorf("expected prefixed object key, have %v", fake.objects)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	if _, err := Open(ctx, Config{Backend: "nope"}); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("expected ErrUnknownBackend, got %v", err)
	}
	if _, err := Open(ctx, Config{Backend: "filesystem"}); err == nil {
		t.Error("expected error for missing base_path")
	}

	s, err := Open(ctx, Config{Backend: "filesystem", Options: map[string]string{"base_path": t.TempDir()}})
	if err != nil {
		t.Fatalf("Open filesystem failed: %v", err)
	}
	if _, ok := s.(*FilesystemStore); !ok {
		t.Errorf("expected *FilesystemStore, got %T", s)
	}

	Register("custom", func(context.Context, map[string]string) (Store, error) {
		return NewMemoryStore(), nil
	})
	if _, err := Open(ctx, Config{Backend: "custom"}); err != nil {
		t.Errorf("custom backend: %v", err)
	}
}

func TestStoreSnapshot(t *testing.T) {
	s := NewMemoryStore()
	snap := domain.SubnetSnapshot{Netuid: 18, Data: []byte("{}")}
	if err := StoreSnapshot(context.Background(), s, 4000, true, snap); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Exists(context.Background(), "data/bittensor/metagraph-lite/18/4000.json"); !ok {
		t.Errorf("expected lite artifact, have %v", s.Keys())
	}
}
