package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/snarg/scriptsync/internal/config"
)

// memStore is an in-memory ObjectStore standing in for S3.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	saves   int
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Save(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	m.saves++
	return nil
}

func (m *memStore) LocalPath(string) string { return "" }

func (m *memStore) URL(_ context.Context, key string) (string, error) { return "mem://" + key, nil }

func (m *memStore) Type() string { return "mem" }

func (m *memStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Exists(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *memStore) has(key string) bool { return m.Exists(context.Background(), key) }

// ── LocalStore ───────────────────────────────────────────────────────

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewLocalStore(dir)

	if err := s.Save(ctx, "jobs/abc/script.txt", []byte("hello\n"), "text/plain"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.Exists(ctx, "jobs/abc/script.txt") {
		t.Error("Exists = false after Save")
	}
	if got := s.LocalPath("jobs/abc/script.txt"); got != filepath.Join(dir, "jobs", "abc", "script.txt") {
		t.Errorf("LocalPath = %q", got)
	}
	data, err := ReadAll(ctx, s, "jobs/abc/script.txt")
	if err != nil || string(data) != "hello\n" {
		t.Errorf("ReadAll = %q, %v", data, err)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "jobs", "abc"))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}

	if _, err := s.Open(ctx, "jobs/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(missing) error = %v, want ErrNotFound", err)
	}
	if s.LocalPath("missing") != "" {
		t.Error("LocalPath of missing key should be empty")
	}
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	for _, key := range []string{"../outside", "/etc/passwd", "a/../../b", ""} {
		if err := s.Save(context.Background(), key, []byte("x"), ""); err == nil {
			t.Errorf("Save(%q) should fail", key)
		}
	}
}

// ── TieredStore ──────────────────────────────────────────────────────

func TestTieredStore_SaveWritesBoth(t *testing.T) {
	ctx := context.Background()
	remote := newMemStore()
	local := NewLocalStore(t.TempDir())
	ts := NewTieredStore(remote, local, zerolog.Nop())

	if err := ts.Save(ctx, "k.json", []byte("{}"), "application/json"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !local.Exists(ctx, "k.json") || !remote.has("k.json") {
		t.Error("object should be on both tiers")
	}
	if u, _ := ts.URL(ctx, "k.json"); u != "mem://k.json" {
		t.Errorf("URL = %q", u)
	}
}

func TestTieredStore_CacheOnRead(t *testing.T) {
	ctx := context.Background()
	remote := newMemStore()
	remote.Save(ctx, "transcripts/whisper/h.json", []byte(`{"text":"x"}`), "")
	local := NewLocalStore(t.TempDir())
	ts := NewTieredStore(remote, local, zerolog.Nop())

	if !ts.Exists(ctx, "transcripts/whisper/h.json") {
		t.Fatal("Exists should fall back to remote")
	}
	data, err := ReadAll(ctx, ts, "transcripts/whisper/h.json")
	if err != nil || string(data) != `{"text":"x"}` {
		t.Fatalf("ReadAll = %q, %v", data, err)
	}
	if ts.LocalPath("transcripts/whisper/h.json") == "" {
		t.Error("remote hit should be cached locally")
	}

	if _, err := ts.Open(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(nope) error = %v", err)
	}
}

func TestTieredStore_WithUploader(t *testing.T) {
	ctx := context.Background()
	remote := newMemStore()
	u := NewAsyncUploader(remote, 8, zerolog.Nop())
	u.Start()
	ts := NewTieredStore(remote, NewLocalStore(t.TempDir()), zerolog.Nop()).WithUploader(u)

	for _, k := range []string{"a", "b", "c"} {
		if err := ts.Save(ctx, k, []byte(k), ""); err != nil {
			t.Fatal(err)
		}
	}
	u.Stop()
	for _, k := range []string{"a", "b", "c"} {
		if !remote.has(k) {
			t.Errorf("%s not uploaded after Stop drained the queue", k)
		}
	}

	// Enqueue after Stop is a no-op.
	u.Enqueue("d", []byte("d"), "")
	if remote.has("d") {
		t.Error("upload after Stop")
	}
}

// ── Reconciler / Pruner ──────────────────────────────────────────────

func TestUploadReconciler(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	local := NewLocalStore(dir)
	local.Save(ctx, "jobs/1/subtitles.srt", []byte("1"), "")
	local.Save(ctx, "jobs/2/subtitles.srt", []byte("2"), "")
	old := filepath.Join(dir, "jobs", "old.json")
	os.WriteFile(old, []byte("old"), 0o644)
	stale := time.Now().Add(-48 * time.Hour)
	os.Chtimes(old, stale, stale)
	os.WriteFile(filepath.Join(dir, "jobs", ".obj-123.tmp"), []byte("partial"), 0o644)

	remote := newMemStore()
	remote.Save(ctx, "jobs/2/subtitles.srt", []byte("2"), "")

	r := NewUploadReconciler(dir, remote, zerolog.Nop())
	uploaded, failed := r.reconcile()
	if uploaded != 1 || failed != 0 {
		t.Errorf("reconcile = %d uploaded, %d failed; want 1, 0", uploaded, failed)
	}
	if !remote.has("jobs/1/subtitles.srt") {
		t.Error("missing object was not uploaded")
	}
	if remote.has("jobs/old.json") {
		t.Error("files outside the window should be ignored")
	}
	if remote.has("jobs/.obj-123.tmp") {
		t.Error("temp files should be ignored")
	}
}

func TestCachePruner_Retention(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	local := NewLocalStore(dir)
	local.Save(ctx, "jobs/1/a.wav", []byte("aaaa"), "")
	local.Save(ctx, "jobs/2/b.wav", []byte("bbbb"), "")
	local.Save(ctx, "jobs/3/c.wav", []byte("cccc"), "")
	stale := time.Now().Add(-10 * 24 * time.Hour)
	os.Chtimes(filepath.Join(dir, "jobs/1/a.wav"), stale, stale)
	os.Chtimes(filepath.Join(dir, "jobs/2/b.wav"), stale, stale)

	remote := newMemStore()
	remote.Save(ctx, "jobs/1/a.wav", []byte("aaaa"), "")

	p := NewCachePruner(dir, 7*24*time.Hour, 0, remote, zerolog.Nop())
	res := p.prune()
	if res.Pruned != 1 || res.SkippedNotSaved != 1 {
		t.Errorf("prune = %+v, want 1 pruned, 1 skipped", res)
	}
	if local.Exists(ctx, "jobs/1/a.wav") {
		t.Error("a.wav should be pruned")
	}
	if _, err := os.Stat(filepath.Join(dir, "jobs", "1")); !os.IsNotExist(err) {
		t.Error("empty directory should be removed")
	}
	if !local.Exists(ctx, "jobs/2/b.wav") {
		t.Error("b.wav is not in the remote and must be kept")
	}
	if !local.Exists(ctx, "jobs/3/c.wav") {
		t.Error("c.wav is fresh and must be kept")
	}
}

func TestCachePruner_Disabled(t *testing.T) {
	p := NewCachePruner(t.TempDir(), 0, 0, nil, zerolog.Nop())
	if res := p.prune(); res.Pruned != 0 {
		t.Errorf("disabled pruner pruned %d", res.Pruned)
	}
}

// ── S3Store ──────────────────────────────────────────────────────────

type fakeS3Client struct {
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3Client) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3Client) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3Client) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3Client) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fc := &fakeS3Client{objects: map[string][]byte{}, types: map[string]string{}}
	s := newS3Store(fc, config.S3Config{Bucket: "b", Prefix: "prod"}, zerolog.Nop())

	if err := s.HeadBucket(ctx); err != nil {
		t.Fatalf("HeadBucket: %v", err)
	}
	if err := s.Save(ctx, "jobs/1/out.vtt", []byte("WEBVTT"), ContentTypeForKey("out.vtt")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, ok := fc.objects["prod/jobs/1/out.vtt"]; !ok {
		t.Errorf("object key should carry the prefix, got %v", fc.objects)
	}
	if fc.types["prod/jobs/1/out.vtt"] != "text/vtt; charset=utf-8" {
		t.Errorf("content type = %q", fc.types["prod/jobs/1/out.vtt"])
	}
	if !s.Exists(ctx, "jobs/1/out.vtt") || s.Exists(ctx, "jobs/2/out.vtt") {
		t.Error("Exists mismatch")
	}
	if _, err := s.Open(ctx, "jobs/2/out.vtt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(missing) = %v, want ErrNotFound", err)
	}
	if _, err := s.URL(ctx, "jobs/1/out.vtt"); err == nil {
		t.Error("URL without a presign client should fail")
	}
	if s.Type() != "s3" || s.LocalPath("x") != "" {
		t.Error("S3Store is remote only")
	}
}

func TestNew_LocalOnly(t *testing.T) {
	store, services, err := New(config.S3Config{}, t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if store.Type() != "local" || len(services) != 0 {
		t.Errorf("got %s with %d services", store.Type(), len(services))
	}
}

func TestHumanizeBytes(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
		3 << 30:         "3.0 GB",
	}
	for in, want := range tests {
		if got := humanizeBytes(in); got != want {
			t.Errorf("humanizeBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
